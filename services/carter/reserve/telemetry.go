package reserve

import "dropcarter/lib/telemetry"

var tracer = telemetry.Tracer("dropcarter.services.carter.reserve")
var meter = telemetry.Meter("dropcarter.services.carter.reserve")

var submissionCounter, _ = meter.Int64Counter("reserve.submissions")
var securedCounter, _ = meter.Int64Counter("reserve.secured")
