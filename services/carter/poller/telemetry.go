package poller

import "dropcarter/lib/telemetry"

var tracer = telemetry.Tracer("dropcarter.services.carter.poller")
var meter = telemetry.Meter("dropcarter.services.carter.poller")

var responseCounter, _ = meter.Int64Counter("poller.responses")
