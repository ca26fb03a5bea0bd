package carter

import "dropcarter/lib/telemetry"

var tracer = telemetry.Tracer("dropcarter.services.carter")
