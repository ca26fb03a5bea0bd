package browser

import "dropcarter/lib/telemetry"

var tracer = telemetry.Tracer("dropcarter.lib.browser")
