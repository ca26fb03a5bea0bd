package orderlog

import "dropcarter/lib/telemetry"

var tracer = telemetry.Tracer("dropcarter.services.carter.orderlog")
