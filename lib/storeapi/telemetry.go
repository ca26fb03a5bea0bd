package storeapi

import "dropcarter/lib/telemetry"

var tracer = telemetry.Tracer("dropcarter.lib.storeapi")
