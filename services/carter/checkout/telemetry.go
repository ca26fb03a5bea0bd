package checkout

import "dropcarter/lib/telemetry"

var tracer = telemetry.Tracer("dropcarter.services.carter.checkout")
var meter = telemetry.Meter("dropcarter.services.carter.checkout")

var restartCounter, _ = meter.Int64Counter("checkout.restarts")
var placedCounter, _ = meter.Int64Counter("checkout.orders_placed")
