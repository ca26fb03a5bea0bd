package main

import (
	"context"
	"dropcarter/cmd/carter/commands"
	"dropcarter/lib/osutil"
	"dropcarter/lib/telemetry"
	"log/slog"
	"os"
)

func main() {
	ctx := osutil.SignalContext()

	tel, err := telemetry.SetupFromEnv(ctx, "dropcarter")
	if err != nil && !os.IsNotExist(err) {
		slog.Warn("failed to setup telemetry", "err", err)
	}
	telemetry.InstrumentPerfStats(ctx)

	code := commands.ExecuteContext(ctx)

	err = tel.Shutdown(context.Background())
	if err != nil {
		slog.Warn("failed to shutdown telemetry", "err", err)
	}
	os.Exit(code)
}
