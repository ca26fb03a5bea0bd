package telemetry

import (
	"log/slog"
	"os"
)

// InitSlog installs the default text logger on stderr, `debug` lowers the
// level so that request dumps and per-attempt narration show up.
func InitSlog(debug bool) {
	level := slog.LevelInfo
	if debug {
		level = slog.LevelDebug
	}
	handler := slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: level,
	})
	slog.SetDefault(slog.New(handler))
}
