package logger

import (
	"log/slog"
	"os"
)

// New returns the root structured logger. JSON on stdout keeps log shipping
// simple; handlers add request_id themselves.
func New() *slog.Logger {
	return slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
}
