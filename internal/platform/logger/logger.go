package logger

import (
	"log/slog"
	"os"
)

// New returns the process-wide structured logger. JSON output keeps worker
// logs machine-parseable so correlation and trace IDs survive aggregation.
func New() *slog.Logger {
	return slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
}
