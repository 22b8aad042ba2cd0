package logger

import (
	"log/slog"
	"os"
	"strings"
)

// New returns a JSON slog.Logger configured for the given service name.
func New(service string, level slog.Level) *slog.Logger {
	h := slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: level})
	return slog.New(h).With("service", service)
}

// LevelFor picks the log level for an environment name.
func LevelFor(environment string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(environment)) {
	case "development", "dev", "local":
		return slog.LevelDebug
	default:
		return slog.LevelInfo
	}
}
