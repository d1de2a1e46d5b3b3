package logging

import (
	"log/slog"
	"os"
	"strings"
)

// New returns a slog.Logger configured for structured, JSON-oriented output.
// The level is read from the LOG_LEVEL environment variable (DEBUG, INFO,
// WARN, ERROR); unknown or empty values fall back to INFO.
func New(subsystem string) *slog.Logger {
	handler := slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: LevelFromEnv()})
	return slog.New(handler).With("subsystem", subsystem)
}

// LevelFromEnv maps LOG_LEVEL to a slog.Level.
func LevelFromEnv() slog.Level {
	switch strings.ToUpper(strings.TrimSpace(os.Getenv("LOG_LEVEL"))) {
	case "DEBUG":
		return slog.LevelDebug
	case "WARN", "WARNING":
		return slog.LevelWarn
	case "ERROR":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
