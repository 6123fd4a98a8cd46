package logging

import (
	"io"
	"log/slog"
	"os"
	"strings"
)

// Init configures the process-wide slog logger and returns it. Output is
// JSON when SWARM_JSON_LOG=1/true/json, text otherwise; level comes from
// SWARM_LOG_LEVEL (debug|info|warn|error, default info). Every record
// carries a "service" attribute.
func Init(service string) *slog.Logger {
	return InitWriter(service, os.Stdout)
}

// InitWriter is Init with an explicit destination, for tests.
func InitWriter(service string, w io.Writer) *slog.Logger {
	level := levelFromEnv()
	opts := &slog.HandlerOptions{Level: level}
	var handler slog.Handler
	if jsonFromEnv() {
		handler = slog.NewJSONHandler(w, opts)
	} else {
		handler = slog.NewTextHandler(w, opts)
	}
	logger := slog.New(handler).With("service", service)
	slog.SetDefault(logger)
	logger.Info("logging initialized", "json", jsonFromEnv(), "level", level.Level().String())
	return logger
}

func jsonFromEnv() bool {
	switch strings.ToLower(os.Getenv("SWARM_JSON_LOG")) {
	case "1", "true", "json":
		return true
	}
	return false
}

func levelFromEnv() slog.Leveler {
	switch strings.ToLower(os.Getenv("SWARM_LOG_LEVEL")) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	}
	return slog.LevelInfo
}
