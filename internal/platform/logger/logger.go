package logger

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
)

// Config holds the logging settings.
type Config struct {
	// Level is one of debug, info, warn or error.
	Level string `mapstructure:"level" validate:"omitempty,oneof=debug info warn error DEBUG INFO WARN ERROR"`
	// Format is json or text.
	Format string `mapstructure:"format" validate:"omitempty,oneof=json text"`
}

// ParseLevel converts a level name to a slog.Level (case-insensitive).
func ParseLevel(name string) (slog.Level, error) {
	switch strings.ToLower(name) {
	case "debug":
		return slog.LevelDebug, nil
	case "", "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("unknown log level %q", name)
	}
}

// New builds a logger writing to out. Records carry the request and job IDs
// found in the logging context.
func New(cfg Config, out io.Writer) *slog.Logger {
	level, err := ParseLevel(cfg.Level)
	if err != nil {
		// If the log level is invalid, use info level as default and log a warning
		tmpLogger := slog.New(slog.NewTextHandler(os.Stderr, nil))
		tmpLogger.Warn("invalid log level configured, using default level",
			"configured_level", cfg.Level,
			"default_level", "info")
	}

	opts := &slog.HandlerOptions{Level: level}
	var handler slog.Handler
	if strings.EqualFold(cfg.Format, "text") {
		handler = slog.NewTextHandler(out, opts)
	} else {
		handler = slog.NewJSONHandler(out, opts)
	}
	return slog.New(NewContextHandler(handler))
}

// Setup initializes the application's logging system based on the provided
// configuration. It creates a structured logger writing to stdout and sets it
// as the default logger for the application.
func Setup(cfg Config) *slog.Logger {
	logger := New(cfg, os.Stdout)
	slog.SetDefault(logger)
	return logger
}
