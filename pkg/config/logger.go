package config

import (
	"io"
	"log/slog"
	"strings"
)

// NewLogger builds the process logger. An unparsable level falls back to info
// and is reported through the returned logger.
func (c Config) NewLogger(w io.Writer) *slog.Logger {
	var level slog.Level
	levelErr := level.UnmarshalText([]byte(c.LogLevel))
	if levelErr != nil {
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: level}
	var handler slog.Handler
	if strings.EqualFold(c.LogFormat, "json") {
		handler = slog.NewJSONHandler(w, opts)
	} else {
		handler = slog.NewTextHandler(w, opts)
	}

	logger := slog.New(handler)
	if levelErr != nil {
		logger.Warn("invalid log level, defaulting to info", slog.String("level", c.LogLevel))
	}
	return logger
}
