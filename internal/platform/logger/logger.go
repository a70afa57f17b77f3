// Package logger provides logging utilities for simlens.
package logger

import (
	"context"
	"log/slog"
	"os"
	"strings"
)

// Logger provides a function for logging messages with key-value pairs.
type Logger func(ctx context.Context, msg string, args ...any)

// LevelEnv names the environment variable that selects the log level.
const LevelEnv = "SIMLENS_LOG_LEVEL"

// New returns a structured logger that writes text records to stdout.
// The level is taken from SIMLENS_LOG_LEVEL and defaults to INFO.
func New() Logger {
	handler := slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: ParseLevel(os.Getenv(LevelEnv)),
	})

	return FromSlog(slog.New(handler))
}

// FromSlog adapts an existing slog.Logger. Messages are logged at INFO
// unless the key/value pairs carry an "error" or a "warning" key.
func FromSlog(l *slog.Logger) Logger {
	return func(ctx context.Context, msg string, args ...any) {
		l.Log(ctx, levelFor(args), msg, args...)
	}
}

// Discard returns a logger that discards all output.
func Discard() Logger {
	return func(ctx context.Context, msg string, args ...any) {}
}

// ParseLevel maps DEBUG, WARN and ERROR to slog levels. Anything else is INFO.
func ParseLevel(s string) slog.Level {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "DEBUG":
		return slog.LevelDebug
	case "WARN", "WARNING":
		return slog.LevelWarn
	case "ERROR":
		return slog.LevelError
	}
	return slog.LevelInfo
}

func levelFor(args []any) slog.Level {
	lvl := slog.LevelInfo
	for i := 0; i < len(args); i += 2 {
		key, ok := args[i].(string)
		if !ok {
			continue
		}
		switch key {
		case "error":
			return slog.LevelError
		case "warning":
			lvl = slog.LevelWarn
		}
	}
	return lvl
}
