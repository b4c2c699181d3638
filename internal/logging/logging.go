package logging

import (
	"io"
	"log/slog"
	"strings"
)

func New(w io.Writer, lvl slog.Level) *slog.Logger {
	h := slog.NewJSONHandler(w, &slog.HandlerOptions{Level: lvl})
	return slog.New(h)
}

func ParseLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	}
	return slog.LevelInfo
}

// LevelForVerbosity lets the CLI verbosity count override the configured
// level: 1 forces info, 2 and above force debug.
func LevelForVerbosity(configured string, verbose int) slog.Level {
	switch {
	case verbose >= 2:
		return slog.LevelDebug
	case verbose == 1:
		lvl := ParseLevel(configured)
		if lvl > slog.LevelInfo {
			return slog.LevelInfo
		}
		return lvl
	}
	return ParseLevel(configured)
}

// Discard is a logger for tests and for components built without one.
func Discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}
