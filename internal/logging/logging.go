package logging

import (
	"io"
	"log/slog"
	"os"
	"strings"
)

// New initializes a new slog logger and sets it as the default.
// format is "text" (development, with source locations) or "json".
func New(format, level string) *slog.Logger {
	logger := slog.New(NewHandler(os.Stdout, format, level))
	slog.SetDefault(logger)
	return logger
}

// NewHandler builds the handler New installs, writing to w.
func NewHandler(w io.Writer, format, level string) slog.Handler {
	lvl := ParseLevel(level)
	switch format {
	case "json":
		return slog.NewJSONHandler(w, &slog.HandlerOptions{Level: lvl})
	default:
		return slog.NewTextHandler(w, &slog.HandlerOptions{
			Level:     lvl,
			AddSource: true, // Adds source file and line number
		})
	}
}

// ParseLevel maps LOG_LEVEL values onto slog levels, defaulting to info.
func ParseLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
