package logging

import (
	"io"
	"log/slog"
	"os"
	"strings"
)

// ParseLevel maps a config string to a slog level. Unknown values fall back to info.
func ParseLevel(v string) (slog.Level, bool) {
	switch strings.ToUpper(strings.TrimSpace(v)) {
	case "DEBUG":
		return slog.LevelDebug, true
	case "INFO", "":
		return slog.LevelInfo, true
	case "WARN", "WARNING":
		return slog.LevelWarn, true
	case "ERROR":
		return slog.LevelError, true
	default:
		return slog.LevelInfo, false
	}
}

// InitLogger builds the process logger and installs it as the slog default.
// format is "json" or "text"; JSON output carries source locations.
func InitLogger(level, format string) *slog.Logger {
	return initLogger(os.Stdout, level, format)
}

func initLogger(w io.Writer, level, format string) *slog.Logger {
	lvl, levelOK := ParseLevel(level)
	var handler slog.Handler
	formatOK := true
	switch strings.ToLower(strings.TrimSpace(format)) {
	case "json":
		handler = slog.NewJSONHandler(w, &slog.HandlerOptions{Level: lvl, AddSource: true})
	case "text", "":
		handler = slog.NewTextHandler(w, &slog.HandlerOptions{Level: lvl})
	default:
		formatOK = false
		handler = slog.NewTextHandler(w, &slog.HandlerOptions{Level: lvl})
	}
	logger := slog.New(handler)
	slog.SetDefault(logger)
	if !levelOK {
		logger.Warn("invalid log level specified, defaulting to INFO", "specified_level", level)
	}
	if !formatOK {
		logger.Warn("invalid log format specified, defaulting to text", "specified_format", format)
	}
	return logger
}

// NewComponentLogger creates a component-specific logger with context.
// It adds the component name to all log messages for better traceability.
func NewComponentLogger(base *slog.Logger, component string) *slog.Logger {
	if base == nil {
		base = slog.Default()
	}
	return base.With(
		slog.String("component", component),
	)
}
