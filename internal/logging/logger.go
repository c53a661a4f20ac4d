// Package logging builds the slog loggers shared by tasks, pipelines and
// orchestrators. Every component logs through a child logger carrying its
// namespace under the "logger" key.
package logging

import (
	"context"
	"io"
	"log/slog"
	"strings"
)

// LevelCritical sits above slog.LevelError and is used for run summaries
// (unreachable tasks, aggregate failures, task crashes).
const LevelCritical = slog.LevelError + 4

// NamespaceKey is the attribute key holding a logger's namespace.
const NamespaceKey = "logger"

// ParseLevel maps a level name to a slog.Level. Unknown names map to info.
func ParseLevel(levelStr string) slog.Level {
	switch strings.ToLower(levelStr) {
	case "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	case "critical":
		return LevelCritical
	default:
		return slog.LevelInfo
	}
}

// New creates a logger writing to outW. formatStr selects "json" or text
// output. Timestamps are omitted when omitTime is set, which keeps captured
// output stable in tests.
func New(levelStr, formatStr string, outW io.Writer, omitTime bool) *slog.Logger {
	handlerOpts := &slog.HandlerOptions{
		Level: ParseLevel(levelStr),
		ReplaceAttr: func(groups []string, a slog.Attr) slog.Attr {
			if len(groups) > 0 {
				return a
			}
			switch a.Key {
			case slog.TimeKey:
				if omitTime {
					return slog.Attr{}
				}
			case slog.LevelKey:
				if lvl, ok := a.Value.Any().(slog.Level); ok && lvl == LevelCritical {
					return slog.String(slog.LevelKey, "CRITICAL")
				}
			}
			return a
		},
	}

	var handler slog.Handler
	if formatStr == "json" {
		handler = slog.NewJSONHandler(outW, handlerOpts)
	} else {
		handler = slog.NewTextHandler(outW, handlerOpts)
	}

	return slog.New(handler)
}

// Named returns a child of base tagged with namespace ns. A nil base falls
// back to slog.Default().
func Named(base *slog.Logger, ns string) *slog.Logger {
	if base == nil {
		base = slog.Default()
	}
	return base.With(slog.String(NamespaceKey, ns))
}

// Critical logs msg at LevelCritical.
func Critical(logger *slog.Logger, msg string, args ...any) {
	logger.Log(context.Background(), LevelCritical, msg, args...)
}
