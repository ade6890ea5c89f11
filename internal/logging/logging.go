// Package logging holds the process-wide structured logger.
//
// Components accept a *slog.Logger and fall back to Get when none is given.
package logging

import (
	"io"
	"log/slog"
	"os"
	"strings"
	"sync/atomic"
)

var singleton atomic.Pointer[slog.Logger]

func init() {
	singleton.Store(New(os.Stderr, "info", "text"))
}

// Get returns the current logger.
func Get() *slog.Logger { return singleton.Load() }

// Set replaces the logger. Tests use it to capture output.
func Set(l *slog.Logger) { singleton.Store(l) }

// Initialize configures the process logger from LOG_LEVEL / LOG_FORMAT style
// values and returns it.
func Initialize(level, format string) *slog.Logger {
	l := New(os.Stderr, level, format)
	singleton.Store(l)
	slog.SetDefault(l)
	return l
}

// New builds a logger writing to w. format is "json" or "text".
func New(w io.Writer, level, format string) *slog.Logger {
	opts := &slog.HandlerOptions{Level: ParseLevel(level)}
	if strings.EqualFold(strings.TrimSpace(format), "json") {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}

// ParseLevel maps debug/info/warn/error to a slog level; unknown values are info.
func ParseLevel(s string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
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
