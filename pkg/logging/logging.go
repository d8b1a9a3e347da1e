// Package logging builds the slog loggers used across the daemon, including
// per-session child loggers whose verbosity follows the session's debug flag.
package logging

import (
	"context"
	"io"
	"log/slog"
	"os"
	"strings"
)

// Config selects the handler format, level and destination.
type Config struct {
	Level  string
	Format string
	Output io.Writer
}

// ParseLevel maps a level name to a slog.Level. Unknown names yield info.
func ParseLevel(raw string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "trace", "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// New creates a logger from cfg. Output defaults to stderr.
func New(cfg Config) *slog.Logger {
	out := cfg.Output
	if out == nil {
		out = os.Stderr
	}

	// The handler accepts everything; levelHandler wrappers decide.
	opts := &slog.HandlerOptions{Level: slog.LevelDebug}

	var h slog.Handler
	if strings.EqualFold(cfg.Format, "json") {
		h = slog.NewJSONHandler(out, opts)
	} else {
		h = slog.NewTextHandler(out, opts)
	}

	return slog.New(&levelHandler{level: ParseLevel(cfg.Level), next: h})
}

// Discard returns a logger that drops everything.
func Discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// ForSession returns a child of base tagged with the session name. When debug
// is set the child logs at debug level regardless of the base level.
func ForSession(base *slog.Logger, name string, debug bool) *slog.Logger {
	if base == nil {
		base = Discard()
	}

	h := base.Handler()
	if lh, ok := h.(*levelHandler); ok {
		lvl := lh.level
		if debug {
			lvl = slog.LevelDebug
		}
		h = &levelHandler{level: lvl, next: lh.next}
	}

	return slog.New(h).With("session", name)
}

// levelHandler filters records below level before passing them on.
type levelHandler struct {
	level slog.Level
	next  slog.Handler
}

func (h *levelHandler) Enabled(ctx context.Context, l slog.Level) bool {
	return l >= h.level && h.next.Enabled(ctx, l)
}

func (h *levelHandler) Handle(ctx context.Context, r slog.Record) error {
	return h.next.Handle(ctx, r)
}

func (h *levelHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &levelHandler{level: h.level, next: h.next.WithAttrs(attrs)}
}

func (h *levelHandler) WithGroup(name string) slog.Handler {
	return &levelHandler{level: h.level, next: h.next.WithGroup(name)}
}
