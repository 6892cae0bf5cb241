// Package logging provides structured logging for synthesizar.
//
// It wraps log/slog so every pipeline component logs through the same
// handler. Components obtain a named logger once at package level:
//
//	var log = logging.Component("store")
//	log.Info("dataset created", "name", name, "rows", rows)
package logging

import (
	"context"
	"log/slog"
	"os"
	"strings"
	"sync/atomic"
)

// Logger is the global logger instance.
var Logger *slog.Logger

// current holds the handler that component loggers forward to. Component
// loggers are created at package init, before Init runs, so they resolve the
// handler on every record instead of capturing it.
var current atomic.Pointer[slog.Handler]

func init() {
	Init(slog.LevelInfo, false)
}

// Init initializes the global logger with the specified level and format.
// If jsonFormat is true, logs are output as JSON; otherwise, human-readable text.
func Init(level slog.Level, jsonFormat bool) {
	var handler slog.Handler

	opts := &slog.HandlerOptions{
		Level:     level,
		AddSource: level == slog.LevelDebug,
	}

	if jsonFormat {
		handler = slog.NewJSONHandler(os.Stderr, opts)
	} else {
		handler = slog.NewTextHandler(os.Stderr, opts)
	}

	InitWithHandler(handler)
}

// InitWithHandler initializes the global logger with a custom handler.
// This is useful for testing or custom output destinations.
func InitWithHandler(handler slog.Handler) {
	current.Store(&handler)
	Logger = slog.New(handler)
	slog.SetDefault(Logger)
}

// ParseLevel maps a config string ("debug", "info", "warn", "error") to a level.
// Unknown values fall back to info.
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

// With returns a new logger with additional attributes.
func With(args ...any) *slog.Logger {
	return slog.New(forwardHandler{}).With(args...)
}

// Component returns a logger for a specific component.
// The component name is added as an attribute to all log entries.
func Component(name string) *slog.Logger {
	return slog.New(forwardHandler{}).With("component", name)
}

// forwardHandler resolves the global handler lazily and replays any
// attributes or groups added through With/WithGroup onto it.
type forwardHandler struct {
	attrs []slog.Attr
	group string
}

func (h forwardHandler) resolve() slog.Handler {
	base := *current.Load()
	if h.group != "" {
		base = base.WithGroup(h.group)
	}
	if len(h.attrs) > 0 {
		base = base.WithAttrs(h.attrs)
	}
	return base
}

func (h forwardHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return (*current.Load()).Enabled(ctx, level)
}

func (h forwardHandler) Handle(ctx context.Context, r slog.Record) error {
	return h.resolve().Handle(ctx, r)
}

func (h forwardHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	next := forwardHandler{group: h.group}
	next.attrs = append(append(next.attrs, h.attrs...), attrs...)
	return next
}

func (h forwardHandler) WithGroup(name string) slog.Handler {
	if h.group != "" || len(h.attrs) > 0 {
		// Nested groups and attrs-before-group are rare here; bind eagerly.
		return h.resolve().WithGroup(name)
	}
	return forwardHandler{group: name}
}
