// Package logging provides the two logging textures used across this
// repository: a prefixed component logger for operational narration (the
// style used directly in the validator's own packages) and a small
// structured wrapper over log/slog for fields that need to be queried
// later (chain, protocol, observer state, transfer id).
package logging

import (
	"context"
	"log"
	"log/slog"
	"os"
)

// NewComponent returns a stdlib logger prefixed with the component name,
// matching the "[Component] " convention used throughout the fleet.
func NewComponent(name string) *log.Logger {
	return log.New(log.Writer(), "["+name+"] ", log.LstdFlags)
}

// Logger wraps slog.Logger with a fixed set of base fields (component,
// and optionally chain/protocol) so every record emitted from an Observer
// or pipeline stage carries consistent structure.
type Logger struct {
	base *slog.Logger
}

// Config configures a structured Logger.
type Config struct {
	Level     slog.Level
	Component string
	JSON      bool
}

// DefaultConfig returns a text-formatted, info-level configuration.
func DefaultConfig(component string) Config {
	return Config{Level: slog.LevelInfo, Component: component}
}

// New builds a structured Logger per cfg.
func New(cfg Config) *Logger {
	opts := &slog.HandlerOptions{Level: cfg.Level}
	var handler slog.Handler
	if cfg.JSON {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}
	base := slog.New(handler).With(slog.String("component", cfg.Component))
	return &Logger{base: base}
}

// With returns a derived Logger carrying the given additional fields.
func (l *Logger) With(args ...any) *Logger {
	return &Logger{base: l.base.With(args...)}
}

func (l *Logger) Info(ctx context.Context, msg string, args ...any) {
	l.base.InfoContext(ctx, msg, args...)
}

func (l *Logger) Warn(ctx context.Context, msg string, args ...any) {
	l.base.WarnContext(ctx, msg, args...)
}

func (l *Logger) Error(ctx context.Context, msg string, args ...any) {
	l.base.ErrorContext(ctx, msg, args...)
}

func (l *Logger) Debug(ctx context.Context, msg string, args ...any) {
	l.base.DebugContext(ctx, msg, args...)
}
