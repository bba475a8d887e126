// Package logging holds the process-wide structured logger used by the
// label engine packages. It is silent until SetLogger is called.
package logging

import (
	"context"
	"log/slog"
	"sync/atomic"
)

type nopHandler struct{}

func (nopHandler) Enabled(context.Context, slog.Level) bool  { return false }
func (nopHandler) Handle(context.Context, slog.Record) error { return nil }
func (h nopHandler) WithAttrs([]slog.Attr) slog.Handler      { return h }
func (h nopHandler) WithGroup(string) slog.Handler           { return h }

var (
	nop     = slog.New(nopHandler{})
	current atomic.Pointer[slog.Logger]
)

func init() {
	current.Store(nop)
}

// SetLogger replaces the package logger. Passing nil restores the silent logger.
func SetLogger(l *slog.Logger) {
	if l == nil {
		l = nop
	}
	current.Store(l)
}

// Logger returns the current logger.
func Logger() *slog.Logger {
	return current.Load()
}
