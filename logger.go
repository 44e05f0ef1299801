package sharedimage

import (
	"context"
	"log/slog"
	"sync/atomic"
)

// nopHandler is a slog.Handler that silently discards all log records.
// Enabled returns false so callers skip message formatting entirely.
type nopHandler struct{}

func (nopHandler) Enabled(context.Context, slog.Level) bool  { return false }
func (nopHandler) Handle(context.Context, slog.Record) error { return nil }
func (nopHandler) WithAttrs([]slog.Attr) slog.Handler        { return nopHandler{} }
func (nopHandler) WithGroup(string) slog.Handler             { return nopHandler{} }

func newNopLogger() *slog.Logger { return slog.New(nopHandler{}) }

// loggerPtr stores the active logger. Accessed atomically so that
// SetLogger can be called concurrently with logging from any goroutine.
var loggerPtr atomic.Pointer[slog.Logger]

func init() {
	loggerPtr.Store(newNopLogger())
}

// SetLogger configures the logger for sharedimage and all its sub-packages.
// By default nothing is logged. Pass nil to restore the silent default.
//
// Log levels used by sharedimage:
//   - [slog.LevelDebug]: backing creation and destruction
//   - [slog.LevelWarn]: lazy GPU allocation failures, budget overruns
//   - [slog.LevelError]: lookups of unknown mailboxes, duplicate
//     registrations and capability requests a backing cannot serve
//
// Example:
//
//	sharedimage.SetLogger(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
//	    Level: slog.LevelDebug,
//	})))
func SetLogger(l *slog.Logger) {
	if l == nil {
		l = newNopLogger()
	}
	loggerPtr.Store(l)
}

// Logger returns the current logger. Sub-packages (shm, texture, compound,
// factory, service) call this to share one logger configuration.
func Logger() *slog.Logger {
	return loggerPtr.Load()
}
