// Package log provides the structured logger used across the module.
package log

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"sync/atomic"
	"time"

	"github.com/golang-cz/devslog"
	"github.com/phsym/console-slog"
	slogformatter "github.com/samber/slog-formatter"
)

// newHandler formats well-known value types (errors under the "error"
// key, and durations) into compact attributes instead of relying on
// the default %v dump.
var newHandler = slogformatter.NewFormatterHandler(
	slogformatter.ErrorFormatter("error"),
	slogformatter.FormatByType(func(d time.Duration) slog.Value {
		return slog.StringValue(d.String())
	}),
)

// Console is a handler suited for production stdout logging.
func Console() slog.Handler {
	return newHandler(console.NewHandler(os.Stdout, &console.HandlerOptions{
		Level:      slog.LevelInfo,
		TimeFormat: time.RFC3339Nano,
	}))
}

// Dev is a handler suited for local development, printing multi-line
// human-friendly records.
func Dev() slog.Handler {
	return newHandler(devslog.NewHandler(os.Stdout, &devslog.Options{
		HandlerOptions: &slog.HandlerOptions{Level: slog.LevelDebug},
		SortKeys:       true,
		TimeFormat:     time.RFC3339Nano,
	}))
}

type noopHandler struct{}

func (noopHandler) Enabled(context.Context, slog.Level) bool  { return false }
func (noopHandler) Handle(context.Context, slog.Record) error { return nil }
func (h noopHandler) WithAttrs([]slog.Attr) slog.Handler       { return h }
func (h noopHandler) WithGroup(string) slog.Handler            { return h }

// Noop discards everything; useful for tests that don't care about logs.
func Noop() *slog.Logger { return slog.New(noopHandler{}) }

var def atomic.Pointer[slog.Logger]

func init() {
	def.Store(slog.New(Console()))
}

// Default returns the module-wide default logger.
func Default() *slog.Logger { return def.Load() }

// SetDefault replaces the module-wide default logger.
func SetDefault(l *slog.Logger) { def.Store(l) }

// Fields builds a slog.Attr group from correlation fields, tolerating
// zero values so a partially-populated message never panics a log call.
func Fields(trail, callID string, cseq uint32) slog.Attr {
	return slog.Group("correlation",
		slog.String("trail", trail),
		slog.String("call_id", callID),
		slog.Uint64("cseq", uint64(cseq)),
	)
}

// Recovered formats a recovered panic value for logging.
func Recovered(v any) string {
	if err, ok := v.(error); ok {
		return err.Error()
	}
	return fmt.Sprintf("%v", v)
}
