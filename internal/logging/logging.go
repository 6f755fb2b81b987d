// Package logging builds the process logger and carries request-scoped
// loggers through context.Context.
package logging

import (
	"context"
	"io"
	"log/slog"
	"os"
	"strings"
)

type ctxKey struct{}

// New returns a JSON logger in production and a text logger otherwise.
// level is one of debug, info, warn or error; development defaults to debug.
func New(level string, production bool) *slog.Logger {
	return NewWithWriter(os.Stdout, level, production)
}

// NewWithWriter is New writing to w.
func NewWithWriter(w io.Writer, level string, production bool) *slog.Logger {
	lvl := new(slog.LevelVar)
	switch strings.ToLower(level) {
	case "debug":
		lvl.Set(slog.LevelDebug)
	case "warn":
		lvl.Set(slog.LevelWarn)
	case "error":
		lvl.Set(slog.LevelError)
	case "info":
		lvl.Set(slog.LevelInfo)
	default:
		if production {
			lvl.Set(slog.LevelInfo)
		} else {
			lvl.Set(slog.LevelDebug)
		}
	}
	opts := &slog.HandlerOptions{Level: lvl}
	if production {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}

func IntoContext(ctx context.Context, l *slog.Logger) context.Context {
	return context.WithValue(ctx, ctxKey{}, l)
}

// FromContext returns the logger stored by IntoContext, or slog.Default.
func FromContext(ctx context.Context) *slog.Logger {
	if v := ctx.Value(ctxKey{}); v != nil {
		if l, ok := v.(*slog.Logger); ok {
			return l
		}
	}
	return slog.Default()
}
