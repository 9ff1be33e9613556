// Package slogutil centralizes the context-scoped logger pattern used
// across the core's components.
package slogutil

import (
	"context"
	"log/slog"
)

type ctxKey struct{}

// Into attaches a logger to ctx so a later call to From returns it.
func Into(ctx context.Context, logger *slog.Logger) context.Context {
	return context.WithValue(ctx, ctxKey{}, logger)
}

// From returns the logger attached to ctx, or slog.Default with no extra
// fields if none was attached.
func From(ctx context.Context) *slog.Logger {
	if logger, ok := ctx.Value(ctxKey{}).(*slog.Logger); ok {
		return logger
	}
	return slog.Default()
}

// With builds a child logger scoped to component, carrying any additional
// key-value pairs.
func With(component string, kv ...any) *slog.Logger {
	args := append([]any{"component", component}, kv...)
	return slog.Default().With(args...)
}
