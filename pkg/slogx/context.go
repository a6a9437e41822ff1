package slogx

import (
	"context"
	"log/slog"
)

type ctxKey struct{}

func WithContext(ctx context.Context, logger *slog.Logger) context.Context {
	return context.WithValue(ctx, ctxKey{}, logger)
}

// FromContext returns the logger stored in ctx, falling back to fallback and
// then to slog.Default().
func FromContext(ctx context.Context, fallback ...*slog.Logger) *slog.Logger {
	if l, ok := ctx.Value(ctxKey{}).(*slog.Logger); ok {
		return l
	}
	for _, l := range fallback {
		if l != nil {
			return l
		}
	}
	return slog.Default()
}

// WithCorrelationID attaches a client-request-id to the context logger so
// every record of one logical operation can be joined with IdP traces.
func WithCorrelationID(ctx context.Context, id string) context.Context {
	l := FromContext(ctx)
	return WithContext(ctx, l.With("client_request_id", id))
}
