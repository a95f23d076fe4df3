// Package requestctx carries per-request values through a context: the
// request ID assigned by the admin API and the time the request arrived.
package requestctx

import (
	"context"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

type contextKey string

const (
	requestIDKey   contextKey = "request_id"
	requestTimeKey contextKey = "request_time"
)

func WithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, requestIDKey, id)
}

func WithRequestTime(ctx context.Context, t time.Time) context.Context {
	return context.WithValue(ctx, requestTimeKey, t)
}

func RequestID(ctx context.Context) string {
	if id, ok := ctx.Value(requestIDKey).(string); ok {
		return id
	}
	return ""
}

func RequestTime(ctx context.Context) time.Time {
	if t, ok := ctx.Value(requestTimeKey).(time.Time); ok {
		return t
	}
	return time.Time{}
}

// Elapsed is the time since the request arrived, or zero outside a request.
func Elapsed(ctx context.Context) time.Duration {
	start := RequestTime(ctx)
	if start.IsZero() {
		return 0
	}
	return time.Since(start)
}

// Logger returns the global logger annotated with the request ID, if any.
// Scheduler code called from a handler logs through it so that a run-now or
// start can be correlated with the HTTP request that caused it.
func Logger(ctx context.Context) *zerolog.Logger {
	id := RequestID(ctx)
	if id == "" {
		l := log.Logger
		return &l
	}
	l := log.With().Str("request_id", id).Logger()
	return &l
}
