package domain

import (
	"context"
	"time"
)

type ctxKey string

const (
	callerCtxKey    ctxKey = "caller_id"
	blockTimeCtxKey ctxKey = "block_time"
)

// ContextWithCaller returns a new context carrying the authenticated caller
// account. The host is trusted to set it.
func ContextWithCaller(ctx context.Context, caller string) context.Context {
	return context.WithValue(ctx, callerCtxKey, caller)
}

// CallerFromContext extracts the caller account from the context.
// Returns empty string if not set.
func CallerFromContext(ctx context.Context) string {
	if v, ok := ctx.Value(callerCtxKey).(string); ok {
		return v
	}
	return ""
}

// ContextWithBlockTime pins the host time for a single call.
func ContextWithBlockTime(ctx context.Context, t time.Time) context.Context {
	return context.WithValue(ctx, blockTimeCtxKey, t)
}

// BlockTimeFromContext returns the pinned host time, if any.
func BlockTimeFromContext(ctx context.Context) (time.Time, bool) {
	t, ok := ctx.Value(blockTimeCtxKey).(time.Time)
	return t, ok
}

// Clock supplies the host's current time with seconds resolution.
type Clock interface {
	Now() time.Time
}

// ClockFunc adapts a function to Clock.
type ClockFunc func() time.Time

func (f ClockFunc) Now() time.Time { return f() }

// SystemClock reads the wall clock truncated to whole seconds.
var SystemClock Clock = ClockFunc(func() time.Time { return time.Now().UTC().Truncate(time.Second) })
