package database

import (
	"context"
	"time"
)

// ContextKey is a custom type for context keys to avoid collisions.
type ContextKey string

const (
	// ContextKeyQueryTimeout allows overriding the default timeout for read queries.
	ContextKeyQueryTimeout ContextKey = "db_query_timeout"
	// ContextKeyExecuteTimeout allows overriding the default timeout for write operations.
	ContextKeyExecuteTimeout ContextKey = "db_execute_timeout"
)

// WithQueryTimeout returns a context carrying a read timeout override.
func WithQueryTimeout(ctx context.Context, d time.Duration) context.Context {
	return context.WithValue(ctx, ContextKeyQueryTimeout, d)
}

// WithExecuteTimeout returns a context carrying a write timeout override.
func WithExecuteTimeout(ctx context.Context, d time.Duration) context.Context {
	return context.WithValue(ctx, ContextKeyExecuteTimeout, d)
}

// getTimeoutFromContext is a helper that retrieves a timeout duration from the context
// or returns a default value. It also returns a new context with the timeout applied
// and its corresponding cancellation function.
func getTimeoutFromContext(ctx context.Context, defaultTimeout time.Duration, key ContextKey) (context.Context, context.CancelFunc) {
	if ctx == nil {
		ctx = context.Background()
	}
	timeout := defaultTimeout
	if v, ok := ctx.Value(key).(time.Duration); ok && v > 0 {
		timeout = v
	}
	if timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, timeout)
}

// QueryContext bounds a read with the connection's query timeout, or the
// override carried by ctx.
func QueryContext(ctx context.Context, conn DBConnection) (context.Context, context.CancelFunc) {
	return getTimeoutFromContext(ctx, conn.QueryTimeout(), ContextKeyQueryTimeout)
}

// ExecuteContext bounds a write with the connection's execute timeout, or the
// override carried by ctx.
func ExecuteContext(ctx context.Context, conn DBConnection) (context.Context, context.CancelFunc) {
	return getTimeoutFromContext(ctx, conn.ExecuteTimeout(), ContextKeyExecuteTimeout)
}
