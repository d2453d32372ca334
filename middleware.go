package agentloop

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"
)

// Middleware wraps a Tool's handler with cross-cutting behavior (logging,
// recovery, timeout). Install with Executor.Use.
type Middleware func(Tool) Tool

// WithLogging returns a middleware that logs start, end, duration, and errors.
func WithLogging(logger *slog.Logger) Middleware {
	if logger == nil {
		logger = slog.Default()
	}
	return func(next Tool) Tool {
		inner := next.Handler
		name := next.Schema.Name
		next.Handler = func(ctx context.Context, args json.RawMessage) (any, error) {
			logger.Info("tool start", "tool", name)
			start := time.Now()
			res, err := inner(ctx, args)
			dur := time.Since(start)
			if err != nil {
				logger.Error("tool error", "tool", name, "duration", dur, "error", err)
				return nil, err
			}
			logger.Info("tool end", "tool", name, "duration", dur)
			return res, nil
		}
		return next
	}
}

// WithRecovery returns a middleware that recovers panics and returns them as
// errors. The Executor already recovers panics itself; use this when handlers
// are invoked outside the Executor (e.g. external resume of a blocked loop).
func WithRecovery() Middleware {
	return func(next Tool) Tool {
		inner := next.Handler
		next.Handler = func(ctx context.Context, args json.RawMessage) (res any, err error) {
			defer func() {
				if p := recover(); p != nil {
					res = nil
					err = &panicError{p: p}
				}
			}()
			return inner(ctx, args)
		}
		return next
	}
}

// WithHandlerTimeout returns a middleware that bounds one handler invocation.
// When an enclosing context deadline is shorter, the shorter one wins.
func WithHandlerTimeout(d time.Duration) Middleware {
	return func(next Tool) Tool {
		inner := next.Handler
		next.Handler = func(ctx context.Context, args json.RawMessage) (any, error) {
			if d <= 0 {
				return inner(ctx, args)
			}
			ctx, cancel := context.WithTimeout(ctx, d)
			defer cancel()
			return inner(ctx, args)
		}
		return next
	}
}
