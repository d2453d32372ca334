package agentloop_test

import (
	"context"
	"encoding/json"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/skosovsky/agentloop"
	"github.com/skosovsky/agentloop/testutil"
)

// countingMiddleware records how many times it wrapped a tool and how many
// times the wrapped handler ran.
func countingMiddleware(wraps, invocations *int) agentloop.Middleware {
	return func(next agentloop.Tool) agentloop.Tool {
		*wraps++
		inner := next.Handler
		next.Handler = func(ctx context.Context, args json.RawMessage) (any, error) {
			*invocations++
			return inner(ctx, args)
		}
		return next
	}
}

func TestUse_AppliesToExistingAndFutureTools(t *testing.T) {
	t.Parallel()
	var wraps, invocations int
	exec := agentloop.NewExecutor()
	exec.Register(testutil.EchoTool("before"))
	exec.Use(countingMiddleware(&wraps, &invocations))
	exec.Register(testutil.EchoTool("after"))

	_, err := exec.Execute(context.Background(), testutil.FunctionCall("1", "before", `{}`))
	require.NoError(t, err)
	_, err = exec.Execute(context.Background(), testutil.FunctionCall("2", "after", `{}`))
	require.NoError(t, err)
	assert.Equal(t, 2, invocations)
}

func TestUse_ReplacingChainDoesNotDoubleWrap(t *testing.T) {
	t.Parallel()
	var wraps, invocations int
	mw := countingMiddleware(&wraps, &invocations)

	exec := agentloop.NewExecutor()
	exec.Register(testutil.EchoTool("echo"))
	exec.Use(mw)
	exec.Use(mw) // replaces, re-wraps from the raw handler

	_, err := exec.Execute(context.Background(), testutil.FunctionCall("1", "echo", `{}`))
	require.NoError(t, err)
	// One layer runs per call even after two Use calls.
	assert.Equal(t, 1, invocations)
}

func TestUse_OnionOrder(t *testing.T) {
	t.Parallel()
	var order []string
	tag := func(label string) agentloop.Middleware {
		return func(next agentloop.Tool) agentloop.Tool {
			inner := next.Handler
			next.Handler = func(ctx context.Context, args json.RawMessage) (any, error) {
				order = append(order, label)
				return inner(ctx, args)
			}
			return next
		}
	}

	exec := agentloop.NewExecutor()
	exec.Register(testutil.EchoTool("echo"))
	exec.Use(tag("outer"), tag("inner"))

	_, err := exec.Execute(context.Background(), testutil.FunctionCall("1", "echo", `{}`))
	require.NoError(t, err)
	assert.Equal(t, []string{"outer", "inner"}, order)
}

func TestWithLogging_EmitsStartAndEnd(t *testing.T) {
	t.Parallel()
	var buf strings.Builder
	logger := slog.New(slog.NewTextHandler(&buf, nil))

	exec := agentloop.NewExecutor()
	exec.Register(testutil.EchoTool("echo"))
	exec.Use(agentloop.WithLogging(logger))

	_, err := exec.Execute(context.Background(), testutil.FunctionCall("1", "echo", `{}`))
	require.NoError(t, err)

	out := buf.String()
	assert.Contains(t, out, "tool start")
	assert.Contains(t, out, "tool end")
	assert.Contains(t, out, "tool=echo")
}

func TestWithLogging_EmitsError(t *testing.T) {
	t.Parallel()
	var buf strings.Builder
	logger := slog.New(slog.NewTextHandler(&buf, nil))

	failing := agentloop.Tool{
		Schema: agentloop.ToolSchema{Name: "flaky", Parameters: map[string]any{"type": "object"}},
		Handler: func(context.Context, json.RawMessage) (any, error) {
			return nil, assert.AnError
		},
	}
	exec := agentloop.NewExecutor()
	exec.Register(failing)
	exec.Use(agentloop.WithLogging(logger))

	result, err := exec.Execute(context.Background(), testutil.FunctionCall("1", "flaky", `{}`))
	require.NoError(t, err)
	assert.True(t, result.IsError)
	assert.Contains(t, buf.String(), "tool error")
}

func TestWithRecovery_TurnsPanicIntoError(t *testing.T) {
	t.Parallel()
	panicky := agentloop.Tool{
		Schema: agentloop.ToolSchema{Name: "boom", Parameters: map[string]any{"type": "object"}},
		Handler: func(context.Context, json.RawMessage) (any, error) {
			panic("kaput")
		},
	}
	wrapped := agentloop.WithRecovery()(panicky)

	// Invoked directly, outside the Executor's own recovery.
	_, err := wrapped.Handler(context.Background(), json.RawMessage(`{}`))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "kaput")
}

func TestWithHandlerTimeout_BoundsHandler(t *testing.T) {
	t.Parallel()
	waiting := agentloop.Tool{
		Schema: agentloop.ToolSchema{Name: "wait", Parameters: map[string]any{"type": "object"}},
		Handler: func(ctx context.Context, _ json.RawMessage) (any, error) {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(5 * time.Second):
				return "too late", nil
			}
		},
	}
	exec := agentloop.NewExecutor()
	exec.Register(waiting)
	exec.Use(agentloop.WithHandlerTimeout(10 * time.Millisecond))

	result, err := exec.Execute(context.Background(), testutil.FunctionCall("1", "wait", `{}`))
	require.NoError(t, err)
	assert.True(t, result.IsError)
	assert.Contains(t, result.Content, "deadline")
}
