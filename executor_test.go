package agentloop_test

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/skosovsky/agentloop"
	"github.com/skosovsky/agentloop/testutil"
)

func TestExecutor_UnknownFunction(t *testing.T) {
	t.Parallel()
	exec := agentloop.NewExecutor()

	result, err := exec.Execute(context.Background(), testutil.FunctionCall("call_1", "missing", `{}`))
	require.NoError(t, err)
	assert.True(t, result.IsError)
	assert.Equal(t, "call_1", result.ToolCallID)
	assert.Contains(t, result.Content, "Unknown function: missing")
}

func TestExecutor_EmptyArgumentsDefaultToEmptyObject(t *testing.T) {
	t.Parallel()
	var got string
	tool := agentloop.Tool{
		Schema: agentloop.ToolSchema{Name: "probe", Parameters: map[string]any{"type": "object"}},
		Handler: func(_ context.Context, args json.RawMessage) (any, error) {
			got = string(args)
			return "ok", nil
		},
	}
	exec := testutil.NewTestExecutor(tool)

	result, err := exec.Execute(context.Background(), testutil.FunctionCall("call_1", "probe", ""))
	require.NoError(t, err)
	assert.False(t, result.IsError)
	assert.Equal(t, "{}", got)
}

func TestExecutor_MalformedArguments(t *testing.T) {
	t.Parallel()
	exec := testutil.NewTestExecutor(testutil.EchoTool("echo"))

	result, err := exec.Execute(context.Background(), testutil.FunctionCall("call_1", "echo", `{"broken`))
	require.NoError(t, err)
	assert.True(t, result.IsError)
	assert.Contains(t, result.Content, "json parse error")
}

func TestExecutor_PanicBecomesErrorResult(t *testing.T) {
	t.Parallel()
	tool := agentloop.Tool{
		Schema: agentloop.ToolSchema{Name: "boom", Parameters: map[string]any{"type": "object"}},
		Handler: func(context.Context, json.RawMessage) (any, error) {
			panic("handler exploded")
		},
	}
	exec := testutil.NewTestExecutor(tool)

	result, err := exec.Execute(context.Background(), testutil.FunctionCall("call_1", "boom", `{}`))
	require.NoError(t, err)
	assert.True(t, result.IsError)
	assert.Contains(t, result.Content, "panic")
	assert.Contains(t, result.Content, "handler exploded")
}

func TestExecutor_ResultNotEncodable(t *testing.T) {
	t.Parallel()
	tool := agentloop.Tool{
		Schema: agentloop.ToolSchema{Name: "bad", Parameters: map[string]any{"type": "object"}},
		Handler: func(context.Context, json.RawMessage) (any, error) {
			return make(chan int), nil
		},
	}
	exec := testutil.NewTestExecutor(tool)

	result, err := exec.Execute(context.Background(), testutil.FunctionCall("call_1", "bad", `{}`))
	require.NoError(t, err)
	assert.True(t, result.IsError)
	assert.Contains(t, result.Content, "not JSON-encodable")
}

func TestExecutor_ExecuteAllRestoresCallOrder(t *testing.T) {
	t.Parallel()
	slow := agentloop.Tool{
		Schema: agentloop.ToolSchema{Name: "slow", Parameters: map[string]any{"type": "object"}},
		Handler: func(context.Context, json.RawMessage) (any, error) {
			time.Sleep(30 * time.Millisecond)
			return "slow done", nil
		},
	}
	fast := agentloop.Tool{
		Schema: agentloop.ToolSchema{Name: "fast", Parameters: map[string]any{"type": "object"}},
		Handler: func(context.Context, json.RawMessage) (any, error) {
			return "fast done", nil
		},
	}
	exec := testutil.NewTestExecutor(slow, fast)

	calls := []agentloop.ToolCall{
		testutil.FunctionCall("call_1", "slow", `{}`),
		testutil.FunctionCall("call_2", "fast", `{}`),
	}
	results, err := exec.ExecuteAll(context.Background(), calls)
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.Equal(t, "call_1", results[0].ToolCallID)
	assert.Equal(t, `"slow done"`, results[0].Content)
	assert.Equal(t, "call_2", results[1].ToolCallID)
	assert.Equal(t, `"fast done"`, results[1].Content)
}

func TestExecutor_ExecuteAllEmpty(t *testing.T) {
	t.Parallel()
	exec := agentloop.NewExecutor()

	results, err := exec.ExecuteAll(context.Background(), nil)
	require.NoError(t, err)
	assert.Nil(t, results)
}

func TestExecutor_ExecuteAllCancelled(t *testing.T) {
	t.Parallel()
	exec := testutil.NewTestExecutor(testutil.EchoTool("echo"))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := exec.ExecuteAll(ctx, []agentloop.ToolCall{
		testutil.FunctionCall("call_1", "echo", `{}`),
	})
	require.ErrorIs(t, err, context.Canceled)
}

func TestExecutor_ShutdownRejectsNewCalls(t *testing.T) {
	t.Parallel()
	exec := testutil.NewTestExecutor(testutil.EchoTool("echo"))

	require.NoError(t, exec.Shutdown(context.Background()))
	require.NoError(t, exec.Shutdown(context.Background())) // idempotent

	_, err := exec.Execute(context.Background(), testutil.FunctionCall("call_1", "echo", `{}`))
	assert.ErrorIs(t, err, agentloop.ErrShutdown)
}

func TestExecutor_ShutdownWaitsForInFlight(t *testing.T) {
	t.Parallel()
	started := make(chan struct{})
	release := make(chan struct{})
	tool := agentloop.Tool{
		Schema: agentloop.ToolSchema{Name: "slow", Parameters: map[string]any{"type": "object"}},
		Handler: func(context.Context, json.RawMessage) (any, error) {
			close(started)
			<-release
			return "ok", nil
		},
	}
	exec := testutil.NewTestExecutor(tool)

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		_, _ = exec.Execute(context.Background(), testutil.FunctionCall("call_1", "slow", `{}`))
	}()
	<-started

	// A deadline shorter than the handler: Shutdown gives up waiting.
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, exec.Shutdown(ctx), context.DeadlineExceeded)

	close(release)
	wg.Wait()
	assert.NoError(t, exec.Shutdown(context.Background()))
}

func TestExecutor_Hooks(t *testing.T) {
	t.Parallel()
	var beforeName, afterName string
	var afterResult agentloop.ToolResult
	var elapsed time.Duration
	exec := agentloop.NewExecutor(
		agentloop.WithOnBeforeExecute(func(_ context.Context, call agentloop.ToolCall) {
			beforeName = call.Function.Name
		}),
		agentloop.WithOnAfterExecute(func(_ context.Context, call agentloop.ToolCall, result agentloop.ToolResult, d time.Duration) {
			afterName = call.Function.Name
			afterResult = result
			elapsed = d
		}),
	)
	exec.Register(testutil.EchoTool("echo"))

	result, err := exec.Execute(context.Background(), testutil.FunctionCall("call_1", "echo", `{"n":1}`))
	require.NoError(t, err)
	assert.Equal(t, "echo", beforeName)
	assert.Equal(t, "echo", afterName)
	assert.Equal(t, result, afterResult)
	assert.GreaterOrEqual(t, elapsed, time.Duration(0))
}

func TestExecutor_RegisterReplacesSameName(t *testing.T) {
	t.Parallel()
	first := agentloop.Tool{
		Schema: agentloop.ToolSchema{Name: "tool", Parameters: map[string]any{"type": "object"}},
		Handler: func(context.Context, json.RawMessage) (any, error) {
			return "first", nil
		},
	}
	second := agentloop.Tool{
		Schema: agentloop.ToolSchema{Name: "tool", Parameters: map[string]any{"type": "object"}},
		Handler: func(context.Context, json.RawMessage) (any, error) {
			return "second", nil
		},
	}
	exec := testutil.NewTestExecutor(first, second)

	result, err := exec.Execute(context.Background(), testutil.FunctionCall("call_1", "tool", `{}`))
	require.NoError(t, err)
	assert.Equal(t, `"second"`, result.Content)
	assert.Len(t, exec.Schemas(), 1)
}

func TestExecutor_SchemasSortedByName(t *testing.T) {
	t.Parallel()
	exec := testutil.NewTestExecutor(
		testutil.EchoTool("zeta"),
		testutil.EchoTool("alpha"),
		testutil.EchoTool("mid"),
	)

	schemas := exec.Schemas()
	require.Len(t, schemas, 3)
	assert.Equal(t, "alpha", schemas[0].Name)
	assert.Equal(t, "mid", schemas[1].Name)
	assert.Equal(t, "zeta", schemas[2].Name)
}
