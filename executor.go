package agentloop

import (
	"context"
	"encoding/json"
	"fmt"
	"slices"
	"sync"
	"time"
)

// Handler is a caller-supplied tool implementation. It receives the call's
// JSON arguments and returns a JSON-encodable result. Errors and panics never
// escape the Executor; they become error-flagged ToolResults.
type Handler func(ctx context.Context, args json.RawMessage) (any, error)

// Tool pairs a schema (shown to the model) with its handler. Build typed
// tools with NewTool, or fill the struct directly for dynamic schemas.
type Tool struct {
	Schema  ToolSchema
	Handler Handler
}

// Executor holds the tool handler registry and executes completed calls with
// panic recovery, per-call error capture, and stable result ordering.
// Handlers within one step run concurrently; the Executor must therefore only
// hold handlers that are safe to invoke in parallel.
type Executor struct {
	mu          sync.Mutex
	tools       map[string]Tool // wrapped with middlewares, used by execution
	rawTools    map[string]Tool // unwrapped, used by Use to re-apply from scratch
	middlewares []Middleware
	done        chan struct{}
	running     sync.WaitGroup
	opts        executorOptions
}

// NewExecutor creates an Executor with the given options.
func NewExecutor(opts ...ExecutorOption) *Executor {
	o := executorOptions{}
	for _, opt := range opts {
		opt(&o)
	}
	return &Executor{
		tools:    make(map[string]Tool),
		rawTools: make(map[string]Tool),
		done:     make(chan struct{}),
		opts:     o,
	}
}

// Register adds a tool. Stored middlewares (see Use) are applied before
// registration. A tool with the same name is replaced. Safe for concurrent
// use with Execute and other Register calls.
func (e *Executor) Register(t Tool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	name := t.Schema.Name
	e.rawTools[name] = t
	for i := len(e.middlewares) - 1; i >= 0; i-- {
		t = e.middlewares[i](t)
	}
	e.tools[name] = t
}

// Use stores the given middlewares and reapplies them from scratch to all
// registered tools (onion order: first middleware is outermost). Tools
// registered after Use also get them. Calling Use again replaces the chain
// and rewraps from raw handlers, avoiding double-wrapping.
func (e *Executor) Use(middlewares ...Middleware) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.middlewares = middlewares
	for name, raw := range e.rawTools {
		t := raw
		for i := len(middlewares) - 1; i >= 0; i-- {
			t = middlewares[i](t)
		}
		e.tools[name] = t
	}
}

// Schemas returns the registered tool schemas sorted by name, for the model's
// tool catalog.
func (e *Executor) Schemas() []ToolSchema {
	e.mu.Lock()
	defer e.mu.Unlock()
	names := make([]string, 0, len(e.tools))
	for name := range e.tools {
		names = append(names, name)
	}
	slices.Sort(names)
	out := make([]ToolSchema, 0, len(names))
	for _, name := range names {
		out = append(out, e.tools[name].Schema)
	}
	return out
}

// lookup returns the wrapped handler for a tool name.
func (e *Executor) lookup(name string) (Handler, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	t, ok := e.tools[name]
	return t.Handler, ok
}

// Execute runs one completed tool call and captures any failure as an
// error-flagged result. It returns a non-nil error only for cooperative
// cancellation (checked before the handler starts) and executor shutdown.
func (e *Executor) Execute(ctx context.Context, call ToolCall) (ToolResult, error) {
	e.mu.Lock()
	select {
	case <-e.done:
		e.mu.Unlock()
		return ToolResult{}, ErrShutdown
	default:
	}
	e.running.Add(1)
	e.mu.Unlock()
	defer e.running.Done()

	if err := ctx.Err(); err != nil {
		return ToolResult{}, err
	}

	if e.opts.onBefore != nil {
		e.opts.onBefore(ctx, call)
	}
	start := time.Now()
	result := e.executeOne(ctx, call)
	if e.opts.onAfter != nil {
		e.opts.onAfter(ctx, call, result, time.Since(start))
	}
	return result, nil
}

// ExecuteAll runs the step's calls concurrently and restores original call
// order in the result slice. It stops early only on cooperative cancellation;
// individual handler failures are embedded in their results.
func (e *Executor) ExecuteAll(ctx context.Context, calls []ToolCall) ([]ToolResult, error) {
	if len(calls) == 0 {
		return nil, nil
	}
	results := make([]ToolResult, len(calls))
	errs := make([]error, len(calls))
	var wg sync.WaitGroup
	for i, call := range calls {
		wg.Add(1)
		go func(i int, call ToolCall) {
			defer wg.Done()
			results[i], errs[i] = e.Execute(ctx, call)
		}(i, call)
	}
	wg.Wait()
	for _, err := range errs {
		if err != nil {
			return nil, err
		}
	}
	return results, nil
}

// executeOne does the lookup, argument parse check, invocation, and result
// marshaling for one call. All failure paths feed errorResult so the step
// never aborts on a single bad call.
func (e *Executor) executeOne(ctx context.Context, call ToolCall) (result ToolResult) {
	name := call.Function.Name
	defer func() {
		if p := recover(); p != nil {
			result = errorResult(call, &panicError{p: p})
		}
	}()

	handler, ok := e.lookup(name)
	if !ok {
		return errorResult(call, fmt.Errorf("Unknown function: %s", name))
	}

	args := call.Function.Arguments
	if args == "" {
		args = "{}"
	}
	if !json.Valid([]byte(args)) {
		return errorResult(call, wrapJSONParseError(fmt.Errorf("arguments are not valid JSON")))
	}

	out, err := handler(ctx, json.RawMessage(args))
	if err != nil {
		return errorResult(call, err)
	}
	content, err := json.Marshal(out)
	if err != nil {
		return errorResult(call, fmt.Errorf("result not JSON-encodable: %w", err))
	}
	return ToolResult{
		ToolCallID: call.ID,
		ToolName:   name,
		Content:    string(content),
	}
}

// Shutdown closes the executor for new calls and waits for in-flight
// executions or ctx to cancel.
func (e *Executor) Shutdown(ctx context.Context) error {
	e.mu.Lock()
	select {
	case <-e.done:
		e.mu.Unlock()
		return nil
	default:
		close(e.done)
	}
	e.mu.Unlock()
	done := make(chan struct{})
	go func() {
		e.running.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// errorResult encodes a handler failure as the call's result. The payload is
// always {"error": "<message>"} so the model sees a consistent shape.
func errorResult(call ToolCall, err error) ToolResult {
	payload, merr := json.Marshal(map[string]string{"error": err.Error()})
	if merr != nil {
		payload = []byte(`{"error":"tool execution failed"}`)
	}
	return ToolResult{
		ToolCallID: call.ID,
		ToolName:   call.Function.Name,
		Content:    string(payload),
		IsError:    true,
	}
}
