package agentloop

import (
	"context"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/trace"
)

// toolOptions hold optional per-tool settings.
type toolOptions struct {
	strict bool
}

// ToolOption configures a tool built by NewTool or NewDynamicTool.
type ToolOption func(*toolOptions)

// WithStrict sets strict mode for the generated schema: additionalProperties
// false for all objects and all properties required (OpenAI Structured
// Outputs compatibility).
func WithStrict() ToolOption {
	return func(o *toolOptions) {
		o.strict = true
	}
}

// ExecutorOption configures an Executor.
type ExecutorOption func(*executorOptions)

type executorOptions struct {
	onBefore func(context.Context, ToolCall)
	onAfter  func(context.Context, ToolCall, ToolResult, time.Duration)
}

// WithOnBeforeExecute sets a hook called before each tool execution.
func WithOnBeforeExecute(fn func(context.Context, ToolCall)) ExecutorOption {
	return func(o *executorOptions) {
		o.onBefore = fn
	}
}

// WithOnAfterExecute sets a hook called after each tool execution with the
// final result and duration.
func WithOnAfterExecute(fn func(context.Context, ToolCall, ToolResult, time.Duration)) ExecutorOption {
	return func(o *executorOptions) {
		o.onAfter = fn
	}
}

// LoopOption configures a Loop.
type LoopOption func(*loopOptions)

type loopOptions struct {
	maxSteps int
	gate     Gate
	perTool  map[string]Gate
	logger   *slog.Logger
	tracer   trace.Tracer
}

// WithMaxSteps bounds the number of model steps per invocation. Exhausting
// the budget with tool calls still pending fails the loop with MaxStepsError.
// Values below one are replaced with the default of 10.
func WithMaxSteps(n int) LoopOption {
	return func(o *loopOptions) {
		o.maxSteps = n
	}
}

// WithApprovalGate sets the loop-wide approval gate.
func WithApprovalGate(g Gate) LoopOption {
	return func(o *loopOptions) {
		o.gate = g
	}
}

// WithToolApprovalGate sets a gate scoped to one tool name. When both a
// loop-wide and a per-tool gate exist, a call requires approval if either
// says yes.
func WithToolApprovalGate(toolName string, g Gate) LoopOption {
	return func(o *loopOptions) {
		if o.perTool == nil {
			o.perTool = make(map[string]Gate)
		}
		o.perTool[toolName] = g
	}
}

// WithLogger sets the loop's logger. Nil keeps slog.Default().
func WithLogger(logger *slog.Logger) LoopOption {
	return func(o *loopOptions) {
		o.logger = logger
	}
}

// WithTracer sets the OpenTelemetry tracer for per-step and per-tool spans.
// The default is a no-op tracer.
func WithTracer(tracer trace.Tracer) LoopOption {
	return func(o *loopOptions) {
		o.tracer = tracer
	}
}
