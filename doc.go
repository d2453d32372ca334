// Package agentloop is a provider-agnostic engine for multi-step LLM tool calling.
//
// # Overview
//
// Model backends emit tool calls as fragmented JSON deltas. This package turns
// those fragments into complete calls, drives the agent loop (call model →
// execute tools → feed results back), optionally gates execution behind human
// approval, and recovers schema-conformant structured output from free-form
// model text.
//
// Pipeline: Provider stream → aggregator (merge deltas by call id) → approval
// gate → Executor (lookup, validate, run, marshal) → tool-result message →
// next step, until the model stops requesting tools.
//
// # Key concepts
//
//   - Deterministic resume: a loop blocked on approval surfaces an immutable
//     LoopState; the caller may execute the pending calls externally, append a
//     tool-result message, and re-invoke the loop with the extended history.
//   - Partial Success: one failing tool handler becomes an error-flagged
//     ToolResult; sibling calls in the same step still run.
//   - Verbatim replay: assistant messages carrying provider extensions (e.g.
//     reasoning signatures) are persisted unmodified, never re-synthesized.
//
// See Loop, Executor, and OutputSpec for the core types, and NewLoop /
// NewOutputSpec for setup.
//
// # Example
//
//	type Args struct { City string `json:"city"` }
//	type Out  struct { Temp float64 `json:"temp"` }
//	tool, err := agentloop.NewTool("weather", "Get weather", func(_ context.Context, a Args) (Out, error) {
//	    return Out{Temp: 22.5}, nil
//	})
//	if err != nil { ... }
//	exec := agentloop.NewExecutor()
//	exec.Register(tool)
//	loop := agentloop.NewLoop(provider, exec, agentloop.WithMaxSteps(8))
//	result, err := loop.Run(ctx, agentloop.Request{Messages: history})
package agentloop
