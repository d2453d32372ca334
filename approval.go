package agentloop

import "context"

// Gate decides whether a tool call must be confirmed by an operator before
// execution. Implementations may consult the conversation and step index and
// may block (e.g. on an async policy service). Gates must be safe for
// concurrent use: the loop evaluates calls of one step in call order, but
// handlers gated elsewhere may run in parallel.
type Gate interface {
	NeedsApproval(ctx context.Context, call ToolCall, messages []Message, step int) (bool, error)
}

// GateFunc adapts a function to the Gate interface.
type GateFunc func(ctx context.Context, call ToolCall, messages []Message, step int) (bool, error)

// NeedsApproval calls f.
func (f GateFunc) NeedsApproval(ctx context.Context, call ToolCall, messages []Message, step int) (bool, error) {
	return f(ctx, call, messages, step)
}

// ApproveAll is the default gate: nothing needs approval.
var ApproveAll Gate = GateFunc(func(context.Context, ToolCall, []Message, int) (bool, error) {
	return false, nil
})

// NewListGate builds a Gate from an allow list: tools named in alwaysApprove
// execute without confirmation, every other tool blocks the loop.
func NewListGate(alwaysApprove []string) Gate {
	allowed := make(map[string]bool, len(alwaysApprove))
	for _, name := range alwaysApprove {
		allowed[name] = true
	}
	return GateFunc(func(_ context.Context, call ToolCall, _ []Message, _ int) (bool, error) {
		return !allowed[call.Function.Name], nil
	})
}

// gateSet combines the loop-wide gate with per-tool gates. A call requires
// approval when either scope says yes. A gate evaluation error is an
// ambiguous decision and counts as "needs approval" rather than failing the
// loop, so the call is surfaced to the operator instead of silently executed.
type gateSet struct {
	global  Gate
	perTool map[string]Gate
}

func (g gateSet) needsApproval(ctx context.Context, call ToolCall, messages []Message, step int) bool {
	if g.global != nil {
		needs, err := g.global.NeedsApproval(ctx, call, messages, step)
		if err != nil || needs {
			return true
		}
	}
	if tg, ok := g.perTool[call.Function.Name]; ok && tg != nil {
		needs, err := tg.NeedsApproval(ctx, call, messages, step)
		if err != nil || needs {
			return true
		}
	}
	return false
}

// empty reports whether no gate is configured at all; then nothing needs
// approval and partitioning is skipped.
func (g gateSet) empty() bool {
	return g.global == nil && len(g.perTool) == 0
}
