package agentloop

import (
	"strconv"
	"strings"

	"github.com/oklog/ulid/v2"
)

// maxCallsPerStep bounds the number of call slots the aggregator allocates.
// Fragments beyond the bound are dropped to keep a malformed stream from
// exhausting memory.
const maxCallsPerStep = 50

// callAggregator merges fragmented tool-call deltas into complete calls.
//
// Fragments are grouped by call id; fragments with an empty id and only an
// index continue the call previously opened at that index. The first
// non-empty name wins and is never overwritten. Argument fragments are
// concatenated as strings in arrival order; whether the result is valid JSON
// is the executor's problem, not the aggregator's. Completion is driven
// externally (End or the step's terminal event); the aggregator holds no
// timeout or liveness logic.
type callAggregator struct {
	order   []string // call keys in arrival order
	byKey   map[string]*pendingCall
	byIndex map[int]string // index → key, for id-less continuation fragments
}

type pendingCall struct {
	id   string
	name string
	args strings.Builder
}

func newCallAggregator() *callAggregator {
	return &callAggregator{
		byKey:   make(map[string]*pendingCall),
		byIndex: make(map[int]string),
	}
}

// key resolves the grouping key for a fragment: the call id when present,
// otherwise the key of the call previously opened at the same index, and for
// streams that never send ids at all, a positional key.
func (a *callAggregator) key(d ToolCallDelta) string {
	if d.ID != "" {
		return d.ID
	}
	if k, ok := a.byIndex[d.Index]; ok {
		return k
	}
	return "#" + strconv.Itoa(d.Index)
}

// Add merges one fragment. Safe to call with fragments that carry only an
// argument continuation (empty id and name).
func (a *callAggregator) Add(d ToolCallDelta) {
	k := a.key(d)
	call, ok := a.byKey[k]
	if !ok {
		if len(a.order) >= maxCallsPerStep {
			return
		}
		call = &pendingCall{id: d.ID}
		a.byKey[k] = call
		a.order = append(a.order, k)
	}
	a.byIndex[d.Index] = k
	if call.id == "" && d.ID != "" {
		call.id = d.ID
	}
	if call.name == "" && d.Name != "" {
		call.name = d.Name
	}
	call.args.WriteString(d.Arguments)
}

// Len reports the number of distinct calls seen so far.
func (a *callAggregator) Len() int { return len(a.order) }

// Completed returns the aggregated calls in arrival order. Calls whose stream
// never supplied an id get a generated one so tool results can reference them.
func (a *callAggregator) Completed() []ToolCall {
	if len(a.order) == 0 {
		return nil
	}
	out := make([]ToolCall, 0, len(a.order))
	for _, k := range a.order {
		call := a.byKey[k]
		callID := call.id
		if callID == "" {
			callID = "call_" + ulid.Make().String()
		}
		out = append(out, ToolCall{
			ID:   callID,
			Kind: ToolCallKindFunction,
			Function: FunctionCall{
				Name:      call.name,
				Arguments: call.args.String(),
			},
		})
	}
	return out
}

// snapshot returns the call currently aggregated for the fragment's id, for
// emitting tool-call parts mid-stream. The argument string may be partial.
func (a *callAggregator) snapshot(d ToolCallDelta) *ToolCall {
	call, ok := a.byKey[a.key(d)]
	if !ok {
		return nil
	}
	return &ToolCall{
		ID:   call.id,
		Kind: ToolCallKindFunction,
		Function: FunctionCall{
			Name:      call.name,
			Arguments: call.args.String(),
		},
	}
}
