package agentloop

import "encoding/json"

// PartKind identifies a caller-facing stream part.
type PartKind string

const (
	PartTextStart     PartKind = "text_start"
	PartTextDelta     PartKind = "text_delta"
	PartTextEnd       PartKind = "text_end"
	PartThinkingStart PartKind = "thinking_start"
	PartThinkingDelta PartKind = "thinking_delta"
	PartThinkingEnd   PartKind = "thinking_end"
	PartToolCallStart PartKind = "tool_call_start"
	PartToolCallDelta PartKind = "tool_call_delta"
	PartToolCallEnd   PartKind = "tool_call_end"
	PartToolResult    PartKind = "tool_result"
	PartMetadata      PartKind = "metadata"
	PartFinish        PartKind = "finish"
	PartError         PartKind = "error"
)

// Part is one element of the flat, ordered sequence RunStream yields.
//
// Parts are well nested: every Start has exactly one matching End before the
// next Start of a different kind, End parts carry the accumulated value, and
// PartFinish or PartError is always terminal for the loop.
type Part struct {
	Kind PartKind

	// PartTextDelta / PartThinkingDelta: the increment.
	// PartTextEnd / PartThinkingEnd: the accumulated block value.
	Text string

	// PartToolCallStart / PartToolCallDelta: snapshot of the call so far.
	ToolCall *ToolCall
	// PartToolCallEnd and PartToolResult reference the call by id.
	ToolCallID string

	// PartToolResult: exactly one per executed call, in original call order.
	Result *ToolResult

	// PartMetadata: provider metadata from the step's terminal event.
	Metadata map[string]json.RawMessage

	// PartFinish: the final per-step response, raw text and thinking included.
	Response *Response

	// PartError: the loop-structural failure that ended the stream.
	Err error
}
