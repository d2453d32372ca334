package agentloop

import "context"

// Provider is the boundary to one LLM backend. Implementations own transport,
// authentication, and vendor field mapping; the loop only sees Request and
// Response values.
type Provider interface {
	// Complete sends the conversation and returns one full response.
	Complete(ctx context.Context, req Request) (*Response, error)
}

// StreamingProvider extends Provider with incremental delivery. The loop
// checks for it once per streaming invocation, not per call.
type StreamingProvider interface {
	Provider
	// Stream opens one model step as a pull-based event sequence.
	Stream(ctx context.Context, req Request) (Stream, error)
}

// Stream yields events for one model step. Recv returns io.EOF after the
// terminal completion or error event; Close releases the underlying transport
// and is safe to call more than once.
type Stream interface {
	Recv() (StreamEvent, error)
	Close() error
}

// EventKind identifies a streaming event.
type EventKind string

const (
	EventTextDelta     EventKind = "text_delta"
	EventThinkingDelta EventKind = "thinking_delta"
	EventToolCallDelta EventKind = "tool_call_delta"
	// EventToolCallEnd marks one call's fragments as complete. Optional:
	// the step's completion event finishes any still-open calls.
	EventToolCallEnd EventKind = "tool_call_end"
	// EventCompletion is terminal and carries the step's full Response.
	EventCompletion EventKind = "completion"
	// EventError is terminal and replaces EventCompletion on failure.
	EventError EventKind = "error"
)

// StreamEvent is a provider-neutral streaming event. Exactly one payload
// field is meaningful per Kind.
type StreamEvent struct {
	Kind EventKind

	TextDelta     string
	ThinkingDelta string
	ToolCallDelta *ToolCallDelta
	ToolCallID    string // EventToolCallEnd
	Response      *Response
	Err           error
}

// ToolCallDelta is one fragment of a streamed tool call. ID and Name may be
// empty on continuation fragments; Index disambiguates fragments that never
// carry an ID (positional protocols).
type ToolCallDelta struct {
	Index     int
	ID        string
	Name      string
	Arguments string // argument fragment, concatenated in arrival order
}
