package agentloop

import "encoding/json"

// ToolCallKind is the only call kind model backends currently produce.
const ToolCallKindFunction = "function"

// ToolCall is a model-requested invocation of a caller-supplied function.
// Identity is ID: two stream fragments sharing an ID denote the same call.
type ToolCall struct {
	ID       string       `json:"id"`
	Kind     string       `json:"type"` // always ToolCallKindFunction
	Function FunctionCall `json:"function"`
}

// FunctionCall names the function and carries its JSON-encoded arguments.
// Arguments may be a partial JSON prefix while streaming; it must be complete
// valid JSON once aggregation finishes. A malformed final payload surfaces as
// an error-flagged ToolResult at execution time, not during aggregation.
type FunctionCall struct {
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
}

// ToolResult is the outcome of executing one tool call. Content is always
// JSON-encoded; when IsError is true it is an {"error": "..."} payload.
type ToolResult struct {
	ToolCallID string `json:"tool_call_id"`
	ToolName   string `json:"tool_name"`
	Content    string `json:"content"`
	IsError    bool   `json:"is_error,omitempty"`
}

// ToolSchema describes one tool for the model's function-calling protocol.
// Parameters is a JSON Schema; the loop passes it to the provider opaquely.
type ToolSchema struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Parameters  map[string]any `json:"parameters"`
}

// Usage tracks token consumption for one provider call.
type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// Request is the input to one loop invocation: the conversation so far plus
// the tool catalog shown to the model. Tools may be nil when the executor's
// schemas should be used (see Loop).
type Request struct {
	Messages []Message
	Tools    []ToolSchema
}

// Response is one complete provider step: final text, optional thinking,
// requested tool calls, token usage, and provider metadata.
//
// Providers that need verbatim replay of vendor continuity data (reasoning
// signatures etc.) set Message; the loop then persists that message unmodified
// instead of synthesizing one from Text and ToolCalls.
type Response struct {
	Text             string
	Thinking         string
	ToolCalls        []ToolCall
	Usage            Usage
	ProviderMetadata map[string]json.RawMessage
	Message          *Message
}
