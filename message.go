package agentloop

import (
	"encoding/json"
	"maps"
)

// Role constants for conversation messages.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleTool      = "tool"
)

// Message is a single conversation entry. Assistant messages may carry tool
// calls; tool messages carry the results for one step.
//
// Extensions is an opaque provider bag replayed verbatim on the next step
// (e.g. a vendor reasoning block that must round-trip unmodified). The loop
// never parses it, only copies it.
type Message struct {
	Role        string                     `json:"role"`
	Content     string                     `json:"content,omitempty"`
	Thinking    string                     `json:"thinking,omitempty"`
	ToolCalls   []ToolCall                 `json:"tool_calls,omitempty"`
	ToolResults []ToolResult               `json:"tool_results,omitempty"`
	Extensions  map[string]json.RawMessage `json:"extensions,omitempty"`
}

// SystemMessage builds a system-role message.
func SystemMessage(content string) Message {
	return Message{Role: RoleSystem, Content: content}
}

// UserMessage builds a user-role message.
func UserMessage(content string) Message {
	return Message{Role: RoleUser, Content: content}
}

// ToolResultMessage builds the single tool-role message aggregating the
// results of one step, in original call order. Use it when resuming a blocked
// loop with externally computed results.
func ToolResultMessage(results ...ToolResult) Message {
	return Message{Role: RoleTool, ToolResults: results}
}

// clone returns a copy that shares no mutable state with m. Extension values
// are raw JSON and treated as immutable, so only the map itself is copied.
func (m Message) clone() Message {
	out := m
	if m.ToolCalls != nil {
		out.ToolCalls = append([]ToolCall(nil), m.ToolCalls...)
	}
	if m.ToolResults != nil {
		out.ToolResults = append([]ToolResult(nil), m.ToolResults...)
	}
	if m.Extensions != nil {
		out.Extensions = maps.Clone(m.Extensions)
	}
	return out
}

// cloneMessages deep-copies a history slice for immutable snapshots.
func cloneMessages(msgs []Message) []Message {
	if msgs == nil {
		return nil
	}
	out := make([]Message, len(msgs))
	for i, m := range msgs {
		out[i] = m.clone()
	}
	return out
}
