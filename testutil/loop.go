package testutil

import (
	"context"
	"encoding/json"

	"github.com/skosovsky/agentloop"
)

// NewTestExecutor returns an Executor preloaded with the given tools.
func NewTestExecutor(tools ...agentloop.Tool) *agentloop.Executor {
	exec := agentloop.NewExecutor()
	for _, t := range tools {
		exec.Register(t)
	}
	return exec
}

// EchoTool returns a tool that echoes its raw arguments back as the result,
// handy for asserting what the model sent.
func EchoTool(name string) agentloop.Tool {
	return agentloop.Tool{
		Schema: agentloop.ToolSchema{
			Name:        name,
			Description: "echoes arguments",
			Parameters:  map[string]any{"type": "object"},
		},
		Handler: func(_ context.Context, args json.RawMessage) (any, error) {
			return json.RawMessage(args), nil
		},
	}
}

// FunctionCall builds a complete tool call for scripting mock responses.
func FunctionCall(id, name, arguments string) agentloop.ToolCall {
	return agentloop.ToolCall{
		ID:   id,
		Kind: agentloop.ToolCallKindFunction,
		Function: agentloop.FunctionCall{
			Name:      name,
			Arguments: arguments,
		},
	}
}
