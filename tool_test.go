package agentloop

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type weatherArgs struct {
	City string `json:"city" description:"City name"`
	Unit string `json:"unit,omitempty" enum:"C,F"`
	Days int    `json:"days,omitempty"`
}

func TestNewTool_SchemaFromType(t *testing.T) {
	t.Parallel()
	tool, err := NewTool("weather", "Looks up the forecast",
		func(_ context.Context, args weatherArgs) (string, error) {
			return "sunny in " + args.City, nil
		})
	require.NoError(t, err)

	assert.Equal(t, "weather", tool.Schema.Name)
	assert.Equal(t, "Looks up the forecast", tool.Schema.Description)
	assert.Equal(t, "object", tool.Schema.Parameters["type"])

	props, ok := tool.Schema.Parameters["properties"].(map[string]any)
	require.True(t, ok)
	city, ok := props["city"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "string", city["type"])
	assert.Equal(t, "City name", city["description"])

	unit, ok := props["unit"].(map[string]any)
	require.True(t, ok)
	assert.ElementsMatch(t, []any{"C", "F"}, unit["enum"])
}

func TestNewTool_InvokesTypedFunction(t *testing.T) {
	t.Parallel()
	tool, err := NewTool("weather", "forecast",
		func(_ context.Context, args weatherArgs) (string, error) {
			return "sunny in " + args.City, nil
		})
	require.NoError(t, err)

	out, err := tool.Handler(context.Background(), json.RawMessage(`{"city":"Oslo"}`))
	require.NoError(t, err)
	assert.Equal(t, "sunny in Oslo", out)
}

func TestNewTool_RejectsWrongArgumentType(t *testing.T) {
	t.Parallel()
	tool, err := NewTool("weather", "forecast",
		func(_ context.Context, args weatherArgs) (string, error) {
			return args.City, nil
		})
	require.NoError(t, err)

	_, err = tool.Handler(context.Background(), json.RawMessage(`{"city":5}`))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid tool input")
}

func TestNewTool_RejectsEnumViolation(t *testing.T) {
	t.Parallel()
	tool, err := NewTool("weather", "forecast",
		func(_ context.Context, args weatherArgs) (string, error) {
			return args.Unit, nil
		})
	require.NoError(t, err)

	_, err = tool.Handler(context.Background(), json.RawMessage(`{"city":"Oslo","unit":"K"}`))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid tool input")
}

type boundedArgs struct {
	Low  int `json:"low"`
	High int `json:"high"`
}

func (a boundedArgs) Validate() error {
	if a.Low > a.High {
		return errors.New("low must not exceed high")
	}
	return nil
}

func TestNewTool_RunsCustomValidation(t *testing.T) {
	t.Parallel()
	tool, err := NewTool("range", "range check",
		func(_ context.Context, args boundedArgs) (int, error) {
			return args.High - args.Low, nil
		})
	require.NoError(t, err)

	out, err := tool.Handler(context.Background(), json.RawMessage(`{"low":1,"high":3}`))
	require.NoError(t, err)
	assert.Equal(t, 2, out)

	_, err = tool.Handler(context.Background(), json.RawMessage(`{"low":9,"high":3}`))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "low must not exceed high")
}

type ptrValidatedArgs struct {
	Name string `json:"name"`
}

func (a *ptrValidatedArgs) Validate() error {
	if a.Name == "" {
		return errors.New("name must not be empty")
	}
	return nil
}

func TestNewTool_CustomValidationPointerReceiver(t *testing.T) {
	t.Parallel()
	tool, err := NewTool("named", "named thing",
		func(_ context.Context, args ptrValidatedArgs) (string, error) {
			return args.Name, nil
		})
	require.NoError(t, err)

	_, err = tool.Handler(context.Background(), json.RawMessage(`{"name":""}`))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "name must not be empty")
}

func TestNewTool_StrictSchema(t *testing.T) {
	t.Parallel()
	tool, err := NewTool("weather", "forecast",
		func(_ context.Context, args weatherArgs) (string, error) {
			return args.City, nil
		}, WithStrict())
	require.NoError(t, err)

	assert.Equal(t, false, tool.Schema.Parameters["additionalProperties"])
	required, ok := tool.Schema.Parameters["required"].([]any)
	require.True(t, ok)
	// Strict mode requires every property, sorted.
	assert.Equal(t, []any{"city", "days", "unit"}, required)
}

func TestNewDynamicTool_ValidatesAgainstRawSchema(t *testing.T) {
	t.Parallel()
	schema := map[string]any{
		"type": "object",
		"properties": map[string]any{
			"query": map[string]any{"type": "string"},
		},
		"required": []any{"query"},
	}
	tool, err := NewDynamicTool("search", "runs a search", schema,
		func(_ context.Context, args json.RawMessage) (any, error) {
			return string(args), nil
		})
	require.NoError(t, err)

	out, err := tool.Handler(context.Background(), json.RawMessage(`{"query":"go"}`))
	require.NoError(t, err)
	assert.JSONEq(t, `{"query":"go"}`, out.(string))

	_, err = tool.Handler(context.Background(), json.RawMessage(`{}`))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid tool input")
}

func TestNewDynamicTool_DoesNotMutateCallerSchema(t *testing.T) {
	t.Parallel()
	schema := map[string]any{
		"type": "object",
		"properties": map[string]any{
			"query": map[string]any{"type": "string"},
		},
	}
	_, err := NewDynamicTool("search", "runs a search", schema,
		func(_ context.Context, args json.RawMessage) (any, error) {
			return nil, nil
		}, WithStrict())
	require.NoError(t, err)

	_, mutated := schema["additionalProperties"]
	assert.False(t, mutated)
	assert.NotContains(t, schema, "required")
}

func TestNewDynamicTool_RejectsNilInputs(t *testing.T) {
	t.Parallel()
	handler := func(context.Context, json.RawMessage) (any, error) { return nil, nil }

	_, err := NewDynamicTool("x", "d", nil, handler)
	require.Error(t, err)

	_, err = NewDynamicTool("x", "d", map[string]any{"type": "object"}, nil)
	require.Error(t, err)
}
