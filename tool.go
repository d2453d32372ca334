package agentloop

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"

	santhosh "github.com/santhosh-tekuri/jsonschema/v6"
)

// NewTool builds a Tool from a typed function. The argument schema is
// generated from T by reflection; incoming JSON is schema-validated and,
// when T implements Validatable, business-validated before fn runs.
// Validation failures surface as model-facing errors so the model can
// self-correct. Returns an error if schema generation fails (e.g. an
// unsupported type).
func NewTool[T any, R any](
	name, description string,
	fn func(ctx context.Context, args T) (R, error),
	opts ...ToolOption,
) (Tool, error) {
	var o toolOptions
	for _, opt := range opts {
		opt(&o)
	}
	schemaMap, compiled, err := generateSchema[T](o.strict)
	if err != nil {
		return Tool{}, err
	}
	handler := func(ctx context.Context, argsJSON json.RawMessage) (any, error) {
		v, err := santhosh.UnmarshalJSON(bytes.NewReader(argsJSON))
		if err != nil {
			return nil, wrapJSONParseError(err)
		}
		if err := validateArgs(compiled, v); err != nil {
			return nil, err
		}
		var args T
		if err := json.Unmarshal(argsJSON, &args); err != nil {
			return nil, wrapJSONParseError(err)
		}
		if err := runCustomValidation(args); err != nil {
			return nil, fmt.Errorf("invalid tool input: %s", err)
		}
		return fn(ctx, args)
	}
	return Tool{
		Schema: ToolSchema{
			Name:        name,
			Description: description,
			Parameters:  schemaMap,
		},
		Handler: handler,
	}, nil
}

// NewDynamicTool creates a Tool from a raw JSON Schema map and an untyped
// handler that receives schema-validated JSON. Useful for runtime API
// integration (e.g. OpenAPI). The provided schemaMap is deep-copied before
// any modification so the caller's map is never mutated.
func NewDynamicTool(
	name, description string,
	schemaMap map[string]any,
	fn Handler,
	opts ...ToolOption,
) (Tool, error) {
	var o toolOptions
	for _, opt := range opts {
		opt(&o)
	}
	if schemaMap == nil {
		return Tool{}, fmt.Errorf("dynamic schema map must not be nil")
	}
	if fn == nil {
		return Tool{}, fmt.Errorf("dynamic tool handler must not be nil")
	}
	data, err := json.Marshal(schemaMap)
	if err != nil {
		return Tool{}, fmt.Errorf("failed to deep copy schema map: %w", err)
	}
	var schemaCopy map[string]any
	if err := json.Unmarshal(data, &schemaCopy); err != nil {
		return Tool{}, fmt.Errorf("failed to deep copy schema map: %w", err)
	}
	if o.strict {
		applyStrictMode(schemaCopy)
	}
	stripSchemaIDs(schemaCopy)
	compiled, err := compileRawSchema(schemaCopy)
	if err != nil {
		return Tool{}, fmt.Errorf("failed to compile dynamic schema: %w", err)
	}
	handler := func(ctx context.Context, argsJSON json.RawMessage) (any, error) {
		v, err := santhosh.UnmarshalJSON(bytes.NewReader(argsJSON))
		if err != nil {
			return nil, wrapJSONParseError(err)
		}
		if err := validateArgs(compiled, v); err != nil {
			return nil, err
		}
		return fn(ctx, argsJSON)
	}
	return Tool{
		Schema: ToolSchema{
			Name:        name,
			Description: description,
			Parameters:  schemaCopy,
		},
		Handler: handler,
	}, nil
}

// runCustomValidation runs Validatable.Validate on args; if args does not
// implement Validatable, it tries &args for value types (pointer receiver).
// Never calls Validate twice for the same receiver.
func runCustomValidation[T any](args T) error {
	if err := validateCustom(any(args)); err != nil {
		return err
	}
	if _, ok := any(args).(Validatable); ok {
		return nil
	}
	return validateCustom(any(&args))
}
