package agentloop

import "fmt"

// Validatable is implemented by argument or output structs that need custom
// business validation. Called after schema validation and unmarshaling.
type Validatable interface {
	Validate() error
}

// schemaValidator validates a JSON-like value (e.g. the result of
// json.Unmarshal into any). *santhosh.Schema implements it.
type schemaValidator interface {
	Validate(v any) error
}

// validateArgs runs schema validation on already-parsed tool arguments.
// The returned error text is model-facing so the model can self-correct;
// it never carries internal details.
func validateArgs(validate schemaValidator, v any) error {
	if err := validate.Validate(v); err != nil {
		return fmt.Errorf("invalid tool input: %s", err)
	}
	return nil
}

// validateOutput runs schema validation on an already-parsed structured output
// value. Shape mismatches become OutputError, distinct from FormatError.
func validateOutput(validate schemaValidator, v any) error {
	if err := validate.Validate(v); err != nil {
		return &OutputError{Reason: err.Error()}
	}
	return nil
}

// validateCustom runs Validatable.Validate if v implements it.
func validateCustom(v any) error {
	if va, ok := v.(Validatable); ok {
		return va.Validate()
	}
	return nil
}
