package agentloop

import (
	"context"
	"encoding/json"
	"maps"
	"strings"

	santhosh "github.com/santhosh-tekuri/jsonschema/v6"
)

// OutputSpec declares the shape of a structured final answer: a name and
// description shown to the model, the JSON Schema generated from T, and the
// decode step into T. Decoding never runs unless the recovered value
// structurally satisfies the schema.
type OutputSpec[T any] struct {
	name        string
	description string
	schemaMap   map[string]any
	compiled    *santhosh.Schema
}

// NewOutputSpec creates an OutputSpec for type T. When strict is true, the
// generated schema has additionalProperties: false and all properties required
// for every object (OpenAI Structured Outputs).
func NewOutputSpec[T any](name, description string, strict bool) (*OutputSpec[T], error) {
	schemaMap, compiled, err := generateSchema[T](strict)
	if err != nil {
		return nil, err
	}
	return &OutputSpec[T]{
		name:        name,
		description: description,
		schemaMap:   schemaMap,
		compiled:    compiled,
	}, nil
}

// Name returns the spec's name.
func (s *OutputSpec[T]) Name() string { return s.name }

// Description returns the spec's description.
func (s *OutputSpec[T]) Description() string { return s.description }

// Schema returns a shallow copy of the JSON Schema (top-level keys only).
// Nested maps are shared; callers must not mutate them.
func (s *OutputSpec[T]) Schema() map[string]any {
	return maps.Clone(s.schemaMap)
}

// Decode validates raw JSON against the schema and unmarshals it into T.
// Shape mismatches return OutputError.
func (s *OutputSpec[T]) Decode(data []byte) (T, error) {
	var zero T
	v, err := santhosh.UnmarshalJSON(strings.NewReader(string(data)))
	if err != nil {
		return zero, wrapJSONParseError(err)
	}
	if err := validateOutput(s.compiled, v); err != nil {
		return zero, err
	}
	var out T
	if err := json.Unmarshal(data, &out); err != nil {
		return zero, wrapJSONParseError(err)
	}
	if err := validateCustom(out); err != nil {
		return zero, &OutputError{Reason: err.Error()}
	}
	return out, nil
}

// Extract recovers a schema-conformant T from free-form model text.
//
// JSON is recovered by the first strategy that succeeds: the text parsed
// directly, the interior of a ```json fenced block, or the first balanced
// {...} substring (braces inside string literals ignored). If none yields
// JSON, Extract returns FormatError; if JSON is recovered but its shape does
// not satisfy the spec, it returns OutputError.
func Extract[T any](text string, spec *OutputSpec[T]) (T, error) {
	raw, ok := recoverJSON(text)
	if !ok {
		var zero T
		return zero, &FormatError{Text: text}
	}
	return spec.Decode(raw)
}

// recoverJSON finds the JSON payload inside text, trying direct parse, fenced
// block, then balanced-object scan.
func recoverJSON(text string) ([]byte, bool) {
	trimmed := strings.TrimSpace(text)
	if json.Valid([]byte(trimmed)) && trimmed != "" {
		return []byte(trimmed), true
	}
	if inner, ok := fencedJSON(text); ok {
		return inner, true
	}
	if obj, ok := balancedObject(text); ok {
		return obj, true
	}
	return nil, false
}

// fencedJSON returns the interior of the first ```json ... ``` block, when it
// parses as JSON.
func fencedJSON(text string) ([]byte, bool) {
	const fence = "```json"
	start := strings.Index(text, fence)
	if start < 0 {
		return nil, false
	}
	rest := text[start+len(fence):]
	end := strings.Index(rest, "```")
	if end < 0 {
		return nil, false
	}
	inner := strings.TrimSpace(rest[:end])
	if inner == "" || !json.Valid([]byte(inner)) {
		return nil, false
	}
	return []byte(inner), true
}

// balancedObject scans left to right for the first substring forming a
// syntactically complete JSON object. Nesting depth of braces is tracked
// while respecting string-literal boundaries, so braces inside quoted strings
// do not affect depth. A balanced candidate that still fails to parse is
// skipped and the scan continues from the next opening brace.
func balancedObject(text string) ([]byte, bool) {
	for from := 0; from < len(text); {
		start := strings.IndexByte(text[from:], '{')
		if start < 0 {
			return nil, false
		}
		start += from
		depth := 0
		inString := false
		escaped := false
		for i := start; i < len(text); i++ {
			c := text[i]
			if inString {
				switch {
				case escaped:
					escaped = false
				case c == '\\':
					escaped = true
				case c == '"':
					inString = false
				}
				continue
			}
			switch c {
			case '"':
				inString = true
			case '{':
				depth++
			case '}':
				depth--
				if depth == 0 {
					candidate := text[start : i+1]
					if json.Valid([]byte(candidate)) {
						return []byte(candidate), true
					}
					i = len(text) // abandon this start position
				}
			}
		}
		from = start + 1
	}
	return nil, false
}

// OutputAccumulator buffers streamed text for deferred extraction. Feed every
// text delta with Write; if the stream produced no deltas but its completion
// carried text, set that with SetFallback. Extraction runs once, on the full
// accumulated text, after the stream reaches its terminal event.
type OutputAccumulator struct {
	buf      strings.Builder
	fallback string
}

// Write appends one text delta.
func (a *OutputAccumulator) Write(delta string) {
	a.buf.WriteString(delta)
}

// SetFallback records the completion's final text, used only when no deltas
// were written.
func (a *OutputAccumulator) SetFallback(text string) {
	a.fallback = text
}

// Text returns the accumulated deltas, or the fallback when no delta arrived.
func (a *OutputAccumulator) Text() string {
	if a.buf.Len() > 0 {
		return a.buf.String()
	}
	return a.fallback
}

// ExtractAccumulated runs Extract on the accumulator's final text.
func ExtractAccumulated[T any](a *OutputAccumulator, spec *OutputSpec[T]) (T, error) {
	return Extract(a.Text(), spec)
}

// RunStructured drives the loop and extracts a schema-conformant T from the
// final answer. Text deltas are buffered as they arrive; the buffer resets
// after each tool round so only the final step's text is extracted, and the
// finish response's text serves as fallback when the final step streamed no
// deltas. Extraction runs exactly once, after the loop terminates.
func RunStructured[T any](ctx context.Context, l *Loop, req Request, spec *OutputSpec[T]) (T, error) {
	var zero T
	var acc OutputAccumulator
	err := l.RunStream(ctx, req, func(p Part) error {
		switch p.Kind {
		case PartTextDelta:
			acc.Write(p.Text)
		case PartToolResult:
			acc = OutputAccumulator{}
		case PartFinish:
			if p.Response != nil {
				acc.SetFallback(p.Response.Text)
			}
		}
		return nil
	})
	if err != nil {
		return zero, err
	}
	return ExtractAccumulated(&acc, spec)
}
