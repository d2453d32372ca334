package agentloop

import (
	"errors"
	"fmt"
)

// Sentinel errors for agentloop. Use errors.Is to check.
var (
	ErrMaxSteps         = errors.New("max steps exceeded with pending tool calls")
	ErrApprovalRequired = errors.New("tool calls require approval")
	ErrResponseFormat   = errors.New("response text contains no recoverable JSON")
	ErrStructuredOutput = errors.New("structured output does not match schema")
	ErrStreamAborted    = errors.New("stream aborted by consumer")
	ErrShutdown         = errors.New("executor is shutting down")
)

// ApprovalRequiredError is returned by the run-to-completion entry point when
// one or more tool calls need approval. State is an immutable snapshot; the
// caller may persist it, execute the pending calls externally, append a
// tool-result message, and re-invoke the loop (see Loop.Run).
// The streaming entry point yields a PartError wrapping this error instead.
type ApprovalRequiredError struct {
	State *LoopState
}

func (e *ApprovalRequiredError) Error() string {
	n := 0
	if e.State != nil {
		n = len(e.State.NeedsApproval)
	}
	return fmt.Sprintf("%d tool call(s) require approval", n)
}

// Unwrap supports errors.Is(err, ErrApprovalRequired).
func (e *ApprovalRequiredError) Unwrap() error { return ErrApprovalRequired }

// MaxStepsError reports step-budget exhaustion while tool calls were still
// pending. Messages preserves the history accumulated so far for diagnostics.
type MaxStepsError struct {
	Steps    int
	Messages []Message
}

func (e *MaxStepsError) Error() string {
	return fmt.Sprintf("loop did not finish within %d step(s)", e.Steps)
}

func (e *MaxStepsError) Unwrap() error { return ErrMaxSteps }

// FormatError reports that model text carried no parseable JSON at all
// (direct, fenced, or balanced-substring). Retrying the model call is the
// caller's decision.
type FormatError struct {
	Text string // the offending text, for diagnostics
}

func (e *FormatError) Error() string {
	return "response is not JSON-bearing"
}

func (e *FormatError) Unwrap() error { return ErrResponseFormat }

// OutputError reports JSON that parsed but does not satisfy the declared
// output schema. Distinct from FormatError: the text was JSON, the shape was
// wrong.
type OutputError struct {
	Reason string
}

func (e *OutputError) Error() string {
	return "invalid structured output: " + e.Reason
}

func (e *OutputError) Unwrap() error { return ErrStructuredOutput }

// IsApprovalRequired reports whether err is or wraps an ApprovalRequiredError.
func IsApprovalRequired(err error) bool {
	var ae *ApprovalRequiredError
	return errors.As(err, &ae)
}

// wrapYieldError marks a consumer-side yield failure so callers can
// distinguish it from loop failures with errors.Is(err, ErrStreamAborted).
func wrapYieldError(err error) error {
	if errors.Is(err, ErrStreamAborted) {
		return err
	}
	return fmt.Errorf("%w: %w", ErrStreamAborted, err)
}

// wrapJSONParseError formats a JSON unmarshal failure for the error payload
// sent back to the model, consistently across executor and extractor.
func wrapJSONParseError(err error) error {
	return fmt.Errorf("json parse error: %w", err)
}

// panicError wraps a recovered panic value; used by Executor and WithRecovery.
type panicError struct{ p any }

func (e *panicError) Error() string {
	return "panic: " + fmt.Sprint(e.p)
}
