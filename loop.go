package agentloop

import (
	"context"
	"errors"
	"io"
	"log/slog"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// defaultMaxSteps bounds loop invocations whose caller set no budget.
const defaultMaxSteps = 10

// LoopStatus is the terminal state of one loop invocation.
type LoopStatus string

const (
	// StatusFinished: the model produced a final response with no tool calls.
	StatusFinished LoopStatus = "finished"
	// StatusBlocked: one or more tool calls require approval and were not
	// executed. The invocation can be resumed externally (see LoopState).
	StatusBlocked LoopStatus = "blocked"
)

// LoopState is the immutable snapshot surfaced when a loop blocks for
// approval. Messages already contains the assistant tool-use message but no
// tool-result message for the blocked calls. To resume: execute the pending
// calls (Executor.Execute or externally), append ToolResultMessage to
// Messages, and re-invoke the loop with the extended history; the loop
// treats a manual resume identically to an internal one.
type LoopState struct {
	Messages         []Message
	PendingToolCalls []ToolCall
	NeedsApproval    []ToolCall
	Step             int
}

// Outcome is the result of RunUntilBlocked: either a finished response or a
// blocked state, never an error for the approval case.
type Outcome struct {
	Status   LoopStatus
	Response *Response  // set when finished
	State    *LoopState // set when blocked
	Messages []Message  // full history including the final assistant message
	Usage    Usage      // summed across steps
	Steps    int
}

// Result is the outcome of a finished Run.
type Result struct {
	Response *Response
	Messages []Message
	Usage    Usage
	Steps    int
}

// Loop drives the multi-step tool-calling cycle against one Provider. A Loop
// is stateless across invocations and safe for concurrent use; all mutable
// state lives in the invocation.
type Loop struct {
	provider Provider
	exec     *Executor
	gates    gateSet
	maxSteps int
	logger   *slog.Logger
	tracer   trace.Tracer
}

// NewLoop creates a Loop. exec supplies both the tool catalog (when the
// Request carries none) and the handlers; pass nil for a loop that only ever
// resumes externally executed histories.
func NewLoop(provider Provider, exec *Executor, opts ...LoopOption) *Loop {
	o := loopOptions{maxSteps: defaultMaxSteps}
	for _, opt := range opts {
		opt(&o)
	}
	if o.maxSteps <= 0 {
		o.maxSteps = defaultMaxSteps
	}
	if o.logger == nil {
		o.logger = slog.Default()
	}
	if o.tracer == nil {
		o.tracer = noopTracer
	}
	return &Loop{
		provider: provider,
		exec:     exec,
		gates:    gateSet{global: o.gate, perTool: o.perTool},
		maxSteps: o.maxSteps,
		logger:   o.logger,
		tracer:   o.tracer,
	}
}

// Run drives the loop to completion. A blocked loop is an error here:
// *ApprovalRequiredError carrying the resumable LoopState. Step exhaustion
// returns *MaxStepsError with the accumulated history.
func (l *Loop) Run(ctx context.Context, req Request) (*Result, error) {
	outcome, err := l.run(ctx, req, l.completeStep, nil)
	if err != nil {
		return nil, err
	}
	if outcome.Status == StatusBlocked {
		return nil, &ApprovalRequiredError{State: outcome.State}
	}
	return &Result{
		Response: outcome.Response,
		Messages: outcome.Messages,
		Usage:    outcome.Usage,
		Steps:    outcome.Steps,
	}, nil
}

// RunUntilBlocked drives the loop until it finishes or blocks for approval.
// Blocking is a normal outcome, not an error.
func (l *Loop) RunUntilBlocked(ctx context.Context, req Request) (*Outcome, error) {
	return l.run(ctx, req, l.completeStep, nil)
}

// RunStream drives the loop while yielding Parts for live consumption. When
// the provider implements StreamingProvider the model's deltas are forwarded
// as they arrive; otherwise each step degrades to one Complete call rendered
// as a single text block. The sequence always terminates with exactly one
// PartFinish or PartError. If yield returns an error, the loop stops and
// RunStream returns it wrapped as ErrStreamAborted.
func (l *Loop) RunStream(ctx context.Context, req Request, yield func(Part) error) error {
	step := l.completeStreamStep(yield)
	if sp, ok := l.provider.(StreamingProvider); ok {
		step = l.streamStep(sp, yield)
	}
	outcome, err := l.run(ctx, req, step, yield)
	switch {
	case errors.Is(err, ErrStreamAborted):
		return err
	case err != nil:
		if yerr := yield(Part{Kind: PartError, Err: err}); yerr != nil {
			return wrapYieldError(yerr)
		}
		return err
	case outcome.Status == StatusBlocked:
		err = &ApprovalRequiredError{State: outcome.State}
		if yerr := yield(Part{Kind: PartError, Err: err}); yerr != nil {
			return wrapYieldError(yerr)
		}
		return err
	default:
		if yerr := yield(Part{Kind: PartFinish, Response: outcome.Response}); yerr != nil {
			return wrapYieldError(yerr)
		}
		return nil
	}
}

// stepFunc produces one model step for the current history.
type stepFunc func(ctx context.Context, req Request, step int) (*Response, error)

// run is the state machine shared by all entry points. emit is non-nil only
// for the streaming entry point and receives tool-result parts.
func (l *Loop) run(ctx context.Context, req Request, next stepFunc, emit func(Part) error) (*Outcome, error) {
	messages := cloneMessages(req.Messages)
	tools := req.Tools
	if tools == nil && l.exec != nil {
		tools = l.exec.Schemas()
	}
	var usage Usage

	for step := 0; ; step++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		resp, err := next(ctx, Request{Messages: messages, Tools: tools}, step)
		if err != nil {
			return nil, err
		}
		usage.PromptTokens += resp.Usage.PromptTokens
		usage.CompletionTokens += resp.Usage.CompletionTokens
		usage.TotalTokens += resp.Usage.TotalTokens

		l.logger.Debug("model response",
			"step", step,
			"tool_calls", len(resp.ToolCalls),
			"tokens", resp.Usage.TotalTokens,
		)

		if len(resp.ToolCalls) == 0 {
			messages = append(messages, assistantMessage(resp))
			return &Outcome{
				Status:   StatusFinished,
				Response: resp,
				Messages: messages,
				Usage:    usage,
				Steps:    step + 1,
			}, nil
		}

		toExecute, needsApproval := l.partition(ctx, resp.ToolCalls, messages, step)
		messages = append(messages, assistantMessage(resp))

		if len(needsApproval) > 0 {
			state := &LoopState{
				Messages:         cloneMessages(messages),
				PendingToolCalls: append([]ToolCall(nil), resp.ToolCalls...),
				NeedsApproval:    needsApproval,
				Step:             step,
			}
			return &Outcome{
				Status:   StatusBlocked,
				Response: resp,
				State:    state,
				Messages: messages,
				Usage:    usage,
				Steps:    step + 1,
			}, nil
		}

		results, err := l.executeStep(ctx, toExecute, step)
		if err != nil {
			return nil, err
		}
		if emit != nil {
			for i := range results {
				part := Part{
					Kind:       PartToolResult,
					ToolCallID: results[i].ToolCallID,
					Result:     &results[i],
				}
				if err := emit(part); err != nil {
					return nil, wrapYieldError(err)
				}
			}
		}
		messages = append(messages, ToolResultMessage(results...))

		if step+1 >= l.maxSteps {
			return nil, &MaxStepsError{Steps: l.maxSteps, Messages: messages}
		}
	}
}

// partition splits a step's calls by the approval gates, preserving call
// order within each group. With no gate configured nothing needs approval.
func (l *Loop) partition(ctx context.Context, calls []ToolCall, messages []Message, step int) (toExecute, needsApproval []ToolCall) {
	if l.gates.empty() {
		return calls, nil
	}
	for _, call := range calls {
		if l.gates.needsApproval(ctx, call, messages, step) {
			needsApproval = append(needsApproval, call)
		} else {
			toExecute = append(toExecute, call)
		}
	}
	return toExecute, needsApproval
}

// executeStep runs one step's calls through the Executor under a span.
func (l *Loop) executeStep(ctx context.Context, calls []ToolCall, step int) ([]ToolResult, error) {
	if l.exec == nil {
		// No executor: every call fails in place instead of aborting the step.
		results := make([]ToolResult, len(calls))
		for i, call := range calls {
			results[i] = errorResult(call, errors.New("no tool executor configured"))
		}
		return results, nil
	}
	ctx, span := startSpan(ctx, l.tracer, "loop.tools",
		attribute.Int("step", step),
		attribute.Int("tool_count", len(calls)),
	)
	results, err := l.exec.ExecuteAll(ctx, calls)
	endSpan(span, err)
	return results, err
}

// completeStep is the non-streaming stepFunc.
func (l *Loop) completeStep(ctx context.Context, req Request, step int) (*Response, error) {
	ctx, span := startSpan(ctx, l.tracer, "loop.step", attribute.Int("step", step))
	resp, err := l.provider.Complete(ctx, req)
	endSpan(span, err)
	return resp, err
}

// completeStreamStep adapts a non-streaming provider to the part protocol:
// the full response renders as one text block (and one thinking block when
// present) per step.
func (l *Loop) completeStreamStep(yield func(Part) error) stepFunc {
	return func(ctx context.Context, req Request, step int) (*Response, error) {
		resp, err := l.completeStep(ctx, req, step)
		if err != nil {
			return nil, err
		}
		if resp.Thinking != "" {
			parts := []Part{
				{Kind: PartThinkingStart},
				{Kind: PartThinkingDelta, Text: resp.Thinking},
				{Kind: PartThinkingEnd, Text: resp.Thinking},
			}
			for _, p := range parts {
				if err := yield(p); err != nil {
					return nil, wrapYieldError(err)
				}
			}
		}
		if resp.Text != "" {
			parts := []Part{
				{Kind: PartTextStart},
				{Kind: PartTextDelta, Text: resp.Text},
				{Kind: PartTextEnd, Text: resp.Text},
			}
			for _, p := range parts {
				if err := yield(p); err != nil {
					return nil, wrapYieldError(err)
				}
			}
		}
		if len(resp.ProviderMetadata) > 0 {
			if err := yield(Part{Kind: PartMetadata, Metadata: resp.ProviderMetadata}); err != nil {
				return nil, wrapYieldError(err)
			}
		}
		return resp, nil
	}
}

// streamStep is the streaming stepFunc: it pulls events from the provider
// stream, forwards them through the part emitter, and returns the merged
// step response.
func (l *Loop) streamStep(sp StreamingProvider, yield func(Part) error) stepFunc {
	return func(ctx context.Context, req Request, step int) (*Response, error) {
		ctx, span := startSpan(ctx, l.tracer, "loop.step",
			attribute.Int("step", step),
			attribute.Bool("streaming", true),
		)
		resp, err := l.pullStream(ctx, sp, req, yield)
		endSpan(span, err)
		return resp, err
	}
}

func (l *Loop) pullStream(ctx context.Context, sp StreamingProvider, req Request, yield func(Part) error) (*Response, error) {
	s, err := sp.Stream(ctx, req)
	if err != nil {
		return nil, err
	}
	defer func() {
		if cerr := s.Close(); cerr != nil {
			l.logger.Warn("stream close failed", "error", cerr)
		}
	}()

	wrappedYield := func(p Part) error {
		if err := yield(p); err != nil {
			return wrapYieldError(err)
		}
		return nil
	}
	em := newPartEmitter(wrappedYield)
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		ev, err := s.Recv()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, err
		}
		done, err := em.event(ev)
		if err != nil {
			return nil, err
		}
		if done {
			break
		}
	}
	return em.finish()
}

// assistantMessage persists a step's response into history. A provider that
// supplied its own assistant message (vendor continuity data in Extensions)
// has it appended verbatim; otherwise one is synthesized from the response.
func assistantMessage(resp *Response) Message {
	if resp.Message != nil {
		return resp.Message.clone()
	}
	return Message{
		Role:      RoleAssistant,
		Content:   resp.Text,
		Thinking:  resp.Thinking,
		ToolCalls: append([]ToolCall(nil), resp.ToolCalls...),
	}
}
