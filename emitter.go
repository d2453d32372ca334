package agentloop

import (
	"errors"
	"strings"
)

type blockKind int

const (
	blockNone blockKind = iota
	blockText
	blockThinking
	blockTool
)

// partEmitter maps one step's stream events to a well-nested Part sequence:
// a delta beginning a new block is preceded by its Start, every open block is
// closed exactly once with an End carrying the accumulated value, and provider
// metadata is emitted once after all block ends. Finish and Error parts are
// the loop's responsibility, not the emitter's.
type partEmitter struct {
	yield func(Part) error
	agg   *callAggregator

	open        blockKind
	openToolKey string
	openToolID  string

	curText     strings.Builder // current block
	curThinking strings.Builder
	allText     strings.Builder // whole step, for completion fallback
	allThinking strings.Builder

	resp *Response
	err  error
}

func newPartEmitter(yield func(Part) error) *partEmitter {
	return &partEmitter{
		yield: yield,
		agg:   newCallAggregator(),
	}
}

// event consumes one stream event. It reports true when the event was
// terminal (completion or error) and the step should finish.
func (e *partEmitter) event(ev StreamEvent) (bool, error) {
	switch ev.Kind {
	case EventTextDelta:
		if err := e.ensure(blockText, ""); err != nil {
			return false, err
		}
		e.curText.WriteString(ev.TextDelta)
		e.allText.WriteString(ev.TextDelta)
		return false, e.yield(Part{Kind: PartTextDelta, Text: ev.TextDelta})

	case EventThinkingDelta:
		if err := e.ensure(blockThinking, ""); err != nil {
			return false, err
		}
		e.curThinking.WriteString(ev.ThinkingDelta)
		e.allThinking.WriteString(ev.ThinkingDelta)
		return false, e.yield(Part{Kind: PartThinkingDelta, Text: ev.ThinkingDelta})

	case EventToolCallDelta:
		if ev.ToolCallDelta == nil {
			return false, nil
		}
		d := *ev.ToolCallDelta
		key := e.agg.key(d)
		opening := e.open != blockTool || e.openToolKey != key
		if err := e.ensure(blockTool, key); err != nil {
			return false, err
		}
		e.agg.Add(d)
		snap := e.agg.snapshot(d)
		e.openToolID = snap.ID
		if opening {
			if err := e.yield(Part{Kind: PartToolCallStart, ToolCall: snap}); err != nil {
				return false, err
			}
		}
		return false, e.yield(Part{Kind: PartToolCallDelta, ToolCall: snap})

	case EventToolCallEnd:
		if e.open == blockTool {
			return false, e.closeOpen()
		}
		return false, nil

	case EventCompletion:
		e.resp = ev.Response
		return true, nil

	case EventError:
		e.err = ev.Err
		if e.err == nil {
			e.err = errors.New("provider stream reported an error without detail")
		}
		return true, nil
	}
	return false, nil
}

// ensure closes the open block when a delta of a different kind (or a
// different tool call) arrives, then opens the new block with its Start part.
func (e *partEmitter) ensure(kind blockKind, toolKey string) error {
	if e.open == kind && (kind != blockTool || e.openToolKey == toolKey) {
		return nil
	}
	if err := e.closeOpen(); err != nil {
		return err
	}
	e.open = kind
	e.openToolKey = toolKey
	switch kind {
	case blockText:
		return e.yield(Part{Kind: PartTextStart})
	case blockThinking:
		return e.yield(Part{Kind: PartThinkingStart})
	case blockTool:
		// ToolCallStart carries the first fragment's snapshot; emitted by
		// the caller once the fragment is aggregated.
		return nil
	}
	return nil
}

// closeOpen emits the End part for the currently open block.
func (e *partEmitter) closeOpen() error {
	defer func() {
		e.open = blockNone
		e.openToolKey = ""
		e.openToolID = ""
		e.curText.Reset()
		e.curThinking.Reset()
	}()
	switch e.open {
	case blockText:
		return e.yield(Part{Kind: PartTextEnd, Text: e.curText.String()})
	case blockThinking:
		return e.yield(Part{Kind: PartThinkingEnd, Text: e.curThinking.String()})
	case blockTool:
		return e.yield(Part{Kind: PartToolCallEnd, ToolCallID: e.openToolID})
	}
	return nil
}

// finish closes any open block, emits provider metadata, and returns the
// step's response with streamed content merged in where the completion left
// fields empty. A stream that ended without a terminal event is a provider
// contract violation.
func (e *partEmitter) finish() (*Response, error) {
	if err := e.closeOpen(); err != nil {
		return nil, err
	}
	if e.err != nil {
		return nil, e.err
	}
	if e.resp == nil {
		return nil, errors.New("provider stream ended without a completion event")
	}
	resp := *e.resp
	if resp.Text == "" {
		resp.Text = e.allText.String()
	}
	if resp.Thinking == "" {
		resp.Thinking = e.allThinking.String()
	}
	if len(resp.ToolCalls) == 0 {
		resp.ToolCalls = e.agg.Completed()
	}
	if len(resp.ProviderMetadata) > 0 {
		if err := e.yield(Part{Kind: PartMetadata, Metadata: resp.ProviderMetadata}); err != nil {
			return nil, err
		}
	}
	return &resp, nil
}
