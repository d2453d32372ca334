// Package testutil provides test helpers for agentloop (e.g. MockProvider).
package testutil

import (
	"context"
	"io"
	"sync"

	"github.com/skosovsky/agentloop"
)

// MockProvider is a scriptable Provider for tests. Each loop step consumes
// the next scripted response (Responses) or event sequence (Streams). When
// both are set, Complete serves Responses and Stream serves Streams
// independently. Running past the script returns io.EOF-style errors so a
// test that over-calls the provider fails loudly.
type MockProvider struct {
	mu        sync.Mutex
	Responses []*agentloop.Response
	Streams   [][]agentloop.StreamEvent

	// Requests records every request received, in order, for assertions.
	Requests []agentloop.Request

	respIdx   int
	streamIdx int
}

// Complete returns the next scripted response.
func (m *MockProvider) Complete(_ context.Context, req agentloop.Request) (*agentloop.Response, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Requests = append(m.Requests, req)
	if m.respIdx >= len(m.Responses) {
		return nil, io.ErrUnexpectedEOF
	}
	resp := m.Responses[m.respIdx]
	m.respIdx++
	return resp, nil
}

// Stream returns the next scripted event sequence.
func (m *MockProvider) Stream(_ context.Context, req agentloop.Request) (agentloop.Stream, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Requests = append(m.Requests, req)
	if m.streamIdx >= len(m.Streams) {
		return nil, io.ErrUnexpectedEOF
	}
	events := m.Streams[m.streamIdx]
	m.streamIdx++
	return &ScriptStream{Events: events}, nil
}

// Calls reports how many provider calls (Complete plus Stream) were made.
func (m *MockProvider) Calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.respIdx + m.streamIdx
}

// ScriptStream replays a fixed event sequence, then io.EOF.
type ScriptStream struct {
	Events []agentloop.StreamEvent
	pos    int
	closed bool
}

// Recv returns the next scripted event or io.EOF.
func (s *ScriptStream) Recv() (agentloop.StreamEvent, error) {
	if s.closed || s.pos >= len(s.Events) {
		return agentloop.StreamEvent{}, io.EOF
	}
	ev := s.Events[s.pos]
	s.pos++
	return ev, nil
}

// Close marks the stream closed; subsequent Recv returns io.EOF.
func (s *ScriptStream) Close() error {
	s.closed = true
	return nil
}

// CompleteOnly hides the streaming capability of a MockProvider, for testing
// the non-streaming fallback path. It deliberately does not embed the
// provider: embedding would promote Stream and defeat the purpose.
type CompleteOnly struct {
	P *MockProvider
}

// Complete delegates to the wrapped provider.
func (c CompleteOnly) Complete(ctx context.Context, req agentloop.Request) (*agentloop.Response, error) {
	return c.P.Complete(ctx, req)
}

// Ensure interfaces are satisfied.
var (
	_ agentloop.StreamingProvider = (*MockProvider)(nil)
	_ agentloop.Provider          = CompleteOnly{}
)
