package llm

import (
	"context"
	"errors"
	"sync"
)

// ErrNoScriptedResponse is returned by MockClient when its queue is empty and
// no handler is set.
var ErrNoScriptedResponse = errors.New("mock llm: no scripted response")

// MockClient is a scripted Client for tests and offline runs. Responses are
// served from the queue in order; Handler, when set, answers once the queue is
// empty. Every request is recorded.
type MockClient struct {
	mu       sync.Mutex
	queue    []mockReply
	Handler  func(req Request) (string, error)
	Model    string
	requests []Request
}

type mockReply struct {
	text string
	err  error
}

// NewMockClient returns a mock with model "mock-model".
func NewMockClient(responses ...string) *MockClient {
	m := &MockClient{Model: "mock-model"}
	m.Enqueue(responses...)
	return m
}

// Enqueue appends successful responses.
func (m *MockClient) Enqueue(responses ...string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, r := range responses {
		m.queue = append(m.queue, mockReply{text: r})
	}
}

// EnqueueError appends a failing response.
func (m *MockClient) EnqueueError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.queue = append(m.queue, mockReply{err: err})
}

// Complete records req and returns the next scripted reply.
func (m *MockClient) Complete(ctx context.Context, req Request) (*Response, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.Lock()
	m.requests = append(m.requests, req)
	var reply mockReply
	handler := m.Handler
	switch {
	case len(m.queue) > 0:
		reply = m.queue[0]
		m.queue = m.queue[1:]
	case handler != nil:
		m.mu.Unlock()
		text, err := handler(req)
		reply = mockReply{text: text, err: err}
		m.mu.Lock()
	default:
		reply = mockReply{err: ErrNoScriptedResponse}
	}
	m.mu.Unlock()

	if reply.err != nil {
		return nil, reply.err
	}
	return &Response{
		Text:      reply.text,
		Model:     ModelFor(m, req),
		Provider:  m.Provider(),
		TokensIn:  int64(len(req.Prompt) / 4),
		TokensOut: int64(len(reply.text) / 4),
	}, nil
}

// Requests returns a copy of every recorded request.
func (m *MockClient) Requests() []Request {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Request(nil), m.requests...)
}

// Calls returns the number of Complete calls.
func (m *MockClient) Calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.requests)
}

// Provider returns "mock".
func (m *MockClient) Provider() string { return "mock" }

// DefaultModel returns m.Model.
func (m *MockClient) DefaultModel() string { return m.Model }
