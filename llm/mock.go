package llm

import (
	"context"
	"sync"
)

// Mock is a test implementation of Model.
//
// Each Complete call returns the next queued response; once the queue is
// exhausted the last response repeats. If Err is set it is returned
// instead. All calls are recorded for assertions.
//
//	mock := &llm.Mock{Responses: []string{`{"steps":["a"]}`}}
//	agent := analyst.New(mock, store, nil)
type Mock struct {
	// Responses is the sequence of responses to return in order.
	Responses []string

	// Err, if set, is returned by every Complete call.
	Err error

	// Calls records every prompt passed to Complete.
	Calls []string

	mu    sync.Mutex
	index int
}

// Complete implements Model.
func (m *Mock) Complete(ctx context.Context, prompt string) (string, error) {
	if ctx.Err() != nil {
		return "", ctx.Err()
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	m.Calls = append(m.Calls, prompt)

	if m.Err != nil {
		return "", m.Err
	}
	if len(m.Responses) == 0 {
		return "", nil
	}

	resp := m.Responses[min(m.index, len(m.Responses)-1)]
	m.index++
	return resp, nil
}

// CallCount returns the number of Complete invocations so far.
func (m *Mock) CallCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.Calls)
}
