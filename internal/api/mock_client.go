package api

import (
	"context"
	"sync"
)

// MockCompleter is a Completer for tests. It records every call and returns
// Reply/Err. When Release is non-nil each call blocks until a value is
// received from it (or the context ends), which lets tests hold a send in flight.
type MockCompleter struct {
	Reply   string
	Err     error
	Release chan struct{}
	// Started receives one value per call once the call is in progress
	Started chan struct{}

	mu               sync.Mutex
	calls            int
	lastSystemPrompt string
	lastUserText     string
}

var _ Completer = (*MockCompleter)(nil)

// Complete implements Completer
func (m *MockCompleter) Complete(ctx context.Context, systemPrompt, userText string) (string, error) {
	m.mu.Lock()
	m.calls++
	m.lastSystemPrompt = systemPrompt
	m.lastUserText = userText
	m.mu.Unlock()

	if m.Started != nil {
		m.Started <- struct{}{}
	}

	if m.Release != nil {
		select {
		case <-m.Release:
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}

	return m.Reply, m.Err
}

// Calls returns how many times Complete was invoked
func (m *MockCompleter) Calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

// LastSystemPrompt returns the system prompt of the most recent call
func (m *MockCompleter) LastSystemPrompt() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lastSystemPrompt
}

// LastUserText returns the user text of the most recent call
func (m *MockCompleter) LastUserText() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lastUserText
}
