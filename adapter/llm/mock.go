package llm

import (
	"context"
	"sync"

	"github.com/bankchat/bankchat-go/bankchat"
)

// MockLLM is a scripted in-process provider used by tests and by the "mock"
// provider tag, which lets the whole service run without any API key.
//
// Responses are consumed in order; when the script is exhausted the default
// response is returned. A non-nil Err fails every call.
type MockLLM struct {
	mu        sync.Mutex
	model     string
	script    []string
	fallback  string
	err       error
	callCount int
	calls     [][]*bankchat.Message
}

var _ LLM = (*MockLLM)(nil)

// NewMockLLM creates a mock provider returning defaultResponse.
func NewMockLLM(defaultResponse string) *MockLLM {
	return &MockLLM{model: "mock", fallback: defaultResponse}
}

// Script queues responses returned before the default kicks in.
func (m *MockLLM) Script(responses ...string) *MockLLM {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.script = append(m.script, responses...)
	return m
}

// Fail makes every subsequent call return err.
func (m *MockLLM) Fail(err error) *MockLLM {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.err = err
	return m
}

// CallCount reports how many Complete calls were made.
func (m *MockLLM) CallCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.callCount
}

// LastCall returns the messages of the most recent call, or nil.
func (m *MockLLM) LastCall() []*bankchat.Message {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.calls) == 0 {
		return nil
	}
	return m.calls[len(m.calls)-1]
}

// Complete pops the next scripted response.
func (m *MockLLM) Complete(ctx context.Context, messages []*bankchat.Message, _ ...CallOption) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.callCount++
	m.calls = append(m.calls, messages)

	if m.err != nil {
		return "", m.err
	}
	if len(m.script) > 0 {
		next := m.script[0]
		m.script = m.script[1:]
		return next, nil
	}
	if m.fallback == "" {
		return "", ErrEmptyCompletion
	}
	return m.fallback, nil
}

// Model returns "mock".
func (m *MockLLM) Model() string { return m.model }

// Unwrap returns the mock itself.
func (m *MockLLM) Unwrap() any { return m }
