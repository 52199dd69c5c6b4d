package llm

import (
	"context"
	"fmt"
	"sync"
)

// MockClient is a deterministic Backend for local runs and tests.
type MockClient struct {
	mu    sync.Mutex
	err   error
	calls []CompletionRequest
}

// NewMockClient creates a new mock client.
func NewMockClient() *MockClient {
	return &MockClient{}
}

// FailWith makes subsequent calls return err. A nil err restores normal replies.
func (m *MockClient) FailWith(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.err = err
}

// Calls returns the requests received so far.
func (m *MockClient) Calls() []CompletionRequest {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]CompletionRequest(nil), m.calls...)
}

// Complete echoes the prompt back.
func (m *MockClient) Complete(ctx context.Context, req *CompletionRequest) (*CompletionResponse, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	m.mu.Lock()
	m.calls = append(m.calls, *req)
	err := m.err
	m.mu.Unlock()

	if err != nil {
		return nil, err
	}
	return &CompletionResponse{
		Completion: fmt.Sprintf("[MOCK] Received your message: %q. This is a mock response.", truncate(req.Prompt, 100)),
		Model:      "mock",
	}, nil
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "..."
}
