package llm

import (
	"context"
	"sync"
)

// MockClient is a scripted Client for tests.
//
// Responses cycle in order; WithError makes every call fail;
// WithCompleteFunc takes over entirely.
type MockClient struct {
	mu           sync.Mutex
	responses    []string
	next         int
	err          error
	completeFunc func(ctx context.Context, req CompletionRequest) (*CompletionResponse, error)

	// Calls records every request received, in order.
	Calls []CompletionRequest
}

// NewMockClient returns a mock that always answers response.
func NewMockClient(response string) *MockClient {
	return &MockClient{responses: []string{response}}
}

// WithResponses replaces the scripted responses.
func (m *MockClient) WithResponses(responses ...string) *MockClient {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.responses = responses
	m.next = 0
	return m
}

// WithError makes every call return err.
func (m *MockClient) WithError(err error) *MockClient {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.err = err
	return m
}

// WithCompleteFunc delegates Complete to fn after recording the call.
func (m *MockClient) WithCompleteFunc(fn func(ctx context.Context, req CompletionRequest) (*CompletionResponse, error)) *MockClient {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.completeFunc = fn
	return m
}

// Complete implements Client.
func (m *MockClient) Complete(ctx context.Context, req CompletionRequest) (*CompletionResponse, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	m.mu.Lock()
	m.Calls = append(m.Calls, req)
	fn := m.completeFunc
	if fn == nil && m.err != nil {
		err := m.err
		m.mu.Unlock()
		return nil, err
	}
	var content string
	if fn == nil && len(m.responses) > 0 {
		content = m.responses[m.next%len(m.responses)]
		m.next++
	}
	m.mu.Unlock()

	if fn != nil {
		return fn(ctx, req)
	}

	input := len(req.SystemPrompt) / 4
	for _, msg := range req.Messages {
		input += len(msg.Content) / 4
	}
	input++
	output := len(content)/4 + 1
	return &CompletionResponse{
		Content:      content,
		Model:        req.Model,
		FinishReason: "stop",
		Usage: TokenUsage{
			InputTokens:  input,
			OutputTokens: output,
			TotalTokens:  input + output,
		},
	}, nil
}

// CallCount returns the number of calls received.
func (m *MockClient) CallCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.Calls)
}

// LastCall returns the most recent request, or nil.
func (m *MockClient) LastCall() *CompletionRequest {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.Calls) == 0 {
		return nil
	}
	last := m.Calls[len(m.Calls)-1]
	return &last
}

// Reset clears recorded calls and rewinds the scripted responses.
func (m *MockClient) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Calls = nil
	m.next = 0
}
