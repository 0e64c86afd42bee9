package llm

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestStripCodeFence(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"no fence", `{"a":1}`, `{"a":1}`},
		{"json fence", "```json\n{\"a\":1}\n```", `{"a":1}`},
		{"bare fence", "```\n{\"a\":1}\n```", `{"a":1}`},
		{"inline fence", "```{\"a\":1}```", `{"a":1}`},
		{"unterminated", "```json\n{\"a\":1}", "```json\n{\"a\":1}"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, stripCodeFence(tt.in))
		})
	}
}

func TestBuildAnthropicSystem(t *testing.T) {
	got := buildAnthropicSystem(CompletionRequest{
		SystemPrompt: "base",
		Messages: []Message{
			{Role: RoleSystem, Content: "extra"},
			{Role: RoleUser, Content: "ignored"},
		},
		ResponseFormat: JSONSchema("k", "", json.RawMessage(`{"type":"object"}`), true),
	})
	assert.Contains(t, got, "base\n\nextra\n\n")
	assert.Contains(t, got, `{"type":"object"}`)
	assert.NotContains(t, got, "ignored")

	assert.Equal(t, "", buildAnthropicSystem(CompletionRequest{}))
}

func TestIsRetryableStatus(t *testing.T) {
	for code, want := range map[int]bool{400: false, 401: false, 408: true, 429: true, 500: true, 503: true} {
		assert.Equal(t, want, isRetryableStatus(code), "status %d", code)
	}
}

func TestProviderOptions(t *testing.T) {
	cfg := defaultProviderConfig()
	for _, opt := range []Option{
		WithBaseURL(" http://gw/ "),
		WithModel("m"),
		WithMaxTokens(-1),
		WithMaxTokens(100),
		WithMaxRetries(-1),
		WithMaxRetries(0),
		WithTimeout(0),
	} {
		opt(&cfg)
	}
	assert.Equal(t, "http://gw/", cfg.baseURL)
	assert.Equal(t, "m", cfg.model)
	assert.Equal(t, 100, cfg.maxTokens)
	assert.Equal(t, 0, cfg.maxRetries)
	assert.Equal(t, defaultProviderConfig().timeout, cfg.timeout)
}
