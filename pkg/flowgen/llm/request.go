package llm

import (
	"encoding/json"
	"time"
)

// CompletionRequest configures an LLM completion call.
type CompletionRequest struct {
	// Prompt configuration
	SystemPrompt string    `json:"system_prompt,omitempty"`
	Messages     []Message `json:"messages"`

	// Model configuration
	Model     string `json:"model,omitempty"`
	MaxTokens int    `json:"max_tokens,omitempty"`

	// Temperature is a pointer so that an explicit 0 survives; nil leaves
	// the provider default in place.
	Temperature *float64 `json:"temperature,omitempty"`

	// ResponseFormat constrains the output. Nil means free text.
	ResponseFormat *ResponseFormat `json:"response_format,omitempty"`
}

// Message is a conversation turn.
type Message struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

// Role identifies the message sender.
type Role string

// Standard message roles.
const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
)

// FormatType selects how the provider constrains output.
type FormatType string

// Supported output formats.
const (
	FormatText       FormatType = "text"
	FormatJSONObject FormatType = "json_object"
	FormatJSONSchema FormatType = "json_schema"
)

// ResponseFormat requests structured output.
type ResponseFormat struct {
	Type        FormatType      `json:"type"`
	Name        string          `json:"name,omitempty"`
	Description string          `json:"description,omitempty"`
	Schema      json.RawMessage `json:"schema,omitempty"` // JSON Schema
	Strict      bool            `json:"strict,omitempty"`
}

// JSONObject requests any single JSON object.
func JSONObject() *ResponseFormat {
	return &ResponseFormat{Type: FormatJSONObject}
}

// JSONSchema requests output matching schema. Strict asks the provider to
// enforce the schema exactly where supported.
func JSONSchema(name, description string, schema json.RawMessage, strict bool) *ResponseFormat {
	return &ResponseFormat{
		Type:        FormatJSONSchema,
		Name:        name,
		Description: description,
		Schema:      schema,
		Strict:      strict,
	}
}

// Float returns a pointer to v, for Temperature.
func Float(v float64) *float64 {
	return &v
}

// CompletionResponse is the output of a completion call.
type CompletionResponse struct {
	Content      string        `json:"content"`
	Usage        TokenUsage    `json:"usage"`
	Model        string        `json:"model"`
	FinishReason string        `json:"finish_reason"`
	Duration     time.Duration `json:"duration"`
}

// TokenUsage tracks token consumption.
type TokenUsage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
	TotalTokens  int `json:"total_tokens"`
}

// Add calculates total tokens and adds to existing usage.
func (u *TokenUsage) Add(other TokenUsage) {
	u.InputTokens += other.InputTokens
	u.OutputTokens += other.OutputTokens
	u.TotalTokens += other.TotalTokens
}
