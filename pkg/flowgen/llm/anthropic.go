package llm

import (
	"context"
	"errors"
	"strings"
	"time"

	anthropic "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
)

const anthropicDefaultMaxTokens = 8192

// AnthropicClient implements Client with the Anthropic messages API.
//
// The messages API has no JSON response mode, so structured formats are
// requested through the system prompt and a surrounding code fence in the
// reply is stripped.
type AnthropicClient struct {
	client    anthropic.Client
	model     string
	maxTokens int
	timeout   time.Duration
}

// NewAnthropicClient creates a client for the given API key.
func NewAnthropicClient(apiKey string, opts ...Option) (*AnthropicClient, error) {
	apiKey = strings.TrimSpace(apiKey)
	if apiKey == "" {
		return nil, errors.New("missing anthropic api key")
	}
	cfg := defaultProviderConfig()
	cfg.maxTokens = anthropicDefaultMaxTokens
	for _, opt := range opts {
		opt(&cfg)
	}

	reqOpts := []option.RequestOption{
		option.WithAPIKey(apiKey),
		option.WithMaxRetries(cfg.maxRetries),
	}
	if cfg.baseURL != "" {
		reqOpts = append(reqOpts, option.WithBaseURL(cfg.baseURL))
	}

	return &AnthropicClient{
		client:    anthropic.NewClient(reqOpts...),
		model:     cfg.model,
		maxTokens: cfg.maxTokens,
		timeout:   cfg.timeout,
	}, nil
}

// Complete implements Client.
func (c *AnthropicClient) Complete(ctx context.Context, req CompletionRequest) (*CompletionResponse, error) {
	start := time.Now()

	model := req.Model
	if model == "" {
		model = c.model
	}
	if model == "" {
		return nil, NewError("complete", errors.New("missing model"), false)
	}
	maxTokens := req.MaxTokens
	if maxTokens == 0 {
		maxTokens = c.maxTokens
	}

	system := buildAnthropicSystem(req)
	messages := make([]anthropic.MessageParam, 0, len(req.Messages))
	for _, m := range req.Messages {
		switch m.Role {
		case RoleSystem:
			// folded into the system prompt by buildAnthropicSystem
		case RoleAssistant:
			messages = append(messages, anthropic.NewAssistantMessage(anthropic.NewTextBlock(m.Content)))
		default:
			messages = append(messages, anthropic.NewUserMessage(anthropic.NewTextBlock(m.Content)))
		}
	}

	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(model),
		MaxTokens: int64(maxTokens),
		Messages:  messages,
	}
	if system != "" {
		params.System = []anthropic.TextBlockParam{{Text: system}}
	}
	if req.Temperature != nil {
		params.Temperature = anthropic.Float(*req.Temperature)
	}

	callCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	msg, err := c.client.Messages.New(callCtx, params)
	if err != nil {
		if ctx.Err() != nil {
			return nil, NewError("complete", ctx.Err(), false)
		}
		var apiErr *anthropic.Error
		if errors.As(err, &apiErr) {
			return nil, NewError("complete", err, isRetryableStatus(apiErr.StatusCode))
		}
		return nil, NewError("complete", err, true)
	}

	var text strings.Builder
	for _, block := range msg.Content {
		if tb, ok := block.AsAny().(anthropic.TextBlock); ok {
			text.WriteString(tb.Text)
		}
	}
	content := text.String()
	if req.ResponseFormat != nil && req.ResponseFormat.Type != FormatText {
		content = stripCodeFence(content)
	}

	return &CompletionResponse{
		Content:      content,
		Model:        string(msg.Model),
		FinishReason: string(msg.StopReason),
		Usage: TokenUsage{
			InputTokens:  int(msg.Usage.InputTokens),
			OutputTokens: int(msg.Usage.OutputTokens),
			TotalTokens:  int(msg.Usage.InputTokens + msg.Usage.OutputTokens),
		},
		Duration: time.Since(start),
	}, nil
}

// buildAnthropicSystem merges the system prompt, system-role messages and
// the output format instruction.
func buildAnthropicSystem(req CompletionRequest) string {
	parts := make([]string, 0, 3)
	if s := strings.TrimSpace(req.SystemPrompt); s != "" {
		parts = append(parts, s)
	}
	for _, m := range req.Messages {
		if m.Role == RoleSystem && strings.TrimSpace(m.Content) != "" {
			parts = append(parts, strings.TrimSpace(m.Content))
		}
	}
	if rf := req.ResponseFormat; rf != nil {
		switch rf.Type {
		case FormatJSONObject:
			parts = append(parts, "Respond with a single JSON object and nothing else.")
		case FormatJSONSchema:
			parts = append(parts, "Respond with a single JSON object and nothing else. It must match this JSON schema:\n"+string(rf.Schema))
		}
	}
	return strings.Join(parts, "\n\n")
}
