package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	openai "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/shared"
)

// OpenAIClient implements Client with the OpenAI chat completions API.
// It also serves OpenAI-compatible gateways via WithBaseURL.
type OpenAIClient struct {
	client    openai.Client
	model     string
	maxTokens int
	timeout   time.Duration
}

// NewOpenAIClient creates a client for the given API key.
func NewOpenAIClient(apiKey string, opts ...Option) (*OpenAIClient, error) {
	apiKey = strings.TrimSpace(apiKey)
	if apiKey == "" {
		return nil, errors.New("missing openai api key")
	}
	cfg := defaultProviderConfig()
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

	return &OpenAIClient{
		client:    openai.NewClient(reqOpts...),
		model:     cfg.model,
		maxTokens: cfg.maxTokens,
		timeout:   cfg.timeout,
	}, nil
}

// Complete implements Client.
func (c *OpenAIClient) Complete(ctx context.Context, req CompletionRequest) (*CompletionResponse, error) {
	start := time.Now()

	params, err := c.buildParams(req)
	if err != nil {
		return nil, NewError("complete", err, false)
	}

	callCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	completion, err := c.client.Chat.Completions.New(callCtx, params)
	if err != nil {
		if ctx.Err() != nil {
			return nil, NewError("complete", ctx.Err(), false)
		}
		var apiErr *openai.Error
		if errors.As(err, &apiErr) {
			return nil, NewError("complete", err, isRetryableStatus(apiErr.StatusCode))
		}
		return nil, NewError("complete", err, true)
	}
	if len(completion.Choices) == 0 {
		return nil, NewError("complete", ErrEmptyResponse, false)
	}

	choice := completion.Choices[0]
	return &CompletionResponse{
		Content:      choice.Message.Content,
		Model:        completion.Model,
		FinishReason: string(choice.FinishReason),
		Usage: TokenUsage{
			InputTokens:  int(completion.Usage.PromptTokens),
			OutputTokens: int(completion.Usage.CompletionTokens),
			TotalTokens:  int(completion.Usage.TotalTokens),
		},
		Duration: time.Since(start),
	}, nil
}

// buildParams maps a CompletionRequest onto chat completion parameters.
func (c *OpenAIClient) buildParams(req CompletionRequest) (openai.ChatCompletionNewParams, error) {
	model := req.Model
	if model == "" {
		model = c.model
	}
	if model == "" {
		return openai.ChatCompletionNewParams{}, errors.New("missing model")
	}

	messages := make([]openai.ChatCompletionMessageParamUnion, 0, len(req.Messages)+1)
	if req.SystemPrompt != "" {
		messages = append(messages, openai.SystemMessage(req.SystemPrompt))
	}
	for _, m := range req.Messages {
		switch m.Role {
		case RoleSystem:
			messages = append(messages, openai.SystemMessage(m.Content))
		case RoleAssistant:
			messages = append(messages, openai.AssistantMessage(m.Content))
		default:
			messages = append(messages, openai.UserMessage(m.Content))
		}
	}

	params := openai.ChatCompletionNewParams{
		Model:    openai.ChatModel(model),
		Messages: messages,
	}
	if req.Temperature != nil {
		params.Temperature = openai.Float(*req.Temperature)
	}
	maxTokens := req.MaxTokens
	if maxTokens == 0 {
		maxTokens = c.maxTokens
	}
	if maxTokens > 0 {
		params.MaxCompletionTokens = openai.Int(int64(maxTokens))
	}

	if rf := req.ResponseFormat; rf != nil {
		switch rf.Type {
		case FormatJSONObject:
			params.ResponseFormat = openai.ChatCompletionNewParamsResponseFormatUnion{
				OfJSONObject: &shared.ResponseFormatJSONObjectParam{},
			}
		case FormatJSONSchema:
			var schema map[string]any
			if err := json.Unmarshal(rf.Schema, &schema); err != nil {
				return openai.ChatCompletionNewParams{}, fmt.Errorf("decode response schema %q: %w", rf.Name, err)
			}
			js := shared.ResponseFormatJSONSchemaJSONSchemaParam{
				Name:   rf.Name,
				Schema: schema,
				Strict: openai.Bool(rf.Strict),
			}
			if rf.Description != "" {
				js.Description = openai.String(rf.Description)
			}
			params.ResponseFormat = openai.ChatCompletionNewParamsResponseFormatUnion{
				OfJSONSchema: &shared.ResponseFormatJSONSchemaParam{JSONSchema: js},
			}
		}
	}

	return params, nil
}
