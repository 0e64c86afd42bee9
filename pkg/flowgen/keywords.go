package flowgen

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"strings"

	fgerrors "github.com/randalmurphal/flowgen/pkg/flowgen/errors"
	"github.com/randalmurphal/flowgen/pkg/flowgen/llm"
)

// MaxKeywords is the most keywords a prompt may yield.
const MaxKeywords = 5

const keywordSystemPrompt = `You pick search terms for finding n8n nodes.
Read the workflow the user describes and return at most 5 short keywords or phrases naming the services, actions, or data transformations it needs.
Prefer words that appear in n8n node names and capabilities. Leave out generic words.
Answer with the JSON object described by the schema.`

var keywordSchema = json.RawMessage(`{
	"type": "object",
	"properties": {
		"keywords": {
			"type": "array",
			"items": {"type": "string"},
			"description": "Up to 5 relevant keywords or phrases."
		}
	},
	"required": ["keywords"],
	"additionalProperties": false
}`)

// KeywordExtractor asks the model for search keywords.
type KeywordExtractor struct {
	client llm.Client
	model  string
}

// NewKeywordExtractor creates a KeywordExtractor. An empty model leaves
// the client's default.
func NewKeywordExtractor(client llm.Client, model string) *KeywordExtractor {
	return &KeywordExtractor{client: client, model: model}
}

// Extract returns up to MaxKeywords keywords for prompt. Output that does
// not match the contract yields an error wrapping ErrInvalidKeywordFormat;
// it is never repaired or truncated.
func (k *KeywordExtractor) Extract(ctx context.Context, prompt string) ([]string, error) {
	resp, err := k.client.Complete(ctx, llm.CompletionRequest{
		SystemPrompt: keywordSystemPrompt,
		Messages:     []llm.Message{{Role: llm.RoleUser, Content: prompt}},
		Model:        k.model,
		ResponseFormat: llm.JSONSchema("keywords_object",
			"An object containing a list of extracted keywords for n8n node search.",
			keywordSchema, true),
	})
	if err != nil {
		return nil, err
	}
	return ParseKeywords(resp.Content)
}

// ParseKeywords validates a {"keywords": [...]} document.
// An empty list is valid.
func ParseKeywords(content string) ([]string, error) {
	trimmed := bytes.TrimSpace([]byte(content))
	if len(trimmed) == 0 {
		return nil, invalidKeywords("", "empty response")
	}
	if trimmed[0] != '{' {
		return nil, invalidKeywords("", "response is not a JSON object")
	}

	var doc map[string]json.RawMessage
	if err := json.Unmarshal(trimmed, &doc); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidKeywordFormat,
			&fgerrors.JSONParseError{Input: content, Message: err.Error()})
	}
	raw, ok := doc["keywords"]
	if !ok {
		return nil, invalidKeywords("keywords", "missing")
	}
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || raw[0] != '[' {
		return nil, invalidKeywords("keywords", "not an array")
	}

	var items []json.RawMessage
	if err := json.Unmarshal(raw, &items); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidKeywordFormat,
			&fgerrors.JSONParseError{Input: content, Message: err.Error()})
	}
	if len(items) > MaxKeywords {
		return nil, invalidKeywords("keywords", fmt.Sprintf("%d keywords, at most %d allowed", len(items), MaxKeywords))
	}

	keywords := make([]string, 0, len(items))
	for i, item := range items {
		field := fmt.Sprintf("keywords[%d]", i)
		item = bytes.TrimSpace(item)
		if len(item) == 0 || item[0] != '"' {
			return nil, invalidKeywords(field, "keyword is not a string")
		}
		var kw string
		if err := json.Unmarshal(item, &kw); err != nil {
			return nil, invalidKeywords(field, err.Error())
		}
		if strings.TrimSpace(kw) == "" {
			return nil, invalidKeywords(field, "keyword is empty")
		}
		keywords = append(keywords, kw)
	}
	return keywords, nil
}

func invalidKeywords(field, msg string) error {
	return fmt.Errorf("%w: %w", ErrInvalidKeywordFormat, &fgerrors.ValidationError{Field: field, Message: msg})
}
