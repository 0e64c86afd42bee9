package flowgen

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"

	fgerrors "github.com/randalmurphal/flowgen/pkg/flowgen/errors"
	"github.com/randalmurphal/flowgen/pkg/flowgen/llm"
)

// WorkflowSynthesizer asks the model for the final workflow document.
type WorkflowSynthesizer struct {
	client       llm.Client
	model        string
	systemPrompt string
}

// NewWorkflowSynthesizer creates a WorkflowSynthesizer with the given base
// system prompt.
func NewWorkflowSynthesizer(client llm.Client, model, systemPrompt string) *WorkflowSynthesizer {
	return &WorkflowSynthesizer{client: client, model: model, systemPrompt: systemPrompt}
}

// Synthesize generates a workflow for prompt from nodes. The nodes are
// appended to the system prompt as JSON; the temperature is pinned to 0.
//
// Output that is not a single JSON value yields a *SynthesisError holding
// the raw text. Completion failures are returned unchanged.
func (w *WorkflowSynthesizer) Synthesize(ctx context.Context, prompt string, nodes []Node) (json.RawMessage, string, error) {
	system, err := w.buildSystem(nodes)
	if err != nil {
		return nil, "", err
	}

	resp, err := w.client.Complete(ctx, llm.CompletionRequest{
		SystemPrompt:   system,
		Messages:       []llm.Message{{Role: llm.RoleUser, Content: prompt}},
		Model:          w.model,
		Temperature:    llm.Float(0),
		ResponseFormat: llm.JSONObject(),
	})
	if err != nil {
		return nil, "", err
	}

	raw := resp.Content
	if _, err := parseContent(raw); err != nil {
		return nil, raw, invalidWorkflow(raw, err)
	}
	var buf bytes.Buffer
	if err := json.Compact(&buf, []byte(raw)); err != nil {
		return nil, raw, invalidWorkflow(raw, err)
	}
	return json.RawMessage(buf.Bytes()), raw, nil
}

func (w *WorkflowSynthesizer) buildSystem(nodes []Node) (string, error) {
	if nodes == nil {
		nodes = []Node{}
	}
	encoded, err := json.Marshal(nodes)
	if err != nil {
		return "", fmt.Errorf("encode nodes: %w", err)
	}
	return w.systemPrompt + "\n\nRelevant nodes from search: " + string(encoded), nil
}

func invalidWorkflow(raw string, err error) *SynthesisError {
	return &SynthesisError{
		Err: &fgerrors.JSONParseError{Input: raw, Message: err.Error()},
		Raw: raw,
	}
}
