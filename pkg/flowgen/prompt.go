package flowgen

import (
	_ "embed"
	"fmt"
	"os"
	"strings"
)

//go:embed prompts/workflow.md
var defaultWorkflowPrompt string

// DefaultWorkflowPrompt returns the built-in synthesis system prompt.
func DefaultWorkflowPrompt() string {
	return defaultWorkflowPrompt
}

// LoadWorkflowPrompt reads a synthesis system prompt from path.
func LoadWorkflowPrompt(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("read workflow prompt: %w", err)
	}
	prompt := strings.TrimSpace(string(data))
	if prompt == "" {
		return "", fmt.Errorf("workflow prompt %s is empty", path)
	}
	return prompt, nil
}
