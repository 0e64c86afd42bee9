package flowgen

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"strings"

	"github.com/randalmurphal/flowgen/pkg/flowgen/observability"
)

// NormalizeNodes replaces string content holding a JSON document with the
// parsed value. Content that is blank, not JSON, or a bare JSON string is
// kept as is, and non-string content passes through, so normalizing twice
// equals normalizing once. It never fails; parse failures are logged.
func NormalizeNodes(nodes []Node, logger *slog.Logger) []Node {
	out := make([]Node, len(nodes))
	for i, n := range nodes {
		out[i] = n
		s, ok := n.Content.(string)
		if !ok || strings.TrimSpace(s) == "" {
			continue
		}
		v, err := parseContent(s)
		if err != nil {
			observability.LogItemFailure(logger, string(StepParseNodes), n.Filename, err)
			continue
		}
		if _, isString := v.(string); isString {
			continue
		}
		out[i].Content = v
	}
	return out
}

// parseContent decodes exactly one JSON value, keeping numbers exact.
func parseContent(s string) (any, error) {
	dec := json.NewDecoder(strings.NewReader(s))
	dec.UseNumber()

	var v any
	if err := dec.Decode(&v); err != nil {
		return nil, err
	}
	if _, err := dec.Token(); !errors.Is(err, io.EOF) {
		return nil, errors.New("unexpected data after JSON value")
	}
	return v, nil
}
