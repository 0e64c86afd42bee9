// Package search defines the semantic node index used to find candidate
// node descriptions for a set of keywords, and a Cloudflare AutoRAG client
// implementing it.
package search

import (
	"context"
	"encoding/json"
)

// Query is one search request.
type Query struct {
	Text           string
	MaxResults     int
	ScoreThreshold float64
	RewriteQuery   bool
}

// Candidate is one hit returned by an Index.
type Candidate struct {
	FileID     string          `json:"file_id,omitempty"`
	Filename   string          `json:"filename,omitempty"`
	Score      float64         `json:"score,omitempty"`
	Attributes map[string]any  `json:"attributes,omitempty"`
	Content    json.RawMessage `json:"content,omitempty"`
}

// Response holds the hits of one search.
//
// ProviderError is set when the index answered but reported a failure;
// callers treat that as an empty, degraded result. Transport and decoding
// failures are returned as errors instead.
type Response struct {
	Data          []Candidate
	ProviderError string
}

// Index runs semantic searches over node descriptions.
type Index interface {
	Search(ctx context.Context, q Query) (Response, error)
}
