package flowgen

import (
	"context"
	"strings"

	fgerrors "github.com/randalmurphal/flowgen/pkg/flowgen/errors"
	"github.com/randalmurphal/flowgen/pkg/flowgen/search"
)

// Search defaults.
const (
	DefaultMaxResults     = 15
	DefaultScoreThreshold = 0.25
)

// NodeSearcher issues one combined search for all keywords.
type NodeSearcher struct {
	index          search.Index
	maxResults     int
	scoreThreshold float64
	retry          fgerrors.RetryPolicy
}

// NewNodeSearcher creates a NodeSearcher with the default limits.
func NewNodeSearcher(index search.Index) *NodeSearcher {
	return &NodeSearcher{
		index:          index,
		maxResults:     DefaultMaxResults,
		scoreThreshold: DefaultScoreThreshold,
		retry:          fgerrors.NoRetry,
	}
}

// Search joins keywords with single spaces and runs one query with
// rewriting disabled. The result always holds exactly one SearchResult.
//
// When the index reports a failure the result carries the message and no
// candidates, and the returned error is nil. Transport and decoding
// failures are returned as errors.
func (s *NodeSearcher) Search(ctx context.Context, keywords []string) ([]SearchResult, error) {
	query := strings.Join(keywords, " ")

	resp, _, err := fgerrors.Retry(ctx, s.retry, func(ctx context.Context) (search.Response, error) {
		return s.index.Search(ctx, search.Query{
			Text:           query,
			MaxResults:     s.maxResults,
			ScoreThreshold: s.scoreThreshold,
			RewriteQuery:   false,
		})
	})
	if err != nil {
		return nil, err
	}

	if resp.ProviderError != "" {
		return []SearchResult{{Query: query, Data: []search.Candidate{}, Error: resp.ProviderError}}, nil
	}
	data := resp.Data
	if data == nil {
		data = []search.Candidate{}
	}
	return []SearchResult{{Query: query, Data: data}}, nil
}
