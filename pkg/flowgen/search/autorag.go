package search

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	fgerrors "github.com/randalmurphal/flowgen/pkg/flowgen/errors"
)

const (
	defaultAutoRAGBaseURL = "https://api.cloudflare.com/client/v4"
	autoRAGMaxBodyBytes   = 8 << 20
	defaultAutoRAGTimeout = 30 * time.Second
)

// AutoRAGClient queries a Cloudflare AutoRAG instance over its REST API.
type AutoRAGClient struct {
	baseURL    string
	accountID  string
	ragName    string
	apiToken   string
	httpClient *http.Client
}

// AutoRAGOption configures an AutoRAGClient.
type AutoRAGOption func(*AutoRAGClient)

// WithAutoRAGBaseURL overrides the API base URL.
func WithAutoRAGBaseURL(baseURL string) AutoRAGOption {
	return func(c *AutoRAGClient) {
		if baseURL != "" {
			c.baseURL = strings.TrimRight(baseURL, "/")
		}
	}
}

// WithHTTPClient sets the HTTP client used for requests.
func WithHTTPClient(hc *http.Client) AutoRAGOption {
	return func(c *AutoRAGClient) {
		if hc != nil {
			c.httpClient = hc
		}
	}
}

// NewAutoRAGClient creates a client for the named AutoRAG instance.
func NewAutoRAGClient(accountID, ragName, apiToken string, opts ...AutoRAGOption) (*AutoRAGClient, error) {
	accountID = strings.TrimSpace(accountID)
	ragName = strings.TrimSpace(ragName)
	if accountID == "" {
		return nil, errors.New("autorag: missing account id")
	}
	if ragName == "" {
		return nil, errors.New("autorag: missing rag name")
	}
	c := &AutoRAGClient{
		baseURL:    defaultAutoRAGBaseURL,
		accountID:  accountID,
		ragName:    ragName,
		apiToken:   strings.TrimSpace(apiToken),
		httpClient: &http.Client{Timeout: defaultAutoRAGTimeout},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

type autoRAGRequest struct {
	Query          string                `json:"query"`
	RewriteQuery   bool                  `json:"rewrite_query"`
	MaxNumResults  int                   `json:"max_num_results,omitempty"`
	RankingOptions autoRAGRankingOptions `json:"ranking_options"`
}

type autoRAGRankingOptions struct {
	ScoreThreshold float64 `json:"score_threshold"`
}

type autoRAGEnvelope struct {
	Success bool `json:"success"`
	Errors  []struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
	} `json:"errors"`
	Result *struct {
		SearchQuery string      `json:"search_query"`
		Data        []Candidate `json:"data"`
	} `json:"result"`
}

func (e autoRAGEnvelope) errorMessage() string {
	msgs := make([]string, 0, len(e.Errors))
	for _, item := range e.Errors {
		msg := strings.TrimSpace(item.Message)
		if msg == "" {
			continue
		}
		if item.Code != 0 {
			msg = fmt.Sprintf("%s (code %d)", msg, item.Code)
		}
		msgs = append(msgs, msg)
	}
	if len(msgs) == 0 {
		return "autorag search failed"
	}
	return strings.Join(msgs, "; ")
}

// Search implements Index.
func (c *AutoRAGClient) Search(ctx context.Context, q Query) (Response, error) {
	endpoint := fmt.Sprintf("%s/accounts/%s/autorag/rags/%s/search",
		c.baseURL, url.PathEscape(c.accountID), url.PathEscape(c.ragName))

	payload, err := json.Marshal(autoRAGRequest{
		Query:          q.Text,
		RewriteQuery:   q.RewriteQuery,
		MaxNumResults:  q.MaxResults,
		RankingOptions: autoRAGRankingOptions{ScoreThreshold: q.ScoreThreshold},
	})
	if err != nil {
		return Response{}, fmt.Errorf("autorag: encode request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
	if err != nil {
		return Response{}, fmt.Errorf("autorag: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	if c.apiToken != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiToken)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return Response{}, fmt.Errorf("autorag: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, autoRAGMaxBodyBytes))
	if err != nil {
		return Response{}, fmt.Errorf("autorag: read response: %w", err)
	}

	var env autoRAGEnvelope
	if err := json.Unmarshal(body, &env); err != nil {
		if resp.StatusCode < 200 || resp.StatusCode >= 300 {
			return Response{}, fmt.Errorf("autorag: %w", &fgerrors.HTTPError{
				StatusCode: resp.StatusCode,
				Message:    strings.TrimSpace(string(body)),
				Endpoint:   "autorag search",
			})
		}
		return Response{}, fmt.Errorf("autorag: invalid response: %w", err)
	}

	// The service answered with its own error envelope.
	if !env.Success || resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return Response{ProviderError: env.errorMessage()}, nil
	}
	if env.Result == nil {
		return Response{Data: []Candidate{}}, nil
	}
	data := env.Result.Data
	if data == nil {
		data = []Candidate{}
	}
	return Response{Data: data}, nil
}
