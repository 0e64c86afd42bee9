package search

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	fgerrors "github.com/randalmurphal/flowgen/pkg/flowgen/errors"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) *AutoRAGClient {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	c, err := NewAutoRAGClient("acct", "n8n-autorag", "tok", WithAutoRAGBaseURL(srv.URL), WithHTTPClient(srv.Client()))
	require.NoError(t, err)
	return c
}

func TestAutoRAGClient_Search(t *testing.T) {
	var gotPath, gotAuth string
	var gotBody map[string]any
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotAuth = r.Header.Get("Authorization")
		raw, _ := io.ReadAll(r.Body)
		_ = json.Unmarshal(raw, &gotBody)
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `{
			"success": true,
			"errors": [],
			"result": {
				"search_query": "slack http",
				"data": [
					{"file_id": "f1", "filename": "Slack.node.json", "score": 0.81, "attributes": {"folder": "nodes/"}},
					{"file_id": "f2", "filename": "HttpRequest.node.json", "score": 0.4}
				]
			}
		}`)
	})

	resp, err := c.Search(context.Background(), Query{Text: "slack http", MaxResults: 15, ScoreThreshold: 0.25})
	require.NoError(t, err)

	assert.Equal(t, "/accounts/acct/autorag/rags/n8n-autorag/search", gotPath)
	assert.Equal(t, "Bearer tok", gotAuth)
	want := map[string]any{
		"query":           "slack http",
		"rewrite_query":   false,
		"max_num_results": float64(15),
		"ranking_options": map[string]any{"score_threshold": 0.25},
	}
	if diff := cmp.Diff(want, gotBody); diff != "" {
		t.Errorf("request body mismatch (-want +got):\n%s", diff)
	}

	assert.Empty(t, resp.ProviderError)
	require.Len(t, resp.Data, 2)
	assert.Equal(t, "f1", resp.Data[0].FileID)
	assert.Equal(t, "Slack.node.json", resp.Data[0].Filename)
	assert.Equal(t, "nodes/", resp.Data[0].Attributes["folder"])
}

func TestAutoRAGClient_ProviderError(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = io.WriteString(w, `{"success":false,"errors":[{"code":7003,"message":"rag not found"}],"result":null}`)
	})

	resp, err := c.Search(context.Background(), Query{Text: "x"})
	require.NoError(t, err)
	assert.Equal(t, "rag not found (code 7003)", resp.ProviderError)
	assert.Empty(t, resp.Data)
}

func TestAutoRAGClient_EmptyResult(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, `{"success":true,"result":{"data":null}}`)
	})

	resp, err := c.Search(context.Background(), Query{Text: "x"})
	require.NoError(t, err)
	assert.NotNil(t, resp.Data)
	assert.Empty(t, resp.Data)
}

func TestAutoRAGClient_TransportFailures(t *testing.T) {
	tests := []struct {
		name    string
		handler http.HandlerFunc
	}{
		{"non-json 5xx", func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusBadGateway)
			_, _ = io.WriteString(w, "upstream gone")
		}},
		{"garbled 200", func(w http.ResponseWriter, r *http.Request) {
			_, _ = io.WriteString(w, "{not json")
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := newTestClient(t, tt.handler)
			_, err := c.Search(context.Background(), Query{Text: "x"})
			assert.Error(t, err)
		})
	}

	t.Run("non-json 401 is a typed permanent failure", func(t *testing.T) {
		c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusUnauthorized)
			_, _ = io.WriteString(w, "bad token")
		})
		_, err := c.Search(context.Background(), Query{Text: "x"})
		var httpErr *fgerrors.HTTPError
		require.ErrorAs(t, err, &httpErr)
		assert.Equal(t, http.StatusUnauthorized, httpErr.StatusCode)
		assert.Equal(t, "bad token", httpErr.Message)
		assert.False(t, fgerrors.IsTransient(err))
	})

	t.Run("unreachable", func(t *testing.T) {
		srv := httptest.NewServer(http.NotFoundHandler())
		url := srv.URL
		srv.Close()
		c, err := NewAutoRAGClient("a", "b", "", WithAutoRAGBaseURL(url))
		require.NoError(t, err)
		_, err = c.Search(context.Background(), Query{Text: "x"})
		assert.Error(t, err)
	})
}

func TestNewAutoRAGClient_Validation(t *testing.T) {
	_, err := NewAutoRAGClient("", "rag", "t")
	assert.Error(t, err)
	_, err = NewAutoRAGClient("acct", " ", "t")
	assert.Error(t, err)
}
