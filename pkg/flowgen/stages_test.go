package flowgen

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/randalmurphal/flowgen/pkg/flowgen/blob"
	fgerrors "github.com/randalmurphal/flowgen/pkg/flowgen/errors"
	"github.com/randalmurphal/flowgen/pkg/flowgen/llm"
	"github.com/randalmurphal/flowgen/pkg/flowgen/search"
)

func TestParseKeywords(t *testing.T) {
	tests := []struct {
		name    string
		content string
		want    []string
		wantErr bool
	}{
		{name: "valid", content: `{"keywords":["slack","send message"]}`, want: []string{"slack", "send message"}},
		{name: "empty list", content: `{"keywords":[]}`, want: []string{}},
		{name: "five keywords", content: `{"keywords":["a","b","c","d","e"]}`, want: []string{"a", "b", "c", "d", "e"}},
		{name: "surrounding whitespace", content: " \n{\"keywords\":[\"x\"]}\n", want: []string{"x"}},
		{name: "empty content", content: "", wantErr: true},
		{name: "not json", content: "slack, http", wantErr: true},
		{name: "array", content: `["slack"]`, wantErr: true},
		{name: "missing field", content: `{"words":["slack"]}`, wantErr: true},
		{name: "not an array", content: `{"keywords":"slack"}`, wantErr: true},
		{name: "null", content: `{"keywords":null}`, wantErr: true},
		{name: "number element", content: `{"keywords":["slack",3]}`, wantErr: true},
		{name: "null element", content: `{"keywords":[null]}`, wantErr: true},
		{name: "blank element", content: `{"keywords":["  "]}`, wantErr: true},
		{name: "six keywords", content: `{"keywords":["a","b","c","d","e","f"]}`, wantErr: true},
		{name: "truncated", content: `{"keywords":["a"`, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseKeywords(tt.content)
			if tt.wantErr {
				require.Error(t, err)
				assert.ErrorIs(t, err, ErrInvalidKeywordFormat)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestParseKeywords_TypedCauses(t *testing.T) {
	_, err := ParseKeywords(`{"keywords":[1]}`)
	var verr *fgerrors.ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, "keywords[0]", verr.Field)

	_, err = ParseKeywords(`{"keywords":`)
	var perr *fgerrors.JSONParseError
	require.ErrorAs(t, err, &perr)
	assert.Equal(t, `{"keywords":`, perr.Input)
}

func TestKeywordExtractor_Request(t *testing.T) {
	client := llm.NewMockClient(`{"keywords":["gmail"]}`)
	k := NewKeywordExtractor(client, "gpt-4.1-nano")

	got, err := k.Extract(context.Background(), "summarize my inbox")
	require.NoError(t, err)
	assert.Equal(t, []string{"gmail"}, got)

	req := client.LastCall()
	require.NotNil(t, req)
	assert.Equal(t, "gpt-4.1-nano", req.Model)
	assert.Equal(t, []llm.Message{{Role: llm.RoleUser, Content: "summarize my inbox"}}, req.Messages)
	require.NotNil(t, req.ResponseFormat)
	assert.Equal(t, llm.FormatJSONSchema, req.ResponseFormat.Type)
	assert.Equal(t, "keywords_object", req.ResponseFormat.Name)
	assert.True(t, req.ResponseFormat.Strict)
	assert.True(t, json.Valid(req.ResponseFormat.Schema))
}

func TestNodeSearcher(t *testing.T) {
	t.Run("joins keywords into one query", func(t *testing.T) {
		index := testIndex()
		results, err := NewNodeSearcher(index).Search(context.Background(), []string{"slack", "send message"})
		require.NoError(t, err)
		require.Len(t, results, 1)
		assert.Equal(t, "slack send message", results[0].Query)
		assert.Len(t, results[0].Data, 3)
		assert.Empty(t, results[0].Error)
		assert.Equal(t, search.Query{Text: "slack send message", MaxResults: 15, ScoreThreshold: 0.25}, index.queries[0])
	})

	t.Run("no data is an empty list", func(t *testing.T) {
		results, err := NewNodeSearcher(&fakeIndex{}).Search(context.Background(), nil)
		require.NoError(t, err)
		assert.Equal(t, []SearchResult{{Query: "", Data: []search.Candidate{}}}, results)
	})

	t.Run("provider error degrades", func(t *testing.T) {
		index := &fakeIndex{resp: search.Response{
			Data:          []search.Candidate{{FileID: "x"}},
			ProviderError: "index offline",
		}}
		results, err := NewNodeSearcher(index).Search(context.Background(), []string{"slack"})
		require.NoError(t, err)
		assert.Equal(t, []SearchResult{{Query: "slack", Data: []search.Candidate{}, Error: "index offline"}}, results)
	})

	t.Run("transport error is returned", func(t *testing.T) {
		index := &fakeIndex{err: errors.New("connection reset")}
		_, err := NewNodeSearcher(index).Search(context.Background(), []string{"slack"})
		assert.EqualError(t, err, "connection reset")
		assert.Equal(t, 1, index.calls(), "no retries by default")
	})

	t.Run("context errors are not retried", func(t *testing.T) {
		var calls atomic.Int32
		s := NewNodeSearcher(searchFunc(func(ctx context.Context, q search.Query) (search.Response, error) {
			calls.Add(1)
			return search.Response{}, context.DeadlineExceeded
		}))
		s.retry = fastRetry(5)
		_, err := s.Search(context.Background(), []string{"slack"})
		assert.ErrorIs(t, err, context.DeadlineExceeded)
		assert.Equal(t, int32(1), calls.Load())
	})
}

func TestNodeHydrator(t *testing.T) {
	cands := []search.Candidate{
		{FileID: "f-http", Filename: "http.json"},
		{FileID: "f-gone", Filename: "gone.json"},
		{FileID: "f-slack", Filename: "slack.json"},
	}

	t.Run("preserves input order", func(t *testing.T) {
		h := NewNodeHydrator(testBlobs(), 0, nil, nil)
		out, err := h.Hydrate(context.Background(), cands)
		require.NoError(t, err)
		require.Len(t, out, 3)
		assert.Equal(t, "f-http", out[0].Identity)
		assert.Equal(t, httpDoc, out[0].RawContent)
		assert.Empty(t, out[1].Identity)
		assert.Equal(t, "gone.json", out[1].Candidate.Filename)
		assert.Equal(t, "f-slack", out[2].Identity)
	})

	t.Run("empty body is a miss", func(t *testing.T) {
		blobs := blob.NewMemoryStore()
		blobs.Put("http.json", nil)
		out, err := NewNodeHydrator(blobs, 0, nil, nil).Hydrate(context.Background(), cands[:1])
		require.NoError(t, err)
		assert.Empty(t, out[0].Identity)
	})

	t.Run("respects the concurrency cap", func(t *testing.T) {
		var inFlight, peak atomic.Int32
		store := blobFunc(func(ctx context.Context, key string) ([]byte, error) {
			n := inFlight.Add(1)
			defer inFlight.Add(-1)
			for {
				p := peak.Load()
				if n <= p || peak.CompareAndSwap(p, n) {
					break
				}
			}
			time.Sleep(5 * time.Millisecond)
			return []byte(`{}`), nil
		})
		many := make([]search.Candidate, 12)
		for i := range many {
			many[i] = search.Candidate{FileID: string(rune('a' + i)), Filename: string(rune('a'+i)) + ".json"}
		}

		out, err := NewNodeHydrator(store, 2, nil, nil).Hydrate(context.Background(), many)
		require.NoError(t, err)
		assert.Len(t, out, 12)
		assert.LessOrEqual(t, peak.Load(), int32(2))
	})

	t.Run("cancelled context", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		_, err := NewNodeHydrator(testBlobs(), 0, nil, nil).Hydrate(ctx, cands)
		assert.ErrorIs(t, err, context.Canceled)
	})
}

// blobFunc adapts a function to blob.Store.
type blobFunc func(ctx context.Context, key string) ([]byte, error)

func (f blobFunc) Get(ctx context.Context, key string) ([]byte, error) { return f(ctx, key) }

func TestDeduplicate(t *testing.T) {
	in := []HydratedCandidate{
		{Identity: "a", RawContent: "first"},
		{Identity: ""},
		{Identity: "b"},
		{Identity: "a", RawContent: "second"},
		{Identity: "c"},
		{Identity: "b"},
	}

	once := Deduplicate(in)
	require.Len(t, once, 3)
	assert.Equal(t, []string{"a", "b", "c"}, identities(once))
	assert.Equal(t, "first", once[0].RawContent)

	assert.Equal(t, once, Deduplicate(once), "idempotent")
	assert.Empty(t, Deduplicate(nil))
}

func identities(items []HydratedCandidate) []string {
	out := make([]string, len(items))
	for i, item := range items {
		out[i] = item.Identity
	}
	return out
}

func TestNormalizeNodes(t *testing.T) {
	parsed := map[string]any{"kept": true}
	in := []Node{
		{FileID: "obj", Content: `{"name":"slack","version":1.50}`},
		{FileID: "arr", Content: `[1, 2]`},
		{FileID: "bad", Content: `{"name":`},
		{FileID: "trailing", Content: `{"a":1} {"b":2}`},
		{FileID: "text", Content: "plain words"},
		{FileID: "quoted", Content: `"just a string"`},
		{FileID: "blank", Content: "   "},
		{FileID: "parsed", Content: parsed},
		{FileID: "nil", Content: nil},
	}

	out := NormalizeNodes(in, nil)
	require.Len(t, out, len(in))

	assert.Equal(t, map[string]any{"name": "slack", "version": json.Number("1.50")}, out[0].Content)
	assert.Equal(t, []any{json.Number("1"), json.Number("2")}, out[1].Content)
	assert.Equal(t, `{"name":`, out[2].Content)
	assert.Equal(t, `{"a":1} {"b":2}`, out[3].Content)
	assert.Equal(t, "plain words", out[4].Content)
	assert.Equal(t, `"just a string"`, out[5].Content)
	assert.Equal(t, "   ", out[6].Content)
	assert.Equal(t, parsed, out[7].Content)
	assert.Nil(t, out[8].Content)

	assert.Equal(t, out, NormalizeNodes(out, nil), "idempotent")
	assert.Equal(t, `{"name":"slack","version":1.50}`, in[0].Content, "input untouched")
}

func TestWorkflowSynthesizer(t *testing.T) {
	nodes := []Node{{FileID: "f-slack", Filename: "slack.json", Content: map[string]any{"name": "slack"}}}

	t.Run("request shape", func(t *testing.T) {
		client := llm.NewMockClient(`{"nodes": [ ]}`)
		w := NewWorkflowSynthesizer(client, "gpt-4.1-mini", "BASE")

		got, raw, err := w.Synthesize(context.Background(), "notify me", nodes)
		require.NoError(t, err)
		assert.Equal(t, `{"nodes":[]}`, string(got))
		assert.Equal(t, `{"nodes": [ ]}`, raw)

		req := client.LastCall()
		assert.Equal(t, `BASE

Relevant nodes from search: [{"file_id":"f-slack","filename":"slack.json","content":{"name":"slack"}}]`, req.SystemPrompt)
		assert.Equal(t, []llm.Message{{Role: llm.RoleUser, Content: "notify me"}}, req.Messages)
		require.NotNil(t, req.Temperature)
		assert.Zero(t, *req.Temperature)
		assert.Equal(t, llm.JSONObject(), req.ResponseFormat)
		assert.Equal(t, "gpt-4.1-mini", req.Model)
	})

	t.Run("nil nodes encode as empty list", func(t *testing.T) {
		client := llm.NewMockClient(`{}`)
		_, _, err := NewWorkflowSynthesizer(client, "", "BASE").Synthesize(context.Background(), "x", nil)
		require.NoError(t, err)
		assert.Equal(t, "BASE\n\nRelevant nodes from search: []", client.LastCall().SystemPrompt)
	})

	t.Run("invalid output", func(t *testing.T) {
		client := llm.NewMockClient("```json\n{oops}\n```")
		_, raw, err := NewWorkflowSynthesizer(client, "", "BASE").Synthesize(context.Background(), "x", nodes)

		require.Error(t, err)
		assert.ErrorIs(t, err, ErrInvalidWorkflowJSON)
		var synthErr *SynthesisError
		require.ErrorAs(t, err, &synthErr)
		assert.Equal(t, raw, synthErr.Raw)
		var perr *fgerrors.JSONParseError
		assert.ErrorAs(t, err, &perr)
	})

	t.Run("model failure passes through", func(t *testing.T) {
		boom := errors.New("boom")
		client := llm.NewMockClient("").WithError(boom)
		_, _, err := NewWorkflowSynthesizer(client, "", "BASE").Synthesize(context.Background(), "x", nodes)
		assert.ErrorIs(t, err, boom)
		assert.NotErrorIs(t, err, ErrInvalidWorkflowJSON)
	})
}

func TestWorkflowPrompt(t *testing.T) {
	assert.Contains(t, DefaultWorkflowPrompt(), "n8n")

	dir := t.TempDir()
	path := filepath.Join(dir, "prompt.md")
	require.NoError(t, os.WriteFile(path, []byte("\n  Custom prompt.\n"), 0o600))
	got, err := LoadWorkflowPrompt(path)
	require.NoError(t, err)
	assert.Equal(t, "Custom prompt.", got)

	empty := filepath.Join(dir, "empty.md")
	require.NoError(t, os.WriteFile(empty, []byte("  \n"), 0o600))
	_, err = LoadWorkflowPrompt(empty)
	assert.Error(t, err)

	_, err = LoadWorkflowPrompt(filepath.Join(dir, "missing.md"))
	assert.Error(t, err)
}
