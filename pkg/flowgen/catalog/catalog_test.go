package catalog

import (
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/randalmurphal/flowgen/pkg/flowgen/blob"
	"github.com/randalmurphal/flowgen/pkg/flowgen/search"
)

func openTestCatalog(t *testing.T) *SQLiteCatalog {
	t.Helper()
	c, err := Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

const (
	slackDoc = `{"name":"n8n-nodes-base.slack","displayName":"Slack","description":"Consume Slack API","codex":{"alias":["chat","message"],"categories":["Communication"]}}`
	httpDoc  = `{"name":"n8n-nodes-base.httpRequest","displayName":"HTTP Request","description":"Makes an HTTP request and returns the response data"}`
	cronDoc  = `{"name":"n8n-nodes-base.scheduleTrigger","displayName":"Schedule Trigger","description":"Triggers the workflow on a schedule","codex":{"alias":["cron","timer"]}}`
)

func seed(t *testing.T, c *SQLiteCatalog) {
	t.Helper()
	for filename, doc := range map[string]string{
		"Slack.node.json":           slackDoc,
		"HttpRequest.node.json":     httpDoc,
		"ScheduleTrigger.node.json": cronDoc,
	} {
		e, err := EntryFromDocument(filename, []byte(doc))
		require.NoError(t, err)
		_, err = c.Put(context.Background(), e)
		require.NoError(t, err)
	}
}

func TestCatalog_PutAndGet(t *testing.T) {
	ctx := context.Background()
	c := openTestCatalog(t)

	e, err := EntryFromDocument("Slack.node.json", []byte(slackDoc))
	require.NoError(t, err)
	assert.Equal(t, []string{"chat", "message", "Communication"}, e.Keywords)

	id, err := c.Put(ctx, e)
	require.NoError(t, err)
	assert.Len(t, id, 26) // ULID

	// Re-import keeps the id.
	id2, err := c.Put(ctx, e)
	require.NoError(t, err)
	assert.Equal(t, id, id2)

	n, err := c.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	body, err := c.Get(ctx, "Slack.node.json")
	require.NoError(t, err)
	assert.JSONEq(t, slackDoc, string(body))

	_, err = c.Get(ctx, "Missing.node.json")
	assert.ErrorIs(t, err, blob.ErrNotFound)
}

func TestCatalog_PutValidation(t *testing.T) {
	c := openTestCatalog(t)
	_, err := c.Put(context.Background(), Entry{Content: []byte("{}")})
	assert.Error(t, err)
	_, err = c.Put(context.Background(), Entry{Filename: "a.json"})
	assert.Error(t, err)
}

func TestCatalog_Search(t *testing.T) {
	ctx := context.Background()
	c := openTestCatalog(t)
	seed(t, c)

	t.Run("ranks display name matches first", func(t *testing.T) {
		resp, err := c.Search(ctx, search.Query{Text: "slack message", MaxResults: 15})
		require.NoError(t, err)
		require.NotEmpty(t, resp.Data)
		assert.Equal(t, "Slack.node.json", resp.Data[0].Filename)
		assert.NotEmpty(t, resp.Data[0].FileID)
		assert.Equal(t, "Slack", resp.Data[0].Attributes["displayName"])
		for _, cand := range resp.Data {
			assert.LessOrEqual(t, cand.Score, 1.0)
		}
	})

	t.Run("applies threshold", func(t *testing.T) {
		resp, err := c.Search(ctx, search.Query{Text: "http slack cron schedule", ScoreThreshold: 0.99})
		require.NoError(t, err)
		assert.Empty(t, resp.Data)
	})

	t.Run("caps results", func(t *testing.T) {
		resp, err := c.Search(ctx, search.Query{Text: "n8n-nodes-base", MaxResults: 2})
		require.NoError(t, err)
		assert.Len(t, resp.Data, 2)
	})

	t.Run("empty query", func(t *testing.T) {
		resp, err := c.Search(ctx, search.Query{Text: "  "})
		require.NoError(t, err)
		assert.NotNil(t, resp.Data)
		assert.Empty(t, resp.Data)
	})
}

func TestCatalog_ImportDir(t *testing.T) {
	ctx := context.Background()
	c := openTestCatalog(t)

	dir := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "Slack"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "Slack", "Slack.node.json"), []byte(slackDoc), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "HttpRequest.node.json"), []byte(httpDoc), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "broken.json"), []byte("{nope"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "README.md"), []byte("# nodes"), 0o644))

	res, err := c.ImportDir(ctx, dir, discardLogger())
	require.NoError(t, err)
	assert.Equal(t, 2, res.Imported)
	assert.Equal(t, []string{"broken.json"}, res.Skipped)

	body, err := c.Get(ctx, "Slack/Slack.node.json")
	require.NoError(t, err)
	assert.JSONEq(t, slackDoc, string(body))

	_, err = c.ImportDir(ctx, filepath.Join(dir, "absent"), discardLogger())
	assert.Error(t, err)
}

func TestOpen_FilePath(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "catalog.db")
	c, err := Open(path)
	require.NoError(t, err)
	seed(t, c)
	require.NoError(t, c.Close())

	reopened, err := Open(path)
	require.NoError(t, err)
	defer reopened.Close()
	n, err := reopened.Count(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3, n)
}

func TestTokenize(t *testing.T) {
	assert.Equal(t, []string{"send", "slack", "message"}, tokenize("Send SLACK message, slack!"))
	assert.Nil(t, tokenize(""))
}
