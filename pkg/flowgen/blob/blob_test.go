package blob

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryStore(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	_, err := s.Get(ctx, "missing.json")
	assert.ErrorIs(t, err, ErrNotFound)

	body := []byte(`{"name":"http"}`)
	s.Put("http.json", body)
	body[0] = 'X' // Put copies

	got, err := s.Get(ctx, "http.json")
	require.NoError(t, err)
	assert.Equal(t, `{"name":"http"}`, string(got))

	cancelled, cancel := context.WithCancel(ctx)
	cancel()
	_, err = s.Get(cancelled, "http.json")
	assert.ErrorIs(t, err, context.Canceled)
}

func TestDirStore(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "nodes"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "nodes", "slack.json"), []byte(`{"name":"slack"}`), 0o644))

	s, err := NewDirStore(dir)
	require.NoError(t, err)

	got, err := s.Get(ctx, "nodes/slack.json")
	require.NoError(t, err)
	assert.Equal(t, `{"name":"slack"}`, string(got))

	tests := []string{"nodes/none.json", "../etc/passwd", "/etc/passwd", ""}
	for _, key := range tests {
		t.Run(key, func(t *testing.T) {
			_, err := s.Get(ctx, key)
			assert.ErrorIs(t, err, ErrNotFound)
		})
	}
}

func TestNewDirStore_Invalid(t *testing.T) {
	_, err := NewDirStore(filepath.Join(t.TempDir(), "absent"))
	assert.Error(t, err)

	file := filepath.Join(t.TempDir(), "f")
	require.NoError(t, os.WriteFile(file, nil, 0o644))
	_, err = NewDirStore(file)
	assert.Error(t, err)
}
