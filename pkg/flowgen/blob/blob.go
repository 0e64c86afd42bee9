// Package blob fetches full node description documents by filename.
package blob

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

// Store retrieves documents by key. Implementations must be safe for
// concurrent use.
type Store interface {
	// Get returns the document body.
	// Returns ErrNotFound if no document exists under key.
	Get(ctx context.Context, key string) ([]byte, error)
}

// ErrNotFound indicates the key has no document.
var ErrNotFound = errors.New("blob not found")

// MemoryStore is an in-memory Store.
type MemoryStore struct {
	mu   sync.RWMutex
	docs map[string][]byte
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{docs: make(map[string][]byte)}
}

// Put stores a copy of body under key.
func (m *MemoryStore) Put(key string, body []byte) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.docs[key] = append([]byte(nil), body...)
}

// Get implements Store.
func (m *MemoryStore) Get(ctx context.Context, key string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	body, ok := m.docs[key]
	if !ok {
		return nil, ErrNotFound
	}
	return append([]byte(nil), body...), nil
}

// DirStore serves documents from files below a root directory.
// Keys are slash-separated paths relative to the root.
type DirStore struct {
	root string
}

// NewDirStore creates a DirStore rooted at dir.
func NewDirStore(dir string) (*DirStore, error) {
	info, err := os.Stat(dir)
	if err != nil {
		return nil, fmt.Errorf("open blob dir: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("open blob dir: %s is not a directory", dir)
	}
	return &DirStore{root: dir}, nil
}

// Get implements Store. Keys that escape the root are reported as missing.
func (d *DirStore) Get(ctx context.Context, key string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	rel := filepath.FromSlash(key)
	if !filepath.IsLocal(rel) {
		return nil, ErrNotFound
	}
	body, err := os.ReadFile(filepath.Join(d.root, rel))
	if errors.Is(err, os.ErrNotExist) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("read blob %q: %w", key, err)
	}
	return body, nil
}
