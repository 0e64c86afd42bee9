// Package catalog is a local node catalog stored in SQLite. It serves both
// as a keyword-scored search.Index and as the blob.Store holding full node
// descriptions, so the pipeline can run without the hosted search and
// object storage services.
package catalog

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"math/rand"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
	_ "modernc.org/sqlite"

	"github.com/randalmurphal/flowgen/pkg/flowgen/blob"
	"github.com/randalmurphal/flowgen/pkg/flowgen/search"
)

// Per-term field weights for keyword scoring.
const (
	weightDisplayName = 6
	weightName        = 4
	weightKeywords    = 3
	weightDescription = 2
	weightPerTerm     = weightDisplayName + weightName + weightKeywords + weightDescription

	defaultMaxResults = 15
)

// Entry is one node description in the catalog.
type Entry struct {
	FileID      string
	Filename    string
	Name        string
	DisplayName string
	Description string
	Keywords    []string
	Content     []byte
}

// SQLiteCatalog implements search.Index and blob.Store over SQLite.
type SQLiteCatalog struct {
	db *sql.DB

	mu      sync.Mutex // guards entropy
	entropy *rand.Rand
}

var (
	_ search.Index = (*SQLiteCatalog)(nil)
	_ blob.Store   = (*SQLiteCatalog)(nil)
)

// Open opens or creates a catalog at path. Use ":memory:" for tests.
func Open(path string) (*SQLiteCatalog, error) {
	dsn := path
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("create catalog dir: %w", err)
		}
		dsn = path + "?_pragma=journal_mode(wal)&_pragma=busy_timeout(5000)"
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open catalog: %w", err)
	}
	if path == ":memory:" {
		db.SetMaxOpenConns(1)
	}

	c := &SQLiteCatalog{
		db:      db,
		entropy: rand.New(rand.NewSource(time.Now().UnixNano())),
	}
	if err := c.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return c, nil
}

func (c *SQLiteCatalog) migrate() error {
	_, err := c.db.Exec(`
	CREATE TABLE IF NOT EXISTS nodes (
		file_id      TEXT PRIMARY KEY,
		filename     TEXT NOT NULL UNIQUE,
		name         TEXT NOT NULL DEFAULT '',
		display_name TEXT NOT NULL DEFAULT '',
		description  TEXT NOT NULL DEFAULT '',
		keywords     TEXT NOT NULL DEFAULT '',
		content      BLOB NOT NULL,
		updated_at   TEXT NOT NULL
	);
	`)
	return err
}

func (c *SQLiteCatalog) newID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return ulid.MustNew(ulid.Timestamp(time.Now()), c.entropy).String()
}

// Close closes the database.
func (c *SQLiteCatalog) Close() error {
	return c.db.Close()
}

// Put inserts or replaces the entry with the same filename. An existing
// entry keeps its file_id; a new entry without one gets a fresh ULID.
func (c *SQLiteCatalog) Put(ctx context.Context, e Entry) (string, error) {
	if strings.TrimSpace(e.Filename) == "" {
		return "", errors.New("catalog: entry filename is required")
	}
	if len(e.Content) == 0 {
		return "", fmt.Errorf("catalog: entry %q has no content", e.Filename)
	}
	fileID := e.FileID
	if fileID == "" {
		fileID = c.newID()
	}

	_, err := c.db.ExecContext(ctx, `
		INSERT INTO nodes (file_id, filename, name, display_name, description, keywords, content, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(filename) DO UPDATE SET
			name = excluded.name,
			display_name = excluded.display_name,
			description = excluded.description,
			keywords = excluded.keywords,
			content = excluded.content,
			updated_at = excluded.updated_at
	`, fileID, e.Filename, e.Name, e.DisplayName, e.Description,
		strings.Join(e.Keywords, " "), e.Content, time.Now().UTC().Format(time.RFC3339Nano))
	if err != nil {
		return "", fmt.Errorf("put %q: %w", e.Filename, err)
	}

	var stored string
	if err := c.db.QueryRowContext(ctx, `SELECT file_id FROM nodes WHERE filename = ?`, e.Filename).Scan(&stored); err != nil {
		return "", fmt.Errorf("put %q: %w", e.Filename, err)
	}
	return stored, nil
}

// Count returns the number of entries.
func (c *SQLiteCatalog) Count(ctx context.Context) (int, error) {
	var n int
	if err := c.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM nodes`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count nodes: %w", err)
	}
	return n, nil
}

// Get implements blob.Store, keyed by filename.
func (c *SQLiteCatalog) Get(ctx context.Context, key string) ([]byte, error) {
	var content []byte
	err := c.db.QueryRowContext(ctx, `SELECT content FROM nodes WHERE filename = ?`, key).Scan(&content)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, blob.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get %q: %w", key, err)
	}
	return content, nil
}

type scoredRow struct {
	fileID, filename, name, displayName string
	score                               float64
}

// Search implements search.Index with keyword scoring over the name,
// display name, keywords and description of every entry. Scores are
// normalized to [0, 1].
func (c *SQLiteCatalog) Search(ctx context.Context, q search.Query) (search.Response, error) {
	terms := tokenize(q.Text)
	if len(terms) == 0 {
		return search.Response{Data: []search.Candidate{}}, nil
	}
	maxResults := q.MaxResults
	if maxResults <= 0 {
		maxResults = defaultMaxResults
	}

	rows, err := c.db.QueryContext(ctx,
		`SELECT file_id, filename, name, display_name, description, keywords FROM nodes`)
	if err != nil {
		return search.Response{}, fmt.Errorf("search nodes: %w", err)
	}
	defer rows.Close()

	var matches []scoredRow
	for rows.Next() {
		var r scoredRow
		var description, keywords string
		if err := rows.Scan(&r.fileID, &r.filename, &r.name, &r.displayName, &description, &keywords); err != nil {
			return search.Response{}, fmt.Errorf("scan node: %w", err)
		}
		r.score = scoreEntry(terms, r.displayName, r.name, keywords, description)
		if r.score <= 0 || r.score < q.ScoreThreshold {
			continue
		}
		matches = append(matches, r)
	}
	if err := rows.Err(); err != nil {
		return search.Response{}, fmt.Errorf("search nodes: %w", err)
	}

	sort.Slice(matches, func(i, j int) bool {
		if matches[i].score == matches[j].score {
			return matches[i].filename < matches[j].filename
		}
		return matches[i].score > matches[j].score
	})
	if len(matches) > maxResults {
		matches = matches[:maxResults]
	}

	data := make([]search.Candidate, 0, len(matches))
	for _, m := range matches {
		data = append(data, search.Candidate{
			FileID:   m.fileID,
			Filename: m.filename,
			Score:    m.score,
			Attributes: map[string]any{
				"name":        m.name,
				"displayName": m.displayName,
			},
		})
	}
	return search.Response{Data: data}, nil
}

func scoreEntry(terms []string, displayName, name, keywords, description string) float64 {
	displayName = strings.ToLower(displayName)
	name = strings.ToLower(name)
	keywords = strings.ToLower(keywords)
	description = strings.ToLower(description)

	score := 0
	for _, term := range terms {
		if strings.Contains(displayName, term) {
			score += weightDisplayName
		}
		if strings.Contains(name, term) {
			score += weightName
		}
		if strings.Contains(keywords, term) {
			score += weightKeywords
		}
		if strings.Contains(description, term) {
			score += weightDescription
		}
	}
	return float64(score) / float64(weightPerTerm*len(terms))
}

func tokenize(input string) []string {
	input = strings.ToLower(strings.TrimSpace(input))
	if input == "" {
		return nil
	}
	parts := strings.FieldsFunc(input, func(r rune) bool {
		return !(r == '_' || r == '-' || (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9'))
	})
	out := make([]string, 0, len(parts))
	seen := make(map[string]struct{}, len(parts))
	for _, part := range parts {
		if _, ok := seen[part]; ok {
			continue
		}
		seen[part] = struct{}{}
		out = append(out, part)
	}
	return out
}

// nodeDocument is the subset of an n8n node type description the catalog
// indexes.
type nodeDocument struct {
	Name        string `json:"name"`
	DisplayName string `json:"displayName"`
	Description string `json:"description"`
	Codex       struct {
		Alias      []string `json:"alias"`
		Categories []string `json:"categories"`
	} `json:"codex"`
}

// EntryFromDocument builds an Entry from a node description JSON document.
func EntryFromDocument(filename string, body []byte) (Entry, error) {
	var doc nodeDocument
	if err := json.Unmarshal(body, &doc); err != nil {
		return Entry{}, fmt.Errorf("parse %s: %w", filename, err)
	}
	if doc.Name == "" && doc.DisplayName == "" {
		return Entry{}, fmt.Errorf("parse %s: missing name and displayName", filename)
	}
	keywords := append(append([]string(nil), doc.Codex.Alias...), doc.Codex.Categories...)
	return Entry{
		Filename:    filename,
		Name:        doc.Name,
		DisplayName: doc.DisplayName,
		Description: doc.Description,
		Keywords:    keywords,
		Content:     body,
	}, nil
}
