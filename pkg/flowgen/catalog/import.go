package catalog

import (
	"context"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
)

// ImportResult summarizes an ImportDir call.
type ImportResult struct {
	Imported int
	Skipped  []string
}

// ImportDir loads every *.json file below dir. Filenames are stored as
// slash-separated paths relative to dir. Documents that fail to parse are
// skipped and logged; I/O and database errors abort the import.
func (c *SQLiteCatalog) ImportDir(ctx context.Context, dir string, logger *slog.Logger) (ImportResult, error) {
	if logger == nil {
		logger = slog.Default()
	}
	var res ImportResult

	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if d.IsDir() || !strings.EqualFold(filepath.Ext(path), ".json") {
			return nil
		}

		rel, err := filepath.Rel(dir, path)
		if err != nil {
			return err
		}
		filename := filepath.ToSlash(rel)

		body, err := os.ReadFile(path)
		if err != nil {
			return fmt.Errorf("read %s: %w", filename, err)
		}
		entry, err := EntryFromDocument(filename, body)
		if err != nil {
			logger.Warn("skipping node document",
				slog.String("filename", filename),
				slog.String("error", err.Error()),
			)
			res.Skipped = append(res.Skipped, filename)
			return nil
		}
		if _, err := c.Put(ctx, entry); err != nil {
			return err
		}
		res.Imported++
		return nil
	})
	if err != nil {
		return res, fmt.Errorf("import %s: %w", dir, err)
	}

	logger.Info("catalog import finished",
		slog.String("dir", dir),
		slog.Int("imported", res.Imported),
		slog.Int("skipped", len(res.Skipped)),
	)
	return res, nil
}
