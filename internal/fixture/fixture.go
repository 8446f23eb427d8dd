// Package fixture loads offline change responses from disk. Fixtures stand
// in for the remote service in tests, demos and cold-start scenarios; large
// captures are commonly stored gzipped.
package fixture

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/beevik/etree"
	"github.com/klauspost/compress/gzip"

	"listsync/internal/sync"
)

// Load parses an XML response fixture. Files ending in .gz are transparently
// decompressed.
func Load(path string) (*etree.Document, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open fixture: %w", err)
	}
	defer f.Close()

	var reader io.Reader = f
	if strings.HasSuffix(path, ".gz") {
		gz, err := gzip.NewReader(f)
		if err != nil {
			return nil, fmt.Errorf("open gzip fixture: %w", err)
		}
		defer gz.Close()
		reader = gz
	}

	doc := etree.NewDocument()
	if _, err := doc.ReadFrom(reader); err != nil {
		return nil, fmt.Errorf("parse fixture %s: %w", path, err)
	}
	return doc, nil
}

// Executor satisfies sync.OperationExecutor from a fixture file, replaying
// the same captured response for every operation.
type Executor struct {
	Path string
}

// ExecuteOperation loads and returns the fixture document.
func (e *Executor) ExecuteOperation(ctx context.Context, q *sync.Query) (*etree.Document, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return Load(e.Path)
}
