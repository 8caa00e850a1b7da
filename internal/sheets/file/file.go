// Package file serves the workbook from local disk or from memory. It backs
// offline runs, the extract command and tests.
package file

import (
	"context"
	"fmt"
	"os"
	"sync"
	"time"

	"smiledash/internal/sheets"
)

var _ sheets.WorkbookFetcher = (*Store)(nil)

// Store returns either the bytes it holds or the current content of a file.
type Store struct {
	mu   sync.Mutex
	path string
	data []byte
}

// New serves a fixed payload.
func New(data []byte) *Store {
	return &Store{data: append([]byte(nil), data...)}
}

// NewFromPath reads path on every Fetch, so edits show up on the next load.
func NewFromPath(path string) *Store {
	return &Store{path: path}
}

// Replace swaps the in-memory payload.
func (s *Store) Replace(data []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data = append([]byte(nil), data...)
}

func (s *Store) Source() string {
	if s.path != "" {
		return "file:" + s.path
	}
	return "memory"
}

// Fetch returns the workbook bytes after the same content checks as a download.
func (s *Store) Fetch(ctx context.Context) (*sheets.Workbook, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var data []byte
	if s.path != "" {
		b, err := os.ReadFile(s.path)
		if err != nil {
			return nil, fmt.Errorf("read workbook: %w", err)
		}
		data = b
	} else {
		s.mu.Lock()
		data = append([]byte(nil), s.data...)
		s.mu.Unlock()
	}

	if err := sheets.ValidateContent(data, ""); err != nil {
		return nil, err
	}
	return &sheets.Workbook{Data: data, FetchedAt: time.Now()}, nil
}
