// Package memory is an in-process export target. The sync worker falls back
// to it when no spreadsheet is configured.
package memory

import (
	"context"
	"fmt"
	"sync"

	"budget/internal/core"
	"budget/internal/sheets"
)

type Store struct {
	mu   sync.Mutex
	rows map[core.Kind][][]any
}

var _ sheets.Exporter = (*Store)(nil)

func New() *Store {
	return &Store{rows: make(map[core.Kind][][]any)}
}

// Append stores the row and returns a synthetic row reference. An ID that is
// already exported keeps its row.
func (s *Store) Append(_ context.Context, t core.Transaction) (string, error) {
	if err := t.Validate(); err != nil {
		return "", err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, row := range s.rows[t.Kind] {
		if row[sheets.ColID] == t.ID {
			return fmt.Sprintf("mem:%s:%d", t.Kind, i+1), nil
		}
	}
	s.rows[t.Kind] = append(s.rows[t.Kind], sheets.Row(t))
	return fmt.Sprintf("mem:%s:%d", t.Kind, len(s.rows[t.Kind])), nil
}

// Remove deletes the first row carrying id.
func (s *Store) Remove(_ context.Context, kind core.Kind, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rows := s.rows[kind]
	for i, row := range rows {
		if row[sheets.ColID] == id {
			s.rows[kind] = append(rows[:i:i], rows[i+1:]...)
			return nil
		}
	}
	return fmt.Errorf("remove %s %s: %w", kind, id, sheets.ErrRowNotFound)
}

// Rows returns a copy of the exported rows of kind.
func (s *Store) Rows(kind core.Kind) [][]any {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([][]any(nil), s.rows[kind]...)
}
