// Package snapshot owns the persisted model triple: frozen vectorizer,
// sparse feature matrix, and the book-id list whose order mirrors the
// matrix rows.
package snapshot

import (
	"fmt"

	"github.com/hyperjump/osusume/internal/models"
	"github.com/hyperjump/osusume/internal/vector"
	"github.com/hyperjump/osusume/internal/vectorizer"
)

// Snapshot is an in-memory model snapshot. Row i of the matrix belongs to
// IDs()[i]; every mutation is a paired (row, id) operation so the alignment
// invariant holds at all times. The vectorizer is immutable for the
// snapshot's lifetime.
type Snapshot struct {
	Vectorizer *vectorizer.Vectorizer
	Meta       models.SnapshotMeta

	rows []vector.Sparse
	ids  []int64
	pos  map[int64]int
}

// NewSnapshot builds a snapshot from parallel row and id slices.
func NewSnapshot(vz *vectorizer.Vectorizer, rows []vector.Sparse, ids []int64, meta models.SnapshotMeta) (*Snapshot, error) {
	if len(rows) != len(ids) {
		return nil, fmt.Errorf("snapshot: %d rows but %d ids", len(rows), len(ids))
	}
	pos := make(map[int64]int, len(ids))
	for i, id := range ids {
		if _, dup := pos[id]; dup {
			return nil, fmt.Errorf("snapshot: duplicate book id %d", id)
		}
		pos[id] = i
	}
	return &Snapshot{Vectorizer: vz, Meta: meta, rows: rows, ids: ids, pos: pos}, nil
}

// Rows returns the matrix row count.
func (s *Snapshot) Rows() int {
	return len(s.rows)
}

// Matrix returns the row arena. Callers must not mutate it directly.
func (s *Snapshot) Matrix() []vector.Sparse {
	return s.rows
}

// IDs returns the ordered book-id list. Callers must not mutate it.
func (s *Snapshot) IDs() []int64 {
	return s.ids
}

// IDAt returns the book id for row i.
func (s *Snapshot) IDAt(i int) int64 {
	return s.ids[i]
}

// IndexOf returns the row index for a book id.
func (s *Snapshot) IndexOf(id int64) (int, bool) {
	i, ok := s.pos[id]
	return i, ok
}

// Append adds a new (row, id) pair at the end of the matrix.
func (s *Snapshot) Append(id int64, row vector.Sparse) error {
	if _, dup := s.pos[id]; dup {
		return fmt.Errorf("snapshot: book %d already present", id)
	}
	s.pos[id] = len(s.rows)
	s.rows = append(s.rows, row)
	s.ids = append(s.ids, id)
	return nil
}

// Replace swaps the vector at row i in place. The id list is untouched.
func (s *Snapshot) Replace(i int, row vector.Sparse) error {
	if i < 0 || i >= len(s.rows) {
		return fmt.Errorf("snapshot: row %d out of range [0,%d)", i, len(s.rows))
	}
	s.rows[i] = row
	return nil
}

// Remove deletes row i and its id, compacting the arena in order and
// rebuilding the id-to-position map.
func (s *Snapshot) Remove(i int) error {
	if i < 0 || i >= len(s.rows) {
		return fmt.Errorf("snapshot: row %d out of range [0,%d)", i, len(s.rows))
	}
	delete(s.pos, s.ids[i])
	s.rows = append(s.rows[:i], s.rows[i+1:]...)
	s.ids = append(s.ids[:i], s.ids[i+1:]...)
	for j := i; j < len(s.ids); j++ {
		s.pos[s.ids[j]] = j
	}
	return nil
}
