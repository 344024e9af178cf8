// Package catalog provides the narrow contract this core has with the
// relational store: read one book's attribute record, and read/write the
// similarity relation. Book metadata is owned elsewhere; this core never
// updates it outside of the import path.
package catalog

import (
	"context"
	"errors"

	"github.com/hyperjump/osusume/internal/models"
)

// ErrBookNotFound is returned when a book id is absent from the catalog.
var ErrBookNotFound = errors.New("book not found")

// BookReader reads book attribute records.
type BookReader interface {
	// GetBook returns the book's attributes with author, publisher, and
	// sorted space-joined category names resolved.
	GetBook(ctx context.Context, id int64) (*models.Book, error)
	CountBooks(ctx context.Context) (int64, error)
}

// BookWriter creates catalog entries. Used by the import path only.
type BookWriter interface {
	// CreateBook inserts a book, resolving author/publisher/categories by
	// name (creating them as needed), and returns the new book id.
	CreateBook(ctx context.Context, b *models.Book) (int64, error)
}

// SimilarityStore persists similarity edges keyed by
// (source, target, algorithm tag).
type SimilarityStore interface {
	// ReplaceSimilar atomically replaces all edges for (source, algo) with
	// the given pairs (delete-then-insert in one transaction).
	ReplaceSimilar(ctx context.Context, source int64, pairs []models.ScoredPair, algo string) error
	// DeleteSimilarAll removes every edge where id is source or target,
	// across all algorithm tags.
	DeleteSimilarAll(ctx context.Context, id int64) error
	// QuerySimilar returns up to k neighbors of source under algo, highest
	// score first, joined with book metadata.
	QuerySimilar(ctx context.Context, source int64, algo string, k int) ([]*models.SimilarBook, error)
	CountEdges(ctx context.Context, algo string) (int64, error)
}

// Storage is the full catalog surface.
type Storage interface {
	BookReader
	BookWriter
	SimilarityStore
	Close() error
}
