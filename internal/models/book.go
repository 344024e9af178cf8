// Package models defines core data structures for books, similarity edges, and snapshot metadata.
package models

import "time"

// Book represents a catalog entry with the attributes used for feature composition.
// Attribute ownership lives in the catalog store; this core only reads them.
type Book struct {
	ID              int64     `json:"book_id" db:"book_id"`
	Title           string    `json:"title" db:"title"`
	Description     string    `json:"description" db:"description"`
	AuthorName      string    `json:"author_name" db:"author_name"`
	PublisherName   string    `json:"publisher_name" db:"publisher_name"`
	Format          string    `json:"format" db:"format"`
	Language        string    `json:"language" db:"language"`
	PublicationYear int       `json:"publication_year" db:"publication_year"`
	Categories      string    `json:"categories" db:"categories"` // space-joined, sorted category names
	CreatedAt       time.Time `json:"created_at,omitempty" db:"created_at"`
	UpdatedAt       time.Time `json:"updated_at,omitempty" db:"updated_at"`
}

// SimilarityEdge is one scored (source, target) relationship under an algorithm tag.
type SimilarityEdge struct {
	BookID        int64   `json:"book_id" db:"book_id"`
	SimilarBookID int64   `json:"similar_book_id" db:"similar_book_id"`
	Score         float64 `json:"score" db:"score"`
	AlgoType      string  `json:"algo_type" db:"algo_type"`
}

// SimilarBook is the read-path row: an edge joined with the target's metadata.
type SimilarBook struct {
	BookID     int64   `json:"book_id"`
	Title      string  `json:"title"`
	AuthorName string  `json:"author_name"`
	Score      float64 `json:"score"`
	Reason     string  `json:"reason"`
}

// ScoredPair is a (target id, score) pair produced by the similarity engine.
type ScoredPair struct {
	BookID int64   `json:"book_id"`
	Score  float64 `json:"score"`
}

// SnapshotMeta records the last mutation applied to the model snapshot.
// Informational only; correctness does not depend on it.
type SnapshotMeta struct {
	Op        string    `json:"op"`      // "add", "update", "delete", "rebuild"
	OpID      string    `json:"op_id"`   // uuid of the mutation
	BookID    int64     `json:"book_id"` // affected book
	Rows      int       `json:"rows"`    // row count after the mutation
	UpdatedAt time.Time `json:"updated_at"`
}
