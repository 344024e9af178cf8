// SQLite implementation of the catalog contract.
package catalog

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/hyperjump/osusume/internal/models"
)

// SQLiteStorage implements Storage using SQLite.
type SQLiteStorage struct {
	db *sql.DB
}

// NewSQLiteStorage opens or creates a SQLite database at dbPath and
// initializes the schema. Parent directories are created if they do not
// exist.
func NewSQLiteStorage(dbPath string) (*SQLiteStorage, error) {
	if dir := filepath.Dir(dbPath); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to enable WAL: %w", err)
	}
	if _, err := db.Exec("PRAGMA foreign_keys=ON"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to enable foreign keys: %w", err)
	}

	if err := initSchema(db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return &SQLiteStorage{db: db}, nil
}

func initSchema(db *sql.DB) error {
	schema := `
	CREATE TABLE IF NOT EXISTS authors (
		author_id INTEGER PRIMARY KEY AUTOINCREMENT,
		author_name TEXT NOT NULL UNIQUE
	);

	CREATE TABLE IF NOT EXISTS publishers (
		publisher_id INTEGER PRIMARY KEY AUTOINCREMENT,
		publisher_name TEXT NOT NULL UNIQUE
	);

	CREATE TABLE IF NOT EXISTS categories (
		category_id INTEGER PRIMARY KEY AUTOINCREMENT,
		category_name TEXT NOT NULL UNIQUE
	);

	CREATE TABLE IF NOT EXISTS books (
		book_id INTEGER PRIMARY KEY AUTOINCREMENT,
		title TEXT NOT NULL,
		description TEXT,
		author_id INTEGER REFERENCES authors(author_id),
		publisher_id INTEGER REFERENCES publishers(publisher_id),
		format TEXT,
		language TEXT,
		publication_year INTEGER,
		created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
		updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
	);

	CREATE TABLE IF NOT EXISTS book_categories (
		book_id INTEGER NOT NULL REFERENCES books(book_id) ON DELETE CASCADE,
		category_id INTEGER NOT NULL REFERENCES categories(category_id),
		PRIMARY KEY (book_id, category_id)
	);

	CREATE TABLE IF NOT EXISTS similar_books (
		book_id INTEGER NOT NULL,
		similar_book_id INTEGER NOT NULL,
		score REAL NOT NULL,
		algo_type TEXT NOT NULL,
		PRIMARY KEY (book_id, similar_book_id, algo_type)
	);

	CREATE INDEX IF NOT EXISTS idx_similar_books_target ON similar_books(similar_book_id);
	CREATE INDEX IF NOT EXISTS idx_similar_books_source_algo ON similar_books(book_id, algo_type);
	`
	_, err := db.Exec(schema)
	return err
}

// GetBook returns a book's attribute record with author, publisher, and
// sorted categories resolved.
func (s *SQLiteStorage) GetBook(ctx context.Context, id int64) (*models.Book, error) {
	var b models.Book
	var desc, author, publisher, format, language sql.NullString
	var year sql.NullInt64

	err := s.db.QueryRowContext(ctx,
		`SELECT b.book_id, b.title, b.description, a.author_name, p.publisher_name,
		        b.format, b.language, b.publication_year, b.created_at, b.updated_at
		 FROM books b
		 LEFT JOIN authors a ON b.author_id = a.author_id
		 LEFT JOIN publishers p ON b.publisher_id = p.publisher_id
		 WHERE b.book_id = ?`, id,
	).Scan(&b.ID, &b.Title, &desc, &author, &publisher, &format, &language, &year, &b.CreatedAt, &b.UpdatedAt)

	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("%w: %d", ErrBookNotFound, id)
	}
	if err != nil {
		return nil, err
	}
	b.Description = desc.String
	b.AuthorName = author.String
	b.PublisherName = publisher.String
	b.Format = format.String
	b.Language = language.String
	b.PublicationYear = int(year.Int64)

	cats, err := s.bookCategories(ctx, id)
	if err != nil {
		return nil, err
	}
	b.Categories = strings.Join(cats, " ")
	return &b, nil
}

func (s *SQLiteStorage) bookCategories(ctx context.Context, id int64) ([]string, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT c.category_name
		 FROM book_categories bc
		 JOIN categories c ON c.category_id = bc.category_id
		 WHERE bc.book_id = ?
		 ORDER BY c.category_name`, id,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		names = append(names, name)
	}
	return names, rows.Err()
}

// CountBooks returns the total number of books.
func (s *SQLiteStorage) CountBooks(ctx context.Context) (int64, error) {
	var count int64
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM books`).Scan(&count)
	return count, err
}

// CreateBook inserts a book, creating author/publisher/category rows by
// name as needed. Category names come space-joined in b.Categories.
func (s *SQLiteStorage) CreateBook(ctx context.Context, b *models.Book) (int64, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer tx.Rollback()

	authorID, err := upsertName(ctx, tx, "authors", "author_id", "author_name", b.AuthorName)
	if err != nil {
		return 0, fmt.Errorf("resolve author: %w", err)
	}
	publisherID, err := upsertName(ctx, tx, "publishers", "publisher_id", "publisher_name", b.PublisherName)
	if err != nil {
		return 0, fmt.Errorf("resolve publisher: %w", err)
	}

	now := time.Now()
	b.CreatedAt = now
	b.UpdatedAt = now
	res, err := tx.ExecContext(ctx,
		`INSERT INTO books (title, description, author_id, publisher_id, format, language, publication_year, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		b.Title, b.Description, authorID, publisherID, b.Format, b.Language,
		nullableYear(b.PublicationYear), b.CreatedAt, b.UpdatedAt,
	)
	if err != nil {
		return 0, err
	}
	bookID, err := res.LastInsertId()
	if err != nil {
		return 0, err
	}

	for _, name := range strings.Fields(b.Categories) {
		catID, err := upsertName(ctx, tx, "categories", "category_id", "category_name", name)
		if err != nil {
			return 0, fmt.Errorf("resolve category %q: %w", name, err)
		}
		if catID == nil {
			continue
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT OR IGNORE INTO book_categories (book_id, category_id) VALUES (?, ?)`,
			bookID, *catID,
		); err != nil {
			return 0, err
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, err
	}
	b.ID = bookID
	return bookID, nil
}

// upsertName inserts a name row if absent and returns its id; nil for an
// empty name.
func upsertName(ctx context.Context, tx *sql.Tx, table, idCol, nameCol, name string) (*int64, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, nil
	}
	if _, err := tx.ExecContext(ctx,
		fmt.Sprintf(`INSERT OR IGNORE INTO %s (%s) VALUES (?)`, table, nameCol), name,
	); err != nil {
		return nil, err
	}
	var id int64
	err := tx.QueryRowContext(ctx,
		fmt.Sprintf(`SELECT %s FROM %s WHERE %s = ?`, idCol, table, nameCol), name,
	).Scan(&id)
	if err != nil {
		return nil, err
	}
	return &id, nil
}

func nullableYear(y int) interface{} {
	if y <= 0 {
		return nil
	}
	return y
}

// ReplaceSimilar replaces all edges for (source, algo) with pairs in one
// transaction. Self-edges are refused.
func (s *SQLiteStorage) ReplaceSimilar(ctx context.Context, source int64, pairs []models.ScoredPair, algo string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx,
		`DELETE FROM similar_books WHERE book_id = ? AND algo_type = ?`, source, algo,
	); err != nil {
		return err
	}

	if len(pairs) > 0 {
		stmt, err := tx.PrepareContext(ctx,
			`INSERT INTO similar_books (book_id, similar_book_id, score, algo_type) VALUES (?, ?, ?, ?)`,
		)
		if err != nil {
			return err
		}
		defer stmt.Close()
		for _, p := range pairs {
			if p.BookID == source {
				return fmt.Errorf("refusing self-edge for book %d", source)
			}
			if _, err := stmt.ExecContext(ctx, source, p.BookID, p.Score, algo); err != nil {
				return err
			}
		}
	}
	return tx.Commit()
}

// DeleteSimilarAll removes every edge touching id, in either direction,
// across all algorithm tags.
func (s *SQLiteStorage) DeleteSimilarAll(ctx context.Context, id int64) error {
	_, err := s.db.ExecContext(ctx,
		`DELETE FROM similar_books WHERE book_id = ? OR similar_book_id = ?`, id, id,
	)
	return err
}

// QuerySimilar returns up to k neighbors of source under algo, highest score
// first, joined with book metadata.
func (s *SQLiteStorage) QuerySimilar(ctx context.Context, source int64, algo string, k int) ([]*models.SimilarBook, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT sb.similar_book_id, b.title, COALESCE(a.author_name, ''), sb.score
		 FROM similar_books sb
		 JOIN books b ON b.book_id = sb.similar_book_id
		 LEFT JOIN authors a ON b.author_id = a.author_id
		 WHERE sb.book_id = ? AND sb.algo_type = ?
		 ORDER BY sb.score DESC, sb.similar_book_id
		 LIMIT ?`, source, algo, k,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	reason := "cb_" + strings.ToLower(algo)
	var result []*models.SimilarBook
	for rows.Next() {
		sb := &models.SimilarBook{Reason: reason}
		if err := rows.Scan(&sb.BookID, &sb.Title, &sb.AuthorName, &sb.Score); err != nil {
			return nil, err
		}
		result = append(result, sb)
	}
	return result, rows.Err()
}

// CountEdges returns the number of edges under algo; all algos when algo is
// empty.
func (s *SQLiteStorage) CountEdges(ctx context.Context, algo string) (int64, error) {
	var count int64
	var err error
	if algo == "" {
		err = s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM similar_books`).Scan(&count)
	} else {
		err = s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM similar_books WHERE algo_type = ?`, algo).Scan(&count)
	}
	return count, err
}

// Close closes the database connection.
func (s *SQLiteStorage) Close() error {
	return s.db.Close()
}
