package catalog

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/hyperjump/osusume/internal/models"
)

func newTestStorage(t *testing.T) *SQLiteStorage {
	t.Helper()
	store, err := NewSQLiteStorage(filepath.Join(t.TempDir(), "catalog.db"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

func mustCreate(t *testing.T, store *SQLiteStorage, b *models.Book) int64 {
	t.Helper()
	id, err := store.CreateBook(context.Background(), b)
	if err != nil {
		t.Fatal(err)
	}
	return id
}

func TestCreateAndGetBook(t *testing.T) {
	store := newTestStorage(t)
	ctx := context.Background()

	id := mustCreate(t, store, &models.Book{
		Title:           "Dune",
		Description:     "spice and sandworms",
		AuthorName:      "Frank Herbert",
		PublisherName:   "Ace Books",
		Format:          "paperback",
		Language:        "english",
		PublicationYear: 1965,
		Categories:      "scifi fiction classics",
	})

	got, err := store.GetBook(ctx, id)
	if err != nil {
		t.Fatal(err)
	}
	if got.Title != "Dune" || got.AuthorName != "Frank Herbert" || got.PublisherName != "Ace Books" {
		t.Errorf("got %+v", got)
	}
	if got.PublicationYear != 1965 {
		t.Errorf("year = %d", got.PublicationYear)
	}
	// Categories come back sorted and space-joined.
	if got.Categories != "classics fiction scifi" {
		t.Errorf("categories = %q, want sorted join", got.Categories)
	}

	n, err := store.CountBooks(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if n != 1 {
		t.Errorf("CountBooks = %d, want 1", n)
	}
}

func TestGetBookNotFound(t *testing.T) {
	store := newTestStorage(t)
	_, err := store.GetBook(context.Background(), 12345)
	if !errors.Is(err, ErrBookNotFound) {
		t.Fatalf("err = %v, want ErrBookNotFound", err)
	}
}

func TestGetBookMissingAttributes(t *testing.T) {
	store := newTestStorage(t)
	id := mustCreate(t, store, &models.Book{Title: "Anonymous Work"})

	got, err := store.GetBook(context.Background(), id)
	if err != nil {
		t.Fatal(err)
	}
	if got.AuthorName != "" || got.PublisherName != "" || got.Categories != "" || got.PublicationYear != 0 {
		t.Errorf("missing attributes should be empty: %+v", got)
	}
}

func TestCreateBookSharesNames(t *testing.T) {
	store := newTestStorage(t)
	ctx := context.Background()

	a := mustCreate(t, store, &models.Book{Title: "One", AuthorName: "Same Author"})
	b := mustCreate(t, store, &models.Book{Title: "Two", AuthorName: "Same Author"})

	ga, _ := store.GetBook(ctx, a)
	gb, _ := store.GetBook(ctx, b)
	if ga.AuthorName != gb.AuthorName {
		t.Errorf("author rows not shared: %q vs %q", ga.AuthorName, gb.AuthorName)
	}
}

func TestReplaceSimilar(t *testing.T) {
	store := newTestStorage(t)
	ctx := context.Background()

	src := mustCreate(t, store, &models.Book{Title: "Source"})
	t1 := mustCreate(t, store, &models.Book{Title: "Target One"})
	t2 := mustCreate(t, store, &models.Book{Title: "Target Two"})

	if err := store.ReplaceSimilar(ctx, src, []models.ScoredPair{
		{BookID: t1, Score: 0.9},
		{BookID: t2, Score: 0.5},
	}, "TFIDF"); err != nil {
		t.Fatal(err)
	}

	got, err := store.QuerySimilar(ctx, src, "TFIDF", 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 2 {
		t.Fatalf("len = %d, want 2", len(got))
	}
	if got[0].BookID != t1 || got[0].Score != 0.9 {
		t.Errorf("first = %+v", got[0])
	}
	if got[0].Reason != "cb_tfidf" {
		t.Errorf("reason = %q", got[0].Reason)
	}
	if got[0].Title != "Target One" {
		t.Errorf("title = %q", got[0].Title)
	}

	// Replace supersedes prior edges entirely.
	if err := store.ReplaceSimilar(ctx, src, []models.ScoredPair{{BookID: t2, Score: 0.7}}, "TFIDF"); err != nil {
		t.Fatal(err)
	}
	got, _ = store.QuerySimilar(ctx, src, "TFIDF", 10)
	if len(got) != 1 || got[0].BookID != t2 || got[0].Score != 0.7 {
		t.Errorf("after replace: %+v", got)
	}

	// Other algorithm tags are untouched by replace.
	if err := store.ReplaceSimilar(ctx, src, []models.ScoredPair{{BookID: t1, Score: 0.2}}, "CF"); err != nil {
		t.Fatal(err)
	}
	tf, _ := store.CountEdges(ctx, "TFIDF")
	cf, _ := store.CountEdges(ctx, "CF")
	if tf != 1 || cf != 1 {
		t.Errorf("edge counts tfidf=%d cf=%d, want 1/1", tf, cf)
	}
}

func TestReplaceSimilarRefusesSelfEdge(t *testing.T) {
	store := newTestStorage(t)
	src := mustCreate(t, store, &models.Book{Title: "Self"})
	err := store.ReplaceSimilar(context.Background(), src, []models.ScoredPair{{BookID: src, Score: 1}}, "TFIDF")
	if err == nil {
		t.Fatal("expected error inserting self-edge")
	}
}

func TestDeleteSimilarAllBothDirections(t *testing.T) {
	store := newTestStorage(t)
	ctx := context.Background()

	a := mustCreate(t, store, &models.Book{Title: "A"})
	b := mustCreate(t, store, &models.Book{Title: "B"})
	c := mustCreate(t, store, &models.Book{Title: "C"})

	_ = store.ReplaceSimilar(ctx, a, []models.ScoredPair{{BookID: b, Score: 0.8}, {BookID: c, Score: 0.3}}, "TFIDF")
	_ = store.ReplaceSimilar(ctx, b, []models.ScoredPair{{BookID: a, Score: 0.8}}, "TFIDF")
	_ = store.ReplaceSimilar(ctx, c, []models.ScoredPair{{BookID: a, Score: 0.3}}, "CF")

	if err := store.DeleteSimilarAll(ctx, a); err != nil {
		t.Fatal(err)
	}

	total, _ := store.CountEdges(ctx, "")
	if total != 0 {
		t.Errorf("edges touching a survive across tags: %d left", total)
	}

	// Idempotent: deleting again is a no-op success.
	if err := store.DeleteSimilarAll(ctx, a); err != nil {
		t.Fatal(err)
	}
}
