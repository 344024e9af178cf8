// Package integration provides end-to-end tests (requires real storage and a model snapshot).
package integration

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strconv"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/hyperjump/osusume/internal/catalog"
	"github.com/hyperjump/osusume/internal/config"
	"github.com/hyperjump/osusume/internal/lock"
	"github.com/hyperjump/osusume/internal/models"
	"github.com/hyperjump/osusume/internal/mutator"
	"github.com/hyperjump/osusume/internal/server"
	"github.com/hyperjump/osusume/internal/snapshot"
	"github.com/hyperjump/osusume/internal/vectorizer"
)

func TestIntegration_IncrementalWorkflow(t *testing.T) {
	dir := t.TempDir()

	storage, err := catalog.NewSQLiteStorage(filepath.Join(dir, "catalog.db"))
	if err != nil {
		t.Fatal(err)
	}
	defer storage.Close()

	modelDir := filepath.Join(dir, "model")
	store, err := snapshot.NewStore(modelDir)
	if err != nil {
		t.Fatal(err)
	}
	vz, err := vectorizer.New(
		[]string{"dune", "spice", "arrakis", "dragons", "magic", "herbert"},
		[]float32{1, 1, 1, 1, 1, 1},
	)
	if err != nil {
		t.Fatal(err)
	}
	// The batch rebuild writes the vectorizer artifact before any incremental
	// mutation can run.
	if err := vz.Save(filepath.Join(modelDir, snapshot.VectorizerFile)); err != nil {
		t.Fatal(err)
	}
	empty, err := snapshot.NewSnapshot(vz, nil, nil, models.SnapshotMeta{})
	if err != nil {
		t.Fatal(err)
	}
	if err := store.Save(empty); err != nil {
		t.Fatal(err)
	}

	mu, err := lock.New(modelDir, "cb_incremental_lock")
	if err != nil {
		t.Fatal(err)
	}

	cfg := &config.Config{}
	config.ApplyDefaults(cfg)
	cfg.Storage.DatabasePath = filepath.Join(dir, "catalog.db")
	cfg.Storage.ModelDir = modelDir

	mut := mutator.New(storage, storage, store, mu, cfg.Model.AlgoType, cfg.Model.TopK, 2*time.Second)
	srv := server.NewServer(mut, storage, store, cfg, zap.NewNop())
	router := srv.Router()
	ctx := context.Background()

	dune, err := storage.CreateBook(ctx, &models.Book{
		Title: "Dune", AuthorName: "Frank Herbert", Description: "spice arrakis",
	})
	if err != nil {
		t.Fatal(err)
	}
	messiah, err := storage.CreateBook(ctx, &models.Book{
		Title: "Dune Messiah", AuthorName: "Frank Herbert", Description: "spice",
	})
	if err != nil {
		t.Fatal(err)
	}
	dragons, err := storage.CreateBook(ctx, &models.Book{
		Title: "Dragons", Description: "magic dragons",
	})
	if err != nil {
		t.Fatal(err)
	}

	for _, id := range []int64{dune, messiah, dragons} {
		rec := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodPost, "/api/v1/books/"+strconv.FormatInt(id, 10)+"/index", nil)
		router.ServeHTTP(rec, req)
		if rec.Code != http.StatusCreated {
			t.Fatalf("index book %d: status %d, body %s", id, rec.Code, rec.Body.String())
		}
	}

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/books/"+strconv.FormatInt(messiah, 10)+"/similar", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("similar: status %d, body %s", rec.Code, rec.Body.String())
	}
	var simResp struct {
		Similar []*models.SimilarBook `json:"similar"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &simResp); err != nil {
		t.Fatal(err)
	}
	if len(simResp.Similar) == 0 || simResp.Similar[0].BookID != dune {
		t.Fatalf("top neighbor of Dune Messiah = %+v, want %d", simResp.Similar, dune)
	}

	// Re-indexing an existing book replaces its edges instead of duplicating them.
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/v1/books/"+strconv.FormatInt(messiah, 10)+"/refresh", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("refresh: status %d, body %s", rec.Code, rec.Body.String())
	}
	var res mutator.Result
	if err := json.Unmarshal(rec.Body.Bytes(), &res); err != nil {
		t.Fatal(err)
	}
	if res.Op != "update" || res.Rows != 3 {
		t.Fatalf("refresh result: %+v", res)
	}

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodDelete, "/api/v1/books/"+strconv.FormatInt(dune, 10)+"/index", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("deindex: status %d, body %s", rec.Code, rec.Body.String())
	}

	got, err := storage.QuerySimilar(ctx, messiah, cfg.Model.AlgoType, 10)
	if err != nil {
		t.Fatal(err)
	}
	for _, sb := range got {
		if sb.BookID == dune {
			t.Fatalf("edge to deleted book survived: %+v", got)
		}
	}

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/status", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status: %d", rec.Code)
	}
	var status map[string]interface{}
	if err := json.Unmarshal(rec.Body.Bytes(), &status); err != nil {
		t.Fatal(err)
	}
	if status["model_initialized"] != true {
		t.Errorf("model_initialized = %v", status["model_initialized"])
	}
	if status["model_rows"] != float64(2) {
		t.Errorf("model_rows = %v, want 2", status["model_rows"])
	}

	// State survives a fresh stack over the same directories.
	store2, err := snapshot.NewStore(modelDir)
	if err != nil {
		t.Fatal(err)
	}
	snap, err := store2.Load()
	if err != nil {
		t.Fatal(err)
	}
	if snap.Rows() != 2 {
		t.Fatalf("reloaded rows = %d, want 2", snap.Rows())
	}
	if _, ok := snap.IndexOf(dune); ok {
		t.Error("deleted book still present after reload")
	}
	if snap.Meta.Op != "update" && snap.Meta.Op != "delete" {
		t.Errorf("snapshot meta op = %q", snap.Meta.Op)
	}
}

func TestIntegration_LockBlocksConcurrentMutation(t *testing.T) {
	dir := t.TempDir()

	storage, err := catalog.NewSQLiteStorage(filepath.Join(dir, "catalog.db"))
	if err != nil {
		t.Fatal(err)
	}
	defer storage.Close()

	modelDir := filepath.Join(dir, "model")
	store, err := snapshot.NewStore(modelDir)
	if err != nil {
		t.Fatal(err)
	}
	vz, err := vectorizer.New([]string{"dune"}, []float32{1})
	if err != nil {
		t.Fatal(err)
	}
	if err := vz.Save(filepath.Join(modelDir, snapshot.VectorizerFile)); err != nil {
		t.Fatal(err)
	}
	empty, err := snapshot.NewSnapshot(vz, nil, nil, models.SnapshotMeta{})
	if err != nil {
		t.Fatal(err)
	}
	if err := store.Save(empty); err != nil {
		t.Fatal(err)
	}

	ctx := context.Background()
	id, err := storage.CreateBook(ctx, &models.Book{Title: "Dune"})
	if err != nil {
		t.Fatal(err)
	}

	// A second handle on the same lock file stands in for a batch rebuild.
	rebuild, err := lock.New(modelDir, "cb_incremental_lock")
	if err != nil {
		t.Fatal(err)
	}
	if err := rebuild.Acquire(ctx, time.Second); err != nil {
		t.Fatal(err)
	}

	mu, err := lock.New(modelDir, "cb_incremental_lock")
	if err != nil {
		t.Fatal(err)
	}
	mut := mutator.New(storage, storage, store, mu, "TFIDF", 10, 100*time.Millisecond)

	if _, err := mut.Add(ctx, id, 0); err == nil {
		t.Fatal("mutation succeeded while the rebuild lock was held")
	}

	if err := rebuild.Release(); err != nil {
		t.Fatal(err)
	}
	if _, err := mut.Add(ctx, id, 0); err != nil {
		t.Fatalf("mutation after release: %v", err)
	}
}
