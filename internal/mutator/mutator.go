// Package mutator orchestrates incremental model mutations under the
// cross-process mutation lock: compose, vectorize, rank neighbors, persist
// similarity edges, and atomically save the snapshot.
package mutator

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/hyperjump/osusume/internal/catalog"
	"github.com/hyperjump/osusume/internal/feature"
	"github.com/hyperjump/osusume/internal/lock"
	"github.com/hyperjump/osusume/internal/models"
	"github.com/hyperjump/osusume/internal/similarity"
	"github.com/hyperjump/osusume/internal/snapshot"
	"github.com/hyperjump/osusume/internal/vector"
)

// Mutator applies add/update/delete operations to the model snapshot and the
// similarity relation. All mutations are serialized by a single global lock;
// two operations on different books still exclude each other, trading
// throughput for correctness of the shared matrix.
type Mutator struct {
	books    catalog.BookReader
	edges    catalog.SimilarityStore
	store    *snapshot.Store
	mu       *lock.Mutex
	algo     string
	topK     int
	lockWait time.Duration
	oovWarn  float64
	logger   *zap.Logger
}

// Option configures a Mutator.
type Option func(*Mutator)

// WithLogger sets a logger for operation events.
func WithLogger(l *zap.Logger) Option {
	return func(m *Mutator) { m.logger = l }
}

// WithOOVWarnRatio sets the out-of-vocabulary ratio above which a transform
// is logged as degraded. Vocabulary drift is corrected only by the next full
// rebuild, so it has to be visible in the meantime.
func WithOOVWarnRatio(r float64) Option {
	return func(m *Mutator) { m.oovWarn = r }
}

// New creates a mutator. topK is the default neighbor count; lockWait bounds
// how long an operation waits for the mutation lock.
func New(
	books catalog.BookReader,
	edges catalog.SimilarityStore,
	store *snapshot.Store,
	mu *lock.Mutex,
	algo string,
	topK int,
	lockWait time.Duration,
	opts ...Option,
) *Mutator {
	m := &Mutator{
		books:    books,
		edges:    edges,
		store:    store,
		mu:       mu,
		algo:     algo,
		topK:     topK,
		lockWait: lockWait,
		oovWarn:  0.5,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Result describes a completed mutation.
type Result struct {
	Op        string        `json:"op"`
	OpID      string        `json:"op_id"`
	BookID    int64         `json:"book_id"`
	Neighbors int           `json:"neighbors"`
	Rows      int           `json:"rows"`
	OOVRatio  float64       `json:"oov_ratio"`
	Fallback  bool          `json:"fallback,omitempty"` // update degraded to add, or add to update
	Elapsed   time.Duration `json:"elapsed"`
}

// Add inserts a book into the model: its top-K edges are written against the
// existing matrix (the new row cannot be its own neighbor because it is not
// a row yet), then its vector and id are appended and the snapshot saved.
// Adding a book that is already a row degrades to Update, preserving the
// no-duplicate-ids invariant.
func (m *Mutator) Add(ctx context.Context, bookID int64, topK int) (*Result, error) {
	return m.withLock(ctx, func(s *snapshot.Snapshot) (*Result, error) {
		return m.add(ctx, s, bookID, m.effectiveK(topK), false)
	})
}

// Update recomputes a book's vector from its current attributes, replaces
// its matrix row in place, and replaces its outbound edges. A book absent
// from the id list falls back to Add semantics. Other books' cached
// neighbor lists are not recomputed.
func (m *Mutator) Update(ctx context.Context, bookID int64, topK int) (*Result, error) {
	return m.withLock(ctx, func(s *snapshot.Snapshot) (*Result, error) {
		return m.update(ctx, s, bookID, m.effectiveK(topK), false)
	})
}

// Delete removes every edge touching the book (both directions, all
// algorithm tags) and, if the book is a matrix row, removes the row and id.
// Deleting an absent book is a no-op success.
func (m *Mutator) Delete(ctx context.Context, bookID int64) (*Result, error) {
	return m.withLock(ctx, func(s *snapshot.Snapshot) (*Result, error) {
		return m.delete(ctx, s, bookID)
	})
}

func (m *Mutator) effectiveK(topK int) int {
	if topK > 0 {
		return topK
	}
	return m.topK
}

// withLock runs op holding the mutation lock. The lock scope covers the full
// load-compute-write-save sequence, not just the snapshot save.
func (m *Mutator) withLock(ctx context.Context, op func(*snapshot.Snapshot) (*Result, error)) (*Result, error) {
	if err := m.mu.Acquire(ctx, m.lockWait); err != nil {
		return nil, err
	}
	defer func() {
		if err := m.mu.Release(); err != nil && m.logger != nil {
			m.logger.Warn("lock release failed", zap.Error(err))
		}
	}()

	s, err := m.store.Load()
	if err != nil {
		return nil, err
	}
	return op(s)
}

func (m *Mutator) add(ctx context.Context, s *snapshot.Snapshot, bookID int64, topK int, fallback bool) (*Result, error) {
	started := time.Now()

	if idx, ok := s.IndexOf(bookID); ok {
		// Already a row: adding again would break id uniqueness.
		return m.updateAt(ctx, s, bookID, idx, topK, true, started)
	}

	vec, oov, err := m.vectorize(ctx, s, bookID)
	if err != nil {
		return nil, err
	}

	matches := similarity.TopK(vec, s.Matrix(), similarity.NoSelf, topK)
	pairs := m.pairs(s, matches)
	if err := m.edges.ReplaceSimilar(ctx, bookID, pairs, m.algo); err != nil {
		return nil, fmt.Errorf("write similarity edges: %w", err)
	}

	if err := s.Append(bookID, vec); err != nil {
		return nil, err
	}
	res := &Result{
		Op:        "add",
		OpID:      uuid.New().String(),
		BookID:    bookID,
		Neighbors: len(pairs),
		Rows:      s.Rows(),
		OOVRatio:  oov,
		Fallback:  fallback,
	}
	if err := m.commit(s, res); err != nil {
		return nil, err
	}
	res.Elapsed = time.Since(started)
	m.logResult(res)
	return res, nil
}

func (m *Mutator) update(ctx context.Context, s *snapshot.Snapshot, bookID int64, topK int, fallback bool) (*Result, error) {
	started := time.Now()

	idx, ok := s.IndexOf(bookID)
	if !ok {
		// Documented fallback: an update for a book the model has never
		// seen behaves as an add.
		if m.logger != nil {
			m.logger.Info("update target not in model, falling back to add", zap.Int64("book_id", bookID))
		}
		return m.add(ctx, s, bookID, topK, true)
	}
	return m.updateAt(ctx, s, bookID, idx, topK, fallback, started)
}

func (m *Mutator) updateAt(ctx context.Context, s *snapshot.Snapshot, bookID int64, idx, topK int, fallback bool, started time.Time) (*Result, error) {
	vec, oov, err := m.vectorize(ctx, s, bookID)
	if err != nil {
		return nil, err
	}

	if err := s.Replace(idx, vec); err != nil {
		return nil, err
	}
	matches := similarity.TopK(vec, s.Matrix(), idx, topK)
	pairs := m.pairs(s, matches)
	if err := m.edges.ReplaceSimilar(ctx, bookID, pairs, m.algo); err != nil {
		return nil, fmt.Errorf("write similarity edges: %w", err)
	}

	res := &Result{
		Op:        "update",
		OpID:      uuid.New().String(),
		BookID:    bookID,
		Neighbors: len(pairs),
		Rows:      s.Rows(),
		OOVRatio:  oov,
		Fallback:  fallback,
	}
	if err := m.commit(s, res); err != nil {
		return nil, err
	}
	res.Elapsed = time.Since(started)
	m.logResult(res)
	return res, nil
}

func (m *Mutator) delete(ctx context.Context, s *snapshot.Snapshot, bookID int64) (*Result, error) {
	started := time.Now()

	if err := m.edges.DeleteSimilarAll(ctx, bookID); err != nil {
		return nil, fmt.Errorf("delete similarity edges: %w", err)
	}

	res := &Result{
		Op:     "delete",
		OpID:   uuid.New().String(),
		BookID: bookID,
		Rows:   s.Rows(),
	}

	idx, ok := s.IndexOf(bookID)
	if !ok {
		// Not in the model: edge cleanup is all there is to do.
		res.Elapsed = time.Since(started)
		m.logResult(res)
		return res, nil
	}

	if err := s.Remove(idx); err != nil {
		return nil, err
	}
	res.Rows = s.Rows()
	if err := m.commit(s, res); err != nil {
		return nil, err
	}
	res.Elapsed = time.Since(started)
	m.logResult(res)
	return res, nil
}

// vectorize fetches the book's attributes, composes the weighted text, and
// transforms it with the snapshot's frozen vectorizer.
func (m *Mutator) vectorize(ctx context.Context, s *snapshot.Snapshot, bookID int64) (vector.Sparse, float64, error) {
	book, err := m.books.GetBook(ctx, bookID)
	if err != nil {
		return vector.Sparse{}, 0, err
	}
	text := feature.Compose(book)
	v, stats := s.Vectorizer.Transform(text)
	oov := stats.OOVRatio()
	if oov > m.oovWarn && m.logger != nil {
		m.logger.Warn("high out-of-vocabulary ratio, vector is degraded until the next full rebuild",
			zap.Int64("book_id", bookID),
			zap.Float64("oov_ratio", oov),
			zap.Int("terms", stats.Terms),
			zap.Int("dropped", stats.Dropped),
		)
	}
	return v, oov, nil
}

func (m *Mutator) pairs(s *snapshot.Snapshot, matches []similarity.Match) []models.ScoredPair {
	pairs := make([]models.ScoredPair, 0, len(matches))
	for _, match := range matches {
		pairs = append(pairs, models.ScoredPair{BookID: s.IDAt(match.Index), Score: match.Score})
	}
	return pairs
}

// commit stamps the metadata and saves the snapshot atomically. The save is
// invoked exactly once, at the end, with a fully-formed snapshot: a failure
// anywhere earlier leaves the on-disk state at its previous commit.
func (m *Mutator) commit(s *snapshot.Snapshot, res *Result) error {
	s.Meta = models.SnapshotMeta{
		Op:        res.Op,
		OpID:      res.OpID,
		BookID:    res.BookID,
		Rows:      s.Rows(),
		UpdatedAt: time.Now().UTC(),
	}
	if err := m.store.Save(s); err != nil {
		return fmt.Errorf("save snapshot: %w", err)
	}
	return nil
}

func (m *Mutator) logResult(res *Result) {
	if m.logger == nil {
		return
	}
	m.logger.Info("incremental operation done",
		zap.String("op", res.Op),
		zap.String("op_id", res.OpID),
		zap.Int64("book_id", res.BookID),
		zap.Int("neighbors", res.Neighbors),
		zap.Int("rows", res.Rows),
		zap.Bool("fallback", res.Fallback),
		zap.Duration("elapsed", res.Elapsed),
	)
}
