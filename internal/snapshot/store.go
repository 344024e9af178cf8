package snapshot

import (
	"bufio"
	"encoding/binary"
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/hyperjump/osusume/internal/models"
	"github.com/hyperjump/osusume/internal/vector"
	"github.com/hyperjump/osusume/internal/vectorizer"
)

// ErrModelNotInitialized means no full rebuild has ever produced the
// vectorizer artifact. Incremental operations cannot proceed until one runs.
var ErrModelNotInitialized = errors.New("model not initialized: no vectorizer artifact, run a full rebuild first")

// Canonical artifact names inside the model directory. The layout matches
// what the full rebuild writes, so a rebuild and incremental saves stay
// interchangeable.
const (
	VectorizerFile = "vectorizer.bin"
	MatrixFile     = "matrix.bin"
	BookIDsFile    = "book_ids.csv"
	MetaFile       = "meta.json"
)

const matrixVersion = 1

// Store loads and atomically persists model snapshots in a directory.
// The vectorizer artifact is cached across loads (it is large and only a
// full rebuild replaces it); the matrix, id list, and metadata are read
// fresh every time.
type Store struct {
	dir    string
	logger *zap.Logger

	mu       sync.Mutex
	cachedVz *vectorizer.Vectorizer
	cachedAt time.Time // mtime of the cached vectorizer artifact
}

// StoreOption configures a Store.
type StoreOption func(*Store)

// WithLogger sets a logger for debug output.
func WithLogger(l *zap.Logger) StoreOption {
	return func(s *Store) { s.logger = l }
}

// NewStore creates a snapshot store over dir, creating it if needed.
func NewStore(dir string, opts ...StoreOption) (*Store, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create model dir: %w", err)
	}
	s := &Store{dir: dir}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Dir returns the model directory.
func (st *Store) Dir() string {
	return st.dir
}

// Invalidate drops the cached vectorizer so the next Load re-reads it from
// disk. Called when artifacts change underneath us (a full rebuild
// published a new generation).
func (st *Store) Invalidate() {
	st.mu.Lock()
	st.cachedVz = nil
	st.cachedAt = time.Time{}
	st.mu.Unlock()
}

// Load reads the current snapshot. Returns ErrModelNotInitialized when the
// vectorizer artifact does not exist. A missing matrix or id list yields an
// empty snapshot (a rebuild on an empty catalog writes none).
func (st *Store) Load() (*Snapshot, error) {
	vz, err := st.loadVectorizer()
	if err != nil {
		return nil, err
	}

	rows, dim, err := st.loadMatrix()
	if err != nil {
		return nil, err
	}
	if len(rows) > 0 && dim != vz.Dim() {
		return nil, fmt.Errorf("matrix dimensionality %d does not match vocabulary size %d", dim, vz.Dim())
	}

	ids, err := st.loadBookIDs()
	if err != nil {
		return nil, err
	}
	if len(ids) != len(rows) {
		return nil, fmt.Errorf("id list length %d does not match matrix rows %d", len(ids), len(rows))
	}

	meta, err := st.loadMeta()
	if err != nil {
		return nil, err
	}

	return NewSnapshot(vz, rows, ids, meta)
}

// Save atomically persists the snapshot's matrix, id list, and metadata:
// all three are written to temp files first and renamed over the canonical
// paths only after every write succeeded. The vectorizer artifact is never
// rewritten here.
func (st *Store) Save(s *Snapshot) error {
	files := []struct {
		name  string
		write func(io.Writer) error
	}{
		{MatrixFile, func(w io.Writer) error { return writeMatrix(w, s.Vectorizer.Dim(), s.Matrix()) }},
		{BookIDsFile, func(w io.Writer) error { return writeBookIDs(w, s.IDs()) }},
		{MetaFile, func(w io.Writer) error { return json.NewEncoder(w).Encode(s.Meta) }},
	}

	type renameOp struct{ tmp, target string }
	renames := make([]renameOp, 0, len(files))
	tmpFiles := make([]string, 0, len(files))
	defer func() {
		for _, tmp := range tmpFiles {
			_ = os.Remove(tmp)
		}
	}()

	for _, f := range files {
		target := filepath.Join(st.dir, f.name)
		tmp, err := os.CreateTemp(st.dir, f.name+".tmp-*")
		if err != nil {
			return fmt.Errorf("create temp for %s: %w", f.name, err)
		}
		tmpFiles = append(tmpFiles, tmp.Name())
		_ = tmp.Chmod(0644)

		buf := bufio.NewWriter(tmp)
		if err := f.write(buf); err != nil {
			_ = tmp.Close()
			return fmt.Errorf("write %s: %w", f.name, err)
		}
		if err := buf.Flush(); err != nil {
			_ = tmp.Close()
			return fmt.Errorf("flush %s: %w", f.name, err)
		}
		if err := tmp.Sync(); err != nil {
			_ = tmp.Close()
			return fmt.Errorf("sync %s: %w", f.name, err)
		}
		if err := tmp.Close(); err != nil {
			return fmt.Errorf("close %s: %w", f.name, err)
		}
		renames = append(renames, renameOp{tmp: tmp.Name(), target: target})
	}

	for _, r := range renames {
		if err := os.Rename(r.tmp, r.target); err != nil {
			return fmt.Errorf("rename %s: %w", r.target, err)
		}
	}
	tmpFiles = nil

	// Best-effort: fsync the directory so the renames are durable.
	if d, err := os.Open(st.dir); err == nil {
		_ = d.Sync()
		_ = d.Close()
	}

	if st.logger != nil {
		st.logger.Debug("snapshot saved",
			zap.Int("rows", s.Rows()),
			zap.String("op", s.Meta.Op),
			zap.Int64("book_id", s.Meta.BookID),
		)
	}
	return nil
}

func (st *Store) loadVectorizer() (*vectorizer.Vectorizer, error) {
	path := filepath.Join(st.dir, VectorizerFile)
	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrModelNotInitialized
		}
		return nil, fmt.Errorf("stat vectorizer artifact: %w", err)
	}

	st.mu.Lock()
	defer st.mu.Unlock()
	if st.cachedVz != nil && info.ModTime().Equal(st.cachedAt) {
		return st.cachedVz, nil
	}
	vz, err := vectorizer.Load(path)
	if err != nil {
		return nil, fmt.Errorf("load vectorizer artifact: %w", err)
	}
	st.cachedVz = vz
	st.cachedAt = info.ModTime()
	if st.logger != nil {
		st.logger.Debug("vectorizer loaded", zap.Int("dim", vz.Dim()), zap.Time("mtime", info.ModTime()))
	}
	return vz, nil
}

func (st *Store) loadMatrix() ([]vector.Sparse, int, error) {
	f, err := os.Open(filepath.Join(st.dir, MatrixFile))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, 0, nil
		}
		return nil, 0, fmt.Errorf("open matrix artifact: %w", err)
	}
	defer f.Close()

	r := bufio.NewReader(f)
	var version, dim, n uint32
	if err := binary.Read(r, binary.LittleEndian, &version); err != nil {
		return nil, 0, fmt.Errorf("read matrix version: %w", err)
	}
	if version != matrixVersion {
		return nil, 0, fmt.Errorf("unsupported matrix artifact version %d", version)
	}
	if err := binary.Read(r, binary.LittleEndian, &dim); err != nil {
		return nil, 0, fmt.Errorf("read matrix dim: %w", err)
	}
	if err := binary.Read(r, binary.LittleEndian, &n); err != nil {
		return nil, 0, fmt.Errorf("read matrix rows: %w", err)
	}

	rows := make([]vector.Sparse, 0, n)
	for i := uint32(0); i < n; i++ {
		var nnz uint32
		if err := binary.Read(r, binary.LittleEndian, &nnz); err != nil {
			return nil, 0, fmt.Errorf("read row %d nnz: %w", i, err)
		}
		row := vector.Sparse{
			Indices: make([]int32, nnz),
			Values:  make([]float32, nnz),
		}
		for j := uint32(0); j < nnz; j++ {
			var col uint32
			if err := binary.Read(r, binary.LittleEndian, &col); err != nil {
				return nil, 0, fmt.Errorf("read row %d index: %w", i, err)
			}
			row.Indices[j] = int32(col)
		}
		for j := uint32(0); j < nnz; j++ {
			var bits uint32
			if err := binary.Read(r, binary.LittleEndian, &bits); err != nil {
				return nil, 0, fmt.Errorf("read row %d value: %w", i, err)
			}
			row.Values[j] = math.Float32frombits(bits)
		}
		rows = append(rows, row)
	}
	return rows, int(dim), nil
}

func writeMatrix(w io.Writer, dim int, rows []vector.Sparse) error {
	if err := binary.Write(w, binary.LittleEndian, uint32(matrixVersion)); err != nil {
		return err
	}
	if err := binary.Write(w, binary.LittleEndian, uint32(dim)); err != nil {
		return err
	}
	if err := binary.Write(w, binary.LittleEndian, uint32(len(rows))); err != nil {
		return err
	}
	for _, row := range rows {
		if err := binary.Write(w, binary.LittleEndian, uint32(len(row.Indices))); err != nil {
			return err
		}
		for _, col := range row.Indices {
			if err := binary.Write(w, binary.LittleEndian, uint32(col)); err != nil {
				return err
			}
		}
		for _, val := range row.Values {
			if err := binary.Write(w, binary.LittleEndian, math.Float32bits(val)); err != nil {
				return err
			}
		}
	}
	return nil
}

func (st *Store) loadBookIDs() ([]int64, error) {
	f, err := os.Open(filepath.Join(st.dir, BookIDsFile))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("open id list: %w", err)
	}
	defer f.Close()

	records, err := csv.NewReader(f).ReadAll()
	if err != nil {
		return nil, fmt.Errorf("read id list: %w", err)
	}
	ids := make([]int64, 0, len(records))
	for i, rec := range records {
		if i == 0 && len(rec) > 0 && rec[0] == "book_id" {
			continue // header
		}
		if len(rec) == 0 {
			continue
		}
		id, err := strconv.ParseInt(rec[0], 10, 64)
		if err != nil {
			return nil, fmt.Errorf("id list line %d: %w", i+1, err)
		}
		ids = append(ids, id)
	}
	return ids, nil
}

func writeBookIDs(w io.Writer, ids []int64) error {
	cw := csv.NewWriter(w)
	if err := cw.Write([]string{"book_id"}); err != nil {
		return err
	}
	for _, id := range ids {
		if err := cw.Write([]string{strconv.FormatInt(id, 10)}); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

func (st *Store) loadMeta() (models.SnapshotMeta, error) {
	var meta models.SnapshotMeta
	data, err := os.ReadFile(filepath.Join(st.dir, MetaFile))
	if err != nil {
		if os.IsNotExist(err) {
			return meta, nil
		}
		return meta, fmt.Errorf("read meta: %w", err)
	}
	if err := json.Unmarshal(data, &meta); err != nil {
		return meta, fmt.Errorf("parse meta: %w", err)
	}
	return meta, nil
}
