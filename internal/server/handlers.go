package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/hyperjump/osusume/internal/catalog"
	"github.com/hyperjump/osusume/internal/lock"
	"github.com/hyperjump/osusume/internal/snapshot"
)

func (s *Server) handleSimilar(w http.ResponseWriter, r *http.Request) {
	id, ok := s.bookID(w, r)
	if !ok {
		return
	}
	limit := s.config.Model.TopK
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			s.respondError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = n
	}
	algo := r.URL.Query().Get("algo")
	if algo == "" {
		algo = s.config.Model.AlgoType
	}

	if _, err := s.storage.GetBook(r.Context(), id); err != nil {
		s.respondMutationError(w, err)
		return
	}
	similar, err := s.storage.QuerySimilar(r.Context(), id, algo, limit)
	if err != nil {
		s.logger.Error("similar query failed", zap.Int64("book_id", id), zap.Error(err))
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]interface{}{
		"book_id": id,
		"algo":    algo,
		"similar": similar,
	})
}

func (s *Server) handleIndexBook(w http.ResponseWriter, r *http.Request) {
	id, ok := s.bookID(w, r)
	if !ok {
		return
	}
	s.logger.Debug("index book request", zap.Int64("book_id", id))
	res, err := s.mut.Add(r.Context(), id, s.topKParam(r))
	if err != nil {
		s.respondMutationError(w, err)
		return
	}
	s.respondJSON(w, http.StatusCreated, res)
}

func (s *Server) handleRefreshBook(w http.ResponseWriter, r *http.Request) {
	id, ok := s.bookID(w, r)
	if !ok {
		return
	}
	s.logger.Debug("refresh book request", zap.Int64("book_id", id))
	res, err := s.mut.Update(r.Context(), id, s.topKParam(r))
	if err != nil {
		s.respondMutationError(w, err)
		return
	}
	s.respondJSON(w, http.StatusOK, res)
}

func (s *Server) handleDeindexBook(w http.ResponseWriter, r *http.Request) {
	id, ok := s.bookID(w, r)
	if !ok {
		return
	}
	s.logger.Debug("deindex book request", zap.Int64("book_id", id))
	res, err := s.mut.Delete(r.Context(), id)
	if err != nil {
		s.respondMutationError(w, err)
		return
	}
	s.respondJSON(w, http.StatusOK, res)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	bookCount, err := s.storage.CountBooks(ctx)
	if err != nil {
		s.logger.Error("status: count books failed", zap.Error(err))
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	edgeCount, err := s.storage.CountEdges(ctx, s.config.Model.AlgoType)
	if err != nil {
		s.logger.Error("status: count edges failed", zap.Error(err))
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}

	resp := map[string]interface{}{
		"books": bookCount,
		"edges": edgeCount,
	}
	if usage, err := catalog.DiskUsageBytes(s.config.Storage.DatabasePath, s.config.Storage.ModelDir); err == nil {
		resp["disk_usage_bytes"] = usage
	} else {
		s.logger.Warn("status: disk usage failed", zap.Error(err))
	}
	if snap, err := s.store.Load(); err == nil {
		resp["model_initialized"] = true
		resp["model_rows"] = snap.Rows()
		resp["vocabulary_size"] = snap.Vectorizer.Dim()
		if snap.Meta.OpID != "" {
			resp["last_op"] = snap.Meta
		}
	} else {
		resp["model_initialized"] = false
	}
	resp["config"] = map[string]interface{}{
		"top_k":         s.config.Model.TopK,
		"algo_type":     s.config.Model.AlgoType,
		"model_dir":     s.config.Storage.ModelDir,
		"database_path": s.config.Storage.DatabasePath,
	}
	s.respondJSON(w, http.StatusOK, resp)
}

func (s *Server) bookID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		s.respondError(w, http.StatusBadRequest, "book id must be a positive integer")
		return 0, false
	}
	return id, true
}

func (s *Server) topKParam(r *http.Request) int {
	if raw := r.URL.Query().Get("top_k"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil && n > 0 {
			return n
		}
	}
	return 0
}

// respondMutationError maps domain errors onto HTTP statuses. Lock timeouts
// and an uninitialized model are temporary conditions, so 503 with the hint
// to retry.
func (s *Server) respondMutationError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, catalog.ErrBookNotFound):
		s.respondError(w, http.StatusNotFound, "book not found")
	case errors.Is(err, lock.ErrTimeout):
		w.Header().Set("Retry-After", "1")
		s.respondError(w, http.StatusServiceUnavailable, "mutation lock busy, retry later")
	case errors.Is(err, snapshot.ErrModelNotInitialized):
		s.respondError(w, http.StatusServiceUnavailable, "model not initialized, run a full rebuild first")
	default:
		s.logger.Error("mutation failed", zap.Error(err))
		s.respondError(w, http.StatusInternalServerError, err.Error())
	}
}

func (s *Server) respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func (s *Server) respondError(w http.ResponseWriter, status int, message string) {
	s.respondJSON(w, status, map[string]string{"error": message})
}
