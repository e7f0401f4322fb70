package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"os"
	"path/filepath"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/hyperjump/vecpager/internal/config"
	"github.com/hyperjump/vecpager/internal/indexer"
	"github.com/hyperjump/vecpager/internal/models"
	"github.com/hyperjump/vecpager/internal/storage"
)

// putRecordRequest is a record input plus the source it is filed under.
type putRecordRequest struct {
	models.RecordInput
	Source string `json:"source,omitempty"`
}

func (s *Server) handlePutRecord(w http.ResponseWriter, r *http.Request) {
	var req putRecordRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	s.logger.Debug("put record request",
		zap.String("content_hash", req.ContentHash),
		zap.Int("dims", len(req.Vector)),
		zap.String("source", req.Source))
	id, err := s.indexer.PutInput(r.Context(), &req.RecordInput, req.Source)
	if err != nil {
		s.respondFailure(w, "put record failed", err)
		return
	}
	s.respondJSON(w, http.StatusCreated, map[string]string{"id": id})
}

func (s *Server) handleGetRecord(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	rec, err := s.indexer.Get(r.Context(), id)
	if err != nil {
		s.respondFailure(w, "get record failed", err)
		return
	}
	s.respondJSON(w, http.StatusOK, rec)
}

func (s *Server) handleDeleteRecord(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	s.logger.Debug("delete record request", zap.String("id", id))
	if err := s.indexer.Delete(r.Context(), id); err != nil {
		s.respondFailure(w, "delete record failed", err)
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]string{"id": id, "status": "deleted"})
}

func (s *Server) handleDeleteBySource(w http.ResponseWriter, r *http.Request) {
	source := r.URL.Query().Get("source")
	if source == "" {
		s.respondError(w, http.StatusBadRequest, "source is required")
		return
	}
	n, err := s.indexer.DeleteBySource(r.Context(), source)
	if err != nil {
		s.respondFailure(w, "delete by source failed", err)
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]interface{}{"source": source, "deleted": n})
}

// decodeQuery reads a search query and applies the configured result limits.
func (s *Server) decodeQuery(r *http.Request) (*models.SearchQuery, error) {
	var query models.SearchQuery
	if err := json.NewDecoder(r.Body).Decode(&query); err != nil {
		return nil, err
	}
	query.MaxResults = s.config.Search.ResultLimit(query.MaxResults)
	return &query, nil
}

func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	query, err := s.decodeQuery(r)
	if err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	s.logger.Debug("search request",
		zap.Int("max_results", query.MaxResults),
		zap.Bool("content", len(query.Vector) == 0))
	response, err := s.engine.Search(r.Context(), query)
	if err != nil {
		s.respondFailure(w, "search failed", err)
		return
	}
	s.respondJSON(w, http.StatusOK, response)
}

func (s *Server) handleOpenStream(w http.ResponseWriter, r *http.Request) {
	query, err := s.decodeQuery(r)
	if err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	stream, err := s.engine.OpenStream(r.Context(), query)
	if err != nil {
		s.respondFailure(w, "open stream failed", err)
		return
	}
	handle := s.streams.Add(stream)
	s.logger.Debug("stream opened", zap.String("handle", handle), zap.Int("chunks", stream.ChunksTotal()))
	s.respondJSON(w, http.StatusCreated, map[string]interface{}{
		"handle":       handle,
		"chunks_total": stream.ChunksTotal(),
	})
}

func (s *Server) handleStreamNext(w http.ResponseWriter, r *http.Request) {
	handle := chi.URLParam(r, "handle")
	batch, err := s.streams.Next(r.Context(), handle)
	if err != nil {
		s.respondFailure(w, "stream batch failed", err)
		return
	}
	s.respondJSON(w, http.StatusOK, batch)
}

func (s *Server) handleCloseStream(w http.ResponseWriter, r *http.Request) {
	handle := chi.URLParam(r, "handle")
	if err := s.streams.Remove(handle); err != nil {
		s.respondFailure(w, "close stream failed", err)
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]string{"handle": handle, "status": "closed"})
}

func (s *Server) handleCompact(w http.ResponseWriter, r *http.Request) {
	purged, err := s.indexer.Compact(r.Context())
	if err != nil {
		s.respondFailure(w, "compact failed", err)
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]int{"purged": purged})
}

func (s *Server) handleFlush(w http.ResponseWriter, r *http.Request) {
	if err := s.indexer.Flush(r.Context()); err != nil {
		s.respondFailure(w, "flush failed", err)
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]string{"status": "flushed"})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	openStreams := 0
	if s.streams != nil {
		openStreams = s.streams.Len()
	}
	s.configMu.Lock()
	status, err := BuildStatus(r.Context(), s.indexer, s.config, openStreams)
	s.configMu.Unlock()
	if err != nil {
		s.logger.Error("status failed", zap.Error(err))
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.respondJSON(w, http.StatusOK, status)
}

// BuildStatus gathers record and chunk counts, disk usage and a config summary.
func BuildStatus(ctx context.Context, idx *indexer.Indexer, cfg *config.Config, openStreams int) (*models.StatusResponse, error) {
	stats, err := idx.Stats(ctx)
	if err != nil {
		return nil, err
	}
	status := &models.StatusResponse{
		Records:      stats.Records,
		Chunks:       stats.Chunks,
		ActiveChunks: stats.ActiveChunks,
		OpenStreams:  openStreams,
	}
	if cfg == nil {
		return status, nil
	}
	status.Config = &models.StatusConfig{
		IndexType:       cfg.Engine.IndexType,
		DistanceMetric:  cfg.Engine.DistanceMetric,
		Dimension:       cfg.Engine.Dimension,
		ChunkCapacity:   cfg.Engine.ChunkCapacity,
		MaxActiveChunks: cfg.Engine.MaxActiveChunks,
		StorageBackend:  cfg.Storage.Backend,
		CatalogPath:     cfg.Storage.CatalogPath,
	}
	paths := []string{cfg.Storage.CatalogPath}
	if cfg.Storage.Backend != config.BackendS3 {
		status.Config.ChunksPath = cfg.Storage.ChunksPath
		paths = append(paths, cfg.Storage.ChunksPath)
	}
	if diskBytes, err := storage.DiskUsageBytes(paths...); err == nil {
		status.DiskUsageBytes = &diskBytes
	}
	return status, nil
}

func (s *Server) handleSpoolDirectoriesList(w http.ResponseWriter, r *http.Request) {
	if s.spool == nil {
		s.respondError(w, http.StatusNotImplemented, "spool not enabled")
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]interface{}{"directories": s.spool.Directories()})
}

type spoolAddRequest struct {
	Path string `json:"path"`
	Sync *bool  `json:"sync,omitempty"`
}

func (s *Server) handleSpoolDirectoriesAdd(w http.ResponseWriter, r *http.Request) {
	if s.spool == nil {
		s.respondError(w, http.StatusNotImplemented, "spool not enabled")
		return
	}
	var req spoolAddRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Path == "" {
		s.respondError(w, http.StatusBadRequest, "path is required")
		return
	}
	abs, err := filepath.Abs(req.Path)
	if err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid path")
		return
	}
	info, err := os.Stat(abs)
	if err != nil {
		if os.IsNotExist(err) {
			s.respondError(w, http.StatusNotFound, "directory not found")
			return
		}
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if !info.IsDir() {
		s.respondError(w, http.StatusBadRequest, "path is not a directory")
		return
	}
	syncExisting := true
	if req.Sync != nil {
		syncExisting = *req.Sync
	}
	s.logger.Debug("spool add directory request", zap.String("path", abs), zap.Bool("sync_existing", syncExisting))
	if err := s.spool.AddDirectory(abs, syncExisting); err != nil {
		s.logger.Error("spool add directory failed", zap.Error(err))
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.saveSpoolDirectories()
	s.respondJSON(w, http.StatusCreated, map[string]string{"path": abs, "status": "added"})
}

func (s *Server) handleSpoolDirectoriesRemove(w http.ResponseWriter, r *http.Request) {
	if s.spool == nil {
		s.respondError(w, http.StatusNotImplemented, "spool not enabled")
		return
	}
	path := r.URL.Query().Get("path")
	if path == "" {
		var body struct {
			Path string `json:"path"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err == nil && body.Path != "" {
			path = body.Path
		}
	}
	if path == "" {
		s.respondError(w, http.StatusBadRequest, "path is required (query or body)")
		return
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid path")
		return
	}
	s.logger.Debug("spool remove directory request", zap.String("path", abs))
	if err := s.spool.RemoveDirectory(abs); err != nil {
		s.logger.Error("spool remove directory failed", zap.Error(err))
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.saveSpoolDirectories()
	s.respondJSON(w, http.StatusOK, map[string]string{"path": abs, "status": "removed"})
}

// saveSpoolDirectories writes the current spool roots back to the config file.
func (s *Server) saveSpoolDirectories() {
	if s.configPath == "" || s.config == nil {
		return
	}
	s.configMu.Lock()
	defer s.configMu.Unlock()
	s.config.Spool.Directories = s.spool.Directories()
	if err := config.Save(s.configPath, s.config); err != nil {
		s.logger.Warn("failed to persist spool config", zap.Error(err))
	}
}

// statusCode maps engine errors to HTTP status codes.
func statusCode(err error) int {
	switch {
	case errors.Is(err, models.ErrInvalidInput),
		errors.Is(err, models.ErrDimensionMismatch),
		errors.Is(err, indexer.ErrNoEmbedder):
		return http.StatusBadRequest
	case errors.Is(err, models.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, models.ErrCapacityExceeded):
		return http.StatusInsufficientStorage
	case errors.Is(err, models.ErrPersistence):
		return http.StatusServiceUnavailable
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

// respondFailure logs server-side failures and replies with the mapped status.
func (s *Server) respondFailure(w http.ResponseWriter, msg string, err error) {
	code := statusCode(err)
	if code >= http.StatusInternalServerError {
		s.logger.Error(msg, zap.Error(err))
	} else {
		s.logger.Debug(msg, zap.Error(err))
	}
	s.respondError(w, code, err.Error())
}

func (s *Server) respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func (s *Server) respondError(w http.ResponseWriter, status int, message string) {
	s.respondJSON(w, status, map[string]string{"error": message})
}
