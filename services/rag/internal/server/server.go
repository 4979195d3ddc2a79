package server

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"

	"personaai/internal/ratelimit"
	"personaai/internal/servicetoken"
	"personaai/internal/util"
	"personaai/pkg/domain"
	"personaai/pkg/queue"
	"personaai/pkg/rag"
)

const maxBodyBytes = 1 << 20

// ProfileReader loads profiles; store.Store satisfies it.
type ProfileReader interface {
	GetProfile(id string) (domain.Profile, bool, error)
}

// EmbeddingStatus reports on the embedding backend; *ai.Provider satisfies it.
type EmbeddingStatus interface {
	DefaultModel() string
	Dimensions(modelID string) int
	IsAvailable(ctx context.Context) bool
}

// DeliveryReader exposes queue bookkeeping for a job.
type DeliveryReader interface {
	GetDelivery(ctx context.Context, jobID string) (queue.Delivery, bool, error)
}

// Config wires required dependencies for the HTTP server.
type Config struct {
	Indexer    *rag.Indexer
	Retriever  *rag.Retriever
	Profiles   ProfileReader
	Embeddings EmbeddingStatus
	Verifier   *servicetoken.Verifier
	// Deliveries is set when jobs run through the redis queue.
	Deliveries DeliveryReader
	// IndexLimiter caps index starts per profile; nil disables the check.
	IndexLimiter ratelimit.Limiter
}

// Server exposes the RAG service over HTTP.
type Server struct {
	indexer      *rag.Indexer
	retriever    *rag.Retriever
	profiles     ProfileReader
	embeddings   EmbeddingStatus
	verifier     *servicetoken.Verifier
	deliveries   DeliveryReader
	indexLimiter ratelimit.Limiter
	mux          *http.ServeMux
}

// New constructs the server with routes configured.
func New(cfg Config) (*Server, error) {
	if cfg.Indexer == nil || cfg.Retriever == nil || cfg.Profiles == nil || cfg.Embeddings == nil {
		return nil, errors.New("server requires indexer, retriever, profiles and embeddings")
	}
	if cfg.Verifier == nil {
		return nil, errors.New("server requires an internal token verifier")
	}
	s := &Server{
		indexer:      cfg.Indexer,
		retriever:    cfg.Retriever,
		profiles:     cfg.Profiles,
		embeddings:   cfg.Embeddings,
		verifier:     cfg.Verifier,
		deliveries:   cfg.Deliveries,
		indexLimiter: cfg.IndexLimiter,
		mux:          http.NewServeMux(),
	}
	s.routes()
	return s, nil
}

// Router returns the configured handler.
func (s *Server) Router() http.Handler {
	return util.WithRequestID(util.WithRequestLog("rag", util.WithRecover(util.WithSecurityHeaders(s.mux))))
}

func (s *Server) routes() {
	s.mux.HandleFunc("GET /healthz", s.handleHealth)

	s.mux.Handle("POST /rag/profiles/{id}/index", s.withInternal(s.handleStartIndexing))
	s.mux.Handle("DELETE /rag/profiles/{id}/index", s.withInternal(s.handleDeleteProfileIndex))
	s.mux.Handle("GET /rag/profiles/{id}/jobs", s.withInternal(s.handleListJobs))
	s.mux.Handle("POST /rag/profiles/{id}/search", s.withInternal(s.handleSearch))
	s.mux.Handle("POST /rag/profiles/{id}/augment", s.withInternal(s.handleAugment))
	s.mux.Handle("POST /rag/profiles/{id}/resources", s.withInternal(s.handleAddResource))

	s.mux.Handle("GET /rag/jobs/{id}", s.withInternal(s.handleGetJob))
	s.mux.Handle("POST /rag/jobs/{id}/cancel", s.withInternal(s.handleCancelJob))

	s.mux.Handle("DELETE /rag/resources/{id}", s.withInternal(s.handleRemoveResource))
	s.mux.Handle("DELETE /rag/resources/{id}/index", s.withInternal(s.handleDeleteResourceIndex))

	s.mux.Handle("GET /rag/embeddings/status", s.withInternal(s.handleEmbeddingStatus))
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) withInternal(next http.HandlerFunc) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token, ok := servicetoken.BearerToken(r)
		if !ok {
			writeError(w, http.StatusUnauthorized, "unauthorized")
			return
		}
		claims, err := s.verifier.Verify(token)
		if err != nil {
			util.LoggerFromContext(r.Context()).Warn("internal token rejected", "err", err)
			writeError(w, http.StatusUnauthorized, "unauthorized")
			return
		}
		logger := util.LoggerFromContext(r.Context()).With("caller", claims.Subject)
		next(w, r.WithContext(util.ContextWithLogger(r.Context(), logger)))
	})
}

func (s *Server) handleStartIndexing(w http.ResponseWriter, r *http.Request) {
	profileID := r.PathValue("id")
	if s.indexLimiter != nil && !s.indexLimiter.Allow(r.Context(), "index:"+profileID) {
		writeError(w, http.StatusTooManyRequests, "too many indexing requests")
		return
	}
	job, err := s.indexer.StartIndexing(r.Context(), profileID)
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusAccepted, job)
}

func (s *Server) handleDeleteProfileIndex(w http.ResponseWriter, r *http.Request) {
	if err := s.indexer.DeleteProfileIndex(r.Context(), r.PathValue("id")); err != nil {
		writeAppError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleListJobs(w http.ResponseWriter, r *http.Request) {
	jobs, err := s.indexer.ListJobs(r.Context(), r.PathValue("id"))
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"jobs": jobs})
}

type jobResponse struct {
	domain.IndexingJob
	Delivery *queue.Delivery `json:"delivery,omitempty"`
}

func (s *Server) handleGetJob(w http.ResponseWriter, r *http.Request) {
	job, err := s.indexer.GetJob(r.Context(), r.PathValue("id"))
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	resp := jobResponse{IndexingJob: job}
	if s.deliveries != nil {
		d, ok, err := s.deliveries.GetDelivery(r.Context(), job.ID)
		if err != nil {
			util.LoggerFromContext(r.Context()).Warn("load queue delivery failed", "job_id", job.ID, "err", err)
		} else if ok {
			resp.Delivery = &d
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleCancelJob(w http.ResponseWriter, r *http.Request) {
	job, err := s.indexer.CancelIndexing(r.Context(), r.PathValue("id"))
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, job)
}

type searchRequest struct {
	Query string `json:"query"`
	TopK  int    `json:"topK"`
}

func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	var req searchRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	results, err := s.retriever.SearchSimilar(r.Context(), r.PathValue("id"), req.Query, req.TopK)
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"results": results})
}

type augmentRequest struct {
	Message string `json:"message"`
}

func (s *Server) handleAugment(w http.ResponseWriter, r *http.Request) {
	var req augmentRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	profile, ok, err := s.profiles.GetProfile(r.PathValue("id"))
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	if !ok {
		writeAppError(w, r, rag.ErrProfileNotFound)
		return
	}
	out := s.retriever.AugmentPrompt(r.Context(), profile, req.Message)
	writeJSON(w, http.StatusOK, map[string]any{
		"message":   out,
		"augmented": out != req.Message,
	})
}

type resourceRequest struct {
	Type        domain.ResourceType `json:"type"`
	Text        string              `json:"text"`
	StoragePath string              `json:"storagePath"`
	MimeType    string              `json:"mimeType"`
	Size        int64               `json:"size"`
	Metadata    domain.Metadata     `json:"metadata"`
}

func (s *Server) handleAddResource(w http.ResponseWriter, r *http.Request) {
	var req resourceRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	profileID := r.PathValue("id")
	var (
		res domain.Resource
		err error
	)
	if req.Text != "" {
		res, err = s.indexer.AddTextResource(r.Context(), profileID, req.Text, req.Metadata)
	} else {
		res, err = s.indexer.AddResource(r.Context(), domain.Resource{
			ProfileID:   profileID,
			Type:        req.Type,
			StoragePath: req.StoragePath,
			MimeType:    req.MimeType,
			Size:        req.Size,
			Metadata:    req.Metadata,
		})
	}
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, res)
}

func (s *Server) handleRemoveResource(w http.ResponseWriter, r *http.Request) {
	if err := s.indexer.RemoveResource(r.Context(), r.PathValue("id")); err != nil {
		writeAppError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleDeleteResourceIndex(w http.ResponseWriter, r *http.Request) {
	if err := s.indexer.DeleteResourceIndex(r.Context(), r.PathValue("id")); err != nil {
		writeAppError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleEmbeddingStatus(w http.ResponseWriter, r *http.Request) {
	model := s.embeddings.DefaultModel()
	writeJSON(w, http.StatusOK, map[string]any{
		"model":      model,
		"dimensions": s.embeddings.Dimensions(model),
		"available":  s.embeddings.IsAvailable(r.Context()),
	})
}

func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes)).Decode(dst); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return false
	}
	return true
}

func writeAppError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, rag.ErrValidation):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, rag.ErrNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, rag.ErrIndexingInProgress), errors.Is(err, rag.ErrJobFinished):
		writeError(w, http.StatusConflict, err.Error())
	default:
		util.LoggerFromContext(r.Context()).Error("request failed", "path", r.URL.Path, "err", err)
		var ext *rag.ExternalServiceError
		if errors.As(err, &ext) {
			writeError(w, http.StatusInternalServerError, strings.TrimSpace(ext.Service)+" service unavailable")
			return
		}
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
