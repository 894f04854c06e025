// Package server provides the HTTP API for the image-generation broker.
//
// Endpoints:
//
//	POST /request          — submit (or upsert) a prompt; returns a task id
//	GET  /task              — claim the oldest pending task
//	POST /complete/{id}     — upload the finished image for a processing task
//	GET  /reset/{id}        — return a task to pending
//	GET  /download/{id}     — fetch the stored WebP artifact
//	GET  /metrics           — Prometheus exposition
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/kohaku-dig/image-broker/internal/artifact"
	"github.com/kohaku-dig/image-broker/internal/broker"
	"github.com/kohaku-dig/image-broker/internal/dispatcher"
	"github.com/kohaku-dig/image-broker/internal/metrics"
	"github.com/kohaku-dig/image-broker/internal/task"
)

// Server holds the dependencies shared across HTTP handlers.
type Server struct {
	store      broker.Store
	dispatcher *dispatcher.Dispatcher
	sink       artifact.Sink
	metrics    *metrics.Metrics
	log        zerolog.Logger
	maxUpload  int64

	mux *http.ServeMux
}

// Config bundles the options New needs beyond its required dependencies.
type Config struct {
	MaxUploadBytes int64
}

// New creates a Server wired to the given store and artifact sink.
func New(store broker.Store, sink artifact.Sink, m *metrics.Metrics, log zerolog.Logger, cfg Config) *Server {
	if cfg.MaxUploadBytes <= 0 {
		cfg.MaxUploadBytes = 25 << 20
	}

	s := &Server{
		store:      store,
		dispatcher: dispatcher.New(store),
		sink:       sink,
		metrics:    m,
		log:        log,
		maxUpload:  cfg.MaxUploadBytes,
	}

	s.mux = http.NewServeMux()
	s.mux.HandleFunc("POST /request", s.handleSubmit)
	s.mux.HandleFunc("GET /task", s.handleClaim)
	s.mux.HandleFunc("POST /complete/{id}", s.handleComplete)
	s.mux.HandleFunc("GET /reset/{id}", s.handleReset)
	s.mux.HandleFunc("GET /download/{id}", s.handleDownload)
	s.mux.Handle("GET /metrics", promhttp.Handler())

	return s
}

// Serve starts the HTTP server on the given address and blocks until ctx is
// cancelled, at which point it drains in-flight requests via
// http.Server.Shutdown. A generous read timeout accommodates large uploads;
// there is no caller-supplied per-request timeout.
func (s *Server) Serve(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:         addr,
		Handler:      s.mux,
		ReadTimeout:  5 * time.Minute,
		WriteTimeout: 5 * time.Minute,
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
			return
		}
		errCh <- nil
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}

// Handler exposes the underlying mux, primarily for tests.
func (s *Server) Handler() http.Handler {
	return s.mux
}

type submitRequest struct {
	Prompt    string         `json:"prompt"`
	ExtraArgs map[string]any `json:"extra_args"`
}

type submitResponse struct {
	TaskID string `json:"task_id"`
}

func (s *Server) handleSubmit(w http.ResponseWriter, r *http.Request) {
	var req submitRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	if req.Prompt == "" {
		writeError(w, http.StatusBadRequest, "prompt is required")
		return
	}

	extra := task.ExtraArgs{}
	for k, v := range req.ExtraArgs {
		extra[k] = v
	}

	var id string
	if raw, ok := extra[task.ReservedTaskIDKey]; ok {
		id = fmt.Sprint(raw)
		delete(extra, task.ReservedTaskIDKey)
	}

	taskID, err := s.store.Submit(r.Context(), id, req.Prompt, extra)
	if err != nil {
		s.writeStoreErr(w, err, "submit")
		return
	}

	s.metrics.TasksSubmitted.Inc()
	writeJSON(w, http.StatusOK, submitResponse{TaskID: taskID})
}

func (s *Server) handleClaim(w http.ResponseWriter, r *http.Request) {
	t, err := s.dispatcher.ClaimNext(r.Context())
	if err != nil {
		if errors.Is(err, broker.ErrContended) {
			s.metrics.TasksContended.Inc()
		}
		s.writeStoreErr(w, err, "claim")
		return
	}

	s.metrics.TasksClaimed.Inc()
	writeJSON(w, http.StatusOK, map[string]any{
		"task_id":    t.ID,
		"prompt":     t.Prompt,
		"extra_args": t.ExtraArgs,
	})
}

func (s *Server) handleComplete(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if id == "" {
		writeError(w, http.StatusBadRequest, "task id is required")
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, s.maxUpload)

	file, _, err := r.FormFile("image")
	if err != nil {
		writeError(w, http.StatusBadRequest, "missing multipart field \"image\": "+err.Error())
		return
	}
	defer file.Close()

	content, err := io.ReadAll(file)
	if err != nil {
		writeError(w, http.StatusBadRequest, "failed to read uploaded image: "+err.Error())
		return
	}

	// Verify the task exists and is processing before doing the
	// (comparatively expensive) decode/re-encode work.
	existing, err := s.store.Fetch(r.Context(), id)
	if err != nil {
		s.writeStoreErr(w, err, "complete")
		return
	}
	if existing.Status != task.StatusProcessing {
		writeError(w, http.StatusBadRequest, "task is not in processing state")
		return
	}

	ref, err := s.sink.Put(r.Context(), id, content)
	if err != nil {
		s.writeStoreErr(w, err, "complete")
		return
	}

	if err := s.store.MarkCompleted(r.Context(), id, ref); err != nil {
		// The row changed state out from under us between Fetch and
		// here; the artifact we just wrote is orphaned but harmless.
		s.writeStoreErr(w, err, "complete")
		return
	}

	s.metrics.TasksCompleted.Inc()
	writeJSON(w, http.StatusOK, map[string]string{"message": "task completed successfully"})
}

func (s *Server) handleReset(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if id == "" {
		writeError(w, http.StatusBadRequest, "task id is required")
		return
	}

	clearedRef, err := s.store.Reset(r.Context(), id)
	if err != nil {
		s.writeStoreErr(w, err, "reset")
		return
	}

	if clearedRef != "" {
		if err := s.sink.Remove(r.Context(), clearedRef); err != nil {
			s.log.Warn().Err(err).Str("task_id", id).Msg("failed to remove stale artifact after reset")
		}
	}

	s.metrics.TasksReset.Inc()
	writeJSON(w, http.StatusOK, map[string]string{"message": "task reset successfully"})
}

func (s *Server) handleDownload(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if id == "" {
		writeError(w, http.StatusBadRequest, "task id is required")
		return
	}

	t, err := s.store.Fetch(r.Context(), id)
	if err != nil {
		s.writeStoreErr(w, err, "download")
		return
	}
	if t.Status != task.StatusCompleted || !t.HasArtifact() {
		writeError(w, http.StatusNotFound, "image not found or task not completed")
		return
	}

	data, err := s.sink.Get(r.Context(), t.ImagePath)
	if err != nil {
		s.writeStoreErr(w, err, "download")
		return
	}

	w.Header().Set("Content-Type", artifact.MediaType)
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
}

// writeStoreErr translates a broker sentinel error into the matching HTTP
// status code. op is used only for logging context.
func (s *Server) writeStoreErr(w http.ResponseWriter, err error, op string) {
	switch {
	case errors.Is(err, broker.ErrNotFound), errors.Is(err, broker.ErrNoWork):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, broker.ErrContended):
		writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, broker.ErrBadState), errors.Is(err, broker.ErrBadRequest):
		writeError(w, http.StatusBadRequest, err.Error())
	default:
		s.log.Error().Err(err).Str("op", op).Msg("internal broker error")
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
