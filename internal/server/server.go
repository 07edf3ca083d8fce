// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package server exposes job submission and status polling over HTTP.
//
//	POST /jobs       {"subject_name": "...", "max_results": 20} -> 202 {"id": "..."}
//	GET  /jobs/{id}  -> 200 StatusReport
//	GET  /health     -> 200 {"status": "ok"}
package server

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/pdiddy/customer-engine/internal/job"
	"github.com/pdiddy/customer-engine/pkg/types"
)

// Jobs is the orchestrator surface the server needs.
type Jobs interface {
	Submit(ctx context.Context, subject string, maxResults int) (string, error)
	GetStatus(ctx context.Context, id string) (types.StatusReport, error)
}

// SubmitRequest is the body of POST /jobs.
type SubmitRequest struct {
	SubjectName string `json:"subject_name"`
	MaxResults  int    `json:"max_results"`
}

// SubmitResponse is returned by POST /jobs.
type SubmitResponse struct {
	ID string `json:"id"`
}

// maxBody caps submission bodies.
const maxBody = 64 << 10

// New returns the router.
func New(jobs Jobs, logger *slog.Logger) http.Handler {
	if logger == nil {
		logger = slog.Default()
	}
	r := chi.NewRouter()
	r.Use(requestLogger(logger))

	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	r.Post("/jobs", func(w http.ResponseWriter, r *http.Request) {
		var req SubmitRequest
		if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBody)).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}
		id, err := jobs.Submit(r.Context(), req.SubjectName, req.MaxResults)
		switch {
		case errors.Is(err, job.ErrInvalidSubject), errors.Is(err, job.ErrInvalidMaxResults):
			writeError(w, http.StatusBadRequest, err.Error())
			return
		case err != nil:
			logger.Error("submit failed", "error", err)
			writeError(w, http.StatusInternalServerError, "internal error")
			return
		}
		w.Header().Set("Location", "/jobs/"+id)
		writeJSON(w, http.StatusAccepted, SubmitResponse{ID: id})
	})

	r.Get("/jobs/{id}", func(w http.ResponseWriter, r *http.Request) {
		report, err := jobs.GetStatus(r.Context(), chi.URLParam(r, "id"))
		switch {
		case errors.Is(err, job.ErrNotFound):
			writeError(w, http.StatusNotFound, "job not found")
			return
		case err != nil:
			logger.Error("status lookup failed", "error", err)
			writeError(w, http.StatusInternalServerError, "internal error")
			return
		}
		writeJSON(w, http.StatusOK, report)
	})

	return r
}

func requestLogger(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			next.ServeHTTP(w, r)
			logger.Debug("request", "method", r.Method, "path", r.URL.Path, "elapsed", time.Since(start))
		})
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
