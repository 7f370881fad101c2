package daemon

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"

	"github.com/docqueue/docq/internal/queue"
)

// SubmitRequest is one item handed to the execution backend.
type SubmitRequest struct {
	Target   string `json:"target"`
	Revision string `json:"revision,omitempty"`
}

// SubmitResponse acknowledges an accepted submission.
type SubmitResponse struct {
	Ticket string `json:"ticket"`
}

// HealthzResponse reports daemon health.
type HealthzResponse struct {
	Status string `json:"status"`
	Stats
}

type errorResponse struct {
	Error string `json:"error"`
}

// serveAPI runs the localhost HTTP API until ctx is cancelled.
func (d *Daemon) serveAPI(ctx context.Context) error {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Get("/healthz", d.handleHealthz)
	r.Post("/jobs", d.handleSubmit)

	server := &http.Server{
		Addr:         d.cfg.Worker.Listen,
		Handler:      r,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	d.logger.Info("api listening", "listen", d.cfg.Worker.Listen)

	errCh := make(chan error, 1)
	go func() {
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server shutdown failed: %w", err)
		}
		return ctx.Err()
	case err := <-errCh:
		return fmt.Errorf("server error: %w", err)
	}
}

// handleHealthz handles GET /healthz.
func (d *Daemon) handleHealthz(w http.ResponseWriter, r *http.Request) {
	resp := HealthzResponse{Status: "ok", Stats: d.stats()}
	writeJSON(w, http.StatusOK, resp)
}

// handleSubmit handles POST /jobs: accept one item into the execution
// buffer and answer with a ticket. A full buffer is 503 so the dispatcher
// falls back instead of blocking the hook.
func (d *Daemon) handleSubmit(w http.ResponseWriter, r *http.Request) {
	var req SubmitRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid JSON body"})
		return
	}
	if strings.TrimSpace(req.Target) == "" {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "target is required"})
		return
	}

	item := queue.NewItem(req.Target, req.Revision)
	sub := submission{ticket: uuid.NewString(), item: item}

	select {
	case d.jobs <- sub:
		d.logger.Debug("submission accepted", "ticket", sub.ticket, "target", item.Target)
		writeJSON(w, http.StatusCreated, SubmitResponse{Ticket: sub.ticket})
	default:
		d.logger.Warn("submission buffer full, rejecting", "target", item.Target)
		writeJSON(w, http.StatusServiceUnavailable, errorResponse{Error: "submission buffer full"})
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
