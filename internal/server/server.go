package server

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/yapay-ai/token-usage-watchdog/pkg/source"
	"github.com/yapay-ai/token-usage-watchdog/pkg/watcher"
)

// Server exposes the usage-check trigger endpoint and a health check.
type Server struct {
	source     source.UsageSource
	reconciler *watcher.Reconciler
	mux        *http.ServeMux
	logger     *slog.Logger
}

// NewServer creates the trigger server.
func NewServer(src source.UsageSource, rec *watcher.Reconciler, logger *slog.Logger) *Server {
	s := &Server{
		source:     src,
		reconciler: rec,
		mux:        http.NewServeMux(),
		logger:     logger,
	}
	s.routes()
	return s
}

func (s *Server) routes() {
	s.mux.HandleFunc("/healthz", requireMethod(http.MethodGet, s.handleHealth))
	s.mux.HandleFunc("/api/v1/check", requireMethod(http.MethodPost, s.handleCheck))
}

// requireMethod restricts a handler to one HTTP method (GET also admits
// HEAD), answering 405 otherwise as Go 1.22+ mux method patterns do.
// Needed because this module is built with a pre-1.22 toolchain.
func requireMethod(method string, h http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != method && !(method == http.MethodGet && r.Method == http.MethodHead) {
			w.Header().Set("Allow", method)
			http.Error(w, http.StatusText(http.StatusMethodNotAllowed), http.StatusMethodNotAllowed)
			return
		}
		h(w, r)
	}
}

// Handler returns the HTTP handler for this server.
func (s *Server) Handler() http.Handler {
	return s.mux
}

// CheckSummary is the JSON body of a completed invocation.
type CheckSummary struct {
	RunID       string `json:"run_id"`
	Deployments int    `json:"deployments"`
	AlertsSent  int    `json:"alerts_sent"`
	Failed      int    `json:"failed"`
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}

// handleCheck runs one invocation: pull fresh monthly totals, reconcile
// every deployment, and report a summary. Per-deployment failures are
// logged and counted but keep the 200; only a usage-source failure is
// invocation-fatal.
func (s *Server) handleCheck(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Minute)
	defer cancel()

	runID := uuid.New().String()
	logger := s.logger.With("run_id", runID)

	samples, err := s.source.MonthlyTotals(ctx)
	if err != nil {
		logger.Error("usage source unavailable", "error", err)
		http.Error(w, "usage source unavailable", http.StatusBadGateway)
		return
	}

	results := s.reconciler.Run(ctx, samples)

	summary := CheckSummary{RunID: runID, Deployments: len(results)}
	for _, res := range results {
		if res.Alerted {
			summary.AlertsSent++
		}
		if res.Err != nil {
			summary.Failed++
		}
	}

	logger.Info("check completed",
		"deployments", summary.Deployments,
		"alerts_sent", summary.AlertsSent,
		"failed", summary.Failed,
	)

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(summary)
}
