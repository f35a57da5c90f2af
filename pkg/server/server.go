// Package server exposes the healthcheck HTTP endpoint.
package server

import (
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/dkorolev/feedrelay/internal/pipeline"
)

// Server serves read-only pipeline status over HTTP.
type Server struct {
	orch   *pipeline.Orchestrator
	logger *log.Logger
	port   int
}

// New creates the healthcheck server.
func New(orch *pipeline.Orchestrator, port int, logger *log.Logger) *Server {
	if port == 0 {
		port = 8080
	}
	return &Server{orch: orch, logger: logger, port: port}
}

// ListenAndServe starts the HTTP server.
func (s *Server) ListenAndServe() error {
	mux := http.NewServeMux()
	mux.HandleFunc("/health", s.handleHealth)
	mux.HandleFunc("/healthz", s.handleHealth)

	addr := fmt.Sprintf(":%d", s.port)
	s.logger.Printf("healthcheck server listening on %s", addr)
	return http.ListenAndServe(addr, mux)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	snap := s.orch.Snapshot()

	lastCheck := "never"
	if !snap.LastCheck.IsZero() {
		lastCheck = snap.LastCheck.Format(time.RFC3339)
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"status":            "healthy",
		"last_check":        lastCheck,
		"last_check_status": snap.LastStatus,
		"posts_today":       snap.PostsToday,
		"max_posts_per_day": snap.DailyLimit,
	})
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}
