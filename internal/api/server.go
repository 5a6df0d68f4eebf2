// Package api is the thin HTTP surface that creates and changes tasks and
// hands each change to the relay as a mirror pass.
package api

import (
	"context"
	"encoding/json"
	"log"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"taskrelay/pkg/journal"
	"taskrelay/pkg/mirror"
	"taskrelay/pkg/task"
)

// Relay accepts passes.
type Relay interface {
	Submit(ctx context.Context, snap mirror.Snapshot) error
	SyncNow(ctx context.Context, snap mirror.Snapshot) (*mirror.Report, error)
}

// Journal is the read side of the sync journal plus live updates.
type Journal interface {
	Recent(ctx context.Context, limit int) ([]journal.Entry, error)
	ByTask(ctx context.Context, taskID string, limit int) ([]journal.Entry, error)
	Subscribe(taskID string) *journal.Subscription
	Unsubscribe(sub *journal.Subscription)
}

// Server is the HTTP API server.
type Server struct {
	tasks   task.Store
	journal Journal
	relay   Relay
	metrics http.Handler
	mux     *http.ServeMux
}

// New creates a new Server. reg may be nil, in which case /metrics serves
// the default registry.
func New(tasks task.Store, j Journal, relay Relay, reg *prometheus.Registry) *Server {
	s := &Server{
		tasks:   tasks,
		journal: j,
		relay:   relay,
		mux:     http.NewServeMux(),
	}
	if reg != nil {
		s.metrics = promhttp.HandlerFor(reg, promhttp.HandlerOpts{})
	} else {
		s.metrics = promhttp.Handler()
	}
	s.routes()
	return s
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mux.ServeHTTP(w, r)
}

func (s *Server) routes() {
	// Tasks
	s.mux.HandleFunc("GET /api/tasks", s.handleTaskList)
	s.mux.HandleFunc("POST /api/tasks", s.handleTaskCreate)
	s.mux.HandleFunc("GET /api/tasks/{id}", s.handleTaskGet)
	s.mux.HandleFunc("PATCH /api/tasks/{id}", s.handleTaskUpdate)
	s.mux.HandleFunc("POST /api/tasks/{id}/sync", s.handleTaskSync)

	// Journal
	s.mux.HandleFunc("GET /api/journal", s.handleJournalList)
	s.mux.HandleFunc("GET /api/journal/stream", s.handleJournalStream)

	// System
	s.mux.HandleFunc("GET /health", s.handleHealth)
	s.mux.Handle("GET /metrics", s.metrics)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, 200, map[string]string{"status": "ok"})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("write json: %v", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
