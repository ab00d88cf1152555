// Package server exposes the running scheduler over HTTP: a publish
// endpoint feeding the bus, a task listing, and the archived stats records.
//
// The engine's task and subscription registries belong to the engine
// goroutine, so handlers never touch them directly. A scheduler task
// refreshes an atomic process-list snapshot once a second and handlers
// serve that; only Publish, which is queue-only and locked, is called from
// request goroutines.
package server

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/me/muloop/internal/store"
	"github.com/me/muloop/pkg/sched"
)

// snapshotInterval is the refresh cadence of the process-list snapshot.
const snapshotInterval = time.Second

// Server is the HTTP front of a scheduler engine.
type Server struct {
	router chi.Router
	logger *slog.Logger
	eng    *sched.Engine
	store  store.Store // optional; nil disables /api/stats

	snapshot atomic.Pointer[psSnapshot]
}

type taskView struct {
	ID           int    `json:"id"`
	Name         string `json:"name"`
	Priority     string `json:"priority"`
	IntervalUsec int64  `json:"interval_usec"`
	CallCount    uint64 `json:"call_count"`
	CPUUsec      int64  `json:"cpu_usec"`
	LateUsec     int64  `json:"late_usec"`
}

type psSnapshot struct {
	UptimeSec uint64     `json:"uptime_sec"`
	QueueLen  int        `json:"queue_len"`
	Tasks     []taskView `json:"tasks"`
}

// New creates a server for the given engine. st may be nil when no stats
// archive is configured.
func New(e *sched.Engine, st store.Store, logger *slog.Logger) *Server {
	s := &Server{
		router: chi.NewRouter(),
		logger: logger.With("component", "server"),
		eng:    e,
		store:  st,
	}
	s.routes()
	return s
}

// Begin registers the snapshot refresher on the engine and takes a first
// snapshot, so /api/ps is never empty.
func (s *Server) Begin() {
	s.refresh()
	s.eng.Add(s.refresh, "http-ps", snapshotInterval, sched.PrioLow)
}

// Handler returns the http.Handler for this server.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) routes() {
	r := s.router
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", s.handleHealth)
	r.Route("/api", func(r chi.Router) {
		r.Post("/pub", s.handlePublish)
		r.Get("/ps", s.handleProcessList)
		r.Get("/stats", s.handleStats)
	})
}

// refresh runs on the engine goroutine as a scheduler task.
func (s *Server) refresh() {
	tasks := s.eng.Tasks()
	views := make([]taskView, 0, len(tasks))
	for _, t := range tasks {
		views = append(views, taskView{
			ID:           t.ID,
			Name:         t.Name,
			Priority:     t.Priority.String(),
			IntervalUsec: t.Interval.Microseconds(),
			CallCount:    t.CallCount,
			CPUUsec:      t.CPUTime.Microseconds(),
			LateUsec:     t.LateTime.Microseconds(),
		})
	}
	s.snapshot.Store(&psSnapshot{
		UptimeSec: s.eng.Uptime(),
		QueueLen:  s.eng.QueueLen(),
		Tasks:     views,
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// handlePublish injects one message into the bus.
// POST /api/pub {"topic": "...", "msg": "..."}
func (s *Server) handlePublish(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Topic string `json:"topic"`
		Msg   string `json:"msg"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondJSON(w, http.StatusBadRequest, map[string]string{
			"error": "invalid JSON body: " + err.Error(),
		})
		return
	}
	if req.Topic == "" {
		respondJSON(w, http.StatusBadRequest, map[string]string{
			"error": "topic is required",
		})
		return
	}

	if !s.eng.PublishFrom(req.Topic, req.Msg, "http") {
		respondJSON(w, http.StatusServiceUnavailable, map[string]any{
			"queued": false,
			"error":  "message queue is full",
		})
		return
	}
	respondJSON(w, http.StatusAccepted, map[string]any{"queued": true})
}

// handleProcessList serves the latest task snapshot.
// GET /api/ps
func (s *Server) handleProcessList(w http.ResponseWriter, r *http.Request) {
	snap := s.snapshot.Load()
	if snap == nil {
		snap = &psSnapshot{Tasks: []taskView{}}
	}
	respondJSON(w, http.StatusOK, snap)
}

// handleStats serves archived stats emissions, newest first.
// GET /api/stats?limit=N
func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	if s.store == nil {
		respondJSON(w, http.StatusNotFound, map[string]string{
			"error": "stats archive is not configured",
		})
		return
	}
	limit := 20
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			respondJSON(w, http.StatusBadRequest, map[string]string{
				"error": "limit must be a positive integer",
			})
			return
		}
		limit = n
	}

	emissions, err := s.store.ListEmissions(r.Context(), limit)
	if err != nil {
		s.logger.Error("list emissions failed", "error", err)
		respondJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "stats archive unavailable",
		})
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"emissions": emissions})
}

func respondJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
