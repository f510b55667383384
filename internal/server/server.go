// Package server provides the sandloft HTTP API.
package server

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/charmbracelet/log"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/sandloft/sandloft/internal/fault"
	"github.com/sandloft/sandloft/internal/logs"
	"github.com/sandloft/sandloft/internal/orchestrator"
	"github.com/sandloft/sandloft/internal/session"
	"github.com/sandloft/sandloft/internal/snapshot"
	"github.com/sandloft/sandloft/internal/status"
)

// Server is the sandloft HTTP API server.
type Server struct {
	orch      *orchestrator.Orchestrator
	snapshots *snapshot.Coordinator
	bus       *logs.Bus
	logger    *log.Logger
	router    chi.Router
}

// New creates a Server around an assembled orchestrator.
func New(orch *orchestrator.Orchestrator, snaps *snapshot.Coordinator, bus *logs.Bus, logger *log.Logger) *Server {
	s := &Server{
		orch:      orch,
		snapshots: snaps,
		bus:       bus,
		logger:    logger,
	}
	s.router = s.buildRouter()
	return s
}

// Handler returns the HTTP handler, for tests and embedding.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start runs the HTTP server until ctx is cancelled.
func (s *Server) Start(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:    addr,
		Handler: s.router,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		srv.Shutdown(shutdownCtx)
	}()

	s.logger.Info("sandloft server listening", "addr", addr)
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

func (s *Server) buildRouter() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)

	r.Route("/api", func(r chi.Router) {
		r.Post("/sessions", s.handleCreateSession)
		r.Get("/sessions", s.handleListSessions)
		r.Get("/sessions/{id}", s.handleGetSession)
		r.Get("/sessions/{id}/logs", s.handleSessionLogs)
		r.Get("/sessions/{id}/stream", s.handleSessionStream)
		r.Post("/sessions/{id}/stop", s.handleStopSession)
		r.Post("/sessions/{id}/archive", s.handleArchiveSession)
		r.Post("/sessions/{id}/snapshot", s.handleCreateSnapshot)
		r.Post("/sessions/{id}/pr", s.handleSetPR)
		r.Post("/sessions/{id}/pr/refresh", s.handleRefreshPR)

		r.Get("/snapshots", s.handleListSnapshots)
		r.Get("/snapshots/{id}", s.handleGetSnapshot)
		r.Delete("/snapshots/{id}", s.handleDeleteSnapshot)
	})

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("ok"))
	})

	return r
}

// --- Request/Response types ---

type createSessionRequest struct {
	RepoURL    string            `json:"repo_url,omitempty"`
	Ref        string            `json:"ref,omitempty"`
	SnapshotID string            `json:"snapshot_id,omitempty"`
	Workdir    string            `json:"workdir,omitempty"`
	Plan       string            `json:"plan,omitempty"`
	Model      string            `json:"model,omitempty"`
	Runtime    string            `json:"runtime,omitempty"`
	Env        map[string]string `json:"env,omitempty"`
}

type archiveRequest struct {
	Archived bool `json:"archived"`
}

type setPRRequest struct {
	URL string `json:"url"`
}

type errorResponse struct {
	Error string     `json:"error"`
	Code  fault.Code `json:"code,omitempty"`
}

// --- Session handlers ---

func (s *Server) handleCreateSession(w http.ResponseWriter, r *http.Request) {
	var req createSessionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, fault.Validation("invalid request body"))
		return
	}

	sess, err := s.orch.CreateSession(r.Context(), session.Config{
		RepoURL:    req.RepoURL,
		Ref:        req.Ref,
		SnapshotID: req.SnapshotID,
		Workdir:    req.Workdir,
		Plan:       req.Plan,
		Model:      req.Model,
		Runtime:    req.Runtime,
		Env:        req.Env,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, sess)
}

func (s *Server) handleListSessions(w http.ResponseWriter, r *http.Request) {
	includeArchived := r.URL.Query().Get("archived") == "true"
	sessions, err := s.orch.ListSessions(includeArchived)
	if err != nil {
		writeError(w, err)
		return
	}
	if sessions == nil {
		sessions = []*session.Session{}
	}
	writeJSON(w, http.StatusOK, sessions)
}

func (s *Server) handleGetSession(w http.ResponseWriter, r *http.Request) {
	res, err := s.orch.GetStatus(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleSessionLogs(w http.ResponseWriter, r *http.Request) {
	entries, err := s.orch.Logs(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	if entries == nil {
		entries = []*session.LogEntry{}
	}
	writeJSON(w, http.StatusOK, entries)
}

func (s *Server) handleStopSession(w http.ResponseWriter, r *http.Request) {
	sess, err := s.orch.StopSession(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, sess)
}

func (s *Server) handleArchiveSession(w http.ResponseWriter, r *http.Request) {
	var req archiveRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, fault.Validation("invalid request body"))
		return
	}
	sess, err := s.orch.SetArchived(chi.URLParam(r, "id"), req.Archived)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, sess)
}

func (s *Server) handleCreateSnapshot(w http.ResponseWriter, r *http.Request) {
	rec, err := s.orch.CreateSnapshot(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, rec)
}

func (s *Server) handleSetPR(w http.ResponseWriter, r *http.Request) {
	var req setPRRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, fault.Validation("invalid request body"))
		return
	}
	sess, err := s.orch.SetPR(r.Context(), chi.URLParam(r, "id"), req.URL)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, sess)
}

func (s *Server) handleRefreshPR(w http.ResponseWriter, r *http.Request) {
	sess, err := s.orch.RefreshPR(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, sess)
}

// --- Snapshot handlers ---

func (s *Server) handleListSnapshots(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	if q.Get("live") == "true" {
		snaps, err := s.snapshots.ListLive(r.Context())
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, snaps)
		return
	}

	page, _ := strconv.Atoi(q.Get("page"))
	limit, _ := strconv.Atoi(q.Get("limit"))
	recs, err := s.snapshots.List(page, limit)
	if err != nil {
		writeError(w, err)
		return
	}
	if recs == nil {
		recs = []*session.SnapshotRecord{}
	}
	writeJSON(w, http.StatusOK, recs)
}

func (s *Server) handleGetSnapshot(w http.ResponseWriter, r *http.Request) {
	rec, err := s.snapshots.Get(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

func (s *Server) handleDeleteSnapshot(w http.ResponseWriter, r *http.Request) {
	if err := s.snapshots.Delete(r.Context(), chi.URLParam(r, "id")); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"deleted": true})
}

// --- Live stream (SSE) ---

// streamEvent is the push-delivery envelope: connected | log | error | complete.
type streamEvent struct {
	Type    string            `json:"type"`
	Status  session.Status    `json:"status,omitempty"`
	Entry   *session.LogEntry `json:"entry,omitempty"`
	Message string            `json:"message,omitempty"`
}

// handleSessionStream pushes the session's log sequence over SSE. Stored
// entries are replayed first, then live entries from the bus; because the
// pipeline persists before it publishes, the replay-then-subscribe order
// cannot lose entries (duplicates across the seam are filtered by ID).
func (s *Server) handleSessionStream(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	res, err := s.orch.GetStatus(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")

	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, fmt.Errorf("streaming not supported"))
		return
	}

	writeSSE(w, streamEvent{Type: "connected", Status: res.Session.Status})

	// Subscribe before replay so nothing published during the replay is
	// missed; entries seen twice are dropped by the lastID watermark.
	ch := s.bus.Subscribe(id)
	defer s.bus.Unsubscribe(id, ch)

	var lastID int64
	entries, err := s.orch.Logs(id)
	if err != nil {
		// Tell the observer the replay is incomplete rather than pretending
		// the history is empty.
		s.logger.Warn("replaying stored logs", "session", id, "err", err)
		writeSSE(w, streamEvent{Type: "error", Message: "stored log replay unavailable"})
	}
	for _, e := range entries {
		writeSSE(w, entryEvent(e))
		lastID = e.ID
	}
	flusher.Flush()

	if status.IsTerminal(res.Session.Status) {
		writeSSE(w, streamEvent{Type: "complete", Status: res.Session.Status})
		flusher.Flush()
		return
	}

	ctx := r.Context()
	for {
		select {
		case <-ctx.Done():
			return
		case e, open := <-ch:
			if !open {
				// Pipeline closed the live sequence; report the final state.
				final, err := s.orch.GetStatus(context.Background(), id)
				ev := streamEvent{Type: "complete"}
				if err == nil {
					ev.Status = final.Session.Status
				}
				writeSSE(w, ev)
				flusher.Flush()
				return
			}
			if e.ID <= lastID {
				continue
			}
			lastID = e.ID
			writeSSE(w, entryEvent(e))
			flusher.Flush()
		}
	}
}

func entryEvent(e *session.LogEntry) streamEvent {
	typ := "log"
	if e.Level == session.LevelError || e.Level == session.LevelStderr {
		typ = "error"
	}
	return streamEvent{Type: typ, Entry: e}
}

// --- Helpers ---

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, err error) {
	code := fault.CodeOf(err)
	writeJSON(w, httpStatus(code), errorResponse{Error: err.Error(), Code: code})
}

func httpStatus(code fault.Code) int {
	switch code {
	case fault.CodeValidation:
		return http.StatusBadRequest
	case fault.CodeNotFound:
		return http.StatusNotFound
	case fault.CodeConflict:
		return http.StatusConflict
	case fault.CodeUnavailable:
		return http.StatusServiceUnavailable
	case fault.CodeInconsistent:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func writeSSE(w http.ResponseWriter, ev streamEvent) {
	data, _ := json.Marshal(ev)
	fmt.Fprintf(w, "event: %s\ndata: %s\n\n", ev.Type, data)
}
