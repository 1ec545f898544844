// Package server exposes the sync engine and the cached items over HTTP.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"go.uber.org/zap"

	"githubtriage/db"
	"githubtriage/logger"
	"githubtriage/models"
	"githubtriage/service"
)

// SyncController is the part of the sync engine the HTTP layer drives
// (for testability)
type SyncController interface {
	TriggerSync() error
	Status(ctx context.Context) (*service.Status, error)
	Annotate(ctx context.Context, kind models.Kind, repo string, number int, a models.Annotation) error
}

// Store abstracts the read-side queries behind the listings
// (for testability)
type Store interface {
	Ping(ctx context.Context) error
	ListRepositories(ctx context.Context, activeOnly bool) ([]models.Repository, error)
	SetRepositoryActive(ctx context.Context, repo string, active bool) error
	ListIssues(ctx context.Context, q models.ItemQuery) ([]models.Issue, error)
	ListPullRequests(ctx context.Context, q models.ItemQuery) ([]models.PullRequest, error)
	RecentHistory(ctx context.Context, limit int) ([]models.SyncHistory, error)
}

const defaultHistoryLimit = 50

// Server routes API requests.
type Server struct {
	sync  SyncController
	store Store
	hub   *Hub
	mux   *http.ServeMux
}

// New builds the routes. hub may be nil, in which case /ws is not served.
func New(sync SyncController, store Store, hub *Hub) *Server {
	s := &Server{sync: sync, store: store, hub: hub, mux: http.NewServeMux()}

	s.mux.HandleFunc("GET /healthz", s.handleHealth)
	s.mux.HandleFunc("POST /api/sync", s.handleTriggerSync)
	s.mux.HandleFunc("GET /api/sync/status", s.handleStatus)
	s.mux.HandleFunc("GET /api/sync/history", s.handleHistory)
	s.mux.HandleFunc("GET /api/repositories", s.handleRepositories)
	s.mux.HandleFunc("PUT /api/repositories/{owner}/{name}/active", s.handleSetActive)
	s.mux.HandleFunc("GET /api/{kind}", s.handleListItems)
	s.mux.HandleFunc("PATCH /api/{kind}/{owner}/{name}/{number}", s.handleAnnotate)
	if hub != nil {
		s.mux.Handle("GET /ws", hub)
	}
	return s
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mux.ServeHTTP(w, r)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if err := s.store.Ping(r.Context()); err != nil {
		writeError(w, http.StatusServiceUnavailable, err)
		return
	}
	resp := map[string]any{"status": "ok"}
	if s.hub != nil {
		resp["clients"] = s.hub.ClientCount()
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleTriggerSync(w http.ResponseWriter, r *http.Request) {
	if err := s.sync.TriggerSync(); err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "started"})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	st, err := s.sync.Status(r.Context())
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	limit, err := intParam(r, "limit", defaultHistoryLimit)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	history, err := s.store.RecentHistory(r.Context(), limit)
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusOK, history)
}

func (s *Server) handleRepositories(w http.ResponseWriter, r *http.Request) {
	activeOnly := r.URL.Query().Get("active") == "true"
	repos, err := s.store.ListRepositories(r.Context(), activeOnly)
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusOK, repos)
}

func (s *Server) handleSetActive(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Active *bool `json:"active"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.Active == nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("body must be {\"active\": true|false}"))
		return
	}
	repo := r.PathValue("owner") + "/" + r.PathValue("name")
	if err := s.store.SetRepositoryActive(r.Context(), repo, *body.Active); err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"repo": repo, "active": *body.Active})
}

func (s *Server) handleListItems(w http.ResponseWriter, r *http.Request) {
	kind, err := models.ParseKind(r.PathValue("kind"))
	if err != nil {
		writeError(w, http.StatusNotFound, err)
		return
	}

	query := r.URL.Query()
	q := models.ItemQuery{Repo: query.Get("repo"), State: query.Get("state")}
	if v := query.Get("triage"); v != "" {
		triaged, err := strconv.ParseBool(v)
		if err != nil {
			writeError(w, http.StatusBadRequest, fmt.Errorf("invalid triage value %q", v))
			return
		}
		q.Triaged = &triaged
	}
	if q.Page, err = intParam(r, "page", 1); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if q.PageSize, err = intParam(r, "page_size", 100); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	var items any
	if kind == models.KindIssues {
		items, err = s.store.ListIssues(r.Context(), q)
	} else {
		items, err = s.store.ListPullRequests(r.Context(), q)
	}
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusOK, items)
}

func (s *Server) handleAnnotate(w http.ResponseWriter, r *http.Request) {
	kind, err := models.ParseKind(r.PathValue("kind"))
	if err != nil {
		writeError(w, http.StatusNotFound, err)
		return
	}
	number, err := strconv.Atoi(r.PathValue("number"))
	if err != nil || number <= 0 {
		writeError(w, http.StatusBadRequest, fmt.Errorf("invalid item number %q", r.PathValue("number")))
		return
	}

	var a models.Annotation
	if err := json.NewDecoder(r.Body).Decode(&a); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("invalid annotation body: %w", err))
		return
	}

	repo := r.PathValue("owner") + "/" + r.PathValue("name")
	if err := s.sync.Annotate(r.Context(), kind, repo, number, a); err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"repo": repo, "number": number, "kind": kind})
}

func intParam(r *http.Request, name string, def int) (int, error) {
	v := r.URL.Query().Get(name)
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 1 {
		return 0, fmt.Errorf("invalid %s %q", name, v)
	}
	return n, nil
}

// statusFor maps domain errors onto HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, service.ErrSyncInProgress):
		return http.StatusConflict
	case errors.Is(err, db.ErrItemNotFound), errors.Is(err, db.ErrRepositoryNotFound):
		return http.StatusNotFound
	case errors.Is(err, db.ErrInvalidInput):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.Warn("Failed to write response", zap.Error(err))
	}
}

func writeError(w http.ResponseWriter, status int, err error) {
	if status >= http.StatusInternalServerError {
		logger.Error("Request failed", zap.Int("status", status), zap.Error(err))
	}
	writeJSON(w, status, map[string]string{"error": err.Error()})
}
