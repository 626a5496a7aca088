// Package api is the HTTP surface of the daemon: task submission and
// inspection, per-owner settings, premium grants and history.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/kvosk/msq/internal/mega"
	"github.com/kvosk/msq/internal/queue"
	"github.com/kvosk/msq/internal/store"
)

// Tasks is the live queue surface the server exposes.
type Tasks interface {
	Submit(ctx context.Context, owner, rawURL string) (queue.TaskView, error)
	List(state string) []queue.TaskView
	Get(id uint64) (queue.TaskView, error)
	Files(id uint64) ([]string, error)
	Cancel(owner string, id uint64, admin bool) error
	Stats() queue.Stats
}

var _ Tasks = (*queue.Service)(nil)

// Accounts is the persistent per-owner surface: settings, grants and
// finished-task history.
type Accounts interface {
	UserSettings(ctx context.Context, owner string) (store.UserSettings, error)
	UpdateUserSettings(ctx context.Context, owner string, intervalSeconds *int, mode *string) (store.UserSettings, error)
	AddGrant(ctx context.Context, owner string, expires time.Time) (store.Grant, error)
	ListGrants(ctx context.Context, owner string) ([]store.Grant, error)
	RevokeGrant(ctx context.Context, id string) error
	ListTasks(ctx context.Context, owner string, limit int) ([]store.TaskRow, error)
}

var _ Accounts = (*store.Store)(nil)

type Server struct {
	Tasks      Tasks
	Accounts   Accounts
	AdminToken string
	Log        *slog.Logger
}

func (s *Server) Handler() http.Handler {
	if s.Log == nil {
		s.Log = slog.Default()
	}
	mux := http.NewServeMux()
	mux.HandleFunc("/tasks", s.handleTasks)
	mux.HandleFunc("/tasks/", s.handleTask)
	mux.HandleFunc("/history", s.handleHistory)
	mux.HandleFunc("/settings/", s.handleSettings)
	mux.HandleFunc("/grants", s.handleGrants)
	mux.HandleFunc("/grants/", s.handleGrant)
	mux.HandleFunc("/healthz", s.handleHealth)
	return mux
}

// isAdmin reports whether the request may act on any owner's resources.
// With no admin token configured the API is single operator and fully
// trusted.
func (s *Server) isAdmin(r *http.Request) bool {
	if s.AdminToken == "" {
		return true
	}
	return r.Header.Get("Authorization") == "Bearer "+s.AdminToken
}

type submitRequest struct {
	URL   string `json:"url"`
	Owner string `json:"owner"`
}

func (s *Server) handleTasks(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		writeJSON(w, http.StatusOK, s.Tasks.List(r.URL.Query().Get("state")))
	case http.MethodPost:
		var req submitRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeErr(w, http.StatusBadRequest, err)
			return
		}
		if req.URL == "" || req.Owner == "" {
			writeErr(w, http.StatusBadRequest, errors.New("missing url or owner"))
			return
		}
		view, err := s.Tasks.Submit(r.Context(), req.Owner, req.URL)
		if err != nil {
			writeErr(w, errStatus(err), err)
			return
		}
		s.Log.Info("api submit", slog.Uint64("task", view.ID), slog.String("owner", view.Owner))
		writeJSON(w, http.StatusOK, view)
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

type cancelRequest struct {
	Owner string `json:"owner"`
}

func (s *Server) handleTask(w http.ResponseWriter, r *http.Request) {
	parts := strings.Split(strings.TrimPrefix(r.URL.Path, "/tasks/"), "/")
	if len(parts) == 0 || parts[0] == "" {
		w.WriteHeader(http.StatusNotFound)
		return
	}
	id, err := strconv.ParseUint(parts[0], 10, 64)
	if err != nil {
		writeErr(w, http.StatusBadRequest, err)
		return
	}
	if len(parts) == 1 {
		if r.Method != http.MethodGet {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		view, err := s.Tasks.Get(id)
		if err != nil {
			writeErr(w, errStatus(err), err)
			return
		}
		writeJSON(w, http.StatusOK, view)
		return
	}
	switch parts[1] {
	case "files":
		if r.Method != http.MethodGet {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		files, err := s.Tasks.Files(id)
		if err != nil {
			writeErr(w, errStatus(err), err)
			return
		}
		writeJSON(w, http.StatusOK, map[string][]string{"files": files})
	case "cancel":
		if r.Method != http.MethodPost {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		var req cancelRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
			writeErr(w, http.StatusBadRequest, err)
			return
		}
		if err := s.Tasks.Cancel(req.Owner, id, s.isAdmin(r)); err != nil {
			writeErr(w, errStatus(err), err)
			return
		}
		s.Log.Info("api cancel", slog.Uint64("task", id), slog.String("owner", req.Owner))
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	default:
		w.WriteHeader(http.StatusNotFound)
	}
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	limit := 0
	if v := r.URL.Query().Get("limit"); v != "" {
		if parsed, err := strconv.Atoi(v); err == nil {
			limit = parsed
		}
	}
	rows, err := s.Accounts.ListTasks(r.Context(), r.URL.Query().Get("owner"), limit)
	if err != nil {
		writeErr(w, errStatus(err), err)
		return
	}
	writeJSON(w, http.StatusOK, rows)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	writeJSON(w, http.StatusOK, s.Tasks.Stats())
}

func errStatus(err error) int {
	switch {
	case errors.Is(err, mega.ErrInvalidLink), errors.Is(err, store.ErrInvalidSetting):
		return http.StatusBadRequest
	case errors.Is(err, queue.ErrTaskNotFound), errors.Is(err, store.ErrGrantNotFound):
		return http.StatusNotFound
	case errors.Is(err, queue.ErrNotOwner):
		return http.StatusForbidden
	case errors.Is(err, queue.ErrShuttingDown):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeErr(w http.ResponseWriter, code int, err error) {
	writeJSON(w, code, map[string]string{"error": err.Error()})
}
