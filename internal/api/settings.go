package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"
)

type settingsRequest struct {
	StatusIntervalSeconds *int    `json:"status_interval_seconds"`
	UploadMode            *string `json:"upload_mode"`
}

// handleSettings serves GET and POST /settings/<owner>. Updates are
// partial; absent fields keep their stored values.
func (s *Server) handleSettings(w http.ResponseWriter, r *http.Request) {
	owner := strings.TrimPrefix(r.URL.Path, "/settings/")
	if owner == "" || strings.Contains(owner, "/") {
		w.WriteHeader(http.StatusNotFound)
		return
	}
	switch r.Method {
	case http.MethodGet:
		us, err := s.Accounts.UserSettings(r.Context(), owner)
		if err != nil {
			writeErr(w, errStatus(err), err)
			return
		}
		writeJSON(w, http.StatusOK, us)
	case http.MethodPost:
		var req settingsRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeErr(w, http.StatusBadRequest, err)
			return
		}
		us, err := s.Accounts.UpdateUserSettings(r.Context(), owner, req.StatusIntervalSeconds, req.UploadMode)
		if err != nil {
			writeErr(w, errStatus(err), err)
			return
		}
		s.Log.Info("api settings updated", slog.String("owner", owner))
		writeJSON(w, http.StatusOK, us)
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

type grantRequest struct {
	Owner     string `json:"owner"`
	ExpiresAt string `json:"expires_at"`
}

// handleGrants serves GET and POST /grants. The grant surface is admin
// only once a token is configured.
func (s *Server) handleGrants(w http.ResponseWriter, r *http.Request) {
	if !s.isAdmin(r) {
		writeErr(w, http.StatusUnauthorized, errors.New("admin token required"))
		return
	}
	switch r.Method {
	case http.MethodGet:
		grants, err := s.Accounts.ListGrants(r.Context(), r.URL.Query().Get("owner"))
		if err != nil {
			writeErr(w, errStatus(err), err)
			return
		}
		writeJSON(w, http.StatusOK, grants)
	case http.MethodPost:
		var req grantRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeErr(w, http.StatusBadRequest, err)
			return
		}
		if req.Owner == "" {
			writeErr(w, http.StatusBadRequest, errors.New("missing owner"))
			return
		}
		var expires time.Time
		if req.ExpiresAt != "" {
			parsed, err := time.Parse(time.RFC3339, req.ExpiresAt)
			if err != nil {
				writeErr(w, http.StatusBadRequest, err)
				return
			}
			expires = parsed
		}
		grant, err := s.Accounts.AddGrant(r.Context(), req.Owner, expires)
		if err != nil {
			writeErr(w, errStatus(err), err)
			return
		}
		s.Log.Info("api grant added", slog.String("owner", req.Owner), slog.String("grant", grant.ID))
		writeJSON(w, http.StatusOK, grant)
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

// handleGrant serves DELETE /grants/<id>.
func (s *Server) handleGrant(w http.ResponseWriter, r *http.Request) {
	if !s.isAdmin(r) {
		writeErr(w, http.StatusUnauthorized, errors.New("admin token required"))
		return
	}
	if r.Method != http.MethodDelete {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	id := strings.TrimPrefix(r.URL.Path, "/grants/")
	if id == "" {
		w.WriteHeader(http.StatusNotFound)
		return
	}
	if err := s.Accounts.RevokeGrant(r.Context(), id); err != nil {
		writeErr(w, errStatus(err), err)
		return
	}
	s.Log.Info("api grant revoked", slog.String("grant", id))
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
