// Package store persists everything that outlives a task: per-user
// settings, premium grants and the terminal task history.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

var (
	ErrGrantNotFound  = errors.New("grant_not_found")
	ErrInvalidSetting = errors.New("invalid_setting")
)

const (
	DefaultStatusIntervalSeconds = 5
	DefaultUploadMode            = "tree"

	maxStatusIntervalSeconds = 300
)

type Store struct {
	db *sql.DB
}

func New(db *sql.DB) *Store {
	return &Store{db: db}
}

// UserSettings are the per-owner knobs; missing rows and NULL columns fall
// back to the defaults.
type UserSettings struct {
	Owner                 string `json:"owner"`
	StatusIntervalSeconds int    `json:"status_interval_seconds"`
	UploadMode            string `json:"upload_mode"`
}

func (s *Store) UserSettings(ctx context.Context, owner string) (UserSettings, error) {
	out := UserSettings{
		Owner:                 owner,
		StatusIntervalSeconds: DefaultStatusIntervalSeconds,
		UploadMode:            DefaultUploadMode,
	}
	var interval sql.NullInt64
	var mode sql.NullString
	err := s.db.QueryRowContext(ctx,
		`SELECT status_interval_seconds, upload_mode FROM user_settings WHERE owner = ?`,
		owner).Scan(&interval, &mode)
	if errors.Is(err, sql.ErrNoRows) {
		return out, nil
	}
	if err != nil {
		return UserSettings{}, fmt.Errorf("load settings: %w", err)
	}
	if interval.Valid && interval.Int64 > 0 {
		out.StatusIntervalSeconds = int(interval.Int64)
	}
	if mode.Valid && mode.String != "" {
		out.UploadMode = mode.String
	}
	return out, nil
}

// UpdateUserSettings applies the non-nil fields and returns the merged
// result.
func (s *Store) UpdateUserSettings(ctx context.Context, owner string, intervalSeconds *int, mode *string) (UserSettings, error) {
	if intervalSeconds != nil && (*intervalSeconds < 1 || *intervalSeconds > maxStatusIntervalSeconds) {
		return UserSettings{}, fmt.Errorf("%w: status interval must be 1..%d seconds",
			ErrInvalidSetting, maxStatusIntervalSeconds)
	}
	if mode != nil && *mode != "tree" && *mode != "flat" {
		return UserSettings{}, fmt.Errorf("%w: upload mode must be tree or flat", ErrInvalidSetting)
	}
	current, err := s.UserSettings(ctx, owner)
	if err != nil {
		return UserSettings{}, err
	}
	if intervalSeconds != nil {
		current.StatusIntervalSeconds = *intervalSeconds
	}
	if mode != nil {
		current.UploadMode = *mode
	}
	_, err = s.db.ExecContext(ctx, `
INSERT INTO user_settings (owner, status_interval_seconds, upload_mode, updated_at)
VALUES (?, ?, ?, ?)
ON CONFLICT(owner) DO UPDATE SET
	status_interval_seconds = excluded.status_interval_seconds,
	upload_mode             = excluded.upload_mode,
	updated_at              = excluded.updated_at`,
		owner, current.StatusIntervalSeconds, current.UploadMode, nowRFC3339())
	if err != nil {
		return UserSettings{}, fmt.Errorf("save settings: %w", err)
	}
	return current, nil
}

// Grant is one premium grant. Timestamps are RFC3339 UTC strings; empty
// means unset.
type Grant struct {
	ID        string `json:"id"`
	Owner     string `json:"owner"`
	GrantedAt string `json:"granted_at"`
	ExpiresAt string `json:"expires_at,omitempty"`
	RevokedAt string `json:"revoked_at,omitempty"`
}

// AddGrant records a premium grant for owner. A zero expires means the
// grant does not expire.
func (s *Store) AddGrant(ctx context.Context, owner string, expires time.Time) (Grant, error) {
	g := Grant{ID: uuid.NewString(), Owner: owner, GrantedAt: nowRFC3339()}
	var expVal any
	if !expires.IsZero() {
		g.ExpiresAt = expires.UTC().Format(time.RFC3339)
		expVal = g.ExpiresAt
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO premium_grants (id, owner, granted_at, expires_at) VALUES (?, ?, ?, ?)`,
		g.ID, g.Owner, g.GrantedAt, expVal)
	if err != nil {
		return Grant{}, fmt.Errorf("add grant: %w", err)
	}
	return g, nil
}

// ListGrants returns grants newest first, optionally filtered by owner.
func (s *Store) ListGrants(ctx context.Context, owner string) ([]Grant, error) {
	query := `SELECT id, owner, granted_at, expires_at, revoked_at FROM premium_grants`
	args := []any{}
	if owner != "" {
		query += ` WHERE owner = ?`
		args = append(args, owner)
	}
	query += ` ORDER BY granted_at DESC, id`
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list grants: %w", err)
	}
	defer rows.Close()

	var out []Grant
	for rows.Next() {
		var g Grant
		var expires, revoked sql.NullString
		if err := rows.Scan(&g.ID, &g.Owner, &g.GrantedAt, &expires, &revoked); err != nil {
			return nil, err
		}
		g.ExpiresAt = expires.String
		g.RevokedAt = revoked.String
		out = append(out, g)
	}
	return out, rows.Err()
}

// RevokeGrant marks a grant revoked. Revoking an unknown or already revoked
// grant returns ErrGrantNotFound.
func (s *Store) RevokeGrant(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE premium_grants SET revoked_at = ? WHERE id = ? AND revoked_at IS NULL`,
		nowRFC3339(), id)
	if err != nil {
		return fmt.Errorf("revoke grant: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrGrantNotFound
	}
	return nil
}

// IsPremium reports whether owner holds an unrevoked, unexpired grant.
func (s *Store) IsPremium(ctx context.Context, owner string) (bool, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `
SELECT COUNT(1) FROM premium_grants
WHERE owner = ? AND revoked_at IS NULL AND (expires_at IS NULL OR expires_at > ?)`,
		owner, nowRFC3339()).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("check premium: %w", err)
	}
	return n > 0, nil
}

// TaskRow is one terminal task as recorded in history.
type TaskRow struct {
	TaskID     uint64 `json:"task_id"`
	Owner      string `json:"owner"`
	URL        string `json:"url"`
	Kind       string `json:"kind"`
	State      string `json:"state"`
	BytesDone  int64  `json:"bytes_done"`
	BytesTotal int64  `json:"bytes_total"`
	Files      int    `json:"files"`
	ErrorCode  string `json:"error_code,omitempty"`
	Error      string `json:"error,omitempty"`
	CreatedAt  string `json:"created_at"`
	FinishedAt string `json:"finished_at"`
}

func (s *Store) AddTask(ctx context.Context, row TaskRow) error {
	_, err := s.db.ExecContext(ctx, `
INSERT INTO task_history
	(task_id, owner, url, kind, state, bytes_done, bytes_total, files,
	 error_code, error, created_at, finished_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		row.TaskID, row.Owner, row.URL, row.Kind, row.State,
		row.BytesDone, row.BytesTotal, row.Files,
		nullIfEmpty(row.ErrorCode), nullIfEmpty(row.Error),
		row.CreatedAt, row.FinishedAt)
	if err != nil {
		return fmt.Errorf("add history: %w", err)
	}
	return nil
}

// ListTasks returns history rows newest first, optionally filtered by
// owner. A non-positive limit means 50.
func (s *Store) ListTasks(ctx context.Context, owner string, limit int) ([]TaskRow, error) {
	if limit <= 0 {
		limit = 50
	}
	query := `
SELECT task_id, owner, url, kind, state, bytes_done, bytes_total, files,
	error_code, error, created_at, finished_at
FROM task_history`
	args := []any{}
	if owner != "" {
		query += ` WHERE owner = ?`
		args = append(args, owner)
	}
	query += ` ORDER BY id DESC LIMIT ?`
	args = append(args, limit)
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list history: %w", err)
	}
	defer rows.Close()

	var out []TaskRow
	for rows.Next() {
		var row TaskRow
		var errCode, errMsg sql.NullString
		if err := rows.Scan(&row.TaskID, &row.Owner, &row.URL, &row.Kind, &row.State,
			&row.BytesDone, &row.BytesTotal, &row.Files,
			&errCode, &errMsg, &row.CreatedAt, &row.FinishedAt); err != nil {
			return nil, err
		}
		row.ErrorCode = errCode.String
		row.Error = errMsg.String
		out = append(out, row)
	}
	return out, rows.Err()
}

func nullIfEmpty(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func nowRFC3339() string {
	return time.Now().UTC().Format(time.RFC3339)
}
