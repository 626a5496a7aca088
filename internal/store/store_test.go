package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	db, err := Open(filepath.Join(t.TempDir(), "msq.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return New(db)
}

func intPtr(v int) *int       { return &v }
func strPtr(v string) *string { return &v }

func TestUserSettingsDefaults(t *testing.T) {
	s := newTestStore(t)

	got, err := s.UserSettings(context.Background(), "alice")
	require.NoError(t, err)
	assert.Equal(t, DefaultStatusIntervalSeconds, got.StatusIntervalSeconds)
	assert.Equal(t, DefaultUploadMode, got.UploadMode)
}

func TestUpdateUserSettings(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	got, err := s.UpdateUserSettings(ctx, "alice", intPtr(30), nil)
	require.NoError(t, err)
	assert.Equal(t, 30, got.StatusIntervalSeconds)
	assert.Equal(t, DefaultUploadMode, got.UploadMode)

	got, err = s.UpdateUserSettings(ctx, "alice", nil, strPtr("flat"))
	require.NoError(t, err)
	assert.Equal(t, 30, got.StatusIntervalSeconds, "partial update must keep the interval")
	assert.Equal(t, "flat", got.UploadMode)

	got, err = s.UserSettings(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, 30, got.StatusIntervalSeconds)
	assert.Equal(t, "flat", got.UploadMode)

	// Other owners are untouched.
	other, err := s.UserSettings(ctx, "bob")
	require.NoError(t, err)
	assert.Equal(t, DefaultStatusIntervalSeconds, other.StatusIntervalSeconds)
}

func TestUpdateUserSettingsValidation(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	_, err := s.UpdateUserSettings(ctx, "alice", intPtr(0), nil)
	assert.ErrorIs(t, err, ErrInvalidSetting)
	_, err = s.UpdateUserSettings(ctx, "alice", intPtr(301), nil)
	assert.ErrorIs(t, err, ErrInvalidSetting)
	_, err = s.UpdateUserSettings(ctx, "alice", nil, strPtr("sideways"))
	assert.ErrorIs(t, err, ErrInvalidSetting)
}

func TestGrantsPremiumLifecycle(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	premium, err := s.IsPremium(ctx, "alice")
	require.NoError(t, err)
	assert.False(t, premium)

	g, err := s.AddGrant(ctx, "alice", time.Time{})
	require.NoError(t, err)
	assert.NotEmpty(t, g.ID)
	assert.Empty(t, g.ExpiresAt)

	premium, err = s.IsPremium(ctx, "alice")
	require.NoError(t, err)
	assert.True(t, premium)

	require.NoError(t, s.RevokeGrant(ctx, g.ID))
	premium, err = s.IsPremium(ctx, "alice")
	require.NoError(t, err)
	assert.False(t, premium, "revoked grant must not count")

	assert.ErrorIs(t, s.RevokeGrant(ctx, g.ID), ErrGrantNotFound)
	assert.ErrorIs(t, s.RevokeGrant(ctx, "no-such-id"), ErrGrantNotFound)
}

func TestGrantExpiry(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	_, err := s.AddGrant(ctx, "alice", time.Now().Add(-time.Hour))
	require.NoError(t, err)
	premium, err := s.IsPremium(ctx, "alice")
	require.NoError(t, err)
	assert.False(t, premium, "expired grant must not count")

	_, err = s.AddGrant(ctx, "alice", time.Now().Add(time.Hour))
	require.NoError(t, err)
	premium, err = s.IsPremium(ctx, "alice")
	require.NoError(t, err)
	assert.True(t, premium)
}

func TestListGrants(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	_, err := s.AddGrant(ctx, "alice", time.Time{})
	require.NoError(t, err)
	_, err = s.AddGrant(ctx, "bob", time.Time{})
	require.NoError(t, err)

	all, err := s.ListGrants(ctx, "")
	require.NoError(t, err)
	assert.Len(t, all, 2)

	mine, err := s.ListGrants(ctx, "alice")
	require.NoError(t, err)
	require.Len(t, mine, 1)
	assert.Equal(t, "alice", mine[0].Owner)
}

func TestTaskHistory(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	rows := []TaskRow{
		{TaskID: 1, Owner: "alice", URL: "https://mega.nz/#!a!b", Kind: "file",
			State: "completed", BytesDone: 100, BytesTotal: 100, Files: 1,
			CreatedAt: "2026-08-25T10:00:00Z", FinishedAt: "2026-08-25T10:01:00Z"},
		{TaskID: 2, Owner: "bob", URL: "https://mega.nz/#F!c!d", Kind: "folder",
			State: "failed", ErrorCode: "mac_mismatch", Error: "mac_mismatch: bad",
			CreatedAt: "2026-08-25T11:00:00Z", FinishedAt: "2026-08-25T11:02:00Z"},
		{TaskID: 3, Owner: "alice", URL: "https://mega.nz/#!e!f", Kind: "file",
			State: "cancelled",
			CreatedAt: "2026-08-25T12:00:00Z", FinishedAt: "2026-08-25T12:00:30Z"},
	}
	for _, row := range rows {
		require.NoError(t, s.AddTask(ctx, row))
	}

	all, err := s.ListTasks(ctx, "", 0)
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, uint64(3), all[0].TaskID, "newest first")

	failed := all[1]
	assert.Equal(t, "mac_mismatch", failed.ErrorCode)
	assert.Equal(t, "failed", failed.State)

	mine, err := s.ListTasks(ctx, "alice", 0)
	require.NoError(t, err)
	assert.Len(t, mine, 2)

	limited, err := s.ListTasks(ctx, "", 1)
	require.NoError(t, err)
	assert.Len(t, limited, 1)
}
