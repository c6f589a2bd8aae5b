package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"personal/discord_gateway/src/gateway"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T, opts ...Option) (*SQLiteStore, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "nested", "sessions.db")
	s, err := NewSQLiteStore(path, opts...)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s, path
}

func TestSQLiteStore_SaveLoadDelete(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()

	_, ok, err := s.LoadSession(ctx, 0)
	require.NoError(t, err)
	assert.False(t, ok)

	sess := gateway.Session{ID: "abc", Sequence: 42, ResumeURL: "wss://resume.test", HeartbeatInterval: 41250 * time.Millisecond}
	require.NoError(t, s.SaveSession(ctx, 0, sess))

	got, ok, err := s.LoadSession(ctx, 0)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, sess, got)

	sess.Sequence = 43
	require.NoError(t, s.SaveSession(ctx, 0, sess))
	got, _, err = s.LoadSession(ctx, 0)
	require.NoError(t, err)
	assert.Equal(t, int64(43), got.Sequence)

	_, ok, err = s.LoadSession(ctx, 1)
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, s.DeleteSession(ctx, 0))
	require.NoError(t, s.DeleteSession(ctx, 0))
	_, ok, err = s.LoadSession(ctx, 0)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestSQLiteStore_SurvivesReopen(t *testing.T) {
	s, path := newTestStore(t)
	require.NoError(t, s.SaveSession(context.Background(), 3, gateway.Session{ID: "x", Sequence: 9}))
	require.NoError(t, s.Close())

	reopened, err := NewSQLiteStore(path)
	require.NoError(t, err)
	defer reopened.Close()

	got, ok, err := reopened.LoadSession(context.Background(), 3)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "x", got.ID)
	assert.Equal(t, int64(9), got.Sequence)
}

func TestSQLiteStore_MaxAge(t *testing.T) {
	s, _ := newTestStore(t, WithMaxAge(20*time.Millisecond))
	ctx := context.Background()
	require.NoError(t, s.SaveSession(ctx, 0, gateway.Session{ID: "x", Sequence: 1}))

	_, ok, err := s.LoadSession(ctx, 0)
	require.NoError(t, err)
	assert.True(t, ok)

	time.Sleep(40 * time.Millisecond)
	_, ok, err = s.LoadSession(ctx, 0)
	require.NoError(t, err)
	assert.False(t, ok)
}
