package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ibeckermayer/rappterbook/internal/types"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := New(filepath.Join(t.TempDir(), "data", "sessions.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestLoad_UnknownSession(t *testing.T) {
	s := newTestStore(t)
	_, ok, err := s.Load(context.Background(), "missing")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestSaveTokenAndIdentity(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.SaveToken(ctx, "sess-1", "gho_abc"))
	sess, ok, err := s.Load(ctx, "sess-1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "gho_abc", sess.Token)
	assert.Nil(t, sess.Identity)

	require.NoError(t, s.SaveIdentity(ctx, "sess-1", types.Identity{Login: "octo", Name: "Octo Cat", AvatarURL: "https://a/x.png"}))
	sess, _, err = s.Load(ctx, "sess-1")
	require.NoError(t, err)
	require.NotNil(t, sess.Identity)
	assert.Equal(t, "octo", sess.Identity.Login)
	assert.Equal(t, "Octo Cat", sess.Identity.Name)

	// A new token invalidates the cached identity.
	require.NoError(t, s.SaveToken(ctx, "sess-1", "gho_def"))
	sess, _, err = s.Load(ctx, "sess-1")
	require.NoError(t, err)
	assert.Equal(t, "gho_def", sess.Token)
	assert.Nil(t, sess.Identity)
}

func TestSaveIdentity_RequiresCredential(t *testing.T) {
	s := newTestStore(t)
	err := s.SaveIdentity(context.Background(), "nobody", types.Identity{Login: "x"})
	require.Error(t, err)
}

func TestClearCredential(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	require.NoError(t, s.SaveToken(ctx, "sess-1", "tok"))
	require.NoError(t, s.SaveIdentity(ctx, "sess-1", types.Identity{Login: "octo"}))

	require.NoError(t, s.ClearCredential(ctx, "sess-1"))
	sess, ok, err := s.Load(ctx, "sess-1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Empty(t, sess.Token)
	assert.Nil(t, sess.Identity)
}

func TestDeleteAndPrune(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	old := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	s.now = func() time.Time { return old }
	require.NoError(t, s.SaveToken(ctx, "stale", "a"))
	s.now = func() time.Time { return old.Add(30 * 24 * time.Hour) }
	require.NoError(t, s.SaveToken(ctx, "fresh", "b"))
	require.NoError(t, s.SaveToken(ctx, "doomed", "c"))

	require.NoError(t, s.Delete(ctx, "doomed"))
	n, err := s.Prune(ctx, old.Add(24*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	count, err := s.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, count)
	_, ok, err := s.Load(ctx, "fresh")
	require.NoError(t, err)
	assert.True(t, ok)
}
