package session

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"voltguard/internal/faults"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	st, err := Open(filepath.Join(t.TempDir(), "state", "session.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })
	return st
}

func TestStore_SaveLoadClear(t *testing.T) {
	st := openTestStore(t)
	ctx := context.Background()

	_, err := st.Load(ctx)
	require.ErrorIs(t, err, ErrNoSession)

	in := Session{
		Token: "tok-1",
		User:  User{ID: "u1", Email: "a@example.com", FullName: "Asha", Role: faults.RoleElectrician},
	}
	require.NoError(t, st.Save(ctx, in))

	got, err := st.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, "tok-1", got.Token)
	assert.Equal(t, in.User, got.User)
	assert.False(t, got.CreatedAt.IsZero())

	// a second sign-in replaces the stored session
	in.Token = "tok-2"
	require.NoError(t, st.Save(ctx, in))
	got, err = st.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, "tok-2", got.AccessToken())

	require.NoError(t, st.Clear(ctx))
	_, err = st.Load(ctx)
	assert.ErrorIs(t, err, ErrNoSession)
}

func TestStore_SaveWithoutToken(t *testing.T) {
	st := openTestStore(t)
	err := st.Save(context.Background(), Session{User: User{ID: "u1"}})
	assert.ErrorIs(t, err, faults.ErrAuth)
}

func TestSession_NilAccessToken(t *testing.T) {
	var s *Session
	assert.Equal(t, "", s.AccessToken())
}
