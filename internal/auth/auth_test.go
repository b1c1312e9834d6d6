package auth

import (
	"context"
	"encoding/base64"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fluxbridge/fluxbridge/pkg/types"
)

func openTestStore(t *testing.T) *UserStore {
	t.Helper()
	store, err := OpenUserStore(filepath.Join(t.TempDir(), "users.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func addTestUser(t *testing.T, store *UserStore, username, password string) {
	t.Helper()
	err := store.AddUser(context.Background(), User{
		Username:  username,
		Email:     username + "@example.org",
		FirstName: "Test",
		LastName:  "User",
	}, password)
	require.NoError(t, err)
}

func basicHeader(username, password string) string {
	return "Basic " + base64.StdEncoding.EncodeToString([]byte(username+":"+password))
}

func TestAddAndGetUser(t *testing.T) {
	store := openTestStore(t)
	addTestUser(t, store, "alice", "s3cret")

	u, err := store.GetUser(context.Background(), "alice")
	require.NoError(t, err)
	assert.Equal(t, "alice", u.Username)
	assert.Equal(t, StatusActive, u.Status)
	assert.Equal(t, HashPassword("s3cret"), u.PasswordHash)
	assert.False(t, u.CreateTime.IsZero())
}

func TestAddUserConflict(t *testing.T) {
	store := openTestStore(t)
	addTestUser(t, store, "alice", "s3cret")

	err := store.AddUser(context.Background(), User{Username: "alice"}, "other")
	require.Error(t, err)
	assert.ErrorIs(t, err, types.ErrConflict)
}

func TestGetUserNotFound(t *testing.T) {
	store := openTestStore(t)
	_, err := store.GetUser(context.Background(), "nobody")
	require.Error(t, err)
	assert.ErrorIs(t, err, types.ErrNotFound)
}

func TestValidateCredentials(t *testing.T) {
	store := openTestStore(t)
	addTestUser(t, store, "alice", "s3cret")

	ctx := context.Background()
	assert.NoError(t, store.ValidateCredentials(ctx, "alice", "s3cret"))

	err := store.ValidateCredentials(ctx, "alice", "wrong")
	assert.ErrorIs(t, err, types.ErrAuth)

	err = store.ValidateCredentials(ctx, "nobody", "s3cret")
	assert.ErrorIs(t, err, types.ErrAuth)
}

func TestInactiveUserRejected(t *testing.T) {
	store := openTestStore(t)
	addTestUser(t, store, "alice", "s3cret")
	require.NoError(t, store.SetStatus(context.Background(), "alice", StatusInactive))

	err := store.ValidateCredentials(context.Background(), "alice", "s3cret")
	require.Error(t, err)
	assert.ErrorIs(t, err, types.ErrAuth)
}

func TestChangePassword(t *testing.T) {
	store := openTestStore(t)
	addTestUser(t, store, "alice", "old")

	ctx := context.Background()
	require.NoError(t, store.ChangePassword(ctx, "alice", "new"))
	assert.NoError(t, store.ValidateCredentials(ctx, "alice", "new"))
	assert.ErrorIs(t, store.ValidateCredentials(ctx, "alice", "old"), types.ErrAuth)

	err := store.ChangePassword(ctx, "nobody", "x")
	assert.ErrorIs(t, err, types.ErrNotFound)
}

func TestDeleteUser(t *testing.T) {
	store := openTestStore(t)
	addTestUser(t, store, "alice", "s3cret")

	ctx := context.Background()
	require.NoError(t, store.DeleteUser(ctx, "alice"))
	_, err := store.GetUser(ctx, "alice")
	assert.ErrorIs(t, err, types.ErrNotFound)
	assert.ErrorIs(t, store.DeleteUser(ctx, "alice"), types.ErrNotFound)
}

func TestListUsersOrdered(t *testing.T) {
	store := openTestStore(t)
	addTestUser(t, store, "carol", "x")
	addTestUser(t, store, "alice", "x")
	addTestUser(t, store, "bob", "x")

	users, err := store.ListUsers(context.Background())
	require.NoError(t, err)
	require.Len(t, users, 3)
	assert.Equal(t, "alice", users[0].Username)
	assert.Equal(t, "bob", users[1].Username)
	assert.Equal(t, "carol", users[2].Username)
}

func TestBasicHandshakeIssuesToken(t *testing.T) {
	store := openTestStore(t)
	addTestUser(t, store, "alice", "s3cret")
	a := NewAuthenticator(store)

	ctx := context.Background()
	id, err := a.Authenticate(ctx, basicHeader("alice", "s3cret"))
	require.NoError(t, err)
	assert.Equal(t, "alice", id.Username)
	require.NotEmpty(t, id.Token)

	// The issued token authenticates on its own.
	id2, err := a.Authenticate(ctx, "Bearer "+id.Token)
	require.NoError(t, err)
	assert.Equal(t, "alice", id2.Username)
	assert.Empty(t, id2.Token, "bearer validation issues no new token")
}

func TestBasicHandshakeRejectsBadCredentials(t *testing.T) {
	store := openTestStore(t)
	addTestUser(t, store, "alice", "s3cret")
	a := NewAuthenticator(store)

	ctx := context.Background()
	for _, header := range []string{
		basicHeader("alice", "wrong"),
		basicHeader("nobody", "s3cret"),
		"Basic not-base64!",
		"Basic " + base64.StdEncoding.EncodeToString([]byte("no-separator")),
		"Digest abc",
		"Bearer",
		"",
	} {
		_, err := a.Authenticate(ctx, header)
		require.Error(t, err, "header %q", header)
		assert.ErrorIs(t, err, types.ErrAuth, "header %q", header)
	}
}

func TestBearerTokenExpiry(t *testing.T) {
	store := openTestStore(t)
	addTestUser(t, store, "alice", "s3cret")
	a := NewAuthenticator(store)
	a.ttl = -time.Second // issued tokens are born expired

	ctx := context.Background()
	id, err := a.Authenticate(ctx, basicHeader("alice", "s3cret"))
	require.NoError(t, err, "the handshake itself must still succeed")

	_, err = a.Authenticate(ctx, "Bearer "+id.Token)
	require.Error(t, err)
	assert.ErrorIs(t, err, types.ErrAuth)
}

func TestRevokeToken(t *testing.T) {
	store := openTestStore(t)
	addTestUser(t, store, "alice", "s3cret")
	a := NewAuthenticator(store)

	ctx := context.Background()
	id, err := a.Authenticate(ctx, basicHeader("alice", "s3cret"))
	require.NoError(t, err)

	a.Revoke(id.Token)
	_, err = a.Authenticate(ctx, "Bearer "+id.Token)
	assert.ErrorIs(t, err, types.ErrAuth)
}

func TestUnknownBearerToken(t *testing.T) {
	a := NewAuthenticator(openTestStore(t))
	_, err := a.Authenticate(context.Background(), "Bearer made-up")
	assert.ErrorIs(t, err, types.ErrAuth)
}
