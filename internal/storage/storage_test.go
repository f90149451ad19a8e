package storage

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	store, err := NewSQLiteStore(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func TestUpsertAndGetUser(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	u := &User{
		Email:        "u@example.com",
		PasswordHash: "$2a$10$hash",
		Roles:        []string{"ROLE_USER"},
		Enabled:      true,
	}
	require.NoError(t, store.UpsertUser(ctx, u))
	assert.NotEmpty(t, u.ID)

	got, err := store.GetUserByEmail(ctx, "u@example.com")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, u.ID, got.ID)
	assert.Equal(t, "$2a$10$hash", got.PasswordHash)
	assert.Equal(t, []string{"ROLE_USER"}, got.Roles)
	assert.True(t, got.Enabled)
	assert.False(t, got.CreatedAt.IsZero())
}

func TestUpsertUser_UpdatesExisting(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	first := &User{Email: "u@example.com", PasswordHash: "old", Roles: []string{"ROLE_USER"}, Enabled: true}
	require.NoError(t, store.UpsertUser(ctx, first))

	second := &User{Email: "u@example.com", PasswordHash: "new", Roles: []string{"ROLE_USER", "ROLE_ADMIN"}}
	require.NoError(t, store.UpsertUser(ctx, second))
	assert.Equal(t, first.ID, second.ID, "upsert should keep the original id")

	got, err := store.GetUserByEmail(ctx, "u@example.com")
	require.NoError(t, err)
	assert.Equal(t, "new", got.PasswordHash)
	assert.Equal(t, []string{"ROLE_USER", "ROLE_ADMIN"}, got.Roles)
	assert.False(t, got.Enabled)
}

func TestUpsertUser_RequiresEmail(t *testing.T) {
	store := newTestStore(t)
	assert.Error(t, store.UpsertUser(context.Background(), &User{PasswordHash: "x"}))
}

func TestGetUserByEmail_Missing(t *testing.T) {
	store := newTestStore(t)

	got, err := store.GetUserByEmail(context.Background(), "ghost@example.com")
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestDeleteAndListUsers(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	for _, email := range []string{"b@example.com", "a@example.com"} {
		require.NoError(t, store.UpsertUser(ctx, &User{Email: email, PasswordHash: "h", Enabled: true}))
	}

	users, err := store.ListUsers(ctx)
	require.NoError(t, err)
	require.Len(t, users, 2)
	assert.Equal(t, "a@example.com", users[0].Email)
	assert.Equal(t, []string{}, users[0].Roles)

	require.NoError(t, store.DeleteUser(ctx, "a@example.com"))
	got, err := store.GetUserByEmail(ctx, "a@example.com")
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestPing(t *testing.T) {
	store := newTestStore(t)
	assert.NoError(t, store.Ping(context.Background()))
}

func TestLoadSeedFileAndSync(t *testing.T) {
	path := filepath.Join(t.TempDir(), "users.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
users:
  - email: u@example.com
    passwordHash: "$2a$10$u"
    roles: [ROLE_USER]
  - email: gone@example.com
    passwordHash: "$2a$10$g"
    disabled: true
`), 0o600))

	f, err := LoadSeedFile(path)
	require.NoError(t, err)
	require.Len(t, f.Users, 2)

	store := newTestStore(t)
	ctx := context.Background()
	res, err := Sync(ctx, store, f, false)
	require.NoError(t, err)
	assert.Equal(t, []string{"u@example.com", "gone@example.com"}, res.Upserted)
	assert.Empty(t, res.Deleted)

	u, err := store.GetUserByEmail(ctx, "u@example.com")
	require.NoError(t, err)
	require.NotNil(t, u)
	assert.True(t, u.Enabled)
	assert.Equal(t, []string{"ROLE_USER"}, u.Roles)

	gone, err := store.GetUserByEmail(ctx, "gone@example.com")
	require.NoError(t, err)
	require.NotNil(t, gone)
	assert.False(t, gone.Enabled)
}

func TestLoadSeedFile_Invalid(t *testing.T) {
	dir := t.TempDir()

	missingHash := filepath.Join(dir, "missing.yaml")
	require.NoError(t, os.WriteFile(missingHash, []byte("users:\n  - email: u@example.com\n"), 0o600))
	_, err := LoadSeedFile(missingHash)
	assert.ErrorContains(t, err, "passwordHash is required")

	_, err = LoadSeedFile(filepath.Join(dir, "nope.yaml"))
	assert.Error(t, err)
}

func TestSync_Prune(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	require.NoError(t, store.UpsertUser(ctx, &User{Email: "stale@example.com", PasswordHash: "h", Enabled: true}))
	require.NoError(t, store.UpsertUser(ctx, &User{Email: "u@example.com", PasswordHash: "old", Enabled: true}))

	f := &SeedFile{Users: []SeedUser{{Email: "u@example.com", PasswordHash: "new", Roles: []string{"ROLE_USER"}}}}

	t.Run("without prune keeps unlisted users", func(t *testing.T) {
		res, err := Sync(ctx, store, f, false)
		require.NoError(t, err)
		assert.Empty(t, res.Deleted)

		stale, err := store.GetUserByEmail(ctx, "stale@example.com")
		require.NoError(t, err)
		assert.NotNil(t, stale)
	})

	t.Run("with prune deletes unlisted users", func(t *testing.T) {
		res, err := Sync(ctx, store, f, true)
		require.NoError(t, err)
		assert.Equal(t, []string{"stale@example.com"}, res.Deleted)
		assert.ElementsMatch(t, []string{"u@example.com", "stale@example.com"}, res.Changed())

		users, err := store.ListUsers(ctx)
		require.NoError(t, err)
		require.Len(t, users, 1)
		assert.Equal(t, "u@example.com", users[0].Email)
		assert.Equal(t, "new", users[0].PasswordHash)
	})
}
