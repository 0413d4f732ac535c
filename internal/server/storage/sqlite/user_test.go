package sqlite

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iudanet/gophsync/internal/models"
	"github.com/iudanet/gophsync/internal/server/storage"
)

func newUser(username string) *models.User {
	return &models.User{
		ID:           uuid.New().String(),
		Username:     username,
		PasswordHash: "$2a$10$" + username,
		CreatedAt:    time.Date(2022, 8, 1, 12, 0, 0, 0, time.UTC),
	}
}

func TestUserStorage_CreateAndGet(t *testing.T) {
	ctx := context.Background()
	s, cleanup := setupTestStorage(t)
	defer cleanup()

	user := newUser("alice")
	require.NoError(t, s.CreateUser(ctx, user))

	byID, err := s.GetUserByID(ctx, user.ID)
	require.NoError(t, err)
	assert.Equal(t, "alice", byID.Username)
	assert.Equal(t, user.PasswordHash, byID.PasswordHash)
	assert.True(t, user.CreatedAt.Equal(byID.CreatedAt), "created_at %v", byID.CreatedAt)
	assert.Nil(t, byID.LastLogin)

	byName, err := s.FindUserByIdentity(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, user.ID, byName.ID)
}

func TestUserStorage_CreateWithLastLogin(t *testing.T) {
	ctx := context.Background()
	s, cleanup := setupTestStorage(t)
	defer cleanup()

	login := time.Date(2022, 9, 1, 8, 30, 0, 0, time.UTC)
	user := newUser("bob")
	user.LastLogin = &login
	require.NoError(t, s.CreateUser(ctx, user))

	got, err := s.GetUserByID(ctx, user.ID)
	require.NoError(t, err)
	require.NotNil(t, got.LastLogin)
	assert.True(t, login.Equal(*got.LastLogin))
}

func TestUserStorage_IdentityIgnoresCase(t *testing.T) {
	ctx := context.Background()
	s, cleanup := setupTestStorage(t)
	defer cleanup()

	user := newUser("Alice")
	require.NoError(t, s.CreateUser(ctx, user))

	for _, identity := range []string{"Alice", "alice", "ALICE"} {
		got, err := s.FindUserByIdentity(ctx, identity)
		require.NoError(t, err, identity)
		assert.Equal(t, user.ID, got.ID)
		assert.Equal(t, "Alice", got.Username, "stored spelling is kept")
	}

	err := s.CreateUser(ctx, newUser("aLiCe"))
	assert.ErrorIs(t, err, storage.ErrUserAlreadyExists)
}

func TestUserStorage_NotFound(t *testing.T) {
	ctx := context.Background()
	s, cleanup := setupTestStorage(t)
	defer cleanup()

	_, err := s.FindUserByIdentity(ctx, "nobody")
	assert.ErrorIs(t, err, storage.ErrUserNotFound)

	_, err = s.GetUserByID(ctx, "missing-id")
	assert.ErrorIs(t, err, storage.ErrUserNotFound)

	err = s.RecordLogin(ctx, "missing-id", time.Now())
	assert.ErrorIs(t, err, storage.ErrUserNotFound)
}

func TestUserStorage_RecordLogin(t *testing.T) {
	ctx := context.Background()
	s, cleanup := setupTestStorage(t)
	defer cleanup()

	user := newUser("carol")
	require.NoError(t, s.CreateUser(ctx, user))

	first := time.Date(2022, 9, 1, 8, 0, 0, 0, time.UTC)
	second := first.Add(time.Hour)
	require.NoError(t, s.RecordLogin(ctx, user.ID, first))
	require.NoError(t, s.RecordLogin(ctx, user.ID, second.In(time.FixedZone("MSK", 3*3600))))

	got, err := s.GetUserByID(ctx, user.ID)
	require.NoError(t, err)
	require.NotNil(t, got.LastLogin)
	assert.True(t, second.Equal(*got.LastLogin), "last login %v", got.LastLogin)
}
