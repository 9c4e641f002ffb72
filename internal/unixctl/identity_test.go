package unixctl

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agor/agord/internal/id"
	"github.com/agor/agord/internal/model"
	"github.com/agor/agord/internal/repository/memory"
)

func TestIdentityStoreEnsureAllocatesLowestFreeUID(t *testing.T) {
	ctx := context.Background()
	repo := memory.New()
	store := NewIdentityStore(repo.Users(), 10000, 10010, nil)

	u1 := &model.User{ID: id.New(), Email: "a@x.com"}
	require.NoError(t, repo.Users().Create(ctx, u1))
	username, uid, err := store.Ensure(ctx, u1)
	require.NoError(t, err)
	assert.Equal(t, 10000, uid)
	assert.Regexp(t, "^agor-[0-9a-f]{8}$", username)

	u2 := &model.User{ID: id.New(), Email: "b@x.com"}
	require.NoError(t, repo.Users().Create(ctx, u2))
	_, uid2, err := store.Ensure(ctx, u2)
	require.NoError(t, err)
	assert.Equal(t, 10001, uid2)
}

func TestIdentityStoreEnsureIsIdempotent(t *testing.T) {
	ctx := context.Background()
	repo := memory.New()
	store := NewIdentityStore(repo.Users(), 10000, 10010, nil)

	u := &model.User{ID: id.New()}
	require.NoError(t, repo.Users().Create(ctx, u))
	username1, uid1, err := store.Ensure(ctx, u)
	require.NoError(t, err)

	username2, uid2, err := store.Ensure(ctx, u)
	require.NoError(t, err)
	assert.Equal(t, username1, username2)
	assert.Equal(t, uid1, uid2)
}

func TestIdentityStoreExhaustedRangeFails(t *testing.T) {
	ctx := context.Background()
	repo := memory.New()
	store := NewIdentityStore(repo.Users(), 10000, 10000, nil)

	u1 := &model.User{ID: id.New()}
	require.NoError(t, repo.Users().Create(ctx, u1))
	_, _, err := store.Ensure(ctx, u1)
	require.NoError(t, err)

	u2 := &model.User{ID: id.New()}
	require.NoError(t, repo.Users().Create(ctx, u2))
	_, _, err = store.Ensure(ctx, u2)
	require.Error(t, err)
}
