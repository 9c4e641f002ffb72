package memory

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agor/agord/internal/apierr"
	"github.com/agor/agord/internal/id"
	"github.com/agor/agord/internal/model"
	"github.com/agor/agord/internal/repository"
)

func TestUsersCreateFindUpdateDelete(t *testing.T) {
	ctx := context.Background()
	repo := New()

	u := &model.User{ID: id.New(), Email: "a@example.com", Role: model.RoleMember}
	require.NoError(t, repo.Users().Create(ctx, u))

	got, err := repo.Users().FindByID(ctx, u.ID)
	require.NoError(t, err)
	assert.Equal(t, "a@example.com", got.Email)

	// short-id lookup
	got, err = repo.Users().FindByID(ctx, id.Short(u.ID))
	require.NoError(t, err)
	assert.Equal(t, u.ID, got.ID)

	updated, err := repo.Users().Update(ctx, u.ID, map[string]any{"unix_username": "agor-abcd1234"})
	require.NoError(t, err)
	assert.Equal(t, "agor-abcd1234", updated.UnixUsername)
	// immutable field ignored
	stillSameID, err := repo.Users().Update(ctx, u.ID, map[string]any{"id": "whatever"})
	require.NoError(t, err)
	assert.Equal(t, u.ID, stillSameID.ID)

	require.NoError(t, repo.Users().Delete(ctx, u.ID))
	_, err = repo.Users().FindByID(ctx, u.ID)
	assert.True(t, apierr.Is(err, apierr.KindEntityNotFound))
}

func TestAmbiguousShortID(t *testing.T) {
	ctx := context.Background()
	repo := New()

	// Engineer two ids sharing the same 8-hex-char prefix by construction:
	// simplest is to insert one real id, then fabricate a collider sharing
	// its stripped-hyphen prefix.
	a := &model.User{ID: "01900000-0000-7000-8000-000000000001"}
	b := &model.User{ID: "01900000-0000-7000-8000-000000000002"}
	require.NoError(t, repo.Users().Create(ctx, a))
	require.NoError(t, repo.Users().Create(ctx, b))

	_, err := repo.Users().FindByID(ctx, "01900000")
	require.Error(t, err)
	assert.True(t, apierr.Is(err, apierr.KindAmbiguousID))
	kind, _ := apierr.KindOf(err)
	assert.Equal(t, apierr.KindAmbiguousID, kind)
}

func TestMessageIndexAllocationIsGapFreeAndSequential(t *testing.T) {
	ctx := context.Background()
	repo := New()
	sessionID := id.New()

	for i := 0; i < 5; i++ {
		idx, err := repo.Messages().NextIndex(ctx, sessionID)
		require.NoError(t, err)
		assert.Equal(t, i, idx)
	}
}

func TestDeepMergePatchMergesMapsReplacesArrays(t *testing.T) {
	dst := map[string]any{
		"permission_config": map[string]any{
			"allowedTools": []any{"Bash"},
			"mode":         "default",
		},
		"id": "keep-me",
	}
	patch := map[string]any{
		"permission_config": map[string]any{
			"mode": "acceptEdits",
		},
		"id": "try-to-change-me",
	}

	merged := repository.DeepMergePatch(dst, patch)
	pc := merged["permission_config"].(map[string]any)
	assert.Equal(t, "acceptEdits", pc["mode"])
	assert.Equal(t, []any{"Bash"}, pc["allowedTools"]) // untouched nested key survives
	assert.Equal(t, "keep-me", merged["id"])            // immutable field rejected
}
