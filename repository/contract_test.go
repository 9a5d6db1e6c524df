package repository

import (
	"context"
	"fmt"
	"go-admission-api/common"
	"go-admission-api/model"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// testTokenRepository checks the behaviour every ITokenRepository backend
// must share.
func testTokenRepository(t *testing.T, newRepo func(t *testing.T) ITokenRepository) {
	ctx := context.Background()
	issued := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	newToken := func(hash, owner string) *model.Token {
		return &model.Token{Hash: hash, OwnerID: owner, IssuedAt: issued, ExpiresAt: issued.Add(time.Hour)}
	}

	t.Run("replace keeps a single token per owner", func(t *testing.T) {
		repo := newRepo(t)
		require.NoError(t, repo.ReplaceForOwner(ctx, newToken("hash-a", "owner-1")))
		require.NoError(t, repo.ReplaceForOwner(ctx, newToken("hash-b", "owner-1")))

		_, err := repo.GetByHash(ctx, "hash-a")
		assert.ErrorIs(t, err, common.ErrNotFound)

		got, err := repo.GetByHash(ctx, "hash-b")
		require.NoError(t, err)
		assert.Equal(t, "owner-1", got.OwnerID)
		assert.Equal(t, "hash-b", got.Hash)
		assert.True(t, got.ExpiresAt.Equal(issued.Add(time.Hour)))
	})

	t.Run("other owners are untouched", func(t *testing.T) {
		repo := newRepo(t)
		require.NoError(t, repo.ReplaceForOwner(ctx, newToken("hash-a", "owner-1")))
		require.NoError(t, repo.ReplaceForOwner(ctx, newToken("hash-b", "owner-2")))
		require.NoError(t, repo.DeleteByOwner(ctx, "owner-2"))

		_, err := repo.GetByHash(ctx, "hash-a")
		assert.NoError(t, err)
		_, err = repo.GetByHash(ctx, "hash-b")
		assert.ErrorIs(t, err, common.ErrNotFound)
	})

	t.Run("delete by owner is idempotent", func(t *testing.T) {
		repo := newRepo(t)
		assert.NoError(t, repo.DeleteByOwner(ctx, "nobody"))
		assert.NoError(t, repo.DeleteByOwner(ctx, "nobody"))
	})

	t.Run("concurrent replace leaves exactly one live token", func(t *testing.T) {
		repo := newRepo(t)
		const n = 16
		var wg sync.WaitGroup
		for i := 0; i < n; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				assert.NoError(t, repo.ReplaceForOwner(ctx, newToken(fmt.Sprintf("hash-%02d", i), "owner-1")))
			}(i)
		}
		wg.Wait()

		live := 0
		for i := 0; i < n; i++ {
			if _, err := repo.GetByHash(ctx, fmt.Sprintf("hash-%02d", i)); err == nil {
				live++
			}
		}
		assert.Equal(t, 1, live)
	})
}

// testRateLimitRepository checks per-key atomicity of Update.
func testRateLimitRepository(t *testing.T, newRepo func(t *testing.T) IRateLimitRepository) {
	ctx := context.Background()
	key := model.RateLimitKey{Kind: model.IdentityIP, Value: "10.0.0.1", Endpoint: "/generate"}

	t.Run("absent record is empty and persisted on demand", func(t *testing.T) {
		repo := newRepo(t)

		err := repo.Update(ctx, key, func(rec *model.RateLimitRecord) bool {
			assert.Empty(t, rec.Timestamps)
			assert.Equal(t, key, rec.Key)
			rec.Timestamps = append(rec.Timestamps, 100)
			rec.UpdatedAt = time.Unix(100, 0).UTC()
			return true
		})
		require.NoError(t, err)

		err = repo.Update(ctx, key, func(rec *model.RateLimitRecord) bool {
			assert.Equal(t, []int64{100}, rec.Timestamps)
			return false
		})
		require.NoError(t, err)
	})

	t.Run("unpersisted changes are discarded", func(t *testing.T) {
		repo := newRepo(t)
		require.NoError(t, repo.Update(ctx, key, func(rec *model.RateLimitRecord) bool {
			rec.Timestamps = []int64{1, 2, 3}
			return false
		}))
		require.NoError(t, repo.Update(ctx, key, func(rec *model.RateLimitRecord) bool {
			assert.Empty(t, rec.Timestamps)
			return false
		}))
	})

	t.Run("user and ip namespaces are separate", func(t *testing.T) {
		repo := newRepo(t)
		userKey := model.RateLimitKey{Kind: model.IdentityUser, Value: key.Value, Endpoint: key.Endpoint}
		require.NoError(t, repo.Update(ctx, userKey, func(rec *model.RateLimitRecord) bool {
			rec.Timestamps = []int64{5}
			rec.UpdatedAt = time.Unix(5, 0).UTC()
			return true
		}))
		require.NoError(t, repo.Update(ctx, key, func(rec *model.RateLimitRecord) bool {
			assert.Empty(t, rec.Timestamps)
			return false
		}))
	})

	t.Run("concurrent updates of one key do not lose writes", func(t *testing.T) {
		repo := newRepo(t)
		const n = 32
		var wg sync.WaitGroup
		for i := 0; i < n; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				err := repo.Update(ctx, key, func(rec *model.RateLimitRecord) bool {
					rec.Timestamps = append(rec.Timestamps, int64(i))
					rec.UpdatedAt = time.Now().UTC()
					return true
				})
				assert.NoError(t, err)
			}(i)
		}
		wg.Wait()

		require.NoError(t, repo.Update(ctx, key, func(rec *model.RateLimitRecord) bool {
			assert.Len(t, rec.Timestamps, n)
			return false
		}))
	})
}

func testUserRepository(t *testing.T, repo IUserRepository) {
	ctx := context.Background()

	user := &model.User{ID: "0b8f6b8e-1111-4c4c-9d9d-000000000001", Email: "kim@example.com", Password: "$2a$10$hash"}
	require.NoError(t, repo.Create(ctx, user))
	assert.False(t, user.CreatedAt.IsZero())

	dup := &model.User{ID: "0b8f6b8e-1111-4c4c-9d9d-000000000002", Email: "kim@example.com", Password: "x"}
	assert.ErrorIs(t, repo.Create(ctx, dup), common.ErrEmailTaken)

	got, err := repo.GetByEmail(ctx, "kim@example.com")
	require.NoError(t, err)
	assert.Equal(t, user.ID, got.ID)
	assert.Equal(t, "$2a$10$hash", got.Password)

	_, err = repo.GetByEmail(ctx, "nobody@example.com")
	assert.ErrorIs(t, err, common.ErrNotFound)

	require.NoError(t, repo.Delete(ctx, user.ID))
	_, err = repo.GetByEmail(ctx, "kim@example.com")
	assert.ErrorIs(t, err, common.ErrNotFound)
	assert.ErrorIs(t, repo.Delete(ctx, user.ID), common.ErrNotFound)

	again := &model.User{ID: "0b8f6b8e-1111-4c4c-9d9d-000000000003", Email: "kim@example.com", Password: "y"}
	assert.NoError(t, repo.Create(ctx, again), "a deleted email can be registered again")
}
