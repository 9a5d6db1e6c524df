package service

import (
	"context"
	"errors"
	"go-admission-api/common"
	"go-admission-api/metrics"
	"go-admission-api/model"
	"go-admission-api/repository"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type mockRateLimitRepository struct{ mock.Mock }

func (m *mockRateLimitRepository) Update(ctx context.Context, key model.RateLimitKey, fn repository.UpdateFunc) error {
	return m.Called(ctx, key, fn).Error(0)
}
func (m *mockRateLimitRepository) PurgeStale(ctx context.Context, before time.Time) (int64, error) {
	args := m.Called(ctx, before)
	return args.Get(0).(int64), args.Error(1)
}

func newTestLimiter(repo repository.IRateLimitRepository, clock *fakeClock) *SlidingWindowLimiter {
	log, _ := newTestLogger()
	l := NewSlidingWindowLimiter(repo, log, metrics.Nop())
	l.now = clock.Now
	return l
}

var generateKey = model.RateLimitKey{Kind: model.IdentityIP, Value: "10.0.0.1", Endpoint: "/generate"}

func TestSlidingWindowLimiter_Scenario(t *testing.T) {
	ctx := context.Background()

	run := func(t *testing.T, clock *fakeClock, l *SlidingWindowLimiter, at int64) model.Decision {
		t.Helper()
		clock.Set(at)
		d, err := l.CheckAndRecord(ctx, generateKey, 3, 60)
		require.NoError(t, err)
		return d
	}

	prime := func(t *testing.T) (*fakeClock, *SlidingWindowLimiter) {
		clock := newFakeClock(0)
		l := newTestLimiter(repository.NewMemoryRateLimitRepository(), clock)
		for i, want := range []int{2, 1, 0} {
			d := run(t, clock, l, int64(i))
			assert.True(t, d.Allowed)
			assert.Equal(t, want, d.Remaining)
			assert.Equal(t, int64(60), d.ResetAfter)
			assert.Equal(t, int64(i)+60, d.ResetAt)
		}

		d := run(t, clock, l, 3)
		assert.False(t, d.Allowed)
		assert.Equal(t, 0, d.Remaining)
		assert.Equal(t, int64(57), d.ResetAfter)
		assert.Equal(t, int64(60), d.ResetAt)
		return clock, l
	}

	t.Run("oldest request ages out at exactly one window", func(t *testing.T) {
		clock, l := prime(t)

		d := run(t, clock, l, 59)
		assert.False(t, d.Allowed)
		assert.Equal(t, int64(1), d.ResetAfter)

		d = run(t, clock, l, 60)
		assert.True(t, d.Allowed)
		assert.Equal(t, 0, d.Remaining, "t=1 and t=2 are still inside (0, 60]")
	})

	t.Run("after one window and a second only t=2 is live", func(t *testing.T) {
		clock, l := prime(t)

		d := run(t, clock, l, 61)
		assert.True(t, d.Allowed)
		assert.Equal(t, 1, d.Remaining, "cutoff 1 is exclusive so t=1 aged out as well")
	})
}

func TestSlidingWindowLimiter_CheckAndRecord(t *testing.T) {
	ctx := context.Background()

	t.Run("first request on an empty key is allowed", func(t *testing.T) {
		l := newTestLimiter(repository.NewMemoryRateLimitRepository(), newFakeClock(1000))
		d, err := l.CheckAndRecord(ctx, generateKey, 5, 30)
		require.NoError(t, err)
		assert.Equal(t, model.Decision{Allowed: true, Limit: 5, Remaining: 4, ResetAfter: 30, ResetAt: 1030}, d)
	})

	t.Run("zero limit always denies", func(t *testing.T) {
		repo := repository.NewMemoryRateLimitRepository()
		l := newTestLimiter(repo, newFakeClock(1000))
		for i := 0; i < 3; i++ {
			d, err := l.CheckAndRecord(ctx, generateKey, 0, 30)
			require.NoError(t, err)
			assert.False(t, d.Allowed)
			assert.GreaterOrEqual(t, d.ResetAfter, int64(1))
		}
		assert.Zero(t, repo.Len(), "denied requests are not recorded")
	})

	t.Run("denied requests do not consume quota", func(t *testing.T) {
		clock := newFakeClock(0)
		l := newTestLimiter(repository.NewMemoryRateLimitRepository(), clock)

		_, err := l.CheckAndRecord(ctx, generateKey, 1, 10)
		require.NoError(t, err)

		var last model.Decision
		for s := int64(1); s <= 5; s++ {
			clock.Set(s)
			last, err = l.CheckAndRecord(ctx, generateKey, 1, 10)
			require.NoError(t, err)
			assert.False(t, last.Allowed)
		}

		clock.Advance(time.Duration(last.ResetAfter) * time.Second)
		d, err := l.CheckAndRecord(ctx, generateKey, 1, 10)
		require.NoError(t, err)
		assert.True(t, d.Allowed, "waiting reset_after seconds must admit again")
	})

	t.Run("keys are independent", func(t *testing.T) {
		l := newTestLimiter(repository.NewMemoryRateLimitRepository(), newFakeClock(0))
		userKey := model.RateLimitKey{Kind: model.IdentityUser, Value: generateKey.Value, Endpoint: generateKey.Endpoint}
		otherEndpoint := model.RateLimitKey{Kind: model.IdentityIP, Value: generateKey.Value, Endpoint: "/speak"}

		d, err := l.CheckAndRecord(ctx, generateKey, 1, 60)
		require.NoError(t, err)
		assert.True(t, d.Allowed)

		for _, k := range []model.RateLimitKey{userKey, otherEndpoint} {
			d, err = l.CheckAndRecord(ctx, k, 1, 60)
			require.NoError(t, err)
			assert.True(t, d.Allowed, k.String())
		}
	})

	t.Run("expired timestamps are dropped on write", func(t *testing.T) {
		clock := newFakeClock(0)
		repo := repository.NewMemoryRateLimitRepository()
		l := newTestLimiter(repo, clock)

		for s := int64(0); s < 3; s++ {
			clock.Set(s)
			_, err := l.CheckAndRecord(ctx, generateKey, 10, 5)
			require.NoError(t, err)
		}
		clock.Set(100)
		_, err := l.CheckAndRecord(ctx, generateKey, 10, 5)
		require.NoError(t, err)

		require.NoError(t, repo.Update(ctx, generateKey, func(rec *model.RateLimitRecord) bool {
			assert.Equal(t, []int64{100}, rec.Timestamps)
			return false
		}))
	})

	t.Run("invalid arguments", func(t *testing.T) {
		l := newTestLimiter(repository.NewMemoryRateLimitRepository(), newFakeClock(0))
		_, err := l.CheckAndRecord(ctx, generateKey, -1, 60)
		assert.Error(t, err)
		_, err = l.CheckAndRecord(ctx, generateKey, 1, 0)
		assert.Error(t, err)
	})

	t.Run("store failure", func(t *testing.T) {
		repo := new(mockRateLimitRepository)
		down := common.StoreError("rate_limits.update", errors.New("connection refused"))
		repo.On("Update", ctx, generateKey, mock.Anything).Return(down).Once()

		l := newTestLimiter(repo, newFakeClock(0))
		_, err := l.CheckAndRecord(ctx, generateKey, 1, 60)
		assert.ErrorIs(t, err, common.ErrStoreUnavailable)
		repo.AssertExpectations(t)
	})
}

func TestSlidingWindowLimiter_Concurrency(t *testing.T) {
	const (
		workers = 50
		limit   = 7
	)
	ctx := context.Background()

	backends := map[string]func(t *testing.T) repository.IRateLimitRepository{
		"memory": func(t *testing.T) repository.IRateLimitRepository {
			return repository.NewMemoryRateLimitRepository()
		},
		"redis": func(t *testing.T) repository.IRateLimitRepository {
			mr := miniredis.RunT(t)
			client := redis.NewClient(&redis.Options{Addr: mr.Addr(), PoolSize: workers})
			t.Cleanup(func() { client.Close() })
			log, _ := newTestLogger()
			return repository.NewRedisStore(client, "test:", time.Hour, log)
		},
	}

	for name, newRepo := range backends {
		t.Run(name, func(t *testing.T) {
			l := newTestLimiter(newRepo(t), newFakeClock(1000))

			var allowed atomic.Int32
			var wg sync.WaitGroup
			start := make(chan struct{})
			for i := 0; i < workers; i++ {
				wg.Add(1)
				go func() {
					defer wg.Done()
					<-start
					d, err := l.CheckAndRecord(ctx, generateKey, limit, 60)
					assert.NoError(t, err)
					if d.Allowed {
						allowed.Add(1)
					}
				}()
			}
			close(start)
			wg.Wait()

			assert.Equal(t, int32(limit), allowed.Load())
		})
	}
}

func TestSlidingWindowLimiter_PurgeStale(t *testing.T) {
	ctx := context.Background()
	repo := new(mockRateLimitRepository)
	before := time.Unix(500, 0)
	repo.On("PurgeStale", ctx, before).Return(int64(2), nil).Once()

	n, err := newTestLimiter(repo, newFakeClock(0)).PurgeStale(ctx, before)
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)
	repo.AssertExpectations(t)
}
