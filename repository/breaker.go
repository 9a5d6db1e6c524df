package repository

import (
	"context"
	"errors"
	"fmt"
	"go-admission-api/common"
	"go-admission-api/model"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/sony/gobreaker"
)

// Breaker fails store calls fast while the backend keeps failing. Only
// store failures count against it; not-found and similar domain outcomes
// are successes, and so is a caller cancelling its own request.
type Breaker struct {
	cb *gobreaker.CircuitBreaker
}

// NewBreaker opens after maxFailures consecutive store failures and probes
// the backend again after openTimeout.
func NewBreaker(name string, maxFailures uint32, openTimeout time.Duration, log logrus.FieldLogger) *Breaker {
	settings := gobreaker.Settings{
		Name:        name,
		MaxRequests: 1,
		Timeout:     openTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= maxFailures
		},
		IsSuccessful: func(err error) bool {
			if err == nil || errors.Is(err, context.Canceled) {
				return true
			}
			return !errors.Is(err, common.ErrStoreUnavailable)
		},
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			log.WithFields(logrus.Fields{
				"name": name,
				"from": from.String(),
				"to":   to.String(),
			}).Warn("Store circuit breaker state change")
		},
	}
	return &Breaker{cb: gobreaker.NewCircuitBreaker(settings)}
}

// State returns the current breaker state.
func (b *Breaker) State() gobreaker.State {
	return b.cb.State()
}

func (b *Breaker) do(op string, fn func() error) error {
	_, err := b.cb.Execute(func() (interface{}, error) {
		return nil, fn()
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return fmt.Errorf("%w: %s: %w", common.ErrStoreUnavailable, op, err)
	}
	return err
}

// BreakerTokenRepository guards an ITokenRepository with a Breaker.
type BreakerTokenRepository struct {
	next ITokenRepository
	b    *Breaker
}

func NewBreakerTokenRepository(next ITokenRepository, b *Breaker) *BreakerTokenRepository {
	return &BreakerTokenRepository{next: next, b: b}
}

func (r *BreakerTokenRepository) ReplaceForOwner(ctx context.Context, token *model.Token) error {
	return r.b.do("tokens.replace", func() error {
		return r.next.ReplaceForOwner(ctx, token)
	})
}

func (r *BreakerTokenRepository) GetByHash(ctx context.Context, hash string) (*model.Token, error) {
	var token *model.Token
	err := r.b.do("tokens.get", func() error {
		var err error
		token, err = r.next.GetByHash(ctx, hash)
		return err
	})
	return token, err
}

func (r *BreakerTokenRepository) DeleteByOwner(ctx context.Context, ownerID string) error {
	return r.b.do("tokens.delete", func() error {
		return r.next.DeleteByOwner(ctx, ownerID)
	})
}

func (r *BreakerTokenRepository) DeleteExpired(ctx context.Context, now time.Time) (int64, error) {
	var n int64
	err := r.b.do("tokens.purge", func() error {
		var err error
		n, err = r.next.DeleteExpired(ctx, now)
		return err
	})
	return n, err
}

// BreakerRateLimitRepository guards an IRateLimitRepository with a Breaker.
type BreakerRateLimitRepository struct {
	next IRateLimitRepository
	b    *Breaker
}

func NewBreakerRateLimitRepository(next IRateLimitRepository, b *Breaker) *BreakerRateLimitRepository {
	return &BreakerRateLimitRepository{next: next, b: b}
}

func (r *BreakerRateLimitRepository) Update(ctx context.Context, key model.RateLimitKey, fn UpdateFunc) error {
	return r.b.do("rate_limits.update", func() error {
		return r.next.Update(ctx, key, fn)
	})
}

func (r *BreakerRateLimitRepository) PurgeStale(ctx context.Context, before time.Time) (int64, error) {
	var n int64
	err := r.b.do("rate_limits.purge", func() error {
		var err error
		n, err = r.next.PurgeStale(ctx, before)
		return err
	})
	return n, err
}
