package service

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"
)

// Janitor periodically deletes expired tokens and rate-limit records that
// fell out of retention.
type Janitor struct {
	tokens    *TokenService
	limiter   *SlidingWindowLimiter
	interval  time.Duration
	retention time.Duration
	log       logrus.FieldLogger
	now       func() time.Time
}

// NewJanitor creates a Janitor. retention must not be shorter than the
// longest rate-limit window, otherwise purging would forget live requests.
func NewJanitor(tokens *TokenService, limiter *SlidingWindowLimiter, interval, retention time.Duration, log logrus.FieldLogger) *Janitor {
	return &Janitor{
		tokens:    tokens,
		limiter:   limiter,
		interval:  interval,
		retention: retention,
		log:       log,
		now:       time.Now,
	}
}

// Start runs Sweep every interval until ctx is done. A non-positive
// interval disables the janitor.
func (j *Janitor) Start(ctx context.Context) {
	if j.interval <= 0 {
		return
	}

	t := time.NewTicker(j.interval)
	go func() {
		defer t.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-t.C:
				j.Sweep(ctx)
			}
		}
	}()
}

// Sweep runs one purge pass. Failures are logged and retried on the next
// tick.
func (j *Janitor) Sweep(ctx context.Context) {
	tokens, err := j.tokens.PurgeExpired(ctx)
	if err != nil {
		j.log.WithError(err).Warn("Failed to purge expired tokens")
	}

	records, err := j.limiter.PurgeStale(ctx, j.now().Add(-j.retention))
	if err != nil {
		j.log.WithError(err).Warn("Failed to purge stale rate limit records")
	}

	if tokens > 0 || records > 0 {
		j.log.WithFields(logrus.Fields{
			"tokens":  tokens,
			"records": records,
		}).Info("Purged expired credentials")
	}
}
