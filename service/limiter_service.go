package service

import (
	"context"
	"fmt"
	"go-admission-api/metrics"
	"go-admission-api/model"
	"go-admission-api/repository"
	"time"

	"github.com/sirupsen/logrus"
)

// SlidingWindowLimiter admits at most limit requests per key within any
// window of the configured length. Every admitted request is logged with
// its arrival second; denied requests are not recorded.
type SlidingWindowLimiter struct {
	repo    repository.IRateLimitRepository
	log     logrus.FieldLogger
	metrics *metrics.Metrics
	now     func() time.Time
}

func NewSlidingWindowLimiter(repo repository.IRateLimitRepository, log logrus.FieldLogger, m *metrics.Metrics) *SlidingWindowLimiter {
	return &SlidingWindowLimiter{repo: repo, log: log, metrics: m, now: time.Now}
}

// CheckAndRecord decides whether one more request for key fits in the
// window and records it if so. The decision and the write happen under the
// repository's per-key exclusion.
func (l *SlidingWindowLimiter) CheckAndRecord(ctx context.Context, key model.RateLimitKey, limit int, windowSeconds int64) (model.Decision, error) {
	if limit < 0 {
		return model.Decision{}, fmt.Errorf("limit must not be negative, got %d", limit)
	}
	if windowSeconds <= 0 {
		return model.Decision{}, fmt.Errorf("window must be positive, got %d", windowSeconds)
	}

	start := time.Now()
	defer func() { l.metrics.CheckLatency.Observe(time.Since(start).Seconds()) }()

	var decision model.Decision
	err := l.repo.Update(ctx, key, func(rec *model.RateLimitRecord) bool {
		nowTime := l.now()
		now := nowTime.Unix()
		valid := pruneBefore(rec.Timestamps, now-windowSeconds)

		if len(valid) >= limit {
			resetAfter := windowSeconds
			if len(valid) > 0 {
				resetAfter = max(1, oldest(valid)+windowSeconds-now)
			}
			decision = model.Decision{
				Allowed:    false,
				Limit:      limit,
				Remaining:  0,
				ResetAfter: resetAfter,
				ResetAt:    now + resetAfter,
			}
			return false
		}

		rec.Timestamps = append(valid, now)
		rec.UpdatedAt = nowTime.UTC()
		decision = model.Decision{
			Allowed:    true,
			Limit:      limit,
			Remaining:  limit - len(rec.Timestamps),
			ResetAfter: windowSeconds,
			ResetAt:    now + windowSeconds,
		}
		return true
	})
	if err != nil {
		l.log.WithError(err).WithFields(logrus.Fields{
			"identity_kind": key.Kind,
			"endpoint":      key.Endpoint,
		}).Error("Rate limit check failed")
		return model.Decision{}, err
	}

	if !decision.Allowed {
		l.log.WithFields(logrus.Fields{
			"identity_kind": key.Kind,
			"endpoint":      key.Endpoint,
			"limit":         limit,
			"reset_after":   decision.ResetAfter,
		}).Info("Rate limit exceeded")
	}
	return decision, nil
}

// PurgeStale drops records that have not been written since before. It is
// safe as long as before lies at least one window in the past.
func (l *SlidingWindowLimiter) PurgeStale(ctx context.Context, before time.Time) (int64, error) {
	n, err := l.repo.PurgeStale(ctx, before)
	if err != nil {
		return 0, fmt.Errorf("purge stale rate limit records: %w", err)
	}
	return n, nil
}

// pruneBefore returns the timestamps strictly newer than cutoff, in a new
// slice.
func pruneBefore(timestamps []int64, cutoff int64) []int64 {
	valid := make([]int64, 0, len(timestamps)+1)
	for _, t := range timestamps {
		if t > cutoff {
			valid = append(valid, t)
		}
	}
	return valid
}

func oldest(timestamps []int64) int64 {
	m := timestamps[0]
	for _, t := range timestamps[1:] {
		m = min(m, t)
	}
	return m
}
