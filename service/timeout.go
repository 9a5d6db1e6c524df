package service

import (
	"context"
	"time"
)

// withStoreTimeout bounds the store calls made under ctx. A non-positive d
// leaves ctx unbounded.
func withStoreTimeout(ctx context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	if d <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, d)
}
