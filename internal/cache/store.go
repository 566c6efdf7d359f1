package cache

import (
	"context"
	"errors"
	"time"
)

// ErrStoreUnavailable is returned when a store method is invoked on a nil receiver.
var ErrStoreUnavailable = errors.New("cache: store not initialised")

// Store represents a shared cache interface used across the application.
// Implementations must be safe for concurrent use by multiple instances of
// the service, which is what lets OAuth state survive horizontal scaling.
type Store interface {
	// IncrementWithTTL bumps a fixed-window counter. The window starts with the first increment.
	IncrementWithTTL(ctx context.Context, key string, window time.Duration) (int64, time.Duration, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Get(ctx context.Context, key string) ([]byte, bool, error)
	// Take returns the value and removes it in one step. Only one caller observes a given value.
	Take(ctx context.Context, key string) ([]byte, bool, error)
	Delete(ctx context.Context, keys ...string) error
}

func ensureContext(ctx context.Context) context.Context {
	if ctx == nil {
		return context.Background()
	}
	return ctx
}
