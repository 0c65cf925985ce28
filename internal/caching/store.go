package caching

import (
	"context"
	"errors"
	"time"
)

// ErrCacheMiss is returned when a key is absent or expired.
var ErrCacheMiss = errors.New("cache miss")

// Store keeps tenant existence results. Both positive and negative results
// are cached.
type Store interface {
	Get(ctx context.Context, name string) (bool, error)
	Set(ctx context.Context, name string, exists bool, ttl time.Duration) error
	Delete(ctx context.Context, name string) error
}
