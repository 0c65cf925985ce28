package caching

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	"clinichub/internal/metrics"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/singleflight"
)

// TenantLookup answers whether a tenant with the given display name exists.
type TenantLookup interface {
	ExistsByName(ctx context.Context, name string) (bool, error)
}

// TenantCache resolves tenant names through a Store in front of the registry.
// Store failures degrade to registry lookups rather than failing requests.
type TenantCache struct {
	lookup  TenantLookup
	store   Store
	ttl     time.Duration
	metrics *metrics.Metrics
	group   singleflight.Group
	// bumped by Invalidate so that lookups started earlier do not cache
	// a result that predates the invalidation
	generation atomic.Uint64
}

func NewTenantCache(lookup TenantLookup, store Store, ttl time.Duration, m *metrics.Metrics) *TenantCache {
	return &TenantCache{lookup: lookup, store: store, ttl: ttl, metrics: m}
}

// Resolve reports whether the tenant exists.
func (c *TenantCache) Resolve(ctx context.Context, name string) (bool, error) {
	exists, err := c.store.Get(ctx, name)
	switch {
	case err == nil:
		c.metrics.TenantCacheLookups.WithLabelValues("hit").Inc()
		return exists, nil
	case errors.Is(err, ErrCacheMiss):
		c.metrics.TenantCacheLookups.WithLabelValues("miss").Inc()
	default:
		c.metrics.TenantCacheLookups.WithLabelValues("error").Inc()
		log.Warn().Err(err).Str("tenant", name).Msg("Tenant cache read failed, using registry")
	}

	// concurrent misses for one name share a single registry query
	v, err, _ := c.group.Do(name, func() (interface{}, error) {
		gen := c.generation.Load()
		exists, err := c.lookup.ExistsByName(ctx, name)
		if err != nil {
			return false, err
		}
		if c.generation.Load() != gen {
			return exists, nil
		}
		if err := c.store.Set(ctx, name, exists, c.ttl); err != nil {
			log.Warn().Err(err).Str("tenant", name).Msg("Tenant cache write failed")
		}
		return exists, nil
	})
	if err != nil {
		return false, err
	}
	return v.(bool), nil
}

// Invalidate forgets any cached result for name.
func (c *TenantCache) Invalidate(ctx context.Context, name string) error {
	c.generation.Add(1)
	c.group.Forget(name)
	return c.store.Delete(ctx, name)
}
