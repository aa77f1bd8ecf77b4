package cache

import (
	"context"
	"fmt"
	"time"

	"github.com/dpup/prefab/logging"
	"golang.org/x/sync/singleflight"

	"github.com/dpup/hud.ersn.net/client/internal/lib/geo"
	"github.com/dpup/hud.ersn.net/client/internal/lib/route"
)

// CachedProvider wraps a route.Provider and reuses recent answers for the
// same origin, destination and profile. Coordinates are rounded to four
// decimal places (about 11 m) when building the key.
type CachedProvider struct {
	provider route.Provider
	cache    *Cache
	ttl      time.Duration
	group    singleflight.Group
}

// NewCachedProvider creates a caching adapter around provider
func NewCachedProvider(provider route.Provider, cache *Cache, ttl time.Duration) *CachedProvider {
	return &CachedProvider{
		provider: provider,
		cache:    cache,
		ttl:      ttl,
	}
}

// RouteKey builds the cache key for a route request
func RouteKey(origin, destination geo.Point, profile route.Profile) string {
	if profile == "" {
		profile = route.ProfileCar
	}
	return fmt.Sprintf("route:%s:%.4f,%.4f:%.4f,%.4f", profile,
		origin.Latitude, origin.Longitude, destination.Latitude, destination.Longitude)
}

// Route implements route.Provider
func (p *CachedProvider) Route(ctx context.Context, origin, destination geo.Point, profile route.Profile) (*route.Route, error) {
	ctx = logging.EnsureLogger(ctx)
	key := RouteKey(origin, destination, profile)

	var cached route.Route
	found, err := p.cache.Get(key, &cached)
	if err != nil {
		logging.Warnw(ctx, "Route cache: discarding unreadable entry", "key", key, "error", err)
		p.cache.Delete(key)
	} else if found {
		logging.Debugw(ctx, "Route cache: hit", "key", key)
		return &cached, nil
	}

	// Identical concurrent requests share one upstream call. The shared call
	// outlives any single caller so a cancelled request cannot fail the others.
	ch := p.group.DoChan(key, func() (interface{}, error) {
		r, err := p.provider.Route(context.WithoutCancel(ctx), origin, destination, profile)
		if err != nil {
			return nil, err
		}
		if err := p.cache.Set(key, r, p.ttl, r.Source); err != nil {
			logging.Warnw(ctx, "Route cache: failed to store route", "key", key, "error", err)
		}
		return r, nil
	})

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(*route.Route), nil
	}
}
