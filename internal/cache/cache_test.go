package cache

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dpup/hud.ersn.net/client/internal/lib/geo"
	"github.com/dpup/hud.ersn.net/client/internal/lib/route"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func newTestCache() (*Cache, *fakeClock) {
	clock := &fakeClock{now: time.Date(2024, 1, 15, 8, 0, 0, 0, time.UTC)}
	c := NewCache()
	c.now = clock.Now
	return c, clock
}

func TestCache_SetGet(t *testing.T) {
	c, clock := newTestCache()

	require.NoError(t, c.Set("k", map[string]int{"a": 1}, time.Minute, "test"))

	var got map[string]int
	found, err := c.Get("k", &got)
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, 1, got["a"])

	clock.Advance(2 * time.Minute)
	found, err = c.Get("k", &got)
	require.NoError(t, err)
	assert.False(t, found, "expired entries are not returned")
	assert.True(t, c.IsStale("k"))
	assert.True(t, c.IsStale("missing"))
}

func TestCache_SetUnmarshalable(t *testing.T) {
	c, _ := newTestCache()
	err := c.Set("k", make(chan int), time.Minute, "test")
	assert.Error(t, err)
}

func TestCache_StatsAndCleanup(t *testing.T) {
	c, clock := newTestCache()

	require.NoError(t, c.Set("short", 1, time.Minute, "test"))
	clock.Advance(10 * time.Second)
	require.NoError(t, c.Set("long", 2, time.Hour, "test"))
	clock.Advance(2 * time.Minute)

	stats := c.Stats()
	assert.Equal(t, 2, stats.TotalEntries)
	assert.Equal(t, 1, stats.StaleEntries)
	assert.Equal(t, 1, stats.FreshEntries)
	assert.True(t, stats.OldestEntry.Before(stats.NewestEntry))

	assert.Equal(t, 1, c.CleanupStale())
	assert.Equal(t, []string{"long"}, c.Keys())

	c.Delete("long")
	assert.Empty(t, c.Keys())

	require.NoError(t, c.Set("x", 1, time.Hour, "test"))
	c.Clear()
	assert.Empty(t, c.Keys())
}

func TestCache_RunPeriodicCleanup(t *testing.T) {
	c := NewCache()
	require.NoError(t, c.Set("gone", 1, time.Nanosecond, "test"))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		c.RunPeriodicCleanup(ctx, 5*time.Millisecond)
		close(done)
	}()

	assert.Eventually(t, func() bool { return len(c.Keys()) == 0 }, time.Second, 5*time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("cleanup loop did not stop on cancel")
	}
}

var (
	origin      = geo.Point{Latitude: 38.07, Longitude: -120.54}
	destination = geo.Point{Latitude: 38.0853, Longitude: -120.5366}
)

func sampleRoute() *route.Route {
	return &route.Route{
		Source: "osrm",
		Legs: []route.Leg{{Steps: []route.Step{
			{
				Distance: 500,
				Duration: 45 * time.Second,
				Name:     "Main St",
				Maneuver: route.Maneuver{Type: "turn", Modifier: "right", Location: route.PointPtr(destination)},
				Intersections: []route.Intersection{{
					Location: destination,
					Lanes: []route.Lane{
						{Indications: []string{"left"}, Valid: route.BoolPtr(false)},
						{Indications: []string{"right"}},
					},
				}},
			},
		}}},
	}
}

func TestRouteKey(t *testing.T) {
	a := RouteKey(origin, destination, route.ProfileCar)
	nearby := RouteKey(geo.Point{Latitude: 38.070001, Longitude: -120.540001}, destination, route.ProfileCar)
	assert.Equal(t, a, nearby, "sub-meter jitter maps to the same key")
	assert.Equal(t, a, RouteKey(origin, destination, ""))
	assert.NotEqual(t, a, RouteKey(origin, destination, route.ProfileBike))
	assert.NotEqual(t, a, RouteKey(destination, origin, route.ProfileCar))
}

func TestCachedProvider_Hit(t *testing.T) {
	var calls atomic.Int32
	upstream := route.ProviderFunc(func(ctx context.Context, o, d geo.Point, p route.Profile) (*route.Route, error) {
		calls.Add(1)
		return sampleRoute(), nil
	})
	provider := NewCachedProvider(upstream, NewCache(), time.Minute)

	first, err := provider.Route(context.Background(), origin, destination, route.ProfileCar)
	require.NoError(t, err)
	second, err := provider.Route(context.Background(), origin, destination, route.ProfileCar)
	require.NoError(t, err)

	assert.Equal(t, int32(1), calls.Load())
	assert.Equal(t, first.Distance(), second.Distance())

	step := second.Legs[0].Steps[0]
	assert.Equal(t, "Main St", step.Name)
	require.NotNil(t, step.Maneuver.Location)
	assert.Equal(t, destination, *step.Maneuver.Location)
	lanes := step.Intersections[0].Lanes
	require.NotNil(t, lanes[0].Valid)
	assert.False(t, *lanes[0].Valid)
	assert.Nil(t, lanes[1].Valid, "undefined validity survives the cache")
}

func TestCachedProvider_Expiry(t *testing.T) {
	var calls atomic.Int32
	upstream := route.ProviderFunc(func(ctx context.Context, o, d geo.Point, p route.Profile) (*route.Route, error) {
		calls.Add(1)
		return sampleRoute(), nil
	})
	c, clock := newTestCache()
	provider := NewCachedProvider(upstream, c, time.Minute)

	_, err := provider.Route(context.Background(), origin, destination, route.ProfileCar)
	require.NoError(t, err)
	clock.Advance(2 * time.Minute)
	_, err = provider.Route(context.Background(), origin, destination, route.ProfileCar)
	require.NoError(t, err)

	assert.Equal(t, int32(2), calls.Load())
}

func TestCachedProvider_ErrorsNotCached(t *testing.T) {
	var calls atomic.Int32
	upstream := route.ProviderFunc(func(ctx context.Context, o, d geo.Point, p route.Profile) (*route.Route, error) {
		calls.Add(1)
		return nil, route.ErrTransport
	})
	provider := NewCachedProvider(upstream, NewCache(), time.Minute)

	for i := 0; i < 2; i++ {
		_, err := provider.Route(context.Background(), origin, destination, route.ProfileCar)
		assert.ErrorIs(t, err, route.ErrTransport)
	}
	assert.Equal(t, int32(2), calls.Load())
}

func TestCachedProvider_CancelledCallerDoesNotFailOthers(t *testing.T) {
	release := make(chan struct{})
	var calls atomic.Int32
	upstream := route.ProviderFunc(func(ctx context.Context, o, d geo.Point, p route.Profile) (*route.Route, error) {
		calls.Add(1)
		<-release
		if ctx.Err() != nil {
			return nil, errors.New("upstream saw cancellation")
		}
		return sampleRoute(), nil
	})
	provider := NewCachedProvider(upstream, NewCache(), time.Minute)

	ctx, cancel := context.WithCancel(context.Background())
	firstErr := make(chan error, 1)
	go func() {
		_, err := provider.Route(ctx, origin, destination, route.ProfileCar)
		firstErr <- err
	}()
	require.Eventually(t, func() bool { return calls.Load() == 1 }, time.Second, time.Millisecond)

	secondErr := make(chan error, 1)
	go func() {
		_, err := provider.Route(context.Background(), origin, destination, route.ProfileCar)
		secondErr <- err
	}()

	cancel()
	assert.ErrorIs(t, <-firstErr, context.Canceled)

	close(release)
	assert.NoError(t, <-secondErr)
	assert.Equal(t, int32(1), calls.Load())
}
