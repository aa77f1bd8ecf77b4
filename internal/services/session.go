package services

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dpup/prefab/logging"

	"github.com/dpup/hud.ersn.net/client/internal/clients/location"
	"github.com/dpup/hud.ersn.net/client/internal/lib/geo"
	"github.com/dpup/hud.ersn.net/client/internal/lib/navigation"
	"github.com/dpup/hud.ersn.net/client/internal/lib/route"
)

// NavigationEngine is the subset of the navigation engine the session controller drives
type NavigationEngine interface {
	Start(ctx context.Context, destination geo.Point) error
	Stop(ctx context.Context) error
	Recalculate(ctx context.Context) error
	OnPositionSample(ctx context.Context, sample navigation.Sample) error
	ActiveStep(ctx context.Context) (route.Step, bool)
	Snapshot() navigation.Snapshot
}

// DeviationPredicate reports whether pos has left the active step
type DeviationPredicate func(pos geo.Point, step route.Step) bool

// OffRouteBeyond reports deviation when pos is more than meters from the
// step's geometry. Steps without geometry never deviate.
func OffRouteBeyond(meters float64) DeviationPredicate {
	return func(pos geo.Point, step route.Step) bool {
		if len(step.Geometry) == 0 {
			return false
		}
		d, err := geo.PointToPolyline(pos, geo.FromLineString(step.Geometry))
		if err != nil {
			return false
		}
		return d > meters
	}
}

// SessionController feeds a location stream into the navigation engine and
// triggers a recalculation when the vehicle leaves the route
type SessionController struct {
	engine    NavigationEngine
	source    location.Source
	deviation DeviationPredicate
	cooldown  time.Duration
	now       func() time.Time

	recalculating atomic.Bool
	mu            sync.Mutex
	lastRecalc    time.Time
	wg            sync.WaitGroup
}

// NewSessionController creates a controller. A nil deviation predicate disables
// automatic recalculation.
func NewSessionController(engine NavigationEngine, source location.Source, deviation DeviationPredicate, cooldown time.Duration) *SessionController {
	return &SessionController{
		engine:    engine,
		source:    source,
		deviation: deviation,
		cooldown:  cooldown,
		now:       time.Now,
	}
}

// Run pumps samples into the engine until ctx is cancelled or the source closes
func (c *SessionController) Run(ctx context.Context) error {
	ctx = logging.EnsureLogger(ctx)
	samples, err := c.source.Samples(ctx)
	if err != nil {
		return err
	}

	logging.Infow(ctx, "Session controller: consuming position samples")
	for sample := range samples {
		c.handleSample(ctx, sample)
	}
	c.wg.Wait()
	return ctx.Err()
}

func (c *SessionController) handleSample(ctx context.Context, sample navigation.Sample) {
	ctx = logging.EnsureLogger(ctx)
	if err := c.engine.OnPositionSample(ctx, sample); err != nil {
		if errors.Is(err, navigation.ErrInvalidSample) {
			logging.Warnw(ctx, "Dropping malformed position sample", "point", sample.Point.String())
			return
		}
		logging.Warnw(ctx, "Failed to apply position sample", "error", err)
		return
	}
	c.checkDeviation(ctx, sample.Point)
}

// checkDeviation starts a background recalculation when the predicate fires,
// none is already running and the cooldown has elapsed
func (c *SessionController) checkDeviation(ctx context.Context, pos geo.Point) {
	if c.deviation == nil {
		return
	}
	step, ok := c.engine.ActiveStep(ctx)
	if !ok || !c.deviation(pos, step) {
		return
	}
	if !c.recalculating.CompareAndSwap(false, true) {
		return
	}

	c.mu.Lock()
	now := c.now()
	if !c.lastRecalc.IsZero() && now.Sub(c.lastRecalc) < c.cooldown {
		c.mu.Unlock()
		c.recalculating.Store(false)
		return
	}
	c.lastRecalc = now
	c.mu.Unlock()

	logging.Infow(ctx, "Off route, recalculating", "position", pos.String())
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		defer c.recalculating.Store(false)
		if err := c.engine.Recalculate(ctx); err != nil {
			logging.Warnw(ctx, "Automatic route recalculation failed", "error", err)
		}
	}()
}

// Start begins navigation to destination
func (c *SessionController) Start(ctx context.Context, destination geo.Point) error {
	c.mu.Lock()
	c.lastRecalc = time.Time{}
	c.mu.Unlock()
	return c.engine.Start(ctx, destination)
}

// Stop ends navigation
func (c *SessionController) Stop(ctx context.Context) error {
	return c.engine.Stop(ctx)
}

// Recalculate requests a new route to the current destination
func (c *SessionController) Recalculate(ctx context.Context) error {
	return c.engine.Recalculate(ctx)
}

// Snapshot returns the latest display snapshot
func (c *SessionController) Snapshot() navigation.Snapshot {
	return c.engine.Snapshot()
}
