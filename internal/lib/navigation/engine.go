// Package navigation tracks progress along an active route and derives the
// guidance values the HUD displays.
//
// All session state is owned by a single event loop goroutine started with
// Run. Public methods post events to that loop and wait for them to be
// applied, so samples, route results and lifecycle commands are processed in
// one total order.
package navigation

import (
	"context"
	"errors"
	"fmt"
	"math"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"

	"github.com/brunoga/deep"
	prefaberrors "github.com/dpup/prefab/errors"
	"github.com/dpup/prefab/logging"

	"github.com/dpup/hud.ersn.net/client/internal/lib/geo"
	"github.com/dpup/hud.ersn.net/client/internal/lib/maneuver"
	"github.com/dpup/hud.ersn.net/client/internal/lib/route"
)

const eventQueueSize = 64

type requestKind int

const (
	requestStart requestKind = iota
	requestRecalculate
)

func (k requestKind) String() string {
	if k == requestStart {
		return "start"
	}
	return "recalculate"
}

// pendingRequest is the single route request whose result may still be applied
type pendingRequest struct {
	generation  uint64
	kind        requestKind
	destination geo.Point
	cancel      context.CancelFunc
	reply       chan error
}

// session is the active navigation state. Only the event loop touches it.
type session struct {
	route       *route.Route
	leg         route.Leg
	destination geo.Point
	cursor      int

	advancePending bool
	distance       float64
	hasDistance    bool
	stale          bool
	advisory       string
}

// Engine is the navigation progress and guidance engine
type Engine struct {
	provider route.Provider
	opts     Options

	events chan func()
	done   chan struct{}
	runCtx context.Context

	current atomic.Pointer[Snapshot]

	subsMu  sync.Mutex
	subs    map[int]chan Snapshot
	nextSub int

	// Event loop state.
	status     Status
	lastErr    error
	position   *geo.Point
	rawSpeed   float64
	speed      float64
	session    *session
	pending    *pendingRequest
	generation uint64
	sequence   uint64
}

// NewEngine creates an idle engine. Call Run to start processing events.
func NewEngine(provider route.Provider, opts Options) *Engine {
	defaults := DefaultOptions()
	if opts.AdvanceThreshold <= 0 {
		opts.AdvanceThreshold = defaults.AdvanceThreshold
	}
	if opts.LaneWindow.Max <= 0 {
		opts.LaneWindow = defaults.LaneWindow
	}
	if opts.Profile == "" {
		opts.Profile = defaults.Profile
	}
	if opts.Now == nil {
		opts.Now = defaults.Now
	}

	e := &Engine{
		provider: provider,
		opts:     opts,
		events:   make(chan func(), eventQueueSize),
		done:     make(chan struct{}),
		runCtx:   logging.EnsureLogger(context.Background()),
		subs:     make(map[int]chan Snapshot),
		status:   StatusIdle,
	}
	e.current.Store(&Snapshot{Status: StatusIdle, UpdatedAt: opts.Now()})
	return e
}

// Run processes events until ctx is cancelled. It must be called exactly once.
// Events are logged with ctx's logger, or a default one if ctx has none.
func (e *Engine) Run(ctx context.Context) error {
	ctx = logging.EnsureLogger(ctx)
	e.runCtx = ctx
	defer close(e.done)

	for {
		select {
		case <-ctx.Done():
			e.shutdown()
			return ctx.Err()
		case fn := <-e.events:
			e.handle(ctx, fn)
		}
	}
}

func (e *Engine) handle(ctx context.Context, fn func()) {
	defer func() {
		if r := recover(); r != nil {
			err, _ := prefaberrors.ParseStack(debug.Stack())
			skipFrames := 3
			numFrames := 5
			logging.Errorw(ctx, "Navigation engine: recovered from panic",
				"error", r, "error.stack_trace", err.MinimalStack(skipFrames, numFrames))
		}
	}()
	fn()
}

// shutdown releases the caller of any in-flight request
func (e *Engine) shutdown() {
	if e.pending != nil {
		e.pending.cancel()
		e.pending.reply <- ErrClosed
		e.pending = nil
	}
}

// enqueue posts fn to the event loop without waiting for it to run
func (e *Engine) enqueue(ctx context.Context, fn func()) error {
	select {
	case e.events <- fn:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-e.done:
		return ErrClosed
	}
}

// call runs fn on the event loop and waits for it to finish
func (e *Engine) call(ctx context.Context, fn func()) error {
	finished := make(chan struct{})
	if err := e.enqueue(ctx, func() {
		defer close(finished)
		fn()
	}); err != nil {
		return err
	}
	select {
	case <-finished:
		return nil
	case <-e.done:
		// The loop may have run fn just before exiting.
		select {
		case <-finished:
			return nil
		default:
			return ErrClosed
		}
	}
}

// Snapshot returns a copy of the most recently published snapshot
func (e *Engine) Snapshot() Snapshot {
	return deep.MustCopy(*e.current.Load())
}

// Subscribe returns a channel that always holds the latest snapshot. Slow
// readers skip intermediate snapshots. Call cancel to unsubscribe.
func (e *Engine) Subscribe() (<-chan Snapshot, func()) {
	ch := make(chan Snapshot, 1)

	// Seeded under subsMu: no publish falls between registration and seed.
	e.subsMu.Lock()
	id := e.nextSub
	e.nextSub++
	e.subs[id] = ch
	ch <- e.Snapshot()
	e.subsMu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			e.subsMu.Lock()
			delete(e.subs, id)
			e.subsMu.Unlock()
		})
	}
}

// Start begins navigating from the current position to destination. It
// blocks until the route request resolves, is superseded or ctx is done.
func (e *Engine) Start(ctx context.Context, destination geo.Point) error {
	if !destination.IsValid() {
		return fmt.Errorf("invalid destination %s: %w", destination, route.ErrUnavailable)
	}

	var origin *geo.Point
	if err := e.call(ctx, func() { origin = e.position }); err != nil {
		return err
	}

	if origin == nil && e.opts.Locator != nil {
		p, err := e.opts.Locator.CurrentLocation(ctx)
		if err != nil {
			logging.Warnw(logging.EnsureLogger(ctx), "Navigation: one-time location fetch failed", "error", err)
		} else if p.IsValid() {
			origin = &p
		}
	}

	reply := make(chan error, 1)
	var immediate error
	err := e.call(ctx, func() {
		if e.position == nil && origin != nil {
			fetched := *origin
			e.position = &fetched
		}
		if e.position == nil {
			immediate = ErrNoLocation
			e.startFailed(destination, ErrNoLocation)
			return
		}
		e.beginRequest(ctx, requestStart, *e.position, destination, reply)
	})
	if err != nil {
		return err
	}
	if immediate != nil {
		return immediate
	}
	return e.await(ctx, reply)
}

// Recalculate requests a fresh route from the current position to the
// remembered destination. On failure the previous route stays active and the
// returned error wraps ErrRecalculationFailed.
func (e *Engine) Recalculate(ctx context.Context) error {
	reply := make(chan error, 1)
	var immediate error
	err := e.call(ctx, func() {
		if e.session == nil {
			immediate = ErrNotActive
			return
		}
		if e.position == nil {
			immediate = fmt.Errorf("%w: %w", ErrRecalculationFailed, ErrNoLocation)
			return
		}
		e.beginRequest(ctx, requestRecalculate, *e.position, e.session.destination, reply)
	})
	if err != nil {
		return err
	}
	if immediate != nil {
		return immediate
	}
	return e.await(ctx, reply)
}

// Stop ends navigation. It is always valid and idempotent.
func (e *Engine) Stop(ctx context.Context) error {
	return e.call(ctx, e.stop)
}

// OnPositionSample applies one position fix
func (e *Engine) OnPositionSample(ctx context.Context, sample Sample) error {
	var result error
	if err := e.call(ctx, func() { result = e.applySample(sample) }); err != nil {
		return err
	}
	return result
}

// Status returns the current engine state
func (e *Engine) Status() Status {
	return e.current.Load().Status
}

// ActiveStep returns the step currently being navigated, if any
func (e *Engine) ActiveStep(ctx context.Context) (route.Step, bool) {
	var step route.Step
	var ok bool
	_ = e.call(ctx, func() {
		if e.session != nil {
			step = deep.MustCopy(e.session.leg.Steps[e.session.cursor])
			ok = true
		}
	})
	return step, ok
}

// ActiveRoute returns the route currently being navigated, if any
func (e *Engine) ActiveRoute(ctx context.Context) (*route.Route, bool) {
	var r *route.Route
	_ = e.call(ctx, func() {
		if e.session != nil {
			r = e.session.route
		}
	})
	return r, r != nil
}

func (e *Engine) await(ctx context.Context, reply <-chan error) error {
	select {
	case err := <-reply:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// beginRequest replaces any in-flight request with a new generation and
// starts the provider call on its own goroutine.
func (e *Engine) beginRequest(ctx context.Context, kind requestKind, origin, destination geo.Point, reply chan error) {
	if e.pending != nil {
		e.pending.cancel()
		e.pending.reply <- ErrSuperseded
		e.emit(Event{Kind: EventRouteDiscarded, Destination: &e.pending.destination, Err: ErrSuperseded.Error()})
	}

	e.generation++
	generation := e.generation
	reqCtx, cancel := context.WithCancel(logging.EnsureLogger(ctx))
	e.pending = &pendingRequest{
		generation:  generation,
		kind:        kind,
		destination: destination,
		cancel:      cancel,
		reply:       reply,
	}

	logging.Debugw(e.runCtx, "Navigation: requesting route",
		"kind", kind.String(), "generation", generation, "origin", origin.String(), "destination", destination.String())

	if e.session != nil {
		e.publish()
	}

	provider := e.provider
	profile := e.opts.Profile
	go func() {
		r, err := provider.Route(reqCtx, origin, destination, profile)
		select {
		case e.events <- func() { e.resolve(generation, r, err) }:
		case <-e.done:
		}
	}()
}

// resolve applies a provider result if it belongs to the latest request
func (e *Engine) resolve(generation uint64, r *route.Route, err error) {
	p := e.pending
	if p == nil || p.generation != generation {
		logging.Debugw(e.runCtx, "Navigation: discarding stale route result", "generation", generation)
		return
	}
	e.pending = nil
	p.cancel()

	if err == nil && r == nil {
		err = route.ErrUnavailable
	}
	var leg route.Leg
	if err == nil {
		var ok bool
		leg, ok = r.ActiveLeg()
		if !ok || len(leg.Steps) == 0 {
			err = ErrEmptyRoute
		}
	}

	switch p.kind {
	case requestStart:
		if err != nil {
			err = startError(err)
			e.startFailed(p.destination, err)
			p.reply <- err
			return
		}
		e.speed = e.rawSpeed
		e.session = &session{route: r, leg: leg, destination: p.destination}
		e.status = StatusActive
		e.lastErr = nil
		e.emit(Event{
			Kind:          EventStarted,
			Destination:   &p.destination,
			RouteDistance: r.Distance(),
			RouteDuration: r.Duration(),
		})
		logging.Infow(e.runCtx, "Navigation: started",
			"destination", p.destination.String(), "steps", len(leg.Steps), "distance", r.Distance())

	case requestRecalculate:
		if e.session == nil {
			p.reply <- ErrStopped
			return
		}
		if err != nil {
			err = fmt.Errorf("%w: %w", ErrRecalculationFailed, err)
			e.session.advisory = "Route recalculation failed: " + err.Error()
			e.emit(Event{Kind: EventRecalculationFailed, Destination: &p.destination, Err: err.Error()})
			logging.Warnw(e.runCtx, "Navigation: recalculation failed, keeping current route", "error", err)
			e.publish()
			p.reply <- err
			return
		}
		e.session.route = r
		e.session.leg = leg
		e.session.cursor = 0
		e.session.advancePending = false
		e.session.advisory = ""
		e.emit(Event{
			Kind:          EventRecalculated,
			Destination:   &p.destination,
			RouteDistance: r.Distance(),
			RouteDuration: r.Duration(),
		})
		logging.Infow(e.runCtx, "Navigation: route recalculated", "steps", len(leg.Steps), "distance", r.Distance())
	}

	e.refresh(false)
	p.reply <- nil
}

func startError(err error) error {
	switch {
	case errors.Is(err, ErrEmptyRoute), errors.Is(err, route.ErrUnavailable), errors.Is(err, route.ErrTransport):
		return err
	default:
		return fmt.Errorf("%w: %w", route.ErrUnavailable, err)
	}
}

// startFailed records a failed Start. An existing session keeps running.
func (e *Engine) startFailed(destination geo.Point, err error) {
	e.emit(Event{Kind: EventStartFailed, Destination: &destination, Err: err.Error()})
	logging.Warnw(e.runCtx, "Navigation: start failed", "destination", destination.String(), "error", err)
	if e.session != nil {
		e.session.advisory = "Could not start navigation: " + err.Error()
	} else {
		e.status = StatusErroring
		e.lastErr = err
	}
	e.publish()
}

func (e *Engine) stop() {
	if e.pending != nil {
		e.pending.cancel()
		e.pending.reply <- ErrStopped
		e.pending = nil
	}
	wasActive := e.session != nil
	e.session = nil
	e.status = StatusIdle
	e.lastErr = nil
	e.speed = 0
	e.rawSpeed = 0
	if wasActive {
		e.emit(Event{Kind: EventStopped})
		logging.Infow(e.runCtx, "Navigation: stopped")
	}
	e.publish()
}

func (e *Engine) applySample(s Sample) error {
	if err := s.Validate(); err != nil {
		e.emit(Event{Kind: EventSampleRejected, Err: err.Error()})
		return err
	}

	p := s.Point
	e.position = &p
	if s.Speed != nil {
		e.rawSpeed = math.Round(*s.Speed * 3.6)
		if e.session == nil || e.rawSpeed > e.speed {
			e.speed = e.rawSpeed
		}
	}
	e.emit(Event{Kind: EventSampleAccepted, Position: &p})

	if e.session == nil {
		return nil
	}
	if e.pending != nil {
		// Guidance holds still until the new route lands.
		e.publish()
		return nil
	}
	e.refresh(true)
	return nil
}

// refresh recomputes distance to maneuver and publishes a snapshot. With
// applyAdvance set, a step advance flagged by the previous sample is applied
// first, so the cursor moves at most one step per sample.
func (e *Engine) refresh(applyAdvance bool) {
	s := e.session
	last := len(s.leg.Steps) - 1

	if applyAdvance && s.advancePending && s.cursor < last {
		s.cursor++
		e.emit(Event{Kind: EventStepAdvanced, StepIndex: s.cursor, Position: e.position})
		logging.Debugw(e.runCtx, "Navigation: advanced step", "step", s.cursor, "of", len(s.leg.Steps))
	}
	s.advancePending = false

	step := s.leg.Steps[s.cursor]
	if step.Maneuver.Location == nil || e.position == nil {
		s.stale = true
	} else {
		s.distance = geo.Distance(*e.position, *step.Maneuver.Location)
		s.hasDistance = true
		s.stale = false
		if s.distance < e.opts.AdvanceThreshold && s.cursor < last {
			s.advancePending = true
		}
	}
	e.publish()
}

// remaining returns the remaining distance and time for the session
func (s *session) remaining() (float64, time.Duration) {
	step := s.leg.Steps[s.cursor]
	distance := s.distance
	if !s.hasDistance {
		distance = step.Distance
	}

	fraction := 0.0
	if step.Distance > 0 {
		fraction = math.Max(0, math.Min(1, distance/step.Distance))
	}
	duration := time.Duration(float64(step.Duration) * fraction)

	for _, later := range s.leg.Steps[s.cursor+1:] {
		distance += later.Distance
		duration += later.Duration
	}
	return distance, duration
}

func (e *Engine) buildSnapshot() Snapshot {
	e.sequence++
	snap := Snapshot{
		Sequence:  e.sequence,
		UpdatedAt: e.opts.Now(),
		Status:    e.status,
		Speed:     e.speed,
	}
	if e.position != nil {
		p := *e.position
		snap.Position = &p
	}
	if e.lastErr != nil {
		snap.Error = e.lastErr.Error()
	}

	s := e.session
	if s == nil {
		return snap
	}

	step := s.leg.Steps[s.cursor]
	dest := s.destination
	snap.Active = true
	snap.Destination = &dest
	snap.Advisory = s.advisory
	snap.Direction = maneuver.Classify(step.Maneuver.Type, step.Maneuver.Modifier)
	snap.Instruction = maneuver.Instruction(step.Maneuver.Type, step.Maneuver.Modifier)
	snap.StreetName = step.Name
	snap.StepIndex = s.cursor
	snap.StepCount = len(s.leg.Steps)
	snap.Stale = s.stale
	snap.Recalculating = e.pending != nil && e.pending.kind == requestRecalculate
	snap.RemainingDistance, snap.RemainingDuration = s.remaining()

	if s.hasDistance {
		snap.DistanceToManeuver = s.distance
		snap.Lanes = e.opts.LaneWindow.Filter(step, s.distance)
		if snap.Lanes != nil {
			snap.LaneOpacity = e.opts.LaneWindow.Opacity(s.distance)
		}
	} else {
		snap.DistanceToManeuver = step.Distance
	}
	return snap
}

// publish stores a fresh snapshot and delivers it to subscribers, replacing
// any snapshot they have not read yet.
func (e *Engine) publish() {
	snap := e.buildSnapshot()
	e.current.Store(&snap)

	e.subsMu.Lock()
	defer e.subsMu.Unlock()
	for _, ch := range e.subs {
		copied := deep.MustCopy(snap)
		select {
		case ch <- copied:
			continue
		default:
		}
		select {
		case <-ch:
		default:
		}
		select {
		case ch <- copied:
		default:
		}
	}
}

func (e *Engine) emit(ev Event) {
	if len(e.opts.Observers) == 0 {
		return
	}
	ev.Time = e.opts.Now()
	if ev.StepIndex == 0 && e.session != nil {
		ev.StepIndex = e.session.cursor
	}
	for _, o := range e.opts.Observers {
		o(ev)
	}
}
