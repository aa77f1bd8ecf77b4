package navigation

import (
	"context"
	"errors"
	"math"
	"time"

	"github.com/dpup/hud.ersn.net/client/internal/lib/geo"
	"github.com/dpup/hud.ersn.net/client/internal/lib/lanes"
	"github.com/dpup/hud.ersn.net/client/internal/lib/maneuver"
	"github.com/dpup/hud.ersn.net/client/internal/lib/route"
)

var (
	// ErrNoLocation is returned by Start when no current position is known.
	ErrNoLocation = errors.New("current location not available")

	// ErrEmptyRoute is returned when the provider's active leg has no steps.
	ErrEmptyRoute = errors.New("route has no steps")

	// ErrRecalculationFailed wraps any failure of Recalculate. The previous
	// route stays active.
	ErrRecalculationFailed = errors.New("route recalculation failed")

	// ErrNotActive is returned by Recalculate when no session is active.
	ErrNotActive = errors.New("navigation is not active")

	// ErrSuperseded is returned to the caller of a route request that was
	// replaced by a newer one before it resolved.
	ErrSuperseded = errors.New("route request superseded by a newer request")

	// ErrStopped is returned to the caller of a route request that was
	// in flight when navigation was stopped.
	ErrStopped = errors.New("navigation stopped")

	// ErrInvalidSample is returned for malformed position samples. The
	// session is left untouched.
	ErrInvalidSample = errors.New("invalid position sample")

	// ErrClosed is returned once the engine's event loop has exited.
	ErrClosed = errors.New("navigation engine closed")
)

// Status is the engine state
type Status string

const (
	StatusIdle     Status = "idle"
	StatusActive   Status = "active"
	StatusErroring Status = "erroring"
)

// Sample is one position fix from a location provider
type Sample struct {
	Point     geo.Point `json:"point"`
	Speed     *float64  `json:"speed,omitempty"`    // meters per second
	Bearing   *float64  `json:"bearing,omitempty"`  // degrees
	Accuracy  *float64  `json:"accuracy,omitempty"` // meters
	Timestamp time.Time `json:"timestamp"`
}

// Validate reports whether the sample can be applied
func (s Sample) Validate() error {
	if !s.Point.IsValid() {
		return ErrInvalidSample
	}
	if s.Speed != nil && (math.IsNaN(*s.Speed) || math.IsInf(*s.Speed, 0) || *s.Speed < 0) {
		return ErrInvalidSample
	}
	return nil
}

// Locator performs a one-time current location fetch
type Locator interface {
	CurrentLocation(ctx context.Context) (geo.Point, error)
}

// Snapshot is everything the HUD draws, recomputed as a whole on every
// accepted sample. Consumers must treat it as read-only.
type Snapshot struct {
	Sequence  uint64    `json:"sequence"`
	UpdatedAt time.Time `json:"updated_at"`
	Status    Status    `json:"status"`
	Active    bool      `json:"active"`
	Error     string    `json:"error,omitempty"`
	Advisory  string    `json:"advisory,omitempty"`

	Position    *geo.Point `json:"position,omitempty"`
	Destination *geo.Point `json:"destination,omitempty"`
	Speed       float64    `json:"speed_kmh"`

	Direction          maneuver.Direction `json:"direction,omitempty"`
	Instruction        string             `json:"instruction,omitempty"`
	DistanceToManeuver float64            `json:"distance_to_maneuver"`
	StreetName         string             `json:"street_name,omitempty"`
	RemainingDistance  float64            `json:"remaining_distance"`
	RemainingDuration  time.Duration      `json:"remaining_duration"`
	Lanes              []route.Lane       `json:"lanes,omitempty"`
	LaneOpacity        float64            `json:"lane_opacity"`

	StepIndex     int  `json:"step_index"`
	StepCount     int  `json:"step_count"`
	Stale         bool `json:"stale"`
	Recalculating bool `json:"recalculating"`
}

// EventKind names a lifecycle event reported to observers
type EventKind string

const (
	EventStarted             EventKind = "started"
	EventStartFailed         EventKind = "start_failed"
	EventRecalculated        EventKind = "recalculated"
	EventRecalculationFailed EventKind = "recalculation_failed"
	EventStepAdvanced        EventKind = "step_advanced"
	EventStopped             EventKind = "stopped"
	EventSampleAccepted      EventKind = "sample_accepted"
	EventSampleRejected      EventKind = "sample_rejected"
	EventRouteDiscarded      EventKind = "route_discarded"
)

// Event is reported to observers from the engine's event loop
type Event struct {
	Kind          EventKind     `json:"kind"`
	Time          time.Time     `json:"time"`
	StepIndex     int           `json:"step_index"`
	Position      *geo.Point    `json:"position,omitempty"`
	Destination   *geo.Point    `json:"destination,omitempty"`
	RouteDistance float64       `json:"route_distance,omitempty"`
	RouteDuration time.Duration `json:"route_duration,omitempty"`
	Err           string        `json:"error,omitempty"`
}

// Observer receives engine events. It is called on the event loop and must not block.
type Observer func(Event)

// Options tune the engine
type Options struct {
	// AdvanceThreshold is the distance to maneuver, in meters, below which
	// the active step is considered complete.
	AdvanceThreshold float64
	LaneWindow       lanes.Window
	Profile          route.Profile
	Locator          Locator
	Observers        []Observer
	Now              func() time.Time
}

// DefaultOptions returns the stock tuning: 20 m advance threshold and an 80..300 m lane window
func DefaultOptions() Options {
	return Options{
		AdvanceThreshold: 20,
		LaneWindow:       lanes.DefaultWindow(),
		Profile:          route.ProfileCar,
		Now:              time.Now,
	}
}
