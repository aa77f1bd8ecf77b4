package route

import (
	"context"
	"errors"
	"time"

	"github.com/paulmach/orb"

	"github.com/dpup/hud.ersn.net/client/internal/lib/geo"
)

var (
	// ErrUnavailable is returned when the provider answered but has no usable route.
	ErrUnavailable = errors.New("route unavailable")

	// ErrTransport is returned for network, timeout or HTTP failures talking to a provider.
	ErrTransport = errors.New("route provider transport error")
)

// Profile selects the routing profile requested from a provider
type Profile string

const (
	ProfileCar  Profile = "car"
	ProfileBike Profile = "bike"
	ProfileFoot Profile = "foot"
)

// Provider turns an origin/destination pair into a Route
type Provider interface {
	Route(ctx context.Context, origin, destination geo.Point, profile Profile) (*Route, error)
}

// ProviderFunc adapts a function to the Provider interface
type ProviderFunc func(ctx context.Context, origin, destination geo.Point, profile Profile) (*Route, error)

// Route calls f
func (f ProviderFunc) Route(ctx context.Context, origin, destination geo.Point, profile Profile) (*Route, error) {
	return f(ctx, origin, destination, profile)
}

// Route is an immutable, provider-supplied plan from origin to destination
type Route struct {
	Legs     []Leg          `json:"legs"`
	Geometry orb.LineString `json:"geometry,omitempty"`
	Source   string         `json:"source,omitempty"`
}

// Leg is an ordered run of steps between two waypoints
type Leg struct {
	Steps []Step `json:"steps"`
}

// Step is one maneuver segment. Distance and Duration cover the travel
// leading up to the maneuver, which is performed at Maneuver.Location.
type Step struct {
	Distance      float64        `json:"distance"` // meters
	Duration      time.Duration  `json:"duration"`
	Name          string         `json:"name"`
	Maneuver      Maneuver       `json:"maneuver"`
	Intersections []Intersection `json:"intersections,omitempty"`
	Geometry      orb.LineString `json:"geometry,omitempty"`
}

// Maneuver describes the driving action at the end of a step
type Maneuver struct {
	Type     string     `json:"type"`
	Modifier string     `json:"modifier,omitempty"`
	Location *geo.Point `json:"location,omitempty"` // nil when the provider omitted it
}

// Intersection is a decision point along a step
type Intersection struct {
	Location geo.Point `json:"location"`
	Bearings []int     `json:"bearings,omitempty"`
	In       *int      `json:"in,omitempty"`
	Out      *int      `json:"out,omitempty"`
	Lanes    []Lane    `json:"lanes,omitempty"` // physical left-to-right order
}

// Lane is one physical lane at an intersection
type Lane struct {
	Indications []string `json:"indications"`
	Valid       *bool    `json:"valid,omitempty"` // nil when the source did not say
}

// Distance returns the total route distance in meters
func (r *Route) Distance() float64 {
	var total float64
	for _, leg := range r.Legs {
		total += leg.Distance()
	}
	return total
}

// Duration returns the total route duration
func (r *Route) Duration() time.Duration {
	var total time.Duration
	for _, leg := range r.Legs {
		total += leg.Duration()
	}
	return total
}

// Distance returns the leg distance in meters
func (l Leg) Distance() float64 {
	var total float64
	for _, s := range l.Steps {
		total += s.Distance
	}
	return total
}

// Duration returns the leg duration
func (l Leg) Duration() time.Duration {
	var total time.Duration
	for _, s := range l.Steps {
		total += s.Duration
	}
	return total
}

// ActiveLeg returns the leg navigation runs on, or false when the route has none
func (r *Route) ActiveLeg() (Leg, bool) {
	if r == nil || len(r.Legs) == 0 {
		return Leg{}, false
	}
	return r.Legs[0], true
}

// BoolPtr returns a pointer to v
func BoolPtr(v bool) *bool { return &v }

// PointPtr returns a pointer to p
func PointPtr(p geo.Point) *geo.Point { return &p }
