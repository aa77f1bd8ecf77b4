// Package lanes decides when lane guidance is shown and for which lanes.
package lanes

import (
	"github.com/dpup/hud.ersn.net/client/internal/lib/route"
)

const (
	DefaultMinDistance = 80.0  // meters
	DefaultMaxDistance = 300.0 // meters
)

// Window is the distance-to-maneuver range, inclusive, in which guidance is shown
type Window struct {
	Min float64 `koanf:"min" json:"min"`
	Max float64 `koanf:"max" json:"max"`
}

// DefaultWindow returns the 80..300 m display window
func DefaultWindow() Window {
	return Window{Min: DefaultMinDistance, Max: DefaultMaxDistance}
}

// Contains reports whether distance falls within the window
func (w Window) Contains(distance float64) bool {
	return distance >= w.Min && distance <= w.Max
}

// Filter returns the lanes to show for step at the given distance to its
// maneuver, or nil when guidance should be hidden. Lanes come back in their
// original left-to-right order.
func (w Window) Filter(step route.Step, distanceToManeuver float64) []route.Lane {
	if !w.Contains(distanceToManeuver) {
		return nil
	}
	if len(step.Intersections) == 0 {
		return nil
	}

	lanes := step.Intersections[0].Lanes
	if len(lanes) < 2 {
		return nil
	}
	for _, lane := range lanes {
		// Incomplete data would draw misleading arrows.
		if lane.Valid == nil {
			return nil
		}
	}

	out := make([]route.Lane, len(lanes))
	for i, lane := range lanes {
		valid := *lane.Valid
		out[i] = route.Lane{
			Indications: append([]string(nil), lane.Indications...),
			Valid:       &valid,
		}
	}
	return out
}

// Opacity returns the display fade for the given distance: fully opaque at or
// inside Min, fading linearly to transparent at Max.
func (w Window) Opacity(distanceToManeuver float64) float64 {
	if distanceToManeuver <= w.Min {
		return 1
	}
	span := w.Max - w.Min
	if span <= 0 {
		return 1
	}
	o := (w.Max - distanceToManeuver) / span
	switch {
	case o < 0:
		return 0
	case o > 1:
		return 1
	}
	return o
}

// Filter applies the default window
func Filter(step route.Step, distanceToManeuver float64) []route.Lane {
	return DefaultWindow().Filter(step, distanceToManeuver)
}
