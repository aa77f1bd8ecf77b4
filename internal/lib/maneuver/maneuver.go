// Package maneuver maps route provider maneuver vocabulary onto the closed
// set of turn directions the HUD can draw.
package maneuver

import (
	"fmt"
	"math"
	"strings"
	"time"
)

// Direction is a display-facing turn direction
type Direction string

const (
	Left        Direction = "left"
	Right       Direction = "right"
	Straight    Direction = "straight"
	SlightLeft  Direction = "slight-left"
	SlightRight Direction = "slight-right"
	SharpLeft   Direction = "sharp-left"
	SharpRight  Direction = "sharp-right"
	UTurn       Direction = "u-turn"
)

// Directions lists every Direction Classify can return
var Directions = []Direction{Left, Right, Straight, SlightLeft, SlightRight, SharpLeft, SharpRight, UTurn}

var modifierDirections = map[string]Direction{
	"sharp left":   SharpLeft,
	"sharp right":  SharpRight,
	"slight left":  SlightLeft,
	"slight right": SlightRight,
	"left":         Left,
	"right":        Right,
}

// Classify maps a maneuver type and modifier to a Direction. It is total:
// a u-turn modifier wins, then an exact modifier match, and everything else
// (including a missing modifier) is Straight.
func Classify(maneuverType, modifier string) Direction {
	if modifier == "uturn" || modifier == "u-turn" {
		return UTurn
	}
	if d, ok := modifierDirections[modifier]; ok {
		return d
	}
	return Straight
}

// Arrow returns the glyph drawn for the direction
func (d Direction) Arrow() string {
	switch d {
	case Left:
		return "←"
	case Right:
		return "→"
	case SlightLeft:
		return "↖"
	case SlightRight:
		return "↗"
	case SharpLeft:
		return "↰"
	case SharpRight:
		return "↱"
	case UTurn:
		return "↶"
	default:
		return "↑"
	}
}

// LaneArrow returns the glyph for a single lane indication tag
func LaneArrow(indication string) string {
	switch strings.ReplaceAll(indication, " ", "_") {
	case "left":
		return "←"
	case "right":
		return "→"
	case "straight":
		return "↑"
	case "slight_left":
		return "↖"
	case "slight_right":
		return "↗"
	case "sharp_left":
		return "↰"
	case "sharp_right":
		return "↱"
	case "uturn":
		return "↶"
	case "none":
		return "•"
	default:
		return "↑"
	}
}

// Instruction returns a short spoken/written instruction for the maneuver
func Instruction(maneuverType, modifier string) string {
	switch maneuverType {
	case "depart":
		return "Start"
	case "arrive":
		return "Arrive"
	case "new name", "continue":
		return "Continue"
	case "merge":
		return strings.TrimSpace("Merge " + modifier)
	case "on ramp":
		return "Take ramp"
	case "off ramp":
		return "Exit"
	case "roundabout", "roundabout turn":
		return "Enter roundabout"
	case "rotary":
		return "Enter rotary"
	case "turn":
		if modifier != "" {
			return "Turn " + modifier
		}
	case "fork":
		if modifier != "" {
			return "Fork " + modifier
		}
	case "end of road":
		if modifier != "" {
			return "At end, turn " + modifier
		}
	}
	return "Continue"
}

// FormatDistance formats meters as "120 m" below one kilometer and "1.4 km" above
func FormatDistance(meters float64) string {
	if meters < 1000 {
		return fmt.Sprintf("%d m", int(math.Round(meters)))
	}
	return fmt.Sprintf("%.1f km", meters/1000)
}

// FormatDuration formats a duration as "12 min" or "1h 5m"
func FormatDuration(d time.Duration) string {
	minutes := int(math.Round(d.Minutes()))
	if minutes < 60 {
		return fmt.Sprintf("%d min", minutes)
	}
	return fmt.Sprintf("%dh %dm", minutes/60, minutes%60)
}
