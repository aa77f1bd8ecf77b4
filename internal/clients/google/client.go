// Package google implements a route provider backed by the Google Directions API.
package google

import (
	"context"
	"fmt"
	"html"
	"regexp"
	"strings"

	"googlemaps.github.io/maps"

	"github.com/dpup/hud.ersn.net/client/internal/lib/geo"
	"github.com/dpup/hud.ersn.net/client/internal/lib/route"
)

// Client provides turn-by-turn routes from Google Directions. Google does
// not publish lane data, so lane guidance stays hidden for these routes.
type Client struct {
	maps *maps.Client
}

// NewClient creates a new Google Directions client. Extra options are passed
// to the underlying maps client (tests use maps.WithBaseURL).
func NewClient(apiKey string, opts ...maps.ClientOption) (*Client, error) {
	opts = append([]maps.ClientOption{maps.WithAPIKey(apiKey)}, opts...)
	c, err := maps.NewClient(opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create maps client: %w", err)
	}
	return &Client{maps: c}, nil
}

// Route requests directions between two coordinates
func (c *Client) Route(ctx context.Context, origin, destination geo.Point, profile route.Profile) (*route.Route, error) {
	req := &maps.DirectionsRequest{
		Origin:      fmt.Sprintf("%f,%f", origin.Latitude, origin.Longitude),
		Destination: fmt.Sprintf("%f,%f", destination.Latitude, destination.Longitude),
		Mode:        travelMode(profile),
	}

	routes, _, err := c.maps.Directions(ctx, req)
	if err != nil {
		if isNotFound(err) {
			return nil, fmt.Errorf("%w: %w", route.ErrUnavailable, err)
		}
		return nil, fmt.Errorf("%w: directions request failed: %w", route.ErrTransport, err)
	}
	if len(routes) == 0 {
		return nil, fmt.Errorf("%w: no routes found in response", route.ErrUnavailable)
	}

	return convertRoute(routes[0])
}

func travelMode(profile route.Profile) maps.Mode {
	switch profile {
	case route.ProfileBike:
		return maps.TravelModeBicycling
	case route.ProfileFoot:
		return maps.TravelModeWalking
	default:
		return maps.TravelModeDriving
	}
}

func isNotFound(err error) bool {
	msg := err.Error()
	return strings.Contains(msg, "NOT_FOUND") || strings.Contains(msg, "ZERO_RESULTS")
}

func convertRoute(r maps.Route) (*route.Route, error) {
	out := &route.Route{Source: "google"}

	if r.OverviewPolyline.Points != "" {
		points, err := geo.DecodePolyline(r.OverviewPolyline.Points)
		if err != nil {
			return nil, fmt.Errorf("%w: overview polyline: %w", route.ErrTransport, err)
		}
		out.Geometry = geo.ToLineString(points)
	}

	for _, leg := range r.Legs {
		if leg == nil {
			continue
		}
		converted, err := convertLeg(leg)
		if err != nil {
			return nil, err
		}
		out.Legs = append(out.Legs, converted)
	}
	return out, nil
}

// convertLeg moves each step's maneuver onto the step before it, matching
// the layout where a step ends at the maneuver it describes. The final step
// arrives at the leg's end location.
func convertLeg(leg *maps.Leg) (route.Leg, error) {
	var out route.Leg
	for i, s := range leg.Steps {
		step := route.Step{
			Distance: float64(s.Meters),
			Duration: s.Duration,
			Name:     StreetName(s.HTMLInstructions),
		}
		if s.Points != "" {
			points, err := geo.DecodePolyline(s.Points)
			if err != nil {
				return route.Leg{}, fmt.Errorf("%w: step %d polyline: %w", route.ErrTransport, i, err)
			}
			step.Geometry = geo.ToLineString(points)
		}

		if i+1 < len(leg.Steps) {
			next := leg.Steps[i+1]
			typ, modifier := ParseInstruction(next.HTMLInstructions)
			step.Maneuver = route.Maneuver{Type: typ, Modifier: modifier, Location: latLng(next.StartLocation)}
		} else {
			step.Maneuver = route.Maneuver{Type: "arrive", Location: latLng(leg.EndLocation)}
		}
		out.Steps = append(out.Steps, step)
	}
	return out, nil
}

func latLng(ll maps.LatLng) *geo.Point {
	p := geo.Point{Latitude: ll.Lat, Longitude: ll.Lng}
	if !p.IsValid() {
		return nil
	}
	return &p
}

var (
	tagPattern    = regexp.MustCompile(`<[^>]*>`)
	streetPattern = regexp.MustCompile(`(?:onto|on) <b>([^<]+)</b>`)
)

// StripHTML removes tags from an HTML instruction and unescapes entities
func StripHTML(s string) string {
	// Block elements start a new sentence.
	s = strings.ReplaceAll(s, "<div", " <div")
	s = tagPattern.ReplaceAllString(s, "")
	return strings.Join(strings.Fields(html.UnescapeString(s)), " ")
}

// StreetName extracts the road a step travels on from its HTML instruction
func StreetName(instruction string) string {
	m := streetPattern.FindStringSubmatch(instruction)
	if m == nil {
		return ""
	}
	return html.UnescapeString(m[1])
}

// ParseInstruction derives a maneuver type and modifier from a Directions
// HTML instruction
func ParseInstruction(instruction string) (string, string) {
	text := strings.ToLower(StripHTML(instruction))
	side := func() string {
		switch {
		case strings.Contains(text, "left"):
			return "left"
		case strings.Contains(text, "right"):
			return "right"
		}
		return ""
	}

	switch {
	case strings.Contains(text, "u-turn"):
		return "turn", "uturn"
	case strings.HasPrefix(text, "head"):
		return "depart", ""
	case strings.Contains(text, "roundabout"), strings.Contains(text, "traffic circle"):
		return "roundabout", ""
	case strings.Contains(text, "sharp left"), strings.Contains(text, "sharp right"):
		return "turn", "sharp " + side()
	case strings.Contains(text, "slight left"), strings.Contains(text, "slight right"):
		return "turn", "slight " + side()
	case strings.HasPrefix(text, "keep"):
		if s := side(); s != "" {
			return "fork", "slight " + s
		}
		return "fork", ""
	case strings.Contains(text, "take the exit"), strings.Contains(text, "take exit"):
		if s := side(); s != "" {
			return "off ramp", "slight " + s
		}
		return "off ramp", ""
	case strings.Contains(text, "ramp"):
		return "on ramp", side()
	case strings.HasPrefix(text, "merge"):
		return "merge", side()
	case strings.HasPrefix(text, "turn"):
		return "turn", side()
	case strings.HasPrefix(text, "continue"), strings.Contains(text, "straight"):
		return "continue", "straight"
	}
	return "new name", ""
}
