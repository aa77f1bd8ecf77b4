// Package osrm implements a route provider backed by an OSRM routing server.
package osrm

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/paulmach/orb"

	"github.com/dpup/hud.ersn.net/client/internal/lib/geo"
	"github.com/dpup/hud.ersn.net/client/internal/lib/route"
)

// HTTPDoer executes HTTP requests. *http.Client satisfies it.
type HTTPDoer interface {
	Do(req *http.Request) (*http.Response, error)
}

// Client requests turn-by-turn routes from the OSRM HTTP API
type Client struct {
	baseURL    string
	httpClient HTTPDoer
}

// NewClient creates a new OSRM client for the server at baseURL
func NewClient(baseURL string) *Client {
	return NewClientWithHTTPDoer(baseURL, &http.Client{
		Timeout: 30 * time.Second,
	})
}

// NewClientWithHTTPDoer creates a client that sends requests through doer
func NewClientWithHTTPDoer(baseURL string, doer HTTPDoer) *Client {
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: doer,
	}
}

// Route fetches a route with steps, lanes and full polyline geometry
func (c *Client) Route(ctx context.Context, origin, destination geo.Point, profile route.Profile) (*route.Route, error) {
	if profile == "" {
		profile = route.ProfileCar
	}
	url := fmt.Sprintf("%s/route/v1/%s/%.6f,%.6f;%.6f,%.6f?steps=true&overview=full&geometries=polyline",
		c.baseURL, profile, origin.Longitude, origin.Latitude, destination.Longitude, destination.Latitude)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to execute request: %w", route.ErrTransport, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusTooManyRequests {
		return nil, fmt.Errorf("%w: rate limit exceeded", route.ErrTransport)
	}
	if resp.StatusCode >= 500 {
		body, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("%w: API error %d: %s", route.ErrTransport, resp.StatusCode, strings.TrimSpace(string(body)))
	}

	// OSRM reports NoRoute and friends as 400 with a JSON body.
	var response Response
	if err := json.NewDecoder(resp.Body).Decode(&response); err != nil {
		return nil, fmt.Errorf("%w: failed to decode response (HTTP %d): %w", route.ErrTransport, resp.StatusCode, err)
	}
	if response.Code != "Ok" {
		return nil, fmt.Errorf("%w: OSRM returned %s: %s", route.ErrUnavailable, response.Code, response.Message)
	}
	if len(response.Routes) == 0 {
		return nil, fmt.Errorf("%w: no routes found in response", route.ErrUnavailable)
	}

	return convertRoute(response.Routes[0])
}

// Response is the OSRM route service response
type Response struct {
	Code    string  `json:"code"`
	Message string  `json:"message,omitempty"`
	Routes  []Route `json:"routes"`
}

// Route is a single OSRM route
type Route struct {
	Distance float64 `json:"distance"`
	Duration float64 `json:"duration"`
	Geometry string  `json:"geometry"`
	Legs     []Leg   `json:"legs"`
}

// Leg is the route between two waypoints
type Leg struct {
	Distance float64 `json:"distance"`
	Duration float64 `json:"duration"`
	Steps    []Step  `json:"steps"`
}

// Step is an OSRM step. Its maneuver is performed at the start of the step.
type Step struct {
	Distance      float64        `json:"distance"`
	Duration      float64        `json:"duration"`
	Name          string         `json:"name"`
	Geometry      string         `json:"geometry"`
	Maneuver      Maneuver       `json:"maneuver"`
	Intersections []Intersection `json:"intersections"`
}

// Maneuver describes the action at the start of a step
type Maneuver struct {
	Type     string    `json:"type"`
	Modifier string    `json:"modifier,omitempty"`
	Location []float64 `json:"location"` // [lon, lat]
}

// Intersection is a decision point along a step
type Intersection struct {
	Location []float64 `json:"location"` // [lon, lat]
	Bearings []int     `json:"bearings"`
	In       *int      `json:"in,omitempty"`
	Out      *int      `json:"out,omitempty"`
	Lanes    []Lane    `json:"lanes,omitempty"`
}

// Lane is one lane at an intersection
type Lane struct {
	Indications []string `json:"indications"`
	Valid       *bool    `json:"valid,omitempty"`
}

func convertRoute(r Route) (*route.Route, error) {
	out := &route.Route{Source: "osrm"}

	if r.Geometry != "" {
		ls, err := decodeGeometry(r.Geometry)
		if err != nil {
			return nil, fmt.Errorf("%w: route geometry: %w", route.ErrTransport, err)
		}
		out.Geometry = ls
	}

	for _, leg := range r.Legs {
		converted, err := convertLeg(leg)
		if err != nil {
			return nil, err
		}
		out.Legs = append(out.Legs, converted)
	}
	return out, nil
}

// convertLeg shifts OSRM's layout so that step i carries the maneuver and
// intersections performed at its end (OSRM step i+1). The travel fields
// stay with step i. OSRM's trailing zero-length arrive step is folded into
// the step before it.
func convertLeg(leg Leg) (route.Leg, error) {
	var out route.Leg
	n := len(leg.Steps)

	for i, s := range leg.Steps {
		if i == n-1 && n > 1 && s.Maneuver.Type == "arrive" {
			break
		}

		step := route.Step{
			Distance: s.Distance,
			Duration: seconds(s.Duration),
			Name:     s.Name,
		}
		if s.Geometry != "" {
			ls, err := decodeGeometry(s.Geometry)
			if err != nil {
				return route.Leg{}, fmt.Errorf("%w: step %d geometry: %w", route.ErrTransport, i, err)
			}
			step.Geometry = ls
		}

		performed := s
		if i+1 < n {
			performed = leg.Steps[i+1]
		}
		step.Maneuver = convertManeuver(performed.Maneuver)
		step.Intersections = convertIntersections(performed.Intersections)

		out.Steps = append(out.Steps, step)
	}
	return out, nil
}

func convertManeuver(m Maneuver) route.Maneuver {
	out := route.Maneuver{Type: m.Type, Modifier: m.Modifier}
	if p, ok := lonLat(m.Location); ok {
		out.Location = &p
	}
	return out
}

func convertIntersections(in []Intersection) []route.Intersection {
	if len(in) == 0 {
		return nil
	}
	out := make([]route.Intersection, 0, len(in))
	for _, is := range in {
		p, _ := lonLat(is.Location)
		converted := route.Intersection{
			Location: p,
			Bearings: is.Bearings,
			In:       is.In,
			Out:      is.Out,
		}
		for _, lane := range is.Lanes {
			converted.Lanes = append(converted.Lanes, route.Lane{
				Indications: lane.Indications,
				Valid:       lane.Valid,
			})
		}
		out = append(out, converted)
	}
	return out
}

// lonLat converts an OSRM [lon, lat] pair
func lonLat(v []float64) (geo.Point, bool) {
	if len(v) < 2 {
		return geo.Point{}, false
	}
	p := geo.Point{Latitude: v[1], Longitude: v[0]}
	return p, p.IsValid()
}

func decodeGeometry(encoded string) (orb.LineString, error) {
	points, err := geo.DecodePolyline(encoded)
	if err != nil {
		return nil, err
	}
	return geo.ToLineString(points), nil
}

func seconds(s float64) time.Duration {
	return time.Duration(s * float64(time.Second))
}
