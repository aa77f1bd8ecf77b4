package geo

import (
	"errors"
	"fmt"
	"math"

	"github.com/paulmach/orb"
	"github.com/twpayne/go-polyline"
)

// EarthRadius is the mean Earth radius in meters used for all great-circle math.
const EarthRadius = 6371000.0

// Point represents a WGS-84 coordinate in degrees
type Point struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
}

// String formats the point as "lat,lon" with 6 decimals
func (p Point) String() string {
	return fmt.Sprintf("%.6f,%.6f", p.Latitude, p.Longitude)
}

// IsValid reports whether the point is a finite coordinate within
// latitude [-90, 90] and longitude [-180, 180]
func (p Point) IsValid() bool {
	if math.IsNaN(p.Latitude) || math.IsNaN(p.Longitude) ||
		math.IsInf(p.Latitude, 0) || math.IsInf(p.Longitude, 0) {
		return false
	}
	return p.Latitude >= -90 && p.Latitude <= 90 &&
		p.Longitude >= -180 && p.Longitude <= 180
}

// NewPoint creates a Point from latitude and longitude values with validation
func NewPoint(latitude, longitude float64) (Point, error) {
	point := Point{Latitude: latitude, Longitude: longitude}
	if !point.IsValid() {
		return Point{}, errors.New("invalid coordinates: latitude must be [-90, 90], longitude must be [-180, 180]")
	}
	return point, nil
}

// Distance returns the great-circle distance between two points in meters
// using the haversine formula. It is symmetric and returns 0 for equal points.
func Distance(a, b Point) float64 {
	if a == b {
		return 0
	}

	lat1 := toRadians(a.Latitude)
	lat2 := toRadians(b.Latitude)
	dlat := lat2 - lat1
	dlon := toRadians(b.Longitude - a.Longitude)

	h := math.Sin(dlat/2)*math.Sin(dlat/2) +
		math.Cos(lat1)*math.Cos(lat2)*math.Sin(dlon/2)*math.Sin(dlon/2)
	// Rounding can push h a hair past 1 for antipodal points.
	h = math.Min(1, math.Max(0, h))
	c := 2 * math.Atan2(math.Sqrt(h), math.Sqrt(1-h))

	return EarthRadius * c
}

// Bearing returns the initial bearing from a to b in degrees [0, 360)
func Bearing(a, b Point) float64 {
	lat1 := toRadians(a.Latitude)
	lat2 := toRadians(b.Latitude)
	dlon := toRadians(b.Longitude - a.Longitude)

	y := math.Sin(dlon) * math.Cos(lat2)
	x := math.Cos(lat1)*math.Sin(lat2) - math.Sin(lat1)*math.Cos(lat2)*math.Cos(dlon)
	deg := math.Atan2(y, x) * 180 / math.Pi
	return math.Mod(deg+360, 360)
}

// PointToPolyline calculates minimum distance from point to a polyline in meters
func PointToPolyline(point Point, line []Point) (float64, error) {
	if !point.IsValid() {
		return 0, errors.New("invalid point coordinates")
	}

	switch len(line) {
	case 0:
		return 0, errors.New("polyline has no points")
	case 1:
		return Distance(point, line[0]), nil
	}

	minDistance := math.Inf(1)
	for i := 0; i < len(line)-1; i++ {
		d := pointToSegmentDistance(point, line[i], line[i+1])
		if d < minDistance {
			minDistance = d
		}
	}
	return minDistance, nil
}

// pointToSegmentDistance approximates the distance from point to a great
// circle segment using cross-track and along-track distances
func pointToSegmentDistance(point, start, end Point) float64 {
	if start == end {
		return Distance(point, start)
	}

	distanceToStart := Distance(point, start)
	distanceToEnd := Distance(point, end)
	segmentLength := Distance(start, end)

	if segmentLength < 1 {
		return math.Min(distanceToStart, distanceToEnd)
	}

	d13 := distanceToStart / EarthRadius
	bearing12 := toRadians(Bearing(start, end))
	bearing13 := toRadians(Bearing(start, point))

	dxt := math.Asin(math.Sin(d13) * math.Sin(bearing13-bearing12))
	crossTrack := math.Abs(dxt) * EarthRadius

	// Projection falls before the segment start.
	if math.Cos(bearing13-bearing12) < 0 {
		return distanceToStart
	}

	alongTrack := math.Acos(math.Min(1, math.Cos(d13)/math.Cos(dxt))) * EarthRadius
	if alongTrack > segmentLength {
		return distanceToEnd
	}

	return crossTrack
}

// DecodePolyline decodes a Google/OSRM encoded polyline (precision 5)
func DecodePolyline(encoded string) ([]Point, error) {
	if encoded == "" {
		return nil, errors.New("encoded polyline string is empty")
	}

	coords, _, err := polyline.DecodeCoords([]byte(encoded))
	if err != nil {
		return nil, fmt.Errorf("failed to decode polyline: %w", err)
	}

	points := make([]Point, len(coords))
	for i, coord := range coords {
		points[i] = Point{Latitude: coord[0], Longitude: coord[1]}
		if !points[i].IsValid() {
			return nil, errors.New("decoded polyline contains invalid coordinates")
		}
	}
	return points, nil
}

// EncodePolyline encodes points to a precision 5 polyline string
func EncodePolyline(points []Point) string {
	coords := make([][]float64, len(points))
	for i, p := range points {
		coords[i] = []float64{p.Latitude, p.Longitude}
	}
	return string(polyline.EncodeCoords(coords))
}

// Orb conversions. orb stores [lon, lat].

// ToOrb converts a Point to an orb.Point
func (p Point) ToOrb() orb.Point {
	return orb.Point{p.Longitude, p.Latitude}
}

// FromOrb converts an orb.Point to a Point
func FromOrb(p orb.Point) Point {
	return Point{Latitude: p[1], Longitude: p[0]}
}

// ToLineString converts points to an orb.LineString
func ToLineString(points []Point) orb.LineString {
	ls := make(orb.LineString, len(points))
	for i, p := range points {
		ls[i] = p.ToOrb()
	}
	return ls
}

// FromLineString converts an orb.LineString to points
func FromLineString(ls orb.LineString) []Point {
	points := make([]Point, len(ls))
	for i, p := range ls {
		points[i] = FromOrb(p)
	}
	return points
}

func toRadians(deg float64) float64 {
	return deg * math.Pi / 180
}
