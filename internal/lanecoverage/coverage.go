// Package lanecoverage measures how much of a region's road network carries
// turn:lanes tagging, which is what lane guidance is built from.
package lanecoverage

import (
	"context"
	"errors"
	"io"
	"runtime"
	"sort"
	"strings"

	"github.com/paulmach/orb"
	"github.com/paulmach/osm"
	"github.com/qedus/osmpbf"
)

// Lane tags consulted, in order of preference
var laneKeys = []string{"turn:lanes", "turn:lanes:forward", "turn:lanes:backward"}

var drivable = map[string]bool{
	"motorway": true, "motorway_link": true,
	"trunk": true, "trunk_link": true,
	"primary": true, "primary_link": true,
	"secondary": true, "secondary_link": true,
	"tertiary": true, "tertiary_link": true,
	"unclassified": true,
	"residential":  true,
}

// HighwayStats counts ways of one highway class
type HighwayStats struct {
	Highway   string
	Ways      int
	WithLanes int
}

// Coverage returns the share of ways carrying lane tags, 0..1
func (h HighwayStats) Coverage() float64 {
	if h.Ways == 0 {
		return 0
	}
	return float64(h.WithLanes) / float64(h.Ways)
}

// Report summarises a scan
type Report struct {
	Ways      int
	WithLanes int
	// Lanes is the total number of lanes described by turn:lanes tags
	Lanes     int
	ByHighway map[string]*HighwayStats
}

// Coverage returns the share of drivable ways carrying lane tags, 0..1
func (r *Report) Coverage() float64 {
	if r.Ways == 0 {
		return 0
	}
	return float64(r.WithLanes) / float64(r.Ways)
}

// Highways returns per-class stats, busiest class first
func (r *Report) Highways() []HighwayStats {
	out := make([]HighwayStats, 0, len(r.ByHighway))
	for _, h := range r.ByHighway {
		out = append(out, *h)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Ways != out[j].Ways {
			return out[i].Ways > out[j].Ways
		}
		return out[i].Highway < out[j].Highway
	})
	return out
}

// Counter accumulates lane coverage for drivable ways touching a bound.
// Nodes must be added before the ways that reference them, which is the
// order PBF extracts are written in.
type Counter struct {
	bound  orb.Bound
	inside map[int64]struct{}
	report *Report
}

// NewCounter returns a counter restricted to bound
func NewCounter(bound orb.Bound) *Counter {
	return &Counter{
		bound:  bound,
		inside: make(map[int64]struct{}),
		report: &Report{ByHighway: make(map[string]*HighwayStats)},
	}
}

// Add consumes one decoded PBF entity; relations and unknown values are ignored
func (c *Counter) Add(v interface{}) {
	switch v := v.(type) {
	case *osmpbf.Node:
		if c.bound.Contains(orb.Point{v.Lon, v.Lat}) {
			c.inside[v.ID] = struct{}{}
		}
	case *osmpbf.Way:
		c.addWay(v)
	}
}

func (c *Counter) addWay(w *osmpbf.Way) {
	tags := Tags(w.Tags)
	highway := tags.Find("highway")
	if !drivable[highway] || !c.touches(w.NodeIDs) {
		return
	}

	stats, ok := c.report.ByHighway[highway]
	if !ok {
		stats = &HighwayStats{Highway: highway}
		c.report.ByHighway[highway] = stats
	}
	stats.Ways++
	c.report.Ways++

	if n := LaneCount(tags); n > 0 {
		stats.WithLanes++
		c.report.WithLanes++
		c.report.Lanes += n
	}
}

func (c *Counter) touches(ids []int64) bool {
	for _, id := range ids {
		if _, ok := c.inside[id]; ok {
			return true
		}
	}
	return false
}

// Report returns the accumulated counts
func (c *Counter) Report() *Report {
	return c.report
}

// Tags converts decoder tags to osm.Tags with a stable key order
func Tags(m map[string]string) osm.Tags {
	tags := make(osm.Tags, 0, len(m))
	for k, v := range m {
		tags = append(tags, osm.Tag{Key: k, Value: v})
	}
	sort.Slice(tags, func(i, j int) bool { return tags[i].Key < tags[j].Key })
	return tags
}

// LaneCount returns the number of lanes described by the way's turn:lanes
// tags. Forward and backward values are summed; zero means untagged.
func LaneCount(tags osm.Tags) int {
	if v := tags.Find(laneKeys[0]); v != "" {
		return len(strings.Split(v, "|"))
	}
	n := 0
	for _, key := range laneKeys[1:] {
		if v := tags.Find(key); v != "" {
			n += len(strings.Split(v, "|"))
		}
	}
	return n
}

// Scan decodes a PBF extract and counts lane coverage within bound
func Scan(ctx context.Context, r io.Reader, bound orb.Bound) (*Report, error) {
	decoder := osmpbf.NewDecoder(r)
	decoder.SetBufferSize(osmpbf.MaxBlobSize)
	if err := decoder.Start(runtime.GOMAXPROCS(-1)); err != nil {
		return nil, err
	}

	counter := NewCounter(bound)
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		v, err := decoder.Decode()
		if errors.Is(err, io.EOF) {
			return counter.Report(), nil
		}
		if err != nil {
			return nil, err
		}
		counter.Add(v)
	}
}
