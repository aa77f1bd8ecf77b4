// Package export renders routes for inspection in GIS tools.
package export

import (
	"fmt"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"
	"github.com/twpayne/go-kml"

	"github.com/dpup/hud.ersn.net/client/internal/lib/maneuver"
	"github.com/dpup/hud.ersn.net/client/internal/lib/route"
)

// KML renders the route as a document with the overview line and one
// placemark per maneuver
func KML(r *route.Route, name string) *kml.CompoundElement {
	doc := kml.Document(kml.Name(name))

	if len(r.Geometry) > 0 {
		doc.Add(kml.Placemark(
			kml.Name("Route"),
			kml.Description(fmt.Sprintf("%s, %s",
				maneuver.FormatDistance(r.Distance()), maneuver.FormatDuration(r.Duration()))),
			kml.LineString(kml.Coordinates(coordinates(r.Geometry)...)),
		))
	}

	leg, ok := r.ActiveLeg()
	if !ok {
		return kml.KML(doc)
	}
	for i, step := range leg.Steps {
		if step.Maneuver.Location == nil {
			continue
		}
		loc := step.Maneuver.Location
		doc.Add(kml.Placemark(
			kml.Name(fmt.Sprintf("%d. %s", i+1, stepInstruction(step))),
			kml.Description(fmt.Sprintf("%s on %s", maneuver.FormatDistance(step.Distance), streetOrUnnamed(step.Name))),
			kml.Point(kml.Coordinates(kml.Coordinate{Lon: loc.Longitude, Lat: loc.Latitude})),
		))
	}
	return kml.KML(doc)
}

// GeoJSON renders the route as a feature collection: the overview line
// followed by one point feature per maneuver
func GeoJSON(r *route.Route) *geojson.FeatureCollection {
	fc := geojson.NewFeatureCollection()

	if len(r.Geometry) > 0 {
		f := geojson.NewFeature(r.Geometry)
		f.Properties["kind"] = "route"
		f.Properties["source"] = r.Source
		f.Properties["distance_m"] = r.Distance()
		f.Properties["duration_s"] = r.Duration().Seconds()
		fc.Append(f)
	}

	leg, ok := r.ActiveLeg()
	if !ok {
		return fc
	}
	for i, step := range leg.Steps {
		if step.Maneuver.Location == nil {
			continue
		}
		f := geojson.NewFeature(step.Maneuver.Location.ToOrb())
		f.Properties["kind"] = "maneuver"
		f.Properties["step"] = i
		f.Properties["instruction"] = stepInstruction(step)
		f.Properties["direction"] = string(maneuver.Classify(step.Maneuver.Type, step.Maneuver.Modifier))
		f.Properties["street"] = step.Name
		f.Properties["distance_m"] = step.Distance
		if lanes := laneSummary(step); lanes != "" {
			f.Properties["lanes"] = lanes
		}
		fc.Append(f)
	}
	return fc
}

func coordinates(ls orb.LineString) []kml.Coordinate {
	out := make([]kml.Coordinate, 0, len(ls))
	for _, p := range ls {
		out = append(out, kml.Coordinate{Lon: p.Lon(), Lat: p.Lat()})
	}
	return out
}

func stepInstruction(step route.Step) string {
	return maneuver.Instruction(step.Maneuver.Type, step.Maneuver.Modifier)
}

func streetOrUnnamed(name string) string {
	if name == "" {
		return "unnamed road"
	}
	return name
}

// laneSummary renders the first intersection's lanes as arrows, with
// non-valid lanes in parentheses
func laneSummary(step route.Step) string {
	if len(step.Intersections) == 0 {
		return ""
	}
	s := ""
	for _, lane := range step.Intersections[0].Lanes {
		indication := "none"
		if len(lane.Indications) > 0 {
			indication = lane.Indications[0]
		}
		arrow := maneuver.LaneArrow(indication)
		if lane.Valid != nil && !*lane.Valid {
			arrow = "(" + arrow + ")"
		}
		s += arrow
	}
	return s
}
