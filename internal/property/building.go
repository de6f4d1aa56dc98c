// Package property looks up building context for an address: the footprint
// of the building at the geocoded point, its age and style, and a summary of
// the surrounding buildings.
package property

import (
	"context"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/ftdcad/roofiq-learn-loop/internal/estimate"
	"github.com/ftdcad/roofiq-learn-loop/internal/model"
)

// Building is one footprint returned by a FootprintSource.
type Building struct {
	ID       string
	Ring     []model.Point // lon/lat as x/y
	AreaSqFt float64
	Tags     map[string]string
}

// Centroid returns the building's vertex centroid.
func (b Building) Centroid() model.Point {
	return centroid(b.Ring)
}

// FootprintSource returns building footprints within radius meters of a point.
type FootprintSource interface {
	Name() string
	Buildings(ctx context.Context, at estimate.Coordinates, radiusMeters int) ([]Building, error)
}

// maxPlausibleAge bounds building ages derived from tags.
const maxPlausibleAge = 400

var yearKeys = []string{"start_date", "building:year", "year_built", "yearbuilt", "yr_built"}

// Age derives the building age in years at now from its tags.
func (b Building) Age(now time.Time) *int {
	for _, k := range yearKeys {
		v := strings.TrimSpace(b.Tags[k])
		if len(v) < 4 {
			continue
		}
		year, err := strconv.Atoi(v[:4])
		if err != nil {
			continue
		}
		age := now.Year() - year
		if age < 0 || age > maxPlausibleAge {
			continue
		}
		return &age
	}
	return nil
}

var styleKeys = []string{"building:architecture", "architecture", "style"}

// Style returns the architectural style tag, if any.
func (b Building) Style() string {
	for _, k := range styleKeys {
		if v := strings.TrimSpace(b.Tags[k]); v != "" {
			return strings.ToLower(v)
		}
	}
	return ""
}

// Pitch derives the roof pitch from roof:angle (degrees) or roof:pitch
// ("6/12"). ok is false when neither tag is usable.
func (b Building) Pitch() (model.Pitch, bool) {
	if v := strings.TrimSpace(b.Tags["roof:pitch"]); v != "" {
		if p, err := model.ParsePitch(v); err == nil {
			return p, true
		}
	}
	if v := strings.TrimSpace(b.Tags["roof:angle"]); v != "" {
		deg, err := strconv.ParseFloat(v, 64)
		if err == nil && deg >= 0 && deg < 80 {
			rise := int(math.Round(12 * math.Tan(deg*math.Pi/180)))
			return model.Pitch{Rise: rise, Run: 12}, true
		}
	}
	if b.Tags["roof:shape"] == "flat" {
		return model.Pitch{Rise: 0, Run: 12}, true
	}
	return model.Pitch{}, false
}

// complexRoofShapes are roof:shape values with more than two planes.
var complexRoofShapes = map[string]bool{
	"hipped":          true,
	"half-hipped":     true,
	"side_hipped":     true,
	"gambrel":         true,
	"mansard":         true,
	"pyramidal":       true,
	"cross_gabled":    true,
	"dome":            true,
	"onion":           true,
	"round":           true,
	"saltbox":         true,
	"many":            true,
}

// complexityScore maps roof:shape onto a 0-1 complexity. Unknown shapes
// score ok=false.
func (b Building) complexityScore() (float64, bool) {
	shape := strings.ToLower(strings.TrimSpace(b.Tags["roof:shape"]))
	switch {
	case shape == "":
		return 0, false
	case shape == "flat":
		return 0.1, true
	case shape == "gabled" || shape == "skillion":
		return 0.3, true
	case complexRoofShapes[shape]:
		return 0.8, true
	default:
		return 0.5, true
	}
}

func (b Building) footprint(source string) *estimate.Footprint {
	ring := make([]model.Point, len(b.Ring))
	copy(ring, b.Ring)
	return &estimate.Footprint{Polygon: ring, AreaSqFt: b.AreaSqFt, Source: source}
}
