package property

import (
	"cmp"
	"context"
	"errors"
	"math"
	"slices"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"gonum.org/v1/gonum/stat"

	"github.com/ftdcad/roofiq-learn-loop/internal/consensus"
	"github.com/ftdcad/roofiq-learn-loop/internal/estimate"
	"github.com/ftdcad/roofiq-learn-loop/internal/model"
)

const (
	defaultRadiusMeters             = 30
	defaultNeighborhoodRadiusMeters = 250
	// minNeighbors is the fewest surrounding buildings worth summarising.
	minNeighbors      = 3
	maxCommonPitches  = 3
	unknownComplexity = 0.5
)

// Option configures a Provider.
type Option func(*Provider)

// WithRadius sets how far from the geocoded point the target building may
// lie, and how far out neighbors are collected.
func WithRadius(target, neighborhood int) Option {
	return func(p *Provider) {
		if target > 0 {
			p.radius = target
		}
		if neighborhood > 0 {
			p.neighborhoodRadius = neighborhood
		}
	}
}

// WithClock overrides the clock used for building ages.
func WithClock(now func() time.Time) Option {
	return func(p *Provider) {
		p.now = now
	}
}

// Provider composes footprint sources into building context. It implements
// consensus.ContextProvider.
type Provider struct {
	sources            []FootprintSource
	radius             int
	neighborhoodRadius int
	now                func() time.Time
}

// NewProvider creates a Provider that consults sources in order.
func NewProvider(sources []FootprintSource, opts ...Option) *Provider {
	p := &Provider{
		sources:            sources,
		radius:             defaultRadiusMeters,
		neighborhoodRadius: defaultNeighborhoodRadiusMeters,
		now:                time.Now,
	}
	for _, o := range opts {
		o(p)
	}
	return p
}

var _ consensus.ContextProvider = (*Provider)(nil)

// Lookup finds the building at coords. The first source that locates the
// building supplies the footprint, age, style and neighborhood; failing that,
// the first source with enough neighbors supplies the neighborhood alone.
// An error is returned only when every source fails. Zero coordinates
// mean the address was not located and yield no context.
func (p *Provider) Lookup(ctx context.Context, address string, coords estimate.Coordinates) (*consensus.BuildingContext, error) {
	if coords == (estimate.Coordinates{}) {
		return nil, nil
	}
	origin := model.Point{X: coords.Longitude, Y: coords.Latitude}
	searchRadius := max(p.radius, p.neighborhoodRadius)

	var errs []error
	var fallback *estimate.NeighborhoodContext
	for _, src := range p.sources {
		buildings, err := src.Buildings(ctx, coords, searchRadius)
		if err != nil {
			zap.L().Warn("property: footprint source failed",
				zap.String("source", src.Name()),
				zap.String("address", address),
				zap.Error(err),
			)
			errs = append(errs, err)
			continue
		}

		target, neighbors := p.pick(buildings, origin)
		nc := summarize(neighbors)
		if target == nil {
			if fallback == nil {
				fallback = nc
			}
			continue
		}

		bc := &consensus.BuildingContext{
			Footprint:          target.footprint(src.Name()),
			BuildingAge:        target.Age(p.now()),
			ArchitecturalStyle: target.Style(),
			Neighborhood:       nc,
		}
		zap.L().Debug("property: building located",
			zap.String("address", address),
			zap.String("source", src.Name()),
			zap.String("building", target.ID),
			zap.Float64("footprint_sqft", target.AreaSqFt),
			zap.Int("neighbors", len(neighbors)),
		)
		return bc, nil
	}

	if len(p.sources) > 0 && len(errs) == len(p.sources) {
		return nil, eris.Wrap(errors.Join(errs...), "property: all footprint sources failed")
	}
	return &consensus.BuildingContext{Neighborhood: fallback}, nil
}

// pick returns the building containing origin, or else the nearest one
// within the target radius, plus every other building.
func (p *Provider) pick(buildings []Building, origin model.Point) (*Building, []Building) {
	sorted := slices.Clone(buildings)
	slices.SortFunc(sorted, func(a, b Building) int { return cmp.Compare(a.ID, b.ID) })

	idx := slices.IndexFunc(sorted, func(b Building) bool { return ringContains(b.Ring, origin) })
	if idx < 0 {
		best := math.Inf(1)
		for i, b := range sorted {
			if d := distanceMeters(origin, b.Centroid()); d <= float64(p.radius) && d < best {
				idx, best = i, d
			}
		}
	}
	if idx < 0 {
		return nil, sorted
	}
	target := sorted[idx]
	return &target, slices.Delete(sorted, idx, idx+1)
}

// summarize describes the surrounding buildings: mean roof area (footprint
// scaled by the common pitch), the most common pitches and the mean roof
// shape complexity.
func summarize(neighbors []Building) *estimate.NeighborhoodContext {
	if len(neighbors) < minNeighbors {
		return nil
	}

	areas := make([]float64, 0, len(neighbors))
	pitchCounts := make(map[string]float64)
	var complexity []float64
	for _, b := range neighbors {
		areas = append(areas, b.AreaSqFt)
		if pitch, ok := b.Pitch(); ok {
			pitchCounts[pitch.String()]++
		}
		if c, ok := b.complexityScore(); ok {
			complexity = append(complexity, c)
		}
	}

	common := commonPitches(pitchCounts)
	predominant := consensus.PredominantPitch(pitchCounts)
	typical := unknownComplexity
	if len(complexity) > 0 {
		typical = stat.Mean(complexity, nil)
	}

	return &estimate.NeighborhoodContext{
		AverageRoofArea:   stat.Mean(areas, nil) * pitchFactor(predominant),
		CommonPitches:     common,
		TypicalComplexity: typical,
	}
}

// commonPitches lists up to three pitches by frequency, steeper first on ties.
func commonPitches(counts map[string]float64) []string {
	if len(counts) == 0 {
		return []string{model.DefaultPitch.String()}
	}
	type entry struct {
		pitch model.Pitch
		n     float64
	}
	entries := make([]entry, 0, len(counts))
	for k, n := range counts {
		p, err := model.ParsePitch(k)
		if err != nil {
			continue
		}
		entries = append(entries, entry{p, n})
	}
	slices.SortFunc(entries, func(a, b entry) int {
		if c := cmp.Compare(b.n, a.n); c != 0 {
			return c
		}
		return cmp.Compare(b.pitch.Slope(), a.pitch.Slope())
	})

	out := make([]string, 0, maxCommonPitches)
	for _, e := range entries {
		if len(out) == maxCommonPitches {
			break
		}
		out = append(out, e.pitch.String())
	}
	return out
}

// pitchFactor converts footprint area to sloped roof area.
func pitchFactor(p model.Pitch) float64 {
	s := p.Slope()
	return math.Sqrt(1 + s*s)
}
