package consensus

import (
	"cmp"
	"math"
	"slices"

	"github.com/ftdcad/roofiq-learn-loop/internal/model"
)

// Waste factor components.
const (
	baseWaste          = 0.10
	manyFacetsWaste    = 0.05
	steepPitchWaste    = 0.03
	dormerWaste        = 0.02
	manyFacetsCount    = 6
	steepRisePerTwelve = 9
)

// MergeFacets pools facets from both estimators and groups them by type. A
// type with one facet passes through unchanged; larger groups collapse into a
// new facet with the mean area and confidence, the polygon and pitch of the
// first member in canonical order, and an ID from newID. Facets with a
// non-positive or non-finite area are dropped.
//
// When nothing survives, a single main facet covering area is returned. It is
// the one facet without an outline: its Polygon is empty (never nil), since
// neither estimator located any roof section. If area itself is not a usable
// facet area, ErrDegenerateFacets is returned.
func MergeFacets(a, b []model.Facet, area float64, newID func() string) ([]model.Facet, error) {
	groups := make(map[model.FacetType][]model.Facet)
	for _, list := range [][]model.Facet{a, b} {
		for _, f := range list {
			if !(f.Area > 0) || math.IsInf(f.Area, 0) {
				continue
			}
			groups[f.Type] = append(groups[f.Type], f)
		}
	}

	var out []model.Facet
	for _, t := range model.FacetTypes {
		members := groups[t]
		switch len(members) {
		case 0:
			continue
		case 1:
			out = append(out, cloneFacet(members[0]))
		default:
			out = append(out, mergeGroup(t, members, newID()))
		}
	}

	if len(out) > 0 {
		return out, nil
	}
	if !(area > 0) || math.IsInf(area, 0) {
		return nil, model.ErrDegenerateFacets
	}
	return []model.Facet{{
		ID:         newID(),
		Polygon:    []model.Point{},
		Area:       area,
		Pitch:      model.DefaultPitch,
		Type:       model.FacetMain,
		Confidence: placeholderConfidence,
	}}, nil
}

func mergeGroup(t model.FacetType, members []model.Facet, id string) model.Facet {
	sorted := slices.Clone(members)
	slices.SortFunc(sorted, compareFacets)

	var area, conf float64
	for _, f := range sorted {
		area += f.Area
		conf += f.Confidence
	}
	n := float64(len(sorted))
	first := sorted[0]

	return model.Facet{
		ID:         id,
		Polygon:    slices.Clone(first.Polygon),
		Area:       area / n,
		Pitch:      first.Pitch,
		Type:       t,
		Confidence: conf / n,
	}
}

// compareFacets orders facets largest first, then by the remaining fields so
// the order does not depend on which estimator produced a facet.
func compareFacets(x, y model.Facet) int {
	if c := cmp.Compare(y.Area, x.Area); c != 0 {
		return c
	}
	if c := cmp.Compare(y.Confidence, x.Confidence); c != 0 {
		return c
	}
	if c := cmp.Compare(x.ID, y.ID); c != 0 {
		return c
	}
	if c := cmp.Compare(x.Pitch.Slope(), y.Pitch.Slope()); c != 0 {
		return c
	}
	return slices.CompareFunc(x.Polygon, y.Polygon, func(p, q model.Point) int {
		if c := cmp.Compare(p.X, q.X); c != 0 {
			return c
		}
		return cmp.Compare(p.Y, q.Y)
	})
}

func cloneFacet(f model.Facet) model.Facet {
	f.Polygon = slices.Clone(f.Polygon)
	return f
}

// AreasByPitch sums facet areas per pitch.
func AreasByPitch(facets []model.Facet) map[string]float64 {
	out := make(map[string]float64, len(facets))
	for _, f := range facets {
		out[f.Pitch.String()] += f.Area
	}
	return out
}

// PredominantPitch returns the pitch covering the most area. Ties go to the
// steeper pitch. An empty map yields model.DefaultPitch.
func PredominantPitch(byPitch map[string]float64) model.Pitch {
	best, bestArea, found := model.DefaultPitch, 0.0, false
	keys := make([]string, 0, len(byPitch))
	for k := range byPitch {
		keys = append(keys, k)
	}
	slices.Sort(keys)

	for _, k := range keys {
		p, err := model.ParsePitch(k)
		if err != nil {
			continue
		}
		a := byPitch[k]
		if !found || a > bestArea || (a == bestArea && p.Slope() > best.Slope()) {
			best, bestArea, found = p, a, true
		}
	}
	return best
}

// WasteFactor is the material overage ratio for a merged roof. sourceFacets
// is the larger of the two estimators' facet counts, since merging collapses
// each facet type to one facet.
func WasteFactor(facets []model.Facet, predominant model.Pitch, sourceFacets int) float64 {
	w := baseWaste
	if sourceFacets > manyFacetsCount {
		w += manyFacetsWaste
	}
	if predominant.Slope()*12 >= steepRisePerTwelve {
		w += steepPitchWaste
	}
	for _, f := range facets {
		if f.Type == model.FacetDormer {
			w += dormerWaste
			break
		}
	}
	return w
}
