package estimate

import (
	"context"
	"fmt"
	"math"
	"time"

	"go.uber.org/zap"

	"github.com/ftdcad/roofiq-learn-loop/internal/model"
)

// Geometry uncertainty penalties.
const (
	geometryNoFootprintPenalty    = 0.2
	geometryNoAgePenalty          = 0.1
	geometryOldBuildingPenalty    = 0.15
	geometryNoStylePenalty        = 0.1
	geometryNoNeighborhoodPenalty = 0.15
	geometryOutlierPenalty        = 0.2
	geometryComplexityPenalty     = 0.25

	geometryBaseConfidence  = 0.85
	geometryMinConfidence   = 0.4
	geometryMaxRangeFrac    = 0.3
	geometryVerifyThreshold = 0.4

	oldBuildingYear = 1950
)

// GeometryInput is the input to GeometryEstimator. Any lookup field may be
// absent.
type GeometryInput struct {
	Address             string
	FootprintData       *Footprint
	BuildingAge         *int // construction year
	ArchitecturalStyle  string
	NeighborhoodContext *NeighborhoodContext
}

// GeometryEstimator wraps the structural-analysis backend and applies
// building-context adjustments.
type GeometryEstimator struct {
	backend StructuralBackend
	styles  StyleRules
}

// GeometryOption configures a GeometryEstimator.
type GeometryOption func(*GeometryEstimator)

// WithStyleRules replaces the built-in style rules.
func WithStyleRules(rules StyleRules) GeometryOption {
	return func(e *GeometryEstimator) {
		if len(rules) > 0 {
			e.styles = rules
		}
	}
}

// NewGeometryEstimator creates a GeometryEstimator.
func NewGeometryEstimator(backend StructuralBackend, opts ...GeometryOption) *GeometryEstimator {
	e := &GeometryEstimator{backend: backend, styles: DefaultStyleRules()}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Estimate calls the structural backend and derives a model.Estimate.
func (e *GeometryEstimator) Estimate(ctx context.Context, in GeometryInput) (*model.Estimate, error) {
	start := time.Now()

	resp, err := e.backend.AnalyzeStructure(ctx, StructuralRequest{
		Address:       in.Address,
		FootprintData: in.FootprintData,
		BuildingContext: BuildingContext{
			BuildingAge:         in.BuildingAge,
			ArchitecturalStyle:  in.ArchitecturalStyle,
			NeighborhoodContext: in.NeighborhoodContext,
		},
	})
	if err != nil {
		return nil, asBackendError(StructuralBackendName, err)
	}
	p, err := parseResponse(StructuralBackendName, resp)
	if err != nil {
		return nil, err
	}

	deviation, hasNeighborhood := neighborhoodDeviation(in.NeighborhoodContext, p.totalArea)
	uncertainty := geometryUncertainty(in, p, deviation, hasNeighborhood)
	confidence := geometryConfidence(in, p, deviation, hasNeighborhood)
	measurements, styled := e.styles.Apply(in.ArchitecturalStyle, p.measurements)

	est := &model.Estimate{
		Estimate:         p.totalArea,
		Facets:           adjustGeometryFacets(p.facets),
		Measurements:     measurements,
		Confidence:       confidence,
		Uncertainty:      uncertainty,
		ComplexityScore:  p.complexity,
		Reasoning:        geometryReasoning(in, p, deviation, hasNeighborhood, styled, confidence),
		ModelVersion:     p.modelVersion,
		ProcessingTimeMs: time.Since(start).Milliseconds(),
	}

	zap.L().Debug("estimate: geometry computed",
		zap.String("address", in.Address),
		zap.Float64("area", est.Estimate),
		zap.Int("facets", len(est.Facets)),
		zap.Bool("style_rule", styled),
		zap.Float64("confidence", confidence),
		zap.Float64("variance", uncertainty.Variance),
	)

	return est, nil
}

// neighborhoodDeviation returns |area - avg| / avg when a usable
// neighborhood average exists.
func neighborhoodDeviation(nc *NeighborhoodContext, area float64) (float64, bool) {
	if nc == nil || nc.AverageRoofArea <= 0 {
		return 0, false
	}
	return math.Abs(area-nc.AverageRoofArea) / nc.AverageRoofArea, true
}

func geometryUncertainty(in GeometryInput, p *parsed, deviation float64, hasNeighborhood bool) model.UncertaintyAnalysis {
	var variance float64
	var risks []string

	if in.FootprintData == nil {
		variance += geometryNoFootprintPenalty
		risks = append(risks, "No building footprint data")
	}
	switch {
	case in.BuildingAge == nil:
		variance += geometryNoAgePenalty
		risks = append(risks, "Building age unknown")
	case *in.BuildingAge < oldBuildingYear:
		variance += geometryOldBuildingPenalty
		risks = append(risks, fmt.Sprintf("Pre-%d construction", oldBuildingYear))
	}
	if in.ArchitecturalStyle == "" {
		variance += geometryNoStylePenalty
		risks = append(risks, "Architectural style unknown")
	}
	switch {
	case !hasNeighborhood:
		variance += geometryNoNeighborhoodPenalty
		risks = append(risks, "No neighborhood comparison available")
	case deviation > 0.5:
		variance += geometryOutlierPenalty
		risks = append(risks, "Area deviates more than 50% from neighborhood average")
	}
	if p.complexity > 0.8 {
		variance += geometryComplexityPenalty
		risks = append(risks, "High structural complexity")
	}

	return model.UncertaintyAnalysis{
		Variance:          variance,
		ConfidenceRange:   boundedRange(p.totalArea, variance, geometryMaxRangeFrac),
		RiskFactors:       risks,
		NeedsVerification: variance > geometryVerifyThreshold,
	}
}

func geometryConfidence(in GeometryInput, p *parsed, deviation float64, hasNeighborhood bool) float64 {
	c := geometryBaseConfidence
	if in.FootprintData != nil {
		c *= 1.1
	} else {
		c *= 0.8
	}
	if in.BuildingAge != nil {
		c *= 1.05
	}
	if in.ArchitecturalStyle != "" {
		c *= 1.05
	}
	if hasNeighborhood {
		switch {
		case deviation <= 0.2:
			c *= 1.1
		case deviation > 0.5:
			c *= 0.8
		}
	}
	if p.complexity < 0.5 {
		c *= 1.05
	}
	return clamp(c, geometryMinConfidence, 1.0)
}

// adjustGeometryFacets returns new facets. Large main facets are well
// constrained by the footprint; unusually large dormers are suspicious.
func adjustGeometryFacets(facets []model.Facet) []model.Facet {
	out := make([]model.Facet, len(facets))
	for i, f := range facets {
		switch {
		case f.Type == model.FacetMain && f.Area > 800:
			f.Confidence = min(f.Confidence*1.1, 1.0)
		case f.Type == model.FacetDormer && f.Area > 300:
			f.Confidence = min(f.Confidence*0.9, 1.0)
		}
		out[i] = f
	}
	return out
}

func geometryReasoning(in GeometryInput, p *parsed, deviation float64, hasNeighborhood, styled bool, confidence float64) []string {
	var reasons []string

	switch {
	case in.ArchitecturalStyle == "":
		reasons = append(reasons, "Architectural style unknown")
	case styled:
		reasons = append(reasons, fmt.Sprintf("%s style measurement adjustments applied", in.ArchitecturalStyle))
	default:
		reasons = append(reasons, fmt.Sprintf("%s style has no measurement adjustments", in.ArchitecturalStyle))
	}

	if in.BuildingAge != nil {
		reasons = append(reasons, fmt.Sprintf("Built in %d", *in.BuildingAge))
	}

	if hasNeighborhood {
		reasons = append(reasons, fmt.Sprintf("%s from neighborhood average of %s",
			model.FormatPercent(deviation), model.FormatArea(in.NeighborhoodContext.AverageRoofArea)))
	}

	if in.FootprintData != nil {
		reasons = append(reasons, fmt.Sprintf("Footprint of %s from %s", model.FormatArea(in.FootprintData.AreaSqFt), in.FootprintData.Source))
	}

	reasons = append(reasons, fmt.Sprintf("Derived %d roof facets from structural analysis", len(p.facets)))
	if r := p.summaryReason(); r != "" {
		reasons = append(reasons, r)
	}
	reasons = append(reasons, fmt.Sprintf("Geometry confidence: %s", model.FormatPercent(confidence)))
	return reasons
}
