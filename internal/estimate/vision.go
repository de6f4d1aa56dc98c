package estimate

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/ftdcad/roofiq-learn-loop/internal/model"
)

// Vision uncertainty penalties.
const (
	visionPoorQualityPenalty = 0.3
	visionWinterPenalty      = 0.1
	visionOffMiddayPenalty   = 0.15
	visionManyFacetsPenalty  = 0.2

	visionBaseConfidence  = 0.8
	visionMinConfidence   = 0.3
	visionMaxRangeFrac    = 0.3
	visionVerifyThreshold = 0.4
)

// VisionInput is the input to VisionEstimator.
type VisionInput struct {
	Address      string
	ImageData    []byte
	Coordinates  Coordinates
	ImageQuality *float64 // 0-1, nil when unknown
	Season       Season
	TimeOfDay    TimeOfDay
}

// VisionEstimator wraps the image-analysis backend and applies imagery
// specific confidence and uncertainty adjustments.
type VisionEstimator struct {
	backend ImageBackend
}

// NewVisionEstimator creates a VisionEstimator.
func NewVisionEstimator(backend ImageBackend) *VisionEstimator {
	return &VisionEstimator{backend: backend}
}

// Estimate calls the image backend and derives a model.Estimate. Backend
// failures are returned as *model.BackendError; no partial estimate is produced.
func (e *VisionEstimator) Estimate(ctx context.Context, in VisionInput) (*model.Estimate, error) {
	start := time.Now()

	resp, err := e.backend.AnalyzeImage(ctx, ImageRequest{
		Address:   in.Address,
		ImageData: in.ImageData,
		Context: ImageContext{
			Coordinates:  in.Coordinates,
			ImageQuality: in.ImageQuality,
			Season:       in.Season,
			TimeOfDay:    in.TimeOfDay,
		},
	})
	if err != nil {
		return nil, asBackendError(ImageBackendName, err)
	}
	p, err := parseResponse(ImageBackendName, resp)
	if err != nil {
		return nil, err
	}

	uncertainty := visionUncertainty(in, p)
	confidence := visionConfidence(in, p)

	est := &model.Estimate{
		Estimate:         p.totalArea,
		Facets:           adjustVisionFacets(p.facets),
		Measurements:     p.measurements,
		Confidence:       confidence,
		Uncertainty:      uncertainty,
		ComplexityScore:  p.complexity,
		Reasoning:        visionReasoning(in, p, uncertainty, confidence),
		ModelVersion:     p.modelVersion,
		ProcessingTimeMs: time.Since(start).Milliseconds(),
	}

	zap.L().Debug("estimate: vision computed",
		zap.String("address", in.Address),
		zap.Float64("area", est.Estimate),
		zap.Int("facets", len(est.Facets)),
		zap.Float64("confidence", confidence),
		zap.Float64("variance", uncertainty.Variance),
	)

	return est, nil
}

func visionUncertainty(in VisionInput, p *parsed) model.UncertaintyAnalysis {
	var variance float64
	var risks []string

	if in.ImageQuality != nil && *in.ImageQuality < 0.7 {
		variance += visionPoorQualityPenalty
		risks = append(risks, "Poor image quality")
	}
	if in.Season == SeasonWinter {
		variance += visionWinterPenalty
		risks = append(risks, "Winter imagery may hide roof edges")
	}
	if in.TimeOfDay == TimeMorning || in.TimeOfDay == TimeEvening {
		variance += visionOffMiddayPenalty
		risks = append(risks, "Non-midday capture with long shadows")
	}
	if len(p.facets) > 8 {
		variance += visionManyFacetsPenalty
		risks = append(risks, fmt.Sprintf("Complex roof with %d facets", len(p.facets)))
	}

	return model.UncertaintyAnalysis{
		Variance:          variance,
		ConfidenceRange:   boundedRange(p.totalArea, variance, visionMaxRangeFrac),
		RiskFactors:       risks,
		NeedsVerification: variance > visionVerifyThreshold,
	}
}

func visionConfidence(in VisionInput, p *parsed) float64 {
	c := visionBaseConfidence
	if in.ImageQuality != nil {
		c *= *in.ImageQuality
	}
	if len(p.facets) > 6 {
		c *= 0.9
	}
	if p.complexity > 0.8 {
		c *= 0.85
	}
	return clamp(c, visionMinConfidence, 1.0)
}

// adjustVisionFacets returns new facets: main facets are easier to see from
// overhead imagery than dormers.
func adjustVisionFacets(facets []model.Facet) []model.Facet {
	out := make([]model.Facet, len(facets))
	for i, f := range facets {
		switch f.Type {
		case model.FacetMain:
			f.Confidence = min(f.Confidence*1.1, 1.0)
		case model.FacetDormer:
			f.Confidence = min(f.Confidence*0.9, 1.0)
		}
		out[i] = f
	}
	return out
}

func visionReasoning(in VisionInput, p *parsed, u model.UncertaintyAnalysis, confidence float64) []string {
	reasons := []string{
		fmt.Sprintf("Detected %d roof facets from aerial imagery", len(p.facets)),
	}
	if in.ImageQuality != nil && *in.ImageQuality >= 0.8 {
		reasons = append(reasons, fmt.Sprintf("High image quality (%s)", model.FormatPercent(*in.ImageQuality)))
	}
	if n := len(u.RiskFactors); n > 0 {
		reasons = append(reasons, fmt.Sprintf("Identified %d risk factors affecting accuracy", n))
	}
	if p.complexity > 0.7 {
		reasons = append(reasons, "Complex roof geometry may reduce vision accuracy")
	}
	if r := p.summaryReason(); r != "" {
		reasons = append(reasons, r)
	}
	reasons = append(reasons, fmt.Sprintf("Vision confidence: %s", model.FormatPercent(confidence)))
	return reasons
}
