package consensus

import (
	"fmt"
	"math"
	"strings"

	"gonum.org/v1/gonum/stat"

	"github.com/ftdcad/roofiq-learn-loop/internal/estimate"
	"github.com/ftdcad/roofiq-learn-loop/internal/model"
)

const (
	baseWeight = 0.5
	minWeight  = 0.1

	visionQualityBonus   = 0.2
	visionAfternoonBonus = 0.1
	highImageQuality     = 0.8

	geometryFootprintBonus    = 0.15
	geometryAgeBonus          = 0.1
	geometryNeighborhoodBonus = 0.15

	rangeScale       = 0.3
	maxRangeFraction = 0.4
	verifyVariance   = 0.4
	flagVariance     = 0.5

	placeholderConfidence = 0.5

	disagreementRisk = "Model disagreement detected"
)

// VisionFactors are the vision input qualities that earn weight bonuses.
type VisionFactors struct {
	HighQuality bool
	Afternoon   bool
}

// GeometryFactors are the geometry input qualities that earn weight bonuses.
type GeometryFactors struct {
	Footprint    bool
	Age          bool
	Neighborhood bool
}

// VisionFactorsFor derives weight factors from a vision input.
func VisionFactorsFor(in estimate.VisionInput) VisionFactors {
	return VisionFactors{
		HighQuality: in.ImageQuality != nil && *in.ImageQuality >= highImageQuality,
		Afternoon:   in.TimeOfDay == estimate.TimeAfternoon,
	}
}

// GeometryFactorsFor derives weight factors from a geometry input.
func GeometryFactorsFor(in estimate.GeometryInput) GeometryFactors {
	return GeometryFactors{
		Footprint:    in.FootprintData != nil,
		Age:          in.BuildingAge != nil,
		Neighborhood: in.NeighborhoodContext != nil,
	}
}

// Pair is the input to Reconcile: both estimates plus the input factors that
// drive weighting.
type Pair struct {
	Vision          *model.Estimate
	Geometry        *model.Estimate
	VisionFactors   VisionFactors
	GeometryFactors GeometryFactors
}

// Reconcile combines two estimates into a ConsensusResult. It performs no I/O
// and, for a fixed newID, is deterministic. The only error is a
// *model.ConsensusError wrapping model.ErrDegenerateFacets.
func Reconcile(p Pair, threshold float64, newID func() string) (*model.ConsensusResult, error) {
	v, g := p.Vision, p.Geometry

	agreement := Agreement(v.Estimate, g.Estimate)
	wv, wg := Weights(p.VisionFactors, p.GeometryFactors, v.Confidence, g.Confidence)
	area := stat.Mean([]float64{v.Estimate, g.Estimate}, []float64{wv, wg})
	diff := math.Abs(v.Estimate - g.Estimate)

	facets, err := MergeFacets(v.Facets, g.Facets, area, newID)
	if err != nil {
		return nil, &model.ConsensusError{Err: err}
	}

	uncertainty := CombineUncertainty(v, g, area, threshold)
	level := Classify(agreement, v.Confidence, g.Confidence)
	byPitch := AreasByPitch(facets)
	pitch := PredominantPitch(byPitch)
	sum := wv + wg

	return &model.ConsensusResult{
		Estimate:       area,
		Confidence:     level,
		ModelAgreement: agreement,
		FinalPrediction: model.FinalPrediction{
			Facets:              facets,
			Measurements:        MergeMeasurements(v.Measurements, g.Measurements),
			PredominantPitch:    pitch,
			WasteFactor:         WasteFactor(facets, pitch, max(len(v.Facets), len(g.Facets))),
			Confidence:          stat.Mean([]float64{v.Confidence, g.Confidence}, []float64{wv, wg}),
			AreasByPitch:        byPitch,
			UncertaintyAnalysis: uncertainty,
			DualModelInsights: model.DualModelInsights{
				VisionEstimate:     v.Estimate,
				GeometryEstimate:   g.Estimate,
				VisionConfidence:   v.Confidence,
				GeometryConfidence: g.Confidence,
				VisionWeight:       wv / sum,
				GeometryWeight:     wg / sum,
				AreaDifference:     diff,
				VisionModel:        v.ModelVersion,
				GeometryModel:      g.ModelVersion,
				VisionReasoning:    v.Reasoning,
				GeometryReasoning:  g.Reasoning,
			},
		},
		Reasoning:    Reasoning(v, g, agreement, diff),
		LearningFlag: LearningFlagFor(diff, threshold, level, v.Uncertainty.Variance, g.Uncertainty.Variance),
	}, nil
}

// Agreement returns 1 - |a-b| / avg(a,b) clamped to [0,1]. When the average
// is not positive, equal estimates agree fully and anything else not at all.
func Agreement(a, b float64) float64 {
	avg := (a + b) / 2
	if !(avg > 0) {
		if a == b {
			return 1
		}
		return 0
	}
	return clamp01(1 - math.Abs(a-b)/avg)
}

// Weights returns the raw (unnormalized) vision and geometry weights. Each
// starts at 0.5, gains its input bonuses, is scaled by the estimator's own
// confidence and is floored at 0.1.
func Weights(vf VisionFactors, gf GeometryFactors, visionConf, geometryConf float64) (float64, float64) {
	wv := baseWeight
	if vf.HighQuality {
		wv += visionQualityBonus
	}
	if vf.Afternoon {
		wv += visionAfternoonBonus
	}

	wg := baseWeight
	if gf.Footprint {
		wg += geometryFootprintBonus
	}
	if gf.Age {
		wg += geometryAgeBonus
	}
	if gf.Neighborhood {
		wg += geometryNeighborhoodBonus
	}

	return math.Max(minWeight, wv*visionConf), math.Max(minWeight, wg*geometryConf)
}

// MergeMeasurements averages each linear measurement, rounded to whole feet.
func MergeMeasurements(a, b model.Measurements) model.Measurements {
	va, vb := a.Values(), b.Values()
	var out [8]float64
	for i := range out {
		out[i] = math.Round((va[i] + vb[i]) / 2)
	}
	return model.MeasurementsFromValues(out)
}

// CombineUncertainty merges both estimators' uncertainty with the
// disagreement between them. area is the consensus estimate the interval is
// centred on.
func CombineUncertainty(v, g *model.Estimate, area, threshold float64) model.UncertaintyAnalysis {
	diff := math.Abs(v.Estimate - g.Estimate)

	disagreement := 0.0
	if hi := math.Max(v.Estimate, g.Estimate); hi > 0 {
		disagreement = diff / hi
	}
	combined := math.Max((v.Uncertainty.Variance+g.Uncertainty.Variance)/2, disagreement)

	half := math.Min(combined*rangeScale, maxRangeFraction) * (v.Estimate + g.Estimate) / 2

	risks := unionRisks(v.Uncertainty.RiskFactors, g.Uncertainty.RiskFactors)
	if diff > threshold {
		risks = append(risks, disagreementRisk)
	}

	return model.UncertaintyAnalysis{
		Variance:          combined,
		ConfidenceRange:   model.Range{Min: math.Max(0, area-half), Max: area + half},
		RiskFactors:       risks,
		NeedsVerification: combined > verifyVariance || diff > 2*threshold,
	}
}

func unionRisks(lists ...[]string) []string {
	seen := make(map[string]bool)
	out := []string{}
	for _, l := range lists {
		for _, r := range l {
			if !seen[r] {
				seen[r] = true
				out = append(out, r)
			}
		}
	}
	return out
}

// Classify maps agreement and both estimator confidences to a label.
func Classify(agreement, visionConf, geometryConf float64) model.ConfidenceLevel {
	switch {
	case agreement > 0.9 && visionConf > 0.8 && geometryConf > 0.8:
		return model.ConfidenceHigh
	case agreement > 0.8 || (visionConf > 0.7 && geometryConf > 0.7):
		return model.ConfidenceMedium
	default:
		return model.ConfidenceLow
	}
}

// LearningFlagFor decides whether a professional measurement should be
// requested. It returns nil when no flag is warranted.
func LearningFlagFor(diff, threshold float64, level model.ConfidenceLevel, visionVar, geometryVar float64) *model.LearningFlag {
	switch {
	case diff > 2*threshold:
		return &model.LearningFlag{
			Priority:        model.FlagPriorityHigh,
			Reason:          fmt.Sprintf("Major model disagreement: estimates differ by %s", model.FormatArea(diff)),
			SuggestedAction: "Obtain a professional measurement to resolve the disagreement",
		}
	case level == model.ConfidenceLow:
		return &model.LearningFlag{
			Priority:        model.FlagPriorityMedium,
			Reason:          "Low consensus confidence",
			SuggestedAction: "Verify with a professional measurement to calibrate both models",
		}
	case visionVar > flagVariance || geometryVar > flagVariance:
		return &model.LearningFlag{
			Priority: model.FlagPriorityMedium,
			Reason: fmt.Sprintf("High estimator uncertainty (vision %s, geometry %s)",
				model.FormatPercent(visionVar), model.FormatPercent(geometryVar)),
			SuggestedAction: "Verify with a professional measurement to reduce model uncertainty",
		}
	default:
		return nil
	}
}

// AgreementLevel describes agreement in words.
func AgreementLevel(agreement float64) string {
	switch {
	case agreement > 0.9:
		return "strong"
	case agreement > 0.8:
		return "moderate"
	default:
		return "weak"
	}
}

// Reasoning summarises both estimates, the agreement level and the area
// difference.
func Reasoning(v, g *model.Estimate, agreement, diff float64) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Vision model estimated %s (confidence %s). ", model.FormatArea(v.Estimate), model.FormatPercent(v.Confidence))
	fmt.Fprintf(&b, "Geometry model estimated %s (confidence %s). ", model.FormatArea(g.Estimate), model.FormatPercent(g.Confidence))
	fmt.Fprintf(&b, "Models show %s agreement (%s) with an area difference of %s.",
		AgreementLevel(agreement), model.FormatPercent(agreement), model.FormatArea(diff))
	return b.String()
}

func clamp01(v float64) float64 {
	return math.Max(0, math.Min(1, v))
}
