package model

import (
	"maps"
	"slices"
	"time"
)

// ConfidenceLevel is the three-level consensus confidence label.
type ConfidenceLevel string

const (
	ConfidenceHigh   ConfidenceLevel = "high"
	ConfidenceMedium ConfidenceLevel = "medium"
	ConfidenceLow    ConfidenceLevel = "low"
)

// FlagPriority ranks how urgently a professional measurement is needed.
type FlagPriority string

const (
	FlagPriorityHigh   FlagPriority = "high"
	FlagPriorityMedium FlagPriority = "medium"
)

// LearningFlag recommends obtaining a human-sourced measurement.
type LearningFlag struct {
	Priority        FlagPriority `json:"priority"`
	Reason          string       `json:"reason"`
	SuggestedAction string       `json:"suggested_action"`
}

// DualModelInsights exposes how each estimator contributed to the consensus.
type DualModelInsights struct {
	VisionEstimate     float64  `json:"vision_estimate"`
	GeometryEstimate   float64  `json:"geometry_estimate"`
	VisionConfidence   float64  `json:"vision_confidence"`
	GeometryConfidence float64  `json:"geometry_confidence"`
	VisionWeight       float64  `json:"vision_weight"`   // normalized
	GeometryWeight     float64  `json:"geometry_weight"` // normalized
	AreaDifference     float64  `json:"area_difference"`
	VisionModel        string   `json:"vision_model,omitempty"`
	GeometryModel      string   `json:"geometry_model,omitempty"`
	VisionReasoning    []string `json:"vision_reasoning"`
	GeometryReasoning  []string `json:"geometry_reasoning"`
}

// FinalPrediction is the merged roof description.
type FinalPrediction struct {
	Facets              []Facet             `json:"facets"`
	Measurements        Measurements        `json:"measurements"`
	PredominantPitch    Pitch               `json:"predominant_pitch"`
	WasteFactor         float64             `json:"waste_factor"`
	Confidence          float64             `json:"confidence"`
	AreasByPitch        map[string]float64  `json:"areas_by_pitch"`
	UncertaintyAnalysis UncertaintyAnalysis `json:"uncertainty_analysis"`
	DualModelInsights   DualModelInsights   `json:"dual_model_insights"`
}

// ConsensusResult is the reconciled output of one prediction.
type ConsensusResult struct {
	Estimate        float64         `json:"estimate"`
	Confidence      ConfidenceLevel `json:"confidence"`
	ModelAgreement  float64         `json:"model_agreement"`
	FinalPrediction FinalPrediction `json:"final_prediction"`
	Reasoning       string          `json:"reasoning"`
	LearningFlag    *LearningFlag   `json:"learning_flag,omitempty"`
}

// Analysis is a persisted consensus result for an address.
type Analysis struct {
	ID                string          `json:"id"`
	Address           string          `json:"address"`
	NormalizedAddress string          `json:"normalized_address"`
	Latitude          float64         `json:"latitude"`
	Longitude         float64         `json:"longitude"`
	Result            ConsensusResult `json:"result"`
	CreatedAt         time.Time       `json:"created_at"`
}

// Clone returns a deep copy of a.
func (a *Analysis) Clone() *Analysis {
	if a == nil {
		return nil
	}
	c := *a
	fp := &c.Result.FinalPrediction
	fp.Facets = slices.Clone(fp.Facets)
	for i := range fp.Facets {
		fp.Facets[i].Polygon = slices.Clone(fp.Facets[i].Polygon)
	}
	fp.AreasByPitch = maps.Clone(fp.AreasByPitch)
	fp.UncertaintyAnalysis.RiskFactors = slices.Clone(fp.UncertaintyAnalysis.RiskFactors)
	fp.DualModelInsights.VisionReasoning = slices.Clone(fp.DualModelInsights.VisionReasoning)
	fp.DualModelInsights.GeometryReasoning = slices.Clone(fp.DualModelInsights.GeometryReasoning)
	if a.Result.LearningFlag != nil {
		flag := *a.Result.LearningFlag
		c.Result.LearningFlag = &flag
	}
	return &c
}

// FlagRecord is a stored learning flag awaiting (or past) resolution.
type FlagRecord struct {
	ID           string       `json:"id"`
	AnalysisID   string       `json:"analysis_id"`
	Address      string       `json:"address"`
	Priority     FlagPriority `json:"priority"`
	Reason       string       `json:"reason"`
	Action       string       `json:"suggested_action"`
	MeasuredArea *float64     `json:"measured_area,omitempty"`
	ResolvedAt   *time.Time   `json:"resolved_at,omitempty"`
	CreatedAt    time.Time    `json:"created_at"`
}
