// Package model defines the roof measurement types shared by the estimators,
// the consensus engine, persistence and the API surface.
package model

import (
	"github.com/rotisserie/eris"
)

// FacetType classifies a roof section.
type FacetType string

const (
	FacetMain     FacetType = "main"
	FacetDormer   FacetType = "dormer"
	FacetAddition FacetType = "addition"
	FacetGarage   FacetType = "garage"
	FacetWing     FacetType = "wing"
)

// FacetTypes lists every facet type in output order.
var FacetTypes = []FacetType{FacetMain, FacetWing, FacetAddition, FacetGarage, FacetDormer}

// ParseFacetType validates a facet type string.
func ParseFacetType(s string) (FacetType, error) {
	for _, t := range FacetTypes {
		if string(t) == s {
			return t, nil
		}
	}
	return "", eris.Errorf("model: unknown facet type %q", s)
}

// Point is a 2D polygon vertex in the backend's local coordinate frame.
type Point struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// Facet is one planar section of a roof. Facets are treated as immutable
// once an estimator has produced them.
type Facet struct {
	ID         string    `json:"id"`
	Polygon    []Point   `json:"polygon"`
	Area       float64   `json:"area"` // square feet
	Pitch      Pitch     `json:"pitch"`
	Type       FacetType `json:"type"`
	Confidence float64   `json:"confidence"` // 0.0-1.0
}

// Measurements holds linear roof features in feet.
type Measurements struct {
	Ridges       float64 `json:"ridges"`
	Valleys      float64 `json:"valleys"`
	Hips         float64 `json:"hips"`
	Rakes        float64 `json:"rakes"`
	Eaves        float64 `json:"eaves"`
	Gutters      float64 `json:"gutters"`
	StepFlashing float64 `json:"step_flashing"`
	DripEdge     float64 `json:"drip_edge"`
}

// Values returns the measurements in a fixed field order.
func (m Measurements) Values() [8]float64 {
	return [8]float64{m.Ridges, m.Valleys, m.Hips, m.Rakes, m.Eaves, m.Gutters, m.StepFlashing, m.DripEdge}
}

// MeasurementsFromValues is the inverse of Values.
func MeasurementsFromValues(v [8]float64) Measurements {
	return Measurements{
		Ridges:       v[0],
		Valleys:      v[1],
		Hips:         v[2],
		Rakes:        v[3],
		Eaves:        v[4],
		Gutters:      v[5],
		StepFlashing: v[6],
		DripEdge:     v[7],
	}
}

// Range is a closed interval in square feet.
type Range struct {
	Min float64 `json:"min"`
	Max float64 `json:"max"`
}

// UncertaintyAnalysis is derived by each estimator and again by the
// consensus engine. Variance is a score, not a statistical variance.
type UncertaintyAnalysis struct {
	Variance          float64  `json:"variance"`
	ConfidenceRange   Range    `json:"confidence_range"`
	RiskFactors       []string `json:"risk_factors"`
	NeedsVerification bool     `json:"needs_verification"`
}

// Estimate is the result shape every estimator produces.
type Estimate struct {
	Estimate         float64             `json:"estimate"` // total roof area, sq ft
	Facets           []Facet             `json:"facets"`
	Measurements     Measurements        `json:"measurements"`
	Confidence       float64             `json:"confidence"`
	Uncertainty      UncertaintyAnalysis `json:"uncertainty"`
	ComplexityScore  float64             `json:"complexity_score"`
	Reasoning        []string            `json:"reasoning"`
	ModelVersion     string              `json:"model_version"`
	ProcessingTimeMs int64               `json:"processing_time_ms"`
}
