// Package estimate implements the two roof estimators (vision and geometry)
// behind a common result shape, model.Estimate.
package estimate

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"

	"github.com/rotisserie/eris"

	"github.com/ftdcad/roofiq-learn-loop/internal/model"
)

// Backend names used in BackendError.
const (
	ImageBackendName      = "image-analysis"
	StructuralBackendName = "structural-analysis"
)

// defaultComplexity is assumed when a backend omits a complexity score.
const defaultComplexity = 0.5

// Coordinates is a WGS84 location.
type Coordinates struct {
	Latitude  float64 `json:"lat"`
	Longitude float64 `json:"lng"`
}

// ImageBackend is the image-analysis collaborator used by VisionEstimator.
type ImageBackend interface {
	AnalyzeImage(ctx context.Context, req ImageRequest) (*Response, error)
}

// StructuralBackend is the structural-analysis collaborator used by GeometryEstimator.
type StructuralBackend interface {
	AnalyzeStructure(ctx context.Context, req StructuralRequest) (*Response, error)
}

// ImageRequest is sent to the image-analysis backend.
type ImageRequest struct {
	Address   string       `json:"address"`
	ImageData []byte       `json:"-"`
	Context   ImageContext `json:"context"`
}

// ImageContext describes how the image was captured.
type ImageContext struct {
	Coordinates  Coordinates `json:"coordinates"`
	ImageQuality *float64    `json:"imageQuality,omitempty"`
	Season       Season      `json:"season,omitempty"`
	TimeOfDay    TimeOfDay   `json:"timeOfDay,omitempty"`
}

// StructuralRequest is sent to the structural-analysis backend.
type StructuralRequest struct {
	Address         string          `json:"address"`
	FootprintData   *Footprint      `json:"footprintData,omitempty"`
	BuildingContext BuildingContext `json:"buildingContext"`
}

// BuildingContext carries whatever building metadata could be looked up.
type BuildingContext struct {
	BuildingAge         *int                 `json:"buildingAge,omitempty"`
	ArchitecturalStyle  string               `json:"architecturalStyle,omitempty"`
	NeighborhoodContext *NeighborhoodContext `json:"neighborhoodContext,omitempty"`
}

// Footprint is a building outline with its computed ground area.
type Footprint struct {
	Polygon  []model.Point `json:"polygon"` // lon/lat pairs as x/y
	AreaSqFt float64       `json:"areaSqFt"`
	Source   string        `json:"source"`
}

// NeighborhoodContext summarises nearby buildings.
type NeighborhoodContext struct {
	AverageRoofArea   float64  `json:"averageRoofArea"`
	CommonPitches     []string `json:"commonPitches"`
	TypicalComplexity float64  `json:"typicalComplexity"`
}

// Response is the raw backend response before validation. Pointer fields
// distinguish missing values from zero values.
type Response struct {
	TotalArea       *float64         `json:"totalArea"`
	Facets          []RawFacet       `json:"facets"`
	Measurements    *RawMeasurements `json:"measurements"`
	Confidence      *float64         `json:"confidence"`
	PropertyDetails PropertyDetails  `json:"propertyDetails"`
	ReportSummary   string           `json:"reportSummary"`
	ModelVersion    string           `json:"modelVersion"`
}

// RawFacet is a facet as reported by a backend.
type RawFacet struct {
	ID         string        `json:"id"`
	Polygon    []model.Point `json:"polygon"`
	Area       *float64      `json:"area"`
	Pitch      string        `json:"pitch"`
	Type       string        `json:"type"`
	Confidence *float64      `json:"confidence"`
}

// RawMeasurements are linear measurements as reported by a backend.
type RawMeasurements struct {
	Ridges       float64 `json:"ridges"`
	Valleys      float64 `json:"valleys"`
	Hips         float64 `json:"hips"`
	Rakes        float64 `json:"rakes"`
	Eaves        float64 `json:"eaves"`
	Gutters      float64 `json:"gutters"`
	StepFlashing float64 `json:"stepFlashing"`
	DripEdge     float64 `json:"dripEdge"`
}

// PropertyDetails holds backend-reported property attributes.
type PropertyDetails struct {
	ComplexityScore *float64 `json:"complexityScore"`
	Stories         int      `json:"stories,omitempty"`
	RoofMaterial    string   `json:"roofMaterial,omitempty"`
}

// parsed is a validated backend response.
type parsed struct {
	totalArea    float64
	facets       []model.Facet
	measurements model.Measurements
	confidence   float64
	complexity   float64
	summary      string
	modelVersion string
}

// parseResponse validates a raw backend response. Any missing or out-of-range
// required value yields a parse BackendError; nothing is defaulted except
// facet IDs, facet confidence (inherits the response confidence) and the
// complexity score.
func parseResponse(backend string, resp *Response) (*parsed, error) {
	fail := func(format string, args ...any) error {
		return model.NewBackendError(backend, model.BackendErrParse, eris.Errorf(format, args...))
	}

	if resp == nil {
		return nil, fail("empty response")
	}
	if resp.TotalArea == nil {
		return nil, fail("missing totalArea")
	}
	if !finite(*resp.TotalArea) || *resp.TotalArea < 0 {
		return nil, fail("invalid totalArea %v", *resp.TotalArea)
	}
	if resp.Confidence == nil {
		return nil, fail("missing confidence")
	}
	if resp.Measurements == nil {
		return nil, fail("missing measurements")
	}

	confidence, err := normalizeConfidence(*resp.Confidence, *resp.Confidence > 1)
	if err != nil {
		return nil, fail("confidence: %v", err)
	}

	// Facet confidences share one scale: if any exceeds 1 the whole list is percent.
	percentScale := false
	for _, f := range resp.Facets {
		if f.Confidence != nil && *f.Confidence > 1 {
			percentScale = true
			break
		}
	}

	facets := make([]model.Facet, 0, len(resp.Facets))
	for i, rf := range resp.Facets {
		f, ferr := parseFacet(rf, confidence, percentScale)
		if ferr != nil {
			return nil, fail("facet %d: %v", i, ferr)
		}
		if f.ID == "" {
			f.ID = fmt.Sprintf("%s-facet-%d", backend, i+1)
		}
		facets = append(facets, f)
	}

	rm := resp.Measurements
	m := model.Measurements{
		Ridges:       rm.Ridges,
		Valleys:      rm.Valleys,
		Hips:         rm.Hips,
		Rakes:        rm.Rakes,
		Eaves:        rm.Eaves,
		Gutters:      rm.Gutters,
		StepFlashing: rm.StepFlashing,
		DripEdge:     rm.DripEdge,
	}
	for _, v := range m.Values() {
		if !finite(v) || v < 0 {
			return nil, fail("invalid measurement value %v", v)
		}
	}

	complexity := defaultComplexity
	if c := resp.PropertyDetails.ComplexityScore; c != nil {
		if !finite(*c) || *c < 0 || *c > 1 {
			return nil, fail("invalid complexityScore %v", *c)
		}
		complexity = *c
	}

	return &parsed{
		totalArea:    *resp.TotalArea,
		facets:       facets,
		measurements: m,
		confidence:   confidence,
		complexity:   complexity,
		summary:      strings.TrimSpace(resp.ReportSummary),
		modelVersion: resp.ModelVersion,
	}, nil
}

func parseFacet(rf RawFacet, fallbackConf float64, percentScale bool) (model.Facet, error) {
	if len(rf.Polygon) < 3 {
		return model.Facet{}, eris.Errorf("polygon has %d points, need at least 3", len(rf.Polygon))
	}
	for _, p := range rf.Polygon {
		if !finite(p.X) || !finite(p.Y) {
			return model.Facet{}, eris.New("polygon has non-finite coordinate")
		}
	}
	if rf.Area == nil {
		return model.Facet{}, eris.New("missing area")
	}
	if !finite(*rf.Area) || *rf.Area <= 0 {
		return model.Facet{}, eris.Errorf("invalid area %v", *rf.Area)
	}
	ft, err := model.ParseFacetType(rf.Type)
	if err != nil {
		return model.Facet{}, err
	}
	pitch := model.DefaultPitch
	if rf.Pitch != "" {
		if pitch, err = model.ParsePitch(rf.Pitch); err != nil {
			return model.Facet{}, err
		}
	}
	conf := fallbackConf
	if rf.Confidence != nil {
		if conf, err = normalizeConfidence(*rf.Confidence, percentScale); err != nil {
			return model.Facet{}, err
		}
	}

	return model.Facet{
		ID:         rf.ID,
		Polygon:    append([]model.Point(nil), rf.Polygon...),
		Area:       *rf.Area,
		Pitch:      pitch,
		Type:       ft,
		Confidence: conf,
	}, nil
}

func normalizeConfidence(v float64, percent bool) (float64, error) {
	if !finite(v) || v < 0 {
		return 0, eris.Errorf("invalid confidence %v", v)
	}
	if percent {
		v /= 100
	}
	if v > 1 {
		return 0, eris.Errorf("confidence %v out of range", v)
	}
	return v, nil
}

// asBackendError keeps an existing BackendError or wraps err as a request failure.
func asBackendError(backend string, err error) error {
	var be *model.BackendError
	if errors.As(err, &be) {
		return err
	}
	return model.NewBackendError(backend, model.BackendErrRequest, err)
}

// boundedRange returns estimate ± min(variance, maxFraction) * estimate.
func boundedRange(estimate, variance, maxFraction float64) model.Range {
	half := math.Min(variance, maxFraction) * estimate
	return model.Range{Min: math.Max(0, estimate-half), Max: estimate + half}
}

func finite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}

func clamp(v, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, v))
}

// summaryReason returns the backend's report summary as a reasoning line,
// or "" when it sent none.
func (p *parsed) summaryReason() string {
	if p.summary == "" {
		return ""
	}
	return "Backend summary: " + p.summary
}
