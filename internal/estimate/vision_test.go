package estimate

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/ftdcad/roofiq-learn-loop/internal/model"
)

func TestVisionEstimate_IdealCapture(t *testing.T) {
	b := new(mockImageBackend)
	b.On("AnalyzeImage", mock.Anything, mock.MatchedBy(func(r ImageRequest) bool {
		return r.Address == "1 Main St" && r.Context.TimeOfDay == TimeAfternoon
	})).Return(testResponse(2000,
		rawFacet("a", "main", 1200, 0.8),
		rawFacet("b", "main", 600, 0.95),
		rawFacet("c", "dormer", 200, 0.8),
	), nil)

	e := NewVisionEstimator(b)
	est, err := e.Estimate(context.Background(), VisionInput{
		Address:      "1 Main St",
		ImageQuality: ptr(0.9),
		Season:       SeasonSummer,
		TimeOfDay:    TimeAfternoon,
	})
	require.NoError(t, err)

	assert.Equal(t, 2000.0, est.Estimate)
	// 0.8 base * 0.9 quality
	assert.InDelta(t, 0.72, est.Confidence, 1e-9)
	assert.Equal(t, 0.0, est.Uncertainty.Variance)
	assert.Empty(t, est.Uncertainty.RiskFactors)
	assert.False(t, est.Uncertainty.NeedsVerification)
	assert.Equal(t, model.Range{Min: 2000, Max: 2000}, est.Uncertainty.ConfidenceRange)
	assert.Equal(t, "test-1", est.ModelVersion)

	require.Len(t, est.Facets, 3)
	assert.InDelta(t, 0.88, est.Facets[0].Confidence, 1e-9)
	assert.Equal(t, 1.0, est.Facets[1].Confidence)
	assert.InDelta(t, 0.72, est.Facets[2].Confidence, 1e-9)

	assert.Contains(t, est.Reasoning[0], "Detected 3 roof facets")
	assert.Contains(t, est.Reasoning, "High image quality (90%)")
	assert.Equal(t, "Vision confidence: 72%", est.Reasoning[len(est.Reasoning)-1])
	b.AssertExpectations(t)
}

func TestVisionEstimate_AllRiskFactors(t *testing.T) {
	facets := make([]RawFacet, 9)
	for i := range facets {
		facets[i] = rawFacet("", "addition", 100, 0.7)
	}
	resp := testResponse(1800, facets...)
	resp.PropertyDetails.ComplexityScore = ptr(0.9)

	b := new(mockImageBackend)
	b.On("AnalyzeImage", mock.Anything, mock.Anything).Return(resp, nil)

	est, err := NewVisionEstimator(b).Estimate(context.Background(), VisionInput{
		Address:      "2 Elm St",
		ImageQuality: ptr(0.5),
		Season:       SeasonWinter,
		TimeOfDay:    TimeMorning,
	})
	require.NoError(t, err)

	assert.InDelta(t, 0.75, est.Uncertainty.Variance, 1e-9)
	assert.Len(t, est.Uncertainty.RiskFactors, 4)
	assert.True(t, est.Uncertainty.NeedsVerification)
	// Interval capped at 30% of the estimate.
	assert.InDelta(t, 1260, est.Uncertainty.ConfidenceRange.Min, 1e-6)
	assert.InDelta(t, 2340, est.Uncertainty.ConfidenceRange.Max, 1e-6)

	// 0.8 * 0.5 * 0.9 * 0.85 = 0.306
	assert.InDelta(t, 0.306, est.Confidence, 1e-9)
	assert.Equal(t, "image-analysis-facet-1", est.Facets[0].ID)
	assert.Contains(t, est.Reasoning, "Complex roof geometry may reduce vision accuracy")
	assert.Contains(t, est.Reasoning, "Identified 4 risk factors affecting accuracy")
}

func TestVisionEstimate_ConfidenceFloor(t *testing.T) {
	b := new(mockImageBackend)
	b.On("AnalyzeImage", mock.Anything, mock.Anything).Return(testResponse(1500), nil)

	est, err := NewVisionEstimator(b).Estimate(context.Background(), VisionInput{ImageQuality: ptr(0.1)})
	require.NoError(t, err)
	assert.Equal(t, 0.3, est.Confidence)
}

func TestVisionEstimate_BackendError(t *testing.T) {
	b := new(mockImageBackend)
	b.On("AnalyzeImage", mock.Anything, mock.Anything).Return(nil, errors.New("connection refused"))

	est, err := NewVisionEstimator(b).Estimate(context.Background(), VisionInput{Address: "x"})
	require.Error(t, err)
	assert.Nil(t, est)

	var be *model.BackendError
	require.True(t, errors.As(err, &be))
	assert.Equal(t, ImageBackendName, be.Backend)
	assert.Equal(t, model.BackendErrRequest, be.Kind)
}

func TestVisionEstimate_PreservesBackendErrorKind(t *testing.T) {
	b := new(mockImageBackend)
	b.On("AnalyzeImage", mock.Anything, mock.Anything).
		Return(nil, model.NewBackendError(ImageBackendName, model.BackendErrStatus, errors.New("503")))

	_, err := NewVisionEstimator(b).Estimate(context.Background(), VisionInput{})
	var be *model.BackendError
	require.True(t, errors.As(err, &be))
	assert.Equal(t, model.BackendErrStatus, be.Kind)
}

func TestVisionEstimate_UnparseableResponse(t *testing.T) {
	resp := testResponse(1500)
	resp.TotalArea = nil

	b := new(mockImageBackend)
	b.On("AnalyzeImage", mock.Anything, mock.Anything).Return(resp, nil)

	_, err := NewVisionEstimator(b).Estimate(context.Background(), VisionInput{})
	var be *model.BackendError
	require.True(t, errors.As(err, &be))
	assert.Equal(t, model.BackendErrParse, be.Kind)
	assert.Contains(t, err.Error(), "missing totalArea")
}

func TestVisionEstimate_ReportSummaryInReasoning(t *testing.T) {
	withSummary := testResponse(1800, rawFacet("a", "main", 1800, 0.8))
	withSummary.ReportSummary = "Hip roof, asphalt shingles"
	b := new(mockImageBackend)
	b.On("AnalyzeImage", mock.Anything, mock.Anything).Return(withSummary, nil).Once()
	b.On("AnalyzeImage", mock.Anything, mock.Anything).Return(testResponse(1800, rawFacet("a", "main", 1800, 0.8)), nil).Once()

	e := NewVisionEstimator(b)
	est, err := e.Estimate(context.Background(), VisionInput{Address: "1 Main St", TimeOfDay: TimeAfternoon})
	require.NoError(t, err)
	assert.Contains(t, est.Reasoning, "Backend summary: Hip roof, asphalt shingles")

	est, err = e.Estimate(context.Background(), VisionInput{Address: "1 Main St", TimeOfDay: TimeAfternoon})
	require.NoError(t, err)
	for _, r := range est.Reasoning {
		assert.NotContains(t, r, "Backend summary")
	}
}
