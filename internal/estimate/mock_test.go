package estimate

import (
	"context"

	"github.com/stretchr/testify/mock"

	"github.com/ftdcad/roofiq-learn-loop/internal/model"
)

// --- Image backend mock ---

type mockImageBackend struct {
	mock.Mock
}

func (m *mockImageBackend) AnalyzeImage(ctx context.Context, req ImageRequest) (*Response, error) {
	args := m.Called(ctx, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*Response), args.Error(1)
}

// --- Structural backend mock ---

type mockStructuralBackend struct {
	mock.Mock
}

func (m *mockStructuralBackend) AnalyzeStructure(ctx context.Context, req StructuralRequest) (*Response, error) {
	args := m.Called(ctx, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*Response), args.Error(1)
}

// --- Fixtures ---

func ptr[T any](v T) *T { return &v }

var square = []model.Point{{X: 0, Y: 0}, {X: 10, Y: 0}, {X: 10, Y: 10}, {X: 0, Y: 10}}

func rawFacet(id, typ string, area, conf float64) RawFacet {
	return RawFacet{ID: id, Polygon: square, Area: ptr(area), Pitch: "6/12", Type: typ, Confidence: ptr(conf)}
}

func testResponse(area float64, facets ...RawFacet) *Response {
	return &Response{
		TotalArea:  ptr(area),
		Facets:     facets,
		Confidence: ptr(0.8),
		Measurements: &RawMeasurements{
			Ridges: 100, Valleys: 50, Hips: 40, Rakes: 60, Eaves: 120, Gutters: 120, StepFlashing: 10, DripEdge: 180,
		},
		ModelVersion: "test-1",
	}
}
