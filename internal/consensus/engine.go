// Package consensus runs the vision and geometry estimators concurrently and
// reconciles their results into a single model.ConsensusResult.
package consensus

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/ftdcad/roofiq-learn-loop/internal/estimate"
	"github.com/ftdcad/roofiq-learn-loop/internal/model"
)

// DefaultDisagreementThreshold is the area difference, in square feet, above
// which the two estimators are considered to disagree.
const DefaultDisagreementThreshold = 100.0

// VisionEstimator produces an estimate from imagery.
type VisionEstimator interface {
	Estimate(ctx context.Context, in estimate.VisionInput) (*model.Estimate, error)
}

// GeometryEstimator produces an estimate from structural context.
type GeometryEstimator interface {
	Estimate(ctx context.Context, in estimate.GeometryInput) (*model.Estimate, error)
}

// BuildingContext is the best-effort structural context for an address. Any
// field may be nil or empty.
type BuildingContext struct {
	Footprint          *estimate.Footprint
	BuildingAge        *int
	ArchitecturalStyle string
	Neighborhood       *estimate.NeighborhoodContext
}

// ContextProvider looks up building context. Errors are logged and treated as
// missing context.
type ContextProvider interface {
	Lookup(ctx context.Context, address string, coords estimate.Coordinates) (*BuildingContext, error)
}

// PredictRequest is the input to Engine.Predict.
type PredictRequest struct {
	Address     string
	Coordinates estimate.Coordinates
	ImageData   []byte
}

// Stats is a snapshot of the engine counters.
type Stats struct {
	Predictions      int64 `json:"predictions"`
	Failures         int64 `json:"failures"`
	VisionFailures   int64 `json:"vision_failures"`
	GeometryFailures int64 `json:"geometry_failures"`
	Degenerate       int64 `json:"degenerate"`
}

// Option configures an Engine.
type Option func(*Engine)

// WithDisagreementThreshold overrides DefaultDisagreementThreshold.
func WithDisagreementThreshold(sqft float64) Option {
	return func(e *Engine) {
		if sqft > 0 {
			e.threshold = sqft
		}
	}
}

// WithClock sets the clock used to derive capture season and time of day.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// WithIDFunc sets the generator for merged facet IDs.
func WithIDFunc(fn func() string) Option {
	return func(e *Engine) { e.newID = fn }
}

// Engine is the consensus engine. It is safe for concurrent use; the only
// state it holds across calls is a set of atomic counters.
type Engine struct {
	vision    VisionEstimator
	geometry  GeometryEstimator
	context   ContextProvider
	threshold float64
	now       func() time.Time
	newID     func() string

	predictions      atomic.Int64
	failures         atomic.Int64
	visionFailures   atomic.Int64
	geometryFailures atomic.Int64
	degenerate       atomic.Int64
}

// NewEngine creates an Engine. provider may be nil, in which case the
// geometry estimator runs without building context.
func NewEngine(vision VisionEstimator, geometry GeometryEstimator, provider ContextProvider, opts ...Option) *Engine {
	e := &Engine{
		vision:    vision,
		geometry:  geometry,
		context:   provider,
		threshold: DefaultDisagreementThreshold,
		now:       time.Now,
		newID:     uuid.NewString,
	}
	for _, o := range opts {
		o(e)
	}
	return e
}

// Stats returns the current counters.
func (e *Engine) Stats() Stats {
	return Stats{
		Predictions:      e.predictions.Load(),
		Failures:         e.failures.Load(),
		VisionFailures:   e.visionFailures.Load(),
		GeometryFailures: e.geometryFailures.Load(),
		Degenerate:       e.degenerate.Load(),
	}
}

// Threshold returns the disagreement threshold in square feet.
func (e *Engine) Threshold() float64 {
	return e.threshold
}

type outcome struct {
	estimator string
	est       *model.Estimate
	err       error
}

// Predict runs both estimators concurrently and reconciles their results.
// It returns as soon as either estimator fails; the other call is cancelled
// and its result discarded. Every error is a *model.ConsensusError.
func (e *Engine) Predict(ctx context.Context, req PredictRequest) (*model.ConsensusResult, error) {
	vin := e.visionInput(req)
	gin := e.geometryInput(ctx, req)

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	// Buffered so the losing goroutine never blocks after an early return.
	results := make(chan outcome, 2)
	go func() {
		est, err := e.vision.Estimate(ctx, vin)
		results <- outcome{estimator: model.EstimatorVision, est: est, err: err}
	}()
	go func() {
		est, err := e.geometry.Estimate(ctx, gin)
		results <- outcome{estimator: model.EstimatorGeometry, est: est, err: err}
	}()

	var vision, geometry *model.Estimate
	for range 2 {
		r := <-results
		if r.err == nil && r.est == nil {
			r.err = eris.Errorf("consensus: %s estimator returned no result", r.estimator)
		}
		if r.err != nil {
			e.recordFailure(r.estimator)
			zap.L().Warn("consensus: estimator failed",
				zap.String("address", req.Address),
				zap.String("estimator", r.estimator),
				zap.Error(r.err),
			)
			return nil, &model.ConsensusError{Estimator: r.estimator, Err: r.err}
		}
		if r.estimator == model.EstimatorVision {
			vision = r.est
		} else {
			geometry = r.est
		}
	}

	res, err := Reconcile(Pair{
		Vision:          vision,
		Geometry:        geometry,
		VisionFactors:   VisionFactorsFor(vin),
		GeometryFactors: GeometryFactorsFor(gin),
	}, e.threshold, e.newID)
	if err != nil {
		e.failures.Add(1)
		e.degenerate.Add(1)
		return nil, err
	}

	e.predictions.Add(1)
	zap.L().Info("consensus: prediction complete",
		zap.String("address", req.Address),
		zap.Float64("estimate", res.Estimate),
		zap.String("confidence", string(res.Confidence)),
		zap.Float64("agreement", res.ModelAgreement),
		zap.Bool("flagged", res.LearningFlag != nil),
	)
	return res, nil
}

func (e *Engine) recordFailure(estimator string) {
	e.failures.Add(1)
	if estimator == model.EstimatorVision {
		e.visionFailures.Add(1)
	} else {
		e.geometryFailures.Add(1)
	}
}

func (e *Engine) visionInput(req PredictRequest) estimate.VisionInput {
	now := e.now()
	in := estimate.VisionInput{
		Address:     req.Address,
		ImageData:   req.ImageData,
		Coordinates: req.Coordinates,
		Season:      estimate.SeasonAt(now),
		TimeOfDay:   estimate.TimeOfDayAt(now),
	}
	if len(req.ImageData) > 0 {
		q, err := estimate.ImageQuality(req.ImageData)
		if err != nil {
			zap.L().Warn("consensus: image quality unknown", zap.String("address", req.Address), zap.Error(err))
		} else {
			in.ImageQuality = &q
		}
	}
	return in
}

func (e *Engine) geometryInput(ctx context.Context, req PredictRequest) estimate.GeometryInput {
	in := estimate.GeometryInput{Address: req.Address}
	if e.context == nil {
		return in
	}
	bc, err := e.context.Lookup(ctx, req.Address, req.Coordinates)
	if err != nil {
		zap.L().Warn("consensus: building context lookup failed", zap.String("address", req.Address), zap.Error(err))
		return in
	}
	if bc == nil {
		return in
	}
	in.FootprintData = bc.Footprint
	in.BuildingAge = bc.BuildingAge
	in.ArchitecturalStyle = bc.ArchitecturalStyle
	in.NeighborhoodContext = bc.Neighborhood
	return in
}
