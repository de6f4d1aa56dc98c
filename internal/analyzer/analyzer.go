// Package analyzer turns an address (and optional image) into a stored
// consensus analysis: geocode, predict, persist, cache.
package analyzer

import (
	"context"
	"errors"
	"strings"
	"sync/atomic"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/ftdcad/roofiq-learn-loop/internal/cache"
	"github.com/ftdcad/roofiq-learn-loop/internal/consensus"
	"github.com/ftdcad/roofiq-learn-loop/internal/estimate"
	"github.com/ftdcad/roofiq-learn-loop/internal/model"
	"github.com/ftdcad/roofiq-learn-loop/internal/resilience"
	"github.com/ftdcad/roofiq-learn-loop/internal/store"
	"github.com/ftdcad/roofiq-learn-loop/pkg/geocode"
)

// ErrEmptyAddress is returned for a blank address.
var ErrEmptyAddress = eris.New("analyzer: address is required")

const defaultConcurrency = 4

// Predictor produces a consensus result. *consensus.Engine satisfies it.
type Predictor interface {
	Predict(ctx context.Context, req consensus.PredictRequest) (*model.ConsensusResult, error)
}

// Stats counts analyzer outcomes.
type Stats struct {
	Analyzed  int64 `json:"analyzed"`
	Failed    int64 `json:"failed"`
	CacheHits int64 `json:"cache_hits"`
	Unlocated int64 `json:"unlocated"`
}

// Option configures an Analyzer.
type Option func(*Analyzer)

// WithGeocoder sets the geocoder. Without one, analyses run unlocated.
func WithGeocoder(g geocode.Client) Option {
	return func(a *Analyzer) { a.geocoder = g }
}

// WithStore persists every analysis and its learning flag.
func WithStore(s store.Store) Option {
	return func(a *Analyzer) { a.store = s }
}

// WithCache serves repeated image-less requests from c.
func WithCache(c *cache.Results) Option {
	return func(a *Analyzer) { a.cache = c }
}

// WithConcurrency bounds AnalyzeBatch fan-out.
func WithConcurrency(n int) Option {
	return func(a *Analyzer) {
		if n > 0 {
			a.concurrency = n
		}
	}
}

// Analyzer orchestrates a single prediction end to end.
type Analyzer struct {
	engine      Predictor
	geocoder    geocode.Client
	store       store.Store
	cache       *cache.Results
	concurrency int

	analyzed  atomic.Int64
	failed    atomic.Int64
	cacheHits atomic.Int64
	unlocated atomic.Int64
}

// New creates an Analyzer around engine.
func New(engine Predictor, opts ...Option) *Analyzer {
	a := &Analyzer{engine: engine, concurrency: defaultConcurrency}
	for _, o := range opts {
		o(a)
	}
	return a
}

// Stats returns the current counters.
func (a *Analyzer) Stats() Stats {
	return Stats{
		Analyzed:  a.analyzed.Load(),
		Failed:    a.failed.Load(),
		CacheHits: a.cacheHits.Load(),
		Unlocated: a.unlocated.Load(),
	}
}

// Analyze predicts the roof at address. Requests without an image are
// served from the cache when possible; requests with an image always run
// both estimators. Estimator failures are returned as *model.ConsensusError.
func (a *Analyzer) Analyze(ctx context.Context, address string, image []byte) (*model.Analysis, error) {
	address = strings.TrimSpace(address)
	if address == "" {
		return nil, ErrEmptyAddress
	}
	key := NormalizeAddress(address)
	cacheable := a.cache != nil && len(image) == 0

	if cacheable {
		if hit := a.cache.Get(key); hit != nil {
			a.cacheHits.Add(1)
			zap.L().Debug("analyzer: cache hit", zap.String("address", key))
			return hit, nil
		}
	}

	coords := a.locate(ctx, address)
	res, err := a.engine.Predict(ctx, consensus.PredictRequest{
		Address:     address,
		Coordinates: coords,
		ImageData:   image,
	})
	if err != nil {
		a.failed.Add(1)
		return nil, err
	}

	an := &model.Analysis{
		Address:           address,
		NormalizedAddress: key,
		Latitude:          coords.Latitude,
		Longitude:         coords.Longitude,
		Result:            *res,
	}
	if a.store != nil {
		if err := a.store.SaveAnalysis(ctx, an); err != nil {
			a.failed.Add(1)
			return nil, eris.Wrapf(err, "analyzer: save analysis for %q", address)
		}
	}
	if cacheable {
		a.cache.Put(key, an)
	}

	a.analyzed.Add(1)
	return an, nil
}

// locate geocodes address. Failures and non-matches are logged and yield
// zero coordinates; the vision estimator still runs and the geometry
// estimator runs without building context.
func (a *Analyzer) locate(ctx context.Context, address string) estimate.Coordinates {
	if a.geocoder == nil {
		a.unlocated.Add(1)
		return estimate.Coordinates{}
	}
	res, err := a.geocoder.Geocode(ctx, address)
	if err != nil {
		a.unlocated.Add(1)
		zap.L().Warn("analyzer: geocode failed", zap.String("address", address), zap.Error(err))
		return estimate.Coordinates{}
	}
	if !res.Matched {
		a.unlocated.Add(1)
		zap.L().Info("analyzer: address not matched", zap.String("address", address))
		return estimate.Coordinates{}
	}
	return estimate.Coordinates{Latitude: res.Latitude, Longitude: res.Longitude}
}

// BatchResult is the outcome for one address of AnalyzeBatch.
type BatchResult struct {
	Address   string          `json:"address"`
	Analysis  *model.Analysis `json:"analysis,omitempty"`
	Err       error           `json:"-"`
	Error     string          `json:"error,omitempty"`
	ErrorKind string          `json:"error_kind,omitempty"` // "transient" or "permanent"
	Estimator string          `json:"estimator,omitempty"`
}

// AnalyzeBatch analyzes addresses concurrently, bounded by the configured
// concurrency. Results are in input order. A failed address is recorded in
// its BatchResult and does not stop the batch; the returned error is non-nil
// only when ctx ends before the batch completes.
func (a *Analyzer) AnalyzeBatch(ctx context.Context, addresses []string) ([]BatchResult, error) {
	results := make([]BatchResult, len(addresses))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(a.concurrency)

	for i, addr := range addresses {
		g.Go(func() error {
			results[i] = a.analyzeOne(gctx, addr)
			return nil // failures are per address
		})
	}
	_ = g.Wait()

	var failed int
	for _, r := range results {
		if r.Err != nil {
			failed++
		}
	}
	zap.L().Info("analyzer: batch complete",
		zap.Int("addresses", len(addresses)),
		zap.Int("failed", failed),
	)
	return results, eris.Wrap(ctx.Err(), "analyzer: batch")
}

func (a *Analyzer) analyzeOne(ctx context.Context, address string) BatchResult {
	r := BatchResult{Address: address}
	an, err := a.Analyze(ctx, address, nil)
	if err != nil {
		r.Err = err
		r.Error = err.Error()
		r.ErrorKind = resilience.Classify(err)
		var ce *model.ConsensusError
		if errors.As(err, &ce) {
			r.Estimator = ce.Estimator
		}
		zap.L().Warn("analyzer: batch address failed",
			zap.String("address", address),
			zap.String("kind", r.ErrorKind),
			zap.Error(err),
		)
		return r
	}
	r.Analysis = an
	return r
}
