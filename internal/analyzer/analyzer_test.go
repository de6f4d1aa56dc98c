package analyzer

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/ftdcad/roofiq-learn-loop/internal/cache"
	"github.com/ftdcad/roofiq-learn-loop/internal/consensus"
	"github.com/ftdcad/roofiq-learn-loop/internal/estimate"
	"github.com/ftdcad/roofiq-learn-loop/internal/model"
	"github.com/ftdcad/roofiq-learn-loop/internal/resilience"
	"github.com/ftdcad/roofiq-learn-loop/internal/store"
	"github.com/ftdcad/roofiq-learn-loop/pkg/geocode"
)

type mockPredictor struct {
	mock.Mock
}

func (m *mockPredictor) Predict(ctx context.Context, req consensus.PredictRequest) (*model.ConsensusResult, error) {
	args := m.Called(ctx, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.ConsensusResult), args.Error(1)
}

type fakeGeocoder struct {
	mu      sync.Mutex
	results map[string]*geocode.Result
	err     error
	calls   int
}

func (f *fakeGeocoder) Geocode(_ context.Context, address string) (*geocode.Result, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	if r, ok := f.results[address]; ok {
		return r, nil
	}
	return &geocode.Result{Source: "census"}, nil
}

func dallas() *fakeGeocoder {
	return &fakeGeocoder{results: map[string]*geocode.Result{
		"1500 Marilla St, Dallas, TX": {Latitude: 32.7767, Longitude: -96.797, Source: "census", Matched: true},
	}}
}

func result(estimate float64, flag *model.LearningFlag) *model.ConsensusResult {
	return &model.ConsensusResult{
		Estimate:       estimate,
		Confidence:     model.ConfidenceHigh,
		ModelAgreement: 0.95,
		LearningFlag:   flag,
		FinalPrediction: model.FinalPrediction{
			PredominantPitch: model.Pitch{Rise: 6, Run: 12},
			AreasByPitch:     map[string]float64{"6/12": estimate},
		},
	}
}

func newTestStore(t *testing.T) store.Store {
	t.Helper()
	s, err := store.NewSQLite(":memory:")
	require.NoError(t, err)
	require.NoError(t, s.Migrate(context.Background()))
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestAnalyze_GeocodesPredictsAndPersists(t *testing.T) {
	p := new(mockPredictor)
	flag := &model.LearningFlag{Priority: model.FlagPriorityHigh, Reason: "disagreement", SuggestedAction: "measure"}
	p.On("Predict", mock.Anything, consensus.PredictRequest{
		Address:     "1500 Marilla St, Dallas, TX",
		Coordinates: estimate.Coordinates{Latitude: 32.7767, Longitude: -96.797},
	}).Return(result(2150, flag), nil).Once()

	st := newTestStore(t)
	a := New(p, WithGeocoder(dallas()), WithStore(st))

	an, err := a.Analyze(context.Background(), "  1500 Marilla St, Dallas, TX ", nil)
	require.NoError(t, err)
	assert.NotEmpty(t, an.ID)
	assert.Equal(t, "1500 marilla st dallas tx", an.NormalizedAddress)
	assert.InDelta(t, 32.7767, an.Latitude, 1e-9)
	assert.InDelta(t, 2150, an.Result.Estimate, 1e-9)

	stored, err := st.GetAnalysis(context.Background(), an.ID)
	require.NoError(t, err)
	assert.InDelta(t, 2150, stored.Result.Estimate, 1e-9)

	flags, err := st.ListLearningFlags(context.Background(), store.FlagFilter{})
	require.NoError(t, err)
	require.Len(t, flags, 1)
	assert.Equal(t, an.ID, flags[0].AnalysisID)

	assert.Equal(t, Stats{Analyzed: 1}, a.Stats())
	p.AssertExpectations(t)
}

func TestAnalyze_EmptyAddress(t *testing.T) {
	a := New(new(mockPredictor))
	_, err := a.Analyze(context.Background(), "   ", nil)
	assert.ErrorIs(t, err, ErrEmptyAddress)
}

func TestAnalyze_CacheServesImagelessRepeats(t *testing.T) {
	p := new(mockPredictor)
	p.On("Predict", mock.Anything, mock.Anything).Return(result(2000, nil), nil).Once()

	geo := dallas()
	c := cache.New(10, time.Hour)
	a := New(p, WithGeocoder(geo), WithCache(c))

	first, err := a.Analyze(context.Background(), "1500 Marilla St, Dallas, TX", nil)
	require.NoError(t, err)
	second, err := a.Analyze(context.Background(), "1500 MARILLA ST DALLAS TX", nil)
	require.NoError(t, err)

	assert.Same(t, first, second)
	assert.Equal(t, 1, geo.calls)
	assert.Equal(t, int64(1), a.Stats().CacheHits)
	p.AssertExpectations(t)
}

func TestAnalyze_ImageBypassesCache(t *testing.T) {
	img := []byte{0xff, 0xd8, 0xff}
	p := new(mockPredictor)
	p.On("Predict", mock.Anything, mock.MatchedBy(func(r consensus.PredictRequest) bool { return len(r.ImageData) == 0 })).
		Return(result(2000, nil), nil).Once()
	p.On("Predict", mock.Anything, mock.MatchedBy(func(r consensus.PredictRequest) bool { return len(r.ImageData) > 0 })).
		Return(result(2100, nil), nil).Twice()

	c := cache.New(10, time.Hour)
	a := New(p, WithCache(c))

	_, err := a.Analyze(context.Background(), "1 Main St", nil)
	require.NoError(t, err)
	for range 2 {
		an, err := a.Analyze(context.Background(), "1 Main St", img)
		require.NoError(t, err)
		assert.InDelta(t, 2100, an.Result.Estimate, 1e-9)
	}

	// The image results did not replace the cached image-less one.
	cached := c.Get("1 main st")
	require.NotNil(t, cached)
	assert.InDelta(t, 2000, cached.Result.Estimate, 1e-9)
	p.AssertExpectations(t)
}

func TestAnalyze_GeocodeFailureRunsUnlocated(t *testing.T) {
	p := new(mockPredictor)
	p.On("Predict", mock.Anything, consensus.PredictRequest{Address: "1 Main St"}).
		Return(result(1800, nil), nil).Once()

	a := New(p, WithGeocoder(&fakeGeocoder{err: errors.New("census down")}))
	an, err := a.Analyze(context.Background(), "1 Main St", nil)
	require.NoError(t, err)
	assert.Zero(t, an.Latitude)
	assert.Equal(t, int64(1), a.Stats().Unlocated)
	p.AssertExpectations(t)
}

func TestAnalyze_UnmatchedAddress(t *testing.T) {
	p := new(mockPredictor)
	p.On("Predict", mock.Anything, consensus.PredictRequest{Address: "nowhere"}).
		Return(result(1800, nil), nil).Once()

	a := New(p, WithGeocoder(dallas()))
	_, err := a.Analyze(context.Background(), "nowhere", nil)
	require.NoError(t, err)
	assert.Equal(t, int64(1), a.Stats().Unlocated)
}

func TestAnalyze_ConsensusErrorPassesThrough(t *testing.T) {
	cause := &model.ConsensusError{Estimator: model.EstimatorVision, Err: errors.New("backend down")}
	p := new(mockPredictor)
	p.On("Predict", mock.Anything, mock.Anything).Return(nil, cause)

	c := cache.New(10, time.Hour)
	a := New(p, WithCache(c))

	_, err := a.Analyze(context.Background(), "1 Main St", nil)
	var ce *model.ConsensusError
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, model.EstimatorVision, ce.Estimator)
	assert.Equal(t, 0, c.Stats().Entries)
	assert.Equal(t, int64(1), a.Stats().Failed)
}

func TestAnalyze_StoreFailureIsNotCached(t *testing.T) {
	p := new(mockPredictor)
	p.On("Predict", mock.Anything, mock.Anything).Return(result(2000, nil), nil)

	st := newTestStore(t)
	require.NoError(t, st.Close())
	c := cache.New(10, time.Hour)
	a := New(p, WithStore(st), WithCache(c))

	_, err := a.Analyze(context.Background(), "1 Main St", nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "save analysis")
	assert.Equal(t, 0, c.Stats().Entries)
}

func TestAnalyzeBatch(t *testing.T) {
	transient := &model.ConsensusError{
		Estimator: model.EstimatorGeometry,
		Err:       resilience.NewTransientError(errors.New("503"), 503),
	}
	p := new(mockPredictor)
	p.On("Predict", mock.Anything, mock.MatchedBy(func(r consensus.PredictRequest) bool { return r.Address == "2 Bad St" })).
		Return(nil, transient)
	p.On("Predict", mock.Anything, mock.Anything).Return(result(2000, nil), nil)

	st := newTestStore(t)
	a := New(p, WithStore(st), WithConcurrency(2))

	addrs := []string{"1 Main St", "2 Bad St", "3 Oak Ave", "", "5 Elm St"}
	results, err := a.AnalyzeBatch(context.Background(), addrs)
	require.NoError(t, err)
	require.Len(t, results, len(addrs))

	for i, r := range results {
		assert.Equal(t, addrs[i], r.Address)
	}
	assert.NotNil(t, results[0].Analysis)
	assert.Nil(t, results[1].Analysis)
	assert.Equal(t, "transient", results[1].ErrorKind)
	assert.Equal(t, model.EstimatorGeometry, results[1].Estimator)
	assert.Equal(t, "permanent", results[3].ErrorKind)
	assert.ErrorIs(t, results[3].Err, ErrEmptyAddress)

	listed, err := st.ListAnalyses(context.Background(), store.AnalysisFilter{})
	require.NoError(t, err)
	assert.Len(t, listed, 3)
}

func TestAnalyzeBatch_CancelledContext(t *testing.T) {
	p := new(mockPredictor)
	p.On("Predict", mock.Anything, mock.Anything).Return(nil, context.Canceled).Maybe()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	results, err := New(p).AnalyzeBatch(ctx, []string{"1 Main St"})
	require.Error(t, err)
	assert.Len(t, results, 1)
}
