//go:build !integration

package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"github.com/tealeg/xlsx/v2"

	"github.com/ftdcad/roofiq-learn-loop/internal/analyzer"
	"github.com/ftdcad/roofiq-learn-loop/internal/consensus"
	"github.com/ftdcad/roofiq-learn-loop/internal/model"
	"github.com/ftdcad/roofiq-learn-loop/internal/monitoring"
	"github.com/ftdcad/roofiq-learn-loop/internal/report"
	"github.com/ftdcad/roofiq-learn-loop/internal/store"
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

func consensusResult(estimate float64, flag *model.LearningFlag) *model.ConsensusResult {
	return &model.ConsensusResult{
		Estimate:       estimate,
		Confidence:     model.ConfidenceHigh,
		ModelAgreement: 0.96,
		LearningFlag:   flag,
		FinalPrediction: model.FinalPrediction{
			PredominantPitch: model.Pitch{Rise: 6, Run: 12},
			AreasByPitch:     map[string]float64{"6/12": estimate},
		},
	}
}

type testAPI struct {
	handler   http.Handler
	store     store.Store
	predictor *mockPredictor
}

func newTestAPI(t *testing.T) *testAPI {
	t.Helper()
	st, err := store.NewSQLite(":memory:")
	require.NoError(t, err)
	require.NoError(t, st.Migrate(context.Background()))
	t.Cleanup(func() { _ = st.Close() })

	p := &mockPredictor{}
	an := analyzer.New(p, analyzer.WithStore(st))
	h := buildRouter(&api{
		analyzer:  an,
		store:     st,
		collector: monitoring.NewCollector(monitoring.Sources{Store: st, Analyzer: an}),
	}, []string{"*"})
	return &testAPI{handler: h, store: st, predictor: p}
}

func (a *testAPI) do(t *testing.T, method, path string, body []byte, contentType string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, bytes.NewReader(body))
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	rr := httptest.NewRecorder()
	a.handler.ServeHTTP(rr, req)
	return rr
}

func (a *testAPI) seed(t *testing.T, address string, estimate float64, flag *model.LearningFlag) *model.Analysis {
	t.Helper()
	an := &model.Analysis{
		Address:           address,
		NormalizedAddress: analyzer.NormalizeAddress(address),
		Result:            *consensusResult(estimate, flag),
	}
	require.NoError(t, a.store.SaveAnalysis(context.Background(), an))
	return an
}

func TestRouter_Health(t *testing.T) {
	a := newTestAPI(t)

	rr := a.do(t, http.MethodGet, "/health", nil, "")

	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Header().Get("Content-Type"), "application/json")
	assert.JSONEq(t, `{"status":"ok"}`, rr.Body.String())
}

func TestRouter_Predict_JSON(t *testing.T) {
	a := newTestAPI(t)
	a.predictor.On("Predict", mock.Anything, mock.MatchedBy(func(r consensus.PredictRequest) bool {
		return r.Address == "1500 Marilla St, Dallas, TX" && r.ImageData == nil
	})).Return(consensusResult(2150, nil), nil).Once()

	rr := a.do(t, http.MethodPost, "/api/predict", []byte(`{"address":"1500 Marilla St, Dallas, TX"}`), "application/json")

	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	var got model.Analysis
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &got))
	assert.NotEmpty(t, got.ID)
	assert.InDelta(t, 2150, got.Result.Estimate, 0.001)
	assert.Equal(t, "1500 marilla st dallas tx", got.NormalizedAddress)
	a.predictor.AssertExpectations(t)
}

func TestRouter_Predict_Multipart(t *testing.T) {
	a := newTestAPI(t)
	image := []byte("\x89PNG\r\n\x1a\nfake")
	a.predictor.On("Predict", mock.Anything, mock.MatchedBy(func(r consensus.PredictRequest) bool {
		return r.Address == "12 Elm St" && bytes.Equal(r.ImageData, image)
	})).Return(consensusResult(1800, nil), nil).Once()

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	require.NoError(t, mw.WriteField("address", "12 Elm St"))
	fw, err := mw.CreateFormFile("image", "roof.png")
	require.NoError(t, err)
	_, err = fw.Write(image)
	require.NoError(t, err)
	require.NoError(t, mw.Close())

	rr := a.do(t, http.MethodPost, "/api/predict", body.Bytes(), mw.FormDataContentType())

	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	a.predictor.AssertExpectations(t)
}

func TestRouter_Predict_BadRequests(t *testing.T) {
	a := newTestAPI(t)

	rr := a.do(t, http.MethodPost, "/api/predict", []byte("not json"), "application/json")
	assert.Equal(t, http.StatusBadRequest, rr.Code)
	assert.Contains(t, rr.Body.String(), "invalid request body")

	rr = a.do(t, http.MethodPost, "/api/predict", []byte(`{"address":"   "}`), "application/json")
	assert.Equal(t, http.StatusBadRequest, rr.Code)
	assert.Contains(t, rr.Body.String(), "address is required")

	a.predictor.AssertNotCalled(t, "Predict", mock.Anything, mock.Anything)
}

func TestRouter_Predict_EstimatorFailure(t *testing.T) {
	a := newTestAPI(t)
	a.predictor.On("Predict", mock.Anything, mock.Anything).
		Return(nil, &model.ConsensusError{Estimator: model.EstimatorVision, Err: errors.New("timeout")}).Once()

	rr := a.do(t, http.MethodPost, "/api/predict", []byte(`{"address":"9 Oak Ave"}`), "application/json")

	assert.Equal(t, http.StatusBadGateway, rr.Code)
	var body map[string]string
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &body))
	assert.Equal(t, "vision", body["estimator"])
	assert.Contains(t, body["error"], "vision estimator failed")
}

func TestRouter_PredictBatch(t *testing.T) {
	a := newTestAPI(t)
	a.predictor.On("Predict", mock.Anything, mock.MatchedBy(func(r consensus.PredictRequest) bool {
		return r.Address == "1 A St"
	})).Return(consensusResult(1000, nil), nil)
	a.predictor.On("Predict", mock.Anything, mock.MatchedBy(func(r consensus.PredictRequest) bool {
		return r.Address == "2 B St"
	})).Return(nil, &model.ConsensusError{Estimator: model.EstimatorGeometry, Err: errors.New("boom")})

	rr := a.do(t, http.MethodPost, "/api/predict/batch", []byte(`{"addresses":["1 A St","2 B St"]}`), "application/json")

	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	var body struct {
		Results []analyzer.BatchResult `json:"results"`
	}
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &body))
	require.Len(t, body.Results, 2)
	assert.Equal(t, "1 A St", body.Results[0].Address)
	assert.NotNil(t, body.Results[0].Analysis)
	assert.Equal(t, "2 B St", body.Results[1].Address)
	assert.Equal(t, "geometry", body.Results[1].Estimator)
	assert.NotEmpty(t, body.Results[1].Error)
}

func TestRouter_PredictBatch_Empty(t *testing.T) {
	a := newTestAPI(t)

	rr := a.do(t, http.MethodPost, "/api/predict/batch", []byte(`{"addresses":[]}`), "application/json")

	assert.Equal(t, http.StatusBadRequest, rr.Code)
	assert.Contains(t, rr.Body.String(), "addresses is required")
}

func TestRouter_ListAnalyses(t *testing.T) {
	a := newTestAPI(t)
	a.seed(t, "1500 Marilla St, Dallas, TX", 2150, nil)
	a.seed(t, "12 Elm St", 1800, nil)

	rr := a.do(t, http.MethodGet, "/api/analyses?address=1500+MARILLA+ST+DALLAS+TX", nil, "")

	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	var got []model.Analysis
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &got))
	require.Len(t, got, 1)
	assert.Equal(t, "1500 Marilla St, Dallas, TX", got[0].Address)
}

func TestRouter_ListAnalyses_EmptyIsArray(t *testing.T) {
	a := newTestAPI(t)

	rr := a.do(t, http.MethodGet, "/api/analyses", nil, "")

	require.Equal(t, http.StatusOK, rr.Code)
	assert.JSONEq(t, `[]`, rr.Body.String())
}

func TestRouter_ListAnalyses_BadParams(t *testing.T) {
	a := newTestAPI(t)

	rr := a.do(t, http.MethodGet, "/api/analyses?limit=-1", nil, "")
	assert.Equal(t, http.StatusBadRequest, rr.Code)
	assert.Contains(t, rr.Body.String(), "limit")

	rr = a.do(t, http.MethodGet, "/api/analyses?since=yesterday", nil, "")
	assert.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestRouter_GetAnalysis(t *testing.T) {
	a := newTestAPI(t)
	saved := a.seed(t, "12 Elm St", 1800, nil)

	rr := a.do(t, http.MethodGet, "/api/analyses/"+saved.ID, nil, "")
	require.Equal(t, http.StatusOK, rr.Code)
	var got model.Analysis
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &got))
	assert.Equal(t, saved.ID, got.ID)

	rr = a.do(t, http.MethodGet, "/api/analyses/missing", nil, "")
	assert.Equal(t, http.StatusNotFound, rr.Code)
}

func TestRouter_FlagsListAndResolve(t *testing.T) {
	a := newTestAPI(t)
	a.seed(t, "9 Oak Ave", 2400, &model.LearningFlag{
		Priority:        model.FlagPriorityHigh,
		Reason:          "Estimators disagree by 600 sq ft",
		SuggestedAction: "Order a professional measurement",
	})
	a.seed(t, "12 Elm St", 1800, nil)

	rr := a.do(t, http.MethodGet, "/api/flags?open=true", nil, "")
	require.Equal(t, http.StatusOK, rr.Code)
	var flags []model.FlagRecord
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &flags))
	require.Len(t, flags, 1)
	assert.Equal(t, model.FlagPriorityHigh, flags[0].Priority)

	rr = a.do(t, http.MethodPost, "/api/flags/"+flags[0].ID+"/resolve", []byte(`{"measured_area":2310}`), "application/json")
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())

	rr = a.do(t, http.MethodGet, "/api/flags?open=true", nil, "")
	require.Equal(t, http.StatusOK, rr.Code)
	assert.JSONEq(t, `[]`, rr.Body.String())
}

func TestRouter_ResolveFlag_Invalid(t *testing.T) {
	a := newTestAPI(t)

	rr := a.do(t, http.MethodPost, "/api/flags/x/resolve", []byte(`{"measured_area":0}`), "application/json")
	assert.Equal(t, http.StatusBadRequest, rr.Code)

	rr = a.do(t, http.MethodPost, "/api/flags/missing/resolve", []byte(`{"measured_area":2000}`), "application/json")
	assert.Equal(t, http.StatusNotFound, rr.Code)
}

func TestRouter_Metrics(t *testing.T) {
	a := newTestAPI(t)
	a.seed(t, "12 Elm St", 1800, nil)

	rr := a.do(t, http.MethodGet, "/api/metrics", nil, "")

	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	var snap monitoring.MetricsSnapshot
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &snap))
	require.NotNil(t, snap.Store)
	assert.Equal(t, 1, snap.Store.Analyses)
	require.NotNil(t, snap.Analyzer)
}

func TestRouter_Export(t *testing.T) {
	a := newTestAPI(t)
	a.seed(t, "12 Elm St", 1800, nil)

	rr := a.do(t, http.MethodGet, "/api/export", nil, "")

	require.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Header().Get("Content-Disposition"), "roofiq-analyses.xlsx")
	f, err := xlsx.OpenBinary(rr.Body.Bytes())
	require.NoError(t, err)
	sheet, ok := f.Sheet[report.AnalysesSheet]
	require.True(t, ok)
	assert.Len(t, sheet.Rows, 2)
}

func TestRouter_CORS(t *testing.T) {
	a := newTestAPI(t)

	req := httptest.NewRequest(http.MethodOptions, "/api/analyses", nil)
	req.Header.Set("Origin", "https://dashboard.example.com")
	req.Header.Set("Access-Control-Request-Method", http.MethodGet)
	rr := httptest.NewRecorder()
	a.handler.ServeHTTP(rr, req)

	assert.Equal(t, "*", rr.Header().Get("Access-Control-Allow-Origin"))
}
