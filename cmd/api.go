package main

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"go.uber.org/zap"

	"github.com/ftdcad/roofiq-learn-loop/internal/analyzer"
	"github.com/ftdcad/roofiq-learn-loop/internal/model"
	"github.com/ftdcad/roofiq-learn-loop/internal/monitoring"
	"github.com/ftdcad/roofiq-learn-loop/internal/report"
	"github.com/ftdcad/roofiq-learn-loop/internal/store"
)

const (
	defaultMaxUploadBytes = 10 << 20
	maxBatchAddresses     = 500
	requestTimeout        = 3 * time.Minute
)

// api serves the HTTP endpoints over the prediction stack.
type api struct {
	analyzer       *analyzer.Analyzer
	store          store.Store
	collector      *monitoring.Collector
	maxUploadBytes int64
}

// buildRouter wires the routes. allowedOrigins configures CORS.
func buildRouter(a *api, allowedOrigins []string) http.Handler {
	if a.maxUploadBytes <= 0 {
		a.maxUploadBytes = defaultMaxUploadBytes
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: allowedOrigins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"Accept", "Authorization", "Content-Type"},
		MaxAge:         300,
	}))

	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	r.Route("/api", func(r chi.Router) {
		r.Use(middleware.Timeout(requestTimeout))
		r.Post("/predict", a.predict)
		r.Post("/predict/batch", a.predictBatch)
		r.Get("/analyses", a.listAnalyses)
		r.Get("/analyses/{id}", a.getAnalysis)
		r.Get("/flags", a.listFlags)
		r.Post("/flags/{id}/resolve", a.resolveFlag)
		r.Get("/metrics", a.metrics)
		r.Get("/export", a.export)
	})
	return r
}

type predictRequest struct {
	Address string `json:"address"`
}

// predict accepts JSON {"address"} or a multipart form with an address
// field and an optional image file.
func (a *api) predict(w http.ResponseWriter, r *http.Request) {
	var address string
	var image []byte

	if strings.HasPrefix(r.Header.Get("Content-Type"), "multipart/form-data") {
		r.Body = http.MaxBytesReader(w, r.Body, a.maxUploadBytes)
		if err := r.ParseMultipartForm(a.maxUploadBytes); err != nil {
			writeError(w, http.StatusBadRequest, "invalid multipart form")
			return
		}
		address = r.FormValue("address")
		if f, _, err := r.FormFile("image"); err == nil {
			image, err = io.ReadAll(f)
			_ = f.Close()
			if err != nil {
				writeError(w, http.StatusBadRequest, "unreadable image")
				return
			}
		}
	} else {
		var req predictRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}
		address = req.Address
	}

	result, err := a.analyzer.Analyze(r.Context(), address, image)
	if err != nil {
		writeAnalyzeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

type batchRequest struct {
	Addresses []string `json:"addresses"`
}

func (a *api) predictBatch(w http.ResponseWriter, r *http.Request) {
	var req batchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if len(req.Addresses) == 0 {
		writeError(w, http.StatusBadRequest, "addresses is required")
		return
	}
	if len(req.Addresses) > maxBatchAddresses {
		writeError(w, http.StatusBadRequest, "too many addresses (max "+strconv.Itoa(maxBatchAddresses)+")")
		return
	}

	results, err := a.analyzer.AnalyzeBatch(r.Context(), req.Addresses)
	if err != nil {
		writeError(w, http.StatusServiceUnavailable, "batch interrupted")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"results": results})
}

func (a *api) listAnalyses(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := store.AnalysisFilter{
		Confidence: model.ConfidenceLevel(q.Get("confidence")),
	}
	if addr := q.Get("address"); addr != "" {
		filter.NormalizedAddress = analyzer.NormalizeAddress(addr)
	}
	if s := q.Get("since"); s != "" {
		since, err := time.Parse(time.RFC3339, s)
		if err != nil {
			writeError(w, http.StatusBadRequest, "since must be RFC 3339")
			return
		}
		filter.Since = since
	}
	var ok bool
	if filter.Limit, filter.Offset, ok = paging(w, r); !ok {
		return
	}

	analyses, err := a.store.ListAnalyses(r.Context(), filter)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	if analyses == nil {
		analyses = []model.Analysis{}
	}
	writeJSON(w, http.StatusOK, analyses)
}

func (a *api) getAnalysis(w http.ResponseWriter, r *http.Request) {
	an, err := a.store.GetAnalysis(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, an)
}

func (a *api) listFlags(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := store.FlagFilter{
		Priority:       model.FlagPriority(q.Get("priority")),
		UnresolvedOnly: q.Get("open") == "true",
	}
	var ok bool
	if filter.Limit, filter.Offset, ok = paging(w, r); !ok {
		return
	}

	flags, err := a.store.ListLearningFlags(r.Context(), filter)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	if flags == nil {
		flags = []model.FlagRecord{}
	}
	writeJSON(w, http.StatusOK, flags)
}

type resolveRequest struct {
	MeasuredArea float64 `json:"measured_area"`
}

func (a *api) resolveFlag(w http.ResponseWriter, r *http.Request) {
	var req resolveRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if !(req.MeasuredArea > 0) {
		writeError(w, http.StatusBadRequest, "measured_area must be positive")
		return
	}

	id := chi.URLParam(r, "id")
	if err := a.store.ResolveLearningFlag(r.Context(), id, req.MeasuredArea); err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"id": id, "status": "resolved"})
}

func (a *api) metrics(w http.ResponseWriter, r *http.Request) {
	snap, err := a.collector.Collect(r.Context())
	if err != nil {
		zap.L().Error("collect metrics", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "metrics unavailable")
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

func (a *api) export(w http.ResponseWriter, r *http.Request) {
	limit, _, ok := paging(w, r)
	if !ok {
		return
	}
	if limit == 0 {
		limit = exportLimit
	}
	analyses, err := a.store.ListAnalyses(r.Context(), store.AnalysisFilter{Limit: limit})
	if err != nil {
		writeStoreError(w, err)
		return
	}
	flags, err := a.store.ListLearningFlags(r.Context(), store.FlagFilter{Limit: limit})
	if err != nil {
		writeStoreError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet")
	w.Header().Set("Content-Disposition", `attachment; filename="roofiq-analyses.xlsx"`)
	if err := report.Write(w, analyses, flags); err != nil {
		zap.L().Error("write export", zap.Error(err))
	}
}

// paging reads limit and offset query parameters, writing a 400 on bad input.
func paging(w http.ResponseWriter, r *http.Request) (limit, offset int, ok bool) {
	q := r.URL.Query()
	for _, p := range []struct {
		name string
		dst  *int
	}{{"limit", &limit}, {"offset", &offset}} {
		s := q.Get(p.name)
		if s == "" {
			continue
		}
		n, err := strconv.Atoi(s)
		if err != nil || n < 0 {
			writeError(w, http.StatusBadRequest, p.name+" must be a non-negative integer")
			return 0, 0, false
		}
		*p.dst = n
	}
	return limit, offset, true
}

// writeAnalyzeError maps analyzer errors to HTTP statuses: a failed
// estimator is a bad gateway, a blank address a bad request.
func writeAnalyzeError(w http.ResponseWriter, err error) {
	var ce *model.ConsensusError
	switch {
	case errors.Is(err, analyzer.ErrEmptyAddress):
		writeError(w, http.StatusBadRequest, "address is required")
	case errors.As(err, &ce):
		writeJSON(w, http.StatusBadGateway, map[string]string{
			"error":     ce.Error(),
			"estimator": ce.Estimator,
		})
	default:
		zap.L().Error("analyze request failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

func writeStoreError(w http.ResponseWriter, err error) {
	if errors.Is(err, store.ErrNotFound) {
		writeError(w, http.StatusNotFound, "not found")
		return
	}
	zap.L().Error("store request failed", zap.Error(err))
	writeError(w, http.StatusInternalServerError, "internal error")
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
