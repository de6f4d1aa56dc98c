// Package store persists analyses and the learning flags raised for them.
package store

import (
	"context"
	"time"

	"github.com/rotisserie/eris"

	"github.com/ftdcad/roofiq-learn-loop/internal/model"
)

// ErrNotFound is returned when an analysis or flag does not exist.
var ErrNotFound = eris.New("store: not found")

// defaultListLimit caps list queries without an explicit limit.
const defaultListLimit = 100

// AnalysisFilter specifies criteria for listing analyses.
type AnalysisFilter struct {
	NormalizedAddress string                `json:"normalized_address,omitempty"`
	Confidence        model.ConfidenceLevel `json:"confidence,omitempty"`
	Since             time.Time             `json:"since,omitempty"`
	Limit             int                   `json:"limit,omitempty"`
	Offset            int                   `json:"offset,omitempty"`
}

// FlagFilter specifies criteria for listing learning flags.
type FlagFilter struct {
	Priority       model.FlagPriority `json:"priority,omitempty"`
	UnresolvedOnly bool               `json:"unresolved_only,omitempty"`
	Limit          int                `json:"limit,omitempty"`
	Offset         int                `json:"offset,omitempty"`
}

// Summary aggregates stored analyses and flags.
type Summary struct {
	Analyses      int                           `json:"analyses"`
	ByConfidence  map[model.ConfidenceLevel]int `json:"by_confidence"`
	MeanEstimate  float64                       `json:"mean_estimate"`
	MeanAgreement float64                       `json:"mean_agreement"`
	OpenFlags     int                           `json:"open_flags"`
	ResolvedFlags int                           `json:"resolved_flags"`
	// MeanAbsPctError compares consensus estimates with professional
	// measurements recorded on resolved flags.
	MeanAbsPctError float64 `json:"mean_abs_pct_error"`
}

// Store defines the persistence interface for analyses.
type Store interface {
	// Analyses
	SaveAnalysis(ctx context.Context, a *model.Analysis) error
	GetAnalysis(ctx context.Context, id string) (*model.Analysis, error)
	ListAnalyses(ctx context.Context, filter AnalysisFilter) ([]model.Analysis, error)

	// Learning flags
	ListLearningFlags(ctx context.Context, filter FlagFilter) ([]model.FlagRecord, error)
	ResolveLearningFlag(ctx context.Context, id string, measuredArea float64) error

	Summary(ctx context.Context) (*Summary, error)

	// Lifecycle
	Migrate(ctx context.Context) error
	Close() error
}

// prepareAnalysis assigns an ID and timestamp when missing.
func prepareAnalysis(a *model.Analysis, newID func() string, now time.Time) error {
	if a == nil {
		return eris.New("store: nil analysis")
	}
	if a.ID == "" {
		a.ID = newID()
	}
	if a.CreatedAt.IsZero() {
		a.CreatedAt = now
	}
	return nil
}

// flagRecord builds the stored flag for an analysis, or nil when none was raised.
func flagRecord(a *model.Analysis, newID func() string) *model.FlagRecord {
	lf := a.Result.LearningFlag
	if lf == nil {
		return nil
	}
	return &model.FlagRecord{
		ID:         newID(),
		AnalysisID: a.ID,
		Address:    a.Address,
		Priority:   lf.Priority,
		Reason:     lf.Reason,
		Action:     lf.SuggestedAction,
		CreatedAt:  a.CreatedAt,
	}
}

func validMeasurement(area float64) error {
	if !(area > 0) {
		return eris.Errorf("store: measured area must be positive, got %v", area)
	}
	return nil
}

func listLimit(n int) int {
	if n <= 0 {
		return defaultListLimit
	}
	return n
}

// Summary queries are portable between SQLite and Postgres.
const (
	summaryTotalsSQL     = `SELECT COUNT(*), COALESCE(AVG(estimate), 0), COALESCE(AVG(model_agreement), 0) FROM analyses`
	summaryConfidenceSQL = `SELECT confidence, COUNT(*) FROM analyses GROUP BY confidence`
	summaryFlagsSQL      = `SELECT COALESCE(SUM(CASE WHEN resolved_at IS NULL THEN 1 ELSE 0 END), 0), COALESCE(SUM(CASE WHEN resolved_at IS NOT NULL THEN 1 ELSE 0 END), 0) FROM learning_flags`
	summaryAccuracySQL   = `SELECT COALESCE(AVG(ABS(a.estimate - f.measured_area) / f.measured_area), 0) FROM learning_flags f JOIN analyses a ON a.id = f.analysis_id WHERE f.measured_area IS NOT NULL`
	analysisColumns      = `id, address, normalized_address, latitude, longitude, result, created_at`
	flagColumns          = `id, analysis_id, address, priority, reason, action, measured_area, resolved_at, created_at`
)
