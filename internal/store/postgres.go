package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"

	"github.com/ftdcad/roofiq-learn-loop/internal/model"
)

// Pool is the subset of pgxpool.Pool the store uses. pgxmock satisfies it.
type Pool interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Begin(ctx context.Context) (pgx.Tx, error)
}

// PostgresStore implements Store using pgxpool.
type PostgresStore struct {
	pool    Pool
	closeFn func()
	now     func() time.Time
	newID   func() string
}

// NewPostgres creates a PostgresStore with a connection pool.
func NewPostgres(ctx context.Context, connString string) (*PostgresStore, error) {
	cfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: parse config")
	}
	cfg.MaxConns = 10
	cfg.MinConns = 1
	cfg.MaxConnLifetime = 30 * time.Minute
	cfg.MaxConnIdleTime = 5 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: create pool")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, eris.Wrap(err, "postgres: ping")
	}
	return newPostgresStore(pool, pool.Close), nil
}

func newPostgresStore(pool Pool, closeFn func()) *PostgresStore {
	return &PostgresStore{
		pool:    pool,
		closeFn: closeFn,
		now:     func() time.Time { return time.Now().UTC() },
		newID:   uuid.NewString,
	}
}

const postgresMigration = `
CREATE TABLE IF NOT EXISTS analyses (
	id                 TEXT PRIMARY KEY,
	address            TEXT NOT NULL,
	normalized_address TEXT NOT NULL,
	latitude           DOUBLE PRECISION NOT NULL DEFAULT 0,
	longitude          DOUBLE PRECISION NOT NULL DEFAULT 0,
	estimate           DOUBLE PRECISION NOT NULL,
	confidence         TEXT NOT NULL,
	model_agreement    DOUBLE PRECISION NOT NULL,
	result             JSONB NOT NULL,
	created_at         TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_analyses_normalized_address ON analyses(normalized_address);
CREATE INDEX IF NOT EXISTS idx_analyses_created_at ON analyses(created_at DESC);

CREATE TABLE IF NOT EXISTS learning_flags (
	id            TEXT PRIMARY KEY,
	analysis_id   TEXT NOT NULL REFERENCES analyses(id) ON DELETE CASCADE,
	address       TEXT NOT NULL,
	priority      TEXT NOT NULL,
	reason        TEXT NOT NULL,
	action        TEXT NOT NULL,
	measured_area DOUBLE PRECISION,
	resolved_at   TIMESTAMPTZ,
	created_at    TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_learning_flags_analysis_id ON learning_flags(analysis_id);
CREATE INDEX IF NOT EXISTS idx_learning_flags_open ON learning_flags(priority, created_at DESC) WHERE resolved_at IS NULL;
`

// pgAnalysisColumns reads the JSONB result as text so scanAnalysis is shared.
const pgAnalysisColumns = `id, address, normalized_address, latitude, longitude, result::text, created_at`

func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, postgresMigration)
	return eris.Wrap(err, "postgres: migrate")
}

func (s *PostgresStore) Close() error {
	if s.closeFn != nil {
		s.closeFn()
	}
	return nil
}

func (s *PostgresStore) SaveAnalysis(ctx context.Context, a *model.Analysis) error {
	if err := prepareAnalysis(a, s.newID, s.now()); err != nil {
		return err
	}
	resultJSON, err := json.Marshal(a.Result)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal result")
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return eris.Wrap(err, "postgres: begin tx")
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	_, err = tx.Exec(ctx,
		`INSERT INTO analyses (id, address, normalized_address, latitude, longitude, estimate, confidence, model_agreement, result, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		a.ID, a.Address, a.NormalizedAddress, a.Latitude, a.Longitude,
		a.Result.Estimate, string(a.Result.Confidence), a.Result.ModelAgreement,
		resultJSON, a.CreatedAt,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: insert analysis %s", a.ID)
	}

	if f := flagRecord(a, s.newID); f != nil {
		_, err = tx.Exec(ctx,
			`INSERT INTO learning_flags (id, analysis_id, address, priority, reason, action, created_at)
			 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
			f.ID, f.AnalysisID, f.Address, string(f.Priority), f.Reason, f.Action, f.CreatedAt,
		)
		if err != nil {
			return eris.Wrapf(err, "postgres: insert learning flag for %s", a.ID)
		}
	}

	return eris.Wrap(tx.Commit(ctx), "postgres: commit analysis")
}

func (s *PostgresStore) GetAnalysis(ctx context.Context, id string) (*model.Analysis, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+pgAnalysisColumns+` FROM analyses WHERE id = $1`, id)
	a, err := scanAnalysis(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, eris.Wrapf(ErrNotFound, "postgres: analysis %s", id)
	}
	if err != nil {
		return nil, eris.Wrap(err, "postgres: get analysis")
	}
	return a, nil
}

func (s *PostgresStore) ListAnalyses(ctx context.Context, filter AnalysisFilter) ([]model.Analysis, error) {
	query := `SELECT ` + pgAnalysisColumns + ` FROM analyses WHERE 1=1`
	var args []any
	arg := func(v any) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}

	if filter.NormalizedAddress != "" {
		query += ` AND normalized_address = ` + arg(filter.NormalizedAddress)
	}
	if filter.Confidence != "" {
		query += ` AND confidence = ` + arg(string(filter.Confidence))
	}
	if !filter.Since.IsZero() {
		query += ` AND created_at >= ` + arg(filter.Since.UTC())
	}
	query += ` ORDER BY created_at DESC LIMIT ` + arg(listLimit(filter.Limit))
	if filter.Offset > 0 {
		query += ` OFFSET ` + arg(filter.Offset)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list analyses")
	}
	defer rows.Close()

	var out []model.Analysis
	for rows.Next() {
		a, err := scanAnalysis(rows)
		if err != nil {
			return nil, eris.Wrap(err, "postgres: scan analysis")
		}
		out = append(out, *a)
	}
	return out, eris.Wrap(rows.Err(), "postgres: list analyses iterate")
}

func (s *PostgresStore) ListLearningFlags(ctx context.Context, filter FlagFilter) ([]model.FlagRecord, error) {
	query := `SELECT ` + flagColumns + ` FROM learning_flags WHERE 1=1`
	var args []any
	arg := func(v any) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}

	if filter.Priority != "" {
		query += ` AND priority = ` + arg(string(filter.Priority))
	}
	if filter.UnresolvedOnly {
		query += ` AND resolved_at IS NULL`
	}
	query += ` ORDER BY CASE priority WHEN 'high' THEN 0 ELSE 1 END, created_at DESC LIMIT ` + arg(listLimit(filter.Limit))
	if filter.Offset > 0 {
		query += ` OFFSET ` + arg(filter.Offset)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list learning flags")
	}
	defer rows.Close()

	var out []model.FlagRecord
	for rows.Next() {
		f, err := scanFlag(rows)
		if err != nil {
			return nil, eris.Wrap(err, "postgres: scan learning flag")
		}
		out = append(out, *f)
	}
	return out, eris.Wrap(rows.Err(), "postgres: list learning flags iterate")
}

func (s *PostgresStore) ResolveLearningFlag(ctx context.Context, id string, measuredArea float64) error {
	if err := validMeasurement(measuredArea); err != nil {
		return err
	}
	tag, err := s.pool.Exec(ctx,
		`UPDATE learning_flags SET measured_area = $1, resolved_at = $2 WHERE id = $3 AND resolved_at IS NULL`,
		measuredArea, s.now(), id,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: resolve learning flag %s", id)
	}
	if tag.RowsAffected() == 0 {
		return eris.Wrapf(ErrNotFound, "postgres: open learning flag %s", id)
	}
	return nil
}

func (s *PostgresStore) Summary(ctx context.Context) (*Summary, error) {
	sum := &Summary{ByConfidence: make(map[model.ConfidenceLevel]int)}

	if err := s.pool.QueryRow(ctx, summaryTotalsSQL).Scan(&sum.Analyses, &sum.MeanEstimate, &sum.MeanAgreement); err != nil {
		return nil, eris.Wrap(err, "postgres: summary totals")
	}

	rows, err := s.pool.Query(ctx, summaryConfidenceSQL)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: summary confidence")
	}
	for rows.Next() {
		var level string
		var n int
		if err := rows.Scan(&level, &n); err != nil {
			rows.Close()
			return nil, eris.Wrap(err, "postgres: scan confidence")
		}
		sum.ByConfidence[model.ConfidenceLevel(level)] = n
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, eris.Wrap(err, "postgres: summary confidence iterate")
	}

	if err := s.pool.QueryRow(ctx, summaryFlagsSQL).Scan(&sum.OpenFlags, &sum.ResolvedFlags); err != nil {
		return nil, eris.Wrap(err, "postgres: summary flags")
	}
	if err := s.pool.QueryRow(ctx, summaryAccuracySQL).Scan(&sum.MeanAbsPctError); err != nil {
		return nil, eris.Wrap(err, "postgres: summary accuracy")
	}
	return sum, nil
}
