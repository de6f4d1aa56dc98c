package store

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/golang-migrate/migrate/v4"
	migratesqlite "github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	_ "modernc.org/sqlite"

	"github.com/ftdcad/roofiq-learn-loop/internal/model"
)

//go:embed migrations/sqlite/*.sql
var sqliteMigrations embed.FS

// SQLiteStore implements Store using modernc.org/sqlite.
type SQLiteStore struct {
	db  *sql.DB
	now func() time.Time
}

// NewSQLite opens a SQLite database at the given path and configures WAL mode.
func NewSQLite(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	if strings.Contains(dsn, ":memory:") {
		// Each connection would otherwise get its own empty database.
		db.SetMaxOpenConns(1)
	}
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close() //nolint:errcheck
			return nil, eris.Wrapf(err, "sqlite: exec %s", pragma)
		}
	}
	return &SQLiteStore{db: db, now: func() time.Time { return time.Now().UTC() }}, nil
}

// Migrate applies the embedded migrations.
func (s *SQLiteStore) Migrate(ctx context.Context) error {
	src, err := iofs.New(sqliteMigrations, "migrations/sqlite")
	if err != nil {
		return eris.Wrap(err, "sqlite: open migrations")
	}
	driver, err := migratesqlite.WithInstance(s.db, &migratesqlite.Config{})
	if err != nil {
		return eris.Wrap(err, "sqlite: migration driver")
	}
	m, err := migrate.NewWithInstance("iofs", src, "sqlite", driver)
	if err != nil {
		return eris.Wrap(err, "sqlite: create migrator")
	}
	// m is not closed: that would close s.db.

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return eris.Wrap(err, "sqlite: migrate")
	}
	version, _, err := m.Version()
	if err != nil && !errors.Is(err, migrate.ErrNilVersion) {
		return eris.Wrap(err, "sqlite: migration version")
	}
	zap.L().Debug("sqlite: migrated", zap.Uint("version", version))
	return ctx.Err()
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) SaveAnalysis(ctx context.Context, a *model.Analysis) error {
	if err := prepareAnalysis(a, uuid.NewString, s.now()); err != nil {
		return err
	}
	resultJSON, err := json.Marshal(a.Result)
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal result")
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return eris.Wrap(err, "sqlite: begin tx")
	}
	defer tx.Rollback() //nolint:errcheck

	_, err = tx.ExecContext(ctx,
		`INSERT INTO analyses (id, address, normalized_address, latitude, longitude, estimate, confidence, model_agreement, result, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		a.ID, a.Address, a.NormalizedAddress, a.Latitude, a.Longitude,
		a.Result.Estimate, string(a.Result.Confidence), a.Result.ModelAgreement,
		string(resultJSON), a.CreatedAt,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: insert analysis %s", a.ID)
	}

	if f := flagRecord(a, uuid.NewString); f != nil {
		_, err = tx.ExecContext(ctx,
			`INSERT INTO learning_flags (id, analysis_id, address, priority, reason, action, created_at)
			 VALUES (?, ?, ?, ?, ?, ?, ?)`,
			f.ID, f.AnalysisID, f.Address, string(f.Priority), f.Reason, f.Action, f.CreatedAt,
		)
		if err != nil {
			return eris.Wrapf(err, "sqlite: insert learning flag for %s", a.ID)
		}
	}

	return eris.Wrap(tx.Commit(), "sqlite: commit analysis")
}

func (s *SQLiteStore) GetAnalysis(ctx context.Context, id string) (*model.Analysis, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+analysisColumns+` FROM analyses WHERE id = ?`, id)
	a, err := scanAnalysis(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, eris.Wrapf(ErrNotFound, "sqlite: analysis %s", id)
	}
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: get analysis")
	}
	return a, nil
}

func (s *SQLiteStore) ListAnalyses(ctx context.Context, filter AnalysisFilter) ([]model.Analysis, error) {
	query := `SELECT ` + analysisColumns + ` FROM analyses WHERE 1=1`
	var args []any

	if filter.NormalizedAddress != "" {
		query += ` AND normalized_address = ?`
		args = append(args, filter.NormalizedAddress)
	}
	if filter.Confidence != "" {
		query += ` AND confidence = ?`
		args = append(args, string(filter.Confidence))
	}
	if !filter.Since.IsZero() {
		query += ` AND created_at >= ?`
		args = append(args, filter.Since.UTC())
	}
	query += ` ORDER BY created_at DESC LIMIT ?`
	args = append(args, listLimit(filter.Limit))
	if filter.Offset > 0 {
		query += ` OFFSET ?`
		args = append(args, filter.Offset)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list analyses")
	}
	defer rows.Close() //nolint:errcheck

	var out []model.Analysis
	for rows.Next() {
		a, err := scanAnalysis(rows)
		if err != nil {
			return nil, eris.Wrap(err, "sqlite: scan analysis")
		}
		out = append(out, *a)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: list analyses iterate")
}

func (s *SQLiteStore) ListLearningFlags(ctx context.Context, filter FlagFilter) ([]model.FlagRecord, error) {
	query := `SELECT ` + flagColumns + ` FROM learning_flags WHERE 1=1`
	var args []any

	if filter.Priority != "" {
		query += ` AND priority = ?`
		args = append(args, string(filter.Priority))
	}
	if filter.UnresolvedOnly {
		query += ` AND resolved_at IS NULL`
	}
	query += ` ORDER BY CASE priority WHEN 'high' THEN 0 ELSE 1 END, created_at DESC LIMIT ?`
	args = append(args, listLimit(filter.Limit))
	if filter.Offset > 0 {
		query += ` OFFSET ?`
		args = append(args, filter.Offset)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list learning flags")
	}
	defer rows.Close() //nolint:errcheck

	var out []model.FlagRecord
	for rows.Next() {
		f, err := scanFlag(rows)
		if err != nil {
			return nil, eris.Wrap(err, "sqlite: scan learning flag")
		}
		out = append(out, *f)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: list learning flags iterate")
}

func (s *SQLiteStore) ResolveLearningFlag(ctx context.Context, id string, measuredArea float64) error {
	if err := validMeasurement(measuredArea); err != nil {
		return err
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE learning_flags SET measured_area = ?, resolved_at = ? WHERE id = ? AND resolved_at IS NULL`,
		measuredArea, s.now(), id,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: resolve learning flag %s", id)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return eris.Wrap(err, "sqlite: rows affected")
	}
	if n == 0 {
		return eris.Wrapf(ErrNotFound, "sqlite: open learning flag %s", id)
	}
	return nil
}

func (s *SQLiteStore) Summary(ctx context.Context) (*Summary, error) {
	sum := &Summary{ByConfidence: make(map[model.ConfidenceLevel]int)}

	if err := s.db.QueryRowContext(ctx, summaryTotalsSQL).Scan(&sum.Analyses, &sum.MeanEstimate, &sum.MeanAgreement); err != nil {
		return nil, eris.Wrap(err, "sqlite: summary totals")
	}

	rows, err := s.db.QueryContext(ctx, summaryConfidenceSQL)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: summary confidence")
	}
	defer rows.Close() //nolint:errcheck
	for rows.Next() {
		var level string
		var n int
		if err := rows.Scan(&level, &n); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan confidence")
		}
		sum.ByConfidence[model.ConfidenceLevel(level)] = n
	}
	if err := rows.Err(); err != nil {
		return nil, eris.Wrap(err, "sqlite: summary confidence iterate")
	}

	if err := s.db.QueryRowContext(ctx, summaryFlagsSQL).Scan(&sum.OpenFlags, &sum.ResolvedFlags); err != nil {
		return nil, eris.Wrap(err, "sqlite: summary flags")
	}
	if err := s.db.QueryRowContext(ctx, summaryAccuracySQL).Scan(&sum.MeanAbsPctError); err != nil {
		return nil, eris.Wrap(err, "sqlite: summary accuracy")
	}
	return sum, nil
}

type scannable interface {
	Scan(dest ...any) error
}

func scanAnalysis(row scannable) (*model.Analysis, error) {
	var a model.Analysis
	var resultJSON string
	if err := row.Scan(&a.ID, &a.Address, &a.NormalizedAddress, &a.Latitude, &a.Longitude, &resultJSON, &a.CreatedAt); err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(resultJSON), &a.Result); err != nil {
		return nil, eris.Wrap(err, "store: unmarshal result")
	}
	return &a, nil
}

func scanFlag(row scannable) (*model.FlagRecord, error) {
	var f model.FlagRecord
	var priority string
	if err := row.Scan(&f.ID, &f.AnalysisID, &f.Address, &priority, &f.Reason, &f.Action, &f.MeasuredArea, &f.ResolvedAt, &f.CreatedAt); err != nil {
		return nil, err
	}
	f.Priority = model.FlagPriority(priority)
	return &f, nil
}
