package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"

	"github.com/sells-group/scraper-orchestrator/internal/db"
	"github.com/sells-group/scraper-orchestrator/internal/model"
)

// PostgresStore implements Store using pgxpool.
type PostgresStore struct {
	pool db.Pool
}

// PoolConfig holds optional connection pool tuning parameters.
type PoolConfig struct {
	MaxConns int32 `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns int32 `yaml:"min_conns" mapstructure:"min_conns"`
}

var (
	pgUpsertScraper = db.MustUpsertSQL(db.Postgres, db.UpsertConfig{
		Table:        "scrapers",
		Columns:      []string{"name", "type", "enabled", "config", "updated_at"},
		ConflictKeys: []string{"name"},
	})
	pgUpsertSetting = db.MustUpsertSQL(db.Postgres, db.UpsertConfig{
		Table:        "settings",
		Columns:      []string{"key", "value", "updated_at"},
		ConflictKeys: []string{"key"},
	})
	pgUpsertAnalysis = db.MustUpsertSQL(db.Postgres, db.UpsertConfig{
		Table:        "analyses",
		Columns:      []string{"analysis_filename", "source_filename", "model", "record", "analyzed_at"},
		ConflictKeys: []string{"analysis_filename"},
	})
)

// NewPostgres creates a PostgresStore with a connection pool.
func NewPostgres(ctx context.Context, connString string, poolCfg *PoolConfig) (*PostgresStore, error) {
	pgxCfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: parse config")
	}

	maxConns := int32(10)
	minConns := int32(2)
	if poolCfg != nil {
		if poolCfg.MaxConns > 0 {
			maxConns = poolCfg.MaxConns
		}
		if poolCfg.MinConns > 0 {
			minConns = poolCfg.MinConns
		}
	}
	pgxCfg.MaxConns = maxConns
	pgxCfg.MinConns = minConns
	pgxCfg.MaxConnLifetime = 30 * time.Minute
	pgxCfg.MaxConnIdleTime = 5 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, pgxCfg)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: create pool")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, eris.Wrap(err, "postgres: ping")
	}
	return &PostgresStore{pool: pool}, nil
}

// NewPostgresFromPool wraps an existing pool.
func NewPostgresFromPool(pool db.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

const postgresMigration = `
CREATE TABLE IF NOT EXISTS runs (
	seq        BIGSERIAL PRIMARY KEY,
	id         TEXT NOT NULL UNIQUE,
	scraper    TEXT NOT NULL,
	run_type   TEXT NOT NULL,
	status     TEXT NOT NULL,
	data_count INTEGER NOT NULL DEFAULT 0,
	filename   TEXT,
	result     JSONB NOT NULL,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS scrapers (
	name       TEXT PRIMARY KEY,
	type       TEXT NOT NULL,
	enabled    BOOLEAN NOT NULL,
	config     JSONB NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS settings (
	key        TEXT PRIMARY KEY,
	value      TEXT NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS analyses (
	analysis_filename TEXT PRIMARY KEY,
	source_filename   TEXT NOT NULL,
	model             TEXT NOT NULL,
	record            JSONB NOT NULL,
	analyzed_at       TIMESTAMPTZ NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_runs_created_at ON runs(created_at DESC, seq DESC);
CREATE INDEX IF NOT EXISTS idx_runs_scraper ON runs(scraper);
CREATE INDEX IF NOT EXISTS idx_runs_status ON runs(status);
CREATE INDEX IF NOT EXISTS idx_analyses_source ON analyses(source_filename, analyzed_at DESC);
`

func (s *PostgresStore) Ping(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, "SELECT 1")
	return eris.Wrap(err, "postgres: ping")
}

func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, postgresMigration)
	return eris.Wrap(err, "postgres: migrate")
}

func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}

func (s *PostgresStore) RecordRun(ctx context.Context, run *model.RunResult) error {
	if run.ID == "" {
		run.ID = uuid.New().String()
	}
	if run.Timestamp.IsZero() {
		run.Timestamp = time.Now().UTC()
	}
	resultJSON, err := json.Marshal(run)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal run")
	}

	var filename *string
	if run.Filename != "" {
		filename = &run.Filename
	}
	_, err = s.pool.Exec(ctx,
		`INSERT INTO runs (id, scraper, run_type, status, data_count, filename, result, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		run.ID, run.Scraper, string(run.RunType), string(run.Status), run.DataCount,
		filename, resultJSON, run.Timestamp,
	)
	return eris.Wrapf(err, "postgres: insert run %s", run.ID)
}

func pgRunWhere(f RunFilter) (string, []any) {
	where := ` WHERE true`
	var args []any
	if f.Scraper != "" {
		args = append(args, f.Scraper)
		where += fmt.Sprintf(` AND scraper = $%d`, len(args))
	}
	if f.Status != "" {
		args = append(args, string(f.Status))
		where += fmt.Sprintf(` AND status = $%d`, len(args))
	}
	if !f.CreatedAfter.IsZero() {
		args = append(args, f.CreatedAfter)
		where += fmt.Sprintf(` AND created_at >= $%d`, len(args))
	}
	return where, args
}

func (s *PostgresStore) ListRuns(ctx context.Context, filter RunFilter) ([]model.RunResult, error) {
	where, args := pgRunWhere(filter)
	query := `SELECT result FROM runs` + where + ` ORDER BY created_at DESC, seq DESC`

	args = append(args, listLimit(filter))
	query += fmt.Sprintf(` LIMIT $%d`, len(args))
	if filter.Offset > 0 {
		args = append(args, filter.Offset)
		query += fmt.Sprintf(` OFFSET $%d`, len(args))
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list runs")
	}
	defer rows.Close()

	runs := []model.RunResult{}
	for rows.Next() {
		var raw []byte
		if err := rows.Scan(&raw); err != nil {
			return nil, eris.Wrap(err, "postgres: scan run")
		}
		var r model.RunResult
		if err := json.Unmarshal(raw, &r); err != nil {
			return nil, eris.Wrap(err, "postgres: unmarshal run")
		}
		runs = append(runs, r)
	}
	return runs, eris.Wrap(rows.Err(), "postgres: list runs iterate")
}

func (s *PostgresStore) CountRuns(ctx context.Context, filter RunFilter) (int, error) {
	where, args := pgRunWhere(filter)
	var n int
	err := s.pool.QueryRow(ctx, `SELECT COUNT(*) FROM runs`+where, args...).Scan(&n)
	return n, eris.Wrap(err, "postgres: count runs")
}

func (s *PostgresStore) LastRun(ctx context.Context) (*model.RunResult, error) {
	runs, err := s.ListRuns(ctx, RunFilter{Limit: 1})
	if err != nil {
		return nil, err
	}
	if len(runs) == 0 {
		return nil, nil
	}
	return &runs[0], nil
}

func (s *PostgresStore) SaveDescriptor(ctx context.Context, rec model.DescriptorRecord) error {
	if rec.UpdatedAt.IsZero() {
		rec.UpdatedAt = time.Now().UTC()
	}
	_, err := s.pool.Exec(ctx, pgUpsertScraper,
		rec.Name, rec.Type, rec.Enabled, rec.Config, rec.UpdatedAt,
	)
	return eris.Wrapf(err, "postgres: save scraper %s", rec.Name)
}

func (s *PostgresStore) ListDescriptors(ctx context.Context) ([]model.DescriptorRecord, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT name, type, enabled, config, updated_at FROM scrapers ORDER BY name`)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list scrapers")
	}
	defer rows.Close()

	var out []model.DescriptorRecord
	for rows.Next() {
		var rec model.DescriptorRecord
		if err := rows.Scan(&rec.Name, &rec.Type, &rec.Enabled, &rec.Config, &rec.UpdatedAt); err != nil {
			return nil, eris.Wrap(err, "postgres: scan scraper")
		}
		out = append(out, rec)
	}
	return out, eris.Wrap(rows.Err(), "postgres: list scrapers iterate")
}

func (s *PostgresStore) GetSetting(ctx context.Context, key string) (string, bool, error) {
	var v string
	err := s.pool.QueryRow(ctx, `SELECT value FROM settings WHERE key = $1`, key).Scan(&v)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, eris.Wrapf(err, "postgres: get setting %s", key)
	}
	return v, true, nil
}

func (s *PostgresStore) SetSetting(ctx context.Context, key, value string) error {
	_, err := s.pool.Exec(ctx, pgUpsertSetting, key, value, time.Now().UTC())
	return eris.Wrapf(err, "postgres: set setting %s", key)
}

func (s *PostgresStore) SaveAnalysis(ctx context.Context, rec *model.AnalysisRecord) error {
	raw, err := json.Marshal(rec)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal analysis")
	}
	_, err = s.pool.Exec(ctx, pgUpsertAnalysis,
		rec.AnalysisFilename, rec.SourceFilename, rec.Model, raw, rec.AnalyzedAt,
	)
	return eris.Wrapf(err, "postgres: save analysis %s", rec.AnalysisFilename)
}

func (s *PostgresStore) LatestAnalysis(ctx context.Context, sourceFilename string) (*model.AnalysisRecord, error) {
	rec, err := s.scanAnalysis(s.pool.QueryRow(ctx,
		`SELECT record FROM analyses WHERE source_filename = $1
		 ORDER BY analyzed_at DESC LIMIT 1`,
		sourceFilename,
	))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	return rec, err
}

func (s *PostgresStore) GetAnalysis(ctx context.Context, analysisFilename string) (*model.AnalysisRecord, error) {
	rec, err := s.scanAnalysis(s.pool.QueryRow(ctx,
		`SELECT record FROM analyses WHERE analysis_filename = $1`, analysisFilename))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, &model.NotFoundError{Kind: "analysis", Key: analysisFilename}
	}
	return rec, err
}

func (s *PostgresStore) scanAnalysis(row pgx.Row) (*model.AnalysisRecord, error) {
	var raw []byte
	if err := row.Scan(&raw); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, err
		}
		return nil, eris.Wrap(err, "postgres: scan analysis")
	}
	var rec model.AnalysisRecord
	if err := json.Unmarshal(raw, &rec); err != nil {
		return nil, eris.Wrap(err, "postgres: unmarshal analysis")
	}
	return &rec, nil
}
