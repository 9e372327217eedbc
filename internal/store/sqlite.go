package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"

	"github.com/sells-group/scraper-orchestrator/internal/db"
	"github.com/sells-group/scraper-orchestrator/internal/model"
)

// SQLiteStore implements Store using modernc.org/sqlite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite opens a SQLite database at the given path and configures WAL mode.
func NewSQLite(dsn string) (*SQLiteStore, error) {
	conn, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
	} {
		if _, err := conn.Exec(pragma); err != nil {
			conn.Close() //nolint:errcheck
			return nil, eris.Wrapf(err, "sqlite: exec %s", pragma)
		}
	}
	return &SQLiteStore{db: conn}, nil
}

// Timestamps are stored as unix nanoseconds so ordering within one second
// stays stable.
const sqliteMigration = `
CREATE TABLE IF NOT EXISTS runs (
	seq        INTEGER PRIMARY KEY AUTOINCREMENT,
	id         TEXT NOT NULL UNIQUE,
	scraper    TEXT NOT NULL,
	run_type   TEXT NOT NULL,
	status     TEXT NOT NULL,
	data_count INTEGER NOT NULL DEFAULT 0,
	filename   TEXT,
	result     TEXT NOT NULL,
	created_at INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS scrapers (
	name       TEXT PRIMARY KEY,
	type       TEXT NOT NULL,
	enabled    INTEGER NOT NULL,
	config     TEXT NOT NULL,
	updated_at INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS settings (
	key        TEXT PRIMARY KEY,
	value      TEXT NOT NULL,
	updated_at INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS analyses (
	analysis_filename TEXT PRIMARY KEY,
	source_filename   TEXT NOT NULL,
	model             TEXT NOT NULL,
	record            TEXT NOT NULL,
	analyzed_at       INTEGER NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_runs_created_at ON runs(created_at);
CREATE INDEX IF NOT EXISTS idx_runs_scraper ON runs(scraper);
CREATE INDEX IF NOT EXISTS idx_runs_status ON runs(status);
CREATE INDEX IF NOT EXISTS idx_analyses_source ON analyses(source_filename, analyzed_at);
`

var (
	sqliteUpsertScraper = db.MustUpsertSQL(db.SQLite, db.UpsertConfig{
		Table:        "scrapers",
		Columns:      []string{"name", "type", "enabled", "config", "updated_at"},
		ConflictKeys: []string{"name"},
	})
	sqliteUpsertSetting = db.MustUpsertSQL(db.SQLite, db.UpsertConfig{
		Table:        "settings",
		Columns:      []string{"key", "value", "updated_at"},
		ConflictKeys: []string{"key"},
	})
	sqliteUpsertAnalysis = db.MustUpsertSQL(db.SQLite, db.UpsertConfig{
		Table:        "analyses",
		Columns:      []string{"analysis_filename", "source_filename", "model", "record", "analyzed_at"},
		ConflictKeys: []string{"analysis_filename"},
	})
)

func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "sqlite: migrate")
}

func (s *SQLiteStore) Ping(ctx context.Context) error {
	return eris.Wrap(s.db.PingContext(ctx), "sqlite: ping")
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) RecordRun(ctx context.Context, run *model.RunResult) error {
	if run.ID == "" {
		run.ID = uuid.New().String()
	}
	if run.Timestamp.IsZero() {
		run.Timestamp = time.Now().UTC()
	}
	resultJSON, err := json.Marshal(run)
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal run")
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO runs (id, scraper, run_type, status, data_count, filename, result, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		run.ID, run.Scraper, string(run.RunType), string(run.Status), run.DataCount,
		nullString(run.Filename), string(resultJSON), run.Timestamp.UnixNano(),
	)
	return eris.Wrapf(err, "sqlite: insert run %s", run.ID)
}

func runWhere(f RunFilter) (string, []any) {
	where := ` WHERE 1=1`
	var args []any
	if f.Scraper != "" {
		where += ` AND scraper = ?`
		args = append(args, f.Scraper)
	}
	if f.Status != "" {
		where += ` AND status = ?`
		args = append(args, string(f.Status))
	}
	if !f.CreatedAfter.IsZero() {
		where += ` AND created_at >= ?`
		args = append(args, f.CreatedAfter.UnixNano())
	}
	return where, args
}

func (s *SQLiteStore) ListRuns(ctx context.Context, filter RunFilter) ([]model.RunResult, error) {
	where, args := runWhere(filter)
	query := `SELECT result FROM runs` + where + ` ORDER BY created_at DESC, seq DESC LIMIT ?`
	args = append(args, listLimit(filter))
	if filter.Offset > 0 {
		query += ` OFFSET ?`
		args = append(args, filter.Offset)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list runs")
	}
	defer rows.Close() //nolint:errcheck

	runs := []model.RunResult{}
	for rows.Next() {
		var raw string
		if err := rows.Scan(&raw); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan run")
		}
		var r model.RunResult
		if err := json.Unmarshal([]byte(raw), &r); err != nil {
			return nil, eris.Wrap(err, "sqlite: unmarshal run")
		}
		runs = append(runs, r)
	}
	return runs, eris.Wrap(rows.Err(), "sqlite: list runs iterate")
}

func (s *SQLiteStore) CountRuns(ctx context.Context, filter RunFilter) (int, error) {
	where, args := runWhere(filter)
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM runs`+where, args...).Scan(&n)
	return n, eris.Wrap(err, "sqlite: count runs")
}

func (s *SQLiteStore) LastRun(ctx context.Context) (*model.RunResult, error) {
	runs, err := s.ListRuns(ctx, RunFilter{Limit: 1})
	if err != nil {
		return nil, err
	}
	if len(runs) == 0 {
		return nil, nil
	}
	return &runs[0], nil
}

func (s *SQLiteStore) SaveDescriptor(ctx context.Context, rec model.DescriptorRecord) error {
	if rec.UpdatedAt.IsZero() {
		rec.UpdatedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx, sqliteUpsertScraper,
		rec.Name, rec.Type, rec.Enabled, string(rec.Config), rec.UpdatedAt.UnixNano(),
	)
	return eris.Wrapf(err, "sqlite: save scraper %s", rec.Name)
}

func (s *SQLiteStore) ListDescriptors(ctx context.Context) ([]model.DescriptorRecord, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT name, type, enabled, config, updated_at FROM scrapers ORDER BY name`)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list scrapers")
	}
	defer rows.Close() //nolint:errcheck

	var out []model.DescriptorRecord
	for rows.Next() {
		var (
			rec     model.DescriptorRecord
			config  string
			updated int64
		)
		if err := rows.Scan(&rec.Name, &rec.Type, &rec.Enabled, &config, &updated); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan scraper")
		}
		rec.Config = []byte(config)
		rec.UpdatedAt = time.Unix(0, updated).UTC()
		out = append(out, rec)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: list scrapers iterate")
}

func (s *SQLiteStore) GetSetting(ctx context.Context, key string) (string, bool, error) {
	var v string
	err := s.db.QueryRowContext(ctx, `SELECT value FROM settings WHERE key = ?`, key).Scan(&v)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, eris.Wrapf(err, "sqlite: get setting %s", key)
	}
	return v, true, nil
}

func (s *SQLiteStore) SetSetting(ctx context.Context, key, value string) error {
	_, err := s.db.ExecContext(ctx, sqliteUpsertSetting, key, value, time.Now().UTC().UnixNano())
	return eris.Wrapf(err, "sqlite: set setting %s", key)
}

func (s *SQLiteStore) SaveAnalysis(ctx context.Context, rec *model.AnalysisRecord) error {
	raw, err := json.Marshal(rec)
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal analysis")
	}
	_, err = s.db.ExecContext(ctx, sqliteUpsertAnalysis,
		rec.AnalysisFilename, rec.SourceFilename, rec.Model, string(raw), rec.AnalyzedAt.UnixNano(),
	)
	return eris.Wrapf(err, "sqlite: save analysis %s", rec.AnalysisFilename)
}

func (s *SQLiteStore) LatestAnalysis(ctx context.Context, sourceFilename string) (*model.AnalysisRecord, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT record FROM analyses WHERE source_filename = ?
		 ORDER BY analyzed_at DESC LIMIT 1`,
		sourceFilename,
	)
	rec, err := scanAnalysis(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return rec, err
}

func (s *SQLiteStore) GetAnalysis(ctx context.Context, analysisFilename string) (*model.AnalysisRecord, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT record FROM analyses WHERE analysis_filename = ?`, analysisFilename)
	rec, err := scanAnalysis(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, &model.NotFoundError{Kind: "analysis", Key: analysisFilename}
	}
	return rec, err
}

// helpers

type scannable interface {
	Scan(dest ...any) error
}

func scanAnalysis(row scannable) (*model.AnalysisRecord, error) {
	var raw string
	if err := row.Scan(&raw); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, eris.Wrap(err, "sqlite: scan analysis")
	}
	var rec model.AnalysisRecord
	if err := json.Unmarshal([]byte(raw), &rec); err != nil {
		return nil, eris.Wrap(err, "sqlite: unmarshal analysis")
	}
	return &rec, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
