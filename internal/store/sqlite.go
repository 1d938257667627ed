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

	"github.com/adamdsmith/fwspp/internal/model"
)

// SQLiteStore implements Store using modernc.org/sqlite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite opens a SQLite database at the given path and configures WAL mode.
func NewSQLite(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
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
	return &SQLiteStore{db: db}, nil
}

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS runs (
	id         TEXT PRIMARY KEY,
	status     TEXT NOT NULL DEFAULT 'running',
	config     TEXT NOT NULL,
	summary    TEXT,
	created_at DATETIME NOT NULL DEFAULT (datetime('now')),
	updated_at DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE TABLE IF NOT EXISTS run_properties (
	run_id         TEXT NOT NULL REFERENCES runs(id),
	property       TEXT NOT NULL,
	status         TEXT NOT NULL,
	records        INTEGER NOT NULL DEFAULT 0,
	raw_count      INTEGER NOT NULL DEFAULT 0,
	failed_sources TEXT,
	notes          TEXT,
	error          TEXT,
	elapsed_ms     INTEGER NOT NULL DEFAULT 0,
	created_at     DATETIME NOT NULL DEFAULT (datetime('now')),
	PRIMARY KEY (run_id, property)
);

CREATE INDEX IF NOT EXISTS idx_runs_status ON runs(status);
CREATE INDEX IF NOT EXISTS idx_runs_created_at ON runs(created_at);
`

func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "sqlite: migrate")
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) CreateRun(ctx context.Context, cfg model.RunConfig) (*model.Run, error) {
	id := uuid.New().String()
	now := time.Now().UTC()

	cfgJSON, err := json.Marshal(cfg)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: marshal run config")
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO runs (id, status, config, created_at, updated_at) VALUES (?, ?, ?, ?, ?)`,
		id, string(model.RunStatusRunning), string(cfgJSON), now, now,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: insert run")
	}

	return &model.Run{
		ID:        id,
		Status:    model.RunStatusRunning,
		Config:    cfg,
		CreatedAt: now,
		UpdatedAt: now,
	}, nil
}

func (s *SQLiteStore) CompleteRun(ctx context.Context, runID string, status model.RunStatus, summary model.RunSummary) error {
	summaryJSON, err := json.Marshal(summary)
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal summary")
	}

	res, err := s.db.ExecContext(ctx,
		`UPDATE runs SET status = ?, summary = ?, updated_at = ? WHERE id = ?`,
		string(status), string(summaryJSON), time.Now().UTC(), runID,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: complete run %s", runID)
	}
	return checkRowsAffected(res, runID)
}

func (s *SQLiteStore) GetRun(ctx context.Context, runID string) (*model.Run, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, status, config, summary, created_at, updated_at FROM runs WHERE id = ?`,
		runID,
	)
	return scanRun(row)
}

func (s *SQLiteStore) ListRuns(ctx context.Context, filter RunFilter) ([]model.Run, error) {
	query := `SELECT id, status, config, summary, created_at, updated_at FROM runs WHERE 1=1`
	var args []any

	if filter.Status != "" {
		query += ` AND status = ?`
		args = append(args, string(filter.Status))
	}
	query += ` ORDER BY created_at DESC`

	query += ` LIMIT ?`
	args = append(args, listLimit(filter.Limit))

	if filter.Offset > 0 {
		query += ` OFFSET ?`
		args = append(args, filter.Offset)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list runs")
	}
	defer rows.Close() //nolint:errcheck

	var runs []model.Run
	for rows.Next() {
		r, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, *r)
	}
	return runs, eris.Wrap(rows.Err(), "sqlite: list runs iterate")
}

func (s *SQLiteStore) RecordProperty(ctx context.Context, runID string, result *model.PropertyResult) error {
	entry := result.LogEntry(runID)
	failedJSON, notesJSON, err := marshalLists(entry)
	if err != nil {
		return err
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO run_properties (run_id, property, status, records, raw_count, failed_sources, notes, error, elapsed_ms, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT (run_id, property) DO UPDATE SET
			status = excluded.status,
			records = excluded.records,
			raw_count = excluded.raw_count,
			failed_sources = excluded.failed_sources,
			notes = excluded.notes,
			error = excluded.error,
			elapsed_ms = excluded.elapsed_ms`,
		entry.RunID, entry.Property, string(entry.Status), entry.Records, entry.RawCount,
		failedJSON, notesJSON, entry.Error, entry.ElapsedMs, time.Now().UTC(),
	)
	return eris.Wrapf(err, "sqlite: record property %q", result.Property)
}

func (s *SQLiteStore) ListProperties(ctx context.Context, runID string) ([]model.PropertyLog, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT run_id, property, status, records, raw_count, failed_sources, notes, error, elapsed_ms, created_at
		 FROM run_properties WHERE run_id = ? ORDER BY property`,
		runID,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list properties")
	}
	defer rows.Close() //nolint:errcheck

	var out []model.PropertyLog
	for rows.Next() {
		var (
			p             model.PropertyLog
			failed, notes sql.NullString
			errText       sql.NullString
		)
		if err := rows.Scan(&p.RunID, &p.Property, &p.Status, &p.Records, &p.RawCount,
			&failed, &notes, &errText, &p.ElapsedMs, &p.CreatedAt); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan property")
		}
		p.Error = errText.String
		if err := unmarshalList(failed.String, &p.FailedSources); err != nil {
			return nil, err
		}
		if err := unmarshalList(notes.String, &p.Notes); err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: list properties iterate")
}

// helpers

func checkRowsAffected(res sql.Result, runID string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return eris.Wrap(err, "rows affected")
	}
	if n == 0 {
		return eris.Wrapf(ErrRunNotFound, "run %s", runID)
	}
	return nil
}

func listLimit(limit int) int {
	if limit <= 0 {
		return 100
	}
	return limit
}

type scannable interface {
	Scan(dest ...any) error
}

func scanRun(row scannable) (*model.Run, error) {
	var r model.Run
	var cfgJSON string
	var summaryJSON sql.NullString

	err := row.Scan(&r.ID, &r.Status, &cfgJSON, &summaryJSON, &r.CreatedAt, &r.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrRunNotFound
	}
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: scan run")
	}
	if err := decodeRun(&r, []byte(cfgJSON), summaryJSON.Valid, []byte(summaryJSON.String)); err != nil {
		return nil, err
	}
	return &r, nil
}

func decodeRun(r *model.Run, cfgJSON []byte, hasSummary bool, summaryJSON []byte) error {
	if err := json.Unmarshal(cfgJSON, &r.Config); err != nil {
		return eris.Wrap(err, "store: unmarshal run config")
	}
	if hasSummary && len(summaryJSON) > 0 {
		r.Summary = &model.RunSummary{}
		if err := json.Unmarshal(summaryJSON, r.Summary); err != nil {
			return eris.Wrap(err, "store: unmarshal run summary")
		}
	}
	return nil
}

func marshalLists(entry model.PropertyLog) (string, string, error) {
	failed, err := json.Marshal(entry.FailedSources)
	if err != nil {
		return "", "", eris.Wrap(err, "store: marshal failed sources")
	}
	notes, err := json.Marshal(entry.Notes)
	if err != nil {
		return "", "", eris.Wrap(err, "store: marshal notes")
	}
	return string(failed), string(notes), nil
}

func unmarshalList(raw string, out *[]string) error {
	if raw == "" || raw == "null" {
		return nil
	}
	return eris.Wrap(json.Unmarshal([]byte(raw), out), "store: unmarshal list")
}
