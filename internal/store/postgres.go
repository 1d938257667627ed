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

	"github.com/adamdsmith/fwspp/internal/model"
)

// Pool is the subset of *pgxpool.Pool the store uses. pgxmock pools satisfy it.
type Pool interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// PostgresStore implements Store using pgxpool.
type PostgresStore struct {
	pool    Pool
	closeFn func()
}

// PoolConfig holds optional connection pool tuning parameters.
type PoolConfig struct {
	MaxConns int32 `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns int32 `yaml:"min_conns" mapstructure:"min_conns"`
}

// NewPostgres creates a PostgresStore with a connection pool.
func NewPostgres(ctx context.Context, connString string, poolCfg *PoolConfig) (*PostgresStore, error) {
	pgxCfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: parse config")
	}

	maxConns := int32(4)
	minConns := int32(1)
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
	return &PostgresStore{pool: pool, closeFn: pool.Close}, nil
}

const postgresMigration = `
CREATE TABLE IF NOT EXISTS runs (
	id         TEXT PRIMARY KEY DEFAULT gen_random_uuid()::text,
	status     TEXT NOT NULL DEFAULT 'running',
	config     JSONB NOT NULL,
	summary    JSONB,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS run_properties (
	run_id         TEXT NOT NULL REFERENCES runs(id),
	property       TEXT NOT NULL,
	status         TEXT NOT NULL,
	records        INTEGER NOT NULL DEFAULT 0,
	raw_count      INTEGER NOT NULL DEFAULT 0,
	failed_sources JSONB,
	notes          JSONB,
	error          TEXT,
	elapsed_ms     BIGINT NOT NULL DEFAULT 0,
	created_at     TIMESTAMPTZ NOT NULL DEFAULT now(),
	PRIMARY KEY (run_id, property)
);

CREATE INDEX IF NOT EXISTS idx_runs_status ON runs(status);
CREATE INDEX IF NOT EXISTS idx_runs_created_at ON runs(created_at DESC);
`

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

func (s *PostgresStore) CreateRun(ctx context.Context, cfg model.RunConfig) (*model.Run, error) {
	id := uuid.New().String()
	now := time.Now().UTC()

	cfgJSON, err := json.Marshal(cfg)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: marshal run config")
	}

	_, err = s.pool.Exec(ctx,
		`INSERT INTO runs (id, status, config, created_at, updated_at) VALUES ($1, $2, $3, $4, $5)`,
		id, string(model.RunStatusRunning), cfgJSON, now, now,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: insert run")
	}

	return &model.Run{
		ID:        id,
		Status:    model.RunStatusRunning,
		Config:    cfg,
		CreatedAt: now,
		UpdatedAt: now,
	}, nil
}

func (s *PostgresStore) CompleteRun(ctx context.Context, runID string, status model.RunStatus, summary model.RunSummary) error {
	summaryJSON, err := json.Marshal(summary)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal summary")
	}

	tag, err := s.pool.Exec(ctx,
		`UPDATE runs SET status = $1, summary = $2, updated_at = $3 WHERE id = $4`,
		string(status), summaryJSON, time.Now().UTC(), runID,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: complete run %s", runID)
	}
	if tag.RowsAffected() == 0 {
		return eris.Wrapf(ErrRunNotFound, "run %s", runID)
	}
	return nil
}

func (s *PostgresStore) GetRun(ctx context.Context, runID string) (*model.Run, error) {
	var r model.Run
	var cfgJSON []byte
	var summaryNull *[]byte

	err := s.pool.QueryRow(ctx,
		`SELECT id, status, config, summary, created_at, updated_at FROM runs WHERE id = $1`,
		runID,
	).Scan(&r.ID, &r.Status, &cfgJSON, &summaryNull, &r.CreatedAt, &r.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrRunNotFound
	}
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: get run %s", runID)
	}
	if err := decodeRun(&r, cfgJSON, summaryNull != nil, deref(summaryNull)); err != nil {
		return nil, err
	}
	return &r, nil
}

func (s *PostgresStore) ListRuns(ctx context.Context, filter RunFilter) ([]model.Run, error) {
	query := `SELECT id, status, config, summary, created_at, updated_at FROM runs WHERE true`
	args := []any{}
	argIdx := 1

	if filter.Status != "" {
		query += fmt.Sprintf(` AND status = $%d`, argIdx)
		args = append(args, string(filter.Status))
		argIdx++
	}
	query += ` ORDER BY created_at DESC`

	query += fmt.Sprintf(` LIMIT $%d`, argIdx)
	args = append(args, listLimit(filter.Limit))
	argIdx++

	if filter.Offset > 0 {
		query += fmt.Sprintf(` OFFSET $%d`, argIdx)
		args = append(args, filter.Offset)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list runs")
	}
	defer rows.Close()

	var runs []model.Run
	for rows.Next() {
		var r model.Run
		var cfgJSON []byte
		var summaryNull *[]byte

		if err := rows.Scan(&r.ID, &r.Status, &cfgJSON, &summaryNull, &r.CreatedAt, &r.UpdatedAt); err != nil {
			return nil, eris.Wrap(err, "postgres: scan run")
		}
		if err := decodeRun(&r, cfgJSON, summaryNull != nil, deref(summaryNull)); err != nil {
			return nil, err
		}
		runs = append(runs, r)
	}
	return runs, eris.Wrap(rows.Err(), "postgres: list runs iterate")
}

func (s *PostgresStore) RecordProperty(ctx context.Context, runID string, result *model.PropertyResult) error {
	entry := result.LogEntry(runID)
	failedJSON, notesJSON, err := marshalLists(entry)
	if err != nil {
		return err
	}

	_, err = s.pool.Exec(ctx,
		`INSERT INTO run_properties (run_id, property, status, records, raw_count, failed_sources, notes, error, elapsed_ms, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		 ON CONFLICT (run_id, property) DO UPDATE SET
			status = EXCLUDED.status,
			records = EXCLUDED.records,
			raw_count = EXCLUDED.raw_count,
			failed_sources = EXCLUDED.failed_sources,
			notes = EXCLUDED.notes,
			error = EXCLUDED.error,
			elapsed_ms = EXCLUDED.elapsed_ms`,
		entry.RunID, entry.Property, string(entry.Status), entry.Records, entry.RawCount,
		failedJSON, notesJSON, entry.Error, entry.ElapsedMs, time.Now().UTC(),
	)
	return eris.Wrapf(err, "postgres: record property %q", result.Property)
}

func (s *PostgresStore) ListProperties(ctx context.Context, runID string) ([]model.PropertyLog, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT run_id, property, status, records, raw_count, failed_sources::text, notes::text, COALESCE(error, ''), elapsed_ms, created_at
		 FROM run_properties WHERE run_id = $1 ORDER BY property`,
		runID,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list properties")
	}
	defer rows.Close()

	var out []model.PropertyLog
	for rows.Next() {
		var p model.PropertyLog
		var failed, notes *string
		if err := rows.Scan(&p.RunID, &p.Property, &p.Status, &p.Records, &p.RawCount,
			&failed, &notes, &p.Error, &p.ElapsedMs, &p.CreatedAt); err != nil {
			return nil, eris.Wrap(err, "postgres: scan property")
		}
		if failed != nil {
			if err := unmarshalList(*failed, &p.FailedSources); err != nil {
				return nil, err
			}
		}
		if notes != nil {
			if err := unmarshalList(*notes, &p.Notes); err != nil {
				return nil, err
			}
		}
		out = append(out, p)
	}
	return out, eris.Wrap(rows.Err(), "postgres: list properties iterate")
}

func deref(b *[]byte) []byte {
	if b == nil {
		return nil
	}
	return *b
}
