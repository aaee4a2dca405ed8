package stepflow

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "github.com/lib/pq"
)

// PostgresResultLogger persists step and run results to Postgres, giving run
// history durability beyond a single process. Workflow memory itself is
// never persisted; each run still starts from a fresh in-memory store.
type PostgresResultLogger struct {
	db *sql.DB
}

const postgresResultSchema = `
CREATE TABLE IF NOT EXISTS workflow_runs (
	run_id        TEXT PRIMARY KEY,
	workflow_name TEXT NOT NULL,
	succeeded     BOOLEAN NOT NULL,
	started_at    TIMESTAMPTZ NOT NULL,
	finished_at   TIMESTAMPTZ NOT NULL,
	duration_ms   BIGINT NOT NULL,
	final_memory  JSONB NOT NULL DEFAULT '{}'
);
CREATE TABLE IF NOT EXISTS workflow_step_results (
	id         BIGSERIAL PRIMARY KEY,
	run_id     TEXT NOT NULL,
	step_name  TEXT NOT NULL,
	attempts   INTEGER NOT NULL,
	exit_code  INTEGER NOT NULL,
	stdout     TEXT NOT NULL DEFAULT '',
	stderr     TEXT NOT NULL DEFAULT '',
	succeeded  BOOLEAN NOT NULL,
	duration_ms BIGINT NOT NULL,
	error      TEXT NOT NULL DEFAULT '',
	started_at TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS workflow_step_results_run_id ON workflow_step_results (run_id);
`

// NewPostgresResultLogger wraps an existing database handle, creating the
// result tables if they do not exist.
func NewPostgresResultLogger(ctx context.Context, db *sql.DB) (*PostgresResultLogger, error) {
	if db == nil {
		return nil, fmt.Errorf("database handle is required")
	}
	if _, err := db.ExecContext(ctx, postgresResultSchema); err != nil {
		return nil, fmt.Errorf("failed to create result tables: %w", err)
	}
	return &PostgresResultLogger{db: db}, nil
}

// OpenPostgresResultLogger opens a Postgres connection for the given DSN and
// wraps it in a PostgresResultLogger.
func OpenPostgresResultLogger(ctx context.Context, dsn string) (*PostgresResultLogger, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open postgres connection: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping postgres: %w", err)
	}
	logger, err := NewPostgresResultLogger(ctx, db)
	if err != nil {
		db.Close()
		return nil, err
	}
	return logger, nil
}

// Close closes the underlying database handle.
func (l *PostgresResultLogger) Close() error {
	return l.db.Close()
}

func (l *PostgresResultLogger) LogStepResult(ctx context.Context, runID string, result *StepResult) error {
	_, err := l.db.ExecContext(ctx, `
		INSERT INTO workflow_step_results
			(run_id, step_name, attempts, exit_code, stdout, stderr, succeeded, duration_ms, error, started_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		runID, result.StepName, result.Attempts, result.ExitCode,
		result.Stdout, result.Stderr, result.Succeeded,
		result.Duration.Milliseconds(), result.Error, result.StartTime)
	if err != nil {
		return fmt.Errorf("failed to insert step result: %w", err)
	}
	return nil
}

func (l *PostgresResultLogger) LogRunResult(ctx context.Context, result *WorkflowResult) error {
	finalMemory, err := json.Marshal(result.FinalMemory)
	if err != nil {
		return fmt.Errorf("failed to encode final memory: %w", err)
	}
	_, err = l.db.ExecContext(ctx, `
		INSERT INTO workflow_runs
			(run_id, workflow_name, succeeded, started_at, finished_at, duration_ms, final_memory)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (run_id) DO UPDATE SET
			succeeded = EXCLUDED.succeeded,
			finished_at = EXCLUDED.finished_at,
			duration_ms = EXCLUDED.duration_ms,
			final_memory = EXCLUDED.final_memory`,
		result.RunID, result.WorkflowName, result.Succeeded,
		result.StartTime, result.EndTime, result.Duration.Milliseconds(),
		finalMemory)
	if err != nil {
		return fmt.Errorf("failed to insert run result: %w", err)
	}
	return nil
}

// StepHistory reads back the step results recorded for a run, in insertion
// order.
func (l *PostgresResultLogger) StepHistory(ctx context.Context, runID string) ([]*StepResult, error) {
	rows, err := l.db.QueryContext(ctx, `
		SELECT step_name, attempts, exit_code, stdout, stderr, succeeded, duration_ms, error, started_at
		FROM workflow_step_results
		WHERE run_id = $1
		ORDER BY id`, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to query step results: %w", err)
	}
	defer rows.Close()

	var results []*StepResult
	for rows.Next() {
		var result StepResult
		var durationMS int64
		if err := rows.Scan(&result.StepName, &result.Attempts, &result.ExitCode,
			&result.Stdout, &result.Stderr, &result.Succeeded,
			&durationMS, &result.Error, &result.StartTime); err != nil {
			return nil, fmt.Errorf("failed to scan step result: %w", err)
		}
		result.Duration = time.Duration(durationMS) * time.Millisecond
		results = append(results, &result)
	}
	return results, rows.Err()
}
