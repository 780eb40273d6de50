package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
)

// PostgresStore implements Store using PostgreSQL
type PostgresStore struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewPostgresStore creates a new Postgres store
func NewPostgresStore(url string, logger *slog.Logger) (*PostgresStore, error) {
	db, err := sql.Open("pgx", url)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("pinging database: %w", err)
	}

	return &PostgresStore{db: db, logger: logger}, nil
}

// Close closes the database connection
func (s *PostgresStore) Close() error {
	return s.db.Close()
}

// Migrate runs database migrations
func (s *PostgresStore) Migrate(ctx context.Context) error {
	schema := `
	-- Runs
	CREATE TABLE IF NOT EXISTS verification_runs (
		id UUID PRIMARY KEY,
		network TEXT NOT NULL,
		backend TEXT NOT NULL,
		status TEXT NOT NULL,
		total INTEGER NOT NULL DEFAULT 0,
		succeeded INTEGER NOT NULL DEFAULT 0,
		exhausted INTEGER NOT NULL DEFAULT 0,
		fatal INTEGER NOT NULL DEFAULT 0,
		not_attempted INTEGER NOT NULL DEFAULT 0,
		skipped INTEGER NOT NULL DEFAULT 0,
		started_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		finished_at TIMESTAMPTZ
	);

	-- Per-contract results
	CREATE TABLE IF NOT EXISTS verification_results (
		id UUID PRIMARY KEY,
		run_id UUID NOT NULL REFERENCES verification_runs(id) ON DELETE CASCADE,
		position INTEGER NOT NULL,
		name TEXT NOT NULL,
		contract_id TEXT NOT NULL,
		address TEXT NOT NULL,
		outcome TEXT NOT NULL,
		attempts INTEGER NOT NULL,
		max_attempts INTEGER NOT NULL,
		libraries JSONB,
		diagnostic TEXT,
		error TEXT,
		duration_ms BIGINT NOT NULL,
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		UNIQUE(run_id, name)
	);

	-- Verifier calls
	CREATE TABLE IF NOT EXISTS verification_attempts (
		id UUID PRIMARY KEY,
		run_id UUID NOT NULL REFERENCES verification_runs(id) ON DELETE CASCADE,
		contract_name TEXT NOT NULL,
		number INTEGER NOT NULL,
		kind TEXT NOT NULL,
		libraries JSONB,
		pruned JSONB,
		error TEXT,
		duration_ms BIGINT NOT NULL,
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		UNIQUE(run_id, contract_name, number)
	);

	-- Indexes
	CREATE INDEX IF NOT EXISTS idx_runs_network ON verification_runs(network, started_at DESC);
	CREATE INDEX IF NOT EXISTS idx_results_run ON verification_results(run_id, position);
	`

	_, err := s.db.ExecContext(ctx, schema)
	if err != nil {
		return fmt.Errorf("running migrations: %w", err)
	}

	s.logger.Debug("database migrations complete")
	return nil
}

// CreateRun records the start of a run
func (s *PostgresStore) CreateRun(ctx context.Context, run *Run) error {
	ensureID(&run.ID)
	if run.StartedAt.IsZero() {
		run.StartedAt = time.Now().UTC()
	}
	if run.Status == "" {
		run.Status = RunRunning
	}
	query := `
		INSERT INTO verification_runs (id, network, backend, status, total, skipped, started_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`
	_, err := s.db.ExecContext(ctx, query, run.ID, run.Network, run.Backend, run.Status, run.Total, run.Skipped, run.StartedAt)
	return err
}

// FinishRun stores the final counts and status of a run
func (s *PostgresStore) FinishRun(ctx context.Context, run *Run) error {
	if run.FinishedAt.IsZero() {
		run.FinishedAt = time.Now().UTC()
	}
	query := `
		UPDATE verification_runs
		SET status = $1, total = $2, succeeded = $3, exhausted = $4, fatal = $5, not_attempted = $6, skipped = $7, finished_at = $8
		WHERE id = $9
	`
	res, err := s.db.ExecContext(ctx, query, run.Status, run.Total, run.Succeeded, run.Exhausted, run.Fatal,
		run.NotAttempted, run.Skipped, run.FinishedAt, run.ID)
	if err != nil {
		return err
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrNotFound
	}
	return nil
}

const postgresRunColumns = `id, network, backend, status, total, succeeded, exhausted, fatal, not_attempted, skipped, started_at, finished_at`

// GetRun retrieves a run by ID
func (s *PostgresStore) GetRun(ctx context.Context, id string) (*Run, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+postgresRunColumns+` FROM verification_runs WHERE id = $1`, id)
	run, err := scanPostgresRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return run, err
}

// ListRuns lists runs, most recent first
func (s *PostgresStore) ListRuns(ctx context.Context, filter RunFilter) ([]Run, error) {
	var rows *sql.Rows
	var err error
	if filter.Network != "" {
		rows, err = s.db.QueryContext(ctx, `SELECT `+postgresRunColumns+` FROM verification_runs
			WHERE network = $1 ORDER BY started_at DESC LIMIT $2`, filter.Network, filter.limit())
	} else {
		rows, err = s.db.QueryContext(ctx, `SELECT `+postgresRunColumns+` FROM verification_runs
			ORDER BY started_at DESC LIMIT $1`, filter.limit())
	}
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var runs []Run
	for rows.Next() {
		run, err := scanPostgresRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, *run)
	}
	return runs, rows.Err()
}

// RecordResult stores the result of one contract
func (s *PostgresStore) RecordResult(ctx context.Context, r *ContractResult) error {
	ensureID(&r.ID)
	if r.CreatedAt.IsZero() {
		r.CreatedAt = time.Now().UTC()
	}
	libs, err := encodeJSON(nonNilMap(r.Libraries))
	if err != nil {
		return err
	}
	query := `
		INSERT INTO verification_results (id, run_id, position, name, contract_id, address, outcome, attempts, max_attempts, libraries, diagnostic, error, duration_ms, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
	`
	_, err = s.db.ExecContext(ctx, query, r.ID, r.RunID, r.Position, r.Name, r.ContractID, r.Address, r.Outcome,
		r.Attempts, r.MaxAttempts, libs, r.Diagnostic, r.Error, r.DurationMS, r.CreatedAt)
	return err
}

// ListResults lists the results of a run in manifest order
func (s *PostgresStore) ListResults(ctx context.Context, runID string) ([]ContractResult, error) {
	query := `
		SELECT id, run_id, position, name, contract_id, address, outcome, attempts, max_attempts, libraries, diagnostic, error, duration_ms, created_at
		FROM verification_results
		WHERE run_id = $1
		ORDER BY position
	`
	rows, err := s.db.QueryContext(ctx, query, runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []ContractResult
	for rows.Next() {
		var r ContractResult
		var libs []byte
		var diag, errText sql.NullString
		if err := rows.Scan(&r.ID, &r.RunID, &r.Position, &r.Name, &r.ContractID, &r.Address, &r.Outcome,
			&r.Attempts, &r.MaxAttempts, &libs, &diag, &errText, &r.DurationMS, &r.CreatedAt); err != nil {
			return nil, err
		}
		if err := decodeJSON(libs, &r.Libraries); err != nil {
			return nil, err
		}
		r.Diagnostic, r.Error = diag.String, errText.String
		results = append(results, r)
	}
	return results, rows.Err()
}

// RecordAttempt stores one verifier call
func (s *PostgresStore) RecordAttempt(ctx context.Context, a *AttemptRecord) error {
	ensureID(&a.ID)
	if a.CreatedAt.IsZero() {
		a.CreatedAt = time.Now().UTC()
	}
	libs, err := encodeJSON(nonNilSlice(a.Libraries))
	if err != nil {
		return err
	}
	pruned, err := encodeJSON(nonNilSlice(a.Pruned))
	if err != nil {
		return err
	}
	query := `
		INSERT INTO verification_attempts (id, run_id, contract_name, number, kind, libraries, pruned, error, duration_ms, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`
	_, err = s.db.ExecContext(ctx, query, a.ID, a.RunID, a.ContractName, a.Number, a.Kind, libs, pruned, a.Error,
		a.DurationMS, a.CreatedAt)
	return err
}

// ListAttempts lists the verifier calls made for one contract in a run
func (s *PostgresStore) ListAttempts(ctx context.Context, runID, contractName string) ([]AttemptRecord, error) {
	query := `
		SELECT id, run_id, contract_name, number, kind, libraries, pruned, error, duration_ms, created_at
		FROM verification_attempts
		WHERE run_id = $1 AND contract_name = $2
		ORDER BY number
	`
	rows, err := s.db.QueryContext(ctx, query, runID, contractName)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var attempts []AttemptRecord
	for rows.Next() {
		var a AttemptRecord
		var libs, pruned []byte
		var errText sql.NullString
		if err := rows.Scan(&a.ID, &a.RunID, &a.ContractName, &a.Number, &a.Kind, &libs, &pruned, &errText,
			&a.DurationMS, &a.CreatedAt); err != nil {
			return nil, err
		}
		if err := decodeJSON(libs, &a.Libraries); err != nil {
			return nil, err
		}
		if err := decodeJSON(pruned, &a.Pruned); err != nil {
			return nil, err
		}
		a.Error = errText.String
		attempts = append(attempts, a)
	}
	return attempts, rows.Err()
}

func scanPostgresRun(row rowScanner) (*Run, error) {
	var run Run
	var finishedAt sql.NullTime
	if err := row.Scan(&run.ID, &run.Network, &run.Backend, &run.Status, &run.Total, &run.Succeeded, &run.Exhausted,
		&run.Fatal, &run.NotAttempted, &run.Skipped, &run.StartedAt, &finishedAt); err != nil {
		return nil, err
	}
	if finishedAt.Valid {
		run.FinishedAt = finishedAt.Time
	}
	return &run, nil
}
