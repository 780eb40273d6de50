package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

// SQLiteStore implements Store using SQLite
type SQLiteStore struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewSQLiteStore creates a new SQLite store
func NewSQLiteStore(path string, logger *slog.Logger) (*SQLiteStore, error) {
	// Ensure directory exists
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("creating data directory: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	// Enable WAL mode for better concurrency
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling WAL mode: %w", err)
	}

	// Enable foreign keys
	if _, err := db.Exec("PRAGMA foreign_keys=ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling foreign keys: %w", err)
	}

	return &SQLiteStore{db: db, logger: logger}, nil
}

// Close closes the database connection
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// Migrate runs database migrations
func (s *SQLiteStore) Migrate(ctx context.Context) error {
	schema := `
	-- Runs
	CREATE TABLE IF NOT EXISTS verification_runs (
		id TEXT PRIMARY KEY,
		network TEXT NOT NULL,
		backend TEXT NOT NULL,
		status TEXT NOT NULL,
		total INTEGER NOT NULL DEFAULT 0,
		succeeded INTEGER NOT NULL DEFAULT 0,
		exhausted INTEGER NOT NULL DEFAULT 0,
		fatal INTEGER NOT NULL DEFAULT 0,
		not_attempted INTEGER NOT NULL DEFAULT 0,
		skipped INTEGER NOT NULL DEFAULT 0,
		started_at TEXT NOT NULL,
		finished_at TEXT
	);

	-- Per-contract results
	CREATE TABLE IF NOT EXISTS verification_results (
		id TEXT PRIMARY KEY,
		run_id TEXT NOT NULL REFERENCES verification_runs(id) ON DELETE CASCADE,
		position INTEGER NOT NULL,
		name TEXT NOT NULL,
		contract_id TEXT NOT NULL,
		address TEXT NOT NULL,
		outcome TEXT NOT NULL,
		attempts INTEGER NOT NULL,
		max_attempts INTEGER NOT NULL,
		libraries TEXT,
		diagnostic TEXT,
		error TEXT,
		duration_ms INTEGER NOT NULL,
		created_at TEXT NOT NULL,
		UNIQUE(run_id, name)
	);

	-- Verifier calls
	CREATE TABLE IF NOT EXISTS verification_attempts (
		id TEXT PRIMARY KEY,
		run_id TEXT NOT NULL REFERENCES verification_runs(id) ON DELETE CASCADE,
		contract_name TEXT NOT NULL,
		number INTEGER NOT NULL,
		kind TEXT NOT NULL,
		libraries TEXT,
		pruned TEXT,
		error TEXT,
		duration_ms INTEGER NOT NULL,
		created_at TEXT NOT NULL,
		UNIQUE(run_id, contract_name, number)
	);

	-- Indexes
	CREATE INDEX IF NOT EXISTS idx_runs_network ON verification_runs(network, started_at);
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
func (s *SQLiteStore) CreateRun(ctx context.Context, run *Run) error {
	ensureID(&run.ID)
	if run.StartedAt.IsZero() {
		run.StartedAt = time.Now().UTC()
	}
	if run.Status == "" {
		run.Status = RunRunning
	}
	query := `
		INSERT INTO verification_runs (id, network, backend, status, total, skipped, started_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`
	_, err := s.db.ExecContext(ctx, query, run.ID, run.Network, run.Backend, run.Status, run.Total, run.Skipped, formatTime(run.StartedAt))
	return err
}

// FinishRun stores the final counts and status of a run
func (s *SQLiteStore) FinishRun(ctx context.Context, run *Run) error {
	if run.FinishedAt.IsZero() {
		run.FinishedAt = time.Now().UTC()
	}
	query := `
		UPDATE verification_runs
		SET status = ?, total = ?, succeeded = ?, exhausted = ?, fatal = ?, not_attempted = ?, skipped = ?, finished_at = ?
		WHERE id = ?
	`
	res, err := s.db.ExecContext(ctx, query, run.Status, run.Total, run.Succeeded, run.Exhausted, run.Fatal,
		run.NotAttempted, run.Skipped, formatTime(run.FinishedAt), run.ID)
	if err != nil {
		return err
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrNotFound
	}
	return nil
}

const sqliteRunColumns = `id, network, backend, status, total, succeeded, exhausted, fatal, not_attempted, skipped, started_at, finished_at`

// GetRun retrieves a run by ID
func (s *SQLiteStore) GetRun(ctx context.Context, id string) (*Run, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+sqliteRunColumns+` FROM verification_runs WHERE id = ?`, id)
	run, err := scanSQLiteRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return run, err
}

// ListRuns lists runs, most recent first
func (s *SQLiteStore) ListRuns(ctx context.Context, filter RunFilter) ([]Run, error) {
	query := `SELECT ` + sqliteRunColumns + ` FROM verification_runs`
	var args []any
	if filter.Network != "" {
		query += ` WHERE network = ?`
		args = append(args, filter.Network)
	}
	query += ` ORDER BY started_at DESC LIMIT ?`
	args = append(args, filter.limit())

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var runs []Run
	for rows.Next() {
		run, err := scanSQLiteRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, *run)
	}
	return runs, rows.Err()
}

// RecordResult stores the result of one contract
func (s *SQLiteStore) RecordResult(ctx context.Context, r *ContractResult) error {
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
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	_, err = s.db.ExecContext(ctx, query, r.ID, r.RunID, r.Position, r.Name, r.ContractID, r.Address, r.Outcome,
		r.Attempts, r.MaxAttempts, libs, r.Diagnostic, r.Error, r.DurationMS, formatTime(r.CreatedAt))
	return err
}

// ListResults lists the results of a run in manifest order
func (s *SQLiteStore) ListResults(ctx context.Context, runID string) ([]ContractResult, error) {
	query := `
		SELECT id, run_id, position, name, contract_id, address, outcome, attempts, max_attempts, libraries, diagnostic, error, duration_ms, created_at
		FROM verification_results
		WHERE run_id = ?
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
		var libs, diag, errText sql.NullString
		var createdAt string
		if err := rows.Scan(&r.ID, &r.RunID, &r.Position, &r.Name, &r.ContractID, &r.Address, &r.Outcome,
			&r.Attempts, &r.MaxAttempts, &libs, &diag, &errText, &r.DurationMS, &createdAt); err != nil {
			return nil, err
		}
		if err := decodeJSON([]byte(libs.String), &r.Libraries); err != nil {
			return nil, err
		}
		r.Diagnostic, r.Error = diag.String, errText.String
		r.CreatedAt = parseTime(createdAt)
		results = append(results, r)
	}
	return results, rows.Err()
}

// RecordAttempt stores one verifier call
func (s *SQLiteStore) RecordAttempt(ctx context.Context, a *AttemptRecord) error {
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
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	_, err = s.db.ExecContext(ctx, query, a.ID, a.RunID, a.ContractName, a.Number, a.Kind, libs, pruned, a.Error,
		a.DurationMS, formatTime(a.CreatedAt))
	return err
}

// ListAttempts lists the verifier calls made for one contract in a run
func (s *SQLiteStore) ListAttempts(ctx context.Context, runID, contractName string) ([]AttemptRecord, error) {
	query := `
		SELECT id, run_id, contract_name, number, kind, libraries, pruned, error, duration_ms, created_at
		FROM verification_attempts
		WHERE run_id = ? AND contract_name = ?
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
		var libs, pruned, errText sql.NullString
		var createdAt string
		if err := rows.Scan(&a.ID, &a.RunID, &a.ContractName, &a.Number, &a.Kind, &libs, &pruned, &errText,
			&a.DurationMS, &createdAt); err != nil {
			return nil, err
		}
		if err := decodeJSON([]byte(libs.String), &a.Libraries); err != nil {
			return nil, err
		}
		if err := decodeJSON([]byte(pruned.String), &a.Pruned); err != nil {
			return nil, err
		}
		a.Error = errText.String
		a.CreatedAt = parseTime(createdAt)
		attempts = append(attempts, a)
	}
	return attempts, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSQLiteRun(row rowScanner) (*Run, error) {
	var run Run
	var startedAt string
	var finishedAt sql.NullString
	if err := row.Scan(&run.ID, &run.Network, &run.Backend, &run.Status, &run.Total, &run.Succeeded, &run.Exhausted,
		&run.Fatal, &run.NotAttempted, &run.Skipped, &startedAt, &finishedAt); err != nil {
		return nil, err
	}
	run.StartedAt = parseTime(startedAt)
	if finishedAt.Valid {
		run.FinishedAt = parseTime(finishedAt.String)
	}
	return &run, nil
}

// sqliteTimeLayout is fixed width so stored timestamps sort chronologically.
const sqliteTimeLayout = "2006-01-02T15:04:05.000000000Z07:00"

func formatTime(t time.Time) string {
	return t.UTC().Format(sqliteTimeLayout)
}

func parseTime(s string) time.Time {
	t, err := time.Parse(sqliteTimeLayout, s)
	if err != nil {
		return time.Time{}
	}
	return t
}
