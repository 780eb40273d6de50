// Package storage persists the verification ledger: one run per invocation,
// one result per contract and one record per verifier call.
package storage

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/pendergraft/verify-contracts/internal/config"
)

// RunStore handles run operations
type RunStore interface {
	CreateRun(ctx context.Context, run *Run) error
	FinishRun(ctx context.Context, run *Run) error
	GetRun(ctx context.Context, id string) (*Run, error)
	ListRuns(ctx context.Context, filter RunFilter) ([]Run, error)
}

// ResultStore handles per-contract results and attempts
type ResultStore interface {
	RecordResult(ctx context.Context, result *ContractResult) error
	RecordAttempt(ctx context.Context, attempt *AttemptRecord) error
	ListResults(ctx context.Context, runID string) ([]ContractResult, error)
	ListAttempts(ctx context.Context, runID, contractName string) ([]AttemptRecord, error)
}

// Store combines all storage interfaces with lifecycle methods.
type Store interface {
	RunStore
	ResultStore

	// Lifecycle
	Close() error
	Migrate(ctx context.Context) error
}

// Run statuses
const (
	RunRunning   = "running"
	RunCompleted = "completed"
	RunAborted   = "aborted"
	RunCancelled = "cancelled"
	RunFailed    = "failed"
)

// Run is one invocation of the verifier against a network.
type Run struct {
	ID           string
	Network      string
	Backend      string
	Status       string
	Total        int
	Succeeded    int
	Exhausted    int
	Fatal        int
	NotAttempted int
	Skipped      int
	StartedAt    time.Time
	FinishedAt   time.Time // zero while running
}

// ContractResult is the terminal state of one contract within a run.
type ContractResult struct {
	ID          string
	RunID       string
	Position    int
	Name        string
	ContractID  string
	Address     string
	Outcome     string
	Attempts    int
	MaxAttempts int
	Libraries   map[string]string
	Diagnostic  string
	Error       string
	DurationMS  int64
	CreatedAt   time.Time
}

// AttemptRecord is one verifier call.
type AttemptRecord struct {
	ID           string
	RunID        string
	ContractName string
	Number       int
	Kind         string
	Libraries    []string
	Pruned       []string
	Error        string
	DurationMS   int64
	CreatedAt    time.Time
}

// RunFilter contains filter options for listing runs
type RunFilter struct {
	Network string
	Limit   int
}

// DefaultListLimit applies when RunFilter.Limit is not positive.
const DefaultListLimit = 20

func (f RunFilter) limit() int {
	if f.Limit <= 0 {
		return DefaultListLimit
	}
	return f.Limit
}

// New creates a new store based on configuration
func New(cfg config.StorageConfig, logger *slog.Logger) (Store, error) {
	switch cfg.Type {
	case config.StorageSQLite:
		return NewSQLiteStore(cfg.SQLitePath, logger)
	case config.StoragePostgres:
		return NewPostgresStore(cfg.DatabaseURL, logger)
	case config.StorageNone:
		return NoopStore{}, nil
	default:
		return nil, fmt.Errorf("unknown storage type: %s", cfg.Type)
	}
}
