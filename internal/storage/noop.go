package storage

import "context"

// NoopStore discards everything. It backs STORAGE_TYPE=none.
type NoopStore struct{}

func (NoopStore) CreateRun(context.Context, *Run) error { return nil }

func (NoopStore) FinishRun(context.Context, *Run) error { return nil }

func (NoopStore) RecordResult(context.Context, *ContractResult) error { return nil }

func (NoopStore) RecordAttempt(context.Context, *AttemptRecord) error { return nil }

func (NoopStore) Close() error { return nil }

func (NoopStore) Migrate(context.Context) error { return nil }

func (NoopStore) GetRun(context.Context, string) (*Run, error) { return nil, ErrDisabled }

func (NoopStore) ListRuns(context.Context, RunFilter) ([]Run, error) { return nil, ErrDisabled }

func (NoopStore) ListResults(context.Context, string) ([]ContractResult, error) {
	return nil, ErrDisabled
}

func (NoopStore) ListAttempts(context.Context, string, string) ([]AttemptRecord, error) {
	return nil, ErrDisabled
}
