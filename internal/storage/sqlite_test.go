package storage

import (
	"context"
	"errors"
	"io"
	"path/filepath"
	"testing"
	"time"

	"log/slog"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pendergraft/verify-contracts/internal/config"
)

func newTestSQLiteStore(t *testing.T) *SQLiteStore {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	store, err := NewSQLiteStore(filepath.Join(t.TempDir(), "nested", "test.db"), logger)
	if err != nil {
		t.Fatalf("NewSQLiteStore() error = %v", err)
	}
	t.Cleanup(func() { store.Close() })

	if err := store.Migrate(context.Background()); err != nil {
		t.Fatalf("Migrate() error = %v", err)
	}
	return store
}

func TestSQLiteStore(t *testing.T) {
	store := newTestSQLiteStore(t)
	ctx := context.Background()

	run := &Run{Network: "sepolia", Backend: "hardhat", Total: 2, Skipped: 1}

	t.Run("CreateRun", func(t *testing.T) {
		if err := store.CreateRun(ctx, run); err != nil {
			t.Fatalf("CreateRun() error = %v", err)
		}
		assert.NotEmpty(t, run.ID)
		assert.False(t, run.StartedAt.IsZero())

		got, err := store.GetRun(ctx, run.ID)
		require.NoError(t, err)
		assert.Equal(t, RunRunning, got.Status)
		assert.Equal(t, "sepolia", got.Network)
		assert.Equal(t, 2, got.Total)
		assert.Equal(t, 1, got.Skipped)
		assert.True(t, got.FinishedAt.IsZero())
		assert.WithinDuration(t, run.StartedAt, got.StartedAt, time.Millisecond)
	})

	t.Run("RecordAttempts", func(t *testing.T) {
		attempts := []*AttemptRecord{
			{RunID: run.ID, ContractName: "Market", Number: 1, Kind: "diagnostic", Libraries: []string{"LibA", "LibB"}, Pruned: []string{"LibA"}, Error: "verification rejected", DurationMS: 1200},
			{RunID: run.ID, ContractName: "Market", Number: 2, Kind: "success", Libraries: []string{"LibB"}, DurationMS: 900},
		}
		for _, a := range attempts {
			if err := store.RecordAttempt(ctx, a); err != nil {
				t.Fatalf("RecordAttempt() error = %v", err)
			}
		}

		got, err := store.ListAttempts(ctx, run.ID, "Market")
		require.NoError(t, err)
		require.Len(t, got, 2)
		assert.Equal(t, 1, got[0].Number)
		assert.Equal(t, []string{"LibA", "LibB"}, got[0].Libraries)
		assert.Equal(t, []string{"LibA"}, got[0].Pruned)
		assert.Equal(t, "verification rejected", got[0].Error)
		assert.Equal(t, []string{}, got[1].Pruned)
	})

	t.Run("DuplicateAttemptRejected", func(t *testing.T) {
		err := store.RecordAttempt(ctx, &AttemptRecord{RunID: run.ID, ContractName: "Market", Number: 1, Kind: "success"})
		assert.Error(t, err)
	})

	t.Run("RecordResults", func(t *testing.T) {
		results := []*ContractResult{
			{RunID: run.ID, Position: 1, Name: "Token", ContractID: "contracts/Token.sol:Token", Address: "0x2", Outcome: "fatal", Attempts: 1, MaxAttempts: 5, Error: "fatal verification error: bytecode mismatch"},
			{RunID: run.ID, Position: 0, Name: "Market", ContractID: "contracts/Market.sol:Market", Address: "0x1", Outcome: "succeeded", Attempts: 2, MaxAttempts: 7, Libraries: map[string]string{"LibB": "0xb"}, DurationMS: 2100},
		}
		for _, r := range results {
			if err := store.RecordResult(ctx, r); err != nil {
				t.Fatalf("RecordResult() error = %v", err)
			}
		}

		got, err := store.ListResults(ctx, run.ID)
		require.NoError(t, err)
		require.Len(t, got, 2)
		assert.Equal(t, "Market", got[0].Name, "results are ordered by position")
		assert.Equal(t, map[string]string{"LibB": "0xb"}, got[0].Libraries)
		assert.Equal(t, int64(2100), got[0].DurationMS)
		assert.Equal(t, "Token", got[1].Name)
		assert.Equal(t, map[string]string{}, got[1].Libraries)
		assert.Contains(t, got[1].Error, "bytecode mismatch")
	})

	t.Run("FinishRun", func(t *testing.T) {
		run.Status = RunCompleted
		run.Succeeded = 1
		run.Fatal = 1
		if err := store.FinishRun(ctx, run); err != nil {
			t.Fatalf("FinishRun() error = %v", err)
		}

		got, err := store.GetRun(ctx, run.ID)
		require.NoError(t, err)
		assert.Equal(t, RunCompleted, got.Status)
		assert.Equal(t, 1, got.Succeeded)
		assert.Equal(t, 1, got.Fatal)
		assert.False(t, got.FinishedAt.IsZero())
	})

	t.Run("FinishUnknownRun", func(t *testing.T) {
		err := store.FinishRun(ctx, &Run{ID: "missing", Status: RunCompleted})
		assert.True(t, errors.Is(err, ErrNotFound))
	})

	t.Run("GetUnknownRun", func(t *testing.T) {
		_, err := store.GetRun(ctx, "missing")
		assert.True(t, errors.Is(err, ErrNotFound))
	})
}

func TestSQLiteStore_ListRuns(t *testing.T) {
	store := newTestSQLiteStore(t)
	ctx := context.Background()

	base := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	for i, network := range []string{"sepolia", "mainnet", "sepolia", "sepolia"} {
		run := &Run{Network: network, Backend: "http", StartedAt: base.Add(time.Duration(i) * time.Minute)}
		require.NoError(t, store.CreateRun(ctx, run))
	}

	all, err := store.ListRuns(ctx, RunFilter{})
	require.NoError(t, err)
	require.Len(t, all, 4)
	assert.Equal(t, base.Add(3*time.Minute), all[0].StartedAt, "most recent first")

	sepolia, err := store.ListRuns(ctx, RunFilter{Network: "sepolia", Limit: 2})
	require.NoError(t, err)
	require.Len(t, sepolia, 2)
	for _, r := range sepolia {
		assert.Equal(t, "sepolia", r.Network)
	}
	assert.True(t, sepolia[0].StartedAt.After(sepolia[1].StartedAt))

	none, err := store.ListRuns(ctx, RunFilter{Network: "holesky"})
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestNew(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	t.Run("sqlite", func(t *testing.T) {
		store, err := New(config.StorageConfig{Type: config.StorageSQLite, SQLitePath: filepath.Join(t.TempDir(), "ledger.db")}, logger)
		require.NoError(t, err)
		defer store.Close()
		assert.IsType(t, &SQLiteStore{}, store)
	})

	t.Run("none", func(t *testing.T) {
		store, err := New(config.StorageConfig{Type: config.StorageNone}, logger)
		require.NoError(t, err)
		assert.IsType(t, NoopStore{}, store)
	})

	t.Run("unknown", func(t *testing.T) {
		_, err := New(config.StorageConfig{Type: "mysql"}, logger)
		assert.Error(t, err)
	})
}

func TestNoopStore(t *testing.T) {
	ctx := context.Background()
	var store Store = NoopStore{}

	assert.NoError(t, store.Migrate(ctx))
	assert.NoError(t, store.CreateRun(ctx, &Run{}))
	assert.NoError(t, store.RecordAttempt(ctx, &AttemptRecord{}))
	assert.NoError(t, store.RecordResult(ctx, &ContractResult{}))
	assert.NoError(t, store.FinishRun(ctx, &Run{}))

	_, err := store.ListRuns(ctx, RunFilter{})
	assert.ErrorIs(t, err, ErrDisabled)
	_, err = store.GetRun(ctx, "x")
	assert.ErrorIs(t, err, ErrDisabled)
	assert.NoError(t, store.Close())
}
