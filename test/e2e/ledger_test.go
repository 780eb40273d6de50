//go:build e2e

package e2e

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pendergraft/verify-contracts/internal/storage"
)

func TestPostgresLedger_RunLifecycle(t *testing.T) {
	ctx := context.Background()
	store := testCtx.Store
	network := "ledger-" + uuid.NewString()[:8]

	run := &storage.Run{Network: network, Backend: "http", Total: 2, Skipped: 1}
	require.NoError(t, store.CreateRun(ctx, run))
	require.NotEmpty(t, run.ID)

	got, err := store.GetRun(ctx, run.ID)
	require.NoError(t, err)
	assert.Equal(t, storage.RunRunning, got.Status)
	assert.True(t, got.FinishedAt.IsZero())

	require.NoError(t, store.RecordAttempt(ctx, &storage.AttemptRecord{
		RunID: run.ID, ContractName: "Market", Number: 1, Kind: "diagnostic",
		Libraries: []string{"LibA", "LibB"}, Pruned: []string{"LibA"}, Error: "verification rejected", DurationMS: 12,
	}))
	require.NoError(t, store.RecordAttempt(ctx, &storage.AttemptRecord{
		RunID: run.ID, ContractName: "Market", Number: 2, Kind: "success", Libraries: []string{"LibB"},
	}))
	require.NoError(t, store.RecordResult(ctx, &storage.ContractResult{
		RunID: run.ID, Position: 0, Name: "Market", ContractID: "contracts/Market.sol:Market",
		Address: "0x1111111111111111111111111111111111111111", Outcome: "succeeded",
		Attempts: 2, MaxAttempts: 7, Libraries: map[string]string{"LibB": "0xbb"},
	}))
	require.NoError(t, store.RecordResult(ctx, &storage.ContractResult{
		RunID: run.ID, Position: 1, Name: "Token", ContractID: "contracts/Token.sol:Token",
		Outcome: "fatal", Attempts: 1, MaxAttempts: 5, Error: "HTTP 401: UNAUTHORIZED: bad key",
	}))

	run.Status = storage.RunCompleted
	run.Succeeded = 1
	run.Fatal = 1
	require.NoError(t, store.FinishRun(ctx, run))

	got, err = store.GetRun(ctx, run.ID)
	require.NoError(t, err)
	assert.Equal(t, storage.RunCompleted, got.Status)
	assert.Equal(t, 1, got.Succeeded)
	assert.Equal(t, 1, got.Fatal)
	assert.Equal(t, 1, got.Skipped)
	assert.WithinDuration(t, time.Now(), got.FinishedAt, time.Minute)

	results, err := store.ListResults(ctx, run.ID)
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.Equal(t, "Market", results[0].Name)
	assert.Equal(t, map[string]string{"LibB": "0xbb"}, results[0].Libraries)
	assert.Equal(t, "Token", results[1].Name)
	assert.Empty(t, results[1].Libraries)

	attempts, err := store.ListAttempts(ctx, run.ID, "Market")
	require.NoError(t, err)
	require.Len(t, attempts, 2)
	assert.Equal(t, []string{"LibA"}, attempts[0].Pruned)
	assert.Equal(t, 2, attempts[1].Number)
	assert.Empty(t, attempts[1].Pruned)
}

func TestPostgresLedger_DuplicateAttempt(t *testing.T) {
	ctx := context.Background()
	run := &storage.Run{Network: "dup-" + uuid.NewString()[:8], Backend: "http"}
	require.NoError(t, testCtx.Store.CreateRun(ctx, run))

	rec := &storage.AttemptRecord{RunID: run.ID, ContractName: "Market", Number: 1, Kind: "transient"}
	require.NoError(t, testCtx.Store.RecordAttempt(ctx, rec))

	rec.ID = ""
	assert.Error(t, testCtx.Store.RecordAttempt(ctx, rec))
}

func TestPostgresLedger_ListRuns(t *testing.T) {
	ctx := context.Background()
	network := "list-" + uuid.NewString()[:8]

	var ids []string
	for i := 0; i < 3; i++ {
		run := &storage.Run{Network: network, Backend: "hardhat", StartedAt: time.Now().Add(time.Duration(i) * time.Second)}
		require.NoError(t, testCtx.Store.CreateRun(ctx, run))
		ids = append(ids, run.ID)
	}

	runs, err := testCtx.Store.ListRuns(ctx, storage.RunFilter{Network: network, Limit: 2})
	require.NoError(t, err)
	require.Len(t, runs, 2)
	assert.Equal(t, ids[2], runs[0].ID)
	assert.Equal(t, ids[1], runs[1].ID)
}

func TestPostgresLedger_NotFound(t *testing.T) {
	ctx := context.Background()

	_, err := testCtx.Store.GetRun(ctx, uuid.NewString())
	assert.ErrorIs(t, err, storage.ErrNotFound)

	err = testCtx.Store.FinishRun(ctx, &storage.Run{ID: uuid.NewString(), Status: storage.RunCompleted})
	assert.ErrorIs(t, err, storage.ErrNotFound)
}
