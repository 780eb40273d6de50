package cli

import (
	"context"
	"log/slog"

	"github.com/pendergraft/verify-contracts/internal/storage"
	"github.com/pendergraft/verify-contracts/internal/verification/domain"
)

// ledgerRecorder writes every attempt and result of a run to the store.
// Ledger failures are logged and never fail the verification.
type ledgerRecorder struct {
	store    storage.ResultStore
	runID    string
	logger   *slog.Logger
	position int
}

func newLedgerRecorder(store storage.ResultStore, runID string, logger *slog.Logger) *ledgerRecorder {
	return &ledgerRecorder{store: store, runID: runID, logger: logger}
}

func (l *ledgerRecorder) ObserveStart(ctx context.Context, req *domain.Request) {}

func (l *ledgerRecorder) ObserveAttempt(ctx context.Context, req *domain.Request, a domain.Attempt) {
	rec := &storage.AttemptRecord{
		RunID:        l.runID,
		ContractName: req.Name,
		Number:       a.Number,
		Kind:         string(a.Kind),
		Libraries:    a.Libraries,
		Pruned:       a.Pruned,
		Error:        errString(a.Err),
		DurationMS:   a.Duration.Milliseconds(),
	}
	if err := l.store.RecordAttempt(context.WithoutCancel(ctx), rec); err != nil {
		l.logger.Warn("failed to record attempt", "contract", req.Name, "attempt", a.Number, "error", err)
	}
}

func (l *ledgerRecorder) ObserveResult(ctx context.Context, r domain.Result) {
	rec := &storage.ContractResult{
		RunID:       l.runID,
		Position:    l.position,
		Name:        r.Name,
		ContractID:  r.ContractID,
		Address:     r.Address,
		Outcome:     string(r.Outcome),
		Attempts:    r.Attempts,
		MaxAttempts: r.MaxAttempts,
		Libraries:   r.Libraries,
		Diagnostic:  r.Diagnostic,
		Error:       errString(r.Err),
		DurationMS:  r.Duration.Milliseconds(),
	}
	l.position++
	if err := l.store.RecordResult(context.WithoutCancel(ctx), rec); err != nil {
		l.logger.Warn("failed to record result", "contract", r.Name, "error", err)
	}
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
