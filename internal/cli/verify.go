package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/pendergraft/verify-contracts/internal/config"
	"github.com/pendergraft/verify-contracts/internal/manifest"
	"github.com/pendergraft/verify-contracts/internal/observability/metrics"
	"github.com/pendergraft/verify-contracts/internal/storage"
	"github.com/pendergraft/verify-contracts/internal/validation"
	"github.com/pendergraft/verify-contracts/internal/verification/domain"
	"github.com/pendergraft/verify-contracts/internal/verification/transport"
)

// ErrNotVerified is returned when at least one contract was not verified.
var ErrNotVerified = errors.New("not all contracts were verified")

const serviceName = "verify-contracts"

type verifyFlags struct {
	deploymentsDir string
	backend        string
	stopOnFatal    bool
	callTimeout    int
	logLevel       string
}

func (a *app) runVerify(cmd *cobra.Command, network string, flags verifyFlags) error {
	if err := validation.ValidateNetworkName(network); err != nil {
		return err
	}

	cfg, err := a.loadConfigWithFlags(cmd, flags)
	if err != nil {
		return err
	}
	logger := newLogger(cfg.Logging, a.stderr).With("network", network)
	metrics.Init(cfg.Metrics.Enabled, serviceName)

	fmt.Fprintf(a.stdout, "Verify all contracts deployed on network: %s\n", network)

	m, err := manifest.Load(filepath.Join(cfg.DeploymentsDir, network), logger)
	if errors.Is(err, manifest.ErrDirectoryMissing) {
		fmt.Fprintln(a.stdout, "No contracts found.")
		return nil
	}
	if err != nil {
		return fmt.Errorf("loading deployments: %w", err)
	}

	verifier, err := a.newVerifier(cfg, logger)
	if err != nil {
		return fmt.Errorf("creating verifier: %w", err)
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	store, err := a.openStore(cfg.Storage, logger)
	if err != nil {
		return fmt.Errorf("opening verification ledger: %w", err)
	}
	defer store.Close()
	if err := store.Migrate(ctx); err != nil {
		return err
	}

	run := &storage.Run{
		Network: network,
		Backend: cfg.Verifier.Backend,
		Total:   len(m.Requests),
		Skipped: len(m.Skipped),
	}
	if err := store.CreateRun(ctx, run); err != nil {
		return fmt.Errorf("recording run: %w", err)
	}
	logger = logger.With("run_id", run.ID)

	policy := domain.ContinueOnFatal
	if cfg.StopOnFatal {
		policy = domain.AbortOnFatal
	}
	engine := domain.NewEngine(verifier, logger,
		domain.WithNetwork(network),
		domain.WithCallTimeout(cfg.CallTimeout()),
		domain.WithPolicy(policy),
		domain.WithObserver(&consoleReporter{w: a.stdout}),
		domain.WithObserver(newLedgerRecorder(store, run.ID, logger)),
	)

	summary, runErr := engine.RunAll(ctx, m.Requests)

	printSummary(a.stdout, summary, len(m.Skipped))

	run.Status = runStatus(ctx, runErr)
	run.Succeeded = summary.Succeeded
	run.Exhausted = summary.Exhausted
	run.Fatal = summary.Fatal
	run.NotAttempted = len(summary.NotAttempted)
	if err := store.FinishRun(context.WithoutCancel(ctx), run); err != nil {
		logger.Warn("failed to record run result", "error", err)
	}

	if cfg.Metrics.Textfile != "" {
		if err := metrics.WriteTextfile(cfg.Metrics.Textfile); err != nil {
			logger.Warn("failed to write metrics textfile", "path", cfg.Metrics.Textfile, "error", err)
		}
	}

	if runErr != nil {
		return runErr
	}
	if failed := summary.Failed(); failed > 0 {
		return fmt.Errorf("%w (%d of %d): %w", ErrNotVerified, failed, len(m.Requests), summary.Err())
	}
	return nil
}

func runStatus(ctx context.Context, runErr error) string {
	switch {
	case runErr == nil:
		return storage.RunCompleted
	case ctx.Err() != nil:
		return storage.RunCancelled
	case errors.Is(runErr, domain.ErrFatal):
		return storage.RunAborted
	default:
		return storage.RunFailed
	}
}

// newVerifier builds the verifier for the configured backend.
func newVerifier(cfg *config.Config, logger *slog.Logger) (domain.Verifier, error) {
	opts := []transport.Option{
		transport.WithLogger(logger),
		transport.WithRateLimit(cfg.Verifier.RequestsPerMin),
	}

	switch cfg.Verifier.Backend {
	case config.BackendHTTP:
		return transport.NewHTTPVerifier(cfg.Verifier.URL, cfg.Verifier.APIKey, opts...), nil
	case config.BackendHardhat:
		return transport.NewHardhatVerifier(cfg.Verifier.HardhatCommand, cfg.Verifier.ProjectDir, opts...)
	default:
		return nil, fmt.Errorf("unknown verifier backend: %s", cfg.Verifier.Backend)
	}
}

// consoleReporter prints one header line before and one result line after
// each contract.
type consoleReporter struct {
	w io.Writer
}

func (r *consoleReporter) ObserveStart(ctx context.Context, req *domain.Request) {
	fmt.Fprintf(r.w, "Verifying contract %s (%s) at %s with %d argument(s) and %d lib(s) (w/ maximum attempts: %d)\n",
		req.Name, req.ContractID, req.Address, len(req.ConstructorArgs), len(req.Libraries), req.MaxAttempts)
}

func (r *consoleReporter) ObserveAttempt(ctx context.Context, req *domain.Request, a domain.Attempt) {
	if len(a.Pruned) > 0 {
		fmt.Fprintf(r.w, "  attempt %d: removed %d lib(s): %v\n", a.Number, len(a.Pruned), a.Pruned)
	}
}

func (r *consoleReporter) ObserveResult(ctx context.Context, res domain.Result) {
	switch res.Outcome {
	case domain.OutcomeSucceeded:
		fmt.Fprintf(r.w, "  verified %s after %d attempt(s)\n", res.Name, res.Attempts)
	case domain.OutcomeExhausted:
		fmt.Fprintf(r.w, "  FAILED %s: attempts exhausted (%d/%d): %v\n", res.Name, res.Attempts, res.MaxAttempts+1, res.Err)
	default:
		fmt.Fprintf(r.w, "  FAILED %s: %v\n", res.Name, res.Err)
	}
}

func printSummary(w io.Writer, s *domain.Summary, skipped int) {
	if s == nil {
		return
	}
	fmt.Fprintf(w, "\n%d verified, %d exhausted, %d fatal, %d not attempted, %d skipped\n",
		s.Succeeded, s.Exhausted, s.Fatal, len(s.NotAttempted), skipped)
}
