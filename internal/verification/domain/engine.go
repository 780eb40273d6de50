package domain

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"time"

	"github.com/pendergraft/verify-contracts/internal/observability/metrics"
	"github.com/pendergraft/verify-contracts/internal/verification/diagnostic"
)

// DefaultCallTimeout bounds a single verifier call.
const DefaultCallTimeout = 2 * time.Minute

// Policy decides what RunAll does after a fatal outcome.
type Policy int

const (
	// ContinueOnFatal records the fatal result and moves on to the next contract.
	ContinueOnFatal Policy = iota
	// AbortOnFatal stops the batch at the first fatal result.
	AbortOnFatal
)

// Observer is notified as a request moves through the engine.
type Observer interface {
	ObserveStart(ctx context.Context, req *Request)
	ObserveAttempt(ctx context.Context, req *Request, a Attempt)
	ObserveResult(ctx context.Context, r Result)
}

// Option configures an Engine.
type Option func(*Engine)

// WithCallTimeout sets the per-call timeout.
func WithCallTimeout(d time.Duration) Option {
	return func(e *Engine) {
		if d > 0 {
			e.callTimeout = d
		}
	}
}

// WithPolicy sets the batch policy for fatal outcomes.
func WithPolicy(p Policy) Option {
	return func(e *Engine) {
		e.policy = p
	}
}

// WithObserver registers an observer.
func WithObserver(o Observer) Option {
	return func(e *Engine) {
		e.observers = append(e.observers, o)
	}
}

// WithNetwork sets the network name passed to the verifier.
func WithNetwork(network string) Option {
	return func(e *Engine) {
		e.network = network
	}
}

// Engine drives verification requests to a terminal state, pruning the
// submitted libraries from the service's diagnostics between attempts.
type Engine struct {
	verifier    Verifier
	logger      *slog.Logger
	callTimeout time.Duration
	policy      Policy
	network     string
	observers   []Observer
}

// NewEngine creates a new verification engine.
func NewEngine(verifier Verifier, logger *slog.Logger, opts ...Option) *Engine {
	e := &Engine{
		verifier:    verifier,
		logger:      logger,
		callTimeout: DefaultCallTimeout,
		policy:      ContinueOnFatal,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// RunAll verifies requests one after another in the given order. A cancelled
// context stops the batch before the next request; the request in progress
// is never interrupted mid-call. With AbortOnFatal the first fatal result
// ends the batch and is returned as an error.
func (e *Engine) RunAll(ctx context.Context, reqs []*Request) (*Summary, error) {
	summary := &Summary{}

	for i, req := range reqs {
		if err := ctx.Err(); err != nil {
			for _, rest := range reqs[i:] {
				summary.NotAttempted = append(summary.NotAttempted, rest.Name)
			}
			e.logger.Warn("verification batch cancelled", "remaining", len(reqs)-i, "error", err)
			return summary, fmt.Errorf("verification batch cancelled: %w", err)
		}

		result := e.RunOne(ctx, req)
		summary.add(result)

		if result.Outcome == OutcomeFatal && e.policy == AbortOnFatal {
			for _, rest := range reqs[i+1:] {
				summary.NotAttempted = append(summary.NotAttempted, rest.Name)
			}
			return summary, fmt.Errorf("verifying %s: %w", req.Name, result.Err)
		}
	}

	return summary, nil
}

// RunOne drives a single request until it succeeds, exhausts its retry
// budget, or fails fatally. The request's Libraries map is pruned in place.
func (e *Engine) RunOne(ctx context.Context, req *Request) Result {
	start := time.Now()
	logger := e.logger.With("contract", req.Name, "id", req.ContractID, "address", req.Address)

	result := Result{
		Name:        req.Name,
		ContractID:  req.ContractID,
		Address:     req.Address,
		MaxAttempts: req.MaxAttempts,
	}
	finish := func(outcome Outcome, err error) Result {
		result.Outcome = outcome
		result.Err = err
		result.Libraries = copyLibraries(req.Libraries)
		result.Duration = time.Since(start)
		metrics.VerificationResult(string(outcome))
		for _, o := range e.observers {
			o.ObserveResult(ctx, result)
		}
		return result
	}

	for _, o := range e.observers {
		o.ObserveStart(ctx, req)
	}

	retries := 0
	for call := 1; ; call++ {
		if call > 1 {
			if err := ctx.Err(); err != nil {
				logger.Warn("verification cancelled", "attempts", result.Attempts)
				return finish(OutcomeFatal, fmt.Errorf("%w: %w", ErrFatal, err))
			}
		}

		attempt := Attempt{Number: call, Libraries: req.LibraryNames()}
		callStart := time.Now()
		err := e.call(ctx, req)
		attempt.Duration = time.Since(callStart)
		result.Attempts = call

		var diag *DiagnosticError
		switch {
		case err == nil:
			attempt.Kind = AttemptSuccess
		case errors.As(err, &diag):
			attempt.Kind = AttemptDiagnostic
			attempt.Diagnostic = diag.Text
			result.Diagnostic = diag.Text
		case isTransient(err):
			attempt.Kind = AttemptTransient
		default:
			attempt.Kind = AttemptFatal
		}
		attempt.Err = err

		if attempt.Kind == AttemptDiagnostic && retries < req.MaxAttempts && len(req.Libraries) > 0 {
			report := parseDiagnostic(diag.Text, req)
			attempt.Optional = report.Optional
			attempt.Foreign = report.Foreign
			optional := req.Prune(report.Optional)
			foreign := req.Prune(report.Foreign)
			attempt.Pruned = append(optional, foreign...)
			metrics.LibrariesPruned("optional", len(optional))
			metrics.LibrariesPruned("foreign", len(foreign))
		}

		result.History = append(result.History, attempt)
		e.observe(ctx, req, attempt)

		switch attempt.Kind {
		case AttemptSuccess:
			logger.Info("contract verified", "attempts", call)
			return finish(OutcomeSucceeded, nil)

		case AttemptFatal:
			logger.Error("verification failed", "attempts", call, "error", err)
			return finish(OutcomeFatal, fmt.Errorf("%w: %w", ErrFatal, err))
		}

		if retries >= req.MaxAttempts {
			logger.Error("verification attempts exhausted", "attempts", call, "max_attempts", req.MaxAttempts)
			return finish(OutcomeExhausted, exhaustedError(result.Diagnostic, err))
		}

		if attempt.Kind == AttemptDiagnostic {
			if len(attempt.Libraries) == 0 {
				logger.Error("verification rejected with no libraries to prune", "attempts", call)
				return finish(OutcomeFatal, fmt.Errorf("%w: %w: %w", ErrFatal, ErrNoLibrariesLeft, err))
			}
			if len(attempt.Pruned) == 0 {
				logger.Warn("diagnostic matched no pruning rule, retrying unchanged", "attempt", call)
			} else {
				logger.Info("pruned libraries", "attempt", call, "pruned", attempt.Pruned, "remaining", len(req.Libraries))
			}
		} else {
			logger.Warn("transient verification failure, retrying unchanged", "attempt", call, "error", err)
		}

		retries++
	}
}

// call runs one verifier call. The call gets its own deadline and is detached
// from cancellation of ctx so an in-flight submission always completes.
func (e *Engine) call(ctx context.Context, req *Request) error {
	callCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), e.callTimeout)
	defer cancel()

	start := time.Now()
	err := e.verifier.Verify(callCtx, VerifyInput{
		Network:         e.network,
		Address:         req.Address,
		ContractID:      req.ContractID,
		CompilerVersion: req.CompilerVersion,
		ConstructorArgs: req.ConstructorArgs,
		Libraries:       copyLibraries(req.Libraries),
	})
	if err != nil && errors.Is(callCtx.Err(), context.DeadlineExceeded) && !errors.Is(err, ErrTransient) {
		err = Transient(fmt.Errorf("verifier call timed out after %s: %w", e.callTimeout, err))
	}
	metrics.VerificationAttempt(kindOf(err), time.Since(start))
	return err
}

func (e *Engine) observe(ctx context.Context, req *Request, a Attempt) {
	for _, o := range e.observers {
		o.ObserveAttempt(ctx, req, a)
	}
}

// parseDiagnostic parses text for the request's contract. Foreign-library
// sentences may also name the contract by its deployment name.
func parseDiagnostic(text string, req *Request) diagnostic.Report {
	report := diagnostic.Parse(text, req.ContractID)
	if req.Name == "" || req.Name == diagnostic.ShortName(req.ContractID) {
		return report
	}
	byName := diagnostic.MatchForeign(diagnostic.Lines(text), req.Name)
	if len(byName) > 0 {
		report.Foreign = append(report.Foreign, byName...)
		slices.Sort(report.Foreign)
		report.Foreign = slices.Compact(report.Foreign)
	}
	return report
}

func isTransient(err error) bool {
	return errors.Is(err, ErrTransient) || errors.Is(err, context.DeadlineExceeded)
}

func kindOf(err error) string {
	var diag *DiagnosticError
	switch {
	case err == nil:
		return string(AttemptSuccess)
	case errors.As(err, &diag):
		return string(AttemptDiagnostic)
	case isTransient(err):
		return string(AttemptTransient)
	default:
		return string(AttemptFatal)
	}
}

func exhaustedError(diag string, last error) error {
	if diag != "" {
		return fmt.Errorf("%w: %s", ErrExhausted, diag)
	}
	return fmt.Errorf("%w: %w", ErrExhausted, last)
}

// Err joins the errors of every contract that was not verified.
func (s *Summary) Err() error {
	var errs []error
	for _, r := range s.Results {
		if r.Err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", r.Name, r.Err))
		}
	}
	return errors.Join(errs...)
}
