// Package transport provides the verifier backends the retry engine calls.
package transport

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"

	"golang.org/x/time/rate"

	"github.com/pendergraft/verify-contracts/internal/verification/domain"
)

// VerifyRequest is the HTTP request body for verifying a contract.
type VerifyRequest struct {
	Network              string            `json:"network,omitempty"`
	Address              string            `json:"address"`
	Contract             string            `json:"contract"`
	ConstructorArguments []json.RawMessage `json:"constructorArguments"`
	Libraries            map[string]string `json:"libraries"`
	CompilerVersion      string            `json:"compilerVersion,omitempty"`
}

// VerifyResponse is the response for a successful verification request.
type VerifyResponse struct {
	Status  string `json:"status"`
	Message string `json:"message,omitempty"`
}

// ErrorResponse is the standard error response format.
type ErrorResponse struct {
	Error ErrorDetail `json:"error"`
}

// ErrorDetail contains error information. Details carries the verifier's
// free-text diagnostic when the submission was rejected.
type ErrorDetail struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Details string `json:"details,omitempty"`
}

// APIError is a non-successful response from the verification service.
type APIError struct {
	StatusCode int
	Code       string
	Message    string
}

func (e *APIError) Error() string {
	if e.Code == "" {
		return fmt.Sprintf("HTTP %d: %s", e.StatusCode, e.Message)
	}
	return fmt.Sprintf("HTTP %d: %s: %s", e.StatusCode, e.Code, e.Message)
}

// options holds the settings shared by the verifier backends.
type options struct {
	httpClient *http.Client
	runner     Runner
	limiter    *rate.Limiter
	logger     *slog.Logger
}

// Option configures a verifier backend. Options a backend has no use for
// are ignored.
type Option func(*options)

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(c *http.Client) Option {
	return func(o *options) {
		o.httpClient = c
	}
}

// WithRunner sets the command runner used by the hardhat backend.
func WithRunner(r Runner) Option {
	return func(o *options) {
		o.runner = r
	}
}

// WithRateLimit spaces calls to at most requestsPerMin per minute. Zero or
// a negative value disables limiting.
func WithRateLimit(requestsPerMin int) Option {
	return func(o *options) {
		if requestsPerMin <= 0 {
			o.limiter = nil
			return
		}
		// Convert requests per minute to rate.Limit (requests per second)
		o.limiter = rate.NewLimiter(rate.Limit(float64(requestsPerMin)/60.0), 1)
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(o *options) {
		o.logger = l
	}
}

func newOptions(opts []Option) *options {
	o := &options{
		httpClient: &http.Client{},
		runner:     execRunner{},
		logger:     slog.Default(),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// wait blocks until the rate limiter admits the next call.
func (o *options) wait(ctx context.Context) error {
	if o.limiter == nil {
		return nil
	}
	if err := o.limiter.Wait(ctx); err != nil {
		return domain.Transient(fmt.Errorf("waiting for rate limiter: %w", err))
	}
	return nil
}
