package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"

	"github.com/pendergraft/verify-contracts/internal/verification/domain"
)

// VerifyPath is the verification endpoint of the HTTP service.
const VerifyPath = "/api/v1/verify"

// StatusAlreadyVerified is returned by the service for contracts that were
// verified before.
const StatusAlreadyVerified = "already_verified"

// maxErrorBody caps how much of an error response is read.
const maxErrorBody = 1 << 20

// HTTPVerifier submits contracts to a verification service over HTTP.
type HTTPVerifier struct {
	baseURL string
	apiKey  string
	opts    *options
}

// NewHTTPVerifier creates a new HTTP verifier.
func NewHTTPVerifier(baseURL, apiKey string, opts ...Option) *HTTPVerifier {
	return &HTTPVerifier{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		opts:    newOptions(opts),
	}
}

// Verify submits one verification attempt.
func (v *HTTPVerifier) Verify(ctx context.Context, in domain.VerifyInput) error {
	if err := v.opts.wait(ctx); err != nil {
		return err
	}

	args := in.ConstructorArgs
	if args == nil {
		args = []json.RawMessage{}
	}
	libs := in.Libraries
	if libs == nil {
		libs = map[string]string{}
	}

	var buf bytes.Buffer
	if err := json.NewEncoder(&buf).Encode(VerifyRequest{
		Network:              in.Network,
		Address:              in.Address,
		Contract:             in.ContractID,
		ConstructorArguments: args,
		Libraries:            libs,
		CompilerVersion:      in.CompilerVersion,
	}); err != nil {
		return fmt.Errorf("encoding verify request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, v.baseURL+VerifyPath, &buf)
	if err != nil {
		return fmt.Errorf("building verify request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	if v.apiKey != "" {
		req.Header.Set("X-API-Key", v.apiKey)
	}

	resp, err := v.opts.httpClient.Do(req)
	if err != nil {
		if isTimeout(err) {
			return domain.Transient(fmt.Errorf("calling verification service: %w", err))
		}
		return fmt.Errorf("calling verification service: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		var out VerifyResponse
		// An empty or non-JSON success body still means success.
		if err := json.NewDecoder(resp.Body).Decode(&out); err == nil && out.Status == StatusAlreadyVerified {
			v.opts.logger.Debug("contract already verified", "address", in.Address, "contract", in.ContractID)
		}
		return nil
	}

	return v.parseError(resp)
}

func (v *HTTPVerifier) parseError(resp *http.Response) error {
	var errResp ErrorResponse
	apiErr := &APIError{StatusCode: resp.StatusCode, Message: resp.Status}
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxErrorBody)).Decode(&errResp); err == nil {
		apiErr.Code = errResp.Error.Code
		if errResp.Error.Message != "" {
			apiErr.Message = errResp.Error.Message
		}
	}

	switch resp.StatusCode {
	case http.StatusUnprocessableEntity:
		if strings.TrimSpace(errResp.Error.Details) != "" {
			return &domain.DiagnosticError{Text: errResp.Error.Details}
		}
	case http.StatusTooManyRequests, http.StatusBadGateway, http.StatusServiceUnavailable, http.StatusGatewayTimeout:
		return domain.Transient(apiErr)
	}
	return apiErr
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}
