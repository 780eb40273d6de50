//go:build e2e

package e2e

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/require"

	"github.com/pendergraft/verify-contracts/internal/storage"
	"github.com/pendergraft/verify-contracts/internal/verification/diagnostic"
	"github.com/pendergraft/verify-contracts/internal/verification/transport"

	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"
)

// TestContext holds shared test infrastructure
type TestContext struct {
	PostgresContainer *postgres.PostgresContainer
	ConnString        string
	Store             storage.Store
}

// setupPostgresE starts a Postgres container and returns the connection string
func setupPostgresE(ctx context.Context) (*postgres.PostgresContainer, string, error) {
	postgresContainer, err := postgres.RunContainer(ctx,
		testcontainers.WithImage("postgres:16-alpine"),
		postgres.WithDatabase("verify_contracts"),
		postgres.WithUsername("verify"),
		postgres.WithPassword("verify"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(30*time.Second)),
	)
	if err != nil {
		return nil, "", fmt.Errorf("failed to start postgres container: %w", err)
	}

	connString, err := postgresContainer.ConnectionString(ctx, "sslmode=disable")
	if err != nil {
		_ = postgresContainer.Terminate(ctx)
		return nil, "", fmt.Errorf("failed to get postgres connection string: %w", err)
	}

	return postgresContainer, connString, nil
}

// contractRules describes which libraries the fake service accepts for a
// contract. Optional libraries are rejected with the plugin's optional block,
// unknown ones with a foreign-library sentence.
type contractRules struct {
	Required []string
	Optional []string
}

// verificationService is an in-process verification service.
type verificationService struct {
	mu          sync.Mutex
	rules       map[string]contractRules
	unavailable int
	requests    []transport.VerifyRequest
	server      *httptest.Server
}

func newVerificationService(t *testing.T, rules map[string]contractRules, unavailable int) *verificationService {
	t.Helper()
	s := &verificationService{rules: rules, unavailable: unavailable}

	r := chi.NewRouter()
	r.Post(transport.VerifyPath, s.handleVerify)
	s.server = httptest.NewServer(r)
	t.Cleanup(s.server.Close)
	return s
}

func (s *verificationService) URL() string {
	return s.server.URL
}

func (s *verificationService) recorded() []transport.VerifyRequest {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]transport.VerifyRequest(nil), s.requests...)
}

func (s *verificationService) handleVerify(w http.ResponseWriter, r *http.Request) {
	var req transport.VerifyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, transport.ErrorResponse{Error: transport.ErrorDetail{Code: "BAD_REQUEST", Message: err.Error()}})
		return
	}

	s.mu.Lock()
	s.requests = append(s.requests, req)
	if s.unavailable > 0 {
		s.unavailable--
		s.mu.Unlock()
		writeJSON(w, http.StatusServiceUnavailable, transport.ErrorResponse{Error: transport.ErrorDetail{Code: "UNAVAILABLE", Message: "try again later"}})
		return
	}
	rules, ok := s.rules[req.Contract]
	s.mu.Unlock()

	if !ok {
		writeJSON(w, http.StatusNotFound, transport.ErrorResponse{Error: transport.ErrorDetail{Code: "NOT_FOUND", Message: "unknown contract " + req.Contract}})
		return
	}

	if details := rules.diagnose(req); details != "" {
		writeJSON(w, http.StatusUnprocessableEntity, transport.ErrorResponse{Error: transport.ErrorDetail{
			Code:    "VERIFICATION_FAILED",
			Message: "verification failed",
			Details: details,
		}})
		return
	}
	writeJSON(w, http.StatusOK, transport.VerifyResponse{Status: "verified"})
}

func (c contractRules) diagnose(req transport.VerifyRequest) string {
	var optional, foreign []string
	for name := range req.Libraries {
		switch {
		case contains(c.Required, name):
		case contains(c.Optional, name):
			optional = append(optional, name)
		default:
			foreign = append(foreign, name)
		}
	}
	sort.Strings(optional)
	sort.Strings(foreign)

	var lines []string
	for _, name := range foreign {
		lines = append(lines, fmt.Sprintf(
			"You gave an address for the library %s in the libraries dictionary, which is not one of the libraries of contract %s.",
			name, diagnostic.ShortName(req.Contract)))
	}
	if len(optional) > 0 {
		lines = append(lines, "This contract uses the following external libraries:")
		for _, name := range optional {
			lines = append(lines, "  * "+name+" (optional)")
		}
		lines = append(lines, "", diagnostic.OptionalMarker)
	}
	return strings.Join(lines, "\n")
}

func contains(list []string, name string) bool {
	for _, l := range list {
		if l == name {
			return true
		}
	}
	return false
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeDeployment writes a hardhat-deploy record for target ("path:Name").
func writeDeployment(t *testing.T, dir, name, address, target string, libs map[string]string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(dir, 0755))

	source, contract, _ := strings.Cut(target, ":")
	meta, err := json.Marshal(map[string]any{
		"compiler": map[string]any{"version": "0.8.17+commit.8df45f5f"},
		"settings": map[string]any{"compilationTarget": map[string]string{source: contract}},
	})
	require.NoError(t, err)

	data, err := json.Marshal(map[string]any{
		"address":   address,
		"args":      []any{"0x01", 7},
		"libraries": libs,
		"metadata":  string(meta),
	})
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(dir, name+".json"), data, 0644))
}
