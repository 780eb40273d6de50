// Package domain contains the business logic for contract verification.
package domain

import (
	"context"
	"encoding/json"
	"maps"
	"sort"
	"strings"
	"time"

	"github.com/pendergraft/verify-contracts/internal/verification/diagnostic"
)

// AttemptSlack is added to the initial library count to form the retry budget.
const AttemptSlack = 5

// Request is one deployed contract waiting to be verified. Libraries is the
// only field the engine changes, and it only ever loses entries.
type Request struct {
	Name            string
	Address         string
	ContractID      string
	SourcePath      string
	CompilerVersion string
	ConstructorArgs []json.RawMessage
	Libraries       map[string]string
	MaxAttempts     int
}

// NewRequest creates a request and fixes its retry budget from the initial
// library count.
func NewRequest(name, address, contractID string, args []json.RawMessage, libraries map[string]string) *Request {
	if args == nil {
		args = []json.RawMessage{}
	}
	if libraries == nil {
		libraries = map[string]string{}
	}
	return &Request{
		Name:            name,
		Address:         address,
		ContractID:      contractID,
		SourcePath:      sourcePath(contractID),
		ConstructorArgs: args,
		Libraries:       libraries,
		MaxAttempts:     len(libraries) + AttemptSlack,
	}
}

// LibraryNames returns the current library names, sorted.
func (r *Request) LibraryNames() []string {
	names := make([]string, 0, len(r.Libraries))
	for name := range r.Libraries {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Prune removes every library named in names. A map key matches a name when
// they are equal or share the same short name. It returns the removed keys.
func (r *Request) Prune(names []string) []string {
	if len(names) == 0 || len(r.Libraries) == 0 {
		return nil
	}
	flagged := make(map[string]struct{}, len(names))
	for _, n := range names {
		flagged[n] = struct{}{}
		flagged[diagnostic.ShortName(n)] = struct{}{}
	}

	var removed []string
	for key := range r.Libraries {
		_, exact := flagged[key]
		_, short := flagged[diagnostic.ShortName(key)]
		if exact || short {
			removed = append(removed, key)
		}
	}
	for _, key := range removed {
		delete(r.Libraries, key)
	}
	sort.Strings(removed)
	return removed
}

// SameAddress compares deployment addresses case-insensitively.
func SameAddress(a, b string) bool {
	return strings.EqualFold(a, b)
}

func sourcePath(contractID string) string {
	if i := strings.LastIndex(contractID, ":"); i >= 0 {
		return contractID[:i]
	}
	return ""
}

// VerifyInput is what a Verifier receives for one attempt. Libraries is a
// copy; verifiers may not retain or modify the request's map.
type VerifyInput struct {
	Network         string
	Address         string
	ContractID      string
	CompilerVersion string
	ConstructorArgs []json.RawMessage
	Libraries       map[string]string
}

// Verifier submits a contract to the remote verification service. It returns
// nil on success, a *DiagnosticError when the service rejected the submission
// with a diagnostic, an error wrapping ErrTransient for failures worth
// retrying unchanged, and any other error for fatal failures.
type Verifier interface {
	Verify(ctx context.Context, in VerifyInput) error
}

// Outcome is the terminal state of a request.
type Outcome string

const (
	OutcomeSucceeded Outcome = "succeeded"
	OutcomeExhausted Outcome = "exhausted"
	OutcomeFatal     Outcome = "fatal"
)

// AttemptKind classifies a single verifier call.
type AttemptKind string

const (
	AttemptSuccess    AttemptKind = "success"
	AttemptDiagnostic AttemptKind = "diagnostic"
	AttemptTransient  AttemptKind = "transient"
	AttemptFatal      AttemptKind = "fatal"
)

// Attempt records one verifier call.
type Attempt struct {
	Number     int
	Kind       AttemptKind
	Libraries  []string
	Optional   []string
	Foreign    []string
	Pruned     []string
	Diagnostic string
	Err        error
	Duration   time.Duration
}

// Result is the outcome of driving one request to a terminal state.
type Result struct {
	Name        string
	ContractID  string
	Address     string
	Outcome     Outcome
	Attempts    int
	MaxAttempts int
	Libraries   map[string]string
	Diagnostic  string
	Err         error
	Duration    time.Duration
	History     []Attempt
}

// Succeeded reports whether the contract was verified.
func (r Result) Succeeded() bool {
	return r.Outcome == OutcomeSucceeded
}

// Summary aggregates the results of a batch.
type Summary struct {
	Results      []Result
	Succeeded    int
	Exhausted    int
	Fatal        int
	NotAttempted []string
}

func (s *Summary) add(r Result) {
	s.Results = append(s.Results, r)
	switch r.Outcome {
	case OutcomeSucceeded:
		s.Succeeded++
	case OutcomeExhausted:
		s.Exhausted++
	case OutcomeFatal:
		s.Fatal++
	}
}

// Failed returns the number of contracts that were attempted but not verified.
func (s *Summary) Failed() int {
	return s.Exhausted + s.Fatal
}

func copyLibraries(libs map[string]string) map[string]string {
	out := make(map[string]string, len(libs))
	maps.Copy(out, libs)
	return out
}
