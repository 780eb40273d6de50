package transport

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/pendergraft/verify-contracts/internal/verification/diagnostic"
	"github.com/pendergraft/verify-contracts/internal/verification/domain"
)

// ExitError reports a command that ran but exited with a non-zero status.
type ExitError struct {
	Code int
}

func (e *ExitError) Error() string {
	return fmt.Sprintf("exit status %d", e.Code)
}

// Runner runs a command in dir and returns its combined output. Commands
// that ran but failed return *ExitError; any other error means the command
// could not be run at all.
type Runner interface {
	Run(ctx context.Context, dir, name string, args ...string) ([]byte, error)
}

type execRunner struct{}

func (execRunner) Run(ctx context.Context, dir, name string, args ...string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Dir = dir
	output, err := cmd.CombinedOutput()
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return output, &ExitError{Code: exitErr.ExitCode()}
	}
	return output, err
}

// Output fragments hardhat prints for an earlier verification.
var alreadyVerifiedMarkers = []string{
	"Already Verified",
	"already verified",
	"is already verified",
}

// Output fragments of failures worth retrying unchanged.
var transientMarkers = []string{
	"ETIMEDOUT",
	"ECONNRESET",
	"timeout",
	"Timeout",
	"rate limit",
	"Max rate limit reached",
	"Too Many Requests",
}

// HardhatVerifier runs `hardhat verify` for each attempt.
type HardhatVerifier struct {
	command    []string
	projectDir string
	opts       *options
}

// NewHardhatVerifier creates a verifier running command (for example
// "npx hardhat") inside projectDir.
func NewHardhatVerifier(command, projectDir string, opts ...Option) (*HardhatVerifier, error) {
	fields := strings.Fields(command)
	if len(fields) == 0 {
		return nil, errors.New("hardhat command cannot be empty")
	}
	return &HardhatVerifier{
		command:    fields,
		projectDir: projectDir,
		opts:       newOptions(opts),
	}, nil
}

// Verify runs one verification attempt.
func (v *HardhatVerifier) Verify(ctx context.Context, in domain.VerifyInput) error {
	if err := v.opts.wait(ctx); err != nil {
		return err
	}

	tmpDir, err := os.MkdirTemp("", "verify-contracts-*")
	if err != nil {
		return fmt.Errorf("creating temp dir: %w", err)
	}
	defer os.RemoveAll(tmpDir)

	args, err := v.buildArgs(tmpDir, in)
	if err != nil {
		return err
	}

	v.opts.logger.Debug("running hardhat verify",
		"command", strings.Join(append(v.command[:1:1], args...), " "),
		"dir", v.projectDir)

	output, err := v.opts.runner.Run(ctx, v.projectDir, v.command[0], args...)
	return classifyOutput(ctx, string(output), err)
}

func (v *HardhatVerifier) buildArgs(tmpDir string, in domain.VerifyInput) ([]string, error) {
	args := append([]string{}, v.command[1:]...)
	args = append(args, "verify")
	if in.Network != "" {
		args = append(args, "--network", in.Network)
	}
	args = append(args, "--contract", in.ContractID)

	ctorArgs := in.ConstructorArgs
	if ctorArgs == nil {
		ctorArgs = []json.RawMessage{}
	}
	argsPath := filepath.Join(tmpDir, "arguments.js")
	if err := writeModule(argsPath, ctorArgs); err != nil {
		return nil, fmt.Errorf("writing constructor arguments: %w", err)
	}
	args = append(args, "--constructor-args", argsPath)

	if len(in.Libraries) > 0 {
		libsPath := filepath.Join(tmpDir, "libraries.js")
		if err := writeModule(libsPath, in.Libraries); err != nil {
			return nil, fmt.Errorf("writing libraries: %w", err)
		}
		args = append(args, "--libraries", libsPath)
	}

	return append(args, in.Address), nil
}

// writeModule writes v as a CommonJS module, the format hardhat expects for
// --constructor-args and --libraries.
func writeModule(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	content := "module.exports = " + string(data) + ";\n"
	return os.WriteFile(path, []byte(content), 0600)
}

func classifyOutput(ctx context.Context, output string, err error) error {
	if err == nil {
		return nil
	}
	if ctx.Err() != nil {
		return domain.Transient(fmt.Errorf("hardhat verify interrupted: %w", ctx.Err()))
	}

	var exitErr *ExitError
	if !errors.As(err, &exitErr) {
		return fmt.Errorf("running hardhat: %w", err)
	}

	switch {
	case containsAny(output, alreadyVerifiedMarkers):
		return nil
	case diagnostic.MentionsLibraries(output):
		return &domain.DiagnosticError{Text: output}
	case containsAny(output, transientMarkers):
		return domain.Transient(fmt.Errorf("hardhat verify: %s", lastLine(output)))
	default:
		return fmt.Errorf("hardhat verify failed (%w): %s", exitErr, strings.TrimSpace(output))
	}
}

func containsAny(s string, fragments []string) bool {
	for _, f := range fragments {
		if strings.Contains(s, f) {
			return true
		}
	}
	return false
}

func lastLine(s string) string {
	s = strings.TrimSpace(s)
	if i := strings.LastIndex(s, "\n"); i >= 0 {
		return strings.TrimSpace(s[i+1:])
	}
	return s
}
