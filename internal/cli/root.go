// Package cli implements the verify-contracts command line.
package cli

import (
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/pendergraft/verify-contracts/internal/config"
	"github.com/pendergraft/verify-contracts/internal/storage"
	"github.com/pendergraft/verify-contracts/internal/verification/domain"
)

// app holds the collaborators of every command, so tests can swap them.
type app struct {
	stdout      io.Writer
	stderr      io.Writer
	loadConfig  func() (*config.Config, error)
	newVerifier func(cfg *config.Config, logger *slog.Logger) (domain.Verifier, error)
	openStore   func(cfg config.StorageConfig, logger *slog.Logger) (storage.Store, error)
}

func defaultApp(stdout, stderr io.Writer) *app {
	return &app{
		stdout:      stdout,
		stderr:      stderr,
		loadConfig:  config.Load,
		newVerifier: newVerifier,
		openStore:   storage.New,
	}
}

// NewRootCommand returns the verify-contracts command writing to the given
// streams.
func NewRootCommand(version string, stdout, stderr io.Writer) *cobra.Command {
	return defaultApp(stdout, stderr).rootCmd(version)
}

// Execute runs the CLI
func Execute(version string) error {
	return NewRootCommand(version, os.Stdout, os.Stderr).Execute()
}

func (a *app) rootCmd(version string) *cobra.Command {
	var flags verifyFlags

	rootCmd := &cobra.Command{
		Use:   "verify-contracts <network>",
		Short: "Verify all deployed contracts of a network",
		Long: `Verify every contract recorded in deployments/<network> against the
verification service, discovering which linked libraries the service wants
by retrying on its diagnostics.

EXAMPLES:
  # Verify all contracts deployed on sepolia with hardhat
  verify-contracts sepolia

  # Use an HTTP verification service and stop at the first fatal error
  VERIFIER_BACKEND=http VERIFIER_URL=https://verify.example.com \
    verify-contracts sepolia --stop-on-fatal

  # Show recent runs
  verify-contracts history --network sepolia
`,
		Version:       version,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.runVerify(cmd, args[0], flags)
		},
	}
	rootCmd.SetOut(a.stdout)
	rootCmd.SetErr(a.stderr)

	rootCmd.Flags().StringVar(&flags.deploymentsDir, "deployments-dir", "", "deployments root directory (default from config)")
	rootCmd.Flags().StringVar(&flags.backend, "backend", "", "verifier backend: hardhat or http (default from config)")
	rootCmd.Flags().BoolVar(&flags.stopOnFatal, "stop-on-fatal", false, "stop at the first contract that fails fatally")
	rootCmd.Flags().IntVar(&flags.callTimeout, "call-timeout", 0, "per-call timeout in seconds (default from config)")
	rootCmd.Flags().StringVar(&flags.logLevel, "log-level", "", "log level: debug, info, warn or error")

	rootCmd.AddCommand(a.historyCmd())
	rootCmd.AddCommand(a.configCmd())

	return rootCmd
}

// loadConfigWithFlags loads the configuration and applies explicitly set flags.
func (a *app) loadConfigWithFlags(cmd *cobra.Command, flags verifyFlags) (*config.Config, error) {
	cfg, err := a.loadConfig()
	if err != nil {
		return nil, err
	}

	if cmd.Flags().Changed("deployments-dir") {
		cfg.DeploymentsDir = flags.deploymentsDir
	}
	if cmd.Flags().Changed("backend") {
		cfg.Verifier.Backend = flags.backend
	}
	if cmd.Flags().Changed("stop-on-fatal") {
		cfg.StopOnFatal = flags.stopOnFatal
	}
	if cmd.Flags().Changed("call-timeout") {
		cfg.Verifier.CallTimeout = flags.callTimeout
	}
	if cmd.Flags().Changed("log-level") {
		cfg.Logging.Level = flags.logLevel
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}
