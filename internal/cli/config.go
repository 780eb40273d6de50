package cli

import (
	"bytes"
	"fmt"
	"os"

	"github.com/BurntSushi/toml"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/pendergraft/verify-contracts/internal/config"
)

func (a *app) configCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Configuration commands",
	}

	cmd.AddCommand(a.configInitCmd())
	cmd.AddCommand(a.configShowCmd())

	return cmd
}

func (a *app) configInitCmd() *cobra.Command {
	var force bool

	cmd := &cobra.Command{
		Use:   "init",
		Short: "Create config file",
		Long: `Create a verify-contracts.toml configuration file with the default
settings in the current directory.

EXAMPLES:
  verify-contracts config init

  # Overwrite existing config
  verify-contracts config init --force
`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.runConfigInit(config.DefaultFile, force)
		},
	}

	cmd.Flags().BoolVar(&force, "force", false, "overwrite existing config")

	return cmd
}

func (a *app) configShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Display current config",
		Long: `Display the effective configuration after the config file and
environment variables are applied. Secrets are masked.

EXAMPLES:
  verify-contracts config show
`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.runConfigShow()
		},
	}
}

func (a *app) runConfigInit(path string, force bool) error {
	if _, err := os.Stat(path); err == nil && !force {
		return fmt.Errorf("config file already exists at %s (use --force to overwrite)", path)
	}

	var buf bytes.Buffer
	buf.WriteString("# verify-contracts configuration\n# Environment variables override these settings.\n\n")
	if err := toml.NewEncoder(&buf).Encode(config.Defaults()); err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}

	if err := os.WriteFile(path, buf.Bytes(), 0o644); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}

	fmt.Fprintf(a.stdout, "Created %s\n", path)
	return nil
}

func (a *app) runConfigShow() error {
	cfg, err := a.loadConfig()
	if err != nil {
		return err
	}

	source := cfg.File
	if source == "" {
		source = "(defaults and environment)"
	}
	fmt.Fprintf(a.stdout, "# source: %s\n", source)

	enc := yaml.NewEncoder(a.stdout)
	enc.SetIndent(2)
	if err := enc.Encode(cfg.Redacted()); err != nil {
		return err
	}
	return enc.Close()
}
