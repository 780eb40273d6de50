package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/pendergraft/verify-contracts/internal/storage"
	"github.com/pendergraft/verify-contracts/internal/validation"
)

// Output formats of the history command
const (
	formatTable = "table"
	formatJSON  = "json"
	formatYAML  = "yaml"
)

type runView struct {
	ID           string       `json:"id" yaml:"id"`
	Network      string       `json:"network" yaml:"network"`
	Backend      string       `json:"backend" yaml:"backend"`
	Status       string       `json:"status" yaml:"status"`
	Total        int          `json:"total" yaml:"total"`
	Succeeded    int          `json:"succeeded" yaml:"succeeded"`
	Exhausted    int          `json:"exhausted" yaml:"exhausted"`
	Fatal        int          `json:"fatal" yaml:"fatal"`
	NotAttempted int          `json:"notAttempted" yaml:"not_attempted"`
	Skipped      int          `json:"skipped" yaml:"skipped"`
	StartedAt    time.Time    `json:"startedAt" yaml:"started_at"`
	FinishedAt   *time.Time   `json:"finishedAt,omitempty" yaml:"finished_at,omitempty"`
	Results      []resultView `json:"results,omitempty" yaml:"results,omitempty"`
}

type resultView struct {
	Name        string            `json:"name" yaml:"name"`
	ContractID  string            `json:"contractId" yaml:"contract_id"`
	Address     string            `json:"address" yaml:"address"`
	Outcome     string            `json:"outcome" yaml:"outcome"`
	Attempts    int               `json:"attempts" yaml:"attempts"`
	MaxAttempts int               `json:"maxAttempts" yaml:"max_attempts"`
	Libraries   map[string]string `json:"libraries" yaml:"libraries"`
	Error       string            `json:"error,omitempty" yaml:"error,omitempty"`
	DurationMS  int64             `json:"durationMs" yaml:"duration_ms"`
}

func newRunView(r storage.Run) runView {
	v := runView{
		ID:           r.ID,
		Network:      r.Network,
		Backend:      r.Backend,
		Status:       r.Status,
		Total:        r.Total,
		Succeeded:    r.Succeeded,
		Exhausted:    r.Exhausted,
		Fatal:        r.Fatal,
		NotAttempted: r.NotAttempted,
		Skipped:      r.Skipped,
		StartedAt:    r.StartedAt.UTC(),
	}
	if !r.FinishedAt.IsZero() {
		finished := r.FinishedAt.UTC()
		v.FinishedAt = &finished
	}
	return v
}

func newResultView(r storage.ContractResult) resultView {
	return resultView{
		Name:        r.Name,
		ContractID:  r.ContractID,
		Address:     r.Address,
		Outcome:     r.Outcome,
		Attempts:    r.Attempts,
		MaxAttempts: r.MaxAttempts,
		Libraries:   r.Libraries,
		Error:       r.Error,
		DurationMS:  r.DurationMS,
	}
}

type historyFlags struct {
	network string
	limit   int
	format  string
	runID   string
}

func (a *app) historyCmd() *cobra.Command {
	var flags historyFlags

	cmd := &cobra.Command{
		Use:   "history",
		Short: "Show past verification runs",
		Long: `Show past verification runs recorded in the verification ledger.

EXAMPLES:
  # List the most recent runs
  verify-contracts history

  # Runs against one network, as JSON
  verify-contracts history --network sepolia --format json

  # Per-contract results of one run
  verify-contracts history --run 2f0c5d9e-6c1b-4c55-9a53-0d1f1c2e7a10
`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.runHistory(cmd, flags)
		},
	}

	cmd.Flags().StringVar(&flags.network, "network", "", "only show runs against this network")
	cmd.Flags().IntVar(&flags.limit, "limit", storage.DefaultListLimit, "number of runs to show")
	cmd.Flags().StringVar(&flags.format, "format", formatTable, "output format: table, json or yaml")
	cmd.Flags().StringVar(&flags.runID, "run", "", "show the results of a single run")

	return cmd
}

func (a *app) runHistory(cmd *cobra.Command, flags historyFlags) error {
	switch flags.format {
	case formatTable, formatJSON, formatYAML:
	default:
		return fmt.Errorf("unknown format %q: expected table, json or yaml", flags.format)
	}
	if flags.network != "" {
		if err := validation.ValidateNetworkName(flags.network); err != nil {
			return err
		}
	}

	cfg, err := a.loadConfig()
	if err != nil {
		return err
	}
	logger := newLogger(cfg.Logging, a.stderr)

	store, err := a.openStore(cfg.Storage, logger)
	if err != nil {
		return fmt.Errorf("opening verification ledger: %w", err)
	}
	defer store.Close()

	ctx := cmd.Context()
	if err := store.Migrate(ctx); err != nil {
		return err
	}

	if flags.runID != "" {
		run, err := store.GetRun(ctx, flags.runID)
		if err != nil {
			return historyError(err)
		}
		results, err := store.ListResults(ctx, run.ID)
		if err != nil {
			return historyError(err)
		}
		view := newRunView(*run)
		for _, r := range results {
			view.Results = append(view.Results, newResultView(r))
		}
		return writeRun(a.stdout, flags.format, view)
	}

	runs, err := store.ListRuns(ctx, storage.RunFilter{Network: flags.network, Limit: flags.limit})
	if err != nil {
		return historyError(err)
	}
	views := make([]runView, 0, len(runs))
	for _, r := range runs {
		views = append(views, newRunView(r))
	}
	return writeRuns(a.stdout, flags.format, views)
}

func historyError(err error) error {
	switch {
	case errors.Is(err, storage.ErrDisabled):
		return errors.New("verification ledger is disabled: set storage type to sqlite or postgres")
	case errors.Is(err, storage.ErrNotFound):
		return fmt.Errorf("run not found: %w", err)
	default:
		return fmt.Errorf("reading verification ledger: %w", err)
	}
}

func writeRuns(w io.Writer, format string, runs []runView) error {
	switch format {
	case formatJSON:
		return writeJSON(w, map[string]any{"runs": runs, "count": len(runs)})
	case formatYAML:
		return yaml.NewEncoder(w).Encode(map[string]any{"runs": runs, "count": len(runs)})
	}

	if len(runs) == 0 {
		fmt.Fprintln(w, "No runs found")
		return nil
	}

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tNETWORK\tSTATUS\tVERIFIED\tFAILED\tSKIPPED\tSTARTED")
	for _, r := range runs {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%d/%d\t%d\t%d\t%s\n",
			r.ID, r.Network, r.Status, r.Succeeded, r.Total, r.Exhausted+r.Fatal, r.Skipped,
			r.StartedAt.Format(time.RFC3339))
	}
	return tw.Flush()
}

func writeRun(w io.Writer, format string, run runView) error {
	switch format {
	case formatJSON:
		return writeJSON(w, run)
	case formatYAML:
		return yaml.NewEncoder(w).Encode(run)
	}

	fmt.Fprintf(w, "Run %s on %s: %s (%d/%d verified)\n\n", run.ID, run.Network, run.Status, run.Succeeded, run.Total)
	if len(run.Results) == 0 {
		fmt.Fprintln(w, "No results recorded")
		return nil
	}

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "CONTRACT\tADDRESS\tOUTCOME\tATTEMPTS\tLIBRARIES")
	for _, r := range run.Results {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%d/%d\t%d\n",
			r.Name, r.Address, r.Outcome, r.Attempts, r.MaxAttempts+1, len(r.Libraries))
	}
	return tw.Flush()
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
