package commands

import (
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/Sumatoshi-tech/gwinfer/pkg/config"
	"github.com/Sumatoshi-tech/gwinfer/pkg/ledger"
	"github.com/Sumatoshi-tech/gwinfer/pkg/report"
)

// ErrNoLedger is returned when the configuration selects no ledger backend.
var ErrNoLedger = errors.New("no ledger backend configured")

// NewLedgerCommand creates the ledger command group.
func NewLedgerCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "ledger",
		Short: "Query the run ledger",
	}

	cmd.AddCommand(newLedgerHistoryCommand(), newLedgerRunsCommand())

	return cmd
}

func newLedgerHistoryCommand() *cobra.Command {
	var (
		runID      string
		configFile string
		format     string
	)

	cmd := &cobra.Command{
		Use:   "history",
		Short: "List the recorded events of a run",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if runID == "" {
				return fmt.Errorf("%w: --run-id", ErrMissingFlag)
			}

			err := validateFormat(format)
			if err != nil {
				return err
			}

			lg, err := openConfiguredLedger(cmd, configFile)
			if err != nil {
				return err
			}

			defer lg.Close()

			entries, err := lg.History(cmd.Context(), runID)
			if err != nil {
				return fmt.Errorf("run history: %w", err)
			}

			return report.WriteHistory(cmd.OutOrStdout(), entries, format)
		},
	}

	cmd.Flags().StringVar(&runID, "run-id", "", "Run identifier (see gwinfer inspect)")
	cmd.Flags().StringVar(&configFile, "config-file", "", "YAML configuration file naming the ledger")
	cmd.Flags().StringVar(&format, "format", report.FormatTable, "Output format: "+strings.Join(report.Formats(), ", "))

	return cmd
}

func newLedgerRunsCommand() *cobra.Command {
	var (
		configFile string
		format     string
	)

	cmd := &cobra.Command{
		Use:   "runs",
		Short: "List the run ids recorded in the ledger",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			err := validateFormat(format)
			if err != nil {
				return err
			}

			lg, err := openConfiguredLedger(cmd, configFile)
			if err != nil {
				return err
			}

			defer lg.Close()

			runs, err := lg.Runs(cmd.Context())
			if err != nil {
				return fmt.Errorf("list runs: %w", err)
			}

			return report.WriteRuns(cmd.OutOrStdout(), runs, format)
		},
	}

	cmd.Flags().StringVar(&configFile, "config-file", "", "YAML configuration file naming the ledger")
	cmd.Flags().StringVar(&format, "format", report.FormatTable, "Output format: "+strings.Join(report.Formats(), ", "))

	return cmd
}

// openConfiguredLedger opens the ledger named in configFile.
func openConfiguredLedger(cmd *cobra.Command, configFile string) (ledger.Ledger, error) {
	if configFile == "" {
		return nil, fmt.Errorf("%w: --config-file", ErrMissingFlag)
	}

	cfg, err := config.LoadConfig(configFile)
	if err != nil {
		return nil, err
	}

	if cfg.Ledger.Backend == "" || cfg.Ledger.Backend == config.LedgerNone {
		return nil, fmt.Errorf("%w in %s", ErrNoLedger, configFile)
	}

	lg, err := ledger.Open(cmd.Context(), cfg.Ledger)
	if err != nil {
		return nil, fmt.Errorf("open ledger: %w", err)
	}

	return lg, nil
}
