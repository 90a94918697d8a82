package commands

import (
	"github.com/spf13/cobra"

	"github.com/Sumatoshi-tech/gwinfer/pkg/ledger"
	"github.com/Sumatoshi-tech/gwinfer/pkg/mcp"
	"github.com/Sumatoshi-tech/gwinfer/pkg/observability"
)

// NewMCPCommand creates the MCP server command.
func NewMCPCommand() *cobra.Command {
	var (
		debug      bool
		configFile string
	)

	cmd := &cobra.Command{
		Use:   "mcp",
		Short: "Start MCP server for AI agent integration",
		Long: `Start a Model Context Protocol (MCP) server on stdio transport.

The MCP server exposes these tools:
  - checkpoint_inspect: Summarize a checkpoint, backup or output file
  - run_status: Report whether a run is not started, in progress or complete
  - run_history: List ledger events of a run (needs --config-file with a ledger)`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			providers, err := initObservability(telemetryOptions{
				mode:      observability.ModeMCP,
				logJSON:   true,
				verbose:   debug,
				logOutput: cmd.ErrOrStderr(),
			})
			if err != nil {
				return err
			}

			defer shutdownObservability(providers)

			red, err := observability.NewREDMetrics(providers.Meter)
			if err != nil {
				return err
			}

			deps := mcp.ServerDeps{Logger: providers.Logger, Metrics: red, Tracer: providers.Tracer}

			if configFile != "" {
				var lg ledger.Ledger

				lg, err = openConfiguredLedger(cmd, configFile)
				if err != nil {
					return err
				}

				defer lg.Close()

				deps.Ledger = lg
			}

			return mcp.NewServer(deps).Run(cmd.Context())
		},
	}

	cmd.Flags().BoolVar(&debug, "debug", false, "Enable debug logging to stderr")
	cmd.Flags().StringVar(&configFile, "config-file", "", "YAML configuration file naming the run ledger")

	return cmd
}
