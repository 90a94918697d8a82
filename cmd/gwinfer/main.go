// Package main provides the entry point for the gwinfer CLI tool.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/Sumatoshi-tech/gwinfer/cmd/gwinfer/commands"
	"github.com/Sumatoshi-tech/gwinfer/pkg/version"
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "gwinfer",
		Short: "Checkpointed, resumable parallel-tempered ensemble MCMC",
		Long: `gwinfer runs a parallel-tempered ensemble MCMC sampler whose progress is
checkpointed to disk, so interrupted runs resume where they stopped.

Commands:
  run       Sample a configured posterior to its stopping condition
  inspect   Summarize a checkpoint or output file
  plot      Render HTML trace plots of a checkpoint or output file
  ledger    Query the run ledger
  mcp       Serve checkpoint inspection over the Model Context Protocol`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.AddCommand(commands.NewRunCommand())
	rootCmd.AddCommand(commands.NewInspectCommand())
	rootCmd.AddCommand(commands.NewPlotCommand())
	rootCmd.AddCommand(commands.NewLedgerCommand())
	rootCmd.AddCommand(commands.NewMCPCommand())
	rootCmd.AddCommand(versionCmd())

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)

	err := rootCmd.ExecuteContext(ctx)

	stop()

	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintln(cmd.OutOrStdout(), version.String())
		},
	}
}
