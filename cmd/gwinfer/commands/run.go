// Package commands implements CLI command handlers for gwinfer.
package commands

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/Sumatoshi-tech/gwinfer/pkg/checkpoint"
	"github.com/Sumatoshi-tech/gwinfer/pkg/config"
	"github.com/Sumatoshi-tech/gwinfer/pkg/inference"
	"github.com/Sumatoshi-tech/gwinfer/pkg/ledger"
	"github.com/Sumatoshi-tech/gwinfer/pkg/observability"
	"github.com/Sumatoshi-tech/gwinfer/pkg/persist"
	"github.com/Sumatoshi-tech/gwinfer/pkg/sampler"
)

// ErrMissingFlag is returned when a required flag is empty.
var ErrMissingFlag = errors.New("required flag not set")

// RunCommand holds the flags of the run command.
type RunCommand struct {
	configFile   string
	outputFile   string
	force        bool
	retainBackup bool
	nprocesses   int
	seed         uint64
	codec        string
	metricsAddr  string
	logJSON      bool
	verbose      bool
	noColor      bool
}

// NewRunCommand creates the run command.
func NewRunCommand() *cobra.Command {
	rc := &RunCommand{}

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Sample a configured posterior to its stopping condition",
		Long: `Run the sampler described by --config-file, writing the result to --output-file.

Progress is checkpointed to {output}.checkpoint with a backup in {output}.bkup.
When a checkpoint exists the run resumes from it; the final checkpoint is
renamed to the output file once the stopping condition is met.`,
		Args: cobra.NoArgs,
		RunE: rc.run,
	}

	cmd.Flags().StringVar(&rc.configFile, "config-file", "", "YAML configuration file")
	cmd.Flags().StringVar(&rc.outputFile, "output-file", "", "Final output path")
	cmd.Flags().BoolVar(&rc.force, "force", false, "Start over even if the output file already exists")
	cmd.Flags().BoolVar(&rc.retainBackup, "retain-backup", false, "Keep {output}.bkup after the run completes")
	cmd.Flags().IntVar(&rc.nprocesses, "nprocesses", 0, "Parallel posterior evaluations (overrides sampler.nprocesses; 0 = CPU count)")
	cmd.Flags().Uint64Var(&rc.seed, "seed", 0, "Random seed for a fresh run (overrides sampler.seed)")
	cmd.Flags().StringVar(&rc.codec, "codec", persist.CodecNameGob, "Checkpoint payload codec: gob, json")
	cmd.Flags().StringVar(&rc.metricsAddr, "metrics-addr", "", "Serve Prometheus metrics on this address (e.g. :9090)")
	cmd.Flags().BoolVar(&rc.logJSON, "log-json", false, "Write JSON logs")
	cmd.Flags().BoolVarP(&rc.verbose, "verbose", "v", false, "Debug logging")
	cmd.Flags().BoolVar(&rc.noColor, "no-color", false, "Disable colored status output")

	return cmd
}

func (rc *RunCommand) run(cmd *cobra.Command, _ []string) error {
	if rc.configFile == "" {
		return fmt.Errorf("%w: --config-file", ErrMissingFlag)
	}

	if rc.outputFile == "" {
		return fmt.Errorf("%w: --output-file", ErrMissingFlag)
	}

	cfg, err := config.LoadConfig(rc.configFile)
	if err != nil {
		return err
	}

	if cmd.Flags().Changed("nprocesses") {
		cfg.Sampler.NProcesses = rc.nprocesses
	}

	if cmd.Flags().Changed("seed") {
		cfg.Sampler.Seed = rc.seed
	}

	codec, err := persist.CodecByName(rc.codec)
	if err != nil {
		return err
	}

	providers, err := initObservability(telemetryOptions{
		mode:       observability.ModeCLI,
		logJSON:    rc.logJSON,
		verbose:    rc.verbose,
		prometheus: rc.metricsAddr != "",
		logOutput:  cmd.ErrOrStderr(),
	})
	if err != nil {
		return err
	}

	defer shutdownObservability(providers)

	if rc.metricsAddr != "" {
		stop, serveErr := serveMetrics(providers, rc.metricsAddr)
		if serveErr != nil {
			return fmt.Errorf("metrics server: %w", serveErr)
		}

		defer stop()
	}

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	lg, err := ledger.Open(ctx, cfg.Ledger)
	if err != nil {
		return fmt.Errorf("open ledger: %w", err)
	}

	defer func() {
		closeErr := lg.Close()
		if closeErr != nil {
			providers.Logger.Warn("ledger close failed", "error", closeErr)
		}
	}()

	metrics, err := observability.NewSamplerMetrics(providers.Meter)
	if err != nil {
		return err
	}

	runner, err := inference.NewRunner(inference.Options{
		Config:       cfg,
		Output:       rc.outputFile,
		Codec:        codec,
		Force:        rc.force,
		RetainBackup: rc.retainBackup,
		Logger:       providers.Logger,
		Tracer:       providers.Tracer,
		Metrics:      metrics,
		Ledger:       lg,
	})
	if err != nil {
		return err
	}

	state, err := runner.Run(ctx)

	rc.printStatus(cmd.OutOrStdout(), runner, state, err)

	return err
}

// printStatus writes a one-line colored outcome of the run.
func (rc *RunCommand) printStatus(w io.Writer, runner *inference.Runner, state *sampler.RunState, err error) {
	paint := func(attr color.Attribute) *color.Color {
		c := color.New(attr)
		if rc.noColor {
			c.DisableColor()
		}

		return c
	}

	var diverged *sampler.DivergedError

	switch {
	case err == nil:
		paint(color.FgGreen).Fprintf(w, "run %s complete: %d iterations written to %s\n",
			runner.RunID(), state.Iteration, rc.outputFile)
	case errors.Is(err, context.Canceled):
		paint(color.FgYellow).Fprintf(w, "run %s interrupted; rerun the same command to resume from %s\n",
			runner.RunID(), runner.Paths().Checkpoint)
	case errors.As(err, &diverged):
		paint(color.FgRed).Fprintf(w, "run %s diverged at iteration %d (beta %g); last checkpoint kept\n",
			runner.RunID(), diverged.Iteration, diverged.Beta)
	case errors.Is(err, checkpoint.ErrBackupCorrupted):
		paint(color.FgRed).Fprintf(w, "checkpoint and backup of %s are both corrupted\n", rc.outputFile)
	}
}
