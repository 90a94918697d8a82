package commands

import (
	"fmt"
	"os"
	"slices"
	"strings"

	"github.com/spf13/cobra"

	"github.com/Sumatoshi-tech/gwinfer/pkg/report"
)

// NewInspectCommand creates the inspect command.
func NewInspectCommand() *cobra.Command {
	var format string

	cmd := &cobra.Command{
		Use:   "inspect FILE",
		Short: "Summarize a checkpoint, backup or output file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			err := validateFormat(format)
			if err != nil {
				return err
			}

			summary, _, err := report.Load(args[0])
			if err != nil {
				return err
			}

			return report.WriteSummary(cmd.OutOrStdout(), summary, format)
		},
	}

	cmd.Flags().StringVar(&format, "format", report.FormatTable, "Output format: "+strings.Join(report.Formats(), ", "))

	return cmd
}

// NewPlotCommand creates the plot command.
func NewPlotCommand() *cobra.Command {
	var output string

	cmd := &cobra.Command{
		Use:   "plot FILE",
		Short: "Render HTML trace plots of a checkpoint or output file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			_, rec, err := report.Load(args[0])
			if err != nil {
				return err
			}

			if output == "" {
				output = args[0] + ".html"
			}

			f, err := os.Create(output)
			if err != nil {
				return fmt.Errorf("create %s: %w", output, err)
			}

			err = report.WritePlot(f, rec)
			if err != nil {
				_ = f.Close()

				return err
			}

			err = f.Close()
			if err != nil {
				return fmt.Errorf("close %s: %w", output, err)
			}

			fmt.Fprintf(cmd.OutOrStdout(), "wrote %s\n", output)

			return nil
		},
	}

	cmd.Flags().StringVarP(&output, "output", "o", "", "HTML output path (default: FILE.html)")

	return cmd
}

func validateFormat(format string) error {
	if !slices.Contains(report.Formats(), format) {
		return fmt.Errorf("%w: %s", report.ErrUnsupportedFormat, format)
	}

	return nil
}
