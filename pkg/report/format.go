package report

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/jedib0t/go-pretty/v6/table"
	"gopkg.in/yaml.v3"

	"github.com/Sumatoshi-tech/gwinfer/pkg/ledger"
)

// Output formats.
const (
	FormatTable = "table"
	FormatJSON  = "json"
	FormatYAML  = "yaml"
)

// ErrUnsupportedFormat is returned for an unknown output format.
var ErrUnsupportedFormat = errors.New("unsupported format")

// Formats lists the accepted output formats.
func Formats() []string {
	return []string{FormatTable, FormatJSON, FormatYAML}
}

// WriteSummary writes s to w in the given format.
func WriteSummary(w io.Writer, s *Summary, format string) error {
	if format == FormatTable {
		return writeSummaryTable(w, s)
	}

	return encode(w, s, format)
}

// WriteHistory writes ledger entries to w in the given format.
func WriteHistory(w io.Writer, entries []ledger.Entry, format string) error {
	if format == FormatTable {
		return writeHistoryTable(w, entries)
	}

	if entries == nil {
		entries = []ledger.Entry{}
	}

	return encode(w, entries, format)
}

// WriteRuns writes the run ids recorded in a ledger to w in the given format.
func WriteRuns(w io.Writer, runs []string, format string) error {
	if format != FormatTable {
		if runs == nil {
			runs = []string{}
		}

		return encode(w, runs, format)
	}

	tbl := newTable()
	tbl.AppendHeader(table.Row{"run id"})

	for _, runID := range runs {
		tbl.AppendRow(table.Row{runID})
	}

	tbl.AppendFooter(table.Row{fmt.Sprintf("Total: %d runs", len(runs))})

	_, err := fmt.Fprintln(w, tbl.Render())
	if err != nil {
		return fmt.Errorf("write table: %w", err)
	}

	return nil
}

func encode(w io.Writer, v any, format string) error {
	switch format {
	case FormatJSON:
		encoder := json.NewEncoder(w)
		encoder.SetIndent("", "  ")

		err := encoder.Encode(v)
		if err != nil {
			return fmt.Errorf("json encode: %w", err)
		}

		return nil
	case FormatYAML:
		data, err := yaml.Marshal(v)
		if err != nil {
			return fmt.Errorf("yaml marshal: %w", err)
		}

		_, err = w.Write(data)
		if err != nil {
			return fmt.Errorf("yaml write: %w", err)
		}

		return nil
	default:
		return fmt.Errorf("%w: %s", ErrUnsupportedFormat, format)
	}
}

func newTable() table.Writer {
	tbl := table.NewWriter()
	tbl.SetStyle(table.StyleLight)
	tbl.Style().Options.SeparateRows = false
	tbl.Style().Options.DrawBorder = false

	return tbl
}

func writeSummaryTable(w io.Writer, s *Summary) error {
	overview := newTable()
	overview.AppendRows([]table.Row{
		{"file", s.Path},
		{"size", humanize.IBytes(uint64(max(s.FileSize, 0)))},
		{"format", fmt.Sprintf("v%d, %s, %s compressed", s.FormatVersion, s.Codec,
			humanize.IBytes(uint64(max(s.CompressedSize, 0))))},
		{"run id", s.RunID},
		{"model", s.Model},
		{"created", s.CreatedAt},
		{"iteration", s.Iteration},
		{"walkers", s.NWalkers},
		{"betas", joinFloats(s.Betas)},
		{"temperatures", joinFloats(s.Temperatures)},
		{"stored samples", fmt.Sprintf("%d per chain, thin %d, %s", s.StoredSamples, s.Thin,
			humanize.IBytes(uint64(max(s.StoredBytes, 0))))},
		{"burn-in", burnInText(s)},
		{"effective samples", humanize.Comma(int64(s.EffectiveSamples))},
		{"acl", formatACL(s.ACL)},
		{"acceptance", fmt.Sprintf("%.3f", s.AcceptanceFraction)},
	})

	if len(s.SwapAcceptance) > 0 {
		overview.AppendRow(table.Row{"swap acceptance", joinFloats(s.SwapAcceptance)})
	}

	params := newTable()
	params.AppendHeader(table.Row{"param", "mean", "stddev", "5%", "50%", "95%"})

	for _, p := range s.Params {
		params.AppendRow(table.Row{
			p.Name,
			fmt.Sprintf("%.4g", p.Mean),
			fmt.Sprintf("%.4g", p.StdDev),
			fmt.Sprintf("%.4g", p.P05),
			fmt.Sprintf("%.4g", p.Median),
			fmt.Sprintf("%.4g", p.P95),
		})
	}

	_, err := fmt.Fprintf(w, "%s\n\n%s\n", overview.Render(), params.Render())
	if err != nil {
		return fmt.Errorf("write table: %w", err)
	}

	return nil
}

func writeHistoryTable(w io.Writer, entries []ledger.Entry) error {
	tbl := newTable()
	tbl.AppendHeader(table.Row{"time", "event", "iteration", "burned in", "effective samples", "acl"})

	for _, e := range entries {
		burnedIn := "no"
		if e.BurnedIn {
			burnedIn = "at " + strconv.Itoa(e.BurnInIteration)
		}

		tbl.AppendRow(table.Row{
			humanize.Time(e.Timestamp),
			string(e.Event),
			e.Iteration,
			burnedIn,
			e.EffectiveSamples,
			formatACL(e.ACL),
		})
	}

	tbl.AppendFooter(table.Row{fmt.Sprintf("Total: %d events", len(entries))})

	_, err := fmt.Fprintln(w, tbl.Render())
	if err != nil {
		return fmt.Errorf("write table: %w", err)
	}

	return nil
}

func burnInText(s *Summary) string {
	if !s.BurnedIn {
		return "not reached"
	}

	return "at iteration " + strconv.Itoa(s.BurnInIteration)
}

// formatACL prints an unknown (zero) ACL as "n/a".
func formatACL(acl float64) string {
	if acl <= 0 {
		return "n/a"
	}

	return strconv.FormatFloat(acl, 'f', 1, 64)
}

func joinFloats(values []float64) string {
	parts := make([]string, len(values))
	for i, v := range values {
		parts[i] = strconv.FormatFloat(v, 'g', 4, 64)
	}

	return strings.Join(parts, ", ")
}
