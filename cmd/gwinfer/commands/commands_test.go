package commands

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Sumatoshi-tech/gwinfer/pkg/config"
	"github.com/Sumatoshi-tech/gwinfer/pkg/report"
)

const runConfig = `model:
  name: test_normal
variable_params: [x, y]
prior:
  x: {name: uniform, min: -5, max: 5}
  y: {name: uniform, min: -5, max: 5}
sampler:
  nwalkers: 8
  betas: [1.0, 0.5]
  checkpoint-interval: 4
  niterations: 12
  nprocesses: 2
  seed: 5
  burn-in:
    burn-in-test: halfchain
`

// writeRunConfig writes runConfig plus an SQLite ledger section into dir.
func writeRunConfig(t *testing.T, dir string) string {
	t.Helper()

	path := filepath.Join(dir, "run.yaml")
	content := runConfig + "ledger:\n  backend: sqlite\n  dsn: " + filepath.Join(dir, "ledger.db") + "\n"
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	return path
}

func execute(t *testing.T, cmd *cobra.Command, args ...string) (string, error) {
	t.Helper()

	var stdout, stderr bytes.Buffer

	cmd.SetOut(&stdout)
	cmd.SetErr(&stderr)
	cmd.SetArgs(args)

	err := cmd.ExecuteContext(context.Background())

	return stdout.String(), err
}

func TestRunInspectPlotLedger(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	cfgPath := writeRunConfig(t, dir)
	output := filepath.Join(dir, "samples.gw")

	stdout, err := execute(t, NewRunCommand(), "--config-file", cfgPath, "--output-file", output, "--no-color")
	require.NoError(t, err)
	assert.Contains(t, stdout, "complete: 12 iterations")
	assert.FileExists(t, output)

	stdout, err = execute(t, NewInspectCommand(), output, "--format", report.FormatJSON)
	require.NoError(t, err)

	var summary report.Summary
	require.NoError(t, json.Unmarshal([]byte(stdout), &summary))
	assert.Equal(t, 12, summary.Iteration)
	assert.Equal(t, config.ModelNormal, summary.Model)
	require.NotEmpty(t, summary.RunID)

	stdout, err = execute(t, NewInspectCommand(), output)
	require.NoError(t, err)
	assert.Contains(t, stdout, summary.RunID)

	plotPath := filepath.Join(dir, "trace.html")
	_, err = execute(t, NewPlotCommand(), output, "-o", plotPath)
	require.NoError(t, err)
	assert.FileExists(t, plotPath)

	stdout, err = execute(t, NewLedgerCommand(), "history", "--run-id", summary.RunID, "--config-file", cfgPath)
	require.NoError(t, err)
	assert.Contains(t, stdout, "started")
	assert.Contains(t, stdout, "completed")
	assert.Contains(t, stdout, "Total: 5 events")

	stdout, err = execute(t, NewLedgerCommand(), "runs", "--config-file", cfgPath, "--format", report.FormatJSON)
	require.NoError(t, err)

	var runs []string
	require.NoError(t, json.Unmarshal([]byte(stdout), &runs))
	assert.Equal(t, []string{summary.RunID}, runs)

	// A second run refuses to overwrite the output without --force.
	_, err = execute(t, NewRunCommand(), "--config-file", cfgPath, "--output-file", output)
	require.Error(t, err)

	stdout, err = execute(t, NewRunCommand(), "--config-file", cfgPath, "--output-file", output,
		"--force", "--codec", "json", "--seed", "9")
	require.NoError(t, err)
	assert.Contains(t, stdout, "complete")
}

func TestRun_MissingFlags(t *testing.T) {
	t.Parallel()

	_, err := execute(t, NewRunCommand(), "--output-file", "out.gw")
	require.ErrorIs(t, err, ErrMissingFlag)

	_, err = execute(t, NewRunCommand(), "--config-file", "run.yaml")
	require.ErrorIs(t, err, ErrMissingFlag)
}

func TestRun_ConfigurationError(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := filepath.Join(dir, "bad.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`model:
  name: test_normal
variable_params: [x]
prior:
  x: {name: uniform, min: -1, max: 1}
sampler:
  nwalkers: 4
  effective-nsamples: 100
`), 0o600))

	output := filepath.Join(dir, "out.gw")

	_, err := execute(t, NewRunCommand(), "--config-file", path, "--output-file", output)
	require.ErrorIs(t, err, config.ErrConfiguration)

	entries, readErr := os.ReadDir(dir)
	require.NoError(t, readErr)
	assert.Len(t, entries, 1)
}

func TestInspect_Errors(t *testing.T) {
	t.Parallel()

	_, err := execute(t, NewInspectCommand(), filepath.Join(t.TempDir(), "absent.gw"))
	require.Error(t, err)

	_, err = execute(t, NewInspectCommand(), "x.gw", "--format", "xml")
	require.ErrorIs(t, err, report.ErrUnsupportedFormat)
}

func TestLedgerHistory_NoBackend(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "run.yaml")
	require.NoError(t, os.WriteFile(path, []byte(runConfig), 0o600))

	_, err := execute(t, NewLedgerCommand(), "history", "--run-id", "r", "--config-file", path)
	require.ErrorIs(t, err, ErrNoLedger)

	_, err = execute(t, NewLedgerCommand(), "history", "--config-file", path)
	require.ErrorIs(t, err, ErrMissingFlag)
}
