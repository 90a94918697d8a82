package mcp

import (
	"context"
	"errors"
	"fmt"
	"os"

	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/Sumatoshi-tech/gwinfer/pkg/checkpoint"
	"github.com/Sumatoshi-tech/gwinfer/pkg/report"
)

// Run states reported by run_status.
const (
	StateNotStarted = "not_started"
	StateInProgress = "in_progress"
	StateComplete   = "complete"
)

// RunStatus is the run_status result.
type RunStatus struct {
	Output           string  `json:"output"`
	State            string  `json:"state"`
	Source           string  `json:"source,omitempty"`
	RunID            string  `json:"run_id,omitempty"`
	Iteration        int     `json:"iteration"`
	BurnedIn         bool    `json:"burned_in"`
	BurnInIteration  int     `json:"burn_in_iteration"`
	EffectiveSamples int     `json:"effective_samples"`
	ACL              float64 `json:"acl"`
	SavedAt          string  `json:"saved_at,omitempty"`
	Warning          string  `json:"warning,omitempty"`
}

// handleInspect processes checkpoint_inspect tool calls.
func handleInspect(
	_ context.Context,
	_ *mcpsdk.CallToolRequest,
	input InspectInput,
) (*mcpsdk.CallToolResult, ToolOutput, error) {
	err := validatePath(input.Path)
	if err != nil {
		return errorResult(err)
	}

	summary, _, err := report.Load(input.Path)
	if err != nil {
		return errorResult(err)
	}

	return jsonResult(summary)
}

// handleStatus processes run_status tool calls.
func handleStatus(
	_ context.Context,
	_ *mcpsdk.CallToolRequest,
	input StatusInput,
) (*mcpsdk.CallToolResult, ToolOutput, error) {
	err := validatePath(input.Output)
	if err != nil {
		return errorResult(err)
	}

	status, err := runStatus(input.Output)
	if err != nil {
		return errorResult(err)
	}

	return jsonResult(status)
}

// runStatus prefers a live checkpoint over the output so a forced rerun
// reports progress instead of the stale result it will replace.
func runStatus(output string) (*RunStatus, error) {
	status := &RunStatus{Output: output}
	paths := checkpoint.PathsFor(output)

	source := paths.Checkpoint
	if _, err := os.Stat(source); err != nil {
		source = paths.Backup
	}

	rec, err := checkpoint.LoadLatest(output)

	switch {
	case errors.Is(err, checkpoint.ErrNoCheckpoint):
		return completedStatus(status, output)
	case errors.Is(err, checkpoint.ErrCheckpointCorrupted):
		status.Warning = err.Error()
		source = paths.Backup

		rec, err = checkpoint.LoadBackup(output)
		if err != nil {
			return nil, err
		}
	case err != nil:
		return nil, err
	}

	status.State = StateInProgress
	status.Source = source
	fillStatus(status, rec)

	return status, nil
}

// completedStatus reports output as complete, or not started when it is absent.
func completedStatus(status *RunStatus, output string) (*RunStatus, error) {
	if _, err := os.Stat(output); err != nil {
		status.State = StateNotStarted

		return status, nil
	}

	rec, _, err := checkpoint.ReadFile(output)
	if err != nil {
		return nil, fmt.Errorf("read output: %w", err)
	}

	status.State = StateComplete
	status.Source = output
	fillStatus(status, rec)

	return status, nil
}

func fillStatus(status *RunStatus, rec *checkpoint.Record) {
	status.RunID = rec.Metadata.RunID
	status.Iteration = rec.Metadata.Iteration
	status.BurnedIn = rec.Metadata.BurnedIn
	status.BurnInIteration = rec.Metadata.BurnInIteration
	status.EffectiveSamples = rec.Metadata.EffectiveSamples
	status.ACL = rec.Metadata.ACL
	status.SavedAt = rec.Metadata.CreatedAt
}
