package mcp

import (
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"

	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"
)

// Tool name constants.
const (
	ToolNameInspect = "checkpoint_inspect"
	ToolNameStatus  = "run_status"
	ToolNameHistory = "run_history"
)

// Sentinel errors for tool input validation.
var (
	// ErrEmptyPath indicates the path parameter is empty.
	ErrEmptyPath = errors.New("path parameter is required and must not be empty")
	// ErrPathNotAbsolute indicates the path is not absolute.
	ErrPathNotAbsolute = errors.New("path must be an absolute path")
	// ErrEmptyRunID indicates the run_id parameter is empty.
	ErrEmptyRunID = errors.New("run_id parameter is required and must not be empty")
	// ErrNoLedger indicates the server was started without a run ledger.
	ErrNoLedger = errors.New("no run ledger configured")
)

// Input types (auto-generate JSON schemas via struct tags).

// InspectInput is the input schema for the checkpoint_inspect tool.
type InspectInput struct {
	Path string `json:"path" jsonschema:"absolute path to a checkpoint, backup or output file"`
}

// StatusInput is the input schema for the run_status tool.
type StatusInput struct {
	Output string `json:"output" jsonschema:"absolute path of the run's final output file"`
}

// HistoryInput is the input schema for the run_history tool.
type HistoryInput struct {
	RunID string `json:"run_id"          jsonschema:"run identifier recorded in the checkpoint metadata"`
	Limit int    `json:"limit,omitempty" jsonschema:"return only the most recent events (default: all)"`
}

// Output type (used as structured output for generic AddTool).

// ToolOutput is a generic wrapper for tool results.
type ToolOutput struct {
	Data any `json:"data"`
}

// Result helpers.

// errorResult builds a CallToolResult with isError set.
func errorResult(err error) (*mcpsdk.CallToolResult, ToolOutput, error) {
	return &mcpsdk.CallToolResult{
		Content: []mcpsdk.Content{
			&mcpsdk.TextContent{Text: err.Error()},
		},
		IsError: true,
	}, ToolOutput{}, nil
}

// jsonResult builds a CallToolResult with JSON-encoded content.
func jsonResult(value any) (*mcpsdk.CallToolResult, ToolOutput, error) {
	data, err := json.MarshalIndent(value, "", "  ")
	if err != nil {
		return errorResult(fmt.Errorf("encode result: %w", err))
	}

	return &mcpsdk.CallToolResult{
		Content: []mcpsdk.Content{
			&mcpsdk.TextContent{Text: string(data)},
		},
	}, ToolOutput{Data: value}, nil
}

// validatePath checks common path input constraints.
func validatePath(path string) error {
	if path == "" {
		return ErrEmptyPath
	}

	if !filepath.IsAbs(path) {
		return fmt.Errorf("%w: %s", ErrPathNotAbsolute, path)
	}

	return nil
}
