package mcp

import (
	"context"
	"fmt"

	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/Sumatoshi-tech/gwinfer/pkg/ledger"
)

// handleHistory processes run_history tool calls against the server's ledger.
func (s *Server) handleHistory(
	ctx context.Context,
	_ *mcpsdk.CallToolRequest,
	input HistoryInput,
) (*mcpsdk.CallToolResult, ToolOutput, error) {
	if input.RunID == "" {
		return errorResult(ErrEmptyRunID)
	}

	if s.ledger == nil {
		return errorResult(ErrNoLedger)
	}

	entries, err := s.ledger.History(ctx, input.RunID)
	if err != nil {
		return errorResult(fmt.Errorf("run history: %w", err))
	}

	if input.Limit > 0 && len(entries) > input.Limit {
		entries = entries[len(entries)-input.Limit:]
	}

	if entries == nil {
		entries = []ledger.Entry{}
	}

	return jsonResult(entries)
}
