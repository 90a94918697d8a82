package observability

import (
	"context"
	"fmt"
	"log/slog"

	"go.opentelemetry.io/otel/trace"
)

const (
	attrTraceID = "trace_id"
	attrSpanID  = "span_id"
	attrRunID   = "run_id"
	attrService = "service"
	attrEnv     = "env"
	attrMode    = "mode"
)

type runIDKey struct{}

// WithRunID returns a context whose log records carry the sampling run id.
func WithRunID(ctx context.Context, runID string) context.Context {
	return context.WithValue(ctx, runIDKey{}, runID)
}

// RunIDFromContext returns the run id stored by WithRunID, or "".
func RunIDFromContext(ctx context.Context) string {
	id, _ := ctx.Value(runIDKey{}).(string)

	return id
}

// RunHandler is an [slog.Handler] that stamps each record with the sampling
// run id and the active span, on top of the service, env and mode fields
// attached at construction.
type RunHandler struct {
	inner slog.Handler
}

// NewRunHandler wraps inner. Service fields go on the inner handler so they
// stay at the top level after WithGroup.
func NewRunHandler(inner slog.Handler, service, env string, appMode AppMode) *RunHandler {
	attrs := []slog.Attr{
		slog.String(attrService, service),
		slog.String(attrMode, string(appMode)),
	}

	if env != "" {
		attrs = append(attrs, slog.String(attrEnv, env))
	}

	return &RunHandler{inner: inner.WithAttrs(attrs)}
}

func (h *RunHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.inner.Enabled(ctx, level)
}

// Handle adds run_id when the context carries one, and trace_id and span_id
// when a span is recording.
func (h *RunHandler) Handle(ctx context.Context, record slog.Record) error {
	if id := RunIDFromContext(ctx); id != "" {
		record.AddAttrs(slog.String(attrRunID, id))
	}

	if sc := trace.SpanContextFromContext(ctx); sc.IsValid() {
		record.AddAttrs(
			slog.String(attrTraceID, sc.TraceID().String()),
			slog.String(attrSpanID, sc.SpanID().String()),
		)
	}

	err := h.inner.Handle(ctx, record)
	if err != nil {
		return fmt.Errorf("run log handler: %w", err)
	}

	return nil
}

func (h *RunHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &RunHandler{inner: h.inner.WithAttrs(attrs)}
}

func (h *RunHandler) WithGroup(name string) slog.Handler {
	return &RunHandler{inner: h.inner.WithGroup(name)}
}

// DiscardLogger returns a logger that drops every record. Components use it
// when no logger is configured.
func DiscardLogger() *slog.Logger {
	return slog.New(slog.DiscardHandler)
}
