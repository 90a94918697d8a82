package observability_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/codes"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	"go.opentelemetry.io/otel/trace"

	"github.com/Sumatoshi-tech/gwinfer/pkg/observability"
)

func TestInit_NoopWhenNoEndpoint(t *testing.T) {
	t.Parallel()

	cfg := observability.DefaultConfig()
	cfg.LogOutput = io.Discard

	providers, err := observability.Init(cfg)
	require.NoError(t, err)

	assert.NotNil(t, providers.Tracer)
	assert.NotNil(t, providers.Meter)
	assert.NotNil(t, providers.Logger)
	assert.Nil(t, providers.MetricsHandler)

	ctx, span := providers.Tracer.Start(context.Background(), "test-op")
	span.End()

	assert.NotNil(t, ctx)
	assert.NoError(t, providers.Shutdown(context.Background()))
}

func TestInit_PrometheusServesSamplerMetrics(t *testing.T) {
	t.Parallel()

	cfg := observability.DefaultConfig()
	cfg.Prometheus = true
	cfg.LogOutput = io.Discard

	providers, err := observability.Init(cfg)
	require.NoError(t, err)

	t.Cleanup(func() { require.NoError(t, providers.Shutdown(context.Background())) })
	require.NotNil(t, providers.MetricsHandler)

	metrics, err := observability.NewSamplerMetrics(providers.Meter)
	require.NoError(t, err)

	metrics.RecordBatch(context.Background(), observability.BatchStats{Iterations: 4, Duration: time.Second})

	rec := httptest.NewRecorder()
	providers.MetricsHandler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "sampler")
	assert.Contains(t, rec.Body.String(), "iterations")
}

func TestInit_LoggerWritesJSON(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer

	cfg := observability.DefaultConfig()
	cfg.LogJSON = true
	cfg.LogOutput = &buf
	cfg.Environment = "test"

	providers, err := observability.Init(cfg)
	require.NoError(t, err)

	providers.Logger.Info("hello", "iteration", 4)

	var record map[string]any

	require.NoError(t, json.Unmarshal(buf.Bytes(), &record))
	assert.Equal(t, "gwinfer", record["service"])
	assert.Equal(t, "test", record["env"])
	assert.Equal(t, "cli", record["mode"])
	assert.InDelta(t, 4, record["iteration"], 0)
}

func TestRunHandler_InjectsRunAndTraceContext(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer

	inner := slog.NewJSONHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug})
	logger := slog.New(observability.NewRunHandler(inner, "test-svc", "", observability.ModeMCP))

	traceID, err := trace.TraceIDFromHex("0102030405060708090a0b0c0d0e0f10")
	require.NoError(t, err)

	spanID, err := trace.SpanIDFromHex("0102030405060708")
	require.NoError(t, err)

	sc := trace.NewSpanContext(trace.SpanContextConfig{TraceID: traceID, SpanID: spanID, TraceFlags: trace.FlagsSampled})
	ctx := trace.ContextWithSpanContext(context.Background(), sc)
	ctx = observability.WithRunID(ctx, "run-7")

	logger.WithGroup("sampler").InfoContext(ctx, "checkpoint saved", "iteration", 8)

	var record map[string]any

	require.NoError(t, json.Unmarshal(buf.Bytes(), &record))
	assert.Equal(t, "0102030405060708090a0b0c0d0e0f10", record["trace_id"])
	assert.Equal(t, "0102030405060708", record["span_id"])
	assert.Equal(t, "test-svc", record["service"])
	assert.Equal(t, "mcp", record["mode"])
	assert.NotContains(t, record, "env")

	group, ok := record["sampler"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "run-7", group["run_id"])
	assert.InDelta(t, 8, group["iteration"], 0)
}

func TestRunHandler_WithoutRunOrSpan(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer

	logger := slog.New(observability.NewRunHandler(slog.NewJSONHandler(&buf, nil), "gwinfer", "prod", observability.ModeCLI))
	logger.InfoContext(context.Background(), "starting fresh run")

	var record map[string]any

	require.NoError(t, json.Unmarshal(buf.Bytes(), &record))
	assert.Equal(t, "prod", record["env"])
	assert.NotContains(t, record, "run_id")
	assert.NotContains(t, record, "trace_id")
	assert.Empty(t, observability.RunIDFromContext(context.Background()))
}

func TestDiscardLogger(t *testing.T) {
	t.Parallel()

	logger := observability.DiscardLogger()

	assert.False(t, logger.Enabled(context.Background(), slog.LevelError))
}

func TestParseOTLPHeaders(t *testing.T) {
	t.Parallel()

	assert.Nil(t, observability.ParseOTLPHeaders(""))
	assert.Nil(t, observability.ParseOTLPHeaders("garbage"))
	assert.Equal(t,
		map[string]string{"api-key": "secret", "tenant": "a"},
		observability.ParseOTLPHeaders(" api-key = secret ,tenant=a"))
}

func collectMetrics(t *testing.T, reader *sdkmetric.ManualReader) metricdata.ResourceMetrics {
	t.Helper()

	var rm metricdata.ResourceMetrics

	require.NoError(t, reader.Collect(context.Background(), &rm))

	return rm
}

func findMetric(rm metricdata.ResourceMetrics, name string) *metricdata.Metrics {
	for idx := range rm.ScopeMetrics {
		for midx := range rm.ScopeMetrics[idx].Metrics {
			if rm.ScopeMetrics[idx].Metrics[midx].Name == name {
				return &rm.ScopeMetrics[idx].Metrics[midx]
			}
		}
	}

	return nil
}

func TestSamplerMetrics(t *testing.T) {
	t.Parallel()

	reader := sdkmetric.NewManualReader()
	meter := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader)).Meter("test")

	sm, err := observability.NewSamplerMetrics(meter)
	require.NoError(t, err)

	ctx := context.Background()
	sm.RecordBatch(ctx, observability.BatchStats{
		Iterations:       4,
		Duration:         2 * time.Second,
		EffectiveSamples: 120,
		StoredSamples:    8,
		Acceptance:       0.3,
		SwapAcceptance:   []float64{0.5, 0.4},
	})
	sm.RecordBatch(ctx, observability.BatchStats{Iterations: 4, EffectiveSamples: 200})
	sm.RecordCheckpoint(ctx, 10*time.Millisecond, nil)
	sm.RecordCheckpoint(ctx, 10*time.Millisecond, errors.New("disk full"))

	rm := collectMetrics(t, reader)

	iterations := findMetric(rm, "gwinfer.sampler.iterations.total")
	require.NotNil(t, iterations)

	sum, ok := iterations.Data.(metricdata.Sum[int64])
	require.True(t, ok)
	require.Len(t, sum.DataPoints, 1)
	assert.Equal(t, int64(8), sum.DataPoints[0].Value)

	ess := findMetric(rm, "gwinfer.sampler.effective.samples")
	require.NotNil(t, ess)

	gauge, ok := ess.Data.(metricdata.Gauge[int64])
	require.True(t, ok)
	require.Len(t, gauge.DataPoints, 1)
	assert.Equal(t, int64(200), gauge.DataPoints[0].Value)

	failures := findMetric(rm, "gwinfer.checkpoint.failures.total")
	require.NotNil(t, failures)

	failSum, ok := failures.Data.(metricdata.Sum[int64])
	require.True(t, ok)
	assert.Equal(t, int64(1), failSum.DataPoints[0].Value)

	swaps := findMetric(rm, "gwinfer.sampler.swap.acceptance.fraction")
	require.NotNil(t, swaps)

	swapGauge, ok := swaps.Data.(metricdata.Gauge[float64])
	require.True(t, ok)
	assert.Len(t, swapGauge.DataPoints, 2)
}

func TestSamplerMetrics_NilSafe(t *testing.T) {
	t.Parallel()

	var sm *observability.SamplerMetrics

	assert.NotPanics(t, func() {
		sm.RecordBatch(context.Background(), observability.BatchStats{})
		sm.RecordCheckpoint(context.Background(), time.Second, nil)
	})
}

func TestREDMetrics(t *testing.T) {
	t.Parallel()

	reader := sdkmetric.NewManualReader()
	meter := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader)).Meter("test")

	red, err := observability.NewREDMetrics(meter)
	require.NoError(t, err)

	ctx := context.Background()
	done := red.TrackInflight(ctx, "checkpoint_inspect")
	red.RecordRequest(ctx, "checkpoint_inspect", observability.StatusOK, time.Millisecond)
	red.RecordRequest(ctx, "checkpoint_inspect", observability.StatusError, time.Millisecond)
	done()

	rm := collectMetrics(t, reader)

	requests := findMetric(rm, "gwinfer.requests.total")
	require.NotNil(t, requests)

	sum, ok := requests.Data.(metricdata.Sum[int64])
	require.True(t, ok)
	assert.Len(t, sum.DataPoints, 2)

	errs := findMetric(rm, "gwinfer.errors.total")
	require.NotNil(t, errs)
}

func scrapeAttrs(span sdktrace.ReadOnlySpan) map[string]any {
	attrs := make(map[string]any)
	for _, kv := range span.Attributes() {
		attrs[string(kv.Key)] = kv.Value.AsInterface()
	}

	return attrs
}

func TestScrapeHandler_RecordsScrapeSpan(t *testing.T) {
	t.Parallel()

	recorder := tracetest.NewSpanRecorder()
	tracer := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder)).Tracer("test")

	payload := "gwinfer_iterations_total 12\n"
	handler := observability.ScrapeHandler(tracer, "/metrics", http.HandlerFunc(func(rw http.ResponseWriter, _ *http.Request) {
		_, _ = io.WriteString(rw, payload)
	}))

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	req.Header.Set("User-Agent", "Prometheus/2.53")

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)

	spans := recorder.Ended()
	require.Len(t, spans, 1)
	assert.Equal(t, observability.ScrapeSpanName, spans[0].Name())
	assert.Equal(t, trace.SpanKindServer, spans[0].SpanKind())

	attrs := scrapeAttrs(spans[0])
	assert.Equal(t, "/metrics", attrs["http.route"])
	assert.Equal(t, "Prometheus/2.53", attrs["metrics.scraper"])
	assert.Equal(t, int64(http.StatusOK), attrs["http.response.status_code"])
	assert.Equal(t, int64(len(payload)), attrs["metrics.payload_bytes"])
}

func TestScrapeHandler_FailedScrape(t *testing.T) {
	t.Parallel()

	recorder := tracetest.NewSpanRecorder()
	tracer := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder)).Tracer("test")

	handler := observability.ScrapeHandler(tracer, "/metrics", http.HandlerFunc(func(rw http.ResponseWriter, _ *http.Request) {
		rw.WriteHeader(http.StatusServiceUnavailable)
	}))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	spans := recorder.Ended()
	require.Len(t, spans, 1)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Equal(t, codes.Error, spans[0].Status().Code)
}

func TestScrapeHandler_RejectsWrites(t *testing.T) {
	t.Parallel()

	recorder := tracetest.NewSpanRecorder()
	tracer := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder)).Tracer("test")

	called := false
	handler := observability.ScrapeHandler(tracer, "/metrics", http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		called = true
	}))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/metrics", nil))

	assert.False(t, called)
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)

	spans := recorder.Ended()
	require.Len(t, spans, 1)
	assert.Equal(t, int64(http.StatusMethodNotAllowed), scrapeAttrs(spans[0])["http.response.status_code"])
}
