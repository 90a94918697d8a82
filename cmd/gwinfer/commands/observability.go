package commands

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/Sumatoshi-tech/gwinfer/pkg/observability"
	"github.com/Sumatoshi-tech/gwinfer/pkg/version"
)

const (
	metricsPath       = "/metrics"
	readHeaderTimeout = 5 * time.Second
)

// telemetryOptions selects how a command reports logs and metrics.
type telemetryOptions struct {
	mode       observability.AppMode
	logJSON    bool
	verbose    bool
	prometheus bool
	logOutput  io.Writer
}

func initObservability(opts telemetryOptions) (observability.Providers, error) {
	cfg := observability.ConfigFromEnv()
	cfg.ServiceVersion = version.Version
	cfg.Mode = opts.mode
	cfg.LogJSON = opts.logJSON
	cfg.Prometheus = opts.prometheus
	cfg.LogOutput = opts.logOutput

	if opts.verbose {
		cfg.LogLevel = slog.LevelDebug
	}

	return observability.Init(cfg)
}

// shutdownObservability flushes telemetry, logging any failure.
func shutdownObservability(providers observability.Providers) {
	err := providers.Shutdown(context.Background())
	if err != nil {
		providers.Logger.Warn("observability shutdown failed", "error", err)
	}
}

// serveMetrics exposes the Prometheus scrape endpoint on addr until the
// returned stop function is called.
func serveMetrics(providers observability.Providers, addr string) (func(), error) {
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, err
	}

	mux := http.NewServeMux()
	mux.Handle(metricsPath, observability.ScrapeHandler(providers.Tracer, metricsPath, providers.MetricsHandler))

	srv := &http.Server{Handler: mux, ReadHeaderTimeout: readHeaderTimeout}

	go func() {
		serveErr := srv.Serve(listener)
		if serveErr != nil && !errors.Is(serveErr, http.ErrServerClosed) {
			providers.Logger.Error("metrics server failed", "error", serveErr)
		}
	}()

	providers.Logger.Info("serving metrics", "addr", listener.Addr().String(), "path", metricsPath)

	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), readHeaderTimeout)
		defer cancel()

		_ = srv.Shutdown(ctx)
	}, nil
}
