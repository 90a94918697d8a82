package observability

import (
	"fmt"
	"net/http"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"
)

// ScrapeSpanName names the span recorded for each metrics scrape.
const ScrapeSpanName = "metrics.scrape"

// scrapeWriter records the status and payload size of a scrape response.
type scrapeWriter struct {
	http.ResponseWriter

	status int
	bytes  int
}

func (sw *scrapeWriter) WriteHeader(code int) {
	if sw.status == 0 {
		sw.status = code
	}

	sw.ResponseWriter.WriteHeader(code)
}

func (sw *scrapeWriter) Write(buf []byte) (int, error) {
	if sw.status == 0 {
		sw.status = http.StatusOK
	}

	n, err := sw.ResponseWriter.Write(buf)
	sw.bytes += n

	if err != nil {
		return n, fmt.Errorf("write scrape response: %w", err)
	}

	return n, nil
}

// ScrapeHandler wraps the Prometheus endpoint so every scrape is traced
// under ScrapeSpanName, continuing the scraper's trace when it sends one.
// Non-GET requests are refused with 405.
func ScrapeHandler(tracer trace.Tracer, route string, next http.Handler) http.Handler {
	return http.HandlerFunc(func(rw http.ResponseWriter, hr *http.Request) {
		parentCtx := otel.GetTextMapPropagator().Extract(hr.Context(), propagation.HeaderCarrier(hr.Header))

		ctx, span := tracer.Start(parentCtx, ScrapeSpanName,
			trace.WithSpanKind(trace.SpanKindServer),
			trace.WithAttributes(
				semconv.HTTPRequestMethodKey.String(hr.Method),
				semconv.HTTPRoute(route),
				attribute.String("metrics.scraper", hr.UserAgent()),
			),
		)
		defer span.End()

		sw := &scrapeWriter{ResponseWriter: rw}

		if hr.Method != http.MethodGet && hr.Method != http.MethodHead {
			http.Error(sw, http.StatusText(http.StatusMethodNotAllowed), http.StatusMethodNotAllowed)
		} else {
			next.ServeHTTP(sw, hr.WithContext(ctx))
		}

		if sw.status == 0 {
			sw.status = http.StatusOK
		}

		span.SetAttributes(
			semconv.HTTPResponseStatusCode(sw.status),
			attribute.Int("metrics.payload_bytes", sw.bytes),
		)

		if sw.status >= http.StatusInternalServerError {
			span.SetStatus(codes.Error, http.StatusText(sw.status))
		}
	})
}
