package observability

import (
	"context"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.opentelemetry.io/otel"
	otelprom "go.opentelemetry.io/otel/exporters/prometheus"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	semconv "go.opentelemetry.io/otel/semconv/v1.17.0"
)

// InitMetrics installs the global meter provider backed by the Prometheus
// exporter. Exported metrics land in the default Prometheus registry and
// are served by the /metrics endpoint.
func InitMetrics(serviceName string) (*sdkmetric.MeterProvider, error) {
	res, err := resource.New(
		context.Background(),
		resource.WithAttributes(semconv.ServiceName(serviceName)),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create resource: %w", err)
	}

	exporter, err := otelprom.New()
	if err != nil {
		return nil, fmt.Errorf("failed to create Prometheus exporter: %w", err)
	}

	provider := sdkmetric.NewMeterProvider(
		sdkmetric.WithResource(res),
		sdkmetric.WithReader(exporter),
	)
	otel.SetMeterProvider(provider)
	return provider, nil
}

var (
	stageDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "bankchat",
		Subsystem: "pipeline",
		Name:      "stage_duration_seconds",
		Help:      "Per-stage execution time, labelled by outcome.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"stage", "outcome"})

	turnDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "bankchat",
		Subsystem: "chat",
		Name:      "turn_duration_seconds",
		Help:      "End-to-end chat turn time, labelled by outcome.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"outcome"})

	sessionsActive = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "bankchat",
		Subsystem: "session",
		Name:      "active",
		Help:      "Number of sessions currently held by the store.",
	})
)

// ObserveStage records one stage execution. Outcome is "ok", "fallback", or
// "cancelled".
func ObserveStage(stage, outcome string, elapsed time.Duration) {
	stageDuration.WithLabelValues(stage, outcome).Observe(elapsed.Seconds())
}

// ObserveTurn records one completed chat turn. Outcome is "ok",
// "short_circuit", "degraded", or "error".
func ObserveTurn(outcome string, elapsed time.Duration) {
	turnDuration.WithLabelValues(outcome).Observe(elapsed.Seconds())
}

// SetActiveSessions reports the current session count.
func SetActiveSessions(n int) {
	sessionsActive.Set(float64(n))
}
