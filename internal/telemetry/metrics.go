package telemetry

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"

	"github.com/yairfalse/wipeit/pkg/resource"
)

// Metrics holds the discovery and deletion instruments.
type Metrics struct {
	discovered        metric.Int64Counter
	discoveryDuration metric.Float64Histogram
	discoveryErrors   metric.Int64Counter
	deletions         metric.Int64Counter
	deletionDuration  metric.Float64Histogram
}

// NewMetrics creates the instruments on meter.
func NewMetrics(meter metric.Meter) (*Metrics, error) {
	discovered, err := meter.Int64Counter(
		"wipeit.discovery.resources",
		metric.WithDescription("Number of resources discovered"),
		metric.WithUnit("{resource}"),
	)
	if err != nil {
		return nil, err
	}

	discoveryDuration, err := meter.Float64Histogram(
		"wipeit.discovery.duration",
		metric.WithDescription("Duration of one kind's discovery call"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, err
	}

	discoveryErrors, err := meter.Int64Counter(
		"wipeit.discovery.errors",
		metric.WithDescription("Number of failed discovery calls"),
		metric.WithUnit("{error}"),
	)
	if err != nil {
		return nil, err
	}

	deletions, err := meter.Int64Counter(
		"wipeit.deletions",
		metric.WithDescription("Number of deletion results by outcome"),
		metric.WithUnit("{resource}"),
	)
	if err != nil {
		return nil, err
	}

	deletionDuration, err := meter.Float64Histogram(
		"wipeit.deletion.duration",
		metric.WithDescription("Duration of one resource deletion including preconditions"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, err
	}

	return &Metrics{
		discovered:        discovered,
		discoveryDuration: discoveryDuration,
		discoveryErrors:   discoveryErrors,
		deletions:         deletions,
		deletionDuration:  deletionDuration,
	}, nil
}

// NopMetrics returns instruments that record nothing.
func NopMetrics() *Metrics {
	m, _ := NewMetrics(noop.NewMeterProvider().Meter(instrumentationName))
	return m
}

// RecordDiscovery records one kind's discovery call.
func (m *Metrics) RecordDiscovery(ctx context.Context, kind resource.Kind, region string, count int, d time.Duration, err error) {
	attrs := metric.WithAttributes(
		attribute.String("resource.kind", string(kind)),
		attribute.String("cloud.region", region),
	)
	m.discovered.Add(ctx, int64(count), attrs)
	m.discoveryDuration.Record(ctx, d.Seconds(), attrs)
	if err != nil {
		m.discoveryErrors.Add(ctx, 1, attrs)
	}
}

// RecordDeletion records one deletion result.
func (m *Metrics) RecordDeletion(ctx context.Context, r resource.DeletionResult) {
	m.deletions.Add(ctx, 1, metric.WithAttributes(
		attribute.String("resource.kind", string(r.Kind)),
		attribute.String("outcome", string(r.Outcome)),
		attribute.String("cause", string(r.Cause)),
	))
	m.deletionDuration.Record(ctx, r.Duration.Seconds(), metric.WithAttributes(
		attribute.String("resource.kind", string(r.Kind)),
	))
}
