package daemon

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"

	"github.com/yairfalse/wipeit/pkg/resource"
)

// Metrics holds refresh metrics using OTEL semantic conventions
type Metrics struct {
	refreshes       metric.Int64Counter
	refreshDuration metric.Float64Histogram
	resources       metric.Int64Gauge
	changes         metric.Int64Counter
}

// NewMetrics creates refresh metrics on the global meter provider.
func NewMetrics() (*Metrics, error) {
	return newMetrics(otel.Meter("wipeit.daemon"))
}

// NopMetrics returns metrics that record nothing.
func NopMetrics() *Metrics {
	m, _ := newMetrics(noop.NewMeterProvider().Meter("wipeit.daemon"))
	return m
}

func newMetrics(meter metric.Meter) (*Metrics, error) {
	refreshes, err := meter.Int64Counter(
		"wipeit.daemon.refreshes",
		metric.WithDescription("Number of inventory refreshes"),
		metric.WithUnit("{refresh}"),
	)
	if err != nil {
		return nil, err
	}

	refreshDuration, err := meter.Float64Histogram(
		"wipeit.daemon.refresh.duration",
		metric.WithDescription("Duration of inventory refreshes"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, err
	}

	resources, err := meter.Int64Gauge(
		"wipeit.resources.current",
		metric.WithDescription("Number of resources in the latest inventory"),
		metric.WithUnit("{resource}"),
	)
	if err != nil {
		return nil, err
	}

	changes, err := meter.Int64Counter(
		"wipeit.inventory.changes",
		metric.WithDescription("Number of resources added or removed between refreshes"),
		metric.WithUnit("{event}"),
	)
	if err != nil {
		return nil, err
	}

	return &Metrics{
		refreshes:       refreshes,
		refreshDuration: refreshDuration,
		resources:       resources,
		changes:         changes,
	}, nil
}

// RecordRefresh records one refresh with its status
func (m *Metrics) RecordRefresh(ctx context.Context, region string, d time.Duration, err error) {
	status := "success"
	if err != nil {
		status = "error"
	}
	m.refreshes.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("status", status),
			attribute.String("cloud.region", region),
		),
	)
	m.refreshDuration.Record(ctx, d.Seconds(),
		metric.WithAttributes(
			attribute.String("status", status),
		),
	)
}

// RecordInventory records the per-kind resource counts of inv.
func (m *Metrics) RecordInventory(ctx context.Context, region string, inv resource.Inventory) {
	for _, k := range inv.Kinds() {
		m.resources.Record(ctx, int64(len(inv[k])),
			metric.WithAttributes(
				attribute.String("resource.kind", string(k)),
				attribute.String("cloud.region", region),
			),
		)
	}
}

// RecordChange records one added or removed resource
func (m *Metrics) RecordChange(ctx context.Context, region string, c resource.InventoryDiff) {
	m.changes.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("change.type", string(c.Type)),
			attribute.String("resource.kind", string(c.Ref.Kind)),
			attribute.String("cloud.region", region),
		),
	)
}
