package telemetry

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"

	"github.com/yairfalse/wipeit/internal/config"
	"github.com/yairfalse/wipeit/pkg/resource"
)

// ═══ Provider Tests ═══

func TestNewProvider_Disabled(t *testing.T) {
	cfg := config.OTELConfig{ServiceName: "test-wipeit"}

	p, err := NewProvider(context.Background(), cfg, "test")
	require.NoError(t, err)
	require.NotNil(t, p)

	assert.NotNil(t, p.Tracer())
	assert.NotNil(t, p.Meter())

	rec := httptest.NewRecorder()
	p.MetricsHandler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)

	require.NoError(t, p.Shutdown(context.Background()))
}

func TestNewProvider_WithEndpoint(t *testing.T) {
	cfg := config.OTELConfig{
		Endpoint:    "localhost:4317",
		Insecure:    true,
		ServiceName: "test-wipeit",
		Traces:      config.TracesConfig{Enabled: true, SampleRate: 1.0},
		Metrics:     config.MetricsConfig{Enabled: true},
	}

	// grpc dials lazily, so setup succeeds without a collector.
	p, err := NewProvider(context.Background(), cfg, "test")
	require.NoError(t, err)
	require.NotNil(t, p)

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	_ = p.Shutdown(ctx)
}

func TestProvider_PrometheusHandler(t *testing.T) {
	cfg := config.OTELConfig{
		ServiceName: "test-wipeit",
		Metrics:     config.MetricsConfig{Prometheus: true},
	}

	p, err := NewProvider(context.Background(), cfg, "test")
	require.NoError(t, err)
	defer func() { _ = p.Shutdown(context.Background()) }()

	m, err := NewMetrics(p.Meter())
	require.NoError(t, err)
	m.RecordDeletion(context.Background(), resource.Deleted(resource.KindSecret, "s1"))

	rec := httptest.NewRecorder()
	p.MetricsHandler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "wipeit_deletions")
}

func TestProvider_StartSpan(t *testing.T) {
	p, err := NewProvider(context.Background(), config.OTELConfig{ServiceName: "test-wipeit"}, "test")
	require.NoError(t, err)

	ctx, span := p.StartSpan(context.Background(), "test-operation")
	require.NotNil(t, ctx)
	require.NotNil(t, span)

	span.End()
	_ = p.Shutdown(context.Background())
}

// ═══ Metrics Tests ═══

func TestMetrics_RecordDiscovery(t *testing.T) {
	reader := sdkmetric.NewManualReader()
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))

	m, err := NewMetrics(provider.Meter("wipeit.test"))
	require.NoError(t, err)

	ctx := context.Background()
	m.RecordDiscovery(ctx, resource.KindBlockVolume, "us-east-1", 3, 250*time.Millisecond, nil)
	m.RecordDiscovery(ctx, resource.KindFunction, "us-east-1", 0, time.Second, errors.New("throttled"))

	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(ctx, &rm))

	names := metricNames(rm)
	assert.Contains(t, names, "wipeit.discovery.resources")
	assert.Contains(t, names, "wipeit.discovery.duration")
	assert.Contains(t, names, "wipeit.discovery.errors")

	sum := findSum(t, rm, "wipeit.discovery.resources")
	var total int64
	for _, dp := range sum.DataPoints {
		total += dp.Value
	}
	assert.Equal(t, int64(3), total)
}

func TestMetrics_RecordDeletion(t *testing.T) {
	reader := sdkmetric.NewManualReader()
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))

	m, err := NewMetrics(provider.Meter("wipeit.test"))
	require.NoError(t, err)

	ctx := context.Background()
	m.RecordDeletion(ctx, resource.Deleted(resource.KindSecret, "a"))
	m.RecordDeletion(ctx, resource.Deleted(resource.KindSecret, "b"))
	m.RecordDeletion(ctx, resource.Failed(resource.KindSecret, "c", errors.New("boom")))

	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(ctx, &rm))

	sum := findSum(t, rm, "wipeit.deletions")
	byOutcome := map[string]int64{}
	for _, dp := range sum.DataPoints {
		outcome, ok := dp.Attributes.Value("outcome")
		require.True(t, ok)
		byOutcome[outcome.AsString()] += dp.Value
	}
	assert.Equal(t, int64(2), byOutcome["deleted"])
	assert.Equal(t, int64(1), byOutcome["failed"])
}

func TestNopMetrics(t *testing.T) {
	m := NopMetrics()
	require.NotNil(t, m)
	m.RecordDeletion(context.Background(), resource.Deleted(resource.KindSecret, "a"))
}

// ═══ Logger Tests ═══

func TestSetupLogger_JSONWithTrace(t *testing.T) {
	prev := log.Logger
	t.Cleanup(func() { log.Logger = prev })

	var buf bytes.Buffer
	require.NoError(t, SetupLogger(&buf, "info", "json"))

	tp := sdktrace.NewTracerProvider()
	ctx, span := tp.Tracer("test").Start(context.Background(), "op")
	log.Info().Ctx(ctx).Msg("hello")
	span.End()

	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "hello", entry["message"])
	assert.Equal(t, span.SpanContext().TraceID().String(), entry["trace_id"])
	assert.Equal(t, span.SpanContext().SpanID().String(), entry["span_id"])
}

func TestSetupLogger_InvalidLevel(t *testing.T) {
	err := SetupLogger(&bytes.Buffer{}, "loud", "json")
	assert.ErrorContains(t, err, "parse log level")
}

func metricNames(rm metricdata.ResourceMetrics) []string {
	var names []string
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			names = append(names, m.Name)
		}
	}
	return names
}

func findSum(t *testing.T, rm metricdata.ResourceMetrics, name string) metricdata.Sum[int64] {
	t.Helper()
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			if m.Name == name {
				sum, ok := m.Data.(metricdata.Sum[int64])
				require.True(t, ok, "metric %s is not an int64 sum", name)
				return sum
			}
		}
	}
	t.Fatalf("metric %s not found", name)
	return metricdata.Sum[int64]{}
}
