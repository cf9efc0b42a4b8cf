// Package inventory enumerates every supported resource kind concurrently.
package inventory

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/yairfalse/wipeit/internal/handler"
	"github.com/yairfalse/wipeit/internal/telemetry"
	"github.com/yairfalse/wipeit/pkg/resource"
)

// DefaultTimeout bounds each kind's discovery call when none is configured.
const DefaultTimeout = 2 * time.Minute

// Engine runs every registered handler's Discover in parallel.
type Engine struct {
	registry *handler.Registry
	timeout  time.Duration
	metrics  *telemetry.Metrics
	tracer   trace.Tracer
}

// NewEngine creates an inventory engine. A zero timeout means DefaultTimeout;
// nil metrics record nothing.
func NewEngine(registry *handler.Registry, timeout time.Duration, metrics *telemetry.Metrics) *Engine {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	if metrics == nil {
		metrics = telemetry.NopMetrics()
	}
	return &Engine{
		registry: registry,
		timeout:  timeout,
		metrics:  metrics,
		tracer:   otel.Tracer("wipeit/inventory"),
	}
}

type discovery struct {
	kind        resource.Kind
	descriptors []resource.Descriptor
	err         error
	duration    time.Duration
}

// DiscoverAll returns an inventory holding a key for every kind. A kind whose
// discovery fails or exceeds the timeout maps to an empty list and the
// failure is logged. A hung handler never delays the others past the timeout.
func (e *Engine) DiscoverAll(ctx context.Context, scope resource.Scope) resource.Inventory {
	inv := resource.NewInventory()
	handlers := e.registry.All()
	results := make(chan discovery, len(handlers))

	for _, h := range handlers {
		go func(h handler.Handler) {
			results <- e.discover(ctx, h, scope)
		}(h)
	}

	for range handlers {
		d := <-results
		e.metrics.RecordDiscovery(ctx, d.kind, scope.Region, len(d.descriptors), d.duration, d.err)
		if d.err == nil && d.descriptors != nil {
			inv[d.kind] = d.descriptors
		}
	}

	log.Info().
		Ctx(ctx).
		Str("region", scope.Region).
		Str("account", scope.Account).
		Int("resources", inv.Count()).
		Msg("inventory complete")
	return inv
}

// discover runs one handler under its own deadline and span. The handler
// call runs in a separate goroutine so a handler that ignores its context is
// abandoned rather than awaited.
func (e *Engine) discover(ctx context.Context, h handler.Handler, scope resource.Scope) discovery {
	kind := h.Kind()
	start := time.Now()

	ctx, span := e.tracer.Start(ctx, "inventory.discover", trace.WithAttributes(
		attribute.String("resource.kind", string(kind)),
		attribute.String("cloud.region", scope.Region),
	))
	defer span.End()

	d := e.call(ctx, h, scope)
	d.duration = time.Since(start)

	if d.err != nil {
		span.RecordError(d.err)
		span.SetStatus(codes.Error, "discovery failed")
		log.Warn().
			Ctx(ctx).
			Err(d.err).
			Str("kind", string(kind)).
			Str("region", scope.Region).
			Dur("elapsed", d.duration).
			Msg("discovery failed, reporting no resources for kind")
		return d
	}

	span.SetAttributes(attribute.Int("resources.count", len(d.descriptors)))
	span.SetStatus(codes.Ok, "")
	log.Debug().
		Ctx(ctx).
		Str("kind", string(kind)).
		Int("resources", len(d.descriptors)).
		Dur("elapsed", d.duration).
		Msg("kind discovered")
	return d
}

func (e *Engine) call(ctx context.Context, h handler.Handler, scope resource.Scope) discovery {
	kind := h.Kind()
	callCtx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	done := make(chan discovery, 1)
	go func() {
		defer func() {
			if rec := recover(); rec != nil {
				done <- discovery{kind: kind, err: fmt.Errorf("discover %s: handler panic: %v", kind, rec)}
			}
		}()
		ds, err := h.Discover(callCtx, scope)
		done <- discovery{kind: kind, descriptors: ds, err: err}
	}()

	select {
	case d := <-done:
		return d
	case <-callCtx.Done():
		return discovery{kind: kind, err: fmt.Errorf("discover %s: %w", kind, callCtx.Err())}
	}
}
