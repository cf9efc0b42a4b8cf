// Package deletion dispatches approved deletions to per-kind handlers and
// aggregates one result per requested id.
package deletion

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/yairfalse/wipeit/internal/audit"
	"github.com/yairfalse/wipeit/internal/confirm"
	"github.com/yairfalse/wipeit/internal/handler"
	"github.com/yairfalse/wipeit/internal/telemetry"
	"github.com/yairfalse/wipeit/pkg/resource"
)

// Config tunes the dispatcher.
type Config struct {
	// Concurrency bounds how many distinct resources are deleted at once.
	Concurrency int
	// Timeout bounds the whole batch, including precondition waits.
	Timeout time.Duration
}

// Engine deletes approved selections. It never retries.
type Engine struct {
	registry *handler.Registry
	cfg      Config
	recorder audit.Recorder
	metrics  *telemetry.Metrics
	tracer   trace.Tracer
}

// NewEngine creates a deletion engine. A nil recorder or metrics discards.
func NewEngine(registry *handler.Registry, cfg Config, recorder audit.Recorder, metrics *telemetry.Metrics) *Engine {
	if cfg.Concurrency < 1 {
		cfg.Concurrency = 1
	}
	if recorder == nil {
		recorder = audit.Nop{}
	}
	if metrics == nil {
		metrics = telemetry.NopMetrics()
	}
	return &Engine{
		registry: registry,
		cfg:      cfg,
		recorder: recorder,
		metrics:  metrics,
		tracer:   otel.Tracer("wipeit/deletion"),
	}
}

type slot struct {
	kind resource.Kind
	id   string
}

// DeleteBatch deletes everything the approval covers. Results follow request
// order, then id order within a request, and there is exactly one per
// requested id. An approval that was not granted yields no results and no
// handler calls. Repeated ids run one after another, never concurrently.
func (e *Engine) DeleteBatch(ctx context.Context, runID string, approval confirm.Approval) []resource.DeletionResult {
	if !approval.Approved() {
		return []resource.DeletionResult{}
	}

	var slots []slot
	for _, req := range approval.Selection().Requests() {
		for _, id := range req.IDs {
			slots = append(slots, slot{kind: req.Kind, id: id})
		}
	}
	results := make([]resource.DeletionResult, len(slots))

	// Group positions by identity so a repeated id is handled by one worker.
	groups := make(map[resource.Ref][]int)
	var order []resource.Ref
	for i, s := range slots {
		ref := resource.Ref{Kind: s.kind, ID: s.id}
		if _, seen := groups[ref]; !seen {
			order = append(order, ref)
		}
		groups[ref] = append(groups[ref], i)
	}

	e.record(audit.Entry{RunID: runID, Type: audit.EntryApproved, Data: mustJSON(map[string]any{
		"digest":    approval.Digest(),
		"resources": len(slots),
	})})

	if e.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.cfg.Timeout)
		defer cancel()
	}

	var g errgroup.Group
	g.SetLimit(e.cfg.Concurrency)
	for _, ref := range order {
		positions := groups[ref]
		g.Go(func() error {
			for _, pos := range positions {
				results[pos] = e.deleteOne(ctx, runID, ref)
			}
			return nil
		})
	}
	_ = g.Wait()

	summary := resource.Summarize(results)
	log.Info().
		Ctx(ctx).
		Str("run_id", runID).
		Int("deleted", summary.Deleted).
		Int("failed", summary.Failed).
		Msg("deletion batch complete")

	return results
}

func (e *Engine) deleteOne(ctx context.Context, runID string, ref resource.Ref) resource.DeletionResult {
	ctx, span := e.tracer.Start(ctx, "deletion.delete", trace.WithAttributes(
		attribute.String("resource.kind", string(ref.Kind)),
		attribute.String("resource.id", ref.ID),
		attribute.String("run.id", runID),
	))
	defer span.End()

	result := e.dispatch(ctx, runID, ref)
	span.SetAttributes(attribute.String("deletion.outcome", string(result.Outcome)))

	e.metrics.RecordDeletion(ctx, result)
	entry := audit.Entry{RunID: runID, Type: audit.EntryDeleted, Kind: ref.Kind, Resource: ref.ID}
	if result.Outcome == resource.OutcomeFailed {
		entry.Type = audit.EntryFailed
		entry.Error = result.Error
		entry.Cause = result.Cause

		span.SetAttributes(attribute.String("deletion.cause", string(result.Cause)))
		span.RecordError(errors.New(result.Error))
		span.SetStatus(codes.Error, string(result.Cause))
		log.Warn().
			Ctx(ctx).
			Str("kind", string(ref.Kind)).
			Str("id", ref.ID).
			Str("cause", string(result.Cause)).
			Str("error", result.Error).
			Msg("deletion failed")
	} else {
		span.SetStatus(codes.Ok, "")
		log.Info().
			Ctx(ctx).
			Str("kind", string(ref.Kind)).
			Str("id", ref.ID).
			Dur("elapsed", result.Duration).
			Msg("deleted")
	}
	e.record(entry)
	return result
}

func (e *Engine) dispatch(ctx context.Context, runID string, ref resource.Ref) resource.DeletionResult {
	h, err := e.registry.Lookup(ref.Kind)
	if err != nil {
		return resource.Failed(ref.Kind, ref.ID, err)
	}
	if err := ctx.Err(); err != nil {
		return resource.Failed(ref.Kind, ref.ID, err)
	}

	e.record(audit.Entry{RunID: runID, Type: audit.EntryDeleting, Kind: ref.Kind, Resource: ref.ID})
	return handler.Invoke(ctx, h, ref.ID)
}

func (e *Engine) record(entry audit.Entry) {
	if err := e.recorder.Record(entry); err != nil {
		log.Error().Err(err).Str("type", string(entry.Type)).Str("id", entry.Resource).Msg("write audit entry")
	}
}

func mustJSON(v any) json.RawMessage {
	b, err := json.Marshal(v)
	if err != nil {
		return nil
	}
	return b
}
