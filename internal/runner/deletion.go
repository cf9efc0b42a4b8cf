package runner

import (
	"context"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/yairfalse/wipeit/internal/audit"
	"github.com/yairfalse/wipeit/internal/confirm"
	"github.com/yairfalse/wipeit/internal/deletion"
	"github.com/yairfalse/wipeit/internal/guard"
	"github.com/yairfalse/wipeit/internal/history"
	"github.com/yairfalse/wipeit/pkg/resource"
)

// Plan is a deletion that has been scoped and filtered but not yet approved.
type Plan struct {
	RunID     string         `json:"run_id"`
	Scope     resource.Scope `json:"scope"`
	Prompt    confirm.Prompt `json:"prompt"`
	Protected []guard.Skip   `json:"protected,omitempty"`

	run *run
	inv resource.Inventory
}

// Plan resolves the session and applies the protection policy to sel. The
// returned prompt must be shown and approved before Execute deletes anything.
func (r *Runner) Plan(ctx context.Context, profile, region string, sel resource.Selection) (*Plan, error) {
	rn, err := r.open(ctx, profile, region)
	if err != nil {
		return nil, err
	}

	plan := &Plan{RunID: newRunID(), Scope: rn.sess.Scope, run: rn}
	allowed := sel.Clone()

	if r.deps.Guard != nil {
		// The policy sees attributes, so the selection is matched against a
		// fresh inventory first.
		plan.inv = r.discover(ctx, rn).inv
		allowed, plan.Protected = r.deps.Guard.Filter(ctx, rn.sess.Scope, sel, plan.inv)
		for _, skip := range plan.Protected {
			r.audit(audit.Entry{
				RunID:    plan.RunID,
				Type:     audit.EntrySkipped,
				Kind:     skip.Ref.Kind,
				Resource: skip.Ref.ID,
				Error:    strings.Join(skip.Reasons, "; "),
			})
		}
	}

	plan.Prompt = confirm.RequiresConfirmation(allowed, guard.Refs(plan.Protected))
	return plan, nil
}

// Execute deletes what approval covers. An approval that was not granted
// returns an empty result list without calling any handler.
func (r *Runner) Execute(ctx context.Context, plan *Plan, approval confirm.Approval) []resource.DeletionResult {
	started := time.Now()
	engine := deletion.NewEngine(plan.run.registry, deletion.Config{
		Concurrency: r.cfg.Deletion.Concurrency,
		Timeout:     r.cfg.Deletion.Timeout,
	}, r.deps.Audit, r.deps.Metrics)

	results := engine.DeleteBatch(ctx, plan.RunID, approval)
	if !approval.Approved() {
		log.Info().Str("run_id", plan.RunID).Msg("deletion not confirmed, nothing deleted")
		return results
	}

	r.recordHistory(history.Run{
		ID:         plan.RunID,
		Type:       history.RunDeletion,
		Scope:      plan.Scope,
		StartedAt:  started,
		FinishedAt: time.Now(),
		Results:    results,
		Skipped:    guard.Refs(plan.Protected),
	})
	return results
}

// RunDeletion plans sel, asks c for an explicit confirmation of the itemized
// prompt and deletes on approval. It fails only when the session cannot be
// resolved or the confirmation cannot be obtained.
func (r *Runner) RunDeletion(ctx context.Context, profile, region string, sel resource.Selection, c confirm.Confirmer) ([]resource.DeletionResult, error) {
	plan, err := r.Plan(ctx, profile, region, sel)
	if err != nil {
		return nil, err
	}

	approval, err := confirm.Ask(ctx, c, plan.Prompt)
	if err != nil {
		return nil, err
	}
	return r.Execute(ctx, plan, approval), nil
}

// Verify re-runs discovery in the plan's scope and returns the resources
// reported deleted that are still listed.
func (r *Runner) Verify(ctx context.Context, plan *Plan, results []resource.DeletionResult) []resource.Ref {
	after := r.discover(ctx, plan.run).inv
	lingering := resource.Lingering(results, after)
	for _, ref := range lingering {
		log.Warn().Str("resource", ref.String()).Msg("resource still listed after deletion")
	}
	return lingering
}

func (r *Runner) audit(e audit.Entry) {
	if err := r.deps.Audit.Record(e); err != nil {
		log.Error().Err(err).Str("type", string(e.Type)).Msg("write audit entry")
	}
}
