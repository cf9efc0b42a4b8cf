package runner

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/yairfalse/wipeit/internal/history"
	"github.com/yairfalse/wipeit/pkg/resource"
)

type inventoryRun struct {
	inv     resource.Inventory
	started time.Time
}

// RunInventory discovers every supported kind in the account and region.
// It fails only when the session cannot be resolved.
func (r *Runner) RunInventory(ctx context.Context, profile, region string) (resource.Inventory, error) {
	rn, err := r.open(ctx, profile, region)
	if err != nil {
		return nil, err
	}

	ir := r.discover(ctx, rn)
	r.recordHistory(history.Run{
		ID:         newRunID(),
		Type:       history.RunInventory,
		Scope:      rn.sess.Scope,
		StartedAt:  ir.started,
		FinishedAt: time.Now(),
		Inventory:  ir.inv,
	})
	return ir.inv, nil
}

func (r *Runner) recordHistory(run history.Run) {
	if r.deps.History == nil {
		return
	}
	if _, err := r.deps.History.Record(run); err != nil {
		log.Warn().Err(err).Str("run_id", run.ID).Msg("record run history")
	}
}
