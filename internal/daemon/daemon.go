// Package daemon refreshes the inventory on a fixed interval and reports the
// resources that appeared or disappeared between refreshes.
package daemon

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/yairfalse/wipeit/pkg/resource"
)

// Source produces a fresh inventory.
type Source interface {
	RunInventory(ctx context.Context, profile, region string) (resource.Inventory, error)
}

// Config holds daemon configuration
type Config struct {
	Interval time.Duration
	Profile  string
	Region   string
}

// Daemon runs periodic inventory refreshes.
type Daemon struct {
	source    Source
	cfg       Config
	metrics   *Metrics
	startTime time.Time
	runs      atomic.Int64

	mu       sync.RWMutex
	previous resource.Inventory
	lastRun  time.Time
	lastErr  error
}

// New creates a daemon. metrics may be nil.
func New(source Source, cfg Config, metrics *Metrics) (*Daemon, error) {
	if cfg.Interval <= 0 {
		return nil, fmt.Errorf("daemon: interval must be positive (got %v)", cfg.Interval)
	}
	if metrics == nil {
		metrics = NopMetrics()
	}
	return &Daemon{
		source:    source,
		cfg:       cfg,
		metrics:   metrics,
		startTime: time.Now(),
	}, nil
}

// Start refreshes once immediately, then on every tick until ctx is done.
func (d *Daemon) Start(ctx context.Context) error {
	ticker := time.NewTicker(d.cfg.Interval)
	defer ticker.Stop()

	d.Refresh(ctx)
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			d.Refresh(ctx)
		}
	}
}

// Refresh takes one inventory and returns the changes since the previous
// successful refresh. The first refresh establishes the baseline and
// returns nil.
func (d *Daemon) Refresh(ctx context.Context) []resource.InventoryDiff {
	d.runs.Add(1)
	start := time.Now()

	inv, err := d.source.RunInventory(ctx, d.cfg.Profile, d.cfg.Region)
	d.metrics.RecordRefresh(ctx, d.cfg.Region, time.Since(start), err)

	d.mu.Lock()
	defer d.mu.Unlock()
	d.lastRun = start
	d.lastErr = err
	if err != nil {
		log.Error().Ctx(ctx).Err(err).Str("region", d.cfg.Region).Msg("inventory refresh failed")
		return nil
	}

	d.metrics.RecordInventory(ctx, d.cfg.Region, inv)

	var changes []resource.InventoryDiff
	if d.previous != nil {
		changes = resource.Diff(d.previous, inv)
		for _, c := range changes {
			d.metrics.RecordChange(ctx, d.cfg.Region, c)
			log.Info().
				Ctx(ctx).
				Str("change", string(c.Type)).
				Str("kind", string(c.Ref.Kind)).
				Str("resource_id", c.Ref.ID).
				Msg("inventory changed")
		}
	}
	d.previous = inv

	log.Debug().
		Int("resources", inv.Count()).
		Int("changes", len(changes)).
		Dur("duration", time.Since(start)).
		Msg("inventory refreshed")
	return changes
}

// Latest returns the most recent successful inventory, or nil before the
// first one.
func (d *Daemon) Latest() resource.Inventory {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.previous
}

// Health returns daemon health status
func (d *Daemon) Health() HealthStatus {
	d.mu.RLock()
	defer d.mu.RUnlock()

	status := HealthStatus{
		Status:  "healthy",
		Uptime:  int64(time.Since(d.startTime).Seconds()),
		Runs:    d.runs.Load(),
		LastRun: d.lastRun,
	}
	if d.lastErr != nil {
		status.Status = "degraded"
		status.LastError = d.lastErr.Error()
	}
	return status
}

// HealthStatus represents daemon health
type HealthStatus struct {
	Status    string    `json:"status"`
	Uptime    int64     `json:"uptime_seconds"`
	Runs      int64     `json:"runs"`
	LastRun   time.Time `json:"last_run"`
	LastError string    `json:"last_error,omitempty"`
}

// RefreshCount returns total refreshes run
func (d *Daemon) RefreshCount() int64 {
	return d.runs.Load()
}
