package main

import (
	"context"
	"fmt"
	"os"

	"github.com/rs/zerolog/log"

	"github.com/yairfalse/wipeit/internal/audit"
	"github.com/yairfalse/wipeit/internal/config"
	"github.com/yairfalse/wipeit/internal/guard"
	"github.com/yairfalse/wipeit/internal/history"
	"github.com/yairfalse/wipeit/internal/runner"
	"github.com/yairfalse/wipeit/internal/telemetry"
)

// app holds everything one command invocation opens.
type app struct {
	cfg       *config.Config
	telemetry *telemetry.Provider
	audit     *audit.Log
	history   *history.Store
	runner    *runner.Runner
}

type appOptions struct {
	prometheus bool
	tagSweep   bool
}

// newApp loads config, sets up logging and telemetry, and opens the audit
// log, the run history and the protection policy.
func newApp(ctx context.Context, opts appOptions) (*app, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	if logLevel != "" {
		cfg.Log.Level = logLevel
	}
	if opts.prometheus {
		cfg.OTEL.Metrics.Prometheus = true
	}
	if opts.tagSweep {
		cfg.Discovery.TagSweep = true
	}

	if err := telemetry.SetupLogger(os.Stderr, cfg.Log.Level, cfg.Log.Format); err != nil {
		return nil, err
	}

	a := &app{cfg: cfg}

	a.telemetry, err = telemetry.NewProvider(ctx, cfg.OTEL, version)
	if err != nil {
		return nil, fmt.Errorf("setup telemetry: %w", err)
	}
	metrics, err := telemetry.NewMetrics(a.telemetry.Meter())
	if err != nil {
		a.close(ctx)
		return nil, fmt.Errorf("create metrics: %w", err)
	}

	a.audit, err = audit.Open(cfg.Storage.AuditDir)
	if err != nil {
		a.close(ctx)
		return nil, err
	}

	a.history, err = history.Open(cfg.Storage.HistoryPath)
	if err != nil {
		log.Warn().Err(err).Str("path", cfg.Storage.HistoryPath).Msg("run history unavailable")
		a.history = nil
	}

	deps := runner.AWSDeps(cfg)
	deps.Audit = a.audit
	deps.History = a.history
	deps.Metrics = metrics

	if cfg.Policy.File != "" {
		deps.Guard, err = guard.LoadFile(ctx, cfg.Policy.File)
		if err != nil {
			a.close(ctx)
			return nil, err
		}
	}

	a.runner = runner.New(cfg, deps)
	return a, nil
}

func (a *app) close(ctx context.Context) {
	if a.history != nil {
		_ = a.history.Close()
	}
	if a.audit != nil {
		_ = a.audit.Close()
	}
	if a.telemetry != nil {
		if err := a.telemetry.Shutdown(ctx); err != nil {
			log.Debug().Err(err).Msg("telemetry shutdown")
		}
	}
}
