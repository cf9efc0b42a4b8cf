package main

import (
	"context"
	"errors"
	"fmt"
	"syscall"
	"time"

	"github.com/oklog/run"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/yairfalse/wipeit/internal/daemon"
	"github.com/yairfalse/wipeit/internal/server"
)

var (
	serveAddr     string
	serveInterval time.Duration
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve inventory and confirmed deletion over HTTP",
	Long: `Run the HTTP front end.

Endpoints:
  GET  /api/inventory?profile=&region=
  POST /api/delete/plan   returns the itemized prompt and its digest
  POST /api/delete        deletes only with confirm=true and a matching digest
  GET  /api/status       refresh health, with --refresh
  GET  /metrics           Prometheus metrics
  GET  /healthz

With --refresh, the inventory is also taken on that interval and every
resource that appeared or disappeared since the previous refresh is
logged and counted.`,
	Example: `  wipeit serve
  wipeit serve --addr :9000
  wipeit serve --refresh 15m`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().StringVar(&serveAddr, "addr", "", "Listen address (default from config)")
	serveCmd.Flags().DurationVar(&serveInterval, "refresh", 0, "Refresh the inventory on this interval (0 disables)")
}

func runServe(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	a, err := newApp(ctx, appOptions{prometheus: true})
	if err != nil {
		return err
	}
	defer a.close(ctx)

	addr := serveAddr
	if addr == "" {
		addr = a.cfg.Server.Addr
	}

	var (
		g    run.Group
		opts []server.Option
	)

	if serveInterval > 0 {
		metrics, err := daemon.NewMetrics()
		if err != nil {
			return fmt.Errorf("create refresh metrics: %w", err)
		}
		d, err := daemon.New(a.runner, daemon.Config{
			Interval: serveInterval,
			Profile:  profile,
			Region:   region,
		}, metrics)
		if err != nil {
			return err
		}
		opts = append(opts, server.WithStatus(func() any { return d.Health() }))

		refreshCtx, cancel := context.WithCancel(ctx)
		g.Add(func() error { return d.Start(refreshCtx) }, func(error) { cancel() })
	}

	srv := server.New(addr, a.runner, a.telemetry.MetricsHandler(), opts...)
	g.Add(srv.ListenAndServe, func(error) {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Warn().Err(err).Msg("http shutdown")
		}
	})
	g.Add(run.SignalHandler(ctx, syscall.SIGINT, syscall.SIGTERM))

	err = g.Run()
	var sigErr run.SignalError
	if errors.As(err, &sigErr) {
		log.Info().Str("signal", sigErr.Signal.String()).Msg("shutting down")
		return nil
	}
	if err != nil {
		return fmt.Errorf("serve: %w", err)
	}
	return nil
}
