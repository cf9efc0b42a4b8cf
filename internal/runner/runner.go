// Package runner wires session resolution, discovery, protection, the
// confirmation gate and deletion into the two entry points the CLI and HTTP
// front ends call.
package runner

import (
	"context"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/resourcegroupstaggingapi"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/yairfalse/wipeit/internal/audit"
	"github.com/yairfalse/wipeit/internal/config"
	"github.com/yairfalse/wipeit/internal/guard"
	"github.com/yairfalse/wipeit/internal/handler"
	awshandler "github.com/yairfalse/wipeit/internal/handler/aws"
	"github.com/yairfalse/wipeit/internal/history"
	"github.com/yairfalse/wipeit/internal/inventory"
	"github.com/yairfalse/wipeit/internal/session"
	"github.com/yairfalse/wipeit/internal/telemetry"
)

// Resolver turns a profile and region into a verified session.
type Resolver interface {
	Resolve(ctx context.Context, profile, region string) (*session.Session, error)
}

// Deps are the collaborators a Runner needs. Nil optional fields disable the
// corresponding feature.
type Deps struct {
	Resolver Resolver
	// Registry builds the per-run handler registry from a session config.
	Registry func(cfg aws.Config) (*handler.Registry, error)
	// Tagging builds the tag sweep client; nil disables the sweep.
	Tagging func(cfg aws.Config) inventory.TaggingAPI

	Guard   *guard.Guard
	Audit   audit.Recorder
	History *history.Store
	Metrics *telemetry.Metrics
}

// Runner executes inventory and deletion runs. Every run builds its own
// clients from a freshly resolved session and discards them afterwards.
type Runner struct {
	cfg  *config.Config
	deps Deps
}

// New creates a runner.
func New(cfg *config.Config, deps Deps) *Runner {
	if deps.Audit == nil {
		deps.Audit = audit.Nop{}
	}
	if deps.Metrics == nil {
		deps.Metrics = telemetry.NopMetrics()
	}
	return &Runner{cfg: cfg, deps: deps}
}

// AWSDeps returns the production collaborators backed by the AWS SDK.
func AWSDeps(cfg *config.Config) Deps {
	opts := awshandler.Options{
		DetachTimeout:   cfg.Deletion.DetachTimeout,
		BucketBatchSize: cfg.Deletion.BucketBatchSize,
	}
	deps := Deps{
		Resolver: session.NewResolver(),
		Registry: func(c aws.Config) (*handler.Registry, error) {
			return awshandler.NewRegistry(awshandler.NewClients(c), opts)
		},
	}
	if cfg.Discovery.TagSweep {
		deps.Tagging = func(c aws.Config) inventory.TaggingAPI {
			return resourcegroupstaggingapi.NewFromConfig(c)
		}
	}
	return deps
}

// profile and region fall back to the configured values when empty.
func (r *Runner) target(profile, region string) (string, string) {
	if profile == "" {
		profile = r.cfg.AWS.Profile
	}
	if region == "" {
		region = r.cfg.AWS.Region
	}
	return profile, region
}

type run struct {
	sess     *session.Session
	registry *handler.Registry
}

// open resolves the session and builds the registry. Failures are
// configuration errors and abort before any resource is touched.
func (r *Runner) open(ctx context.Context, profile, region string) (*run, error) {
	profile, region = r.target(profile, region)

	sess, err := r.deps.Resolver.Resolve(ctx, profile, region)
	if err != nil {
		return nil, err
	}
	registry, err := r.deps.Registry(sess.Config)
	if err != nil {
		return nil, err
	}

	log.Info().
		Str("account", sess.Scope.Account).
		Str("region", sess.Scope.Region).
		Str("identity", sess.ARN).
		Msg("session resolved")
	return &run{sess: sess, registry: registry}, nil
}

func (r *Runner) discover(ctx context.Context, rn *run) inventoryRun {
	started := time.Now()
	engine := inventory.NewEngine(rn.registry, r.cfg.Discovery.Timeout, r.deps.Metrics)
	inv := engine.DiscoverAll(ctx, rn.sess.Scope)

	if r.deps.Tagging != nil {
		stats, err := inventory.NewSweeper(r.deps.Tagging(rn.sess.Config)).Merge(ctx, inv)
		if err != nil {
			log.Warn().Err(err).Msg("tag sweep failed")
		} else {
			log.Info().Int("seen", stats.Seen).Int("added", stats.Added).Int("unresolved", stats.Unresolved).Msg("tag sweep complete")
		}
	}
	return inventoryRun{inv: inv, started: started}
}

func newRunID() string {
	return uuid.NewString()
}
