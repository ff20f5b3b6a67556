package container

import (
	"context"
	"fmt"

	"github.com/lyzr/seed-improver/cmd/seed-improver/repository"
	"github.com/lyzr/seed-improver/cmd/seed-improver/service"
	"github.com/lyzr/seed-improver/common/bootstrap"
	"github.com/lyzr/seed-improver/common/gitrepo"
	"github.com/lyzr/seed-improver/common/policy"
	"github.com/lyzr/seed-improver/common/reasoning"
)

// Container holds all initialized services and repositories (singleton pattern)
type Container struct {
	// Components
	Components *bootstrap.Components

	// Repositories
	Stores service.Stores
	Memory *repository.MemoryStore // set when running on the memory store

	// Services
	Improver  *service.ImproverService
	Status    *service.StatusService
	Scheduler *service.Scheduler
	Policies  *policy.Store
	Dedup     service.Dedup
	Hub       *service.EventHub
}

// NewContainer initializes all services and repositories once
func NewContainer(ctx context.Context, components *bootstrap.Components) (*Container, error) {
	cfg := components.Config
	c := &Container{Components: components}

	// Repositories
	if components.DB != nil {
		c.Stores = service.Stores{
			Runs:     repository.NewRunRepository(components.DB),
			Changes:  repository.NewChangeRepository(components.DB),
			Patterns: repository.NewPatternRepository(components.DB),
			Trades:   repository.NewTradeRepository(components.DB),
		}
	} else {
		c.Memory = repository.NewMemoryStore()
		c.Stores = service.MemoryStores(c.Memory)
		components.Logger.Warn("using in-memory store, state is lost on restart")
	}

	policies, err := policy.NewStore(cfg.Improver.PolicyPath, components.Logger)
	if err != nil {
		return nil, fmt.Errorf("failed to load auto-apply policy: %w", err)
	}
	c.Policies = policies

	// Reasoning service: absence skips phases 5 and 6
	var reasoningSvc reasoning.Service
	if cfg.ReasoningEnabled() {
		genai, err := reasoning.NewGenAIService(ctx, cfg.Reasoning.APIKey, cfg.Reasoning.Model, cfg.Reasoning.Timeout)
		if err != nil {
			return nil, fmt.Errorf("failed to create reasoning service: %w", err)
		}
		reasoningSvc = genai
		components.Logger.Info("reasoning service configured", "model", cfg.Reasoning.Model)
	} else {
		components.Logger.Info("no reasoning credential, judge and auto-implementation disabled")
	}

	// With redis, runs are published on the shared channel and relayed into the
	// hub by RelayRunEvents. Without it the hub is the publisher.
	c.Hub = service.NewEventHub(components.Logger)
	var events service.RunEvents
	if components.Redis != nil {
		events = service.NewRedisRunEvents(components.Redis)
		c.Dedup = service.NewRedisDedup(components.Redis, service.LossDedupTTL)
	} else {
		events = c.Hub
		c.Dedup = service.NewMemoryDedup(service.LossDedupTTL)
	}

	workspace := service.NewGitWorkspace(gitrepo.NewManager(
		cfg.Improver.RepoDir,
		cfg.Improver.WorktreeDir,
		cfg.Improver.BaseRef,
	))

	// Services
	c.Improver = service.NewImproverService(&service.ImproverServiceOpts{
		Stores:     c.Stores,
		Components: components,
		Reasoning:  reasoningSvc,
		Workspace:  workspace,
		Tunables:   service.NewTunablesFile(cfg.Improver.TunablesPath),
		Policies:   policies,
		Events:     events,
	})

	c.Status = service.NewStatusService(&service.StatusServiceOpts{
		Stores: c.Stores,
		Cache:  components.Cache,
		TTL:    cfg.Cache.DefaultTTL,
		Logger: components.Logger,
	})

	c.Scheduler = service.NewScheduler(c.Improver, cfg.Improver.Schedule, components.Logger)

	return c, nil
}
