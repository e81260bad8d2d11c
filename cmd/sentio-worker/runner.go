package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sentiolabs/sentio/pkg/activity"
	"github.com/sentiolabs/sentio/pkg/persistence"
	"github.com/sentiolabs/sentio/pkg/registry"
	"github.com/sentiolabs/sentio/pkg/taskbus"
	"github.com/sentiolabs/sentio/pkg/worker"
	"github.com/sentiolabs/sentio/pkg/workflow"
)

const drainTimeout = 30 * time.Second

type RunnerConfig struct {
	MaxWorkflowTasks int
	MaxActivityTasks int
	StickyTimeout    time.Duration
}

// Runner assembles the engine, executor, manager, and janitor for one worker
// process and runs them until the process is told to stop.
type Runner struct {
	id          string
	logger      *slog.Logger
	persistence persistence.Persistence
	taskBus     taskbus.TaskBus
	registry    *registry.Registry
	config      RunnerConfig
}

func NewRunner(
	id string,
	logger *slog.Logger,
	persistence persistence.Persistence,
	taskBus taskbus.TaskBus,
	registry *registry.Registry,
	config RunnerConfig,
) *Runner {
	return &Runner{
		id:          id,
		logger:      logger,
		persistence: persistence,
		taskBus:     taskBus,
		registry:    registry,
		config:      config,
	}
}

// Start subscribes to both task topics and blocks until SIGINT, SIGTERM, or
// context cancellation, then drains in-flight tasks before returning.
func (r *Runner) Start(ctx context.Context) error {
	r.logger.InfoContext(ctx, "Starting worker", "worker_id", r.id)

	cache := workflow.NewProjectionCache(r.config.StickyTimeout)
	engine := workflow.NewEngine(r.logger, r.persistence, r.taskBus, r.registry, cache, r.id)
	executor := activity.NewExecutor(r.logger, r.registry, r.persistence, r.id)

	manager := worker.NewManager(r.logger, r.taskBus, engine, executor, worker.Config{
		WorkerID:         r.id,
		MaxWorkflowTasks: r.config.MaxWorkflowTasks,
		MaxActivityTasks: r.config.MaxActivityTasks,
	})

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	err := manager.Start(runCtx)
	if err != nil {
		return err
	}

	janitor := worker.NewJanitor(r.logger, r.persistence, r.taskBus, cache, r.id)

	err = janitor.Start()
	if err != nil {
		return err
	}

	r.logger.InfoContext(ctx, "Worker started successfully")

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	select {
	case <-sigChan:
	case <-ctx.Done():
	}

	r.logger.InfoContext(ctx, "Shutting down worker...")

	janitor.Stop()
	cancel()
	manager.Drain(drainTimeout)

	return nil
}
