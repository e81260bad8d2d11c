// Package main provides the all-in-one Sentio binary: the HTTP API and a
// worker running in a single process over an in-process task bus, for local
// development and small deployments.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/google/uuid"
	cli "github.com/urfave/cli/v3"

	"github.com/sentiolabs/sentio/pkg/activity"
	"github.com/sentiolabs/sentio/pkg/cmd"
	"github.com/sentiolabs/sentio/pkg/log"
	"github.com/sentiolabs/sentio/pkg/otelhelper"
	"github.com/sentiolabs/sentio/pkg/reviews"
	"github.com/sentiolabs/sentio/pkg/sentiment"
	"github.com/sentiolabs/sentio/pkg/worker"
	"github.com/sentiolabs/sentio/pkg/workflow"
)

const (
	defaultPort          = 9091
	defaultReviewCount   = 5
	defaultStickyTimeout = 10 * time.Second
	drainTimeout         = 30 * time.Second

	reviewSeed = 1
)

func main() {
	logger := log.WithModule("sentio")

	command := &cli.Command{
		Name:                  "sentio",
		Usage:                 "Run the sentiment analysis API and worker in one process",
		EnableShellCompletion: true,
		Flags: []cli.Flag{
			&cli.IntFlag{
				Name:    "port",
				Aliases: []string{"p"},
				Usage:   "Port to run the API server on",
				Value:   defaultPort,
				Sources: cli.EnvVars("SENTIO_API_PORT"),
			},
			&cli.StringFlag{
				Name:    "database-url",
				Usage:   "Database connection URL for persistence (memory://, redis://, postgres://, sqlite://)",
				Value:   "memory://",
				Sources: cli.EnvVars("SENTIO_DATABASE_URL"),
			},
			&cli.StringFlag{
				Name:    "task-bus",
				Usage:   "Task bus URL (memory://, kafka://host:port)",
				Value:   "memory://",
				Sources: cli.EnvVars("SENTIO_TASK_BUS"),
			},
			&cli.StringFlag{
				Name:    "scorer-url",
				Usage:   "Sentiment scoring service URL (uses the built-in lexicon scorer when empty)",
				Value:   "",
				Sources: cli.EnvVars("SENTIO_SCORER_URL"),
			},
			&cli.IntFlag{
				Name:    "review-count",
				Usage:   "Number of synthetic reviews fetched per product",
				Value:   defaultReviewCount,
				Sources: cli.EnvVars("SENTIO_REVIEW_COUNT"),
			},
			&cli.StringFlag{
				Name:    "worker-id",
				Aliases: []string{"id"},
				Usage:   "Custom worker ID (auto-generated if not provided)",
				Value:   "",
				Sources: cli.EnvVars("SENTIO_WORKER_ID"),
			},
			&cli.IntFlag{
				Name:    "max-workflow-tasks",
				Usage:   "Maximum workflow tasks processed concurrently",
				Value:   worker.DefaultMaxWorkflowTasks,
				Sources: cli.EnvVars("SENTIO_MAX_WORKFLOW_TASKS"),
			},
			&cli.IntFlag{
				Name:    "max-activity-tasks",
				Usage:   "Maximum activity tasks processed concurrently",
				Value:   worker.DefaultMaxActivityTasks,
				Sources: cli.EnvVars("SENTIO_MAX_ACTIVITY_TASKS"),
			},
			&cli.DurationFlag{
				Name:    "sticky-timeout",
				Usage:   "How long a cached projection stays reusable without new tasks",
				Value:   defaultStickyTimeout,
				Sources: cli.EnvVars("SENTIO_STICKY_TIMEOUT"),
			},
			&cli.BoolFlag{
				Name:    "tracing",
				Usage:   "Export task spans over OTLP HTTP",
				Value:   false,
				Sources: cli.EnvVars("SENTIO_TRACING"),
			},
			&cli.StringFlag{
				Name:    "log-level",
				Usage:   "Log level (debug, info, warn, error)",
				Value:   "info",
				Sources: cli.EnvVars("SENTIO_LOG_LEVEL"),
			},
		},
		Action: func(ctx context.Context, command *cli.Command) error {
			log.Setup(command.String("log-level"))

			workerID := command.String("worker-id")
			if workerID == "" {
				workerID = "worker-" + uuid.New().String()[:8]
			}

			logger.InfoContext(ctx, "Initializing Sentio", "worker_id", workerID)

			if command.Bool("tracing") {
				_, err := otelhelper.NewTracer(ctx, "sentio")
				if err != nil {
					return fmt.Errorf("failed to initialize tracing: %w", err)
				}
			}

			persistence, err := cmd.NewPersistence(ctx, logger, command.String("database-url"))
			if err != nil {
				return err
			}

			defer func() {
				err := persistence.Close(ctx)
				if err != nil {
					logger.ErrorContext(ctx, "Failed to close persistence", "error", err)
				}
			}()

			taskBus, err := cmd.NewTaskBus(logger, command.String("task-bus"))
			if err != nil {
				return err
			}

			defer func() {
				err := taskBus.Close()
				if err != nil {
					logger.ErrorContext(ctx, "Failed to close task bus", "error", err)
				}
			}()

			scorer := sentiment.Scorer(sentiment.LocalScorer{})
			if url := command.String("scorer-url"); url != "" {
				scorer = sentiment.NewHTTPScorer(url)
			}

			source := reviews.NewSyntheticSource(command.Int("review-count"), reviewSeed)
			registry := cmd.NewRegistry(logger, persistence, source, scorer)

			cache := workflow.NewProjectionCache(command.Duration("sticky-timeout"))
			engine := workflow.NewEngine(logger, persistence, taskBus, registry, cache, workerID)
			executor := activity.NewExecutor(logger, registry, persistence, workerID)

			manager := worker.NewManager(logger, taskBus, engine, executor, worker.Config{
				WorkerID:         workerID,
				MaxWorkflowTasks: command.Int("max-workflow-tasks"),
				MaxActivityTasks: command.Int("max-activity-tasks"),
			})

			runCtx, cancel := context.WithCancel(ctx)
			defer manager.Drain(drainTimeout)
			defer cancel()

			err = manager.Start(runCtx)
			if err != nil {
				return err
			}

			janitor := worker.NewJanitor(logger, persistence, taskBus, cache, workerID)

			err = janitor.Start()
			if err != nil {
				return err
			}

			defer janitor.Stop()

			app := newApp(engine, persistence)

			go func() {
				sigChan := make(chan os.Signal, 1)
				signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

				select {
				case <-sigChan:
				case <-runCtx.Done():
				}

				logger.Info("Shutting down...")

				err := app.ShutdownWithTimeout(drainTimeout)
				if err != nil {
					logger.Error("Failed to shut down API server", "error", err)
				}
			}()

			err = app.Listen(":" + strconv.Itoa(command.Int("port")))
			if err != nil {
				logger.ErrorContext(ctx, "Failed to start API server", "error", err)
			}

			return nil
		},
	}

	err := command.Run(context.Background(), os.Args)
	if err != nil {
		panic(err)
	}
}
