package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/google/uuid"
	cli "github.com/urfave/cli/v3"

	"github.com/sentiolabs/sentio/pkg/cmd"
	"github.com/sentiolabs/sentio/pkg/log"
	"github.com/sentiolabs/sentio/pkg/otelhelper"
	"github.com/sentiolabs/sentio/pkg/reviews"
	"github.com/sentiolabs/sentio/pkg/sentiment"
	"github.com/sentiolabs/sentio/pkg/worker"
)

const (
	defaultReviewCount   = 5
	defaultStickyTimeout = 10 * time.Second

	// Fixed so every worker fabricates the same corpus for a product.
	reviewSeed = 1
)

func main() {
	command := &cli.Command{
		Name:                  "sentio-worker",
		EnableShellCompletion: true,
		Usage:                 "Start workers to execute sentiment analysis workflows",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "worker-id",
				Aliases: []string{"id"},
				Usage:   "Custom worker ID (auto-generated if not provided)",
				Value:   "",
				Sources: cli.EnvVars("SENTIO_WORKER_ID"),
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

			logger := log.WithWorker("sentio-worker", workerID)

			logger.InfoContext(ctx, "Initializing Sentio Worker")

			if command.Bool("tracing") {
				_, err := otelhelper.NewTracer(ctx, "sentio-worker")
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

			runner := NewRunner(
				workerID,
				logger,
				persistence,
				taskBus,
				cmd.NewRegistry(logger, persistence, source, scorer),
				RunnerConfig{
					MaxWorkflowTasks: command.Int("max-workflow-tasks"),
					MaxActivityTasks: command.Int("max-activity-tasks"),
					StickyTimeout:    command.Duration("sticky-timeout"),
				},
			)

			err = runner.Start(ctx)
			if err != nil {
				logger.ErrorContext(ctx, "Failed to start worker", "error", err)
			}

			return nil
		},
	}

	err := command.Run(context.Background(), os.Args)
	if err != nil {
		panic(err)
	}
}
