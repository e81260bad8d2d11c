package main

import (
	"context"
	"os"

	"github.com/sentiolabs/sentio/pkg/cmd"
	"github.com/sentiolabs/sentio/pkg/log"
	cli "github.com/urfave/cli/v3"
)

const defaultPort = 9091

func main() {
	logger := log.WithModule("api")

	command := &cli.Command{
		Name:                  "sentio-api",
		Usage:                 "Start and query sentiment analysis workflows",
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
				Name:    "log-level",
				Usage:   "Log level (debug, info, warn, error)",
				Value:   "info",
				Sources: cli.EnvVars("SENTIO_LOG_LEVEL"),
			},
		},
		Action: func(ctx context.Context, command *cli.Command) error {
			log.Setup(command.String("log-level"))

			logger.InfoContext(ctx, "Initializing Sentio API")

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

			api := NewAPI(
				logger,
				persistence,
				taskBus,
				cmd.NewDefinitionRegistry(logger),
			)

			err = api.Start(command.Int("port"))
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
