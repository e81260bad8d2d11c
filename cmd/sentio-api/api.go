// Package main provides the Sentio API server implementation.
package main

import (
	"log/slog"
	"strconv"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v3"
	"github.com/gofiber/fiber/v3/middleware/cors"
	"github.com/gofiber/fiber/v3/middleware/healthcheck"
	"github.com/gofiber/fiber/v3/middleware/logger"

	"github.com/sentiolabs/sentio/pkg/persistence"
	"github.com/sentiolabs/sentio/pkg/registry"
	"github.com/sentiolabs/sentio/pkg/services"
	"github.com/sentiolabs/sentio/pkg/taskbus"
	"github.com/sentiolabs/sentio/pkg/web"
	"github.com/sentiolabs/sentio/pkg/workflow"
)

const startProjectionTTL = time.Minute

type API struct {
	logger      *slog.Logger
	persistence persistence.Persistence
	taskBus     taskbus.TaskBus
	registry    *registry.Registry
	validate    *validator.Validate
}

func NewAPI(
	logger *slog.Logger,
	persistence persistence.Persistence,
	taskBus taskbus.TaskBus,
	registry *registry.Registry,
) *API {
	return &API{
		logger:      logger,
		persistence: persistence,
		taskBus:     taskBus,
		registry:    registry,
		validate:    validator.New(validator.WithRequiredStructEnabled()),
	}
}

func (a *API) App() *fiber.App {
	engine := workflow.NewEngine(
		a.logger,
		a.persistence,
		a.taskBus,
		a.registry,
		workflow.NewProjectionCache(startProjectionTTL),
		"api",
	)

	workflowService := services.NewWorkflow(engine, a.persistence)
	sentimentService := services.NewSentiment(a.persistence)

	handlers := web.NewAPIHandlers(workflowService, sentimentService, a.validate)

	app := fiber.New()
	app.Use(cors.New())
	app.Use(logger.New(logger.Config{
		DisableColors: true,
	}))

	app.Get(healthcheck.DefaultLivenessEndpoint, healthcheck.NewHealthChecker())
	app.Get(healthcheck.DefaultReadinessEndpoint, healthcheck.NewHealthChecker())

	app.Get("/", func(c fiber.Ctx) error {
		return c.SendString("Sentio API")
	})

	api := app.Group("/api")
	api.Post("/analyze-sentiment", handlers.AnalyzeSentiment)
	api.Get("/sentiment/:productUUID", handlers.GetSentiment)
	api.Get("/workflows/:id", handlers.GetWorkflow)
	api.Post("/workflows/:id/cancel", handlers.CancelWorkflow)

	app.Get("/health", handlers.HealthCheck)

	return app
}

func (a *API) Start(port int) error {
	app := a.App()

	err := app.Listen(":" + strconv.Itoa(port))

	return err
}
