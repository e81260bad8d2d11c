package main

import (
	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v3"
	"github.com/gofiber/fiber/v3/middleware/cors"
	"github.com/gofiber/fiber/v3/middleware/healthcheck"
	"github.com/gofiber/fiber/v3/middleware/logger"

	"github.com/sentiolabs/sentio/pkg/persistence"
	"github.com/sentiolabs/sentio/pkg/services"
	"github.com/sentiolabs/sentio/pkg/web"
	"github.com/sentiolabs/sentio/pkg/workflow"
)

// newApp assembles the HTTP surface around an engine the worker side of the
// process already owns, so API and worker share one projection cache.
func newApp(engine *workflow.Engine, store persistence.Persistence) *fiber.App {
	workflowService := services.NewWorkflow(engine, store)
	sentimentService := services.NewSentiment(store)

	handlers := web.NewAPIHandlers(
		workflowService,
		sentimentService,
		validator.New(validator.WithRequiredStructEnabled()),
	)

	app := fiber.New()
	app.Use(cors.New())
	app.Use(logger.New(logger.Config{
		DisableColors: true,
	}))

	app.Get(healthcheck.DefaultLivenessEndpoint, healthcheck.NewHealthChecker())
	app.Get(healthcheck.DefaultReadinessEndpoint, healthcheck.NewHealthChecker())

	app.Get("/", func(c fiber.Ctx) error {
		return c.SendString("Sentio")
	})

	api := app.Group("/api")
	api.Post("/analyze-sentiment", handlers.AnalyzeSentiment)
	api.Get("/sentiment/:productUUID", handlers.GetSentiment)
	api.Get("/workflows/:id", handlers.GetWorkflow)
	api.Post("/workflows/:id/cancel", handlers.CancelWorkflow)

	app.Get("/health", handlers.HealthCheck)

	return app
}
