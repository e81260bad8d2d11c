package web

import (
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v3"

	"github.com/sentiolabs/sentio/pkg/pipelines"
	"github.com/sentiolabs/sentio/pkg/services"
)

type APIHandlers struct {
	workflowService  *services.Workflow
	sentimentService *services.Sentiment
	validator        *validator.Validate
}

func NewAPIHandlers(
	workflowService *services.Workflow,
	sentimentService *services.Sentiment,
	validator *validator.Validate,
) *APIHandlers {
	return &APIHandlers{
		workflowService:  workflowService,
		sentimentService: sentimentService,
		validator:        validator,
	}
}

// AnalyzeSentiment starts the sentiment pipeline for one product. The call
// returns once the instance is durably started; it never waits for results.
func (h *APIHandlers) AnalyzeSentiment(c fiber.Ctx) error {
	var req AnalyzeSentimentRequest
	if err := c.Bind().JSON(&req); err != nil {
		return badRequest(c, "Invalid JSON format")
	}

	if err := h.validator.Struct(req); err != nil {
		return badRequest(c, err.Error())
	}

	if strings.TrimSpace(req.ProductName) == "" {
		return badRequest(c, "productName must not be blank")
	}

	input, err := json.Marshal(req)
	if err != nil {
		return internalError(c, err)
	}

	instance, err := h.workflowService.Start(c.Context(), pipelines.SentimentAnalysisID, req.ProductName, input)
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.Status(fiber.StatusAccepted).JSON(AnalyzeSentimentResponse{
		Message:    "Workflow started",
		WorkflowID: instance.ID,
	})
}

// GetSentiment returns the stored aggregate for a product, or 404 while the
// pipeline has not written one yet.
func (h *APIHandlers) GetSentiment(c fiber.Ctx) error {
	productUUID := c.Params("productUUID")
	if productUUID == "" {
		return badRequest(c, "Product UUID is required")
	}

	report, err := h.sentimentService.Report(c.Context(), productUUID)
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(report)
}

func (h *APIHandlers) GetWorkflow(c fiber.Ctx) error {
	id := c.Params("id")
	if id == "" {
		return badRequest(c, "Workflow ID is required")
	}

	instance, err := h.workflowService.FetchByID(c.Context(), id)
	if err != nil {
		return handleServiceError(c, err)
	}

	events, err := h.workflowService.History(c.Context(), id)
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(WorkflowInstanceResponse{
		ID:           instance.ID,
		DefinitionID: instance.DefinitionID,
		Status:       instance.Status,
		Input:        instance.Input,
		Result:       instance.Result,
		Failure:      instance.Failure,
		EventCount:   len(events),
		CreatedAt:    instance.CreatedAt,
		UpdatedAt:    instance.UpdatedAt,
	})
}

func (h *APIHandlers) CancelWorkflow(c fiber.Ctx) error {
	id := c.Params("id")
	if id == "" {
		return badRequest(c, "Workflow ID is required")
	}

	var req CancelWorkflowRequest
	if len(c.Body()) > 0 {
		if err := c.Bind().JSON(&req); err != nil {
			return badRequest(c, "Invalid JSON format")
		}
	}

	err := h.workflowService.Cancel(c.Context(), id, req.Reason)
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.SendStatus(fiber.StatusAccepted)
}

func (h *APIHandlers) HealthCheck(c fiber.Ctx) error {
	repositoryCheck, repOk := h.workflowService.HealthCheck(c.Context())

	status := "unhealthy"
	message := "Sentio API is unhealthy"
	httpStatus := http.StatusInternalServerError

	if repOk {
		status = "healthy"
		message = "Sentio API is healthy"
		httpStatus = http.StatusOK
	}

	return c.Status(httpStatus).JSON(fiber.Map{
		"status":  status,
		"message": message,
		"checkers": fiber.Map{
			"repository": repositoryCheck,
		},
		"timestamp": time.Now().UTC(),
	})
}
