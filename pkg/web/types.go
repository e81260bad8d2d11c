// Package web provides HTTP request and response types for the sentiment API.
package web

import (
	"encoding/json"
	"time"

	"github.com/sentiolabs/sentio/pkg/models"
)

// AnalyzeSentimentRequest is the request body for starting a sentiment
// analysis run.
type AnalyzeSentimentRequest struct {
	ProductName string `json:"productName" validate:"required"`
}

// AnalyzeSentimentResponse acknowledges an accepted start. The workflow runs
// on; its outcome is discovered by querying, never by waiting on this call.
type AnalyzeSentimentResponse struct {
	Message    string `json:"message"`
	WorkflowID string `json:"workflowId"`
}

// CancelWorkflowRequest is the optional request body for cancelling a run.
type CancelWorkflowRequest struct {
	Reason string `json:"reason,omitempty"`
}

// WorkflowInstanceResponse is the queryable view of one workflow run.
type WorkflowInstanceResponse struct {
	ID           string                `json:"id"`
	DefinitionID string                `json:"definitionId"`
	Status       models.InstanceStatus `json:"status"`
	Input        json.RawMessage       `json:"input,omitempty"`
	Result       json.RawMessage       `json:"result,omitempty"`
	Failure      *models.FailureInfo   `json:"failure,omitempty"`
	EventCount   int                   `json:"eventCount"`
	CreatedAt    time.Time             `json:"createdAt"`
	UpdatedAt    time.Time             `json:"updatedAt"`
}
