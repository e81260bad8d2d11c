package services

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/sentiolabs/sentio/pkg/models"
	"github.com/sentiolabs/sentio/pkg/persistence"
	"github.com/sentiolabs/sentio/pkg/workflow"
)

// Workflow starts and queries workflow instances on behalf of the API.
type Workflow struct {
	engine      *workflow.Engine
	persistence persistence.Persistence
}

// NewWorkflow creates a new workflow service.
func NewWorkflow(engine *workflow.Engine, persistence persistence.Persistence) *Workflow {
	return &Workflow{
		engine:      engine,
		persistence: persistence,
	}
}

// HealthCheck checks the health of the persistence layer.
func (w *Workflow) HealthCheck(ctx context.Context) (string, bool) {
	if w.persistence == nil {
		return "Persistence layer not initialized", false
	}

	err := w.persistence.HealthCheck(ctx)
	if err != nil {
		return "Persistence layer is unhealthy: " + err.Error(), false
	}

	return "Persistence layer is healthy", true
}

// Start launches a new instance of the definition. The instance ID embeds the
// caller-supplied name and the start time in milliseconds; two starts for the
// same name within one millisecond collide, which is accepted as a documented
// limitation.
func (w *Workflow) Start(ctx context.Context, definitionID, name string, input json.RawMessage) (*models.WorkflowInstance, error) {
	if definitionID == "" {
		return nil, fmt.Errorf("%w: definition ID is required", ErrInvalidRequest)
	}

	instanceID := fmt.Sprintf("%s-%s-%d", definitionID, name, time.Now().UnixMilli())

	return w.engine.Start(ctx, definitionID, instanceID, input)
}

// FetchByID retrieves a workflow instance by its ID.
func (w *Workflow) FetchByID(ctx context.Context, id string) (*models.WorkflowInstance, error) {
	instance, err := w.persistence.InstanceByID(ctx, id)
	if err != nil {
		return nil, err
	}

	if instance == nil {
		return nil, persistence.ErrInstanceNotFound
	}

	return instance, nil
}

// History returns the instance's recorded events in sequence order.
func (w *Workflow) History(ctx context.Context, id string) ([]models.Event, error) {
	events, err := w.persistence.ListEvents(ctx, id)
	if err != nil {
		return nil, err
	}

	if len(events) == 0 {
		return nil, persistence.ErrInstanceNotFound
	}

	return events, nil
}

// Cancel requests cooperative cancellation of a running instance.
func (w *Workflow) Cancel(ctx context.Context, id, reason string) error {
	_, err := w.FetchByID(ctx, id)
	if err != nil {
		return err
	}

	return w.engine.Cancel(ctx, id, reason)
}
