package workflow

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/xeipuuv/gojsonschema"

	"github.com/sentiolabs/sentio/pkg/models"
	"github.com/sentiolabs/sentio/pkg/persistence"
	"github.com/sentiolabs/sentio/pkg/retry"
	"github.com/sentiolabs/sentio/pkg/taskbus"
	"github.com/sentiolabs/sentio/pkg/tasks"
)

// Engine drives workflow instances. It is the single writer for an
// instance's history: activity outcomes arrive as messages keyed by instance
// ID, the engine folds them into events, runs the decider, and dispatches
// whatever the decisions ask for. Every handler tolerates redelivery: an
// outcome already recorded is ignored, a decision already recorded is not
// re-applied, and a redelivered task re-dispatches all pending work.
type Engine struct {
	logger      *slog.Logger
	persistence persistence.Persistence
	publisher   taskbus.TaskPublisher
	definitions DefinitionSource
	cache       *ProjectionCache
}

func NewEngine(
	logger *slog.Logger,
	persistence persistence.Persistence,
	publisher taskbus.TaskPublisher,
	definitions DefinitionSource,
	cache *ProjectionCache,
	workerID string,
) *Engine {
	return &Engine{
		logger:      logger.With("module", "workflow_engine", "worker_id", workerID),
		persistence: persistence,
		publisher:   publisher,
		definitions: definitions,
		cache:       cache,
	}
}

// Start validates the input against the definition's schema, appends
// WorkflowStarted, persists the instance record, and dispatches the first
// workflow task. Starting an instance ID that already exists returns the
// stored instance without appending anything.
func (e *Engine) Start(ctx context.Context, definitionID, instanceID string, input json.RawMessage) (*models.WorkflowInstance, error) {
	definition, err := e.definitions.DefinitionByID(definitionID)
	if err != nil {
		return nil, err
	}

	err = validateInput(definition, input)
	if err != nil {
		return nil, err
	}

	event, err := models.NewEvent(1, models.EventWorkflowStarted, "", models.WorkflowStartedAttributes{
		DefinitionID: definitionID,
		Input:        input,
	})
	if err != nil {
		return nil, err
	}

	err = e.persistence.AppendEvents(ctx, instanceID, []models.Event{event})
	if err != nil {
		if persistence.IsSequenceConflict(err) {
			e.logger.InfoContext(ctx, "Instance already started", "instance_id", instanceID)

			return e.persistence.InstanceByID(ctx, instanceID)
		}

		return nil, err
	}

	instance := &models.WorkflowInstance{
		ID:           instanceID,
		DefinitionID: definitionID,
		Status:       models.InstanceStatusRunning,
		Input:        input,
		CreatedAt:    event.Timestamp,
		UpdatedAt:    event.Timestamp,
	}

	err = e.persistence.SaveInstance(ctx, instance)
	if err != nil {
		return nil, err
	}

	err = e.publisher.Publish(ctx, tasks.WorkflowTaskTopic, instanceID, tasks.NewWorkflowTaskStart(instanceID))
	if err != nil {
		return nil, err
	}

	e.logger.InfoContext(ctx, "Workflow started", "instance_id", instanceID, "definition_id", definitionID)

	return instance, nil
}

// Cancel asks the worker owning the instance to cancel it. Cancellation is
// cooperative: attempts already dispatched run to their own completion and
// have their late results dropped.
func (e *Engine) Cancel(ctx context.Context, instanceID, reason string) error {
	return e.publisher.Publish(ctx, tasks.WorkflowTaskTopic, instanceID, tasks.NewWorkflowTaskCancel(instanceID, reason))
}

// HandleStart runs the first decision for a freshly started instance.
func (e *Engine) HandleStart(ctx context.Context, task *tasks.WorkflowTaskStart) error {
	view, err := e.load(ctx, task.InstanceID)
	if err != nil {
		return e.dropUnknown(ctx, "start task", task.InstanceID, err)
	}

	if view.Status.Terminal() {
		e.logger.InfoContext(ctx, "Dropping start task for terminal instance", "instance_id", task.InstanceID, "status", view.Status)

		return nil
	}

	return e.advance(ctx, view, newBatch(view))
}

// HandleActivityResult records one attempt outcome and runs the next
// decision. Duplicate and stale results are ignored, but still re-run the
// decider so a redelivered task can re-dispatch pending work.
func (e *Engine) HandleActivityResult(ctx context.Context, task *tasks.WorkflowTaskActivityResult) error {
	view, err := e.load(ctx, task.InstanceID)
	if err != nil {
		return e.dropUnknown(ctx, "activity result", task.InstanceID, err)
	}

	result := task.Result

	if view.Status.Terminal() {
		e.logger.InfoContext(ctx, "Dropping late activity result for terminal instance",
			"instance_id", task.InstanceID, "status", view.Status, "schedule_id", result.ScheduleID)

		return nil
	}

	state, ok := view.Activity(result.ScheduleID)
	if !ok {
		e.logger.WarnContext(ctx, "Dropping result for unknown schedule",
			"instance_id", task.InstanceID, "schedule_id", result.ScheduleID)

		return nil
	}

	b := newBatch(view)

	switch {
	case !state.Pending():
		e.logger.InfoContext(ctx, "Ignoring duplicate activity result",
			"instance_id", view.InstanceID, "schedule_id", result.ScheduleID, "attempt", result.Attempt)
	case result.Attempt != state.NextAttempt:
		e.logger.InfoContext(ctx, "Ignoring stale activity result",
			"instance_id", view.InstanceID, "schedule_id", result.ScheduleID,
			"attempt", result.Attempt, "want_attempt", state.NextAttempt)
	default:
		err = e.recordOutcome(b, state, result)
		if err != nil {
			return err
		}
	}

	return e.advance(ctx, view, b)
}

// HandleCancel appends the cancellation failure and closes the instance.
// No-op on terminal instances.
func (e *Engine) HandleCancel(ctx context.Context, task *tasks.WorkflowTaskCancel) error {
	view, err := e.load(ctx, task.InstanceID)
	if err != nil {
		return e.dropUnknown(ctx, "cancel task", task.InstanceID, err)
	}

	if view.Status.Terminal() {
		e.logger.InfoContext(ctx, "Dropping cancel for terminal instance", "instance_id", task.InstanceID, "status", view.Status)

		return nil
	}

	reason := task.Reason
	if reason == "" {
		reason = "workflow cancelled"
	}

	b := newBatch(view)

	err = b.add(models.EventWorkflowFailed, "", models.WorkflowFailedAttributes{
		Failure: models.FailureInfo{
			Kind:         models.FailureKindCancelled,
			Message:      reason,
			NonRetryable: true,
		},
	})
	if err != nil {
		return err
	}

	return e.commit(ctx, view, b)
}

// load rebuilds the instance's projection. A sticky cache hit folds only the
// events appended since the last task for this instance; a miss replays the
// full history.
func (e *Engine) load(ctx context.Context, instanceID string) (*Projection, error) {
	events, err := e.persistence.ListEvents(ctx, instanceID)
	if err != nil {
		return nil, err
	}

	if len(events) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrUnknownInstance, instanceID)
	}

	view, hit := e.cache.Get(instanceID)
	if !hit {
		return Replay(instanceID, events)
	}

	for _, event := range events {
		if event.SequenceNumber < view.NextSequence {
			continue
		}

		err = view.Apply(event)
		if err != nil {
			e.cache.Invalidate(instanceID)

			return nil, err
		}
	}

	return view, nil
}

func (e *Engine) dropUnknown(ctx context.Context, what, instanceID string, err error) error {
	if IsUnknownInstance(err) {
		e.logger.WarnContext(ctx, "Dropping "+what+" for unknown instance", "instance_id", instanceID)

		return nil
	}

	return err
}

// recordOutcome converts one attempt result into its history event: a
// completion, a retry (per the schedule's retry policy), or a final failure.
func (e *Engine) recordOutcome(b *batch, state *ActivityState, result tasks.ActivityResult) error {
	if !result.Failed() {
		return b.add(models.EventActivityCompleted, state.ScheduleID, models.ActivityCompletedAttributes{
			Attempt:  result.Attempt,
			Output:   result.Output,
			WorkerID: result.WorkerID,
		})
	}

	failure := *result.Failure
	decision := retry.Next(state.Options.RetryPolicy, result.Attempt, failure.Err())

	if decision.Retry {
		deadline := state.Invocation(b.view.InstanceID).ScheduleToCloseDeadline()
		if !deadline.IsZero() && time.Now().UTC().Add(decision.Delay).After(deadline) {
			failure = models.FailureInfo{
				Kind:         models.FailureKindTimeout,
				Message:      fmt.Sprintf("schedule-to-close timeout of %s exceeded", state.Options.ScheduleToCloseTimeout),
				NonRetryable: true,
			}
			decision.Retry = false
		}
	}

	if !decision.Retry {
		return b.add(models.EventActivityFailed, state.ScheduleID, models.ActivityFailedAttributes{
			Attempt:  result.Attempt,
			Failure:  failure,
			WorkerID: result.WorkerID,
		})
	}

	return b.add(models.EventActivityRetrying, state.ScheduleID, models.ActivityRetryingAttributes{
		Attempt:     result.Attempt,
		NextAttempt: result.Attempt + 1,
		Delay:       decision.Delay,
		Failure:     failure,
	})
}

// advance runs the decider over the folded view and interprets its
// decisions, then commits the batch.
func (e *Engine) advance(ctx context.Context, view *Projection, b *batch) error {
	if view.Status == models.InstanceStatusRunning {
		definition, err := e.definitions.DefinitionByID(view.DefinitionID)
		if err != nil {
			return err
		}

		decisions, err := definition.Decide(view)
		if err != nil {
			return fmt.Errorf("decider for %s failed: %w", view.DefinitionID, err)
		}

		err = e.interpret(b, decisions)
		if err != nil {
			return err
		}
	}

	return e.commit(ctx, view, b)
}

// interpret turns decisions into events. Schedules already recorded in
// history are skipped; a terminal decision ends interpretation.
func (e *Engine) interpret(b *batch, decisions []Decision) error {
	for _, decision := range decisions {
		switch decision := decision.(type) {
		case ScheduleActivity:
			if b.view.Scheduled(decision.ScheduleID) {
				continue
			}

			err := b.add(models.EventActivityScheduled, decision.ScheduleID, models.ActivityScheduledAttributes{
				ActivityType: decision.ActivityType,
				Input:        decision.Input,
				RequestID:    uuid.New().String(),
				Options:      decision.Options.WithDefaults(),
			})
			if err != nil {
				return err
			}

		case CompleteWorkflow:
			return b.add(models.EventWorkflowCompleted, "", models.WorkflowCompletedAttributes{
				Result: decision.Result,
			})

		case FailWorkflow:
			return b.add(models.EventWorkflowFailed, "", models.WorkflowFailedAttributes{
				Failure: decision.Failure,
			})

		default:
			return fmt.Errorf("unknown decision type %T", decision)
		}
	}

	return nil
}

// commit persists the batch, refreshes the instance record and the sticky
// cache, and dispatches activity tasks.
func (e *Engine) commit(ctx context.Context, view *Projection, b *batch) error {
	if len(b.events) > 0 {
		err := e.persistence.AppendEvents(ctx, view.InstanceID, b.events)
		if err != nil {
			// The in-memory view ran ahead of storage; drop it so the next
			// delivery replays from history.
			e.cache.Invalidate(view.InstanceID)

			return err
		}
	}

	e.cache.Put(view.InstanceID, view)

	err := e.persistence.SaveInstance(ctx, view.Instance(time.Now().UTC()))
	if err != nil {
		return err
	}

	return e.dispatch(ctx, view, b)
}

// dispatch publishes activity tasks. A batch that appended nothing is a
// redelivery: every pending schedule is re-dispatched, and the attempt
// guards deduplicate whatever was already in flight.
func (e *Engine) dispatch(ctx context.Context, view *Projection, b *batch) error {
	if view.Status.Terminal() {
		e.logger.InfoContext(ctx, "Workflow finished", "instance_id", view.InstanceID, "status", view.Status)

		return nil
	}

	if len(b.events) == 0 {
		return e.publishActivityTasks(ctx, view, view.PendingActivities())
	}

	states := make([]*ActivityState, 0, len(b.events))

	for _, event := range b.events {
		if event.Kind != models.EventActivityScheduled && event.Kind != models.EventActivityRetrying {
			continue
		}

		if state, ok := view.Activity(event.ScheduleID); ok {
			states = append(states, state)
		}
	}

	return e.publishActivityTasks(ctx, view, states)
}

func (e *Engine) publishActivityTasks(ctx context.Context, view *Projection, states []*ActivityState) error {
	for _, state := range states {
		if !state.Pending() {
			continue
		}

		task := tasks.NewActivityTaskExecute(state.Invocation(view.InstanceID), state.RetryAt)

		err := e.publisher.Publish(ctx, tasks.ActivityTaskTopic, state.ScheduleID, task)
		if err != nil {
			return err
		}

		e.logger.InfoContext(ctx, "Dispatched activity task",
			"instance_id", view.InstanceID, "schedule_id", state.ScheduleID,
			"activity_type", state.ActivityType, "attempt", state.NextAttempt)
	}

	return nil
}

// batch accumulates events for one atomic append. Events are applied to the
// view as they are added, so the decider and the dispatch logic always see
// the post-batch state.
type batch struct {
	view   *Projection
	events []models.Event
}

func newBatch(view *Projection) *batch {
	return &batch{view: view}
}

func (b *batch) add(kind models.EventKind, scheduleID string, attrs any) error {
	event, err := models.NewEvent(b.view.NextSequence, kind, scheduleID, attrs)
	if err != nil {
		return err
	}

	err = b.view.Apply(event)
	if err != nil {
		return err
	}

	b.events = append(b.events, event)

	return nil
}

func validateInput(definition Definition, input json.RawMessage) error {
	schema := definition.InputSchema()
	if schema == nil {
		return nil
	}

	schemaJSON, err := json.Marshal(schema)
	if err != nil {
		return fmt.Errorf("failed to marshal input schema: %w", err)
	}

	document := json.RawMessage(`null`)
	if len(input) > 0 {
		document = input
	}

	result, err := gojsonschema.Validate(gojsonschema.NewBytesLoader(schemaJSON), gojsonschema.NewBytesLoader(document))
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}

	if !result.Valid() {
		details := make([]string, 0, len(result.Errors()))
		for _, resultError := range result.Errors() {
			details = append(details, resultError.String())
		}

		return fmt.Errorf("%w: %s", ErrInvalidInput, strings.Join(details, "; "))
	}

	return nil
}
