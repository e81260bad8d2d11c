package workflow

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/sentiolabs/sentio/pkg/models"
)

// ActivityState is the folded state of one scheduled activity.
type ActivityState struct {
	ScheduleID   string
	ActivityType string
	RequestID    string
	Input        json.RawMessage
	Options      models.ActivityOptions
	ScheduledAt  time.Time
	NextAttempt  int32
	RetryAt      time.Time
	Completed    bool
	Failed       bool
	Output       json.RawMessage
	Failure      *models.FailureInfo
}

// Pending reports whether the schedule still owes a terminal outcome.
func (s *ActivityState) Pending() bool {
	return !s.Completed && !s.Failed
}

// Invocation materializes the task an activity worker needs for this
// schedule's next attempt.
func (s *ActivityState) Invocation(instanceID string) models.ActivityInvocation {
	return models.ActivityInvocation{
		InstanceID:   instanceID,
		ScheduleID:   s.ScheduleID,
		ActivityType: s.ActivityType,
		Attempt:      s.NextAttempt,
		Input:        s.Input,
		RequestID:    s.RequestID,
		ScheduledAt:  s.ScheduledAt,
		Options:      s.Options,
	}
}

// Barrier is a durable join over a set of schedules. Done flips only when
// every schedule in it has a recorded completion, so partial fan-out
// completion leaves the instance parked without any busy-waiting.
type Barrier struct {
	ScheduleIDs []string
	Done        bool
}

// Projection is the deterministic fold of an instance's event history. It is
// the only state a decider sees.
type Projection struct {
	InstanceID   string
	DefinitionID string
	Status       models.InstanceStatus
	Input        json.RawMessage
	Result       json.RawMessage
	Failure      *models.FailureInfo
	StartedAt    time.Time
	NextSequence int64

	activities map[string]*ActivityState
	order      []string
}

func NewProjection(instanceID string) *Projection {
	return &Projection{
		InstanceID:   instanceID,
		NextSequence: 1,
		activities:   make(map[string]*ActivityState),
	}
}

// Replay folds a full history into a projection.
func Replay(instanceID string, events []models.Event) (*Projection, error) {
	view := NewProjection(instanceID)

	for _, event := range events {
		err := view.Apply(event)
		if err != nil {
			return nil, err
		}
	}

	return view, nil
}

// Apply folds one event. Events must arrive in sequence order with no gaps,
// and nothing may follow a terminal event.
func (p *Projection) Apply(event models.Event) error {
	if event.SequenceNumber != p.NextSequence {
		return fmt.Errorf("%w: instance %s got sequence %d, want %d", ErrHistoryCorrupt, p.InstanceID, event.SequenceNumber, p.NextSequence)
	}

	if p.Status.Terminal() {
		return fmt.Errorf("%w: instance %s has event %d after terminal status %s", ErrHistoryCorrupt, p.InstanceID, event.SequenceNumber, p.Status)
	}

	if p.NextSequence == 1 && event.Kind != models.EventWorkflowStarted {
		return fmt.Errorf("%w: instance %s history begins with %s", ErrHistoryCorrupt, p.InstanceID, event.Kind)
	}

	switch event.Kind {
	case models.EventWorkflowStarted:
		if p.NextSequence != 1 {
			return fmt.Errorf("%w: instance %s has a second %s", ErrHistoryCorrupt, p.InstanceID, event.Kind)
		}

		var attrs models.WorkflowStartedAttributes

		err := event.DecodeAttributes(&attrs)
		if err != nil {
			return err
		}

		p.DefinitionID = attrs.DefinitionID
		p.Input = attrs.Input
		p.Status = models.InstanceStatusRunning
		p.StartedAt = event.Timestamp

	case models.EventActivityScheduled:
		if _, exists := p.activities[event.ScheduleID]; exists {
			return fmt.Errorf("%w: instance %s schedules %q twice", ErrHistoryCorrupt, p.InstanceID, event.ScheduleID)
		}

		var attrs models.ActivityScheduledAttributes

		err := event.DecodeAttributes(&attrs)
		if err != nil {
			return err
		}

		p.activities[event.ScheduleID] = &ActivityState{
			ScheduleID:   event.ScheduleID,
			ActivityType: attrs.ActivityType,
			RequestID:    attrs.RequestID,
			Input:        attrs.Input,
			Options:      attrs.Options,
			ScheduledAt:  event.Timestamp,
			NextAttempt:  1,
		}
		p.order = append(p.order, event.ScheduleID)

	case models.EventActivityCompleted:
		state, err := p.activityFor(event)
		if err != nil {
			return err
		}

		var attrs models.ActivityCompletedAttributes

		err = event.DecodeAttributes(&attrs)
		if err != nil {
			return err
		}

		state.Completed = true
		state.Output = attrs.Output
		state.RetryAt = time.Time{}

	case models.EventActivityRetrying:
		state, err := p.activityFor(event)
		if err != nil {
			return err
		}

		var attrs models.ActivityRetryingAttributes

		err = event.DecodeAttributes(&attrs)
		if err != nil {
			return err
		}

		failure := attrs.Failure
		state.NextAttempt = attrs.NextAttempt
		state.Failure = &failure
		state.RetryAt = event.Timestamp.Add(attrs.Delay)

	case models.EventActivityFailed:
		state, err := p.activityFor(event)
		if err != nil {
			return err
		}

		var attrs models.ActivityFailedAttributes

		err = event.DecodeAttributes(&attrs)
		if err != nil {
			return err
		}

		failure := attrs.Failure
		state.Failed = true
		state.Failure = &failure
		state.RetryAt = time.Time{}

	case models.EventWorkflowCompleted:
		var attrs models.WorkflowCompletedAttributes

		if len(event.Attributes) > 0 {
			err := event.DecodeAttributes(&attrs)
			if err != nil {
				return err
			}
		}

		p.Status = models.InstanceStatusCompleted
		p.Result = attrs.Result

	case models.EventWorkflowFailed:
		var attrs models.WorkflowFailedAttributes

		err := event.DecodeAttributes(&attrs)
		if err != nil {
			return err
		}

		failure := attrs.Failure
		p.Failure = &failure
		p.Status = failure.TerminalStatus()

	default:
		return fmt.Errorf("%w: instance %s has unknown event kind %q", ErrHistoryCorrupt, p.InstanceID, event.Kind)
	}

	p.NextSequence++

	return nil
}

func (p *Projection) activityFor(event models.Event) (*ActivityState, error) {
	state, ok := p.activities[event.ScheduleID]
	if !ok {
		return nil, fmt.Errorf("%w: instance %s has %s for unscheduled %q", ErrHistoryCorrupt, p.InstanceID, event.Kind, event.ScheduleID)
	}

	return state, nil
}

// Activity returns the folded state for a schedule ID.
func (p *Projection) Activity(scheduleID string) (*ActivityState, bool) {
	state, ok := p.activities[scheduleID]

	return state, ok
}

// Scheduled reports whether a schedule ID is already recorded in history.
func (p *Projection) Scheduled(scheduleID string) bool {
	_, ok := p.activities[scheduleID]

	return ok
}

// Activities returns all folded activity states in schedule order.
func (p *Projection) Activities() []*ActivityState {
	states := make([]*ActivityState, 0, len(p.order))
	for _, scheduleID := range p.order {
		states = append(states, p.activities[scheduleID])
	}

	return states
}

// PendingActivities returns the schedules still owing an outcome, in
// schedule order.
func (p *Projection) PendingActivities() []*ActivityState {
	pending := make([]*ActivityState, 0)

	for _, scheduleID := range p.order {
		if state := p.activities[scheduleID]; state.Pending() {
			pending = append(pending, state)
		}
	}

	return pending
}

// FirstFailure returns the failure of the earliest-scheduled failed
// activity, or nil when none failed.
func (p *Projection) FirstFailure() *models.FailureInfo {
	for _, scheduleID := range p.order {
		if state := p.activities[scheduleID]; state.Failed {
			return state.Failure
		}
	}

	return nil
}

// JoinBarrier folds the join state over a set of schedule IDs. Done requires
// every schedule to exist and be completed.
func (p *Projection) JoinBarrier(scheduleIDs []string) Barrier {
	barrier := Barrier{ScheduleIDs: scheduleIDs, Done: len(scheduleIDs) > 0}

	for _, scheduleID := range scheduleIDs {
		state, ok := p.activities[scheduleID]
		if !ok || !state.Completed {
			barrier.Done = false

			break
		}
	}

	return barrier
}

// Outputs collects the recorded outputs of the given schedules in order,
// reporting false when any of them has not completed yet.
func (p *Projection) Outputs(scheduleIDs []string) ([]json.RawMessage, bool) {
	outputs := make([]json.RawMessage, 0, len(scheduleIDs))

	for _, scheduleID := range scheduleIDs {
		state, ok := p.activities[scheduleID]
		if !ok || !state.Completed {
			return nil, false
		}

		outputs = append(outputs, state.Output)
	}

	return outputs, true
}

// Instance materializes the queryable record for this projection.
func (p *Projection) Instance(now time.Time) *models.WorkflowInstance {
	return &models.WorkflowInstance{
		ID:           p.InstanceID,
		DefinitionID: p.DefinitionID,
		Status:       p.Status,
		Input:        p.Input,
		Result:       p.Result,
		Failure:      p.Failure,
		CreatedAt:    p.StartedAt,
		UpdatedAt:    now,
	}
}
