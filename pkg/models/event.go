// Package models defines the durable state shared across the engine: workflow
// instances, their append-only event histories, activity invocations, and the
// failure taxonomy recorded in those histories.
package models

import (
	"encoding/json"
	"fmt"
	"time"
)

// EventKind identifies what happened, as recorded in a workflow history.
type EventKind string

const (
	EventWorkflowStarted   EventKind = "workflow.started"
	EventActivityScheduled EventKind = "activity.scheduled"
	EventActivityCompleted EventKind = "activity.completed"
	EventActivityFailed    EventKind = "activity.failed"
	EventActivityRetrying  EventKind = "activity.retrying"
	EventWorkflowCompleted EventKind = "workflow.completed"
	EventWorkflowFailed    EventKind = "workflow.failed"
)

// Event is one record in a workflow instance's history. Histories are
// append-only: sequence numbers are contiguous from 1 and never rewritten.
// Everything nondeterministic an instance depends on (timestamps, request
// IDs, activity outputs) lives in recorded attributes, so that replaying
// the history reproduces the exact same instance state.
type Event struct {
	SequenceNumber int64           `json:"sequence_number"`
	Kind           EventKind       `json:"kind"`
	Timestamp      time.Time       `json:"timestamp"`
	ScheduleID     string          `json:"schedule_id,omitempty"`
	Attributes     json.RawMessage `json:"attributes,omitempty"`
}

// NewEvent builds an event with marshaled attributes.
func NewEvent(seq int64, kind EventKind, scheduleID string, attrs any) (Event, error) {
	event := Event{
		SequenceNumber: seq,
		Kind:           kind,
		Timestamp:      time.Now().UTC(),
		ScheduleID:     scheduleID,
	}

	if attrs != nil {
		payload, err := json.Marshal(attrs)
		if err != nil {
			return Event{}, fmt.Errorf("failed to marshal %s attributes: %w", kind, err)
		}

		event.Attributes = payload
	}

	return event, nil
}

// DecodeAttributes unmarshals the event's attributes into the given struct.
func (e Event) DecodeAttributes(into any) error {
	if len(e.Attributes) == 0 {
		return fmt.Errorf("event %d (%s) has no attributes", e.SequenceNumber, e.Kind)
	}

	if err := json.Unmarshal(e.Attributes, into); err != nil {
		return fmt.Errorf("failed to decode %s attributes: %w", e.Kind, err)
	}

	return nil
}

type WorkflowStartedAttributes struct {
	DefinitionID string          `json:"definition_id"`
	Input        json.RawMessage `json:"input,omitempty"`
}

type ActivityScheduledAttributes struct {
	ActivityType string          `json:"activity_type"`
	Input        json.RawMessage `json:"input,omitempty"`
	RequestID    string          `json:"request_id"`
	Options      ActivityOptions `json:"options"`
}

type ActivityCompletedAttributes struct {
	Attempt  int32           `json:"attempt"`
	Output   json.RawMessage `json:"output,omitempty"`
	WorkerID string          `json:"worker_id,omitempty"`
}

type ActivityFailedAttributes struct {
	Attempt  int32       `json:"attempt"`
	Failure  FailureInfo `json:"failure"`
	WorkerID string      `json:"worker_id,omitempty"`
}

type ActivityRetryingAttributes struct {
	Attempt     int32         `json:"attempt"`
	NextAttempt int32         `json:"next_attempt"`
	Delay       time.Duration `json:"delay"`
	Failure     FailureInfo   `json:"failure"`
}

type WorkflowCompletedAttributes struct {
	Result json.RawMessage `json:"result,omitempty"`
}

type WorkflowFailedAttributes struct {
	Failure FailureInfo `json:"failure"`
}
