package models

import (
	"encoding/json"
	"time"
)

// InstanceStatus is the lifecycle state of a workflow instance. Completed,
// Failed, TimedOut and Cancelled are terminal and absorbing: once reached, no
// further events are appended and late activity results are dropped.
type InstanceStatus string

const (
	InstanceStatusRunning   InstanceStatus = "running"
	InstanceStatusCompleted InstanceStatus = "completed"
	InstanceStatusFailed    InstanceStatus = "failed"
	InstanceStatusTimedOut  InstanceStatus = "timed_out"
	InstanceStatusCancelled InstanceStatus = "cancelled"
)

// Terminal reports whether the status absorbs all further transitions.
func (s InstanceStatus) Terminal() bool {
	switch s {
	case InstanceStatusCompleted, InstanceStatusFailed, InstanceStatusTimedOut, InstanceStatusCancelled:
		return true
	default:
		return false
	}
}

// WorkflowInstance is the queryable record of one workflow run. The event
// history is the source of truth; this record is a projection kept for
// status lookups and is updated by the same single writer that appends the
// instance's events.
type WorkflowInstance struct {
	ID           string          `json:"id"`
	DefinitionID string          `json:"definition_id"`
	Status       InstanceStatus  `json:"status"`
	Input        json.RawMessage `json:"input,omitempty"`
	Result       json.RawMessage `json:"result,omitempty"`
	Failure      *FailureInfo    `json:"failure,omitempty"`
	CreatedAt    time.Time       `json:"created_at"`
	UpdatedAt    time.Time       `json:"updated_at"`
}
