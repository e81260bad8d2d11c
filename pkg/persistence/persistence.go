// Package persistence provides the storage abstraction for workflow
// histories, instance records, product data, and activity heartbeats.
package persistence

import (
	"context"
	"time"

	"github.com/sentiolabs/sentio/pkg/models"
)

// HistoryStore persists append-only event histories. AppendEvents must
// reject any event whose sequence number is already taken for the instance,
// so redelivered tasks cannot rewrite history.
type HistoryStore interface {
	AppendEvents(ctx context.Context, instanceID string, events []models.Event) error
	ListEvents(ctx context.Context, instanceID string) ([]models.Event, error)
}

// InstanceStore persists the queryable workflow instance records.
type InstanceStore interface {
	SaveInstance(ctx context.Context, instance *models.WorkflowInstance) error
	InstanceByID(ctx context.Context, id string) (*models.WorkflowInstance, error)
	Instances(ctx context.Context) ([]*models.WorkflowInstance, error)
}

// ProductStore is the external store the pipeline writes its business data
// to: one key per product name, one key per aggregated score. The two writes
// are independent, last-writer-wins, with no transaction across them.
type ProductStore interface {
	SaveProduct(ctx context.Context, productUUID, name string) error
	ProductName(ctx context.Context, productUUID string) (string, error)
	SaveScore(ctx context.Context, productUUID, score string) error
	Score(ctx context.Context, productUUID string) (string, error)
}

// Heartbeat is one recorded liveness signal for an in-flight activity
// attempt. The attempt is presumed dead once Deadline passes without a newer
// beat.
type Heartbeat struct {
	InstanceID   string    `json:"instance_id"`
	ScheduleID   string    `json:"schedule_id"`
	ActivityType string    `json:"activity_type"`
	Attempt      int32     `json:"attempt"`
	Deadline     time.Time `json:"deadline"`
}

// HeartbeatStore tracks activity liveness. RecordHeartbeat overwrites any
// previous beat for the same attempt.
type HeartbeatStore interface {
	RecordHeartbeat(ctx context.Context, beat Heartbeat) error
	ClearHeartbeat(ctx context.Context, instanceID, scheduleID string, attempt int32) error
	ExpiredHeartbeats(ctx context.Context, cutoff time.Time) ([]Heartbeat, error)
}

type Persistence interface {
	HistoryStore
	InstanceStore
	ProductStore
	HeartbeatStore

	HealthCheck(ctx context.Context) error
	Close(ctx context.Context) error
}
