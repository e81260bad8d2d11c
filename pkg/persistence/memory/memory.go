// Package memory provides the in-memory persistence used for single-process
// deployments and tests.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/sentiolabs/sentio/pkg/models"
	"github.com/sentiolabs/sentio/pkg/persistence"
)

type Persistence struct {
	mu sync.RWMutex

	histories  map[string][]models.Event
	sequences  map[string]map[int64]struct{}
	instances  map[string]models.WorkflowInstance
	products   map[string]string
	scores     map[string]string
	heartbeats map[string]persistence.Heartbeat
}

func NewPersistence() *Persistence {
	return &Persistence{
		histories:  make(map[string][]models.Event),
		sequences:  make(map[string]map[int64]struct{}),
		instances:  make(map[string]models.WorkflowInstance),
		products:   make(map[string]string),
		scores:     make(map[string]string),
		heartbeats: make(map[string]persistence.Heartbeat),
	}
}

func (p *Persistence) AppendEvents(ctx context.Context, instanceID string, events []models.Event) error {
	if len(events) == 0 {
		return nil
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	used, ok := p.sequences[instanceID]
	if !ok {
		used = make(map[int64]struct{})
		p.sequences[instanceID] = used
	}

	for _, event := range events {
		if _, taken := used[event.SequenceNumber]; taken {
			return persistence.NewStoreError("AppendEvents", instanceID, persistence.ErrSequenceConflict)
		}
	}

	for _, event := range events {
		used[event.SequenceNumber] = struct{}{}
		p.histories[instanceID] = append(p.histories[instanceID], event)
	}

	sort.Slice(p.histories[instanceID], func(i, j int) bool {
		return p.histories[instanceID][i].SequenceNumber < p.histories[instanceID][j].SequenceNumber
	})

	return nil
}

func (p *Persistence) ListEvents(ctx context.Context, instanceID string) ([]models.Event, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	history := p.histories[instanceID]
	events := make([]models.Event, len(history))
	copy(events, history)

	return events, nil
}

func (p *Persistence) SaveInstance(ctx context.Context, instance *models.WorkflowInstance) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.instances[instance.ID] = *instance

	return nil
}

func (p *Persistence) InstanceByID(ctx context.Context, id string) (*models.WorkflowInstance, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	instance, ok := p.instances[id]
	if !ok {
		return nil, persistence.NewStoreError("InstanceByID", id, persistence.ErrInstanceNotFound)
	}

	return &instance, nil
}

func (p *Persistence) Instances(ctx context.Context) ([]*models.WorkflowInstance, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	instances := make([]*models.WorkflowInstance, 0, len(p.instances))
	for id := range p.instances {
		instance := p.instances[id]
		instances = append(instances, &instance)
	}

	sort.Slice(instances, func(i, j int) bool {
		return instances[i].CreatedAt.Before(instances[j].CreatedAt)
	})

	return instances, nil
}

func (p *Persistence) SaveProduct(ctx context.Context, productUUID, name string) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.products[productUUID] = name

	return nil
}

func (p *Persistence) ProductName(ctx context.Context, productUUID string) (string, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	name, ok := p.products[productUUID]
	if !ok {
		return "", persistence.NewStoreError("ProductName", productUUID, persistence.ErrProductNotFound)
	}

	return name, nil
}

func (p *Persistence) SaveScore(ctx context.Context, productUUID, score string) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.scores[productUUID] = score

	return nil
}

func (p *Persistence) Score(ctx context.Context, productUUID string) (string, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	score, ok := p.scores[productUUID]
	if !ok {
		return "", persistence.NewStoreError("Score", productUUID, persistence.ErrScoreNotFound)
	}

	return score, nil
}

func heartbeatKey(instanceID, scheduleID string, attempt int32) string {
	return fmt.Sprintf("%s|%s|%d", instanceID, scheduleID, attempt)
}

func (p *Persistence) RecordHeartbeat(ctx context.Context, beat persistence.Heartbeat) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.heartbeats[heartbeatKey(beat.InstanceID, beat.ScheduleID, beat.Attempt)] = beat

	return nil
}

func (p *Persistence) ClearHeartbeat(ctx context.Context, instanceID, scheduleID string, attempt int32) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	delete(p.heartbeats, heartbeatKey(instanceID, scheduleID, attempt))

	return nil
}

func (p *Persistence) ExpiredHeartbeats(ctx context.Context, cutoff time.Time) ([]persistence.Heartbeat, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	var expired []persistence.Heartbeat

	for _, beat := range p.heartbeats {
		if !beat.Deadline.After(cutoff) {
			expired = append(expired, beat)
		}
	}

	sort.Slice(expired, func(i, j int) bool {
		return expired[i].Deadline.Before(expired[j].Deadline)
	})

	return expired, nil
}

func (p *Persistence) HealthCheck(ctx context.Context) error {
	return nil
}

func (p *Persistence) Close(ctx context.Context) error {
	return nil
}
