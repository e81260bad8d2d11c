// Package redis provides persistence backed by Redis.
//
// Key layout:
//
//	sentio:history:<instance_id>   HASH  sequence number -> event JSON
//	sentio:instance:<instance_id>  STRING instance JSON
//	sentio:instances               SET   all instance IDs
//	sentio:heartbeats              ZSET  deadline (unix ms) -> heartbeat member
//	sentio:heartbeat-data          HASH  heartbeat member -> heartbeat JSON
//	<product_uuid>                 STRING product name
//	score:<product_uuid>           STRING persisted score
//
// Product names and scores deliberately live at the bare keys so readers
// outside this package can look them up by product UUID alone.
package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strconv"
	"time"

	redis "github.com/redis/go-redis/v9"

	"github.com/sentiolabs/sentio/pkg/models"
	"github.com/sentiolabs/sentio/pkg/persistence"
)

const (
	instancesIndexKey = "sentio:instances"
	heartbeatsKey     = "sentio:heartbeats"
	heartbeatDataKey  = "sentio:heartbeat-data"
)

// appendEventsLua appends a batch of history events. Every sequence number is
// checked before anything is written, so a batch either lands whole or not at
// all. Returns 1 on success and 0 when any sequence number already exists.
const appendEventsLua = `
local key = KEYS[1]

for i = 1, #ARGV, 2 do
	if redis.call('HEXISTS', key, ARGV[i]) == 1 then
		return 0
	end
end

for i = 1, #ARGV, 2 do
	redis.call('HSET', key, ARGV[i], ARGV[i + 1])
end

return 1
`

// Persistence implements the persistence layer for Redis.
type Persistence struct {
	client *redis.Client
	logger *slog.Logger
}

// NewPersistence connects to the Redis instance described by the URL
// (redis://[user:password@]host:port[/db]) and returns the persistence layer.
func NewPersistence(ctx context.Context, logger *slog.Logger, databaseURL string) (*Persistence, error) {
	options, err := redis.ParseURL(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse Redis URL: %w", err)
	}

	client := redis.NewClient(options)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	err = client.Ping(pingCtx).Err()
	if err != nil {
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	logger.InfoContext(ctx, "Connected to Redis", "addr", options.Addr, "db", options.DB)

	return &Persistence{
		client: client,
		logger: logger.With("component", "redis_persistence"),
	}, nil
}

func historyKey(instanceID string) string {
	return "sentio:history:" + instanceID
}

func instanceKey(id string) string {
	return "sentio:instance:" + id
}

func scoreKey(productUUID string) string {
	return "score:" + productUUID
}

func heartbeatMember(instanceID, scheduleID string, attempt int32) string {
	return fmt.Sprintf("%s|%s|%d", instanceID, scheduleID, attempt)
}

func (p *Persistence) AppendEvents(ctx context.Context, instanceID string, events []models.Event) error {
	if len(events) == 0 {
		return nil
	}

	args := make([]any, 0, len(events)*2)

	for _, event := range events {
		payload, err := json.Marshal(event)
		if err != nil {
			return persistence.NewStoreError("AppendEvents", instanceID, err)
		}

		args = append(args, strconv.FormatInt(event.SequenceNumber, 10), string(payload))
	}

	result, err := p.client.Eval(ctx, appendEventsLua, []string{historyKey(instanceID)}, args...).Result()
	if err != nil {
		return persistence.NewStoreError("AppendEvents", instanceID, err)
	}

	if applied, ok := result.(int64); !ok || applied != 1 {
		return persistence.NewStoreError("AppendEvents", instanceID, persistence.ErrSequenceConflict)
	}

	return nil
}

func (p *Persistence) ListEvents(ctx context.Context, instanceID string) ([]models.Event, error) {
	fields, err := p.client.HGetAll(ctx, historyKey(instanceID)).Result()
	if err != nil {
		return nil, persistence.NewStoreError("ListEvents", instanceID, err)
	}

	events := make([]models.Event, 0, len(fields))

	for _, payload := range fields {
		var event models.Event

		err = json.Unmarshal([]byte(payload), &event)
		if err != nil {
			return nil, persistence.NewStoreError("ListEvents", instanceID, err)
		}

		events = append(events, event)
	}

	sort.Slice(events, func(i, j int) bool {
		return events[i].SequenceNumber < events[j].SequenceNumber
	})

	return events, nil
}

func (p *Persistence) SaveInstance(ctx context.Context, instance *models.WorkflowInstance) error {
	payload, err := json.Marshal(instance)
	if err != nil {
		return persistence.NewStoreError("SaveInstance", instance.ID, err)
	}

	pipe := p.client.TxPipeline()
	pipe.Set(ctx, instanceKey(instance.ID), payload, 0)
	pipe.SAdd(ctx, instancesIndexKey, instance.ID)

	_, err = pipe.Exec(ctx)
	if err != nil {
		return persistence.NewStoreError("SaveInstance", instance.ID, err)
	}

	return nil
}

func (p *Persistence) InstanceByID(ctx context.Context, id string) (*models.WorkflowInstance, error) {
	payload, err := p.client.Get(ctx, instanceKey(id)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, persistence.NewStoreError("InstanceByID", id, persistence.ErrInstanceNotFound)
		}

		return nil, persistence.NewStoreError("InstanceByID", id, err)
	}

	var instance models.WorkflowInstance

	err = json.Unmarshal(payload, &instance)
	if err != nil {
		return nil, persistence.NewStoreError("InstanceByID", id, err)
	}

	return &instance, nil
}

func (p *Persistence) Instances(ctx context.Context) ([]*models.WorkflowInstance, error) {
	ids, err := p.client.SMembers(ctx, instancesIndexKey).Result()
	if err != nil {
		return nil, persistence.NewStoreError("Instances", "", err)
	}

	if len(ids) == 0 {
		return []*models.WorkflowInstance{}, nil
	}

	pipe := p.client.Pipeline()

	commands := make([]*redis.StringCmd, len(ids))
	for i, id := range ids {
		commands[i] = pipe.Get(ctx, instanceKey(id))
	}

	_, err = pipe.Exec(ctx)
	if err != nil && !errors.Is(err, redis.Nil) {
		return nil, persistence.NewStoreError("Instances", "", err)
	}

	instances := make([]*models.WorkflowInstance, 0, len(ids))

	for _, command := range commands {
		payload, err := command.Bytes()
		if err != nil {
			// Index entries may outlive their instance key; skip them.
			if errors.Is(err, redis.Nil) {
				continue
			}

			return nil, persistence.NewStoreError("Instances", "", err)
		}

		var instance models.WorkflowInstance

		err = json.Unmarshal(payload, &instance)
		if err != nil {
			return nil, persistence.NewStoreError("Instances", "", err)
		}

		instances = append(instances, &instance)
	}

	sort.Slice(instances, func(i, j int) bool {
		if instances[i].CreatedAt.Equal(instances[j].CreatedAt) {
			return instances[i].ID < instances[j].ID
		}

		return instances[i].CreatedAt.Before(instances[j].CreatedAt)
	})

	return instances, nil
}

func (p *Persistence) SaveProduct(ctx context.Context, productUUID, name string) error {
	err := p.client.Set(ctx, productUUID, name, 0).Err()
	if err != nil {
		return persistence.NewStoreError("SaveProduct", productUUID, err)
	}

	return nil
}

func (p *Persistence) ProductName(ctx context.Context, productUUID string) (string, error) {
	name, err := p.client.Get(ctx, productUUID).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return "", persistence.NewStoreError("ProductName", productUUID, persistence.ErrProductNotFound)
		}

		return "", persistence.NewStoreError("ProductName", productUUID, err)
	}

	return name, nil
}

func (p *Persistence) SaveScore(ctx context.Context, productUUID, score string) error {
	err := p.client.Set(ctx, scoreKey(productUUID), score, 0).Err()
	if err != nil {
		return persistence.NewStoreError("SaveScore", productUUID, err)
	}

	return nil
}

func (p *Persistence) Score(ctx context.Context, productUUID string) (string, error) {
	score, err := p.client.Get(ctx, scoreKey(productUUID)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return "", persistence.NewStoreError("Score", productUUID, persistence.ErrScoreNotFound)
		}

		return "", persistence.NewStoreError("Score", productUUID, err)
	}

	return score, nil
}

func (p *Persistence) RecordHeartbeat(ctx context.Context, beat persistence.Heartbeat) error {
	payload, err := json.Marshal(beat)
	if err != nil {
		return persistence.NewStoreError("RecordHeartbeat", beat.InstanceID, err)
	}

	member := heartbeatMember(beat.InstanceID, beat.ScheduleID, beat.Attempt)

	pipe := p.client.TxPipeline()
	pipe.ZAdd(ctx, heartbeatsKey, redis.Z{Score: float64(beat.Deadline.UnixMilli()), Member: member})
	pipe.HSet(ctx, heartbeatDataKey, member, payload)

	_, err = pipe.Exec(ctx)
	if err != nil {
		return persistence.NewStoreError("RecordHeartbeat", beat.InstanceID, err)
	}

	return nil
}

func (p *Persistence) ClearHeartbeat(ctx context.Context, instanceID, scheduleID string, attempt int32) error {
	member := heartbeatMember(instanceID, scheduleID, attempt)

	pipe := p.client.TxPipeline()
	pipe.ZRem(ctx, heartbeatsKey, member)
	pipe.HDel(ctx, heartbeatDataKey, member)

	_, err := pipe.Exec(ctx)
	if err != nil {
		return persistence.NewStoreError("ClearHeartbeat", instanceID, err)
	}

	return nil
}

func (p *Persistence) ExpiredHeartbeats(ctx context.Context, cutoff time.Time) ([]persistence.Heartbeat, error) {
	members, err := p.client.ZRangeByScore(ctx, heartbeatsKey, &redis.ZRangeBy{
		Min: "-inf",
		Max: strconv.FormatInt(cutoff.UnixMilli(), 10),
	}).Result()
	if err != nil {
		return nil, persistence.NewStoreError("ExpiredHeartbeats", "", err)
	}

	if len(members) == 0 {
		return []persistence.Heartbeat{}, nil
	}

	payloads, err := p.client.HMGet(ctx, heartbeatDataKey, members...).Result()
	if err != nil {
		return nil, persistence.NewStoreError("ExpiredHeartbeats", "", err)
	}

	beats := make([]persistence.Heartbeat, 0, len(payloads))

	for _, payload := range payloads {
		value, ok := payload.(string)
		if !ok {
			continue
		}

		var beat persistence.Heartbeat

		err = json.Unmarshal([]byte(value), &beat)
		if err != nil {
			return nil, persistence.NewStoreError("ExpiredHeartbeats", "", err)
		}

		beats = append(beats, beat)
	}

	return beats, nil
}

// HealthCheck verifies Redis connectivity.
func (p *Persistence) HealthCheck(ctx context.Context) error {
	err := p.client.Ping(ctx).Err()
	if err != nil {
		return fmt.Errorf("redis health check failed: %w", err)
	}

	return nil
}

// Close closes the Redis client.
func (p *Persistence) Close(_ context.Context) error {
	if p.client != nil {
		err := p.client.Close()
		if err != nil {
			return fmt.Errorf("failed to close Redis client: %w", err)
		}
	}

	return nil
}
