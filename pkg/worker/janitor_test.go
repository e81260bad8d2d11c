package worker

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sentiolabs/sentio/pkg/models"
	"github.com/sentiolabs/sentio/pkg/persistence"
	"github.com/sentiolabs/sentio/pkg/persistence/memory"
	"github.com/sentiolabs/sentio/pkg/tasks"
	"github.com/sentiolabs/sentio/pkg/workflow"
)

func TestJanitor_ReapsExpiredHeartbeats(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := memory.NewPersistence()
	bus := &busStub{}
	cache := workflow.NewProjectionCache(time.Minute)
	janitor := NewJanitor(testLogger(), store, bus, cache, "worker-test")

	now := time.Now().UTC()
	expired := []persistence.Heartbeat{
		{InstanceID: "instance-1", ScheduleID: "score-sentiment-1", ActivityType: "scoreSentiment", Attempt: 1, Deadline: now.Add(-time.Minute)},
		{InstanceID: "instance-2", ScheduleID: "fetch-reviews-1", ActivityType: "fetchReviews", Attempt: 2, Deadline: now.Add(-time.Second)},
	}
	live := persistence.Heartbeat{
		InstanceID: "instance-3", ScheduleID: "register-product-1", ActivityType: "registerProduct", Attempt: 1,
		Deadline: now.Add(time.Hour),
	}

	for _, beat := range expired {
		require.NoError(t, store.RecordHeartbeat(ctx, beat))
	}

	require.NoError(t, store.RecordHeartbeat(ctx, live))

	janitor.reapHeartbeats(ctx)

	records := bus.records()
	require.Len(t, records, 2, "one synthetic result per expired heartbeat")

	byInstance := map[string]tasks.WorkflowTaskActivityResult{}

	for _, record := range records {
		assert.Equal(t, tasks.WorkflowTaskTopic, record.topic)

		result, ok := record.task.(tasks.WorkflowTaskActivityResult)
		require.True(t, ok, "expected tasks.WorkflowTaskActivityResult, got %T", record.task)
		assert.Equal(t, record.key, result.InstanceID, "results are keyed by instance")

		byInstance[result.InstanceID] = result
	}

	first := byInstance["instance-1"]
	require.NotNil(t, first.Result.Failure)
	assert.Equal(t, models.FailureKindHeartbeat, first.Result.Failure.Kind)
	assert.False(t, first.Result.Failure.NonRetryable, "a lost worker is a transient condition")
	assert.Equal(t, "score-sentiment-1", first.Result.ScheduleID)
	assert.Equal(t, int32(1), first.Result.Attempt)

	second := byInstance["instance-2"]
	require.NotNil(t, second.Result.Failure)
	assert.Equal(t, int32(2), second.Result.Attempt)

	remaining, err := store.ExpiredHeartbeats(ctx, now.Add(24*time.Hour))
	require.NoError(t, err)
	require.Len(t, remaining, 1, "reaped heartbeats are cleared, live ones stay")
	assert.Equal(t, "instance-3", remaining[0].InstanceID)
}

func TestJanitor_ReapIsIdempotent(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := memory.NewPersistence()
	bus := &busStub{}
	janitor := NewJanitor(testLogger(), store, bus, workflow.NewProjectionCache(time.Minute), "worker-test")

	beat := persistence.Heartbeat{
		InstanceID: "instance-1", ScheduleID: "step-1", ActivityType: "test-activity", Attempt: 1,
		Deadline: time.Now().UTC().Add(-time.Second),
	}
	require.NoError(t, store.RecordHeartbeat(ctx, beat))

	janitor.reapHeartbeats(ctx)
	janitor.reapHeartbeats(ctx)

	assert.Len(t, bus.records(), 1, "a cleared heartbeat must not be reaped again")
}

func TestJanitor_SweepEvictsStaleProjections(t *testing.T) {
	t.Parallel()

	cache := workflow.NewProjectionCache(time.Millisecond)
	cache.Put("instance-1", &workflow.Projection{InstanceID: "instance-1", Status: models.InstanceStatusRunning})
	cache.Put("instance-2", &workflow.Projection{InstanceID: "instance-2", Status: models.InstanceStatusRunning})
	require.Equal(t, 2, cache.Len())

	janitor := NewJanitor(testLogger(), memory.NewPersistence(), &busStub{}, cache, "worker-test")

	time.Sleep(5 * time.Millisecond)
	janitor.sweep()

	assert.Equal(t, 0, cache.Len())
}

func TestJanitor_StartStop(t *testing.T) {
	t.Parallel()

	janitor := NewJanitor(testLogger(), memory.NewPersistence(), &busStub{}, workflow.NewProjectionCache(time.Minute), "worker-test")

	require.NoError(t, janitor.Start())
	janitor.Stop()
}
