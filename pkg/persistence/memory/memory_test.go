package memory_test

import (
	"context"
	"testing"
	"time"

	"github.com/sentiolabs/sentio/pkg/models"
	"github.com/sentiolabs/sentio/pkg/persistence"
	"github.com/sentiolabs/sentio/pkg/persistence/memory"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func mustEvent(t *testing.T, seq int64, kind models.EventKind, scheduleID string, attrs any) models.Event {
	t.Helper()

	event, err := models.NewEvent(seq, kind, scheduleID, attrs)
	require.NoError(t, err)

	return event
}

func TestAppendEventsRejectsUsedSequenceNumbers(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := memory.NewPersistence()

	first := mustEvent(t, 1, models.EventWorkflowStarted, "", models.WorkflowStartedAttributes{DefinitionID: "sentiment-analysis"})
	require.NoError(t, store.AppendEvents(ctx, "wf-1", []models.Event{first}))

	duplicate := mustEvent(t, 1, models.EventWorkflowFailed, "", models.WorkflowFailedAttributes{})
	err := store.AppendEvents(ctx, "wf-1", []models.Event{duplicate})

	require.Error(t, err)
	assert.True(t, persistence.IsSequenceConflict(err))

	// The original event must be untouched.
	events, err := store.ListEvents(ctx, "wf-1")
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, models.EventWorkflowStarted, events[0].Kind)
}

func TestAppendEventsRejectsConflictingBatchAtomically(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := memory.NewPersistence()

	require.NoError(t, store.AppendEvents(ctx, "wf-1", []models.Event{
		mustEvent(t, 1, models.EventWorkflowStarted, "", models.WorkflowStartedAttributes{DefinitionID: "sentiment-analysis"}),
	}))

	batch := []models.Event{
		mustEvent(t, 2, models.EventActivityScheduled, "register-product-1", models.ActivityScheduledAttributes{ActivityType: "register-product"}),
		mustEvent(t, 1, models.EventWorkflowFailed, "", models.WorkflowFailedAttributes{}),
	}

	err := store.AppendEvents(ctx, "wf-1", batch)
	require.Error(t, err)

	events, err := store.ListEvents(ctx, "wf-1")
	require.NoError(t, err)
	assert.Len(t, events, 1, "conflicting batch must not be partially applied")
}

func TestListEventsReturnsAscendingSequence(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := memory.NewPersistence()

	require.NoError(t, store.AppendEvents(ctx, "wf-1", []models.Event{
		mustEvent(t, 1, models.EventWorkflowStarted, "", models.WorkflowStartedAttributes{DefinitionID: "sentiment-analysis"}),
		mustEvent(t, 2, models.EventActivityScheduled, "register-product-1", models.ActivityScheduledAttributes{ActivityType: "register-product"}),
		mustEvent(t, 3, models.EventActivityCompleted, "register-product-1", models.ActivityCompletedAttributes{Attempt: 1}),
	}))

	events, err := store.ListEvents(ctx, "wf-1")
	require.NoError(t, err)
	require.Len(t, events, 3)

	for i, event := range events {
		assert.Equal(t, int64(i+1), event.SequenceNumber)
	}

	// Unknown instances have empty histories, not errors.
	events, err = store.ListEvents(ctx, "wf-unknown")
	require.NoError(t, err)
	assert.Empty(t, events)
}

func TestInstanceRoundTrip(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := memory.NewPersistence()

	_, err := store.InstanceByID(ctx, "missing")
	assert.True(t, persistence.IsInstanceNotFound(err))

	instance := &models.WorkflowInstance{
		ID:           "sentiment-analysis-iPhone 15-1718000000000",
		DefinitionID: "sentiment-analysis",
		Status:       models.InstanceStatusRunning,
		CreatedAt:    time.Now().UTC(),
		UpdatedAt:    time.Now().UTC(),
	}
	require.NoError(t, store.SaveInstance(ctx, instance))

	loaded, err := store.InstanceByID(ctx, instance.ID)
	require.NoError(t, err)
	assert.Equal(t, models.InstanceStatusRunning, loaded.Status)

	// Mutating the loaded copy must not affect the stored record.
	loaded.Status = models.InstanceStatusFailed

	again, err := store.InstanceByID(ctx, instance.ID)
	require.NoError(t, err)
	assert.Equal(t, models.InstanceStatusRunning, again.Status)

	all, err := store.Instances(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 1)
}

func TestProductAndScoreStores(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := memory.NewPersistence()

	const productUUID = "0b7055cc-48f4-4bbe-8a45-01f8e3f0f0aa"

	_, err := store.ProductName(ctx, productUUID)
	assert.True(t, persistence.IsProductNotFound(err))

	require.NoError(t, store.SaveProduct(ctx, productUUID, "iPhone 15"))

	name, err := store.ProductName(ctx, productUUID)
	require.NoError(t, err)
	assert.Equal(t, "iPhone 15", name)

	// The score is written independently and later.
	_, err = store.Score(ctx, productUUID)
	assert.True(t, persistence.IsScoreNotFound(err))

	require.NoError(t, store.SaveScore(ctx, productUUID, "5"))

	score, err := store.Score(ctx, productUUID)
	require.NoError(t, err)
	assert.Equal(t, "5", score)
}

func TestHeartbeatExpiry(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := memory.NewPersistence()
	now := time.Now().UTC()

	stale := persistence.Heartbeat{
		InstanceID:   "wf-1",
		ScheduleID:   "score-sentiment-1",
		ActivityType: "score-sentiment",
		Attempt:      1,
		Deadline:     now.Add(-time.Second),
	}
	fresh := persistence.Heartbeat{
		InstanceID:   "wf-1",
		ScheduleID:   "score-sentiment-2",
		ActivityType: "score-sentiment",
		Attempt:      1,
		Deadline:     now.Add(time.Minute),
	}

	require.NoError(t, store.RecordHeartbeat(ctx, stale))
	require.NoError(t, store.RecordHeartbeat(ctx, fresh))

	expired, err := store.ExpiredHeartbeats(ctx, now)
	require.NoError(t, err)
	require.Len(t, expired, 1)
	assert.Equal(t, "score-sentiment-1", expired[0].ScheduleID)

	// A newer beat for the same attempt replaces the stale one.
	stale.Deadline = now.Add(time.Minute)
	require.NoError(t, store.RecordHeartbeat(ctx, stale))

	expired, err = store.ExpiredHeartbeats(ctx, now)
	require.NoError(t, err)
	assert.Empty(t, expired)

	require.NoError(t, store.ClearHeartbeat(ctx, "wf-1", "score-sentiment-2", 1))

	expired, err = store.ExpiredHeartbeats(ctx, now.Add(2*time.Minute))
	require.NoError(t, err)
	require.Len(t, expired, 1)
	assert.Equal(t, "score-sentiment-1", expired[0].ScheduleID)
}
