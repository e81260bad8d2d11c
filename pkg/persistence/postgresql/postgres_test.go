//go:build integration
// +build integration

package postgresql_test

import (
	"context"
	"database/sql"
	"encoding/json"
	"log/slog"
	"os"
	"testing"
	"time"

	_ "github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go/modules/postgres"

	"github.com/sentiolabs/sentio/pkg/models"
	"github.com/sentiolabs/sentio/pkg/persistence"
	"github.com/sentiolabs/sentio/pkg/persistence/postgresql"
)

var postgresContainer *postgres.PostgresContainer

func TestMain(m *testing.M) {
	code := m.Run()

	if postgresContainer != nil {
		_ = postgresContainer.Terminate(context.Background())
	}

	os.Exit(code)
}

func dropDB(ctx context.Context, t *testing.T, databaseURL string) {
	t.Helper()

	db, err := sql.Open("postgres", databaseURL)
	require.NoError(t, err)

	for _, table := range []string{"activity_heartbeats", "product_scores", "products", "workflow_instances", "workflow_events", "schema_migrations"} {
		_, err = db.ExecContext(ctx, "DROP TABLE IF EXISTS "+table+" CASCADE")
		require.NoError(t, err)
	}

	err = db.Close()
	require.NoError(t, err)
}

func setupTestDB(t *testing.T) (*postgresql.Persistence, context.Context) {
	t.Helper()

	ctx, cancel := context.WithTimeout(context.Background(), 120*time.Second)

	if postgresContainer == nil || !postgresContainer.IsRunning() {
		var err error

		postgresContainer, err = postgres.Run(ctx,
			"postgres:16-alpine",
			postgres.WithDatabase("sentio_test"),
			postgres.WithUsername("sentio"),
			postgres.WithPassword("sentio"),
			postgres.BasicWaitStrategies(),
		)
		require.NoError(t, err)
	}

	databaseURL, err := postgresContainer.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	dropDB(ctx, t, databaseURL)

	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))

	p, err := postgresql.NewPersistence(ctx, logger, databaseURL)
	require.NoError(t, err)

	t.Cleanup(func() {
		err = p.Close(ctx)
		require.NoError(t, err)

		cancel()
	})

	return p, ctx
}

func mustEvent(t *testing.T, seq int64, kind models.EventKind, scheduleID string, attrs any) models.Event {
	t.Helper()

	event, err := models.NewEvent(seq, kind, scheduleID, attrs)
	require.NoError(t, err)

	return event
}

func TestNewPersistence_HealthCheck(t *testing.T) {
	p, ctx := setupTestDB(t)

	err := p.HealthCheck(ctx)
	assert.NoError(t, err)
}

func TestPersistence_AppendAndListEvents(t *testing.T) {
	p, ctx := setupTestDB(t)

	err := p.AppendEvents(ctx, "instance-1", []models.Event{
		mustEvent(t, 1, models.EventWorkflowStarted, "", models.WorkflowStartedAttributes{DefinitionID: "sentiment-analysis"}),
		mustEvent(t, 2, models.EventActivityScheduled, "register-product-1", nil),
	})
	require.NoError(t, err)

	err = p.AppendEvents(ctx, "instance-1", []models.Event{
		mustEvent(t, 3, models.EventActivityCompleted, "register-product-1", nil),
	})
	require.NoError(t, err)

	events, err := p.ListEvents(ctx, "instance-1")
	require.NoError(t, err)
	require.Len(t, events, 3)

	for i, event := range events {
		assert.Equal(t, int64(i+1), event.SequenceNumber)
	}

	assert.Equal(t, models.EventWorkflowStarted, events[0].Kind)
	assert.Equal(t, "register-product-1", events[1].ScheduleID)
}

func TestPersistence_AppendEventsConflict(t *testing.T) {
	p, ctx := setupTestDB(t)

	err := p.AppendEvents(ctx, "instance-1", []models.Event{
		mustEvent(t, 1, models.EventWorkflowStarted, "", nil),
	})
	require.NoError(t, err)

	// The batch overlaps an existing sequence number, so nothing may land.
	err = p.AppendEvents(ctx, "instance-1", []models.Event{
		mustEvent(t, 1, models.EventActivityScheduled, "register-product-1", nil),
		mustEvent(t, 2, models.EventActivityCompleted, "register-product-1", nil),
	})
	require.Error(t, err)
	assert.True(t, persistence.IsSequenceConflict(err))

	events, err := p.ListEvents(ctx, "instance-1")
	require.NoError(t, err)
	assert.Len(t, events, 1)
}

func TestPersistence_SaveAndRetrieveInstance(t *testing.T) {
	p, ctx := setupTestDB(t)

	now := time.Now().UTC().Truncate(time.Millisecond)

	instance := &models.WorkflowInstance{
		ID:           "sentiment-analysis-laptop-1700000000000",
		DefinitionID: "sentiment-analysis",
		Status:       models.InstanceStatusRunning,
		Input:        json.RawMessage(`{"productName":"laptop"}`),
		CreatedAt:    now,
		UpdatedAt:    now,
	}

	require.NoError(t, p.SaveInstance(ctx, instance))

	found, err := p.InstanceByID(ctx, instance.ID)
	require.NoError(t, err)
	assert.Equal(t, instance.ID, found.ID)
	assert.Equal(t, models.InstanceStatusRunning, found.Status)
	assert.JSONEq(t, `{"productName":"laptop"}`, string(found.Input))

	instance.Status = models.InstanceStatusFailed
	instance.Failure = &models.FailureInfo{Kind: models.FailureKindApplication, Message: "reviews unavailable"}
	instance.UpdatedAt = now.Add(time.Second)
	require.NoError(t, p.SaveInstance(ctx, instance))

	found, err = p.InstanceByID(ctx, instance.ID)
	require.NoError(t, err)
	assert.Equal(t, models.InstanceStatusFailed, found.Status)
	require.NotNil(t, found.Failure)
	assert.Equal(t, "reviews unavailable", found.Failure.Message)

	_, err = p.InstanceByID(ctx, "missing")
	require.Error(t, err)
	assert.True(t, persistence.IsInstanceNotFound(err))
}

func TestPersistence_Products(t *testing.T) {
	p, ctx := setupTestDB(t)

	const productUUID = "a2f1c644-8f6f-4f5c-9a3e-0d9f3a1b2c4d"

	require.NoError(t, p.SaveProduct(ctx, productUUID, "laptop"))
	require.NoError(t, p.SaveScore(ctx, productUUID, "7.25"))

	name, err := p.ProductName(ctx, productUUID)
	require.NoError(t, err)
	assert.Equal(t, "laptop", name)

	score, err := p.Score(ctx, productUUID)
	require.NoError(t, err)
	assert.Equal(t, "7.25", score)

	// Re-running the pipeline overwrites both entries.
	require.NoError(t, p.SaveProduct(ctx, productUUID, "laptop pro"))
	require.NoError(t, p.SaveScore(ctx, productUUID, "8"))

	score, err = p.Score(ctx, productUUID)
	require.NoError(t, err)
	assert.Equal(t, "8", score)

	_, err = p.ProductName(ctx, "missing")
	require.Error(t, err)
	assert.True(t, persistence.IsProductNotFound(err))

	_, err = p.Score(ctx, "missing")
	require.Error(t, err)
	assert.True(t, persistence.IsScoreNotFound(err))
}

func TestPersistence_Heartbeats(t *testing.T) {
	p, ctx := setupTestDB(t)

	now := time.Now().UTC().Truncate(time.Millisecond)

	expired := persistence.Heartbeat{
		InstanceID:   "instance-1",
		ScheduleID:   "score-sentiment-1",
		ActivityType: "score-sentiment",
		Attempt:      1,
		Deadline:     now.Add(-time.Second),
	}
	live := persistence.Heartbeat{
		InstanceID:   "instance-1",
		ScheduleID:   "score-sentiment-2",
		ActivityType: "score-sentiment",
		Attempt:      1,
		Deadline:     now.Add(time.Minute),
	}

	require.NoError(t, p.RecordHeartbeat(ctx, expired))
	require.NoError(t, p.RecordHeartbeat(ctx, live))

	beats, err := p.ExpiredHeartbeats(ctx, now)
	require.NoError(t, err)
	require.Len(t, beats, 1)
	assert.Equal(t, "score-sentiment-1", beats[0].ScheduleID)

	expired.Deadline = now.Add(time.Minute)
	require.NoError(t, p.RecordHeartbeat(ctx, expired))

	beats, err = p.ExpiredHeartbeats(ctx, now)
	require.NoError(t, err)
	assert.Empty(t, beats)

	require.NoError(t, p.ClearHeartbeat(ctx, "instance-1", "score-sentiment-1", 1))
	require.NoError(t, p.ClearHeartbeat(ctx, "instance-1", "score-sentiment-2", 1))

	beats, err = p.ExpiredHeartbeats(ctx, now.Add(2*time.Minute))
	require.NoError(t, err)
	assert.Empty(t, beats)
}
