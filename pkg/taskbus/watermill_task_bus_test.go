package taskbus_test

import (
	"context"
	"testing"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/sentiolabs/sentio/pkg/models"
	"github.com/sentiolabs/sentio/pkg/taskbus"
	"github.com/sentiolabs/sentio/pkg/taskbus/gochannel"
	"github.com/sentiolabs/sentio/pkg/tasks"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestBus(t *testing.T) taskbus.TaskBus {
	t.Helper()

	pub, sub, err := gochannel.CreateTestChannel(watermill.NopLogger{})
	require.NoError(t, err)

	bus := taskbus.NewWatermillTaskBus(pub, sub)
	t.Cleanup(func() {
		_ = bus.Close()
	})

	return bus
}

func TestWatermillTaskBusWorkflowTaskRoundTrip(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	bus := newTestBus(t)

	received := make(chan any, 1)

	require.NoError(t, bus.Handle(tasks.WorkflowTaskTopic, tasks.WorkflowTaskStartType, func(_ context.Context, task any) error {
		received <- task

		return nil
	}))
	require.NoError(t, bus.Subscribe(ctx, tasks.WorkflowTaskTopic))

	task := tasks.NewWorkflowTaskStart("sentiment-analysis-iPhone 15-1718000000000")
	require.NoError(t, bus.Publish(ctx, tasks.WorkflowTaskTopic, task.InstanceID, task))

	select {
	case got := <-received:
		start, ok := got.(*tasks.WorkflowTaskStart)
		require.True(t, ok, "expected *tasks.WorkflowTaskStart, got %T", got)
		assert.Equal(t, "sentiment-analysis-iPhone 15-1718000000000", start.InstanceID)
		assert.Equal(t, tasks.WorkflowTaskStartType, start.GetType())
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for workflow task")
	}
}

func TestWatermillTaskBusActivityTaskCarriesInvocation(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	bus := newTestBus(t)

	received := make(chan *tasks.ActivityTaskExecute, 1)

	require.NoError(t, bus.Handle(tasks.ActivityTaskTopic, tasks.ActivityTaskExecuteType, func(_ context.Context, task any) error {
		execute, ok := task.(*tasks.ActivityTaskExecute)
		require.True(t, ok, "expected *tasks.ActivityTaskExecute, got %T", task)
		received <- execute

		return nil
	}))
	require.NoError(t, bus.Subscribe(ctx, tasks.ActivityTaskTopic))

	notBefore := time.Now().Add(4 * time.Second).UTC().Truncate(time.Millisecond)
	invocation := models.ActivityInvocation{
		InstanceID:   "sentiment-analysis-Pixel 9-1718000000001",
		ScheduleID:   "score-sentiment-2",
		ActivityType: "score-sentiment",
		Attempt:      3,
		Input:        []byte(`{"review_text":"love it"}`),
		RequestID:    "4b6f8f2e-1111-2222-3333-444455556666",
		ScheduledAt:  time.Now().UTC().Truncate(time.Millisecond),
		Options:      models.ActivityOptions{}.WithDefaults(),
	}

	task := tasks.NewActivityTaskExecute(invocation, notBefore)
	require.NoError(t, bus.Publish(ctx, tasks.ActivityTaskTopic, invocation.InstanceID, task))

	select {
	case got := <-received:
		assert.Equal(t, invocation.ScheduleID, got.Invocation.ScheduleID)
		assert.Equal(t, int32(3), got.Invocation.Attempt)
		assert.True(t, got.NotBefore.Equal(notBefore))
		assert.Equal(t, invocation.Options.RetryPolicy, got.Invocation.Options.RetryPolicy)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for activity task")
	}
}

func TestWatermillTaskBusIgnoresUnhandledTypes(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	bus := newTestBus(t)

	received := make(chan any, 1)

	require.NoError(t, bus.Handle(tasks.WorkflowTaskTopic, tasks.WorkflowTaskCancelType, func(_ context.Context, task any) error {
		received <- task

		return nil
	}))
	require.NoError(t, bus.Subscribe(ctx, tasks.WorkflowTaskTopic))

	start := tasks.NewWorkflowTaskStart("sentiment-analysis-Q-1")
	require.NoError(t, bus.Publish(ctx, tasks.WorkflowTaskTopic, start.InstanceID, start))

	cancel := tasks.NewWorkflowTaskCancel("sentiment-analysis-Q-1", "operator request")
	require.NoError(t, bus.Publish(ctx, tasks.WorkflowTaskTopic, cancel.InstanceID, cancel))

	select {
	case got := <-received:
		cancelled, ok := got.(*tasks.WorkflowTaskCancel)
		require.True(t, ok, "expected *tasks.WorkflowTaskCancel, got %T", got)
		assert.Equal(t, "operator request", cancelled.Reason)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for cancel task")
	}
}

func TestGenerateID(t *testing.T) {
	t.Parallel()

	bus := newTestBus(t)

	first := bus.GenerateID()
	second := bus.GenerateID()

	assert.NotEmpty(t, first)
	assert.NotEqual(t, first, second)
}
