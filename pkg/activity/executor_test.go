package activity_test

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sentiolabs/sentio/pkg/activity"
	"github.com/sentiolabs/sentio/pkg/models"
	"github.com/sentiolabs/sentio/pkg/persistence/memory"
	"github.com/sentiolabs/sentio/pkg/protocol"
	"github.com/sentiolabs/sentio/pkg/retry"
)

type stubActivity struct {
	fn func(ctx context.Context, invocation models.ActivityInvocation, logger *slog.Logger) (any, error)
}

func (a *stubActivity) Execute(ctx context.Context, invocation models.ActivityInvocation, logger *slog.Logger) (any, error) {
	return a.fn(ctx, invocation, logger)
}

type stubResolver struct {
	activities map[string]protocol.Activity
}

func (r *stubResolver) CreateActivity(activityType string, _ map[string]any) (protocol.Activity, error) {
	act, ok := r.activities[activityType]
	if !ok {
		return nil, fmt.Errorf("activity type '%s' not registered", activityType)
	}

	return act, nil
}

type executorFixture struct {
	executor    *activity.Executor
	persistence *memory.Persistence
	resolver    *stubResolver
}

func newExecutorFixture(t *testing.T) *executorFixture {
	t.Helper()

	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))
	p := memory.NewPersistence()
	resolver := &stubResolver{activities: make(map[string]protocol.Activity)}

	return &executorFixture{
		executor:    activity.NewExecutor(logger, resolver, p, "worker-test"),
		persistence: p,
		resolver:    resolver,
	}
}

func (f *executorFixture) register(activityType string, fn func(ctx context.Context, invocation models.ActivityInvocation, logger *slog.Logger) (any, error)) {
	f.resolver.activities[activityType] = &stubActivity{fn: fn}
}

func testInvocation(activityType string, options models.ActivityOptions) models.ActivityInvocation {
	return models.ActivityInvocation{
		InstanceID:   "instance-1",
		ScheduleID:   "step-1",
		ActivityType: activityType,
		Attempt:      1,
		Input:        []byte(`{"value":42}`),
		RequestID:    "req-1",
		ScheduledAt:  time.Now().UTC(),
		Options:      options.WithDefaults(),
	}
}

func TestExecutor_Success(t *testing.T) {
	t.Parallel()

	f := newExecutorFixture(t)
	f.register("echo", func(_ context.Context, invocation models.ActivityInvocation, _ *slog.Logger) (any, error) {
		return map[string]any{"echoed": string(invocation.Input)}, nil
	})

	result := f.executor.Execute(context.Background(), testInvocation("echo", models.ActivityOptions{}))

	require.Nil(t, result.Failure)
	assert.JSONEq(t, `{"echoed":"{\"value\":42}"}`, string(result.Output))
	assert.Equal(t, "step-1", result.ScheduleID)
	assert.Equal(t, "echo", result.ActivityType)
	assert.Equal(t, int32(1), result.Attempt)
	assert.Equal(t, "worker-test", result.WorkerID)
}

func TestExecutor_AttemptContextCarriesDeadline(t *testing.T) {
	t.Parallel()

	f := newExecutorFixture(t)
	f.register("check-deadline", func(ctx context.Context, _ models.ActivityInvocation, _ *slog.Logger) (any, error) {
		deadline, ok := ctx.Deadline()
		require.True(t, ok, "expected attempt context to carry a deadline")
		require.True(t, deadline.After(time.Now()))

		return nil, nil
	})

	result := f.executor.Execute(context.Background(), testInvocation("check-deadline", models.ActivityOptions{
		StartToCloseTimeout: 5 * time.Second,
	}))

	assert.Nil(t, result.Failure)
}

func TestExecutor_TransientFailure(t *testing.T) {
	t.Parallel()

	f := newExecutorFixture(t)
	f.register("flaky", func(_ context.Context, _ models.ActivityInvocation, _ *slog.Logger) (any, error) {
		return nil, retry.Transient(errors.New("backend unavailable"))
	})

	result := f.executor.Execute(context.Background(), testInvocation("flaky", models.ActivityOptions{}))

	require.NotNil(t, result.Failure)
	assert.Equal(t, models.FailureKindApplication, result.Failure.Kind)
	assert.False(t, result.Failure.NonRetryable)
	assert.Contains(t, result.Failure.Message, "backend unavailable")
}

func TestExecutor_TerminalFailure(t *testing.T) {
	t.Parallel()

	f := newExecutorFixture(t)
	f.register("broken", func(_ context.Context, _ models.ActivityInvocation, _ *slog.Logger) (any, error) {
		return nil, retry.Terminal(errors.New("malformed input"))
	})

	result := f.executor.Execute(context.Background(), testInvocation("broken", models.ActivityOptions{}))

	require.NotNil(t, result.Failure)
	assert.Equal(t, models.FailureKindApplication, result.Failure.Kind)
	assert.True(t, result.Failure.NonRetryable)
}

func TestExecutor_StartToCloseTimeout(t *testing.T) {
	t.Parallel()

	f := newExecutorFixture(t)
	f.register("slow", func(ctx context.Context, _ models.ActivityInvocation, _ *slog.Logger) (any, error) {
		<-ctx.Done()

		return nil, ctx.Err()
	})

	result := f.executor.Execute(context.Background(), testInvocation("slow", models.ActivityOptions{
		StartToCloseTimeout: 20 * time.Millisecond,
	}))

	require.NotNil(t, result.Failure)
	assert.Equal(t, models.FailureKindTimeout, result.Failure.Kind)
	assert.False(t, result.Failure.NonRetryable, "attempt timeouts are retryable; only the engine escalates them")
}

func TestExecutor_ScheduleToCloseExpired(t *testing.T) {
	t.Parallel()

	f := newExecutorFixture(t)
	f.register("never-runs", func(_ context.Context, _ models.ActivityInvocation, _ *slog.Logger) (any, error) {
		t.Fatal("activity must not run past its schedule-to-close deadline")

		return nil, nil
	})

	invocation := testInvocation("never-runs", models.ActivityOptions{
		ScheduleToCloseTimeout: 10 * time.Millisecond,
	})
	invocation.ScheduledAt = time.Now().UTC().Add(-time.Second)

	result := f.executor.Execute(context.Background(), invocation)

	require.NotNil(t, result.Failure)
	assert.Equal(t, models.FailureKindTimeout, result.Failure.Kind)
	assert.True(t, result.Failure.NonRetryable)
	assert.Contains(t, result.Failure.Message, "schedule-to-close")
}

func TestExecutor_PanicBecomesTransientFailure(t *testing.T) {
	t.Parallel()

	f := newExecutorFixture(t)
	f.register("explosive", func(_ context.Context, _ models.ActivityInvocation, _ *slog.Logger) (any, error) {
		panic("nil map write")
	})

	result := f.executor.Execute(context.Background(), testInvocation("explosive", models.ActivityOptions{}))

	require.NotNil(t, result.Failure)
	assert.Equal(t, models.FailureKindPanic, result.Failure.Kind)
	assert.False(t, result.Failure.NonRetryable)
	assert.Contains(t, result.Failure.Message, "nil map write")
}

func TestExecutor_UnregisteredActivityType(t *testing.T) {
	t.Parallel()

	f := newExecutorFixture(t)

	result := f.executor.Execute(context.Background(), testInvocation("missing", models.ActivityOptions{}))

	require.NotNil(t, result.Failure)
	assert.True(t, result.Failure.NonRetryable)
	assert.Contains(t, result.Failure.Message, "not registered")
}

func TestExecutor_UnserializableOutput(t *testing.T) {
	t.Parallel()

	f := newExecutorFixture(t)
	f.register("bad-output", func(_ context.Context, _ models.ActivityInvocation, _ *slog.Logger) (any, error) {
		return make(chan int), nil
	})

	result := f.executor.Execute(context.Background(), testInvocation("bad-output", models.ActivityOptions{}))

	require.NotNil(t, result.Failure)
	assert.True(t, result.Failure.NonRetryable)
	assert.Contains(t, result.Failure.Message, "not serializable")
}

func TestExecutor_Heartbeats(t *testing.T) {
	t.Parallel()

	f := newExecutorFixture(t)
	ctx := context.Background()

	farFuture := time.Now().UTC().Add(time.Hour)

	f.register("beating", func(ctx context.Context, _ models.ActivityInvocation, _ *slog.Logger) (any, error) {
		activity.Heartbeat(ctx)

		beats, err := f.persistence.ExpiredHeartbeats(ctx, farFuture)
		require.NoError(t, err)
		require.Len(t, beats, 1, "expected a live beat while the activity runs")
		require.Equal(t, "instance-1", beats[0].InstanceID)
		require.Equal(t, int32(1), beats[0].Attempt)
		require.True(t, beats[0].Deadline.After(time.Now().UTC()))

		return "done", nil
	})

	result := f.executor.Execute(ctx, testInvocation("beating", models.ActivityOptions{
		HeartbeatTimeout: 10 * time.Second,
	}))

	require.Nil(t, result.Failure)

	beats, err := f.persistence.ExpiredHeartbeats(ctx, farFuture)
	require.NoError(t, err)
	assert.Empty(t, beats, "heartbeat must be cleared once the attempt finishes")
}

func TestExecutor_HeartbeatIsNoOpWithoutTimeout(t *testing.T) {
	t.Parallel()

	f := newExecutorFixture(t)
	ctx := context.Background()

	f.register("silent", func(ctx context.Context, _ models.ActivityInvocation, _ *slog.Logger) (any, error) {
		activity.Heartbeat(ctx)

		return nil, nil
	})

	result := f.executor.Execute(ctx, testInvocation("silent", models.ActivityOptions{}))
	require.Nil(t, result.Failure)

	beats, err := f.persistence.ExpiredHeartbeats(ctx, time.Now().UTC().Add(time.Hour))
	require.NoError(t, err)
	assert.Empty(t, beats)
}
