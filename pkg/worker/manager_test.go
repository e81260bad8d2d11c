package worker

import (
	"context"
	"encoding/json"
	"log/slog"
	"os"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sentiolabs/sentio/pkg/models"
	"github.com/sentiolabs/sentio/pkg/taskbus"
	"github.com/sentiolabs/sentio/pkg/taskbus/gochannel"
	"github.com/sentiolabs/sentio/pkg/tasks"
)

type fakeEngine struct {
	starts  chan *tasks.WorkflowTaskStart
	results chan *tasks.WorkflowTaskActivityResult
	cancels chan *tasks.WorkflowTaskCancel
}

func newFakeEngine() *fakeEngine {
	return &fakeEngine{
		starts:  make(chan *tasks.WorkflowTaskStart, 16),
		results: make(chan *tasks.WorkflowTaskActivityResult, 16),
		cancels: make(chan *tasks.WorkflowTaskCancel, 16),
	}
}

func (e *fakeEngine) HandleStart(_ context.Context, task *tasks.WorkflowTaskStart) error {
	e.starts <- task

	return nil
}

func (e *fakeEngine) HandleActivityResult(_ context.Context, task *tasks.WorkflowTaskActivityResult) error {
	e.results <- task

	return nil
}

func (e *fakeEngine) HandleCancel(_ context.Context, task *tasks.WorkflowTaskCancel) error {
	e.cancels <- task

	return nil
}

type fakeRunner struct {
	delay       time.Duration
	inFlight    int32
	maxInFlight int32
	executedAt  sync.Map
}

func (r *fakeRunner) Execute(_ context.Context, invocation models.ActivityInvocation) tasks.ActivityResult {
	current := atomic.AddInt32(&r.inFlight, 1)
	defer atomic.AddInt32(&r.inFlight, -1)

	for {
		seen := atomic.LoadInt32(&r.maxInFlight)
		if current <= seen || atomic.CompareAndSwapInt32(&r.maxInFlight, seen, current) {
			break
		}
	}

	r.executedAt.Store(invocation.ScheduleID, time.Now())

	if r.delay > 0 {
		time.Sleep(r.delay)
	}

	return tasks.ActivityResult{
		ScheduleID:   invocation.ScheduleID,
		ActivityType: invocation.ActivityType,
		Attempt:      invocation.Attempt,
		Output:       json.RawMessage(`{"ok":true}`),
		WorkerID:     "worker-test",
	}
}

type publishRecord struct {
	topic string
	key   string
	task  taskbus.Task
}

type busStub struct {
	mu        sync.Mutex
	published []publishRecord
}

func (b *busStub) Publish(_ context.Context, topic, key string, task taskbus.Task) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.published = append(b.published, publishRecord{topic: topic, key: key, task: task})

	return nil
}

func (b *busStub) Handle(string, tasks.TaskType, taskbus.TaskHandler) error { return nil }
func (b *busStub) Subscribe(context.Context, string) error                 { return nil }
func (b *busStub) Close() error                                            { return nil }
func (b *busStub) GenerateID() string                                      { return "stub-id" }

func (b *busStub) records() []publishRecord {
	b.mu.Lock()
	defer b.mu.Unlock()

	out := make([]publishRecord, len(b.published))
	copy(out, b.published)

	return out
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))
}

func executeTask(instanceID, scheduleID string, notBefore time.Time) tasks.ActivityTaskExecute {
	return tasks.NewActivityTaskExecute(models.ActivityInvocation{
		InstanceID:   instanceID,
		ScheduleID:   scheduleID,
		ActivityType: "test-activity",
		Attempt:      1,
		RequestID:    "req-" + scheduleID,
		ScheduledAt:  time.Now().UTC(),
		Options:      models.ActivityOptions{}.WithDefaults(),
	}, notBefore)
}

func TestManager_ActivitySlotsBoundConcurrency(t *testing.T) {
	t.Parallel()

	runner := &fakeRunner{delay: 50 * time.Millisecond}
	bus := &busStub{}
	m := NewManager(testLogger(), bus, newFakeEngine(), runner, Config{
		WorkerID:         "worker-test",
		MaxWorkflowTasks: 2,
		MaxActivityTasks: 2,
	})

	ctx := context.Background()

	var wg sync.WaitGroup

	for _, scheduleID := range []string{"a", "b", "c", "d", "e", "f"} {
		task := executeTask("instance-1", scheduleID, time.Time{})

		wg.Add(1)

		go func() {
			defer wg.Done()

			assert.NoError(t, m.handleActivityExecute(ctx, &task))
		}()
	}

	wg.Wait()

	assert.LessOrEqual(t, atomic.LoadInt32(&runner.maxInFlight), int32(2),
		"no more than two activity attempts may run at once")
	assert.Len(t, bus.records(), 6, "every attempt publishes its result")

	for _, record := range bus.records() {
		assert.Equal(t, tasks.WorkflowTaskTopic, record.topic)
		assert.Equal(t, "instance-1", record.key)
	}
}

func TestManager_ActivityResultCarriesOutcome(t *testing.T) {
	t.Parallel()

	runner := &fakeRunner{}
	bus := &busStub{}
	m := NewManager(testLogger(), bus, newFakeEngine(), runner, Config{WorkerID: "worker-test"})

	task := executeTask("instance-9", "score-sentiment-3", time.Time{})
	require.NoError(t, m.handleActivityExecute(context.Background(), &task))

	records := bus.records()
	require.Len(t, records, 1)

	result, ok := records[0].task.(tasks.WorkflowTaskActivityResult)
	require.True(t, ok, "expected tasks.WorkflowTaskActivityResult, got %T", records[0].task)
	assert.Equal(t, "instance-9", result.InstanceID)
	assert.Equal(t, "score-sentiment-3", result.Result.ScheduleID)
	assert.JSONEq(t, `{"ok":true}`, string(result.Result.Output))
}

func TestManager_HonorsNotBefore(t *testing.T) {
	t.Parallel()

	runner := &fakeRunner{}
	bus := &busStub{}
	m := NewManager(testLogger(), bus, newFakeEngine(), runner, Config{WorkerID: "worker-test"})

	notBefore := time.Now().Add(60 * time.Millisecond)
	task := executeTask("instance-1", "delayed", notBefore)

	require.NoError(t, m.handleActivityExecute(context.Background(), &task))

	started, ok := runner.executedAt.Load("delayed")
	require.True(t, ok)
	assert.False(t, started.(time.Time).Before(notBefore),
		"attempt must not start before its not-before bound")
}

func TestManager_NotBeforeWaitRespectsCancellation(t *testing.T) {
	t.Parallel()

	runner := &fakeRunner{}
	bus := &busStub{}
	m := NewManager(testLogger(), bus, newFakeEngine(), runner, Config{WorkerID: "worker-test"})

	ctx, cancel := context.WithCancel(context.Background())

	task := executeTask("instance-1", "far-future", time.Now().Add(time.Hour))
	errs := make(chan error, 1)

	go func() {
		errs <- m.handleActivityExecute(ctx, &task)
	}()

	cancel()

	select {
	case err := <-errs:
		require.ErrorIs(t, err, context.Canceled)
	case <-time.After(2 * time.Second):
		t.Fatal("handler did not abandon the not-before wait on cancellation")
	}

	_, executed := runner.executedAt.Load("far-future")
	assert.False(t, executed, "cancelled task must not execute")
}

func TestManager_RoutesWorkflowTasks(t *testing.T) {
	t.Parallel()

	engine := newFakeEngine()
	m := NewManager(testLogger(), &busStub{}, engine, &fakeRunner{}, Config{WorkerID: "worker-test"})
	ctx := context.Background()

	start := tasks.NewWorkflowTaskStart("instance-1")
	require.NoError(t, m.handleWorkflowStart(ctx, &start))
	assert.Equal(t, "instance-1", (<-engine.starts).InstanceID)

	result := tasks.NewWorkflowTaskActivityResult("instance-1", tasks.ActivityResult{ScheduleID: "step-1", Attempt: 1})
	require.NoError(t, m.handleWorkflowActivityResult(ctx, &result))
	assert.Equal(t, "step-1", (<-engine.results).Result.ScheduleID)

	cancel := tasks.NewWorkflowTaskCancel("instance-1", "operator request")
	require.NoError(t, m.handleWorkflowCancel(ctx, &cancel))
	assert.Equal(t, "operator request", (<-engine.cancels).Reason)
}

func TestManager_RejectsUnexpectedPayloads(t *testing.T) {
	t.Parallel()

	m := NewManager(testLogger(), &busStub{}, newFakeEngine(), &fakeRunner{}, Config{WorkerID: "worker-test"})
	ctx := context.Background()

	assert.Error(t, m.handleWorkflowStart(ctx, "not a task"))
	assert.Error(t, m.handleWorkflowActivityResult(ctx, 42))
	assert.Error(t, m.handleWorkflowCancel(ctx, nil))
	assert.Error(t, m.handleActivityExecute(ctx, struct{}{}))
}

func TestManager_EndToEndOverGoChannel(t *testing.T) {
	t.Parallel()

	pub, sub, err := gochannel.CreateTestChannel(watermill.NopLogger{})
	require.NoError(t, err)

	bus := taskbus.NewWatermillTaskBus(pub, sub)
	t.Cleanup(func() {
		_ = bus.Close()
	})

	engine := newFakeEngine()
	runner := &fakeRunner{}
	m := NewManager(testLogger(), bus, engine, runner, Config{WorkerID: "worker-test"})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	require.NoError(t, m.Start(ctx))

	start := tasks.NewWorkflowTaskStart("instance-e2e")
	require.NoError(t, bus.Publish(ctx, tasks.WorkflowTaskTopic, start.InstanceID, start))

	select {
	case got := <-engine.starts:
		assert.Equal(t, "instance-e2e", got.InstanceID)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for the start task to reach the engine")
	}

	// An executed activity's result must flow back around to the engine.
	task := executeTask("instance-e2e", "step-1", time.Time{})
	require.NoError(t, bus.Publish(ctx, tasks.ActivityTaskTopic, task.Invocation.ScheduleID, task))

	select {
	case got := <-engine.results:
		assert.Equal(t, "step-1", got.Result.ScheduleID)
		assert.JSONEq(t, `{"ok":true}`, string(got.Result.Output))
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for the activity result to loop back")
	}

	m.Drain(time.Second)
}
