// Package worker wires the task bus to the workflow engine and the activity
// executor, bounding per-process concurrency with slot semaphores.
package worker

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/sentiolabs/sentio/pkg/models"
	"github.com/sentiolabs/sentio/pkg/taskbus"
	"github.com/sentiolabs/sentio/pkg/tasks"
)

const (
	DefaultMaxWorkflowTasks = 10
	DefaultMaxActivityTasks = 20
)

// WorkflowHandler folds workflow tasks into durable history. Satisfied by
// *workflow.Engine.
type WorkflowHandler interface {
	HandleStart(ctx context.Context, task *tasks.WorkflowTaskStart) error
	HandleActivityResult(ctx context.Context, task *tasks.WorkflowTaskActivityResult) error
	HandleCancel(ctx context.Context, task *tasks.WorkflowTaskCancel) error
}

// ActivityRunner executes one activity attempt. Satisfied by
// *activity.Executor.
type ActivityRunner interface {
	Execute(ctx context.Context, invocation models.ActivityInvocation) tasks.ActivityResult
}

type Config struct {
	WorkerID         string
	MaxWorkflowTasks int
	MaxActivityTasks int
}

func (c Config) withDefaults() Config {
	if c.MaxWorkflowTasks <= 0 {
		c.MaxWorkflowTasks = DefaultMaxWorkflowTasks
	}

	if c.MaxActivityTasks <= 0 {
		c.MaxActivityTasks = DefaultMaxActivityTasks
	}

	return c
}

// Manager subscribes to both task topics and dispatches tasks into the
// engine and the executor. Slot semaphores bound in-flight work per process;
// a full pool blocks the handler, which leaves messages unacked on the bus
// instead of dropping them.
type Manager struct {
	logger   *slog.Logger
	bus      taskbus.TaskBus
	engine   WorkflowHandler
	executor ActivityRunner

	workflowSlots chan struct{}
	activitySlots chan struct{}

	inFlight sync.WaitGroup
}

func NewManager(logger *slog.Logger, bus taskbus.TaskBus, engine WorkflowHandler, executor ActivityRunner, cfg Config) *Manager {
	cfg = cfg.withDefaults()

	return &Manager{
		logger:        logger.With("module", "worker", "worker_id", cfg.WorkerID),
		bus:           bus,
		engine:        engine,
		executor:      executor,
		workflowSlots: make(chan struct{}, cfg.MaxWorkflowTasks),
		activitySlots: make(chan struct{}, cfg.MaxActivityTasks),
	}
}

// Start registers the task handlers and opens both subscriptions. It returns
// once the subscriptions are live; tasks flow on bus goroutines until ctx is
// cancelled.
func (m *Manager) Start(ctx context.Context) error {
	handlers := []struct {
		topic    string
		taskType tasks.TaskType
		handler  taskbus.TaskHandler
	}{
		{tasks.WorkflowTaskTopic, tasks.WorkflowTaskStartType, m.handleWorkflowStart},
		{tasks.WorkflowTaskTopic, tasks.WorkflowTaskActivityResultType, m.handleWorkflowActivityResult},
		{tasks.WorkflowTaskTopic, tasks.WorkflowTaskCancelType, m.handleWorkflowCancel},
		{tasks.ActivityTaskTopic, tasks.ActivityTaskExecuteType, m.handleActivityExecute},
	}

	for _, h := range handlers {
		err := m.bus.Handle(h.topic, h.taskType, h.handler)
		if err != nil {
			return fmt.Errorf("failed to register %s handler: %w", h.taskType, err)
		}
	}

	err := m.bus.Subscribe(ctx, tasks.WorkflowTaskTopic)
	if err != nil {
		return fmt.Errorf("failed to subscribe to workflow tasks: %w", err)
	}

	err = m.bus.Subscribe(ctx, tasks.ActivityTaskTopic)
	if err != nil {
		return fmt.Errorf("failed to subscribe to activity tasks: %w", err)
	}

	m.logger.Info("Worker started",
		"max_workflow_tasks", cap(m.workflowSlots),
		"max_activity_tasks", cap(m.activitySlots))

	return nil
}

// Drain waits for in-flight tasks to finish, up to timeout. Call after
// cancelling the subscription context.
func (m *Manager) Drain(timeout time.Duration) {
	done := make(chan struct{})

	go func() {
		m.inFlight.Wait()
		close(done)
	}()

	select {
	case <-done:
		m.logger.Info("Worker drained")
	case <-time.After(timeout):
		m.logger.Warn("Worker drain timed out", "timeout", timeout)
	}
}

func (m *Manager) handleWorkflowStart(ctx context.Context, task any) error {
	start, ok := task.(*tasks.WorkflowTaskStart)
	if !ok {
		return fmt.Errorf("unexpected task payload %T for %s", task, tasks.WorkflowTaskStartType)
	}

	release, err := m.acquire(ctx, m.workflowSlots)
	if err != nil {
		return err
	}
	defer release()

	return m.engine.HandleStart(ctx, start)
}

func (m *Manager) handleWorkflowActivityResult(ctx context.Context, task any) error {
	result, ok := task.(*tasks.WorkflowTaskActivityResult)
	if !ok {
		return fmt.Errorf("unexpected task payload %T for %s", task, tasks.WorkflowTaskActivityResultType)
	}

	release, err := m.acquire(ctx, m.workflowSlots)
	if err != nil {
		return err
	}
	defer release()

	return m.engine.HandleActivityResult(ctx, result)
}

func (m *Manager) handleWorkflowCancel(ctx context.Context, task any) error {
	cancel, ok := task.(*tasks.WorkflowTaskCancel)
	if !ok {
		return fmt.Errorf("unexpected task payload %T for %s", task, tasks.WorkflowTaskCancelType)
	}

	release, err := m.acquire(ctx, m.workflowSlots)
	if err != nil {
		return err
	}
	defer release()

	return m.engine.HandleCancel(ctx, cancel)
}

func (m *Manager) handleActivityExecute(ctx context.Context, task any) error {
	execute, ok := task.(*tasks.ActivityTaskExecute)
	if !ok {
		return fmt.Errorf("unexpected task payload %T for %s", task, tasks.ActivityTaskExecuteType)
	}

	// Honor the not-before bound before taking a slot, so a delayed retry
	// does not burn pool capacity while it waits.
	err := m.waitUntil(ctx, execute.NotBefore)
	if err != nil {
		return err
	}

	release, err := m.acquire(ctx, m.activitySlots)
	if err != nil {
		return err
	}
	defer release()

	result := m.executor.Execute(ctx, execute.Invocation)

	// The result rides the workflow topic keyed by instance, so results for
	// one instance fold into history in arrival order.
	resultTask := tasks.NewWorkflowTaskActivityResult(execute.Invocation.InstanceID, result)

	return m.bus.Publish(ctx, tasks.WorkflowTaskTopic, execute.Invocation.InstanceID, resultTask)
}

func (m *Manager) acquire(ctx context.Context, slots chan struct{}) (func(), error) {
	select {
	case slots <- struct{}{}:
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	m.inFlight.Add(1)

	return func() {
		<-slots
		m.inFlight.Done()
	}, nil
}

func (m *Manager) waitUntil(ctx context.Context, notBefore time.Time) error {
	wait := time.Until(notBefore)
	if wait <= 0 {
		return nil
	}

	timer := time.NewTimer(wait)
	defer timer.Stop()

	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
