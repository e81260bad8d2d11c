// Package tasks defines the messages carried on the task bus between the API,
// the workflow workers, and the activity workers.
package tasks

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/sentiolabs/sentio/pkg/models"
)

type TaskType string

// The two logical queues. Workflow tasks are keyed by instance ID so a
// partitioned bus delivers all tasks for one instance in order to one
// consumer; activity tasks may run anywhere.
const (
	WorkflowTaskTopic = "sentio.workflow-tasks"
	ActivityTaskTopic = "sentio.activity-tasks"
)

const TaskMetadataKey = "key"
const TaskTypeMetadataKey = "task_type"

const (
	WorkflowTaskStartType          TaskType = "workflow.task.start"
	WorkflowTaskActivityResultType TaskType = "workflow.task.activity_result"
	WorkflowTaskCancelType         TaskType = "workflow.task.cancel"
	ActivityTaskExecuteType        TaskType = "activity.task.execute"
)

type BaseTask struct {
	ID         string    `json:"id"`
	Type       TaskType  `json:"type"`
	Timestamp  time.Time `json:"timestamp"`
	InstanceID string    `json:"instance_id"`
	WorkerID   string    `json:"worker_id,omitempty"`
}

func NewBaseTask(taskType TaskType, instanceID string) BaseTask {
	return BaseTask{
		ID:         uuid.New().String(),
		Type:       taskType,
		Timestamp:  time.Now().UTC(),
		InstanceID: instanceID,
	}
}

// WorkflowTaskStart asks a workflow worker to run the first decision for a
// freshly started instance.
type WorkflowTaskStart struct {
	BaseTask
}

func NewWorkflowTaskStart(instanceID string) WorkflowTaskStart {
	return WorkflowTaskStart{BaseTask: NewBaseTask(WorkflowTaskStartType, instanceID)}
}

func (t WorkflowTaskStart) GetType() TaskType {
	return t.Type
}

// ActivityResult is the terminal outcome of one activity attempt. It travels
// back to the workflow worker as a message; activity workers never append to
// histories themselves.
type ActivityResult struct {
	ScheduleID   string              `json:"schedule_id"`
	ActivityType string              `json:"activity_type"`
	Attempt      int32               `json:"attempt"`
	Output       json.RawMessage     `json:"output,omitempty"`
	Failure      *models.FailureInfo `json:"failure,omitempty"`
	WorkerID     string              `json:"worker_id,omitempty"`
}

// Failed reports whether the attempt ended in a failure.
func (r ActivityResult) Failed() bool {
	return r.Failure != nil
}

// WorkflowTaskActivityResult hands an attempt outcome to the workflow worker
// owning the instance, which records it and runs the next decision.
type WorkflowTaskActivityResult struct {
	BaseTask

	Result ActivityResult `json:"result"`
}

func NewWorkflowTaskActivityResult(instanceID string, result ActivityResult) WorkflowTaskActivityResult {
	return WorkflowTaskActivityResult{
		BaseTask: NewBaseTask(WorkflowTaskActivityResultType, instanceID),
		Result:   result,
	}
}

func (t WorkflowTaskActivityResult) GetType() TaskType {
	return t.Type
}

// WorkflowTaskCancel requests cooperative cancellation: the instance stops
// scheduling new activities, while attempts already dispatched run to their
// own completion and have their late results dropped.
type WorkflowTaskCancel struct {
	BaseTask

	Reason string `json:"reason,omitempty"`
}

func NewWorkflowTaskCancel(instanceID, reason string) WorkflowTaskCancel {
	return WorkflowTaskCancel{
		BaseTask: NewBaseTask(WorkflowTaskCancelType, instanceID),
		Reason:   reason,
	}
}

func (t WorkflowTaskCancel) GetType() TaskType {
	return t.Type
}

// ActivityTaskExecute dispatches one activity attempt to the activity queue.
// NotBefore delays retry attempts: consumers must not start the attempt
// before that instant.
type ActivityTaskExecute struct {
	BaseTask

	Invocation models.ActivityInvocation `json:"invocation"`
	NotBefore  time.Time                 `json:"not_before"`
}

func NewActivityTaskExecute(invocation models.ActivityInvocation, notBefore time.Time) ActivityTaskExecute {
	return ActivityTaskExecute{
		BaseTask:   NewBaseTask(ActivityTaskExecuteType, invocation.InstanceID),
		Invocation: invocation,
		NotBefore:  notBefore,
	}
}

func (t ActivityTaskExecute) GetType() TaskType {
	return t.Type
}
