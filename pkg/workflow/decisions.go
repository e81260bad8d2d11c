package workflow

import (
	"encoding/json"

	"github.com/sentiolabs/sentio/pkg/models"
)

// Decision is one instruction from a decider. The engine interprets
// decisions in order: schedules become ActivityScheduled events plus activity
// task dispatches, terminal decisions close the instance.
type Decision interface {
	isDecision()
}

// ScheduleActivity asks the engine to run an activity. The engine ignores the
// decision when the schedule ID is already present in history, which is what
// makes redelivered tasks safe: a decider re-run over the same projection
// re-emits the same schedules, and only the new ones take effect.
type ScheduleActivity struct {
	ScheduleID   string
	ActivityType string
	Input        json.RawMessage
	Options      models.ActivityOptions
}

// CompleteWorkflow closes the instance successfully.
type CompleteWorkflow struct {
	Result json.RawMessage
}

// FailWorkflow closes the instance with a failure.
type FailWorkflow struct {
	Failure models.FailureInfo
}

func (ScheduleActivity) isDecision() {}
func (CompleteWorkflow) isDecision() {}
func (FailWorkflow) isDecision()     {}
