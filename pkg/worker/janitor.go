package worker

import (
	"context"
	"fmt"
	"time"

	"log/slog"

	"github.com/robfig/cron/v3"

	"github.com/sentiolabs/sentio/pkg/models"
	"github.com/sentiolabs/sentio/pkg/persistence"
	"github.com/sentiolabs/sentio/pkg/taskbus"
	"github.com/sentiolabs/sentio/pkg/tasks"
	"github.com/sentiolabs/sentio/pkg/workflow"
)

const (
	sweepSchedule = "@every 10s"
	sweepTimeout  = 30 * time.Second
)

// Janitor runs the cron-driven background sweeps: expired activity
// heartbeats become synthetic failure results, and sticky projections past
// their timeout are evicted.
type Janitor struct {
	logger     *slog.Logger
	cron       *cron.Cron
	heartbeats persistence.HeartbeatStore
	publisher  taskbus.TaskPublisher
	cache      *workflow.ProjectionCache
	workerID   string
}

func NewJanitor(logger *slog.Logger, heartbeats persistence.HeartbeatStore, publisher taskbus.TaskPublisher, cache *workflow.ProjectionCache, workerID string) *Janitor {
	return &Janitor{
		logger:     logger.With("module", "janitor", "worker_id", workerID),
		heartbeats: heartbeats,
		publisher:  publisher,
		cache:      cache,
		workerID:   workerID,
	}
}

func (j *Janitor) Start() error {
	j.cron = cron.New(cron.WithChain(
		cron.SkipIfStillRunning(cron.DefaultLogger),
		cron.Recover(cron.DefaultLogger),
	))

	_, err := j.cron.AddFunc(sweepSchedule, j.sweep)
	if err != nil {
		return fmt.Errorf("failed to schedule janitor sweep: %w", err)
	}

	j.cron.Start()
	j.logger.Info("Janitor started", "schedule", sweepSchedule)

	return nil
}

// Stop halts the schedule and waits for a running sweep to finish.
func (j *Janitor) Stop() {
	if j.cron != nil {
		<-j.cron.Stop().Done()
	}
}

func (j *Janitor) sweep() {
	ctx, cancel := context.WithTimeout(context.Background(), sweepTimeout)
	defer cancel()

	if evicted := j.cache.EvictStale(); evicted > 0 {
		j.logger.Debug("Evicted stale sticky projections", "count", evicted)
	}

	j.reapHeartbeats(ctx)
}

// reapHeartbeats converts expired liveness deadlines into synthetic retryable
// failure results. Publishes before clearing: a failed publish is retried on
// the next sweep, and the engine's attempt guard drops any duplicate.
func (j *Janitor) reapHeartbeats(ctx context.Context) {
	expired, err := j.heartbeats.ExpiredHeartbeats(ctx, time.Now().UTC())
	if err != nil {
		j.logger.Error("Failed to scan for expired heartbeats", "error", err)

		return
	}

	for _, beat := range expired {
		logger := j.logger.With(
			"instance_id", beat.InstanceID,
			"schedule_id", beat.ScheduleID,
			"attempt", beat.Attempt,
		)

		result := tasks.ActivityResult{
			ScheduleID:   beat.ScheduleID,
			ActivityType: beat.ActivityType,
			Attempt:      beat.Attempt,
			Failure: &models.FailureInfo{
				Kind:    models.FailureKindHeartbeat,
				Message: fmt.Sprintf("heartbeat deadline %s expired", beat.Deadline.Format(time.RFC3339)),
			},
			WorkerID: j.workerID,
		}

		task := tasks.NewWorkflowTaskActivityResult(beat.InstanceID, result)

		err := j.publisher.Publish(ctx, tasks.WorkflowTaskTopic, beat.InstanceID, task)
		if err != nil {
			logger.Error("Failed to publish heartbeat failure", "error", err)

			continue
		}

		err = j.heartbeats.ClearHeartbeat(ctx, beat.InstanceID, beat.ScheduleID, beat.Attempt)
		if err != nil {
			logger.Warn("Failed to clear expired heartbeat", "error", err)
		}

		logger.Warn("Reaped expired activity heartbeat")
	}
}
