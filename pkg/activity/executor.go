// Package activity runs single activity attempts for the worker pool:
// deadline derivation, panic containment, heartbeat plumbing, and outcome
// classification.
package activity

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/sentiolabs/sentio/pkg/models"
	"github.com/sentiolabs/sentio/pkg/otelhelper"
	"github.com/sentiolabs/sentio/pkg/persistence"
	"github.com/sentiolabs/sentio/pkg/protocol"
	"github.com/sentiolabs/sentio/pkg/retry"
	"github.com/sentiolabs/sentio/pkg/tasks"
)

// ActivityResolver turns a recorded activity type back into something
// executable. Satisfied by *registry.Registry.
type ActivityResolver interface {
	CreateActivity(activityType string, config map[string]any) (protocol.Activity, error)
}

type Executor struct {
	logger     *slog.Logger
	resolver   ActivityResolver
	heartbeats persistence.HeartbeatStore
	workerID   string
	tracer     trace.Tracer
}

func NewExecutor(logger *slog.Logger, resolver ActivityResolver, heartbeats persistence.HeartbeatStore, workerID string) *Executor {
	return &Executor{
		logger:     logger.With("module", "activity_executor", "worker_id", workerID),
		resolver:   resolver,
		heartbeats: heartbeats,
		workerID:   workerID,
		tracer:     otel.Tracer("sentio.activity"),
	}
}

// Execute runs one attempt and always produces a result: every failure mode
// is folded into the result's FailureInfo, so the engine alone decides what
// happens next.
//
// The attempt context carries the start-to-close deadline, capped by the
// cross-attempt schedule-to-close deadline when one is configured. An attempt
// that would start past its schedule-to-close deadline is not run at all.
func (e *Executor) Execute(ctx context.Context, invocation models.ActivityInvocation) tasks.ActivityResult {
	ctx, span := otelhelper.StartSpan(ctx, e.tracer, "activity.execute "+invocation.ActivityType,
		attribute.String(otelhelper.InstanceIDKey, invocation.InstanceID),
		attribute.String(otelhelper.ScheduleIDKey, invocation.ScheduleID),
		attribute.String(otelhelper.ActivityTypeKey, invocation.ActivityType),
		attribute.Int(otelhelper.AttemptKey, int(invocation.Attempt)),
	)
	defer span.End()

	logger := e.logger.With(
		"instance_id", invocation.InstanceID,
		"schedule_id", invocation.ScheduleID,
		"activity_type", invocation.ActivityType,
		"attempt", invocation.Attempt,
	)

	result := tasks.ActivityResult{
		ScheduleID:   invocation.ScheduleID,
		ActivityType: invocation.ActivityType,
		Attempt:      invocation.Attempt,
		WorkerID:     e.workerID,
	}

	now := time.Now().UTC()

	scheduleToClose := invocation.ScheduleToCloseDeadline()
	if !scheduleToClose.IsZero() && !now.Before(scheduleToClose) {
		logger.Warn("Attempt arrived past its schedule-to-close deadline")

		result.Failure = &models.FailureInfo{
			Kind:         models.FailureKindTimeout,
			Message:      fmt.Sprintf("schedule-to-close timeout of %s exceeded", invocation.Options.ScheduleToCloseTimeout),
			NonRetryable: true,
		}

		return result
	}

	deadline := invocation.StartToCloseDeadline(now)
	if !scheduleToClose.IsZero() && scheduleToClose.Before(deadline) {
		deadline = scheduleToClose
	}

	attemptCtx, cancel := context.WithDeadline(ctx, deadline)
	defer cancel()

	if invocation.Options.HeartbeatTimeout > 0 {
		attemptCtx = e.withHeartbeats(attemptCtx, invocation, logger)

		// Seed liveness before user code runs, so an attempt that dies
		// immediately is still visible to the reaper.
		Heartbeat(attemptCtx)

		defer e.clearHeartbeat(invocation, logger)
	}

	logger.Info("Executing activity attempt")

	output, err := e.run(attemptCtx, invocation, logger)
	if err != nil {
		failure := models.NewFailure(err)

		panicErr := &panicError{}
		if errors.As(err, &panicErr) {
			failure.Kind = models.FailureKindPanic
		}

		result.Failure = &failure

		otelhelper.SetError(span, err)
		logger.Warn("Activity attempt failed", "kind", failure.Kind, "error", err)

		return result
	}

	raw, err := json.Marshal(output)
	if err != nil {
		result.Failure = &models.FailureInfo{
			Kind:         models.FailureKindApplication,
			Message:      fmt.Sprintf("activity output is not serializable: %v", err),
			NonRetryable: true,
		}

		return result
	}

	result.Output = raw

	logger.Info("Activity attempt completed")

	return result
}

// run resolves and executes the activity with panic containment. A missing
// registration is terminal: retrying cannot conjure the factory.
func (e *Executor) run(ctx context.Context, invocation models.ActivityInvocation, logger *slog.Logger) (output any, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = &panicError{value: r}
		}
	}()

	act, err := e.resolver.CreateActivity(invocation.ActivityType, nil)
	if err != nil {
		return nil, retry.Terminal(err)
	}

	return act.Execute(ctx, invocation, logger)
}

func (e *Executor) clearHeartbeat(invocation models.ActivityInvocation, logger *slog.Logger) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	err := e.heartbeats.ClearHeartbeat(ctx, invocation.InstanceID, invocation.ScheduleID, invocation.Attempt)
	if err != nil {
		logger.Warn("Failed to clear heartbeat", "error", err)
	}
}

type panicError struct {
	value any
}

func (e *panicError) Error() string {
	return fmt.Sprintf("activity panicked: %v", e.value)
}
