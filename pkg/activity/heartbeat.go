package activity

import (
	"context"
	"log/slog"
	"time"

	"github.com/sentiolabs/sentio/pkg/models"
	"github.com/sentiolabs/sentio/pkg/persistence"
)

type heartbeatKey struct{}

// Heartbeat records liveness for the running attempt. Long-running activities
// call it periodically; each beat pushes the liveness deadline out by the
// invocation's HeartbeatTimeout. A no-op outside an activity or when the
// invocation declared no HeartbeatTimeout.
func Heartbeat(ctx context.Context) {
	beat, ok := ctx.Value(heartbeatKey{}).(func())
	if ok {
		beat()
	}
}

func (e *Executor) withHeartbeats(ctx context.Context, invocation models.ActivityInvocation, logger *slog.Logger) context.Context {
	beat := func() {
		err := e.heartbeats.RecordHeartbeat(ctx, persistence.Heartbeat{
			InstanceID:   invocation.InstanceID,
			ScheduleID:   invocation.ScheduleID,
			ActivityType: invocation.ActivityType,
			Attempt:      invocation.Attempt,
			Deadline:     time.Now().UTC().Add(invocation.Options.HeartbeatTimeout),
		})
		if err != nil {
			logger.Warn("Failed to record heartbeat", "error", err)
		}
	}

	return context.WithValue(ctx, heartbeatKey{}, beat)
}
