package protocol

import (
	"context"
	"log/slog"

	"github.com/sentiolabs/sentio/pkg/models"
)

// Activity is one side-effecting pipeline step. Execute runs a single
// attempt: it must not retry internally, and it must honor ctx cancellation,
// which carries the attempt deadline.
//
// Attempts can run more than once for the same invocation, so external
// writes should key on the invocation's RequestID.
type Activity interface {
	Execute(ctx context.Context, invocation models.ActivityInvocation, logger *slog.Logger) (any, error)
}

// ActivityFactory creates configured activity instances.
type ActivityFactory interface {
	Create(config map[string]any) (Activity, error)
	ID() string
}
