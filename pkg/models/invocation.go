package models

import (
	"encoding/json"
	"time"

	"github.com/sentiolabs/sentio/pkg/retry"
)

const defaultStartToCloseTimeout = 30 * time.Second

// ActivityOptions bound a single activity invocation: how long one attempt
// may run, how long the invocation may take across all retries, how often a
// liveness signal is expected, and how failures are retried. Zero timeout
// values disable the corresponding bound, except StartToCloseTimeout which
// always has a default.
type ActivityOptions struct {
	StartToCloseTimeout    time.Duration `json:"start_to_close_timeout"`
	ScheduleToCloseTimeout time.Duration `json:"schedule_to_close_timeout,omitempty"`
	HeartbeatTimeout       time.Duration `json:"heartbeat_timeout,omitempty"`
	RetryPolicy            retry.Policy  `json:"retry_policy"`
}

// WithDefaults fills the per-attempt timeout and the retry policy when the
// activity declared none.
func (o ActivityOptions) WithDefaults() ActivityOptions {
	if o.StartToCloseTimeout <= 0 {
		o.StartToCloseTimeout = defaultStartToCloseTimeout
	}

	if o.RetryPolicy == (retry.Policy{}) {
		o.RetryPolicy = retry.DefaultPolicy()
	} else {
		o.RetryPolicy = o.RetryPolicy.WithDefaults()
	}

	return o
}

// ActivityInvocation is one attempt-bearing unit of work handed to an
// activity worker. It carries everything the worker needs: activity workers
// never read workflow histories.
type ActivityInvocation struct {
	InstanceID   string          `json:"instance_id"`
	ScheduleID   string          `json:"schedule_id"`
	ActivityType string          `json:"activity_type"`
	Attempt      int32           `json:"attempt"`
	Input        json.RawMessage `json:"input,omitempty"`
	RequestID    string          `json:"request_id"`
	ScheduledAt  time.Time       `json:"scheduled_at"`
	Options      ActivityOptions `json:"options"`
}

// StartToCloseDeadline is the wall-clock bound for one attempt, measured
// from when the attempt begins.
func (inv ActivityInvocation) StartToCloseDeadline(startedAt time.Time) time.Time {
	return startedAt.Add(inv.Options.StartToCloseTimeout)
}

// ScheduleToCloseDeadline is the wall-clock bound across all attempts,
// measured from when the invocation was first scheduled. The zero time means
// no cross-attempt bound was configured.
func (inv ActivityInvocation) ScheduleToCloseDeadline() time.Time {
	if inv.Options.ScheduleToCloseTimeout <= 0 {
		return time.Time{}
	}

	return inv.ScheduledAt.Add(inv.Options.ScheduleToCloseTimeout)
}
