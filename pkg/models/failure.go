package models

import (
	"context"
	"errors"

	"github.com/sentiolabs/sentio/pkg/retry"
)

// FailureKind categorizes why an attempt or a workflow failed.
type FailureKind string

const (
	FailureKindApplication FailureKind = "application"
	FailureKindTimeout     FailureKind = "timeout"
	FailureKindHeartbeat   FailureKind = "heartbeat"
	FailureKindPanic       FailureKind = "panic"
	FailureKindCancelled   FailureKind = "cancelled"
)

// FailureInfo is the durable form of an error: it survives in event
// histories, so it carries the retry classification explicitly instead of
// relying on Go error chains.
type FailureInfo struct {
	Kind         FailureKind `json:"kind"`
	Message      string      `json:"message"`
	NonRetryable bool        `json:"non_retryable,omitempty"`
}

// NewFailure classifies err into its durable form.
func NewFailure(err error) FailureInfo {
	info := FailureInfo{
		Kind:    FailureKindApplication,
		Message: err.Error(),
	}

	if errors.Is(err, context.DeadlineExceeded) {
		info.Kind = FailureKindTimeout
	}

	if retry.IsTerminal(err) {
		info.NonRetryable = true
	}

	return info
}

// Err reconstructs a classified error from the durable form, so the retry
// policy can be consulted after a replay.
func (f FailureInfo) Err() error {
	if f.NonRetryable {
		return retry.Terminal(errors.New(f.Message))
	}

	return retry.Transient(errors.New(f.Message))
}

// TerminalStatus maps a workflow-level failure to the instance status it
// produces.
func (f FailureInfo) TerminalStatus() InstanceStatus {
	switch f.Kind {
	case FailureKindCancelled:
		return InstanceStatusCancelled
	case FailureKindTimeout:
		return InstanceStatusTimedOut
	default:
		return InstanceStatusFailed
	}
}
