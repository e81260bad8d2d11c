package retry

import (
	"math"
	"time"
)

// Policy controls how failed activity invocations are retried. Attempt
// counts are 1-indexed: MaximumAttempts=3 permits the first attempt plus
// two retries. MaximumAttempts=0 retries without an attempt ceiling.
type Policy struct {
	InitialInterval    time.Duration `json:"initial_interval"`
	MaximumInterval    time.Duration `json:"maximum_interval"`
	BackoffCoefficient float64       `json:"backoff_coefficient"`
	MaximumAttempts    int32         `json:"maximum_attempts"`
}

// DefaultPolicy applies to activities that declare no policy of their own.
func DefaultPolicy() Policy {
	return Policy{
		InitialInterval:    time.Second,
		MaximumInterval:    time.Minute,
		BackoffCoefficient: 2.0,
		MaximumAttempts:    3,
	}
}

// WithDefaults fills unset interval and coefficient fields. A zero
// MaximumAttempts is preserved: it means unlimited.
func (p Policy) WithDefaults() Policy {
	defaults := DefaultPolicy()

	if p.InitialInterval <= 0 {
		p.InitialInterval = defaults.InitialInterval
	}

	if p.MaximumInterval <= 0 {
		p.MaximumInterval = defaults.MaximumInterval
	}

	if p.BackoffCoefficient < 1 {
		p.BackoffCoefficient = defaults.BackoffCoefficient
	}

	return p
}

// Decision is the outcome of consulting the policy after a failed attempt.
type Decision struct {
	Retry bool          `json:"retry"`
	Delay time.Duration `json:"delay"`
}

// Next decides what to do after attempt (1-indexed) failed with err.
// Terminal failures give up immediately regardless of remaining budget;
// everything else retries until attempt reaches MaximumAttempts, with
// delay = min(InitialInterval * BackoffCoefficient^(attempt-1), MaximumInterval).
func Next(p Policy, attempt int32, err error) Decision {
	if IsTerminal(err) {
		return Decision{}
	}

	p = p.WithDefaults()

	if p.MaximumAttempts > 0 && attempt >= p.MaximumAttempts {
		return Decision{}
	}

	return Decision{Retry: true, Delay: backoff(p, attempt)}
}

func backoff(p Policy, attempt int32) time.Duration {
	delay := float64(p.InitialInterval) * math.Pow(p.BackoffCoefficient, float64(attempt-1))
	if delay > float64(p.MaximumInterval) || math.IsInf(delay, 1) {
		return p.MaximumInterval
	}

	return time.Duration(delay)
}
