package worker

import (
	"time"

	"barberbook/internal/config"
)

// RetryPolicy controls redelivery of a notification task. The delay doubles
// per attempt starting at InitialDelay and is capped at MaxDelay.
type RetryPolicy struct {
	MaxRetries   int
	InitialDelay time.Duration
	MaxDelay     time.Duration
}

// RetryPolicyFrom builds the policy from the notifications section.
func RetryPolicyFrom(cfg config.NotificationsConfig) RetryPolicy {
	return RetryPolicy{
		MaxRetries:   cfg.MaxRetries,
		InitialDelay: config.Duration(cfg.InitialDelay, 2*time.Second),
		MaxDelay:     config.Duration(cfg.MaxDelay, time.Minute),
	}
}

// Exhausted reports whether the task has used up its attempts.
func (r RetryPolicy) Exhausted(attempt int) bool {
	return attempt >= r.MaxRetries
}

// NextDelay returns the wait before attempt (1-based).
func (r RetryPolicy) NextDelay(attempt int) time.Duration {
	d := r.InitialDelay
	if d <= 0 {
		d = time.Second
	}
	for i := 1; i < attempt; i++ {
		if r.MaxDelay > 0 && d >= r.MaxDelay {
			break
		}
		if d > time.Duration(1<<62)/2 {
			break // переполнение
		}
		d *= 2
	}
	if r.MaxDelay > 0 && d > r.MaxDelay {
		d = r.MaxDelay
	}
	return d
}
