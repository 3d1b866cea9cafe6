package transport

import (
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// Reconnect policies.
const (
	PolicyFixed       = "fixed"
	PolicyExponential = "exponential"
)

// NewBackOff builds the retry schedule for a policy. Neither policy ever
// gives up: the fixed policy waits delay every time, the exponential one
// starts at delay and is capped at maxDelay.
func NewBackOff(policy string, delay, maxDelay time.Duration) (backoff.BackOff, error) {
	switch policy {
	case "", PolicyFixed:
		return backoff.NewConstantBackOff(delay), nil
	case PolicyExponential:
		b := backoff.NewExponentialBackOff()
		b.InitialInterval = delay
		b.MaxInterval = maxDelay
		if b.MaxInterval < delay {
			b.MaxInterval = delay
		}
		b.MaxElapsedTime = 0
		b.Reset()
		return b, nil
	default:
		return nil, fmt.Errorf("unknown reconnect policy %q", policy)
	}
}
