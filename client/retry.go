package client

import (
	"math"
	"time"
)

// RetryStrategy decides how long to wait before retrying a discovery call.
// The attempt index starts at 0 and grows after each failure.
type RetryStrategy interface {
	SleepDuration(attempt int, err error) time.Duration
}

// NoDelay retries immediately.
type NoDelay struct{}

func (NoDelay) SleepDuration(int, error) time.Duration {
	return 0
}

// ExponentialBackoff grows the delay by Factor each attempt, capped at Max.
type ExponentialBackoff struct {
	Base   time.Duration
	Factor float64
	Max    time.Duration
}

func (e ExponentialBackoff) SleepDuration(attempt int, _ error) time.Duration {
	if attempt < 0 {
		attempt = 0
	}
	delay := float64(e.Base) * math.Pow(e.Factor, float64(attempt))
	if e.Max > 0 && time.Duration(delay) > e.Max {
		return e.Max
	}
	return time.Duration(delay)
}
