package stageexec

import (
	"math"
	"math/rand/v2"
	"time"

	"lipsync/internal/config"
)

// RetryPolicy controls how transient stage failures are retried.
type RetryPolicy struct {
	// MaxAttempts is the total number of invocations allowed, including the first.
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
	// JitterFraction randomizes each delay by up to ± this fraction.
	JitterFraction float64
}

// DefaultRetryPolicy returns the stock policy: three attempts, 2s doubling to 30s, 20% jitter.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts:    3,
		BaseDelay:      2 * time.Second,
		MaxDelay:       30 * time.Second,
		JitterFraction: 0.2,
	}
}

// PolicyFromConfig reads the retry section of cfg.
func PolicyFromConfig(cfg *config.Config) RetryPolicy {
	if cfg == nil {
		return DefaultRetryPolicy()
	}
	return RetryPolicy{
		MaxAttempts:    cfg.Retry.MaxAttempts,
		BaseDelay:      time.Duration(cfg.Retry.BaseDelaySeconds * float64(time.Second)),
		MaxDelay:       time.Duration(cfg.Retry.MaxDelaySeconds * float64(time.Second)),
		JitterFraction: cfg.Retry.JitterFraction,
	}
}

// Backoff returns the wait before the attempt following failedAttempt:
// min(base * 2^(failedAttempt-1), max) randomized by the jitter fraction.
// rnd must return values in [0, 1); nil uses math/rand.
func (p RetryPolicy) Backoff(failedAttempt int, rnd func() float64) time.Duration {
	if failedAttempt < 1 {
		failedAttempt = 1
	}
	if rnd == nil {
		rnd = rand.Float64
	}
	delay := float64(p.BaseDelay) * math.Pow(2, float64(failedAttempt-1))
	if p.MaxDelay > 0 && delay > float64(p.MaxDelay) {
		delay = float64(p.MaxDelay)
	}
	if p.JitterFraction > 0 {
		delay += delay * p.JitterFraction * (rnd()*2 - 1)
	}
	if delay < 0 {
		delay = 0
	}
	return time.Duration(delay)
}
