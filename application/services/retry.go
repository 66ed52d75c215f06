package services

import (
	"context"
	"math"
	"math/rand/v2"
	"time"
)

// RetryPolicy bounds the optimistic retry loop of a mutation
type RetryPolicy struct {
	MaxRetries    int           // retries after the first attempt
	BaseDelay     time.Duration // delay before the first retry
	MaxDelay      time.Duration // cap on any single delay
	BackoffFactor float64       // exponential backoff multiplier
	JitterFactor  float64       // spreads competing writers apart
}

// DefaultRetryPolicy returns the default mutation retry policy
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxRetries:    16,
		BaseDelay:     2 * time.Millisecond,
		MaxDelay:      250 * time.Millisecond,
		BackoffFactor: 2.0,
		JitterFactor:  0.5,
	}
}

func (p RetryPolicy) normalized() RetryPolicy {
	def := DefaultRetryPolicy()
	if p.MaxRetries < 0 {
		p.MaxRetries = 0
	}
	if p.BackoffFactor < 1 {
		p.BackoffFactor = def.BackoffFactor
	}
	if p.JitterFactor < 0 || p.JitterFactor > 1 {
		p.JitterFactor = def.JitterFactor
	}
	if p.MaxDelay < p.BaseDelay {
		p.MaxDelay = p.BaseDelay
	}
	return p
}

// delay calculates the wait before retry number attempt (0-based). The
// backoff is capped in float64 space so large attempts cannot overflow
// time.Duration.
func (p RetryPolicy) delay(attempt int) time.Duration {
	ceiling := float64(p.MaxDelay)
	backoff := math.Min(float64(p.BaseDelay)*math.Pow(p.BackoffFactor, float64(attempt)), ceiling)
	jitter := backoff * p.JitterFactor * (rand.Float64() - 0.5) * 2

	d := backoff + jitter
	if d > ceiling {
		d = ceiling
	}
	if d < 0 || math.IsNaN(d) {
		d = 0
	}
	return time.Duration(d)
}

// sleep waits for d or until ctx is done
func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
