package processor

import (
	"context"
	"math"
	"time"
)

// RetryPolicy governs OCR and interpreter retries on transient failures.
type RetryPolicy struct {
	MaxRetries  int
	BaseBackoff time.Duration
	Multiplier  float64
}

// DefaultRetryPolicy is two retries at 1s then 2s.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{MaxRetries: 2, BaseBackoff: time.Second, Multiplier: 2}
}

// Backoff returns the wait before retry n (0-based): base * multiplier^n.
func (p RetryPolicy) Backoff(n int) time.Duration {
	mult := p.Multiplier
	if mult < 1 {
		mult = 1
	}
	return time.Duration(float64(p.BaseBackoff) * math.Pow(mult, float64(n)))
}

// sleepContext waits for d or until ctx is done.
func sleepContext(ctx context.Context, d time.Duration) error {
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
