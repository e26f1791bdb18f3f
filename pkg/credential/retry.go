package credential

import (
	"context"
	"math/rand"
	"time"
)

// RetryConfig holds the quota retry budget applied to a single credential.
// The same budget governs pinned and rotation calls.
type RetryConfig struct {
	// MaxAttempts is the number of calls made with one credential before it is
	// marked exhausted (including the initial call).
	MaxAttempts int

	// InitialBackoff is the wait before the second attempt.
	InitialBackoff time.Duration

	// MaxBackoff caps the backoff between attempts.
	MaxBackoff time.Duration

	// BackoffMultiplier grows the backoff between attempts (1 keeps it fixed).
	BackoffMultiplier float64

	// Jitter adds ±20% randomness to each backoff.
	Jitter bool
}

// DefaultRetryConfig returns two attempts with a fixed 20 second backoff.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts:       2,
		InitialBackoff:    20 * time.Second,
		MaxBackoff:        60 * time.Second,
		BackoffMultiplier: 1.0,
	}
}

// backoff returns the wait before attempt+1, attempt being 1-based.
func (c RetryConfig) backoff(attempt int) time.Duration {
	d := c.InitialBackoff
	for i := 1; i < attempt; i++ {
		d = time.Duration(float64(d) * c.BackoffMultiplier)
		if c.MaxBackoff > 0 && d > c.MaxBackoff {
			d = c.MaxBackoff
			break
		}
	}
	if c.Jitter {
		d = time.Duration(float64(d) * (0.8 + rand.Float64()*0.4))
	}
	return d
}

func (c RetryConfig) attempts() int {
	if c.MaxAttempts < 1 {
		return 1
	}
	return c.MaxAttempts
}

// SleepFunc waits for d or until ctx is done.
type SleepFunc func(ctx context.Context, d time.Duration) error

// Sleep is the default SleepFunc.
func Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
