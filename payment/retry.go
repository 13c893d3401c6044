package payment

import (
	"context"
	"math/rand"
	"sync"
	"time"
)

// RetryPolicy bounds lock acquisition. MaxAttempts counts every try,
// including the first; Jitter spreads each delay by up to that fraction.
type RetryPolicy struct {
	MaxAttempts int
	Delay       time.Duration
	Jitter      float64
}

func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{MaxAttempts: 3, Delay: 100 * time.Millisecond}
}

func (p RetryPolicy) attempts() int {
	if p.MaxAttempts <= 0 {
		return 1
	}
	return p.MaxAttempts
}

// NextDelay returns the wait before the given retry (1-based).
func (p RetryPolicy) NextDelay(attempt int) time.Duration {
	delay := p.Delay
	if delay <= 0 || attempt <= 0 {
		return 0
	}
	if p.Jitter > 0 {
		jitter := p.Jitter
		if jitter > 1 {
			jitter = 1
		}
		spread := float64(delay) * jitter
		delay = time.Duration(float64(delay) - spread + 2*spread*randomFloat())
	}
	return delay
}

var (
	jitterMu   sync.Mutex
	jitterRand = rand.New(rand.NewSource(time.Now().UnixNano()))
)

func randomFloat() float64 {
	jitterMu.Lock()
	defer jitterMu.Unlock()
	return jitterRand.Float64()
}

// Sleeper waits for d or until ctx is done.
type Sleeper func(ctx context.Context, d time.Duration) error

func contextSleep(ctx context.Context, d time.Duration) error {
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
