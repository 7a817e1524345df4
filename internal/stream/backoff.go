package stream

import (
	"time"

	"github.com/cenkalti/backoff/v5"
)

// reconnectBackoff doubles the reconnect delay from floor up to ceiling, with no jitter.
type reconnectBackoff struct {
	policy *backoff.ExponentialBackOff
}

func newBackoff(floor, ceiling time.Duration) *reconnectBackoff {
	policy := &backoff.ExponentialBackOff{
		InitialInterval:     floor,
		RandomizationFactor: 0,
		Multiplier:          2,
		MaxInterval:         ceiling,
	}
	policy.Reset()
	return &reconnectBackoff{policy: policy}
}

// next returns the delay to schedule now and doubles the stored delay.
func (b *reconnectBackoff) next() time.Duration {
	return b.policy.NextBackOff()
}

func (b *reconnectBackoff) reset() {
	b.policy.Reset()
}

// liveness counts consecutive ticks without traffic.
type liveness struct {
	timeout time.Duration
	strikes int
	misses  int
}

func newLiveness(timeout time.Duration, strikes int) *liveness {
	return &liveness{timeout: timeout, strikes: strikes}
}

// check records one tick and reports whether the strike limit was reached.
func (l *liveness) check(now, lastMessage time.Time) bool {
	if now.Sub(lastMessage) > l.timeout {
		l.misses++
		return l.misses >= l.strikes
	}
	l.misses = 0
	return false
}

func (l *liveness) reset() {
	l.misses = 0
}
