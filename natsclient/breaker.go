package natsclient

import (
	"sync"
	"time"
)

const initialBackoff = time.Second

// breaker counts failed connection attempts. Every threshold failures it
// opens for the current backoff and doubles the backoff for the next
// opening, up to max.
type breaker struct {
	threshold int32
	max       time.Duration

	mu          sync.Mutex
	failures    int32
	round       int32
	backoff     time.Duration
	lastFailure time.Time
}

func newBreaker(threshold int32, max time.Duration) *breaker {
	return &breaker{threshold: threshold, max: max, backoff: initialBackoff}
}

// fail records a failure. When it completes a round it returns true and how
// long the circuit stays open.
func (b *breaker) fail() (bool, time.Duration) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.failures++
	b.round++
	b.lastFailure = time.Now()
	if b.round < b.threshold {
		return false, 0
	}
	b.round = 0
	wait := b.backoff
	b.backoff = min(b.backoff*2, b.max)
	return true, wait
}

func (b *breaker) reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.failures, b.round = 0, 0
	b.backoff = initialBackoff
	b.lastFailure = time.Time{}
}

func (b *breaker) snapshot() (failures int32, backoff time.Duration, last time.Time) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.failures, b.backoff, b.lastFailure
}
