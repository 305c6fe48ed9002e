package supervisor

import (
	"context"
	"math/rand"
	"sync"
	"time"
)

// Backoff yields exponentially growing delays between Min and Max with up
// to 25% jitter. Safe for concurrent use.
type Backoff struct {
	Min, Max time.Duration

	mu  sync.Mutex
	cur time.Duration
	rng *rand.Rand
}

func NewBackoff(min, max time.Duration) *Backoff {
	if min <= 0 {
		min = 250 * time.Millisecond
	}
	if max < min {
		max = min
	}
	return &Backoff{Min: min, Max: max, rng: rand.New(rand.NewSource(time.Now().UnixNano()))}
}

// Next returns the delay to wait now and doubles the following one.
func (b *Backoff) Next() time.Duration {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.cur < b.Min {
		b.cur = b.Min
	}
	d := b.cur
	b.cur = min(b.cur*2, b.Max)
	if j := int64(d) / 4; j > 0 {
		d += time.Duration(b.rng.Int63n(j + 1))
	}
	return d
}

func (b *Backoff) Reset() {
	b.mu.Lock()
	b.cur = b.Min
	b.mu.Unlock()
}

// Sleep waits d. It returns false if ctx ended first.
func Sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
