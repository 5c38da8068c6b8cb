package ratelimit

import (
	"context"
	"sync"
	"time"
)

// bucketIdleTTL is how long an untouched bucket survives before the sweep
// evicts it. Generous: an evicted bucket reinitializes to full capacity.
const bucketIdleTTL = 2 * time.Hour

type bucket struct {
	mu         sync.Mutex
	tokens     float64
	lastRefill time.Time
}

// MemoryBuckets is the in-process BucketStore. Each bucket carries its own
// mutex so concurrent requests for the same identity serialize on the
// refill-and-take step without contending across identities.
type MemoryBuckets struct {
	mu      sync.Mutex
	buckets map[string]*bucket
	doneCh  chan struct{}
	once    sync.Once
}

// NewMemoryBuckets creates an in-process bucket store and starts its
// idle-bucket sweep.
func NewMemoryBuckets() *MemoryBuckets {
	m := &MemoryBuckets{
		buckets: make(map[string]*bucket),
		doneCh:  make(chan struct{}),
	}
	go m.sweepLoop()
	return m
}

func (m *MemoryBuckets) Take(_ context.Context, key string, capacity, refillPerSec float64, now time.Time) (bool, float64, time.Duration, error) {
	m.mu.Lock()
	b, ok := m.buckets[key]
	if !ok {
		// Lazily initialized to full capacity on first use.
		b = &bucket{tokens: capacity, lastRefill: now}
		m.buckets[key] = b
	}
	m.mu.Unlock()

	b.mu.Lock()
	defer b.mu.Unlock()

	if elapsed := now.Sub(b.lastRefill).Seconds(); elapsed > 0 {
		b.tokens += elapsed * refillPerSec
		if b.tokens > capacity {
			b.tokens = capacity
		}
		b.lastRefill = now
	}

	if b.tokens >= 1 {
		b.tokens--
		return true, b.tokens, 0, nil
	}
	return false, b.tokens, retryAfterFor(b.tokens, refillPerSec), nil
}

// Close stops the idle-bucket sweep.
func (m *MemoryBuckets) Close() error {
	m.once.Do(func() { close(m.doneCh) })
	return nil
}

func (m *MemoryBuckets) sweepLoop() {
	ticker := time.NewTicker(10 * time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-m.doneCh:
			return
		case <-ticker.C:
			m.sweep(time.Now())
		}
	}
}

func (m *MemoryBuckets) sweep(now time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for key, b := range m.buckets {
		b.mu.Lock()
		idle := now.Sub(b.lastRefill)
		b.mu.Unlock()
		if idle > bucketIdleTTL {
			delete(m.buckets, key)
		}
	}
}
