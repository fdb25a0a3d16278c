package ratelimit

import (
	"context"
	"sync"
	"time"
)

// defaultSweepEvery is how many hits pass between scans for idle keys.
const defaultSweepEvery = 1024

type bucket struct {
	hits     []int64 // ms, ascending
	windowMs int64
}

// MemoryStore keeps a sliding window of hit timestamps per key. State lives in
// the process only; a restart resets every counter. Keys whose newest hit has
// left their window are dropped periodically, so the map only holds actors
// seen within their window.
type MemoryStore struct {
	mu         sync.Mutex
	buckets    map[string]*bucket
	now        func() time.Time
	calls      int
	sweepEvery int
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		buckets:    make(map[string]*bucket),
		now:        time.Now,
		sweepEvery: defaultSweepEvery,
	}
}

// WithClock swaps the time source, for tests.
func (s *MemoryStore) WithClock(now func() time.Time) *MemoryStore {
	s.now = now
	return s
}

// Len returns the number of tracked keys.
func (s *MemoryStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.buckets)
}

func (s *MemoryStore) Hit(_ context.Context, key string, limit int, window time.Duration) (Result, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if limit <= 0 {
		return Result{Allowed: false, RetryAfterSeconds: retryAfterSeconds(0, 0, window)}, nil
	}

	nowMs := s.now().UnixMilli()
	windowMs := window.Milliseconds()

	s.calls++
	if s.calls >= s.sweepEvery {
		s.calls = 0
		s.sweep(nowMs)
	}

	b, ok := s.buckets[key]
	if !ok {
		b = &bucket{}
		s.buckets[key] = b
	}
	b.windowMs = windowMs

	// timestamps are appended in order, so the survivors are a suffix
	cutoff := nowMs - windowMs
	start := 0
	for start < len(b.hits) && b.hits[start] < cutoff {
		start++
	}
	b.hits = b.hits[start:]

	if len(b.hits) >= limit {
		return Result{
			Allowed:           false,
			Remaining:         0,
			RetryAfterSeconds: retryAfterSeconds(b.hits[0], nowMs, window),
		}, nil
	}

	b.hits = append(b.hits, nowMs)
	return Result{Allowed: true, Remaining: limit - len(b.hits)}, nil
}

// sweep drops keys with no hit inside their window. Callers hold mu.
func (s *MemoryStore) sweep(nowMs int64) {
	for key, b := range s.buckets {
		if len(b.hits) == 0 || b.hits[len(b.hits)-1] < nowMs-b.windowMs {
			delete(s.buckets, key)
		}
	}
}
