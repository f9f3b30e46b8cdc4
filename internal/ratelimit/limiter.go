package ratelimit

import (
	"math"
	"sync"
	"time"

	"bizdir/internal/bucketing"
)

// Process-wide, in-memory rate limiting. Keys (emails, IPs) are spread over
// murmur3-bucketed shards so concurrent checks on unrelated keys never
// contend on the same mutex. State is per process; see the deployment notes
// for the single-instance assumption.

const defaultShards = 16

// IntervalLimiter enforces a minimum interval between sends for the same
// key. Used for "resend this email" actions.
type IntervalLimiter struct {
	interval time.Duration
	buckets  *bucketing.Manager
	shards   []*intervalShard
	now      func() time.Time
}

type intervalShard struct {
	mu       sync.Mutex
	lastSent map[string]time.Time
}

// NewIntervalLimiter creates an interval limiter with the given minimum gap.
func NewIntervalLimiter(interval time.Duration) *IntervalLimiter {
	l := &IntervalLimiter{
		interval: interval,
		buckets:  bucketing.NewManager(defaultShards),
		shards:   make([]*intervalShard, defaultShards),
		now:      time.Now,
	}
	for i := range l.shards {
		l.shards[i] = &intervalShard{lastSent: make(map[string]time.Time)}
	}
	return l
}

// SetClock overrides the limiter's clock. Tests only.
func (l *IntervalLimiter) SetClock(now func() time.Time) {
	l.now = now
}

// Check reports whether a send for key is allowed. When denied, the second
// return value is the whole number of seconds until the next allowed send,
// always at least 1.
func (l *IntervalLimiter) Check(key string) (bool, int) {
	shard := l.shards[l.buckets.GetBucket(key)]
	shard.mu.Lock()
	defer shard.mu.Unlock()

	last, ok := shard.lastSent[key]
	if !ok {
		return true, 0
	}

	elapsed := l.now().Sub(last)
	if elapsed >= l.interval {
		// Stale entry, eligible for eviction.
		delete(shard.lastSent, key)
		return true, 0
	}

	remaining := int(math.Ceil((l.interval - elapsed).Seconds()))
	if remaining < 1 {
		remaining = 1
	}
	return false, remaining
}

// MarkSent records a send for key.
func (l *IntervalLimiter) MarkSent(key string) {
	shard := l.shards[l.buckets.GetBucket(key)]
	shard.mu.Lock()
	shard.lastSent[key] = l.now()
	shard.mu.Unlock()
}

// SlidingWindowLimiter caps the number of sends per key within a moving
// window. Used for per-origin abuse control such as IP-based limits.
type SlidingWindowLimiter struct {
	window  time.Duration
	limit   int
	buckets *bucketing.Manager
	shards  []*windowShard
	now     func() time.Time
}

type windowShard struct {
	mu    sync.Mutex
	sends map[string][]time.Time
}

// NewSlidingWindowLimiter creates a limiter allowing limit sends per window.
func NewSlidingWindowLimiter(limit int, window time.Duration) *SlidingWindowLimiter {
	l := &SlidingWindowLimiter{
		window:  window,
		limit:   limit,
		buckets: bucketing.NewManager(defaultShards),
		shards:  make([]*windowShard, defaultShards),
		now:     time.Now,
	}
	for i := range l.shards {
		l.shards[i] = &windowShard{sends: make(map[string][]time.Time)}
	}
	return l
}

// SetClock overrides the limiter's clock. Tests only.
func (l *SlidingWindowLimiter) SetClock(now func() time.Time) {
	l.now = now
}

// Check evicts entries older than the window for key, then reports whether
// another send is allowed. When denied, the second return value is the
// whole number of seconds until the oldest counted entry leaves the window.
func (l *SlidingWindowLimiter) Check(key string) (bool, int) {
	shard := l.shards[l.buckets.GetBucket(key)]
	shard.mu.Lock()
	defer shard.mu.Unlock()

	now := l.now()
	recent := l.evictLocked(shard, key, now)

	if len(recent) < l.limit {
		return true, 0
	}

	retryAt := recent[0].Add(l.window)
	remaining := int(math.Ceil(retryAt.Sub(now).Seconds()))
	if remaining < 1 {
		remaining = 1
	}
	return false, remaining
}

// MarkSent appends a send timestamp for key.
func (l *SlidingWindowLimiter) MarkSent(key string) {
	shard := l.shards[l.buckets.GetBucket(key)]
	shard.mu.Lock()
	defer shard.mu.Unlock()

	now := l.now()
	recent := l.evictLocked(shard, key, now)
	shard.sends[key] = append(recent, now)
}

func (l *SlidingWindowLimiter) evictLocked(shard *windowShard, key string, now time.Time) []time.Time {
	sends := shard.sends[key]
	cutoff := now.Add(-l.window)

	i := 0
	for i < len(sends) && !sends[i].After(cutoff) {
		i++
	}
	sends = sends[i:]

	if len(sends) == 0 {
		delete(shard.sends, key)
		return nil
	}
	shard.sends[key] = sends
	return sends
}
