package security

import (
	"container/list"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

const (
	defaultMaxTrackedIdentifiers = 10000
	cleanupInterval              = 5 * time.Minute
	maxIdleBeforeCleanup         = 30 * time.Minute
)

// RateLimiter applies a per-identifier token bucket limit. Identifiers are
// arbitrary strings: client IPs, user IDs, or user+client composites for
// security-event throttling. Tracked identifiers are bounded by LRU eviction
// plus periodic idle cleanup so a scan across many IPs cannot grow memory
// without limit.
type RateLimiter struct {
	mu       sync.RWMutex
	buckets  map[string]*list.Element
	lru      *list.List // front = most recently used; values are *bucket
	rate     int
	burst    int
	capacity int
	logger   *slog.Logger
	stop     chan struct{}

	evictions int64
	cleanups  int64
}

type bucket struct {
	id       string
	limiter  *rate.Limiter
	lastSeen time.Time
}

// NewRateLimiter creates a limiter with the default identifier capacity.
func NewRateLimiter(requestsPerSecond, burst int, logger *slog.Logger) *RateLimiter {
	return NewRateLimiterWithConfig(requestsPerSecond, burst, defaultMaxTrackedIdentifiers, logger)
}

// NewRateLimiterWithConfig creates a limiter tracking at most maxEntries
// identifiers; the least recently used one is evicted at capacity. Zero means
// unbounded, which is only sensible for identifier spaces the caller controls.
func NewRateLimiterWithConfig(requestsPerSecond, burst, maxEntries int, logger *slog.Logger) *RateLimiter {
	if logger == nil {
		logger = slog.Default()
	}
	if maxEntries < 0 {
		maxEntries = defaultMaxTrackedIdentifiers
	}

	rl := &RateLimiter{
		buckets:  make(map[string]*list.Element),
		lru:      list.New(),
		rate:     requestsPerSecond,
		burst:    burst,
		capacity: maxEntries,
		logger:   logger,
		stop:     make(chan struct{}),
	}

	go rl.cleanupLoop()

	return rl
}

// Allow reports whether a request attributed to id fits within the limit,
// consuming a token if it does.
func (rl *RateLimiter) Allow(id string) bool {
	now := time.Now()

	rl.mu.Lock()
	defer rl.mu.Unlock()

	if elem, ok := rl.buckets[id]; ok {
		rl.lru.MoveToFront(elem)
		b := elem.Value.(*bucket)
		b.lastSeen = now
		return b.limiter.Allow()
	}

	if rl.capacity > 0 && len(rl.buckets) >= rl.capacity {
		rl.evictOldest()
	}

	b := &bucket{
		id:       id,
		limiter:  rate.NewLimiter(rate.Limit(rl.rate), rl.burst),
		lastSeen: now,
	}
	rl.buckets[id] = rl.lru.PushFront(b)

	return b.limiter.Allow()
}

// evictOldest drops the least recently used bucket. Caller holds the lock.
func (rl *RateLimiter) evictOldest() {
	elem := rl.lru.Back()
	if elem == nil {
		return
	}
	b := elem.Value.(*bucket)
	delete(rl.buckets, b.id)
	rl.lru.Remove(elem)
	rl.evictions++

	rl.logger.Debug("Rate limiter evicted identifier",
		"identifier", b.id,
		"evictions", rl.evictions,
		"tracked", len(rl.buckets))
}

func (rl *RateLimiter) cleanupLoop() {
	ticker := time.NewTicker(cleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			rl.Cleanup(maxIdleBeforeCleanup)
		case <-rl.stop:
			return
		}
	}
}

// Cleanup drops buckets that have been idle longer than maxIdle.
func (rl *RateLimiter) Cleanup(maxIdle time.Duration) {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := time.Now()
	removed := 0

	var next *list.Element
	for elem := rl.lru.Front(); elem != nil; elem = next {
		next = elem.Next()
		b := elem.Value.(*bucket)
		if now.Sub(b.lastSeen) > maxIdle {
			delete(rl.buckets, b.id)
			rl.lru.Remove(elem)
			removed++
		}
	}

	if removed > 0 {
		rl.cleanups++
		rl.logger.Debug("Rate limiter cleanup",
			"removed", removed,
			"tracked", len(rl.buckets),
			"cleanups", rl.cleanups)
	}
}

// Stop terminates the background cleanup goroutine.
func (rl *RateLimiter) Stop() {
	close(rl.stop)
}

// Stats describes limiter occupancy for monitoring.
type Stats struct {
	CurrentEntries int
	MaxEntries     int
	TotalEvictions int64
	TotalCleanups  int64
	MemoryPressure float64 // percent of capacity in use, 0 when unbounded
}

// GetStats returns a snapshot of limiter occupancy.
func (rl *RateLimiter) GetStats() Stats {
	rl.mu.RLock()
	defer rl.mu.RUnlock()

	s := Stats{
		CurrentEntries: len(rl.buckets),
		MaxEntries:     rl.capacity,
		TotalEvictions: rl.evictions,
		TotalCleanups:  rl.cleanups,
	}
	if rl.capacity > 0 {
		s.MemoryPressure = float64(s.CurrentEntries) / float64(rl.capacity) * 100.0
	}
	return s
}
