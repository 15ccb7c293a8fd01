package ratelimit

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

type entry struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// KeyedLimiter keeps one token bucket per key (usually a client IP) and
// evicts buckets that have been idle for longer than idleTTL.
type KeyedLimiter struct {
	mu       sync.Mutex
	limiters map[string]*entry
	limit    rate.Limit
	burst    int
	idleTTL  time.Duration
	now      func() time.Time

	stopOnce sync.Once
	stopChan chan struct{}
}

// NewKeyedLimiter allows perSecond requests per key with the given burst
func NewKeyedLimiter(perSecond float64, burst int, idleTTL time.Duration) *KeyedLimiter {
	return &KeyedLimiter{
		limiters: make(map[string]*entry),
		limit:    rate.Limit(perSecond),
		burst:    burst,
		idleTTL:  idleTTL,
		now:      time.Now,
		stopChan: make(chan struct{}),
	}
}

// Allow consumes a token for key
func (l *KeyedLimiter) Allow(key string) bool {
	l.mu.Lock()
	e, ok := l.limiters[key]

	if !ok {
		e = &entry{limiter: rate.NewLimiter(l.limit, l.burst)}
		l.limiters[key] = e
	}

	now := l.now()
	e.lastSeen = now
	l.mu.Unlock()

	return e.limiter.AllowN(now, 1)
}

// Evict drops idle buckets and returns how many were removed
func (l *KeyedLimiter) Evict() int {
	l.mu.Lock()
	defer l.mu.Unlock()

	cutoff := l.now().Add(-l.idleTTL)
	removed := 0

	for key, e := range l.limiters {
		if e.lastSeen.Before(cutoff) {
			delete(l.limiters, key)
			removed++
		}
	}

	return removed
}

// Len returns the number of tracked keys
func (l *KeyedLimiter) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()

	return len(l.limiters)
}

// StartCleanup evicts idle buckets every interval until Stop
func (l *KeyedLimiter) StartCleanup(interval time.Duration) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				l.Evict()
			case <-l.stopChan:
				return
			}
		}
	}()
}

// Stop ends the cleanup goroutine
func (l *KeyedLimiter) Stop() {
	l.stopOnce.Do(func() { close(l.stopChan) })
}

// Settings describes the limiter for the admin API
func (l *KeyedLimiter) Settings() map[string]interface{} {
	return map[string]interface{}{
		"per_second":   float64(l.limit),
		"burst":        l.burst,
		"idle_ttl":     l.idleTTL.String(),
		"tracked_keys": l.Len(),
	}
}
