package ratelimiter

import (
	"math"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// MapLimiter spaces events per string key: one event per interval, tracked by
// a burst-1 token bucket per key. Idle keys are evicted once their bucket has
// been full for longer than the idle TTL, so eviction never shortens spacing.
type MapLimiter struct {
	interval time.Duration
	limit    rate.Limit
	mu       sync.Mutex
	byKey    map[string]*entry
	hits     uint64
	idleTTL  time.Duration
}

type entry struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

const sweepEvery = 512

// New returns nil when interval is not positive; a nil limiter never delays.
func New(interval, idleTTL time.Duration) *MapLimiter {
	if interval <= 0 {
		return nil
	}
	if idleTTL <= 0 {
		idleTTL = 30 * time.Minute
	}
	if idleTTL < interval {
		idleTTL = interval
	}
	return &MapLimiter{
		interval: interval,
		limit:    rate.Every(interval),
		byKey:    make(map[string]*entry),
		idleTTL:  idleTTL,
	}
}

// Delay reports how long the key must wait at now before its next event.
func (l *MapLimiter) Delay(key string, now time.Time) time.Duration {
	if l == nil {
		return 0
	}
	key = strings.TrimSpace(key)
	if key == "" {
		return 0
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	e, ok := l.byKey[key]
	if !ok {
		return 0
	}
	tokens := e.limiter.TokensAt(now)
	if tokens >= 1 {
		return 0
	}
	missing := (1 - tokens) / float64(l.limit)
	return time.Duration(math.Ceil(missing * float64(time.Second)))
}

// Record consumes the key's token at now. Recording early pushes the next
// allowed event further out instead of failing.
func (l *MapLimiter) Record(key string, now time.Time) {
	if l == nil {
		return
	}
	key = strings.TrimSpace(key)
	if key == "" {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	e, ok := l.byKey[key]
	if !ok {
		e = &entry{limiter: rate.NewLimiter(l.limit, 1)}
		l.byKey[key] = e
	}
	e.lastSeen = now
	e.limiter.ReserveN(now, 1)

	l.hits++
	if l.hits%sweepEvery == 0 {
		l.sweepLocked(now)
	}
}

// Sweep evicts idle keys immediately.
func (l *MapLimiter) Sweep(now time.Time) int {
	if l == nil {
		return 0
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.sweepLocked(now)
}

func (l *MapLimiter) Len() int {
	if l == nil {
		return 0
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.byKey)
}

func (l *MapLimiter) Interval() time.Duration {
	if l == nil {
		return 0
	}
	return l.interval
}

func (l *MapLimiter) sweepLocked(now time.Time) int {
	cutoff := now.Add(-l.idleTTL)
	removed := 0
	for k, v := range l.byKey {
		if v.lastSeen.Before(cutoff) {
			delete(l.byKey, k)
			removed++
		}
	}
	return removed
}
