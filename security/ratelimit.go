package security

import (
	"container/list"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/coder/quartz"
	"golang.org/x/time/rate"
)

const (
	// DefaultRateLimitMaxEntries bounds the number of tracked client IPs.
	DefaultRateLimitMaxEntries = 10000

	rateLimitCleanupInterval = 5 * time.Minute
	rateLimitIdleTimeout     = 30 * time.Minute
)

type limiterEntry struct {
	key        string
	limiter    *rate.Limiter
	lastAccess time.Time
}

// RateLimiter is a per-key token bucket with LRU eviction. It guards the
// connect and callback endpoints, which each cost a provider round trip.
type RateLimiter struct {
	mu         sync.Mutex
	limiters   map[string]*list.Element
	lru        *list.List
	limit      rate.Limit
	burst      int
	maxEntries int

	clock       quartz.Clock
	logger      *slog.Logger
	stopCleanup chan struct{}
	stopOnce    sync.Once

	evictions int64
}

// NewRateLimiter creates a limiter allowing requestsPerSecond with the given burst per key.
func NewRateLimiter(requestsPerSecond, burst int, logger *slog.Logger) *RateLimiter {
	return NewRateLimiterWithClock(requestsPerSecond, burst, DefaultRateLimitMaxEntries, quartz.NewReal(), logger)
}

// NewRateLimiterWithClock is NewRateLimiter with an explicit entry bound and clock.
func NewRateLimiterWithClock(requestsPerSecond, burst, maxEntries int, clock quartz.Clock, logger *slog.Logger) *RateLimiter {
	if logger == nil {
		logger = slog.Default()
	}
	if maxEntries <= 0 {
		maxEntries = DefaultRateLimitMaxEntries
	}
	if clock == nil {
		clock = quartz.NewReal()
	}

	rl := &RateLimiter{
		limiters:    make(map[string]*list.Element),
		lru:         list.New(),
		limit:       rate.Limit(requestsPerSecond),
		burst:       burst,
		maxEntries:  maxEntries,
		clock:       clock,
		logger:      logger,
		stopCleanup: make(chan struct{}),
	}

	go rl.cleanupLoop()

	return rl
}

// Allow reports whether a request for key may proceed now.
func (rl *RateLimiter) Allow(key string) bool {
	now := rl.clock.Now()

	rl.mu.Lock()
	defer rl.mu.Unlock()

	if elem, ok := rl.limiters[key]; ok {
		rl.lru.MoveToFront(elem)
		entry := elem.Value.(*limiterEntry)
		entry.lastAccess = now
		return entry.limiter.AllowN(now, 1)
	}

	if len(rl.limiters) >= rl.maxEntries {
		rl.evictOldest()
	}

	entry := &limiterEntry{
		key:        key,
		limiter:    rate.NewLimiter(rl.limit, rl.burst),
		lastAccess: now,
	}
	rl.limiters[key] = rl.lru.PushFront(entry)

	return entry.limiter.AllowN(now, 1)
}

// Must be called with mu held.
func (rl *RateLimiter) evictOldest() {
	elem := rl.lru.Back()
	if elem == nil {
		return
	}
	entry := elem.Value.(*limiterEntry)
	delete(rl.limiters, entry.key)
	rl.lru.Remove(elem)
	rl.evictions++

	rl.logger.Debug("Rate limiter LRU eviction",
		"total_evictions", rl.evictions,
		"current_entries", len(rl.limiters))
}

func (rl *RateLimiter) cleanupLoop() {
	ticker := rl.clock.NewTicker(rateLimitCleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			rl.Cleanup(rateLimitIdleTimeout)
		case <-rl.stopCleanup:
			return
		}
	}
}

// Cleanup drops limiters idle for longer than maxIdle.
func (rl *RateLimiter) Cleanup(maxIdle time.Duration) int {
	now := rl.clock.Now()

	rl.mu.Lock()
	defer rl.mu.Unlock()

	removed := 0
	for elem := rl.lru.Back(); elem != nil; {
		prev := elem.Prev()
		entry := elem.Value.(*limiterEntry)
		if now.Sub(entry.lastAccess) <= maxIdle {
			break
		}
		delete(rl.limiters, entry.key)
		rl.lru.Remove(elem)
		removed++
		elem = prev
	}

	if removed > 0 {
		rl.logger.Debug("Rate limiter cleanup completed",
			"removed", removed,
			"remaining", len(rl.limiters))
	}
	return removed
}

// Len returns the number of tracked keys.
func (rl *RateLimiter) Len() int {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	return len(rl.limiters)
}

// Stop terminates the cleanup goroutine. It is safe to call more than once.
func (rl *RateLimiter) Stop() {
	rl.stopOnce.Do(func() { close(rl.stopCleanup) })
}

// Middleware rejects requests over the limit. keyFunc selects the bucket,
// typically the client IP. onReject writes the rejection; when nil a plain
// 429 is sent. Retry-After is set either way.
func (rl *RateLimiter) Middleware(keyFunc func(*http.Request) string, onReject func(http.ResponseWriter, *http.Request, string)) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := keyFunc(r)
			if !rl.Allow(key) {
				w.Header().Set("Retry-After", "1")
				if onReject != nil {
					onReject(w, r, key)
					return
				}
				http.Error(w, http.StatusText(http.StatusTooManyRequests), http.StatusTooManyRequests)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
