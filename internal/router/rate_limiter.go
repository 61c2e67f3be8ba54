package router

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// RateLimiterConfig sets the per-user token bucket
type RateLimiterConfig struct {
	EventsPerSecond float64
	Burst           int
	CleanupInterval time.Duration
}

// DefaultRateLimiterConfig allows a steady 5 events/sec with bursts of 20
func DefaultRateLimiterConfig() RateLimiterConfig {
	return RateLimiterConfig{
		EventsPerSecond: 5,
		Burst:           20,
		CleanupInterval: 5 * time.Minute,
	}
}

type userLimiter struct {
	limiter    *rate.Limiter
	lastAccess time.Time
}

// RateLimiter applies a token bucket per user id
// ARCHITECTURAL DISCOVERY: Per-user state is swept by a background loop so users who
// disconnected long ago do not pin their limiter in memory
type RateLimiter struct {
	config RateLimiterConfig

	mu       sync.Mutex
	limiters map[string]*userLimiter

	stopCh   chan struct{}
	stopOnce sync.Once
}

// NewRateLimiter creates a limiter and starts its cleanup loop
func NewRateLimiter(config RateLimiterConfig) *RateLimiter {
	if config.CleanupInterval <= 0 {
		config.CleanupInterval = DefaultRateLimiterConfig().CleanupInterval
	}
	rl := &RateLimiter{
		config:   config,
		limiters: make(map[string]*userLimiter),
		stopCh:   make(chan struct{}),
	}

	go rl.cleanupLoop()

	return rl
}

// Stop ends the cleanup loop; safe to call more than once
func (rl *RateLimiter) Stop() {
	rl.stopOnce.Do(func() { close(rl.stopCh) })
}

// Allow consumes one token for userID and reports whether the event may proceed
func (rl *RateLimiter) Allow(userID string) bool {
	rl.mu.Lock()
	ul, exists := rl.limiters[userID]
	if !exists {
		ul = &userLimiter{
			limiter: rate.NewLimiter(rate.Limit(rl.config.EventsPerSecond), rl.config.Burst),
		}
		rl.limiters[userID] = ul
	}
	ul.lastAccess = time.Now()
	rl.mu.Unlock()

	return ul.limiter.Allow()
}

// Count returns how many users currently hold a limiter
func (rl *RateLimiter) Count() int {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	return len(rl.limiters)
}

func (rl *RateLimiter) cleanupLoop() {
	ticker := time.NewTicker(rl.config.CleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			rl.cleanup(time.Now())
		case <-rl.stopCh:
			return
		}
	}
}

// cleanup drops limiters idle for more than twice the cleanup interval
func (rl *RateLimiter) cleanup(now time.Time) {
	ttl := rl.config.CleanupInterval * 2

	rl.mu.Lock()
	defer rl.mu.Unlock()
	for userID, ul := range rl.limiters {
		if now.Sub(ul.lastAccess) > ttl {
			delete(rl.limiters, userID)
		}
	}
}
