package ratelimiter

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/oddbit-project/safekeep/utils"
	"golang.org/x/time/rate"
)

const (
	ErrInvalidRateLimit       = utils.Error("rate limit must be positive")
	ErrInvalidBurst           = utils.Error("burst must be positive")
	ErrInvalidTTL             = utils.Error("TTL must be positive")
	ErrInvalidCleanupInterval = utils.Error("cleanup interval must be positive")
)

type limiterEntry struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// Config describes one bucket per key: Burst events at once, refilled at RateLimit per second
type Config struct {
	RateLimit       rate.Limit `json:"rateLimit"`
	Burst           int        `json:"burst"`
	TTL             int        `json:"ttl"`             // seconds
	CleanupInterval int        `json:"cleanupInterval"` // seconds
}

// RateLimiter manages keyed token buckets with expiration
type RateLimiter struct {
	mu          sync.Mutex
	limiters    map[string]*limiterEntry
	rate        rate.Limit
	burst       int
	ttl         time.Duration
	cleanupFreq time.Duration
	clock       clockwork.Clock
	stopCleanup chan struct{}
	done        chan struct{}
	started     atomic.Bool
	startOnce   sync.Once
	stopOnce    sync.Once
}

// NewWindowConfig allows events per window, refilling evenly over the window
func NewWindowConfig(events int, window time.Duration) *Config {
	ttl := int(window.Seconds()) * 2
	if ttl < 1 {
		ttl = 1
	}
	return &Config{
		RateLimit:       rate.Limit(float64(events) / window.Seconds()),
		Burst:           events,
		TTL:             ttl,
		CleanupInterval: ttl,
	}
}

// Validate checks if config values are valid
func (c *Config) Validate() error {
	if c.RateLimit <= 0 {
		return ErrInvalidRateLimit
	}
	if c.Burst <= 0 {
		return ErrInvalidBurst
	}
	if c.TTL <= 0 {
		return ErrInvalidTTL
	}
	if c.CleanupInterval <= 0 {
		return ErrInvalidCleanupInterval
	}
	return nil
}

// NewRateLimiter creates keyed buckets that refill according to clock; a nil clock is the
// real clock
func NewRateLimiter(cfg *Config, clock clockwork.Clock) (*RateLimiter, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &RateLimiter{
		limiters:    make(map[string]*limiterEntry),
		rate:        cfg.RateLimit,
		burst:       cfg.Burst,
		ttl:         time.Duration(cfg.TTL) * time.Second,
		cleanupFreq: time.Duration(cfg.CleanupInterval) * time.Second,
		clock:       clock,
		stopCleanup: make(chan struct{}),
		done:        make(chan struct{}),
	}, nil
}

// Start runs the loop evicting idle buckets; safe to call more than once
func (r *RateLimiter) Start() {
	r.startOnce.Do(func() {
		r.started.Store(true)
		go r.cleanupLoop()
	})
}

// GetLimiter returns the bucket for key, creating a full one when missing
func (r *RateLimiter) GetLimiter(key string) *rate.Limiter {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.clock.Now()
	entry, exists := r.limiters[key]
	if !exists {
		limiter := rate.NewLimiter(r.rate, r.burst)
		r.limiters[key] = &limiterEntry{
			limiter:  limiter,
			lastSeen: now,
		}
		return limiter
	}

	entry.lastSeen = now
	return entry.limiter
}

// Allow takes one token from the bucket of key at the clock's current time
func (r *RateLimiter) Allow(key string) bool {
	return r.GetLimiter(key).AllowN(r.clock.Now(), 1)
}

// Reset drops the bucket for key; the next call starts with a full burst
func (r *RateLimiter) Reset(key string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.limiters, key)
}

// Len returns the number of tracked keys
func (r *RateLimiter) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.limiters)
}

func (r *RateLimiter) cleanupLoop() {
	defer close(r.done)
	ticker := r.clock.NewTicker(r.cleanupFreq)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.Chan():
			r.cleanup()
		case <-r.stopCleanup:
			return
		}
	}
}

// cleanup evicts buckets idle for longer than the TTL
func (r *RateLimiter) cleanup() {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.clock.Now()
	for key, entry := range r.limiters {
		if now.Sub(entry.lastSeen) > r.ttl {
			delete(r.limiters, key)
		}
	}
}

// Shutdown stops the cleanup loop and waits for it to exit; safe to call more than once
func (r *RateLimiter) Shutdown() {
	r.stopOnce.Do(func() {
		close(r.stopCleanup)
	})
	if r.started.Load() {
		<-r.done
	}
}
