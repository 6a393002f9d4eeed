package ratelimiter

import (
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name        string
		config      *Config
		expectedErr error
	}{
		{"valid config", &Config{RateLimit: 10, Burst: 5, TTL: 60, CleanupInterval: 30}, nil},
		{"zero rate limit", &Config{RateLimit: 0, Burst: 5, TTL: 60, CleanupInterval: 30}, ErrInvalidRateLimit},
		{"negative burst", &Config{RateLimit: 10, Burst: -1, TTL: 60, CleanupInterval: 30}, ErrInvalidBurst},
		{"zero TTL", &Config{RateLimit: 10, Burst: 5, TTL: 0, CleanupInterval: 30}, ErrInvalidTTL},
		{"zero cleanup interval", &Config{RateLimit: 10, Burst: 5, TTL: 60, CleanupInterval: 0}, ErrInvalidCleanupInterval},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.config.Validate()
			if tt.expectedErr == nil {
				assert.NoError(t, err)
			} else {
				assert.ErrorIs(t, err, tt.expectedErr)
			}
		})
	}
}

func TestNewWindowConfig(t *testing.T) {
	cfg := NewWindowConfig(50, time.Minute)
	require.NoError(t, cfg.Validate())
	assert.Equal(t, 50, cfg.Burst)
	assert.InDelta(t, 50.0/60.0, float64(cfg.RateLimit), 0.0001)
}

func TestRateLimiter_Burst(t *testing.T) {
	clock := clockwork.NewFakeClock()
	rl, err := NewRateLimiter(NewWindowConfig(50, time.Minute), clock)
	require.NoError(t, err)

	for i := 0; i < 50; i++ {
		require.True(t, rl.Allow("storage"), "access %d", i)
	}
	assert.False(t, rl.Allow("storage"))

	// other keys have their own bucket
	assert.True(t, rl.Allow("other"))

	// refill after the window
	clock.Advance(time.Minute)
	assert.True(t, rl.Allow("storage"))
}

func TestRateLimiter_Reset(t *testing.T) {
	rl, err := NewRateLimiter(NewWindowConfig(1, time.Minute), clockwork.NewFakeClock())
	require.NoError(t, err)

	assert.True(t, rl.Allow("k"))
	assert.False(t, rl.Allow("k"))
	rl.Reset("k")
	assert.True(t, rl.Allow("k"))
}

func TestRateLimiter_Cleanup(t *testing.T) {
	clock := clockwork.NewFakeClock()
	rl, err := NewRateLimiter(&Config{RateLimit: 1, Burst: 1, TTL: 10, CleanupInterval: 5}, clock)
	require.NoError(t, err)

	rl.GetLimiter("a")
	assert.Equal(t, 1, rl.Len())
	clock.Advance(11 * time.Second)
	rl.cleanup()
	assert.Equal(t, 0, rl.Len())
}

func TestRateLimiter_StartShutdown(t *testing.T) {
	clock := clockwork.NewFakeClock()
	rl, err := NewRateLimiter(&Config{RateLimit: 1, Burst: 1, TTL: 10, CleanupInterval: 5}, clock)
	require.NoError(t, err)
	rl.Start()
	rl.Start()

	rl.GetLimiter("a")
	assert.Eventually(t, func() bool {
		clock.Advance(5 * time.Second)
		return rl.Len() == 0
	}, time.Second, 10*time.Millisecond)

	rl.Shutdown()
	rl.Shutdown()
}

func TestRateLimiter_ShutdownWithoutStart(t *testing.T) {
	rl, err := NewRateLimiter(NewWindowConfig(5, time.Second), nil)
	require.NoError(t, err)
	rl.Shutdown()
}
