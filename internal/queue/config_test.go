package queue

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestConfig_Backoff(t *testing.T) {
	cfg := Config{
		InitialBackoff:    2 * time.Second,
		MaxBackoff:        5 * time.Minute,
		BackoffMultiplier: 2.0,
	}

	tests := []struct {
		name     string
		attempt  int
		expected time.Duration
	}{
		{"first failure", 1, 2 * time.Second},
		{"second failure", 2, 4 * time.Second},
		{"third failure", 3, 8 * time.Second},
		{"fourth failure", 4, 16 * time.Second},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, cfg.Backoff(tt.attempt))
		})
	}
}

func TestConfig_Backoff_Capped(t *testing.T) {
	cfg := Config{
		InitialBackoff:    2 * time.Second,
		MaxBackoff:        10 * time.Second,
		BackoffMultiplier: 2.0,
	}

	assert.Equal(t, 10*time.Second, cfg.Backoff(100))
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	assert.Equal(t, 3, cfg.MaxAttempts)
	assert.Equal(t, 2*time.Second, cfg.InitialBackoff)
	assert.Equal(t, 2.0, cfg.BackoffMultiplier)
	assert.Equal(t, 100, cfg.RateLimit)
	assert.Equal(t, 60*time.Second, cfg.RateWindow)
	assert.Equal(t, 7*24*time.Hour, cfg.CompletedRetention)
	assert.Equal(t, 1000, cfg.CompletedCap)
}
