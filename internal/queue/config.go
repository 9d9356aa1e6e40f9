package queue

import "time"

// Config tunes queue scheduling, retry, and retention behavior.
type Config struct {
	MaxAttempts       int
	InitialBackoff    time.Duration
	MaxBackoff        time.Duration
	BackoffMultiplier float64

	// RateLimit claims are admitted per RateWindow, process-wide.
	RateLimit  int
	RateWindow time.Duration

	// ClaimHeartbeat bounds how long an entry may stay active without an
	// Ack before it is treated as a failed attempt and rescheduled.
	ClaimHeartbeat time.Duration

	// CompletedRetention and CompletedCap bound completed-entry history;
	// whichever is exceeded first evicts the oldest completed entries.
	CompletedRetention time.Duration
	CompletedCap       int
}

// DefaultConfig returns the production defaults.
func DefaultConfig() Config {
	return Config{
		MaxAttempts:        3,
		InitialBackoff:     2 * time.Second,
		MaxBackoff:         5 * time.Minute,
		BackoffMultiplier:  2.0,
		RateLimit:          100,
		RateWindow:         60 * time.Second,
		ClaimHeartbeat:     2 * time.Minute,
		CompletedRetention: 7 * 24 * time.Hour,
		CompletedCap:       1000,
	}
}

// Backoff returns the retry delay after the given failed attempt number
// (1-based): InitialBackoff doubled per attempt, capped at MaxBackoff.
func (c Config) Backoff(attempt int) time.Duration {
	backoff := float64(c.InitialBackoff)
	for i := 1; i < attempt; i++ {
		backoff *= c.BackoffMultiplier
	}
	if backoff > float64(c.MaxBackoff) {
		backoff = float64(c.MaxBackoff)
	}
	return time.Duration(backoff)
}
