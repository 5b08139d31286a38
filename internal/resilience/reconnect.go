package resilience

import (
	"math/rand/v2"
	"time"
)

// ReconnectConfig holds configuration for connection-level reconnection
type ReconnectConfig struct {
	MaxAttempts int           // Failed probes tolerated before giving up
	Backoff     time.Duration // Backoff after the first failure
	MaxBackoff  time.Duration // Cap applied before jitter
	MaxJitter   time.Duration // Upper bound of the random jitter
}

// DefaultReconnectConfig returns a default reconnection configuration
func DefaultReconnectConfig() *ReconnectConfig {
	return &ReconnectConfig{
		MaxAttempts: 5,
		Backoff:     1 * time.Second,
		MaxBackoff:  10 * time.Second,
		MaxJitter:   1 * time.Second,
	}
}

// ReconnectSchedule tells a connection state machine when to probe again
type ReconnectSchedule struct {
	config ReconnectConfig
	jitter func(n int64) int64
}

// NewReconnectSchedule creates a schedule; nil config uses the defaults
func NewReconnectSchedule(config *ReconnectConfig) *ReconnectSchedule {
	if config == nil {
		config = DefaultReconnectConfig()
	}
	return &ReconnectSchedule{config: *config, jitter: rand.Int64N}
}

// MaxAttempts returns how many failed probes are tolerated
func (s *ReconnectSchedule) MaxAttempts() int {
	return s.config.MaxAttempts
}

// Exhausted reports whether failedAttempts has used up the budget
func (s *ReconnectSchedule) Exhausted(failedAttempts int) bool {
	return failedAttempts >= s.config.MaxAttempts
}

// Next returns the wait before the next probe after failedAttempts failures
// (1-based: the first failure waits the base backoff)
func (s *ReconnectSchedule) Next(failedAttempts int) time.Duration {
	attempt := failedAttempts - 1
	if attempt < 0 {
		attempt = 0
	}
	d := CalculateBackoff(attempt, s.config.Backoff, s.config.MaxBackoff, 2.0)
	if s.config.MaxJitter > 0 {
		d += time.Duration(s.jitter(int64(s.config.MaxJitter)))
	}
	return d
}
