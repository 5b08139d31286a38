package resilience

import (
	"math"
	"math/rand/v2"
	"time"

	"github.com/talkghana/asr-gateway/internal/apierror"
)

// RetryConfig holds configuration for per-request retries
type RetryConfig struct {
	MaxRetries int           // Retries after the first attempt
	BaseDelay  time.Duration // Backoff for attempt 0
	MaxDelay   time.Duration // Cap applied before jitter
	MaxJitter  time.Duration // Upper bound of the random jitter added to each delay
}

// DefaultRetryConfig returns the default retry configuration
func DefaultRetryConfig() *RetryConfig {
	return &RetryConfig{
		MaxRetries: 3,
		BaseDelay:  1 * time.Second,
		MaxDelay:   10 * time.Second,
		MaxJitter:  1 * time.Second,
	}
}

// Decision is the outcome of consulting a RetryPolicy
type Decision struct {
	Retry bool
	Delay time.Duration
}

// RetryPolicy decides whether a failed request should be retried and how long
// to wait first. It holds no per-request state.
type RetryPolicy struct {
	config RetryConfig
	jitter func(n int64) int64
}

// NewRetryPolicy creates a retry policy; nil config uses the defaults
func NewRetryPolicy(config *RetryConfig) *RetryPolicy {
	if config == nil {
		config = DefaultRetryConfig()
	}
	return &RetryPolicy{
		config: *config,
		jitter: rand.Int64N,
	}
}

// MaxRetries returns the configured retry budget
func (p *RetryPolicy) MaxRetries() int {
	return p.config.MaxRetries
}

// IsRetryable reports whether failures of this kind are worth retrying.
// RateLimited is surfaced to the caller rather than retried so the client does
// not amplify throttling.
func IsRetryable(kind apierror.Kind) bool {
	switch kind {
	case apierror.KindTimeout, apierror.KindNetworkError, apierror.KindServerUnavailable:
		return true
	default:
		return false
	}
}

// Decide returns whether to retry after a failure of the given kind on the
// given 0-based attempt, and the delay before the next attempt
func (p *RetryPolicy) Decide(kind apierror.Kind, attempt int) Decision {
	if !IsRetryable(kind) || attempt >= p.config.MaxRetries {
		return Decision{}
	}
	return Decision{Retry: true, Delay: p.Delay(attempt)}
}

// Delay returns the jittered backoff for an attempt
func (p *RetryPolicy) Delay(attempt int) time.Duration {
	return p.BaseBackoff(attempt) + p.randomJitter()
}

// BaseBackoff returns the capped exponential backoff without jitter
func (p *RetryPolicy) BaseBackoff(attempt int) time.Duration {
	return CalculateBackoff(attempt, p.config.BaseDelay, p.config.MaxDelay, 2.0)
}

func (p *RetryPolicy) randomJitter() time.Duration {
	if p.config.MaxJitter <= 0 {
		return 0
	}
	return time.Duration(p.jitter(int64(p.config.MaxJitter)))
}

// CalculateBackoff calculates the backoff duration for a given attempt
func CalculateBackoff(attempt int, initialBackoff time.Duration, maxBackoff time.Duration, multiplier float64) time.Duration {
	if attempt < 0 {
		attempt = 0
	}
	backoff := float64(initialBackoff) * math.Pow(multiplier, float64(attempt))
	if backoff > float64(maxBackoff) || math.IsInf(backoff, 0) {
		return maxBackoff
	}
	return time.Duration(backoff)
}
