package stt

import (
	"context"
	"time"

	"github.com/talkghana/asr-gateway/internal/apierror"
	"github.com/talkghana/asr-gateway/internal/audio"
)

// Request is one logical transcription call
type Request struct {
	Payload audio.Payload

	// Language is the spoken language code (e.g. "twi"); empty uses the default
	Language string

	// Model overrides the model chosen for Language
	Model string
}

// Result represents a transcription result from the ASR endpoint
type Result struct {
	// Text is the transcribed text, never empty on success
	Text string `json:"text"`

	// Confidence is the confidence score (0.0 to 1.0) if the endpoint reported one
	Confidence *float64 `json:"confidence,omitempty"`

	// Language is the detected or requested language
	Language string `json:"language,omitempty"`

	// Model is the model that produced the text
	Model string `json:"model,omitempty"`

	// Cached is set when the result was served from the result cache
	Cached bool `json:"cached,omitempty"`
}

// Transcriber performs a single transcription attempt against a backend.
// Implementations must honour ctx cancellation and must not retry.
type Transcriber interface {
	Transcribe(ctx context.Context, req Request) (*Result, error)
}

// Prober reports whether the endpoint is reachable. Check never fails loudly:
// every failure mode, including timeout, is reported as false.
type Prober interface {
	Check(ctx context.Context) bool
}

// RetryContext tracks one logical request across its attempts
type RetryContext struct {
	Attempt   int
	LastError apierror.Kind
	StartedAt time.Time
}

// HealthStatus is the connection manager's view of endpoint health
type HealthStatus struct {
	LastCheckedAt       *time.Time `json:"last_checked_at"`
	ConsecutiveFailures int        `json:"consecutive_failures"`
}
