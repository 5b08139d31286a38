package apierror

import (
	"errors"
	"fmt"
)

// Kind classifies a transcription failure into a closed, user-facing taxonomy
type Kind int

const (
	KindUnknown Kind = iota
	KindAuthFailure
	KindRateLimited
	KindFileTooLarge
	KindUnsupportedFormat
	KindServerUnavailable
	KindTimeout
	KindNetworkError
	KindInvalidAudio
	KindNoResult
	KindDisconnected
	KindQueueFull
)

// Kinds lists every member of the taxonomy
var Kinds = []Kind{
	KindUnknown,
	KindAuthFailure,
	KindRateLimited,
	KindFileTooLarge,
	KindUnsupportedFormat,
	KindServerUnavailable,
	KindTimeout,
	KindNetworkError,
	KindInvalidAudio,
	KindNoResult,
	KindDisconnected,
	KindQueueFull,
}

// String returns the stable identifier used in logs, metrics and JSON bodies
func (k Kind) String() string {
	switch k {
	case KindAuthFailure:
		return "auth_failure"
	case KindRateLimited:
		return "rate_limited"
	case KindFileTooLarge:
		return "file_too_large"
	case KindUnsupportedFormat:
		return "unsupported_format"
	case KindServerUnavailable:
		return "server_unavailable"
	case KindTimeout:
		return "timeout"
	case KindNetworkError:
		return "network_error"
	case KindInvalidAudio:
		return "invalid_audio"
	case KindNoResult:
		return "no_result"
	case KindDisconnected:
		return "disconnected"
	case KindQueueFull:
		return "queue_full"
	default:
		return "unknown"
	}
}

// Message returns the fixed message shown to end users for this kind
func (k Kind) Message() string {
	switch k {
	case KindAuthFailure:
		return "Authentication failed. Please check your API key."
	case KindRateLimited:
		return "API rate limit exceeded. Please try again later."
	case KindFileTooLarge:
		return "Audio file is too large."
	case KindUnsupportedFormat:
		return "Unsupported audio format."
	case KindServerUnavailable:
		return "API service is temporarily unavailable. Please try again later."
	case KindTimeout:
		return "The speech service took too long to respond. Please try again."
	case KindNetworkError:
		return "Could not reach the speech service. Please check your connection."
	case KindInvalidAudio:
		return "The recording could not be used. Please record again."
	case KindNoResult:
		return "No transcription available."
	case KindDisconnected:
		return "Speech recognition is not available right now."
	case KindQueueFull:
		return "Too many recordings are waiting to be transcribed. Please try again shortly."
	default:
		return "Transcription failed. Please try again."
	}
}

// Error is the typed error surfaced to callers of the ASR client
type Error struct {
	Kind Kind
	// StatusCode is the HTTP status that produced the error (0 for local failures)
	StatusCode int
	// Attempts is the number of network attempts made before giving up
	Attempts int
	Err      error
}

// New creates an error of the given kind wrapping err (which may be nil)
func New(kind Kind, err error) *Error {
	return &Error{Kind: kind, Err: err}
}

// Newf creates an error of the given kind with a formatted cause
func Newf(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Err: fmt.Errorf(format, args...)}
}

func (e *Error) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("asr: %s", e.Kind)
	}
	return fmt.Sprintf("asr: %s: %v", e.Kind, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Message returns the user-facing message
func (e *Error) Message() string {
	return e.Kind.Message()
}

// KindOf returns the kind of err, classifying untyped errors
func KindOf(err error) Kind {
	return Classify(err)
}

// IsKind reports whether err carries the given kind
func IsKind(err error, kind Kind) bool {
	var e *Error
	return errors.As(err, &e) && e.Kind == kind
}

// StatusError is returned by HTTP backends for non-2xx responses
type StatusError struct {
	StatusCode int
	Body       []byte
}

func (e *StatusError) Error() string {
	if len(e.Body) > 0 {
		return fmt.Sprintf("unexpected status %d: %s", e.StatusCode, e.Body)
	}
	return fmt.Sprintf("unexpected status %d", e.StatusCode)
}
