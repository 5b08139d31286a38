package apierror

import (
	"context"
	"errors"
	"io"
	"net"
	"net/http"
	"net/url"
	"regexp"
	"strconv"
	"strings"
	"syscall"
)

// Classify maps a raw transport or API failure onto the closed Kind taxonomy.
// It never panics; anything unmapped is KindUnknown.
func Classify(err error) (kind Kind) {
	defer func() {
		if recover() != nil {
			kind = KindUnknown
		}
	}()

	if err == nil {
		return KindUnknown
	}

	var typed *Error
	if errors.As(err, &typed) {
		return typed.Kind
	}

	var status *StatusError
	if errors.As(err, &status) {
		return ClassifyStatus(status.StatusCode)
	}

	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return KindTimeout
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return KindTimeout
	}

	var dnsErr *net.DNSError
	var opErr *net.OpError
	var urlErr *url.Error
	switch {
	case errors.As(err, &dnsErr),
		errors.As(err, &opErr),
		errors.Is(err, syscall.ECONNREFUSED),
		errors.Is(err, syscall.ECONNRESET),
		errors.Is(err, io.ErrUnexpectedEOF),
		errors.Is(err, io.EOF),
		errors.As(err, &urlErr):
		return KindNetworkError
	}

	return classifyMessage(err.Error())
}

// ClassifyStatus maps an HTTP status code onto a Kind. 2xx maps to KindUnknown
// since a successful status is not a failure.
func ClassifyStatus(code int) Kind {
	switch {
	case code == http.StatusUnauthorized || code == http.StatusForbidden:
		return KindAuthFailure
	case code == http.StatusTooManyRequests:
		return KindRateLimited
	case code == http.StatusRequestEntityTooLarge:
		return KindFileTooLarge
	case code == http.StatusUnsupportedMediaType:
		return KindUnsupportedFormat
	case code == http.StatusBadRequest || code == http.StatusUnprocessableEntity:
		return KindInvalidAudio
	case code == http.StatusRequestTimeout || code == http.StatusGatewayTimeout:
		return KindTimeout
	case code >= 500 && code < 600:
		return KindServerUnavailable
	default:
		return KindUnknown
	}
}

// statusInMessage finds a status code named as such, e.g. "status 401",
// "status code: 503" or "HTTP 429". Bare numbers are ignored since SDK
// messages also carry request ids and byte counts.
var statusInMessage = regexp.MustCompile(`\b(?:status|code|http)\b[^0-9a-z]{0,3}(?:code\b[^0-9a-z]{0,3})?([1-5][0-9]{2})\b`)

// classifyMessage covers SDK errors that only carry text
func classifyMessage(msg string) Kind {
	msg = strings.ToLower(msg)

	if m := statusInMessage.FindStringSubmatch(msg); m != nil {
		code, _ := strconv.Atoi(m[1])
		if kind := ClassifyStatus(code); kind != KindUnknown {
			return kind
		}
	}

	switch {
	case containsAny(msg, "unauthorized", "forbidden", "invalid credentials"):
		return KindAuthFailure
	case containsAny(msg, "rate limit", "too many requests"):
		return KindRateLimited
	case containsAny(msg, "too large"):
		return KindFileTooLarge
	case containsAny(msg, "unsupported media", "unsupported format"):
		return KindUnsupportedFormat
	case containsAny(msg, "deadline exceeded", "timeout", "timed out"):
		return KindTimeout
	case containsAny(msg, "service unavailable", "bad gateway", "internal server error"):
		return KindServerUnavailable
	case containsAny(msg,
		"connection refused",
		"connection reset",
		"connection closed",
		"network is unreachable",
		"no route to host",
		"no such host",
		"broken pipe",
	):
		return KindNetworkError
	}
	return KindUnknown
}

func containsAny(s string, substrings ...string) bool {
	for _, substr := range substrings {
		if strings.Contains(s, substr) {
			return true
		}
	}
	return false
}
