package stt

import (
	"context"
	"io"
	"net/http"
	"strings"
	"time"
)

// DefaultProbeTimeout bounds a single health check
const DefaultProbeTimeout = 5 * time.Second

const healthPath = "/health"

// HTTPProbe checks GET {endpoint}/health
type HTTPProbe struct {
	endpoint   string
	apiKey     string
	timeout    time.Duration
	httpClient *http.Client
}

// NewHTTPProbe creates a probe; timeout <= 0 uses DefaultProbeTimeout
func NewHTTPProbe(endpoint, apiKey string, timeout time.Duration, httpClient *http.Client) *HTTPProbe {
	if timeout <= 0 {
		timeout = DefaultProbeTimeout
	}
	if httpClient == nil {
		httpClient = &http.Client{}
	}
	return &HTTPProbe{
		endpoint:   strings.TrimRight(endpoint, "/"),
		apiKey:     apiKey,
		timeout:    timeout,
		httpClient: httpClient,
	}
}

// Check returns true iff the health route answers 2xx within the timeout
func (p *HTTPProbe) Check(ctx context.Context) bool {
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.endpoint+healthPath, nil)
	if err != nil {
		return false
	}
	req.Header.Set("Authorization", "Bearer "+p.apiKey)

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return false
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, io.LimitReader(resp.Body, 4<<10))

	return resp.StatusCode >= 200 && resp.StatusCode <= 299
}
