package stt

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"strings"

	"github.com/talkghana/asr-gateway/internal/apierror"
)

const (
	transcribePath   = "/v1/asr"
	maxErrorBodySize = 4 << 10
	maxResponseSize  = 1 << 20
)

// HTTPClient implements Transcriber against the endpoint's /v1/asr route
type HTTPClient struct {
	endpoint   string
	apiKey     string
	teamID     string
	httpClient *http.Client
}

// asrResponse is the endpoint's success body; Text is a pointer so a missing
// or null field can be told apart from an empty string
type asrResponse struct {
	Text       *string  `json:"text"`
	Confidence *float64 `json:"confidence,omitempty"`
	Language   *string  `json:"language,omitempty"`
}

// NewHTTPClient creates a client for endpoint (scheme://host[/prefix]).
// httpClient may be nil; timeouts come from the request context.
func NewHTTPClient(endpoint, apiKey, teamID string, httpClient *http.Client) *HTTPClient {
	if httpClient == nil {
		httpClient = &http.Client{}
	}
	return &HTTPClient{
		endpoint:   strings.TrimRight(endpoint, "/"),
		apiKey:     apiKey,
		teamID:     teamID,
		httpClient: httpClient,
	}
}

// Transcribe uploads the payload once and decodes the result
func (c *HTTPClient) Transcribe(ctx context.Context, req Request) (*Result, error) {
	body, contentType, err := encodeMultipart(req)
	if err != nil {
		return nil, fmt.Errorf("failed to encode request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint+transcribePath, body)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", contentType)
	httpReq.Header.Set("Accept", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)
	if c.teamID != "" {
		httpReq.Header.Set("X-Team-ID", c.teamID)
	}

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("failed to make request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		errBody, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBodySize))
		return nil, &apierror.StatusError{StatusCode: resp.StatusCode, Body: bytes.TrimSpace(errBody)}
	}

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}
	if len(bytes.TrimSpace(raw)) == 0 {
		return nil, apierror.Newf(apierror.KindNoResult, "empty response body")
	}

	var decoded asrResponse
	if err := json.Unmarshal(raw, &decoded); err != nil {
		return nil, apierror.New(apierror.KindUnknown, fmt.Errorf("failed to decode response: %w", err))
	}
	if decoded.Text == nil {
		return nil, apierror.Newf(apierror.KindNoResult, "response has no text field")
	}

	result := &Result{
		Text:       *decoded.Text,
		Confidence: decoded.Confidence,
		Language:   req.Language,
		Model:      req.Model,
	}
	if decoded.Language != nil && *decoded.Language != "" {
		result.Language = *decoded.Language
	}
	return result, nil
}

func encodeMultipart(req Request) (io.Reader, string, error) {
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)

	header := make(textproto.MIMEHeader)
	header.Set("Content-Disposition",
		fmt.Sprintf(`form-data; name="audio"; filename="%s"`, req.Payload.FileName()))
	header.Set("Content-Type", req.Payload.MIMEType())
	part, err := w.CreatePart(header)
	if err != nil {
		return nil, "", err
	}
	if _, err := io.Copy(part, req.Payload.Reader()); err != nil {
		return nil, "", err
	}

	fields := [][2]string{
		{"model", req.Model},
		{"language", req.Language},
		{"task", "transcribe"},
	}
	for _, f := range fields {
		if err := w.WriteField(f[0], f[1]); err != nil {
			return nil, "", err
		}
	}

	if err := w.Close(); err != nil {
		return nil, "", err
	}
	return &buf, w.FormDataContentType(), nil
}
