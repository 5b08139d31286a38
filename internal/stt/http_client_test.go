package stt

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/talkghana/asr-gateway/internal/apierror"
	"github.com/talkghana/asr-gateway/internal/audio"
)

func TestHTTPClient_SendsMultipartRequest(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/v1/asr" {
			t.Errorf("request = %s %s, want POST /v1/asr", r.Method, r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer secret" {
			t.Errorf("Authorization = %q", got)
		}
		if got := r.Header.Get("X-Team-ID"); got != "team-1" {
			t.Errorf("X-Team-ID = %q", got)
		}

		if err := r.ParseMultipartForm(1 << 20); err != nil {
			t.Fatalf("ParseMultipartForm() error = %v", err)
		}
		for field, want := range map[string]string{
			"model":    "openai/whisper-medium",
			"language": "twi",
			"task":     "transcribe",
		} {
			if got := r.FormValue(field); got != want {
				t.Errorf("field %s = %q, want %q", field, got, want)
			}
		}

		file, header, err := r.FormFile("audio")
		if err != nil {
			t.Fatalf("FormFile(audio) error = %v", err)
		}
		defer file.Close()
		data, _ := io.ReadAll(file)
		if string(data) != "RIFFdata" {
			t.Errorf("audio part = %q", data)
		}
		if header.Filename != "recording.wav" {
			t.Errorf("filename = %q, want recording.wav", header.Filename)
		}
		if got := header.Header.Get("Content-Type"); got != "audio/wav" {
			t.Errorf("part content type = %q", got)
		}

		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"text":"Me din de Kofi","confidence":0.91}`))
	}))
	defer server.Close()

	client := NewHTTPClient(server.URL+"/", "secret", "team-1", server.Client())
	result, err := client.Transcribe(context.Background(), Request{
		Payload:  audio.NewPayload([]byte("RIFFdata"), "audio/wav"),
		Language: "twi",
		Model:    "openai/whisper-medium",
	})
	if err != nil {
		t.Fatalf("Transcribe() error = %v", err)
	}
	if result.Text != "Me din de Kofi" {
		t.Errorf("Text = %q", result.Text)
	}
	if result.Confidence == nil || *result.Confidence != 0.91 {
		t.Errorf("Confidence = %v, want 0.91", result.Confidence)
	}
	if result.Language != "twi" {
		t.Errorf("Language = %q, want twi", result.Language)
	}
}

func TestHTTPClient_ResponseErrors(t *testing.T) {
	tests := []struct {
		name     string
		status   int
		body     string
		wantKind apierror.Kind
	}{
		{"null text", http.StatusOK, `{"text":null}`, apierror.KindNoResult},
		{"missing text", http.StatusOK, `{"language":"en"}`, apierror.KindNoResult},
		{"empty body", http.StatusOK, ``, apierror.KindNoResult},
		{"malformed json", http.StatusOK, `{"text":`, apierror.KindUnknown},
		{"unauthorized", http.StatusUnauthorized, `nope`, apierror.KindAuthFailure},
		{"too large", http.StatusRequestEntityTooLarge, ``, apierror.KindFileTooLarge},
		{"unsupported", http.StatusUnsupportedMediaType, ``, apierror.KindUnsupportedFormat},
		{"gateway", http.StatusBadGateway, `upstream`, apierror.KindServerUnavailable},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				w.Write([]byte(tt.body))
			}))
			defer server.Close()

			client := NewHTTPClient(server.URL, "key", "", server.Client())
			_, err := client.Transcribe(context.Background(), Request{Payload: testPayload("audio")})
			if err == nil {
				t.Fatal("expected an error")
			}
			if got := apierror.Classify(err); got != tt.wantKind {
				t.Errorf("Classify() = %v, want %v (err: %v)", got, tt.wantKind, err)
			}
		})
	}
}

func TestHTTPClient_ConnectionRefused(t *testing.T) {
	server := httptest.NewServer(http.NotFoundHandler())
	url := server.URL
	server.Close()

	client := NewHTTPClient(url, "key", "", nil)
	_, err := client.Transcribe(context.Background(), Request{Payload: testPayload("audio")})
	if got := apierror.Classify(err); got != apierror.KindNetworkError {
		t.Errorf("Classify() = %v, want NetworkError (err: %v)", got, err)
	}
}

func TestHTTPProbe_Check(t *testing.T) {
	tests := []struct {
		name   string
		status int
		want   bool
	}{
		{"ok", http.StatusOK, true},
		{"no content", http.StatusNoContent, true},
		{"unavailable", http.StatusServiceUnavailable, false},
		{"unauthorized", http.StatusUnauthorized, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				if r.URL.Path != "/health" {
					t.Errorf("path = %q, want /health", r.URL.Path)
				}
				if got := r.Header.Get("Authorization"); got != "Bearer key" {
					t.Errorf("Authorization = %q", got)
				}
				w.WriteHeader(tt.status)
			}))
			defer server.Close()

			probe := NewHTTPProbe(server.URL, "key", time.Second, server.Client())
			if got := probe.Check(context.Background()); got != tt.want {
				t.Errorf("Check() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestHTTPProbe_TimeoutIsUnhealthy(t *testing.T) {
	release := make(chan struct{})
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer server.Close()
	defer close(release)

	probe := NewHTTPProbe(server.URL, "key", 50*time.Millisecond, server.Client())

	start := time.Now()
	if probe.Check(context.Background()) {
		t.Error("Check() = true for a hanging endpoint")
	}
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Errorf("Check() took %v, want it bounded by the probe timeout", elapsed)
	}
}

func TestHTTPProbe_Unreachable(t *testing.T) {
	probe := NewHTTPProbe("http://127.0.0.1:1", "key", 200*time.Millisecond, nil)
	if probe.Check(context.Background()) {
		t.Error("Check() = true for an unreachable endpoint")
	}
}
