package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/rs/zerolog"

	"github.com/talkghana/asr-gateway/internal/apierror"
	"github.com/talkghana/asr-gateway/internal/audio"
	"github.com/talkghana/asr-gateway/internal/observability"
	"github.com/talkghana/asr-gateway/internal/stt"
)

// multipart framing allowance on top of the audio limit
const uploadOverhead = 1 << 20

// Service is the part of the ASR client the gateway exposes
type Service interface {
	Transcribe(ctx context.Context, req stt.Request) (*stt.Result, error)
	Status() stt.Status
	NotifyOnline()
	NotifyOffline()
	Subscribe() (<-chan stt.State, func())
}

// Handler serves the gateway API used by the web client
type Handler struct {
	service      Service
	maxAudioSize int64
	logger       zerolog.Logger
}

// ErrorResponse is the JSON body of every failed API call
type ErrorResponse struct {
	Error    string `json:"error"`
	Message  string `json:"message"`
	Attempts int    `json:"attempts,omitempty"`
}

// NewHandler creates a handler; maxAudioSize <= 0 uses the validator default
func NewHandler(service Service, maxAudioSize int, logger zerolog.Logger) *Handler {
	if maxAudioSize <= 0 {
		maxAudioSize = audio.DefaultMaxSize
	}
	return &Handler{
		service:      service,
		maxAudioSize: int64(maxAudioSize),
		logger:       logger,
	}
}

// Register mounts the API routes on mux
func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("/v1/transcribe", h.handleTranscribe)
	mux.HandleFunc("/v1/status", h.handleStatus)
	mux.HandleFunc("/v1/languages", h.handleLanguages)
	mux.HandleFunc("/v1/events", h.handleEvents)
}

func (h *Handler) handleTranscribe(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", http.MethodPost)
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	correlationID := r.Header.Get("X-Request-ID")
	if correlationID == "" {
		correlationID = observability.NewCorrelationID()
	}
	logger := h.logger.With().Str("correlation_id", correlationID).Logger()
	w.Header().Set("X-Request-ID", correlationID)

	r.Body = http.MaxBytesReader(w, r.Body, h.maxAudioSize+uploadOverhead)
	if err := r.ParseMultipartForm(32 << 20); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) || strings.Contains(err.Error(), "request body too large") {
			writeError(w, apierror.Newf(apierror.KindFileTooLarge, "upload exceeds %d bytes", h.maxAudioSize))
			return
		}
		writeError(w, apierror.Newf(apierror.KindInvalidAudio, "invalid multipart upload: %v", err))
		return
	}
	defer r.MultipartForm.RemoveAll()

	file, header, err := r.FormFile("audio")
	if err != nil {
		writeError(w, apierror.Newf(apierror.KindInvalidAudio, "missing audio file: %v", err))
		return
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		writeError(w, apierror.Newf(apierror.KindInvalidAudio, "failed to read audio: %v", err))
		return
	}

	mimeType := audio.ResolveMIMEType(header.Header.Get("Content-Type"), data)
	req := stt.Request{
		Payload:  audio.NewPayload(data, mimeType),
		Language: r.FormValue("language"),
		Model:    r.FormValue("model"),
	}

	logger.Info().
		Int("size", len(data)).
		Str("mime_type", mimeType).
		Str("language", req.Language).
		Msg("Transcription requested")

	result, err := h.service.Transcribe(r.Context(), req)
	if err != nil {
		logger.Warn().Err(err).Msg("Transcription failed")
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, result)
}

func (h *Handler) handleStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	writeJSON(w, http.StatusOK, h.service.Status())
}

func (h *Handler) handleLanguages(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"languages": stt.SupportedLanguages()})
}

// StatusCode maps an error kind to the gateway's HTTP status
func StatusCode(kind apierror.Kind) int {
	switch kind {
	case apierror.KindInvalidAudio:
		return http.StatusBadRequest
	case apierror.KindFileTooLarge:
		return http.StatusRequestEntityTooLarge
	case apierror.KindUnsupportedFormat:
		return http.StatusUnsupportedMediaType
	case apierror.KindRateLimited:
		return http.StatusTooManyRequests
	case apierror.KindTimeout:
		return http.StatusGatewayTimeout
	case apierror.KindAuthFailure:
		// The gateway's own credentials were refused upstream
		return http.StatusBadGateway
	case apierror.KindNoResult:
		return http.StatusUnprocessableEntity
	case apierror.KindServerUnavailable, apierror.KindNetworkError,
		apierror.KindDisconnected, apierror.KindQueueFull:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func writeError(w http.ResponseWriter, err error) {
	kind := apierror.Classify(err)
	body := ErrorResponse{
		Error:   kind.String(),
		Message: kind.Message(),
	}
	var apiErr *apierror.Error
	if errors.As(err, &apiErr) {
		body.Attempts = apiErr.Attempts
	}
	writeJSON(w, StatusCode(kind), body)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
