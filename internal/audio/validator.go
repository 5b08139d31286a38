package audio

import (
	"github.com/talkghana/asr-gateway/internal/apierror"
)

// DefaultMaxSize is the default upper bound for a payload (10 MiB)
const DefaultMaxSize = 10 * 1024 * 1024

// DefaultAllowedTypes lists the MIME types accepted by the ASR endpoint
var DefaultAllowedTypes = []string{
	"audio/wav",
	"audio/x-wav",
	"audio/wave",
	"audio/webm",
	"audio/ogg",
	"audio/mp3",
	"audio/mp4",
	"audio/mpeg",
	"audio/m4a",
	"audio/x-m4a",
	"audio/flac",
}

// ValidatorConfig holds the payload constraints
type ValidatorConfig struct {
	MaxSize      int      // Maximum payload size in bytes
	AllowedTypes []string // Allowed media types (parameters are ignored)
}

// DefaultValidatorConfig returns the default payload constraints
func DefaultValidatorConfig() *ValidatorConfig {
	return &ValidatorConfig{
		MaxSize:      DefaultMaxSize,
		AllowedTypes: DefaultAllowedTypes,
	}
}

// Validator checks payloads before they are sent anywhere
type Validator struct {
	maxSize int
	allowed map[string]struct{}
}

// NewValidator creates a validator; nil config uses the defaults
func NewValidator(config *ValidatorConfig) *Validator {
	if config == nil {
		config = DefaultValidatorConfig()
	}
	maxSize := config.MaxSize
	if maxSize <= 0 {
		maxSize = DefaultMaxSize
	}
	types := config.AllowedTypes
	if len(types) == 0 {
		types = DefaultAllowedTypes
	}

	allowed := make(map[string]struct{}, len(types))
	for _, t := range types {
		if mt := normalizeMediaType(t); mt != "" {
			allowed[mt] = struct{}{}
		}
	}

	return &Validator{maxSize: maxSize, allowed: allowed}
}

// MaxSize returns the configured size limit
func (v *Validator) MaxSize() int {
	return v.maxSize
}

// Allows reports whether the media type is on the allow-list
func (v *Validator) Allows(mimeType string) bool {
	_, ok := v.allowed[normalizeMediaType(mimeType)]
	return ok
}

// Validate returns nil for a usable payload, otherwise an *apierror.Error of
// kind FileTooLarge or InvalidAudio
func (v *Validator) Validate(p Payload) error {
	if p.Size() > v.maxSize {
		return apierror.Newf(apierror.KindFileTooLarge,
			"audio is %d bytes, maximum is %d bytes", p.Size(), v.maxSize)
	}
	if p.Size() == 0 {
		return apierror.Newf(apierror.KindInvalidAudio, "audio payload is empty")
	}
	if !v.Allows(p.MIMEType()) {
		return apierror.Newf(apierror.KindInvalidAudio, "unsupported audio type %q", p.MIMEType())
	}
	return nil
}
