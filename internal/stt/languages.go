package stt

import "strings"

// Language describes a language the endpoint can transcribe
type Language struct {
	Code       string `json:"code"`
	Name       string `json:"name"`
	NativeName string `json:"nativeName"`
	Model      string `json:"model"`
}

const (
	modelWhisperMedium  = "openai/whisper-medium"
	modelWhisperLargeV3 = "openai/whisper-large-v3"
)

var supportedLanguages = []Language{
	{Code: "twi", Name: "Twi", NativeName: "Twi", Model: modelWhisperMedium},
	{Code: "ga", Name: "Ga", NativeName: "Ga", Model: modelWhisperMedium},
	{Code: "ee", Name: "Ewe", NativeName: "Eʋe", Model: modelWhisperMedium},
	{Code: "ha", Name: "Hausa", NativeName: "Hausa", Model: modelWhisperMedium},
	{Code: "dag", Name: "Dagbani", NativeName: "Dagbanli", Model: modelWhisperMedium},
	{Code: "en", Name: "English", NativeName: "English", Model: modelWhisperLargeV3},
}

// SupportedLanguages returns the languages offered to users
func SupportedLanguages() []Language {
	out := make([]Language, len(supportedLanguages))
	copy(out, supportedLanguages)
	return out
}

// ModelForLanguage returns the model tuned for a language, or fallback when the
// language has no dedicated model
func ModelForLanguage(code, fallback string) string {
	code = strings.ToLower(strings.TrimSpace(code))
	for _, l := range supportedLanguages {
		if l.Code == code {
			return l.Model
		}
	}
	return fallback
}
