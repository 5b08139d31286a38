package audio

import (
	"github.com/gabriel-vasile/mimetype"
)

// containers that mimetype reports as video but browsers record audio into
var audioContainers = map[string]string{
	"video/webm": "audio/webm",
	"video/mp4":  "audio/mp4",
	"video/ogg":  "audio/ogg",
}

// DetectMIMEType sniffs the media type from the leading bytes of data
func DetectMIMEType(data []byte) string {
	m := mimetype.Detect(data)
	for video, audio := range audioContainers {
		if m.Is(video) {
			return audio
		}
	}
	return normalizeMediaType(m.String())
}

// ResolveMIMEType returns declared unless it is empty or generic, in which case
// the type is sniffed from data
func ResolveMIMEType(declared string, data []byte) string {
	switch normalizeMediaType(declared) {
	case "", "application/octet-stream", "binary/octet-stream":
		return DetectMIMEType(data)
	}
	return declared
}
