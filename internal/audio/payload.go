package audio

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"io"
	"mime"
	"strings"
)

// Payload is an immutable audio blob handed over by the capture pipeline
type Payload struct {
	data     []byte
	mimeType string
}

// NewPayload copies data so later mutation by the caller cannot leak into
// requests that are queued or being retried
func NewPayload(data []byte, mimeType string) Payload {
	buf := make([]byte, len(data))
	copy(buf, data)
	return Payload{data: buf, mimeType: strings.TrimSpace(mimeType)}
}

// Size returns the payload length in bytes
func (p Payload) Size() int {
	return len(p.data)
}

// MIMEType returns the type as supplied by the caller
func (p Payload) MIMEType() string {
	return p.mimeType
}

// MediaType returns the lower-cased MIME type without parameters,
// e.g. "audio/webm" for "audio/webm;codecs=opus"
func (p Payload) MediaType() string {
	return normalizeMediaType(p.mimeType)
}

// Reader returns a fresh reader over the payload bytes
func (p Payload) Reader() io.Reader {
	return bytes.NewReader(p.data)
}

// Bytes returns a copy of the payload bytes
func (p Payload) Bytes() []byte {
	buf := make([]byte, len(p.data))
	copy(buf, p.data)
	return buf
}

// Extension returns the file extension used when uploading the payload
func (p Payload) Extension() string {
	mt := p.MediaType()
	if i := strings.IndexByte(mt, '/'); i >= 0 && i+1 < len(mt) {
		sub := mt[i+1:]
		switch sub {
		case "x-wav", "wave":
			return "wav"
		case "x-m4a":
			return "m4a"
		case "mpeg":
			return "mp3"
		}
		return sub
	}
	return "webm"
}

// FileName returns the upload file name for the payload
func (p Payload) FileName() string {
	return "recording." + p.Extension()
}

// Digest returns a hex SHA-256 of the payload bytes and media type
func (p Payload) Digest() string {
	h := sha256.New()
	h.Write([]byte(p.MediaType()))
	h.Write([]byte{0})
	h.Write(p.data)
	return hex.EncodeToString(h.Sum(nil))
}

func normalizeMediaType(s string) string {
	s = strings.TrimSpace(s)
	if s == "" {
		return ""
	}
	if mt, _, err := mime.ParseMediaType(s); err == nil {
		return strings.ToLower(mt)
	}
	if i := strings.IndexByte(s, ';'); i >= 0 {
		s = s[:i]
	}
	return strings.ToLower(strings.TrimSpace(s))
}
