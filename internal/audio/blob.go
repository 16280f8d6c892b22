package audio

import (
	"bytes"
	"io"
	"strings"
)

// MIME types produced and recognised by the pipeline.
const (
	TypeWAV  = "audio/wav"
	TypeWebM = "audio/webm"
	TypeOgg  = "audio/ogg"
	TypeMP4  = "audio/mp4"
	TypeMPEG = "audio/mpeg"
	TypeMP3  = "audio/mp3"
)

// Blob is an immutable chunk of encoded audio with its declared MIME type.
// Two blobs are the same recording only if they are the same pointer.
type Blob struct {
	Data []byte
	Type string
}

// NewBlob wraps data without copying it.
func NewBlob(data []byte, mimeType string) *Blob {
	return &Blob{Data: data, Type: mimeType}
}

// Size returns the length of the encoded data. A nil blob has size 0.
func (b *Blob) Size() int {
	if b == nil {
		return 0
	}
	return len(b.Data)
}

// Reader returns a reader over the encoded data.
func (b *Blob) Reader() io.Reader {
	if b == nil {
		return bytes.NewReader(nil)
	}
	return bytes.NewReader(b.Data)
}

// BaseType returns the MIME type without parameters, lower-cased.
func (b *Blob) BaseType() string {
	if b == nil {
		return ""
	}
	t := strings.ToLower(strings.TrimSpace(b.Type))
	if i := strings.IndexByte(t, ';'); i >= 0 {
		t = strings.TrimSpace(t[:i])
	}
	return t
}

var extensions = map[string]string{
	TypeWAV:       "wav",
	"audio/wave":  "wav",
	"audio/x-wav": "wav",
	TypeWebM:      "webm",
	TypeOgg:       "ogg",
	TypeMP4:       "m4a",
	"audio/x-m4a": "m4a",
	TypeMPEG:      "mp3",
	TypeMP3:       "mp3",
}

// Extension returns the file extension (without dot) for the blob's type,
// "bin" when unknown.
func (b *Blob) Extension() string {
	if ext, ok := extensions[b.BaseType()]; ok {
		return ext
	}
	return "bin"
}
