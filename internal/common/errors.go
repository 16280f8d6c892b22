// Package common defines the sentinel errors shared by the voice message
// pipeline. Callers match them with errors.Is; producers wrap them with
// fmt.Errorf("%w: ...") to attach detail.
package common

import "errors"

var (
	// Capture errors.
	ErrPermission   = errors.New("microphone permission denied")
	ErrNoMicrophone = errors.New("no microphone found")
	ErrUnsupported  = errors.New("audio recording not supported")
	ErrRecording    = errors.New("recording error")

	// Processing errors.
	ErrCompression = errors.New("compression failed")
	ErrValidation  = errors.New("validation failed")

	// Transfer errors.
	ErrUpload       = errors.New("upload failed")
	ErrTimeout      = errors.New("upload timeout")
	ErrNetwork      = errors.New("network error")
	ErrMetadata     = errors.New("invalid message metadata")
	ErrSizeExceeded = errors.New("file size exceeds limit")
	ErrCanceled     = errors.New("canceled")

	// Playback errors.
	ErrPlayback = errors.New("playback failed")
)
