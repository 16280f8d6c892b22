package audio

import (
	"context"
	"time"
)

// BitsPerSample is fixed: every capturer delivers signed 16-bit little-endian PCM.
const BitsPerSample = 16

// CaptureConfig holds configuration for audio capture
type CaptureConfig struct {
	// SampleRate in Hz. 16000 keeps voice messages small and intelligible.
	SampleRate uint32

	// Channels is 1 for mono, 2 for stereo.
	Channels uint32

	// BufferFrames is the number of frames per device period.
	BufferFrames uint32

	// ChunkBufferSize is the capacity of the chunk channel.
	ChunkBufferSize int

	// DeviceID selects the input device ("capture-N"). Empty uses the default.
	DeviceID string
}

// DefaultCaptureConfig returns mono 16kHz capture on the default device.
func DefaultCaptureConfig() CaptureConfig {
	return CaptureConfig{
		SampleRate:      16000,
		Channels:        1,
		BufferFrames:    480, // 30ms at 16kHz
		ChunkBufferSize: 64,
	}
}

// Format returns the PCM format produced by this configuration.
func (c CaptureConfig) Format() PCMFormat {
	return PCMFormat{SampleRate: int(c.SampleRate), Channels: int(c.Channels)}
}

// Chunk is a slice of captured PCM data.
type Chunk struct {
	Data      []byte
	Timestamp time.Time
	Frames    uint32
}

// Capturer is the interface for audio capture implementations.
// A capturer is single use: once stopped it cannot be started again.
type Capturer interface {
	// Start opens the input device and begins delivering chunks.
	Start(ctx context.Context) error

	// Stop releases the device and closes the Chunks and Errors channels.
	Stop() error

	Chunks() <-chan Chunk
	Errors() <-chan error
	IsRunning() bool
}

// CapturerFactory creates a fresh capturer for one recording.
type CapturerFactory func(config CaptureConfig) (Capturer, error)

// NewCapturer creates a malgo-backed capturer.
func NewCapturer(config CaptureConfig) (Capturer, error) {
	return NewMalgoCapturer(config)
}
