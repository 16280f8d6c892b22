package compress

import (
	"bytes"
	"context"
	"fmt"

	"github.com/braheezy/shine-mp3/pkg/mp3"

	"github.com/emmett/voxmsg/internal/audio"
)

// MP3Transcoder encodes WAV recordings to MP3 in pure Go. The encoder runs
// at a fixed bitrate, so the requested bitrate is ignored.
type MP3Transcoder struct{}

func NewMP3Transcoder() *MP3Transcoder { return &MP3Transcoder{} }

func (t *MP3Transcoder) Name() string { return "shine-mp3" }

func (t *MP3Transcoder) Targets(from string) []string {
	switch from {
	case audio.TypeWAV, "audio/wave", "audio/x-wav":
		return []string{audio.TypeMPEG}
	}
	return nil
}

func (t *MP3Transcoder) Transcode(ctx context.Context, blob *audio.Blob, _ string, _ int) (*audio.Blob, error) {
	pcm, format, err := audio.DecodeWAV(blob.Data)
	if err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	samples := audio.BytesToSamples(pcm)
	channels := format.Channels
	switch channels {
	case 1:
		// The encoder handles stereo input more reliably.
		stereo := make([]int16, len(samples)*2)
		for i, s := range samples {
			stereo[i*2] = s
			stereo[i*2+1] = s
		}
		samples = stereo
		channels = 2
	case 2:
	default:
		return nil, fmt.Errorf("shine-mp3: unsupported channel count %d", channels)
	}

	var buf bytes.Buffer
	enc := mp3.NewEncoder(format.SampleRate, channels)
	if err := enc.Write(&buf, samples); err != nil {
		return nil, fmt.Errorf("shine-mp3: %w", err)
	}
	return audio.NewBlob(buf.Bytes(), audio.TypeMPEG), nil
}
