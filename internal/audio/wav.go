package audio

import (
	"bytes"
	"errors"
	"fmt"
	"io"

	goaudio "github.com/go-audio/audio"
	"github.com/go-audio/wav"
)

// EncodeWAV wraps S16LE PCM in a RIFF/WAVE container.
func EncodeWAV(pcm []byte, format PCMFormat) ([]byte, error) {
	if format.SampleRate <= 0 || format.Channels <= 0 {
		return nil, fmt.Errorf("invalid wav format %dHz/%dch", format.SampleRate, format.Channels)
	}

	samples := BytesToSamples(pcm)
	buf := &goaudio.IntBuffer{
		Format: &goaudio.Format{
			NumChannels: format.Channels,
			SampleRate:  format.SampleRate,
		},
		Data:           make([]int, len(samples)),
		SourceBitDepth: BitsPerSample,
	}
	for i, s := range samples {
		buf.Data[i] = int(s)
	}

	ws := &writeSeeker{}
	enc := wav.NewEncoder(ws, format.SampleRate, BitsPerSample, format.Channels, 1)
	if err := enc.Write(buf); err != nil {
		_ = enc.Close()
		return nil, fmt.Errorf("encode wav: %w", err)
	}
	if err := enc.Close(); err != nil {
		return nil, fmt.Errorf("finalize wav: %w", err)
	}
	return ws.buf, nil
}

// DecodeWAV returns the S16LE PCM payload and format of a 16-bit WAV file.
func DecodeWAV(data []byte) ([]byte, PCMFormat, error) {
	dec := wav.NewDecoder(bytes.NewReader(data))
	if !dec.IsValidFile() {
		return nil, PCMFormat{}, errors.New("not a valid wav file")
	}
	if dec.BitDepth != BitsPerSample {
		return nil, PCMFormat{}, fmt.Errorf("unsupported wav bit depth %d", dec.BitDepth)
	}

	buf, err := dec.FullPCMBuffer()
	if err != nil {
		return nil, PCMFormat{}, fmt.Errorf("decode wav: %w", err)
	}

	samples := make([]int16, len(buf.Data))
	for i, v := range buf.Data {
		samples[i] = int16(v)
	}
	format := PCMFormat{SampleRate: int(dec.SampleRate), Channels: int(dec.NumChans)}
	return SamplesToBytes(samples), format, nil
}

// writeSeeker is an in-memory io.WriteSeeker; the wav encoder seeks back
// to patch chunk sizes on Close.
type writeSeeker struct {
	buf []byte
	pos int
}

func (w *writeSeeker) Write(p []byte) (int, error) {
	end := w.pos + len(p)
	if end > len(w.buf) {
		if end > cap(w.buf) {
			grown := make([]byte, end, 2*end)
			copy(grown, w.buf)
			w.buf = grown
		} else {
			w.buf = w.buf[:end]
		}
	}
	copy(w.buf[w.pos:], p)
	w.pos = end
	return len(p), nil
}

func (w *writeSeeker) Seek(offset int64, whence int) (int64, error) {
	var abs int64
	switch whence {
	case io.SeekStart:
		abs = offset
	case io.SeekCurrent:
		abs = int64(w.pos) + offset
	case io.SeekEnd:
		abs = int64(len(w.buf)) + offset
	default:
		return 0, errors.New("invalid whence")
	}
	if abs < 0 {
		return 0, errors.New("negative position")
	}
	w.pos = int(abs)
	return abs, nil
}
