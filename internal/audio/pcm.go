package audio

import (
	"encoding/binary"
	"time"
)

// PCMFormat describes interleaved signed 16-bit little-endian PCM.
type PCMFormat struct {
	SampleRate int
	Channels   int
}

// BytesPerSecond of audio in this format.
func (f PCMFormat) BytesPerSecond() int {
	return f.SampleRate * f.Channels * BitsPerSample / 8
}

// Duration of n bytes of audio in this format.
func (f PCMFormat) Duration(n int) time.Duration {
	bps := f.BytesPerSecond()
	if bps <= 0 {
		return 0
	}
	return time.Duration(n) * time.Second / time.Duration(bps)
}

// BytesToSamples converts S16LE bytes to samples. A trailing odd byte is dropped.
func BytesToSamples(data []byte) []int16 {
	samples := make([]int16, len(data)/2)
	for i := range samples {
		samples[i] = int16(binary.LittleEndian.Uint16(data[i*2:]))
	}
	return samples
}

// SamplesToBytes converts samples to S16LE bytes.
func SamplesToBytes(samples []int16) []byte {
	data := make([]byte, len(samples)*2)
	for i, s := range samples {
		binary.LittleEndian.PutUint16(data[i*2:], uint16(s))
	}
	return data
}
