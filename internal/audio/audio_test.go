package audio

import (
	"io"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/emmett/voxmsg/internal/common"
)

func TestEncodeDecodeWAV(t *testing.T) {
	format := PCMFormat{SampleRate: 16000, Channels: 1}
	samples := make([]int16, 1600)
	for i := range samples {
		samples[i] = int16((i%200 - 100) * 100)
	}
	pcm := SamplesToBytes(samples)

	data, err := EncodeWAV(pcm, format)
	require.NoError(t, err)
	assert.Equal(t, "RIFF", string(data[:4]))
	assert.Equal(t, "WAVE", string(data[8:12]))
	assert.Len(t, data, 44+len(pcm))

	decoded, got, err := DecodeWAV(data)
	require.NoError(t, err)
	assert.Equal(t, format, got)
	assert.Equal(t, pcm, decoded)
}

func TestEncodeWAV_InvalidFormat(t *testing.T) {
	_, err := EncodeWAV([]byte{0, 0}, PCMFormat{})
	assert.Error(t, err)
}

func TestDecodeWAV_RejectsGarbage(t *testing.T) {
	_, _, err := DecodeWAV([]byte("definitely not a wav file at all"))
	assert.Error(t, err)
}

func TestLevel(t *testing.T) {
	assert.Zero(t, Level(nil))
	assert.Zero(t, Level(make([]byte, 64)))

	loud := SamplesToBytes([]int16{16384, -16384, 16384, -16384})
	assert.InDelta(t, 0.5, Level(loud), 1e-9)
	assert.False(t, IsSilent(loud, 0.01))
	assert.True(t, IsSilent(make([]byte, 8), 0.01))
}

func TestPCMFormatDuration(t *testing.T) {
	f := PCMFormat{SampleRate: 16000, Channels: 1}
	assert.Equal(t, 32000, f.BytesPerSecond())
	assert.Equal(t, 2*time.Second, f.Duration(64000))
	assert.Zero(t, PCMFormat{}.Duration(100))
}

func TestBlob(t *testing.T) {
	var nilBlob *Blob
	assert.Zero(t, nilBlob.Size())
	assert.Equal(t, "bin", nilBlob.Extension())

	b := NewBlob([]byte("abc"), "Audio/WebM; codecs=opus")
	assert.Equal(t, 3, b.Size())
	assert.Equal(t, "audio/webm", b.BaseType())
	assert.Equal(t, "webm", b.Extension())

	got, err := io.ReadAll(b.Reader())
	require.NoError(t, err)
	assert.Equal(t, "abc", string(got))

	assert.Equal(t, "wav", NewBlob(nil, TypeWAV).Extension())
	assert.Equal(t, "mp3", NewBlob(nil, TypeMPEG).Extension())
}

func TestWriteSeeker(t *testing.T) {
	ws := &writeSeeker{}
	_, err := ws.Write([]byte("hello world"))
	require.NoError(t, err)

	pos, err := ws.Seek(0, io.SeekStart)
	require.NoError(t, err)
	assert.Zero(t, pos)

	_, err = ws.Write([]byte("HELLO"))
	require.NoError(t, err)
	assert.Equal(t, "HELLO world", string(ws.buf))

	_, err = ws.Seek(-1, io.SeekStart)
	assert.Error(t, err)
}

func TestParseDeviceIndex(t *testing.T) {
	idx, err := parseDeviceIndex("capture-3", kindCapture)
	require.NoError(t, err)
	assert.Equal(t, 3, idx)

	_, err = parseDeviceIndex("playback-1", kindCapture)
	assert.Error(t, err)
	_, err = parseDeviceIndex("capture-x", kindCapture)
	assert.Error(t, err)
}

func TestFindAndDefaultDevice(t *testing.T) {
	devices := []DeviceInfo{
		{ID: "capture-0", Name: "Built-in Microphone"},
		{ID: "capture-1", Name: "USB Headset", IsDefault: true},
	}

	d, err := DefaultDevice(devices)
	require.NoError(t, err)
	assert.Equal(t, "capture-1", d.ID)

	d, err = FindDevice(devices, "capture-0")
	require.NoError(t, err)
	assert.Equal(t, "Built-in Microphone", d.Name)

	d, err = FindDevice(devices, "usb")
	require.NoError(t, err)
	assert.Equal(t, "capture-1", d.ID)

	_, err = FindDevice(devices, "bluetooth")
	assert.Error(t, err)

	_, err = DefaultDevice(nil)
	assert.ErrorIs(t, err, common.ErrNoMicrophone)
}

func TestNewMalgoCapturer_RejectsInvalidFormat(t *testing.T) {
	_, err := NewMalgoCapturer(CaptureConfig{})
	assert.ErrorIs(t, err, common.ErrRecording)
}
