package compress

import (
	"context"
	"fmt"
	"strconv"

	"github.com/emmett/voxmsg/internal/audio"
)

type ffmpegCodec struct {
	codec  string
	format string
	extra  []string
}

var ffmpegCodecs = map[string]ffmpegCodec{
	audio.TypeWebM: {codec: "libopus", format: "webm"},
	audio.TypeOgg:  {codec: "libopus", format: "ogg"},
	// mp4 needs a seekable output unless the moov atom is written first.
	audio.TypeMP4:  {codec: "aac", format: "mp4", extra: []string{"-movflags", "frag_keyframe+empty_moov"}},
	audio.TypeMPEG: {codec: "libmp3lame", format: "mp3"},
}

var ffmpegTargets = []string{audio.TypeWebM, audio.TypeOgg, audio.TypeMP4, audio.TypeMPEG}

// FFmpegTranscoder converts any input ffmpeg can read.
type FFmpegTranscoder struct {
	ffmpeg *audio.FFmpeg
}

// NewFFmpegTranscoder uses the binary at path, or ffmpeg from PATH.
func NewFFmpegTranscoder(path string) *FFmpegTranscoder {
	return &FFmpegTranscoder{ffmpeg: audio.NewFFmpeg(path)}
}

func (t *FFmpegTranscoder) Name() string { return "ffmpeg" }

func (t *FFmpegTranscoder) Targets(string) []string {
	if !t.ffmpeg.Available() {
		return nil
	}
	return ffmpegTargets
}

func (t *FFmpegTranscoder) Transcode(ctx context.Context, blob *audio.Blob, target string, bitrate int) (*audio.Blob, error) {
	codec, ok := ffmpegCodecs[target]
	if !ok {
		return nil, fmt.Errorf("ffmpeg: unsupported target %q", target)
	}

	args := []string{
		"-i", "pipe:0",
		"-vn",
		"-ac", "1",
		"-c:a", codec.codec,
		"-b:a", strconv.Itoa(bitrate),
	}
	args = append(args, codec.extra...)
	args = append(args, "-f", codec.format, "pipe:1")

	out, err := t.ffmpeg.Run(ctx, blob.Data, args...)
	if err != nil {
		return nil, err
	}
	return audio.NewBlob(out, target), nil
}
