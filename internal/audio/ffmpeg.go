package audio

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strconv"
	"strings"
)

// FFmpeg runs an external ffmpeg binary over in-memory buffers.
type FFmpeg struct {
	Path string
}

// NewFFmpeg returns a runner for path, or "ffmpeg" from PATH when empty.
func NewFFmpeg(path string) *FFmpeg {
	if path == "" {
		path = "ffmpeg"
	}
	return &FFmpeg{Path: path}
}

// Available reports whether the binary can be found.
func (f *FFmpeg) Available() bool {
	_, err := exec.LookPath(f.Path)
	return err == nil
}

// Run feeds input on stdin and returns stdout. args must read from pipe:0
// and write to pipe:1.
func (f *FFmpeg) Run(ctx context.Context, input []byte, args ...string) ([]byte, error) {
	full := append([]string{"-hide_banner", "-loglevel", "error", "-y"}, args...)
	cmd := exec.CommandContext(ctx, f.Path, full...)
	cmd.Stdin = bytes.NewReader(input)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		return nil, fmt.Errorf("ffmpeg %s: %w: %s", strings.Join(args, " "), err, strings.TrimSpace(stderr.String()))
	}
	return stdout.Bytes(), nil
}

// DecodePCM converts any container ffmpeg understands to S16LE PCM.
func (f *FFmpeg) DecodePCM(ctx context.Context, input []byte, format PCMFormat) ([]byte, error) {
	return f.Run(ctx, input,
		"-i", "pipe:0",
		"-f", "s16le",
		"-ac", strconv.Itoa(format.Channels),
		"-ar", strconv.Itoa(format.SampleRate),
		"pipe:1",
	)
}
