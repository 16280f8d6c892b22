// Package compress prepares recordings for upload. Compression is best
// effort: Compress never fails and degrades to the original recording.
package compress

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"slices"
	"strings"

	"github.com/emmett/voxmsg/internal/audio"
	"github.com/emmett/voxmsg/internal/common"
	"github.com/emmett/voxmsg/internal/errlog"
)

// Bitrate bounds in bits per second.
const (
	MinBitrate     = 16000
	MaxBitrate     = 128000
	DefaultBitrate = 32000
)

// Types accepted for upload without conversion.
var compatibleTypes = []string{
	audio.TypeWebM,
	audio.TypeOgg,
	audio.TypeMP4,
	audio.TypeMPEG,
	audio.TypeMP3,
}

// IsCompatible reports whether mimeType can be uploaded as is.
// Matching is a case-insensitive prefix test, so codec parameters are allowed.
func IsCompatible(mimeType string) bool {
	t := strings.ToLower(strings.TrimSpace(mimeType))
	for _, prefix := range compatibleTypes {
		if strings.HasPrefix(t, prefix) {
			return true
		}
	}
	return false
}

// ValidateBitrate clamps bitrate into [MinBitrate, MaxBitrate] and rounds
// it to the nearest whole bit per second. NaN maps to DefaultBitrate.
func ValidateBitrate(bitrate float64) int {
	switch {
	case math.IsNaN(bitrate):
		return DefaultBitrate
	case bitrate < MinBitrate:
		return MinBitrate
	case bitrate > MaxBitrate:
		return MaxBitrate
	default:
		return int(math.Round(bitrate))
	}
}

// Options controls a compression run.
type Options struct {
	// TargetBitrate in bits per second; clamped by ValidateBitrate.
	TargetBitrate float64
	// Format is the preferred output MIME type.
	Format string
}

// DefaultOptions targets Opus in WebM at DefaultBitrate.
func DefaultOptions() Options {
	return Options{TargetBitrate: DefaultBitrate, Format: audio.TypeWebM}
}

// Transcoder converts a blob to another container/codec.
type Transcoder interface {
	Name() string
	// Targets lists the output types producible from the input type,
	// or nil when the transcoder cannot handle it.
	Targets(from string) []string
	Transcode(ctx context.Context, blob *audio.Blob, target string, bitrate int) (*audio.Blob, error)
}

// Compressor runs a chain of transcoders, first success wins.
type Compressor struct {
	transcoders []Transcoder
	logger      *slog.Logger
	errors      *errlog.Logger
}

// Option configures a Compressor.
type Option func(*Compressor)

// WithTranscoders replaces the default chain.
func WithTranscoders(t ...Transcoder) Option {
	return func(c *Compressor) { c.transcoders = t }
}

func WithLogger(logger *slog.Logger) Option {
	return func(c *Compressor) { c.logger = logger }
}

// WithErrorLog records degraded runs in the diagnostic log.
func WithErrorLog(l *errlog.Logger) Option {
	return func(c *Compressor) { c.errors = l }
}

// New returns a Compressor with the ffmpeg and pure-Go MP3 transcoders.
func New(opts ...Option) *Compressor {
	c := &Compressor{
		transcoders: []Transcoder{NewFFmpegTranscoder(""), NewMP3Transcoder()},
		logger:      slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.logger = c.logger.With("component", "compress")
	return c
}

// Compress returns an upload-ready blob. A compatible input is returned
// unchanged (same pointer). Otherwise each transcoder is tried in order;
// if all fail the original blob is returned. A nil input yields an empty blob.
func (c *Compressor) Compress(ctx context.Context, blob *audio.Blob, opts Options) *audio.Blob {
	if blob == nil {
		return audio.NewBlob(nil, "")
	}
	if IsCompatible(blob.Type) {
		return blob
	}

	bitrate := ValidateBitrate(opts.TargetBitrate)
	from := blob.BaseType()

	var lastErr error
	for _, t := range c.transcoders {
		targets := t.Targets(from)
		if len(targets) == 0 {
			continue
		}
		target := targets[0]
		if opts.Format != "" && slices.Contains(targets, strings.ToLower(opts.Format)) {
			target = strings.ToLower(opts.Format)
		}

		out, err := safeTranscode(ctx, t, blob, target, bitrate)
		if err == nil && (out.Size() == 0 || !IsCompatible(out.Type)) {
			err = fmt.Errorf("%s produced unusable output (%q, %d bytes)", t.Name(), out.BaseType(), out.Size())
		}
		if err != nil {
			lastErr = err
			c.logger.Warn("transcoder failed", "transcoder", t.Name(), "target", target, "error", err)
			continue
		}

		stats := Stats(blob, out)
		c.logger.Info("compressed recording",
			"transcoder", t.Name(),
			"from", from,
			"to", out.Type,
			"bitrate", bitrate,
			"ratio", stats.CompressionRatio,
			"saved", stats.SavedPercentage)
		return out
	}

	if lastErr == nil {
		lastErr = fmt.Errorf("no transcoder accepts %q", from)
	}
	if c.errors != nil {
		c.errors.LogCompressionError(fmt.Errorf("%w: %v", common.ErrCompression, lastErr), map[string]any{
			"type": blob.Type,
			"size": blob.Size(),
		})
	}
	c.logger.Warn("using original recording", "type", blob.Type, "error", lastErr)
	return blob
}

func safeTranscode(ctx context.Context, t Transcoder, blob *audio.Blob, target string, bitrate int) (out *audio.Blob, err error) {
	defer func() {
		if r := recover(); r != nil {
			out, err = nil, fmt.Errorf("%s panicked: %v", t.Name(), r)
		}
	}()
	return t.Transcode(ctx, blob, target, bitrate)
}

// CompressionStats summarises a compression run.
type CompressionStats struct {
	OriginalSize     int    `json:"original_size"`
	CompressedSize   int    `json:"compressed_size"`
	CompressionRatio string `json:"compression_ratio"`
	SavedBytes       int    `json:"saved_bytes"`
	SavedPercentage  string `json:"saved_percentage"`
}

// Stats compares two blobs. The ratio is compressed/original; an empty
// original reports "1.00" and "0.00%".
func Stats(original, compressed *audio.Blob) CompressionStats {
	o, c := original.Size(), compressed.Size()
	s := CompressionStats{
		OriginalSize:     o,
		CompressedSize:   c,
		SavedBytes:       o - c,
		CompressionRatio: "1.00",
		SavedPercentage:  "0.00%",
	}
	if o > 0 {
		s.CompressionRatio = fmt.Sprintf("%.2f", float64(c)/float64(o))
		s.SavedPercentage = fmt.Sprintf("%.2f%%", float64(o-c)/float64(o)*100)
	}
	return s
}
