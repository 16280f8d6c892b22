// Package recorder captures microphone audio into a WAV blob.
package recorder

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/emmett/voxmsg/internal/audio"
	"github.com/emmett/voxmsg/internal/common"
)

// Recorder owns at most one active capture at a time. Each recording uses a
// fresh capturer, so the device is released as soon as the recording ends.
type Recorder struct {
	config  audio.CaptureConfig
	factory audio.CapturerFactory
	clock   clockwork.Clock
	logger  *slog.Logger
	onLevel func(float64)

	mu        sync.Mutex
	active    *take
	startedAt time.Time
}

// take is the state of a single recording. The collector goroutine writes
// into it; abandoning a take discards whatever arrives afterwards.
type take struct {
	capturer audio.Capturer
	mu       sync.Mutex
	pcm      []byte
	done     chan struct{}
}

// Option configures a Recorder.
type Option func(*Recorder)

func WithCaptureConfig(config audio.CaptureConfig) Option {
	return func(r *Recorder) { r.config = config }
}

func WithCapturerFactory(factory audio.CapturerFactory) Option {
	return func(r *Recorder) { r.factory = factory }
}

func WithClock(clock clockwork.Clock) Option {
	return func(r *Recorder) { r.clock = clock }
}

func WithLogger(logger *slog.Logger) Option {
	return func(r *Recorder) { r.logger = logger }
}

// WithLevelHandler registers a callback receiving the RMS level of each chunk.
func WithLevelHandler(fn func(level float64)) Option {
	return func(r *Recorder) { r.onLevel = fn }
}

// New creates a Recorder using the default malgo capturer.
func New(opts ...Option) *Recorder {
	r := &Recorder{
		config:  audio.DefaultCaptureConfig(),
		factory: audio.NewCapturer,
		clock:   clockwork.NewRealClock(),
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(r)
	}
	r.logger = r.logger.With("component", "recorder")
	return r
}

// Start acquires the microphone and begins buffering audio.
func (r *Recorder) Start(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.active != nil {
		return fmt.Errorf("%w: already recording", common.ErrRecording)
	}

	capturer, err := r.factory(r.config)
	if err != nil {
		return classify(err)
	}
	if err := capturer.Start(ctx); err != nil {
		_ = capturer.Stop()
		return classify(err)
	}

	t := &take{capturer: capturer, done: make(chan struct{})}
	go r.collect(t)
	go r.drainErrors(capturer)

	r.active = t
	r.startedAt = r.clock.Now()
	r.logger.Info("recording started",
		"sample_rate", r.config.SampleRate,
		"channels", r.config.Channels,
		"device", r.config.DeviceID)
	return nil
}

func (r *Recorder) collect(t *take) {
	defer close(t.done)
	for chunk := range t.capturer.Chunks() {
		t.mu.Lock()
		t.pcm = append(t.pcm, chunk.Data...)
		t.mu.Unlock()

		if r.onLevel != nil {
			r.onLevel(audio.Level(chunk.Data))
		}
	}
}

func (r *Recorder) drainErrors(c audio.Capturer) {
	for err := range c.Errors() {
		r.logger.Warn("capture error", "error", err)
	}
}

// Stop finalizes the recording and returns it as a WAV blob.
// It fails with ErrRecording when nothing is being recorded.
func (r *Recorder) Stop() (*audio.Blob, error) {
	r.mu.Lock()
	t := r.active
	started := r.startedAt
	r.active = nil
	r.mu.Unlock()

	if t == nil {
		return nil, fmt.Errorf("%w: no active recording", common.ErrRecording)
	}

	stopErr := t.capturer.Stop()
	<-t.done
	if stopErr != nil {
		return nil, classify(stopErr)
	}

	t.mu.Lock()
	pcm := t.pcm
	t.pcm = nil
	t.mu.Unlock()

	data, err := audio.EncodeWAV(pcm, r.config.Format())
	if err != nil {
		return nil, fmt.Errorf("%w: %v", common.ErrRecording, err)
	}

	r.logger.Info("recording stopped",
		"elapsed", r.clock.Since(started),
		"pcm_bytes", len(pcm),
		"wav_bytes", len(data))
	return audio.NewBlob(data, audio.TypeWAV), nil
}

// Cancel discards the current recording and releases the microphone.
// It never fails; release errors are logged.
func (r *Recorder) Cancel() {
	r.release("recording canceled")
}

// Cleanup forcibly releases all resources. Safe to call repeatedly.
func (r *Recorder) Cleanup() {
	r.release("recorder cleaned up")
}

func (r *Recorder) release(msg string) {
	r.mu.Lock()
	t := r.active
	r.active = nil
	r.mu.Unlock()

	if t == nil {
		return
	}
	if err := t.capturer.Stop(); err != nil {
		r.logger.Warn("release capture device", "error", err)
	}
	r.logger.Info(msg)
}

// IsRecording reports whether a recording is in progress.
func (r *Recorder) IsRecording() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.active != nil
}

// Elapsed returns the exact time since Start, or 0 when idle.
func (r *Recorder) Elapsed() time.Duration {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.active == nil {
		return 0
	}
	return r.clock.Since(r.startedAt)
}

// Duration returns whole elapsed seconds, or 0 when idle.
func (r *Recorder) Duration() int {
	return int(r.Elapsed() / time.Second)
}

// classify keeps capture sentinels intact and folds anything else into ErrRecording.
func classify(err error) error {
	switch {
	case errors.Is(err, common.ErrPermission),
		errors.Is(err, common.ErrNoMicrophone),
		errors.Is(err, common.ErrUnsupported),
		errors.Is(err, common.ErrRecording):
		return err
	default:
		return fmt.Errorf("%w: %v", common.ErrRecording, err)
	}
}
