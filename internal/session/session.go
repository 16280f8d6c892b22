// Package session drives one voice message from microphone to server:
// record, preview, send, and recover from failures.
package session

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"

	"github.com/emmett/voxmsg/internal/audio"
	"github.com/emmett/voxmsg/internal/common"
	"github.com/emmett/voxmsg/internal/compress"
	"github.com/emmett/voxmsg/internal/errlog"
	"github.com/emmett/voxmsg/internal/upload"
)

// Phase of the recording state machine.
type Phase string

const (
	PhaseIdle       Phase = "idle"
	PhaseRecording  Phase = "recording"
	PhasePreviewing Phase = "previewing"
	PhaseUploading  Phase = "uploading"
	PhaseError      Phase = "error"
)

const (
	DefaultMaxDuration = 300 * time.Second
	DefaultMinDuration = time.Second
)

// State is a snapshot of the session. The recording itself is never exposed.
type State struct {
	Phase           Phase         `json:"phase"`
	DurationSeconds int           `json:"duration_seconds"`
	PreviewPath     string        `json:"preview_path,omitempty"`
	HasRecording    bool          `json:"has_recording"`
	UploadProgress  int           `json:"upload_progress"`
	UploadStatus    upload.Status `json:"upload_status,omitempty"`
	Error           string        `json:"error,omitempty"`
}

// Recorder captures audio.
type Recorder interface {
	Start(ctx context.Context) error
	Stop() (*audio.Blob, error)
	Cancel()
	Elapsed() time.Duration
}

// Compressor prepares a recording for upload. It must not fail; an empty
// result is treated as a compression failure.
type Compressor interface {
	Compress(ctx context.Context, blob *audio.Blob, opts compress.Options) *audio.Blob
}

// Uploader delivers recordings. Implementations record their own failures
// in the error log.
type Uploader interface {
	Upload(ctx context.Context, item upload.Item, onProgress upload.ProgressFunc) upload.Result
	Cancel(id string)
}

// SendResult identifies the delivered message.
type SendResult struct {
	MessageID string
	AudioPath string
}

// Session is a recording state machine. All methods are safe for
// concurrent use. The observer runs after each change, in order, and must
// not call back into the Session.
type Session struct {
	recorder   Recorder
	compressor Compressor
	uploader   Uploader
	previews   PreviewStore

	clock        clockwork.Clock
	logger       *slog.Logger
	errors       *errlog.Logger
	maxDuration  time.Duration
	minDuration  time.Duration
	compressOpts compress.Options
	observer     func(State)

	mu         sync.Mutex
	notifyMu   sync.Mutex
	state      State
	blob       *audio.Blob
	elapsed    time.Duration
	uploadID   string
	sendCancel context.CancelCauseFunc
	stopTick   chan struct{}
	gen        uint64
}

// Option configures a Session.
type Option func(*Session)

func WithClock(clock clockwork.Clock) Option {
	return func(s *Session) { s.clock = clock }
}

func WithLogger(logger *slog.Logger) Option {
	return func(s *Session) { s.logger = logger }
}

func WithErrorLog(l *errlog.Logger) Option {
	return func(s *Session) { s.errors = l }
}

func WithPreviewStore(p PreviewStore) Option {
	return func(s *Session) { s.previews = p }
}

// WithMaxDuration sets the auto-stop limit.
func WithMaxDuration(d time.Duration) Option {
	return func(s *Session) { s.maxDuration = d }
}

// WithMinDuration sets the shortest recording that may be sent.
func WithMinDuration(d time.Duration) Option {
	return func(s *Session) { s.minDuration = d }
}

func WithCompressOptions(opts compress.Options) Option {
	return func(s *Session) { s.compressOpts = opts }
}

// WithObserver registers a callback receiving every state change.
func WithObserver(fn func(State)) Option {
	return func(s *Session) { s.observer = fn }
}

func New(rec Recorder, comp Compressor, up Uploader, opts ...Option) *Session {
	s := &Session{
		recorder:     rec,
		compressor:   comp,
		uploader:     up,
		previews:     &TempPreviewStore{},
		clock:        clockwork.NewRealClock(),
		logger:       slog.Default(),
		maxDuration:  DefaultMaxDuration,
		minDuration:  DefaultMinDuration,
		compressOpts: compress.DefaultOptions(),
		state:        State{Phase: PhaseIdle},
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.errors == nil {
		s.errors = errlog.New(errlog.WithLogger(s.logger))
	}
	s.logger = s.logger.With("component", "session")
	return s
}

// State returns the current snapshot.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Start begins a new recording from idle or error, discarding any
// retained recording.
func (s *Session) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.state.Phase != PhaseIdle && s.state.Phase != PhaseError {
		phase := s.state.Phase
		s.mu.Unlock()
		return fmt.Errorf("%w: cannot start while %s", common.ErrValidation, phase)
	}
	s.discardLocked()
	err := s.startLocked(ctx)
	s.commit()
	return err
}

// ReRecord throws away the previewed recording and starts a new one.
func (s *Session) ReRecord(ctx context.Context) error {
	s.mu.Lock()
	if s.state.Phase != PhasePreviewing {
		phase := s.state.Phase
		s.mu.Unlock()
		return fmt.Errorf("%w: cannot re-record while %s", common.ErrValidation, phase)
	}
	s.discardLocked()
	err := s.startLocked(ctx)
	s.commit()
	return err
}

func (s *Session) startLocked(ctx context.Context) error {
	s.state = State{Phase: PhaseIdle}
	if err := s.recorder.Start(ctx); err != nil {
		s.state.Error = errlog.FriendlyMessage(err)
		s.logFailure(err, "start")
		return err
	}

	s.gen++
	s.stopTick = make(chan struct{})
	s.state.Phase = PhaseRecording
	go s.tick(s.gen, s.stopTick)

	s.logger.Info("recording", "max_duration", s.maxDuration)
	return nil
}

func (s *Session) tick(gen uint64, stop <-chan struct{}) {
	ticker := s.clock.NewTicker(time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.Chan():
			s.mu.Lock()
			if gen != s.gen || s.state.Phase != PhaseRecording {
				s.mu.Unlock()
				return
			}
			elapsed := s.recorder.Elapsed()
			if secs := int(elapsed / time.Second); secs > s.state.DurationSeconds {
				s.state.DurationSeconds = secs
			}
			if elapsed >= s.maxDuration {
				s.logger.Info("max duration reached, stopping", "elapsed", elapsed)
				_ = s.stopLocked()
			}
			s.commit()
		}
	}
}

// Stop ends the recording and enters preview.
func (s *Session) Stop() error {
	s.mu.Lock()
	if s.state.Phase != PhaseRecording {
		phase := s.state.Phase
		s.mu.Unlock()
		return fmt.Errorf("%w: not recording (%s)", common.ErrRecording, phase)
	}
	err := s.stopLocked()
	s.commit()
	return err
}

func (s *Session) stopLocked() error {
	elapsed := s.recorder.Elapsed()
	s.haltTicker()

	blob, err := s.recorder.Stop()
	if err != nil {
		s.state = State{Phase: PhaseIdle, Error: errlog.FriendlyMessage(err)}
		s.logFailure(err, "stop")
		return err
	}

	s.blob = blob
	s.elapsed = elapsed
	if secs := int(elapsed / time.Second); secs > s.state.DurationSeconds {
		s.state.DurationSeconds = secs
	}
	s.state.Phase = PhasePreviewing
	s.state.HasRecording = true
	s.state.Error = ""
	s.createPreviewLocked()

	s.logger.Info("recording ready for preview",
		"elapsed", elapsed,
		"bytes", blob.Size(),
		"type", blob.Type)
	return nil
}

// Send validates, compresses and uploads the recording. It may be called
// from previewing only; use Retry from error.
func (s *Session) Send(ctx context.Context, conversationID string) (SendResult, error) {
	return s.send(ctx, conversationID, PhasePreviewing)
}

// Retry re-sends the recording retained after a failed upload.
func (s *Session) Retry(ctx context.Context, conversationID string) (SendResult, error) {
	return s.send(ctx, conversationID, PhaseError)
}

func (s *Session) send(ctx context.Context, conversationID string, from Phase) (SendResult, error) {
	s.mu.Lock()
	if s.state.Phase != from || s.blob == nil {
		phase := s.state.Phase
		s.mu.Unlock()
		return SendResult{}, fmt.Errorf("%w: nothing to send while %s", common.ErrValidation, phase)
	}
	if s.elapsed < s.minDuration {
		err := fmt.Errorf("%w: recording too short (%s, minimum %s)", common.ErrValidation, s.elapsed.Round(time.Millisecond), s.minDuration)
		s.state.Error = errlog.FriendlyMessage(err)
		s.logFailure(err, "send")
		s.commit()
		return SendResult{}, err
	}

	id := uuid.NewString()
	blob, elapsed := s.blob, s.elapsed
	ctx, cancel := context.WithCancelCause(ctx)
	defer cancel(nil)
	s.uploadID = id
	s.sendCancel = cancel
	s.state.Phase = PhaseUploading
	s.state.UploadProgress = 0
	s.state.UploadStatus = upload.StatusCompressing
	s.state.Error = ""
	s.commit()

	compressed := s.compressor.Compress(ctx, blob, s.compressOpts)

	s.mu.Lock()
	if s.uploadID != id {
		s.mu.Unlock()
		return SendResult{}, fmt.Errorf("%w: send %s", common.ErrCanceled, id)
	}
	if compressed.Size() == 0 {
		err := fmt.Errorf("%w: compressor returned no data", common.ErrCompression)
		s.discardLocked()
		s.state = State{Phase: PhaseError, UploadStatus: upload.StatusError, Error: errlog.FriendlyMessage(err)}
		s.logFailure(err, "compress")
		s.commit()
		return SendResult{}, err
	}
	s.state.UploadStatus = upload.StatusUploading
	s.commit()

	res := s.uploader.Upload(ctx, upload.Item{
		ID:              id,
		ConversationID:  conversationID,
		Audio:           compressed,
		DurationSeconds: elapsed.Seconds(),
	}, func(pct int) {
		s.mu.Lock()
		if s.uploadID != id {
			s.mu.Unlock()
			return
		}
		s.state.UploadProgress = pct
		s.commit()
	})

	s.mu.Lock()
	if s.uploadID != id {
		s.mu.Unlock()
		return SendResult{}, fmt.Errorf("%w: send %s", common.ErrCanceled, id)
	}
	s.uploadID = ""
	s.sendCancel = nil

	if !res.Success {
		s.previews.Release(s.state.PreviewPath)
		s.state.PreviewPath = ""
		s.state.Phase = PhaseError
		s.state.UploadStatus = upload.StatusError
		s.state.Error = errlog.FriendlyMessage(res.Err)
		s.logger.Warn("send failed, recording kept for retry", "error", res.Err)
		s.commit()
		return SendResult{}, res.Err
	}

	s.discardLocked()
	s.state = State{Phase: PhaseIdle, UploadProgress: 100, UploadStatus: upload.StatusComplete}
	s.logger.Info("voice message sent", "message_id", res.MessageID, "audio_path", res.AudioPath)
	s.commit()
	return SendResult{MessageID: res.MessageID, AudioPath: res.AudioPath}, nil
}

// Review returns from error to previewing, recreating the preview of the
// retained recording.
func (s *Session) Review() error {
	s.mu.Lock()
	if s.state.Phase != PhaseError || s.blob == nil {
		phase := s.state.Phase
		s.mu.Unlock()
		return fmt.Errorf("%w: no recording to review while %s", common.ErrValidation, phase)
	}
	s.state.Phase = PhasePreviewing
	s.state.Error = ""
	s.state.UploadStatus = ""
	s.state.UploadProgress = 0
	s.createPreviewLocked()
	s.commit()
	return nil
}

// Cancel aborts whatever is in progress, releases every resource and
// returns to idle. It never fails.
func (s *Session) Cancel() {
	s.mu.Lock()
	phase := s.state.Phase
	s.discardLocked()
	s.state = State{Phase: PhaseIdle}
	if phase != PhaseIdle {
		s.logger.Info("canceled", "phase", phase)
	}
	s.commit()
}

// Reset clears any error and returns to idle, dropping the recording.
func (s *Session) Reset() {
	s.Cancel()
}

// Close releases the microphone and any preview.
func (s *Session) Close() {
	s.Cancel()
}

// discardLocked stops recording or uploading and drops the recording and
// its preview.
func (s *Session) discardLocked() {
	switch s.state.Phase {
	case PhaseRecording:
		s.haltTicker()
		s.recorder.Cancel()
	case PhaseUploading:
		if s.sendCancel != nil {
			s.sendCancel(common.ErrCanceled)
		}
		if s.uploadID != "" {
			s.uploader.Cancel(s.uploadID)
		}
	}
	s.uploadID = ""
	s.sendCancel = nil
	s.previews.Release(s.state.PreviewPath)
	s.state.PreviewPath = ""
	s.state.HasRecording = false
	s.blob = nil
	s.elapsed = 0
}

func (s *Session) haltTicker() {
	s.gen++
	if s.stopTick != nil {
		close(s.stopTick)
		s.stopTick = nil
	}
}

func (s *Session) createPreviewLocked() {
	path, err := s.previews.Create(s.blob)
	if err != nil {
		s.errors.LogPlaybackError(err, map[string]any{"op": "preview"})
		s.logger.Warn("preview unavailable", "error", err)
		return
	}
	s.state.PreviewPath = path
}

func (s *Session) logFailure(err error, op string) {
	meta := map[string]any{"op": op, "phase": string(s.state.Phase)}
	switch errlog.CategoryOf(err) {
	case errlog.CategoryPermission:
		s.errors.LogPermissionError(err, meta)
	case errlog.CategoryCompression:
		s.errors.LogCompressionError(err, meta)
	case errlog.CategoryRecording:
		s.errors.LogRecordingError(err, meta)
	default:
		s.errors.Log(err, errlog.Options{Metadata: meta})
	}
}

// commit publishes the state and releases s.mu. Observers see changes in
// the order they were made.
func (s *Session) commit() {
	snapshot := s.state
	s.notifyMu.Lock()
	s.mu.Unlock()
	defer s.notifyMu.Unlock()
	if s.observer != nil {
		s.observer(snapshot)
	}
}
