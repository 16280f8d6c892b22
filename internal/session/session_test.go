package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/emmett/voxmsg/internal/audio"
	"github.com/emmett/voxmsg/internal/common"
	"github.com/emmett/voxmsg/internal/compress"
	"github.com/emmett/voxmsg/internal/errlog"
	"github.com/emmett/voxmsg/internal/upload"
)

type fakeRecorder struct {
	clock clockwork.Clock

	mu        sync.Mutex
	recording bool
	started   time.Time
	startErr  error
	stopErr   error
	blobType  string
	last      *audio.Blob
	starts    int
	cancels   int
}

func (r *fakeRecorder) Start(context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.startErr != nil {
		return r.startErr
	}
	r.recording = true
	r.started = r.clock.Now()
	r.starts++
	return nil
}

func (r *fakeRecorder) Stop() (*audio.Blob, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.recording {
		return nil, common.ErrRecording
	}
	r.recording = false
	if r.stopErr != nil {
		return nil, r.stopErr
	}
	typ := r.blobType
	if typ == "" {
		typ = "audio/webm;codecs=opus"
	}
	r.last = audio.NewBlob([]byte(fmt.Sprintf("take-%d", r.starts)), typ)
	return r.last, nil
}

func (r *fakeRecorder) Cancel() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.recording = false
	r.cancels++
}

func (r *fakeRecorder) Elapsed() time.Duration {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.recording {
		return 0
	}
	return r.clock.Since(r.started)
}

func (r *fakeRecorder) lastBlob() *audio.Blob {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.last
}

type fakeUploader struct {
	mu       sync.Mutex
	items    []upload.Item
	canceled []string
	upload   func(ctx context.Context, item upload.Item, onProgress upload.ProgressFunc) upload.Result
	onCancel func(id string)
}

func (u *fakeUploader) Upload(ctx context.Context, item upload.Item, onProgress upload.ProgressFunc) upload.Result {
	u.mu.Lock()
	u.items = append(u.items, item)
	fn := u.upload
	u.mu.Unlock()
	return fn(ctx, item, onProgress)
}

func (u *fakeUploader) Cancel(id string) {
	u.mu.Lock()
	u.canceled = append(u.canceled, id)
	fn := u.onCancel
	u.mu.Unlock()
	if fn != nil {
		fn(id)
	}
}

func (u *fakeUploader) calls() int {
	u.mu.Lock()
	defer u.mu.Unlock()
	return len(u.items)
}

type emptyCompressor struct{}

func (emptyCompressor) Compress(context.Context, *audio.Blob, compress.Options) *audio.Blob {
	return audio.NewBlob(nil, "")
}

type memPreviews struct {
	mu   sync.Mutex
	next int
	live map[string]bool
	fail error
}

func newMemPreviews() *memPreviews { return &memPreviews{live: map[string]bool{}} }

func (p *memPreviews) Create(*audio.Blob) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.fail != nil {
		return "", p.fail
	}
	p.next++
	path := fmt.Sprintf("preview-%d", p.next)
	p.live[path] = true
	return path, nil
}

func (p *memPreviews) Release(path string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.live, path)
}

func (p *memPreviews) liveCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.live)
}

func succeedWith(id, path string) func(context.Context, upload.Item, upload.ProgressFunc) upload.Result {
	return func(_ context.Context, _ upload.Item, onProgress upload.ProgressFunc) upload.Result {
		onProgress(0)
		onProgress(50)
		onProgress(100)
		return upload.Result{Success: true, MessageID: id, AudioPath: path}
	}
}

type fakeClock interface {
	clockwork.Clock
	Advance(d time.Duration)
	BlockUntil(n int)
}

type harness struct {
	clock    fakeClock
	recorder *fakeRecorder
	uploader *fakeUploader
	previews *memPreviews
	errors   *errlog.Logger
	session  *Session

	mu     sync.Mutex
	phases []Phase
}

func newHarness(t *testing.T, comp Compressor, opts ...Option) *harness {
	t.Helper()
	h := &harness{
		clock:    clockwork.NewFakeClock(),
		uploader: &fakeUploader{upload: succeedWith("m1", "/uploads/m1.webm")},
		previews: newMemPreviews(),
		errors:   errlog.New(),
	}
	h.recorder = &fakeRecorder{clock: h.clock}
	if comp == nil {
		comp = compress.New(compress.WithTranscoders())
	}
	base := []Option{
		WithClock(h.clock),
		WithPreviewStore(h.previews),
		WithErrorLog(h.errors),
		WithObserver(func(s State) {
			h.mu.Lock()
			defer h.mu.Unlock()
			if n := len(h.phases); n == 0 || h.phases[n-1] != s.Phase {
				h.phases = append(h.phases, s.Phase)
			}
		}),
	}
	h.session = New(h.recorder, comp, h.uploader, append(base, opts...)...)
	t.Cleanup(h.session.Close)
	return h
}

func (h *harness) record(t *testing.T, d time.Duration) {
	t.Helper()
	require.NoError(t, h.session.Start(context.Background()))
	h.clock.Advance(d)
	require.NoError(t, h.session.Stop())
}

func (h *harness) observedPhases() []Phase {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]Phase(nil), h.phases...)
}

func TestSession_RecordPreviewSend(t *testing.T) {
	h := newHarness(t, nil)

	require.NoError(t, h.session.Start(context.Background()))
	assert.Equal(t, PhaseRecording, h.session.State().Phase)

	h.clock.Advance(3 * time.Second)
	require.NoError(t, h.session.Stop())

	st := h.session.State()
	assert.Equal(t, PhasePreviewing, st.Phase)
	assert.Equal(t, 3, st.DurationSeconds)
	assert.True(t, st.HasRecording)
	assert.NotEmpty(t, st.PreviewPath)
	assert.Equal(t, 1, h.previews.liveCount())

	res, err := h.session.Send(context.Background(), "conv-1")
	require.NoError(t, err)
	assert.Equal(t, SendResult{MessageID: "m1", AudioPath: "/uploads/m1.webm"}, res)

	require.Equal(t, 1, h.uploader.calls())
	item := h.uploader.items[0]
	assert.Same(t, h.recorder.lastBlob(), item.Audio)
	assert.Equal(t, "conv-1", item.ConversationID)
	assert.Equal(t, 3.0, item.DurationSeconds)

	st = h.session.State()
	assert.Equal(t, PhaseIdle, st.Phase)
	assert.False(t, st.HasRecording)
	assert.Empty(t, st.PreviewPath)
	assert.Equal(t, 100, st.UploadProgress)
	assert.Equal(t, upload.StatusComplete, st.UploadStatus)
	assert.Zero(t, h.previews.liveCount())

	assert.Equal(t, []Phase{PhaseRecording, PhasePreviewing, PhaseUploading, PhaseIdle}, h.observedPhases())
}

func TestSession_TooShortIsRejectedLocally(t *testing.T) {
	h := newHarness(t, nil)
	h.record(t, 500*time.Millisecond)

	_, err := h.session.Send(context.Background(), "conv-1")
	require.ErrorIs(t, err, common.ErrValidation)

	st := h.session.State()
	assert.Equal(t, PhasePreviewing, st.Phase)
	assert.Equal(t, errlog.MsgTooShort, st.Error)
	assert.True(t, st.HasRecording)
	assert.Zero(t, h.uploader.calls())
	assert.Equal(t, errlog.CategoryValidation, h.errors.Entries()[0].Category)
}

func TestSession_AutoStopAtMaxDuration(t *testing.T) {
	h := newHarness(t, nil)

	require.NoError(t, h.session.Start(context.Background()))
	h.clock.BlockUntil(1)
	h.clock.Advance(300 * time.Second)

	require.Eventually(t, func() bool {
		return h.session.State().Phase == PhasePreviewing
	}, 2*time.Second, 5*time.Millisecond)

	st := h.session.State()
	assert.Equal(t, 300, st.DurationSeconds)
	assert.True(t, st.HasRecording)
	assert.NotEmpty(t, st.PreviewPath)
}

func TestSession_DurationTicksWhileRecording(t *testing.T) {
	h := newHarness(t, nil)

	require.NoError(t, h.session.Start(context.Background()))
	h.clock.BlockUntil(1)
	h.clock.Advance(2 * time.Second)

	require.Eventually(t, func() bool {
		return h.session.State().DurationSeconds == 2
	}, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, PhaseRecording, h.session.State().Phase)
}

func TestSession_CancelDuringUpload(t *testing.T) {
	h := newHarness(t, nil)

	inside := make(chan struct{})
	release := make(chan struct{})
	h.uploader.onCancel = func(string) { close(release) }
	h.uploader.upload = func(context.Context, upload.Item, upload.ProgressFunc) upload.Result {
		close(inside)
		<-release
		return upload.Result{Err: common.ErrCanceled}
	}

	h.record(t, 2*time.Second)

	type sendOut struct {
		res SendResult
		err error
	}
	done := make(chan sendOut)
	go func() {
		res, err := h.session.Send(context.Background(), "conv-1")
		done <- sendOut{res, err}
	}()

	<-inside
	assert.Equal(t, PhaseUploading, h.session.State().Phase)
	h.session.Cancel()

	out := <-done
	assert.ErrorIs(t, out.err, common.ErrCanceled)
	assert.Empty(t, out.res.MessageID)

	h.uploader.mu.Lock()
	require.Len(t, h.uploader.canceled, 1)
	assert.Equal(t, h.uploader.items[0].ID, h.uploader.canceled[0])
	h.uploader.mu.Unlock()

	st := h.session.State()
	assert.Equal(t, PhaseIdle, st.Phase)
	assert.False(t, st.HasRecording)
	assert.Zero(t, h.previews.liveCount())
}

func TestSession_CancelDuringUploadWithManager(t *testing.T) {
	inside := make(chan struct{})
	transport := transportFunc(func(ctx context.Context, _ upload.Item, _ func(int64, int64)) (*upload.Message, error) {
		close(inside)
		<-ctx.Done()
		return nil, context.Cause(ctx)
	})
	manager := upload.NewManager(transport)

	clock := clockwork.NewFakeClock()
	rec := &fakeRecorder{clock: clock}
	previews := newMemPreviews()
	s := New(rec, compress.New(compress.WithTranscoders()), manager,
		WithClock(clock), WithPreviewStore(previews))
	defer s.Close()

	require.NoError(t, s.Start(context.Background()))
	clock.Advance(2 * time.Second)
	require.NoError(t, s.Stop())

	errc := make(chan error)
	go func() {
		_, err := s.Send(context.Background(), "conv-1")
		errc <- err
	}()

	<-inside
	require.Len(t, manager.ActiveIDs(), 1)
	s.Cancel()

	select {
	case err := <-errc:
		assert.ErrorIs(t, err, common.ErrCanceled)
	case <-time.After(2 * time.Second):
		t.Fatal("send did not return after cancel")
	}
	assert.Empty(t, manager.ActiveIDs())
	assert.Equal(t, PhaseIdle, s.State().Phase)
	assert.Zero(t, previews.liveCount())
}

func TestSession_UploadFailureKeepsRecordingForRetry(t *testing.T) {
	h := newHarness(t, nil)
	h.uploader.upload = func(context.Context, upload.Item, upload.ProgressFunc) upload.Result {
		return upload.Result{Err: errors.New("Network timeout")}
	}
	h.record(t, 2*time.Second)

	_, err := h.session.Send(context.Background(), "conv-1")
	require.Error(t, err)

	st := h.session.State()
	assert.Equal(t, PhaseError, st.Phase)
	assert.True(t, st.HasRecording)
	assert.Empty(t, st.PreviewPath)
	assert.Equal(t, errlog.MsgTimeout, st.Error)
	assert.Equal(t, upload.StatusError, st.UploadStatus)
	assert.Zero(t, h.previews.liveCount())

	h.uploader.upload = succeedWith("m2", "/uploads/m2.webm")
	res, err := h.session.Retry(context.Background(), "conv-1")
	require.NoError(t, err)
	assert.Equal(t, "m2", res.MessageID)

	require.Equal(t, 2, h.uploader.calls())
	assert.Same(t, h.uploader.items[0].Audio, h.uploader.items[1].Audio)
	assert.Equal(t, PhaseIdle, h.session.State().Phase)
}

func TestSession_ReviewAfterFailureRecreatesPreview(t *testing.T) {
	h := newHarness(t, nil)
	h.uploader.upload = func(context.Context, upload.Item, upload.ProgressFunc) upload.Result {
		return upload.Result{Err: errors.New("Storage quota exceeded")}
	}
	h.record(t, 2*time.Second)

	_, err := h.session.Send(context.Background(), "conv-1")
	require.Error(t, err)
	assert.Equal(t, errlog.MsgSizeExceeded, h.session.State().Error)

	require.NoError(t, h.session.Review())
	st := h.session.State()
	assert.Equal(t, PhasePreviewing, st.Phase)
	assert.NotEmpty(t, st.PreviewPath)
	assert.Empty(t, st.Error)
	assert.Equal(t, 1, h.previews.liveCount())
}

func TestSession_CompressionFailureDiscardsRecording(t *testing.T) {
	h := newHarness(t, emptyCompressor{})
	h.record(t, 2*time.Second)

	_, err := h.session.Send(context.Background(), "conv-1")
	require.ErrorIs(t, err, common.ErrCompression)

	st := h.session.State()
	assert.Equal(t, PhaseError, st.Phase)
	assert.False(t, st.HasRecording)
	assert.Equal(t, errlog.MsgCompression, st.Error)
	assert.Zero(t, h.uploader.calls())
	assert.Zero(t, h.previews.liveCount())

	_, err = h.session.Retry(context.Background(), "conv-1")
	assert.ErrorIs(t, err, common.ErrValidation)
	assert.ErrorIs(t, h.session.Review(), common.ErrValidation)

	require.NoError(t, h.session.Start(context.Background()))
	assert.Equal(t, PhaseRecording, h.session.State().Phase)
}

func TestSession_ReRecordReleasesPreview(t *testing.T) {
	h := newHarness(t, nil)
	h.record(t, 2*time.Second)
	first := h.session.State().PreviewPath
	require.NotEmpty(t, first)

	require.NoError(t, h.session.ReRecord(context.Background()))
	st := h.session.State()
	assert.Equal(t, PhaseRecording, st.Phase)
	assert.Zero(t, st.DurationSeconds)
	assert.False(t, st.HasRecording)
	assert.Zero(t, h.previews.liveCount())

	h.clock.Advance(4 * time.Second)
	require.NoError(t, h.session.Stop())
	assert.NotEqual(t, first, h.session.State().PreviewPath)
	assert.Equal(t, 4, h.session.State().DurationSeconds)
}

func TestSession_StartPermissionDenied(t *testing.T) {
	h := newHarness(t, nil)
	h.recorder.startErr = fmt.Errorf("%w: device busy", common.ErrPermission)

	err := h.session.Start(context.Background())
	require.ErrorIs(t, err, common.ErrPermission)

	st := h.session.State()
	assert.Equal(t, PhaseIdle, st.Phase)
	assert.Equal(t, errlog.MsgPermissionDenied, st.Error)

	entries := h.errors.Entries()
	require.Len(t, entries, 1)
	assert.Equal(t, errlog.CategoryPermission, entries[0].Category)
	assert.Equal(t, errlog.SeverityWarning, entries[0].Severity)
}

func TestSession_StopFailureReturnsToIdle(t *testing.T) {
	h := newHarness(t, nil)
	h.recorder.stopErr = fmt.Errorf("%w: device lost", common.ErrRecording)

	require.NoError(t, h.session.Start(context.Background()))
	err := h.session.Stop()
	require.ErrorIs(t, err, common.ErrRecording)

	st := h.session.State()
	assert.Equal(t, PhaseIdle, st.Phase)
	assert.False(t, st.HasRecording)
	assert.Equal(t, errlog.MsgUnknown, st.Error)
}

func TestSession_InvalidTransitions(t *testing.T) {
	h := newHarness(t, nil)

	assert.ErrorIs(t, h.session.Stop(), common.ErrRecording)
	_, err := h.session.Send(context.Background(), "c")
	assert.ErrorIs(t, err, common.ErrValidation)
	assert.ErrorIs(t, h.session.ReRecord(context.Background()), common.ErrValidation)

	require.NoError(t, h.session.Start(context.Background()))
	assert.ErrorIs(t, h.session.Start(context.Background()), common.ErrValidation)
}

func TestSession_CancelWhileRecordingReleasesMicrophone(t *testing.T) {
	h := newHarness(t, nil)
	require.NoError(t, h.session.Start(context.Background()))

	h.session.Cancel()
	assert.Equal(t, 1, h.recorder.cancels)
	assert.Equal(t, PhaseIdle, h.session.State().Phase)

	h.session.Cancel()
	assert.Equal(t, 1, h.recorder.cancels)
}

func TestSession_PreviewFailureIsNotFatal(t *testing.T) {
	h := newHarness(t, nil)
	h.previews.fail = errors.New("disk full")
	h.record(t, 2*time.Second)

	st := h.session.State()
	assert.Equal(t, PhasePreviewing, st.Phase)
	assert.Empty(t, st.PreviewPath)

	_, err := h.session.Send(context.Background(), "conv-1")
	require.NoError(t, err)
}

type transportFunc func(ctx context.Context, item upload.Item, onProgress func(sent, total int64)) (*upload.Message, error)

func (f transportFunc) Send(ctx context.Context, item upload.Item, onProgress func(sent, total int64)) (*upload.Message, error) {
	return f(ctx, item, onProgress)
}

type compressorFunc func(ctx context.Context, blob *audio.Blob, opts compress.Options) *audio.Blob

func (f compressorFunc) Compress(ctx context.Context, blob *audio.Blob, opts compress.Options) *audio.Blob {
	return f(ctx, blob, opts)
}

func TestSession_CancelDuringCompressionCancelsContext(t *testing.T) {
	var s *Session
	var compressCtx context.Context
	comp := compressorFunc(func(ctx context.Context, blob *audio.Blob, _ compress.Options) *audio.Blob {
		compressCtx = ctx
		s.Cancel()
		return blob
	})
	h := newHarness(t, comp)
	s = h.session
	h.record(t, 2*time.Second)

	_, err := s.Send(context.Background(), "conv-1")
	assert.ErrorIs(t, err, common.ErrCanceled)
	require.NotNil(t, compressCtx)
	assert.ErrorIs(t, context.Cause(compressCtx), common.ErrCanceled)
	assert.Zero(t, h.uploader.calls())
	assert.Equal(t, PhaseIdle, s.State().Phase)
}

func TestSession_CancelBeforeUploadRegistersNeverDelivers(t *testing.T) {
	var mu sync.Mutex
	delivered := 0
	transport := transportFunc(func(ctx context.Context, item upload.Item, _ func(int64, int64)) (*upload.Message, error) {
		select {
		case <-ctx.Done():
			return nil, context.Cause(ctx)
		case <-time.After(200 * time.Millisecond):
		}
		mu.Lock()
		delivered++
		mu.Unlock()
		return &upload.Message{ID: "m1", Type: "voice", AudioPath: "/uploads/m1"}, nil
	})
	manager := upload.NewManager(transport)

	clock := clockwork.NewFakeClock()
	rec := &fakeRecorder{clock: clock}
	previews := newMemPreviews()
	var s *Session
	var once sync.Once
	s = New(rec, compress.New(compress.WithTranscoders()), manager,
		WithClock(clock), WithPreviewStore(previews),
		WithObserver(func(st State) {
			if st.Phase == PhaseUploading && st.UploadStatus == upload.StatusUploading {
				once.Do(func() { go s.Cancel() })
			}
		}))
	defer s.Close()

	require.NoError(t, s.Start(context.Background()))
	clock.Advance(2 * time.Second)
	require.NoError(t, s.Stop())

	errc := make(chan error)
	go func() {
		_, err := s.Send(context.Background(), "conv-1")
		errc <- err
	}()

	select {
	case err := <-errc:
		assert.ErrorIs(t, err, common.ErrCanceled)
	case <-time.After(2 * time.Second):
		t.Fatal("send did not return after cancel")
	}
	assert.Eventually(t, func() bool { return s.State().Phase == PhaseIdle }, time.Second, 5*time.Millisecond)
	assert.Empty(t, manager.ActiveIDs())
	mu.Lock()
	assert.Zero(t, delivered)
	mu.Unlock()
}
