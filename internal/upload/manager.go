package upload

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sethvargo/go-retry"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/emmett/voxmsg/internal/common"
	"github.com/emmett/voxmsg/internal/errlog"
)

var errWatchdog = errors.New("upload watchdog fired")

// Config tunes the manager.
type Config struct {
	// Timeout bounds each attempt.
	Timeout time.Duration
	// MaxAttempts is the total number of attempts, including the first.
	MaxAttempts int
	// RetryBaseDelay is multiplied by the attempt number before each retry.
	RetryBaseDelay time.Duration
	// Concurrency caps UploadAll.
	Concurrency int
	// ProgressInterval is the minimum spacing between progress callbacks.
	ProgressInterval time.Duration
}

func DefaultConfig() Config {
	return Config{
		Timeout:          60 * time.Second,
		MaxAttempts:      2,
		RetryBaseDelay:   time.Second,
		Concurrency:      3,
		ProgressInterval: 100 * time.Millisecond,
	}
}

// task is a registry entry. It exists exactly while a transfer is in flight.
type task struct {
	cancel   context.CancelCauseFunc
	progress int
	status   Status
}

// Manager tracks in-flight uploads by id.
type Manager struct {
	transport Transport
	cfg       Config
	logger    *slog.Logger
	errors    *errlog.Logger

	mu    sync.Mutex
	tasks map[string]*task
}

// Option configures a Manager.
type Option func(*Manager)

func WithConfig(cfg Config) Option {
	return func(m *Manager) { m.cfg = cfg }
}

func WithLogger(logger *slog.Logger) Option {
	return func(m *Manager) { m.logger = logger }
}

func WithErrorLog(l *errlog.Logger) Option {
	return func(m *Manager) { m.errors = l }
}

func NewManager(transport Transport, opts ...Option) *Manager {
	m := &Manager{
		transport: transport,
		cfg:       DefaultConfig(),
		logger:    slog.Default(),
		tasks:     make(map[string]*task),
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.cfg.Concurrency < 1 {
		m.cfg.Concurrency = 1
	}
	if m.errors == nil {
		m.errors = errlog.New(errlog.WithLogger(m.logger))
	}
	m.logger = m.logger.With("component", "upload")
	return m
}

// Upload sends item, retrying transient failures. It returns once the
// transfer succeeded, failed for good, or was canceled. onProgress may be nil.
func (m *Manager) Upload(ctx context.Context, item Item, onProgress ProgressFunc) Result {
	if item.ID == "" {
		item.ID = uuid.NewString()
	}
	if item.Audio.Size() == 0 {
		return m.fail(item, 0, fmt.Errorf("%w: empty recording", common.ErrValidation))
	}

	ctx, t, err := m.register(ctx, item.ID)
	if err != nil {
		return m.fail(item, 0, err)
	}
	defer m.unregister(item.ID, t)

	attempts := 0
	var msg *Message
	err = retry.Do(ctx, linearBackoff(m.cfg.RetryBaseDelay, m.cfg.MaxAttempts), func(ctx context.Context) error {
		// retry.Do runs f before looking at ctx.
		if err := ctx.Err(); err != nil {
			return err
		}
		attempts++
		got, err := m.attempt(ctx, item, onProgress)
		if err != nil {
			if ctx.Err() != nil {
				return err
			}
			m.logger.Warn("upload attempt failed",
				"id", item.ID,
				"attempt", attempts,
				"error", err)
			if IsRetryable(err) {
				return retry.RetryableError(err)
			}
			return err
		}
		msg = got
		return nil
	})

	if err != nil {
		if ctx.Err() != nil {
			err = fmt.Errorf("%w: upload %s", common.ErrCanceled, item.ID)
		}
		return m.fail(item, attempts, err)
	}

	m.report(item.ID, onProgress, 100)
	m.setStatus(item.ID, StatusComplete)
	m.logger.Info("upload complete",
		"id", item.ID,
		"message_id", msg.ID,
		"attempts", attempts,
		"bytes", item.Audio.Size())
	return succeeded(msg)
}

func (m *Manager) attempt(ctx context.Context, item Item, onProgress ProgressFunc) (*Message, error) {
	actx, cancel := context.WithTimeoutCause(ctx, m.cfg.Timeout, errWatchdog)
	defer cancel()

	m.setStatus(item.ID, StatusUploading)
	m.report(item.ID, onProgress, 0)

	limiter := rate.NewLimiter(rate.Every(m.cfg.ProgressInterval), 1)
	last := 0
	msg, err := m.transport.Send(actx, item, func(sent, total int64) {
		if total <= 0 {
			return
		}
		pct := int(sent * 100 / total)
		// 100 is reserved for a confirmed response.
		if pct >= 100 {
			pct = 99
		}
		if pct <= last || !limiter.Allow() {
			return
		}
		last = pct
		m.report(item.ID, onProgress, pct)
	})
	if err != nil && ctx.Err() == nil && errors.Is(context.Cause(actx), errWatchdog) {
		err = fmt.Errorf("%w: no response within %s", common.ErrTimeout, m.cfg.Timeout)
	}
	return msg, err
}

func (m *Manager) fail(item Item, attempts int, err error) Result {
	m.setStatus(item.ID, StatusError)
	meta := map[string]any{
		"id":              item.ID,
		"conversation_id": item.ConversationID,
		"attempts":        attempts,
		"bytes":           item.Audio.Size(),
	}
	if errors.Is(err, common.ErrCanceled) {
		m.errors.LogMessage(err.Error(), errlog.Options{
			Category: errlog.CategoryUpload,
			Severity: errlog.SeverityInfo,
			Metadata: meta,
		})
	} else {
		m.errors.LogUploadError(err, meta)
	}
	return failed(err)
}

func (m *Manager) register(ctx context.Context, id string) (context.Context, *task, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.tasks[id]; ok {
		return nil, nil, fmt.Errorf("%w: upload %s already in progress", common.ErrValidation, id)
	}
	if ctx.Err() != nil {
		return nil, nil, fmt.Errorf("%w: upload %s", common.ErrCanceled, id)
	}
	ctx, cancel := context.WithCancelCause(ctx)
	t := &task{cancel: cancel, status: StatusUploading}
	m.tasks[id] = t
	return ctx, t, nil
}

// unregister removes t unless CancelAll already dropped it.
func (m *Manager) unregister(id string, t *task) {
	m.mu.Lock()
	if m.tasks[id] == t {
		delete(m.tasks, id)
	}
	m.mu.Unlock()
	t.cancel(nil)
}

func (m *Manager) report(id string, fn ProgressFunc, pct int) {
	m.mu.Lock()
	if t, ok := m.tasks[id]; ok {
		t.progress = pct
	}
	m.mu.Unlock()
	if fn != nil {
		fn(pct)
	}
}

func (m *Manager) setStatus(id string, s Status) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if t, ok := m.tasks[id]; ok {
		t.status = s
	}
}

// Cancel aborts the transfer registered under id. Unknown ids are ignored.
func (m *Manager) Cancel(id string) {
	m.mu.Lock()
	t, ok := m.tasks[id]
	m.mu.Unlock()
	if ok {
		t.cancel(common.ErrCanceled)
		m.logger.Info("upload canceled", "id", id)
	}
}

// CancelAll aborts every in-flight transfer and clears the registry.
func (m *Manager) CancelAll() {
	m.mu.Lock()
	tasks := m.tasks
	m.tasks = make(map[string]*task)
	m.mu.Unlock()
	for _, t := range tasks {
		t.cancel(common.ErrCanceled)
	}
}

// InFlight reports whether id is currently registered.
func (m *Manager) InFlight(id string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.tasks[id]
	return ok
}

// ActiveIDs returns the registered ids in sorted order.
func (m *Manager) ActiveIDs() []string {
	m.mu.Lock()
	ids := make([]string, 0, len(m.tasks))
	for id := range m.tasks {
		ids = append(ids, id)
	}
	m.mu.Unlock()
	slices.Sort(ids)
	return ids
}

// Progress returns the last reported percentage and status for id.
func (m *Manager) Progress(id string) (int, Status, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.tasks[id]
	if !ok {
		return 0, "", false
	}
	return t.progress, t.status, true
}

// UploadAll uploads items with at most Config.Concurrency transfers in
// flight. Results are in input order.
func (m *Manager) UploadAll(ctx context.Context, items []Item, onProgress func(id string, percent int)) []Result {
	results := make([]Result, len(items))

	var g errgroup.Group
	g.SetLimit(m.cfg.Concurrency)
	for i := range items {
		item := items[i]
		if item.ID == "" {
			item.ID = uuid.NewString()
		}
		g.Go(func() error {
			var fn ProgressFunc
			if onProgress != nil {
				fn = func(pct int) { onProgress(item.ID, pct) }
			}
			results[i] = m.Upload(ctx, item, fn)
			return nil
		})
	}
	_ = g.Wait()

	return results
}
