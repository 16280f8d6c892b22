// Package errlog keeps a bounded in-memory log of pipeline failures and maps
// raw errors to the short messages shown to the user.
package errlog

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/emmett/voxmsg/internal/common"
)

// DefaultCapacity is the number of entries retained before the oldest is evicted.
const DefaultCapacity = 100

// Category classifies where in the pipeline a failure happened.
type Category string

const (
	CategoryPermission  Category = "permission"
	CategoryRecording   Category = "recording"
	CategoryCompression Category = "compression"
	CategoryUpload      Category = "upload"
	CategoryPlayback    Category = "playback"
	CategoryNetwork     Category = "network"
	CategoryValidation  Category = "validation"
	CategoryUnknown     Category = "unknown"
)

// Severity of a log entry.
type Severity string

const (
	SeverityInfo    Severity = "info"
	SeverityWarning Severity = "warning"
	SeverityError   Severity = "error"
)

// Entry is a single diagnostic record.
type Entry struct {
	Timestamp time.Time      `json:"timestamp"`
	Message   string         `json:"message"`
	Category  Category       `json:"category"`
	Severity  Severity       `json:"severity"`
	Metadata  map[string]any `json:"metadata,omitempty"`
}

// Options describes how an error is recorded. Zero values are filled in:
// the category from CategoryOf and the severity from the category.
type Options struct {
	Category Category
	Severity Severity
	Metadata map[string]any
}

// Logger is a thread-safe ring of recent entries. Every entry is also
// forwarded to a structured logger.
type Logger struct {
	mu      sync.Mutex
	entries *ring[Entry]
	logger  *slog.Logger
	clock   clockwork.Clock
}

// Option configures a Logger.
type Option func(*Logger)

// WithCapacity sets the maximum number of retained entries.
func WithCapacity(n int) Option {
	return func(l *Logger) {
		l.entries = newRing[Entry](n)
	}
}

// WithLogger sets the structured logger entries are mirrored to.
func WithLogger(logger *slog.Logger) Option {
	return func(l *Logger) {
		if logger != nil {
			l.logger = logger
		}
	}
}

// WithClock sets the clock used to timestamp entries.
func WithClock(clock clockwork.Clock) Option {
	return func(l *Logger) {
		if clock != nil {
			l.clock = clock
		}
	}
}

// New creates a Logger with DefaultCapacity.
func New(opts ...Option) *Logger {
	l := &Logger{
		entries: newRing[Entry](DefaultCapacity),
		logger:  slog.Default(),
		clock:   clockwork.NewRealClock(),
	}
	for _, opt := range opts {
		opt(l)
	}
	l.logger = l.logger.With("component", "errlog")
	return l
}

// Log records err. A nil error is ignored.
func (l *Logger) Log(err error, opts Options) {
	if err == nil {
		return
	}
	if opts.Category == "" {
		opts.Category = CategoryOf(err)
	}
	l.record(err.Error(), opts)
}

// LogMessage records a plain message.
func (l *Logger) LogMessage(msg string, opts Options) {
	if opts.Category == "" {
		opts.Category = CategoryUnknown
	}
	l.record(msg, opts)
}

func (l *Logger) LogPermissionError(err error, metadata map[string]any) {
	l.Log(err, Options{Category: CategoryPermission, Severity: SeverityWarning, Metadata: metadata})
}

func (l *Logger) LogRecordingError(err error, metadata map[string]any) {
	l.Log(err, Options{Category: CategoryRecording, Severity: SeverityError, Metadata: metadata})
}

func (l *Logger) LogCompressionError(err error, metadata map[string]any) {
	l.Log(err, Options{Category: CategoryCompression, Severity: SeverityError, Metadata: metadata})
}

func (l *Logger) LogUploadError(err error, metadata map[string]any) {
	l.Log(err, Options{Category: CategoryUpload, Severity: SeverityError, Metadata: metadata})
}

func (l *Logger) LogPlaybackError(err error, metadata map[string]any) {
	l.Log(err, Options{Category: CategoryPlayback, Severity: SeverityError, Metadata: metadata})
}

func (l *Logger) LogNetworkError(err error, metadata map[string]any) {
	l.Log(err, Options{Category: CategoryNetwork, Severity: SeverityError, Metadata: metadata})
}

// Entries returns every retained entry, oldest first.
func (l *Logger) Entries() []Entry {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.entries.items()
}

// Recent returns up to n most recent entries, oldest first.
func (l *Logger) Recent(n int) []Entry {
	all := l.Entries()
	if n <= 0 {
		return nil
	}
	if n >= len(all) {
		return all
	}
	return all[len(all)-n:]
}

// Len returns the number of retained entries.
func (l *Logger) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.entries.len()
}

// Clear drops all retained entries.
func (l *Logger) Clear() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.entries.reset()
}

func (l *Logger) record(msg string, opts Options) {
	if opts.Severity == "" {
		opts.Severity = defaultSeverity(opts.Category)
	}

	entry := Entry{
		Timestamp: l.clock.Now(),
		Message:   msg,
		Category:  opts.Category,
		Severity:  opts.Severity,
		Metadata:  copyMetadata(opts.Metadata),
	}

	l.mu.Lock()
	l.entries.push(entry)
	l.mu.Unlock()

	attrs := []slog.Attr{
		slog.String("category", string(entry.Category)),
		slog.String("severity", string(entry.Severity)),
	}
	for k, v := range entry.Metadata {
		attrs = append(attrs, slog.Any(k, v))
	}
	l.logger.LogAttrs(context.Background(), slogLevel(entry.Severity), msg, attrs...)
}

func defaultSeverity(c Category) Severity {
	if c == CategoryPermission {
		return SeverityWarning
	}
	return SeverityError
}

func slogLevel(s Severity) slog.Level {
	switch s {
	case SeverityInfo:
		return slog.LevelInfo
	case SeverityWarning:
		return slog.LevelWarn
	default:
		return slog.LevelError
	}
}

func copyMetadata(m map[string]any) map[string]any {
	if len(m) == 0 {
		return nil
	}
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

// CategoryOf derives the category of err from the sentinel it wraps.
func CategoryOf(err error) Category {
	switch {
	case err == nil:
		return CategoryUnknown
	case errors.Is(err, common.ErrPermission),
		errors.Is(err, common.ErrNoMicrophone),
		errors.Is(err, common.ErrUnsupported):
		return CategoryPermission
	case errors.Is(err, common.ErrRecording):
		return CategoryRecording
	case errors.Is(err, common.ErrCompression):
		return CategoryCompression
	case errors.Is(err, common.ErrValidation):
		return CategoryValidation
	case errors.Is(err, common.ErrNetwork), errors.Is(err, common.ErrTimeout):
		return CategoryNetwork
	case errors.Is(err, common.ErrUpload),
		errors.Is(err, common.ErrMetadata),
		errors.Is(err, common.ErrSizeExceeded),
		errors.Is(err, common.ErrCanceled):
		return CategoryUpload
	case errors.Is(err, common.ErrPlayback):
		return CategoryPlayback
	default:
		return CategoryUnknown
	}
}
