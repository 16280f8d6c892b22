package playback

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/gabriel-vasile/mimetype"

	"github.com/emmett/voxmsg/internal/audio"
	"github.com/emmett/voxmsg/internal/common"
	"github.com/emmett/voxmsg/internal/errlog"
)

// Output renders PCM. Play blocks until playback ends or ctx is done.
type Output interface {
	Play(ctx context.Context, pcm []byte, format audio.PCMFormat, onProgress func(time.Duration)) error
}

// Events are lifecycle callbacks. Any of them may be nil.
type Events struct {
	OnStart      func(total time.Duration)
	OnTimeUpdate func(position, total time.Duration)
	OnEnded      func()
	OnError      func(err error)
}

// decodeFormat is used when ffmpeg decodes compressed containers.
var decodeFormat = audio.PCMFormat{SampleRate: 48000, Channels: 1}

// Player fetches, decodes and plays voice messages.
type Player struct {
	resolver Resolver
	client   *http.Client
	output   Output
	ffmpeg   *audio.FFmpeg
	logger   *slog.Logger
	errors   *errlog.Logger
}

// Option configures a Player.
type Option func(*Player)

func WithHTTPClient(c *http.Client) Option {
	return func(p *Player) { p.client = c }
}

func WithFFmpeg(f *audio.FFmpeg) Option {
	return func(p *Player) { p.ffmpeg = f }
}

func WithLogger(logger *slog.Logger) Option {
	return func(p *Player) { p.logger = logger }
}

func WithErrorLog(l *errlog.Logger) Option {
	return func(p *Player) { p.errors = l }
}

func NewPlayer(resolver Resolver, output Output, opts ...Option) *Player {
	p := &Player{
		resolver: resolver,
		client:   http.DefaultClient,
		output:   output,
		ffmpeg:   audio.NewFFmpeg(""),
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(p)
	}
	if p.errors == nil {
		p.errors = errlog.New(errlog.WithLogger(p.logger))
	}
	p.logger = p.logger.With("component", "playback")
	return p
}

// PlayMessage streams the message's audio to the output.
func (p *Player) PlayMessage(ctx context.Context, messageID string, ev Events) error {
	blob, err := p.Fetch(ctx, messageID)
	if err != nil {
		return p.fail(err, ev, map[string]any{"message_id": messageID})
	}
	return p.play(ctx, blob, ev, map[string]any{"message_id": messageID})
}

// PlayBlob plays a local recording, e.g. a preview before sending.
func (p *Player) PlayBlob(ctx context.Context, blob *audio.Blob, ev Events) error {
	return p.play(ctx, blob, ev, map[string]any{"type": blob.BaseType()})
}

// Fetch downloads the message audio. An expired or rejected signed URL is
// re-resolved once.
func (p *Player) Fetch(ctx context.Context, messageID string) (*audio.Blob, error) {
	link, err := p.resolver.Resolve(ctx, messageID)
	if err != nil {
		return nil, err
	}

	blob, status, err := p.download(ctx, link)
	if err != nil && isExpired(status) {
		p.logger.Info("signed url rejected, resolving again", "message_id", messageID, "status", status)
		if link, err = p.resolver.Resolve(ctx, messageID); err != nil {
			return nil, err
		}
		blob, _, err = p.download(ctx, link)
	}
	return blob, err
}

func isExpired(status int) bool {
	return status == http.StatusUnauthorized || status == http.StatusForbidden || status == http.StatusGone
}

func (p *Player) download(ctx context.Context, link string) (*audio.Blob, int, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, link, nil)
	if err != nil {
		return nil, 0, err
	}
	resp, err := p.client.Do(req)
	if err != nil {
		return nil, 0, fmt.Errorf("%w: %w", common.ErrNetwork, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil, resp.StatusCode, fmt.Errorf("download audio: status %d", resp.StatusCode)
	}
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, resp.StatusCode, fmt.Errorf("%w: %w", common.ErrNetwork, err)
	}

	mimeType := resp.Header.Get("Content-Type")
	if mimeType == "" || strings.HasPrefix(mimeType, "application/octet-stream") {
		mimeType = mimetype.Detect(data).String()
	}
	return audio.NewBlob(data, mimeType), resp.StatusCode, nil
}

func (p *Player) play(ctx context.Context, blob *audio.Blob, ev Events, meta map[string]any) error {
	pcm, format, err := p.decode(ctx, blob)
	if err != nil {
		return p.fail(err, ev, meta)
	}

	total := format.Duration(len(pcm))
	if ev.OnStart != nil {
		ev.OnStart(total)
	}
	err = p.output.Play(ctx, pcm, format, func(pos time.Duration) {
		if ev.OnTimeUpdate != nil {
			ev.OnTimeUpdate(pos, total)
		}
	})
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return err
		}
		return p.fail(err, ev, meta)
	}
	if ev.OnEnded != nil {
		ev.OnEnded()
	}
	return nil
}

func (p *Player) decode(ctx context.Context, blob *audio.Blob) ([]byte, audio.PCMFormat, error) {
	if blob.Size() == 0 {
		return nil, audio.PCMFormat{}, errors.New("empty audio")
	}
	switch blob.BaseType() {
	case audio.TypeWAV, "audio/wave", "audio/x-wav":
		return audio.DecodeWAV(blob.Data)
	}
	if !p.ffmpeg.Available() {
		return nil, audio.PCMFormat{}, fmt.Errorf("cannot decode %s without ffmpeg", blob.BaseType())
	}
	pcm, err := p.ffmpeg.DecodePCM(ctx, blob.Data, decodeFormat)
	if err != nil {
		return nil, audio.PCMFormat{}, err
	}
	return pcm, decodeFormat, nil
}

func (p *Player) fail(err error, ev Events, meta map[string]any) error {
	if !errors.Is(err, common.ErrPlayback) {
		err = fmt.Errorf("%w: %w", common.ErrPlayback, err)
	}
	p.errors.LogPlaybackError(err, meta)
	if ev.OnError != nil {
		ev.OnError(err)
	}
	return err
}
