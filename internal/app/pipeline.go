package app

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"

	"github.com/gabriel-vasile/mimetype"
	"github.com/google/uuid"

	"github.com/emmett/voxmsg/internal/audio"
	"github.com/emmett/voxmsg/internal/common"
	"github.com/emmett/voxmsg/internal/compress"
	"github.com/emmett/voxmsg/internal/config"
	"github.com/emmett/voxmsg/internal/errlog"
	"github.com/emmett/voxmsg/internal/playback"
	"github.com/emmett/voxmsg/internal/recorder"
	"github.com/emmett/voxmsg/internal/session"
	"github.com/emmett/voxmsg/internal/upload"
)

// Pipeline is the wired set of components behind every front end.
type Pipeline struct {
	Config     *config.Config
	Logger     *slog.Logger
	Errors     *errlog.Logger
	Recorder   *recorder.Recorder
	Compressor *compress.Compressor
	Uploads    *upload.Manager
	Session    *session.Session
	Player     *playback.Player
}

type buildOptions struct {
	transport upload.Transport
	resolver  playback.Resolver
	output    playback.Output
	factory   audio.CapturerFactory
	devices   func() ([]audio.DeviceInfo, error)
	observer  func(session.State)
	onLevel   func(float64)
}

// BuildOption customises Build, mostly for tests.
type BuildOption func(*buildOptions)

// WithObserver receives every session state change.
func WithObserver(fn func(session.State)) BuildOption {
	return func(o *buildOptions) { o.observer = fn }
}

// WithLevelHandler receives the input level while recording.
func WithLevelHandler(fn func(float64)) BuildOption {
	return func(o *buildOptions) { o.onLevel = fn }
}

func WithTransport(t upload.Transport) BuildOption {
	return func(o *buildOptions) { o.transport = t }
}

func WithResolver(r playback.Resolver) BuildOption {
	return func(o *buildOptions) { o.resolver = r }
}

func WithOutput(out playback.Output) BuildOption {
	return func(o *buildOptions) { o.output = out }
}

func WithCapturerFactory(f audio.CapturerFactory) BuildOption {
	return func(o *buildOptions) { o.factory = f }
}

// WithDeviceLister replaces audio.ListDevices when resolving the configured device.
func WithDeviceLister(fn func() ([]audio.DeviceInfo, error)) BuildOption {
	return func(o *buildOptions) { o.devices = fn }
}

// Build wires the pipeline described by cfg.
func Build(cfg *config.Config, logger *slog.Logger, opts ...BuildOption) (*Pipeline, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	o := buildOptions{devices: audio.ListDevices}
	for _, opt := range opts {
		opt(&o)
	}

	errs := errlog.New(errlog.WithLogger(logger))
	client := &http.Client{}
	if o.transport == nil {
		o.transport = upload.NewHTTPTransport(cfg.Server.URL, cfg.Server.Token, client)
	}
	if o.resolver == nil {
		o.resolver = playback.NewHTTPResolver(cfg.Server.URL, cfg.Server.Token, client)
	}
	if o.output == nil {
		o.output = &audio.MalgoPlayer{DeviceID: cfg.Audio.OutputDevice}
	}

	capture := audio.DefaultCaptureConfig()
	capture.SampleRate = cfg.Audio.SampleRate
	capture.Channels = cfg.Audio.Channels
	if cfg.Audio.Device != "" {
		dev, err := NewDeviceManager(nil, o.devices).SelectDevice(cfg.Audio.Device)
		if err != nil {
			return nil, err
		}
		capture.DeviceID = dev.ID
	}

	recOpts := []recorder.Option{
		recorder.WithCaptureConfig(capture),
		recorder.WithLogger(logger),
	}
	if o.factory != nil {
		recOpts = append(recOpts, recorder.WithCapturerFactory(o.factory))
	}
	if o.onLevel != nil {
		recOpts = append(recOpts, recorder.WithLevelHandler(o.onLevel))
	}
	rec := recorder.New(recOpts...)

	comp := compress.New(
		compress.WithTranscoders(compress.NewFFmpegTranscoder(cfg.Compression.FFmpegPath), compress.NewMP3Transcoder()),
		compress.WithLogger(logger),
		compress.WithErrorLog(errs),
	)

	ucfg := upload.DefaultConfig()
	ucfg.Timeout = cfg.Upload.Timeout
	ucfg.MaxAttempts = cfg.Upload.MaxAttempts
	ucfg.RetryBaseDelay = cfg.Upload.RetryDelay
	ucfg.Concurrency = cfg.Upload.Concurrency
	uploads := upload.NewManager(o.transport,
		upload.WithConfig(ucfg),
		upload.WithLogger(logger),
		upload.WithErrorLog(errs),
	)

	sessOpts := []session.Option{
		session.WithLogger(logger),
		session.WithErrorLog(errs),
		session.WithPreviewStore(&session.TempPreviewStore{Dir: cfg.Recording.PreviewDir}),
		session.WithMaxDuration(cfg.Recording.MaxDuration),
		session.WithMinDuration(cfg.Recording.MinDuration),
		session.WithCompressOptions(compress.Options{
			TargetBitrate: float64(cfg.Compression.TargetBitrate),
			Format:        cfg.Compression.Format,
		}),
	}
	if o.observer != nil {
		sessOpts = append(sessOpts, session.WithObserver(o.observer))
	}

	player := playback.NewPlayer(o.resolver, o.output,
		playback.WithHTTPClient(client),
		playback.WithFFmpeg(audio.NewFFmpeg(cfg.Compression.FFmpegPath)),
		playback.WithLogger(logger),
		playback.WithErrorLog(errs),
	)

	return &Pipeline{
		Config:     cfg,
		Logger:     logger,
		Errors:     errs,
		Recorder:   rec,
		Compressor: comp,
		Uploads:    uploads,
		Session:    session.New(rec, comp, uploads, sessOpts...),
		Player:     player,
	}, nil
}

// Close cancels outstanding uploads and releases the microphone.
func (p *Pipeline) Close() {
	p.Session.Close()
	p.Uploads.CancelAll()
	p.Recorder.Cleanup()
}

// SendFile uploads an existing audio file to a conversation.
func (p *Pipeline) SendFile(ctx context.Context, path, conversationID string, durationSeconds float64, onProgress upload.ProgressFunc) (upload.Result, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		err = fmt.Errorf("%w: read %s: %v", common.ErrValidation, path, err)
		p.Errors.Log(err, errlog.Options{Metadata: map[string]any{"path": path}})
		return upload.Result{}, err
	}
	return p.SendAudio(ctx, data, conversationID, durationSeconds, onProgress)
}

// SendAudio sniffs, compresses and uploads encoded audio. A zero duration
// is measured for WAV input.
func (p *Pipeline) SendAudio(ctx context.Context, data []byte, conversationID string, durationSeconds float64, onProgress upload.ProgressFunc) (upload.Result, error) {
	if conversationID == "" {
		conversationID = p.Config.Server.ConversationID
	}
	if conversationID == "" {
		return upload.Result{}, fmt.Errorf("%w: no conversation specified", common.ErrValidation)
	}
	blob, err := DetectAudio(data)
	if err != nil {
		p.Errors.Log(err, errlog.Options{Category: errlog.CategoryValidation, Metadata: map[string]any{"bytes": len(data)}})
		return upload.Result{}, err
	}
	if durationSeconds <= 0 && blob.BaseType() == audio.TypeWAV {
		if pcm, format, err := audio.DecodeWAV(blob.Data); err == nil {
			durationSeconds = format.Duration(len(pcm)).Seconds()
		}
	}

	compressed := p.Compressor.Compress(ctx, blob, compress.Options{
		TargetBitrate: float64(p.Config.Compression.TargetBitrate),
		Format:        p.Config.Compression.Format,
	})
	res := p.Uploads.Upload(ctx, upload.Item{
		ID:              uuid.NewString(),
		ConversationID:  conversationID,
		Audio:           compressed,
		DurationSeconds: durationSeconds,
	}, onProgress)
	return res, res.Err
}

// PlayMessage plays a sent message on the output device.
func (p *Pipeline) PlayMessage(ctx context.Context, messageID string) error {
	return p.Player.PlayMessage(ctx, messageID, playback.Events{})
}

// RecentErrors returns up to n error log entries, newest last.
func (p *Pipeline) RecentErrors(n int) []errlog.Entry {
	return p.Errors.Recent(n)
}

// Devices lists capture devices followed by playback devices.
func (p *Pipeline) Devices() ([]audio.DeviceInfo, error) {
	capture, err := audio.ListDevices()
	if err != nil {
		return nil, err
	}
	out, err := audio.ListPlaybackDevices()
	if err != nil {
		return nil, err
	}
	return append(capture, out...), nil
}

// audioTypes maps detected MIME types to the types the pipeline handles.
var audioTypes = []struct{ detected, canonical string }{
	{"audio/wav", audio.TypeWAV},
	{"audio/x-wav", audio.TypeWAV},
	{"video/webm", audio.TypeWebM},
	{"audio/webm", audio.TypeWebM},
	{"audio/ogg", audio.TypeOgg},
	{"application/ogg", audio.TypeOgg},
	{"audio/mpeg", audio.TypeMPEG},
	{"audio/x-m4a", audio.TypeMP4},
	{"audio/mp4", audio.TypeMP4},
	{"video/mp4", audio.TypeMP4},
}

// DetectAudio sniffs the container type of data.
func DetectAudio(data []byte) (*audio.Blob, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("%w: audio is empty", common.ErrValidation)
	}
	mt := mimetype.Detect(data)
	for m := mt; m != nil; m = m.Parent() {
		for _, t := range audioTypes {
			if m.Is(t.detected) {
				return audio.NewBlob(data, t.canonical), nil
			}
		}
	}
	return nil, fmt.Errorf("%w: not a supported audio format (%s)", common.ErrUnsupported, mt.String())
}
