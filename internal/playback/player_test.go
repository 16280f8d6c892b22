package playback

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/emmett/voxmsg/internal/audio"
	"github.com/emmett/voxmsg/internal/common"
	"github.com/emmett/voxmsg/internal/errlog"
)

type fakeOutput struct {
	pcm    []byte
	format audio.PCMFormat
	err    error
}

func (o *fakeOutput) Play(_ context.Context, pcm []byte, format audio.PCMFormat, onProgress func(time.Duration)) error {
	o.pcm, o.format = pcm, format
	if o.err != nil {
		return o.err
	}
	onProgress(format.Duration(len(pcm) / 2))
	onProgress(format.Duration(len(pcm)))
	return nil
}

func testWAV(t *testing.T) ([]byte, []byte) {
	t.Helper()
	pcm := audio.SamplesToBytes(make([]int16, 16000)) // one second
	data, err := audio.EncodeWAV(pcm, audio.PCMFormat{SampleRate: 16000, Channels: 1})
	require.NoError(t, err)
	return data, pcm
}

func TestPlayer_ReResolvesExpiredURL(t *testing.T) {
	wav, pcm := testWAV(t)
	var resolves atomic.Int32

	mux := http.NewServeMux()
	mux.HandleFunc("/api/voice-messages/m1/url", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer tok", r.Header.Get("Authorization"))
		if resolves.Add(1) == 1 {
			_, _ = w.Write([]byte(`{"url":"/files/m1.wav?sig=old"}`))
			return
		}
		_, _ = w.Write([]byte(`{"url":"/files/m1.wav?sig=new"}`))
	})
	mux.HandleFunc("/files/m1.wav", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("sig") != "new" {
			w.WriteHeader(http.StatusForbidden)
			return
		}
		w.Header().Set("Content-Type", "application/octet-stream")
		_, _ = w.Write(wav)
	})
	ts := httptest.NewServer(mux)
	defer ts.Close()

	out := &fakeOutput{}
	p := NewPlayer(NewHTTPResolver(ts.URL, "tok", ts.Client()), out, WithHTTPClient(ts.Client()))

	var started time.Duration
	var updates int
	var ended bool
	err := p.PlayMessage(context.Background(), "m1", Events{
		OnStart:      func(total time.Duration) { started = total },
		OnTimeUpdate: func(_, _ time.Duration) { updates++ },
		OnEnded:      func() { ended = true },
		OnError:      func(err error) { t.Errorf("unexpected error: %v", err) },
	})
	require.NoError(t, err)

	assert.EqualValues(t, 2, resolves.Load())
	assert.Equal(t, pcm, out.pcm)
	assert.Equal(t, time.Second, started)
	assert.Equal(t, 2, updates)
	assert.True(t, ended)
}

func TestPlayer_FetchFailureIsLogged(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/voice-messages/m1/url", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"url":"/files/missing.webm"}`))
	})
	mux.HandleFunc("/files/missing.webm", func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	})
	ts := httptest.NewServer(mux)
	defer ts.Close()

	log := errlog.New()
	p := NewPlayer(NewHTTPResolver(ts.URL, "", ts.Client()), &fakeOutput{}, WithHTTPClient(ts.Client()), WithErrorLog(log))

	var gotErr error
	err := p.PlayMessage(context.Background(), "m1", Events{OnError: func(err error) { gotErr = err }})
	require.ErrorIs(t, err, common.ErrPlayback)
	assert.Equal(t, err, gotErr)
	assert.Equal(t, errlog.MsgPlayback, errlog.FriendlyMessage(err))

	entries := log.Entries()
	require.Len(t, entries, 1)
	assert.Equal(t, errlog.CategoryPlayback, entries[0].Category)
	assert.Equal(t, "m1", entries[0].Metadata["message_id"])
}

func TestPlayer_ResolverError(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte(`{"error":"Message not found"}`))
	}))
	defer ts.Close()

	p := NewPlayer(NewHTTPResolver(ts.URL, "", ts.Client()), &fakeOutput{})
	err := p.PlayMessage(context.Background(), "nope", Events{})
	require.ErrorIs(t, err, common.ErrPlayback)
	assert.Contains(t, err.Error(), "Message not found")
}

func TestPlayer_PlayBlob(t *testing.T) {
	wav, pcm := testWAV(t)
	out := &fakeOutput{}
	p := NewPlayer(nil, out)

	require.NoError(t, p.PlayBlob(context.Background(), audio.NewBlob(wav, audio.TypeWAV), Events{}))
	assert.Equal(t, pcm, out.pcm)
	assert.Equal(t, audio.PCMFormat{SampleRate: 16000, Channels: 1}, out.format)
}

func TestPlayer_OutputFailure(t *testing.T) {
	wav, _ := testWAV(t)
	p := NewPlayer(nil, &fakeOutput{err: errors.New("device unplugged")})

	var ended bool
	err := p.PlayBlob(context.Background(), audio.NewBlob(wav, audio.TypeWAV), Events{OnEnded: func() { ended = true }})
	assert.ErrorIs(t, err, common.ErrPlayback)
	assert.False(t, ended)
}

func TestPlayer_EmptyBlob(t *testing.T) {
	p := NewPlayer(nil, &fakeOutput{})
	err := p.PlayBlob(context.Background(), audio.NewBlob(nil, audio.TypeWAV), Events{})
	assert.ErrorIs(t, err, common.ErrPlayback)
}

func TestHTTPResolver_AbsoluteURLPassesThrough(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"url":"https://cdn.example.com/a.webm?sig=1"}`))
	}))
	defer ts.Close()

	got, err := NewHTTPResolver(ts.URL, "", ts.Client()).Resolve(context.Background(), "m1")
	require.NoError(t, err)
	assert.Equal(t, "https://cdn.example.com/a.webm?sig=1", got)
}
