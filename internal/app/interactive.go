package app

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/emmett/voxmsg/internal/audio"
	"github.com/emmett/voxmsg/internal/common"
	"github.com/emmett/voxmsg/internal/errlog"
	"github.com/emmett/voxmsg/internal/output"
	"github.com/emmett/voxmsg/internal/playback"
	"github.com/emmett/voxmsg/internal/session"
)

const helpText = `Commands:
  r, record          start recording
  s, stop            stop and preview
  rr, rerecord       discard the preview and record again
  send [conv]        send the recording
  retry [conv]       resend after a failed upload
  review             go back to the preview after a failure
  play [message-id]  play the preview, or a sent message
  c, cancel          cancel whatever is in progress
  errors             show recent errors
  status             show the session state
  q, quit            exit`

// Interactive drives a session from line commands, typically stdin.
type Interactive struct {
	console   *output.ConsoleOutput
	formatter output.Formatter
	in        io.Reader

	mu        sync.Mutex
	lastPhase session.Phase
	elapsed   int
	sent      int
	wg        sync.WaitGroup
}

// NewInteractive renders status to console and results to formatter.
func NewInteractive(console *output.ConsoleOutput, formatter output.Formatter, in io.Reader) *Interactive {
	return &Interactive{console: console, formatter: formatter, in: in, lastPhase: session.PhaseIdle}
}

// OnState renders a session change. Pass it to WithObserver.
func (ui *Interactive) OnState(st session.State) {
	ui.mu.Lock()
	changed := st.Phase != ui.lastPhase
	ui.lastPhase = st.Phase
	ui.elapsed = st.DurationSeconds
	ui.mu.Unlock()

	if changed {
		ui.console.Clear()
		_ = ui.formatter.WriteEvent("phase", string(st.Phase))
		switch st.Phase {
		case session.PhasePreviewing:
			ui.console.Info(fmt.Sprintf("Recorded %ds. Preview: %s", st.DurationSeconds, st.PreviewPath))
		case session.PhaseError:
			ui.console.Error(st.Error)
		}
	}
	if st.Phase == session.PhaseUploading {
		ui.console.WriteProgress(string(st.UploadStatus), st.UploadProgress)
	}
	if st.Phase == session.PhaseIdle && st.Error != "" {
		ui.console.Error(st.Error)
	}
}

// OnLevel renders the input meter. Pass it to WithLevelHandler.
func (ui *Interactive) OnLevel(level float64) {
	ui.mu.Lock()
	recording := ui.lastPhase == session.PhaseRecording
	elapsed := ui.elapsed
	ui.mu.Unlock()
	if recording {
		ui.console.WriteAudioLevel(level, elapsed)
	}
}

// Run reads commands until quit, EOF or ctx is done.
func (ui *Interactive) Run(ctx context.Context, p *Pipeline) error {
	defer ui.wg.Wait()

	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(ui.in)
		for scanner.Scan() {
			select {
			case lines <- scanner.Text():
			case <-ctx.Done():
				return
			}
		}
	}()

	ui.console.Info("Ready. Type 'help' for commands.")
	for {
		select {
		case <-ctx.Done():
			p.Session.Cancel()
			return nil
		case line, ok := <-lines:
			if !ok {
				return nil
			}
			if quit := ui.handle(ctx, p, line); quit {
				return nil
			}
		}
	}
}

func (ui *Interactive) handle(ctx context.Context, p *Pipeline, line string) bool {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return false
	}
	arg := ""
	if len(fields) > 1 {
		arg = fields[1]
	}
	conv := p.Config.Server.ConversationID
	if arg != "" {
		conv = arg
	}

	var err error
	switch strings.ToLower(fields[0]) {
	case "r", "record":
		err = p.Session.Start(ctx)
	case "rr", "rerecord":
		err = p.Session.ReRecord(ctx)
	case "s", "stop":
		err = p.Session.Stop()
	case "send":
		ui.background(func() { _, _ = ui.send(ctx, p, conv, false) })
	case "retry":
		ui.background(func() { _, _ = ui.send(ctx, p, conv, true) })
	case "review":
		err = p.Session.Review()
	case "play":
		ui.background(func() { ui.play(ctx, p, arg) })
	case "c", "cancel":
		p.Session.Cancel()
	case "errors":
		ui.showErrors(p.Errors)
	case "status":
		st := p.Session.State()
		ui.console.Info(fmt.Sprintf("%s, %ds, upload %s %d%%", st.Phase, st.DurationSeconds, st.UploadStatus, st.UploadProgress))
	case "help", "?":
		ui.console.Info(helpText)
	case "q", "quit", "exit":
		p.Session.Cancel()
		return true
	default:
		ui.console.Error(fmt.Sprintf("unknown command %q, type 'help'", fields[0]))
	}
	if err != nil {
		ui.console.Error(errlog.FriendlyMessage(err))
	}
	return false
}

func (ui *Interactive) background(fn func()) {
	ui.wg.Add(1)
	go func() {
		defer ui.wg.Done()
		fn()
	}()
}

func (ui *Interactive) send(ctx context.Context, p *Pipeline, conv string, retry bool) (session.SendResult, error) {
	if conv == "" {
		err := fmt.Errorf("%w: no conversation specified", common.ErrValidation)
		ui.console.Error("No conversation: pass one to send or set server.conversation_id")
		return session.SendResult{}, err
	}
	send := p.Session.Send
	if retry {
		send = p.Session.Retry
	}
	st := p.Session.State()
	res, err := send(ctx, conv)
	if err != nil {
		// Other failures surface through OnState as the error phase.
		if errors.Is(err, common.ErrValidation) {
			ui.console.Error(errlog.FriendlyMessage(err))
		}
		return res, err
	}
	ui.mu.Lock()
	ui.sent++
	index := ui.sent
	ui.mu.Unlock()
	ui.console.Clear()
	_ = ui.formatter.WriteSent(output.SentMessage{
		Index:           index,
		MessageID:       res.MessageID,
		AudioPath:       res.AudioPath,
		ConversationID:  conv,
		DurationSeconds: st.DurationSeconds,
		Timestamp:       time.Now(),
	})
	return res, nil
}

func (ui *Interactive) play(ctx context.Context, p *Pipeline, messageID string) {
	ev := playback.Events{
		OnTimeUpdate: func(pos, total time.Duration) {
			if total > 0 {
				ui.console.WriteProgress("Playing", int(pos*100/total))
			}
		},
		OnEnded: func() { ui.console.Clear() },
		OnError: func(err error) { ui.console.Error(errlog.FriendlyMessage(err)) },
	}
	if messageID != "" {
		_ = p.Player.PlayMessage(ctx, messageID, ev)
		return
	}

	path := p.Session.State().PreviewPath
	if path == "" {
		ui.console.Error("Nothing to play: record something first")
		return
	}
	data, err := os.ReadFile(path)
	if err != nil {
		err = fmt.Errorf("%w: read preview: %w", common.ErrPlayback, err)
		p.Errors.LogPlaybackError(err, map[string]any{"op": "preview", "path": path})
		ui.console.Error(errlog.FriendlyMessage(err))
		return
	}
	_ = p.Player.PlayBlob(ctx, audio.NewBlob(data, audio.TypeWAV), ev)
}

func (ui *Interactive) showErrors(log *errlog.Logger) {
	entries := log.Recent(10)
	if len(entries) == 0 {
		ui.console.Info("No errors recorded.")
		return
	}
	for _, e := range entries {
		ui.console.Info(fmt.Sprintf("%s [%s/%s] %s", e.Timestamp.Format("15:04:05"), e.Category, e.Severity, e.Message))
	}
}
