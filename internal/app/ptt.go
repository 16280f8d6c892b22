package app

import (
	"context"
	"fmt"
	"sync"

	"github.com/emmett/voxmsg/internal/errlog"
	"github.com/emmett/voxmsg/internal/input"
	"github.com/emmett/voxmsg/internal/notify"
	"github.com/emmett/voxmsg/internal/session"
)

// PTT records while a global hotkey drives the session and sends each
// recording as soon as it stops.
type PTT struct {
	ui       *Interactive
	hotkey   string
	mode     input.Mode
	notifier notify.Notifier
	events   chan bool
	keys     *input.HotkeyManager

	mu    sync.Mutex
	phase session.Phase
}

// NewPTT creates a push-to-talk runner rendering through ui. notifier may be nil.
func NewPTT(ui *Interactive, hotkey string, mode input.Mode, notifier notify.Notifier) *PTT {
	if notifier == nil {
		notifier = notify.Nop{}
	}
	return &PTT{
		ui:       ui,
		hotkey:   hotkey,
		mode:     mode,
		notifier: notifier,
		events:   make(chan bool, 10),
		phase:    session.PhaseIdle,
	}
}

// OnState forwards to the interactive renderer. When the session stops on
// its own at the max duration it queues the send and re-arms the hotkey.
func (p *PTT) OnState(st session.State) {
	p.ui.OnState(st)

	p.mu.Lock()
	prev := p.phase
	p.phase = st.Phase
	p.mu.Unlock()
	if prev == st.Phase {
		return
	}

	switch st.Phase {
	case session.PhaseRecording:
		p.notifier.Recording()
	case session.PhaseError:
		p.notifier.Failed(st.Error)
	}
	if prev == session.PhaseRecording && p.keys != nil && p.keys.IsActive() {
		p.keys.Reset()
		select {
		case p.events <- false:
		default:
		}
	}
}

// Run registers the hotkey and handles presses until ctx is done.
func (p *PTT) Run(ctx context.Context, pl *Pipeline) error {
	if pl.Config.Server.ConversationID == "" {
		return fmt.Errorf("push-to-talk needs a conversation: set server.conversation_id or -conversation")
	}

	p.keys = input.NewHotkeyManager(p.mode,
		func() { p.events <- true },
		func() { p.events <- false },
		pl.Logger)
	if err := p.keys.Start(ctx, p.hotkey); err != nil {
		return fmt.Errorf("failed to start hotkey listener: %w", err)
	}
	defer p.keys.Stop()

	switch p.mode {
	case input.ModeHold:
		p.ui.console.Info(fmt.Sprintf("Push-to-talk: hold %s to record, release to send.", p.hotkey))
	default:
		p.ui.console.Info(fmt.Sprintf("Push-to-talk: press %s to start, again to send.", p.hotkey))
	}
	p.ui.console.Info("Press Ctrl+C to exit.")

	for {
		select {
		case <-ctx.Done():
			pl.Session.Cancel()
			p.ui.wg.Wait()
			return nil
		case begin := <-p.events:
			p.handle(ctx, pl, begin)
		}
	}
}

func (p *PTT) handle(ctx context.Context, pl *Pipeline, begin bool) {
	if begin {
		if err := pl.Session.Start(ctx); err != nil {
			p.ui.console.Error(errlog.FriendlyMessage(err))
			p.notifier.Failed(errlog.FriendlyMessage(err))
			if p.keys != nil {
				p.keys.Reset()
			}
		}
		return
	}

	if pl.Session.State().Phase == session.PhaseRecording {
		if err := pl.Session.Stop(); err != nil {
			p.ui.console.Error(errlog.FriendlyMessage(err))
			return
		}
	}
	if pl.Session.State().Phase != session.PhasePreviewing {
		return
	}
	p.ui.background(func() {
		res, err := p.ui.send(ctx, pl, pl.Config.Server.ConversationID, false)
		if err == nil {
			p.notifier.Sent(res.MessageID, res.AudioPath)
		}
	})
}
