// Package notify gives desktop feedback while the terminal is in the
// background, e.g. during push-to-talk.
package notify

import (
	"log/slog"

	"github.com/atotto/clipboard"
	"github.com/gen2brain/beeep"
)

// Notifier receives pipeline milestones.
type Notifier interface {
	Recording()
	Sent(messageID, audioPath string)
	Failed(message string)
}

// Nop ignores everything.
type Nop struct{}

func (Nop) Recording()          {}
func (Nop) Sent(string, string) {}
func (Nop) Failed(string)       {}

// Config selects which feedback Desktop gives.
type Config struct {
	Title    string
	Sound    bool
	CopyPath bool
}

// Desktop shows system notifications, optionally beeps when recording
// starts and copies the audio path of sent messages to the clipboard.
type Desktop struct {
	cfg    Config
	logger *slog.Logger

	notify func(title, message string) error
	beep   func() error
	copy   func(text string) error
}

func NewDesktop(cfg Config, logger *slog.Logger) *Desktop {
	if cfg.Title == "" {
		cfg.Title = "voxmsg"
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Desktop{
		cfg:    cfg,
		logger: logger.With("component", "notify"),
		notify: func(title, message string) error { return beeep.Notify(title, message, "") },
		beep:   func() error { return beeep.Beep(beeep.DefaultFreq, beeep.DefaultDuration) },
		copy:   clipboard.WriteAll,
	}
}

func (d *Desktop) Recording() {
	if d.cfg.Sound {
		d.check("beep", d.beep())
	}
	d.check("notify", d.notify(d.cfg.Title, "Recording started"))
}

func (d *Desktop) Sent(messageID, audioPath string) {
	msg := "Voice message sent"
	if d.cfg.CopyPath && audioPath != "" {
		if err := d.copy(audioPath); err == nil {
			msg += " (path copied)"
		} else {
			d.check("clipboard", err)
		}
	}
	d.check("notify", d.notify(d.cfg.Title, msg))
}

func (d *Desktop) Failed(message string) {
	d.check("notify", d.notify(d.cfg.Title, message))
}

// check logs failures; a missing notification daemon must not break sending.
func (d *Desktop) check(op string, err error) {
	if err != nil {
		d.logger.Debug("desktop feedback failed", "op", op, "error", err)
	}
}
