package input

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"golang.design/x/hotkey"
)

// Mode selects how key presses map to recording.
type Mode string

const (
	// ModeToggle starts recording on one press and stops on the next.
	ModeToggle Mode = "toggle"
	// ModeHold records while the key is held down.
	ModeHold Mode = "hold"
)

// ParseMode validates a mode name. An empty name is toggle.
func ParseMode(s string) (Mode, error) {
	switch Mode(strings.ToLower(strings.TrimSpace(s))) {
	case ModeToggle, "":
		return ModeToggle, nil
	case ModeHold:
		return ModeHold, nil
	default:
		return "", fmt.Errorf("unknown hotkey mode %q", s)
	}
}

// HotkeyManager turns a global push-to-talk hotkey into begin/end calls.
type HotkeyManager struct {
	mu      sync.Mutex
	mode    Mode
	hk      *hotkey.Hotkey
	active  bool
	onBegin func()
	onEnd   func()
	logger  *slog.Logger
	cancel  context.CancelFunc
	done    chan struct{}
}

// NewHotkeyManager creates a manager. onBegin fires when recording should
// start and onEnd when it should stop.
func NewHotkeyManager(mode Mode, onBegin, onEnd func(), logger *slog.Logger) *HotkeyManager {
	if logger == nil {
		logger = slog.Default()
	}
	return &HotkeyManager{
		mode:    mode,
		onBegin: onBegin,
		onEnd:   onEnd,
		logger:  logger.With("component", "hotkey"),
		done:    make(chan struct{}),
	}
}

// Start registers the hotkey and begins listening for events.
func (h *HotkeyManager) Start(ctx context.Context, hotkeyStr string) error {
	mods, key, err := parseHotkey(hotkeyStr)
	if err != nil {
		return fmt.Errorf("invalid hotkey: %w", err)
	}

	h.hk = hotkey.New(mods, key)
	if err := h.hk.Register(); err != nil {
		return fmt.Errorf("failed to register hotkey: %w", err)
	}
	h.logger.Info("hotkey registered", "hotkey", hotkeyStr, "mode", h.mode)

	ctx, h.cancel = context.WithCancel(ctx)

	go func() {
		defer close(h.done)
		for {
			select {
			case <-ctx.Done():
				return
			case _, ok := <-h.hk.Keydown():
				if !ok {
					return
				}
				h.press()
			case _, ok := <-h.hk.Keyup():
				if !ok {
					return
				}
				h.release()
			}
		}
	}()

	return nil
}

func (h *HotkeyManager) press() {
	h.mu.Lock()
	var fire func()
	switch {
	case h.mode == ModeHold && !h.active:
		h.active = true
		fire = h.onBegin
	case h.mode == ModeToggle:
		h.active = !h.active
		fire = h.onEnd
		if h.active {
			fire = h.onBegin
		}
	}
	h.mu.Unlock()
	if fire != nil {
		fire()
	}
}

func (h *HotkeyManager) release() {
	h.mu.Lock()
	if h.mode != ModeHold || !h.active {
		h.mu.Unlock()
		return
	}
	h.active = false
	h.mu.Unlock()
	if h.onEnd != nil {
		h.onEnd()
	}
}

// Reset clears the active flag, e.g. after the session stopped on its own.
func (h *HotkeyManager) Reset() {
	h.mu.Lock()
	h.active = false
	h.mu.Unlock()
}

// Stop unregisters the hotkey and stops the listener.
func (h *HotkeyManager) Stop() {
	if h.cancel != nil {
		h.cancel()
	}
	if h.hk != nil {
		if err := h.hk.Unregister(); err != nil {
			h.logger.Debug("unregister hotkey", "error", err)
		}
	}
	select {
	case <-h.done:
	case <-time.After(100 * time.Millisecond):
	}
}

// IsActive reports whether a press is currently driving a recording.
func (h *HotkeyManager) IsActive() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.active
}

// parseHotkey parses a hotkey string like "ctrl+shift+v" into modifiers and key
func parseHotkey(s string) ([]hotkey.Modifier, hotkey.Key, error) {
	if strings.TrimSpace(s) == "" {
		return nil, 0, fmt.Errorf("empty hotkey string")
	}

	var mods []hotkey.Modifier
	var key hotkey.Key
	var keyFound bool

	for _, part := range strings.Split(strings.ToLower(s), "+") {
		part = strings.TrimSpace(part)
		switch part {
		case "ctrl", "control":
			mods = append(mods, hotkey.ModCtrl)
		case "shift":
			mods = append(mods, hotkey.ModShift)
		case "alt", "option":
			mods = append(mods, modAlt())
		case "cmd", "command", "super", "win":
			mods = append(mods, modSuper())
		default:
			if keyFound {
				return nil, 0, fmt.Errorf("multiple keys specified")
			}
			k, ok := keyNames[part]
			if !ok {
				return nil, 0, fmt.Errorf("unknown key: %s", part)
			}
			key = k
			keyFound = true
		}
	}

	if !keyFound {
		return nil, 0, fmt.Errorf("no key specified")
	}
	return mods, key, nil
}

var keyNames = map[string]hotkey.Key{
	"space": hotkey.KeySpace, "return": hotkey.KeyReturn, "enter": hotkey.KeyReturn,
	"tab": hotkey.KeyTab, "escape": hotkey.KeyEscape, "esc": hotkey.KeyEscape,
	"a": hotkey.KeyA, "b": hotkey.KeyB, "c": hotkey.KeyC, "d": hotkey.KeyD,
	"e": hotkey.KeyE, "f": hotkey.KeyF, "g": hotkey.KeyG, "h": hotkey.KeyH,
	"i": hotkey.KeyI, "j": hotkey.KeyJ, "k": hotkey.KeyK, "l": hotkey.KeyL,
	"m": hotkey.KeyM, "n": hotkey.KeyN, "o": hotkey.KeyO, "p": hotkey.KeyP,
	"q": hotkey.KeyQ, "r": hotkey.KeyR, "s": hotkey.KeyS, "t": hotkey.KeyT,
	"u": hotkey.KeyU, "v": hotkey.KeyV, "w": hotkey.KeyW, "x": hotkey.KeyX,
	"y": hotkey.KeyY, "z": hotkey.KeyZ,
	"0": hotkey.Key0, "1": hotkey.Key1, "2": hotkey.Key2, "3": hotkey.Key3,
	"4": hotkey.Key4, "5": hotkey.Key5, "6": hotkey.Key6, "7": hotkey.Key7,
	"8": hotkey.Key8, "9": hotkey.Key9,
	"f1": hotkey.KeyF1, "f2": hotkey.KeyF2, "f3": hotkey.KeyF3, "f4": hotkey.KeyF4,
	"f5": hotkey.KeyF5, "f6": hotkey.KeyF6, "f7": hotkey.KeyF7, "f8": hotkey.KeyF8,
	"f9": hotkey.KeyF9, "f10": hotkey.KeyF10, "f11": hotkey.KeyF11, "f12": hotkey.KeyF12,
}
