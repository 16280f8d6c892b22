package errlog

import (
	"errors"
	"strings"

	"github.com/emmett/voxmsg/internal/common"
)

// User-facing messages. Raw error text never reaches the user.
const (
	MsgPermissionDenied = "Microphone access was denied. Please allow microphone access and try again."
	MsgNoMicrophone     = "No microphone was found. Please connect a microphone and try again."
	MsgUnsupported      = "Audio recording is not supported on this device."
	MsgTooShort         = "Recording is too short. Please record at least 1 second."
	MsgCompression      = "Failed to process the recording. Please record again."
	MsgTimeout          = "Upload timed out. Please check your connection and try again."
	MsgNetwork          = "Network error. Please check your connection and try again."
	MsgSizeExceeded     = "The recording is too large to send."
	MsgPlayback         = "Unable to play this voice message."
	MsgUnknown          = "An unexpected error occurred. Please try again."
)

type friendlyRule struct {
	sentinel error
	patterns []string
	message  string
}

// Evaluated in order; first match wins.
var friendlyRules = []friendlyRule{
	{common.ErrPermission, []string{"permission", "notallowed", "not allowed", "denied"}, MsgPermissionDenied},
	{common.ErrNoMicrophone, []string{"no microphone", "notfound", "no capture device"}, MsgNoMicrophone},
	{common.ErrUnsupported, []string{"not supported", "unsupported"}, MsgUnsupported},
	{nil, []string{"too short"}, MsgTooShort},
	{common.ErrCompression, []string{"compress", "encode"}, MsgCompression},
	{common.ErrTimeout, []string{"timeout", "timed out"}, MsgTimeout},
	{common.ErrNetwork, []string{"network", "fetch", "connection"}, MsgNetwork},
	{common.ErrSizeExceeded, []string{"quota", "too large", "exceeds"}, MsgSizeExceeded},
	{common.ErrPlayback, []string{"playback", "play audio"}, MsgPlayback},
}

// FriendlyMessage maps err to one of the fixed user-facing messages.
// It returns an empty string for a nil error.
func FriendlyMessage(err error) string {
	if err == nil {
		return ""
	}

	text := strings.ToLower(err.Error())
	for _, rule := range friendlyRules {
		if rule.sentinel != nil && errors.Is(err, rule.sentinel) {
			return rule.message
		}
		for _, p := range rule.patterns {
			if strings.Contains(text, p) {
				return rule.message
			}
		}
	}
	return MsgUnknown
}

type friendlyError struct{ err error }

func (e friendlyError) Error() string { return FriendlyMessage(e.err) }
func (e friendlyError) Unwrap() error { return e.err }

// Friendly wraps err so that its text is the user-facing message while
// errors.Is and errors.As still see the cause.
func Friendly(err error) error {
	if err == nil {
		return nil
	}
	return friendlyError{err: err}
}
