package errlog

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/emmett/voxmsg/internal/common"
)

func TestFriendlyMessage(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want string
	}{
		{"nil", nil, ""},
		{"permission sentinel", fmt.Errorf("%w: device busy", common.ErrPermission), MsgPermissionDenied},
		{"permission text", errors.New("NotAllowedError: Permission denied"), MsgPermissionDenied},
		{"no microphone", common.ErrNoMicrophone, MsgNoMicrophone},
		{"unsupported", common.ErrUnsupported, MsgUnsupported},
		{"too short", fmt.Errorf("%w: recording too short", common.ErrValidation), MsgTooShort},
		{"compression", common.ErrCompression, MsgCompression},
		{"timeout sentinel", common.ErrTimeout, MsgTimeout},
		{"timeout text", errors.New("Network timeout"), MsgTimeout},
		{"network", errors.New("Failed to fetch"), MsgNetwork},
		{"quota", errors.New("Storage quota exceeded"), MsgSizeExceeded},
		{"size sentinel", common.ErrSizeExceeded, MsgSizeExceeded},
		{"playback", common.ErrPlayback, MsgPlayback},
		{"unknown", errors.New("something odd"), MsgUnknown},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, FriendlyMessage(tt.err))
		})
	}
}

func TestFriendlyMessage_NeverLeaksRawText(t *testing.T) {
	raw := errors.New("pq: relation \"messages\" does not exist")
	assert.NotContains(t, FriendlyMessage(raw), "relation")
}

func TestFriendly_HidesCauseButKeepsChain(t *testing.T) {
	assert.Nil(t, Friendly(nil))

	err := Friendly(fmt.Errorf("%w: dial tcp 10.0.0.7:443: connection refused", common.ErrNetwork))
	assert.Equal(t, MsgNetwork, err.Error())
	assert.NotContains(t, err.Error(), "10.0.0.7")
	assert.ErrorIs(t, err, common.ErrNetwork)
}
