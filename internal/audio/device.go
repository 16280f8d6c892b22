package audio

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/gen2brain/malgo"

	"github.com/emmett/voxmsg/internal/common"
)

// DeviceType represents the type of audio device
type DeviceType int

const (
	DeviceTypePlayback DeviceType = iota
	DeviceTypeCapture
)

const (
	kindCapture  = "capture"
	kindPlayback = "playback"
)

func (t DeviceType) String() string {
	if t == DeviceTypePlayback {
		return kindPlayback
	}
	return kindCapture
}

// DeviceInfo describes an audio device.
type DeviceInfo struct {
	ID        string     `json:"id"` // "capture-N" or "playback-N"
	Name      string     `json:"name"`
	Type      DeviceType `json:"-"`
	IsDefault bool       `json:"is_default"`
}

func (d DeviceInfo) String() string {
	marker := ""
	if d.IsDefault {
		marker = " [DEFAULT]"
	}
	return fmt.Sprintf("%s: %s%s", d.ID, d.Name, marker)
}

// ListDevices returns the available input devices.
func ListDevices() ([]DeviceInfo, error) {
	return listDevices(DeviceTypeCapture)
}

// ListPlaybackDevices returns the available output devices.
func ListPlaybackDevices() ([]DeviceInfo, error) {
	return listDevices(DeviceTypePlayback)
}

func listDevices(kind DeviceType) ([]DeviceInfo, error) {
	ctx, err := malgo.InitContext(nil, malgo.ContextConfig{}, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", common.ErrUnsupported, err)
	}
	defer freeContext(ctx)

	mtype := malgo.Capture
	if kind == DeviceTypePlayback {
		mtype = malgo.Playback
	}
	infos, err := ctx.Devices(mtype)
	if err != nil {
		return nil, fmt.Errorf("%w: enumerate devices: %v", common.ErrUnsupported, err)
	}

	devices := make([]DeviceInfo, 0, len(infos))
	for i, info := range infos {
		devices = append(devices, DeviceInfo{
			ID:        fmt.Sprintf("%s-%d", kind, i),
			Name:      info.Name(),
			Type:      kind,
			IsDefault: info.IsDefault > 0,
		})
	}
	return devices, nil
}

// DefaultDevice picks the default entry of devices, falling back to the first.
func DefaultDevice(devices []DeviceInfo) (*DeviceInfo, error) {
	for i := range devices {
		if devices[i].IsDefault {
			return &devices[i], nil
		}
	}
	if len(devices) > 0 {
		return &devices[0], nil
	}
	return nil, common.ErrNoMicrophone
}

// FindDevice matches ref against device IDs exactly, then against names
// as a case-insensitive substring.
func FindDevice(devices []DeviceInfo, ref string) (*DeviceInfo, error) {
	for i := range devices {
		if devices[i].ID == ref {
			return &devices[i], nil
		}
	}
	needle := strings.ToLower(ref)
	for i := range devices {
		if strings.Contains(strings.ToLower(devices[i].Name), needle) {
			return &devices[i], nil
		}
	}
	return nil, fmt.Errorf("device not found: %s", ref)
}

func parseDeviceIndex(id, kind string) (int, error) {
	rest, ok := strings.CutPrefix(id, kind+"-")
	if !ok {
		return 0, fmt.Errorf("invalid %s device id %q", kind, id)
	}
	idx, err := strconv.Atoi(rest)
	if err != nil || idx < 0 {
		return 0, fmt.Errorf("invalid %s device id %q", kind, id)
	}
	return idx, nil
}
