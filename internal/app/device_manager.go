package app

import (
	"fmt"
	"io"
	"os"

	"github.com/emmett/voxmsg/internal/audio"
)

// DeviceManager handles audio device selection and listing
type DeviceManager struct {
	out  io.Writer
	list func() ([]audio.DeviceInfo, error)
}

// NewDeviceManager writes to out (stdout when nil) and enumerates capture
// devices with list (audio.ListDevices when nil).
func NewDeviceManager(out io.Writer, list func() ([]audio.DeviceInfo, error)) *DeviceManager {
	if out == nil {
		out = os.Stdout
	}
	if list == nil {
		list = audio.ListDevices
	}
	return &DeviceManager{out: out, list: list}
}

// ListDevices prints capture and playback devices.
func (dm *DeviceManager) ListDevices() error {
	devices, err := dm.list()
	if err != nil {
		return fmt.Errorf("failed to list devices: %w", err)
	}
	dm.print("Microphones", devices)

	playback, err := audio.ListPlaybackDevices()
	if err != nil {
		fmt.Fprintf(dm.out, "Speakers: unavailable (%v)\n", err)
	} else {
		dm.print("Speakers", playback)
	}

	if len(devices) > 0 {
		fmt.Fprintln(dm.out, "To use a specific microphone, run:")
		fmt.Fprintf(dm.out, "  voxmsg -device %q\n", devices[0].Name)
	}
	return nil
}

func (dm *DeviceManager) print(title string, devices []audio.DeviceInfo) {
	fmt.Fprintf(dm.out, "%s (%d):\n", title, len(devices))
	for i, d := range devices {
		marker := ""
		if d.IsDefault {
			marker = " [DEFAULT]"
		}
		fmt.Fprintf(dm.out, "  %d. %s%s\n     ID: %s\n", i+1, d.Name, marker, d.ID)
	}
	fmt.Fprintln(dm.out)
}

// SelectDevice finds a capture device by ID or name, or the default when
// ref is empty.
func (dm *DeviceManager) SelectDevice(ref string) (*audio.DeviceInfo, error) {
	devices, err := dm.list()
	if err != nil {
		return nil, fmt.Errorf("failed to list devices: %w", err)
	}
	if ref == "" {
		return audio.DefaultDevice(devices)
	}
	dev, err := audio.FindDevice(devices, ref)
	if err != nil {
		fmt.Fprintln(dm.out, "Available microphones:")
		for i, d := range devices {
			fmt.Fprintf(dm.out, "  %d. %s\n", i+1, d.Name)
		}
		return nil, err
	}
	return dev, nil
}
