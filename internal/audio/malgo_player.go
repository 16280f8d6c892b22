package audio

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/gen2brain/malgo"

	"github.com/emmett/voxmsg/internal/common"
)

// MalgoPlayer plays S16LE PCM on an output device.
type MalgoPlayer struct {
	// DeviceID selects the output device ("playback-N"). Empty uses the default.
	DeviceID string

	// ProgressInterval controls how often onProgress fires.
	ProgressInterval time.Duration
}

// Play blocks until the buffer has been played, ctx is done, or the device fails.
// onProgress, if set, receives the playback position.
func (p *MalgoPlayer) Play(ctx context.Context, pcm []byte, format PCMFormat, onProgress func(time.Duration)) error {
	malgoCtx, err := malgo.InitContext(nil, malgo.ContextConfig{}, nil)
	if err != nil {
		return fmt.Errorf("%w: %v", common.ErrUnsupported, err)
	}
	defer freeContext(malgoCtx)

	deviceConfig := malgo.DefaultDeviceConfig(malgo.Playback)
	deviceConfig.Playback.Format = malgo.FormatS16
	deviceConfig.Playback.Channels = uint32(format.Channels)
	deviceConfig.SampleRate = uint32(format.SampleRate)

	if p.DeviceID != "" {
		infos, err := malgoCtx.Devices(malgo.Playback)
		if err != nil {
			return fmt.Errorf("%w: enumerate devices: %v", common.ErrPlayback, err)
		}
		idx, err := parseDeviceIndex(p.DeviceID, kindPlayback)
		if err != nil || idx >= len(infos) {
			return fmt.Errorf("%w: output device %s not found", common.ErrPlayback, p.DeviceID)
		}
		deviceConfig.Playback.DeviceID = infos[idx].ID.Pointer()
	}

	var (
		mu       sync.Mutex
		offset   int
		doneOnce sync.Once
	)
	done := make(chan struct{})

	callbacks := malgo.DeviceCallbacks{
		Data: func(output, _ []byte, _ uint32) {
			mu.Lock()
			n := copy(output, pcm[offset:])
			offset += n
			finished := offset >= len(pcm)
			mu.Unlock()

			// Pad the final period with silence.
			for i := n; i < len(output); i++ {
				output[i] = 0
			}
			if finished {
				doneOnce.Do(func() { close(done) })
			}
		},
	}

	device, err := malgo.InitDevice(malgoCtx.Context, deviceConfig, callbacks)
	if err != nil {
		return fmt.Errorf("%w: open output device: %v", common.ErrPlayback, err)
	}
	defer device.Uninit()

	if err := device.Start(); err != nil {
		return fmt.Errorf("%w: start output device: %v", common.ErrPlayback, err)
	}

	interval := p.ProgressInterval
	if interval <= 0 {
		interval = 250 * time.Millisecond
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	position := func() time.Duration {
		mu.Lock()
		defer mu.Unlock()
		return format.Duration(offset)
	}

	for {
		select {
		case <-ctx.Done():
			_ = device.Stop()
			return ctx.Err()
		case <-done:
			_ = device.Stop()
			if onProgress != nil {
				onProgress(format.Duration(len(pcm)))
			}
			return nil
		case <-ticker.C:
			if onProgress != nil {
				onProgress(position())
			}
		}
	}
}
