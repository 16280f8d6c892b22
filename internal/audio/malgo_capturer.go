package audio

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/gen2brain/malgo"

	"github.com/emmett/voxmsg/internal/common"
)

var errChunkOverflow = errors.New("chunk buffer overflow, dropping frames")

// MalgoCapturer implements Capturer on top of miniaudio.
type MalgoCapturer struct {
	config       CaptureConfig
	device       *malgo.Device
	malgoContext *malgo.AllocatedContext
	chunks       chan Chunk
	errs         chan error
	running      bool
	stopped      bool
	mu           sync.Mutex
	stopChan     chan struct{}
	wg           sync.WaitGroup
}

// NewMalgoCapturer creates a capturer. The device is not opened until Start.
func NewMalgoCapturer(config CaptureConfig) (*MalgoCapturer, error) {
	if config.SampleRate == 0 || config.Channels == 0 {
		return nil, fmt.Errorf("%w: invalid capture format %dHz/%dch", common.ErrRecording, config.SampleRate, config.Channels)
	}
	size := config.ChunkBufferSize
	if size <= 0 {
		size = DefaultCaptureConfig().ChunkBufferSize
	}
	return &MalgoCapturer{
		config:   config,
		chunks:   make(chan Chunk, size),
		errs:     make(chan error, 8),
		stopChan: make(chan struct{}),
	}, nil
}

// Start opens the input device. A backend that cannot initialise yields
// ErrUnsupported, a missing device ErrNoMicrophone, and a device that
// refuses to open ErrPermission.
func (m *MalgoCapturer) Start(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.running {
		return fmt.Errorf("%w: capturer is already running", common.ErrRecording)
	}
	if m.stopped {
		return fmt.Errorf("%w: capturer has been stopped", common.ErrRecording)
	}

	malgoCtx, err := malgo.InitContext(nil, malgo.ContextConfig{}, nil)
	if err != nil {
		return fmt.Errorf("%w: %v", common.ErrUnsupported, err)
	}

	deviceConfig := malgo.DefaultDeviceConfig(malgo.Capture)
	deviceConfig.Capture.Format = malgo.FormatS16
	deviceConfig.Capture.Channels = m.config.Channels
	deviceConfig.SampleRate = m.config.SampleRate
	deviceConfig.PeriodSizeInFrames = m.config.BufferFrames

	infos, err := malgoCtx.Devices(malgo.Capture)
	if err != nil {
		freeContext(malgoCtx)
		return fmt.Errorf("%w: enumerate devices: %v", common.ErrUnsupported, err)
	}
	if len(infos) == 0 {
		freeContext(malgoCtx)
		return common.ErrNoMicrophone
	}
	if m.config.DeviceID != "" {
		idx, err := parseDeviceIndex(m.config.DeviceID, kindCapture)
		if err != nil || idx >= len(infos) {
			freeContext(malgoCtx)
			return fmt.Errorf("%w: %s", common.ErrNoMicrophone, m.config.DeviceID)
		}
		deviceConfig.Capture.DeviceID = infos[idx].ID.Pointer()
	}

	callbacks := malgo.DeviceCallbacks{
		Data: func(_, input []byte, frameCount uint32) {
			data := make([]byte, len(input))
			copy(data, input)

			select {
			case m.chunks <- Chunk{Data: data, Timestamp: time.Now(), Frames: frameCount}:
			default:
				select {
				case m.errs <- errChunkOverflow:
				default:
				}
			}
		},
	}

	device, err := malgo.InitDevice(malgoCtx.Context, deviceConfig, callbacks)
	if err != nil {
		freeContext(malgoCtx)
		return fmt.Errorf("%w: open input device: %v", common.ErrPermission, err)
	}
	if err := device.Start(); err != nil {
		device.Uninit()
		freeContext(malgoCtx)
		return fmt.Errorf("%w: start input device: %v", common.ErrPermission, err)
	}

	m.malgoContext = malgoCtx
	m.device = device
	m.running = true

	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		select {
		case <-ctx.Done():
			go m.Stop()
		case <-m.stopChan:
		}
	}()

	return nil
}

// Stop releases the device. It is safe to call more than once.
func (m *MalgoCapturer) Stop() error {
	m.mu.Lock()
	if m.stopped {
		m.mu.Unlock()
		return nil
	}
	m.stopped = true
	wasRunning := m.running
	m.running = false
	m.mu.Unlock()

	close(m.stopChan)

	var stopErr error
	if wasRunning {
		if err := m.device.Stop(); err != nil {
			stopErr = fmt.Errorf("%w: stop device: %v", common.ErrRecording, err)
		}
		// Uninit waits for the data callback to return, so no send can
		// race with the channel close below.
		m.device.Uninit()
		freeContext(m.malgoContext)
	}

	m.wg.Wait()
	close(m.chunks)
	close(m.errs)

	return stopErr
}

func (m *MalgoCapturer) Chunks() <-chan Chunk {
	return m.chunks
}

func (m *MalgoCapturer) Errors() <-chan error {
	return m.errs
}

func (m *MalgoCapturer) IsRunning() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.running
}

func freeContext(ctx *malgo.AllocatedContext) {
	if ctx == nil {
		return
	}
	_ = ctx.Uninit()
	ctx.Free()
}
