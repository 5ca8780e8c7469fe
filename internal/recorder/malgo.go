package recorder

import (
	"context"
	"runtime"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gen2brain/malgo"
	"github.com/smallnest/ringbuffer"

	"github.com/tphakala/ridenote/internal/errors"
	"github.com/tphakala/ridenote/internal/logger"
)

const (
	// ring buffer holds this much audio between device callbacks and the drain loop
	ringSeconds   = 2
	drainInterval = 50 * time.Millisecond
)

// MalgoSource captures S16LE audio from a sound card through miniaudio
type MalgoSource struct {
	deviceName string
	format     Format

	mu      sync.Mutex
	mctx    *malgo.AllocatedContext
	device  *malgo.Device
	ring    *ringbuffer.RingBuffer
	cancel  context.CancelFunc
	done    chan struct{}
	running atomic.Bool
	dropped atomic.Int64

	log logger.Logger
}

// NewMalgoSource returns a mono 16-bit source for the named device, empty for the default
func NewMalgoSource(deviceName string, sampleRate int) *MalgoSource {
	return &MalgoSource{
		deviceName: deviceName,
		format:     Format{SampleRate: sampleRate, Channels: 1, BitDepth: 16},
		log:        logger.Global().Module("recorder").Module("malgo"),
	}
}

func (s *MalgoSource) Format() Format { return s.format }

// Start opens the capture device and forwards frames to onData from a drain goroutine.
func (s *MalgoSource) Start(ctx context.Context, onData func([]byte)) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running.Load() {
		return errors.Newf("capture source already running").
			Component("recorder").
			Category(errors.CategoryState).
			Build()
	}

	mctx, err := malgo.InitContext(backends(), malgo.ContextConfig{}, nil)
	if err != nil {
		return audioError(err, "init_context")
	}

	cfg := malgo.DefaultDeviceConfig(malgo.Capture)
	cfg.Capture.Format = malgo.FormatS16
	cfg.Capture.Channels = uint32(s.format.Channels)
	cfg.SampleRate = uint32(s.format.SampleRate)
	cfg.Alsa.NoMMap = 1

	if s.deviceName != "" {
		info, err := findDevice(mctx, s.deviceName)
		if err != nil {
			_ = mctx.Uninit()
			mctx.Free()
			return err
		}
		cfg.Capture.DeviceID = info.ID.Pointer()
	}

	s.ring = ringbuffer.New(s.format.BytesPerSecond() * ringSeconds)
	s.dropped.Store(0)

	device, err := malgo.InitDevice(mctx.Context, cfg, malgo.DeviceCallbacks{
		Data: s.onFrames,
	})
	if err != nil {
		_ = mctx.Uninit()
		mctx.Free()
		return audioError(err, "init_device")
	}

	if err := device.Start(); err != nil {
		device.Uninit()
		_ = mctx.Uninit()
		mctx.Free()
		return audioError(err, "start_device")
	}

	drainCtx, cancel := context.WithCancel(ctx)
	s.mctx, s.device, s.cancel = mctx, device, cancel
	s.done = make(chan struct{})
	s.running.Store(true)

	go s.drain(drainCtx, onData)

	s.log.Debug("capture started",
		logger.String("device", s.deviceName),
		logger.Int("sample_rate", int(device.SampleRate())))
	return nil
}

// onFrames runs on the audio thread and must not block
func (s *MalgoSource) onFrames(_, input []byte, _ uint32) {
	if n, _ := s.ring.Write(input); n < len(input) {
		s.dropped.Add(int64(len(input) - n))
	}
}

func (s *MalgoSource) drain(ctx context.Context, onData func([]byte)) {
	defer close(s.done)

	ticker := time.NewTicker(drainInterval)
	defer ticker.Stop()

	buf := make([]byte, s.format.BytesPerSecond()/4)
	flush := func() {
		for s.ring.Length() > 0 {
			n, err := s.ring.Read(buf)
			if n > 0 {
				chunk := make([]byte, n)
				copy(chunk, buf[:n])
				onData(chunk)
			}
			if err != nil || n == 0 {
				return
			}
		}
	}

	for {
		select {
		case <-ctx.Done():
			flush()
			return
		case <-ticker.C:
			flush()
		}
	}
}

// Stop halts the device, delivers buffered frames and releases the context.
func (s *MalgoSource) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.running.Load() {
		return nil
	}

	_ = s.device.Stop()
	s.device.Uninit()
	s.cancel()
	<-s.done

	if err := s.mctx.Uninit(); err != nil {
		s.log.Warn("failed to release audio context", logger.Error(err))
	}
	s.mctx.Free()
	s.device, s.mctx = nil, nil
	s.running.Store(false)

	if dropped := s.dropped.Load(); dropped > 0 {
		s.log.Warn("capture overran ring buffer", logger.Int64("dropped_bytes", dropped))
	}
	return nil
}

func findDevice(mctx *malgo.AllocatedContext, name string) (*malgo.DeviceInfo, error) {
	devices, err := mctx.Devices(malgo.Capture)
	if err != nil {
		return nil, audioError(err, "list_devices")
	}
	for i := range devices {
		if strings.Contains(devices[i].Name(), name) {
			return &devices[i], nil
		}
	}
	return nil, errors.Newf("capture device %q not found", name).
		Component("recorder").
		Category(errors.CategoryNotFound).
		Context("available", len(devices)).
		Build()
}

func backends() []malgo.Backend {
	switch runtime.GOOS {
	case "linux":
		return []malgo.Backend{malgo.BackendPulseaudio, malgo.BackendAlsa}
	case "windows":
		return []malgo.Backend{malgo.BackendWasapi}
	case "darwin":
		return []malgo.Backend{malgo.BackendCoreaudio}
	default:
		return nil
	}
}

func audioError(err error, op string) error {
	return errors.New(err).
		Component("recorder").
		Category(errors.CategoryAudio).
		Context("operation", op).
		Context("backend", runtime.GOOS).
		Build()
}
