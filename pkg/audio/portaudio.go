package audio

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/gordonklaus/portaudio"

	"github.com/teu-im/teuim/pkg/frames"
	"github.com/teu-im/teuim/pkg/logging"
)

// ErrAlreadyCapturing is returned when a second capture is started on a
// source that is still running.
var ErrAlreadyCapturing = errors.New("audio capture already running")

// DeviceID "default" selects the host's default input device; enumerated
// devices use "device_<index>".
const DefaultDeviceID = "default"

type Device struct {
	ID      string
	Name    string
	Default bool
}

// ListDevices enumerates input devices, default device first.
func ListDevices() ([]Device, error) {
	if err := portaudio.Initialize(); err != nil {
		return nil, fmt.Errorf("portaudio init: %w", err)
	}
	defer portaudio.Terminate()

	var out []Device
	if info, err := portaudio.DefaultInputDevice(); err == nil && info != nil {
		out = append(out, Device{ID: DefaultDeviceID, Name: info.Name, Default: true})
	}
	all, err := portaudio.Devices()
	if err != nil {
		return nil, fmt.Errorf("list devices: %w", err)
	}
	for i, info := range all {
		if info.MaxInputChannels <= 0 {
			continue
		}
		out = append(out, Device{ID: "device_" + strconv.Itoa(i), Name: info.Name})
	}
	return out, nil
}

type DeviceConfig struct {
	DeviceID        string `mapstructure:"device_id"`
	FramesPerBuffer int    `mapstructure:"frames_per_buffer"`
	ChannelBuffer   int    `mapstructure:"channel_buffer"`
}

func (c DeviceConfig) withDefaults() DeviceConfig {
	if c.DeviceID == "" {
		c.DeviceID = DefaultDeviceID
	}
	if c.FramesPerBuffer <= 0 {
		c.FramesPerBuffer = 1600
	}
	if c.ChannelBuffer <= 0 {
		c.ChannelBuffer = 32
	}
	return c
}

// DeviceSource captures mono PCM16LE frames from a PortAudio input device.
// The sample rate is whatever the device reports as its default; consumers
// learn it from the first frame.
type DeviceSource struct {
	cfg    DeviceConfig
	logger *slog.Logger

	running atomic.Bool
	out     chan frames.AudioFrame
	stream  *portaudio.Stream
	pts     int64
	dropped atomic.Int64

	mu sync.Mutex
}

func NewDeviceSource(cfg DeviceConfig, logger *slog.Logger) *DeviceSource {
	return &DeviceSource{
		cfg:    cfg.withDefaults(),
		logger: logging.NewComponentLogger(logger, "audio_source"),
	}
}

func (d *DeviceSource) Start(ctx context.Context) error {
	if !d.running.CompareAndSwap(false, true) {
		return ErrAlreadyCapturing
	}
	if err := portaudio.Initialize(); err != nil {
		d.running.Store(false)
		return fmt.Errorf("portaudio init: %w", err)
	}
	info, err := d.resolveDevice()
	if err != nil {
		portaudio.Terminate()
		d.running.Store(false)
		return err
	}
	rate := int(info.DefaultSampleRate)
	d.out = make(chan frames.AudioFrame, d.cfg.ChannelBuffer)

	params := portaudio.StreamParameters{
		Input: portaudio.StreamDeviceParameters{
			Device:   info,
			Channels: 1,
			Latency:  info.DefaultLowInputLatency,
		},
		SampleRate:      float64(rate),
		FramesPerBuffer: d.cfg.FramesPerBuffer,
	}

	stream, err := portaudio.OpenStream(params, func(in []int16) {
		d.push(BytesFromInt16(in), rate)
	})
	if err != nil {
		// Some hosts refuse int16 streams; fall back to float32 capture.
		stream, err = portaudio.OpenStream(params, func(in []float32) {
			d.push(BytesFromInt16(Int16FromFloat32(in)), rate)
		})
	}
	if err != nil {
		portaudio.Terminate()
		d.running.Store(false)
		return fmt.Errorf("open capture stream: %w", err)
	}
	if err := stream.Start(); err != nil {
		_ = stream.Close()
		portaudio.Terminate()
		d.running.Store(false)
		return fmt.Errorf("start capture stream: %w", err)
	}

	d.mu.Lock()
	d.stream = stream
	d.mu.Unlock()

	d.logger.Info("capture started",
		slog.String("device", info.Name),
		slog.Int("sample_rate", rate),
		slog.Int("frames_per_buffer", d.cfg.FramesPerBuffer))

	go func() {
		<-ctx.Done()
		_ = d.Stop()
	}()
	return nil
}

func (d *DeviceSource) push(data []byte, rate int) {
	if !d.running.Load() {
		return
	}
	f := frames.NewAudioFrameFromPool(atomic.AddInt64(&d.pts, 1), data, rate)
	select {
	case d.out <- f:
	default:
		// Consumer is behind; drop rather than stall the device callback.
		frames.Release(f)
		if n := d.dropped.Add(1); n%100 == 1 {
			d.logger.Warn("dropping capture frames", slog.Int64("dropped", n))
		}
	}
}

func (d *DeviceSource) Frames() <-chan frames.AudioFrame { return d.out }

func (d *DeviceSource) Stop() error {
	if !d.running.CompareAndSwap(true, false) {
		return nil
	}
	d.mu.Lock()
	stream := d.stream
	d.stream = nil
	d.mu.Unlock()

	var err error
	if stream != nil {
		err = stream.Stop()
		if cerr := stream.Close(); err == nil {
			err = cerr
		}
	}
	portaudio.Terminate()
	close(d.out)
	d.logger.Info("capture stopped", slog.Int64("frames_dropped", d.dropped.Load()))
	return err
}

func (d *DeviceSource) resolveDevice() (*portaudio.DeviceInfo, error) {
	id := d.cfg.DeviceID
	if id == DefaultDeviceID {
		info, err := portaudio.DefaultInputDevice()
		if err != nil {
			return nil, fmt.Errorf("default input device: %w", err)
		}
		return info, nil
	}
	idxStr, ok := strings.CutPrefix(id, "device_")
	if !ok {
		return nil, fmt.Errorf("invalid device id %q", id)
	}
	idx, err := strconv.Atoi(idxStr)
	if err != nil {
		return nil, fmt.Errorf("invalid device id %q", id)
	}
	all, err := portaudio.Devices()
	if err != nil {
		return nil, fmt.Errorf("list devices: %w", err)
	}
	if idx < 0 || idx >= len(all) {
		return nil, fmt.Errorf("device %q not found", id)
	}
	if all[idx].MaxInputChannels <= 0 {
		return nil, fmt.Errorf("device %q has no input channels", id)
	}
	return all[idx], nil
}
