// Package source provides audio capture sources that deliver mono s16le
// blocks at the stream sample rate.
package source

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/gordonklaus/portaudio"

	"github.com/liuscraft/orion-stt/internal/audio"
	"github.com/liuscraft/orion-stt/internal/logging"
)

// Source delivers audio blocks until it is exhausted (io.EOF), closed or its
// context is canceled. A block that cannot be converted is reported as
// audio.ErrMalformedBlock and the caller may keep reading.
type Source interface {
	Read(ctx context.Context) ([]byte, error)
	Close() error
}

var ErrNoInputDevice = errors.New("source: no matching input device")

// 常见的系统回环设备名称（部分匹配，小写）
var loopbackHints = []string{"stereo mix", "monitor of", "loopback", "what u hear", "blackhole", "wave out mix"}

// MicrophoneConfig selects the capture device and block size.
type MicrophoneConfig struct {
	// SampleRate is the stream rate blocks are converted to.
	SampleRate int
	BlockMs    int
	// Device is matched case-insensitively against input device names.
	// Empty selects the default input, or the first loopback device when
	// Loopback is set.
	Device      string
	Loopback    bool
	HighLatency bool
}

// MicrophoneSource captures from a portaudio input device.
type MicrophoneSource struct {
	stream    audioStream
	native    audio.Format
	converter *audio.Converter
	buffer    []float32
	closeCh   chan struct{}
	closeOnce sync.Once

	startOnce sync.Once
	startErr  error

	// 诊断指标
	totalReads   int64
	blockedReads int64
	lastLogTime  time.Time
	mu           sync.Mutex
}

type audioStream interface {
	Start() error
	Read() error
	Abort() error
	Stop() error
	Close() error
}

// NewMicrophoneSource opens the input stream without starting it. The stream
// starts on the first Read. PortAudio must already be initialized.
func NewMicrophoneSource(cfg MicrophoneConfig) (*MicrophoneSource, error) {
	if cfg.SampleRate <= 0 || cfg.BlockMs <= 0 {
		return nil, fmt.Errorf("invalid microphone config: rate=%d block=%dms", cfg.SampleRate, cfg.BlockMs)
	}
	logging.Infof("MicrophoneSource: creating source (device=%q, loopback=%v, highLatency=%v)", cfg.Device, cfg.Loopback, cfg.HighLatency)

	device, err := selectInputDevice(cfg.Device, cfg.Loopback)
	if err != nil {
		return nil, err
	}

	native := nativeFormat(device, cfg.SampleRate, cfg.Loopback)
	frames := native.SampleRate * cfg.BlockMs / 1000
	buffer := make([]float32, frames*native.Channels)

	latency := device.DefaultLowInputLatency
	latencyMode := "low"
	if cfg.HighLatency {
		latency = device.DefaultHighInputLatency
		latencyMode = "high"
	}

	params := portaudio.StreamParameters{
		Input: portaudio.StreamDeviceParameters{
			Device:   device,
			Channels: native.Channels,
			Latency:  latency,
		},
		SampleRate:      float64(native.SampleRate),
		FramesPerBuffer: frames,
	}
	stream, err := portaudio.OpenStream(params, &buffer)
	if err != nil {
		return nil, fmt.Errorf("open input stream on %q: %w", device.Name, err)
	}

	converter, err := audio.NewConverter(native, cfg.SampleRate, nil)
	if err != nil {
		stream.Close()
		return nil, err
	}

	logging.Infof("MicrophoneSource: device=%s format=%s block=%dms latency=%s(%.1fms) passthrough=%v (stream not started yet)",
		device.Name, native, cfg.BlockMs, latencyMode, latency.Seconds()*1000, converter.Passthrough())

	return newMicrophoneSourceWithStream(stream, native, converter, buffer), nil
}

func newMicrophoneSourceWithStream(stream audioStream, native audio.Format, converter *audio.Converter, buffer []float32) *MicrophoneSource {
	return &MicrophoneSource{
		stream:    stream,
		native:    native,
		converter: converter,
		buffer:    buffer,
		closeCh:   make(chan struct{}),
	}
}

// nativeFormat 优先使用流的采样率和单声道；设备不支持时按设备默认格式采集再转换
func nativeFormat(device *portaudio.DeviceInfo, streamRate int, loopback bool) audio.Format {
	channels := 1
	if loopback && device.MaxInputChannels >= 2 {
		// monitor devices usually refuse mono capture
		channels = 2
	}
	rate := streamRate
	if loopback && device.DefaultSampleRate > 0 {
		rate = int(device.DefaultSampleRate)
	}
	return audio.Format{SampleRate: rate, Channels: channels}
}

func selectInputDevice(name string, loopback bool) (*portaudio.DeviceInfo, error) {
	if name != "" {
		return findInputDeviceByName(name)
	}
	if loopback {
		for _, hint := range loopbackHints {
			if dev, err := findInputDeviceByName(hint); err == nil {
				return dev, nil
			}
		}
		return nil, fmt.Errorf("%w: no loopback device, enable one (e.g. Stereo Mix) or pass -device", ErrNoInputDevice)
	}
	dev, err := portaudio.DefaultInputDevice()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrNoInputDevice, err)
	}
	return dev, nil
}

// findInputDeviceByName 按名称查找输入设备（支持部分匹配）
func findInputDeviceByName(name string) (*portaudio.DeviceInfo, error) {
	devices, err := portaudio.Devices()
	if err != nil {
		return nil, err
	}
	if dev := matchInputDevice(devices, name); dev != nil {
		logging.Infof("MicrophoneSource: found device %q matching %q", dev.Name, name)
		return dev, nil
	}
	return nil, fmt.Errorf("%w: %q", ErrNoInputDevice, name)
}

func matchInputDevice(devices []*portaudio.DeviceInfo, name string) *portaudio.DeviceInfo {
	nameLower := strings.ToLower(name)
	for _, dev := range devices {
		if dev.MaxInputChannels > 0 && strings.Contains(strings.ToLower(dev.Name), nameLower) {
			return dev
		}
	}
	return nil
}

// Start starts the stream. Read calls it on first use.
func (m *MicrophoneSource) Start() error {
	m.startOnce.Do(func() {
		logging.Infof("MicrophoneSource: starting stream...")
		if err := m.stream.Start(); err != nil {
			m.startErr = fmt.Errorf("start input stream: %w", err)
			return
		}
		logging.Infof("MicrophoneSource: stream started")
	})
	return m.startErr
}

// Read blocks for one capture block and returns it as mono s16le at the
// stream rate.
func (m *MicrophoneSource) Read(ctx context.Context) ([]byte, error) {
	if err := m.Start(); err != nil {
		return nil, err
	}

	readStart := time.Now()
	readErr := make(chan error, 1)
	go func() {
		readErr <- m.stream.Read()
	}()

	select {
	case <-ctx.Done():
		m.abortStream("context canceled")
		return nil, ctx.Err()
	case <-m.closeCh:
		m.abortStream("source closed")
		return nil, io.EOF
	case err := <-readErr:
		m.recordReadMetrics(time.Since(readStart))
		if err != nil {
			select {
			case <-m.closeCh:
				return nil, io.EOF
			default:
			}
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			return nil, fmt.Errorf("read input stream: %w", err)
		}
	}

	return m.convert()
}

func (m *MicrophoneSource) convert() ([]byte, error) {
	pcm, err := audio.FloatToPCM16(m.buffer)
	if err != nil {
		return nil, err
	}
	if m.converter.Passthrough() {
		return pcm, nil
	}
	out, err := m.converter.Convert(audio.PCM16ToSamples(pcm))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", audio.ErrMalformedBlock, err)
	}
	return out, nil
}

// Close stops capture. A Read blocked on the device returns io.EOF.
func (m *MicrophoneSource) Close() error {
	var errs []error
	m.closeOnce.Do(func() {
		logging.Infof("MicrophoneSource: closing...")
		close(m.closeCh)
		if err := m.stream.Stop(); err != nil {
			logging.Debugf("MicrophoneSource: error stopping stream: %v", err)
		}
		if err := m.stream.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close input stream: %w", err))
		}
	})
	// PortAudio itself is terminated by the program, not by the source.
	return errors.Join(errs...)
}

func (m *MicrophoneSource) abortStream(reason string) {
	if err := m.stream.Abort(); err != nil {
		logging.Errorf("MicrophoneSource: error aborting stream (%s): %v", reason, err)
	}
}

func (m *MicrophoneSource) recordReadMetrics(duration time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.totalReads++

	// 预期读取时间：一个块的时长，超过 3 倍视为阻塞
	frames := len(m.buffer) / m.native.Channels
	expected := time.Duration(float64(frames) / float64(m.native.SampleRate) * float64(time.Second))
	if duration > expected*3 {
		m.blockedReads++
		logging.Warnf("MicrophoneSource: Read blocked for %v (expected ~%v), blocked count: %d/%d",
			duration, expected, m.blockedReads, m.totalReads)
	}

	now := time.Now()
	if now.Sub(m.lastLogTime) >= 10*time.Second {
		m.lastLogTime = now
		blockRate := float64(m.blockedReads) / float64(m.totalReads) * 100
		logging.Debugf("MicrophoneSource: metrics - total reads: %d, blocked: %d (%.1f%%)",
			m.totalReads, m.blockedReads, blockRate)
	}
}
