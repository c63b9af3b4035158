package source

import (
	"fmt"
	"strings"
	"time"

	"github.com/gordonklaus/portaudio"
)

// DeviceInfo describes one capture-capable device.
type DeviceInfo struct {
	Index             int
	Name              string
	HostAPI           string
	MaxInputChannels  int
	DefaultSampleRate float64
	LowLatency        time.Duration
	HighLatency       time.Duration
	Default           bool
	Loopback          bool
}

// ListInputDevices returns every device with at least one input channel.
// PortAudio must already be initialized.
func ListInputDevices() ([]DeviceInfo, error) {
	devices, err := portaudio.Devices()
	if err != nil {
		return nil, fmt.Errorf("list devices: %w", err)
	}
	defaultName := ""
	if def, err := portaudio.DefaultInputDevice(); err == nil {
		defaultName = def.Name
	}
	return inputDevices(devices, defaultName), nil
}

func inputDevices(devices []*portaudio.DeviceInfo, defaultName string) []DeviceInfo {
	var out []DeviceInfo
	for i, dev := range devices {
		if dev.MaxInputChannels <= 0 {
			continue
		}
		info := DeviceInfo{
			Index:             i,
			Name:              dev.Name,
			MaxInputChannels:  dev.MaxInputChannels,
			DefaultSampleRate: dev.DefaultSampleRate,
			LowLatency:        dev.DefaultLowInputLatency,
			HighLatency:       dev.DefaultHighInputLatency,
			Default:           dev.Name == defaultName,
			Loopback:          isLoopback(dev.Name),
		}
		if dev.HostApi != nil {
			info.HostAPI = dev.HostApi.Name
		}
		out = append(out, info)
	}
	return out
}

func isLoopback(name string) bool {
	lower := strings.ToLower(name)
	for _, hint := range loopbackHints {
		if strings.Contains(lower, hint) {
			return true
		}
	}
	return false
}
