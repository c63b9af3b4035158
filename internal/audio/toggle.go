package audio

import "sync/atomic"

// ToggleFlag is the mute switch between the key listener and the capture
// goroutine. The zero value is disabled; use NewToggleFlag for the default
// enabled state.
type ToggleFlag struct {
	name    string
	enabled atomic.Bool
}

func NewToggleFlag(name string, enabled bool) *ToggleFlag {
	f := &ToggleFlag{name: name}
	f.enabled.Store(enabled)
	return f
}

func (f *ToggleFlag) Name() string {
	return f.name
}

func (f *ToggleFlag) Enabled() bool {
	return f.enabled.Load()
}

func (f *ToggleFlag) Set(enabled bool) {
	f.enabled.Store(enabled)
}

// Toggle flips the flag and returns the new value.
func (f *ToggleFlag) Toggle() bool {
	for {
		old := f.enabled.Load()
		if f.enabled.CompareAndSwap(old, !old) {
			return !old
		}
	}
}
