package client

import (
	"errors"
	"fmt"
	"io"
	"os"
	"sync"
	"sync/atomic"

	"golang.org/x/term"

	"github.com/liuscraft/orion-stt/internal/audio"
	"github.com/liuscraft/orion-stt/internal/logging"
)

var ErrNotTerminal = errors.New("client: stdin is not a terminal")

const keyCtrlC = 3

// KeyListener reads single key presses from a raw-mode terminal. Space
// toggles the capture flag; q or Ctrl+C requests shutdown.
type KeyListener struct {
	in     *os.File
	out    io.Writer
	toggle *audio.ToggleFlag
	onQuit func()

	quitOnce sync.Once
	stopped  atomic.Bool
	mu       sync.Mutex
	oldState *term.State
}

func NewKeyListener(in *os.File, out io.Writer, toggle *audio.ToggleFlag, onQuit func()) *KeyListener {
	return &KeyListener{in: in, out: out, toggle: toggle, onQuit: onQuit}
}

// Start switches the terminal to raw mode and begins reading keys. It
// returns ErrNotTerminal when stdin is redirected.
func (k *KeyListener) Start() error {
	fd := int(k.in.Fd())
	if !term.IsTerminal(fd) {
		return ErrNotTerminal
	}
	old, err := term.MakeRaw(fd)
	if err != nil {
		return fmt.Errorf("enable raw mode: %w", err)
	}
	k.mu.Lock()
	k.oldState = old
	k.mu.Unlock()

	fmt.Fprintf(k.out, "[%s] press SPACE to toggle, q to quit\r\n", k.toggle.Name())
	go k.readLoop(k.in)
	return nil
}

// Stop restores the terminal. Keys read afterwards are ignored.
func (k *KeyListener) Stop() {
	if k.stopped.Swap(true) {
		return
	}
	k.mu.Lock()
	defer k.mu.Unlock()
	if k.oldState != nil {
		if err := term.Restore(int(k.in.Fd()), k.oldState); err != nil {
			logging.Warnf("restore terminal: %v", err)
		}
		k.oldState = nil
	}
}

func (k *KeyListener) readLoop(r io.Reader) {
	buf := make([]byte, 1)
	for !k.stopped.Load() {
		n, err := r.Read(buf)
		if err != nil {
			if !errors.Is(err, io.EOF) {
				logging.Debugf("key listener: %v", err)
			}
			return
		}
		if n == 1 && !k.handleKey(buf[0]) {
			return
		}
	}
}

// handleKey reacts to one key and reports whether to keep listening.
func (k *KeyListener) handleKey(b byte) bool {
	if k.stopped.Load() {
		return false
	}
	switch b {
	case ' ':
		state := "OFF"
		if k.toggle.Toggle() {
			state = "ON"
		}
		fmt.Fprintf(k.out, "\r\n[%s] %s\r\n", k.toggle.Name(), state)
	case 'q', 'Q', keyCtrlC:
		k.quitOnce.Do(func() {
			if k.onQuit != nil {
				k.onQuit()
			}
		})
		return false
	}
	return true
}
