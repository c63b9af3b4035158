package client

import (
	"fmt"
	"io"
	"strings"
	"sync"
	"unicode/utf8"
)

// ResultHandler receives transcript messages from the receive loop.
type ResultHandler interface {
	OnPartial(text string)
	OnFinal(text string)
}

// ConsoleDisplay 在终端显示识别结果：partial 覆盖同一行，final 单独成行
type ConsoleDisplay struct {
	mu      sync.Mutex
	w       io.Writer
	lastLen int
}

func NewConsoleDisplay(w io.Writer) *ConsoleDisplay {
	return &ConsoleDisplay{w: w}
}

func (d *ConsoleDisplay) OnPartial(text string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	line := "Partial: " + text
	d.clearLocked()
	fmt.Fprint(d.w, line)
	d.lastLen = utf8.RuneCountInString(line)
}

func (d *ConsoleDisplay) OnFinal(text string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.clearLocked()
	// \r\n keeps lines aligned while the terminal is in raw mode
	fmt.Fprintf(d.w, "Final  : %s\r\n", text)
	d.lastLen = 0
}

func (d *ConsoleDisplay) clearLocked() {
	if d.lastLen == 0 {
		fmt.Fprint(d.w, "\r")
		return
	}
	fmt.Fprint(d.w, "\r"+strings.Repeat(" ", d.lastLen)+"\r")
}

// Transcript collects final results.
type Transcript struct {
	mu       sync.Mutex
	finals   []string
	partials int
}

func (t *Transcript) OnPartial(string) {
	t.mu.Lock()
	t.partials++
	t.mu.Unlock()
}

func (t *Transcript) OnFinal(text string) {
	t.mu.Lock()
	t.finals = append(t.finals, text)
	t.mu.Unlock()
}

func (t *Transcript) Finals() []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]string(nil), t.finals...)
}

func (t *Transcript) Partials() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.partials
}

// Text joins every final with a space.
func (t *Transcript) Text() string {
	return strings.Join(t.Finals(), " ")
}

type multiHandler []ResultHandler

func (m multiHandler) OnPartial(text string) {
	for _, h := range m {
		h.OnPartial(text)
	}
}

func (m multiHandler) OnFinal(text string) {
	for _, h := range m {
		h.OnFinal(text)
	}
}

// Handlers fans results out to every handler in order.
func Handlers(hs ...ResultHandler) ResultHandler {
	return multiHandler(hs)
}
