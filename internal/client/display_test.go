package client

import (
	"bytes"
	"strings"
	"testing"

	"github.com/liuscraft/orion-stt/internal/audio"
)

func TestConsoleDisplayOverwritesPartial(t *testing.T) {
	var out bytes.Buffer
	d := NewConsoleDisplay(&out)

	d.OnPartial("hel")
	d.OnPartial("hello")
	d.OnFinal("hello there")

	got := out.String()
	if strings.Count(got, "\n") != 1 {
		t.Fatalf("partials must not add lines: %q", got)
	}
	if !strings.HasSuffix(got, "Final  : hello there\r\n") {
		t.Fatalf("output = %q", got)
	}
	// the second partial erases the first before drawing
	if !strings.Contains(got, "Partial: hel\r"+strings.Repeat(" ", len("Partial: hel"))+"\rPartial: hello") {
		t.Fatalf("partial not overwritten: %q", got)
	}
}

func TestTranscript(t *testing.T) {
	tr := &Transcript{}
	h := Handlers(tr)
	h.OnPartial("a")
	h.OnFinal("one")
	h.OnFinal("two")
	if tr.Text() != "one two" || tr.Partials() != 1 {
		t.Fatalf("text=%q partials=%d", tr.Text(), tr.Partials())
	}
}

func TestKeyListenerHandlesKeys(t *testing.T) {
	var out bytes.Buffer
	toggle := audio.NewToggleFlag("mic", true)
	quits := 0
	k := NewKeyListener(nil, &out, toggle, func() { quits++ })

	k.readLoop(strings.NewReader("x  q "))

	if !toggle.Enabled() {
		t.Fatal("two spaces must leave the flag enabled")
	}
	if quits != 1 {
		t.Fatalf("quits = %d", quits)
	}
	if !strings.Contains(out.String(), "[mic] OFF") || !strings.Contains(out.String(), "[mic] ON") {
		t.Fatalf("output = %q", out.String())
	}

	k.Stop()
	if k.handleKey(' ') {
		t.Fatal("stopped listener must ignore keys")
	}
	if !toggle.Enabled() {
		t.Fatal("key after stop changed the flag")
	}
}
