package mock

import (
	"errors"
	"testing"
)

func TestRecognizerScript(t *testing.T) {
	rec := &Recognizer{}

	boundary, err := rec.AcceptWaveform([]byte("hello world"))
	if err != nil || boundary {
		t.Fatalf("boundary=%v err=%v", boundary, err)
	}
	if p, _ := rec.PartialResult(); p != "hello world" {
		t.Fatalf("partial = %q", p)
	}

	boundary, _ = rec.AcceptWaveform([]byte("<eos> next"))
	if !boundary {
		t.Fatal("expected boundary")
	}
	if r, _ := rec.Result(); r != "hello world" {
		t.Fatalf("result = %q", r)
	}
	if r, _ := rec.Result(); r != "" {
		t.Fatalf("result must be consumed, got %q", r)
	}
	if f, _ := rec.FinalResult(); f != "next" {
		t.Fatalf("final = %q", f)
	}
	if f, _ := rec.FinalResult(); f != "" {
		t.Fatalf("second final = %q", f)
	}
	if rec.FinalCalls() != 2 {
		t.Fatalf("final calls = %d", rec.FinalCalls())
	}

	if _, err := rec.AcceptWaveform([]byte(FailToken)); !errors.Is(err, ErrScripted) {
		t.Fatalf("expected ErrScripted, got %v", err)
	}
}
