package audio

import (
	"errors"
	"math"
	"testing"
)

func TestFrameBytes(t *testing.T) {
	tests := []struct {
		rate, channels, ms, want int
	}{
		{16000, 1, 30, 960},
		{16000, 1, 10, 320},
		{8000, 1, 20, 320},
		{48000, 2, 10, 1920},
		{0, 1, 30, 0},
	}
	for _, tt := range tests {
		if got := FrameBytes(tt.rate, tt.channels, tt.ms); got != tt.want {
			t.Errorf("FrameBytes(%d,%d,%d) = %d, want %d", tt.rate, tt.channels, tt.ms, got, tt.want)
		}
	}
}

func TestFloatToPCM16(t *testing.T) {
	data, err := FloatToPCM16([]float32{0, 1, -1, 0.5})
	if err != nil {
		t.Fatalf("convert: %v", err)
	}
	samples := PCM16ToSamples(data)
	want := []int16{0, 32767, -32767, 16383}
	for i := range want {
		if samples[i] != want[i] {
			t.Fatalf("sample %d = %d, want %d", i, samples[i], want[i])
		}
	}
}

func TestFloatToPCM16RejectsMalformed(t *testing.T) {
	cases := [][]float32{
		{0, float32(math.NaN())},
		{float32(math.Inf(1))},
		{0.2, 1.5},
		{-1.01},
	}
	for _, c := range cases {
		if _, err := FloatToPCM16(c); !errors.Is(err, ErrMalformedBlock) {
			t.Fatalf("FloatToPCM16(%v) err = %v, want ErrMalformedBlock", c, err)
		}
	}
}

func TestDownmix(t *testing.T) {
	got := Downmix([]int16{100, 300, -200, 200, 10, 20}, 2)
	want := []int16{200, 0, 15}
	if len(got) != len(want) {
		t.Fatalf("len = %d, want %d", len(got), len(want))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("frame %d = %d, want %d", i, got[i], want[i])
		}
	}
}

func TestRMS(t *testing.T) {
	if RMS(nil) != 0 {
		t.Fatal("empty buffer should have zero level")
	}
	loud := SamplesToPCM16([]int16{16384, -16384, 16384, -16384})
	if got := RMS(loud); math.Abs(got-0.5) > 1e-6 {
		t.Fatalf("RMS = %f, want 0.5", got)
	}
}
