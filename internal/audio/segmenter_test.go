package audio

import (
	"bytes"
	"testing"
)

func sequentialBytes(n int) []byte {
	data := make([]byte, n)
	for i := range data {
		data[i] = byte(i % 251)
	}
	return data
}

func TestFrameSegmenterEmitsWholeFramesInOrder(t *testing.T) {
	const frameBytes = 960
	tests := []struct {
		name    string
		chunks  []int
		residue int
	}{
		{name: "aligned", chunks: []int{960, 960, 960}},
		{name: "capture blocks", chunks: []int{3840, 3840}},
		{name: "ragged", chunks: []int{1, 959, 500, 1000, 420}},
		{name: "ragged with tail", chunks: []int{1, 959, 500, 1000, 420, 1}, residue: 1},
		{name: "byte by byte", chunks: repeat(1, frameBytes*2)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			total := 0
			for _, n := range tt.chunks {
				total += n
			}
			framed := total - tt.residue
			if framed%frameBytes != 0 {
				t.Fatalf("bad fixture: %d framed bytes not a multiple of %d", framed, frameBytes)
			}
			input := sequentialBytes(total)

			seg := NewFrameSegmenter(frameBytes)
			var out []byte
			frames := 0
			offset := 0
			for _, n := range tt.chunks {
				for _, frame := range seg.Push(input[offset : offset+n]) {
					if len(frame) != frameBytes {
						t.Fatalf("frame length = %d, want %d", len(frame), frameBytes)
					}
					frames++
					out = append(out, frame...)
				}
				offset += n
			}

			if frames != framed/frameBytes {
				t.Fatalf("frames = %d, want %d", frames, framed/frameBytes)
			}
			if seg.Residue() != tt.residue {
				t.Fatalf("residue = %d, want %d", seg.Residue(), tt.residue)
			}
			if !bytes.Equal(out, input[:framed]) {
				t.Fatal("frames are not in original byte order")
			}
		})
	}
}

func TestFrameSegmenterKeepsResidue(t *testing.T) {
	seg := NewFrameSegmenter(4)
	if frames := seg.Push([]byte{1, 2, 3}); len(frames) != 0 {
		t.Fatalf("expected no frame from short chunk, got %d", len(frames))
	}
	if seg.Residue() != 3 {
		t.Fatalf("residue = %d, want 3", seg.Residue())
	}

	frames := seg.Push([]byte{4, 5})
	if len(frames) != 1 || !bytes.Equal(frames[0], []byte{1, 2, 3, 4}) {
		t.Fatalf("unexpected frames %v", frames)
	}
	if seg.Residue() != 1 {
		t.Fatalf("residue = %d, want 1", seg.Residue())
	}

	seg.Reset()
	if seg.Residue() != 0 {
		t.Fatalf("residue after reset = %d", seg.Residue())
	}
}

func TestFrameSegmenterFramesAreCopies(t *testing.T) {
	seg := NewFrameSegmenter(2)
	chunk := []byte{1, 2, 3}
	frames := seg.Push(chunk)
	chunk[0] = 9
	more := seg.Push([]byte{4})
	if frames[0][0] != 1 {
		t.Fatal("frame aliases caller chunk")
	}
	if !bytes.Equal(more[0], []byte{3, 4}) {
		t.Fatalf("unexpected second frame %v", more[0])
	}
}

func repeat(v, n int) []int {
	out := make([]int, n)
	for i := range out {
		out[i] = v
	}
	return out
}
