package audio

// FrameSegmenter slices an arbitrary chunked byte stream into fixed-size
// frames. Bytes that do not fill a whole frame stay in the residue buffer
// until the next Push.
type FrameSegmenter struct {
	frameBytes int
	residue    []byte
}

func NewFrameSegmenter(frameBytes int) *FrameSegmenter {
	if frameBytes <= 0 {
		panic("audio: frame size must be positive")
	}
	return &FrameSegmenter{
		frameBytes: frameBytes,
		residue:    make([]byte, 0, frameBytes*2),
	}
}

// FrameBytes returns the configured frame length.
func (s *FrameSegmenter) FrameBytes() int {
	return s.frameBytes
}

// Push appends chunk and returns every complete frame now available, in
// arrival order. Each returned frame is an independent copy.
func (s *FrameSegmenter) Push(chunk []byte) [][]byte {
	s.residue = append(s.residue, chunk...)
	if len(s.residue) < s.frameBytes {
		return nil
	}

	frames := make([][]byte, 0, len(s.residue)/s.frameBytes)
	offset := 0
	for len(s.residue)-offset >= s.frameBytes {
		frame := make([]byte, s.frameBytes)
		copy(frame, s.residue[offset:offset+s.frameBytes])
		frames = append(frames, frame)
		offset += s.frameBytes
	}

	remaining := copy(s.residue, s.residue[offset:])
	s.residue = s.residue[:remaining]
	return frames
}

// Residue reports how many buffered bytes are waiting for a full frame.
func (s *FrameSegmenter) Residue() int {
	return len(s.residue)
}

// Reset discards buffered bytes.
func (s *FrameSegmenter) Reset() {
	s.residue = s.residue[:0]
}
