package audio

import (
	"encoding/binary"
	"errors"
	"math"
)

// ErrMalformedBlock is returned for capture blocks holding samples that cannot
// be converted to 16-bit PCM (NaN, Inf or outside [-1, 1]).
var ErrMalformedBlock = errors.New("audio: malformed sample block")

// BytesPerSample is the size of one s16le sample.
const BytesPerSample = 2

// FrameBytes 计算一帧 PCM 数据的字节数
// 例如 16kHz 单声道 30ms = 960 字节
func FrameBytes(sampleRate, channels, frameMs int) int {
	if sampleRate <= 0 || channels <= 0 || frameMs <= 0 {
		return 0
	}
	return sampleRate * frameMs / 1000 * channels * BytesPerSample
}

// FloatToPCM16 converts normalized float samples into little-endian s16le.
// The whole block is rejected if any sample is not finite or out of range.
func FloatToPCM16(samples []float32) ([]byte, error) {
	for _, s := range samples {
		f := float64(s)
		if math.IsNaN(f) || math.IsInf(f, 0) || f > 1 || f < -1 {
			return nil, ErrMalformedBlock
		}
	}
	out := make([]byte, len(samples)*BytesPerSample)
	for i, s := range samples {
		v := int16(s * 32767)
		binary.LittleEndian.PutUint16(out[i*2:], uint16(v))
	}
	return out, nil
}

// Downmix averages interleaved channels into a mono signal.
func Downmix(samples []int16, channels int) []int16 {
	if channels <= 1 {
		out := make([]int16, len(samples))
		copy(out, samples)
		return out
	}
	frames := len(samples) / channels
	out := make([]int16, frames)
	for i := 0; i < frames; i++ {
		sum := 0
		for ch := 0; ch < channels; ch++ {
			sum += int(samples[i*channels+ch])
		}
		out[i] = int16(sum / channels)
	}
	return out
}

// PCM16ToSamples decodes little-endian s16le into samples. A trailing odd byte
// is ignored.
func PCM16ToSamples(data []byte) []int16 {
	return bytesToInt16(data)
}

// SamplesToPCM16 encodes samples as little-endian s16le.
func SamplesToPCM16(samples []int16) []byte {
	out := make([]byte, len(samples)*BytesPerSample)
	int16ToBytes(samples, out)
	return out
}

// RMS returns the root-mean-square level of a s16le buffer, normalized to [0, 1].
func RMS(data []byte) float64 {
	n := len(data) / BytesPerSample
	if n == 0 {
		return 0
	}
	var sum float64
	for i := 0; i < n; i++ {
		v := float64(int16(binary.LittleEndian.Uint16(data[i*2:]))) / 32768.0
		sum += v * v
	}
	return math.Sqrt(sum / float64(n))
}
