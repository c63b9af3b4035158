package audio

import "fmt"

// Resampler 音频重采样器接口
// 用于把设备原生采样率转换为流的采样率
type Resampler interface {
	// Resample 重采样交错的 int16 PCM 数据
	// channels: 声道数 (1=mono, 2=stereo)
	Resample(input []int16, inputRate, outputRate, channels int) ([]int16, error)
}

// Format describes interleaved PCM as produced by a capture device or file.
type Format struct {
	SampleRate int
	Channels   int
}

func (f Format) String() string {
	return fmt.Sprintf("%dHz/%dch", f.SampleRate, f.Channels)
}

// Converter turns native-format sample blocks into mono s16le at the stream
// rate. A converter with matching formats only encodes.
type Converter struct {
	from      Format
	toRate    int
	resampler Resampler
}

// NewConverter 创建格式转换器
// resampler 为 nil 时使用线性插值
func NewConverter(from Format, toRate int, resampler Resampler) (*Converter, error) {
	if from.SampleRate <= 0 || from.Channels <= 0 || toRate <= 0 {
		return nil, fmt.Errorf("invalid conversion %s -> %dHz/1ch", from, toRate)
	}
	if resampler == nil {
		resampler = NewLinearResampler()
	}
	return &Converter{from: from, toRate: toRate, resampler: resampler}, nil
}

// Passthrough reports whether blocks are already in stream format.
func (c *Converter) Passthrough() bool {
	return c.from.Channels == 1 && c.from.SampleRate == c.toRate
}

// Convert downmixes and resamples one block and returns it as s16le bytes.
func (c *Converter) Convert(samples []int16) ([]byte, error) {
	mono := samples
	if c.from.Channels > 1 {
		mono = Downmix(samples, c.from.Channels)
	}
	if c.from.SampleRate != c.toRate {
		resampled, err := c.resampler.Resample(mono, c.from.SampleRate, c.toRate, 1)
		if err != nil {
			return nil, fmt.Errorf("resample %s: %w", c.from, err)
		}
		mono = resampled
	}
	return SamplesToPCM16(mono), nil
}

// bytesToInt16 将 byte 数组转换为 int16 数组 (Little Endian)
func bytesToInt16(data []byte) []int16 {
	samples := make([]int16, len(data)/2)
	for i := 0; i < len(samples); i++ {
		samples[i] = int16(data[i*2]) | int16(data[i*2+1])<<8
	}
	return samples
}

// int16ToBytes 将 int16 数组转换为 byte 数组 (Little Endian)
func int16ToBytes(samples []int16, data []byte) int {
	n := 0
	for i := 0; i < len(samples) && n+1 < len(data); i++ {
		data[n] = byte(samples[i])
		data[n+1] = byte(samples[i] >> 8)
		n += 2
	}
	return n
}
