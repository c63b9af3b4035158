package audio

import (
	"fmt"
	"math"
)

// LinearResampler 线性插值重采样器
// 适合语音识别前的实时降采样，例如 48kHz 设备 -> 16kHz 流
type LinearResampler struct{}

func NewLinearResampler() *LinearResampler {
	return &LinearResampler{}
}

// Resample 使用线性插值进行重采样
//
//	position = outputIndex * inputRate / outputRate
//	output = input[i] * (1 - frac) + input[i+1] * frac
func (r *LinearResampler) Resample(input []int16, inputRate, outputRate, channels int) ([]int16, error) {
	if inputRate <= 0 || outputRate <= 0 {
		return nil, fmt.Errorf("invalid sample rate: input=%d, output=%d", inputRate, outputRate)
	}
	if channels <= 0 {
		return nil, fmt.Errorf("invalid channels: %d", channels)
	}

	inputFrames := len(input) / channels
	if inputFrames == 0 {
		return []int16{}, nil
	}
	if inputRate == outputRate {
		out := make([]int16, inputFrames*channels)
		copy(out, input)
		return out, nil
	}

	ratio := float64(inputRate) / float64(outputRate)
	outputFrames := int(math.Ceil(float64(inputFrames) / ratio))
	output := make([]int16, outputFrames*channels)

	last := inputFrames - 1
	for outFrame := 0; outFrame < outputFrames; outFrame++ {
		position := float64(outFrame) * ratio
		i := int(position)
		frac := position - float64(i)
		if i >= last {
			i, frac = last, 0
		}
		next := i + 1
		if next > last {
			next = last
		}

		for ch := 0; ch < channels; ch++ {
			a := float64(input[i*channels+ch])
			b := float64(input[next*channels+ch])
			v := math.Round(a*(1-frac) + b*frac)
			// 裁剪到 int16 范围
			if v > math.MaxInt16 {
				v = math.MaxInt16
			} else if v < math.MinInt16 {
				v = math.MinInt16
			}
			output[outFrame*channels+ch] = int16(v)
		}
	}
	return output, nil
}
