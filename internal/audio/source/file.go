package source

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	goaudio "github.com/go-audio/audio"
	"github.com/go-audio/wav"

	"github.com/liuscraft/orion-stt/internal/audio"
	"github.com/liuscraft/orion-stt/internal/logging"
)

// FileConfig configures a FileSource.
type FileConfig struct {
	Path       string
	SampleRate int
	BlockMs    int
	// Realtime paces reads to the audio duration, like a live device.
	Realtime bool
}

// FileSource streams a PCM WAV file in fixed-duration blocks.
type FileSource struct {
	file      *os.File
	decoder   *wav.Decoder
	native    audio.Format
	bitDepth  int
	converter *audio.Converter
	buf       *goaudio.IntBuffer
	blockDur  time.Duration
	realtime  bool
	started   time.Time
	blocks    int
}

func NewFileSource(cfg FileConfig) (*FileSource, error) {
	if cfg.SampleRate <= 0 || cfg.BlockMs <= 0 {
		return nil, fmt.Errorf("invalid file source config: rate=%d block=%dms", cfg.SampleRate, cfg.BlockMs)
	}
	f, err := os.Open(cfg.Path)
	if err != nil {
		return nil, fmt.Errorf("open audio file: %w", err)
	}

	dec := wav.NewDecoder(f)
	if !dec.IsValidFile() {
		f.Close()
		return nil, fmt.Errorf("%s: not a valid WAV file", cfg.Path)
	}
	if dec.WavAudioFormat != 1 {
		f.Close()
		return nil, fmt.Errorf("%s: unsupported WAV encoding %d, want PCM", cfg.Path, dec.WavAudioFormat)
	}
	bitDepth := int(dec.BitDepth)
	switch bitDepth {
	case 8, 16, 24, 32:
	default:
		f.Close()
		return nil, fmt.Errorf("%s: unsupported bit depth %d", cfg.Path, bitDepth)
	}

	native := audio.Format{SampleRate: int(dec.SampleRate), Channels: int(dec.NumChans)}
	converter, err := audio.NewConverter(native, cfg.SampleRate, nil)
	if err != nil {
		f.Close()
		return nil, err
	}

	frames := native.SampleRate * cfg.BlockMs / 1000
	buf := &goaudio.IntBuffer{
		Data:           make([]int, frames*native.Channels),
		Format:         &goaudio.Format{NumChannels: native.Channels, SampleRate: native.SampleRate},
		SourceBitDepth: bitDepth,
	}

	logging.Infof("FileSource: %s format=%s depth=%d duration=%s", cfg.Path, native, bitDepth, durationOf(dec))

	return &FileSource{
		file:      f,
		decoder:   dec,
		native:    native,
		bitDepth:  bitDepth,
		converter: converter,
		buf:       buf,
		blockDur:  time.Duration(cfg.BlockMs) * time.Millisecond,
		realtime:  cfg.Realtime,
	}, nil
}

func durationOf(dec *wav.Decoder) time.Duration {
	d, err := dec.Duration()
	if err != nil {
		return 0
	}
	return d.Round(time.Millisecond)
}

// Read returns the next block, or io.EOF once the file is exhausted.
func (s *FileSource) Read(ctx context.Context) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if s.realtime {
		if err := s.pace(ctx); err != nil {
			return nil, err
		}
	}

	n, err := s.decoder.PCMBuffer(s.buf)
	if errors.Is(err, io.EOF) {
		return nil, io.EOF
	}
	if err != nil {
		return nil, fmt.Errorf("decode WAV: %w", err)
	}
	// drop a trailing partial frame
	n -= n % s.native.Channels
	if n == 0 {
		return nil, io.EOF
	}
	s.blocks++

	samples := make([]int16, n)
	for i, v := range s.buf.Data[:n] {
		samples[i] = toInt16(v, s.bitDepth)
	}
	out, err := s.converter.Convert(samples)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", audio.ErrMalformedBlock, err)
	}
	return out, nil
}

// pace sleeps until the wall clock catches up with the audio already sent.
func (s *FileSource) pace(ctx context.Context) error {
	if s.started.IsZero() {
		s.started = time.Now()
		return nil
	}
	wait := time.Until(s.started.Add(time.Duration(s.blocks) * s.blockDur))
	if wait <= 0 {
		return nil
	}
	timer := time.NewTimer(wait)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func (s *FileSource) Close() error {
	return s.file.Close()
}

// toInt16 scales a decoded sample of the given bit depth to 16 bits.
func toInt16(v, bitDepth int) int16 {
	switch bitDepth {
	case 8:
		// 8-bit WAV is unsigned
		return int16((v - 128) << 8)
	case 24:
		return int16(v >> 8)
	case 32:
		return int16(v >> 16)
	default:
		return int16(v)
	}
}
