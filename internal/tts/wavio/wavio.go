// Package wavio converts between WAV bytes and mono float32 samples.
package wavio

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"math"

	"github.com/go-audio/audio"
	"github.com/go-audio/wav"
)

// ErrUnsupportedFormat is returned for input that is not a PCM WAV file.
var ErrUnsupportedFormat = errors.New("unsupported audio format")

// ErrEmptyAudio is returned when a WAV file holds no samples.
var ErrEmptyAudio = errors.New("audio contains no samples")

const (
	pcmFormat      = 1
	outputBitDepth = 16
	maxInt16       = 32767
	unsigned8Mid   = 128
)

// Decode parses a PCM WAV file, downmixes it to mono and scales samples to
// the range [-1, 1]. It returns the samples and the file's sample rate.
func Decode(data []byte) ([]float32, int, error) {
	decoder := wav.NewDecoder(bytes.NewReader(data))
	if !decoder.IsValidFile() {
		return nil, 0, ErrUnsupportedFormat
	}

	if decoder.WavAudioFormat != pcmFormat {
		return nil, 0, fmt.Errorf("%w: wav format tag %d", ErrUnsupportedFormat, decoder.WavAudioFormat)
	}

	buf, err := decoder.FullPCMBuffer()
	if err != nil {
		return nil, 0, fmt.Errorf("%w: %w", ErrUnsupportedFormat, err)
	}

	channels := int(decoder.NumChans)
	if channels < 1 {
		return nil, 0, fmt.Errorf("%w: no channels", ErrUnsupportedFormat)
	}

	frames := len(buf.Data) / channels
	if frames == 0 {
		return nil, 0, ErrEmptyAudio
	}

	bitDepth := int(decoder.BitDepth)
	scale := float64(int64(1) << (bitDepth - 1))
	mono := make([]float32, frames)

	for frame := range frames {
		var sum float64

		for ch := range channels {
			value := buf.Data[frame*channels+ch]
			if bitDepth == 8 {
				value -= unsigned8Mid
			}

			sum += float64(value) / scale
		}

		mono[frame] = float32(sum / float64(channels))
	}

	return mono, int(decoder.SampleRate), nil
}

// Encode renders mono float32 samples as a 16-bit PCM WAV file.
func Encode(samples []float32, sampleRate int) ([]byte, error) {
	intData := make([]int, len(samples))
	for i, sample := range samples {
		clamped := math.Max(-1.0, math.Min(1.0, float64(sample)))
		intData[i] = int(clamped * maxInt16)
	}

	out := &seekBuffer{}
	encoder := wav.NewEncoder(out, sampleRate, outputBitDepth, 1, pcmFormat)
	buf := &audio.IntBuffer{
		Data:           intData,
		Format:         &audio.Format{SampleRate: sampleRate, NumChannels: 1},
		SourceBitDepth: outputBitDepth,
	}

	err := encoder.Write(buf)
	if err != nil {
		return nil, fmt.Errorf("failed to encode wav: %w", err)
	}

	closeErr := encoder.Close()
	if closeErr != nil {
		return nil, fmt.Errorf("failed to finalize wav: %w", closeErr)
	}

	return out.Bytes(), nil
}

// Duration returns the length of the samples in seconds.
func Duration(samples []float32, sampleRate int) float64 {
	if sampleRate <= 0 {
		return 0
	}

	return float64(len(samples)) / float64(sampleRate)
}

// seekBuffer is an in-memory io.WriteSeeker; the WAV encoder seeks back to
// patch chunk sizes when it closes.
type seekBuffer struct {
	data []byte
	pos  int
}

var errNegativePosition = errors.New("seek to negative position")

func (s *seekBuffer) Write(p []byte) (int, error) {
	end := s.pos + len(p)
	if end > len(s.data) {
		s.data = append(s.data, make([]byte, end-len(s.data))...)
	}

	copy(s.data[s.pos:end], p)
	s.pos = end

	return len(p), nil
}

func (s *seekBuffer) Seek(offset int64, whence int) (int64, error) {
	var base int

	switch whence {
	case io.SeekStart:
		base = 0
	case io.SeekCurrent:
		base = s.pos
	case io.SeekEnd:
		base = len(s.data)
	default:
		return 0, fmt.Errorf("invalid whence %d", whence)
	}

	next := base + int(offset)
	if next < 0 {
		return 0, errNegativePosition
	}

	s.pos = next

	return int64(next), nil
}

func (s *seekBuffer) Bytes() []byte {
	return s.data
}
