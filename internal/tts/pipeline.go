package tts

import (
	"context"
	"errors"
	"fmt"
	"math"
	"unicode/utf8"

	"github.com/book-expert/logger"
	"github.com/book-expert/voiceclone-service/internal/core"
	"github.com/book-expert/voiceclone-service/internal/tts/text"
	"github.com/book-expert/voiceclone-service/internal/tts/textchunk"
)

// TargetRMS is the loudness quiet references are raised to before generation.
const TargetRMS = 0.1

var (
	// ErrNoChunks is returned when the target text yields nothing to render.
	ErrNoChunks = errors.New("target text produced no chunks")
	// ErrMelMismatch is returned when chunk spectrograms differ in mel bins.
	ErrMelMismatch = errors.New("spectrogram mel bins differ between chunks")
	// ErrEmptyReference is returned when the reference clip has no samples.
	ErrEmptyReference = errors.New("reference audio has no samples")
)

// Log messages.
const (
	logChunkPlan     = "Synthesizing %d chunk(s) with a budget of %d bytes"
	logChunkDone     = "Chunk %d/%d rendered: %d samples, %d frames"
	logReferenceGain = "Reference RMS %.4f raised to %.2f"
)

// SynthesisPipeline splits the target text, renders each chunk through the
// generator and blends the results. It implements core.Pipeline.
type SynthesisPipeline struct {
	generator  core.Generator
	normalizer *text.Normalizer
	log        *logger.Logger
}

// NewPipeline creates a pipeline backed by generator.
func NewPipeline(generator core.Generator, log *logger.Logger) *SynthesisPipeline {
	return &SynthesisPipeline{
		generator:  generator,
		normalizer: text.NewNormalizer(),
		log:        log,
	}
}

// Run synthesizes the whole target text in the reference voice.
func (p *SynthesisPipeline) Run(ctx context.Context, input core.PipelineInput) (*core.PipelineOutput, error) {
	ref := input.Reference
	if len(ref.Samples) == 0 || ref.SampleRate <= 0 {
		return nil, ErrEmptyReference
	}

	samples := ref.Samples

	rms := RMS(samples)
	if rms > 0 && rms < TargetRMS {
		samples = scale(samples, TargetRMS/rms)
		p.log.Info(logReferenceGain, rms, TargetRMS)
	}

	refSeconds := float64(len(samples)) / float64(ref.SampleRate)
	budget := textchunk.Budget(ref.Transcript, refSeconds)

	chunks := textchunk.Split(p.normalizer.Normalize(input.TargetText), budget)
	if len(chunks) == 0 {
		return nil, ErrNoChunks
	}

	p.log.Info(logChunkPlan, len(chunks), budget)

	refText := WithTrailingSpace(ref.Transcript)
	waves := make([][]float32, 0, len(chunks))
	specs := make([]core.Spectrogram, 0, len(chunks))
	sampleRate := input.Vocoder.SampleRate

	for i, chunk := range chunks {
		out, err := p.generator.Generate(ctx, core.GenerateJob{
			Reference:      core.ReferenceAudio{Samples: samples, SampleRate: ref.SampleRate, Transcript: refText},
			ReferenceText:  refText,
			TargetText:     chunk,
			DurationFrames: EstimateDuration(len(samples), input.Vocoder.HopLength, refText, chunk, input.Speed),
			NFESteps:       input.NFESteps,
			Speed:          input.Speed,
			Model:          input.Model,
			Vocoder:        input.Vocoder,
		})
		if err != nil {
			return nil, fmt.Errorf("chunk %d/%d: %w", i+1, len(chunks), err)
		}

		if out.SampleRate != sampleRate {
			return nil, fmt.Errorf("chunk %d/%d: %w: got %d, vocoder %d",
				i+1, len(chunks), ErrSampleRateMismatch, out.SampleRate, sampleRate)
		}

		wave := out.Waveform
		if rms > 0 && rms < TargetRMS {
			wave = scale(wave, rms/TargetRMS)
		}

		waves = append(waves, wave)
		specs = append(specs, out.Spectrogram)

		p.log.Info(logChunkDone, i+1, len(chunks), len(wave), out.Spectrogram.Frames)
	}

	spec, err := ConcatSpectrograms(specs)
	if err != nil {
		return nil, err
	}

	return &core.PipelineOutput{
		Waveform:    CrossFade(waves, sampleRate, input.CrossFadeDuration),
		SampleRate:  sampleRate,
		Spectrogram: spec,
	}, nil
}

// RMS returns the root mean square of samples.
func RMS(samples []float32) float64 {
	if len(samples) == 0 {
		return 0
	}

	var sum float64
	for _, s := range samples {
		sum += float64(s) * float64(s)
	}

	return math.Sqrt(sum / float64(len(samples)))
}

func scale(samples []float32, gain float64) []float32 {
	out := make([]float32, len(samples))
	for i, s := range samples {
		out[i] = float32(float64(s) * gain)
	}

	return out
}

// WithTrailingSpace appends a space to text whose last rune is a single byte,
// separating the reference transcript from the generated text.
func WithTrailingSpace(text string) string {
	last, size := utf8.DecodeLastRuneInString(text)
	if size == 1 && last != utf8.RuneError {
		return text + " "
	}

	return text
}

// EstimateDuration returns the total mel frame count (reference plus
// generated) for a chunk: the generated part lasts as long as the reference
// would take to speak the same number of bytes, divided by speed.
func EstimateDuration(refSamples, hopLength int, refText, genText string, speed float64) int {
	if hopLength <= 0 {
		return 0
	}

	refFrames := refSamples / hopLength
	if len(refText) == 0 || !(speed > 0) || math.IsInf(speed, 1) {
		return refFrames
	}

	return refFrames + int(float64(refFrames)/float64(len(refText))*float64(len(genText))/speed)
}

// CrossFade joins segments, blending each boundary linearly over
// seconds*sampleRate samples or the shorter neighbor, whichever is smaller.
// A non-positive duration concatenates the segments.
func CrossFade(segments [][]float32, sampleRate int, seconds float64) []float32 {
	if len(segments) == 0 {
		return nil
	}

	out := append([]float32(nil), segments[0]...)
	fade := int(seconds * float64(sampleRate))

	for _, next := range segments[1:] {
		n := min(fade, len(out), len(next))
		if n <= 0 {
			out = append(out, next...)

			continue
		}

		head := len(out) - n
		for i := range n {
			fadeIn := rampValue(i, n)
			out[head+i] = out[head+i]*(1-fadeIn) + next[i]*fadeIn
		}

		out = append(out, next[n:]...)
	}

	return out
}

// rampValue returns the i-th of n evenly spaced values from 0 to 1 inclusive.
func rampValue(i, n int) float32 {
	if n == 1 {
		return 0
	}

	return float32(i) / float32(n-1)
}

// ConcatSpectrograms joins chunk spectrograms along the time axis.
func ConcatSpectrograms(specs []core.Spectrogram) (core.Spectrogram, error) {
	if len(specs) == 0 {
		return core.Spectrogram{}, nil
	}

	mels := specs[0].Mels
	frames := 0

	for i, spec := range specs {
		if spec.Mels != mels {
			return core.Spectrogram{}, fmt.Errorf("%w: chunk 1 has %d, chunk %d has %d", ErrMelMismatch, mels, i+1, spec.Mels)
		}

		if len(spec.Data) != spec.Mels*spec.Frames {
			return core.Spectrogram{}, fmt.Errorf("chunk %d: spectrogram data length %d does not match %dx%d",
				i+1, len(spec.Data), spec.Mels, spec.Frames)
		}

		frames += spec.Frames
	}

	data := make([]float32, 0, mels*frames)

	for mel := range mels {
		for _, spec := range specs {
			data = append(data, spec.Data[mel*spec.Frames:(mel+1)*spec.Frames]...)
		}
	}

	return core.Spectrogram{Mels: mels, Frames: frames, Data: data}, nil
}
