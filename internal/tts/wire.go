package tts

import (
	"errors"
	"fmt"

	"github.com/book-expert/voiceclone-service/internal/core"
	"github.com/book-expert/voiceclone-service/internal/tts/wavio"
)

var (
	// ErrEmptyWaveform is returned when a backend produced no audio.
	ErrEmptyWaveform = errors.New("generator returned no audio")
	// ErrSampleRateMismatch is returned when the generated audio does not use
	// the sample rate the backend reported.
	ErrSampleRateMismatch = errors.New("generated audio sample rate mismatch")
)

// ChunkRequest is the JSON document both generator backends consume. Byte
// slices travel base64 encoded.
type ChunkRequest struct {
	ReferenceWAV   []byte              `json:"reference_wav"`
	ReferenceText  string              `json:"reference_text"`
	TargetText     string              `json:"target_text"`
	DurationFrames int                 `json:"duration"`
	NFEStep        int                 `json:"nfe_step"`
	Speed          float64             `json:"speed"`
	Model          *core.ModelHandle   `json:"model"`
	Vocoder        *core.VocoderHandle `json:"vocoder"`
}

// ChunkResponse is the JSON document both generator backends produce.
type ChunkResponse struct {
	SampleRate  int              `json:"sample_rate"`
	WaveformWAV []byte           `json:"waveform_wav"`
	Spectrogram core.Spectrogram `json:"spectrogram"`
}

// GeneratorErrorResponse is the structured error body of the generator service.
type GeneratorErrorResponse struct {
	Detail    string `json:"detail"`
	ErrorCode string `json:"error_code,omitempty"`
}

func newChunkRequest(job core.GenerateJob) (*ChunkRequest, error) {
	reference, err := wavio.Encode(job.Reference.Samples, job.Reference.SampleRate)
	if err != nil {
		return nil, fmt.Errorf("failed to encode reference audio: %w", err)
	}

	return &ChunkRequest{
		ReferenceWAV:   reference,
		ReferenceText:  job.ReferenceText,
		TargetText:     job.TargetText,
		DurationFrames: job.DurationFrames,
		NFEStep:        job.NFESteps,
		Speed:          job.Speed,
		Model:          job.Model,
		Vocoder:        job.Vocoder,
	}, nil
}

func (r *ChunkResponse) toOutput() (*core.GenerateOutput, error) {
	samples, rate, err := wavio.Decode(r.WaveformWAV)
	if err != nil {
		return nil, fmt.Errorf("failed to decode generated audio: %w", err)
	}

	if len(samples) == 0 {
		return nil, ErrEmptyWaveform
	}

	if r.SampleRate != 0 && r.SampleRate != rate {
		return nil, fmt.Errorf("%w: reported %d, wav header %d", ErrSampleRateMismatch, r.SampleRate, rate)
	}

	return &core.GenerateOutput{
		Waveform:    samples,
		SampleRate:  rate,
		Spectrogram: r.Spectrogram,
	}, nil
}
