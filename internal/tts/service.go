package tts

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/book-expert/logger"
	"github.com/book-expert/voiceclone-service/internal/core"
)

// Log formats.
const (
	logFmtRejected    = "Rejected synthesis request: %v"
	logFmtFailed      = "Synthesis failed: %v"
	logFmtSynthesized = "Synthesized %.2fs of audio at %d Hz in %s, spectrogram %s"
	logFmtReference   = "Reference %q prepared: %.2fs, transcript %q"
)

// ErrMissingHandle is returned by NewService when a required dependency is nil.
var ErrMissingHandle = errors.New("service dependency is missing")

// Dependencies are the singletons the handler is built from.
type Dependencies struct {
	Preprocessor core.Preprocessor
	Pipeline     core.Pipeline
	Spectrograms core.SpectrogramWriter
	Model        *core.ModelHandle
	Vocoder      *core.VocoderHandle
	Log          *logger.Logger
}

// Service is the inference request handler. It holds read-only handles and
// keeps no per-request state, so concurrent calls are independent.
type Service struct {
	preprocessor core.Preprocessor
	pipeline     core.Pipeline
	spectrograms core.SpectrogramWriter
	model        *core.ModelHandle
	vocoder      *core.VocoderHandle
	log          *logger.Logger
}

// NewService builds the handler from its dependencies.
func NewService(deps Dependencies) (*Service, error) {
	switch {
	case deps.Preprocessor == nil:
		return nil, fmt.Errorf("%w: preprocessor", ErrMissingHandle)
	case deps.Pipeline == nil:
		return nil, fmt.Errorf("%w: pipeline", ErrMissingHandle)
	case deps.Spectrograms == nil:
		return nil, fmt.Errorf("%w: spectrogram writer", ErrMissingHandle)
	case deps.Model == nil:
		return nil, fmt.Errorf("%w: model handle", ErrMissingHandle)
	case deps.Vocoder == nil:
		return nil, fmt.Errorf("%w: vocoder handle", ErrMissingHandle)
	case deps.Log == nil:
		return nil, fmt.Errorf("%w: logger", ErrMissingHandle)
	}

	return &Service{
		preprocessor: deps.Preprocessor,
		pipeline:     deps.Pipeline,
		spectrograms: deps.Spectrograms,
		model:        deps.Model,
		vocoder:      deps.Vocoder,
		log:          deps.Log,
	}, nil
}

// Validate checks a request in order (reference audio, target text, speed)
// and returns it with defaults applied. The first failing check wins.
func Validate(req core.Request) (core.Request, error) {
	if req.ReferenceAudio == nil {
		return req, core.NewInvalidInput(core.MsgMissingReferenceAudio)
	}

	if strings.TrimSpace(req.TargetText) == "" {
		return req, core.NewInvalidInput(core.MsgMissingTargetText)
	}

	if req.Speed == 0 {
		req.Speed = core.DefaultSpeed
	}

	// Written so that NaN fails the range check.
	if !(req.Speed >= core.MinSpeed && req.Speed <= core.MaxSpeed) {
		return req, core.NewInvalidInput(
			fmt.Sprintf("%s: %.2f not in [%.1f, %.1f]", core.MsgSpeedOutOfRange, req.Speed, core.MinSpeed, core.MaxSpeed))
	}

	return req, nil
}

// Synthesize clones the reference voice speaking the target text. On success
// the caller owns the file at Result.SpectrogramPath. Every error is a
// *core.RequestError; invalid requests never reach the model.
func (s *Service) Synthesize(ctx context.Context, req core.Request) (*core.Result, error) {
	req, err := Validate(req)
	if err != nil {
		s.log.Warn(logFmtRejected, err)

		return nil, err
	}

	started := time.Now()

	ref, err := s.preprocessor.Prepare(ctx, req.ReferenceAudio, req.ReferenceTranscript)
	if err != nil {
		return nil, s.fail(fmt.Errorf("reference preprocessing: %w", err))
	}

	s.log.Info(logFmtReference, req.ReferenceName,
		float64(len(ref.Samples))/float64(ref.SampleRate), ref.Transcript)

	out, err := s.pipeline.Run(ctx, core.PipelineInput{
		Reference:         *ref,
		TargetText:        req.TargetText,
		Model:             s.model,
		Vocoder:           s.vocoder,
		CrossFadeDuration: core.CrossFadeSeconds,
		NFESteps:          core.NFESteps,
		Speed:             req.Speed,
	})
	if err != nil {
		return nil, s.fail(fmt.Errorf("synthesis: %w", err))
	}

	if len(out.Waveform) == 0 || out.SampleRate <= 0 {
		return nil, s.fail(ErrEmptyWaveform)
	}

	path, err := s.spectrograms.Write(out.Spectrogram)
	if err != nil {
		return nil, s.fail(fmt.Errorf("spectrogram: %w", err))
	}

	s.log.Info(logFmtSynthesized,
		float64(len(out.Waveform))/float64(out.SampleRate), out.SampleRate,
		time.Since(started).Round(time.Millisecond), path)

	return &core.Result{
		Waveform:        out.Waveform,
		SampleRate:      out.SampleRate,
		SpectrogramPath: path,
	}, nil
}

func (s *Service) fail(cause error) error {
	s.log.Error(logFmtFailed, cause)

	return core.NewInferenceFailure(cause)
}
