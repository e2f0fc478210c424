// Package refaudio prepares a user supplied reference clip for voice cloning:
// decoding, length limiting, silence handling, resampling and resolving the
// transcript the model is conditioned on.
package refaudio

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/book-expert/logger"
	"github.com/book-expert/voiceclone-service/internal/core"
	"github.com/book-expert/voiceclone-service/internal/refcache"
	"github.com/book-expert/voiceclone-service/internal/tts/wavio"
)

// Reference clip limits.
const (
	MaxReferenceSeconds = 12.0
	TailPaddingSeconds  = 0.05
)

var (
	// ErrSilentReference is returned when a clip holds no audible speech.
	ErrSilentReference = errors.New("reference audio is silent")
	// ErrNoTranscriber is returned when a transcript is needed but no
	// transcriber is configured.
	ErrNoTranscriber = errors.New("no transcriber configured for reference audio")
)

// Log messages.
const (
	logClipped         = "Reference clipped from %.2fs to %.2fs"
	logCacheHit        = "Reference transcript cache hit for %s"
	logTranscribed     = "Reference transcribed (%d chars)"
	logCacheReadFailed = "Reference transcript cache read failed: %v"
	logCacheSetFailed  = "Reference transcript cache write failed: %v"
)

// Preprocessor implements core.Preprocessor.
type Preprocessor struct {
	transcriber core.Transcriber
	cache       refcache.Cache
	targetRate  int
	log         *logger.Logger
}

// New creates a Preprocessor producing clips at targetRate, normally the
// vocoder's native rate. cache may be nil.
func New(transcriber core.Transcriber, cache refcache.Cache, targetRate int, log *logger.Logger) *Preprocessor {
	return &Preprocessor{
		transcriber: transcriber,
		cache:       cache,
		targetRate:  targetRate,
		log:         log,
	}
}

// Prepare decodes raw, normalizes it and resolves its transcript. An empty
// transcript triggers automatic transcription.
func (p *Preprocessor) Prepare(ctx context.Context, raw []byte, transcript string) (*core.ReferenceAudio, error) {
	samples, rate, err := wavio.Decode(raw)
	if err != nil {
		return nil, fmt.Errorf("failed to decode reference audio: %w", err)
	}

	keep := clipLength(samples, rate, MaxReferenceSeconds)
	if keep < len(samples) {
		p.log.Info(logClipped, wavio.Duration(samples, rate), float64(keep)/float64(rate))
		samples = samples[:keep]
	}

	samples = trimSilence(samples, rate)
	if len(samples) == 0 {
		return nil, ErrSilentReference
	}

	samples = padSilence(samples, rate, TailPaddingSeconds)
	samples = resample(samples, rate, p.targetRate)

	text := strings.TrimSpace(transcript)
	if text == "" {
		text, err = p.resolveTranscript(ctx, raw, samples)
		if err != nil {
			return nil, err
		}
	}

	return &core.ReferenceAudio{
		Samples:    samples,
		SampleRate: p.targetRate,
		Transcript: Punctuate(text),
	}, nil
}

func (p *Preprocessor) resolveTranscript(ctx context.Context, raw []byte, prepared []float32) (string, error) {
	key := refcache.Key(raw)

	if p.cache != nil {
		cached, ok, err := p.cache.Get(ctx, key)
		if err != nil {
			p.log.Warn(logCacheReadFailed, err)
		} else if ok {
			p.log.Info(logCacheHit, key)

			return cached, nil
		}
	}

	if p.transcriber == nil {
		return "", ErrNoTranscriber
	}

	clip, err := wavio.Encode(prepared, p.targetRate)
	if err != nil {
		return "", err
	}

	text, err := p.transcriber.Transcribe(ctx, clip)
	if err != nil {
		return "", fmt.Errorf("failed to transcribe reference audio: %w", err)
	}

	p.log.Info(logTranscribed, len(text))

	if p.cache != nil {
		setErr := p.cache.Set(ctx, key, text)
		if setErr != nil {
			p.log.Warn(logCacheSetFailed, setErr)
		}
	}

	return text, nil
}

// Punctuate ensures the transcript ends with sentence punctuation followed by
// a space, so that the generated speech starts after a natural pause.
func Punctuate(text string) string {
	if strings.HasSuffix(text, ". ") || strings.HasSuffix(text, "。") {
		return text
	}

	if strings.HasSuffix(text, ".") {
		return text + " "
	}

	return text + ". "
}
