package model

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/book-expert/logger"
	"github.com/book-expert/voiceclone-service/internal/config"
	"github.com/book-expert/voiceclone-service/internal/core"
	"github.com/book-expert/voiceclone-service/internal/tts/ttsutils"
)

// Vocoder names understood by the generator backends.
const (
	VocoderVocos   = "vocos"
	VocoderBigVGAN = "bigvgan"
)

// Native vocoder parameters shared by both supported vocoders.
const (
	vocoderSampleRate  = 24000
	vocoderMelChannels = 100
	vocoderHopLength   = 256
)

const healthCheckTimeout = 10 * time.Second

var (
	// ErrUnknownVocoder is returned for a vocoder name without known parameters.
	ErrUnknownVocoder = errors.New("unknown vocoder")
	// ErrEmptyCheckpoint is returned when the fetched checkpoint has no content.
	ErrEmptyCheckpoint = errors.New("model checkpoint is empty")
)

// Log messages.
const (
	logLoadingModel   = "Loading model %s (dim=%d depth=%d heads=%d)"
	logCheckpoint     = "Checkpoint ready at %s (%s)"
	logVocab          = "Vocabulary ready at %s (%d tokens)"
	logVocoder        = "Vocoder %s ready (%d Hz, %d mels, hop %d)"
	logGeneratorReady = "Generator backend is healthy"
)

// Fetcher resolves an artifact URI to a local path.
type Fetcher interface {
	Fetch(ctx context.Context, uri string) (string, error)
}

// Handles are the process-wide singletons produced at startup.
type Handles struct {
	Model   *core.ModelHandle
	Vocoder *core.VocoderHandle
	Vocab   *Vocab
}

// NewVocoder returns the handle of a named vocoder. localPath is the fetched
// weights location and may be empty when the backend ships its own weights.
func NewVocoder(name, localPath string) (*core.VocoderHandle, error) {
	switch name {
	case VocoderVocos, VocoderBigVGAN:
		return &core.VocoderHandle{
			Name:        name,
			SampleRate:  vocoderSampleRate,
			MelChannels: vocoderMelChannels,
			HopLength:   vocoderHopLength,
			LocalPath:   localPath,
		}, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownVocoder, name)
	}
}

// Load fetches the checkpoint and vocabulary, builds both handles and makes
// sure the generator backend answers. Every error wraps core.ErrStartup.
func Load(
	ctx context.Context,
	cfg config.ModelConfig,
	fetcher Fetcher,
	generator core.Generator,
	log *logger.Logger,
) (*Handles, error) {
	arch := DefaultArchitecture()

	err := ValidateArchitecture(arch)
	if err != nil {
		return nil, startupError(err)
	}

	log.Info(logLoadingModel, cfg.Name, arch.Dim, arch.Depth, arch.Heads)

	vocoderPath := ""
	if cfg.VocoderURI != "" {
		vocoderPath, err = fetcher.Fetch(ctx, cfg.VocoderURI)
		if err != nil {
			return nil, startupError(fmt.Errorf("vocoder: %w", err))
		}
	}

	vocoder, err := NewVocoder(cfg.VocoderName, vocoderPath)
	if err != nil {
		return nil, startupError(err)
	}

	log.Info(logVocoder, vocoder.Name, vocoder.SampleRate, vocoder.MelChannels, vocoder.HopLength)

	checkpointPath, err := fetcher.Fetch(ctx, cfg.CheckpointURI)
	if err != nil {
		return nil, startupError(fmt.Errorf("checkpoint: %w", err))
	}

	size := ttsutils.FileSize(checkpointPath)
	if size == 0 {
		return nil, startupError(fmt.Errorf("%w: %s", ErrEmptyCheckpoint, checkpointPath))
	}

	log.Info(logCheckpoint, checkpointPath, ttsutils.FormatFileSize(size))

	vocabPath, err := fetcher.Fetch(ctx, cfg.VocabURI)
	if err != nil {
		return nil, startupError(fmt.Errorf("vocabulary: %w", err))
	}

	vocab, err := LoadVocab(vocabPath)
	if err != nil {
		return nil, startupError(err)
	}

	log.Info(logVocab, vocabPath, vocab.Size())

	healthCtx, cancel := context.WithTimeout(ctx, healthCheckTimeout)
	defer cancel()

	err = generator.HealthCheck(healthCtx)
	if err != nil {
		return nil, startupError(fmt.Errorf("generator: %w", err))
	}

	log.Info(logGeneratorReady)

	return &Handles{
		Model: &core.ModelHandle{
			Name:           cfg.Name,
			Architecture:   arch,
			CheckpointPath: checkpointPath,
			VocabPath:      vocabPath,
			VocabSize:      vocab.Size(),
		},
		Vocoder: vocoder,
		Vocab:   vocab,
	}, nil
}

func startupError(err error) error {
	return fmt.Errorf("%w: %w", core.ErrStartup, err)
}
