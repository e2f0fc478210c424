// Package core defines the shared contracts of the voice cloning service: the
// external capabilities it depends on and the request/result types that flow
// between the surfaces and the inference handler.
package core

import "context"

// ObjectStore defines the interface for interacting with a key-value blob store.
type ObjectStore interface {
	Download(ctx context.Context, key string) ([]byte, error)
	Upload(ctx context.Context, key string, data []byte) error
	Delete(ctx context.Context, key string) error
}

// Transcriber turns a reference clip into text. It is used when the caller
// leaves the reference transcript empty.
type Transcriber interface {
	Transcribe(ctx context.Context, wav []byte) (string, error)
}

// Preprocessor normalizes a raw reference clip and resolves its transcript.
type Preprocessor interface {
	Prepare(ctx context.Context, raw []byte, transcript string) (*ReferenceAudio, error)
}

// Generator is the opaque model + vocoder capability. It renders a single text
// chunk in the reference voice.
type Generator interface {
	Generate(ctx context.Context, job GenerateJob) (*GenerateOutput, error)
	HealthCheck(ctx context.Context) error
}

// Pipeline runs a full synthesis for one request: chunking, per-chunk
// generation and blending of the generated segments.
type Pipeline interface {
	Run(ctx context.Context, input PipelineInput) (*PipelineOutput, error)
}

// SpectrogramWriter persists a spectrogram image and returns its path.
type SpectrogramWriter interface {
	Write(spec Spectrogram) (string, error)
}
