// Package whisper transcribes reference clips through an OpenAI-compatible
// /audio/transcriptions endpoint (OpenAI, whisper.cpp server, faster-whisper
// server and similar).
package whisper

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/sashabaranov/go-openai"
)

// Error messages.
const (
	errFmtTranscriptionFailed = "transcription request failed: %w"
	referenceFileName         = "reference.wav"
)

var (
	// ErrEmptyAudio is returned when there is nothing to transcribe.
	ErrEmptyAudio = errors.New("audio to transcribe is empty")
	// ErrEmptyTranscript is returned when the server recognized no speech.
	ErrEmptyTranscript = errors.New("transcription returned no text")
)

// Config selects the transcription endpoint.
type Config struct {
	BaseURL  string
	APIKey   string
	Model    string
	Language string
}

// Client implements core.Transcriber.
type Client struct {
	client   *openai.Client
	model    string
	language string
}

// NewClient creates a transcription client. Local servers usually ignore the
// API key, so an empty key is allowed.
func NewClient(cfg Config) *Client {
	clientConfig := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientConfig.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	}

	model := cfg.Model
	if model == "" {
		model = openai.Whisper1
	}

	return &Client{
		client:   openai.NewClientWithConfig(clientConfig),
		model:    model,
		language: cfg.Language,
	}
}

// Transcribe returns the recognized text of a WAV clip.
func (c *Client) Transcribe(ctx context.Context, wav []byte) (string, error) {
	if len(wav) == 0 {
		return "", ErrEmptyAudio
	}

	resp, err := c.client.CreateTranscription(ctx, openai.AudioRequest{
		Model:    c.model,
		FilePath: referenceFileName,
		Reader:   bytes.NewReader(wav),
		Language: c.language,
	})
	if err != nil {
		return "", fmt.Errorf(errFmtTranscriptionFailed, err)
	}

	text := strings.TrimSpace(resp.Text)
	if text == "" {
		return "", ErrEmptyTranscript
	}

	return text, nil
}
