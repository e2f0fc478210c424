// Package worker provides a NATS request/reply surface for synthesis jobs.
package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/book-expert/events"
	"github.com/book-expert/logger"
	"github.com/book-expert/voiceclone-service/internal/core"
	"github.com/book-expert/voiceclone-service/internal/tts/wavio"
	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
)

const (
	defaultJobTimeout = 5 * time.Minute
	audioKeySuffix    = ".wav"
	spectrogramSuffix = ".png"
)

// ErrMissingReferenceKey indicates that a request named no reference object.
var ErrMissingReferenceKey = errors.New("reference_audio_key cannot be empty")

// Synthesizer is the inference handler the worker delegates to.
type Synthesizer interface {
	Synthesize(ctx context.Context, req core.Request) (*core.Result, error)
}

// SynthesisRequest is the payload published on the synthesize subject.
type SynthesisRequest struct {
	Header            events.EventHeader `json:"header"`
	ReferenceAudioKey string             `json:"reference_audio_key"`
	ReferenceText     string             `json:"reference_text,omitempty"`
	TargetText        string             `json:"target_text"`
	Speed             float64            `json:"speed"`
}

// SynthesisReply is sent back to the requester. Exactly one of the key pair
// or Error is populated.
type SynthesisReply struct {
	Header         events.EventHeader `json:"header"`
	AudioKey       string             `json:"audio_key,omitempty"`
	SpectrogramKey string             `json:"spectrogram_key,omitempty"`
	SampleRate     int                `json:"sample_rate,omitempty"`
	Error          string             `json:"error,omitempty"`
	Kind           core.Kind          `json:"kind,omitempty"`
}

// NatsWorker listens for synthesis requests on a NATS subject.
type NatsWorker struct {
	natsConnection *nats.Conn
	subject        string
	store          core.ObjectStore
	synthesizer    Synthesizer
	jobTimeout     time.Duration
	log            *logger.Logger
}

// NewNatsWorker creates a worker. A non-positive jobTimeout selects the default.
func NewNatsWorker(
	natsConnection *nats.Conn,
	subject string,
	store core.ObjectStore,
	synthesizer Synthesizer,
	jobTimeout time.Duration,
	log *logger.Logger,
) *NatsWorker {
	if jobTimeout <= 0 {
		jobTimeout = defaultJobTimeout
	}

	return &NatsWorker{
		natsConnection: natsConnection,
		subject:        subject,
		store:          store,
		synthesizer:    synthesizer,
		jobTimeout:     jobTimeout,
		log:            log,
	}
}

// Run subscribes and processes messages until ctx is cancelled. Messages on a
// single subscription are delivered one at a time.
func (w *NatsWorker) Run(ctx context.Context) error {
	sub, err := w.natsConnection.Subscribe(w.subject, w.handleMessage)
	if err != nil {
		return fmt.Errorf("failed to subscribe to subject %s: %w", w.subject, err)
	}

	w.log.Info("Listening for synthesis requests on %s", w.subject)

	<-ctx.Done()

	drainErr := sub.Drain()
	if drainErr != nil {
		return fmt.Errorf("failed to drain subscription: %w", drainErr)
	}

	return nil
}

func (w *NatsWorker) handleMessage(msg *nats.Msg) {
	ctx, cancel := context.WithTimeout(context.Background(), w.jobTimeout)
	defer cancel()

	var request SynthesisRequest

	err := json.Unmarshal(msg.Data, &request)
	if err != nil {
		w.log.Error("Failed to unmarshal synthesis request: %v", err)
		w.reply(msg, failure(events.EventHeader{}, core.NewInvalidInput(err.Error())))

		return
	}

	reply, err := w.process(ctx, &request)
	if err != nil {
		w.log.Error("Synthesis job for workflow %s failed: %v", request.Header.WorkflowID, err)
		reply = failure(request.Header, core.AsRequestError(err))
	}

	w.reply(msg, reply)
}

func (w *NatsWorker) process(ctx context.Context, request *SynthesisRequest) (*SynthesisReply, error) {
	if request.ReferenceAudioKey == "" {
		return nil, core.NewInvalidInput(ErrMissingReferenceKey.Error())
	}

	referenceAudio, err := w.store.Download(ctx, request.ReferenceAudioKey)
	if err != nil {
		return nil, fmt.Errorf("failed to download reference audio '%s': %w", request.ReferenceAudioKey, err)
	}

	result, err := w.synthesizer.Synthesize(ctx, core.Request{
		ReferenceAudio:      referenceAudio,
		ReferenceName:       request.ReferenceAudioKey,
		ReferenceTranscript: request.ReferenceText,
		TargetText:          request.TargetText,
		Speed:               request.Speed,
	})
	if err != nil {
		return nil, err
	}

	pngData, err := consumeSpectrogram(result.SpectrogramPath)
	if err != nil {
		return nil, err
	}

	wavData, err := wavio.Encode(result.Waveform, result.SampleRate)
	if err != nil {
		return nil, fmt.Errorf("failed to encode waveform: %w", err)
	}

	audioKey := uuid.NewString() + audioKeySuffix

	err = w.store.Upload(ctx, audioKey, wavData)
	if err != nil {
		return nil, fmt.Errorf("failed to upload audio for key '%s': %w", audioKey, err)
	}

	spectrogramKey := uuid.NewString() + spectrogramSuffix

	err = w.store.Upload(ctx, spectrogramKey, pngData)
	if err != nil {
		// A reply carries both keys or neither.
		deleteErr := w.store.Delete(ctx, audioKey)
		if deleteErr != nil {
			w.log.Warn("Failed to delete orphaned audio '%s': %v", audioKey, deleteErr)
		}

		return nil, fmt.Errorf("failed to upload spectrogram for key '%s': %w", spectrogramKey, err)
	}

	return &SynthesisReply{
		Header:         request.Header,
		AudioKey:       audioKey,
		SpectrogramKey: spectrogramKey,
		SampleRate:     result.SampleRate,
	}, nil
}

// consumeSpectrogram reads the caller-owned PNG and removes it.
func consumeSpectrogram(path string) ([]byte, error) {
	data, readErr := os.ReadFile(path)

	removeErr := os.Remove(path)

	if readErr != nil {
		return nil, fmt.Errorf("failed to read spectrogram %s: %w", path, readErr)
	}

	if removeErr != nil {
		return nil, fmt.Errorf("failed to remove spectrogram %s: %w", path, removeErr)
	}

	return data, nil
}

func failure(header events.EventHeader, reqErr *core.RequestError) *SynthesisReply {
	return &SynthesisReply{Header: header, Error: reqErr.Error(), Kind: reqErr.Kind}
}

func (w *NatsWorker) reply(msg *nats.Msg, reply *SynthesisReply) {
	if msg.Reply == "" {
		return
	}

	replyData, err := json.Marshal(reply)
	if err != nil {
		w.log.Error("Failed to marshal synthesis reply: %v", err)

		return
	}

	err = msg.Respond(replyData)
	if err != nil {
		w.log.Error("Failed to publish synthesis reply for workflow %s: %v", reply.Header.WorkflowID, err)
	}
}
