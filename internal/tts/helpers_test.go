package tts_test

import (
	"encoding/json"
	"math"
	"testing"

	"github.com/book-expert/logger"
	"github.com/book-expert/voiceclone-service/internal/core"
	"github.com/book-expert/voiceclone-service/internal/tts"
	"github.com/book-expert/voiceclone-service/internal/tts/wavio"
	"github.com/stretchr/testify/require"
)

const testSampleRate = 24000

func newLogger(t *testing.T) *logger.Logger {
	t.Helper()

	log, err := logger.New(t.TempDir(), "tts-test.log")
	require.NoError(t, err)
	t.Cleanup(func() { _ = log.Close() })

	return log
}

func sineWave(seconds, amplitude float64) []float32 {
	n := int(seconds * testSampleRate)
	out := make([]float32, n)

	for i := range out {
		out[i] = float32(amplitude * math.Sin(2*math.Pi*220*float64(i)/testSampleRate))
	}

	return out
}

func constant(n int, value float32) []float32 {
	out := make([]float32, n)
	for i := range out {
		out[i] = value
	}

	return out
}

func testSpectrogram(mels, frames int, value float32) core.Spectrogram {
	return core.Spectrogram{Mels: mels, Frames: frames, Data: constant(mels*frames, value)}
}

func testVocoder() *core.VocoderHandle {
	return &core.VocoderHandle{Name: "vocos", SampleRate: testSampleRate, MelChannels: 100, HopLength: 256, LocalPath: ""}
}

func testModel() *core.ModelHandle {
	return &core.ModelHandle{
		Name:           "F5-TTS-Vietnamese",
		Architecture:   core.Architecture{Dim: 1024, Depth: 22, Heads: 16, FFMult: 2, TextDim: 512, ConvLayers: 4},
		CheckpointPath: "/cache/model_latest.safetensors",
		VocabPath:      "/cache/vocab.txt",
		VocabSize:      3,
	}
}

func testJob(t *testing.T) core.GenerateJob {
	t.Helper()

	return core.GenerateJob{
		Reference:      core.ReferenceAudio{Samples: sineWave(1, 0.3), SampleRate: testSampleRate, Transcript: "xin chào. "},
		ReferenceText:  "xin chào. ",
		TargetText:     "Hôm nay trời đẹp.",
		DurationFrames: 200,
		NFESteps:       core.NFESteps,
		Speed:          1.0,
		Model:          testModel(),
		Vocoder:        testVocoder(),
	}
}

func chunkResponseJSON(t *testing.T, samples []float32, reportedRate int, spec core.Spectrogram) []byte {
	t.Helper()

	wav, err := wavio.Encode(samples, testSampleRate)
	require.NoError(t, err)

	data, err := json.Marshal(tts.ChunkResponse{SampleRate: reportedRate, WaveformWAV: wav, Spectrogram: spec})
	require.NoError(t, err)

	return data
}
