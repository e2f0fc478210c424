package refaudio_test

import (
	"context"
	"errors"
	"math"
	"testing"

	"github.com/book-expert/logger"
	"github.com/book-expert/voiceclone-service/internal/refaudio"
	"github.com/book-expert/voiceclone-service/internal/refcache"
	"github.com/book-expert/voiceclone-service/internal/tts/wavio"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var errTranscriberDown = errors.New("transcriber down")

type mockTranscriber struct {
	text       string
	calls      int
	ShouldFail bool
}

func (m *mockTranscriber) Transcribe(_ context.Context, wav []byte) (string, error) {
	m.calls++

	if m.ShouldFail {
		return "", errTranscriberDown
	}

	if len(wav) == 0 {
		return "", errTranscriberDown
	}

	return m.text, nil
}

func newLogger(t *testing.T) *logger.Logger {
	t.Helper()

	log, err := logger.New(t.TempDir(), "refaudio-test.log")
	require.NoError(t, err)
	t.Cleanup(func() { _ = log.Close() })

	return log
}

// clip builds a WAV of tone and silence segments given in seconds; positive
// values are tone, negative values are silence.
func clip(t *testing.T, rate int, segments ...float64) []byte {
	t.Helper()

	var samples []float32

	for _, seg := range segments {
		n := int(math.Abs(seg) * float64(rate))
		for i := range n {
			if seg > 0 {
				samples = append(samples, float32(0.5*math.Sin(2*math.Pi*220*float64(i)/float64(rate))))
			} else {
				samples = append(samples, 0)
			}
		}
	}

	data, err := wavio.Encode(samples, rate)
	require.NoError(t, err)

	return data
}

func TestPunctuate(t *testing.T) {
	t.Parallel()

	testCases := []struct {
		input    string
		expected string
	}{
		{input: "xin chào", expected: "xin chào. "},
		{input: "xin chào.", expected: "xin chào. "},
		{input: "xin chào. ", expected: "xin chào. "},
		{input: "你好。", expected: "你好。"},
		{input: "what?", expected: "what?. "},
	}

	for _, testCase := range testCases {
		assert.Equal(t, testCase.expected, refaudio.Punctuate(testCase.input), testCase.input)
	}
}

func TestPrepare_ResamplesAndPads(t *testing.T) {
	t.Parallel()

	prep := refaudio.New(nil, nil, 24000, newLogger(t))

	ref, err := prep.Prepare(context.Background(), clip(t, 16000, 1.0), "Một hai ba")
	require.NoError(t, err)

	assert.Equal(t, 24000, ref.SampleRate)
	assert.Equal(t, "Một hai ba. ", ref.Transcript)
	// 1.0 s of tone plus 50 ms of padding at 24 kHz.
	assert.InDelta(t, 25200, len(ref.Samples), 2)

	for _, s := range ref.Samples[len(ref.Samples)-100:] {
		assert.InDelta(t, 0, s, 1e-6)
	}
}

func TestPrepare_AutoTranscribesOnceWithCache(t *testing.T) {
	t.Parallel()

	transcriber := &mockTranscriber{text: "tôi là trợ lý"}
	prep := refaudio.New(transcriber, refcache.NewMemory(0), 24000, newLogger(t))
	raw := clip(t, 24000, 0.5)

	first, err := prep.Prepare(context.Background(), raw, "")
	require.NoError(t, err)
	assert.Equal(t, "tôi là trợ lý. ", first.Transcript)

	second, err := prep.Prepare(context.Background(), raw, "   ")
	require.NoError(t, err)
	assert.Equal(t, first.Transcript, second.Transcript)
	assert.Equal(t, 1, transcriber.calls)
}

func TestPrepare_TranscriberFailure(t *testing.T) {
	t.Parallel()

	prep := refaudio.New(&mockTranscriber{ShouldFail: true}, nil, 24000, newLogger(t))

	_, err := prep.Prepare(context.Background(), clip(t, 24000, 0.5), "")
	require.ErrorIs(t, err, errTranscriberDown)
}

func TestPrepare_NoTranscriber(t *testing.T) {
	t.Parallel()

	prep := refaudio.New(nil, nil, 24000, newLogger(t))

	_, err := prep.Prepare(context.Background(), clip(t, 24000, 0.5), "")
	require.ErrorIs(t, err, refaudio.ErrNoTranscriber)
}

func TestPrepare_RejectsNonWAV(t *testing.T) {
	t.Parallel()

	prep := refaudio.New(nil, nil, 24000, newLogger(t))

	_, err := prep.Prepare(context.Background(), []byte("not audio"), "x")
	require.ErrorIs(t, err, wavio.ErrUnsupportedFormat)
}

func TestPrepare_SilentReference(t *testing.T) {
	t.Parallel()

	prep := refaudio.New(nil, nil, 24000, newLogger(t))

	_, err := prep.Prepare(context.Background(), clip(t, 24000, -2.0), "x")
	require.ErrorIs(t, err, refaudio.ErrSilentReference)
}

func TestPrepare_ClipsLongReferenceAtPause(t *testing.T) {
	t.Parallel()

	prep := refaudio.New(nil, nil, 24000, newLogger(t))

	ref, err := prep.Prepare(context.Background(), clip(t, 24000, 6.0, -2.0, 7.0), "x")
	require.NoError(t, err)

	// Cut inside the pause, trailing silence trimmed, 50 ms padding added.
	assert.InDelta(t, 6.05*24000, len(ref.Samples), 240)
}

func TestPrepare_HardCutsWithoutPause(t *testing.T) {
	t.Parallel()

	prep := refaudio.New(nil, nil, 24000, newLogger(t))

	ref, err := prep.Prepare(context.Background(), clip(t, 24000, 15.0), "x")
	require.NoError(t, err)

	assert.InDelta(t, (refaudio.MaxReferenceSeconds+refaudio.TailPaddingSeconds)*24000, len(ref.Samples), 240)
}
