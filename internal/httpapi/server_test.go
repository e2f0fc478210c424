package httpapi_test

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/book-expert/logger"
	"github.com/book-expert/voiceclone-service/internal/config"
	"github.com/book-expert/voiceclone-service/internal/core"
	"github.com/book-expert/voiceclone-service/internal/httpapi"
	"github.com/book-expert/voiceclone-service/internal/tts"
	"github.com/book-expert/voiceclone-service/internal/tts/wavio"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var errMockGenerator = errors.New("mock generator exploded")

var fakePNG = []byte("\x89PNG\r\n\x1a\nfake")

type stubSynthesizer struct {
	mu         sync.Mutex
	dir        string
	requests   []core.Request
	delay      time.Duration
	gate       chan struct{}
	inFlight   atomic.Int32
	maxFlight  atomic.Int32
	shouldFail atomic.Bool
}

func (s *stubSynthesizer) Synthesize(_ context.Context, req core.Request) (*core.Result, error) {
	current := s.inFlight.Add(1)
	defer s.inFlight.Add(-1)

	for {
		seen := s.maxFlight.Load()
		if current <= seen || s.maxFlight.CompareAndSwap(seen, current) {
			break
		}
	}

	s.mu.Lock()
	s.requests = append(s.requests, req)
	s.mu.Unlock()

	time.Sleep(s.delay)

	if s.gate != nil {
		<-s.gate
	}

	req, err := tts.Validate(req)
	if err != nil {
		return nil, err
	}

	if s.shouldFail.Load() {
		return nil, core.NewInferenceFailure(errMockGenerator)
	}

	path := filepath.Join(s.dir, "spectrogram-"+uuid.NewString()+".png")

	err = os.WriteFile(path, fakePNG, 0o600)
	if err != nil {
		return nil, core.NewInferenceFailure(err)
	}

	return &core.Result{Waveform: make([]float32, 1200), SampleRate: 24000, SpectrogramPath: path}, nil
}

func (s *stubSynthesizer) calls() []core.Request {
	s.mu.Lock()
	defer s.mu.Unlock()

	return append([]core.Request(nil), s.requests...)
}

func newLogger(t *testing.T) *logger.Logger {
	t.Helper()

	log, err := logger.New(t.TempDir(), "httpapi-test.log")
	require.NoError(t, err)
	t.Cleanup(func() { _ = log.Close() })

	return log
}

func newServer(t *testing.T, mutate func(opts *httpapi.Options)) (*httptest.Server, *stubSynthesizer) {
	t.Helper()

	synthesizer := &stubSynthesizer{dir: t.TempDir()}
	opts := httpapi.Options{
		Synthesizer:   synthesizer,
		MaxConcurrent: 1,
		Log:           newLogger(t),
	}

	if mutate != nil {
		mutate(&opts)
	}

	api, err := httpapi.New(opts)
	require.NoError(t, err)

	server := httptest.NewServer(api.Handler())
	t.Cleanup(server.Close)

	return server, synthesizer
}

type form struct {
	audio []byte
	text  string
	speed string
}

func postSynthesize(t *testing.T, url string, f form) *http.Response {
	t.Helper()

	var body bytes.Buffer

	writer := multipart.NewWriter(&body)

	if f.audio != nil {
		part, err := writer.CreateFormFile(httpapi.FieldReferenceAudio, "reference.wav")
		require.NoError(t, err)
		_, err = part.Write(f.audio)
		require.NoError(t, err)
	}

	require.NoError(t, writer.WriteField(httpapi.FieldTargetText, f.text))

	if f.speed != "" {
		require.NoError(t, writer.WriteField(httpapi.FieldSpeed, f.speed))
	}

	require.NoError(t, writer.Close())

	req, err := http.NewRequestWithContext(context.Background(), http.MethodPost, url+"/api/synthesize", &body)
	require.NoError(t, err)
	req.Header.Set("Content-Type", writer.FormDataContentType())

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { _ = resp.Body.Close() })

	return resp
}

func decodeError(t *testing.T, resp *http.Response) httpapi.ErrorResponse {
	t.Helper()

	var body httpapi.ErrorResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))

	return body
}

func TestSynthesize_Success(t *testing.T) {
	t.Parallel()

	server, synthesizer := newServer(t, nil)

	resp := postSynthesize(t, server.URL, form{audio: []byte("RIFF...."), text: "Xin chào.", speed: "0.8"})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var body httpapi.SynthesizeResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))

	assert.NotEmpty(t, body.RequestID)
	assert.Equal(t, 24000, body.SampleRate)

	wav, err := base64.StdEncoding.DecodeString(body.AudioWAVBase64)
	require.NoError(t, err)

	samples, rate, err := wavio.Decode(wav)
	require.NoError(t, err)
	assert.Equal(t, 24000, rate)
	assert.Len(t, samples, 1200)

	png, err := base64.StdEncoding.DecodeString(body.SpectrogramPNGBase64)
	require.NoError(t, err)
	assert.Equal(t, fakePNG, png)

	calls := synthesizer.calls()
	require.Len(t, calls, 1)
	assert.Equal(t, []byte("RIFF...."), calls[0].ReferenceAudio)
	assert.Equal(t, "reference.wav", calls[0].ReferenceName)
	assert.Equal(t, "Xin chào.", calls[0].TargetText)
	assert.InDelta(t, 0.8, calls[0].Speed, 1e-9)

	leftovers, err := filepath.Glob(filepath.Join(synthesizer.dir, "*.png"))
	require.NoError(t, err)
	assert.Empty(t, leftovers, "spectrogram temp file must be consumed")
}

func TestSynthesize_ErrorMapping(t *testing.T) {
	t.Parallel()

	testCases := []struct {
		name       string
		form       form
		fail       bool
		wantStatus int
		wantKind   core.Kind
		wantText   string
	}{
		{
			name:       "missing reference audio",
			form:       form{text: "Xin chào."},
			wantStatus: http.StatusBadRequest,
			wantKind:   core.KindInvalidInput,
			wantText:   core.MsgMissingReferenceAudio,
		},
		{
			name:       "missing target text",
			form:       form{audio: []byte("RIFF")},
			wantStatus: http.StatusBadRequest,
			wantKind:   core.KindInvalidInput,
			wantText:   core.MsgMissingTargetText,
		},
		{
			name:       "speed out of range",
			form:       form{audio: []byte("RIFF"), text: "a", speed: "2.5"},
			wantStatus: http.StatusBadRequest,
			wantKind:   core.KindInvalidInput,
			wantText:   core.MsgSpeedOutOfRange,
		},
		{
			name:       "speed not a number",
			form:       form{audio: []byte("RIFF"), text: "a", speed: "NaN"},
			wantStatus: http.StatusBadRequest,
			wantKind:   core.KindInvalidInput,
			wantText:   core.MsgSpeedOutOfRange,
		},
		{
			name:       "empty reference upload",
			form:       form{audio: []byte{}, text: "a"},
			wantStatus: http.StatusBadRequest,
			wantKind:   core.KindInvalidInput,
			wantText:   core.MsgMissingReferenceAudio,
		},
		{
			name:       "inference failure",
			form:       form{audio: []byte("RIFF"), text: "a"},
			fail:       true,
			wantStatus: http.StatusInternalServerError,
			wantKind:   core.KindInferenceFailure,
			wantText:   errMockGenerator.Error(),
		},
	}

	for _, testCase := range testCases {
		t.Run(testCase.name, func(t *testing.T) {
			t.Parallel()

			server, synthesizer := newServer(t, nil)
			synthesizer.shouldFail.Store(testCase.fail)

			resp := postSynthesize(t, server.URL, testCase.form)
			assert.Equal(t, testCase.wantStatus, resp.StatusCode)

			body := decodeError(t, resp)
			assert.Equal(t, string(testCase.wantKind), body.Kind)
			assert.Contains(t, body.Error, testCase.wantText)

			if testCase.wantKind == core.KindInvalidInput {
				assert.Empty(t, synthesizer.calls(), "invalid requests never reach the synthesizer")
			}
		})
	}
}

func TestSynthesize_MalformedSpeed(t *testing.T) {
	t.Parallel()

	server, synthesizer := newServer(t, nil)

	resp := postSynthesize(t, server.URL, form{audio: []byte("RIFF"), text: "a", speed: "fast"})
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, string(core.KindInvalidInput), decodeError(t, resp).Kind)
	assert.Empty(t, synthesizer.calls())
}

func TestSynthesize_NotMultipart(t *testing.T) {
	t.Parallel()

	server, synthesizer := newServer(t, nil)

	resp, err := http.Post(server.URL+"/api/synthesize", "application/json", bytes.NewBufferString(`{}`))
	require.NoError(t, err)

	defer func() { _ = resp.Body.Close() }()

	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Empty(t, synthesizer.calls())
}

func TestSynthesize_QueueSerializesRequests(t *testing.T) {
	t.Parallel()

	server, synthesizer := newServer(t, nil)
	synthesizer.delay = 30 * time.Millisecond

	const requests = 4

	var wg sync.WaitGroup

	statuses := make([]int, requests)

	for i := range requests {
		wg.Add(1)

		go func() {
			defer wg.Done()

			var body bytes.Buffer

			writer := multipart.NewWriter(&body)
			part, _ := writer.CreateFormFile(httpapi.FieldReferenceAudio, "ref.wav")
			_, _ = part.Write([]byte("RIFF"))
			_ = writer.WriteField(httpapi.FieldTargetText, "Xin chào.")
			_ = writer.Close()

			resp, err := http.Post(server.URL+"/api/synthesize", writer.FormDataContentType(), &body)
			if assert.NoError(t, err) {
				statuses[i] = resp.StatusCode
				_, _ = io.Copy(io.Discard, resp.Body)
				_ = resp.Body.Close()
			}
		}()
	}

	wg.Wait()

	for _, status := range statuses {
		assert.Equal(t, http.StatusOK, status)
	}

	assert.Equal(t, int32(1), synthesizer.maxFlight.Load(), "only one synthesis may run at a time")
	assert.Len(t, synthesizer.calls(), requests)
}

func TestSynthesize_InvalidRequestSkipsQueue(t *testing.T) {
	t.Parallel()

	server, synthesizer := newServer(t, nil)
	synthesizer.gate = make(chan struct{})

	release := sync.OnceFunc(func() { close(synthesizer.gate) })
	t.Cleanup(release)

	done := make(chan int, 1)

	go func() {
		var body bytes.Buffer

		writer := multipart.NewWriter(&body)
		part, _ := writer.CreateFormFile(httpapi.FieldReferenceAudio, "ref.wav")
		_, _ = part.Write([]byte("RIFF"))
		_ = writer.WriteField(httpapi.FieldTargetText, "Xin chào.")
		_ = writer.Close()

		resp, err := http.Post(server.URL+"/api/synthesize", writer.FormDataContentType(), &body)
		if !assert.NoError(t, err) {
			done <- 0

			return
		}

		_, _ = io.Copy(io.Discard, resp.Body)
		_ = resp.Body.Close()
		done <- resp.StatusCode
	}()

	require.Eventually(t, func() bool { return synthesizer.inFlight.Load() == 1 }, 5*time.Second, 5*time.Millisecond)

	started := time.Now()
	resp := postSynthesize(t, server.URL, form{text: "Xin chào."})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Contains(t, decodeError(t, resp).Error, core.MsgMissingReferenceAudio)
	assert.Less(t, time.Since(started), 2*time.Second)
	assert.Len(t, synthesizer.calls(), 1)

	release()
	assert.Equal(t, http.StatusOK, <-done)
}

func TestSynthesize_RateLimited(t *testing.T) {
	t.Parallel()

	server, _ := newServer(t, func(opts *httpapi.Options) { opts.RateLimitPerMinute = 1 })

	first := postSynthesize(t, server.URL, form{audio: []byte("RIFF"), text: "a"})
	assert.Equal(t, http.StatusOK, first.StatusCode)

	second := postSynthesize(t, server.URL, form{audio: []byte("RIFF"), text: "a"})
	require.Equal(t, http.StatusTooManyRequests, second.StatusCode)
	assert.Equal(t, "rate_limited", decodeError(t, second).Kind)
}

func TestHealthEndpoints(t *testing.T) {
	t.Parallel()

	var generatorDown atomic.Bool

	server, _ := newServer(t, func(opts *httpapi.Options) {
		opts.Checks = map[string]httpapi.Checker{
			"generator": httpapi.CheckerFunc(func(context.Context) error {
				if generatorDown.Load() {
					return errMockGenerator
				}

				return nil
			}),
		}
	})

	get := func(path string) (int, map[string]any) {
		resp, err := http.Get(server.URL + path)
		require.NoError(t, err)

		defer func() { _ = resp.Body.Close() }()

		var body map[string]any
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))

		return resp.StatusCode, body
	}

	status, body := get("/healthz")
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, "ok", body["status"])

	status, _ = get("/readyz")
	assert.Equal(t, http.StatusOK, status)

	generatorDown.Store(true)

	status, body = get("/readyz")
	assert.Equal(t, http.StatusServiceUnavailable, status)
	assert.Equal(t, "unhealthy", body["status"])
	assert.Contains(t, body["checks"].(map[string]any)["generator"], errMockGenerator.Error())
}

func TestDemoPage(t *testing.T) {
	t.Parallel()

	referencePath := filepath.Join(t.TempDir(), "01.wav")
	require.NoError(t, os.WriteFile(referencePath, []byte("RIFF example"), 0o600))

	server, _ := newServer(t, func(opts *httpapi.Options) {
		opts.Examples = []config.Example{
			{ReferencePath: referencePath, Text: "Kiểm soát cảm xúc thực chất là một quá trình.", Speed: 0.8},
		}
	})

	resp, err := http.Get(server.URL + "/")
	require.NoError(t, err)

	page, err := io.ReadAll(resp.Body)
	_ = resp.Body.Close()

	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, resp.Header.Get("Content-Type"), "text/html")
	assert.Contains(t, string(page), "F5-TTS Vietnamese")
	assert.Contains(t, string(page), "Kiểm soát cảm xúc")
	assert.Contains(t, string(page), `min="0.3"`)
	assert.Contains(t, string(page), `max="2"`)

	resp, err = http.Get(server.URL + "/examples/0/reference")
	require.NoError(t, err)

	audio, err := io.ReadAll(resp.Body)
	_ = resp.Body.Close()

	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, []byte("RIFF example"), audio)

	resp, err = http.Get(server.URL + "/examples/7/reference")
	require.NoError(t, err)
	_ = resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestNew_RequiresSynthesizer(t *testing.T) {
	t.Parallel()

	_, err := httpapi.New(httpapi.Options{Log: newLogger(t)})
	require.ErrorIs(t, err, httpapi.ErrMissingSynthesizer)
}
