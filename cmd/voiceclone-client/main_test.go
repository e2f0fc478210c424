package main

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/book-expert/voiceclone-service/internal/httpapi"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseFlags(t *testing.T) {
	t.Parallel()

	testCases := []struct {
		name    string
		args    []string
		wantErr string
		check   func(t *testing.T, flags appFlags)
	}{
		{
			name: "defaults",
			args: []string{"--ref", "ref.wav", "--text", "Xin chào"},
			check: func(t *testing.T, flags appFlags) {
				t.Helper()
				assert.InDelta(t, 1.0, flags.speed, 1e-9)
				assert.Equal(t, defaultOutputFile, flags.output)
				assert.Equal(t, defaultServer, flags.server)
				assert.Empty(t, flags.spectrogram)
			},
		},
		{
			name: "all flags",
			args: []string{
				"--ref", "ref.wav", "--text", "Xin chào", "--speed", "0.8",
				"--output", "out/a.wav", "--spectrogram", "out/a.png", "--server", "http://tts:7860/",
			},
			check: func(t *testing.T, flags appFlags) {
				t.Helper()
				assert.InDelta(t, 0.8, flags.speed, 1e-9)
				assert.Equal(t, "out/a.png", flags.spectrogram)
				assert.Equal(t, "http://tts:7860", flags.server)
			},
		},
		{
			name: "health needs nothing else",
			args: []string{"--health"},
			check: func(t *testing.T, flags appFlags) {
				t.Helper()
				assert.True(t, flags.health)
			},
		},
		{name: "missing ref", args: []string{"--text", "a"}, wantErr: errMissingRef},
		{name: "missing text", args: []string{"--ref", "ref.wav", "--text", "  "}, wantErr: errMissingText},
		{name: "bad speed", args: []string{"--speed", "fast"}, wantErr: "invalid value"},
	}

	for _, testCase := range testCases {
		t.Run(testCase.name, func(t *testing.T) {
			t.Parallel()

			flags, err := parseFlags(testCase.args)
			if testCase.wantErr != "" {
				require.ErrorIs(t, err, errFlags)
				assert.Contains(t, err.Error(), testCase.wantErr)

				return
			}

			require.NoError(t, err)
			testCase.check(t, flags)
		})
	}
}

func fakeService(t *testing.T, status int, payload any) *httptest.Server {
	t.Helper()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/healthz" {
			w.WriteHeader(status)

			return
		}

		assert.Equal(t, "/api/synthesize", r.URL.Path)

		if assert.NoError(t, r.ParseMultipartForm(1<<20)) {
			assert.Equal(t, "Xin chào", r.FormValue(httpapi.FieldTargetText))
			assert.Equal(t, "0.8", r.FormValue(httpapi.FieldSpeed))

			file, header, err := r.FormFile(httpapi.FieldReferenceAudio)
			if assert.NoError(t, err) {
				data, _ := io.ReadAll(file)
				assert.Equal(t, "RIFF ref", string(data))
				assert.Equal(t, "ref.wav", header.Filename)
			}
		}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_ = json.NewEncoder(w).Encode(payload)
	}))
	t.Cleanup(server.Close)

	return server
}

func writeRef(t *testing.T) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), "ref.wav")
	require.NoError(t, os.WriteFile(path, []byte("RIFF ref"), 0o600))

	return path
}

func TestRun_Synthesize(t *testing.T) {
	t.Parallel()

	server := fakeService(t, http.StatusOK, httpapi.SynthesizeResponse{
		RequestID:            "req-1",
		SampleRate:           24000,
		AudioWAVBase64:       base64.StdEncoding.EncodeToString([]byte("RIFF out")),
		SpectrogramPNGBase64: base64.StdEncoding.EncodeToString([]byte("PNG out")),
	})

	outDir := t.TempDir()
	output := filepath.Join(outDir, "nested", "speech.wav")
	spectrogram := filepath.Join(outDir, "speech.png")

	var stdout bytes.Buffer

	err := run([]string{
		"--ref", writeRef(t), "--text", "Xin chào", "--speed", "0.8",
		"--output", output, "--spectrogram", spectrogram, "--server", server.URL,
	}, &stdout)
	require.NoError(t, err)

	audio, err := os.ReadFile(output)
	require.NoError(t, err)
	assert.Equal(t, "RIFF out", string(audio))

	png, err := os.ReadFile(spectrogram)
	require.NoError(t, err)
	assert.Equal(t, "PNG out", string(png))

	assert.Contains(t, stdout.String(), output)
	assert.Contains(t, stdout.String(), spectrogram)
}

func TestRun_ServiceError(t *testing.T) {
	t.Parallel()

	server := fakeService(t, http.StatusBadRequest, httpapi.ErrorResponse{
		Error: "InvalidInput: speed out of range", Kind: "invalid_input",
	})

	output := filepath.Join(t.TempDir(), "speech.wav")

	err := run([]string{
		"--ref", writeRef(t), "--text", "Xin chào", "--speed", "0.8", "--output", output, "--server", server.URL,
	}, io.Discard)
	require.ErrorIs(t, err, errHTTPError)
	assert.Contains(t, err.Error(), "speed out of range")
	assert.NoFileExists(t, output)
}

func TestRun_Health(t *testing.T) {
	t.Parallel()

	healthy := fakeService(t, http.StatusOK, nil)

	var stdout bytes.Buffer

	require.NoError(t, run([]string{"--health", "--server", healthy.URL}, &stdout))
	assert.Contains(t, stdout.String(), msgServiceHealthy)

	unhealthy := fakeService(t, http.StatusServiceUnavailable, nil)

	err := run([]string{"--health", "--server", unhealthy.URL}, io.Discard)
	require.Error(t, err)
	assert.Contains(t, err.Error(), errServiceUnhealthy)
}

func TestRun_MissingReferenceFile(t *testing.T) {
	t.Parallel()

	err := run([]string{"--ref", filepath.Join(t.TempDir(), "nope.wav"), "--text", "a"}, io.Discard)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to read reference audio")
}
