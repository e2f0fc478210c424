package httpapi

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"strconv"
	"strings"

	"github.com/book-expert/voiceclone-service/internal/core"
	"github.com/book-expert/voiceclone-service/internal/tts"
	"github.com/book-expert/voiceclone-service/internal/tts/wavio"
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
)

// Form fields of POST /api/synthesize.
const (
	FieldReferenceAudio = "reference_audio"
	FieldReferenceText  = "reference_text"
	FieldTargetText     = "target_text"
	FieldSpeed          = "speed"
)

const (
	kindRateLimited = "rate_limited"
	kindQueue       = "unavailable"

	msgRateLimited   = "too many requests, try again later"
	msgQueueAborted  = "request cancelled while waiting in queue"
	msgInvalidForm   = "invalid multipart form"
	msgInvalidSpeed  = "speed must be a number"
	msgUploadTooBig  = "reference audio exceeds the upload limit"
	msgUnknownSample = "unknown example"
)

// SynthesizeResponse is the JSON body of a successful synthesis.
type SynthesizeResponse struct {
	RequestID            string `json:"request_id"`
	SampleRate           int    `json:"sample_rate"`
	AudioWAVBase64       string `json:"audio_wav_base64"`
	SpectrogramPNGBase64 string `json:"spectrogram_png_base64"`
}

// ErrorResponse is the JSON body of every failed request.
type ErrorResponse struct {
	Error string `json:"error"`
	Kind  string `json:"kind"`
}

func (s *Server) synthesize(w http.ResponseWriter, r *http.Request) {
	requestID := uuid.NewString()

	req, err := s.parseRequest(w, r)
	if err != nil {
		s.log.Warn("Request %s: %v", requestID, err)

		if errors.Is(err, errUploadTooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge, string(core.KindInvalidInput), msgUploadTooBig)

			return
		}

		writeError(w, http.StatusBadRequest, string(core.KindInvalidInput), err.Error())

		return
	}

	req, err = tts.Validate(req)
	if err != nil {
		s.log.Warn("Request %s: %v", requestID, err)
		writeError(w, http.StatusBadRequest, string(core.KindInvalidInput), err.Error())

		return
	}

	acquireErr := s.queue.Acquire(r.Context(), 1)
	if acquireErr != nil {
		writeError(w, http.StatusServiceUnavailable, kindQueue, msgQueueAborted)

		return
	}

	result, err := s.synthesizer.Synthesize(r.Context(), req)

	s.queue.Release(1)

	if err != nil {
		reqErr := core.AsRequestError(err)
		writeError(w, statusFor(reqErr.Kind), string(reqErr.Kind), reqErr.Error())

		return
	}

	response, err := buildResponse(requestID, result)
	if err != nil {
		s.log.Error("Request %s: %v", requestID, err)
		writeError(w, http.StatusInternalServerError, string(core.KindInferenceFailure), err.Error())

		return
	}

	writeJSON(w, http.StatusOK, response)
}

var errUploadTooLarge = errors.New("upload too large")

// parseRequest maps the multipart form onto a core.Request. A missing or
// empty file leaves ReferenceAudio nil so that validation reports it.
func (s *Server) parseRequest(w http.ResponseWriter, r *http.Request) (core.Request, error) {
	var req core.Request

	r.Body = http.MaxBytesReader(w, r.Body, s.maxUploadBytes)

	err := r.ParseMultipartForm(multipartMemoryBytes)
	if err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			return req, errUploadTooLarge
		}

		return req, fmt.Errorf("%s: %w", msgInvalidForm, err)
	}

	req.TargetText = r.FormValue(FieldTargetText)
	req.ReferenceTranscript = r.FormValue(FieldReferenceText)

	if raw := strings.TrimSpace(r.FormValue(FieldSpeed)); raw != "" {
		speed, parseErr := strconv.ParseFloat(raw, 64)
		if parseErr != nil {
			return req, fmt.Errorf("%s: %q", msgInvalidSpeed, raw)
		}

		req.Speed = speed
	}

	file, header, err := r.FormFile(FieldReferenceAudio)
	if errors.Is(err, http.ErrMissingFile) {
		return req, nil
	}

	if err != nil {
		return req, fmt.Errorf("%s: %w", msgInvalidForm, err)
	}

	defer func() { _ = file.Close() }()

	data, err := io.ReadAll(file)
	if err != nil {
		return req, fmt.Errorf("failed to read reference audio: %w", err)
	}

	// An empty upload counts as no reference audio.
	if len(data) > 0 {
		req.ReferenceAudio = data
	}

	req.ReferenceName = header.Filename

	return req, nil
}

// buildResponse encodes the waveform and consumes the caller-owned
// spectrogram file.
func buildResponse(requestID string, result *core.Result) (*SynthesizeResponse, error) {
	png, readErr := os.ReadFile(result.SpectrogramPath)

	removeErr := os.Remove(result.SpectrogramPath)

	if readErr != nil {
		return nil, fmt.Errorf("failed to read spectrogram: %w", readErr)
	}

	if removeErr != nil {
		return nil, fmt.Errorf("failed to remove spectrogram: %w", removeErr)
	}

	wav, err := wavio.Encode(result.Waveform, result.SampleRate)
	if err != nil {
		return nil, fmt.Errorf("failed to encode waveform: %w", err)
	}

	return &SynthesizeResponse{
		RequestID:            requestID,
		SampleRate:           result.SampleRate,
		AudioWAVBase64:       base64.StdEncoding.EncodeToString(wav),
		SpectrogramPNGBase64: base64.StdEncoding.EncodeToString(png),
	}, nil
}

func (s *Server) healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) readyz(w http.ResponseWriter, r *http.Request) {
	checks := make(map[string]string, len(s.checks))
	status := http.StatusOK

	for name, checker := range s.checks {
		err := checker.HealthCheck(r.Context())
		if err != nil {
			checks[name] = "unhealthy: " + err.Error()
			status = http.StatusServiceUnavailable

			continue
		}

		checks[name] = "ok"
	}

	state := "ok"
	if status != http.StatusOK {
		state = "unhealthy"
	}

	writeJSON(w, status, map[string]any{"status": state, "checks": checks})
}

func (s *Server) exampleReference(w http.ResponseWriter, r *http.Request) {
	index, err := strconv.Atoi(chi.URLParam(r, "index"))
	if err != nil || index < 0 || index >= len(s.examples) {
		writeError(w, http.StatusNotFound, string(core.KindInvalidInput), msgUnknownSample)

		return
	}

	w.Header().Set("Content-Type", "audio/wav")
	http.ServeFile(w, r, s.examples[index].ReferencePath)
}

func statusFor(kind core.Kind) int {
	if kind == core.KindInvalidInput {
		return http.StatusBadRequest
	}

	return http.StatusInternalServerError
}

func writeError(w http.ResponseWriter, status int, kind, message string) {
	writeJSON(w, status, ErrorResponse{Error: message, Kind: kind})
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}
