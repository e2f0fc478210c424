// Command voiceclone-client sends a reference clip and text to a running
// voiceclone-service and saves the cloned speech and its spectrogram.
package main

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/book-expert/logger"
	"github.com/book-expert/voiceclone-service/internal/httpapi"
)

// Flag names.
const (
	flagRef         = "ref"
	flagText        = "text"
	flagSpeed       = "speed"
	flagOutput      = "output"
	flagSpectrogram = "spectrogram"
	flagServer      = "server"
	flagHealth      = "health"
)

// Flag descriptions.
const (
	flagRefDesc         = "Reference audio file (.wav)"
	flagTextDesc        = "Text to speak in the reference voice"
	flagSpeedDesc       = "Speech speed between 0.3 and 2.0"
	flagOutputDesc      = "Output file path (.wav)"
	flagSpectrogramDesc = "Optional path for the spectrogram image (.png)"
	flagServerDesc      = "Base URL of the voiceclone-service"
	flagHealthDesc      = "Check service health and exit"
)

// Error and log messages.
const (
	errMissingRef       = "--ref is required"
	errMissingText      = "--text is required"
	errServiceUnhealthy = "service is not healthy"
	msgServiceHealthy   = "voiceclone-service is healthy"
	logSynthesizing     = "Synthesizing %d characters with reference %s against %s"
	logWrote            = "Wrote %s"
)

const (
	defaultServer     = "http://127.0.0.1:7860"
	defaultOutputFile = "output.wav"
	logFileName       = "voiceclone-client.log"
	healthTimeout     = 10 * time.Second
	requestTimeout    = 15 * time.Minute
)

var (
	errFlags     = errors.New("invalid arguments")
	errHTTPError = errors.New("request failed")
)

// appFlags holds the parsed command-line flag values.
type appFlags struct {
	ref         string
	text        string
	speed       float64
	output      string
	spectrogram string
	server      string
	health      bool
}

func main() {
	err := run(os.Args[1:], os.Stdout)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run(args []string, stdout io.Writer) error {
	flags, err := parseFlags(args)
	if err != nil {
		return err
	}

	log, err := logger.New(os.TempDir(), logFileName)
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}

	defer func() { _ = log.Close() }()

	client := &http.Client{Timeout: requestTimeout}

	if flags.health {
		ctx, cancel := context.WithTimeout(context.Background(), healthTimeout)
		defer cancel()

		err = checkHealth(ctx, client, flags.server)
		if err != nil {
			log.Error("Health check failed: %v", err)

			return err
		}

		_, _ = fmt.Fprintln(stdout, msgServiceHealthy)

		return nil
	}

	log.Info(logSynthesizing, len([]rune(flags.text)), flags.ref, flags.server)

	written, err := synthesize(context.Background(), client, flags)
	if err != nil {
		log.Error("Synthesis failed: %v", err)

		return err
	}

	for _, path := range written {
		log.Info(logWrote, path)
		_, _ = fmt.Fprintf(stdout, "Generated: %s\n", path)
	}

	return nil
}

// parseFlags parses args into appFlags and checks the required ones.
func parseFlags(args []string) (appFlags, error) {
	var flags appFlags

	set := flag.NewFlagSet("voiceclone-client", flag.ContinueOnError)
	set.StringVar(&flags.ref, flagRef, "", flagRefDesc)
	set.StringVar(&flags.text, flagText, "", flagTextDesc)
	set.Float64Var(&flags.speed, flagSpeed, 1.0, flagSpeedDesc)
	set.StringVar(&flags.output, flagOutput, defaultOutputFile, flagOutputDesc)
	set.StringVar(&flags.spectrogram, flagSpectrogram, "", flagSpectrogramDesc)
	set.StringVar(&flags.server, flagServer, defaultServer, flagServerDesc)
	set.BoolVar(&flags.health, flagHealth, false, flagHealthDesc)

	err := set.Parse(args)
	if err != nil {
		return flags, fmt.Errorf("%w: %w", errFlags, err)
	}

	flags.server = strings.TrimRight(flags.server, "/")

	if flags.health {
		return flags, nil
	}

	if flags.ref == "" {
		return flags, fmt.Errorf("%w: %s", errFlags, errMissingRef)
	}

	if strings.TrimSpace(flags.text) == "" {
		return flags, fmt.Errorf("%w: %s", errFlags, errMissingText)
	}

	return flags, nil
}

func checkHealth(ctx context.Context, client *http.Client, server string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, server+"/healthz", nil)
	if err != nil {
		return fmt.Errorf("failed to create health check request: %w", err)
	}

	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("health check request failed: %w", err)
	}

	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%s: status %d", errServiceUnhealthy, resp.StatusCode)
	}

	return nil
}

// synthesize posts the request and writes the returned files. It returns the
// paths it wrote.
func synthesize(ctx context.Context, client *http.Client, flags appFlags) ([]string, error) {
	body, contentType, err := buildForm(flags)
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, flags.server+"/api/synthesize", body)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("Content-Type", contentType)

	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to send request: %w", err)
	}

	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		var apiErr httpapi.ErrorResponse

		decodeErr := json.NewDecoder(resp.Body).Decode(&apiErr)
		if decodeErr != nil || apiErr.Error == "" {
			return nil, fmt.Errorf("%w: status %d", errHTTPError, resp.StatusCode)
		}

		return nil, fmt.Errorf("%w: %s (%s)", errHTTPError, apiErr.Error, apiErr.Kind)
	}

	var result httpapi.SynthesizeResponse

	err = json.NewDecoder(resp.Body).Decode(&result)
	if err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}

	written := make([]string, 0, 2)

	err = writeBase64(flags.output, result.AudioWAVBase64)
	if err != nil {
		return nil, err
	}

	written = append(written, flags.output)

	if flags.spectrogram != "" {
		err = writeBase64(flags.spectrogram, result.SpectrogramPNGBase64)
		if err != nil {
			return written, err
		}

		written = append(written, flags.spectrogram)
	}

	return written, nil
}

func buildForm(flags appFlags) (io.Reader, string, error) {
	audio, err := os.ReadFile(flags.ref)
	if err != nil {
		return nil, "", fmt.Errorf("failed to read reference audio: %w", err)
	}

	var body bytes.Buffer

	writer := multipart.NewWriter(&body)

	part, err := writer.CreateFormFile(httpapi.FieldReferenceAudio, filepath.Base(flags.ref))
	if err != nil {
		return nil, "", fmt.Errorf("failed to create form file: %w", err)
	}

	_, err = part.Write(audio)
	if err != nil {
		return nil, "", fmt.Errorf("failed to write form file: %w", err)
	}

	fields := map[string]string{
		httpapi.FieldTargetText: flags.text,
		httpapi.FieldSpeed:      strconv.FormatFloat(flags.speed, 'f', -1, 64),
	}

	for name, value := range fields {
		err = writer.WriteField(name, value)
		if err != nil {
			return nil, "", fmt.Errorf("failed to write form field %s: %w", name, err)
		}
	}

	err = writer.Close()
	if err != nil {
		return nil, "", fmt.Errorf("failed to finalize form: %w", err)
	}

	return &body, writer.FormDataContentType(), nil
}

func writeBase64(path, encoded string) error {
	data, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return fmt.Errorf("failed to decode %s: %w", path, err)
	}

	dir := filepath.Dir(path)

	err = os.MkdirAll(dir, 0o750)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", dir, err)
	}

	err = os.WriteFile(path, data, 0o600)
	if err != nil {
		return fmt.Errorf("failed to write %s: %w", path, err)
	}

	return nil
}
