// Package tts implements voice cloning synthesis: the request handler, the
// chunked synthesis pipeline and the backends that run the model.
package tts

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/book-expert/voiceclone-service/internal/core"
)

// API endpoints and paths.
const (
	apiGenerateChunk = "/v1/generate/chunk"
	apiHealth        = "/health"
)

// HTTP headers.
const (
	headerContentType = "Content-Type"
	headerAccept      = "Accept"
	contentTypeJSON   = "application/json"
)

// Error messages.
const (
	errFmtServiceErrorWithCode = "generator service error (%s): %s (code: %s)"
	errFmtServiceNonOKStatus   = "generator service returned non-OK status: %s, body: %s"
)

// HTTPGenerator runs the model through a standalone inference service that
// exposes one chunk per request. It implements core.Generator.
type HTTPGenerator struct {
	httpClient *http.Client
	baseURL    string
}

// NewHTTPGenerator creates a generator for the service at baseURL, for
// example "http://127.0.0.1:8000". The timeout bounds each HTTP call.
func NewHTTPGenerator(baseURL string, timeout time.Duration) *HTTPGenerator {
	return &HTTPGenerator{
		baseURL: strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}
}

// Generate renders one chunk.
func (g *HTTPGenerator) Generate(ctx context.Context, job core.GenerateJob) (*core.GenerateOutput, error) {
	chunkReq, err := newChunkRequest(job)
	if err != nil {
		return nil, err
	}

	requestBody, err := json.Marshal(chunkReq)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(
		ctx,
		http.MethodPost,
		g.baseURL+apiGenerateChunk,
		bytes.NewReader(requestBody),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	httpReq.Header.Set(headerContentType, contentTypeJSON)
	httpReq.Header.Set(headerAccept, contentTypeJSON)

	resp, err := g.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("failed to send request to generator at %s: %w", g.baseURL, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, parseErrorResponse(resp)
	}

	var chunkResp ChunkResponse

	err = json.NewDecoder(resp.Body).Decode(&chunkResp)
	if err != nil {
		return nil, fmt.Errorf("failed to decode generator response: %w", err)
	}

	return chunkResp.toOutput()
}

// HealthCheck verifies that the inference service is running.
func (g *HTTPGenerator) HealthCheck(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, g.baseURL+apiHealth, http.NoBody)
	if err != nil {
		return fmt.Errorf("failed to create health check request: %w", err)
	}

	resp, err := g.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("health check failed for generator at %s: %w", g.baseURL, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("health check failed with status: %s", resp.Status)
	}

	return nil
}

// parseErrorResponse decodes a structured JSON error and falls back to the
// raw body.
func parseErrorResponse(resp *http.Response) error {
	body, _ := io.ReadAll(resp.Body)

	var errorResp GeneratorErrorResponse

	err := json.Unmarshal(body, &errorResp)
	if err == nil && errorResp.Detail != "" {
		return fmt.Errorf(errFmtServiceErrorWithCode, resp.Status, errorResp.Detail, errorResp.ErrorCode)
	}

	return fmt.Errorf(errFmtServiceNonOKStatus, resp.Status, string(body))
}
