package tts

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/exec"

	"github.com/book-expert/logger"
	"github.com/book-expert/voiceclone-service/internal/core"
)

const (
	requestFilePattern  = "f5-chunk-request-*.json"
	responseFilePattern = "f5-chunk-response-*.json"
)

// ExecGenerator runs the model by invoking a local inference binary once per
// chunk:
//
//	<binary> --request in.json --output out.json
//
// It implements core.Generator.
type ExecGenerator struct {
	binaryPath string
	log        *logger.Logger
}

// NewExecGenerator creates a generator for the given binary.
func NewExecGenerator(binaryPath string, log *logger.Logger) *ExecGenerator {
	return &ExecGenerator{
		binaryPath: binaryPath,
		log:        log,
	}
}

// Generate renders one chunk.
func (g *ExecGenerator) Generate(ctx context.Context, job core.GenerateJob) (*core.GenerateOutput, error) {
	chunkReq, err := newChunkRequest(job)
	if err != nil {
		return nil, err
	}

	requestPath, err := g.writeRequest(chunkReq)
	if err != nil {
		return nil, err
	}
	defer g.remove(requestPath)

	responseFile, err := os.CreateTemp("", responseFilePattern)
	if err != nil {
		return nil, fmt.Errorf("failed to create temp file for generator output: %w", err)
	}

	responsePath := responseFile.Name()
	_ = responseFile.Close()

	defer g.remove(responsePath)

	// #nosec G204 -- binary path comes from service configuration, file paths are our temp files
	cmd := exec.CommandContext(ctx, g.binaryPath, "--request", requestPath, "--output", responsePath)

	output, err := cmd.CombinedOutput()
	if err != nil {
		return nil, fmt.Errorf("generator binary execution failed: %w - output: %s", err, string(output))
	}

	data, err := os.ReadFile(responsePath)
	if err != nil {
		return nil, fmt.Errorf("failed to read generator output: %w", err)
	}

	var chunkResp ChunkResponse

	err = json.Unmarshal(data, &chunkResp)
	if err != nil {
		return nil, fmt.Errorf("failed to decode generator output: %w", err)
	}

	return chunkResp.toOutput()
}

// HealthCheck verifies that the binary can be found and executed.
func (g *ExecGenerator) HealthCheck(_ context.Context) error {
	_, err := exec.LookPath(g.binaryPath)
	if err != nil {
		return fmt.Errorf("generator binary %q not usable: %w", g.binaryPath, err)
	}

	return nil
}

func (g *ExecGenerator) writeRequest(chunkReq *ChunkRequest) (string, error) {
	file, err := os.CreateTemp("", requestFilePattern)
	if err != nil {
		return "", fmt.Errorf("failed to create temp file for generator request: %w", err)
	}

	encodeErr := json.NewEncoder(file).Encode(chunkReq)
	closeErr := file.Close()

	if encodeErr != nil || closeErr != nil {
		g.remove(file.Name())

		return "", fmt.Errorf("failed to write generator request: %w", errors.Join(encodeErr, closeErr))
	}

	return file.Name(), nil
}

func (g *ExecGenerator) remove(path string) {
	removeErr := os.Remove(path)
	if removeErr != nil && !os.IsNotExist(removeErr) {
		g.log.Warn("Failed to remove temp file '%s': %v", path, removeErr)
	}
}
