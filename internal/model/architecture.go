// Package model builds the immutable model and vocoder handles the service
// runs with. Everything here happens once at startup; any failure is fatal.
package model

import (
	"errors"
	"fmt"

	"github.com/book-expert/voiceclone-service/internal/core"
)

// Fixed diffusion transformer hyperparameters of the shipped checkpoint.
const (
	archDim        = 1024
	archDepth      = 22
	archHeads      = 16
	archFFMult     = 2
	archTextDim    = 512
	archConvLayers = 4
)

// ErrInvalidArchitecture is returned when a hyperparameter is unusable.
var ErrInvalidArchitecture = errors.New("invalid model architecture")

// DefaultArchitecture returns the hyperparameters the checkpoint was trained with.
func DefaultArchitecture() core.Architecture {
	return core.Architecture{
		Dim:        archDim,
		Depth:      archDepth,
		Heads:      archHeads,
		FFMult:     archFFMult,
		TextDim:    archTextDim,
		ConvLayers: archConvLayers,
	}
}

// ValidateArchitecture checks that every dimension is positive and that the
// hidden size splits evenly across attention heads.
func ValidateArchitecture(arch core.Architecture) error {
	fields := []struct {
		name  string
		value int
	}{
		{"dim", arch.Dim},
		{"depth", arch.Depth},
		{"heads", arch.Heads},
		{"ff_mult", arch.FFMult},
		{"text_dim", arch.TextDim},
		{"conv_layers", arch.ConvLayers},
	}

	for _, field := range fields {
		if field.value <= 0 {
			return fmt.Errorf("%w: %s must be positive, got %d", ErrInvalidArchitecture, field.name, field.value)
		}
	}

	if arch.Dim%arch.Heads != 0 {
		return fmt.Errorf("%w: dim %d is not divisible by %d heads", ErrInvalidArchitecture, arch.Dim, arch.Heads)
	}

	return nil
}
