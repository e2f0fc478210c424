package core_test

import (
	"errors"
	"fmt"
	"testing"

	"github.com/book-expert/voiceclone-service/internal/core"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var errDecoder = errors.New("decoder exploded")

func TestRequestError_InvalidInput(t *testing.T) {
	t.Parallel()

	err := core.NewInvalidInput(core.MsgMissingTargetText)

	assert.Equal(t, "InvalidInput: missing target text", err.Error())
	require.ErrorIs(t, err, core.ErrInvalidInput)
	assert.NotErrorIs(t, err, core.ErrInferenceFailure)
}

func TestRequestError_InferenceFailureKeepsCause(t *testing.T) {
	t.Parallel()

	wrapped := fmt.Errorf("synthesis: %w", errDecoder)
	err := core.NewInferenceFailure(wrapped)

	require.ErrorIs(t, err, core.ErrInferenceFailure)
	require.ErrorIs(t, err, errDecoder)
	assert.Contains(t, err.Error(), "decoder exploded")
	assert.Equal(t, core.KindInferenceFailure, err.Kind)
}

func TestAsRequestError(t *testing.T) {
	t.Parallel()

	original := core.NewInvalidInput(core.MsgMissingReferenceAudio)
	wrapped := fmt.Errorf("handler: %w", original)

	assert.Same(t, original, core.AsRequestError(wrapped))

	converted := core.AsRequestError(errDecoder)
	assert.Equal(t, core.KindInferenceFailure, converted.Kind)
	require.ErrorIs(t, converted, errDecoder)
}
