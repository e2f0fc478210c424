package core

import (
	"errors"
	"fmt"
)

// Error categories surfaced to callers.
var (
	// ErrInvalidInput marks a request that failed a precondition.
	ErrInvalidInput = errors.New("InvalidInput")
	// ErrInferenceFailure marks a failure during preprocessing or synthesis.
	ErrInferenceFailure = errors.New("InferenceFailure")
	// ErrStartup marks a fatal failure while building the model handles.
	ErrStartup = errors.New("StartupFailure")
)

// Validation messages.
const (
	MsgMissingReferenceAudio = "missing reference audio"
	MsgMissingTargetText     = "missing target text"
	MsgSpeedOutOfRange       = "speed out of range"
)

// Kind identifies the category of a RequestError.
type Kind string

// Request error kinds.
const (
	KindInvalidInput     Kind = "invalid_input"
	KindInferenceFailure Kind = "inference_failure"
)

// RequestError is the single user-facing error type returned by the inference
// handler. It unwraps to both the category sentinel and the underlying cause.
type RequestError struct {
	Kind    Kind
	Message string
	Cause   error
}

// NewInvalidInput creates a RequestError of kind KindInvalidInput.
func NewInvalidInput(message string) *RequestError {
	return &RequestError{Kind: KindInvalidInput, Message: message, Cause: nil}
}

// NewInferenceFailure wraps cause as a RequestError of kind KindInferenceFailure.
func NewInferenceFailure(cause error) *RequestError {
	return &RequestError{Kind: KindInferenceFailure, Message: cause.Error(), Cause: cause}
}

func (e *RequestError) Error() string {
	return fmt.Sprintf("%s: %s", e.sentinel(), e.Message)
}

// Unwrap exposes the category sentinel and the cause to errors.Is / errors.As.
func (e *RequestError) Unwrap() []error {
	if e.Cause == nil {
		return []error{e.sentinel()}
	}

	return []error{e.sentinel(), e.Cause}
}

func (e *RequestError) sentinel() error {
	if e.Kind == KindInvalidInput {
		return ErrInvalidInput
	}

	return ErrInferenceFailure
}

// AsRequestError converts any error into a RequestError, treating unknown
// errors as inference failures.
func AsRequestError(err error) *RequestError {
	var reqErr *RequestError
	if errors.As(err, &reqErr) {
		return reqErr
	}

	return NewInferenceFailure(err)
}
