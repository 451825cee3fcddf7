package glowly

import (
	"context"
	"errors"
	"fmt"
)

// Sentinel errors for model lifecycle and analysis operations.
// Use errors.Is() to check for specific error conditions.
var (
	// ErrNotInitialized indicates analysis was requested before every
	// essential model had been attempted.
	ErrNotInitialized = errors.New("glowly: essential models not initialized")

	// ErrUnsuitableInput indicates the image is outside the accepted size bounds.
	ErrUnsuitableInput = errors.New("glowly: unsuitable input image")

	// ErrModelNotLoaded indicates the requested model is not in the loaded set.
	ErrModelNotLoaded = errors.New("glowly: model not loaded")

	// ErrUnknownModel indicates the model type is not present in the catalog.
	ErrUnknownModel = errors.New("glowly: model not in catalog")

	// ErrInferenceFailed indicates a loaded model failed while executing.
	ErrInferenceFailed = errors.New("glowly: inference failed")

	// ErrFaceDetectionFailed indicates the face-geometry detector returned an error.
	ErrFaceDetectionFailed = errors.New("glowly: face detection failed")

	// ErrLoadFailed indicates a model could not be loaded.
	// Returned wrapped in a *LoadError carrying the reason.
	ErrLoadFailed = errors.New("glowly: model load failed")

	// ErrPlaceholderModel indicates the model type exists in the catalog but
	// has no usable implementation. It is always reported as a LoadFailed reason.
	ErrPlaceholderModel = errors.New("glowly: placeholder model")

	// ErrLoadCanceled indicates an in-flight load was canceled by Unload or Close.
	ErrLoadCanceled = errors.New("glowly: model load canceled")

	// ErrResourceExhausted indicates the memory budget could not be met even
	// after evicting every non-essential model.
	ErrResourceExhausted = errors.New("glowly: memory budget exhausted")

	// ErrInvalidFeedback indicates a feedback event failed validation.
	ErrInvalidFeedback = errors.New("glowly: invalid feedback")

	// ErrClosed indicates the component has been shut down.
	ErrClosed = errors.New("glowly: closed")

	// ErrAlreadyRunning indicates real-time tracking is already active.
	ErrAlreadyRunning = errors.New("glowly: real-time tracking already running")
)

// LoadError records why a single model failed to load.
type LoadError struct {
	// Model is the model type whose load failed.
	Model ModelType

	// Err is the underlying reason.
	Err error
}

func (e *LoadError) Error() string {
	return fmt.Sprintf("%v: %s: %v", ErrLoadFailed, e.Model, e.Err)
}

// Unwrap exposes both ErrLoadFailed and the reason to errors.Is.
func (e *LoadError) Unwrap() []error {
	return []error{ErrLoadFailed, e.Err}
}

// IsPlaceholder reports whether the failure is the intentional
// placeholder outcome rather than an infrastructure error.
func (e *LoadError) IsPlaceholder() bool {
	return errors.Is(e.Err, ErrPlaceholderModel)
}

// Recovery is a suggested caller action for an error.
type Recovery string

const (
	RecoveryNone                  Recovery = "none"
	RecoveryRetry                 Recovery = "retry"
	RecoveryWaitForInitialization Recovery = "wait-for-initialization"
	RecoveryFreeMemory            Recovery = "free-memory"
	RecoveryUseDifferentImage     Recovery = "use-different-image"
)

// ErrorDescription is the user-facing rendering of an error.
type ErrorDescription struct {
	Message  string   `json:"message"`
	Recovery Recovery `json:"recovery"`
}

// Describe maps an error to a short human-readable message and a suggested
// recovery action. Unknown errors get a generic message and RecoveryNone.
func Describe(err error) ErrorDescription {
	switch {
	case err == nil:
		return ErrorDescription{Message: "No error.", Recovery: RecoveryNone}
	case errors.Is(err, ErrNotInitialized):
		return ErrorDescription{Message: "The analysis models are still starting up.", Recovery: RecoveryWaitForInitialization}
	case errors.Is(err, ErrUnsuitableInput):
		return ErrorDescription{Message: "The photo is too small or too large to analyze.", Recovery: RecoveryUseDifferentImage}
	case errors.Is(err, ErrResourceExhausted):
		return ErrorDescription{Message: "Not enough memory is available to load the model.", Recovery: RecoveryFreeMemory}
	case errors.Is(err, ErrPlaceholderModel):
		return ErrorDescription{Message: "This feature is not available yet.", Recovery: RecoveryNone}
	case errors.Is(err, ErrLoadCanceled):
		return ErrorDescription{Message: "Model loading was canceled.", Recovery: RecoveryRetry}
	case errors.Is(err, ErrLoadFailed):
		return ErrorDescription{Message: "A model failed to load.", Recovery: RecoveryRetry}
	case errors.Is(err, ErrModelNotLoaded):
		return ErrorDescription{Message: "The required model is not loaded.", Recovery: RecoveryWaitForInitialization}
	case errors.Is(err, ErrFaceDetectionFailed):
		return ErrorDescription{Message: "Faces could not be detected in this photo.", Recovery: RecoveryRetry}
	case errors.Is(err, ErrInferenceFailed):
		return ErrorDescription{Message: "The analysis model failed.", Recovery: RecoveryRetry}
	case errors.Is(err, ErrInvalidFeedback):
		return ErrorDescription{Message: "The feedback could not be recorded.", Recovery: RecoveryNone}
	case errors.Is(err, ErrAlreadyRunning):
		return ErrorDescription{Message: "Live tracking is already running.", Recovery: RecoveryNone}
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return ErrorDescription{Message: "The operation was interrupted.", Recovery: RecoveryRetry}
	default:
		return ErrorDescription{Message: "Something went wrong.", Recovery: RecoveryNone}
	}
}
