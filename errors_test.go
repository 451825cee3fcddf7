package glowly

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
)

func TestErrorMessages(t *testing.T) {
	sentinels := []struct {
		name string
		err  error
	}{
		{"ErrNotInitialized", ErrNotInitialized},
		{"ErrUnsuitableInput", ErrUnsuitableInput},
		{"ErrModelNotLoaded", ErrModelNotLoaded},
		{"ErrUnknownModel", ErrUnknownModel},
		{"ErrInferenceFailed", ErrInferenceFailed},
		{"ErrFaceDetectionFailed", ErrFaceDetectionFailed},
		{"ErrLoadFailed", ErrLoadFailed},
		{"ErrPlaceholderModel", ErrPlaceholderModel},
		{"ErrLoadCanceled", ErrLoadCanceled},
		{"ErrResourceExhausted", ErrResourceExhausted},
		{"ErrInvalidFeedback", ErrInvalidFeedback},
		{"ErrClosed", ErrClosed},
		{"ErrAlreadyRunning", ErrAlreadyRunning},
	}

	for _, tt := range sentinels {
		t.Run(tt.name, func(t *testing.T) {
			if !strings.HasPrefix(tt.err.Error(), "glowly: ") {
				t.Errorf("%s: message %q does not have 'glowly: ' prefix", tt.name, tt.err.Error())
			}

			wrapped := fmt.Errorf("outer context: %w", fmt.Errorf("operation failed: %w", tt.err))
			if !errors.Is(wrapped, tt.err) {
				t.Errorf("errors.Is(doubleWrapped, %s) = false, want true", tt.name)
			}
		})
	}
}

func TestLoadErrorUnwrap(t *testing.T) {
	reason := fmt.Errorf("%w: no weights", ErrPlaceholderModel)
	err := error(&LoadError{Model: ModelMakeupApplication, Err: reason})

	if !errors.Is(err, ErrLoadFailed) {
		t.Error("LoadError should match ErrLoadFailed")
	}
	if !errors.Is(err, ErrPlaceholderModel) {
		t.Error("LoadError should match its reason")
	}

	var lerr *LoadError
	if !errors.As(err, &lerr) {
		t.Fatal("errors.As(*LoadError) = false")
	}
	if !lerr.IsPlaceholder() {
		t.Error("IsPlaceholder() = false, want true")
	}
	if !strings.Contains(err.Error(), string(ModelMakeupApplication)) {
		t.Errorf("message %q does not name the model", err.Error())
	}

	infra := &LoadError{Model: ModelFaceDetection, Err: errors.New("disk unreadable")}
	if infra.IsPlaceholder() {
		t.Error("infrastructure failure reported as placeholder")
	}
}

func TestDescribe(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want Recovery
	}{
		{"nil", nil, RecoveryNone},
		{"not initialized", ErrNotInitialized, RecoveryWaitForInitialization},
		{"unsuitable input", fmt.Errorf("50x50: %w", ErrUnsuitableInput), RecoveryUseDifferentImage},
		{"resource exhausted", ErrResourceExhausted, RecoveryFreeMemory},
		{"placeholder", &LoadError{Model: ModelAgeEstimation, Err: ErrPlaceholderModel}, RecoveryNone},
		{"load failed", &LoadError{Model: ModelFaceDetection, Err: errors.New("io")}, RecoveryRetry},
		{"model not loaded", ErrModelNotLoaded, RecoveryWaitForInitialization},
		{"detection failed", ErrFaceDetectionFailed, RecoveryRetry},
		{"inference failed", ErrInferenceFailed, RecoveryRetry},
		{"canceled", context.Canceled, RecoveryRetry},
		{"unknown", errors.New("boom"), RecoveryNone},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Describe(tt.err)
			if got.Recovery != tt.want {
				t.Errorf("Describe(%v).Recovery = %q, want %q", tt.err, got.Recovery, tt.want)
			}
			if got.Message == "" {
				t.Error("Describe returned empty message")
			}
		})
	}
}
