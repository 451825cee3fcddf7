package glowly

import (
	"context"
	"image"
	"image/color"
	"runtime"
)

// Model is an opaque, loaded, invocable inference unit.
// Implementations must be safe for concurrent Predict calls.
type Model interface {
	// Predict runs one inference.
	Predict(ctx context.Context, in Input) (Output, error)

	// Close releases the model's resources. Called once on unload.
	Close() error
}

// Input is the generic input to a model. Each model type reads the
// fields relevant to it and ignores the rest.
type Input struct {
	// Image is the source image, if any.
	Image image.Image

	// Region restricts the model to part of Image. Zero means the whole image.
	Region image.Rectangle

	// Samples are pre-averaged colors (skin-tone regions, for example).
	Samples []color.RGBA

	// Points are normalized landmark points.
	Points []Point

	// Features carries named scalar features.
	Features map[string]float64
}

// Output is the generic output of a model.
type Output struct {
	// Label is the top class for classifiers.
	Label string

	// Scores holds named per-class or per-feature scores.
	Scores map[string]float64

	// Value is the scalar output for regressors.
	Value float64

	// Points holds refined points for geometry models.
	Points []Point
}

// ModelLoader produces a Model for a descriptor.
// Implementations report intentionally unimplemented models by returning
// an error wrapping ErrPlaceholderModel.
type ModelLoader interface {
	Load(ctx context.Context, desc ModelDescriptor) (Model, error)
}

// ModelLoaderFunc adapts a function to the ModelLoader interface.
type ModelLoaderFunc func(ctx context.Context, desc ModelDescriptor) (Model, error)

// Load calls f(ctx, desc).
func (f ModelLoaderFunc) Load(ctx context.Context, desc ModelDescriptor) (Model, error) {
	return f(ctx, desc)
}

// DetectedFace is one face reported by a FaceDetector, in pixel space.
type DetectedFace struct {
	Box        image.Rectangle
	Confidence float64

	// Points are optional raw landmark points. When exactly 68 points are
	// given they are read in the iBUG 300-W ordering.
	Points []image.Point
}

// FaceDetector is the face-geometry capability the pipeline builds on.
// It is supplied by the platform and is not a model owned by the registry.
type FaceDetector interface {
	Detect(ctx context.Context, img image.Image) ([]DetectedFace, error)
}

// FaceDetectorFunc adapts a function to the FaceDetector interface.
type FaceDetectorFunc func(ctx context.Context, img image.Image) ([]DetectedFace, error)

// Detect calls f(ctx, img).
func (f FaceDetectorFunc) Detect(ctx context.Context, img image.Image) ([]DetectedFace, error) {
	return f(ctx, img)
}

// PreferenceStore persists per-user enhancement preferences and feedback.
type PreferenceStore interface {
	// Preferences returns the stored weight per enhancement category.
	// Unknown users return an empty map and no error.
	Preferences(ctx context.Context, userID string) (Preferences, error)

	// RecordFeedback persists one feedback event.
	RecordFeedback(ctx context.Context, userID string, ev FeedbackEvent) error
}

// AnalyticsSink receives fire-and-forget events.
// RecordEvent must not block on delivery.
type AnalyticsSink interface {
	RecordEvent(name string, props map[string]any)
}

type noopSink struct{}

func (noopSink) RecordEvent(string, map[string]any) {}

type memoryPreferences struct{}

func (memoryPreferences) Preferences(context.Context, string) (Preferences, error) {
	return Preferences{}, nil
}

func (memoryPreferences) RecordFeedback(context.Context, string, FeedbackEvent) error {
	return nil
}

// PressureSource reports memory pressure in [0, 1].
type PressureSource interface {
	Pressure() float64
}

// PressureFunc adapts a function to the PressureSource interface.
type PressureFunc func() float64

// Pressure calls f().
func (f PressureFunc) Pressure() float64 { return f() }

// RuntimePressure derives pressure from the Go heap against a byte budget.
// A zero Budget always reports zero pressure.
type RuntimePressure struct {
	Budget uint64
}

// Pressure returns HeapInuse / Budget, clamped to [0, 1].
func (p RuntimePressure) Pressure() float64 {
	if p.Budget == 0 {
		return 0
	}
	var ms runtime.MemStats
	runtime.ReadMemStats(&ms)
	return clamp01(float64(ms.HeapInuse) / float64(p.Budget))
}
