package glowly

import (
	"context"
	"errors"
	"image"
	"testing"
)

func TestBuiltinLoaderDefaultCatalog(t *testing.T) {
	r := NewRegistry(DefaultCatalog(), NewBuiltinLoader(DefaultThresholds(), DefaultPlaceholderModels()))
	defer r.Close()

	report := r.LoadAll(context.Background())

	if got := len(report.Succeeded()); got != 4 {
		t.Errorf("Succeeded() = %v, want 4 built-in models", report.Succeeded())
	}
	if len(report.EssentialFailures()) != 0 {
		t.Errorf("EssentialFailures() = %v", report.EssentialFailures())
	}
	for _, res := range report.Failed() {
		var le *LoadError
		if !errors.As(res.Err, &le) || !le.IsPlaceholder() {
			t.Errorf("%s: err = %v, want placeholder", res.Type, res.Err)
		}
	}
	if !r.Initialized() {
		t.Error("Initialized() = false")
	}
}

func TestBuiltinLoaderPlaceholders(t *testing.T) {
	l := NewBuiltinLoader(DefaultThresholds(), []ModelType{ModelBeautyScore})
	ctx := context.Background()

	tests := []struct {
		typ  ModelType
		want error
	}{
		{ModelBeautyScore, ErrPlaceholderModel},
		{ModelAgeEstimation, ErrPlaceholderModel},
		{ModelFaceDetection, nil},
	}
	for _, tt := range tests {
		t.Run(string(tt.typ), func(t *testing.T) {
			_, err := l.Load(ctx, ModelDescriptor{Type: tt.typ})
			if !errors.Is(err, tt.want) {
				t.Errorf("Load() error = %v, want %v", err, tt.want)
			}
		})
	}

	canceled, cancel := context.WithCancel(ctx)
	cancel()
	if _, err := l.Load(canceled, ModelDescriptor{Type: ModelFaceDetection}); !errors.Is(err, context.Canceled) {
		t.Errorf("Load(canceled) error = %v", err)
	}
}

func TestBuiltinModels(t *testing.T) {
	l := NewBuiltinLoader(DefaultThresholds(), nil)
	ctx := context.Background()
	load := func(mt ModelType) Model {
		t.Helper()
		m, err := l.Load(ctx, ModelDescriptor{Type: mt})
		if err != nil {
			t.Fatal(err)
		}
		return m
	}

	box := image.Rect(50, 50, 150, 150)
	img := faceImage(200, 200, box, testSkin)
	face := load(ModelFaceDetection)

	out, err := face.Predict(ctx, Input{Image: img, Region: box})
	if err != nil || out.Value != 1 {
		t.Errorf("faceness(face) = %v, %v; want 1", out.Value, err)
	}
	out, _ = face.Predict(ctx, Input{Image: img, Region: image.Rect(0, 0, 40, 40)})
	if out.Value != 0 {
		t.Errorf("faceness(background) = %g, want 0", out.Value)
	}
	if _, err := face.Predict(ctx, Input{}); !errors.Is(err, ErrUnsuitableInput) {
		t.Errorf("faceness(no image) error = %v", err)
	}

	out, err = load(ModelSkinToneClassifier).Predict(ctx, Input{Samples: sampleSkin(img, box)})
	if err != nil {
		t.Fatal(err)
	}
	if out.Label != SkinToneLight.String() || out.Scores["confidence"] != 1 {
		t.Errorf("skin tone = %q %v", out.Label, out.Scores)
	}

	feats := map[string]float64{"overall": 1, "lighting": 1, "pose": 1, "expression": 1}
	out, _ = load(ModelBeautyScore).Predict(ctx, Input{Features: feats})
	if out.Value != 1 {
		t.Errorf("beauty score = %g, want 1", out.Value)
	}

	out, _ = load(ModelBeautyEnhancement).Predict(ctx, Input{Features: feats})
	if len(out.Scores) != len(AllEnhancementTypes) {
		t.Errorf("got %d intensities, want %d", len(out.Scores), len(AllEnhancementTypes))
	}
	if v := out.Scores[string(EnhancementEyeBrightening)]; v != 0.3 {
		t.Errorf("eye-brightening intensity = %g, want 0.3 in good light", v)
	}
	if v := out.Scores[string(EnhancementBlemishRemoval)]; v != 0.2 {
		t.Errorf("blemish intensity = %g, want 0.2 without skin features", v)
	}
}
