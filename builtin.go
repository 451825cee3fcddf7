package glowly

import (
	"context"
	"fmt"
	"math"
	"slices"
)

// DefaultPlaceholderModels returns the catalog entries that have no
// built-in implementation.
func DefaultPlaceholderModels() []ModelType {
	return []ModelType{
		ModelAgeEstimation,
		ModelGenderClassification,
		ModelBackgroundSegmentation,
		ModelMakeupApplication,
		ModelSkinQuality,
		ModelLandmarkRefinement,
	}
}

// BuiltinLoader loads the heuristic models that ship with the package.
// Types in its placeholder set, and types without a heuristic, fail with
// ErrPlaceholderModel.
type BuiltinLoader struct {
	th           Thresholds
	placeholders []ModelType
}

var _ ModelLoader = (*BuiltinLoader)(nil)

// NewBuiltinLoader creates a loader using th for its heuristics.
func NewBuiltinLoader(th Thresholds, placeholders []ModelType) *BuiltinLoader {
	return &BuiltinLoader{th: th, placeholders: slices.Clone(placeholders)}
}

// Load returns the heuristic model for desc.Type.
func (l *BuiltinLoader) Load(ctx context.Context, desc ModelDescriptor) (Model, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if slices.Contains(l.placeholders, desc.Type) {
		return nil, fmt.Errorf("%w: %s", ErrPlaceholderModel, desc.Type)
	}

	var fn func(Input) (Output, error)
	switch desc.Type {
	case ModelFaceDetection:
		fn = predictFaceness
	case ModelSkinToneClassifier:
		fn = l.predictSkinTone
	case ModelBeautyScore:
		fn = predictBeautyScore
	case ModelBeautyEnhancement:
		fn = predictIntensities
	default:
		return nil, fmt.Errorf("%w: %s has no built-in implementation", ErrPlaceholderModel, desc.Type)
	}
	return &heuristicModel{typ: desc.Type, predict: fn}, nil
}

type heuristicModel struct {
	typ     ModelType
	predict func(Input) (Output, error)
}

func (m *heuristicModel) Predict(ctx context.Context, in Input) (Output, error) {
	if err := ctx.Err(); err != nil {
		return Output{}, err
	}
	return m.predict(in)
}

func (m *heuristicModel) Close() error { return nil }

// predictFaceness scores how skin-like the region is.
func predictFaceness(in Input) (Output, error) {
	if in.Image == nil {
		return Output{}, fmt.Errorf("%w: no image", ErrUnsuitableInput)
	}
	region := in.Region
	if region.Empty() {
		region = in.Image.Bounds()
	}
	return Output{Value: skinRatio(in.Image, region)}, nil
}

func (l *BuiltinLoader) predictSkinTone(in Input) (Output, error) {
	st := ClassifySkinTone(in.Samples, l.th)
	if st == nil {
		return Output{}, fmt.Errorf("%w: no skin samples", ErrUnsuitableInput)
	}
	return Output{
		Label:  st.Category.String(),
		Scores: map[string]float64{"confidence": st.Confidence},
	}, nil
}

// predictBeautyScore weights the face quality features.
func predictBeautyScore(in Input) (Output, error) {
	f := in.Features
	v := 0.4*f["overall"] + 0.2*f["lighting"] + 0.2*f["pose"] + 0.2*f["expression"]
	return Output{Value: clamp01(v)}, nil
}

// predictIntensities derives a per-enhancement intensity from face features.
func predictIntensities(in Input) (Output, error) {
	f := in.Features
	skinConf, ok := f["skin_confidence"]
	if !ok {
		skinConf = 1
	}
	round := func(v float64) float64 { return math.Round(clamp01(v)*100) / 100 }
	return Output{Scores: map[string]float64{
		string(EnhancementSkinSmoothing):      round(0.2 + 0.2*f["sharpness"]),
		string(EnhancementEyeBrightening):     round(0.3 + 0.2*(1-f["lighting"])),
		string(EnhancementLightingCorrection): round(0.2 + 0.6*(1-f["lighting"])),
		string(EnhancementBlemishRemoval):     round(0.2 + 0.4*(1-skinConf)),
		string(EnhancementTeethWhitening):     round(0.15 + 0.15*f["expression"]),
		string(EnhancementFaceContouring):     round(0.1 + 0.15*f["pose"]),
	}}, nil
}
