package glowly

import (
	"fmt"
	"image"
	"image/color"
	"math"
	"strings"
	"time"
)

// ModelType identifies one of the on-device models coordinated by the registry.
type ModelType string

const (
	ModelFaceDetection          ModelType = "face-detection"
	ModelBeautyEnhancement      ModelType = "beauty-enhancement"
	ModelSkinToneClassifier     ModelType = "skin-tone-classifier"
	ModelBeautyScore            ModelType = "beauty-score-predictor"
	ModelAgeEstimation          ModelType = "age-estimation"
	ModelGenderClassification   ModelType = "gender-classification"
	ModelBackgroundSegmentation ModelType = "background-segmentation"
	ModelLandmarkRefinement     ModelType = "landmark-refinement"
	ModelSkinQuality            ModelType = "skin-quality"
	ModelMakeupApplication      ModelType = "makeup-application"
)

// AllModelTypes lists every model type in declaration order.
var AllModelTypes = []ModelType{
	ModelFaceDetection,
	ModelBeautyEnhancement,
	ModelSkinToneClassifier,
	ModelBeautyScore,
	ModelAgeEstimation,
	ModelGenderClassification,
	ModelBackgroundSegmentation,
	ModelLandmarkRefinement,
	ModelSkinQuality,
	ModelMakeupApplication,
}

// ParseModelType returns the ModelType named by s.
// Matching is case-insensitive. Returns ErrUnknownModel for anything else.
func ParseModelType(s string) (ModelType, error) {
	want := strings.ToLower(strings.TrimSpace(s))
	for _, t := range AllModelTypes {
		if string(t) == want {
			return t, nil
		}
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownModel, s)
}

// Point is a 2-D point in normalized image coordinates (0-1, origin top-left).
type Point struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// Rect is a rectangle in normalized image coordinates (0-1, origin top-left).
type Rect struct {
	X      float64 `json:"x"`
	Y      float64 `json:"y"`
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
}

// NormalizeRect converts a pixel rectangle inside bounds to normalized coordinates.
func NormalizeRect(r, bounds image.Rectangle) Rect {
	w, h := float64(bounds.Dx()), float64(bounds.Dy())
	if w == 0 || h == 0 {
		return Rect{}
	}
	return Rect{
		X:      float64(r.Min.X-bounds.Min.X) / w,
		Y:      float64(r.Min.Y-bounds.Min.Y) / h,
		Width:  float64(r.Dx()) / w,
		Height: float64(r.Dy()) / h,
	}
}

// ToPixels converts r to a pixel rectangle inside bounds.
func (r Rect) ToPixels(bounds image.Rectangle) image.Rectangle {
	w, h := float64(bounds.Dx()), float64(bounds.Dy())
	x0 := bounds.Min.X + int(math.Round(r.X*w))
	y0 := bounds.Min.Y + int(math.Round(r.Y*h))
	x1 := bounds.Min.X + int(math.Round((r.X+r.Width)*w))
	y1 := bounds.Min.Y + int(math.Round((r.Y+r.Height)*h))
	return image.Rect(x0, y0, x1, y1).Intersect(bounds)
}

// Area returns the normalized area of r.
func (r Rect) Area() float64 {
	if r.Width <= 0 || r.Height <= 0 {
		return 0
	}
	return r.Width * r.Height
}

// Center returns the center point of r.
func (r Rect) Center() Point {
	return Point{X: r.X + r.Width/2, Y: r.Y + r.Height/2}
}

// Contains reports whether o lies entirely inside r.
func (r Rect) Contains(o Rect) bool {
	return o.X >= r.X && o.Y >= r.Y &&
		o.X+o.Width <= r.X+r.Width &&
		o.Y+o.Height <= r.Y+r.Height
}

// IoU returns the intersection-over-union of r and o, in [0, 1].
func (r Rect) IoU(o Rect) float64 {
	x0 := math.Max(r.X, o.X)
	y0 := math.Max(r.Y, o.Y)
	x1 := math.Min(r.X+r.Width, o.X+o.Width)
	y1 := math.Min(r.Y+r.Height, o.Y+o.Height)
	if x1 <= x0 || y1 <= y0 {
		return 0
	}
	inter := (x1 - x0) * (y1 - y0)
	union := r.Area() + o.Area() - inter
	if union <= 0 {
		return 0
	}
	return inter / union
}

// FaceLandmarks holds ordered point sequences for each facial region.
type FaceLandmarks struct {
	LeftEye      []Point `json:"left_eye"`
	RightEye     []Point `json:"right_eye"`
	LeftEyebrow  []Point `json:"left_eyebrow"`
	RightEyebrow []Point `json:"right_eyebrow"`
	Nose         []Point `json:"nose"`
	Lips         []Point `json:"lips"`
	Contour      []Point `json:"contour"`
}

// All returns every landmark point, region by region.
func (l *FaceLandmarks) All() []Point {
	if l == nil {
		return nil
	}
	var pts []Point
	for _, region := range [][]Point{l.Contour, l.LeftEyebrow, l.RightEyebrow, l.Nose, l.LeftEye, l.RightEye, l.Lips} {
		pts = append(pts, region...)
	}
	return pts
}

// FaceQuality scores a single face. Every field is in [0, 1].
// Overall is the unweighted mean of the other five.
type FaceQuality struct {
	Overall    float64 `json:"overall"`
	Lighting   float64 `json:"lighting"`
	Sharpness  float64 `json:"sharpness"`
	Pose       float64 `json:"pose"`
	Expression float64 `json:"expression"`
	Occlusion  float64 `json:"occlusion"`
}

// SkinToneCategory is one of six ordered skin-tone buckets, lightest first.
type SkinToneCategory int

const (
	SkinToneVeryLight SkinToneCategory = iota
	SkinToneLight
	SkinToneMediumLight
	SkinToneMediumDark
	SkinToneDark
	SkinToneVeryDark
)

var skinToneNames = [...]string{"very-light", "light", "medium-light", "medium-dark", "dark", "very-dark"}

func (c SkinToneCategory) String() string {
	if c < 0 || int(c) >= len(skinToneNames) {
		return fmt.Sprintf("SkinToneCategory(%d)", int(c))
	}
	return skinToneNames[c]
}

// MarshalText renders the category by name.
func (c SkinToneCategory) MarshalText() ([]byte, error) {
	return []byte(c.String()), nil
}

// UnmarshalText parses a category name.
func (c *SkinToneCategory) UnmarshalText(b []byte) error {
	v, err := ParseSkinToneCategory(string(b))
	if err != nil {
		return err
	}
	*c = v
	return nil
}

// ParseSkinToneCategory parses a category name such as "medium-light".
func ParseSkinToneCategory(s string) (SkinToneCategory, error) {
	for i, name := range skinToneNames {
		if name == s {
			return SkinToneCategory(i), nil
		}
	}
	return 0, fmt.Errorf("glowly: unknown skin tone %q", s)
}

// Undertone is the warm/cool/neutral cast of a skin sample.
type Undertone string

const (
	UndertoneWarm    Undertone = "warm"
	UndertoneCool    Undertone = "cool"
	UndertoneNeutral Undertone = "neutral"
)

// SkinToneAnalysis is the skin-tone stage output for a single face.
type SkinToneAnalysis struct {
	DominantColor color.RGBA       `json:"dominant_color"`
	Category      SkinToneCategory `json:"category"`
	Undertone     Undertone        `json:"undertone"`
	Confidence    float64          `json:"confidence"`
}

// FaceObservation describes one detected face in one image.
// Created per analysis call and never modified afterwards.
type FaceObservation struct {
	// Index is the face's position in detection order.
	Index int `json:"index"`

	// BoundingBox is the face box in normalized coordinates.
	BoundingBox Rect `json:"bounding_box"`

	// PixelBox is the face box in pixel coordinates.
	PixelBox image.Rectangle `json:"pixel_box"`

	// Confidence is the detection confidence in [0, 1].
	Confidence float64 `json:"confidence"`

	// Landmarks is nil when the face fell below the landmark confidence threshold.
	Landmarks *FaceLandmarks `json:"landmarks,omitempty"`

	Quality FaceQuality `json:"quality"`

	// SkinTone is nil when sampling was skipped (real-time path) or impossible.
	SkinTone *SkinToneAnalysis `json:"skin_tone,omitempty"`

	// BeautyScore is set only when the beauty-score model is loaded. Range 0-1.
	BeautyScore *float64 `json:"beauty_score,omitempty"`
}

// ImageQuality is the face-independent assessment of an image.
type ImageQuality struct {
	Score       float64 `json:"score"`
	Resolution  float64 `json:"resolution"`
	AspectRatio float64 `json:"aspect_ratio"`
	Width       int     `json:"width"`
	Height      int     `json:"height"`
}

// Scene labels.
const (
	SceneNoFaces  = "no-faces"
	ScenePortrait = "portrait"
	SceneCloseUp  = "close-up"
	SceneGroup    = "group"
)

// SceneClassification is a coarse description of the image content.
type SceneClassification struct {
	Label      string  `json:"label"`
	Confidence float64 `json:"confidence"`

	// Lighting is the mean luma of the whole image in [0, 1].
	Lighting float64 `json:"lighting"`
}

// EnhancementType names a candidate enhancement.
type EnhancementType string

const (
	EnhancementSkinSmoothing      EnhancementType = "skin-smoothing"
	EnhancementEyeBrightening     EnhancementType = "eye-brightening"
	EnhancementTeethWhitening     EnhancementType = "teeth-whitening"
	EnhancementLightingCorrection EnhancementType = "lighting-correction"
	EnhancementBlemishRemoval     EnhancementType = "blemish-removal"
	EnhancementFaceContouring     EnhancementType = "face-contouring"
)

// AllEnhancementTypes lists every enhancement type.
var AllEnhancementTypes = []EnhancementType{
	EnhancementSkinSmoothing,
	EnhancementEyeBrightening,
	EnhancementTeethWhitening,
	EnhancementLightingCorrection,
	EnhancementBlemishRemoval,
	EnhancementFaceContouring,
}

// ParseEnhancementType returns the EnhancementType named by s.
func ParseEnhancementType(s string) (EnhancementType, error) {
	for _, t := range AllEnhancementTypes {
		if string(t) == s {
			return t, nil
		}
	}
	return "", fmt.Errorf("glowly: unknown enhancement %q", s)
}

// EnhancementOpportunity is a candidate enhancement prior to personalization.
type EnhancementOpportunity struct {
	Type EnhancementType `json:"type"`

	// FaceIndex is the index of the face that triggered the opportunity.
	FaceIndex int `json:"face_index"`

	Confidence           float64 `json:"confidence"`
	RecommendedIntensity float64 `json:"recommended_intensity"`
	Rationale            string  `json:"rationale"`
}

// AnalysisResult is the output of one still-image analysis.
// Immutable once returned.
type AnalysisResult struct {
	Faces         []FaceObservation        `json:"faces"`
	ImageQuality  ImageQuality             `json:"image_quality"`
	Scene         SceneClassification      `json:"scene"`
	Opportunities []EnhancementOpportunity `json:"opportunities"`

	// OverallConfidence is 0 when no faces were found.
	OverallConfidence float64 `json:"overall_confidence"`

	ProcessingDuration time.Duration `json:"processing_duration"`
	AnalyzedAt         time.Time     `json:"analyzed_at"`
}

// PerformanceMetrics is a process-wide snapshot rebuilt on every sample.
type PerformanceMetrics struct {
	ModelsLoaded         int           `json:"models_loaded"`
	AverageInferenceTime time.Duration `json:"average_inference_time"`

	// MemoryEstimate is the summed estimate of all loaded models in bytes.
	MemoryEstimate int64 `json:"memory_estimate"`

	RealTimeFPS          float64       `json:"real_time_fps"`
	LastAnalysisDuration time.Duration `json:"last_analysis_duration"`
	AnalysesCompleted    int64         `json:"analyses_completed"`
	AnalysesFailed       int64         `json:"analyses_failed"`
	SampledAt            time.Time     `json:"sampled_at"`
}

func clamp01(v float64) float64 {
	switch {
	case math.IsNaN(v), v < 0:
		return 0
	case v > 1:
		return 1
	}
	return v
}
