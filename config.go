package glowly

import (
	"fmt"
	"os"
	"runtime"
	"time"

	"gopkg.in/yaml.v3"
)

// Config configures the orchestrator and its components.
// The zero value is not usable; start from DefaultConfig.
type Config struct {
	// Workers is the inference pool size.
	Workers int `yaml:"workers"`

	// LoadConcurrency bounds how many model loads run at once inside LoadAll.
	LoadConcurrency int `yaml:"load_concurrency"`

	// BatchConcurrency bounds how many images BatchAnalyze processes at once.
	BatchConcurrency int `yaml:"batch_concurrency"`

	// MemoryBudgetMB caps the summed memory estimate of loaded models.
	// Zero disables admission control.
	MemoryBudgetMB int `yaml:"memory_budget_mb"`

	// HeapBudgetMB is the heap size treated as full pressure by the default
	// pressure source. Zero disables the governor's default source.
	HeapBudgetMB int `yaml:"heap_budget_mb"`

	GovernorIntervalS int `yaml:"governor_interval_s"`
	MetricsIntervalS  int `yaml:"metrics_interval_s"`

	// TrackerInbox is the capacity of the real-time frame queue.
	TrackerInbox int `yaml:"tracker_inbox"`

	// DisabledModels are removed from the catalog before loading.
	DisabledModels []ModelType `yaml:"disabled_models"`

	// PlaceholderModels fail to load with ErrPlaceholderModel.
	PlaceholderModels []ModelType `yaml:"placeholder_models"`

	// LearningRate is the EWMA alpha for feedback-driven preferences.
	LearningRate float64 `yaml:"learning_rate"`

	LogLevel string `yaml:"log_level"`

	Thresholds Thresholds `yaml:"thresholds"`
}

// Thresholds gathers the tunable constants of the analysis pipeline,
// the governor and the tracker.
type Thresholds struct {
	MinImageDimension int `yaml:"min_image_dimension"`
	MaxImageDimension int `yaml:"max_image_dimension"`

	// MinLandmarkConfidence gates landmark extraction per face.
	MinLandmarkConfidence float64 `yaml:"min_landmark_confidence"`

	// SkinToneBreakpoints are five strictly descending luma cut points.
	// Luma at or above Breakpoints[0] is very-light; below Breakpoints[4]
	// is very-dark.
	SkinToneBreakpoints [5]float64 `yaml:"skin_tone_breakpoints"`

	// Undertone is read from the normalized red-minus-blue difference.
	UndertoneWarm float64 `yaml:"undertone_warm"`
	UndertoneCool float64 `yaml:"undertone_cool"`

	SmoothingMinSharpness float64 `yaml:"smoothing_min_sharpness"`
	SmoothingConfidence   float64 `yaml:"smoothing_confidence"`
	SmoothingIntensity    float64 `yaml:"smoothing_intensity"`

	EyeBrighteningConfidence float64 `yaml:"eye_brightening_confidence"`
	EyeBrighteningIntensity  float64 `yaml:"eye_brightening_intensity"`

	LightingCorrectionBelow float64 `yaml:"lighting_correction_below"`
	LightingConfidence      float64 `yaml:"lighting_confidence"`

	BlemishSkinConfidenceBelow float64 `yaml:"blemish_skin_confidence_below"`
	BlemishConfidence          float64 `yaml:"blemish_confidence"`
	BlemishIntensity           float64 `yaml:"blemish_intensity"`

	TeethMinExpression float64 `yaml:"teeth_min_expression"`
	TeethConfidence    float64 `yaml:"teeth_confidence"`
	TeethIntensity     float64 `yaml:"teeth_intensity"`

	ContouringMinPose    float64 `yaml:"contouring_min_pose"`
	ContouringConfidence float64 `yaml:"contouring_confidence"`
	ContouringIntensity  float64 `yaml:"contouring_intensity"`

	// PressureThreshold triggers eviction at or above this pressure.
	PressureThreshold float64 `yaml:"pressure_threshold"`

	TrackMinIoU        float64 `yaml:"track_min_iou"`
	MaxMissedFrames    int     `yaml:"max_missed_frames"`
	StabilityWindow    int     `yaml:"stability_window"`
	StabilitySmoothing float64 `yaml:"stability_smoothing"`
	StableThreshold    float64 `yaml:"stable_threshold"`

	// CaptureRegion is the centered area a well-positioned face must lie in.
	CaptureRegion Rect `yaml:"capture_region"`
}

// DefaultThresholds returns the built-in tuning values.
func DefaultThresholds() Thresholds {
	return Thresholds{
		MinImageDimension: 100,
		MaxImageDimension: 8192,

		MinLandmarkConfidence: 0.5,

		SkinToneBreakpoints: [5]float64{0.80, 0.68, 0.55, 0.42, 0.30},
		UndertoneWarm:       0.22,
		UndertoneCool:       0.12,

		SmoothingMinSharpness: 0.5,
		SmoothingConfidence:   0.8,
		SmoothingIntensity:    0.3,

		EyeBrighteningConfidence: 0.7,
		EyeBrighteningIntensity:  0.4,

		LightingCorrectionBelow: 0.6,
		LightingConfidence:      0.75,

		BlemishSkinConfidenceBelow: 0.6,
		BlemishConfidence:          0.6,
		BlemishIntensity:           0.35,

		TeethMinExpression: 0.8,
		TeethConfidence:    0.65,
		TeethIntensity:     0.25,

		ContouringMinPose:    0.85,
		ContouringConfidence: 0.55,
		ContouringIntensity:  0.2,

		PressureThreshold: 0.8,

		TrackMinIoU:        0.3,
		MaxMissedFrames:    10,
		StabilityWindow:    10,
		StabilitySmoothing: 0.3,
		StableThreshold:    0.7,
		CaptureRegion:      Rect{X: 0.15, Y: 0.1, Width: 0.7, Height: 0.8},
	}
}

// DefaultConfig returns a Config with default values.
func DefaultConfig() Config {
	workers := runtime.NumCPU()
	if workers > 8 {
		workers = 8
	}
	return Config{
		Workers:           workers,
		LoadConcurrency:   3,
		BatchConcurrency:  4,
		GovernorIntervalS: 5,
		MetricsIntervalS:  2,
		TrackerInbox:      4,
		PlaceholderModels: DefaultPlaceholderModels(),
		LearningRate:      0.3,
		LogLevel:          "info",
		Thresholds:        DefaultThresholds(),
	}
}

// LoadConfig reads a YAML file over DefaultConfig and validates the result.
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("reading config file: %w", err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("parsing config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// Validate checks the configuration for internally inconsistent values.
func (c Config) Validate() error {
	if c.Workers < 1 {
		return fmt.Errorf("workers must be >= 1 (got %d)", c.Workers)
	}
	if c.LoadConcurrency < 1 {
		return fmt.Errorf("load_concurrency must be >= 1 (got %d)", c.LoadConcurrency)
	}
	if c.BatchConcurrency < 1 {
		return fmt.Errorf("batch_concurrency must be >= 1 (got %d)", c.BatchConcurrency)
	}
	if c.MemoryBudgetMB < 0 || c.HeapBudgetMB < 0 {
		return fmt.Errorf("memory budgets must not be negative")
	}
	if c.GovernorIntervalS < 1 || c.MetricsIntervalS < 1 {
		return fmt.Errorf("sampling intervals must be >= 1s")
	}
	if c.TrackerInbox < 1 {
		return fmt.Errorf("tracker_inbox must be >= 1 (got %d)", c.TrackerInbox)
	}
	if c.LearningRate <= 0 || c.LearningRate > 1 {
		return fmt.Errorf("learning_rate must be in (0, 1] (got %g)", c.LearningRate)
	}
	for _, t := range append(append([]ModelType{}, c.DisabledModels...), c.PlaceholderModels...) {
		if _, err := ParseModelType(string(t)); err != nil {
			return err
		}
	}
	return c.Thresholds.Validate()
}

// Validate checks threshold ranges and breakpoint ordering.
func (t Thresholds) Validate() error {
	if t.MinImageDimension < 1 || t.MaxImageDimension < t.MinImageDimension {
		return fmt.Errorf("image dimension bounds invalid: [%d, %d]", t.MinImageDimension, t.MaxImageDimension)
	}
	for i, bp := range t.SkinToneBreakpoints {
		if bp <= 0 || bp >= 1 {
			return fmt.Errorf("skin_tone_breakpoints[%d] = %g, must be in (0, 1)", i, bp)
		}
		if i > 0 && bp >= t.SkinToneBreakpoints[i-1] {
			return fmt.Errorf("skin_tone_breakpoints must be strictly descending")
		}
	}
	if t.UndertoneCool > t.UndertoneWarm {
		return fmt.Errorf("undertone_cool (%g) must not exceed undertone_warm (%g)", t.UndertoneCool, t.UndertoneWarm)
	}
	if t.PressureThreshold <= 0 || t.PressureThreshold > 1 {
		return fmt.Errorf("pressure_threshold must be in (0, 1] (got %g)", t.PressureThreshold)
	}
	if t.TrackMinIoU <= 0 || t.TrackMinIoU > 1 {
		return fmt.Errorf("track_min_iou must be in (0, 1] (got %g)", t.TrackMinIoU)
	}
	if t.MaxMissedFrames < 0 || t.StabilityWindow < 1 {
		return fmt.Errorf("tracker frame counts invalid")
	}
	if t.StabilitySmoothing <= 0 || t.StabilitySmoothing > 1 {
		return fmt.Errorf("stability_smoothing must be in (0, 1] (got %g)", t.StabilitySmoothing)
	}
	if t.CaptureRegion.Area() <= 0 {
		return fmt.Errorf("capture_region must have positive area")
	}
	return nil
}

// GovernorInterval returns the governor sampling period.
func (c Config) GovernorInterval() time.Duration {
	return time.Duration(c.GovernorIntervalS) * time.Second
}

// MetricsInterval returns the metrics sampling period.
func (c Config) MetricsInterval() time.Duration {
	return time.Duration(c.MetricsIntervalS) * time.Second
}
