package glowly

import (
	"context"
	"fmt"
	"image"
	"time"
)

// Pipeline analyzes still images: image quality, face detection,
// landmarks, face quality, skin tone and enhancement opportunities, in
// that order. Model-backed refinements run through the executor when the
// corresponding model is loaded; otherwise the local heuristics stand.
type Pipeline struct {
	detector FaceDetector
	exec     *Executor
	th       Thresholds
	logger   Logger
}

// NewPipeline creates a pipeline. exec may be nil, in which case only the
// local heuristics run.
func NewPipeline(detector FaceDetector, exec *Executor, th Thresholds, logger Logger) *Pipeline {
	return &Pipeline{
		detector: detector,
		exec:     exec,
		th:       th,
		logger:   orNop(logger),
	}
}

// faceWork carries one face through the stages.
type faceWork struct {
	obs FaceObservation

	// raw is the detector box before clipping to the image.
	raw    image.Rectangle
	points []image.Point
}

// Analyze runs every stage on img. Detector errors abort with
// ErrFaceDetectionFailed. An image without faces is a valid result.
func (p *Pipeline) Analyze(ctx context.Context, img image.Image) (*AnalysisResult, error) {
	start := time.Now()
	bounds := img.Bounds()
	if err := ValidateImageSize(bounds, p.th); err != nil {
		return nil, err
	}

	// 1. image quality
	imageQuality := AssessImageQuality(bounds)

	// 2. detection
	work, err := p.detect(ctx, img)
	if err != nil {
		return nil, err
	}

	// 3. landmarks
	for i := range work {
		if work[i].obs.Confidence >= p.th.MinLandmarkConfidence {
			work[i].obs.Landmarks = p.landmarks(ctx, img, &work[i])
		}
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	// 4. face quality
	for i := range work {
		w := &work[i]
		w.obs.Quality = assessFaceQuality(img, w.raw, w.obs.PixelBox, w.obs.Landmarks)
	}

	// 5. skin tone
	for i := range work {
		work[i].obs.SkinTone = p.skinTone(ctx, img, work[i].obs.PixelBox)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	faces := make([]FaceObservation, len(work))
	for i := range work {
		faces[i] = work[i].obs
	}
	p.beautyScores(ctx, faces)

	// 6. opportunities
	opportunities := scoreOpportunities(faces, p.th)
	p.tuneIntensities(ctx, faces, opportunities)
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	return &AnalysisResult{
		Faces:              faces,
		ImageQuality:       imageQuality,
		Scene:              classifyScene(faces, meanLuma(img, bounds)),
		Opportunities:      opportunities,
		OverallConfidence:  overallConfidence(faces, imageQuality),
		ProcessingDuration: time.Since(start),
		AnalyzedAt:         time.Now(),
	}, nil
}

// detect runs the face-geometry detector and, when the face-detection
// model is loaded, calibrates each confidence with it.
func (p *Pipeline) detect(ctx context.Context, img image.Image) ([]faceWork, error) {
	dets, err := p.detector.Detect(ctx, img)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrFaceDetectionFailed, err)
	}
	work := observeFaces(dets, img.Bounds())

	if p.hasModel(ModelFaceDetection) {
		for i := range work {
			w := &work[i]
			out, err := p.exec.Infer(ctx, ModelFaceDetection, Input{Image: img, Region: w.obs.PixelBox})
			if err != nil {
				p.logger.Warn("confidence calibration skipped", "face", i, "error", err)
				continue
			}
			w.obs.Confidence = clamp01(w.obs.Confidence * (0.5 + 0.5*clamp01(out.Value)))
		}
	}
	return work, nil
}

// observeFaces converts detector output into observations, dropping boxes
// that fall entirely outside the image.
func observeFaces(dets []DetectedFace, bounds image.Rectangle) []faceWork {
	work := make([]faceWork, 0, len(dets))
	for _, d := range dets {
		raw := d.Box.Canon()
		box := raw.Intersect(bounds)
		if box.Empty() {
			continue
		}
		work = append(work, faceWork{
			obs: FaceObservation{
				Index:       len(work),
				BoundingBox: NormalizeRect(box, bounds),
				PixelBox:    box,
				Confidence:  clamp01(d.Confidence),
			},
			raw:    raw,
			points: d.Points,
		})
	}
	return work
}

func (p *Pipeline) landmarks(ctx context.Context, img image.Image, w *faceWork) *FaceLandmarks {
	lm := landmarksFromDetector(w.points, img.Bounds(), w.obs.BoundingBox)
	if !p.hasModel(ModelLandmarkRefinement) {
		return lm
	}
	out, err := p.exec.Infer(ctx, ModelLandmarkRefinement, Input{Image: img, Region: w.obs.PixelBox, Points: lm.All()})
	if err != nil {
		p.logger.Warn("landmark refinement skipped", "face", w.obs.Index, "error", err)
		return lm
	}
	return lm.withPoints(out.Points)
}

func (p *Pipeline) skinTone(ctx context.Context, img image.Image, box image.Rectangle) *SkinToneAnalysis {
	samples := sampleSkin(img, box)
	st := ClassifySkinTone(samples, p.th)
	if st == nil || !p.hasModel(ModelSkinToneClassifier) {
		return st
	}

	out, err := p.exec.Infer(ctx, ModelSkinToneClassifier, Input{Samples: samples})
	if err != nil {
		p.logger.Warn("skin-tone model skipped", "error", err)
		return st
	}
	if c, err := ParseSkinToneCategory(out.Label); err == nil {
		st.Category = c
	}
	if conf, ok := out.Scores["confidence"]; ok {
		st.Confidence = clamp01(conf)
	}
	return st
}

// faceFeatures is the scalar feature vector handed to per-face models.
func faceFeatures(f FaceObservation) map[string]float64 {
	feats := map[string]float64{
		"confidence": f.Confidence,
		"overall":    f.Quality.Overall,
		"lighting":   f.Quality.Lighting,
		"sharpness":  f.Quality.Sharpness,
		"pose":       f.Quality.Pose,
		"expression": f.Quality.Expression,
		"occlusion":  f.Quality.Occlusion,
	}
	if f.SkinTone != nil {
		feats["skin_confidence"] = f.SkinTone.Confidence
		feats["skin_category"] = float64(f.SkinTone.Category)
	}
	return feats
}

func (p *Pipeline) faceInputs(faces []FaceObservation) []Input {
	inputs := make([]Input, len(faces))
	for i, f := range faces {
		inputs[i] = Input{Features: faceFeatures(f)}
	}
	return inputs
}

// beautyScores sets BeautyScore on every face when the beauty-score model
// is loaded. The batch is all-or-nothing.
func (p *Pipeline) beautyScores(ctx context.Context, faces []FaceObservation) {
	if len(faces) == 0 || !p.hasModel(ModelBeautyScore) {
		return
	}
	outs, err := p.exec.BatchInfer(ctx, ModelBeautyScore, p.faceInputs(faces))
	if err != nil {
		p.logger.Warn("beauty score skipped", "error", err)
		return
	}
	for i := range faces {
		v := clamp01(outs[i].Value)
		faces[i].BeautyScore = &v
	}
}

// tuneIntensities lets the beauty-enhancement model override recommended
// intensities. Scores are keyed by enhancement type.
func (p *Pipeline) tuneIntensities(ctx context.Context, faces []FaceObservation, ops []EnhancementOpportunity) {
	if len(faces) == 0 || !p.hasModel(ModelBeautyEnhancement) {
		return
	}
	outs, err := p.exec.BatchInfer(ctx, ModelBeautyEnhancement, p.faceInputs(faces))
	if err != nil {
		p.logger.Warn("intensity tuning skipped", "error", err)
		return
	}
	for i := range ops {
		idx := ops[i].FaceIndex
		if idx < 0 || idx >= len(outs) {
			continue
		}
		if v, ok := outs[idx].Scores[string(ops[i].Type)]; ok {
			ops[i].RecommendedIntensity = clamp01(v)
		}
	}
}

func (p *Pipeline) hasModel(t ModelType) bool {
	return p.exec != nil && p.exec.registry.IsLoaded(t)
}

// classifyScene labels the image by face count and the size of the
// largest face.
func classifyScene(faces []FaceObservation, lighting float64) SceneClassification {
	switch len(faces) {
	case 0:
		return SceneClassification{Label: SceneNoFaces, Confidence: 1, Lighting: lighting}
	case 1:
		label := ScenePortrait
		if faces[0].BoundingBox.Area() > 0.25 {
			label = SceneCloseUp
		}
		return SceneClassification{Label: label, Confidence: faces[0].Confidence, Lighting: lighting}
	default:
		var sum float64
		for _, f := range faces {
			sum += f.Confidence
		}
		return SceneClassification{Label: SceneGroup, Confidence: sum / float64(len(faces)), Lighting: lighting}
	}
}

// overallConfidence blends mean detection confidence, mean face quality
// and image quality. Zero when there are no faces.
func overallConfidence(faces []FaceObservation, iq ImageQuality) float64 {
	if len(faces) == 0 {
		return 0
	}
	var conf, quality float64
	for _, f := range faces {
		conf += f.Confidence
		quality += f.Quality.Overall
	}
	n := float64(len(faces))
	return clamp01(0.5*conf/n + 0.3*quality/n + 0.2*iq.Score)
}
