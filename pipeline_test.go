package glowly

import (
	"context"
	"errors"
	"image"
	"image/color"
	"testing"
)

var testSkin = color.RGBA{R: 224, G: 172, B: 140, A: 255}

func TestPipelineZeroFaces(t *testing.T) {
	det := &fakeDetector{}
	p := NewPipeline(det, nil, DefaultThresholds(), nil)

	res, err := p.Analyze(context.Background(), solidImage(640, 480, color.RGBA{R: 90, G: 90, B: 90, A: 255}))
	if err != nil {
		t.Fatalf("Analyze() error = %v", err)
	}
	if res.Faces == nil || len(res.Faces) != 0 {
		t.Errorf("Faces = %#v, want empty", res.Faces)
	}
	if len(res.Opportunities) != 0 {
		t.Errorf("Opportunities = %v, want none", res.Opportunities)
	}
	if res.ImageQuality.Score <= 0 {
		t.Error("image quality not assessed")
	}
	if res.Scene.Label != SceneNoFaces {
		t.Errorf("Scene = %q, want %q", res.Scene.Label, SceneNoFaces)
	}
	if res.OverallConfidence != 0 {
		t.Errorf("OverallConfidence = %g, want 0", res.OverallConfidence)
	}
}

func TestPipelineDetectorFailure(t *testing.T) {
	det := &fakeDetector{err: errors.New("vision framework unavailable")}
	p := NewPipeline(det, nil, DefaultThresholds(), nil)

	_, err := p.Analyze(context.Background(), solidImage(200, 200, testSkin))
	if !errors.Is(err, ErrFaceDetectionFailed) {
		t.Errorf("Analyze() error = %v, want ErrFaceDetectionFailed", err)
	}
}

func TestPipelineRejectsSmallImage(t *testing.T) {
	det := &fakeDetector{}
	p := NewPipeline(det, nil, DefaultThresholds(), nil)

	_, err := p.Analyze(context.Background(), solidImage(50, 50, testSkin))
	if !errors.Is(err, ErrUnsuitableInput) {
		t.Errorf("Analyze() error = %v, want ErrUnsuitableInput", err)
	}
	if det.calls.Load() != 0 {
		t.Error("detector invoked for an unsuitable image")
	}
}

func TestPipelineSingleFaceHeuristics(t *testing.T) {
	box := image.Rect(120, 80, 280, 280)
	img := faceImage(400, 400, box, testSkin)
	det := &fakeDetector{faces: []DetectedFace{
		{Box: box, Confidence: 0.95},
		{Box: image.Rect(500, 500, 600, 600), Confidence: 0.9}, // outside the image
	}}
	p := NewPipeline(det, nil, DefaultThresholds(), nil)

	res, err := p.Analyze(context.Background(), img)
	if err != nil {
		t.Fatalf("Analyze() error = %v", err)
	}
	if len(res.Faces) != 1 {
		t.Fatalf("got %d faces, want 1", len(res.Faces))
	}

	f := res.Faces[0]
	if f.PixelBox != box {
		t.Errorf("PixelBox = %v, want %v", f.PixelBox, box)
	}
	if f.BoundingBox.X != 0.3 || f.BoundingBox.Width != 0.4 {
		t.Errorf("BoundingBox = %+v", f.BoundingBox)
	}
	if f.Landmarks == nil || len(f.Landmarks.All()) != 68 {
		t.Error("expected template landmarks")
	}
	if f.SkinTone == nil {
		t.Fatal("SkinTone = nil")
	}
	if f.SkinTone.DominantColor != testSkin {
		t.Errorf("DominantColor = %v, want %v", f.SkinTone.DominantColor, testSkin)
	}
	if f.SkinTone.Category != SkinToneLight {
		t.Errorf("Category = %s, want light", f.SkinTone.Category)
	}
	if f.BeautyScore != nil {
		t.Error("BeautyScore set without the model")
	}

	var eyes bool
	for _, op := range res.Opportunities {
		if op.Type == EnhancementEyeBrightening {
			eyes = true
		}
		if op.Type == EnhancementSkinSmoothing {
			t.Error("smoothing proposed for a textureless face")
		}
	}
	if !eyes {
		t.Error("eye-brightening missing for a detected face")
	}
	if res.Scene.Label != ScenePortrait {
		t.Errorf("Scene = %q, want portrait", res.Scene.Label)
	}
	if res.OverallConfidence <= 0 || res.OverallConfidence > 1 {
		t.Errorf("OverallConfidence = %g", res.OverallConfidence)
	}
}

func TestPipelineLowConfidenceSkipsLandmarks(t *testing.T) {
	box := image.Rect(100, 100, 200, 220)
	det := &fakeDetector{faces: []DetectedFace{{Box: box, Confidence: 0.3}}}
	p := NewPipeline(det, nil, DefaultThresholds(), nil)

	res, err := p.Analyze(context.Background(), faceImage(300, 300, box, testSkin))
	if err != nil {
		t.Fatal(err)
	}
	if res.Faces[0].Landmarks != nil {
		t.Error("landmarks extracted below the confidence threshold")
	}
}

func TestPipelineDetectorPoints(t *testing.T) {
	box := image.Rect(100, 100, 200, 220)
	pts := make([]image.Point, 68)
	for i := range pts {
		pts[i] = image.Pt(100+i, 150)
	}
	det := &fakeDetector{faces: []DetectedFace{{Box: box, Confidence: 0.9, Points: pts}}}
	p := NewPipeline(det, nil, DefaultThresholds(), nil)

	res, err := p.Analyze(context.Background(), faceImage(300, 300, box, testSkin))
	if err != nil {
		t.Fatal(err)
	}
	lm := res.Faces[0].Landmarks
	if len(lm.Contour) != 17 || len(lm.Lips) != 20 || len(lm.LeftEye) != 6 {
		t.Errorf("region sizes contour=%d lips=%d eye=%d", len(lm.Contour), len(lm.Lips), len(lm.LeftEye))
	}
	if lm.Nose[0].X != float64(127)/300 {
		t.Errorf("nose[0].X = %g, want point 27", lm.Nose[0].X)
	}
}

func modelBackedPipeline(t *testing.T, det FaceDetector, failing ...ModelType) (*Pipeline, *fakeLoader) {
	t.Helper()
	fail := map[ModelType]bool{}
	for _, f := range failing {
		fail[f] = true
	}
	loader := newFakeLoader()
	loader.predict = func(mt ModelType) func(context.Context, Input) (Output, error) {
		return func(_ context.Context, in Input) (Output, error) {
			if fail[mt] {
				return Output{}, errors.New("model crashed")
			}
			switch mt {
			case ModelFaceDetection:
				return Output{Value: 0}, nil
			case ModelSkinToneClassifier:
				return Output{Label: "dark", Scores: map[string]float64{"confidence": 0.42}}, nil
			case ModelBeautyScore:
				return Output{Value: 0.66}, nil
			case ModelBeautyEnhancement:
				return Output{Scores: map[string]float64{string(EnhancementEyeBrightening): 0.9}}, nil
			case ModelLandmarkRefinement:
				out := make([]Point, len(in.Points))
				for i := range out {
					out[i] = Point{X: 0.5, Y: 0.5}
				}
				return Output{Points: out}, nil
			}
			return Output{}, nil
		}
	}
	r := NewRegistry(DefaultCatalog(), loader)
	r.LoadAll(context.Background())
	e := NewExecutor(r, 2, nil)
	t.Cleanup(func() {
		e.Close()
		r.Close()
	})
	return NewPipeline(det, e, DefaultThresholds(), nil), loader
}

func TestPipelineModelRefinements(t *testing.T) {
	box := image.Rect(120, 80, 280, 280)
	det := &fakeDetector{faces: []DetectedFace{{Box: box, Confidence: 0.8}}}
	p, _ := modelBackedPipeline(t, det)

	res, err := p.Analyze(context.Background(), faceImage(400, 400, box, testSkin))
	if err != nil {
		t.Fatalf("Analyze() error = %v", err)
	}
	f := res.Faces[0]

	// Calibration with a zero model score halves confidence.
	if f.Confidence != 0.4 {
		t.Errorf("Confidence = %g, want 0.4", f.Confidence)
	}
	if f.Landmarks != nil {
		t.Error("calibrated confidence below threshold should skip landmarks")
	}
	if f.SkinTone.Category != SkinToneDark || f.SkinTone.Confidence != 0.42 {
		t.Errorf("SkinTone = %+v, want model override", f.SkinTone)
	}
	if f.BeautyScore == nil || *f.BeautyScore != 0.66 {
		t.Errorf("BeautyScore = %v, want 0.66", f.BeautyScore)
	}
	for _, op := range res.Opportunities {
		if op.Type == EnhancementEyeBrightening && op.RecommendedIntensity != 0.9 {
			t.Errorf("eye-brightening intensity = %g, want model value 0.9", op.RecommendedIntensity)
		}
	}
}

func TestPipelineLandmarkRefinement(t *testing.T) {
	box := image.Rect(120, 80, 280, 280)
	det := &fakeDetector{faces: []DetectedFace{{Box: box, Confidence: 0.99}}}
	p, _ := modelBackedPipeline(t, det, ModelFaceDetection)

	res, err := p.Analyze(context.Background(), faceImage(400, 400, box, testSkin))
	if err != nil {
		t.Fatal(err)
	}
	lm := res.Faces[0].Landmarks
	if lm == nil {
		t.Fatal("Landmarks = nil")
	}
	for _, pt := range lm.All() {
		if pt != (Point{X: 0.5, Y: 0.5}) {
			t.Fatalf("point %v not refined", pt)
		}
	}
}

func TestPipelineOptionalModelFailuresAreSkipped(t *testing.T) {
	box := image.Rect(120, 80, 280, 280)
	det := &fakeDetector{faces: []DetectedFace{{Box: box, Confidence: 0.9}}}
	p, _ := modelBackedPipeline(t, det,
		ModelFaceDetection, ModelSkinToneClassifier, ModelBeautyScore,
		ModelBeautyEnhancement, ModelLandmarkRefinement)

	res, err := p.Analyze(context.Background(), faceImage(400, 400, box, testSkin))
	if err != nil {
		t.Fatalf("Analyze() error = %v", err)
	}
	f := res.Faces[0]
	if f.Confidence != 0.9 {
		t.Errorf("Confidence = %g, want unchanged 0.9", f.Confidence)
	}
	if f.SkinTone.Category != SkinToneLight {
		t.Errorf("Category = %s, want local classification", f.SkinTone.Category)
	}
	if f.BeautyScore != nil {
		t.Error("BeautyScore set despite model failure")
	}
}

func TestClassifyScene(t *testing.T) {
	big := FaceObservation{BoundingBox: Rect{Width: 0.6, Height: 0.6}, Confidence: 1}
	small := FaceObservation{BoundingBox: Rect{Width: 0.2, Height: 0.2}, Confidence: 0.5}

	if got := classifyScene([]FaceObservation{big}, 0.5).Label; got != SceneCloseUp {
		t.Errorf("big face -> %s, want close-up", got)
	}
	if got := classifyScene([]FaceObservation{small}, 0.5).Label; got != ScenePortrait {
		t.Errorf("small face -> %s, want portrait", got)
	}
	group := classifyScene([]FaceObservation{big, small}, 0.5)
	if group.Label != SceneGroup || group.Confidence != 0.75 {
		t.Errorf("group = %+v", group)
	}
}
