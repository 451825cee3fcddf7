package glowly

import (
	"fmt"
	"sort"
)

// opportunityRule inspects one face and may propose an enhancement.
type opportunityRule func(f *FaceObservation, th Thresholds) (EnhancementOpportunity, bool)

// opportunityRules run per face, in this order.
var opportunityRules = []opportunityRule{
	smoothingRule,
	eyeBrighteningRule,
	lightingRule,
	blemishRule,
	teethRule,
	contouringRule,
}

func smoothingRule(f *FaceObservation, th Thresholds) (EnhancementOpportunity, bool) {
	if f.Quality.Sharpness <= th.SmoothingMinSharpness {
		return EnhancementOpportunity{}, false
	}
	return EnhancementOpportunity{
		Type:                 EnhancementSkinSmoothing,
		Confidence:           th.SmoothingConfidence,
		RecommendedIntensity: th.SmoothingIntensity,
		Rationale:            fmt.Sprintf("Fine skin texture is visible (sharpness %.2f).", f.Quality.Sharpness),
	}, true
}

func eyeBrighteningRule(_ *FaceObservation, th Thresholds) (EnhancementOpportunity, bool) {
	return EnhancementOpportunity{
		Type:                 EnhancementEyeBrightening,
		Confidence:           th.EyeBrighteningConfidence,
		RecommendedIntensity: th.EyeBrighteningIntensity,
		Rationale:            "Brighter eyes make a portrait look more awake.",
	}, true
}

func lightingRule(f *FaceObservation, th Thresholds) (EnhancementOpportunity, bool) {
	if f.Quality.Lighting >= th.LightingCorrectionBelow {
		return EnhancementOpportunity{}, false
	}
	deficit := (th.LightingCorrectionBelow - f.Quality.Lighting) / th.LightingCorrectionBelow
	return EnhancementOpportunity{
		Type:                 EnhancementLightingCorrection,
		Confidence:           th.LightingConfidence,
		RecommendedIntensity: clamp01(0.2 + 0.6*deficit),
		Rationale:            fmt.Sprintf("The face is unevenly lit (lighting %.2f).", f.Quality.Lighting),
	}, true
}

func blemishRule(f *FaceObservation, th Thresholds) (EnhancementOpportunity, bool) {
	if f.SkinTone == nil || f.SkinTone.Confidence >= th.BlemishSkinConfidenceBelow {
		return EnhancementOpportunity{}, false
	}
	return EnhancementOpportunity{
		Type:                 EnhancementBlemishRemoval,
		Confidence:           th.BlemishConfidence,
		RecommendedIntensity: th.BlemishIntensity,
		Rationale:            "Skin tone varies noticeably across the face.",
	}, true
}

func teethRule(f *FaceObservation, th Thresholds) (EnhancementOpportunity, bool) {
	if f.Landmarks == nil || f.Quality.Expression < th.TeethMinExpression {
		return EnhancementOpportunity{}, false
	}
	return EnhancementOpportunity{
		Type:                 EnhancementTeethWhitening,
		Confidence:           th.TeethConfidence,
		RecommendedIntensity: th.TeethIntensity,
		Rationale:            "A broad smile shows the teeth.",
	}, true
}

func contouringRule(f *FaceObservation, th Thresholds) (EnhancementOpportunity, bool) {
	if f.Quality.Pose < th.ContouringMinPose {
		return EnhancementOpportunity{}, false
	}
	return EnhancementOpportunity{
		Type:                 EnhancementFaceContouring,
		Confidence:           th.ContouringConfidence,
		RecommendedIntensity: th.ContouringIntensity,
		Rationale:            "A frontal pose suits subtle contouring.",
	}, true
}

// scoreOpportunities applies every rule to every face in detection order
// and ranks the results by confidence, descending. Equal confidences keep
// detection order.
func scoreOpportunities(faces []FaceObservation, th Thresholds) []EnhancementOpportunity {
	out := []EnhancementOpportunity{}
	for i := range faces {
		for _, rule := range opportunityRules {
			if op, ok := rule(&faces[i], th); ok {
				op.FaceIndex = faces[i].Index
				out = append(out, op)
			}
		}
	}
	rankOpportunities(out)
	return out
}

func rankOpportunities(ops []EnhancementOpportunity) {
	sort.SliceStable(ops, func(i, j int) bool {
		return ops[i].Confidence > ops[j].Confidence
	})
}
