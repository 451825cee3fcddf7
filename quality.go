package glowly

import (
	"fmt"
	"image"
	"math"
)

// idealLuma is the face brightness that scores full lighting quality.
const idealLuma = 0.55

// sharpGradient is the gradient energy that scores full sharpness.
const sharpGradient = 0.08

// ValidateImageSize rejects images whose width or height falls outside
// the configured bounds.
func ValidateImageSize(bounds image.Rectangle, th Thresholds) error {
	w, h := bounds.Dx(), bounds.Dy()
	if w < th.MinImageDimension || h < th.MinImageDimension {
		return fmt.Errorf("%w: %dx%d is below the %dpx minimum", ErrUnsuitableInput, w, h, th.MinImageDimension)
	}
	if w > th.MaxImageDimension || h > th.MaxImageDimension {
		return fmt.Errorf("%w: %dx%d exceeds the %dpx maximum", ErrUnsuitableInput, w, h, th.MaxImageDimension)
	}
	return nil
}

// AssessImageQuality scores an image from its resolution and aspect ratio.
// Resolution saturates at one megapixel; aspect ratios beyond 2:1 are
// penalized linearly down to zero at 4:1.
func AssessImageQuality(bounds image.Rectangle) ImageQuality {
	w, h := float64(bounds.Dx()), float64(bounds.Dy())
	if w <= 0 || h <= 0 {
		return ImageQuality{}
	}
	resolution := math.Min(1, math.Sqrt(w*h)/1000)
	ratio := math.Max(w, h) / math.Min(w, h)
	aspectScore := 1.0
	if ratio > 2 {
		aspectScore = clamp01(1 - (ratio-2)/2)
	}
	return ImageQuality{
		Score:       0.7*resolution + 0.3*aspectScore,
		Resolution:  resolution,
		AspectRatio: w / h,
		Width:       bounds.Dx(),
		Height:      bounds.Dy(),
	}
}

// assessFaceQuality estimates the five face quality components and
// averages them. raw is the detector box before clipping to the image.
func assessFaceQuality(img image.Image, raw, box image.Rectangle, lm *FaceLandmarks) FaceQuality {
	q := FaceQuality{
		Lighting:   clamp01(1 - math.Abs(meanLuma(img, box)-idealLuma)/idealLuma),
		Sharpness:  clamp01(gradientEnergy(img, box) / sharpGradient),
		Pose:       poseScore(box, lm),
		Expression: expressionScore(lm),
		Occlusion:  visibleFraction(raw, img.Bounds()),
	}
	q.Overall = (q.Lighting + q.Sharpness + q.Pose + q.Expression + q.Occlusion) / 5
	return q
}

// poseScore rewards level eyes with the nose centered between them. Without
// landmarks it falls back to how close the box is to a frontal 4:5 shape.
func poseScore(box image.Rectangle, lm *FaceLandmarks) float64 {
	if lm != nil {
		le, okL := centroid(lm.LeftEye)
		re, okR := centroid(lm.RightEye)
		nose, okN := centroid(lm.Nose)
		if okL && okR && okN {
			dx := re.X - le.X
			if dx != 0 {
				tilt := math.Abs((re.Y - le.Y) / dx)
				mid := (le.X + re.X) / 2
				yaw := math.Abs(nose.X-mid) / math.Abs(dx)
				return clamp01(1 - 2*tilt - 2*yaw)
			}
		}
	}
	if box.Dy() == 0 {
		return 0
	}
	ratio := float64(box.Dx()) / float64(box.Dy())
	return clamp01(1 - math.Abs(ratio-0.8)/0.8)
}

// expressionScore reads mouth width relative to face width. A neutral
// template mouth scores 0.8; broader smiles approach 1.
func expressionScore(lm *FaceLandmarks) float64 {
	if lm == nil || len(lm.Lips) == 0 || len(lm.Contour) == 0 {
		return 0.75
	}
	face := spanX(lm.Contour)
	if face == 0 {
		return 0.75
	}
	return clamp01(spanX(lm.Lips) / face / 0.5)
}

// visibleFraction returns how much of raw lies inside bounds.
func visibleFraction(raw, bounds image.Rectangle) float64 {
	area := raw.Dx() * raw.Dy()
	if area <= 0 {
		return 0
	}
	in := raw.Intersect(bounds)
	return float64(in.Dx()*in.Dy()) / float64(area)
}
