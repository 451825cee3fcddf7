package glowly

import (
	"image"
	"image/color"
	"math"
)

// skinRegionCenters are the forehead, left cheek, right cheek, nose and
// chin sampling centers, relative to the face box.
var skinRegionCenters = [5][2]float64{
	{0.50, 0.22},
	{0.30, 0.58},
	{0.70, 0.58},
	{0.50, 0.52},
	{0.50, 0.88},
}

// skinRegions returns the five sampling squares for a face box.
func skinRegions(box image.Rectangle) []image.Rectangle {
	side := int(math.Round(0.1 * float64(box.Dx())))
	if side < 2 {
		side = 2
	}
	half := side / 2
	out := make([]image.Rectangle, 0, len(skinRegionCenters))
	for _, c := range skinRegionCenters {
		cx := box.Min.X + int(c[0]*float64(box.Dx()))
		cy := box.Min.Y + int(c[1]*float64(box.Dy()))
		out = append(out, image.Rect(cx-half, cy-half, cx-half+side, cy-half+side))
	}
	return out
}

// sampleSkin returns the average color of every sampling region that
// overlaps img.
func sampleSkin(img image.Image, box image.Rectangle) []color.RGBA {
	var samples []color.RGBA
	for _, r := range skinRegions(box) {
		if c, ok := regionMean(img, r); ok {
			samples = append(samples, c)
		}
	}
	return samples
}

// SkinToneBucket maps a luma value to a category using strictly
// descending breakpoints. Higher luma never yields a darker bucket.
func SkinToneBucket(l float64, breakpoints [5]float64) SkinToneCategory {
	for i, bp := range breakpoints {
		if l >= bp {
			return SkinToneCategory(i)
		}
	}
	return SkinToneVeryDark
}

// ClassifySkinTone classifies region samples. The category comes from the
// mean sample luma; confidence falls as sample luma spread grows.
// Returns nil for no samples.
func ClassifySkinTone(samples []color.RGBA, th Thresholds) *SkinToneAnalysis {
	if len(samples) == 0 {
		return nil
	}

	var sr, sg, sb, sl float64
	lumas := make([]float64, len(samples))
	for i, s := range samples {
		sr += float64(s.R)
		sg += float64(s.G)
		sb += float64(s.B)
		lumas[i] = rgbaLuma(s)
		sl += lumas[i]
	}
	n := float64(len(samples))
	mean := sl / n

	var variance float64
	for _, l := range lumas {
		variance += (l - mean) * (l - mean)
	}
	std := math.Sqrt(variance / n)

	dominant := color.RGBA{
		R: uint8(math.Round(sr / n)),
		G: uint8(math.Round(sg / n)),
		B: uint8(math.Round(sb / n)),
		A: 255,
	}

	return &SkinToneAnalysis{
		DominantColor: dominant,
		Category:      SkinToneBucket(mean, th.SkinToneBreakpoints),
		Undertone:     undertoneOf(dominant, th),
		Confidence:    clamp01(1 - std/0.25),
	}
}

func undertoneOf(c color.RGBA, th Thresholds) Undertone {
	warmth := (float64(c.R) - float64(c.B)) / 255
	switch {
	case warmth >= th.UndertoneWarm:
		return UndertoneWarm
	case warmth <= th.UndertoneCool:
		return UndertoneCool
	default:
		return UndertoneNeutral
	}
}
