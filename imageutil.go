package glowly

import (
	"image"
	"image/color"
	"math"
)

// maxSampleSide bounds how many pixels per axis the samplers visit.
const maxSampleSide = 160

// sampleStep returns the stride that visits at most maxSampleSide pixels
// along the longer side of r.
func sampleStep(r image.Rectangle) int {
	side := r.Dx()
	if r.Dy() > side {
		side = r.Dy()
	}
	step := side / maxSampleSide
	if step < 1 {
		step = 1
	}
	return step
}

// luma returns Rec. 601 luma of c in [0, 1].
func luma(c color.Color) float64 {
	r, g, b, _ := c.RGBA()
	return (0.299*float64(r) + 0.587*float64(g) + 0.114*float64(b)) / 0xffff
}

func rgbaLuma(c color.RGBA) float64 {
	return (0.299*float64(c.R) + 0.587*float64(c.G) + 0.114*float64(c.B)) / 255
}

// regionMean averages the colors in r (clipped to img) with sampling.
// Returns false when r does not overlap img.
func regionMean(img image.Image, r image.Rectangle) (color.RGBA, bool) {
	r = r.Intersect(img.Bounds())
	if r.Empty() {
		return color.RGBA{}, false
	}
	step := sampleStep(r)
	var sr, sg, sb, n float64
	for y := r.Min.Y; y < r.Max.Y; y += step {
		for x := r.Min.X; x < r.Max.X; x += step {
			cr, cg, cb, _ := img.At(x, y).RGBA()
			sr += float64(cr >> 8)
			sg += float64(cg >> 8)
			sb += float64(cb >> 8)
			n++
		}
	}
	return color.RGBA{
		R: uint8(math.Round(sr / n)),
		G: uint8(math.Round(sg / n)),
		B: uint8(math.Round(sb / n)),
		A: 255,
	}, true
}

// meanLuma returns the average luma of r (clipped to img) with sampling.
func meanLuma(img image.Image, r image.Rectangle) float64 {
	r = r.Intersect(img.Bounds())
	if r.Empty() {
		return 0
	}
	step := sampleStep(r)
	var sum, n float64
	for y := r.Min.Y; y < r.Max.Y; y += step {
		for x := r.Min.X; x < r.Max.X; x += step {
			sum += luma(img.At(x, y))
			n++
		}
	}
	return sum / n
}

// gradientEnergy returns the mean absolute luma difference between
// horizontally and vertically adjacent samples in r.
func gradientEnergy(img image.Image, r image.Rectangle) float64 {
	r = r.Intersect(img.Bounds())
	if r.Dx() < 2 || r.Dy() < 2 {
		return 0
	}
	step := sampleStep(r)
	var sum, n float64
	for y := r.Min.Y; y+step < r.Max.Y; y += step {
		for x := r.Min.X; x+step < r.Max.X; x += step {
			c := luma(img.At(x, y))
			sum += math.Abs(c - luma(img.At(x+step, y)))
			sum += math.Abs(c - luma(img.At(x, y+step)))
			n += 2
		}
	}
	if n == 0 {
		return 0
	}
	return sum / n
}

// IsSkinColor reports whether an 8-bit RGB color falls in the YCbCr
// skin cluster (Cb 77-127, Cr 133-173).
func IsSkinColor(r, g, b uint8) bool {
	_, cb, cr := color.RGBToYCbCr(r, g, b)
	return cb >= 77 && cb <= 127 && cr >= 133 && cr <= 173
}

// skinRatio returns the fraction of sampled pixels in r that look like skin.
func skinRatio(img image.Image, r image.Rectangle) float64 {
	r = r.Intersect(img.Bounds())
	if r.Empty() {
		return 0
	}
	step := sampleStep(r)
	var skin, n float64
	for y := r.Min.Y; y < r.Max.Y; y += step {
		for x := r.Min.X; x < r.Max.X; x += step {
			cr, cg, cb, _ := img.At(x, y).RGBA()
			if IsSkinColor(uint8(cr>>8), uint8(cg>>8), uint8(cb>>8)) {
				skin++
			}
			n++
		}
	}
	return skin / n
}
