package glowly

import (
	"image"
	"image/color"
	"testing"
)

func TestSkinToneBucketMonotonic(t *testing.T) {
	bps := DefaultThresholds().SkinToneBreakpoints
	prev := SkinToneVeryDark
	for i := 0; i <= 1000; i++ {
		l := float64(i) / 1000
		got := SkinToneBucket(l, bps)
		if got > prev {
			t.Fatalf("luma %.3f -> %s, darker than %s at lower luma", l, got, prev)
		}
		prev = got
	}
	if prev != SkinToneVeryLight {
		t.Errorf("luma 1.0 -> %s, want very-light", prev)
	}
}

func TestClassifySkinToneMonotonicInBrightness(t *testing.T) {
	th := DefaultThresholds()
	var prev *SkinToneAnalysis
	for v := 0; v <= 255; v += 5 {
		c := color.RGBA{R: uint8(v), G: uint8(v * 4 / 5), B: uint8(v * 3 / 5), A: 255}
		got := ClassifySkinTone([]color.RGBA{c, c, c, c, c}, th)
		if prev != nil && got.Category > prev.Category {
			t.Fatalf("brighter sample %v classified darker: %s after %s", c, got.Category, prev.Category)
		}
		prev = got
	}
}

func TestClassifySkinTone(t *testing.T) {
	th := DefaultThresholds()

	tests := []struct {
		name string
		c    color.RGBA
		want SkinToneCategory
	}{
		{"pale", color.RGBA{R: 250, G: 235, B: 225, A: 255}, SkinToneVeryLight},
		{"light", color.RGBA{R: 230, G: 190, B: 160, A: 255}, SkinToneLight},
		{"tan", color.RGBA{R: 198, G: 145, B: 110, A: 255}, SkinToneMediumLight},
		{"brown", color.RGBA{R: 160, G: 110, B: 80, A: 255}, SkinToneMediumDark},
		{"dark", color.RGBA{R: 120, G: 82, B: 60, A: 255}, SkinToneDark},
		{"deep", color.RGBA{R: 70, G: 45, B: 35, A: 255}, SkinToneVeryDark},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ClassifySkinTone([]color.RGBA{tt.c, tt.c, tt.c}, th)
			if got.Category != tt.want {
				t.Errorf("category = %s (luma %.3f), want %s", got.Category, rgbaLuma(tt.c), tt.want)
			}
			if got.Confidence < 0.999 {
				t.Errorf("uniform samples confidence = %g, want ~1", got.Confidence)
			}
		})
	}

	if ClassifySkinTone(nil, th) != nil {
		t.Error("ClassifySkinTone(nil) should be nil")
	}
}

func TestClassifySkinToneConfidenceDropsWithVariance(t *testing.T) {
	th := DefaultThresholds()
	even := ClassifySkinTone([]color.RGBA{
		{R: 200, G: 150, B: 120, A: 255},
		{R: 205, G: 152, B: 122, A: 255},
		{R: 198, G: 149, B: 118, A: 255},
	}, th)
	patchy := ClassifySkinTone([]color.RGBA{
		{R: 250, G: 220, B: 200, A: 255},
		{R: 120, G: 80, B: 60, A: 255},
		{R: 200, G: 150, B: 120, A: 255},
	}, th)
	if patchy.Confidence >= even.Confidence {
		t.Errorf("patchy confidence %g >= even confidence %g", patchy.Confidence, even.Confidence)
	}
}

func TestUndertone(t *testing.T) {
	th := DefaultThresholds()
	if got := undertoneOf(color.RGBA{R: 220, G: 160, B: 120}, th); got != UndertoneWarm {
		t.Errorf("warm sample -> %s", got)
	}
	if got := undertoneOf(color.RGBA{R: 200, G: 190, B: 190}, th); got != UndertoneCool {
		t.Errorf("cool sample -> %s", got)
	}
	if got := undertoneOf(color.RGBA{R: 200, G: 170, B: 155}, th); got != UndertoneNeutral {
		t.Errorf("neutral sample -> %s", got)
	}
}

func TestSampleSkin(t *testing.T) {
	skin := color.RGBA{R: 224, G: 172, B: 140, A: 255}
	box := image.Rect(50, 50, 150, 170)
	img := faceImage(200, 220, box, skin)

	samples := sampleSkin(img, box)
	if len(samples) != 5 {
		t.Fatalf("got %d samples, want 5", len(samples))
	}
	for i, s := range samples {
		if s != skin {
			t.Errorf("sample %d = %v, want %v", i, s, skin)
		}
	}
}
