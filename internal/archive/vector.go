package archive

import (
	"github.com/prethora/glowly"
)

// Dimensions is the length of a face descriptor.
const Dimensions = 24

// FaceVector builds a fixed-length descriptor for a face. It is not an
// identity embedding: it places faces with similar geometry, skin tone and
// capture quality near each other under L2 distance.
//
// Layout:
//
//	0-11   centroids of eyes, eyebrows, nose and lips, relative to the face box
//	12-14  dominant skin color, RGB scaled to [0, 1]
//	15     skin-tone category scaled to [0, 1]
//	16-18  undertone one-hot (warm, cool, neutral)
//	19-23  lighting, sharpness, pose, expression, occlusion
//
// Missing landmarks or skin tone leave their slots at zero.
func FaceVector(face glowly.FaceObservation) []float32 {
	v := make([]float32, Dimensions)

	if lm := face.Landmarks; lm != nil {
		box := face.BoundingBox
		regions := [][]glowly.Point{lm.LeftEye, lm.RightEye, lm.LeftEyebrow, lm.RightEyebrow, lm.Nose, lm.Lips}
		for i, region := range regions {
			c, ok := centroid(region)
			if !ok || box.Width <= 0 || box.Height <= 0 {
				continue
			}
			v[2*i] = float32(clamp01((c.X - box.X) / box.Width))
			v[2*i+1] = float32(clamp01((c.Y - box.Y) / box.Height))
		}
	}

	if st := face.SkinTone; st != nil {
		v[12] = float32(st.DominantColor.R) / 255
		v[13] = float32(st.DominantColor.G) / 255
		v[14] = float32(st.DominantColor.B) / 255
		v[15] = float32(st.Category) / float32(glowly.SkinToneVeryDark)
		switch st.Undertone {
		case glowly.UndertoneWarm:
			v[16] = 1
		case glowly.UndertoneCool:
			v[17] = 1
		case glowly.UndertoneNeutral:
			v[18] = 1
		}
	}

	q := face.Quality
	v[19] = float32(q.Lighting)
	v[20] = float32(q.Sharpness)
	v[21] = float32(q.Pose)
	v[22] = float32(q.Expression)
	v[23] = float32(q.Occlusion)
	return v
}

func centroid(pts []glowly.Point) (glowly.Point, bool) {
	if len(pts) == 0 {
		return glowly.Point{}, false
	}
	var c glowly.Point
	for _, p := range pts {
		c.X += p.X
		c.Y += p.Y
	}
	n := float64(len(pts))
	return glowly.Point{X: c.X / n, Y: c.Y / n}, true
}

func clamp01(v float64) float64 {
	switch {
	case v < 0:
		return 0
	case v > 1:
		return 1
	}
	return v
}
