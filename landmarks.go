package glowly

import (
	"image"
	"math"
)

// ibugRegions maps the 68-point iBUG 300-W layout onto landmark regions,
// as half-open index ranges. Left and right are image-relative.
var ibugRegions = struct {
	contour, leftBrow, rightBrow, nose, leftEye, rightEye, lips [2]int
}{
	contour:   [2]int{0, 17},
	leftBrow:  [2]int{17, 22},
	rightBrow: [2]int{22, 27},
	nose:      [2]int{27, 36},
	leftEye:   [2]int{36, 42},
	rightEye:  [2]int{42, 48},
	lips:      [2]int{48, 68},
}

// landmarksFromDetector groups raw detector points into regions. Only the
// 68-point layout is recognized; anything else falls back to the template.
func landmarksFromDetector(points []image.Point, bounds image.Rectangle, box Rect) *FaceLandmarks {
	if len(points) != 68 {
		return templateLandmarks(box)
	}
	norm := make([]Point, len(points))
	w, h := float64(bounds.Dx()), float64(bounds.Dy())
	for i, p := range points {
		norm[i] = Point{X: float64(p.X-bounds.Min.X) / w, Y: float64(p.Y-bounds.Min.Y) / h}
	}
	pick := func(r [2]int) []Point {
		return append([]Point(nil), norm[r[0]:r[1]]...)
	}
	return &FaceLandmarks{
		Contour:      pick(ibugRegions.contour),
		LeftEyebrow:  pick(ibugRegions.leftBrow),
		RightEyebrow: pick(ibugRegions.rightBrow),
		Nose:         pick(ibugRegions.nose),
		LeftEye:      pick(ibugRegions.leftEye),
		RightEye:     pick(ibugRegions.rightEye),
		Lips:         pick(ibugRegions.lips),
	}
}

// templateLandmarks places a proportional average-face template inside box.
// The point counts match the 68-point layout so refinement models see the
// same shape either way.
func templateLandmarks(box Rect) *FaceLandmarks {
	at := func(fx, fy float64) Point {
		return Point{X: box.X + fx*box.Width, Y: box.Y + fy*box.Height}
	}
	ellipse := func(cx, cy, rx, ry float64, n int, from, to float64) []Point {
		pts := make([]Point, n)
		for i := 0; i < n; i++ {
			a := from + (to-from)*float64(i)/float64(n)
			if n > 1 && to-from < 2*math.Pi {
				a = from + (to-from)*float64(i)/float64(n-1)
			}
			pts[i] = at(cx+rx*math.Cos(a), cy+ry*math.Sin(a))
		}
		return pts
	}
	line := func(x0, y0, x1, y1 float64, n int) []Point {
		pts := make([]Point, n)
		for i := 0; i < n; i++ {
			f := float64(i) / float64(n-1)
			pts[i] = at(x0+(x1-x0)*f, y0+(y1-y0)*f)
		}
		return pts
	}

	nose := line(0.5, 0.40, 0.5, 0.60, 4)
	nose = append(nose, line(0.40, 0.65, 0.60, 0.65, 5)...)

	lips := ellipse(0.5, 0.80, 0.20, 0.06, 12, 0, 2*math.Pi)
	lips = append(lips, ellipse(0.5, 0.80, 0.12, 0.02, 8, 0, 2*math.Pi)...)

	return &FaceLandmarks{
		// Jaw from the left temple, around the chin, to the right temple.
		Contour:      ellipse(0.5, 0.35, 0.5, 0.63, 17, math.Pi, 0),
		LeftEyebrow:  line(0.18, 0.28, 0.42, 0.26, 5),
		RightEyebrow: line(0.58, 0.26, 0.82, 0.28, 5),
		Nose:         nose,
		LeftEye:      ellipse(0.30, 0.38, 0.08, 0.035, 6, 0, 2*math.Pi),
		RightEye:     ellipse(0.70, 0.38, 0.08, 0.035, 6, 0, 2*math.Pi),
		Lips:         lips,
	}
}

// withPoints returns a copy of l whose regions are refilled, in All()
// order, from pts. Returns l unchanged when the counts differ.
func (l *FaceLandmarks) withPoints(pts []Point) *FaceLandmarks {
	regions := []*[]Point{&l.Contour, &l.LeftEyebrow, &l.RightEyebrow, &l.Nose, &l.LeftEye, &l.RightEye, &l.Lips}
	total := 0
	for _, r := range regions {
		total += len(*r)
	}
	if len(pts) != total {
		return l
	}

	out := &FaceLandmarks{}
	dst := []*[]Point{&out.Contour, &out.LeftEyebrow, &out.RightEyebrow, &out.Nose, &out.LeftEye, &out.RightEye, &out.Lips}
	off := 0
	for i, r := range regions {
		n := len(*r)
		*dst[i] = append([]Point(nil), pts[off:off+n]...)
		off += n
	}
	return out
}

func centroid(pts []Point) (Point, bool) {
	if len(pts) == 0 {
		return Point{}, false
	}
	var c Point
	for _, p := range pts {
		c.X += p.X
		c.Y += p.Y
	}
	n := float64(len(pts))
	return Point{X: c.X / n, Y: c.Y / n}, true
}

func spanX(pts []Point) float64 {
	if len(pts) == 0 {
		return 0
	}
	lo, hi := pts[0].X, pts[0].X
	for _, p := range pts[1:] {
		lo = math.Min(lo, p.X)
		hi = math.Max(hi, p.X)
	}
	return hi - lo
}
