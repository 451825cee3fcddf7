// Package detect provides a dependency-free FaceDetector that finds
// face-shaped blobs of skin-colored pixels.
//
// It is a fallback for hosts without a platform face detector. Boxes are
// coarse and no landmark points are reported.
package detect

import (
	"context"
	"image"
	"sort"

	"github.com/prethora/glowly"
)

// Options tunes the skin-blob detector.
type Options struct {
	// MinFaceSize is the smallest accepted box side in pixels.
	MinFaceSize int

	// MaxFaces caps how many faces are reported, largest first.
	MaxFaces int

	// MinFill is the minimum fraction of the box covered by skin.
	MinFill float64

	// MinAspect and MaxAspect bound height/width of accepted boxes.
	MinAspect float64
	MaxAspect float64
}

// DefaultOptions returns settings tuned for frontal portraits.
func DefaultOptions() Options {
	return Options{
		MinFaceSize: 24,
		MaxFaces:    8,
		MinFill:     0.45,
		MinAspect:   0.7,
		MaxAspect:   2.0,
	}
}

// SkinDetector finds faces as connected regions of skin color on a coarse
// grid.
type SkinDetector struct {
	opts Options
}

var _ glowly.FaceDetector = (*SkinDetector)(nil)

// NewSkinDetector creates a detector. Zero-valued fields in opts take the
// defaults.
func NewSkinDetector(opts Options) *SkinDetector {
	def := DefaultOptions()
	if opts.MinFaceSize <= 0 {
		opts.MinFaceSize = def.MinFaceSize
	}
	if opts.MaxFaces <= 0 {
		opts.MaxFaces = def.MaxFaces
	}
	if opts.MinFill <= 0 {
		opts.MinFill = def.MinFill
	}
	if opts.MinAspect <= 0 {
		opts.MinAspect = def.MinAspect
	}
	if opts.MaxAspect <= 0 {
		opts.MaxAspect = def.MaxAspect
	}
	return &SkinDetector{opts: opts}
}

type blob struct {
	box   image.Rectangle
	cells int
	fill  float64
}

// Detect returns candidate faces, largest first.
func (d *SkinDetector) Detect(ctx context.Context, img image.Image) ([]glowly.DetectedFace, error) {
	if img == nil {
		return nil, glowly.ErrUnsuitableInput
	}
	b := img.Bounds()
	cell := cellSize(b)
	cols, rows := (b.Dx()+cell-1)/cell, (b.Dy()+cell-1)/cell
	if cols == 0 || rows == 0 {
		return nil, nil
	}

	grid := make([]bool, cols*rows)
	for gy := 0; gy < rows; gy++ {
		if gy%16 == 0 {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
		}
		for gx := 0; gx < cols; gx++ {
			x := b.Min.X + gx*cell + cell/2
			y := b.Min.Y + gy*cell + cell/2
			if x >= b.Max.X {
				x = b.Max.X - 1
			}
			if y >= b.Max.Y {
				y = b.Max.Y - 1
			}
			r, g, bl, _ := img.At(x, y).RGBA()
			grid[gy*cols+gx] = glowly.IsSkinColor(uint8(r>>8), uint8(g>>8), uint8(bl>>8))
		}
	}

	var blobs []blob
	seen := make([]bool, len(grid))
	queue := make([]int, 0, 64)
	for start := range grid {
		if !grid[start] || seen[start] {
			continue
		}
		seen[start] = true
		queue = append(queue[:0], start)
		minX, minY, maxX, maxY := cols, rows, -1, -1
		cells := 0
		for len(queue) > 0 {
			i := queue[len(queue)-1]
			queue = queue[:len(queue)-1]
			cells++
			gx, gy := i%cols, i/cols
			minX, maxX = min(minX, gx), max(maxX, gx)
			minY, maxY = min(minY, gy), max(maxY, gy)
			for _, n := range [4][2]int{{gx - 1, gy}, {gx + 1, gy}, {gx, gy - 1}, {gx, gy + 1}} {
				nx, ny := n[0], n[1]
				if nx < 0 || ny < 0 || nx >= cols || ny >= rows {
					continue
				}
				j := ny*cols + nx
				if grid[j] && !seen[j] {
					seen[j] = true
					queue = append(queue, j)
				}
			}
		}

		box := image.Rect(
			b.Min.X+minX*cell, b.Min.Y+minY*cell,
			b.Min.X+(maxX+1)*cell, b.Min.Y+(maxY+1)*cell,
		).Intersect(b)
		area := (maxX - minX + 1) * (maxY - minY + 1)
		blobs = append(blobs, blob{box: box, cells: cells, fill: float64(cells) / float64(area)})
	}

	faces := make([]glowly.DetectedFace, 0, len(blobs))
	sort.SliceStable(blobs, func(i, j int) bool { return blobs[i].cells > blobs[j].cells })
	for _, bl := range blobs {
		if !d.accept(bl) {
			continue
		}
		faces = append(faces, glowly.DetectedFace{Box: bl.box, Confidence: confidence(bl)})
		if len(faces) == d.opts.MaxFaces {
			break
		}
	}
	return faces, nil
}

func (d *SkinDetector) accept(bl blob) bool {
	w, h := bl.box.Dx(), bl.box.Dy()
	if w < d.opts.MinFaceSize || h < d.opts.MinFaceSize {
		return false
	}
	if bl.fill < d.opts.MinFill {
		return false
	}
	aspect := float64(h) / float64(w)
	return aspect >= d.opts.MinAspect && aspect <= d.opts.MaxAspect
}

// confidence rises with fill and peaks for a height/width ratio near 1.3.
func confidence(bl blob) float64 {
	aspect := float64(bl.box.Dy()) / float64(bl.box.Dx())
	shape := 1 - min(1, abs(aspect-1.3)/1.3)
	c := 0.4 + 0.35*bl.fill + 0.25*shape
	return min(c, 0.99)
}

// cellSize keeps the grid near 128 cells on the short side.
func cellSize(b image.Rectangle) int {
	short := min(b.Dx(), b.Dy())
	return max(2, short/128)
}

func abs(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}
