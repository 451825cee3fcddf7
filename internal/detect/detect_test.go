package detect

import (
	"context"
	"errors"
	"image"
	"image/color"
	"testing"

	"github.com/prethora/glowly"
)

var (
	skin       = color.RGBA{R: 224, G: 172, B: 140, A: 255}
	background = color.RGBA{R: 20, G: 20, B: 30, A: 255}
)

func paint(w, h int, boxes ...image.Rectangle) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.SetRGBA(x, y, background)
		}
	}
	for _, b := range boxes {
		for y := b.Min.Y; y < b.Max.Y; y++ {
			for x := b.Min.X; x < b.Max.X; x++ {
				img.SetRGBA(x, y, skin)
			}
		}
	}
	return img
}

func iou(a, b image.Rectangle) float64 {
	inter := a.Intersect(b)
	if inter.Empty() {
		return 0
	}
	ia := float64(inter.Dx() * inter.Dy())
	return ia / (float64(a.Dx()*a.Dy()+b.Dx()*b.Dy()) - ia)
}

func TestSkinDetectorSingleFace(t *testing.T) {
	box := image.Rect(100, 80, 250, 280)
	d := NewSkinDetector(Options{})

	faces, err := d.Detect(context.Background(), paint(400, 400, box))
	if err != nil {
		t.Fatalf("Detect() error = %v", err)
	}
	if len(faces) != 1 {
		t.Fatalf("len(faces) = %d, want 1", len(faces))
	}
	if got := iou(faces[0].Box, box); got < 0.9 {
		t.Errorf("box = %v, IoU with %v = %.2f", faces[0].Box, box, got)
	}
	if c := faces[0].Confidence; c < 0.7 || c > 0.99 {
		t.Errorf("confidence = %v, want in [0.7, 0.99]", c)
	}
}

func TestSkinDetectorFiltersShapes(t *testing.T) {
	big := image.Rect(40, 40, 160, 200)
	small := image.Rect(250, 40, 330, 140)
	speck := image.Rect(350, 350, 360, 360)
	strip := image.Rect(20, 300, 380, 330)

	tests := []struct {
		name  string
		opts  Options
		boxes []image.Rectangle
		want  []image.Rectangle
	}{
		{"largest first", Options{}, []image.Rectangle{small, big}, []image.Rectangle{big, small}},
		{"speck rejected", Options{}, []image.Rectangle{big, speck}, []image.Rectangle{big}},
		{"wide strip rejected", Options{}, []image.Rectangle{strip, small}, []image.Rectangle{small}},
		{"max faces", Options{MaxFaces: 1}, []image.Rectangle{small, big}, []image.Rectangle{big}},
		{"nothing skin", Options{}, nil, nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			faces, err := NewSkinDetector(tt.opts).Detect(context.Background(), paint(400, 400, tt.boxes...))
			if err != nil {
				t.Fatalf("Detect() error = %v", err)
			}
			if len(faces) != len(tt.want) {
				t.Fatalf("got %d faces %v, want %d", len(faces), faces, len(tt.want))
			}
			for i, w := range tt.want {
				if got := iou(faces[i].Box, w); got < 0.8 {
					t.Errorf("faces[%d] = %v, want about %v", i, faces[i].Box, w)
				}
			}
		})
	}
}

func TestSkinDetectorInputs(t *testing.T) {
	d := NewSkinDetector(DefaultOptions())

	if _, err := d.Detect(context.Background(), nil); !errors.Is(err, glowly.ErrUnsuitableInput) {
		t.Errorf("Detect(nil) error = %v, want ErrUnsuitableInput", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := d.Detect(ctx, paint(64, 64)); !errors.Is(err, context.Canceled) {
		t.Errorf("Detect(canceled) error = %v, want context.Canceled", err)
	}
}

func TestSkinDetectorNonZeroOrigin(t *testing.T) {
	full := paint(300, 300, image.Rect(120, 100, 220, 230))
	sub := full.SubImage(image.Rect(50, 50, 300, 300))

	faces, err := NewSkinDetector(Options{}).Detect(context.Background(), sub)
	if err != nil {
		t.Fatal(err)
	}
	if len(faces) != 1 {
		t.Fatalf("len(faces) = %d, want 1", len(faces))
	}
	if got := iou(faces[0].Box, image.Rect(120, 100, 220, 230)); got < 0.9 {
		t.Errorf("box = %v, want absolute coordinates near (120,100)-(220,230)", faces[0].Box)
	}
}
