package glowly

import (
	"context"
	"errors"
	"image"
	"image/color"
	"sync"
	"sync/atomic"
	"testing"
)

// fakeModel is a Model whose Predict behavior is scripted.
type fakeModel struct {
	typ     ModelType
	closed  atomic.Bool
	calls   atomic.Int64
	predict func(ctx context.Context, in Input) (Output, error)
}

var _ Model = (*fakeModel)(nil)

func (m *fakeModel) Predict(ctx context.Context, in Input) (Output, error) {
	m.calls.Add(1)
	if m.predict != nil {
		return m.predict(ctx, in)
	}
	return Output{Label: string(m.typ), Value: 1}, nil
}

func (m *fakeModel) Close() error {
	m.closed.Store(true)
	return nil
}

// fakeLoader counts loads per type, fails configured types and can hold a
// load open until its gate is closed or its context ends.
type fakeLoader struct {
	mu      sync.Mutex
	calls   map[ModelType]int
	fail    map[ModelType]error
	gates   map[ModelType]chan struct{}
	models  map[ModelType]*fakeModel
	order   []ModelType
	started chan ModelType
	predict func(t ModelType) func(context.Context, Input) (Output, error)
}

var _ ModelLoader = (*fakeLoader)(nil)

func newFakeLoader() *fakeLoader {
	return &fakeLoader{
		calls:   make(map[ModelType]int),
		fail:    make(map[ModelType]error),
		gates:   make(map[ModelType]chan struct{}),
		models:  make(map[ModelType]*fakeModel),
		started: make(chan ModelType, 64),
	}
}

func (l *fakeLoader) Load(ctx context.Context, desc ModelDescriptor) (Model, error) {
	l.mu.Lock()
	l.calls[desc.Type]++
	l.order = append(l.order, desc.Type)
	gate := l.gates[desc.Type]
	failErr := l.fail[desc.Type]
	l.mu.Unlock()

	l.started <- desc.Type

	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if failErr != nil {
		return nil, failErr
	}

	m := &fakeModel{typ: desc.Type}
	if l.predict != nil {
		m.predict = l.predict(desc.Type)
	}
	l.mu.Lock()
	l.models[desc.Type] = m
	l.mu.Unlock()
	return m, nil
}

func (l *fakeLoader) setFail(t ModelType, err error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if err == nil {
		delete(l.fail, t)
		return
	}
	l.fail[t] = err
}

func (l *fakeLoader) setGate(t ModelType) chan struct{} {
	l.mu.Lock()
	defer l.mu.Unlock()
	g := make(chan struct{})
	l.gates[t] = g
	return g
}

func (l *fakeLoader) clearGate(t ModelType) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.gates, t)
}

func (l *fakeLoader) callCount(t ModelType) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.calls[t]
}

func (l *fakeLoader) totalCalls() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	n := 0
	for _, c := range l.calls {
		n += c
	}
	return n
}

func (l *fakeLoader) model(t ModelType) *fakeModel {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.models[t]
}

// fakeDetector returns scripted faces, or an error for images whose
// top-left pixel is pure red.
type fakeDetector struct {
	calls atomic.Int64
	faces []DetectedFace
	err   error
}

var _ FaceDetector = (*fakeDetector)(nil)

var errDetector = errors.New("detector exploded")

func (d *fakeDetector) Detect(ctx context.Context, img image.Image) ([]DetectedFace, error) {
	d.calls.Add(1)
	if d.err != nil {
		return nil, d.err
	}
	b := img.Bounds()
	r, g, bl, _ := img.At(b.Min.X, b.Min.Y).RGBA()
	if r == 0xffff && g == 0 && bl == 0 {
		return nil, errDetector
	}
	out := make([]DetectedFace, len(d.faces))
	copy(out, d.faces)
	return out, nil
}

// solidImage returns a w x h image filled with c.
func solidImage(w, h int, c color.RGBA) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.SetRGBA(x, y, c)
		}
	}
	return img
}

// faceImage returns a w x h dark image with a skin-colored rectangle at box.
func faceImage(w, h int, box image.Rectangle, skin color.RGBA) *image.RGBA {
	img := solidImage(w, h, color.RGBA{R: 20, G: 20, B: 30, A: 255})
	for y := box.Min.Y; y < box.Max.Y; y++ {
		for x := box.Min.X; x < box.Max.X; x++ {
			img.SetRGBA(x, y, skin)
		}
	}
	return img
}

// testCatalog is the three-model catalog used by registry scenarios.
func testCatalog(t *testing.T) *Catalog {
	t.Helper()
	c, err := NewCatalog(
		ModelDescriptor{Type: ModelFaceDetection, Priority: 1, Essential: true, EstimatedMemory: 4 * mb},
		ModelDescriptor{Type: ModelSkinToneClassifier, Priority: 2, Essential: true, EstimatedMemory: 2 * mb},
		ModelDescriptor{Type: ModelMakeupApplication, Priority: 3, EstimatedMemory: 24 * mb},
	)
	if err != nil {
		t.Fatal(err)
	}
	return c
}

// recordingSink is an AnalyticsSink that keeps every event.
type recordingSink struct {
	mu     sync.Mutex
	events []string
	props  []map[string]any
}

var _ AnalyticsSink = (*recordingSink)(nil)

func (s *recordingSink) RecordEvent(name string, props map[string]any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, name)
	s.props = append(s.props, props)
}

func (s *recordingSink) names() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.events...)
}
