package glowly

import (
	"context"
	"errors"
	"image"
	"image/color"
	"sync"
	"testing"
	"time"
)

// scriptedDetector returns whatever boxes are currently set.
type scriptedDetector struct {
	mu    sync.Mutex
	boxes []image.Rectangle
	conf  float64
	err   error
}

func (d *scriptedDetector) set(boxes ...image.Rectangle) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.boxes = boxes
}

func (d *scriptedDetector) Detect(context.Context, image.Image) ([]DetectedFace, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.err != nil {
		return nil, d.err
	}
	out := make([]DetectedFace, len(d.boxes))
	for i, b := range d.boxes {
		out[i] = DetectedFace{Box: b, Confidence: d.conf}
	}
	return out, nil
}

func newTestTracker() (*Tracker, *scriptedDetector) {
	det := &scriptedDetector{conf: 0.95}
	return NewTracker(det, DefaultThresholds(), 2, nil), det
}

var (
	frameImg   = solidImage(400, 400, color.RGBA{R: 40, G: 40, B: 40, A: 255})
	frameStart = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
)

func frameAt(i int) Frame {
	return Frame{Seq: uint64(i), Timestamp: frameStart.Add(time.Duration(i) * 50 * time.Millisecond), Image: frameImg}
}

func TestTrackerKeepsIdentityAcrossFrames(t *testing.T) {
	tr, det := newTestTracker()
	ctx := context.Background()

	det.set(image.Rect(150, 120, 250, 250))
	tr.process(ctx, frameAt(0))

	tracks := tr.Tracks()
	if len(tracks) != 1 {
		t.Fatalf("got %d tracks, want 1", len(tracks))
	}
	id := tracks[0].ID
	if tracks[0].Stability != 0 {
		t.Errorf("new track stability = %g, want 0", tracks[0].Stability)
	}

	// Small drift keeps the same identity.
	for i := 1; i <= 12; i++ {
		det.set(image.Rect(150+i, 120, 250+i, 250))
		tr.process(ctx, frameAt(i))
	}

	tracks = tr.Tracks()
	if len(tracks) != 1 || tracks[0].ID != id {
		t.Fatalf("identity lost: %+v", tracks)
	}
	if tracks[0].Frames != 13 {
		t.Errorf("Frames = %d, want 13", tracks[0].Frames)
	}
	if tracks[0].Stability < 0.7 {
		t.Errorf("Stability = %g after 12 steady frames, want >= 0.7", tracks[0].Stability)
	}
	if !tr.HasWellPositionedFace() {
		t.Error("HasWellPositionedFace() = false for a steady centered face")
	}
	if fps := tr.FPS(); fps < 19.9 || fps > 20.1 {
		t.Errorf("FPS() = %g, want ~20", fps)
	}
}

func TestTrackerStabilityIncreasesMonotonically(t *testing.T) {
	tr, det := newTestTracker()
	det.set(image.Rect(150, 120, 250, 250))

	prev := -1.0
	for i := 0; i < 8; i++ {
		tr.process(context.Background(), frameAt(i))
		s, ok := tr.MostStableFace()
		if !ok {
			t.Fatal("MostStableFace() ok = false")
		}
		if s.Stability < prev {
			t.Fatalf("frame %d: stability fell from %g to %g", i, prev, s.Stability)
		}
		prev = s.Stability
	}
}

func TestTrackerDropsStaleTracks(t *testing.T) {
	tr, det := newTestTracker()
	ctx := context.Background()
	max := DefaultThresholds().MaxMissedFrames

	det.set(image.Rect(150, 120, 250, 250))
	tr.process(ctx, frameAt(0))

	det.set()
	for i := 1; i <= max; i++ {
		tr.process(ctx, frameAt(i))
	}
	tracks := tr.Tracks()
	if len(tracks) != 1 || tracks[0].Misses != max {
		t.Fatalf("after %d misses: %+v", max, tracks)
	}
	if tr.HasWellPositionedFace() {
		t.Error("missing face reported as well positioned")
	}

	tr.process(ctx, frameAt(max+1))
	if got := len(tr.Tracks()); got != 0 {
		t.Errorf("tracks = %d after %d misses, want 0", got, max+1)
	}
	if _, ok := tr.MostStableFace(); ok {
		t.Error("MostStableFace() ok = true with no tracks")
	}
}

func TestTrackerGreedyMatching(t *testing.T) {
	tr, det := newTestTracker()
	ctx := context.Background()

	left := image.Rect(20, 100, 120, 220)
	right := image.Rect(260, 100, 360, 220)
	det.set(left, right)
	tr.process(ctx, frameAt(0))
	before := tr.Tracks()

	det.set(right.Add(image.Pt(3, 0)), left.Add(image.Pt(-3, 0)))
	tr.process(ctx, frameAt(1))
	after := tr.Tracks()

	if len(after) != 2 {
		t.Fatalf("got %d tracks, want 2", len(after))
	}
	for i := range before {
		if after[i].ID != before[i].ID {
			t.Errorf("track %d changed identity", i)
		}
		if after[i].Frames != 2 {
			t.Errorf("track %d Frames = %d, want 2", i, after[i].Frames)
		}
	}
	if after[0].Observation.PixelBox.Min.X != 17 {
		t.Errorf("left track matched wrong detection: %v", after[0].Observation.PixelBox)
	}
}

func TestTrackerFaceOutsideCaptureRegion(t *testing.T) {
	tr, det := newTestTracker()
	det.set(image.Rect(0, 0, 80, 100))
	for i := 0; i < 15; i++ {
		tr.process(context.Background(), frameAt(i))
	}
	if tr.HasWellPositionedFace() {
		t.Error("corner face reported as well positioned")
	}
}

func TestTrackerDetectorErrorAgesTracks(t *testing.T) {
	tr, det := newTestTracker()
	ctx := context.Background()
	max := DefaultThresholds().MaxMissedFrames

	det.set(image.Rect(150, 120, 250, 250))
	for i := 0; i < 5; i++ {
		tr.process(ctx, frameAt(i))
	}
	if !tr.HasWellPositionedFace() {
		t.Fatal("HasWellPositionedFace() = false before the detector fails")
	}

	det.mu.Lock()
	det.err = errors.New("camera glitch")
	det.mu.Unlock()

	tr.process(ctx, frameAt(5))
	tracks := tr.Tracks()
	if len(tracks) != 1 || tracks[0].Misses != 1 {
		t.Fatalf("after one failed frame: %+v", tracks)
	}
	if tr.HasWellPositionedFace() {
		t.Error("HasWellPositionedFace() = true while detection fails")
	}

	for i := 6; i <= 5+max; i++ {
		tr.process(ctx, frameAt(i))
	}
	if got := len(tr.Tracks()); got != 0 {
		t.Errorf("tracks = %d after %d failed frames, want 0", got, max+1)
	}
	if got := tr.Processed(); got != int64(6+max) {
		t.Errorf("Processed() = %d, want %d", got, 6+max)
	}
}

func TestTrackerStartStop(t *testing.T) {
	tr, det := newTestTracker()
	det.set(image.Rect(150, 120, 250, 250))

	if err := tr.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	if err := tr.Start(context.Background()); !errors.Is(err, ErrAlreadyRunning) {
		t.Errorf("second Start() error = %v, want ErrAlreadyRunning", err)
	}

	deadline := time.After(2 * time.Second)
	for tr.Processed() < 3 {
		tr.Submit(frameAt(int(tr.Processed())))
		select {
		case <-deadline:
			t.Fatal("frames not processed")
		case <-time.After(2 * time.Millisecond):
		}
	}

	tr.Stop()
	if tr.Running() {
		t.Error("Running() = true after Stop")
	}
	if len(tr.Tracks()) != 1 {
		t.Error("snapshot cleared by Stop")
	}
	tr.Stop()
}

func TestTrackerClearsRunningWhenContextEnds(t *testing.T) {
	tr, _ := newTestTracker()

	ctx, cancel := context.WithCancel(context.Background())
	if err := tr.Start(ctx); err != nil {
		t.Fatal(err)
	}
	cancel()

	deadline := time.After(2 * time.Second)
	for tr.Running() {
		select {
		case <-deadline:
			t.Fatal("Running() still true after the context ended")
		case <-time.After(2 * time.Millisecond):
		}
	}

	if err := tr.Start(context.Background()); err != nil {
		t.Fatalf("Start() after the context ended error = %v", err)
	}
	tr.Stop()
}

func TestTrackerStartDiscardsQueuedFrames(t *testing.T) {
	tr, det := newTestTracker()
	det.set(image.Rect(150, 120, 250, 250))

	// Queued while stopped; must not leak into the next session.
	tr.Submit(frameAt(0))
	tr.Submit(frameAt(1))

	if err := tr.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	time.Sleep(50 * time.Millisecond)
	tr.Stop()

	if got := tr.Processed(); got != 0 {
		t.Errorf("Processed() = %d, want 0", got)
	}
	if got := len(tr.Tracks()); got != 0 {
		t.Errorf("tracks = %d from stale frames, want 0", got)
	}
}

func TestTrackerSubmitDropsWhenFull(t *testing.T) {
	tr, _ := newTestTracker()
	// Not started: nothing drains the two-slot inbox.
	for i := 0; i < 5; i++ {
		tr.Submit(frameAt(i))
	}
	if got := tr.Dropped(); got != 3 {
		t.Errorf("Dropped() = %d, want 3", got)
	}
}
