package glowly

import (
	"context"
	"image"
	"math"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

// fpsAlpha smooths the frame-rate estimate.
const fpsAlpha = 0.2

// Frame is one captured video frame pushed into the tracker.
type Frame struct {
	Seq       uint64
	Timestamp time.Time
	Image     image.Image
}

// FaceTrack is a snapshot of one tracked face.
type FaceTrack struct {
	ID          string          `json:"id"`
	Observation FaceObservation `json:"observation"`

	// Stability is the smoothed mean of confidence times frame-to-frame
	// overlap over the recent window, in [0, 1].
	Stability float64 `json:"stability"`

	FirstSeen time.Time `json:"first_seen"`
	LastSeen  time.Time `json:"last_seen"`

	// Frames counts frames in which the track was matched.
	Frames int `json:"frames"`

	// Misses counts consecutive frames without a match.
	Misses int `json:"misses"`
}

// trackState is the loop-private mutable state behind a FaceTrack.
type trackState struct {
	FaceTrack
	window []float64
}

// Tracker follows faces across a stream of frames. Frames are consumed on
// the tracker's own goroutine; queries read the most recent snapshot and
// never block the loop.
type Tracker struct {
	detector FaceDetector
	th       Thresholds
	logger   Logger

	inbox chan Frame

	// tracks and lastFrame are owned by the loop goroutine.
	tracks    []*trackState
	lastFrame time.Time

	snapshot  atomic.Pointer[[]FaceTrack]
	fpsBits   atomic.Uint64
	dropped   atomic.Int64
	processed atomic.Int64

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

// NewTracker creates a stopped tracker with an inbox of the given capacity.
func NewTracker(detector FaceDetector, th Thresholds, inbox int, logger Logger) *Tracker {
	if inbox < 1 {
		inbox = 1
	}
	t := &Tracker{
		detector: detector,
		th:       th,
		logger:   orNop(logger),
		inbox:    make(chan Frame, inbox),
	}
	empty := []FaceTrack{}
	t.snapshot.Store(&empty)
	return t
}

// Start launches the frame loop. Track state and queued frames from a
// previous run are discarded. Returns ErrAlreadyRunning if the loop is
// active.
func (t *Tracker) Start(ctx context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.cancel != nil {
		return ErrAlreadyRunning
	}

	t.drainInbox()
	t.tracks = nil
	t.lastFrame = time.Time{}
	t.fpsBits.Store(0)
	empty := []FaceTrack{}
	t.snapshot.Store(&empty)

	ctx, cancel := context.WithCancel(ctx)
	t.cancel = cancel
	t.done = make(chan struct{})
	go t.run(ctx, t.done)
	return nil
}

// Stop ends the frame loop and waits for it to exit. The last snapshot
// stays queryable. Safe to call when not running.
func (t *Tracker) Stop() {
	t.mu.Lock()
	cancel, done := t.cancel, t.done
	t.cancel, t.done = nil, nil
	t.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	<-done
}

func (t *Tracker) drainInbox() {
	for {
		select {
		case <-t.inbox:
		default:
			return
		}
	}
}

// Running reports whether the frame loop is active.
func (t *Tracker) Running() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.cancel != nil
}

// Submit queues a frame without blocking. It returns false and counts a
// drop when the inbox is full.
func (t *Tracker) Submit(f Frame) bool {
	select {
	case t.inbox <- f:
		return true
	default:
		t.dropped.Add(1)
		return false
	}
}

func (t *Tracker) run(ctx context.Context, done chan struct{}) {
	defer close(done)
	defer t.exited(done)
	for {
		select {
		case <-ctx.Done():
			return
		case f := <-t.inbox:
			t.process(ctx, f)
		}
	}
}

// exited clears the running state when the loop ends because its parent
// context did. Stop has already cleared it otherwise.
func (t *Tracker) exited(done chan struct{}) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.done != done {
		return
	}
	t.cancel()
	t.cancel, t.done = nil, nil
}

// process runs detection and lightweight quality scoring on one frame and
// updates the track set.
func (t *Tracker) process(ctx context.Context, f Frame) {
	defer t.processed.Add(1)
	if f.Image == nil {
		return
	}
	if f.Timestamp.IsZero() {
		f.Timestamp = time.Now()
	}

	dets, err := t.detector.Detect(ctx, f.Image)
	if err != nil {
		// A failed frame counts as a frame without faces so tracks keep aging.
		t.logger.Debug("detection failed", "seq", f.Seq, "error", err)
		t.match(nil, f.Timestamp)
		t.publish()
		return
	}

	bounds := f.Image.Bounds()
	work := observeFaces(dets, bounds)
	for i := range work {
		w := &work[i]
		w.obs.Quality = assessFaceQuality(f.Image, w.raw, w.obs.PixelBox, nil)
	}

	t.match(work, f.Timestamp)
	t.updateFPS(f.Timestamp)
	t.publish()
}

type trackPair struct {
	track, det int
	iou        float64
}

// match assigns detections to tracks greedily, highest overlap first.
func (t *Tracker) match(work []faceWork, now time.Time) {
	var pairs []trackPair
	for i, tr := range t.tracks {
		for j := range work {
			iou := tr.Observation.BoundingBox.IoU(work[j].obs.BoundingBox)
			if iou >= t.th.TrackMinIoU {
				pairs = append(pairs, trackPair{track: i, det: j, iou: iou})
			}
		}
	}
	sort.SliceStable(pairs, func(a, b int) bool { return pairs[a].iou > pairs[b].iou })

	trackUsed := make([]bool, len(t.tracks))
	detUsed := make([]bool, len(work))
	for _, p := range pairs {
		if trackUsed[p.track] || detUsed[p.det] {
			continue
		}
		trackUsed[p.track] = true
		detUsed[p.det] = true
		t.tracks[p.track].update(work[p.det].obs, p.iou, now, t.th)
	}

	kept := t.tracks[:0]
	for i, tr := range t.tracks {
		if !trackUsed[i] {
			tr.Misses++
			if tr.Misses > t.th.MaxMissedFrames {
				continue
			}
		}
		kept = append(kept, tr)
	}
	t.tracks = kept

	for j := range work {
		if detUsed[j] {
			continue
		}
		t.tracks = append(t.tracks, &trackState{FaceTrack: FaceTrack{
			ID:          uuid.NewString(),
			Observation: work[j].obs,
			FirstSeen:   now,
			LastSeen:    now,
			Frames:      1,
		}})
	}
}

func (s *trackState) update(obs FaceObservation, iou float64, now time.Time, th Thresholds) {
	s.window = append(s.window, obs.Confidence*iou)
	if len(s.window) > th.StabilityWindow {
		s.window = s.window[len(s.window)-th.StabilityWindow:]
	}
	var sum float64
	for _, v := range s.window {
		sum += v
	}
	mean := sum / float64(len(s.window))

	s.Stability = clamp01(s.Stability + th.StabilitySmoothing*(mean-s.Stability))
	s.Observation = obs
	s.LastSeen = now
	s.Frames++
	s.Misses = 0
}

func (t *Tracker) updateFPS(ts time.Time) {
	defer func() { t.lastFrame = ts }()
	if t.lastFrame.IsZero() {
		return
	}
	dt := ts.Sub(t.lastFrame).Seconds()
	if dt <= 0 {
		return
	}
	inst := 1 / dt
	fps := math.Float64frombits(t.fpsBits.Load())
	if fps == 0 {
		fps = inst
	} else {
		fps += fpsAlpha * (inst - fps)
	}
	t.fpsBits.Store(math.Float64bits(fps))
}

// publish replaces the snapshot wholesale.
func (t *Tracker) publish() {
	snap := make([]FaceTrack, len(t.tracks))
	for i, tr := range t.tracks {
		snap[i] = tr.FaceTrack
	}
	t.snapshot.Store(&snap)
}

// Tracks returns the current track set.
func (t *Tracker) Tracks() []FaceTrack {
	snap := *t.snapshot.Load()
	return append([]FaceTrack(nil), snap...)
}

// MostStableFace returns the track with the highest stability.
func (t *Tracker) MostStableFace() (FaceTrack, bool) {
	snap := *t.snapshot.Load()
	if len(snap) == 0 {
		return FaceTrack{}, false
	}
	best := snap[0]
	for _, tr := range snap[1:] {
		if tr.Stability > best.Stability {
			best = tr
		}
	}
	return best, true
}

// HasWellPositionedFace reports whether a currently visible track is
// stable enough and lies inside the capture region.
func (t *Tracker) HasWellPositionedFace() bool {
	for _, tr := range *t.snapshot.Load() {
		if tr.Misses == 0 &&
			tr.Stability >= t.th.StableThreshold &&
			t.th.CaptureRegion.Contains(tr.Observation.BoundingBox) {
			return true
		}
	}
	return false
}

// FPS returns the smoothed processing frame rate, by frame timestamps.
func (t *Tracker) FPS() float64 {
	return math.Float64frombits(t.fpsBits.Load())
}

// Dropped returns how many frames Submit rejected.
func (t *Tracker) Dropped() int64 { return t.dropped.Load() }

// Processed returns how many frames the loop has handled, skipped ones
// included.
func (t *Tracker) Processed() int64 { return t.processed.Load() }
