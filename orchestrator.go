package glowly

import (
	"context"
	"errors"
	"image"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"
)

// Orchestrator is the facade over the model registry, the inference pool,
// the analysis pipeline, the real-time tracker and the recommender. It only
// schedules work; all heavy lifting runs on the components' own goroutines.
type Orchestrator struct {
	cfg    Config
	logger Logger
	sink   AnalyticsSink

	registry    *Registry
	exec        *Executor
	pipeline    *Pipeline
	tracker     *Tracker
	recommender *Recommender
	governor    *Governor
	hub         *eventHub

	metrics      atomic.Pointer[PerformanceMetrics]
	lastAnalysis atomic.Int64
	completed    atomic.Int64
	failed       atomic.Int64

	mu       sync.Mutex
	closed   bool
	bgCancel context.CancelFunc
	bgWG     sync.WaitGroup
	rtCancel context.CancelFunc
	rtDone   chan struct{}
}

// New creates an Orchestrator. A FaceDetector is required; everything else
// has a default. Models are not loaded until Initialize.
func New(opts ...Option) (*Orchestrator, error) {
	c := newOrchestratorConfig()
	for _, opt := range opts {
		opt(c)
	}

	if c.detector == nil {
		return nil, errors.New("glowly: a FaceDetector is required")
	}
	if err := c.cfg.Validate(); err != nil {
		return nil, err
	}

	cfg := c.cfg
	catalog := c.catalog
	if catalog == nil {
		catalog = DefaultCatalog().Without(cfg.DisabledModels...)
	}
	loader := c.loader
	if loader == nil {
		loader = NewBuiltinLoader(cfg.Thresholds, cfg.PlaceholderModels)
	}
	pressure := c.pressure
	if pressure == nil && cfg.HeapBudgetMB > 0 {
		pressure = RuntimePressure{Budget: uint64(cfg.HeapBudgetMB) * mb}
	}

	o := &Orchestrator{
		cfg:    cfg,
		logger: orNop(c.logger),
		sink:   c.sink,
		hub:    newEventHub(),
	}
	o.registry = NewRegistry(catalog, loader,
		WithRegistryLogger(c.logger),
		WithMemoryBudget(int64(cfg.MemoryBudgetMB)*mb),
		WithLoadConcurrency(cfg.LoadConcurrency),
		WithRegistryObserver(o.hub.publish),
	)
	o.exec = NewExecutor(o.registry, cfg.Workers, c.logger)
	o.pipeline = NewPipeline(c.detector, o.exec, cfg.Thresholds, c.logger)
	o.tracker = NewTracker(c.detector, cfg.Thresholds, cfg.TrackerInbox, c.logger)
	o.recommender = NewRecommender(c.prefs, c.sink, cfg.LearningRate, c.logger)
	o.governor = NewGovernor(o.registry, pressure, cfg.Thresholds.PressureThreshold, c.logger)
	o.metrics.Store(&PerformanceMetrics{SampledAt: time.Now()})
	return o, nil
}

// Initialize loads every catalog model and starts the memory governor and
// metrics sampler. Individual load failures, essential ones included, are
// reported in the LoadReport and do not fail Initialize; only ctx does.
// Calling Initialize again retries models that failed.
func (o *Orchestrator) Initialize(ctx context.Context) (LoadReport, error) {
	if o.isClosed() {
		return LoadReport{}, ErrClosed
	}

	start := time.Now()
	report := o.registry.LoadAll(ctx)
	if err := ctx.Err(); err != nil {
		return report, err
	}

	for _, f := range report.EssentialFailures() {
		o.logger.Warn("essential model unavailable", "model", f.Type, "error", f.Err)
	}
	o.startBackground()
	m := o.RefreshMetrics()

	o.logger.Info("models initialized",
		"loaded", m.ModelsLoaded,
		"failed", len(report.Failed()),
		"duration", time.Since(start))
	o.hub.publish(Event{Kind: EventInitialized, Duration: time.Since(start)})
	o.sink.RecordEvent("models_initialized", map[string]any{
		"loaded":      m.ModelsLoaded,
		"failed":      len(report.Failed()),
		"duration_ms": time.Since(start).Milliseconds(),
	})
	return report, nil
}

// startBackground launches the governor and metrics loops once.
func (o *Orchestrator) startBackground() {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.bgCancel != nil || o.closed {
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	o.bgCancel = cancel

	o.bgWG.Add(2)
	go func() {
		defer o.bgWG.Done()
		o.governor.Run(ctx, o.cfg.GovernorInterval())
	}()
	go func() {
		defer o.bgWG.Done()
		ticker := time.NewTicker(o.cfg.MetricsInterval())
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				o.RefreshMetrics()
			}
		}
	}()
}

// Initialized reports whether every essential model has been attempted.
func (o *Orchestrator) Initialized() bool {
	return o.registry.Initialized()
}

// Analyze runs the still-image pipeline on img. Images outside the
// configured size bounds fail with ErrUnsuitableInput before any detector
// or model call; before Initialize it fails with ErrNotInitialized.
func (o *Orchestrator) Analyze(ctx context.Context, img image.Image) (*AnalysisResult, error) {
	res, err := o.analyze(ctx, img)
	if err != nil {
		o.failed.Add(1)
		o.hub.publish(Event{Kind: EventAnalysisFailed, Err: err})
		o.sink.RecordEvent("analysis_failed", map[string]any{
			"error": Describe(err).Message,
		})
		return nil, err
	}

	o.completed.Add(1)
	o.lastAnalysis.Store(int64(res.ProcessingDuration))
	o.hub.publish(Event{Kind: EventAnalysisCompleted, Duration: res.ProcessingDuration})
	o.sink.RecordEvent("analysis_completed", map[string]any{
		"faces":         len(res.Faces),
		"opportunities": len(res.Opportunities),
		"scene":         res.Scene.Label,
		"duration_ms":   res.ProcessingDuration.Milliseconds(),
	})
	return res, nil
}

func (o *Orchestrator) analyze(ctx context.Context, img image.Image) (*AnalysisResult, error) {
	if img == nil {
		return nil, ErrUnsuitableInput
	}
	if err := ValidateImageSize(img.Bounds(), o.cfg.Thresholds); err != nil {
		return nil, err
	}
	if o.isClosed() {
		return nil, ErrClosed
	}
	if !o.registry.Initialized() {
		return nil, ErrNotInitialized
	}
	return o.pipeline.Analyze(ctx, img)
}

// BatchAnalyze analyzes imgs concurrently, bounded by
// Config.BatchConcurrency. Failed images are logged and skipped; the
// remaining results keep the input order.
func (o *Orchestrator) BatchAnalyze(ctx context.Context, imgs []image.Image) []*AnalysisResult {
	results := make([]*AnalysisResult, len(imgs))

	var g errgroup.Group
	g.SetLimit(o.cfg.BatchConcurrency)
	for i, img := range imgs {
		i, img := i, img
		g.Go(func() error {
			res, err := o.Analyze(ctx, img)
			if err != nil {
				o.logger.Warn("batch image skipped", "index", i, "error", err)
				return nil
			}
			results[i] = res
			return nil
		})
	}
	g.Wait()

	out := make([]*AnalysisResult, 0, len(imgs))
	for _, r := range results {
		if r != nil {
			out = append(out, r)
		}
	}
	return out
}

// StartRealTime starts the tracker and feeds it frames until ctx ends,
// frames is closed or StopRealTime is called. Frames that arrive while the
// tracker is busy are dropped.
func (o *Orchestrator) StartRealTime(ctx context.Context, frames <-chan Frame) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.closed {
		return ErrClosed
	}
	if o.rtCancel != nil {
		return ErrAlreadyRunning
	}
	if err := o.tracker.Start(ctx); err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	o.rtCancel, o.rtDone = cancel, done

	go func() {
		defer close(done)
		defer o.endRealTime(done)
		for {
			select {
			case <-ctx.Done():
				return
			case f, ok := <-frames:
				if !ok {
					return
				}
				o.tracker.Submit(f)
			}
		}
	}()

	o.hub.publish(Event{Kind: EventRealTimeStarted})
	o.logger.Info("real-time tracking started")
	return nil
}

// StopRealTime stops frame forwarding and the tracker loop. Loaded models
// and the last track snapshot are kept.
func (o *Orchestrator) StopRealTime() {
	o.mu.Lock()
	cancel, done := o.rtCancel, o.rtDone
	o.rtCancel, o.rtDone = nil, nil
	o.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	<-done
	o.tracker.Stop()

	o.hub.publish(Event{Kind: EventRealTimeStopped})
	o.logger.Info("real-time tracking stopped",
		"processed", o.tracker.Processed(),
		"dropped", o.tracker.Dropped())
}

// endRealTime ends the session owning done after its forwarder stopped on
// its own, because ctx ended or the frame channel closed. It is a no-op
// once StopRealTime has taken the session over.
func (o *Orchestrator) endRealTime(done chan struct{}) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.rtDone != done {
		return
	}
	o.rtCancel()
	o.rtCancel, o.rtDone = nil, nil
	o.tracker.Stop()

	o.hub.publish(Event{Kind: EventRealTimeStopped})
	o.logger.Info("real-time tracking ended",
		"processed", o.tracker.Processed(),
		"dropped", o.tracker.Dropped())
}

// Tracker exposes the real-time tracker for queries.
func (o *Orchestrator) Tracker() *Tracker { return o.tracker }

// Registry exposes the model registry.
func (o *Orchestrator) Registry() *Registry { return o.registry }

// Models returns the loaded models in priority order.
func (o *Orchestrator) Models() []ModelInfo { return o.registry.Loaded() }

// Metrics returns the most recent metrics sample.
func (o *Orchestrator) Metrics() PerformanceMetrics {
	return *o.metrics.Load()
}

// RefreshMetrics samples the components now and replaces the snapshot.
func (o *Orchestrator) RefreshMetrics() PerformanceMetrics {
	m := &PerformanceMetrics{
		ModelsLoaded:         len(o.registry.Loaded()),
		AverageInferenceTime: o.registry.AverageLatency(),
		MemoryEstimate:       o.registry.MemoryEstimate(),
		RealTimeFPS:          o.tracker.FPS(),
		LastAnalysisDuration: time.Duration(o.lastAnalysis.Load()),
		AnalysesCompleted:    o.completed.Load(),
		AnalysesFailed:       o.failed.Load(),
		SampledAt:            time.Now(),
	}
	o.metrics.Store(m)
	return *m
}

// Recommend personalizes res for userID.
func (o *Orchestrator) Recommend(ctx context.Context, userID string, res *AnalysisResult) (Recommendation, error) {
	return o.recommender.Recommend(ctx, userID, res)
}

// RecordFeedback records a user's reaction to an applied enhancement.
func (o *Orchestrator) RecordFeedback(ctx context.Context, userID string, ev FeedbackEvent) error {
	return o.recommender.RecordFeedback(ctx, userID, ev)
}

// Subscribe returns a channel of state events and a func that ends the
// subscription. Events are dropped for a subscriber whose buffer is full.
func (o *Orchestrator) Subscribe(buffer int) (<-chan Event, func()) {
	return o.hub.subscribe(buffer)
}

// Close stops real-time tracking and the background loops, waits for
// in-flight inferences and unloads every model. Subscriber channels are
// closed last.
func (o *Orchestrator) Close() error {
	o.mu.Lock()
	if o.closed {
		o.mu.Unlock()
		return nil
	}
	o.closed = true
	bgCancel := o.bgCancel
	o.mu.Unlock()

	o.StopRealTime()
	if bgCancel != nil {
		bgCancel()
	}
	o.bgWG.Wait()

	o.exec.Close()
	err := o.registry.Close()
	o.hub.close()
	return err
}

func (o *Orchestrator) isClosed() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.closed
}
