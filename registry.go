package glowly

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"
)

// latencyAlpha is the smoothing factor for the rolling inference latency.
const latencyAlpha = 0.2

// DefaultLoadConcurrency is the default number of loads LoadAll runs at once.
const DefaultLoadConcurrency = 3

// Registry owns the set of loaded models, the in-flight loads and the
// per-model telemetry. All methods are safe for concurrent use.
type Registry struct {
	catalog *Catalog
	loader  ModelLoader
	logger  Logger
	notify  func(Event)
	now     func() time.Time

	// budget caps the summed EstimatedMemory of loaded and loading models.
	// Zero disables admission control.
	budget int64

	loadConcurrency int

	// base is canceled by Close; every load runs under a child of it so
	// that a caller abandoning its wait does not cancel a shared load.
	base       context.Context
	baseCancel context.CancelFunc

	flight singleflight.Group

	// mu guards everything below.
	mu        sync.Mutex
	loaded    map[ModelType]*loadedModel
	inflight  map[ModelType]*inflightLoad
	draining  map[ModelType]*inflightLoad
	attempted map[ModelType]bool
	failures  map[ModelType]error
	closed    bool
}

// inflightLoad marks a load in progress. Compared by identity so a load
// canceled by Unload can tell it was superseded.
type inflightLoad struct {
	cancel   context.CancelFunc
	reserved int64

	// done is closed when the attempt's loader call has returned.
	done chan struct{}
}

// loadedModel is the registry-private record of a loaded model.
type loadedModel struct {
	desc            ModelDescriptor
	model           Model
	loadedAt        time.Time
	lastInferenceAt time.Time
	avgLatency      time.Duration
	inferences      int64
	failures        int64

	// inUse counts running inferences; Close waits for it to drain.
	inUse sync.WaitGroup
}

// ModelInfo is a read-only snapshot of a loaded model.
type ModelInfo struct {
	Type           ModelType     `json:"type"`
	Version        string        `json:"version"`
	Priority       int           `json:"priority"`
	Essential      bool          `json:"essential"`
	LoadedAt       time.Time     `json:"loaded_at"`
	LastInference  time.Time     `json:"last_inference,omitempty"`
	AverageLatency time.Duration `json:"average_latency"`
	Inferences     int64         `json:"inferences"`
	Failures       int64         `json:"failures"`
	MemoryEstimate int64         `json:"memory_estimate"`
}

func (lm *loadedModel) info() ModelInfo {
	return ModelInfo{
		Type:           lm.desc.Type,
		Version:        lm.desc.Version,
		Priority:       lm.desc.Priority,
		Essential:      lm.desc.Essential,
		LoadedAt:       lm.loadedAt,
		LastInference:  lm.lastInferenceAt,
		AverageLatency: lm.avgLatency,
		Inferences:     lm.inferences,
		Failures:       lm.failures,
		MemoryEstimate: lm.desc.EstimatedMemory,
	}
}

// LoadResult is the outcome of loading one model inside LoadAll.
type LoadResult struct {
	Type      ModelType     `json:"type"`
	Essential bool          `json:"essential"`
	Err       error         `json:"-"`
	Duration  time.Duration `json:"duration"`
}

// LoadReport collects per-model outcomes of LoadAll in priority order.
type LoadReport struct {
	Results []LoadResult `json:"results"`
}

// Succeeded returns the model types that loaded.
func (r LoadReport) Succeeded() []ModelType {
	var out []ModelType
	for _, res := range r.Results {
		if res.Err == nil {
			out = append(out, res.Type)
		}
	}
	return out
}

// Failed returns the results whose load failed.
func (r LoadReport) Failed() []LoadResult {
	var out []LoadResult
	for _, res := range r.Results {
		if res.Err != nil {
			out = append(out, res)
		}
	}
	return out
}

// EssentialFailures returns failed results for essential models.
func (r LoadReport) EssentialFailures() []LoadResult {
	var out []LoadResult
	for _, res := range r.Failed() {
		if res.Essential {
			out = append(out, res)
		}
	}
	return out
}

// RegistryOption configures a Registry.
type RegistryOption func(*Registry)

// WithRegistryLogger sets the registry's logger.
func WithRegistryLogger(l Logger) RegistryOption {
	return func(r *Registry) { r.logger = orNop(l) }
}

// WithMemoryBudget caps the summed estimated memory of loaded models, in bytes.
func WithMemoryBudget(bytes int64) RegistryOption {
	return func(r *Registry) { r.budget = bytes }
}

// WithLoadConcurrency bounds concurrent loads inside LoadAll.
// Values below 1 are treated as 1.
func WithLoadConcurrency(n int) RegistryOption {
	return func(r *Registry) {
		if n < 1 {
			n = 1
		}
		r.loadConcurrency = n
	}
}

// WithRegistryObserver registers fn to receive lifecycle events.
// fn is called without the registry lock held and must not block.
func WithRegistryObserver(fn func(Event)) RegistryOption {
	return func(r *Registry) { r.notify = fn }
}

// NewRegistry creates a registry over catalog using loader to produce models.
func NewRegistry(catalog *Catalog, loader ModelLoader, opts ...RegistryOption) *Registry {
	base, cancel := context.WithCancel(context.Background())
	r := &Registry{
		catalog:         catalog,
		loader:          loader,
		logger:          nopLogger{},
		notify:          func(Event) {},
		now:             time.Now,
		loadConcurrency: DefaultLoadConcurrency,
		base:            base,
		baseCancel:      cancel,
		loaded:          make(map[ModelType]*loadedModel),
		inflight:        make(map[ModelType]*inflightLoad),
		draining:        make(map[ModelType]*inflightLoad),
		attempted:       make(map[ModelType]bool),
		failures:        make(map[ModelType]error),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Catalog returns the registry's catalog.
func (r *Registry) Catalog() *Catalog { return r.catalog }

// LoadAll loads every catalog entry. Loads are scheduled in ascending
// priority order and may overlap up to the configured load concurrency.
// A failure is recorded in the report and never stops sibling loads.
func (r *Registry) LoadAll(ctx context.Context) LoadReport {
	descs := r.catalog.Descriptors()
	results := make([]LoadResult, len(descs))

	var g errgroup.Group
	g.SetLimit(r.loadConcurrency)
	for i, d := range descs {
		i, d := i, d
		g.Go(func() error {
			start := time.Now()
			err := r.Load(ctx, d.Type)
			results[i] = LoadResult{
				Type:      d.Type,
				Essential: d.Essential,
				Err:       err,
				Duration:  time.Since(start),
			}
			return nil
		})
	}
	g.Wait()

	return LoadReport{Results: results}
}

// Load loads a model. It returns immediately if the model is already
// loaded. Concurrent callers for the same type share one load and observe
// the same outcome. If ctx ends first the caller stops waiting but the
// shared load continues for the others.
//
// Failures are returned as *LoadError.
func (r *Registry) Load(ctx context.Context, t ModelType) error {
	desc, ok := r.catalog.Lookup(t)
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownModel, t)
	}

	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return ErrClosed
	}
	if _, ok := r.loaded[t]; ok {
		r.mu.Unlock()
		return nil
	}
	r.mu.Unlock()

	ch := r.flight.DoChan(string(t), func() (any, error) {
		return nil, r.doLoad(desc)
	})

	select {
	case res := <-ch:
		return res.Err
	case <-ctx.Done():
		return &LoadError{Model: t, Err: ctx.Err()}
	}
}

// doLoad performs one load. Only ever invoked through the singleflight group.
// An attempt canceled by Unload may still be inside the loader; doLoad waits
// for it so that one type never has two loader calls running.
func (r *Registry) doLoad(desc ModelDescriptor) error {
	t := desc.Type

	r.mu.Lock()
	for {
		if r.closed {
			r.mu.Unlock()
			return ErrClosed
		}
		if _, ok := r.loaded[t]; ok {
			r.mu.Unlock()
			return nil
		}
		prev, ok := r.draining[t]
		if !ok {
			break
		}
		r.mu.Unlock()
		<-prev.done
		r.mu.Lock()
	}
	victims, err := r.admitLocked(desc)
	if err != nil {
		r.attempted[t] = true
		r.failures[t] = err
		r.mu.Unlock()
		r.logger.Warn("model load rejected", "model", t, "error", err)
		r.notify(Event{Kind: EventModelLoadFailed, Model: t, Err: err, At: r.now()})
		return &LoadError{Model: t, Err: err}
	}
	ctx, cancel := context.WithCancel(r.base)
	entry := &inflightLoad{cancel: cancel, reserved: desc.EstimatedMemory, done: make(chan struct{})}
	r.inflight[t] = entry
	r.mu.Unlock()
	defer cancel()
	defer close(entry.done)

	for _, v := range victims {
		r.retire(v)
		r.logger.Info("model evicted for admission", "model", v.desc.Type, "for", t)
		r.notify(Event{Kind: EventModelEvicted, Model: v.desc.Type, At: r.now()})
	}

	r.logger.Debug("loading model", "model", t, "version", desc.Version)
	start := time.Now()
	m, err := r.loader.Load(ctx, desc)

	r.mu.Lock()
	current := r.inflight[t] == entry
	if current {
		delete(r.inflight, t)
	}
	if r.draining[t] == entry {
		delete(r.draining, t)
	}
	r.attempted[t] = true

	if !current || ctx.Err() != nil {
		if current {
			r.failures[t] = ErrLoadCanceled
		}
		r.mu.Unlock()
		if err == nil && m != nil {
			m.Close()
		}
		r.logger.Debug("model load canceled", "model", t)
		return &LoadError{Model: t, Err: ErrLoadCanceled}
	}

	if err != nil {
		r.failures[t] = err
		r.mu.Unlock()
		if errors.Is(err, ErrPlaceholderModel) {
			r.logger.Info("model unavailable", "model", t, "reason", err)
		} else {
			r.logger.Error("model load failed", "model", t, "error", err)
		}
		r.notify(Event{Kind: EventModelLoadFailed, Model: t, Err: err, At: r.now()})
		return &LoadError{Model: t, Err: err}
	}

	r.loaded[t] = &loadedModel{desc: desc, model: m, loadedAt: r.now()}
	delete(r.failures, t)
	r.mu.Unlock()

	elapsed := time.Since(start)
	r.logger.Info("model loaded", "model", t, "duration", elapsed)
	r.notify(Event{Kind: EventModelLoaded, Model: t, Duration: elapsed, At: r.now()})
	return nil
}

// admitLocked checks desc against the memory budget. If the budget would be
// exceeded it removes least-recently-used non-essential models from the
// loaded set until desc fits and returns them for closing. Nothing is
// removed when evicting every candidate would still not be enough.
func (r *Registry) admitLocked(desc ModelDescriptor) ([]*loadedModel, error) {
	if r.budget <= 0 {
		return nil, nil
	}
	used := r.memoryLocked()
	need := used + desc.EstimatedMemory - r.budget
	if need <= 0 {
		return nil, nil
	}

	var reclaimable int64
	for _, lm := range r.loaded {
		if !lm.desc.Essential {
			reclaimable += lm.desc.EstimatedMemory
		}
	}
	if reclaimable < need {
		return nil, fmt.Errorf("%w: need %d bytes, %d reclaimable", ErrResourceExhausted, need, reclaimable)
	}

	var victims []*loadedModel
	for need > 0 {
		lm := r.lruLocked()
		if lm == nil {
			break
		}
		delete(r.loaded, lm.desc.Type)
		victims = append(victims, lm)
		need -= lm.desc.EstimatedMemory
	}
	return victims, nil
}

func (r *Registry) memoryLocked() int64 {
	var used int64
	for _, lm := range r.loaded {
		used += lm.desc.EstimatedMemory
	}
	for _, fl := range r.inflight {
		used += fl.reserved
	}
	for _, fl := range r.draining {
		used += fl.reserved
	}
	return used
}

// lruLocked returns the non-essential loaded model used least recently.
// Never-used models count as oldest; ties go to the larger priority value.
func (r *Registry) lruLocked() *loadedModel {
	var best *loadedModel
	for _, lm := range r.loaded {
		if lm.desc.Essential {
			continue
		}
		if best == nil || lessRecentlyUsed(lm, best) {
			best = lm
		}
	}
	return best
}

func lessRecentlyUsed(a, b *loadedModel) bool {
	if !a.lastInferenceAt.Equal(b.lastInferenceAt) {
		return a.lastInferenceAt.Before(b.lastInferenceAt)
	}
	if a.desc.Priority != b.desc.Priority {
		return a.desc.Priority > b.desc.Priority
	}
	return a.desc.Type > b.desc.Type
}

// retire waits for running inferences on lm to finish and closes it.
func (r *Registry) retire(lm *loadedModel) {
	lm.inUse.Wait()
	if err := lm.model.Close(); err != nil {
		r.logger.Warn("closing model", "model", lm.desc.Type, "error", err)
	}
}

// Unload cancels any in-flight load for t and removes the loaded model.
// It is a no-op when nothing is loaded or loading.
func (r *Registry) Unload(t ModelType) {
	r.mu.Lock()
	if fl, ok := r.inflight[t]; ok {
		fl.cancel()
		delete(r.inflight, t)
		r.draining[t] = fl
		r.flight.Forget(string(t))
	}
	lm, ok := r.loaded[t]
	if ok {
		delete(r.loaded, t)
	}
	r.mu.Unlock()

	if ok {
		r.retire(lm)
		r.logger.Info("model unloaded", "model", t)
		r.notify(Event{Kind: EventModelUnloaded, Model: t, At: r.now()})
	}
}

// UnloadAll unloads every model and cancels every in-flight load.
func (r *Registry) UnloadAll() {
	r.mu.Lock()
	types := make([]ModelType, 0, len(r.loaded)+len(r.inflight))
	for t := range r.loaded {
		types = append(types, t)
	}
	for t := range r.inflight {
		if _, ok := r.loaded[t]; !ok {
			types = append(types, t)
		}
	}
	r.mu.Unlock()

	for _, t := range types {
		r.Unload(t)
	}
}

// EvictLRU unloads the least-recently-used non-essential model.
// Returns false when no candidate exists.
func (r *Registry) EvictLRU() (ModelType, bool) {
	r.mu.Lock()
	lm := r.lruLocked()
	if lm == nil {
		r.mu.Unlock()
		return "", false
	}
	delete(r.loaded, lm.desc.Type)
	r.mu.Unlock()

	r.retire(lm)
	r.notify(Event{Kind: EventModelEvicted, Model: lm.desc.Type, At: r.now()})
	return lm.desc.Type, true
}

// Close cancels every in-flight load, unloads every model and rejects
// further loads with ErrClosed.
func (r *Registry) Close() error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil
	}
	r.closed = true
	r.mu.Unlock()

	r.baseCancel()
	r.UnloadAll()
	return nil
}

// IsLoaded reports whether t is loaded.
func (r *Registry) IsLoaded(t ModelType) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.loaded[t]
	return ok
}

// Info returns a snapshot of a loaded model.
func (r *Registry) Info(t ModelType) (ModelInfo, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	lm, ok := r.loaded[t]
	if !ok {
		return ModelInfo{}, false
	}
	return lm.info(), true
}

// Loaded returns snapshots of every loaded model in ascending priority order.
func (r *Registry) Loaded() []ModelInfo {
	r.mu.Lock()
	out := make([]ModelInfo, 0, len(r.loaded))
	for _, lm := range r.loaded {
		out = append(out, lm.info())
	}
	r.mu.Unlock()

	sort.Slice(out, func(i, j int) bool { return out[i].Priority < out[j].Priority })
	return out
}

// LoadErrors returns the most recent load failure per model type.
// Entries are cleared when the model later loads.
func (r *Registry) LoadErrors() map[ModelType]error {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make(map[ModelType]error, len(r.failures))
	for t, err := range r.failures {
		out[t] = err
	}
	return out
}

// Initialized reports whether every essential catalog entry has been
// attempted, whatever the outcome.
func (r *Registry) Initialized() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, d := range r.catalog.Essential() {
		if !r.attempted[d.Type] {
			return false
		}
	}
	return true
}

// MemoryEstimate returns the summed estimate of all loaded models in bytes.
func (r *Registry) MemoryEstimate() int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	var used int64
	for _, lm := range r.loaded {
		used += lm.desc.EstimatedMemory
	}
	return used
}

// AverageLatency returns the mean rolling latency across loaded models
// that have served at least one inference.
func (r *Registry) AverageLatency() time.Duration {
	r.mu.Lock()
	defer r.mu.Unlock()
	var sum time.Duration
	var n int
	for _, lm := range r.loaded {
		if lm.inferences > 0 {
			sum += lm.avgLatency
			n++
		}
	}
	if n == 0 {
		return 0
	}
	return sum / time.Duration(n)
}

// acquire returns the model for t and pins it against closing until the
// returned release func is called.
func (r *Registry) acquire(t ModelType) (Model, func(), bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	lm, ok := r.loaded[t]
	if !ok {
		return nil, nil, false
	}
	lm.inUse.Add(1)
	return lm.model, lm.inUse.Done, true
}

// recordInference folds one inference outcome into the model's telemetry.
func (r *Registry) recordInference(t ModelType, d time.Duration, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	lm, ok := r.loaded[t]
	if !ok {
		return
	}
	if err != nil {
		lm.failures++
		return
	}
	lm.inferences++
	lm.lastInferenceAt = r.now()
	if lm.avgLatency == 0 {
		lm.avgLatency = d
	} else {
		lm.avgLatency += time.Duration(latencyAlpha * float64(d-lm.avgLatency))
	}
}
