package glowly

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// DefaultWorkers is the default inference pool size.
const DefaultWorkers = 4

// inferJob is a unit of work for the inference worker pool.
type inferJob struct {
	ctx   context.Context
	model ModelType
	input Input

	// index is the position of this input within its batch.
	index int

	reply chan<- inferResult
}

// inferResult carries the outcome of one inferJob.
type inferResult struct {
	index  int
	output Output
	err    error
}

// Executor runs inferences against loaded models on a bounded worker pool.
// All methods are safe for concurrent use.
type Executor struct {
	registry *Registry
	logger   Logger

	jobs chan inferJob

	// done is closed by Close to stop the workers.
	done      chan struct{}
	closeOnce sync.Once
	wg        sync.WaitGroup
}

// NewExecutor starts a pool of workers goroutines serving inferences for
// models in registry. Values below 1 are treated as 1.
func NewExecutor(registry *Registry, workers int, logger Logger) *Executor {
	if workers < 1 {
		workers = 1
	}
	e := &Executor{
		registry: registry,
		logger:   orNop(logger),
		jobs:     make(chan inferJob),
		done:     make(chan struct{}),
	}
	for i := 0; i < workers; i++ {
		e.wg.Add(1)
		go e.worker()
	}
	return e
}

// Infer runs one inference. It returns ErrModelNotLoaded if t is not
// loaded and wraps execution errors with ErrInferenceFailed. On success the
// latency is folded into the model's rolling average.
func (e *Executor) Infer(ctx context.Context, t ModelType, in Input) (Output, error) {
	if !e.registry.IsLoaded(t) {
		return Output{}, fmt.Errorf("%w: %s", ErrModelNotLoaded, t)
	}

	reply := make(chan inferResult, 1)
	if err := e.submit(ctx, inferJob{ctx: ctx, model: t, input: in, reply: reply}); err != nil {
		return Output{}, err
	}

	select {
	case res := <-reply:
		return res.output, res.err
	case <-ctx.Done():
		return Output{}, ctx.Err()
	}
}

// BatchInfer runs one inference per input across the pool. Outputs are in
// input order. The batch is all-or-nothing: the first failure cancels the
// remaining items and is returned with no outputs.
func (e *Executor) BatchInfer(ctx context.Context, t ModelType, inputs []Input) ([]Output, error) {
	if len(inputs) == 0 {
		return []Output{}, nil
	}
	if !e.registry.IsLoaded(t) {
		return nil, fmt.Errorf("%w: %s", ErrModelNotLoaded, t)
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	results := make(chan inferResult, len(inputs))

	// Send jobs
	go func() {
		for i, in := range inputs {
			if err := e.submit(ctx, inferJob{ctx: ctx, model: t, input: in, index: i, reply: results}); err != nil {
				results <- inferResult{index: i, err: err}
				return
			}
		}
	}()

	outputs := make([]Output, len(inputs))
	completed := 0
	for completed < len(inputs) {
		select {
		case res := <-results:
			if res.err != nil {
				cancel()
				return nil, fmt.Errorf("batch item %d: %w", res.index, res.err)
			}
			outputs[res.index] = res.output
			completed++
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return outputs, nil
}

// Close stops the workers after their current jobs. Further calls to
// Infer and BatchInfer return ErrClosed.
func (e *Executor) Close() error {
	e.closeOnce.Do(func() {
		close(e.done)
	})
	e.wg.Wait()
	return nil
}

func (e *Executor) submit(ctx context.Context, job inferJob) error {
	select {
	case <-e.done:
		return ErrClosed
	default:
	}
	select {
	case e.jobs <- job:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-e.done:
		return ErrClosed
	}
}

// worker processes inference jobs until the executor is closed.
func (e *Executor) worker() {
	defer e.wg.Done()
	for {
		select {
		case job := <-e.jobs:
			out, err := e.run(job)
			job.reply <- inferResult{index: job.index, output: out, err: err}
		case <-e.done:
			return
		}
	}
}

// run executes a job. Reply channels are buffered so the send in worker
// never blocks.
func (e *Executor) run(job inferJob) (Output, error) {
	if err := job.ctx.Err(); err != nil {
		return Output{}, err
	}

	model, release, ok := e.registry.acquire(job.model)
	if !ok {
		return Output{}, fmt.Errorf("%w: %s", ErrModelNotLoaded, job.model)
	}
	defer release()

	start := time.Now()
	out, err := model.Predict(job.ctx, job.input)
	elapsed := time.Since(start)
	e.registry.recordInference(job.model, elapsed, err)

	if err != nil {
		e.logger.Debug("inference failed", "model", job.model, "error", err)
		return Output{}, fmt.Errorf("%w: %s: %w", ErrInferenceFailed, job.model, err)
	}
	return out, nil
}
