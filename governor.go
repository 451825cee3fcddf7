package glowly

import (
	"context"
	"time"
)

// DefaultPressureThreshold is the pressure at or above which the governor evicts.
const DefaultPressureThreshold = 0.8

// DefaultGovernorInterval is used by Run when given a non-positive interval.
const DefaultGovernorInterval = 5 * time.Second

// Governor evicts least-recently-used non-essential models under memory
// pressure, one model per sample.
type Governor struct {
	registry  *Registry
	source    PressureSource
	threshold float64
	logger    Logger
}

// NewGovernor creates a governor over registry. A threshold outside (0, 1]
// falls back to DefaultPressureThreshold.
func NewGovernor(registry *Registry, source PressureSource, threshold float64, logger Logger) *Governor {
	if threshold <= 0 || threshold > 1 {
		threshold = DefaultPressureThreshold
	}
	return &Governor{
		registry:  registry,
		source:    source,
		threshold: threshold,
		logger:    orNop(logger),
	}
}

// MaybeEvict samples pressure and, at or above the threshold, unloads the
// non-essential model with the oldest last inference. It evicts at most
// one model per call and reports which one. Nothing is sampled once ctx
// is done.
func (g *Governor) MaybeEvict(ctx context.Context) (ModelType, bool) {
	if g.source == nil || ctx.Err() != nil {
		return "", false
	}
	p := g.source.Pressure()
	if p < g.threshold {
		return "", false
	}

	t, ok := g.registry.EvictLRU()
	if !ok {
		g.logger.Warn("memory pressure with no evictable model", "pressure", p)
		return "", false
	}
	g.logger.Info("evicted model under memory pressure", "model", t, "pressure", p)
	return t, true
}

// Run calls MaybeEvict every interval until ctx is done.
func (g *Governor) Run(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = DefaultGovernorInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			g.MaybeEvict(ctx)
		}
	}
}
