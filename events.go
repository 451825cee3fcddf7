package glowly

import (
	"sync"
	"sync/atomic"
	"time"
)

// EventKind names a state transition.
type EventKind string

const (
	EventInitialized       EventKind = "initialized"
	EventModelLoaded       EventKind = "model-loaded"
	EventModelLoadFailed   EventKind = "model-load-failed"
	EventModelUnloaded     EventKind = "model-unloaded"
	EventModelEvicted      EventKind = "model-evicted"
	EventAnalysisCompleted EventKind = "analysis-completed"
	EventAnalysisFailed    EventKind = "analysis-failed"
	EventRealTimeStarted   EventKind = "realtime-started"
	EventRealTimeStopped   EventKind = "realtime-stopped"
)

// Event is emitted on orchestrator state transitions.
type Event struct {
	Kind     EventKind     `json:"kind"`
	Model    ModelType     `json:"model,omitempty"`
	Err      error         `json:"-"`
	Duration time.Duration `json:"duration,omitempty"`
	At       time.Time     `json:"at"`
}

// eventHub fans events out to subscribers. Publishing never blocks:
// a subscriber whose buffer is full misses the event.
type eventHub struct {
	mu      sync.RWMutex
	subs    map[int]chan Event
	next    int
	closed  bool
	dropped atomic.Int64
}

func newEventHub() *eventHub {
	return &eventHub{subs: make(map[int]chan Event)}
}

// subscribe registers a subscriber with the given buffer size.
// The returned cancel func removes it and closes its channel.
func (h *eventHub) subscribe(buffer int) (<-chan Event, func()) {
	if buffer < 1 {
		buffer = 1
	}
	ch := make(chan Event, buffer)

	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		close(ch)
		return ch, func() {}
	}
	id := h.next
	h.next++
	h.subs[id] = ch

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			h.mu.Lock()
			defer h.mu.Unlock()
			if c, ok := h.subs[id]; ok {
				delete(h.subs, id)
				close(c)
			}
		})
	}
}

func (h *eventHub) publish(ev Event) {
	if ev.At.IsZero() {
		ev.At = time.Now()
	}
	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, ch := range h.subs {
		select {
		case ch <- ev:
		default:
			h.dropped.Add(1)
		}
	}
}

// close closes every subscriber channel.
func (h *eventHub) close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return
	}
	h.closed = true
	for id, ch := range h.subs {
		delete(h.subs, id)
		close(ch)
	}
}
