// Package analytics provides glowly.AnalyticsSink implementations: a
// structured-log sink, an MQTT publisher and a fan-out combinator.
//
// Every sink is fire-and-forget. RecordEvent never blocks on delivery and
// never reports failures to the caller.
package analytics

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/prethora/glowly"
)

// Event is the wire form of one analytics event.
type Event struct {
	ID        string         `json:"id"`
	Name      string         `json:"name"`
	Props     map[string]any `json:"props,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
}

// NewEvent stamps an event with a fresh ID and the current time.
func NewEvent(name string, props map[string]any) Event {
	return Event{
		ID:        uuid.NewString(),
		Name:      name,
		Props:     props,
		Timestamp: time.Now().UTC(),
	}
}

// Marshal encodes the event as JSON.
func (e Event) Marshal() ([]byte, error) { return json.Marshal(e) }

// Fanout delivers every event to each sink in order.
type Fanout []glowly.AnalyticsSink

func (f Fanout) RecordEvent(name string, props map[string]any) {
	for _, s := range f {
		if s != nil {
			s.RecordEvent(name, props)
		}
	}
}
