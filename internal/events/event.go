package events

import (
	"encoding/json"
	"time"

	"github.com/pipatrol/patrol/internal/state"
)

// Event is one entry of the node's event log
type Event struct {
	ID         int64
	Timestamp  time.Time
	EventType  string
	FilePath   string
	PersonName string
}

// EventType constants
const (
	EventTypeMotionDetected = state.EventTypeMotionDetected
	EventTypeMotionRecorded = state.EventTypeMotionRecorded
)

// NewEvent creates an event stamped with the current time
func NewEvent(eventType, filePath, personName string) *Event {
	return &Event{
		Timestamp:  time.Now(),
		EventType:  eventType,
		FilePath:   filePath,
		PersonName: personName,
	}
}

// ToEventState converts an Event to EventState for storage
func (e *Event) ToEventState() state.EventState {
	return state.EventState{
		ID:         e.ID,
		Timestamp:  e.Timestamp,
		EventType:  e.EventType,
		FilePath:   e.FilePath,
		PersonName: e.PersonName,
	}
}

// FromEventState creates an Event from EventState
func FromEventState(es state.EventState) *Event {
	return &Event{
		ID:         es.ID,
		Timestamp:  es.Timestamp,
		EventType:  es.EventType,
		FilePath:   es.FilePath,
		PersonName: es.PersonName,
	}
}

// eventJSON is the row shape served to the dashboard
type eventJSON struct {
	ID         int64   `json:"id"`
	Timestamp  string  `json:"timestamp"`
	EventType  string  `json:"event_type"`
	FilePath   *string `json:"file_path"`
	PersonName *string `json:"person_name"`
}

// MarshalJSON renders the event the way the dashboard reads rows:
// second-resolution timestamp text and null for absent paths or names.
func (e Event) MarshalJSON() ([]byte, error) {
	out := eventJSON{
		ID:        e.ID,
		Timestamp: e.Timestamp.Local().Format(state.TimestampLayout),
		EventType: e.EventType,
	}
	if e.FilePath != "" {
		out.FilePath = &e.FilePath
	}
	if e.PersonName != "" {
		out.PersonName = &e.PersonName
	}
	return json.Marshal(out)
}

// Data returns the event as a map for the service event bus
func (e *Event) Data() map[string]interface{} {
	return map[string]interface{}{
		"id":          e.ID,
		"timestamp":   e.Timestamp.Local().Format(state.TimestampLayout),
		"event_type":  e.EventType,
		"file_path":   e.FilePath,
		"person_name": e.PersonName,
	}
}
