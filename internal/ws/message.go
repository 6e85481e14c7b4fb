package ws

import (
	"time"

	"github.com/pipatrol/patrol/internal/service"
)

// Message is the JSON envelope pushed to clients
type Message struct {
	Type      string                 `json:"type"`
	Source    string                 `json:"source,omitempty"`
	Timestamp time.Time              `json:"timestamp"`
	Data      map[string]interface{} `json:"data,omitempty"`
}

// FromEvent converts a bus event into a client message
func FromEvent(e service.Event) Message {
	return Message{
		Type:      string(e.Type),
		Source:    e.Source,
		Timestamp: e.Timestamp,
		Data:      e.Data,
	}
}
