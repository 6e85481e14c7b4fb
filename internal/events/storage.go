package events

import (
	"context"
	"fmt"
	"time"

	"github.com/pipatrol/patrol/internal/logger"
	"github.com/pipatrol/patrol/internal/state"
)

// Storage provides event storage operations on top of the state database
type Storage struct {
	stateManager *state.Manager
	logger       *logger.Logger
}

// NewStorage creates a new event storage
func NewStorage(stateManager *state.Manager, log *logger.Logger) *Storage {
	if log == nil {
		log = logger.NewNopLogger()
	}
	return &Storage{
		stateManager: stateManager,
		logger:       log,
	}
}

// SaveEvent appends an event and sets its ID
func (s *Storage) SaveEvent(ctx context.Context, event *Event) (int64, error) {
	if event == nil {
		return 0, fmt.Errorf("event is nil")
	}

	id, err := s.stateManager.SaveEvent(ctx, event.ToEventState())
	if err != nil {
		return 0, fmt.Errorf("failed to save event: %w", err)
	}
	event.ID = id

	s.logger.Debug("Event saved",
		"event_id", id,
		"event_type", event.EventType,
		"person", event.PersonName,
	)

	return id, nil
}

// GetEvent retrieves an event by ID, or nil if none exists
func (s *Storage) GetEvent(ctx context.Context, id int64) (*Event, error) {
	es, err := s.stateManager.GetEventByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("failed to get event: %w", err)
	}
	if es == nil {
		return nil, nil
	}
	return FromEventState(*es), nil
}

// ListOptions filters event listings
type ListOptions struct {
	EventType  string
	PersonName string
	Since      time.Time
	Limit      int
	Offset     int
}

// ListEvents returns the most recent events matching opts, and the total count
func (s *Storage) ListEvents(ctx context.Context, opts ListOptions) ([]*Event, int, error) {
	rows, total, err := s.stateManager.ListEvents(ctx, state.ListEventsOptions{
		EventType:  opts.EventType,
		PersonName: opts.PersonName,
		Since:      opts.Since,
		Limit:      opts.Limit,
		Offset:     opts.Offset,
	})
	if err != nil {
		return nil, 0, fmt.Errorf("failed to list events: %w", err)
	}

	events := make([]*Event, len(rows))
	for i, es := range rows {
		events[i] = FromEventState(es)
	}

	return events, total, nil
}

// CountEvents counts events of the given type, or all events if eventType is empty
func (s *Storage) CountEvents(ctx context.Context, eventType string) (int, error) {
	_, total, err := s.stateManager.ListEvents(ctx, state.ListEventsOptions{EventType: eventType, Limit: 1})
	if err != nil {
		return 0, fmt.Errorf("failed to count events: %w", err)
	}
	return total, nil
}
