package state

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"
)

// TimestampLayout is how event timestamps are stored and served
const TimestampLayout = "2006-01-02 15:04:05"

// Event types written by the node
const (
	EventTypeMotionDetected = "motion_detected"
	EventTypeMotionRecorded = "motion_recorded"
)

// EventState is one row of the event log
type EventState struct {
	ID         int64
	Timestamp  time.Time
	EventType  string
	FilePath   string
	PersonName string
}

// SaveEvent appends an event and returns its id. A zero Timestamp is
// replaced with the current time. Timestamps are stored at second
// resolution in local time.
func (m *Manager) SaveEvent(ctx context.Context, event EventState) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if event.EventType == "" {
		return 0, fmt.Errorf("event type is required")
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	query := `
		INSERT INTO events (timestamp, event_type, file_path, person_name)
		VALUES (?, ?, ?, ?)
	`

	result, err := m.db.GetDB().ExecContext(ctx, query,
		event.Timestamp.Local().Format(TimestampLayout),
		event.EventType,
		nullString(event.FilePath),
		nullString(event.PersonName),
	)
	if err != nil {
		return 0, fmt.Errorf("failed to save event: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("failed to read event id: %w", err)
	}

	return id, nil
}

// GetEventByID retrieves a single event, or nil if it does not exist
func (m *Manager) GetEventByID(ctx context.Context, id int64) (*EventState, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	query := `
		SELECT id, timestamp, event_type, file_path, person_name
		FROM events
		WHERE id = ?
	`

	event, err := scanEvent(m.db.GetDB().QueryRowContext(ctx, query, id))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get event: %w", err)
	}

	return event, nil
}

// ListEventsOptions contains options for listing events
type ListEventsOptions struct {
	EventType  string    // Filter by event type
	PersonName string    // Filter by recognized person
	Since      time.Time // Only events at or after this time
	Limit      int       // Maximum number of events to return
	Offset     int       // Number of events to skip
	Ascending  bool      // Oldest first instead of newest first
}

// DefaultListLimit and MaxListLimit bound ListEvents page sizes
const (
	DefaultListLimit = 50
	MaxListLimit     = 1000
)

// ListEvents returns events newest first (by id) together with the total
// number of rows matching the filters.
func (m *Manager) ListEvents(ctx context.Context, opts ListEventsOptions) ([]EventState, int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	whereClauses := []string{}
	args := []interface{}{}

	if opts.EventType != "" {
		whereClauses = append(whereClauses, "event_type = ?")
		args = append(args, opts.EventType)
	}

	if opts.PersonName != "" {
		whereClauses = append(whereClauses, "person_name = ?")
		args = append(args, opts.PersonName)
	}

	if !opts.Since.IsZero() {
		whereClauses = append(whereClauses, "timestamp >= ?")
		args = append(args, opts.Since.Local().Format(TimestampLayout))
	}

	whereClause := ""
	if len(whereClauses) > 0 {
		whereClause = "WHERE " + strings.Join(whereClauses, " AND ")
	}

	order := "id DESC"
	if opts.Ascending {
		order = "id ASC"
	}

	limit := opts.Limit
	if limit <= 0 {
		limit = DefaultListLimit
	}
	if limit > MaxListLimit {
		limit = MaxListLimit
	}

	countQuery := fmt.Sprintf("SELECT COUNT(*) FROM events %s", whereClause)
	var totalCount int
	if err := m.db.GetDB().QueryRowContext(ctx, countQuery, args...).Scan(&totalCount); err != nil {
		return nil, 0, fmt.Errorf("failed to count events: %w", err)
	}

	query := fmt.Sprintf(`
		SELECT id, timestamp, event_type, file_path, person_name
		FROM events
		%s
		ORDER BY %s
		LIMIT ? OFFSET ?
	`, whereClause, order)

	args = append(args, limit, opts.Offset)
	rows, err := m.db.GetDB().QueryContext(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to list events: %w", err)
	}
	defer rows.Close()

	events := make([]EventState, 0)
	for rows.Next() {
		event, err := scanEvent(rows)
		if err != nil {
			return nil, 0, err
		}
		events = append(events, *event)
	}

	return events, totalCount, rows.Err()
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanEvent(row rowScanner) (*EventState, error) {
	var (
		event      EventState
		timestamp  string
		filePath   sql.NullString
		personName sql.NullString
	)
	if err := row.Scan(&event.ID, &timestamp, &event.EventType, &filePath, &personName); err != nil {
		return nil, err
	}

	ts, err := time.ParseInLocation(TimestampLayout, timestamp, time.Local)
	if err != nil {
		return nil, fmt.Errorf("invalid timestamp %q on event %d: %w", timestamp, event.ID, err)
	}
	event.Timestamp = ts
	event.FilePath = filePath.String
	event.PersonName = personName.String

	return &event, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
