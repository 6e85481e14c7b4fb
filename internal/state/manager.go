package state

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"time"

	"github.com/pipatrol/patrol/internal/config"
	"github.com/pipatrol/patrol/internal/logger"
)

// Well-known system_state keys
const (
	KeyModelTrainedAt = "model.trained_at"
	KeyModelLabels    = "model.labels"
	KeyModelSamples   = "model.samples"
	KeyNodeStartedAt  = "node.started_at"
)

// Manager manages the event log and system state persistence
type Manager struct {
	db     *Database
	logger *logger.Logger
	mu     sync.RWMutex
}

// NewManager opens the event database configured in cfg
func NewManager(cfg *config.Config, log *logger.Logger) (*Manager, error) {
	return Open(cfg.DatabasePath(), log)
}

// Open opens the event database at dbPath
func Open(dbPath string, log *logger.Logger) (*Manager, error) {
	if log == nil {
		log = logger.NewNopLogger()
	}

	db, err := NewDatabase(dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to create database: %w", err)
	}

	return &Manager{
		db:     db,
		logger: log,
	}, nil
}

// Close closes the state manager and database
func (m *Manager) Close() error {
	return m.db.Close()
}

// GetDB returns the database connection
func (m *Manager) GetDB() *sql.DB {
	return m.db.GetDB()
}

// Ping verifies the database is reachable
func (m *Manager) Ping(ctx context.Context) error {
	return m.db.GetDB().PingContext(ctx)
}

// SaveSystemState saves a system state value
func (m *Manager) SaveSystemState(ctx context.Context, key, value string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	query := `
		INSERT INTO system_state (key, value, updated_at)
		VALUES (?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET
			value = excluded.value,
			updated_at = excluded.updated_at
	`

	_, err := m.db.GetDB().ExecContext(ctx, query, key, value, time.Now())
	if err != nil {
		return fmt.Errorf("failed to save system state: %w", err)
	}

	return nil
}

// GetSystemState retrieves a system state value, or "" if the key is unset
func (m *Manager) GetSystemState(ctx context.Context, key string) (string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var value string
	query := `SELECT value FROM system_state WHERE key = ?`
	err := m.db.GetDB().QueryRowContext(ctx, query, key).Scan(&value)
	if err == sql.ErrNoRows {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("failed to get system state: %w", err)
	}

	return value, nil
}

// RecoveredState is what the node finds in the database at startup
type RecoveredState struct {
	SystemState map[string]string
	EventCount  int
	LastEvent   *EventState
}

// RecoverState loads the persisted system state and a summary of the event log
func (m *Manager) RecoverState(ctx context.Context) (*RecoveredState, error) {
	m.logger.Info("Recovering system state")

	systemState, err := m.recoverSystemState(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to recover system state: %w", err)
	}

	latest, total, err := m.ListEvents(ctx, ListEventsOptions{Limit: 1})
	if err != nil {
		return nil, fmt.Errorf("failed to recover events: %w", err)
	}

	recovered := &RecoveredState{
		SystemState: systemState,
		EventCount:  total,
	}
	if len(latest) > 0 {
		recovered.LastEvent = &latest[0]
	}

	fields := []interface{}{"events", total, "state_keys", len(systemState)}
	if trainedAt, ok := systemState[KeyModelTrainedAt]; ok {
		fields = append(fields, "model_trained_at", trainedAt)
	}
	m.logger.Info("State recovery complete", fields...)

	return recovered, nil
}

func (m *Manager) recoverSystemState(ctx context.Context) (map[string]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	rows, err := m.db.GetDB().QueryContext(ctx, `SELECT key, value FROM system_state`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	state := make(map[string]string)
	for rows.Next() {
		var key, value string
		if err := rows.Scan(&key, &value); err != nil {
			return nil, err
		}
		state[key] = value
	}

	return state, rows.Err()
}
