package service

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/pipatrol/patrol/internal/logger"
)

// DefaultStopTimeout bounds how long a single service may take to stop
const DefaultStopTimeout = 10 * time.Second

// Manager manages the lifecycle of all services
type Manager struct {
	logger      *logger.Logger
	services    []Service
	statuses    map[string]*ServiceStatus
	eventBus    *EventBus
	mu          sync.RWMutex
	wg          sync.WaitGroup
	startOrder  []string
	stopTimeout time.Duration
}

// Service represents a service that can be started and stopped
type Service interface {
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
	Name() string
}

// ServiceWithEvents is a service that can publish events
type ServiceWithEvents interface {
	Service
	SetEventBus(bus *EventBus)
}

// NewManager creates a new service manager
func NewManager(log *logger.Logger) *Manager {
	return &Manager{
		logger:      log,
		services:    make([]Service, 0),
		statuses:    make(map[string]*ServiceStatus),
		eventBus:    NewEventBus(100),
		startOrder:  make([]string, 0),
		stopTimeout: DefaultStopTimeout,
	}
}

// GetEventBus returns the event bus for inter-service communication
func (m *Manager) GetEventBus() *EventBus {
	return m.eventBus
}

// Register registers a service with the manager
func (m *Manager) Register(svc Service) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.services = append(m.services, svc)

	m.statuses[svc.Name()] = NewServiceStatus(svc.Name())

	if svcWithEvents, ok := svc.(ServiceWithEvents); ok {
		svcWithEvents.SetEventBus(m.eventBus)
	}
}

// Start starts all registered services and waits until every Start call
// has returned or ctx is done. A failing service is recorded in its status
// and does not prevent the others from starting.
func (m *Manager) Start(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.logger.Info("Starting services", "count", len(m.services))

	m.startEventMonitoring(ctx)

	started := make(chan struct{}, len(m.services))
	for _, svc := range m.services {
		svc := svc
		status := m.statuses[svc.Name()]

		status.SetStatus(StatusStarting)
		m.startOrder = append(m.startOrder, svc.Name())

		m.wg.Add(1)
		go func() {
			defer m.wg.Done()
			defer func() { started <- struct{}{} }()

			m.eventBus.Publish(Event{
				Type:   EventTypeServiceStarted,
				Source: "manager",
				Data: map[string]interface{}{
					"service": svc.Name(),
				},
			})

			if err := svc.Start(ctx); err != nil {
				status.SetError(err)
				m.logger.Error("Service failed to start",
					"service", svc.Name(),
					"error", err,
				)
				m.eventBus.Publish(Event{
					Type:   EventTypeServiceError,
					Source: svc.Name(),
					Data: map[string]interface{}{
						"error": err.Error(),
					},
				})
				return
			}

			status.SetStatus(StatusRunning)
			m.logger.Info("Service started", "service", svc.Name())
		}()
	}

	for range m.services {
		select {
		case <-started:
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	return nil
}

// startEventMonitoring logs every bus event at debug level
func (m *Manager) startEventMonitoring(ctx context.Context) {
	ch := m.eventBus.SubscribeAll()
	go func() {
		for {
			select {
			case event, ok := <-ch:
				if !ok {
					return
				}
				m.logger.Debug("Event received",
					"type", event.Type,
					"source", event.Source,
					"timestamp", event.Timestamp,
				)
			case <-ctx.Done():
				m.eventBus.UnsubscribeAll(ch)
				return
			}
		}
	}()
}

// Shutdown gracefully shuts down all services in reverse start order
func (m *Manager) Shutdown(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.logger.Info("Shutting down services", "count", len(m.services))

	done := make(chan struct{})
	go func() {
		for i := len(m.startOrder) - 1; i >= 0; i-- {
			svc := m.findService(m.startOrder[i])
			if svc == nil {
				continue
			}
			m.stopService(ctx, svc, m.statuses[svc.Name()])
		}

		m.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		m.eventBus.Close()
		m.logger.Info("All services stopped")
		return nil
	case <-ctx.Done():
		m.eventBus.Close()
		return fmt.Errorf("shutdown timeout: %w", ctx.Err())
	}
}

func (m *Manager) findService(name string) Service {
	for _, s := range m.services {
		if s.Name() == name {
			return s
		}
	}
	return nil
}

func (m *Manager) stopService(ctx context.Context, svc Service, status *ServiceStatus) {
	status.SetStatus(StatusStopping)
	m.logger.Info("Stopping service", "service", svc.Name())

	stopCtx, cancel := context.WithTimeout(ctx, m.stopTimeout)
	defer cancel()

	if err := svc.Stop(stopCtx); err != nil {
		status.SetError(err)
		m.logger.Error("Error stopping service",
			"service", svc.Name(),
			"error", err,
		)
	} else {
		status.SetStatus(StatusStopped)
		m.logger.Info("Service stopped", "service", svc.Name())
	}

	m.eventBus.Publish(Event{
		Type:   EventTypeServiceStopped,
		Source: "manager",
		Data: map[string]interface{}{
			"service": svc.Name(),
		},
	})
}

// GetServiceCount returns the number of registered services
func (m *Manager) GetServiceCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.services)
}

// GetServiceStatus returns the status of a service
func (m *Manager) GetServiceStatus(serviceName string) *ServiceStatus {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.statuses[serviceName]
}

// GetAllStatuses returns all service statuses
func (m *Manager) GetAllStatuses() map[string]*ServiceStatus {
	m.mu.RLock()
	defer m.mu.RUnlock()

	statuses := make(map[string]*ServiceStatus, len(m.statuses))
	for name, status := range m.statuses {
		statuses[name] = status
	}
	return statuses
}
