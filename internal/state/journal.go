package state

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/pipatrol/patrol/internal/logger"
	"github.com/pipatrol/patrol/internal/service"
)

// RecordModelTraining stores the outcome of a training run in system_state
func (m *Manager) RecordModelTraining(ctx context.Context, labels []string, samples int, at time.Time) error {
	// samples goes last so a reader polling it sees the full record
	values := [][2]string{
		{KeyModelTrainedAt, at.UTC().Format(time.RFC3339)},
		{KeyModelLabels, strings.Join(labels, ",")},
		{KeyModelSamples, strconv.Itoa(samples)},
	}
	for _, kv := range values {
		if err := m.SaveSystemState(ctx, kv[0], kv[1]); err != nil {
			return fmt.Errorf("failed to record model training: %w", err)
		}
	}
	return nil
}

// Journal writes bus events that must survive a restart into system_state
type Journal struct {
	*service.ServiceBase
	mgr    *Manager
	cancel context.CancelFunc
	done   chan struct{}
}

// NewJournal creates a journal backed by mgr
func NewJournal(mgr *Manager, log *logger.Logger) *Journal {
	return &Journal{
		ServiceBase: service.NewServiceBase("state-journal", log),
		mgr:         mgr,
	}
}

// Start records the node start time and begins following model.trained events
func (j *Journal) Start(ctx context.Context) error {
	if err := j.mgr.SaveSystemState(ctx, KeyNodeStartedAt, time.Now().UTC().Format(time.RFC3339)); err != nil {
		j.LogWarn("Failed to record start time", "error", err)
	}

	bus := j.GetEventBus()
	if bus == nil {
		return nil
	}

	ctx, j.cancel = context.WithCancel(ctx)
	j.done = make(chan struct{})
	trained := bus.Subscribe(service.EventTypeModelTrained)

	go func() {
		defer close(j.done)
		defer bus.Unsubscribe(service.EventTypeModelTrained, trained)
		for {
			select {
			case <-ctx.Done():
				return
			case e, ok := <-trained:
				if !ok {
					return
				}
				j.recordTraining(ctx, e)
			}
		}
	}()
	return nil
}

// Stop stops following the bus
func (j *Journal) Stop(ctx context.Context) error {
	if j.cancel == nil {
		return nil
	}
	j.cancel()
	select {
	case <-j.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (j *Journal) recordTraining(ctx context.Context, e service.Event) {
	labels, _ := e.Data["labels"].([]string)
	samples, _ := e.Data["samples"].(int)
	if err := j.mgr.RecordModelTraining(ctx, labels, samples, e.Timestamp); err != nil {
		j.LogError("Failed to journal model training", err)
		return
	}
	j.LogDebug("Model training journaled", "labels", len(labels), "samples", samples)
}
