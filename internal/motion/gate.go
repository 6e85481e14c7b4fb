// Package motion drives the camera from the PIR sensor.
package motion

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/pipatrol/patrol/internal/camera"
	"github.com/pipatrol/patrol/internal/events"
	"github.com/pipatrol/patrol/internal/logger"
	"github.com/pipatrol/patrol/internal/sensor"
	"github.com/pipatrol/patrol/internal/service"
	"github.com/pipatrol/patrol/internal/storage"
)

// State is the gate state
type State string

const (
	StateIdleOff         State = "IDLE_OFF"
	StateIdleOn          State = "IDLE_ON"
	StateActiveRecording State = "ACTIVE_RECORDING"
)

// Camera is the part of the capture engine the gate drives
type Camera interface {
	Wake(ctx context.Context) error
	Sleep() error
	IsActive() bool
	CaptureAndAnnotate(ctx context.Context) (*camera.Capture, error)
}

// Snapshots persists event frames
type Snapshots interface {
	SaveEventSnapshot(ctx context.Context, data []byte, person string, t time.Time) (string, error)
}

// Recorder persists events and records clips
type Recorder interface {
	Record(ctx context.Context, eventType, filePath, personName string) (int64, error)
	RecordClipAsync(ctx context.Context, duration time.Duration) (*events.ClipHandle, error)
	Inflight() *events.ClipHandle
}

// Config contains gate settings
type Config struct {
	PollInterval time.Duration
	IdleTimeout  time.Duration
	ClipDuration time.Duration
	Cooldown     bool
	JPEGQuality  int
}

// Gate is the motion state machine. Tick performs one step; Run calls it on
// a ticker until the context is cancelled.
type Gate struct {
	*service.ServiceBase
	config    Config
	sensor    sensor.Sensor
	camera    Camera
	snapshots Snapshots
	recorder  Recorder

	mu            sync.Mutex
	state         State
	lastMotion    time.Time
	cooldownUntil time.Time
	clip          *events.ClipHandle

	cancel context.CancelFunc
	done   chan struct{}
}

// NewGate creates a gate in IDLE_OFF
func NewGate(config Config, s sensor.Sensor, cam Camera, snapshots Snapshots, recorder Recorder, log *logger.Logger) (*Gate, error) {
	if s == nil || cam == nil || snapshots == nil || recorder == nil {
		return nil, fmt.Errorf("sensor, camera, snapshots and recorder are required")
	}
	if config.PollInterval <= 0 {
		config.PollInterval = 300 * time.Millisecond
	}
	if config.IdleTimeout <= 0 {
		config.IdleTimeout = 10 * time.Second
	}
	if config.ClipDuration <= 0 {
		config.ClipDuration = 5 * time.Second
	}
	if config.JPEGQuality <= 0 {
		config.JPEGQuality = storage.DefaultJPEGQuality
	}

	return &Gate{
		ServiceBase: service.NewServiceBase("motion-gate", log),
		config:      config,
		sensor:      s,
		camera:      cam,
		snapshots:   snapshots,
		recorder:    recorder,
		state:       StateIdleOff,
	}, nil
}

// Start runs the control loop in the background
func (g *Gate) Start(ctx context.Context) error {
	loopCtx, cancel := context.WithCancel(ctx)
	g.cancel = cancel
	g.done = make(chan struct{})

	go func() {
		defer close(g.done)
		g.Run(loopCtx)
	}()

	g.LogInfo("Waiting for motion",
		"sensor", g.sensor.Name(),
		"poll_interval", g.config.PollInterval,
		"idle_timeout", g.config.IdleTimeout,
	)
	return nil
}

// Stop ends the control loop and waits for it to exit
func (g *Gate) Stop(ctx context.Context) error {
	if g.cancel == nil {
		return nil
	}
	g.cancel()

	select {
	case <-g.done:
	case <-ctx.Done():
		return ctx.Err()
	}

	if err := g.sensor.Close(); err != nil {
		g.LogWarn("Failed to release sensor", "error", err)
	}
	g.LogInfo("Motion gate stopped")
	return nil
}

// Run polls the sensor until ctx is cancelled
func (g *Gate) Run(ctx context.Context) {
	ticker := time.NewTicker(g.config.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			g.Tick(ctx, now)
		}
	}
}

// State returns the current state
func (g *Gate) State() State {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.state
}

// LastMotion returns the time motion was last seen
func (g *Gate) LastMotion() time.Time {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.lastMotion
}

// Tick performs one step of the state machine at time now
func (g *Gate) Tick(ctx context.Context, now time.Time) {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.reapClip()

	motion, err := g.sensor.MotionDetected(ctx)
	if err != nil {
		if ctx.Err() == nil {
			g.LogWarn("Sensor read failed", "error", err)
		}
		motion = false
	}

	if motion {
		g.onMotion(ctx, now)
		return
	}

	if g.state == StateIdleOff || now.Sub(g.lastMotion) <= g.config.IdleTimeout {
		return
	}
	if g.clip != nil {
		g.LogDebug("Idle timeout reached while recording, deferring sleep", "clip_id", g.clip.ID)
		return
	}

	if err := g.camera.Sleep(); err != nil {
		g.LogWarn("Camera sleep failed", "error", err)
	}
	g.setState(StateIdleOff)
}

// reapClip leaves ACTIVE_RECORDING once the clip has finished
func (g *Gate) reapClip() {
	if g.clip == nil {
		return
	}
	select {
	case <-g.clip.Done():
	default:
		return
	}

	g.clip = nil
	if g.state == StateActiveRecording {
		g.setState(StateIdleOn)
	}
}

func (g *Gate) onMotion(ctx context.Context, now time.Time) {
	g.lastMotion = now

	if g.state == StateIdleOff {
		if err := g.camera.Wake(ctx); err != nil {
			// Wake logs the failure; try again on the next motion
			return
		}
		g.setState(StateIdleOn)
	}

	if g.config.Cooldown && now.Before(g.cooldownUntil) {
		return
	}

	g.LogInfo("Motion detected")

	capture, err := g.camera.CaptureAndAnnotate(ctx)
	if capture == nil {
		g.LogWarn("Capture failed", "error", err)
		return
	}
	person := capture.Person()

	path := ""
	if data, err := storage.EncodeJPEG(capture.Frame, g.config.JPEGQuality); err != nil {
		g.LogWarn("Failed to encode event frame", "error", err)
	} else if path, err = g.snapshots.SaveEventSnapshot(ctx, data, person, capture.Timestamp); err != nil {
		g.LogWarn("Failed to save event frame", "error", err)
		path = ""
	}

	// Record logs its own failures
	_, _ = g.recorder.Record(ctx, events.EventTypeMotionDetected, path, person)

	g.startClip(ctx)

	if g.config.Cooldown {
		g.cooldownUntil = now.Add(g.config.ClipDuration + time.Second)
	}
}

// startClip starts a recording, or merges into the one already running
func (g *Gate) startClip(ctx context.Context) {
	if inflight := g.recorder.Inflight(); inflight != nil {
		g.LogDebug("Clip already recording, merging motion", "clip_id", inflight.ID)
		g.clip = inflight
		g.setState(StateActiveRecording)
		return
	}

	handle, err := g.recorder.RecordClipAsync(ctx, g.config.ClipDuration)
	if errors.Is(err, events.ErrRecorderBusy) {
		g.LogDebug("Clip already recording, merging motion")
		return
	}
	if err != nil {
		g.LogError("Failed to start clip", err)
		return
	}

	g.clip = handle
	g.setState(StateActiveRecording)
}

func (g *Gate) setState(next State) {
	if g.state == next {
		return
	}
	prev := g.state
	g.state = next

	g.LogDebug("Motion state changed", "from", prev, "to", next)
	g.PublishEvent(service.EventTypeMotionStateChange, map[string]interface{}{
		"from": string(prev),
		"to":   string(next),
	})
}
