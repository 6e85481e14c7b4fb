package camera

import (
	"context"
	"fmt"
	"image"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/pipatrol/patrol/internal/face"
	"github.com/pipatrol/patrol/internal/logger"
	"github.com/pipatrol/patrol/internal/service"
	"github.com/pipatrol/patrol/internal/storage"
)

// Detector identifies faces in a frame
type Detector interface {
	Detect(img image.Image) ([]face.Detection, error)
}

// FramePublisher receives annotated frames
type FramePublisher interface {
	PublishFrame(frame, raw image.Image, label string) error
	PreviewEnabled() bool
}

// EngineConfig contains capture engine settings
type EngineConfig struct {
	OpenRetries  int
	RetryBackoff time.Duration
	PreviewPath  string // written on capture while preview is on
	JPEGQuality  int
}

// Capture is the result of one capture and annotate pass
type Capture struct {
	Frame      *image.RGBA // annotated
	Raw        image.Image
	Detections []face.Detection
	Timestamp  time.Time
}

// Person returns the label of the first detection, Unknown when there is none
func (c *Capture) Person() string {
	if len(c.Detections) == 0 {
		return face.Unknown
	}
	return c.Detections[0].Label
}

// Engine owns the capture device. Every device call happens under the
// engine mutex, so clip frames and captures never interleave.
type Engine struct {
	*service.ServiceBase
	device    Device
	detector  Detector
	publisher FramePublisher
	config    EngineConfig

	mu       sync.Mutex
	active   bool
	degraded bool
	lastErr  error
	wokeAt   time.Time
}

// NewEngine creates an engine with the camera off
func NewEngine(device Device, detector Detector, publisher FramePublisher, config EngineConfig, log *logger.Logger) (*Engine, error) {
	if device == nil {
		return nil, fmt.Errorf("camera device is required")
	}
	if detector == nil {
		return nil, fmt.Errorf("face detector is required")
	}
	if config.OpenRetries < 0 {
		config.OpenRetries = 0
	}
	if config.RetryBackoff <= 0 {
		config.RetryBackoff = 500 * time.Millisecond
	}
	if config.JPEGQuality <= 0 {
		config.JPEGQuality = storage.DefaultJPEGQuality
	}

	return &Engine{
		ServiceBase: service.NewServiceBase("capture-engine", log),
		device:      device,
		detector:    detector,
		publisher:   publisher,
		config:      config,
	}, nil
}

// Start implements service.Service. The camera stays off until motion.
func (e *Engine) Start(ctx context.Context) error {
	e.LogInfo("Capture engine ready", "device", e.device.Name())
	return nil
}

// Stop powers the camera down
func (e *Engine) Stop(ctx context.Context) error {
	return e.Sleep()
}

// Wake opens the device, retrying with backoff. It is a no-op when the
// camera is already on. On failure the engine stays off in degraded mode and
// the error wraps ErrHardwareUnavailable.
func (e *Engine) Wake(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.active {
		return nil
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = e.config.RetryBackoff
	b.MaxInterval = 4 * e.config.RetryBackoff

	attempts := 0
	operation := func() error {
		attempts++
		return e.device.Open(ctx)
	}

	policy := backoff.WithContext(backoff.WithMaxRetries(b, uint64(e.config.OpenRetries)), ctx)
	if err := backoff.Retry(operation, policy); err != nil {
		e.degraded = true
		e.lastErr = err
		e.LogError("Camera failed to open", err, "device", e.device.Name(), "attempts", attempts)
		return fmt.Errorf("%w: %w", ErrHardwareUnavailable, err)
	}

	e.active = true
	e.degraded = false
	e.lastErr = nil
	e.wokeAt = time.Now()

	e.LogInfo("Camera woke", "device", e.device.Name(), "attempts", attempts)
	e.PublishEvent(service.EventTypeCameraWoke, map[string]interface{}{
		"device": e.device.Name(),
	})
	return nil
}

// Sleep closes the device. Safe to call when the camera is off.
func (e *Engine) Sleep() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if !e.active {
		return nil
	}

	e.active = false
	if err := e.device.Close(); err != nil {
		e.LogWarn("Camera close failed", "device", e.device.Name(), "error", err)
		return err
	}

	e.LogInfo("Camera slept", "awake_for", time.Since(e.wokeAt).Round(time.Second))
	e.PublishEvent(service.EventTypeCameraSlept, map[string]interface{}{
		"device": e.device.Name(),
	})
	return nil
}

// IsActive reports whether the camera is on
func (e *Engine) IsActive() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.active
}

// DeviceName names the underlying device
func (e *Engine) DeviceName() string {
	return e.device.Name()
}

// Degraded reports whether the last wake failed, with its error
func (e *Engine) Degraded() (bool, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.degraded, e.lastErr
}

// ReadFrame returns one raw frame. It implements video.FrameSource.
func (e *Engine) ReadFrame() (image.Image, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if !e.active {
		return nil, ErrAsleep
	}
	return e.device.Read()
}

// CaptureAndAnnotate reads a frame, identifies faces, draws them and
// publishes the result. A detection failure still publishes the plain frame
// and is returned alongside the capture.
func (e *Engine) CaptureAndAnnotate(ctx context.Context) (*Capture, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	raw, err := e.ReadFrame()
	if err != nil {
		return nil, fmt.Errorf("failed to read frame: %w", err)
	}

	capture := &Capture{Raw: raw, Timestamp: time.Now()}

	detections, detectErr := e.detector.Detect(raw)
	if detectErr != nil {
		e.LogWarn("Face detection failed", "error", detectErr)
		detections = nil
	}
	capture.Detections = detections
	capture.Frame = Annotate(raw, detections)

	if e.publisher != nil {
		if err := e.publisher.PublishFrame(capture.Frame, raw, capture.Person()); err != nil {
			e.LogWarn("Failed to publish frame", "error", err)
		}
		if e.config.PreviewPath != "" && e.publisher.PreviewEnabled() {
			if err := storage.SaveJPEG(e.config.PreviewPath, capture.Frame, e.config.JPEGQuality); err != nil {
				e.LogWarn("Failed to write preview frame", "path", e.config.PreviewPath, "error", err)
			}
		}
	}

	if len(detections) > 0 {
		e.LogDebug("Faces detected", "count", len(detections), "first", capture.Person())
	}

	return capture, detectErr
}
