package opencv

import (
	"context"
	"fmt"
	"image"
	"sync"

	"gocv.io/x/gocv"
)

// CaptureConfig contains V4L2 capture settings
type CaptureConfig struct {
	Device   string
	Width    int
	Height   int
	Exposure float64 // microseconds, 0 keeps auto exposure
	Gain     float64
}

// VideoDevice reads frames from a local camera through OpenCV
type VideoDevice struct {
	mu      sync.Mutex
	config  CaptureConfig
	capture *gocv.VideoCapture
	frame   gocv.Mat
}

// NewVideoDevice creates a closed device
func NewVideoDevice(cfg CaptureConfig) *VideoDevice {
	if cfg.Device == "" {
		cfg.Device = "0"
	}
	return &VideoDevice{config: cfg}
}

// Open starts the capture and applies resolution, exposure and gain
func (d *VideoDevice) Open(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.capture != nil {
		return nil
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	capture, err := gocv.OpenVideoCapture(d.config.Device)
	if err != nil {
		return fmt.Errorf("failed to open camera %s: %w", d.config.Device, err)
	}
	if !capture.IsOpened() {
		capture.Close()
		return fmt.Errorf("camera %s did not open", d.config.Device)
	}

	capture.Set(gocv.VideoCaptureBufferSize, 1)
	if d.config.Width > 0 && d.config.Height > 0 {
		capture.Set(gocv.VideoCaptureFrameWidth, float64(d.config.Width))
		capture.Set(gocv.VideoCaptureFrameHeight, float64(d.config.Height))
	}
	if d.config.Exposure > 0 {
		// V4L2: 1 selects manual exposure, exposure_absolute counts 100us steps
		capture.Set(gocv.VideoCaptureAutoExposure, 1)
		capture.Set(gocv.VideoCaptureExposure, d.config.Exposure/100)
	}
	if d.config.Gain > 0 {
		capture.Set(gocv.VideoCaptureGain, d.config.Gain)
	}

	d.capture = capture
	d.frame = gocv.NewMat()
	return nil
}

// Read grabs the next frame
func (d *VideoDevice) Read() (image.Image, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.capture == nil {
		return nil, fmt.Errorf("camera is closed")
	}
	if ok := d.capture.Read(&d.frame); !ok || d.frame.Empty() {
		return nil, fmt.Errorf("camera %s returned no frame", d.config.Device)
	}
	return d.frame.ToImage()
}

// Close stops the capture; closing a closed device is a no-op
func (d *VideoDevice) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.capture == nil {
		return nil
	}
	d.frame.Close()
	err := d.capture.Close()
	d.capture = nil
	return err
}

// Name identifies the device in logs
func (d *VideoDevice) Name() string {
	return "v4l2:" + d.config.Device
}
