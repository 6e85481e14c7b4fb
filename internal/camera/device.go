// Package camera owns the capture device and turns raw frames into
// annotated, published frames.
package camera

import (
	"context"
	"errors"
	"image"
)

// ErrHardwareUnavailable is returned when the capture device cannot be opened
var ErrHardwareUnavailable = errors.New("camera hardware unavailable")

// ErrAsleep is returned when a frame is requested while the camera is off
var ErrAsleep = errors.New("camera is asleep")

// Device is a frame source that can be powered on and off
type Device interface {
	Open(ctx context.Context) error
	Read() (image.Image, error)
	Close() error
	Name() string
}
