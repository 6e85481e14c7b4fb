package sensor

import (
	"context"
	"fmt"

	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/gpio/gpioreg"
	"periph.io/x/host/v3"
)

// GPIO reads a PIR sensor wired to a GPIO input with a pull-down
type GPIO struct {
	name string
	pin  gpio.PinIO
}

// NewGPIO initializes the host drivers and configures the pin as input.
// Pin names follow periph conventions, e.g. "GPIO17".
func NewGPIO(pinName string) (*GPIO, error) {
	if _, err := host.Init(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrHardwareUnavailable, err)
	}

	pin := gpioreg.ByName(pinName)
	if pin == nil {
		return nil, fmt.Errorf("%w: no pin named %s", ErrHardwareUnavailable, pinName)
	}
	if err := pin.In(gpio.PullDown, gpio.NoEdge); err != nil {
		return nil, fmt.Errorf("%w: failed to configure %s: %w", ErrHardwareUnavailable, pinName, err)
	}

	return &GPIO{name: pinName, pin: pin}, nil
}

// MotionDetected implements Sensor
func (g *GPIO) MotionDetected(ctx context.Context) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	return g.pin.Read() == gpio.High, nil
}

// Close releases the pin
func (g *GPIO) Close() error {
	return g.pin.Halt()
}

// Name implements Sensor
func (g *GPIO) Name() string {
	return "gpio:" + g.name
}
