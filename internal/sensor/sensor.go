// Package sensor reads the passive infrared motion sensor.
package sensor

import (
	"context"
	"errors"
	"math/rand/v2"
	"sync"
)

// ErrHardwareUnavailable is returned when the GPIO pin cannot be set up
var ErrHardwareUnavailable = errors.New("sensor hardware unavailable")

// Sensor reports whether motion is currently detected
type Sensor interface {
	MotionDetected(ctx context.Context) (bool, error)
	Close() error
	Name() string
}

// Simulated reports motion at random with a fixed probability per read
type Simulated struct {
	mu          sync.Mutex
	probability float64
	rng         *rand.Rand
}

// NewSimulated creates a simulated sensor. seed makes the sequence
// reproducible; pass 0 for a random one.
func NewSimulated(probability float64, seed uint64) *Simulated {
	if seed == 0 {
		seed = rand.Uint64()
	}
	return &Simulated{
		probability: probability,
		rng:         rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15)),
	}
}

// MotionDetected implements Sensor
func (s *Simulated) MotionDetected(ctx context.Context) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rng.Float64() < s.probability, nil
}

// Close implements Sensor
func (s *Simulated) Close() error { return nil }

// Name implements Sensor
func (s *Simulated) Name() string { return "simulated" }
