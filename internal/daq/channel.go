package daq

import (
	"errors"
	"fmt"
	"math"
	"sync"
)

// Channel is the handle the output loop owns. It is safe to Close from a
// different goroutine than the writer.
type Channel struct {
	mu     sync.Mutex
	dev    Device
	spec   ChannelSpec
	closed bool
}

// NewChannel wraps dev. When spec lists enable lines they are raised
// before the channel is returned; if that fails the device is released.
func NewChannel(dev Device, spec ChannelSpec) (*Channel, error) {
	if len(spec.Analog) == 0 {
		return nil, ErrNoOutputs
	}
	if spec.Range <= 0 {
		spec.Range = DefaultRange
	}
	if len(spec.Digital) > 0 {
		if err := dev.WriteDigital(levels(len(spec.Digital), true)); err != nil {
			return nil, errors.Join(fmt.Errorf("daq: raise enable line: %w", err), dev.Close())
		}
	}
	return &Channel{dev: dev, spec: spec}, nil
}

func (c *Channel) Spec() ChannelSpec { return c.spec }

// Range is the symmetric output range in volts.
func (c *Channel) Range() float64 { return c.spec.Range }

func (c *Channel) HasReadback() bool { return len(c.spec.Inputs) > 0 }

// WriteAnalog writes one value per analog output. Values beyond the device
// range saturate.
func (c *Channel) WriteAnalog(v []float64) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return ErrClosed
	}
	if len(v) != len(c.spec.Analog) {
		return fmt.Errorf("%w: got %d, want %d", ErrVectorLength, len(v), len(c.spec.Analog))
	}
	out := make([]float64, len(v))
	for i, x := range v {
		out[i] = Clamp(x, c.spec.Range)
	}
	return c.dev.WriteAnalog(out)
}

func (c *Channel) WriteDigital(lv []bool) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return ErrClosed
	}
	if len(lv) != len(c.spec.Digital) {
		return fmt.Errorf("%w: got %d, want %d", ErrVectorLength, len(lv), len(c.spec.Digital))
	}
	return c.dev.WriteDigital(lv)
}

func (c *Channel) ReadAnalog() ([]float64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil, ErrClosed
	}
	if len(c.spec.Inputs) == 0 {
		return nil, ErrNoInputs
	}
	return c.dev.ReadAnalog()
}

// Close commands zero on every analog output, drops the digital lines and
// releases the device. Later calls return nil without touching the device.
func (c *Channel) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil
	}
	c.closed = true

	var errs []error
	if err := c.dev.WriteAnalog(make([]float64, len(c.spec.Analog))); err != nil {
		errs = append(errs, fmt.Errorf("daq: zero outputs: %w", err))
	}
	if len(c.spec.Digital) > 0 {
		if err := c.dev.WriteDigital(levels(len(c.spec.Digital), false)); err != nil {
			errs = append(errs, fmt.Errorf("daq: drop enable line: %w", err))
		}
	}
	if err := c.dev.Close(); err != nil {
		errs = append(errs, fmt.Errorf("daq: release device: %w", err))
	}
	return errors.Join(errs...)
}

func (c *Channel) Closed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

// Clamp saturates v to [-limit, +limit]. NaN maps to 0.
func Clamp(v, limit float64) float64 {
	if math.IsNaN(v) {
		return 0
	}
	if v > limit {
		return limit
	}
	if v < -limit {
		return -limit
	}
	return v
}

func levels(n int, high bool) []bool {
	out := make([]bool, n)
	for i := range out {
		out[i] = high
	}
	return out
}
