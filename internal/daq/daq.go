// Package daq abstracts the data-acquisition hardware the replay loop drives.
//
// A [Device] is a raw driver handle. A [Channel] wraps one and adds the
// safety rules every caller relies on: write vectors must match the
// configured channel list, outputs saturate at the device range, and
// [Channel.Close] always commands zero volts before releasing the device.
//
// Drivers register themselves by name:
//
//	ch, err := daq.Open("sim", daq.DefaultSpec("Dev1", true, false), daq.Options{})
//	defer ch.Close()
package daq

import (
	"fmt"
	"sort"
	"sync"
	"time"
)

// Device is the raw driver surface.
type Device interface {
	WriteAnalog(v []float64) error
	WriteDigital(levels []bool) error
	ReadAnalog() ([]float64, error)
	Close() error
}

// ChannelSpec names the physical lines used on one device.
type ChannelSpec struct {
	Device  string
	Analog  []string
	Digital []string
	Inputs  []string
	// Range is the symmetric output range of the device in volts.
	Range float64
}

// DefaultRange matches the ±10V analog outputs of common USB DAQ units.
const DefaultRange = 10.0

// DefaultSpec lays out X, Y, Z on ao0..ao2, an optional auxiliary output on
// ao3 and, with readback, X, Y, Z inputs on ai0..ai2.
func DefaultSpec(device string, aux, readback bool) ChannelSpec {
	spec := ChannelSpec{Device: device, Range: DefaultRange}
	n := 3
	if aux {
		n = 4
	}
	for i := 0; i < n; i++ {
		spec.Analog = append(spec.Analog, fmt.Sprintf("%s/ao%d", device, i))
	}
	if readback {
		for i := 0; i < 3; i++ {
			spec.Inputs = append(spec.Inputs, fmt.Sprintf("%s/ai%d", device, i))
		}
	}
	return spec
}

// WithEnableLine adds a digital output that is held high while the channel
// is open.
func (s ChannelSpec) WithEnableLine() ChannelSpec {
	s.Digital = append(append([]string(nil), s.Digital...), fmt.Sprintf("%s/port0/line0", s.Device))
	return s
}

// Options carries driver specific settings.
type Options struct {
	Port     string
	BaudRate int
	Timeout  time.Duration
}

type OpenFunc func(spec ChannelSpec, opts Options) (Device, error)

var (
	registryMu sync.RWMutex
	drivers    = map[string]OpenFunc{}
)

func Register(name string, fn OpenFunc) {
	registryMu.Lock()
	defer registryMu.Unlock()
	drivers[name] = fn
}

func Drivers() []string {
	registryMu.RLock()
	defer registryMu.RUnlock()
	return sortedKeys()
}

func lookup(name string) (OpenFunc, error) {
	registryMu.RLock()
	defer registryMu.RUnlock()
	fn, ok := drivers[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s (available: %v)", ErrUnknownDriver, name, sortedKeys())
	}
	return fn, nil
}

func sortedKeys() []string {
	names := make([]string, 0, len(drivers))
	for name := range drivers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Open starts a device through the named driver and wraps it in a Channel.
func Open(driver string, spec ChannelSpec, opts Options) (*Channel, error) {
	fn, err := lookup(driver)
	if err != nil {
		return nil, err
	}
	if len(spec.Analog) == 0 {
		return nil, ErrNoOutputs
	}
	dev, err := fn(spec, opts)
	if err != nil {
		return nil, fmt.Errorf("daq: open %s on %s: %w", driver, spec.Device, err)
	}
	return NewChannel(dev, spec)
}

func init() {
	Register("sim", func(spec ChannelSpec, _ Options) (Device, error) {
		return NewSim(len(spec.Inputs)), nil
	})
	Register("serial", openSerial)
}
