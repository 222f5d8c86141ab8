package daq

import (
	"errors"
	"math/rand"
	"sync"
)

// Sim is an in-memory device. Readback on input i reports
// gain*lastWrite[i] + offset, plus optional gaussian noise.
type Sim struct {
	mu sync.Mutex

	inputs int
	gain   float64
	offset float64
	noise  float64
	rng    *rand.Rand

	last    []float64
	writes  [][]float64
	digital [][]bool

	failWrites int
	writeErr   error
	readErr    error

	closed     bool
	closeCalls int
	writeAfter int
}

var errSimWrite = errors.New("sim: injected write failure")

func NewSim(inputs int) *Sim {
	return &Sim{inputs: inputs, gain: 1, rng: rand.New(rand.NewSource(1))}
}

// SetResponse sets the simulated analog front end.
func (s *Sim) SetResponse(gain, offset, noise float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.gain, s.offset, s.noise = gain, offset, noise
}

// FailNextWrites makes the next n analog writes fail.
func (s *Sim) FailNextWrites(n int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failWrites = n
}

func (s *Sim) SetWriteError(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.writeErr = err
}

func (s *Sim) SetReadError(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.readErr = err
}

func (s *Sim) WriteAnalog(v []float64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		s.writeAfter++
		return ErrClosed
	}
	if s.failWrites > 0 {
		s.failWrites--
		return errSimWrite
	}
	if s.writeErr != nil {
		return s.writeErr
	}
	s.last = append([]float64(nil), v...)
	s.writes = append(s.writes, s.last)
	return nil
}

func (s *Sim) WriteDigital(levels []bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	s.digital = append(s.digital, append([]bool(nil), levels...))
	return nil
}

func (s *Sim) ReadAnalog() ([]float64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, ErrClosed
	}
	if s.readErr != nil {
		return nil, s.readErr
	}
	out := make([]float64, s.inputs)
	for i := range out {
		if i < len(s.last) {
			out[i] = s.gain*s.last[i] + s.offset
			if s.noise > 0 {
				out[i] += s.rng.NormFloat64() * s.noise
			}
		}
	}
	return out, nil
}

func (s *Sim) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closeCalls++
	s.closed = true
	return nil
}

// Writes returns every analog vector accepted so far.
func (s *Sim) Writes() [][]float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([][]float64, len(s.writes))
	copy(out, s.writes)
	return out
}

func (s *Sim) DigitalWrites() [][]bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([][]bool, len(s.digital))
	copy(out, s.digital)
	return out
}

func (s *Sim) Last() []float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]float64(nil), s.last...)
}

func (s *Sim) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

func (s *Sim) CloseCalls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closeCalls
}

// WritesAfterClose counts analog writes attempted on a released device.
func (s *Sim) WritesAfterClose() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.writeAfter
}
