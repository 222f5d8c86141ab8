// Package calib fits a per-axis line between commanded and measured voltage
// and inverts it to correct future commands. It is best-effort bias
// correction; nothing here guarantees convergence.
package calib

import (
	"math"
	"sync"

	"gonum.org/v1/gonum/stat"
)

// DefaultMinSamples is the number of observations needed before the first fit.
const DefaultMinSamples = 10

type Sample struct {
	Commanded float64
	Measured  float64
}

// Calibrator is fed by the output loop; status readers on other goroutines
// go through the same lock.
type Calibrator struct {
	mu sync.Mutex

	minSamples int
	maxSamples int

	commanded []float64
	measured  []float64

	model model
}

type model struct {
	slope     float64
	intercept float64
	fitted    bool
}

type Option func(*Calibrator)

// WithMinSamples sets the fit threshold. Values below 2 are raised to 2.
func WithMinSamples(n int) Option {
	return func(c *Calibrator) {
		if n < 2 {
			n = 2
		}
		c.minSamples = n
	}
}

// WithWindow keeps only the most recent n samples. Zero keeps everything.
func WithWindow(n int) Option {
	return func(c *Calibrator) {
		if n < 0 {
			n = 0
		}
		c.maxSamples = n
	}
}

func New(opts ...Option) *Calibrator {
	c := &Calibrator{minSamples: DefaultMinSamples}
	for _, opt := range opts {
		opt(c)
	}
	if c.maxSamples > 0 && c.maxSamples < c.minSamples {
		c.maxSamples = c.minSamples
	}
	return c
}

func (c *Calibrator) Observe(commanded, measured float64) {
	if math.IsNaN(commanded) || math.IsNaN(measured) {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.commanded = append(c.commanded, commanded)
	c.measured = append(c.measured, measured)

	if c.maxSamples > 0 && len(c.commanded) > c.maxSamples {
		drop := len(c.commanded) - c.maxSamples
		c.commanded = append(c.commanded[:0], c.commanded[drop:]...)
		c.measured = append(c.measured[:0], c.measured[drop:]...)
	}
}

// MaybeFit refits the line once the sample count has reached the threshold.
// It reports whether a fit happened.
func (c *Calibrator) MaybeFit() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.commanded) < c.minSamples {
		return false
	}
	intercept, slope := stat.LinearRegression(c.commanded, c.measured, nil, false)
	c.model = model{slope: slope, intercept: intercept, fitted: true}
	return true
}

// Correct returns the command that should produce desired on the measured
// side. Before the first fit, or with a degenerate slope, desired is
// returned unchanged.
func (c *Calibrator) Correct(desired float64) float64 {
	c.mu.Lock()
	m := c.model
	c.mu.Unlock()
	if !m.fitted || m.slope == 0 || !finite(m.slope) || !finite(m.intercept) {
		return desired
	}
	return (desired - m.intercept) / m.slope
}

func finite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}

func (c *Calibrator) Fitted() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.model.fitted
}

func (c *Calibrator) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.commanded)
}

func (c *Calibrator) Model() (slope, intercept float64, ok bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.model.slope, c.model.intercept, c.model.fitted
}

func (c *Calibrator) Samples() []Sample {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]Sample, len(c.commanded))
	for i := range c.commanded {
		out[i] = Sample{Commanded: c.commanded[i], Measured: c.measured[i]}
	}
	return out
}
