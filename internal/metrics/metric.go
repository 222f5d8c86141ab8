package metrics

import "sync"

// Step is what the replay loop reports after each output iteration.
type Step struct {
	Index int
	// Raw is field * scale * gain before clamping.
	Raw [3]float64
	// Desired is Raw after clamping to the voltage limit.
	Desired [3]float64
	// Commanded is what was written, after calibration correction.
	Commanded [3]float64
	Success   bool
	Readback  []float64
	Limit     float64
}

type Metric interface {
	Name() string
	Observe(s Step)
	Value() float64
	Reset()
}

// Set is a fixed group of metrics that can be observed from the loop and
// read from the console at the same time.
type Set struct {
	mu      sync.Mutex
	metrics []Metric
}

func NewSet(ms ...Metric) *Set {
	return &Set{metrics: ms}
}

// Default is the metric set a replay run reports in its status.
func Default() *Set {
	return NewSet(NewWriteSuccess(), NewSaturation(), NewControlEffort(), NewTrackingError())
}

func (s *Set) Add(m Metric) {
	s.mu.Lock()
	s.metrics = append(s.metrics, m)
	s.mu.Unlock()
}

func (s *Set) Observe(step Step) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, m := range s.metrics {
		m.Observe(step)
	}
}

func (s *Set) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, m := range s.metrics {
		m.Reset()
	}
}

type Value struct {
	Name  string
	Value float64
}

// Values returns the metrics in registration order.
func (s *Set) Values() []Value {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Value, len(s.metrics))
	for i, m := range s.metrics {
		out[i] = Value{Name: m.Name(), Value: m.Value()}
	}
	return out
}
