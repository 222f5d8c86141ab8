package metrics

import "math"

type WriteSuccess struct {
	name    string
	ok      int
	samples int
}

func NewWriteSuccess() *WriteSuccess {
	return &WriteSuccess{name: "write_success"}
}

func (w *WriteSuccess) Name() string { return w.name }

func (w *WriteSuccess) Observe(s Step) {
	w.samples++
	if s.Success {
		w.ok++
	}
}

func (w *WriteSuccess) Value() float64 {
	if w.samples == 0 {
		return 1.0
	}
	return float64(w.ok) / float64(w.samples)
}

func (w *WriteSuccess) Reset() {
	w.ok = 0
	w.samples = 0
}

// Saturation is the fraction of steps where at least one axis hit the
// voltage limit.
type Saturation struct {
	name       string
	violations int
	samples    int
}

func NewSaturation() *Saturation {
	return &Saturation{name: "saturation"}
}

func (s *Saturation) Name() string { return s.name }

func (s *Saturation) Observe(step Step) {
	s.samples++
	for _, v := range step.Raw {
		if math.Abs(v) > step.Limit {
			s.violations++
			break
		}
	}
}

func (s *Saturation) Value() float64 {
	if s.samples == 0 {
		return 0
	}
	return float64(s.violations) / float64(s.samples)
}

func (s *Saturation) Reset() {
	s.violations = 0
	s.samples = 0
}

type ControlEffort struct {
	name    string
	sum     float64
	samples int
}

func NewControlEffort() *ControlEffort {
	return &ControlEffort{
		name: "control_effort",
	}
}

func (c *ControlEffort) Name() string {
	return c.name
}

func (c *ControlEffort) Observe(s Step) {
	if !s.Success {
		return
	}
	for _, val := range s.Commanded {
		c.sum += math.Abs(val)
	}
	c.samples++
}

func (c *ControlEffort) Value() float64 {
	if c.samples == 0 {
		return 0
	}
	return c.sum / float64(c.samples)
}

func (c *ControlEffort) Reset() {
	c.sum = 0
	c.samples = 0
}

// TrackingError is the RMS difference between the desired voltage and the
// measured readback, over every axis that has a reading.
type TrackingError struct {
	name    string
	sumSq   float64
	samples int
}

func NewTrackingError() *TrackingError {
	return &TrackingError{name: "tracking_rms"}
}

func (e *TrackingError) Name() string { return e.name }

func (e *TrackingError) Observe(s Step) {
	n := min(len(s.Readback), len(s.Desired))
	for i := 0; i < n; i++ {
		d := s.Desired[i] - s.Readback[i]
		e.sumSq += d * d
		e.samples++
	}
}

func (e *TrackingError) Value() float64 {
	if e.samples == 0 {
		return 0
	}
	return math.Sqrt(e.sumSq / float64(e.samples))
}

func (e *TrackingError) Reset() {
	e.sumSq = 0
	e.samples = 0
}
