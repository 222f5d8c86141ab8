package calib

// Axes is the number of calibrated output axes (X, Y, Z).
const Axes = 3

// Bank holds one calibrator per field axis.
type Bank struct {
	axes [Axes]*Calibrator
}

func NewBank(opts ...Option) *Bank {
	b := &Bank{}
	for i := range b.axes {
		b.axes[i] = New(opts...)
	}
	return b
}

func (b *Bank) Axis(i int) *Calibrator { return b.axes[i] }

// Observe feeds paired command/readback values for up to three axes and
// refits each axis that has enough samples. It returns the axes that were
// refit.
func (b *Bank) Observe(commanded, measured []float64) []int {
	n := min(len(commanded), len(measured), Axes)
	var refit []int
	for i := 0; i < n; i++ {
		b.axes[i].Observe(commanded[i], measured[i])
		if b.axes[i].MaybeFit() {
			refit = append(refit, i)
		}
	}
	return refit
}

// Correct applies the axis model to desired.
func (b *Bank) Correct(axis int, desired float64) float64 {
	return b.axes[axis].Correct(desired)
}
