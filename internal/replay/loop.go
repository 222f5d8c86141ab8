package replay

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/san-kum/fieldreplay/internal/calib"
	"github.com/san-kum/fieldreplay/internal/daq"
	"github.com/san-kum/fieldreplay/internal/dataset"
	"github.com/san-kum/fieldreplay/internal/logsink"
	"github.com/san-kum/fieldreplay/internal/metrics"
	"github.com/san-kum/fieldreplay/internal/state"
	"github.com/san-kum/fieldreplay/internal/ui"
)

// DefaultPollSlice bounds every uninterruptible sleep in the loop.
const DefaultPollSlice = 100 * time.Millisecond

var ErrDeviceInit = errors.New("replay: device channel failed to initialize")

// Channel is the part of a device channel the loop drives.
type Channel interface {
	WriteAnalog(v []float64) error
	ReadAnalog() ([]float64, error)
	HasReadback() bool
	Close() error
}

// ranged channels report the symmetric output range of the device.
type ranged interface {
	Range() float64
}

type Opener func() (Channel, error)

type Sink interface {
	Append(r logsink.Record)
	Flush() error
	ShouldFlush(count int) bool
}

type Observer interface {
	OnRecord(r logsink.Record)
}

type ObserverFunc func(r logsink.Record)

func (f ObserverFunc) OnRecord(r logsink.Record) { f(r) }

type Config struct {
	// NTToVolt converts nanotesla to volts.
	NTToVolt float64
	AxisGain [3]float64
	// AuxVoltage, when set, is appended to every analog write.
	AuxVoltage *float64
	PollSlice  time.Duration
}

type Reason string

const (
	ReasonCompleted Reason = "completed"
	ReasonStopped   Reason = "stopped"
	ReasonCanceled  Reason = "canceled"
)

type Result struct {
	Emitted   int
	Failures  int
	LastIndex int
	Reason    Reason
	Elapsed   time.Duration
}

type Loop struct {
	data  *dataset.Dataset
	state *state.Control
	open  Opener
	sink  Sink
	cfg   Config

	cal       *calib.Bank
	metrics   *metrics.Set
	observers []Observer
	// deviceRange caps the voltage limit; zero means no cap.
	deviceRange float64

	out    io.Writer
	logger *slog.Logger
	now    func() time.Time
}

func New(data *dataset.Dataset, st *state.Control, open Opener, sink Sink, cfg Config) *Loop {
	if cfg.PollSlice <= 0 || cfg.PollSlice > DefaultPollSlice {
		cfg.PollSlice = DefaultPollSlice
	}
	return &Loop{
		data:   data,
		state:  st,
		open:   open,
		sink:   sink,
		cfg:    cfg,
		out:    io.Discard,
		logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
		now:    time.Now,
	}
}

func (l *Loop) SetOutput(w io.Writer)           { l.out = w }
func (l *Loop) SetLogger(logger *slog.Logger)   { l.logger = logger }
func (l *Loop) SetCalibration(bank *calib.Bank) { l.cal = bank }
func (l *Loop) SetMetrics(set *metrics.Set)     { l.metrics = set }
func (l *Loop) AddObserver(o Observer)          { l.observers = append(l.observers, o) }

func (l *Loop) validate() error {
	if l.data == nil || l.state == nil || l.open == nil || l.sink == nil {
		return errors.New("replay: loop is missing dataset, state, opener or sink")
	}
	if l.cfg.NTToVolt == 0 {
		return errors.New("replay: scale factor must not be zero")
	}
	return nil
}

// Run drives the device until the dataset is exhausted, stop is requested
// or ctx is canceled. The channel is always closed, and therefore zeroed,
// before Run returns.
func (l *Loop) Run(ctx context.Context) (*Result, error) {
	if err := l.validate(); err != nil {
		return nil, err
	}

	ch, err := l.open()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDeviceInit, err)
	}

	l.deviceRange = 0
	if r, ok := ch.(ranged); ok {
		l.deviceRange = r.Range()
	}
	if limit := l.state.VoltageLimit(); l.deviceRange > 0 && limit > l.deviceRange {
		l.logger.Warn("voltage limit exceeds device range, output capped",
			"limit", limit, "range", l.deviceRange)
	}

	l.state.SetTaskActive(true)
	defer func() {
		l.state.SetTaskActive(false)
		if err := ch.Close(); err != nil {
			l.logger.Error("closing device channel", "err", err)
		}
		fmt.Fprintln(l.out, ui.Subtle.Render("outputs reset to zero"))
	}()

	fmt.Fprintln(l.out, ui.Subtle.Render("device channel ready, output started"))

	res := &Result{LastIndex: -1}
	started := time.Now()
	res.Reason = l.iterate(ctx, ch, res)
	res.Elapsed = time.Since(started)

	l.logger.Info("replay loop finished",
		"reason", res.Reason, "emitted", res.Emitted, "failures", res.Failures)

	if res.Reason == ReasonCanceled {
		return res, ctx.Err()
	}
	return res, nil
}

func (l *Loop) iterate(ctx context.Context, ch Channel, res *Result) Reason {
	n := l.data.Len()
	for {
		idx, _ := l.state.TakeJump()

		if reason, halt := l.halted(ctx); halt {
			return reason
		}

		if l.state.Paused() {
			if !l.waitWhilePaused(ctx) {
				reason, _ := l.halted(ctx)
				return reason
			}
			// a jump issued during the pause wins over the frozen index
			idx, _ = l.state.TakeJump()
		}

		if idx >= n {
			return ReasonCompleted
		}

		start := time.Now()
		rec := l.emit(ch, idx)

		res.Emitted++
		res.LastIndex = idx
		if !rec.Success {
			res.Failures++
		}

		if l.sink.ShouldFlush(res.Emitted) {
			if err := l.sink.Flush(); err != nil {
				l.logger.Error("flushing output log", "err", err)
			}
		}

		l.state.Advance()
		l.waitInterval(ctx, start)
	}
}

func (l *Loop) halted(ctx context.Context) (Reason, bool) {
	if l.state.Stopped() {
		return ReasonStopped, true
	}
	if ctx.Err() != nil {
		return ReasonCanceled, true
	}
	return "", false
}

// outputLimit is the live voltage limit, capped by the device range.
func (l *Loop) outputLimit() float64 {
	limit := l.state.VoltageLimit()
	if l.deviceRange > 0 && limit > l.deviceRange {
		return l.deviceRange
	}
	return limit
}

// emit writes one row, feeds the calibrators and hands the record off.
func (l *Loop) emit(ch Channel, idx int) logsink.Record {
	sample := l.data.At(idx)
	field := sample.Axes()
	limit := l.outputLimit()

	step := metrics.Step{Index: idx, Limit: limit}
	for a := 0; a < 3; a++ {
		step.Raw[a] = field[a] * l.cfg.NTToVolt * l.cfg.AxisGain[a]
		step.Desired[a] = daq.Clamp(step.Raw[a], limit)
		step.Commanded[a] = step.Desired[a]
		if l.cal != nil {
			step.Commanded[a] = daq.Clamp(l.cal.Correct(a, step.Desired[a]), limit)
		}
	}

	vec := append([]float64(nil), step.Commanded[:]...)
	if l.cfg.AuxVoltage != nil {
		vec = append(vec, *l.cfg.AuxVoltage)
	}

	werr := ch.WriteAnalog(vec)
	step.Success = werr == nil
	if werr != nil {
		l.logger.Warn("analog write failed", "index", idx, "err", werr)
	}

	if ch.HasReadback() {
		rb, err := ch.ReadAnalog()
		switch {
		case err != nil:
			l.logger.Warn("analog read failed", "index", idx, "err", err)
		case len(rb) > 0:
			step.Readback = rb
			// a failed write says nothing about the commanded/measured relation
			if step.Success && l.cal != nil {
				for _, axis := range l.cal.Observe(step.Commanded[:], rb) {
					slope, intercept, _ := l.cal.Axis(axis).Model()
					l.logger.Debug("calibration refit", "axis", axis, "slope", slope, "intercept", intercept)
				}
			}
		}
	}

	now := l.now()
	rec := logsink.Record{
		Index:     idx,
		UTCTime:   now.UTC().Truncate(time.Second),
		LocalTime: now.Local().Truncate(time.Second),
		Field:     field,
		Volts:     step.Commanded,
		Success:   step.Success,
		Readback:  step.Readback,
	}

	if l.metrics != nil {
		l.metrics.Observe(step)
	}
	for _, o := range l.observers {
		o.OnRecord(rec)
	}
	fmt.Fprintln(l.out, ui.StepLine(rec))
	l.sink.Append(rec)
	return rec
}

// sleep blocks for at most d and reports false when stop or cancellation
// cut it short.
func (l *Loop) sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-l.state.Done():
		return false
	case <-ctx.Done():
		return false
	}
}

func (l *Loop) waitWhilePaused(ctx context.Context) bool {
	for l.state.Paused() {
		if !l.sleep(ctx, l.cfg.PollSlice) {
			return false
		}
	}
	return !l.state.Stopped() && ctx.Err() == nil
}

// waitInterval sleeps out the rest of the interval measured from start. The
// interval is re-read every slice, and a pause ends the wait early.
func (l *Loop) waitInterval(ctx context.Context, start time.Time) {
	for {
		remaining := l.state.Interval() - time.Since(start)
		if remaining <= 0 || l.state.Paused() {
			return
		}
		if !l.sleep(ctx, min(remaining, l.cfg.PollSlice)) {
			return
		}
	}
}
