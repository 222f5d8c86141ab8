package replay_test

import (
	"bytes"
	"context"
	"errors"
	"math"
	"strconv"
	"sync"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/san-kum/fieldreplay/internal/calib"
	"github.com/san-kum/fieldreplay/internal/daq"
	"github.com/san-kum/fieldreplay/internal/dataset"
	"github.com/san-kum/fieldreplay/internal/logsink"
	"github.com/san-kum/fieldreplay/internal/metrics"
	"github.com/san-kum/fieldreplay/internal/replay"
	"github.com/san-kum/fieldreplay/internal/state"
)

type memSink struct {
	mu      sync.Mutex
	records []logsink.Record
	flushes int
	every   int
}

func (s *memSink) Append(r logsink.Record) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records = append(s.records, r)
}

func (s *memSink) Flush() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.flushes++
	return nil
}

func (s *memSink) ShouldFlush(count int) bool {
	return s.every > 0 && count%s.every == 0
}

func (s *memSink) Records() []logsink.Record {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]logsink.Record(nil), s.records...)
}

func (s *memSink) Indices() []int {
	var out []int
	for _, r := range s.Records() {
		out = append(out, r.Index)
	}
	return out
}

func (s *memSink) Flushes() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.flushes
}

func rows(bx ...float64) *dataset.Dataset {
	samples := make([]dataset.Sample, len(bx))
	for i, v := range bx {
		samples[i] = dataset.Sample{Timestamp: strconv.Itoa(i), Bx: v}
	}
	return dataset.New(samples)
}

type outcome struct {
	res *replay.Result
	err error
}

var _ = Describe("Loop", func() {
	var (
		sim  *daq.Sim
		st   *state.Control
		sink *memSink
		cfg  replay.Config
		out  *bytes.Buffer

		readback bool
	)

	opener := func() replay.Opener {
		return func() (replay.Channel, error) {
			return daq.NewChannel(sim, daq.DefaultSpec("Dev1", cfg.AuxVoltage != nil, readback))
		}
	}

	newLoop := func(data *dataset.Dataset) *replay.Loop {
		l := replay.New(data, st, opener(), sink, cfg)
		l.SetOutput(out)
		return l
	}

	start := func(l *replay.Loop) <-chan outcome {
		done := make(chan outcome, 1)
		go func() {
			res, err := l.Run(context.Background())
			done <- outcome{res, err}
		}()
		return done
	}

	BeforeEach(func() {
		var err error
		readback = false
		sim = daq.NewSim(3)
		sink = &memSink{}
		out = &bytes.Buffer{}
		st, err = state.New(time.Millisecond, 10)
		Expect(err).NotTo(HaveOccurred())
		cfg = replay.Config{
			NTToVolt:  1.0 / 10000,
			AxisGain:  [3]float64{1, 1, 1},
			PollSlice: 10 * time.Millisecond,
		}
	})

	It("clamps every commanded voltage to the limit", func() {
		res, err := newLoop(rows(100000, 200000, 500000)).Run(context.Background())
		Expect(err).NotTo(HaveOccurred())
		Expect(res.Reason).To(Equal(replay.ReasonCompleted))
		Expect(res.Emitted).To(Equal(3))

		for _, r := range sink.Records() {
			Expect(r.Volts[0]).To(Equal(10.0))
			Expect(r.Success).To(BeTrue())
		}
		writes := sim.Writes()
		Expect(writes).To(HaveLen(4))
		Expect(writes[3]).To(Equal([]float64{0, 0, 0}))
	})

	It("scales negative fields and saturates at the negative limit", func() {
		cfg.AxisGain = [3]float64{0.5, 1, 1}
		_, err := newLoop(rows(-40000, -400000)).Run(context.Background())
		Expect(err).NotTo(HaveOccurred())

		recs := sink.Records()
		Expect(recs).To(HaveLen(2))
		Expect(recs[0].Volts[0]).To(BeNumerically("~", -2, 1e-12))
		Expect(recs[1].Volts[0]).To(Equal(-10.0))
	})

	It("writes zero for a NaN field and saturates an infinite one", func() {
		_, err := newLoop(rows(math.NaN(), math.Inf(1))).Run(context.Background())
		Expect(err).NotTo(HaveOccurred())

		writes := sim.Writes()
		Expect(writes[0]).To(Equal([]float64{0, 0, 0}))
		Expect(writes[1][0]).To(Equal(10.0))

		recs := sink.Records()
		Expect(recs).To(HaveLen(2))
		Expect(recs[0].Volts[0]).To(Equal(0.0))
		Expect(recs[1].Volts[0]).To(Equal(10.0))
	})

	It("caps a voltage limit above the device range", func() {
		readback = true
		sim.SetResponse(1, 0, 0)
		Expect(st.SetVoltageLimit(50)).To(Succeed())

		bx := make([]float64, 12)
		for i := range bx {
			bx[i] = float64(i%8) * 20000
		}
		bank := calib.NewBank(calib.WithMinSamples(10))
		l := newLoop(rows(bx...))
		l.SetCalibration(bank)

		_, err := l.Run(context.Background())
		Expect(err).NotTo(HaveOccurred())

		recs := sink.Records()
		writes := sim.Writes()
		Expect(recs).To(HaveLen(12))
		for i, r := range recs {
			Expect(r.Volts[0]).To(BeNumerically("<=", daq.DefaultRange))
			Expect(r.Volts[0]).To(BeNumerically("~", writes[i][0], 1e-9))
		}
		Expect(recs[6].Volts[0]).To(Equal(daq.DefaultRange))

		slope, intercept, ok := bank.Axis(0).Model()
		Expect(ok).To(BeTrue())
		Expect(slope).To(BeNumerically("~", 1, 1e-6))
		Expect(intercept).To(BeNumerically("~", 0, 1e-6))
	})

	It("appends the auxiliary voltage to every write", func() {
		aux := 5.0
		cfg.AuxVoltage = &aux
		_, err := newLoop(rows(10000)).Run(context.Background())
		Expect(err).NotTo(HaveOccurred())
		first := sim.Writes()[0]
		Expect(first).To(HaveLen(4))
		Expect(first[0]).To(BeNumerically("~", 1, 1e-12))
		Expect(first[3]).To(Equal(5.0))
	})

	It("clears task_active and releases the device when finished", func() {
		_, err := newLoop(rows(1, 2)).Run(context.Background())
		Expect(err).NotTo(HaveOccurred())
		Expect(st.TaskActive()).To(BeFalse())
		Expect(sim.Closed()).To(BeTrue())
		Expect(sim.WritesAfterClose()).To(BeZero())
		Expect(out.String()).To(ContainSubstring("outputs reset to zero"))
	})

	It("starts from the reset index", func() {
		Expect(st.Reset(2)).To(Succeed())
		_, err := newLoop(rows(1, 2, 3, 4)).Run(context.Background())
		Expect(err).NotTo(HaveOccurred())
		Expect(sink.Indices()).To(Equal([]int{2, 3}))
	})

	It("takes a pending jump on the next iteration", func() {
		Expect(st.SetInterval(time.Hour)).To(Succeed())
		done := start(newLoop(rows(1, 2, 3, 4, 5, 6)))

		Eventually(sink.Indices).Should(Equal([]int{0}))
		Expect(st.RequestJump(4)).To(Succeed())
		Expect(st.SetInterval(time.Millisecond)).To(Succeed())

		var o outcome
		Eventually(done, 2*time.Second).Should(Receive(&o))
		Expect(o.err).NotTo(HaveOccurred())
		Expect(sink.Indices()).To(Equal([]int{0, 4, 5}))
	})

	It("picks up a shorter interval during the wait", func() {
		Expect(st.SetInterval(time.Hour)).To(Succeed())
		done := start(newLoop(rows(1, 2)))

		Eventually(sink.Indices).Should(HaveLen(1))
		Expect(st.SetInterval(time.Millisecond)).To(Succeed())
		Eventually(done, time.Second).Should(Receive())
		Expect(sink.Indices()).To(Equal([]int{0, 1}))
	})

	It("holds outputs and logging while paused", func() {
		done := start(newLoop(rows(make([]float64, 10000)...)))

		Eventually(func() int { return len(sink.Records()) }).Should(BeNumerically(">=", 1))
		st.SetPaused(true)
		time.Sleep(50 * time.Millisecond)

		frozen := len(sink.Records())
		writes := len(sim.Writes())
		idx := st.CurrentIndex()
		Consistently(func() int { return len(sink.Records()) }, 200*time.Millisecond).Should(Equal(frozen))
		Expect(sim.Writes()).To(HaveLen(writes))
		Expect(st.CurrentIndex()).To(Equal(idx))

		st.SetPaused(false)
		Eventually(func() int { return len(sink.Records()) }).Should(BeNumerically(">", frozen))

		st.RequestStop()
		Eventually(done).Should(Receive())
	})

	It("takes a jump issued while paused after resuming", func() {
		done := start(newLoop(rows(make([]float64, 200)...)))

		Eventually(func() int { return len(sink.Records()) }).Should(BeNumerically(">=", 1))
		st.SetPaused(true)
		time.Sleep(50 * time.Millisecond)
		before := len(sink.Records())

		Expect(st.RequestJump(150)).To(Succeed())
		st.SetPaused(false)

		Eventually(func() int { return len(sink.Records()) }).Should(BeNumerically(">", before))
		Expect(sink.Records()[before].Index).To(Equal(150))
		st.RequestStop()
		Eventually(done).Should(Receive())
	})

	It("stops within one poll slice during a long wait", func() {
		Expect(st.SetInterval(time.Hour)).To(Succeed())
		done := start(newLoop(rows(1, 2, 3)))

		Eventually(sink.Indices).Should(HaveLen(1))
		st.RequestStop()

		var o outcome
		Eventually(done, 200*time.Millisecond).Should(Receive(&o))
		Expect(o.err).NotTo(HaveOccurred())
		Expect(o.res.Reason).To(Equal(replay.ReasonStopped))
		Expect(sim.Last()).To(Equal([]float64{0, 0, 0}))
		Expect(st.TaskActive()).To(BeFalse())
	})

	It("stops while paused", func() {
		st.SetPaused(true)
		done := start(newLoop(rows(1, 2, 3)))

		Eventually(st.TaskActive).Should(BeTrue())
		st.RequestStop()

		var o outcome
		Eventually(done, 200*time.Millisecond).Should(Receive(&o))
		Expect(o.res.Reason).To(Equal(replay.ReasonStopped))
		Expect(sink.Records()).To(BeEmpty())
	})

	It("returns the context error on cancellation", func() {
		Expect(st.SetInterval(time.Hour)).To(Succeed())
		ctx, cancel := context.WithCancel(context.Background())
		l := newLoop(rows(1, 2, 3))

		done := make(chan outcome, 1)
		go func() {
			res, err := l.Run(ctx)
			done <- outcome{res, err}
		}()

		Eventually(sink.Indices).Should(HaveLen(1))
		cancel()

		var o outcome
		Eventually(done, 200*time.Millisecond).Should(Receive(&o))
		Expect(o.err).To(MatchError(context.Canceled))
		Expect(o.res.Reason).To(Equal(replay.ReasonCanceled))
		Expect(sim.Closed()).To(BeTrue())
	})

	It("never writes when the device fails to open", func() {
		boom := errors.New("no such device")
		l := replay.New(rows(1, 2), st, func() (replay.Channel, error) { return nil, boom }, sink, cfg)

		res, err := l.Run(context.Background())
		Expect(res).To(BeNil())
		Expect(err).To(MatchError(replay.ErrDeviceInit))
		Expect(err.Error()).To(ContainSubstring("no such device"))
		Expect(st.TaskActive()).To(BeFalse())
		Expect(sim.Writes()).To(BeEmpty())
		Expect(sink.Records()).To(BeEmpty())
	})

	It("logs failed writes and keeps going", func() {
		sim.FailNextWrites(1)
		res, err := newLoop(rows(1, 2, 3)).Run(context.Background())
		Expect(err).NotTo(HaveOccurred())
		Expect(res.Failures).To(Equal(1))

		recs := sink.Records()
		Expect(recs).To(HaveLen(3))
		Expect(recs[0].Success).To(BeFalse())
		Expect(recs[1].Success).To(BeTrue())
	})

	It("flushes on the configured cadence", func() {
		sink.every = 2
		_, err := newLoop(rows(1, 2, 3, 4, 5)).Run(context.Background())
		Expect(err).NotTo(HaveOccurred())
		Expect(sink.Flushes()).To(Equal(2))
	})

	It("records readback and corrects once the fit is ready", func() {
		readback = true
		sim.SetResponse(2, 1, 0)

		bx := make([]float64, 12)
		for i := range bx {
			bx[i] = float64(i%8) * 10000
		}
		l := newLoop(rows(bx...))
		l.SetCalibration(calib.NewBank(calib.WithMinSamples(10)))

		_, err := l.Run(context.Background())
		Expect(err).NotTo(HaveOccurred())

		recs := sink.Records()
		Expect(recs).To(HaveLen(12))
		Expect(recs[9].Volts[0]).To(BeNumerically("~", 1, 1e-9))
		Expect(recs[9].Readback[0]).To(BeNumerically("~", 3, 1e-9))

		// desired 2V through m = 2c + 1 needs 0.5V
		Expect(recs[10].Volts[0]).To(BeNumerically("~", 0.5, 1e-9))
		Expect(recs[10].Readback[0]).To(BeNumerically("~", 2, 1e-9))
	})

	It("feeds the metric set", func() {
		set := metrics.Default()
		l := newLoop(rows(50000, 200000))
		l.SetMetrics(set)
		var seen []int
		l.AddObserver(replay.ObserverFunc(func(r logsink.Record) { seen = append(seen, r.Index) }))

		_, err := l.Run(context.Background())
		Expect(err).NotTo(HaveOccurred())
		Expect(seen).To(Equal([]int{0, 1}))

		values := map[string]float64{}
		for _, v := range set.Values() {
			values[v.Name] = v.Value
		}
		Expect(values["write_success"]).To(Equal(1.0))
		Expect(values["saturation"]).To(BeNumerically(">", 0))
	})

	It("rejects a zero scale factor", func() {
		cfg.NTToVolt = 0
		_, err := newLoop(rows(1)).Run(context.Background())
		Expect(err).To(HaveOccurred())
		Expect(sim.Writes()).To(BeEmpty())
	})
})
