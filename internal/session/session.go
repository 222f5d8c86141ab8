package session

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/san-kum/fieldreplay/internal/calib"
	"github.com/san-kum/fieldreplay/internal/config"
	"github.com/san-kum/fieldreplay/internal/console"
	"github.com/san-kum/fieldreplay/internal/daq"
	"github.com/san-kum/fieldreplay/internal/dataset"
	"github.com/san-kum/fieldreplay/internal/logsink"
	"github.com/san-kum/fieldreplay/internal/metrics"
	"github.com/san-kum/fieldreplay/internal/replay"
	"github.com/san-kum/fieldreplay/internal/state"
	"github.com/san-kum/fieldreplay/internal/ui"
)

const DefaultJoinTimeout = 3 * time.Second

var ErrStartIndex = errors.New("session: start index out of range")

type Options struct {
	Config *config.Config
	// ConfigPath is where "save config" writes. Empty disables saving.
	ConfigPath string
	// Dataset overrides loading Config.DataPath().
	Dataset *dataset.Dataset

	StartIndex  int
	NoConsole   bool
	PollSlice   time.Duration
	JoinTimeout time.Duration

	In     io.Reader
	Out    io.Writer
	Logger *slog.Logger

	// Open overrides the driver registry.
	Open replay.Opener
}

type Summary struct {
	Result      *replay.Result
	LogPath     string
	SummaryPath string
	Written     int
	Joined      bool
}

type Session struct {
	opts    Options
	cfg     *config.Config
	data    *dataset.Dataset
	state   *state.Control
	sink    *logsink.Sink
	loop    *replay.Loop
	bank    *calib.Bank
	metrics *metrics.Set
	logger  *slog.Logger
	out     io.Writer
}

// New validates the configuration and loads the dataset. Every error it
// returns happens before any device is opened.
func New(opts Options) (*Session, error) {
	if opts.Config == nil {
		opts.Config = config.DefaultConfig()
	}
	cfg := opts.Config
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if opts.JoinTimeout <= 0 {
		opts.JoinTimeout = DefaultJoinTimeout
	}
	if opts.In == nil {
		opts.In = os.Stdin
	}
	if opts.Out == nil {
		opts.Out = os.Stdout
	}
	opts.Out = &lockedWriter{w: opts.Out}
	if opts.Logger == nil {
		opts.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	data := opts.Dataset
	if data == nil {
		var err error
		data, err = dataset.Load(cfg.DataPath())
		if err != nil {
			return nil, err
		}
	}
	if !data.InRange(opts.StartIndex) {
		return nil, fmt.Errorf("%w: %d not in [0, %d)", ErrStartIndex, opts.StartIndex, data.Len())
	}

	st, err := state.New(cfg.IntervalDuration(), cfg.VoltageLimit)
	if err != nil {
		return nil, err
	}
	if err := st.Reset(opts.StartIndex); err != nil {
		return nil, err
	}

	s := &Session{
		opts:    opts,
		cfg:     cfg,
		data:    data,
		state:   st,
		sink:    logsink.New(cfg.CSVLog, cfg.LogFlushInterval),
		metrics: metrics.Default(),
		logger:  opts.Logger,
		out:     opts.Out,
	}

	open := opts.Open
	if open == nil {
		open = s.openDevice
	}
	s.loop = replay.New(data, st, open, s.sink, replay.Config{
		NTToVolt:   cfg.NTToVolt,
		AxisGain:   cfg.AxisGain,
		AuxVoltage: cfg.AuxVoltage,
		PollSlice:  opts.PollSlice,
	})
	s.loop.SetOutput(opts.Out)
	s.loop.SetLogger(opts.Logger)
	s.loop.SetMetrics(s.metrics)
	if cfg.Calibrate {
		if !cfg.Readback {
			s.logger.Warn("calibration needs readback, correction stays disabled")
		}
		s.bank = calib.NewBank(calib.WithMinSamples(cfg.CalMinSamples))
		s.loop.SetCalibration(s.bank)
	}
	return s, nil
}

func (s *Session) State() *state.Control { return s.state }

func (s *Session) openDevice() (replay.Channel, error) {
	spec := daq.DefaultSpec(s.cfg.DeviceName, s.cfg.AuxVoltage != nil, s.cfg.Readback)
	if s.cfg.EnableLine {
		spec = spec.WithEnableLine()
	}
	ch, err := daq.Open(s.cfg.Driver, spec, daq.Options{
		Port:     s.cfg.SerialPort,
		BaudRate: s.cfg.BaudRate,
	})
	if err != nil {
		return nil, err
	}
	return ch, nil
}

// lockedWriter serializes operator output from the loop and the console.
type lockedWriter struct {
	mu sync.Mutex
	w  io.Writer
}

func (l *lockedWriter) Write(p []byte) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.w.Write(p)
}

type loopOutcome struct {
	res *replay.Result
	err error
}

// Run starts the output loop and, unless disabled, the console. It returns
// once the replay ended and the log has been flushed. SIGINT and SIGTERM go
// through the same stop, join, flush sequence as the stop command.
func (s *Session) Run(ctx context.Context) (*Summary, error) {
	ctx, stopSignals := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stopSignals()

	s.banner()
	started := time.Now()

	finished := make(chan struct{})
	var outcome loopOutcome
	go func() {
		defer close(finished)
		outcome.res, outcome.err = s.loop.Run(ctx)
	}()

	if s.opts.NoConsole {
		select {
		case <-finished:
		case <-ctx.Done():
		case <-s.state.Done():
		}
	} else {
		cctx, cancel := context.WithCancel(ctx)
		go func() {
			select {
			case <-finished:
				cancel()
			case <-cctx.Done():
			}
		}()
		d := console.New(s.state, s.data.Len(), s.out, console.Options{
			Save:   s.saveConfig,
			Flush:  s.flush,
			Status: s.status,
		})
		if err := d.Run(cctx, s.opts.In); err != nil {
			s.logger.Warn("console input failed", "err", err)
		}
		cancel()
	}

	joined := s.shutdown(finished)

	if err := s.sink.Flush(); err != nil {
		s.logger.Error("final log flush failed", "path", s.sink.Path(), "err", err)
	}
	fmt.Fprintf(s.out, "log written to %s\n", ui.Title.Render(s.sink.Path()))

	sum := &Summary{LogPath: s.sink.Path(), Written: s.sink.Written(), Joined: joined}
	if !joined {
		return sum, nil
	}
	sum.Result = outcome.res
	if outcome.res != nil {
		path := logsink.SummaryPath(s.sink.Path())
		if err := logsink.ExportSummary(path, s.runSummary(outcome.res, started)); err != nil {
			s.logger.Error("writing run summary", "path", path, "err", err)
		} else {
			sum.SummaryPath = path
		}
	}
	if outcome.err != nil && !errors.Is(outcome.err, context.Canceled) {
		return sum, outcome.err
	}
	return sum, nil
}

// shutdown requests stop and waits for the loop up to the join timeout.
func (s *Session) shutdown(finished <-chan struct{}) bool {
	s.state.RequestStop()
	t := time.NewTimer(s.opts.JoinTimeout)
	defer t.Stop()
	select {
	case <-finished:
		return true
	case <-t.C:
		s.logger.Warn("output loop did not exit in time, continuing shutdown",
			"timeout", s.opts.JoinTimeout)
		return false
	}
}

func (s *Session) banner() {
	fmt.Fprintln(s.out, ui.Title.Render("fieldreplay"))
	fmt.Fprintf(s.out, "%s %d rows from %s\n", ui.MetricLabel.Render("dataset"), s.data.Len(), s.data.Source())
	fmt.Fprintf(s.out, "%s %s on %s, every %gs, limit ±%gV\n",
		ui.MetricLabel.Render("device "), s.cfg.DeviceName, s.cfg.Driver, s.cfg.Interval, s.cfg.VoltageLimit)
	if !s.opts.NoConsole {
		fmt.Fprintln(s.out, ui.KeyHint.Render("type 'help' for commands"))
	}
}

// saveConfig writes the config with the live interval and voltage limit.
func (s *Session) saveConfig() error {
	if s.opts.ConfigPath == "" {
		return errors.New("no config path")
	}
	cfg := s.cfg.Clone()
	cfg.Interval = s.state.Interval().Seconds()
	cfg.VoltageLimit = s.state.VoltageLimit()
	return config.Save(s.opts.ConfigPath, cfg)
}

func (s *Session) flush() (int, error) {
	n := s.sink.Pending()
	if err := s.sink.Flush(); err != nil {
		return 0, err
	}
	return n, nil
}

func (s *Session) status() string {
	view := ui.StatusView{
		State:   s.state.Snapshot(),
		Rows:    s.data.Len(),
		Pending: s.sink.Pending(),
		LogPath: s.sink.Path(),
		Metrics: s.metrics.Values(),
	}
	for _, fit := range s.axisFits() {
		view.Axes = append(view.Axes, ui.AxisModel{
			Samples:   fit.Samples,
			Slope:     fit.Slope,
			Intercept: fit.Intercept,
			Fitted:    fit.Fitted,
		})
	}
	return view.Render()
}

func (s *Session) axisFits() []logsink.AxisFit {
	if s.bank == nil {
		return nil
	}
	fits := make([]logsink.AxisFit, 0, calib.Axes)
	for i := 0; i < calib.Axes; i++ {
		c := s.bank.Axis(i)
		slope, intercept, ok := c.Model()
		fits = append(fits, logsink.AxisFit{
			Axis:      string(rune('x' + i)),
			Samples:   c.Len(),
			Fitted:    ok,
			Slope:     slope,
			Intercept: intercept,
		})
	}
	return fits
}

func (s *Session) runSummary(res *replay.Result, started time.Time) logsink.RunSummary {
	values := make(map[string]float64)
	for _, v := range s.metrics.Values() {
		values[v.Name] = v.Value
	}
	return logsink.RunSummary{
		Dataset:     s.data.Source(),
		Rows:        s.data.Len(),
		StartIndex:  s.opts.StartIndex,
		LastIndex:   res.LastIndex,
		Emitted:     res.Emitted,
		Failures:    res.Failures,
		Reason:      string(res.Reason),
		StartedAt:   started.UTC().Truncate(time.Second),
		ElapsedSec:  res.Elapsed.Seconds(),
		LogPath:     s.sink.Path(),
		Metrics:     values,
		Calibration: s.axisFits(),
	}
}
