package daq

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/jacobsa/go-serial/serial"
)

const (
	DefaultBaudRate      = 115200
	DefaultSerialTimeout = 2 * time.Second
)

// openPort is swapped out in tests.
var openPort = func(opts serial.OpenOptions) (io.ReadWriteCloser, error) {
	return serial.Open(opts)
}

// Serial talks to a microcontroller DAQ bridge with a line protocol:
//
//	AO <v0> <v1> ...   -> OK
//	DO <0|1> ...       -> OK
//	AI?                -> AI <v0> <v1> ...
//
// Any command may be answered with "ERR <message>".
type Serial struct {
	mu      sync.Mutex
	port    io.ReadWriteCloser
	pending []byte
	timeout time.Duration
	closed  bool
	// lost counts replies owed to commands that timed out.
	lost    int
}

func openSerial(spec ChannelSpec, opts Options) (Device, error) {
	if opts.Port == "" {
		return nil, errors.New("serial: no port configured")
	}
	baud := opts.BaudRate
	if baud <= 0 {
		baud = DefaultBaudRate
	}
	port, err := openPort(serial.OpenOptions{
		PortName:              opts.Port,
		BaudRate:              uint(baud),
		DataBits:              8,
		StopBits:              1,
		MinimumReadSize:       0,
		InterCharacterTimeout: 100,
	})
	if err != nil {
		return nil, err
	}
	return NewSerial(port, opts.Timeout), nil
}

func NewSerial(port io.ReadWriteCloser, timeout time.Duration) *Serial {
	if timeout <= 0 {
		timeout = DefaultSerialTimeout
	}
	return &Serial{port: port, timeout: timeout}
}

func (s *Serial) WriteAnalog(v []float64) error {
	parts := make([]string, len(v))
	for i, x := range v {
		parts[i] = strconv.FormatFloat(x, 'f', 6, 64)
	}
	return s.expectOK("AO", "AO "+strings.Join(parts, " "))
}

func (s *Serial) WriteDigital(levels []bool) error {
	parts := make([]string, len(levels))
	for i, on := range levels {
		parts[i] = "0"
		if on {
			parts[i] = "1"
		}
	}
	return s.expectOK("DO", "DO "+strings.Join(parts, " "))
}

func (s *Serial) ReadAnalog() ([]float64, error) {
	reply, err := s.roundTrip("AI", "AI?")
	if err != nil {
		return nil, err
	}
	fields := strings.Fields(reply)
	if len(fields) == 0 || fields[0] != "AI" {
		return nil, fmt.Errorf("serial: unexpected AI reply %q", reply)
	}
	out := make([]float64, 0, len(fields)-1)
	for _, f := range fields[1:] {
		v, err := strconv.ParseFloat(f, 64)
		if err != nil {
			return nil, fmt.Errorf("serial: AI reply %q: %w", reply, err)
		}
		out = append(out, v)
	}
	return out, nil
}

func (s *Serial) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	return s.port.Close()
}

func (s *Serial) expectOK(op, line string) error {
	reply, err := s.roundTrip(op, line)
	if err != nil {
		return err
	}
	if reply != "OK" {
		return fmt.Errorf("serial: unexpected %s reply %q", op, reply)
	}
	return nil
}

func (s *Serial) roundTrip(op, line string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return "", ErrClosed
	}
	if s.lost > 0 {
		s.drain()
	}
	if _, err := io.WriteString(s.port, line+"\n"); err != nil {
		return "", fmt.Errorf("serial: %s: %w", op, err)
	}
	for {
		reply, err := s.readLine()
		if errors.Is(err, ErrTimeout) {
			s.lost++
			s.pending = nil
		}
		if err != nil {
			return "", fmt.Errorf("serial: %s: %w", op, err)
		}
		if s.lost > 0 && !replyFits(op, reply) {
			s.lost--
			continue
		}
		if msg, ok := strings.CutPrefix(reply, "ERR"); ok {
			return "", &DeviceError{Op: op, Message: strings.TrimSpace(msg)}
		}
		return reply, nil
	}
}

// replyFits reports whether reply has the shape op answers with.
func replyFits(op, reply string) bool {
	if strings.HasPrefix(reply, "ERR") {
		return true
	}
	if op == "AI" {
		return strings.HasPrefix(reply, "AI")
	}
	return reply == "OK"
}

// drain discards late replies already waiting on the port. A trailing
// partial line is kept so it completes on the next read.
func (s *Serial) drain() {
	buf := make([]byte, 128)
	for {
		n, err := s.port.Read(buf)
		s.pending = append(s.pending, buf[:n]...)
		if n == 0 || err != nil {
			break
		}
	}
	for s.lost > 0 {
		i := bytes.IndexByte(s.pending, '\n')
		if i < 0 {
			break
		}
		if strings.TrimSpace(string(s.pending[:i])) != "" {
			s.lost--
		}
		s.pending = s.pending[i+1:]
	}
}

// readLine returns the next CR/LF terminated reply. The port is opened with
// an inter-character timeout, so an idle read returns io.EOF with no data.
func (s *Serial) readLine() (string, error) {
	deadline := time.Now().Add(s.timeout)
	buf := make([]byte, 128)
	for {
		if i := bytes.IndexByte(s.pending, '\n'); i >= 0 {
			line := strings.TrimSpace(string(s.pending[:i]))
			s.pending = s.pending[i+1:]
			if line == "" {
				continue
			}
			return line, nil
		}
		if time.Now().After(deadline) {
			return "", ErrTimeout
		}
		n, err := s.port.Read(buf)
		s.pending = append(s.pending, buf[:n]...)
		if err != nil && !errors.Is(err, io.EOF) {
			return "", err
		}
		if n == 0 {
			time.Sleep(5 * time.Millisecond)
		}
	}
}
