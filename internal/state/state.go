// Package state holds the control state shared between the output loop and
// the operator console. Every method is a single critical section; composite
// operations such as TakeJump are exposed as one call so no caller ever needs
// to hold the lock across two calls.
package state

import (
	"errors"
	"fmt"
	"sync"
	"time"
)

var (
	ErrInvalidInterval = errors.New("state: interval must be greater than zero")
	ErrInvalidLimit    = errors.New("state: voltage limit must be greater than zero")
	ErrNegativeIndex   = errors.New("state: index must not be negative")
)

type Control struct {
	mu sync.Mutex

	paused       bool
	stop         bool
	interval     time.Duration
	voltageLimit float64
	current      int
	pendingJump  int
	hasJump      bool
	taskActive   bool

	done chan struct{}
}

// Snapshot is a consistent copy of every field taken under one lock.
type Snapshot struct {
	Paused       bool
	Stopped      bool
	Interval     time.Duration
	VoltageLimit float64
	CurrentIndex int
	PendingJump  int
	HasJump      bool
	TaskActive   bool
}

func New(interval time.Duration, voltageLimit float64) (*Control, error) {
	if interval <= 0 {
		return nil, fmt.Errorf("%w, got %v", ErrInvalidInterval, interval)
	}
	if voltageLimit <= 0 {
		return nil, fmt.Errorf("%w, got %g", ErrInvalidLimit, voltageLimit)
	}
	return &Control{
		interval:     interval,
		voltageLimit: voltageLimit,
		done:         make(chan struct{}),
	}, nil
}

func (c *Control) Paused() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.paused
}

func (c *Control) SetPaused(p bool) {
	c.mu.Lock()
	c.paused = p
	c.mu.Unlock()
}

func (c *Control) Stopped() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stop
}

// RequestStop marks the state terminal. It is safe to call more than once.
func (c *Control) RequestStop() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.stop {
		return
	}
	c.stop = true
	close(c.done)
}

// Done is closed once stop has been requested.
func (c *Control) Done() <-chan struct{} {
	return c.done
}

func (c *Control) Interval() time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.interval
}

func (c *Control) SetInterval(d time.Duration) error {
	if d <= 0 {
		return fmt.Errorf("%w, got %v", ErrInvalidInterval, d)
	}
	c.mu.Lock()
	c.interval = d
	c.mu.Unlock()
	return nil
}

func (c *Control) VoltageLimit() float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.voltageLimit
}

func (c *Control) SetVoltageLimit(v float64) error {
	if v <= 0 {
		return fmt.Errorf("%w, got %g", ErrInvalidLimit, v)
	}
	c.mu.Lock()
	c.voltageLimit = v
	c.mu.Unlock()
	return nil
}

func (c *Control) CurrentIndex() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.current
}

// Reset positions the replay at idx and discards any pending jump.
func (c *Control) Reset(idx int) error {
	if idx < 0 {
		return fmt.Errorf("%w, got %d", ErrNegativeIndex, idx)
	}
	c.mu.Lock()
	c.current = idx
	c.hasJump = false
	c.mu.Unlock()
	return nil
}

// Advance moves the replay forward by one row and returns the new index.
func (c *Control) Advance() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.current++
	return c.current
}

// RequestJump records a jump target. Range checking against the dataset is
// the caller's job; a later request replaces an unconsumed one.
func (c *Control) RequestJump(idx int) error {
	if idx < 0 {
		return fmt.Errorf("%w, got %d", ErrNegativeIndex, idx)
	}
	c.mu.Lock()
	c.pendingJump = idx
	c.hasJump = true
	c.mu.Unlock()
	return nil
}

// TakeJump consumes a pending jump: the current index is overwritten with the
// target and the pending slot is cleared, all under one lock.
func (c *Control) TakeJump() (int, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.hasJump {
		return c.current, false
	}
	c.current = c.pendingJump
	c.hasJump = false
	return c.current, true
}

func (c *Control) PendingJump() (int, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.pendingJump, c.hasJump
}

func (c *Control) TaskActive() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.taskActive
}

func (c *Control) SetTaskActive(active bool) {
	c.mu.Lock()
	c.taskActive = active
	c.mu.Unlock()
}

func (c *Control) Snapshot() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	return Snapshot{
		Paused:       c.paused,
		Stopped:      c.stop,
		Interval:     c.interval,
		VoltageLimit: c.voltageLimit,
		CurrentIndex: c.current,
		PendingJump:  c.pendingJump,
		HasJump:      c.hasJump,
		TaskActive:   c.taskActive,
	}
}
