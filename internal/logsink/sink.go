package logsink

import (
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"time"
)

var Header = []string{
	"index", "utc_time", "local_time",
	"bx_nt", "by_nt", "bz_nt",
	"vx", "vy", "vz",
	"success",
	"ai0", "ai1", "ai2",
}

// Record is one replay iteration. Readback is nil when the device has no
// inputs or the read failed.
type Record struct {
	Index     int
	UTCTime   time.Time
	LocalTime time.Time
	Field     [3]float64
	Volts     [3]float64
	Success   bool
	Readback  []float64
}

func (r Record) row() []string {
	row := []string{
		strconv.Itoa(r.Index),
		r.UTCTime.Format(time.RFC3339),
		r.LocalTime.Format(time.RFC3339),
	}
	for _, v := range r.Field {
		row = append(row, strconv.FormatFloat(v, 'f', 3, 64))
	}
	for _, v := range r.Volts {
		row = append(row, strconv.FormatFloat(v, 'f', 6, 64))
	}
	row = append(row, strconv.FormatBool(r.Success))
	for i := 0; i < 3; i++ {
		if i < len(r.Readback) {
			row = append(row, strconv.FormatFloat(r.Readback[i], 'f', 6, 64))
		} else {
			row = append(row, "")
		}
	}
	return row
}

// Sink buffers records in memory and appends them to a CSV file on Flush.
type Sink struct {
	mu         sync.Mutex
	path       string
	flushEvery int
	buf        []Record
	written    int
}

func New(path string, flushEvery int) *Sink {
	if flushEvery < 1 {
		flushEvery = 1
	}
	return &Sink{path: path, flushEvery: flushEvery}
}

func (s *Sink) Path() string { return s.path }

func (s *Sink) Append(r Record) {
	s.mu.Lock()
	s.buf = append(s.buf, r)
	s.mu.Unlock()
}

// ShouldFlush reports whether count records processed hits the cadence.
func (s *Sink) ShouldFlush(count int) bool {
	return count > 0 && count%s.flushEvery == 0
}

func (s *Sink) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.buf)
}

func (s *Sink) Written() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.written
}

// Flush appends buffered records to the file. The header is written only
// when the file is new or empty. On failure the records stay buffered.
func (s *Sink) Flush() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.buf) == 0 {
		return nil
	}

	if dir := filepath.Dir(s.path); dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("logsink: %w", err)
		}
	}

	f, err := os.OpenFile(s.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return fmt.Errorf("logsink: %w", err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return fmt.Errorf("logsink: %w", err)
	}

	w := csv.NewWriter(f)
	if info.Size() == 0 {
		if err := w.Write(Header); err != nil {
			return fmt.Errorf("logsink: %w", err)
		}
	}
	for _, r := range s.buf {
		if err := w.Write(r.row()); err != nil {
			return fmt.Errorf("logsink: %w", err)
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return fmt.Errorf("logsink: %w", err)
	}

	s.written += len(s.buf)
	s.buf = s.buf[:0]
	return nil
}

// ReadAll loads a log file back, header excluded.
func ReadAll(path string) ([][]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	r := csv.NewReader(f)
	r.FieldsPerRecord = -1
	records, err := r.ReadAll()
	if err != nil {
		return nil, err
	}
	if len(records) < 2 {
		return [][]string{}, nil
	}
	return records[1:], nil
}
