package dataset

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"math"
	"os"
	"strconv"
	"strings"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"
)

// MinColumns is the narrowest row the loader accepts: time, Bx, By, Bz.
const MinColumns = 4

// splitTimeColumns is the column count at which the timestamp is spread over
// four columns (date and time parts) followed by Bx, By, Bz.
const splitTimeColumns = 7

var (
	ErrEmpty         = errors.New("dataset: no data rows")
	ErrNotFound      = errors.New("dataset: file not found")
	ErrNonFinite     = errors.New("field value is not finite")
	ErrTooFewColumns = fmt.Errorf("dataset: rows need at least %d columns (time, Bx, By, Bz)", MinColumns)
)

type ParseError struct {
	Line   int
	Column int
	Err    error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("dataset: line %d column %d: %v", e.Line, e.Column, e.Err)
}

func (e *ParseError) Unwrap() error { return e.Err }

// Sample is one field measurement in nanotesla.
type Sample struct {
	Timestamp string
	Bx        float64
	By        float64
	Bz        float64
}

func (s Sample) Axes() [3]float64 {
	return [3]float64{s.Bx, s.By, s.Bz}
}

// Dataset is read-only once loaded.
type Dataset struct {
	source  string
	samples []Sample
}

func New(samples []Sample) *Dataset {
	c := make([]Sample, len(samples))
	copy(c, samples)
	return &Dataset{source: "memory", samples: c}
}

func (d *Dataset) Len() int           { return len(d.samples) }
func (d *Dataset) At(i int) Sample    { return d.samples[i] }
func (d *Dataset) Source() string     { return d.source }
func (d *Dataset) InRange(i int) bool { return i >= 0 && i < len(d.samples) }

// Column returns a copy of one axis (0=Bx, 1=By, 2=Bz).
func (d *Dataset) Column(axis int) []float64 {
	out := make([]float64, len(d.samples))
	for i, s := range d.samples {
		out[i] = s.Axes()[axis]
	}
	return out
}

func Load(path string) (*Dataset, error) {
	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, path)
		}
		return nil, err
	}
	defer f.Close()

	samples, err := Parse(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return &Dataset{source: path, samples: samples}, nil
}

// Parse reads whitespace separated rows. A first row whose field columns do
// not parse as numbers is treated as a header; lines starting with '#' are
// comments.
func Parse(r io.Reader) ([]Sample, error) {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 64*1024), 1024*1024)

	var samples []Sample
	lineNum := 0
	seenFirst := false

	for sc.Scan() {
		lineNum++
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		fields := strings.Fields(line)
		if len(fields) < MinColumns {
			return nil, fmt.Errorf("line %d: %w, got %d", lineNum, ErrTooFewColumns, len(fields))
		}

		s, err := parseRow(fields, lineNum)
		if err != nil {
			if !seenFirst && !errors.Is(err, ErrNonFinite) {
				seenFirst = true
				continue
			}
			return nil, err
		}
		seenFirst = true
		samples = append(samples, s)
	}
	if err := sc.Err(); err != nil {
		return nil, err
	}

	if len(samples) == 0 {
		return nil, ErrEmpty
	}
	return samples, nil
}

func parseRow(fields []string, lineNum int) (Sample, error) {
	timeCols := 1
	if len(fields) >= splitTimeColumns {
		timeCols = 4
	}

	var vals [3]float64
	for i := range vals {
		col := timeCols + i
		v, err := strconv.ParseFloat(fields[col], 64)
		if err != nil {
			return Sample{}, &ParseError{Line: lineNum, Column: col + 1, Err: err}
		}
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return Sample{}, &ParseError{Line: lineNum, Column: col + 1, Err: ErrNonFinite}
		}
		vals[i] = v
	}

	return Sample{
		Timestamp: strings.Join(fields[:timeCols], " "),
		Bx:        vals[0],
		By:        vals[1],
		Bz:        vals[2],
	}, nil
}

type AxisSummary struct {
	Min    float64
	Max    float64
	Mean   float64
	StdDev float64
}

type Summary struct {
	Rows  int
	First string
	Last  string
	Axes  [3]AxisSummary
}

func (d *Dataset) Summary() Summary {
	s := Summary{Rows: d.Len()}
	if d.Len() == 0 {
		return s
	}
	s.First = d.samples[0].Timestamp
	s.Last = d.samples[d.Len()-1].Timestamp

	for axis := 0; axis < 3; axis++ {
		col := d.Column(axis)
		mean, std := stat.MeanStdDev(col, nil)
		s.Axes[axis] = AxisSummary{
			Min:    floats.Min(col),
			Max:    floats.Max(col),
			Mean:   mean,
			StdDev: std,
		}
	}
	return s
}
