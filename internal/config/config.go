package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	DefaultPath             = "config.json"
	DefaultInput            = "None"
	DefaultFolder           = "data"
	DefaultLog              = "output_log.csv"
	DefaultDevice           = "Dev1"
	DefaultDriver           = "sim"
	DefaultNTToVolt         = 1.0 / 10000
	DefaultInterval         = 60.0
	DefaultVoltageLimit     = 10.0
	DefaultLogFlushInterval = 10
	DefaultCalMinSamples    = 10
)

var (
	ErrMalformed = errors.New("config: malformed file")
	ErrInvalid   = errors.New("config: invalid value")
)

// KnownDrivers lists the device drivers Validate accepts.
var KnownDrivers = []string{"sim", "serial"}

type Config struct {
	CSVInput         string     `json:"csv_input" yaml:"csv_input"`
	CSVFolder        string     `json:"csv_folder" yaml:"csv_folder"`
	CSVLog           string     `json:"csv_log" yaml:"csv_log"`
	DeviceName       string     `json:"device_name" yaml:"device_name"`
	Driver           string     `json:"driver" yaml:"driver"`
	SerialPort       string     `json:"serial_port,omitempty" yaml:"serial_port,omitempty"`
	BaudRate         int        `json:"baud_rate,omitempty" yaml:"baud_rate,omitempty"`
	NTToVolt         float64    `json:"nt_to_volt" yaml:"nt_to_volt"`
	Interval         float64    `json:"interval" yaml:"interval"`
	VoltageLimit     float64    `json:"voltage_limit" yaml:"voltage_limit"`
	LogFlushInterval int        `json:"log_flush_interval" yaml:"log_flush_interval"`
	AxisGain         [3]float64 `json:"axis_gain" yaml:"axis_gain"`
	AuxVoltage       *float64   `json:"aux_voltage,omitempty" yaml:"aux_voltage,omitempty"`
	Readback         bool       `json:"readback" yaml:"readback"`
	Calibrate        bool       `json:"calibrate" yaml:"calibrate"`
	CalMinSamples    int        `json:"calibration_min_samples" yaml:"calibration_min_samples"`
	EnableLine       bool       `json:"enable_line" yaml:"enable_line"`
}

func DefaultConfig() *Config {
	return &Config{
		CSVInput:         DefaultInput,
		CSVFolder:        DefaultFolder,
		CSVLog:           DefaultLog,
		DeviceName:       DefaultDevice,
		Driver:           DefaultDriver,
		NTToVolt:         DefaultNTToVolt,
		Interval:         DefaultInterval,
		VoltageLimit:     DefaultVoltageLimit,
		LogFlushInterval: DefaultLogFlushInterval,
		AxisGain:         [3]float64{1, 1, 1},
		CalMinSamples:    DefaultCalMinSamples,
	}
}

func (c *Config) Clone() *Config {
	cp := *c
	if c.AuxVoltage != nil {
		v := *c.AuxVoltage
		cp.AuxVoltage = &v
	}
	return &cp
}

// IntervalDuration converts the interval in seconds.
func (c *Config) IntervalDuration() time.Duration {
	return time.Duration(c.Interval * float64(time.Second))
}

// DataPath joins the input folder and file name.
func (c *Config) DataPath() string {
	if filepath.IsAbs(c.CSVInput) || c.CSVFolder == "" {
		return c.CSVInput
	}
	return filepath.Join(c.CSVFolder, c.CSVInput)
}

func (c *Config) Validate() error {
	if c.Interval <= 0 {
		return fmt.Errorf("%w: interval must be > 0, got %g", ErrInvalid, c.Interval)
	}
	if c.VoltageLimit <= 0 {
		return fmt.Errorf("%w: voltage_limit must be > 0, got %g", ErrInvalid, c.VoltageLimit)
	}
	if c.NTToVolt == 0 {
		return fmt.Errorf("%w: nt_to_volt must not be zero", ErrInvalid)
	}
	if c.LogFlushInterval < 1 {
		return fmt.Errorf("%w: log_flush_interval must be >= 1, got %d", ErrInvalid, c.LogFlushInterval)
	}
	if c.CalMinSamples < 2 {
		return fmt.Errorf("%w: calibration_min_samples must be >= 2, got %d", ErrInvalid, c.CalMinSamples)
	}
	known := false
	for _, d := range KnownDrivers {
		if c.Driver == d {
			known = true
		}
	}
	if !known {
		return fmt.Errorf("%w: unknown driver %q (available: %v)", ErrInvalid, c.Driver, KnownDrivers)
	}
	if c.Driver == "serial" && c.SerialPort == "" {
		return fmt.Errorf("%w: serial driver needs serial_port", ErrInvalid)
	}
	return nil
}

func isYAML(path string) bool {
	ext := strings.ToLower(filepath.Ext(path))
	return ext == ".yaml" || ext == ".yml"
}

// Load reads path on top of the defaults, so missing keys keep their
// default values.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	cfg := DefaultConfig()
	if isYAML(path) {
		err = yaml.Unmarshal(data, cfg)
	} else {
		err = json.Unmarshal(data, cfg)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrMalformed, path, err)
	}
	return cfg, nil
}

func Save(path string, cfg *Config) error {
	var (
		data []byte
		err  error
	)
	if isYAML(path) {
		data, err = yaml.Marshal(cfg)
	} else {
		data, err = json.MarshalIndent(cfg, "", "  ")
	}
	if err != nil {
		return err
	}
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return err
		}
	}
	return os.WriteFile(path, data, 0644)
}

// LoadOrCreate loads path. A missing file is created with defaults. A
// malformed file yields the defaults together with an ErrMalformed error so
// the caller can warn and carry on.
func LoadOrCreate(path string) (cfg *Config, created bool, err error) {
	cfg, err = Load(path)
	switch {
	case err == nil:
		return cfg, false, nil
	case errors.Is(err, fs.ErrNotExist):
		cfg = DefaultConfig()
		if err := Save(path, cfg); err != nil {
			return cfg, false, err
		}
		return cfg, true, nil
	case errors.Is(err, ErrMalformed):
		return DefaultConfig(), false, err
	default:
		return nil, false, err
	}
}
