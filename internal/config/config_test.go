package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	if cfg.DeviceName != "Dev1" {
		t.Errorf("expected device Dev1, got %s", cfg.DeviceName)
	}
	if cfg.Interval <= 0 {
		t.Error("interval should be positive")
	}
	if cfg.NTToVolt != 1.0/10000 {
		t.Errorf("expected 1V per 10000nT, got %g", cfg.NTToVolt)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("defaults should validate: %v", err)
	}
	if cfg.IntervalDuration() != time.Minute {
		t.Errorf("expected 1m, got %v", cfg.IntervalDuration())
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"zero interval", func(c *Config) { c.Interval = 0 }},
		{"negative interval", func(c *Config) { c.Interval = -1 }},
		{"zero limit", func(c *Config) { c.VoltageLimit = 0 }},
		{"zero scale", func(c *Config) { c.NTToVolt = 0 }},
		{"zero flush", func(c *Config) { c.LogFlushInterval = 0 }},
		{"tiny calibration window", func(c *Config) { c.CalMinSamples = 1 }},
		{"unknown driver", func(c *Config) { c.Driver = "nidaqmx" }},
		{"serial without port", func(c *Config) { c.Driver = "serial" }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)
			if err := cfg.Validate(); !errors.Is(err, ErrInvalid) {
				t.Errorf("expected ErrInvalid, got %v", err)
			}
		})
	}
}

func TestSaveLoadRoundTrip(t *testing.T) {
	for _, name := range []string{"config.json", "config.yaml"} {
		t.Run(name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), name)
			cfg := DefaultConfig()
			cfg.Interval = 2.5
			cfg.AxisGain = [3]float64{0.5, 0.25, 1}
			cfg.AuxVoltage = aux(5)
			cfg.Readback = true

			if err := Save(path, cfg); err != nil {
				t.Fatalf("save failed: %v", err)
			}
			got, err := Load(path)
			if err != nil {
				t.Fatalf("load failed: %v", err)
			}
			if got.Interval != 2.5 || got.AxisGain[1] != 0.25 || !got.Readback {
				t.Errorf("unexpected config %+v", got)
			}
			if got.AuxVoltage == nil || *got.AuxVoltage != 5 {
				t.Errorf("aux voltage lost: %v", got.AuxVoltage)
			}
		})
	}
}

func TestLoadKeepsDefaultsForMissingKeys(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	if err := os.WriteFile(path, []byte(`{"interval": 5}`), 0644); err != nil {
		t.Fatalf("write failed: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}
	if cfg.Interval != 5 {
		t.Errorf("expected interval 5, got %g", cfg.Interval)
	}
	if cfg.VoltageLimit != DefaultVoltageLimit || cfg.CSVLog != DefaultLog {
		t.Errorf("defaults not kept: %+v", cfg)
	}
}

func TestLoadOrCreate(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sub", "config.json")

	cfg, created, err := LoadOrCreate(path)
	if err != nil {
		t.Fatalf("load or create failed: %v", err)
	}
	if !created {
		t.Error("expected file to be created")
	}
	if _, err := os.Stat(path); err != nil {
		t.Errorf("config file not written: %v", err)
	}
	if cfg.Interval != DefaultInterval {
		t.Errorf("expected default interval, got %g", cfg.Interval)
	}

	_, created, err = LoadOrCreate(path)
	if err != nil || created {
		t.Errorf("second call should load existing file, created=%v err=%v", created, err)
	}
}

func TestLoadOrCreateMalformed(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	if err := os.WriteFile(path, []byte("{not json"), 0644); err != nil {
		t.Fatalf("write failed: %v", err)
	}

	cfg, _, err := LoadOrCreate(path)
	if !errors.Is(err, ErrMalformed) {
		t.Fatalf("expected ErrMalformed, got %v", err)
	}
	if cfg == nil || cfg.Interval != DefaultInterval {
		t.Errorf("expected default substitution, got %+v", cfg)
	}
}

func TestApplyPreset(t *testing.T) {
	base := DefaultConfig()
	cfg := ApplyPreset(base, "helmholtz")
	if cfg == nil {
		t.Fatal("expected preset, got nil")
	}
	if cfg.AxisGain[0] != 0.5 || cfg.AuxVoltage == nil || *cfg.AuxVoltage != 5 {
		t.Errorf("unexpected helmholtz preset %+v", cfg)
	}
	if base.AuxVoltage != nil || base.AxisGain[0] != 1 {
		t.Error("preset modified the base config")
	}

	if ApplyPreset(base, "nonexistent") != nil {
		t.Error("expected nil for nonexistent preset")
	}
}

func TestListPresets(t *testing.T) {
	presets := ListPresets()
	if len(presets) != len(Presets) {
		t.Errorf("expected %d presets, got %d", len(Presets), len(presets))
	}
	if presets[0] != "bench" {
		t.Errorf("expected sorted list, got %v", presets)
	}
}

func TestDataPath(t *testing.T) {
	cfg := DefaultConfig()
	cfg.CSVInput = "600 Meg.txt"
	if got := cfg.DataPath(); got != filepath.Join("data", "600 Meg.txt") {
		t.Errorf("unexpected path %s", got)
	}
	cfg.CSVInput = "/abs/field.txt"
	if got := cfg.DataPath(); got != "/abs/field.txt" {
		t.Errorf("absolute path changed: %s", got)
	}
}
