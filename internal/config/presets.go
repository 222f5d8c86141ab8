package config

import "sort"

func aux(v float64) *float64 { return &v }

// Presets override the interval, scaling and output layout of a base config.
var Presets = map[string]func(*Config){
	// one sample per minute, plain ±10V outputs
	"bench": func(c *Config) {
		c.Interval = 60
		c.VoltageLimit = 10
		c.AxisGain = [3]float64{1, 1, 1}
		c.AuxVoltage = nil
	},
	// coil driver amplifiers take half the field voltage plus a 5V bias
	// supply on the fourth output
	"helmholtz": func(c *Config) {
		c.Interval = 60
		c.VoltageLimit = 10
		c.AxisGain = [3]float64{0.5, 0.5, 0.5}
		c.AuxVoltage = aux(5)
		c.Readback = true
		c.Calibrate = true
	},
	"fast": func(c *Config) {
		c.Interval = 1
		c.LogFlushInterval = 5
	},
}

// ApplyPreset returns a copy of base with the named preset applied, or nil
// when no such preset exists.
func ApplyPreset(base *Config, name string) *Config {
	fn, ok := Presets[name]
	if !ok {
		return nil
	}
	cfg := base.Clone()
	fn(cfg)
	return cfg
}

func ListPresets() []string {
	names := make([]string, 0, len(Presets))
	for name := range Presets {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
