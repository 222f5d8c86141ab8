package logsink

import (
	"encoding/json"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"
)

type AxisFit struct {
	Axis      string  `json:"axis"`
	Samples   int     `json:"samples"`
	Fitted    bool    `json:"fitted"`
	Slope     float64 `json:"slope,omitempty"`
	Intercept float64 `json:"intercept,omitempty"`
}

// RunSummary is written next to the output log once a run ends.
type RunSummary struct {
	Dataset     string             `json:"dataset"`
	Rows        int                `json:"rows"`
	StartIndex  int                `json:"start_index"`
	LastIndex   int                `json:"last_index"`
	Emitted     int                `json:"emitted"`
	Failures    int                `json:"failures"`
	Reason      string             `json:"reason"`
	StartedAt   time.Time          `json:"started_at"`
	ElapsedSec  float64            `json:"elapsed_sec"`
	LogPath     string             `json:"log_path"`
	Metrics     map[string]float64 `json:"metrics"`
	Calibration []AxisFit          `json:"calibration,omitempty"`
}

// SummaryPath maps output_log.csv to output_log.summary.json.
func SummaryPath(logPath string) string {
	return strings.TrimSuffix(logPath, filepath.Ext(logPath)) + ".summary.json"
}

func EncodeSummary(w io.Writer, s RunSummary) error {
	encoder := json.NewEncoder(w)
	encoder.SetIndent("", "  ")
	return encoder.Encode(s)
}

func ExportSummary(path string, s RunSummary) error {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return err
		}
	}
	file, err := os.Create(path)
	if err != nil {
		return err
	}
	defer file.Close()
	return EncodeSummary(file, s)
}

func LoadSummary(path string) (*RunSummary, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var s RunSummary
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, err
	}
	return &s, nil
}
