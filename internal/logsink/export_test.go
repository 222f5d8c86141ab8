package logsink

import (
	"path/filepath"
	"testing"
	"time"
)

func TestSummaryPath(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"output_log.csv", "output_log.summary.json"},
		{filepath.Join("logs", "run.csv"), filepath.Join("logs", "run.summary.json")},
		{"plain", "plain.summary.json"},
	}
	for _, tt := range tests {
		if got := SummaryPath(tt.in); got != tt.want {
			t.Errorf("SummaryPath(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestExportLoadSummary(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "run.summary.json")
	in := RunSummary{
		Dataset:   "data/600 Meg.txt",
		Rows:      600,
		Emitted:   42,
		Failures:  1,
		Reason:    "stopped",
		StartedAt: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
		Metrics:   map[string]float64{"write_success": 0.975},
		Calibration: []AxisFit{
			{Axis: "x", Samples: 12, Fitted: true, Slope: 2, Intercept: 1},
		},
	}

	if err := ExportSummary(path, in); err != nil {
		t.Fatalf("export failed: %v", err)
	}
	out, err := LoadSummary(path)
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}

	if out.Emitted != 42 || out.Reason != "stopped" || !out.StartedAt.Equal(in.StartedAt) {
		t.Errorf("unexpected summary %+v", out)
	}
	if out.Metrics["write_success"] != 0.975 {
		t.Errorf("metrics lost: %v", out.Metrics)
	}
	if len(out.Calibration) != 1 || out.Calibration[0].Slope != 2 {
		t.Errorf("calibration lost: %v", out.Calibration)
	}
}

func TestLoadSummaryMissing(t *testing.T) {
	if _, err := LoadSummary(filepath.Join(t.TempDir(), "none.json")); err == nil {
		t.Error("expected error for missing file")
	}
}
