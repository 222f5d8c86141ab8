package main

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/san-kum/fieldreplay/internal/config"
)

func TestNewLogger(t *testing.T) {
	for _, level := range []string{"debug", "info", "WARN", "error"} {
		if _, err := newLogger(level); err != nil {
			t.Errorf("level %q rejected: %v", level, err)
		}
	}
	if _, err := newLogger("loud"); err == nil {
		t.Error("expected unknown level to fail")
	}
}

func TestLoadDataset(t *testing.T) {
	dir := t.TempDir()
	configPath = filepath.Join(dir, "config.json")

	cfg := config.DefaultConfig()
	if _, err := loadDataset(cfg, nil); err == nil {
		t.Error("expected an error without csv_input")
	}

	path := filepath.Join(dir, "field.txt")
	body := "time bx by bz\n0 100 200 300\n1 110 210 310\n"
	if err := os.WriteFile(path, []byte(body), 0644); err != nil {
		t.Fatal(err)
	}

	data, err := loadDataset(cfg, []string{path})
	if err != nil {
		t.Fatalf("explicit path: %v", err)
	}
	if data.Len() != 2 {
		t.Errorf("expected 2 rows, got %d", data.Len())
	}

	cfg.CSVFolder = dir
	cfg.CSVInput = "field.txt"
	if _, err := loadDataset(cfg, nil); err != nil {
		t.Errorf("config path: %v", err)
	}
}

func TestSeconds(t *testing.T) {
	if got := seconds(0.25); got.Milliseconds() != 250 {
		t.Errorf("expected 250ms, got %v", got)
	}
}
