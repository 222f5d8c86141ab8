package main

import (
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/san-kum/fieldreplay/internal/config"
	"github.com/san-kum/fieldreplay/internal/dataset"
	"github.com/san-kum/fieldreplay/internal/session"
	"github.com/san-kum/fieldreplay/internal/ui"
)

// loadConfig reads the config file, creating it with defaults when missing.
// A malformed file is reported and replaced by defaults for this run.
func loadConfig() (*config.Config, error) {
	cfg, created, err := config.LoadOrCreate(configPath)
	switch {
	case errors.Is(err, config.ErrMalformed):
		logger.Warn("config file is malformed, using defaults", "path", configPath, "err", err)
	case err != nil:
		return nil, fmt.Errorf("failed to load config: %w", err)
	case created:
		fmt.Printf("wrote default config to %s\n", configPath)
	}
	return cfg, nil
}

// loadDataset prefers an explicit path over the config's csv_input.
func loadDataset(cfg *config.Config, args []string) (*dataset.Dataset, error) {
	if len(args) > 0 {
		return dataset.Load(args[0])
	}
	if cfg.CSVInput == "" || cfg.CSVInput == config.DefaultInput {
		return nil, fmt.Errorf("no dataset: pass a path or set csv_input in %s", configPath)
	}
	return dataset.Load(cfg.DataPath())
}

func seconds(s float64) time.Duration {
	return time.Duration(s * float64(time.Second))
}

func runReplay(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	if preset != "" {
		p := config.ApplyPreset(cfg, preset)
		if p == nil {
			return fmt.Errorf("unknown preset: %s (available: %v)", preset, config.ListPresets())
		}
		cfg = p
	}

	// CLI flags override config
	if cmd.Flags().Changed("driver") {
		cfg.Driver = driver
	}
	if cmd.Flags().Changed("device") {
		cfg.DeviceName = device
	}
	if cmd.Flags().Changed("port") {
		cfg.SerialPort = port
	}
	if cmd.Flags().Changed("interval") {
		cfg.Interval = interval
	}
	if cmd.Flags().Changed("limit") {
		cfg.VoltageLimit = limit
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	data, err := loadDataset(cfg, args)
	if err != nil {
		return err
	}

	s, err := session.New(session.Options{
		Config:      cfg,
		ConfigPath:  configPath,
		Dataset:     data,
		StartIndex:  startIndex,
		NoConsole:   noConsole,
		PollSlice:   seconds(poll),
		JoinTimeout: seconds(joinTimeout),
		Logger:      logger,
	})
	if err != nil {
		return err
	}

	sum, err := s.Run(cmd.Context())
	if err != nil {
		return err
	}

	if res := sum.Result; res != nil {
		fmt.Printf("%s: %d rows emitted, %d write failures, %s elapsed\n",
			res.Reason, res.Emitted, res.Failures, ui.Elapsed(res.Elapsed))
	}
	fmt.Printf("%d records in %s\n", sum.Written, sum.LogPath)
	return nil
}
