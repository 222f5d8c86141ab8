package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"
)

var (
	configPath string
	logLevel   string

	driver      string
	device      string
	port        string
	interval    float64
	limit       float64
	startIndex  int
	noConsole   bool
	preset      string
	poll        float64
	joinTimeout float64

	tail int

	logger *slog.Logger
)

// main registers the commands and exits with status 1 when one fails.
func main() {
	rootCmd := &cobra.Command{
		Use:           "fieldreplay",
		Short:         "replay recorded magnetic field data through analog outputs",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			var err error
			logger, err = newLogger(logLevel)
			if err != nil {
				return err
			}
			slog.SetDefault(logger)
			return nil
		},
	}

	rootCmd.PersistentFlags().StringVar(&configPath, "config", "config.json", "config file (.json or .yaml)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "info", "diagnostic log level (debug, info, warn, error)")

	runCmd := &cobra.Command{
		Use:   "run [dataset]",
		Short: "stream a dataset to the device with an operator console",
		Args:  cobra.MaximumNArgs(1),
		RunE:  runReplay,
	}
	runCmd.Flags().StringVar(&driver, "driver", "sim", "device driver (sim, serial)")
	runCmd.Flags().StringVar(&device, "device", "Dev1", "device name used for channel names")
	runCmd.Flags().StringVar(&port, "port", "", "serial port of the DAQ bridge")
	runCmd.Flags().Float64Var(&interval, "interval", 60, "seconds between samples")
	runCmd.Flags().Float64Var(&limit, "limit", 10, "output clamp in volts")
	runCmd.Flags().IntVar(&startIndex, "start", 0, "first dataset row")
	runCmd.Flags().BoolVar(&noConsole, "no-console", false, "run without reading commands from stdin")
	runCmd.Flags().StringVar(&preset, "preset", "", "apply a named preset before flags")
	runCmd.Flags().Float64Var(&poll, "poll", 0.1, "seconds between state checks while waiting (max 0.1)")
	runCmd.Flags().Float64Var(&joinTimeout, "join-timeout", 3, "seconds to wait for the output loop on shutdown")

	inspectCmd := &cobra.Command{
		Use:   "inspect [dataset]",
		Short: "summarize a dataset and preview the commanded voltages",
		Args:  cobra.MaximumNArgs(1),
		RunE:  inspectDataset,
	}

	reportCmd := &cobra.Command{
		Use:   "report [log]",
		Short: "summarize an output log",
		Args:  cobra.MaximumNArgs(1),
		RunE:  reportLog,
	}
	reportCmd.Flags().IntVar(&tail, "tail", 10, "number of trailing records to list")

	configCmd := &cobra.Command{
		Use:   "config",
		Short: "manage the config file",
	}
	configCmd.AddCommand(
		&cobra.Command{
			Use:   "init",
			Short: "write a default config file",
			RunE:  initConfig,
		},
		&cobra.Command{
			Use:   "show",
			Short: "print the effective config",
			RunE:  showConfig,
		},
	)

	presetsCmd := &cobra.Command{
		Use:   "presets",
		Short: "list available presets",
		RunE:  listPresets,
	}

	rootCmd.AddCommand(runCmd, inspectCmd, reportCmd, configCmd, presetsCmd)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func newLogger(level string) (*slog.Logger, error) {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		return nil, fmt.Errorf("invalid log level %q", level)
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl})), nil
}
