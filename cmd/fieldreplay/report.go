package main

import (
	"fmt"
	"os"
	"sort"
	"strconv"
	"text/tabwriter"

	"github.com/guptarohit/asciigraph"
	"github.com/spf13/cobra"

	"github.com/san-kum/fieldreplay/internal/logsink"
	"github.com/san-kum/fieldreplay/internal/ui"
)

// column positions in logsink.Header
const (
	colIndex   = 0
	colLocal   = 2
	colVX      = 6
	colSuccess = 9
)

func sortedKeys(m map[string]float64) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func reportLog(cmd *cobra.Command, args []string) error {
	path := ""
	if len(args) > 0 {
		path = args[0]
	} else {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		path = cfg.CSVLog
	}

	rows, err := logsink.ReadAll(path)
	if err != nil {
		return err
	}
	if len(rows) == 0 {
		fmt.Println("log is empty")
		return nil
	}

	failures := 0
	series := [3][]float64{}
	for _, row := range rows {
		if row[colSuccess] != "true" {
			failures++
		}
		for axis := 0; axis < 3; axis++ {
			v, err := strconv.ParseFloat(row[colVX+axis], 64)
			if err != nil {
				return fmt.Errorf("%s: record %s: %w", path, row[colIndex], err)
			}
			series[axis] = append(series[axis], v)
		}
	}

	fmt.Println(ui.Title.Render(path))
	fmt.Printf("records: %d\n", len(rows))
	fmt.Printf("write failures: %d\n", failures)
	if run, err := logsink.LoadSummary(logsink.SummaryPath(path)); err == nil {
		fmt.Printf("last run: %s after %d rows of %s (%.0fs)\n", run.Reason, run.Emitted, run.Dataset, run.ElapsedSec)
		for _, name := range sortedKeys(run.Metrics) {
			fmt.Printf("  %s: %.4f\n", name, run.Metrics[name])
		}
	}
	fmt.Println()

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ROW\tLOCAL TIME\tVX\tVY\tVZ\tOK")
	for _, row := range rows[max(len(rows)-tail, 0):] {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\n",
			row[colIndex], row[colLocal], row[colVX], row[colVX+1], row[colVX+2], row[colSuccess])
	}
	if err := w.Flush(); err != nil {
		return err
	}
	fmt.Println()

	for axis, name := range []string{"vx", "vy", "vz"} {
		graph := asciigraph.Plot(series[axis],
			asciigraph.Height(8),
			asciigraph.Width(80),
			asciigraph.Caption(name+" (V)"),
		)
		fmt.Println(graph)
		fmt.Println()
	}
	return nil
}
