package main

import (
	"fmt"
	"math"
	"os"
	"text/tabwriter"
	"time"

	"github.com/guptarohit/asciigraph"
	"github.com/spf13/cobra"

	"github.com/san-kum/fieldreplay/internal/config"
	"github.com/san-kum/fieldreplay/internal/dataset"
	"github.com/san-kum/fieldreplay/internal/ui"
)

var axisNames = [3]string{"Bx", "By", "Bz"}

func inspectDataset(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	data, err := loadDataset(cfg, args)
	if err != nil {
		return err
	}

	sum := data.Summary()
	fmt.Println(ui.Title.Render(data.Source()))
	fmt.Printf("rows: %d\n", sum.Rows)
	fmt.Printf("span: %s .. %s\n", sum.First, sum.Last)
	fmt.Printf("at %gs per row: %s\n\n", cfg.Interval, ui.Elapsed(cfg.IntervalDuration()*time.Duration(sum.Rows)))

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "AXIS\tMIN (nT)\tMAX (nT)\tMEAN (nT)\tSTDDEV\tVOLTS\tCLIPPED")
	for axis, a := range sum.Axes {
		lo, hi := volts(cfg, axis, a.Min), volts(cfg, axis, a.Max)
		fmt.Fprintf(w, "%s\t%.1f\t%.1f\t%.1f\t%.1f\t%.3f..%.3f\t%d\n",
			axisNames[axis], a.Min, a.Max, a.Mean, a.StdDev, lo, hi, clipped(cfg, data, axis))
	}
	if err := w.Flush(); err != nil {
		return err
	}
	fmt.Println()

	for axis := 0; axis < 3; axis++ {
		graph := asciigraph.Plot(data.Column(axis),
			asciigraph.Height(10),
			asciigraph.Width(80),
			asciigraph.Caption(axisNames[axis]+" (nT)"),
		)
		fmt.Println(graph)
		fmt.Println()
	}
	return nil
}

func volts(cfg *config.Config, axis int, nt float64) float64 {
	return nt * cfg.NTToVolt * cfg.AxisGain[axis]
}

// clipped counts rows whose commanded voltage on axis exceeds the limit.
func clipped(cfg *config.Config, data *dataset.Dataset, axis int) int {
	n := 0
	for _, nt := range data.Column(axis) {
		if math.Abs(volts(cfg, axis, nt)) > cfg.VoltageLimit {
			n++
		}
	}
	return n
}
