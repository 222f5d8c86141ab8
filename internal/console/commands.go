package console

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"text/tabwriter"
	"time"

	"github.com/san-kum/fieldreplay/internal/ui"
)

func table() []Command {
	return []Command{
		{Name: "set voltage limit", Usage: "set voltage limit <volts>", Help: "change the output clamp", Run: setVoltageLimit},
		{Name: "set interval", Usage: "set interval <seconds>", Help: "change the output rate", Run: setInterval},
		{Name: "save config", Usage: "save config", Help: "write the current settings to the config file", Run: saveConfig},
		{Name: "pause", Usage: "pause", Help: "hold the current output", Run: pause},
		{Name: "resume", Usage: "resume", Help: "continue output", Run: resume},
		{Name: "jump", Usage: "jump <row>", Help: "continue from the given dataset row", Run: jump},
		{Name: "status", Usage: "status", Help: "show replay state", Run: status},
		{Name: "flush", Usage: "flush", Help: "write buffered log records now", Run: flush},
		{Name: "stop", Usage: "stop", Help: "zero the outputs and exit", Run: stop},
		{Name: "help", Usage: "help", Help: "list commands", Run: help},
	}
}

func usage(name string, reason string) error {
	for _, c := range table() {
		if c.Name == name {
			return &UsageError{Command: name, Usage: c.Usage, Reason: reason}
		}
	}
	return &UsageError{Command: name, Usage: name, Reason: reason}
}

func positive(name string, args []string) (float64, error) {
	if len(args) != 1 {
		return 0, usage(name, "expected one value")
	}
	v, err := strconv.ParseFloat(args[0], 64)
	if err != nil || math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, usage(name, fmt.Sprintf("%q is not a number", args[0]))
	}
	if v <= 0 {
		return 0, usage(name, "value must be greater than zero")
	}
	return v, nil
}

func pause(d *Dispatcher, _ []string) (bool, error) {
	d.state.SetPaused(true)
	d.printf("%s at row %d", ui.Warn.Render("paused"), d.state.CurrentIndex())
	return true, nil
}

func resume(d *Dispatcher, _ []string) (bool, error) {
	d.state.SetPaused(false)
	d.printf("%s", ui.Ok.Render("resumed"))
	return true, nil
}

func setInterval(d *Dispatcher, args []string) (bool, error) {
	secs, err := positive("set interval", args)
	if err != nil {
		return true, err
	}
	if err := d.state.SetInterval(time.Duration(secs * float64(time.Second))); err != nil {
		return true, err
	}
	d.printf("interval set to %gs", secs)
	return true, nil
}

func setVoltageLimit(d *Dispatcher, args []string) (bool, error) {
	volts, err := positive("set voltage limit", args)
	if err != nil {
		return true, err
	}
	if err := d.state.SetVoltageLimit(volts); err != nil {
		return true, err
	}
	d.printf("voltage limit set to ±%gV", volts)
	return true, nil
}

func jump(d *Dispatcher, args []string) (bool, error) {
	if len(args) != 1 {
		return true, usage("jump", "expected a row number")
	}
	row, err := strconv.Atoi(args[0])
	if err != nil {
		return true, usage("jump", fmt.Sprintf("%q is not a row number", args[0]))
	}
	if row < 0 || row >= d.rows {
		return true, usage("jump", fmt.Sprintf("row %d out of range [0, %d)", row, d.rows))
	}
	if err := d.state.RequestJump(row); err != nil {
		return true, err
	}
	d.printf("jumping to row %d", row)
	return true, nil
}

func status(d *Dispatcher, _ []string) (bool, error) {
	if d.opts.Status != nil {
		d.printf("%s", d.opts.Status())
		return true, nil
	}
	view := ui.StatusView{State: d.state.Snapshot(), Rows: d.rows}
	d.printf("%s", view.Render())
	return true, nil
}

func saveConfig(d *Dispatcher, _ []string) (bool, error) {
	if d.opts.Save == nil {
		return true, errors.New("no config file attached")
	}
	if err := d.opts.Save(); err != nil {
		return true, fmt.Errorf("save config: %w", err)
	}
	d.printf("%s", ui.Ok.Render("config saved"))
	return true, nil
}

func flush(d *Dispatcher, _ []string) (bool, error) {
	if d.opts.Flush == nil {
		return true, errors.New("no log sink attached")
	}
	n, err := d.opts.Flush()
	if err != nil {
		return true, fmt.Errorf("flush: %w", err)
	}
	d.printf("flushed %d records", n)
	return true, nil
}

func stop(d *Dispatcher, _ []string) (bool, error) {
	d.state.RequestStop()
	d.printf("%s", ui.Warn.Render("stopping"))
	return false, nil
}

func help(d *Dispatcher, _ []string) (bool, error) {
	w := tabwriter.NewWriter(d.out, 0, 0, 2, ' ', 0)
	for _, c := range d.commands {
		fmt.Fprintf(w, "  %s\t%s\n", c.Usage, ui.Subtle.Render(c.Help))
	}
	return true, w.Flush()
}
