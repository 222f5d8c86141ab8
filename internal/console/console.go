// Package console implements the operator command line that runs next to
// the replay loop. Handlers only touch the shared control state, the config
// saver and the log flusher; the device belongs to the loop.
package console

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/san-kum/fieldreplay/internal/state"
	"github.com/san-kum/fieldreplay/internal/ui"
)

const DefaultPrompt = ">> "

var ErrUnknownCommand = errors.New("unknown command")

// UsageError reports a command whose arguments did not validate.
type UsageError struct {
	Command string
	Usage   string
	Reason  string
}

func (e *UsageError) Error() string {
	return fmt.Sprintf("%s: %s (usage: %s)", e.Command, e.Reason, e.Usage)
}

type (
	SaveFunc   func() error
	FlushFunc  func() (int, error)
	StatusFunc func() string
)

// Command is one entry of the command table. Name may span several words.
// Run reports whether the dispatcher should keep reading.
type Command struct {
	Name  string
	Usage string
	Help  string
	Run   func(d *Dispatcher, args []string) (bool, error)

	words []string
}

type Options struct {
	Save   SaveFunc
	Flush  FlushFunc
	Status StatusFunc
	Prompt string
}

type Dispatcher struct {
	state *state.Control
	rows  int
	out   io.Writer
	opts  Options

	commands []Command
}

func New(st *state.Control, rows int, out io.Writer, opts Options) *Dispatcher {
	if opts.Prompt == "" {
		opts.Prompt = DefaultPrompt
	}
	d := &Dispatcher{state: st, rows: rows, out: out, opts: opts}
	d.commands = table()
	for i := range d.commands {
		d.commands[i].words = strings.Fields(d.commands[i].Name)
	}
	return d
}

func (d *Dispatcher) Commands() []Command {
	return append([]Command(nil), d.commands...)
}

// lookup tries every multi-word command as a prefix, in table order, before
// matching the first token exactly.
func (d *Dispatcher) lookup(fields []string) (*Command, []string) {
	for i := range d.commands {
		c := &d.commands[i]
		if len(c.words) < 2 || len(fields) < len(c.words) {
			continue
		}
		if wordsEqual(fields[:len(c.words)], c.words) {
			return c, fields[len(c.words):]
		}
	}
	for i := range d.commands {
		c := &d.commands[i]
		if len(c.words) == 1 && strings.EqualFold(fields[0], c.words[0]) {
			return c, fields[1:]
		}
	}
	return nil, nil
}

func wordsEqual(a, b []string) bool {
	for i := range b {
		if !strings.EqualFold(a[i], b[i]) {
			return false
		}
	}
	return true
}

// Dispatch runs one input line. Blank lines are ignored.
func (d *Dispatcher) Dispatch(line string) (bool, error) {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return true, nil
	}
	cmd, args := d.lookup(fields)
	if cmd == nil {
		return true, fmt.Errorf("%w %q, type 'help' for a list", ErrUnknownCommand, fields[0])
	}
	return cmd.Run(d, args)
}

// Execute dispatches line and echoes any error to the operator.
func (d *Dispatcher) Execute(line string) bool {
	cont, err := d.Dispatch(line)
	if err != nil {
		fmt.Fprintln(d.out, ui.Fail.Render("error: ")+err.Error())
	}
	return cont
}

// Run reads commands from in until stop, EOF, ctx cancellation or the loop
// stopping on its own. The reader runs in its own goroutine so that a
// blocked read does not hold up shutdown.
func (d *Dispatcher) Run(ctx context.Context, in io.Reader) error {
	lines := make(chan string)
	errc := make(chan error, 1)
	quit := make(chan struct{})
	defer close(quit)

	go func() {
		sc := bufio.NewScanner(in)
		for sc.Scan() {
			select {
			case lines <- sc.Text():
			case <-quit:
				return
			}
		}
		errc <- sc.Err()
		close(lines)
	}()

	for {
		fmt.Fprint(d.out, d.opts.Prompt)
		select {
		case <-ctx.Done():
			return nil
		case <-d.state.Done():
			return nil
		case line, ok := <-lines:
			if !ok {
				fmt.Fprintln(d.out)
				return <-errc
			}
			if !d.Execute(line) {
				return nil
			}
		}
	}
}

func (d *Dispatcher) printf(format string, args ...any) {
	fmt.Fprintf(d.out, format+"\n", args...)
}
