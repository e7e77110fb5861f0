// Copyright (c) matt-FFFFFF 2025. All rights reserved.
// SPDX-License-Identifier: MIT

// Package console is an interactive prompt for controlling a running job.
// It understands:
//
//	status              print the job state
//	cancel              cancel, discarding unsaved results
//	stop                save the current solution, then stop
//	kill                terminate the active process
//	update key=value... change run-time configuration
//	help                list the commands
//	quit                leave the console; the job keeps running
package console

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/matt-FFFFFF/caserun/internal/ctxlog"
	"github.com/matt-FFFFFF/caserun/internal/job"
	"github.com/peterh/liner"
)

const prompt = "caserun> "

// ErrUnknownCommand is returned for an input line that is not a command.
var ErrUnknownCommand = errors.New("unknown command")

// Controller is the part of the job supervisor the console drives.
type Controller interface {
	Status(id job.ID) (job.State, error)
	Cancel(id job.ID) error
	SaveAndStop(id job.ID) error
	ForceStop(id job.ID) error
	UpdateConfiguration(id job.ID, patch job.Patch) error
}

// Prompter reads a line of input. *liner.State implements it.
type Prompter interface {
	Prompt(prompt string) (string, error)
	AppendHistory(item string)
	Close() error
}

var _ Prompter = (*liner.State)(nil)

// Console drives one job from a prompt.
type Console struct {
	ctrl  Controller
	id    job.ID
	in    Prompter
	out   io.Writer
	clock func() time.Time
	once  sync.Once
	// Interrupt is called when the user presses Ctrl-C at the prompt, which
	// the terminal does not turn into a signal while the prompt is active.
	Interrupt func()
}

// New creates a console reading from a liner prompt.
func New(ctrl Controller, id job.ID, out io.Writer) *Console {
	l := liner.NewLiner()
	l.SetCtrlCAborts(true)
	l.SetCompleter(complete)

	return NewWithPrompter(ctrl, id, l, out)
}

// NewWithPrompter creates a console reading from in.
func NewWithPrompter(ctrl Controller, id job.ID, in Prompter, out io.Writer) *Console {
	return &Console{
		ctrl:  ctrl,
		id:    id,
		in:    in,
		out:   out,
		clock: time.Now,
	}
}

// Run reads commands until quit, end of input or ctx is done. The prompt is
// closed on return.
func (c *Console) Run(ctx context.Context) error {
	defer c.Close() //nolint:errcheck

	for ctx.Err() == nil {
		line, err := c.in.Prompt(prompt)

		switch {
		case errors.Is(err, liner.ErrPromptAborted):
			if c.Interrupt != nil {
				c.Interrupt()
			}

			continue
		case errors.Is(err, io.EOF):
			return nil
		case err != nil:
			return err
		}

		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}

		c.in.AppendHistory(line)

		quit, err := c.Execute(line)
		if err != nil {
			ctxlog.Debug(ctx, "console command failed", "line", line, "error", err)
			fmt.Fprintf(c.out, "error: %s\n", err) //nolint:errcheck
		}

		if quit {
			return nil
		}
	}

	return nil
}

// Close restores the terminal. It may be called from another goroutine to
// end the console when the job has finished.
func (c *Console) Close() error {
	var err error

	c.once.Do(func() { err = c.in.Close() })

	return err
}

// Execute runs one command line and reports whether the console should exit.
func (c *Console) Execute(line string) (bool, error) {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return false, nil
	}

	switch fields[0] {
	case "quit", "exit":
		return true, nil
	case "help":
		fmt.Fprintln(c.out, "commands: status, cancel, stop, kill, update key=value..., help, quit") //nolint:errcheck
		return false, nil
	case "status":
		return false, c.printStatus()
	case "cancel":
		return false, c.act("cancel", c.ctrl.Cancel)
	case "stop":
		return false, c.act("save and stop", c.ctrl.SaveAndStop)
	case "kill":
		return false, c.act("kill", c.ctrl.ForceStop)
	case "update":
		if len(fields) < 2 { //nolint:mnd
			return false, fmt.Errorf("%w: update needs at least one key=value", job.ErrInvalidPatch)
		}

		p, err := job.ParsePatch(fields[1:]...)
		if err != nil {
			return false, err
		}

		return false, c.act("update", func(id job.ID) error { return c.ctrl.UpdateConfiguration(id, p) })
	default:
		return false, fmt.Errorf("%w: %q, type help for a list", ErrUnknownCommand, fields[0])
	}
}

func (c *Console) act(verb string, fn func(job.ID) error) error {
	if err := fn(c.id); err != nil {
		return err
	}

	fmt.Fprintf(c.out, "%s requested\n", verb) //nolint:errcheck

	return nil
}

func (c *Console) printStatus() error {
	st, err := c.ctrl.Status(c.id)
	if err != nil {
		return err
	}

	fmt.Fprintf(c.out, "%s %s step=%s time=%g iteration=%d elapsed=%s\n", //nolint:errcheck
		st.Name, st.Status, st.Step, st.SolverTime, st.Iteration, st.Elapsed(c.clock()).Round(time.Second))

	if st.LastError != "" {
		fmt.Fprintf(c.out, "last error: %s\n", st.LastError) //nolint:errcheck
	}

	return nil
}

var commands = []string{"status", "cancel", "stop", "kill", "update ", "help", "quit"}

func complete(line string) []string {
	var out []string

	for _, c := range commands {
		if strings.HasPrefix(c, line) {
			out = append(out, c)
		}
	}

	return out
}
