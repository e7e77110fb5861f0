// Copyright (c) matt-FFFFFF 2025. All rights reserved.
// SPDX-License-Identifier: MIT

package session

import (
	"context"
	"errors"
	"fmt"

	"github.com/matt-FFFFFF/caserun/internal/console"
	"github.com/matt-FFFFFF/caserun/internal/ctxlog"
	"github.com/matt-FFFFFF/caserun/internal/job"
	"github.com/matt-FFFFFF/caserun/internal/supervisor"
	"github.com/matt-FFFFFF/caserun/internal/tui"
)

// Mode selects how progress is shown.
type Mode int

const (
	// ModeLog logs progress.
	ModeLog Mode = iota
	// ModeTUI shows the terminal dashboard.
	ModeTUI
	// ModeConsole logs progress and reads commands from an interactive prompt.
	ModeConsole
)

// ErrConsoleNeedsJob is returned when the console is opened without a job.
var ErrConsoleNeedsJob = errors.New("the console controls a single job")

// View shows the progress of the session's jobs.
type View struct {
	s      *Session
	dash   *tui.Runner
	subs   []supervisor.SubscriptionID
	closed bool
}

// Open subscribes a view in the session's mode. Call it before submitting
// jobs so no status change is missed.
func (s *Session) Open() *View {
	v := &View{s: s}

	switch s.opts.Mode {
	case ModeTUI:
		v.dash = tui.NewRunner(s.Supervisor)
		v.subs = append(v.subs, s.Supervisor.Subscribe(v.dash.Observer()))
	default:
		v.subs = append(v.subs, s.Supervisor.Subscribe(LogObserver(s.ctx)))
	}

	return v
}

// Show blocks until done is closed or ctx is done. In console mode id is the
// job the prompt controls. If the dashboard is closed while jobs are still
// running, their progress is logged instead.
func (v *View) Show(ctx context.Context, id job.ID, done <-chan struct{}) error {
	switch v.s.opts.Mode {
	case ModeTUI:
		err := v.dash.Run(ctx, done)

		v.s.release()
		v.subs = append(v.subs, v.s.Supervisor.Subscribe(LogObserver(v.s.ctx)))

		if err != nil {
			ctxlog.Error(v.s.ctx, "dashboard failed", "error", err)
		}

	case ModeConsole:
		if id == "" {
			return ErrConsoleNeedsJob
		}

		v.console(ctx, id, done)
	}

	select {
	case <-done:
	case <-ctx.Done():
		return ctx.Err() //nolint:wrapcheck
	}

	return nil
}

func (v *View) console(ctx context.Context, id job.ID, done <-chan struct{}) {
	c := console.New(v.s.Supervisor, id, v.s.opts.Out)
	c.Interrupt = v.s.Interrupt

	cctx, cancel := context.WithCancel(ctx)
	defer cancel()

	errCh := make(chan error, 1)

	go func() { errCh <- c.Run(cctx) }()

	select {
	case err := <-errCh:
		if err != nil {
			ctxlog.Error(v.s.ctx, "console failed", "error", err)
		}
	case <-done:
		c.Close()                  //nolint:errcheck
		fmt.Fprintln(v.s.opts.Out) //nolint:errcheck
	case <-ctx.Done():
		c.Close() //nolint:errcheck
	}
}

// Close removes the view's subscriptions after their queued events were
// delivered.
func (v *View) Close() {
	if v.closed {
		return
	}

	v.closed = true

	for _, id := range v.subs {
		v.s.Supervisor.Unsubscribe(id)
	}
}
