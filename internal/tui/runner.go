// Copyright (c) matt-FFFFFF 2025. All rights reserved.
// SPDX-License-Identifier: MIT

package tui

import (
	"context"
	"sync"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/matt-FFFFFF/caserun/internal/job"
	"github.com/matt-FFFFFF/caserun/internal/monitor"
	"github.com/matt-FFFFFF/caserun/internal/progress"
)

// Runner manages the TUI application and its event feed.
type Runner struct {
	model    *Model
	program  *tea.Program
	reporter *Reporter
	mutex    sync.Mutex
}

// Reporter implements progress.Observer and forwards events to the TUI.
type Reporter struct {
	program *tea.Program
	closed  bool
	mutex   sync.RWMutex
}

var _ progress.Observer = (*Reporter)(nil)

// NewReporter creates an observer that sends to program.
func NewReporter(program *tea.Program) *Reporter {
	return &Reporter{
		program: program,
	}
}

func (r *Reporter) send(msg tea.Msg) {
	r.mutex.RLock()
	defer r.mutex.RUnlock()

	if r.closed || r.program == nil {
		return
	}

	r.program.Send(msg)
}

// OnStatusChanged implements progress.Observer.
func (r *Reporter) OnStatusChanged(_ job.ID, st job.State) {
	r.send(StatusMsg{State: st})
}

// OnSample implements progress.Observer.
func (r *Reporter) OnSample(id job.ID, s monitor.Sample) {
	r.send(SampleMsg{ID: id, Sample: s})
}

// OnCompleted implements progress.Observer.
func (r *Reporter) OnCompleted(id job.ID, o job.Outcome) {
	r.send(CompletedMsg{ID: id, Outcome: o})
}

// Close stops forwarding.
func (r *Reporter) Close() {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	r.closed = true
}

// NewRunner creates a new TUI runner. Extra options are passed to the
// bubbletea program.
func NewRunner(controls Controls, opts ...tea.ProgramOption) *Runner {
	model := NewModel(controls)
	program := tea.NewProgram(model, append([]tea.ProgramOption{tea.WithAltScreen()}, opts...)...)

	return &Runner{
		model:    model,
		program:  program,
		reporter: NewReporter(program),
	}
}

// Observer returns the observer to subscribe to the supervisor.
func (r *Runner) Observer() *Reporter {
	return r.reporter
}

// Run shows the dashboard until the user quits. When done is closed the
// dashboard shows a summary and waits for the user; when ctx is canceled it
// exits immediately.
func (r *Runner) Run(ctx context.Context, done <-chan struct{}) error {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	tuiDone := make(chan error, 1)

	go func() {
		_, err := r.program.Run()
		tuiDone <- err
	}()

	defer r.reporter.Close()

	select {
	case <-done:
		r.program.Send(FinishedMsg{})
		return <-tuiDone

	case err := <-tuiDone:
		return err

	case <-ctx.Done():
		r.program.Quit()
		return <-tuiDone
	}
}
