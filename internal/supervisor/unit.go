// Copyright (c) matt-FFFFFF 2025. All rights reserved.
// SPDX-License-Identifier: MIT

package supervisor

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/matt-FFFFFF/caserun/internal/caserunner"
	"github.com/matt-FFFFFF/caserun/internal/control"
	"github.com/matt-FFFFFF/caserun/internal/ctxlog"
	"github.com/matt-FFFFFF/caserun/internal/dispatch"
	"github.com/matt-FFFFFF/caserun/internal/job"
	"github.com/matt-FFFFFF/caserun/internal/monitor"
	"github.com/matt-FFFFFF/caserun/internal/progress"
)

type commandKind int

const (
	cmdStart commandKind = iota
	cmdCancel
	cmdSaveAndStop
	cmdForceStop
	cmdUpdate
)

func (k commandKind) String() string {
	switch k {
	case cmdStart:
		return "start"
	case cmdCancel:
		return "cancel"
	case cmdSaveAndStop:
		return "save-and-stop"
	case cmdForceStop:
		return "force-stop"
	case cmdUpdate:
		return "update"
	default:
		return "unknown"
	}
}

type command struct {
	kind  commandKind
	patch job.Patch
	reply chan error
}

type clockTick struct {
	solverTime float64
	iteration  int
}

// unit serves one job. Fields after the loop-owned marker are only touched by
// the loop goroutine.
type unit struct {
	id   job.ID
	sup  *Supervisor
	cmds chan command
	done chan struct{}

	snapshot atomic.Pointer[job.State]
	outcome  job.Outcome // written before done is closed

	steps chan job.Step
	ticks chan clockTick

	// loop-owned
	state   job.State
	spec    job.Spec
	plan    dispatch.LaunchPlan
	runner  *caserunner.Runner
	runDone chan job.Outcome
	agg     *monitor.Aggregator
}

func newUnit(s *Supervisor, spec job.Spec, plan dispatch.LaunchPlan) *unit {
	u := &unit{
		id:    job.NewID(),
		sup:   s,
		cmds:  make(chan command),
		done:  make(chan struct{}),
		steps: make(chan job.Step, len(job.Pipeline(true))),
		ticks: make(chan clockTick, 1),
		spec:  spec,
		plan:  plan,
	}

	u.state = job.State{
		ID:          u.id,
		Name:        spec.Name,
		CaseDir:     spec.CaseDir,
		Status:      job.StatusWaiting,
		SubmittedAt: s.opts.Clock(),
		Processes:   plan.Processes,
		Hosts:       plan.Hosts.Names(),
	}
	u.publish(false)

	return u
}

// call sends a request to the loop. Once the loop has ended the request is
// answered from the terminal snapshot.
func (u *unit) call(kind commandKind, patch job.Patch) error {
	reply := make(chan error, 1)

	select {
	case u.cmds <- command{kind: kind, patch: patch, reply: reply}:
		return <-reply
	case <-u.done:
		return rejectTerminal(kind, u.snapshot.Load().Status)
	}
}

func rejectTerminal(kind commandKind, s job.Status) error {
	if kind == cmdUpdate {
		return fmt.Errorf("%w: job is %s", ErrUpdateRejected, s)
	}

	return fmt.Errorf("%w: cannot %s a %s job", ErrInvalidTransition, kind, s)
}

func (u *unit) loop(ctx context.Context) {
	defer u.sup.wg.Done()
	defer close(u.done)

	ctx = ctxlog.WithJob(ctx, u.id.Short(), u.spec.Name)
	ctxlog.Debug(ctx, "job submitted", "caseDir", u.spec.CaseDir, "processes", u.plan.Processes)

	// Cleared once a runner exists, which reacts to the context itself.
	var shutdown <-chan struct{} = ctx.Done()

	for {
		select {
		case c := <-u.cmds:
			err := u.handle(ctx, c)
			c.reply <- err

			if u.state.Status.IsTerminal() {
				return
			}

		case step := <-u.steps:
			u.state.Step = step
			u.publish(true)

		case t := <-u.ticks:
			u.state.SolverTime = t.solverTime
			u.state.Iteration = t.iteration
			u.publish(false)

		case o := <-u.runDone:
			u.drainUpdates()
			u.finish(ctx, o)

			return

		case <-shutdown:
			if u.runner != nil {
				// The runner watches the same context and ends on its own.
				shutdown = nil
				continue
			}

			u.finish(ctx, job.Outcome{Status: job.StatusCanceled, Err: errors.Join(caserunner.ErrCanceled, ctx.Err())})

			return
		}
	}
}

func (u *unit) handle(ctx context.Context, c command) error {
	cur := u.state.Status

	if cur.IsTerminal() {
		return rejectTerminal(c.kind, cur)
	}

	switch c.kind {
	case cmdStart:
		if cur != job.StatusWaiting {
			return rejectTerminal(c.kind, cur)
		}

		u.start(ctx)

		return nil

	case cmdCancel, cmdSaveAndStop:
		mode, next := control.StopDiscard, job.StatusCanceling
		if c.kind == cmdSaveAndStop {
			mode, next = control.StopSave, job.StatusStopping
		}

		switch cur {
		case job.StatusWaiting:
			u.finish(ctx, job.Outcome{Status: job.StatusCanceled, Err: caserunner.ErrCanceled})
			return nil
		case next:
			return nil
		case job.StatusRunning:
			u.transition(next)
			return u.runner.Halt(ctx, mode) //nolint:wrapcheck
		default:
			return rejectTerminal(c.kind, cur)
		}

	case cmdForceStop:
		switch cur {
		case job.StatusWaiting:
			u.finish(ctx, job.Outcome{Status: job.StatusCanceled, Err: caserunner.ErrCanceled})
			return nil
		case job.StatusRunning:
			u.transition(job.StatusCanceling)
		}

		if u.state.ForceStopped {
			return nil
		}

		u.state.ForceStopped = true
		u.publish(false)

		return u.runner.Kill(ctx) //nolint:wrapcheck

	case cmdUpdate:
		switch cur {
		case job.StatusWaiting:
			spec, err := u.spec.WithPatch(c.patch)
			if err != nil {
				return errors.Join(ErrUpdateRejected, err)
			}

			u.spec = spec
			ctxlog.Info(ctx, "pending configuration updated", "patch", c.patch.String())

			return nil
		case job.StatusRunning:
			if err := u.runner.Apply(ctx, c.patch); err != nil {
				return errors.Join(ErrUpdateRejected, err)
			}

			ctxlog.Info(ctx, "configuration applied on the fly", "patch", c.patch.String())

			return nil
		default:
			return fmt.Errorf("%w: job is %s", ErrUpdateRejected, cur)
		}
	}

	return fmt.Errorf("%w: unknown request", ErrInvalidTransition)
}

func (u *unit) start(ctx context.Context) {
	opts := u.sup.opts

	u.runner = caserunner.New(u.spec, u.plan, caserunner.Options{
		Generator:  opts.Generator,
		Dispatcher: opts.Dispatcher,
		Control:    u.sup.controlFor(u.spec),
		LogFiles:   opts.LogFiles,
		Metrics:    opts.Metrics,
		OnStep: func(step job.Step) {
			u.steps <- step
		},
	})

	u.agg = monitor.New(monitor.Options{
		ObserverBuffer: opts.ObserverBuffer,
		Clock:          opts.Clock,
		Metrics:        opts.Metrics,
	})
	u.agg.Subscribe(&jobObserver{u: u})

	u.state.StartedAt = opts.Clock()
	u.transition(job.StatusRunning)
	opts.Metrics.RecordStarted()

	ctxlog.Info(ctx, "job started", "steps", fmt.Sprint(u.runner.Steps()))

	u.runDone = make(chan job.Outcome, 1)

	go func() {
		att := u.agg.Attach(ctx, u.runner)
		o := u.runner.Run(ctx)

		<-att.Done()
		u.agg.Close()

		u.runDone <- o
	}()
}

// drainUpdates applies step and clock updates that raced with the end of the run.
func (u *unit) drainUpdates() {
	for {
		select {
		case step := <-u.steps:
			u.state.Step = step
		case t := <-u.ticks:
			u.state.SolverTime = t.solverTime
			u.state.Iteration = t.iteration
		default:
			return
		}
	}
}

func (u *unit) finish(ctx context.Context, o job.Outcome) {
	cur := u.state.Status
	wasRunning := cur != job.StatusWaiting

	if cur == job.StatusCanceling && o.Status != job.StatusCanceled {
		// A canceling job never completes.
		o.Status = job.StatusCanceled
	}

	if !cur.CanTransition(o.Status) && cur == job.StatusRunning {
		// The context ended the run: record the pending state first.
		u.transition(job.StatusCanceling)
	}

	u.state.EndedAt = u.sup.opts.Clock()
	u.state.ExitCode = o.ExitCode
	u.state.FailedStep = o.FailedStep
	u.state.ForceStopped = u.state.ForceStopped || o.Killed

	if o.Status == job.StatusFailed && o.Err != nil {
		u.state.LastError = o.Err.Error()
	}

	u.outcome = o
	u.transition(o.Status)
	u.sup.opts.Metrics.RecordFinished(o.Status.String(), wasRunning)
	u.sup.broadcast(progress.CompletedEvent(u.id, o))

	attrs := []any{"status", o.Status.String(), "elapsed", u.state.Elapsed(u.state.EndedAt).Round(time.Millisecond)}
	if o.Status == job.StatusFailed {
		ctxlog.Error(ctx, "job failed", append(attrs, "step", o.FailedStep.String(), "exitCode", o.ExitCode, "error", o.Err)...)
		return
	}

	ctxlog.Info(ctx, "job finished", attrs...)
}

func (u *unit) transition(next job.Status) {
	u.state.Status = next
	u.publish(true)
}

// publish stores a snapshot and, when notify is set, tells the observers.
func (u *unit) publish(notify bool) {
	snap := u.state.Clone()
	u.snapshot.Store(&snap)

	if notify {
		u.sup.broadcast(progress.StatusEvent(snap))
	}
}

// jobObserver forwards monitor output of one job.
type jobObserver struct {
	u *unit
}

var (
	_ monitor.Observer     = (*jobObserver)(nil)
	_ monitor.TimeObserver = (*jobObserver)(nil)
)

func (o *jobObserver) OnSample(s monitor.Sample) {
	o.u.sup.broadcast(progress.SampleEvent(o.u.id, s))
}

// OnTime keeps only the newest clock reading for the loop.
func (o *jobObserver) OnTime(t float64, iteration int) {
	tick := clockTick{solverTime: t, iteration: iteration}

	for {
		select {
		case o.u.ticks <- tick:
			return
		default:
		}

		select {
		case <-o.u.ticks:
		default:
		}
	}
}
