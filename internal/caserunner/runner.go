// Copyright (c) matt-FFFFFF 2025. All rights reserved.
// SPDX-License-Identifier: MIT

package caserunner

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"path/filepath"
	"slices"
	"sync"
	"time"

	"github.com/matt-FFFFFF/caserun/internal/control"
	"github.com/matt-FFFFFF/caserun/internal/ctxlog"
	"github.com/matt-FFFFFF/caserun/internal/dispatch"
	"github.com/matt-FFFFFF/caserun/internal/job"
	"github.com/matt-FFFFFF/caserun/internal/metrics"
	"github.com/matt-FFFFFF/caserun/internal/procs"
)

var (
	// ErrAlreadyRun is returned in the Outcome when Run is called twice.
	ErrAlreadyRun = errors.New("runner already used")
	// ErrNoActiveProcess is returned when a signal is sent between steps.
	ErrNoActiveProcess = errors.New("no active process")
	// ErrCanceled is the reason recorded when the user stopped the run.
	ErrCanceled = errors.New("run canceled")
)

// CaseGenerator writes the case files before anything is launched.
type CaseGenerator interface {
	Generate(ctx context.Context, spec job.Spec) error
}

// GeneratorFunc adapts a function to CaseGenerator.
type GeneratorFunc func(ctx context.Context, spec job.Spec) error

// Generate implements CaseGenerator.
func (f GeneratorFunc) Generate(ctx context.Context, spec job.Spec) error {
	return f(ctx, spec)
}

// Options configures a Runner. Every field is optional.
type Options struct {
	// Generator replaces the generator command of the job.
	Generator CaseGenerator
	// Dispatcher builds solver command lines, defaults to dispatch.New().
	Dispatcher *dispatch.Dispatcher
	// Control receives stop requests and patches, defaults to the case controlDict.
	Control control.Channel
	// LogFiles tees process output to log files in the case directory.
	LogFiles bool
	// OnStep is called from the run goroutine when a step starts.
	OnStep func(step job.Step)
	// Metrics is optional.
	Metrics *metrics.Metrics
}

// Runner runs one case. Create it with New, start it with Run.
type Runner struct {
	spec job.Spec
	plan dispatch.LaunchPlan
	opts Options
	out  *fanout

	mu         sync.Mutex
	ran        bool
	active     *procs.Handle
	activeStep job.Step
	halt       control.StopMode
	killed     bool
	solveDone  bool
	applied    job.Patch
}

// New creates a Runner for spec using the resolved plan.
func New(spec job.Spec, plan dispatch.LaunchPlan, opts Options) *Runner {
	spec = spec.WithDefaults()

	if opts.Dispatcher == nil {
		opts.Dispatcher = dispatch.New()
	}

	if opts.Control == nil {
		opts.Control = control.NewDictFile(spec.ControlPath())
	}

	return &Runner{
		spec: spec,
		plan: plan,
		opts: opts,
		out:  newFanout(),
	}
}

// Steps returns the pipeline the runner will execute.
func (r *Runner) Steps() []job.Step {
	return job.Pipeline(r.plan.Parallel)
}

// Subscribe returns a channel receiving every output line of every step. The
// channel is closed when the run has finished and the lines were read, or
// when cancel is called. A slow subscriber loses its oldest lines.
func (r *Runner) Subscribe(buffer int) (<-chan procs.Line, func()) {
	return r.out.subscribe(buffer)
}

// ActiveStep returns the step currently running, or StepNone.
func (r *Runner) ActiveStep() job.Step {
	r.mu.Lock()
	defer r.mu.Unlock()

	return r.activeStep
}

// Halt records a stop request. StopDiscard asks the solver to stop without
// writing and interrupts the active process; StopSave asks the solver to write
// and stop, and lets the active step finish. Either way no further step is
// started, except that reconstruction still runs after a successful solve
// that was asked to save.
func (r *Runner) Halt(ctx context.Context, mode control.StopMode) error {
	r.mu.Lock()

	if mode == control.StopNone || r.halt != control.StopNone {
		r.mu.Unlock()
		return nil
	}

	r.halt = mode
	step := r.activeStep
	h := r.active
	r.mu.Unlock()

	ctxlog.Info(ctx, "stop requested", "mode", mode.String(), "activeStep", step.String())

	var err error

	if step == job.StepSolve {
		if cerr := r.opts.Control.RequestStop(ctx, mode); cerr != nil {
			err = errors.Join(err, cerr)
		}
	}

	if mode == control.StopDiscard && h != nil {
		if ierr := h.Interrupt(); ierr != nil {
			err = errors.Join(err, ierr)
		}
	}

	return err
}

// Interrupt sends an interrupt to the active process.
func (r *Runner) Interrupt() error {
	r.mu.Lock()
	h := r.active
	r.mu.Unlock()

	if h == nil {
		return ErrNoActiveProcess
	}

	return h.Interrupt() //nolint:wrapcheck
}

// Kill terminates the active process at once and prevents further steps.
// Only the first call kills; later calls are no-ops.
func (r *Runner) Kill(ctx context.Context) error {
	r.mu.Lock()

	if r.killed {
		r.mu.Unlock()
		return nil
	}

	r.killed = true
	h := r.active
	r.mu.Unlock()

	if h == nil {
		return nil
	}

	ctxlog.Warn(ctx, "killing active process", "pid", h.Pid())
	r.opts.Metrics.RecordKill()

	return h.Kill() //nolint:wrapcheck
}

// Apply forwards a configuration patch to the running solver. Applied entries
// take precedence over the job's run settings when those are written.
func (r *Runner) Apply(ctx context.Context, patch job.Patch) error {
	if err := patch.Validate(); err != nil {
		return err //nolint:wrapcheck
	}

	if err := r.opts.Control.Apply(ctx, patch); err != nil {
		return err //nolint:wrapcheck
	}

	r.mu.Lock()
	for _, e := range patch.Entries {
		r.applied.Set(e.Key, e.Value)
	}
	r.mu.Unlock()

	return nil
}

// Run executes the pipeline and returns its outcome. It may be called once.
func (r *Runner) Run(ctx context.Context) job.Outcome {
	r.mu.Lock()
	if r.ran {
		r.mu.Unlock()
		return job.Outcome{Status: job.StatusFailed, Err: ErrAlreadyRun}
	}

	r.ran = true
	r.mu.Unlock()

	defer r.out.close()

	outcome := job.Outcome{Status: job.StatusCompleted}

	for _, step := range r.Steps() {
		if stop, why := r.shouldStop(step); stop {
			ctxlog.Info(ctx, "skipping remaining steps", "step", step.String(), "reason", why)

			outcome.Status = job.StatusCanceled
			outcome.Err = ErrCanceled

			break
		}

		if err := ctx.Err(); err != nil {
			outcome.Status = job.StatusCanceled
			outcome.Err = errors.Join(ErrCanceled, err)

			break
		}

		res := r.runStep(ctxlog.WithStep(ctx, step.String()), step)
		outcome.Steps = append(outcome.Steps, res)

		if res.Err == nil {
			if step == job.StepSolve {
				r.mu.Lock()
				r.solveDone = true
				r.mu.Unlock()
			}

			continue
		}

		r.mu.Lock()
		halted := r.killed || r.halt == control.StopDiscard || ctx.Err() != nil
		killed := r.killed
		r.mu.Unlock()

		outcome.Killed = killed

		if halted {
			outcome.Status = job.StatusCanceled
			outcome.Err = ErrCanceled

			break
		}

		outcome.Status = job.StatusFailed
		outcome.FailedStep = step
		outcome.ExitCode = res.ExitCode
		outcome.Err = res.Err

		break
	}

	r.mu.Lock()
	outcome.Killed = outcome.Killed || r.killed

	// A solver asked to stop without writing usually exits cleanly.
	if outcome.Status == job.StatusCompleted && (r.killed || r.halt == control.StopDiscard) {
		outcome.Status = job.StatusCanceled
		outcome.Err = ErrCanceled
	}

	r.activeStep = job.StepNone
	r.mu.Unlock()

	return outcome
}

func (r *Runner) shouldStop(step job.Step) (bool, string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	switch {
	case r.killed:
		return true, "killed"
	case r.halt == control.StopDiscard:
		return true, "canceled"
	case r.halt == control.StopSave && !(step == job.StepReconstruct && r.solveDone):
		return true, "save and stop requested"
	default:
		return false, ""
	}
}

func (r *Runner) runStep(ctx context.Context, step job.Step) job.StepResult {
	r.mu.Lock()
	r.activeStep = step
	r.mu.Unlock()

	if r.opts.OnStep != nil {
		r.opts.OnStep(step)
	}

	start := time.Now()
	res := job.StepResult{Step: step}

	switch step {
	case job.StepGenerate:
		res = r.generate(ctx)
		if res.Err != nil {
			break
		}

		if err := r.prepare(ctx); err != nil {
			res.ExitCode = -1
			res.Err = &job.StepError{Step: step, ExitCode: -1, Err: err}
		}
	case job.StepDecompose:
		if err := control.SetSubdomains(filepath.Join(r.spec.CaseDir, control.DecomposeDict), r.plan.Processes); err != nil {
			res.ExitCode = -1
			res.Err = &job.StepError{Step: step, ExitCode: -1, Err: err}

			break
		}

		res = r.runProcess(ctx, step, r.Command(step))
	case job.StepSolve, job.StepReconstruct:
		res = r.runProcess(ctx, step, r.Command(step))
	}

	res.Step = step
	res.Duration = time.Since(start)

	r.opts.Metrics.ObserveStep(step.String(), res.Duration)

	return res
}

func (r *Runner) generate(ctx context.Context) job.StepResult {
	res := job.StepResult{Step: job.StepGenerate}

	switch {
	case r.opts.Generator != nil:
		if err := r.opts.Generator.Generate(ctx, r.spec); err != nil {
			res.ExitCode = -1
			res.Err = &job.StepError{Step: job.StepGenerate, ExitCode: -1, Err: err}
		}

		return res
	case r.spec.Generator.IsZero():
		res.Skipped = true
		return res
	default:
		return r.runProcess(ctx, job.StepGenerate, r.Command(job.StepGenerate))
	}
}

// prepare writes the run settings into the control dictionary and the sweep
// parameters into the parameters file. It runs after generation, so the
// settings win over whatever the generator wrote.
func (r *Runner) prepare(ctx context.Context) error {
	settings := r.spec.RunSettings()

	r.mu.Lock()
	for _, e := range r.applied.Entries {
		settings.Set(e.Key, e.Value)
	}
	r.mu.Unlock()

	err := r.opts.Control.Apply(ctx, settings)

	switch {
	case errors.Is(err, fs.ErrNotExist):
		ctxlog.Warn(ctx, "no control dictionary, run settings not written", "error", err)
	case err != nil:
		return fmt.Errorf("writing run settings: %w", err)
	}

	if len(r.spec.Parameters) == 0 {
		return nil
	}

	if err := control.WriteParameters(filepath.Join(r.spec.CaseDir, job.DefaultParamsFile), r.spec.Parameters); err != nil {
		return fmt.Errorf("writing case parameters: %w", err)
	}

	return nil
}

// Command returns the argv that step runs, or nil when the step launches no
// process.
func (r *Runner) Command(step job.Step) []string {
	switch step {
	case job.StepGenerate:
		if r.opts.Generator != nil || r.spec.Generator.IsZero() {
			return nil
		}

		return slices.Concat([]string{r.spec.Generator.Path}, r.spec.ExpandArgs(r.spec.Generator.Args))
	case job.StepDecompose:
		return slices.Concat([]string{r.spec.Decomposer.Path}, r.spec.Decomposer.Args, []string{"-case", r.spec.CaseDir})
	case job.StepSolve:
		return r.opts.Dispatcher.Command(r.plan, r.spec.Solver.Path, r.spec.Solver.Args...)
	case job.StepReconstruct:
		return slices.Concat([]string{r.spec.Reconstructor.Path}, r.spec.Reconstructor.Args, []string{"-case", r.spec.CaseDir})
	default:
		return nil
	}
}

func (r *Runner) logFiles(step job.Step, exe string) (string, string) {
	if !r.opts.LogFiles {
		return "", ""
	}

	if step == job.StepSolve {
		return job.DefaultStdoutLog, job.DefaultStderrLog
	}

	return "log." + filepath.Base(exe), ""
}

func (r *Runner) runProcess(ctx context.Context, step job.Step, argv []string) job.StepResult {
	res := job.StepResult{Step: step}

	stdoutLog, stderrLog := r.logFiles(step, argv[0])

	env := r.spec.Env
	if step == job.StepGenerate {
		env = r.spec.GeneratorEnv()
	}

	h := procs.New(procs.Command{
		Path:      argv[0],
		Args:      argv[1:],
		Dir:       r.spec.CaseDir,
		Env:       env,
		StdoutLog: stdoutLog,
		StderrLog: stderrLog,
	})

	ctxlog.Debug(ctx, "starting step", "argv", argv)

	if err := h.Start(ctx); err != nil {
		res.ExitCode = -1
		res.Err = &job.StepError{Step: step, ExitCode: -1, Err: err}

		return res
	}

	r.mu.Lock()
	r.active = h
	killed := r.killed
	discard := r.halt == control.StopDiscard
	r.mu.Unlock()

	// A stop may have arrived while the process was starting.
	switch {
	case killed:
		_ = h.Kill()
	case discard:
		if step == job.StepSolve {
			_ = r.opts.Control.RequestStop(ctx, control.StopDiscard)
		}

		_ = h.Interrupt()
	}

	watchdogDone := make(chan struct{})

	go func() {
		select {
		case <-ctx.Done():
			ctxlog.Info(ctx, "context done, killing process")
			_ = h.Kill()
		case <-watchdogDone:
		}
	}()

	for l := range h.Lines() {
		r.out.publish(l)
	}

	code, err := h.Wait()
	close(watchdogDone)

	r.mu.Lock()
	r.active = nil
	r.mu.Unlock()

	res.ExitCode = code

	if err != nil || code != 0 {
		cause := err
		if cause == nil {
			cause = fmt.Errorf("%s exited with code %d", filepath.Base(argv[0]), code)
		}

		if last := h.LastLine(); last != "" {
			cause = fmt.Errorf("%w: %s", cause, last)
		}

		res.Err = &job.StepError{Step: step, ExitCode: code, Err: cause}
	}

	ctxlog.Debug(ctx, "step finished", "exitCode", code)

	return res
}
