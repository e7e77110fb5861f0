// Copyright (c) matt-FFFFFF 2025. All rights reserved.
// SPDX-License-Identifier: MIT

// Package sweep implements the sweep command, which runs a batch of case
// variants with bounded concurrency.
package sweep

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/matt-FFFFFF/caserun/cmd/caserun/session"
	"github.com/matt-FFFFFF/caserun/internal/batch"
	"github.com/matt-FFFFFF/caserun/internal/config"
	"github.com/matt-FFFFFF/caserun/internal/ctxlog"
	"github.com/matt-FFFFFF/caserun/internal/job"
	"github.com/matt-FFFFFF/caserun/internal/report"
	"github.com/matt-FFFFFF/caserun/internal/signalbroker"
	"github.com/urfave/cli/v3"
)

const (
	fieldFlag           = "field"
	minFlag             = "min"
	maxFlag             = "max"
	incrementFlag       = "increment"
	casesFlag           = "cases"
	concurrencyFlag     = "concurrency"
	maxVariantsFlag     = "max-variants"
	saveOnInterruptFlag = "save-on-interrupt"
	cliExitStr          = ""
	shutdownTimeout     = 30 * time.Second
)

// ErrNoSweep is returned when neither the job file nor the flags define a sweep.
var ErrNoSweep = errors.New("no sweep defined: add a sweep block to the job file or use --field or --cases")

// SweepCmd is the command that runs a parameter sweep.
var SweepCmd = NewCommand()

// NewCommand returns a new sweep command. Each call has its own flags.
func NewCommand() *cli.Command {
	return &cli.Command{
		Name:  "sweep",
		Usage: "Run a batch of case variants",
		Description: `Run one variant of the case for every value of a swept parameter, or for
every row of a CSV case list. Each variant gets its own case directory below
<case>/batch, copied from the base case.

The sweep is read from the sweep block of the job file; the flags override it.
At most --concurrency variants run at a time, in ascending order.

Press Ctrl-C once to cancel queued variants and stop running ones, and again to
kill every running process.
`,
		Flags: append(append(session.FileFlags(), session.RunFlags()...),
			&cli.StringFlag{
				Name:     fieldFlag,
				Usage:    "Name of the swept parameter",
				OnlyOnce: true,
			},
			&cli.FloatFlag{
				Name:     minFlag,
				Usage:    "First value of the swept parameter",
				OnlyOnce: true,
			},
			&cli.FloatFlag{
				Name:     maxFlag,
				Usage:    "Last value of the swept parameter",
				OnlyOnce: true,
			},
			&cli.FloatFlag{
				Name:     incrementFlag,
				Usage:    "Step between values of the swept parameter",
				OnlyOnce: true,
			},
			&cli.StringFlag{
				Name:      casesFlag,
				Usage:     "CSV case list with a name column and one column per parameter",
				TakesFile: true,
				OnlyOnce:  true,
			},
			&cli.IntFlag{
				Name:    concurrencyFlag,
				Aliases: []string{"j"},
				Usage:   "Maximum number of variants running at once",
			},
			&cli.IntFlag{
				Name:  maxVariantsFlag,
				Usage: "Refuse sweeps with more variants than this",
				Value: batch.DefaultMaxVariants,
			},
			&cli.BoolFlag{
				Name:        saveOnInterruptFlag,
				Aliases:     []string{"save"},
				Usage:       "Save the current solution of running variants before stopping on the first interrupt",
				Value:       false,
				DefaultText: "false",
				OnlyOnce:    true,
			},
		),
		Action: actionFunc,
	}
}

func actionFunc(ctx context.Context, cmd *cli.Command) error {
	logger := ctxlog.Logger(ctx).With("command", cmd.Name)
	logger.Debug("Running sweep command")

	f, err := session.LoadFile(ctx, cmd)
	if err != nil {
		logger.Error(fmt.Sprintf("Failed to load job file: %s", err.Error()))
		return cli.Exit(cliExitStr, 1)
	}

	base, err := session.Spec(cmd, f)
	if err != nil {
		logger.Error(fmt.Sprintf("Invalid job: %s", err.Error()))
		return cli.Exit(cliExitStr, 1)
	}

	sw, err := SweepFrom(cmd, f.Sweep)
	if err != nil {
		logger.Error(err.Error())
		return cli.Exit(cliExitStr, 1)
	}

	variants, err := Variants(sw, cmd.Int(maxVariantsFlag))
	if err != nil {
		logger.Error(fmt.Sprintf("Failed to plan sweep: %s", err.Error()))
		return cli.Exit(cliExitStr, 1)
	}

	variants = batch.Derive(base, variants)

	mode := session.ModeLog
	if cmd.Bool(session.TUIFlag) {
		mode = session.ModeTUI
	}

	s := session.New(ctx, session.OptionsFrom(cmd, mode))
	view := s.Open()

	run, err := batch.CreateAndInitialize(s.Context(), s.Supervisor, variants, sw.Limit())
	if err != nil {
		view.Close()
		closeSession(ctx, s)
		logger.Error(fmt.Sprintf("Failed to start sweep: %s", err.Error()))

		return cli.Exit(cliExitStr, 1)
	}

	release := s.Watch(ctx, signalbroker.Actions{
		Stop: func(os.Signal) {
			if cmd.Bool(saveOnInterruptFlag) {
				for _, id := range run.IDs() {
					_ = s.Supervisor.SaveAndStop(id)
				}
			}

			run.Stop()
		},
		Force: func(os.Signal) {
			run.Stop()

			for _, id := range run.IDs() {
				_ = s.Supervisor.ForceStop(id)
			}
		},
	})
	defer release()

	done := make(chan struct{})
	results := make(chan []batch.VariantResult, 1)

	go func() {
		defer close(done)
		results <- run.Wait(context.WithoutCancel(ctx))
	}()

	if err := view.Show(ctx, "", done); err != nil {
		logger.Error(fmt.Sprintf("Stopped waiting for sweep: %s", err.Error()))
	}

	<-done

	rep := buildReport(s, <-results)

	view.Close()
	closeSession(ctx, s)

	if err := session.WriteReport(cmd, rep); err != nil {
		logger.Error(fmt.Sprintf("Failed to write results: %s", err.Error()))
		return cli.Exit(cliExitStr, 1)
	}

	p := summarize(rep)
	logger.Info("Sweep finished", "variants", p.Total, "completed", p.Completed, "failed", p.Failed, "canceled", p.Canceled)

	if p.Failed > 0 {
		logger.Error("Some variants failed. See above for details.")
		return cli.Exit(cliExitStr, 1)
	}

	return nil
}

// SweepFrom returns the sweep of the job file with the command line
// overrides applied.
func SweepFrom(cmd *cli.Command, fromFile *config.Sweep) (config.Sweep, error) {
	var sw config.Sweep
	if fromFile != nil {
		sw = *fromFile
	}

	if cmd.IsSet(casesFlag) {
		sw = config.Sweep{Cases: cmd.String(casesFlag), Concurrency: sw.Concurrency}
	}

	if cmd.IsSet(fieldFlag) {
		sw.Cases = ""
		sw.Field = cmd.String(fieldFlag)
	}

	if cmd.IsSet(minFlag) {
		sw.Min = cmd.Float(minFlag)
	}

	if cmd.IsSet(maxFlag) {
		sw.Max = cmd.Float(maxFlag)
	}

	if cmd.IsSet(incrementFlag) {
		sw.Increment = cmd.Float(incrementFlag)
	}

	if cmd.IsSet(concurrencyFlag) {
		sw.Concurrency = cmd.Int(concurrencyFlag)
	}

	if sw.Field == "" && sw.Cases == "" {
		return config.Sweep{}, ErrNoSweep
	}

	return sw, nil
}

// Variants expands sw into variants that are not yet derived from a job.
func Variants(sw config.Sweep, maxVariants int) ([]batch.Variant, error) {
	if sw.IsRange() {
		planner := batch.NewPlanner(batch.Options{MaxVariants: maxVariants})
		return planner.Plan(sw.Field, sw.Min, sw.Max, sw.Increment) //nolint:wrapcheck
	}

	f, err := os.Open(sw.Cases)
	if err != nil {
		return nil, err //nolint:wrapcheck
	}

	defer f.Close() //nolint:errcheck

	return batch.LoadCases(f) //nolint:wrapcheck
}

func buildReport(s *session.Session, results []batch.VariantResult) report.Report {
	var rep report.Report

	for _, r := range results {
		st, err := s.Supervisor.Status(r.JobID)
		if err != nil {
			st = job.State{ID: r.JobID, Name: r.Variant.Name, CaseDir: r.Variant.Spec.CaseDir}
		}

		o := r.Outcome
		if r.Err != nil {
			o = job.Outcome{Status: job.StatusFailed, Err: r.Err}
		}

		rep.Add(report.NewEntry(st, r.Variant.Parameters, o))
	}

	return rep
}

func summarize(rep report.Report) batch.Progress {
	p := batch.Progress{Total: len(rep.Entries)}

	for _, e := range rep.Entries {
		switch e.Status {
		case job.StatusCompleted.String():
			p.Completed++
		case job.StatusFailed.String():
			p.Failed++
		case job.StatusCanceled.String():
			p.Canceled++
		}
	}

	return p
}

func closeSession(ctx context.Context, s *session.Session) {
	sctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
	defer cancel()

	if err := s.Close(sctx); err != nil {
		ctxlog.Warn(ctx, "session did not shut down cleanly", "error", err)
	}
}
