// Copyright (c) matt-FFFFFF 2025. All rights reserved.
// SPDX-License-Identifier: MIT

// Package run implements the run command, which runs a single case.
package run

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/matt-FFFFFF/caserun/cmd/caserun/session"
	"github.com/matt-FFFFFF/caserun/internal/ctxlog"
	"github.com/matt-FFFFFF/caserun/internal/job"
	"github.com/matt-FFFFFF/caserun/internal/report"
	"github.com/matt-FFFFFF/caserun/internal/signalbroker"
	"github.com/urfave/cli/v3"
)

const (
	consoleFlag         = "console"
	saveOnInterruptFlag = "save-on-interrupt"
	cliExitStr          = ""
	shutdownTimeout     = 30 * time.Second
)

// ErrFrontEnd is returned when more than one interactive front end is requested.
var ErrFrontEnd = errors.New("--tui and --console cannot be used together")

// RunCmd is the command that runs the job defined in a job file.
var RunCmd = NewCommand()

// NewCommand returns a new run command. Each call has its own flags.
func NewCommand() *cli.Command {
	return &cli.Command{
		Name:  "run",
		Usage: "Run a single case",
		Description: `Run the case defined in a YAML or HCL job file.
The case is decomposed, solved and reconstructed, as needed for the requested
number of processes, and the result of each step is reported.

Job file URLs use Hashicorp's go-getter syntax, which allows for fetching files from various sources.
See https://github.com/hashicorp/go-getter.

Press Ctrl-C once to cancel the run, or to save and stop with --save-on-interrupt.
Press it again to kill the running process.
`,
		Flags: append(append(session.FileFlags(), session.RunFlags()...),
			&cli.BoolFlag{
				Name:        consoleFlag,
				Aliases:     []string{"c"},
				Usage:       "Control the job from an interactive prompt while it runs",
				Value:       false,
				DefaultText: "false",
				OnlyOnce:    true,
			},
			&cli.BoolFlag{
				Name:        saveOnInterruptFlag,
				Aliases:     []string{"save"},
				Usage:       "Save the current solution before stopping on the first interrupt",
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
	logger.Debug("Running run command")

	mode := session.ModeLog

	switch {
	case cmd.Bool(session.TUIFlag) && cmd.Bool(consoleFlag):
		logger.Error(ErrFrontEnd.Error())
		return cli.Exit(cliExitStr, 1)
	case cmd.Bool(session.TUIFlag):
		mode = session.ModeTUI
	case cmd.Bool(consoleFlag):
		mode = session.ModeConsole
	}

	f, err := session.LoadFile(ctx, cmd)
	if err != nil {
		logger.Error(fmt.Sprintf("Failed to load job file: %s", err.Error()))
		return cli.Exit(cliExitStr, 1)
	}

	spec, err := session.Spec(cmd, f)
	if err != nil {
		logger.Error(fmt.Sprintf("Invalid job: %s", err.Error()))
		return cli.Exit(cliExitStr, 1)
	}

	s := session.New(ctx, session.OptionsFrom(cmd, mode))
	view := s.Open()

	id, err := s.Supervisor.SubmitAndStart(s.Context(), spec)
	if err != nil {
		view.Close()
		closeSession(ctx, s)
		logger.Error(fmt.Sprintf("Failed to start job: %s", err.Error()))

		return cli.Exit(cliExitStr, 1)
	}

	release := s.Watch(ctx, signalbroker.Actions{
		Stop: func(os.Signal) {
			if cmd.Bool(saveOnInterruptFlag) {
				_ = s.Supervisor.SaveAndStop(id)
				return
			}

			_ = s.Supervisor.Cancel(id)
		},
		Force: func(os.Signal) {
			_ = s.Supervisor.ForceStop(id)
		},
	})
	defer release()

	if err := view.Show(ctx, id, s.Supervisor.Done(id)); err != nil {
		logger.Error(fmt.Sprintf("Stopped waiting for job: %s", err.Error()))
	}

	outcome, err := s.Supervisor.Wait(context.WithoutCancel(ctx), id)
	st, _ := s.Supervisor.Status(id)

	view.Close()
	closeSession(ctx, s)

	if err != nil {
		logger.Error(fmt.Sprintf("Failed to collect job outcome: %s", err.Error()))
		return cli.Exit(cliExitStr, 1)
	}

	var rep report.Report

	rep.Add(report.NewEntry(st, spec.Parameters, outcome))

	if err := session.WriteReport(cmd, rep); err != nil {
		logger.Error(fmt.Sprintf("Failed to write results: %s", err.Error()))
		return cli.Exit(cliExitStr, 1)
	}

	if outcome.Status == job.StatusFailed {
		logger.Error("The job failed. See above for details.")
		return cli.Exit(cliExitStr, 1)
	}

	return nil
}

func closeSession(ctx context.Context, s *session.Session) {
	sctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
	defer cancel()

	if err := s.Close(sctx); err != nil {
		ctxlog.Warn(ctx, "session did not shut down cleanly", "error", err)
	}
}
