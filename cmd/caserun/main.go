// Copyright (c) matt-FFFFFF 2025. All rights reserved.
// SPDX-License-Identifier: MIT

// Package main contains the caserun command-line interface (CLI).
package main

import (
	"context"
	"fmt"
	"os"

	"github.com/matt-FFFFFF/caserun"
	"github.com/matt-FFFFFF/caserun/cmd/caserun/hosts"
	"github.com/matt-FFFFFF/caserun/cmd/caserun/plan"
	"github.com/matt-FFFFFF/caserun/cmd/caserun/run"
	"github.com/matt-FFFFFF/caserun/cmd/caserun/show"
	"github.com/matt-FFFFFF/caserun/cmd/caserun/sweep"
	"github.com/matt-FFFFFF/caserun/internal/ctxlog"
	"github.com/urfave/cli/v3"
)

const (
	logLevelFlag  = "log-level"
	logFormatFlag = "log-format"
	logFormatJSON = "json"
)

// rootCmd is the root command for the CLI.
var rootCmd = &cli.Command{
	Commands: []*cli.Command{
		run.RunCmd,
		sweep.SweepCmd,
		plan.PlanCmd,
		hosts.HostsCmd,
		show.ShowCmd,
	},
	Flags: []cli.Flag{
		&cli.StringFlag{
			Name:    logLevelFlag,
			Usage:   "Set the log level: debug, info, warn or error",
			Sources: cli.EnvVars(ctxlog.LevelEnvVar),
		},
		&cli.StringFlag{
			Name:  logFormatFlag,
			Usage: "Set the log format: pretty or json",
			Value: "pretty",
		},
	},
	Before:    before,
	Writer:    os.Stdout,
	ErrWriter: os.Stderr,
	Name:      "caserun",
	Description: `caserun runs CFD cases: it generates, decomposes, solves and reconstructs
a case locally or across a cluster, monitors the solver's residuals and function
objects while it runs, and lets you stop, save or reconfigure the run at any time.
Parameter sweeps run many variants of a case with bounded concurrency.`,
	Usage:     "caserun run -f cavity.yaml",
	Copyright: "Copyright (c) matt-FFFFFF 2025. All rights reserved.",
	Authors: []any{
		"Matt White (matt-FFFFFF)",
	},
	EnableShellCompletion: true,
}

func before(ctx context.Context, cmd *cli.Command) (context.Context, error) {
	if l := cmd.String(logLevelFlag); l != "" {
		ctxlog.LevelVar.Set(ctxlog.ParseLevel(l))
	}

	if cmd.String(logFormatFlag) == logFormatJSON {
		ctx = ctxlog.NewJSON(ctx, cmd.ErrWriter)
	}

	return ctx, nil
}

func main() {
	ctx, cancel := context.WithCancel(context.Background())
	ctx = ctxlog.New(ctx, ctxlog.DefaultLogger)

	rootCmd.Version = fmt.Sprintf("%s (commit: %s)", caserun.Version, caserun.Commit)

	err := rootCmd.Run(ctx, os.Args) // Exit codes are handled by the cli framework

	cancel()

	if err != nil {
		ctxlog.Logger(ctx).Error("command failed", "error", err)
		os.Exit(1)
	}
}
