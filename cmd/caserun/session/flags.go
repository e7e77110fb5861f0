// Copyright (c) matt-FFFFFF 2025. All rights reserved.
// SPDX-License-Identifier: MIT

package session

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/matt-FFFFFF/caserun/internal/config"
	"github.com/matt-FFFFFF/caserun/internal/job"
	"github.com/matt-FFFFFF/caserun/internal/report"
	"github.com/urfave/cli/v3"
)

// Flag names shared by the commands that run jobs.
const (
	FileFlag          = "file"
	CoresFlag         = "cores"
	HostsFlag         = "hosts"
	LauncherFlag      = "launcher"
	SetFlag           = "set"
	TUIFlag           = "tui"
	ListenFlag        = "listen"
	NoLogFilesFlag    = "no-log-files"
	OutFlag           = "out"
	ShowStepsFlag     = "show-steps"
	ConfigTimeoutFlag = "config-timeout"

	configTimeoutSecondsDefault = 30
)

// ErrNoFile is returned when no job file URL was given.
var ErrNoFile = errors.New("please specify the job file using the --file or -f flag")

// FileFlags are the flags that locate and adjust the job file.
func FileFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:    FileFlag,
			Aliases: []string{"f"},
			Usage: "Specify the URL of the YAML or HCL job file. " +
				"Supports Hashicorp's go-getter syntax for fetching files from various sources.",
			TakesFile: true,
			OnlyOnce:  true,
		},
		&cli.IntFlag{
			Name:    CoresFlag,
			Aliases: []string{"n"},
			Usage:   "Override the number of solver processes",
		},
		&cli.StringFlag{
			Name:      HostsFlag,
			Usage:     "Override the host file used to run across a cluster",
			TakesFile: true,
			OnlyOnce:  true,
		},
		&cli.StringSliceFlag{
			Name:  SetFlag,
			Usage: "Override a job setting or numerics entry, e.g. --set endTime=2000. May be repeated.",
		},
		&cli.IntFlag{
			Name:    ConfigTimeoutFlag,
			Aliases: []string{"timeout"},
			Usage: "Set the maximum time in seconds to wait for the job file to be fetched. " +
				"Defaults to 30 seconds.",
			Value: configTimeoutSecondsDefault,
		},
	}
}

// RunFlags are the flags that control how jobs are run and reported.
func RunFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:     LauncherFlag,
			Usage:    "Specify the MPI launcher used for parallel runs",
			Value:    "",
			OnlyOnce: true,
		},
		&cli.BoolFlag{
			Name:        TUIFlag,
			Aliases:     []string{"t", "interactive"},
			Usage:       "Run with interactive Terminal User Interface (TUI) showing real-time progress",
			Value:       false,
			DefaultText: "false",
			OnlyOnce:    true,
		},
		&cli.StringFlag{
			Name:     ListenFlag,
			Usage:    "Serve job status, controls and metrics over HTTP on this address, e.g. :9090",
			OnlyOnce: true,
		},
		&cli.BoolFlag{
			Name:        NoLogFilesFlag,
			Usage:       "Do not write stdout.log and stderr.log into the case directory",
			Value:       false,
			DefaultText: "false",
			OnlyOnce:    true,
		},
		&cli.StringFlag{
			Name:      OutFlag,
			Usage:     "Save the results to this file, to be shown later with the show command",
			TakesFile: true,
			OnlyOnce:  true,
		},
		&cli.BoolFlag{
			Name:        ShowStepsFlag,
			Aliases:     []string{"steps"},
			Usage:       "List every pipeline step in the results",
			Value:       false,
			DefaultText: "false",
			OnlyOnce:    true,
		},
	}
}

// OptionsFrom returns the session options set by RunFlags.
func OptionsFrom(cmd *cli.Command, mode Mode) Options {
	return Options{
		Launcher: cmd.String(LauncherFlag),
		LogFiles: !cmd.Bool(NoLogFilesFlag),
		Listen:   cmd.String(ListenFlag),
		Mode:     mode,
		Out:      cmd.Root().Writer,
		LogOut:   cmd.Root().ErrWriter,
	}
}

// LoadFile fetches and decodes the job file named by FileFlag.
func LoadFile(ctx context.Context, cmd *cli.Command) (*config.File, error) {
	url := cmd.String(FileFlag)
	if url == "" {
		return nil, ErrNoFile
	}

	cctx, cancel := context.WithTimeout(ctx, time.Duration(cmd.Int(ConfigTimeoutFlag))*time.Second)
	defer cancel()

	return config.Load(cctx, url) //nolint:wrapcheck
}

// Spec returns the job of f with the command line overrides applied.
func Spec(cmd *cli.Command, f *config.File) (job.Spec, error) {
	spec := f.Job.Spec()

	if n := cmd.Int(CoresFlag); n > 0 {
		spec.Cores = n
	}

	if h := cmd.String(HostsFlag); h != "" {
		abs, err := filepath.Abs(h)
		if err != nil {
			return job.Spec{}, err //nolint:wrapcheck
		}

		spec.HostFile = abs
	}

	set := cmd.StringSlice(SetFlag)
	if len(set) == 0 {
		return spec, spec.Validate()
	}

	p, err := job.ParsePatch(set...)
	if err != nil {
		return job.Spec{}, err
	}

	return spec.WithPatch(p)
}

// WriteReport prints rep and saves it if OutFlag is set.
func WriteReport(cmd *cli.Command, rep report.Report) error {
	if name := cmd.String(OutFlag); name != "" {
		f, err := os.Create(name)
		if err != nil {
			return fmt.Errorf("failed to create output file %s: %w", name, err)
		}

		defer f.Close() //nolint:errcheck

		if err := rep.WriteBinary(f); err != nil {
			return fmt.Errorf("failed to write results to file %s: %w", name, err)
		}
	}

	return rep.WriteText(cmd.Root().Writer, &report.OutputOptions{ //nolint:wrapcheck
		ShowSteps:   cmd.Bool(ShowStepsFlag),
		ShowCaseDir: true,
	})
}
