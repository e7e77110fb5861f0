// Copyright (c) matt-FFFFFF 2025. All rights reserved.
// SPDX-License-Identifier: MIT

// Package show implements the show command, which prints saved results.
package show

import (
	"context"
	"errors"
	"os"

	"github.com/matt-FFFFFF/caserun/internal/report"
	"github.com/urfave/cli/v3"
)

const (
	fileArg       = "file"
	showStepsFlag = "show-steps"
)

var (
	// ErrReadFile is returned when the file cannot be read.
	ErrReadFile = errors.New("failed to read file")
	// ErrWriteResults is returned when the results cannot be written.
	ErrWriteResults = errors.New("failed to write results")
)

// ShowCmd is the command that shows results saved by run or sweep with --out.
var ShowCmd = &cli.Command{
	Name:        "show",
	Usage:       "Show previously saved results",
	Description: "Show results saved with the --out flag of the run or sweep command.",
	Arguments: []cli.Argument{
		&cli.StringArg{
			Name:      fileArg,
			UsageText: "RESULTSFILE",
		},
	},
	Flags: []cli.Flag{
		&cli.BoolFlag{
			Name:        showStepsFlag,
			Aliases:     []string{"steps"},
			Usage:       "List every pipeline step",
			Value:       false,
			DefaultText: "false",
			OnlyOnce:    true,
		},
	},
	Action: func(_ context.Context, cmd *cli.Command) error {
		file, err := os.Open(cmd.StringArg(fileArg))
		if err != nil {
			return errors.Join(ErrReadFile, err)
		}
		defer file.Close() // nolint:errcheck

		rep, err := report.ReadBinary(file)
		if err != nil {
			return err //nolint:wrapcheck
		}

		opts := &report.OutputOptions{ShowSteps: cmd.Bool(showStepsFlag), ShowCaseDir: true}
		if err := rep.WriteText(cmd.Root().Writer, opts); err != nil {
			return errors.Join(ErrWriteResults, err)
		}

		return nil
	},
}
