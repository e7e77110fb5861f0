// Copyright (c) matt-FFFFFF 2025. All rights reserved.
// SPDX-License-Identifier: MIT

// Package plan implements the plan command, a dry run that prints how a job
// file would be run.
package plan

import (
	"context"
	"fmt"
	"io"
	"maps"
	"slices"
	"strconv"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	"github.com/matt-FFFFFF/caserun/cmd/caserun/session"
	"github.com/matt-FFFFFF/caserun/cmd/caserun/sweep"
	"github.com/matt-FFFFFF/caserun/internal/batch"
	"github.com/matt-FFFFFF/caserun/internal/caserunner"
	"github.com/matt-FFFFFF/caserun/internal/control"
	"github.com/matt-FFFFFF/caserun/internal/ctxlog"
	"github.com/matt-FFFFFF/caserun/internal/dispatch"
	"github.com/matt-FFFFFF/caserun/internal/job"
	"github.com/urfave/cli/v3"
)

const cliExitStr = ""

// PlanCmd prints the launch plan without running anything.
var PlanCmd = &cli.Command{
	Name:  "plan",
	Usage: "Show how a job file would be run",
	Description: `Resolve the launch plan of a job file and print the command line of every
pipeline step. If the job file has a sweep block, the variants are listed too.
Nothing is executed and no files are written.`,
	Flags: append(session.FileFlags(),
		&cli.StringFlag{
			Name:     session.LauncherFlag,
			Usage:    "Specify the MPI launcher used for parallel runs",
			OnlyOnce: true,
		},
	),
	Action: actionFunc,
}

func actionFunc(ctx context.Context, cmd *cli.Command) error {
	logger := ctxlog.Logger(ctx).With("command", cmd.Name)

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

	var variants []batch.Variant

	if f.Sweep != nil {
		variants, err = sweep.Variants(*f.Sweep, batch.DefaultMaxVariants)
		if err != nil {
			logger.Error(fmt.Sprintf("Failed to plan sweep: %s", err.Error()))
			return cli.Exit(cliExitStr, 1)
		}

		variants = batch.Derive(spec, variants)
	}

	d := dispatch.New(dispatch.WithLauncher(cmd.String(session.LauncherFlag)))

	if err := Write(cmd.Root().Writer, d, spec, variants); err != nil {
		logger.Error(err.Error())
		return cli.Exit(cliExitStr, 1)
	}

	return nil
}

// Write prints the launch plan of spec and the derived variants.
func Write(w io.Writer, d *dispatch.Dispatcher, spec job.Spec, variants []batch.Variant) error {
	spec = spec.WithDefaults()

	lp, err := d.Resolve(spec)
	if err != nil {
		return err //nolint:wrapcheck
	}

	// The runner only resolves paths here; Discard keeps it from touching the case.
	r := caserunner.New(spec, lp, caserunner.Options{Dispatcher: d, Control: control.Discard{}})

	var b strings.Builder

	fmt.Fprintf(&b, "Job %s\n", spec.Name)
	fmt.Fprintf(&b, "  case:      %s\n", spec.CaseDir)
	fmt.Fprintf(&b, "  control:   %s\n", spec.ControlPath())
	fmt.Fprintf(&b, "  processes: %d\n", lp.Processes)
	fmt.Fprintf(&b, "  end time:  %g\n", spec.EndTime)

	if lp.Cluster() {
		fmt.Fprintf(&b, "  hosts:     %s (%s)\n", strings.Join(lp.Hosts.Names(), ", "), lp.HostFile)
	}

	b.WriteString("Pipeline:\n")

	n := 0

	for _, step := range r.Steps() {
		argv := r.Command(step)
		if argv == nil {
			continue
		}

		n++
		fmt.Fprintf(&b, "  %d. %-12s %s\n", n, step.String(), strings.Join(argv, " "))
	}

	if len(variants) > 0 {
		fmt.Fprintf(&b, "Variants: %d\n", len(variants))
		b.WriteString(variantTable(variants))
		b.WriteString("\n")
	}

	_, err = io.WriteString(w, b.String())

	return err //nolint:wrapcheck
}

func variantTable(variants []batch.Variant) string {
	keys := make(map[string]struct{})
	for _, v := range variants {
		for k := range v.Parameters {
			keys[k] = struct{}{}
		}
	}

	params := slices.Sorted(maps.Keys(keys))

	t := table.New().
		Border(lipgloss.NormalBorder()).
		Headers(append([]string{"#", "NAME"}, params...)...)

	for _, v := range variants {
		row := []string{strconv.Itoa(v.Index + 1), v.Name}

		for _, p := range params {
			val, ok := v.Parameters[p]
			if !ok {
				row = append(row, "")
				continue
			}

			row = append(row, strconv.FormatFloat(val, 'g', -1, 64))
		}

		t.Row(row...)
	}

	return t.String()
}
