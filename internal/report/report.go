// Copyright (c) matt-FFFFFF 2025. All rights reserved.
// SPDX-License-Identifier: MIT

// Package report records the outcome of finished jobs so it can be printed,
// saved to a file and shown again later.
package report

import (
	"encoding/gob"
	"errors"
	"fmt"
	"io"
	"maps"
	"slices"
	"strings"
	"time"

	"github.com/matt-FFFFFF/caserun/internal/color"
	"github.com/matt-FFFFFF/caserun/internal/job"
)

var (
	// ErrWriteGob is returned when writing the report in binary form fails.
	ErrWriteGob = errors.New("failed to write binary report")
	// ErrReadGob is returned when a binary report cannot be decoded.
	ErrReadGob = errors.New("failed to read binary report")
)

// Step is one executed pipeline step.
type Step struct {
	Step     string
	ExitCode int
	Duration time.Duration
	Skipped  bool
	Error    string
}

// Entry is the end state of one job.
type Entry struct {
	JobID      string
	Name       string
	CaseDir    string
	Parameters map[string]float64
	Status     string
	FailedStep string
	ExitCode   int
	Error      string
	Killed     bool
	StartedAt  time.Time
	EndedAt    time.Time
	SolverTime float64
	Iteration  int
	Steps      []Step
}

// Report is an ordered list of job entries.
type Report struct {
	Entries []Entry
}

// NewEntry combines the final state, the sweep parameters and the outcome of
// a job.
func NewEntry(st job.State, params map[string]float64, o job.Outcome) Entry {
	e := Entry{
		JobID:      string(st.ID),
		Name:       st.Name,
		CaseDir:    st.CaseDir,
		Parameters: maps.Clone(params),
		Status:     o.Status.String(),
		ExitCode:   o.ExitCode,
		Killed:     o.Killed,
		StartedAt:  st.StartedAt,
		EndedAt:    st.EndedAt,
		SolverTime: st.SolverTime,
		Iteration:  st.Iteration,
	}

	if o.FailedStep != job.StepNone {
		e.FailedStep = o.FailedStep.String()
	}

	if o.Err != nil && o.Status == job.StatusFailed {
		e.Error = o.Err.Error()
	}

	for _, s := range o.Steps {
		step := Step{Step: s.Step.String(), ExitCode: s.ExitCode, Duration: s.Duration, Skipped: s.Skipped}
		if s.Err != nil {
			step.Error = s.Err.Error()
		}

		e.Steps = append(e.Steps, step)
	}

	return e
}

// Add appends an entry.
func (r *Report) Add(e Entry) {
	r.Entries = append(r.Entries, e)
}

// HasFailure reports whether any job failed.
func (r Report) HasFailure() bool {
	return slices.ContainsFunc(r.Entries, func(e Entry) bool {
		return e.Status == job.StatusFailed.String()
	})
}

// WriteBinary writes the report in gob form.
func (r Report) WriteBinary(w io.Writer) error {
	if err := gob.NewEncoder(w).Encode(r); err != nil {
		return errors.Join(ErrWriteGob, err)
	}

	return nil
}

// ReadBinary reads a report written by WriteBinary.
func ReadBinary(rd io.Reader) (Report, error) {
	var r Report
	if err := gob.NewDecoder(rd).Decode(&r); err != nil {
		return Report{}, errors.Join(ErrReadGob, err)
	}

	return r, nil
}

// OutputOptions controls what is included in the text output.
type OutputOptions struct {
	ShowSteps   bool // list every step, not only the failed one
	ShowCaseDir bool // print the case directory of each job
}

// WriteText writes a human readable summary.
func (r Report) WriteText(w io.Writer, options *OutputOptions) error {
	if options == nil {
		options = &OutputOptions{}
	}

	for _, e := range r.Entries {
		if err := writeEntry(w, e, options); err != nil {
			return err
		}
	}

	return nil
}

func writeEntry(w io.Writer, e Entry, options *OutputOptions) error {
	var icon string

	status := job.StatusWaiting

	switch e.Status {
	case job.StatusCompleted.String():
		icon, status = "✓", job.StatusCompleted
	case job.StatusFailed.String():
		icon, status = "✗", job.StatusFailed
	case job.StatusCanceled.String():
		icon, status = "~", job.StatusCanceled
	default:
		icon = "?"
	}

	name := e.Name
	if name == "" {
		name = "[unnamed]"
	}

	if _, err := fmt.Fprintf(w, "%s %s %s",
		color.Colorize(icon, status.Colour()),
		color.Colorize(name, color.Bold, status.Colour()),
		e.Status); err != nil {
		return err
	}

	if len(e.Parameters) > 0 {
		fmt.Fprintf(w, " [%s]", formatParameters(e.Parameters)) //nolint:errcheck
	}

	if !e.StartedAt.IsZero() && !e.EndedAt.IsZero() {
		fmt.Fprintf(w, " in %s", e.EndedAt.Sub(e.StartedAt).Round(time.Second)) //nolint:errcheck
	}

	if e.SolverTime > 0 {
		fmt.Fprintf(w, ", time %g", e.SolverTime) //nolint:errcheck
	}

	if e.ExitCode != 0 {
		fmt.Fprintf(w, " (exit code: %d)", e.ExitCode) //nolint:errcheck
	}

	if e.Killed {
		fmt.Fprint(w, " (killed)") //nolint:errcheck
	}

	fmt.Fprintln(w) //nolint:errcheck

	if options.ShowCaseDir && e.CaseDir != "" {
		fmt.Fprintf(w, "  ➜ Case: %s\n", e.CaseDir) //nolint:errcheck
	}

	if e.Error != "" {
		fmt.Fprintf(w, "  %s %s\n", color.Colorize("➜ Error:", color.FgRed), e.Error) //nolint:errcheck
	}

	for _, s := range e.Steps {
		if !options.ShowSteps && s.Step != e.FailedStep {
			continue
		}

		fmt.Fprintf(w, "    %s", s.Step) //nolint:errcheck

		switch {
		case s.Skipped:
			fmt.Fprint(w, " skipped") //nolint:errcheck
		default:
			fmt.Fprintf(w, " %s, exit code %d", s.Duration.Round(time.Millisecond), s.ExitCode) //nolint:errcheck
		}

		fmt.Fprintln(w) //nolint:errcheck
	}

	return nil
}

func formatParameters(p map[string]float64) string {
	keys := slices.Sorted(maps.Keys(p))
	parts := make([]string, len(keys))

	for i, k := range keys {
		parts[i] = fmt.Sprintf("%s=%g", k, p[k])
	}

	return strings.Join(parts, " ")
}
