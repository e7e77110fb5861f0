// Copyright (c) matt-FFFFFF 2025. All rights reserved.
// SPDX-License-Identifier: MIT

package report

import (
	"bytes"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/matt-FFFFFF/caserun/internal/color"
	"github.com/matt-FFFFFF/caserun/internal/job"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleReport() Report {
	start := time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)

	var r Report

	r.Add(NewEntry(
		job.State{ID: "a", Name: "cavity-1", CaseDir: "/runs/cavity-1", StartedAt: start,
			EndedAt: start.Add(90 * time.Second), SolverTime: 0.5, Iteration: 100},
		map[string]float64{"U": 1, "nu": 0.01},
		job.Outcome{Status: job.StatusCompleted, Steps: []job.StepResult{
			{Step: job.StepDecompose, Duration: 2 * time.Second},
			{Step: job.StepSolve, Duration: 80 * time.Second},
		}},
	))

	r.Add(NewEntry(
		job.State{ID: "b", Name: "cavity-2", CaseDir: "/runs/cavity-2"},
		nil,
		job.Outcome{Status: job.StatusFailed, FailedStep: job.StepSolve, ExitCode: 3,
			Err: errors.New("solver exited with code 3"),
			Steps: []job.StepResult{
				{Step: job.StepDecompose, Duration: time.Second},
				{Step: job.StepSolve, ExitCode: 3, Err: errors.New("exit status 3")},
			}},
	))

	r.Add(NewEntry(
		job.State{ID: "c", Name: "cavity-3"},
		nil,
		job.Outcome{Status: job.StatusCanceled, Killed: true, Err: errors.New("canceled")},
	))

	return r
}

func TestNewEntry(t *testing.T) {
	r := sampleReport()
	require.Len(t, r.Entries, 3)

	ok := r.Entries[0]
	assert.Equal(t, "a", ok.JobID)
	assert.Equal(t, "completed", ok.Status)
	assert.Empty(t, ok.FailedStep)
	assert.Empty(t, ok.Error)
	assert.Len(t, ok.Steps, 2)

	failed := r.Entries[1]
	assert.Equal(t, "solve", failed.FailedStep)
	assert.Equal(t, 3, failed.ExitCode)
	assert.Equal(t, "solver exited with code 3", failed.Error)
	assert.Equal(t, "exit status 3", failed.Steps[1].Error)

	canceled := r.Entries[2]
	assert.Empty(t, canceled.Error, "cancellation is not reported as an error")
	assert.True(t, canceled.Killed)
}

func TestNewEntry_CopiesParameters(t *testing.T) {
	params := map[string]float64{"U": 1}
	e := NewEntry(job.State{}, params, job.Outcome{Status: job.StatusCompleted})

	params["U"] = 2
	assert.InDelta(t, 1.0, e.Parameters["U"], 0)
}

func TestHasFailure(t *testing.T) {
	r := sampleReport()
	assert.True(t, r.HasFailure())

	r.Entries = r.Entries[:1]
	assert.False(t, r.HasFailure())
}

func TestBinaryRoundTrip(t *testing.T) {
	want := sampleReport()

	var buf bytes.Buffer
	require.NoError(t, want.WriteBinary(&buf))

	got, err := ReadBinary(&buf)
	require.NoError(t, err)
	assert.Equal(t, want.Entries[1].Error, got.Entries[1].Error)
	assert.Equal(t, want.Entries[0].Parameters, got.Entries[0].Parameters)
	assert.True(t, want.Entries[0].EndedAt.Equal(got.Entries[0].EndedAt))
}

func TestReadBinary_Invalid(t *testing.T) {
	_, err := ReadBinary(strings.NewReader("not gob"))
	require.ErrorIs(t, err, ErrReadGob)
}

type failingWriter struct{}

func (failingWriter) Write([]byte) (int, error) { return 0, assert.AnError }

func TestWriteBinary_Error(t *testing.T) {
	err := sampleReport().WriteBinary(failingWriter{})
	require.ErrorIs(t, err, ErrWriteGob)
	require.ErrorIs(t, err, assert.AnError)
}

func TestWriteText(t *testing.T) {
	prev := color.SetEnabled(false)
	defer color.SetEnabled(prev)

	var buf bytes.Buffer
	require.NoError(t, sampleReport().WriteText(&buf, nil))

	out := buf.String()
	assert.Contains(t, out, "✓ cavity-1 completed [U=1 nu=0.01] in 1m30s, time 0.5\n")
	assert.Contains(t, out, "✗ cavity-2 failed (exit code: 3)\n")
	assert.Contains(t, out, "  ➜ Error: solver exited with code 3\n")
	assert.Contains(t, out, "    solve 0s, exit code 3\n")
	assert.NotContains(t, out, "decompose", "only the failed step is listed by default")
	assert.Contains(t, out, "~ cavity-3 canceled (killed)\n")
	assert.NotContains(t, out, "Case:")
}

func TestWriteText_AllSteps(t *testing.T) {
	prev := color.SetEnabled(false)
	defer color.SetEnabled(prev)

	var buf bytes.Buffer
	require.NoError(t, sampleReport().WriteText(&buf, &OutputOptions{ShowSteps: true, ShowCaseDir: true}))

	out := buf.String()
	assert.Contains(t, out, "    decompose 2s, exit code 0\n")
	assert.Contains(t, out, "  ➜ Case: /runs/cavity-1\n")
}

func TestWriteText_Colour(t *testing.T) {
	prev := color.SetEnabled(true)
	defer color.SetEnabled(prev)

	var buf bytes.Buffer
	require.NoError(t, sampleReport().WriteText(&buf, nil))

	assert.Contains(t, buf.String(), color.Colorize("✗", job.StatusFailed.Colour()))
	assert.Contains(t, color.Strip(buf.String()), "✗ cavity-2 failed")
}
