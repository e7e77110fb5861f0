// Copyright (c) matt-FFFFFF 2025. All rights reserved.
// SPDX-License-Identifier: MIT

package job

import (
	"errors"
	"fmt"
	"time"
)

// StepError describes why a pipeline step failed. It matches ErrStepFailed
// with errors.Is.
type StepError struct {
	Step     Step
	ExitCode int
	Err      error
}

// Error implements error.
func (e *StepError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s step failed with exit code %d: %v", e.Step, e.ExitCode, e.Err)
	}

	return fmt.Sprintf("%s step failed with exit code %d", e.Step, e.ExitCode)
}

// Unwrap returns the underlying error.
func (e *StepError) Unwrap() error {
	return e.Err
}

// Is makes StepError match ErrStepFailed.
func (e *StepError) Is(target error) bool {
	return target == ErrStepFailed
}

// StepResult records one executed step.
type StepResult struct {
	Step     Step
	ExitCode int
	Duration time.Duration
	Skipped  bool
	Err      error
}

// Outcome is the terminal result of a job.
type Outcome struct {
	Status     Status
	FailedStep Step
	ExitCode   int
	Err        error
	Steps      []StepResult
	Killed     bool
}

// StepError returns the step failure carried by the outcome, if any.
func (o Outcome) StepError() (*StepError, bool) {
	var se *StepError
	if errors.As(o.Err, &se) {
		return se, true
	}

	return nil, false
}

// Duration returns the total time spent in steps.
func (o Outcome) Duration() time.Duration {
	var d time.Duration
	for _, s := range o.Steps {
		d += s.Duration
	}

	return d
}
