// Copyright (c) matt-FFFFFF 2025. All rights reserved.
// SPDX-License-Identifier: MIT

package job

import "github.com/matt-FFFFFF/caserun/internal/color"

// Status is the lifecycle state of a job.
type Status int

const (
	// StatusWaiting means the job is submitted but not started.
	StatusWaiting Status = iota
	// StatusRunning means a pipeline step is in progress.
	StatusRunning
	// StatusCanceling means a cancel was requested and the active step is being stopped.
	StatusCanceling
	// StatusStopping means a save-and-stop was requested; the active step is allowed to finish.
	StatusStopping
	// StatusCompleted is terminal: every step exited successfully.
	StatusCompleted
	// StatusFailed is terminal: a step could not be launched or exited non-zero.
	StatusFailed
	// StatusCanceled is terminal: the user stopped the job.
	StatusCanceled
)

// String implements fmt.Stringer.
func (s Status) String() string {
	switch s {
	case StatusWaiting:
		return "waiting"
	case StatusRunning:
		return "running"
	case StatusCanceling:
		return "canceling"
	case StatusStopping:
		return "stopping"
	case StatusCompleted:
		return "completed"
	case StatusFailed:
		return "failed"
	case StatusCanceled:
		return "canceled"
	default:
		return "unknown"
	}
}

// IsTerminal reports whether no further transition is possible.
func (s Status) IsTerminal() bool {
	return s == StatusCompleted || s == StatusFailed || s == StatusCanceled
}

// IsPending reports whether a stop has been requested but not yet completed.
func (s Status) IsPending() bool {
	return s == StatusCanceling || s == StatusStopping
}

// AcceptsUpdate reports whether a configuration update may be applied.
func (s Status) AcceptsUpdate() bool {
	return s == StatusWaiting || s == StatusRunning
}

// CanTransition reports whether the state machine allows moving from s to next.
func (s Status) CanTransition(next Status) bool {
	switch s {
	case StatusWaiting:
		// A waiting job that is canceled never ran.
		return next == StatusRunning || next == StatusCanceled
	case StatusRunning:
		return next == StatusCanceling || next == StatusStopping ||
			next == StatusCompleted || next == StatusFailed
	case StatusCanceling:
		return next == StatusCanceled
	case StatusStopping:
		return next == StatusCanceled || next == StatusCompleted || next == StatusFailed
	default:
		return false
	}
}

// Colour returns the terminal colour used to display s.
func (s Status) Colour() color.Code {
	switch s {
	case StatusRunning:
		return color.FgHiCyan
	case StatusCanceling, StatusStopping:
		return color.FgYellow
	case StatusCompleted:
		return color.FgGreen
	case StatusFailed:
		return color.FgRed
	case StatusCanceled:
		return color.FgMagenta
	default:
		return color.FgWhite
	}
}
