// Copyright (c) matt-FFFFFF 2025. All rights reserved.
// SPDX-License-Identifier: MIT

package control

import (
	"context"
	"errors"

	"github.com/matt-FFFFFF/caserun/internal/job"
)

// StopMode selects how the solver is asked to stop.
type StopMode int

const (
	// StopNone means no stop was requested.
	StopNone StopMode = iota
	// StopDiscard stops at the next time step without writing results.
	StopDiscard
	// StopSave writes the current time step and then stops.
	StopSave
)

// String implements fmt.Stringer.
func (m StopMode) String() string {
	switch m {
	case StopDiscard:
		return "cancel"
	case StopSave:
		return "save-and-stop"
	default:
		return "none"
	}
}

// stopAt returns the controlDict stopAt keyword for m.
func (m StopMode) stopAt() string {
	if m == StopSave {
		return "writeNow"
	}

	return "noWriteNow"
}

// ErrNoStopMode is returned by RequestStop when called with StopNone.
var ErrNoStopMode = errors.New("no stop mode given")

// Channel is the on-the-fly update path to a running solver.
type Channel interface {
	Apply(ctx context.Context, patch job.Patch) error
	RequestStop(ctx context.Context, mode StopMode) error
}

// Discard is a Channel that accepts and drops everything.
type Discard struct{}

var _ Channel = Discard{}

// Apply implements Channel.
func (Discard) Apply(context.Context, job.Patch) error { return nil }

// RequestStop implements Channel.
func (Discard) RequestStop(context.Context, StopMode) error { return nil }
