// Copyright (c) matt-FFFFFF 2025. All rights reserved.
// SPDX-License-Identifier: MIT

package job

import "time"

// State is a point-in-time copy of a job's lifecycle record.
// The supervisor owns the live record; callers only ever see copies.
type State struct {
	ID           ID
	Name         string
	CaseDir      string
	Status       Status
	Step         Step
	SubmittedAt  time.Time
	StartedAt    time.Time
	EndedAt      time.Time
	SolverTime   float64
	Iteration    int
	LastError    string
	FailedStep   Step
	ExitCode     int
	ForceStopped bool
	Processes    int
	Hosts        []string
}

// Clone returns a deep copy of s.
func (s State) Clone() State {
	c := s
	if s.Hosts != nil {
		c.Hosts = append([]string(nil), s.Hosts...)
	}

	return c
}

// Elapsed returns the run time so far, or the total run time once ended.
func (s State) Elapsed(now time.Time) time.Duration {
	switch {
	case s.StartedAt.IsZero():
		return 0
	case !s.EndedAt.IsZero():
		return s.EndedAt.Sub(s.StartedAt)
	default:
		return now.Sub(s.StartedAt)
	}
}
