// Copyright (c) matt-FFFFFF 2025. All rights reserved.
// SPDX-License-Identifier: MIT

package statusapi

import (
	"time"

	"github.com/matt-FFFFFF/caserun/internal/job"
)

type jobView struct {
	ID             string     `json:"id"`
	Name           string     `json:"name"`
	CaseDir        string     `json:"case_dir"`
	Status         string     `json:"status"`
	Step           string     `json:"step"`
	SolverTime     float64    `json:"solver_time"`
	Iteration      int        `json:"iteration"`
	Processes      int        `json:"processes"`
	Hosts          []string   `json:"hosts,omitempty"`
	SubmittedAt    time.Time  `json:"submitted_at"`
	StartedAt      *time.Time `json:"started_at,omitempty"`
	EndedAt        *time.Time `json:"ended_at,omitempty"`
	ElapsedSeconds float64    `json:"elapsed_seconds"`
	ExitCode       int        `json:"exit_code"`
	FailedStep     string     `json:"failed_step,omitempty"`
	LastError      string     `json:"last_error,omitempty"`
	ForceStopped   bool       `json:"force_stopped"`
}

func newJobView(st job.State, now time.Time) jobView {
	v := jobView{
		ID:             string(st.ID),
		Name:           st.Name,
		CaseDir:        st.CaseDir,
		Status:         st.Status.String(),
		Step:           st.Step.String(),
		SolverTime:     st.SolverTime,
		Iteration:      st.Iteration,
		Processes:      st.Processes,
		Hosts:          st.Hosts,
		SubmittedAt:    st.SubmittedAt,
		ElapsedSeconds: st.Elapsed(now).Seconds(),
		ExitCode:       st.ExitCode,
		LastError:      st.LastError,
		ForceStopped:   st.ForceStopped,
	}

	if !st.StartedAt.IsZero() {
		v.StartedAt = &st.StartedAt
	}

	if !st.EndedAt.IsZero() {
		v.EndedAt = &st.EndedAt
	}

	if st.FailedStep != job.StepNone {
		v.FailedStep = st.FailedStep.String()
	}

	return v
}
