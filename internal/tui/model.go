// Copyright (c) matt-FFFFFF 2025. All rights reserved.
// SPDX-License-Identifier: MIT

package tui

import (
	"fmt"
	"time"

	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/lipgloss"
	"github.com/matt-FFFFFF/caserun/internal/job"
	"github.com/matt-FFFFFF/caserun/internal/monitor"
)

// Controls are the lifecycle requests the dashboard can send.
type Controls interface {
	Cancel(id job.ID) error
	SaveAndStop(id job.ID) error
	ForceStop(id job.ID) error
}

// JobRow is the dashboard's record of one job.
type JobRow struct {
	State     job.State
	Outcome   *job.Outcome
	Residuals map[string]float64 // latest initial residual per field
	Fields    []string           // fields in order of first appearance
}

// newJobRow creates a row for id.
func newJobRow(id job.ID) *JobRow {
	return &JobRow{
		State:     job.State{ID: id, Name: id.Short()},
		Residuals: make(map[string]float64),
	}
}

func (r *JobRow) addResidual(field string, v float64) {
	if _, ok := r.Residuals[field]; !ok {
		r.Fields = append(r.Fields, field)
	}

	r.Residuals[field] = v
}

// Model represents the TUI application state. It is only touched from the
// bubbletea event loop.
type Model struct {
	controls Controls
	rows     map[job.ID]*JobRow
	order    []job.ID
	selected int
	width    int
	height   int
	quitting bool
	finished bool   // every job has reached a terminal state
	message  string // feedback from the last key command
	spinner  spinner.Model
	styles   *Styles
	clock    func() time.Time
}

// Styles contains all the styling for the TUI.
type Styles struct {
	Title     lipgloss.Style
	Header    lipgloss.Style
	Selected  lipgloss.Style
	Waiting   lipgloss.Style
	Active    lipgloss.Style
	Pending   lipgloss.Style
	Completed lipgloss.Style
	Failed    lipgloss.Style
	Canceled  lipgloss.Style
	Residual  lipgloss.Style
	Error     lipgloss.Style
	Help      lipgloss.Style
	Message   lipgloss.Style
}

// NewStyles creates the default styling for the TUI.
func NewStyles() *Styles {
	return &Styles{
		Title: lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("12")).
			MarginBottom(1),
		Header: lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("7")),
		Selected: lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("14")),
		Waiting: lipgloss.NewStyle().
			Foreground(lipgloss.Color("8")),
		Active: lipgloss.NewStyle().
			Foreground(lipgloss.Color("11")).
			Bold(true),
		Pending: lipgloss.NewStyle().
			Foreground(lipgloss.Color("13")),
		Completed: lipgloss.NewStyle().
			Foreground(lipgloss.Color("10")),
		Failed: lipgloss.NewStyle().
			Foreground(lipgloss.Color("9")),
		Canceled: lipgloss.NewStyle().
			Foreground(lipgloss.Color("3")),
		Residual: lipgloss.NewStyle().
			Foreground(lipgloss.Color("7")).
			Italic(true),
		Error: lipgloss.NewStyle().
			Foreground(lipgloss.Color("9")).
			Italic(true),
		Help: lipgloss.NewStyle().
			Foreground(lipgloss.Color("8")).
			MarginTop(1),
		Message: lipgloss.NewStyle().
			Foreground(lipgloss.Color("6")),
	}
}

// statusStyle returns the style for a job status.
func (s *Styles) statusStyle(st job.Status) lipgloss.Style {
	switch st {
	case job.StatusRunning:
		return s.Active
	case job.StatusCanceling, job.StatusStopping:
		return s.Pending
	case job.StatusCompleted:
		return s.Completed
	case job.StatusFailed:
		return s.Failed
	case job.StatusCanceled:
		return s.Canceled
	default:
		return s.Waiting
	}
}

// NewModel creates a new TUI model. Controls may be nil, which disables the
// lifecycle keys.
func NewModel(controls Controls) *Model {
	sp := spinner.New()
	sp.Spinner = spinner.Dot

	return &Model{
		controls: controls,
		rows:     make(map[job.ID]*JobRow),
		spinner:  sp,
		styles:   NewStyles(),
		clock:    time.Now,
	}
}

// Row returns the row for id.
func (m *Model) Row(id job.ID) (*JobRow, bool) {
	r, ok := m.rows[id]
	return r, ok
}

// row gets or creates the row for id.
func (m *Model) row(id job.ID) *JobRow {
	if r, ok := m.rows[id]; ok {
		return r
	}

	r := newJobRow(id)
	m.rows[id] = r
	m.order = append(m.order, id)

	return r
}

// selectedID returns the id of the highlighted job.
func (m *Model) selectedID() (job.ID, bool) {
	if len(m.order) == 0 {
		return "", false
	}

	return m.order[m.selected], true
}

func (m *Model) moveSelection(delta int) {
	if len(m.order) == 0 {
		return
	}

	m.selected = min(max(m.selected+delta, 0), len(m.order)-1)
}

// applyStatus records a new state snapshot.
func (m *Model) applyStatus(st job.State) {
	m.row(st.ID).State = st
}

// applySample records the latest residual. Other monitor kinds are not shown.
func (m *Model) applySample(id job.ID, s monitor.Sample) {
	res, ok := s.Source.(monitor.Residual)
	if !ok {
		return
	}

	field := s.Field
	if res.Region != "" {
		field = res.Region + "/" + field
	}

	r := m.row(id)
	r.addResidual(field, s.Value.Scalar)

	if s.SolverTime > r.State.SolverTime {
		r.State.SolverTime = s.SolverTime
	}

	if s.Iteration > r.State.Iteration {
		r.State.Iteration = s.Iteration
	}
}

// applyOutcome records the terminal outcome.
func (m *Model) applyOutcome(id job.ID, o job.Outcome) {
	r := m.row(id)
	r.Outcome = &o
	r.State.Status = o.Status
}

// request sends a lifecycle request for the selected job.
func (m *Model) request(verb string, fn func(Controls, job.ID) error) {
	id, ok := m.selectedID()
	if !ok || m.controls == nil {
		return
	}

	name := m.rows[id].State.Name

	if err := fn(m.controls, id); err != nil {
		m.message = fmt.Sprintf("%s %s: %s", verb, name, err)
		return
	}

	m.message = fmt.Sprintf("%s requested for %s", verb, name)
}
