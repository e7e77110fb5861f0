// Copyright (c) matt-FFFFFF 2025. All rights reserved.
// SPDX-License-Identifier: MIT

package tui

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/matt-FFFFFF/caserun/internal/job"
	"github.com/matt-FFFFFF/caserun/internal/monitor"
)

const (
	nameWidth        = 24
	statusWidth      = 11
	stepWidth        = 12
	numberWidth      = 12
	elapsedRounding  = time.Second
	minResultsHeight = 10
	residualFormat   = "%s %.3e"
)

// StatusMsg carries a job state snapshot.
type StatusMsg struct {
	State job.State
}

// SampleMsg carries a monitor sample.
type SampleMsg struct {
	ID     job.ID
	Sample monitor.Sample
}

// CompletedMsg carries a job's terminal outcome.
type CompletedMsg struct {
	ID      job.ID
	Outcome job.Outcome
}

// FinishedMsg indicates that every job has finished.
type FinishedMsg struct{}

// Init implements bubbletea.Model.Init.
func (m *Model) Init() tea.Cmd {
	return m.spinner.Tick
}

// Update implements bubbletea.Model.Update.
func (m *Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		return m.handleKeyPress(msg)

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height

		return m, nil

	case StatusMsg:
		m.applyStatus(msg.State)
		return m, nil

	case SampleMsg:
		m.applySample(msg.ID, msg.Sample)
		return m, nil

	case CompletedMsg:
		m.applyOutcome(msg.ID, msg.Outcome)
		return m, nil

	case FinishedMsg:
		m.finished = true
		return m, nil

	case spinner.TickMsg:
		var cmd tea.Cmd

		m.spinner, cmd = m.spinner.Update(msg)

		return m, cmd
	}

	return m, nil
}

// handleKeyPress processes keyboard input.
func (m *Model) handleKeyPress(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "q", "ctrl+c":
		m.quitting = true
		return m, tea.Quit
	case "up", "k":
		m.moveSelection(-1)
	case "down", "j":
		m.moveSelection(1)
	case "c":
		m.request("cancel", Controls.Cancel)
	case "s":
		m.request("save and stop", Controls.SaveAndStop)
	case "x":
		m.request("kill", Controls.ForceStop)
	}

	return m, nil
}

// View implements bubbletea.Model.View.
func (m *Model) View() string {
	if m.quitting {
		return "Leaving dashboard...\n"
	}

	var view strings.Builder

	view.WriteString(m.styles.Title.Render("caserun"))
	view.WriteString("\n")

	view.WriteString(m.styles.Header.Render("  " + columns("JOB", "STATUS", "STEP", "TIME", "ITERATION", "ELAPSED")))
	view.WriteString("\n")

	now := m.clock()

	for i, id := range m.order {
		m.renderRow(&view, m.rows[id], i == m.selected, now)
	}

	if id, ok := m.selectedID(); ok {
		m.renderDetail(&view, m.rows[id])
	}

	if m.finished {
		view.WriteString("\n")
		view.WriteString(m.renderSummary())
		view.WriteString("\n")
	}

	if m.message != "" {
		view.WriteString("\n")
		view.WriteString(m.styles.Message.Render(m.message))
		view.WriteString("\n")
	}

	if m.height == 0 || m.height > minResultsHeight {
		help := "↑/↓ or j/k to select, 'c' cancel, 's' save and stop, 'x' kill, 'q' to quit"
		if m.finished {
			help = "'q' to quit and return to terminal"
		}

		view.WriteString(m.styles.Help.Render(help))
	}

	return view.String()
}

func (m *Model) renderRow(b *strings.Builder, r *JobRow, selected bool, now time.Time) {
	st := r.State

	marker := "  "
	name := truncate(st.Name, nameWidth)

	if selected {
		marker = m.styles.Selected.Render("> ")
		name = m.styles.Selected.Render(pad(name, nameWidth))
	} else {
		name = pad(name, nameWidth)
	}

	status := st.Status.String()
	if st.Status == job.StatusRunning || st.Status.IsPending() {
		status = m.spinner.View() + status
	}

	b.WriteString(marker)
	b.WriteString(name)
	b.WriteString(m.styles.statusStyle(st.Status).Width(statusWidth).Render(status))
	b.WriteString(pad(st.Step.String(), stepWidth))
	b.WriteString(pad(strconv.FormatFloat(st.SolverTime, 'g', 6, 64), numberWidth))
	b.WriteString(pad(strconv.Itoa(st.Iteration), numberWidth))
	b.WriteString(st.Elapsed(now).Round(elapsedRounding).String())
	b.WriteString("\n")
}

func (m *Model) renderDetail(b *strings.Builder, r *JobRow) {
	b.WriteString("\n")

	if len(r.Fields) > 0 {
		parts := make([]string, len(r.Fields))
		for i, f := range r.Fields {
			parts[i] = fmt.Sprintf(residualFormat, f, r.Residuals[f])
		}

		b.WriteString(m.styles.Residual.Render("residuals: " + strings.Join(parts, "  ")))
		b.WriteString("\n")
	}

	if len(r.State.Hosts) > 0 {
		fmt.Fprintf(b, "%d processes on %s\n", r.State.Processes, strings.Join(r.State.Hosts, ", "))
	}

	if r.State.LastError != "" {
		b.WriteString(m.styles.Error.Render("error: " + r.State.LastError))
		b.WriteString("\n")
	}
}

func (m *Model) renderSummary() string {
	counts := make(map[job.Status]int)
	for _, r := range m.rows {
		counts[r.State.Status]++
	}

	line := fmt.Sprintf("%d completed, %d failed, %d canceled",
		counts[job.StatusCompleted], counts[job.StatusFailed], counts[job.StatusCanceled])

	if counts[job.StatusFailed] > 0 {
		return m.styles.Failed.Render("⚠️  " + line)
	}

	return m.styles.Completed.Render("✅ " + line)
}

func columns(name, status, step, t, iter, elapsed string) string {
	return pad(name, nameWidth) + pad(status, statusWidth) + pad(step, stepWidth) +
		pad(t, numberWidth) + pad(iter, numberWidth) + elapsed
}

func pad(s string, width int) string {
	return lipgloss.NewStyle().Width(width).Render(s)
}

func truncate(s string, width int) string {
	const ellipsis = "…"

	r := []rune(s)
	if len(r) < width {
		return s
	}

	return string(r[:width-2]) + ellipsis
}
