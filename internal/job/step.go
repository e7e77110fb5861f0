// Copyright (c) matt-FFFFFF 2025. All rights reserved.
// SPDX-License-Identifier: MIT

package job

// Step is one stage of the case pipeline. Steps run strictly in declaration order.
type Step int

const (
	// StepNone is the zero value: no step is active.
	StepNone Step = iota
	// StepGenerate writes the case files.
	StepGenerate
	// StepDecompose splits the case across parallel processes.
	StepDecompose
	// StepSolve runs the solver.
	StepSolve
	// StepReconstruct merges the parallel results.
	StepReconstruct
)

// String implements fmt.Stringer.
func (s Step) String() string {
	switch s {
	case StepNone:
		return "none"
	case StepGenerate:
		return "generate"
	case StepDecompose:
		return "decompose"
	case StepSolve:
		return "solve"
	case StepReconstruct:
		return "reconstruct"
	default:
		return "unknown"
	}
}

// Pipeline returns the ordered steps for a serial or parallel run.
func Pipeline(parallel bool) []Step {
	if parallel {
		return []Step{StepGenerate, StepDecompose, StepSolve, StepReconstruct}
	}

	return []Step{StepGenerate, StepSolve}
}
