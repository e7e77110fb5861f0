// Copyright (c) matt-FFFFFF 2025. All rights reserved.
// SPDX-License-Identifier: MIT

package dispatch

import (
	"errors"
	"fmt"
	"maps"
	"path/filepath"
	"slices"
	"strconv"

	"github.com/matt-FFFFFF/caserun/internal/job"
)

// DefaultLauncher is the MPI launcher used for parallel and cluster runs.
const DefaultLauncher = "mpirun"

// ErrUnsupportedTopology is returned when the requested core count cannot be
// satisfied, e.g. a negative count or zero cores without a host file.
var ErrUnsupportedTopology = errors.New("unsupported topology")

// LaunchPlan describes how the solver processes are placed.
type LaunchPlan struct {
	Processes int      // Number of solver processes
	Hosts     HostList // Empty for local runs
	HostFile  string   // Absolute host file path, empty for local runs
	WorkDir   string   // Case directory
	Parallel  bool     // Decompose/reconstruct are needed
	Env       []string // Environment variable names forwarded to remote ranks
}

// Cluster reports whether the plan spans a host file.
func (p LaunchPlan) Cluster() bool {
	return p.HostFile != ""
}

// Dispatcher resolves launch plans.
type Dispatcher struct {
	launcher string
}

// Option configures a Dispatcher.
type Option func(*Dispatcher)

// WithLauncher sets the MPI launcher executable.
func WithLauncher(path string) Option {
	return func(d *Dispatcher) {
		if path != "" {
			d.launcher = path
		}
	}
}

// New creates a Dispatcher.
func New(opts ...Option) *Dispatcher {
	d := &Dispatcher{launcher: DefaultLauncher}
	for _, o := range opts {
		o(d)
	}

	return d
}

// Resolve returns the launch plan for spec using the default dispatcher.
func Resolve(spec job.Spec) (LaunchPlan, error) {
	return New().Resolve(spec)
}

// Resolve returns the launch plan for spec. The host file, if any, is read and
// validated here so a bad file is reported before anything is launched.
func (d *Dispatcher) Resolve(spec job.Spec) (LaunchPlan, error) {
	if spec.Cores < 0 {
		return LaunchPlan{}, fmt.Errorf("%w: negative core count %d", ErrUnsupportedTopology, spec.Cores)
	}

	plan := LaunchPlan{
		Processes: spec.Cores,
		WorkDir:   spec.CaseDir,
		Env:       slices.Sorted(maps.Keys(spec.Env)),
	}

	if spec.HostFile == "" {
		if spec.Cores == 0 {
			return LaunchPlan{}, fmt.Errorf("%w: zero cores requested without a host file", ErrUnsupportedTopology)
		}

		plan.Parallel = plan.Processes > 1

		return plan, nil
	}

	hostFile := spec.HostFile
	if !filepath.IsAbs(hostFile) && spec.CaseDir != "" {
		hostFile = filepath.Join(spec.CaseDir, hostFile)
	}

	hosts, err := ReadHostFile(hostFile)
	if err != nil {
		return LaunchPlan{}, fmt.Errorf("%s: %w", hostFile, err)
	}

	plan.Hosts = hosts
	plan.HostFile = hostFile

	if plan.Processes == 0 {
		plan.Processes = hosts.Slots()
	}

	plan.Parallel = plan.Processes > 1

	return plan, nil
}

// Command returns the argv that launches exe for plan using the default launcher.
func Command(plan LaunchPlan, exe string, args ...string) []string {
	return New().Command(plan, exe, args...)
}

// Command returns the argv that launches exe for plan. Local single process
// plans run exe directly; everything else goes through the MPI launcher with
// the solver's -parallel flag added for multi-process runs.
func (d *Dispatcher) Command(plan LaunchPlan, exe string, args ...string) []string {
	if !plan.Parallel && !plan.Cluster() {
		return slices.Concat([]string{exe}, args)
	}

	argv := []string{d.launcher, "-np", strconv.Itoa(max(plan.Processes, 1))}

	if plan.Cluster() {
		argv = append(argv, "--hostfile", plan.HostFile)
	}

	for _, name := range plan.Env {
		argv = append(argv, "-x", name)
	}

	argv = append(argv, exe)
	argv = append(argv, args...)

	if plan.Parallel && !slices.Contains(args, "-parallel") {
		argv = append(argv, "-parallel")
	}

	return argv
}
