// Copyright (c) matt-FFFFFF 2025. All rights reserved.
// SPDX-License-Identifier: MIT

// Package dispatch decides how a job is launched: locally on N cores or across
// the hosts of a cluster host file. It turns the resulting LaunchPlan into the
// argument vector of an mpirun invocation.
package dispatch
