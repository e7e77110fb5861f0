// Copyright (c) matt-FFFFFF 2025. All rights reserved.
// SPDX-License-Identifier: MIT

// Package tui provides a terminal dashboard for running jobs. It lists every
// job with its status, pipeline step, solver time and elapsed time, shows the
// latest residual of each field for the selected job, and lets the user
// cancel, save-and-stop or kill the selected job.
//
// The dashboard is fed by the supervisor's observer API: a Reporter forwards
// status, sample and completion events to the bubbletea program as messages.
package tui
