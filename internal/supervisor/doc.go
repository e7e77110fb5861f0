// Copyright (c) matt-FFFFFF 2025. All rights reserved.
// SPDX-License-Identifier: MIT

// Package supervisor owns the lifecycle of every submitted job.
//
// Each job is served by its own goroutine that holds the live job.State and
// the case runner. Requests such as Start, Cancel or ForceStop are sent to that
// goroutine and answered synchronously; readers get copied snapshots that are
// published atomically, so Status and List never wait for a busy job.
//
// Observers registered with Subscribe are called from a reporter goroutine
// and cannot slow a job down.
package supervisor
