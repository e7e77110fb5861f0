// Copyright (c) matt-FFFFFF 2025. All rights reserved.
// SPDX-License-Identifier: MIT

// Package procs wraps a single external process: the solver, a decomposition
// or reconstruction utility, or a case generator.
//
// Output is read by background goroutines, copied line by line to optional
// log files and queued for the consumer. The consumer either polls with
// ReadLine or selects on Lines. Process exit handling never waits for a
// consumer.
package procs
