// Copyright (c) matt-FFFFFF 2025. All rights reserved.
// SPDX-License-Identifier: MIT

// Package dropqueue provides a bounded, single-consumer FIFO queue that never
// blocks its producers. When the queue is full the oldest item is evicted to
// make room for the newest one.
//
// It backs every fan-out point where a slow consumer must not stall the
// producer: observer notification, solver output fan-out and monitor samples.
package dropqueue
