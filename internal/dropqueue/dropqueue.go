// Copyright (c) matt-FFFFFF 2025. All rights reserved.
// SPDX-License-Identifier: MIT

package dropqueue

import (
	"context"
	"sync"
)

const minCapacity = 1

// Queue is a bounded ring buffer with drop-oldest overflow semantics.
// Push is safe to call from any number of goroutines; Next and Pop are meant
// for a single consumer.
type Queue[T any] struct {
	mu      sync.Mutex
	items   []T
	head    int
	size    int
	closed  bool
	dropped uint64
	notify  chan struct{}
}

// New creates a queue holding at most capacity items.
func New[T any](capacity int) *Queue[T] {
	if capacity < minCapacity {
		capacity = minCapacity
	}

	return &Queue[T]{
		items:  make([]T, capacity),
		notify: make(chan struct{}, 1),
	}
}

// Push appends v. If the queue is full the oldest item is discarded and
// Push returns true. Pushing to a closed queue is a no-op.
func (q *Queue[T]) Push(v T) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return false
	}

	evicted := false

	if q.size == len(q.items) {
		var zero T

		q.items[q.head] = zero
		q.head = (q.head + 1) % len(q.items)
		q.size--
		q.dropped++
		evicted = true
	}

	q.items[(q.head+q.size)%len(q.items)] = v
	q.size++

	select {
	case q.notify <- struct{}{}:
	default:
	}

	return evicted
}

// Pop removes and returns the oldest item without blocking.
func (q *Queue[T]) Pop() (T, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	var zero T

	if q.size == 0 {
		return zero, false
	}

	v := q.items[q.head]
	q.items[q.head] = zero
	q.head = (q.head + 1) % len(q.items)
	q.size--

	return v, true
}

// Next blocks until an item is available, the queue is closed and drained,
// or ctx is done. The boolean is false in the latter two cases.
func (q *Queue[T]) Next(ctx context.Context) (T, bool) {
	for {
		if v, ok := q.Pop(); ok {
			return v, true
		}

		q.mu.Lock()
		closed := q.closed
		q.mu.Unlock()

		if closed {
			var zero T
			return zero, false
		}

		select {
		case <-q.notify:
		case <-ctx.Done():
			var zero T
			return zero, false
		}
	}
}

// Close marks the queue closed. Items already queued can still be drained.
func (q *Queue[T]) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return
	}

	q.closed = true
	close(q.notify)
}

// Len returns the number of queued items.
func (q *Queue[T]) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()

	return q.size
}

// Dropped returns how many items have been evicted so far.
func (q *Queue[T]) Dropped() uint64 {
	q.mu.Lock()
	defer q.mu.Unlock()

	return q.dropped
}
