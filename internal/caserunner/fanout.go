// Copyright (c) matt-FFFFFF 2025. All rights reserved.
// SPDX-License-Identifier: MIT

package caserunner

import (
	"context"
	"sync"

	"github.com/matt-FFFFFF/caserun/internal/dropqueue"
	"github.com/matt-FFFFFF/caserun/internal/procs"
)

// DefaultSubscriberBuffer is used when Subscribe is given a non-positive buffer.
const DefaultSubscriberBuffer = 1024

type subscriber struct {
	queue *dropqueue.Queue[procs.Line]
	ch    chan procs.Line
	stop  chan struct{}
	once  sync.Once
}

func (s *subscriber) pump() {
	defer close(s.ch)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go func() {
		select {
		case <-s.stop:
			cancel()
		case <-ctx.Done():
		}
	}()

	for {
		l, ok := s.queue.Next(ctx)
		if !ok {
			return
		}

		select {
		case s.ch <- l:
		case <-s.stop:
			return
		}
	}
}

func (s *subscriber) cancel() {
	s.once.Do(func() {
		close(s.stop)
		s.queue.Close()
	})
}

// fanout copies lines to every subscriber.
type fanout struct {
	mu     sync.Mutex
	subs   map[*subscriber]struct{}
	closed bool
}

func newFanout() *fanout {
	return &fanout{subs: make(map[*subscriber]struct{})}
}

func (f *fanout) subscribe(buffer int) (<-chan procs.Line, func()) {
	if buffer <= 0 {
		buffer = DefaultSubscriberBuffer
	}

	s := &subscriber{
		queue: dropqueue.New[procs.Line](buffer),
		ch:    make(chan procs.Line),
		stop:  make(chan struct{}),
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	if f.closed {
		s.queue.Close()
	} else {
		f.subs[s] = struct{}{}
	}

	go s.pump()

	return s.ch, func() {
		f.mu.Lock()
		delete(f.subs, s)
		f.mu.Unlock()
		s.cancel()
	}
}

func (f *fanout) publish(l procs.Line) {
	f.mu.Lock()
	defer f.mu.Unlock()

	for s := range f.subs {
		s.queue.Push(l)
	}
}

// close ends every subscription once its queued lines are read.
func (f *fanout) close() {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.closed {
		return
	}

	f.closed = true

	for s := range f.subs {
		s.queue.Close()
	}
}
