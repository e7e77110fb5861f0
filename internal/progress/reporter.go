// Copyright (c) matt-FFFFFF 2025. All rights reserved.
// SPDX-License-Identifier: MIT

package progress

import (
	"context"
	"sync"

	"github.com/matt-FFFFFF/caserun/internal/dropqueue"
)

// Queue sizes used when NewQueueReporter is given a non-positive buffer.
const (
	DefaultSampleBuffer    = 256
	defaultLifecycleBuffer = 4096
)

// QueueReporter delivers events to one Observer on its own goroutine.
// Lifecycle events are preferred over samples and have a much larger queue;
// when the sample queue is full the oldest sample is discarded.
type QueueReporter struct {
	lifecycle *dropqueue.Queue[Event]
	samples   *dropqueue.Queue[Event]
	wake      chan struct{}
	ctx       context.Context
	cancel    context.CancelFunc
	closing   chan struct{}
	once      sync.Once
	done      chan struct{}
}

var _ Reporter = (*QueueReporter)(nil)

// NewQueueReporter starts delivering events to o. sampleBuffer bounds the
// number of undelivered samples.
func NewQueueReporter(ctx context.Context, o Observer, sampleBuffer int) *QueueReporter {
	if sampleBuffer <= 0 {
		sampleBuffer = DefaultSampleBuffer
	}

	rctx, cancel := context.WithCancel(ctx)

	r := &QueueReporter{
		lifecycle: dropqueue.New[Event](defaultLifecycleBuffer),
		samples:   dropqueue.New[Event](sampleBuffer),
		wake:      make(chan struct{}, 1),
		ctx:       rctx,
		cancel:    cancel,
		closing:   make(chan struct{}),
		done:      make(chan struct{}),
	}

	go r.listen(o)

	return r
}

// Report implements Reporter.
func (r *QueueReporter) Report(e Event) {
	select {
	case <-r.closing:
		return
	default:
	}

	if e.Type.Lifecycle() {
		r.lifecycle.Push(e)
	} else {
		r.samples.Push(e)
	}

	select {
	case r.wake <- struct{}{}:
	default:
	}
}

// Close implements Reporter. Events queued before Close are still delivered
// unless the parent context is canceled.
func (r *QueueReporter) Close() {
	r.once.Do(func() {
		close(r.closing)
		r.lifecycle.Close()
		r.samples.Close()
		<-r.done
		r.cancel()
	})
}

// Dropped returns how many samples were discarded.
func (r *QueueReporter) Dropped() uint64 {
	return r.samples.Dropped()
}

func (r *QueueReporter) listen(o Observer) {
	defer close(r.done)

	for {
		if e, ok := r.lifecycle.Pop(); ok {
			Deliver(o, e)
			continue
		}

		if e, ok := r.samples.Pop(); ok {
			Deliver(o, e)
			continue
		}

		select {
		case <-r.closing:
			// Drain whatever raced in before the queues closed.
			if r.lifecycle.Len() > 0 || r.samples.Len() > 0 {
				continue
			}

			return
		case <-r.wake:
		case <-r.ctx.Done():
			return
		}
	}
}
