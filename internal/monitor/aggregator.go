// Copyright (c) matt-FFFFFF 2025. All rights reserved.
// SPDX-License-Identifier: MIT

package monitor

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	lru "github.com/hashicorp/golang-lru"
	"github.com/matt-FFFFFF/caserun/internal/ctxlog"
	"github.com/matt-FFFFFF/caserun/internal/dropqueue"
	"github.com/matt-FFFFFF/caserun/internal/metrics"
	"github.com/matt-FFFFFF/caserun/internal/procs"
)

// Defaults for Options.
const (
	DefaultObserverBuffer = 256
	DefaultLatestSize     = 512
	defaultSourceBuffer   = 1024
)

// LineSource is a stream of output lines. The channel is closed when the
// source has no more output; cancel detaches early.
type LineSource interface {
	Subscribe(buffer int) (lines <-chan procs.Line, cancel func())
}

// Observer receives parsed samples.
type Observer interface {
	OnSample(s Sample)
}

// RawObserver is implemented by observers that also want the lines that are
// not part of the monitor grammar.
type RawObserver interface {
	OnRawLine(line procs.Line)
}

// TimeObserver is implemented by observers that track the solver clock.
type TimeObserver interface {
	OnTime(solverTime float64, iteration int)
}

// ObserverFunc adapts a function to Observer.
type ObserverFunc func(Sample)

// OnSample implements Observer.
func (f ObserverFunc) OnSample(s Sample) { f(s) }

// SubscriptionID identifies an observer registration.
type SubscriptionID uint64

// Stats are cumulative counters.
type Stats struct {
	Lines   uint64 // lines read
	Samples uint64 // samples emitted
	Skipped uint64 // malformed monitor lines
	Dropped uint64 // items evicted from slow observer queues
}

// Options configures an Aggregator.
type Options struct {
	ObserverBuffer int              // per-observer queue length
	LatestSize     int              // number of (source, field) pairs remembered by Latest
	Clock          func() time.Time // sample timestamps, defaults to time.Now
	Metrics        *metrics.Metrics // optional
}

// Aggregator parses solver output from any number of attached sources and fans
// the samples out to observers. Observers never slow down parsing: each has
// its own bounded queue that drops the oldest item when full.
type Aggregator struct {
	opts   Options
	latest *lru.Cache

	mu        sync.RWMutex
	observers map[SubscriptionID]*subscriber
	nextID    SubscriptionID
	closed    bool

	attached sync.WaitGroup

	lines   atomic.Uint64
	samples atomic.Uint64
	skipped atomic.Uint64
	dropped atomic.Uint64
}

type item struct {
	sample   Sample
	raw      procs.Line
	isRaw    bool
	isTime   bool
	time     float64
	interval int
}

type subscriber struct {
	obs   Observer
	queue *dropqueue.Queue[item]
	done  chan struct{}
}

// New creates an Aggregator.
func New(opts Options) *Aggregator {
	if opts.ObserverBuffer <= 0 {
		opts.ObserverBuffer = DefaultObserverBuffer
	}

	if opts.LatestSize <= 0 {
		opts.LatestSize = DefaultLatestSize
	}

	if opts.Clock == nil {
		opts.Clock = time.Now
	}

	// lru.New only fails for a non-positive size.
	latest, _ := lru.New(opts.LatestSize)

	return &Aggregator{
		opts:      opts,
		latest:    latest,
		observers: make(map[SubscriptionID]*subscriber),
	}
}

// Subscribe registers o and returns its id.
func (a *Aggregator) Subscribe(o Observer) SubscriptionID {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.nextID++
	id := a.nextID

	s := &subscriber{
		obs:   o,
		queue: dropqueue.New[item](a.opts.ObserverBuffer),
		done:  make(chan struct{}),
	}

	if a.closed {
		s.queue.Close()
		close(s.done)

		return id
	}

	a.observers[id] = s

	go s.deliver()

	return id
}

// Unsubscribe removes an observer after its queued items were delivered.
func (a *Aggregator) Unsubscribe(id SubscriptionID) {
	a.mu.Lock()
	s, ok := a.observers[id]
	delete(a.observers, id)
	a.mu.Unlock()

	if ok {
		s.queue.Close()
		<-s.done
	}
}

// Attachment is a running Attach.
type Attachment struct {
	cancel context.CancelFunc
	done   chan struct{}
}

// Done is closed once the source is exhausted or detached.
func (t *Attachment) Done() <-chan struct{} {
	return t.done
}

// Detach stops reading from the source and waits.
func (t *Attachment) Detach() {
	t.cancel()
	<-t.done
}

// Attach starts parsing src in the background with a fresh Parser.
func (a *Aggregator) Attach(ctx context.Context, src LineSource) *Attachment {
	ctx, cancel := context.WithCancel(ctx)
	lines, unsubscribe := src.Subscribe(defaultSourceBuffer)

	t := &Attachment{cancel: cancel, done: make(chan struct{})}

	a.attached.Add(1)

	go func() {
		defer a.attached.Done()
		defer close(t.done)
		defer unsubscribe()

		p := NewParser(a.opts.Clock)

		for {
			select {
			case <-ctx.Done():
				return
			case l, ok := <-lines:
				if !ok {
					return
				}

				a.Feed(ctx, p, l)
			}
		}
	}()

	return t
}

// Feed parses one line with p and publishes the result.
func (a *Aggregator) Feed(ctx context.Context, p *Parser, l procs.Line) {
	a.lines.Add(1)

	iteration := p.Iteration()
	samples, res := p.Feed(l.Text)

	switch res {
	case Skipped:
		a.skipped.Add(1)
		a.opts.Metrics.RecordSkipped()
		ctxlog.Debug(ctx, "skipping malformed monitor line", "line", l.Text)
	case Raw:
		a.publish(item{raw: l, isRaw: true})
	case Parsed:
		if p.Iteration() != iteration {
			a.publish(item{isTime: true, time: p.SolverTime(), interval: p.Iteration()})
		}
	}

	for _, s := range samples {
		a.samples.Add(1)
		a.latest.Add(latestKey{source: s.Source, field: s.Field}, s)
		a.opts.Metrics.RecordSample(KindOf(s.Source))
		a.publish(item{sample: s})
	}
}

type latestKey struct {
	source Source
	field  string
}

// Latest returns the most recent sample for a source and field.
func (a *Aggregator) Latest(source Source, field string) (Sample, bool) {
	v, ok := a.latest.Get(latestKey{source: source, field: field})
	if !ok {
		return Sample{}, false
	}

	return v.(Sample), true //nolint:forcetypeassert
}

// Stats returns the cumulative counters.
func (a *Aggregator) Stats() Stats {
	return Stats{
		Lines:   a.lines.Load(),
		Samples: a.samples.Load(),
		Skipped: a.skipped.Load(),
		Dropped: a.dropped.Load(),
	}
}

// Wait blocks until every attached source is exhausted or detached.
func (a *Aggregator) Wait() {
	a.attached.Wait()
}

// Close waits for attached sources, then delivers what is queued and stops
// every observer.
func (a *Aggregator) Close() {
	a.attached.Wait()

	a.mu.Lock()
	a.closed = true
	subs := make([]*subscriber, 0, len(a.observers))

	for id, s := range a.observers {
		subs = append(subs, s)
		delete(a.observers, id)
	}
	a.mu.Unlock()

	for _, s := range subs {
		s.queue.Close()
		<-s.done
	}
}

func (a *Aggregator) publish(it item) {
	a.mu.RLock()
	defer a.mu.RUnlock()

	for _, s := range a.observers {
		if it.isRaw {
			if _, ok := s.obs.(RawObserver); !ok {
				continue
			}
		}

		if it.isTime {
			if _, ok := s.obs.(TimeObserver); !ok {
				continue
			}
		}

		if s.queue.Push(it) {
			a.dropped.Add(1)
			a.opts.Metrics.RecordDropped()
		}
	}
}

func (s *subscriber) deliver() {
	defer close(s.done)

	for {
		it, ok := s.queue.Next(context.Background())
		if !ok {
			return
		}

		switch {
		case it.isRaw:
			s.obs.(RawObserver).OnRawLine(it.raw) //nolint:forcetypeassert
		case it.isTime:
			s.obs.(TimeObserver).OnTime(it.time, it.interval) //nolint:forcetypeassert
		default:
			s.obs.OnSample(it.sample)
		}
	}
}
