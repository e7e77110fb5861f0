// Copyright (c) matt-FFFFFF 2025. All rights reserved.
// SPDX-License-Identifier: MIT

package supervisor

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/matt-FFFFFF/caserun/internal/caserunner"
	"github.com/matt-FFFFFF/caserun/internal/control"
	"github.com/matt-FFFFFF/caserun/internal/ctxlog"
	"github.com/matt-FFFFFF/caserun/internal/dispatch"
	"github.com/matt-FFFFFF/caserun/internal/job"
	"github.com/matt-FFFFFF/caserun/internal/metrics"
	"github.com/matt-FFFFFF/caserun/internal/progress"
)

var (
	// ErrJobNotFound is returned for an unknown or dismissed job id.
	ErrJobNotFound = errors.New("job not found")
	// ErrUpdateRejected is returned when a job no longer accepts configuration updates.
	ErrUpdateRejected = errors.New("configuration update rejected")
	// ErrInvalidTransition is returned when a request does not apply to the job's state.
	ErrInvalidTransition = errors.New("invalid state transition")
	// ErrShutdown is returned by Submit after Shutdown was called.
	ErrShutdown = errors.New("supervisor is shutting down")
)

// Options configures a Supervisor. Every field is optional.
type Options struct {
	// Dispatcher resolves launch plans and solver command lines.
	Dispatcher *dispatch.Dispatcher
	// Generator replaces the generator command of every job.
	Generator caserunner.CaseGenerator
	// Control returns the control channel for a job; nil means the case controlDict.
	Control func(spec job.Spec) control.Channel
	// LogFiles tees process output to log files in each case directory.
	LogFiles bool
	// ObserverBuffer bounds undelivered samples per observer.
	ObserverBuffer int
	// Clock defaults to time.Now.
	Clock func() time.Time
	// Metrics is optional.
	Metrics *metrics.Metrics
}

// SubscriptionID identifies an observer registration.
type SubscriptionID uint64

// Supervisor tracks jobs by id.
type Supervisor struct {
	ctx  context.Context
	opts Options
	wg   sync.WaitGroup

	mu        sync.RWMutex
	jobs      map[job.ID]*unit
	order     []job.ID
	observers map[SubscriptionID]*progress.QueueReporter
	nextSub   SubscriptionID
	closed    bool
}

// New creates a Supervisor. Jobs run under ctx: when it is canceled, waiting
// jobs end Canceled and running processes are killed.
func New(ctx context.Context, opts Options) *Supervisor {
	if opts.Dispatcher == nil {
		opts.Dispatcher = dispatch.New()
	}

	if opts.Clock == nil {
		opts.Clock = time.Now
	}

	return &Supervisor{
		ctx:       ctx,
		opts:      opts,
		jobs:      make(map[job.ID]*unit),
		observers: make(map[SubscriptionID]*progress.QueueReporter),
	}
}

// Submit validates spec and resolves its launch plan. On success the job is
// registered as Waiting; on error nothing is registered.
func (s *Supervisor) Submit(ctx context.Context, spec job.Spec) (job.ID, error) {
	spec = spec.WithDefaults()

	if err := spec.Validate(); err != nil {
		return "", err //nolint:wrapcheck
	}

	plan, err := s.opts.Dispatcher.Resolve(spec)
	if err != nil {
		return "", err //nolint:wrapcheck
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return "", ErrShutdown
	}

	u := newUnit(s, spec, plan)
	s.jobs[u.id] = u
	s.order = append(s.order, u.id)
	s.opts.Metrics.RecordSubmitted()

	s.wg.Add(1)

	go u.loop(s.ctx)

	ctxlog.Debug(ctx, "submitted job", "id", u.id.String(), "name", spec.Name)
	s.broadcastLocked(progress.StatusEvent(u.snapshot.Load().Clone()))

	return u.id, nil
}

// Start moves a Waiting job to Running.
func (s *Supervisor) Start(id job.ID) error {
	return s.call(id, cmdStart, job.Patch{})
}

// SubmitAndStart submits spec and starts it.
func (s *Supervisor) SubmitAndStart(ctx context.Context, spec job.Spec) (job.ID, error) {
	id, err := s.Submit(ctx, spec)
	if err != nil {
		return "", err
	}

	return id, s.Start(id)
}

// Cancel stops a job without saving. A Waiting job ends Canceled at once.
func (s *Supervisor) Cancel(id job.ID) error {
	return s.call(id, cmdCancel, job.Patch{})
}

// SaveAndStop asks the solver to write its current state and stop.
func (s *Supervisor) SaveAndStop(id job.ID) error {
	return s.call(id, cmdSaveAndStop, job.Patch{})
}

// ForceStop kills the active process. Repeated calls do not kill again.
func (s *Supervisor) ForceStop(id job.ID) error {
	return s.call(id, cmdForceStop, job.Patch{})
}

// UpdateConfiguration replaces the pending configuration of a Waiting job or
// forwards the patch to the solver of a Running job.
func (s *Supervisor) UpdateConfiguration(id job.ID, patch job.Patch) error {
	if err := patch.Validate(); err != nil {
		return errors.Join(ErrUpdateRejected, err)
	}

	return s.call(id, cmdUpdate, patch)
}

// Status returns a snapshot of the job.
func (s *Supervisor) Status(id job.ID) (job.State, error) {
	u, err := s.lookup(id)
	if err != nil {
		return job.State{}, err
	}

	return u.snapshot.Load().Clone(), nil
}

// Wait blocks until the job is terminal and returns its outcome.
func (s *Supervisor) Wait(ctx context.Context, id job.ID) (job.Outcome, error) {
	u, err := s.lookup(id)
	if err != nil {
		return job.Outcome{}, err
	}

	select {
	case <-u.done:
		return u.outcome, nil
	case <-ctx.Done():
		return job.Outcome{}, ctx.Err() //nolint:wrapcheck
	}
}

// Done returns a channel closed when the job is terminal. Unknown jobs yield
// a closed channel.
func (s *Supervisor) Done(id job.ID) <-chan struct{} {
	u, err := s.lookup(id)
	if err != nil {
		c := make(chan struct{})
		close(c)

		return c
	}

	return u.done
}

// List returns snapshots of every job in submission order.
func (s *Supervisor) List() []job.State {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]job.State, 0, len(s.order))
	for _, id := range s.order {
		out = append(out, s.jobs[id].snapshot.Load().Clone())
	}

	return out
}

// Dismiss forgets a terminal job.
func (s *Supervisor) Dismiss(id job.ID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	u, ok := s.jobs[id]
	if !ok {
		return ErrJobNotFound
	}

	select {
	case <-u.done:
	default:
		return fmt.Errorf("%w: cannot dismiss a %s job", ErrInvalidTransition, u.snapshot.Load().Status)
	}

	delete(s.jobs, id)
	s.order = slices.DeleteFunc(s.order, func(v job.ID) bool { return v == id })

	return nil
}

// Subscribe registers an observer for every job.
func (s *Supervisor) Subscribe(o progress.Observer) SubscriptionID {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.nextSub++
	s.observers[s.nextSub] = progress.NewQueueReporter(context.WithoutCancel(s.ctx), o, s.opts.ObserverBuffer)

	return s.nextSub
}

// Unsubscribe removes an observer after its queued events were delivered.
func (s *Supervisor) Unsubscribe(id SubscriptionID) {
	s.mu.Lock()
	r, ok := s.observers[id]
	delete(s.observers, id)
	s.mu.Unlock()

	if ok {
		r.Close()
	}
}

// Shutdown stops accepting jobs, cancels jobs that never started and waits
// for the others to finish. Running jobs are left to finish; use Cancel or
// ForceStop first to end them sooner. Observers are closed afterwards.
func (s *Supervisor) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	s.closed = true
	units := make([]*unit, 0, len(s.jobs))

	for _, u := range s.jobs {
		units = append(units, u)
	}
	s.mu.Unlock()

	for _, u := range units {
		if u.snapshot.Load().Status == job.StatusWaiting {
			_ = u.call(cmdCancel, job.Patch{})
		}
	}

	done := make(chan struct{})

	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-ctx.Done():
		return ctx.Err() //nolint:wrapcheck
	}

	s.mu.Lock()
	reporters := make([]*progress.QueueReporter, 0, len(s.observers))

	for id, r := range s.observers {
		reporters = append(reporters, r)
		delete(s.observers, id)
	}
	s.mu.Unlock()

	for _, r := range reporters {
		r.Close()
	}

	return nil
}

func (s *Supervisor) call(id job.ID, kind commandKind, patch job.Patch) error {
	u, err := s.lookup(id)
	if err != nil {
		return err
	}

	return u.call(kind, patch)
}

func (s *Supervisor) lookup(id job.ID) (*unit, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	u, ok := s.jobs[id]
	if !ok {
		return nil, ErrJobNotFound
	}

	return u, nil
}

func (s *Supervisor) controlFor(spec job.Spec) control.Channel {
	if s.opts.Control == nil {
		return nil
	}

	return s.opts.Control(spec)
}

func (s *Supervisor) broadcast(e progress.Event) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	s.broadcastLocked(e)
}

func (s *Supervisor) broadcastLocked(e progress.Event) {
	for _, r := range s.observers {
		r.Report(e)
	}
}
