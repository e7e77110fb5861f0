// Copyright (c) matt-FFFFFF 2025. All rights reserved.
// SPDX-License-Identifier: MIT

package batch

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/matt-FFFFFF/caserun/internal/ctxlog"
	"github.com/matt-FFFFFF/caserun/internal/job"
	"golang.org/x/sync/semaphore"
)

// ErrInvalidConcurrency is returned for a concurrency limit below one.
var ErrInvalidConcurrency = errors.New("concurrency limit must be at least 1")

// Supervisor is the part of the job supervisor a batch run needs.
type Supervisor interface {
	Submit(ctx context.Context, spec job.Spec) (job.ID, error)
	Start(id job.ID) error
	Cancel(id job.ID) error
	Status(id job.ID) (job.State, error)
	Wait(ctx context.Context, id job.ID) (job.Outcome, error)
	Done(id job.ID) <-chan struct{}
}

// VariantResult is the end state of one variant.
type VariantResult struct {
	Variant Variant
	JobID   job.ID
	Outcome job.Outcome
	Err     error // set when the outcome could not be collected
}

// Progress counts variants by status.
type Progress struct {
	Total     int
	Waiting   int
	Running   int // includes canceling and stopping
	Completed int
	Failed    int
	Canceled  int
}

// Finished returns the number of variants in a terminal state.
func (p Progress) Finished() int {
	return p.Completed + p.Failed + p.Canceled
}

// Run is a batch in progress.
type Run struct {
	sup      Supervisor
	variants []Variant
	ids      []job.ID
	cancel   context.CancelFunc
	admitted chan struct{} // closed when admission has ended
	stopOnce sync.Once
}

// CreateAndInitialize creates the case directory of every derived variant,
// submits them all, which leaves them Waiting, and then admits them in
// ascending order so that at most concurrencyLimit are running. A queued
// variant is started only after a running one has reached a terminal state.
// If a submission fails, the variants already submitted are canceled and the
// error is returned.
func CreateAndInitialize(ctx context.Context, sup Supervisor, variants []Variant, concurrencyLimit int) (*Run, error) {
	if concurrencyLimit < 1 {
		return nil, fmt.Errorf("%w: got %d", ErrInvalidConcurrency, concurrencyLimit)
	}

	for _, v := range variants {
		if v.BaseCase == "" {
			continue
		}

		if err := InitializeCase(v); err != nil {
			return nil, fmt.Errorf("variant %s: %w", v.Name, err)
		}
	}

	ids := make([]job.ID, 0, len(variants))

	for _, v := range variants {
		id, err := sup.Submit(ctx, v.Spec)
		if err != nil {
			for _, submitted := range ids {
				_ = sup.Cancel(submitted)
			}

			return nil, fmt.Errorf("variant %s: %w", v.Name, err)
		}

		ids = append(ids, id)
	}

	actx, cancel := context.WithCancel(ctx)

	r := &Run{
		sup:      sup,
		variants: variants,
		ids:      ids,
		cancel:   cancel,
		admitted: make(chan struct{}),
	}

	ctxlog.Info(ctx, "batch submitted", "variants", len(variants), "concurrency", concurrencyLimit)

	go r.admit(actx, int64(concurrencyLimit))

	return r, nil
}

func (r *Run) admit(ctx context.Context, limit int64) {
	defer close(r.admitted)

	sem := semaphore.NewWeighted(limit)

	for i, id := range r.ids {
		if err := sem.Acquire(ctx, 1); err != nil {
			r.cancelFrom(i)
			return
		}

		if err := r.sup.Start(id); err != nil {
			// Already canceled or dismissed; its slot is free again.
			ctxlog.Warn(ctx, "variant not started", "variant", r.variants[i].Name, "error", err)
			sem.Release(1)

			continue
		}

		ctxlog.Debug(ctx, "variant admitted", "variant", r.variants[i].Name)

		go func(done <-chan struct{}) {
			<-done
			sem.Release(1)
		}(r.sup.Done(id))
	}
}

// cancelFrom cancels every variant that has not been admitted.
func (r *Run) cancelFrom(i int) {
	for _, id := range r.ids[i:] {
		_ = r.sup.Cancel(id)
	}
}

// IDs returns the job ids in variant order.
func (r *Run) IDs() []job.ID {
	return append([]job.ID(nil), r.ids...)
}

// Stop cancels queued variants and asks running ones to cancel.
func (r *Run) Stop() {
	r.stopOnce.Do(func() {
		r.cancel()
		<-r.admitted

		for _, id := range r.ids {
			_ = r.sup.Cancel(id)
		}
	})
}

// Wait blocks until every variant is terminal and returns the results in
// variant order.
func (r *Run) Wait(ctx context.Context) []VariantResult {
	results := make([]VariantResult, len(r.ids))

	for i, id := range r.ids {
		o, err := r.sup.Wait(ctx, id)
		results[i] = VariantResult{Variant: r.variants[i], JobID: id, Outcome: o, Err: err}
	}

	select {
	case <-r.admitted:
	case <-ctx.Done():
	}

	return results
}

// Progress counts the variants by current status.
func (r *Run) Progress() Progress {
	p := Progress{Total: len(r.ids)}

	for _, id := range r.ids {
		st, err := r.sup.Status(id)
		if err != nil {
			continue
		}

		switch st.Status {
		case job.StatusWaiting:
			p.Waiting++
		case job.StatusRunning, job.StatusCanceling, job.StatusStopping:
			p.Running++
		case job.StatusCompleted:
			p.Completed++
		case job.StatusFailed:
			p.Failed++
		case job.StatusCanceled:
			p.Canceled++
		}
	}

	return p
}
