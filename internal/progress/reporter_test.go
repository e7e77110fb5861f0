// Copyright (c) matt-FFFFFF 2025. All rights reserved.
// SPDX-License-Identifier: MIT

package progress

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/matt-FFFFFF/caserun/internal/job"
	"github.com/matt-FFFFFF/caserun/internal/monitor"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

type recorder struct {
	mu        sync.Mutex
	statuses  []job.Status
	samples   []float64
	completed []job.Outcome
	block     chan struct{}
}

func (r *recorder) OnStatusChanged(_ job.ID, s job.State) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.statuses = append(r.statuses, s.Status)
}

func (r *recorder) OnSample(_ job.ID, s monitor.Sample) {
	if r.block != nil {
		<-r.block
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	r.samples = append(r.samples, s.Value.Scalar)
}

func (r *recorder) OnCompleted(_ job.ID, o job.Outcome) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.completed = append(r.completed, o)
}

func TestEventType_String(t *testing.T) {
	tests := []struct {
		eventType EventType
		expected  string
	}{
		{EventStatus, "status"},
		{EventSample, "sample"},
		{EventCompleted, "completed"},
		{EventType(999), "unknown"},
	}

	for _, tt := range tests {
		t.Run(tt.expected, func(t *testing.T) {
			assert.Equal(t, tt.expected, tt.eventType.String())
		})
	}
}

func TestNullReporter(t *testing.T) {
	r := NullReporter{}
	r.Report(StatusEvent(job.State{}))
	r.Close()
}

func TestQueueReporter_DeliversInOrder(t *testing.T) {
	defer goleak.VerifyNone(t)

	rec := &recorder{}
	r := NewQueueReporter(context.Background(), rec, 10)

	for _, s := range []job.Status{job.StatusWaiting, job.StatusRunning, job.StatusCompleted} {
		r.Report(StatusEvent(job.State{ID: "a", Status: s}))
	}

	r.Report(SampleEvent("a", monitor.Sample{Value: monitor.ScalarValue(1)}))
	r.Report(CompletedEvent("a", job.Outcome{Status: job.StatusCompleted}))
	r.Close()

	assert.Equal(t, []job.Status{job.StatusWaiting, job.StatusRunning, job.StatusCompleted}, rec.statuses)
	assert.Equal(t, []float64{1}, rec.samples)
	require.Len(t, rec.completed, 1)

	// reports after close are ignored
	r.Report(StatusEvent(job.State{ID: "a"}))
}

func TestQueueReporter_SlowObserverDropsOldestSamples(t *testing.T) {
	defer goleak.VerifyNone(t)

	rec := &recorder{block: make(chan struct{})}
	r := NewQueueReporter(context.Background(), rec, 3)

	// first sample is taken by the listener and blocks there
	r.Report(SampleEvent("a", monitor.Sample{Value: monitor.ScalarValue(0)}))
	time.Sleep(50 * time.Millisecond)

	for i := 1; i <= 10; i++ {
		r.Report(SampleEvent("a", monitor.Sample{Value: monitor.ScalarValue(float64(i))}))
	}

	r.Report(CompletedEvent("a", job.Outcome{Status: job.StatusCompleted}))

	assert.Equal(t, uint64(7), r.Dropped())

	close(rec.block)
	r.Close()

	assert.Equal(t, []float64{0, 8, 9, 10}, rec.samples)
	assert.Len(t, rec.completed, 1, "lifecycle events are never dropped for samples")
}

func TestQueueReporter_ContextCancel(t *testing.T) {
	defer goleak.VerifyNone(t)

	ctx, cancel := context.WithCancel(context.Background())
	r := NewQueueReporter(ctx, &recorder{}, 1)
	cancel()
	r.Close()
}

func TestObserverFuncs(t *testing.T) {
	var got []string

	o := ObserverFuncs{
		Completed: func(id job.ID, _ job.Outcome) { got = append(got, "done "+id.String()) },
	}

	Deliver(o, StatusEvent(job.State{ID: "x"}))
	Deliver(o, SampleEvent("x", monitor.Sample{}))
	Deliver(o, CompletedEvent("x", job.Outcome{}))

	assert.Equal(t, []string{"done x"}, got)
}
