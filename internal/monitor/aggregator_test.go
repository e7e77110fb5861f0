// Copyright (c) matt-FFFFFF 2025. All rights reserved.
// SPDX-License-Identifier: MIT

package monitor

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/matt-FFFFFF/caserun/internal/procs"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

// sliceSource replays fixed lines then closes.
type sliceSource struct {
	lines []string
}

func (s sliceSource) Subscribe(buffer int) (<-chan procs.Line, func()) {
	ch := make(chan procs.Line, len(s.lines))
	for _, l := range s.lines {
		ch <- procs.Line{Text: l}
	}

	close(ch)

	return ch, func() {}
}

type collector struct {
	mu      sync.Mutex
	samples []Sample
	raw     []string
	times   []float64
	gate    chan struct{}
}

func (c *collector) OnSample(s Sample) {
	if c.gate != nil {
		<-c.gate
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	c.samples = append(c.samples, s)
}

type rawCollector struct {
	collector
}

func (c *rawCollector) OnRawLine(l procs.Line) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.raw = append(c.raw, l.Text)
}

func (c *rawCollector) OnTime(t float64, _ int) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.times = append(c.times, t)
}

func TestAggregator_AttachAndObserve(t *testing.T) {
	defer goleak.VerifyNone(t)

	a := New(Options{Clock: fixedClock})
	plain := &collector{}
	raw := &rawCollector{}

	a.Subscribe(plain)
	a.Subscribe(raw)

	att := a.Attach(context.Background(), sliceSource{lines: strings.Split(solverLog, "\n")})
	<-att.Done()
	a.Close()

	assert.Len(t, plain.samples, 13)
	assert.Len(t, raw.samples, 13)
	assert.Empty(t, plain.raw)
	assert.Contains(t, raw.raw, "End")
	assert.Equal(t, []float64{0.005, 0.01}, raw.times)

	st := a.Stats()
	assert.Equal(t, uint64(13), st.Samples)
	assert.Zero(t, st.Skipped)
	assert.Zero(t, st.Dropped)

	latest, ok := a.Latest(Residual{Solver: "DICPCG"}, "p")
	require.True(t, ok)
	assert.InDelta(t, 0.5, latest.Value.Scalar, 0)
	assert.InDelta(t, 0.01, latest.SolverTime, 1e-12)

	_, ok = a.Latest(Point{Object: "nope"}, "p")
	assert.False(t, ok)
}

func TestAggregator_SkippedLinesAreCounted(t *testing.T) {
	a := New(Options{})
	att := a.Attach(context.Background(), sliceSource{lines: []string{
		"Time = bad",
		"GAMG:  Solving for p, Initial residual = x, Final residual = 0.01, No Iterations 2",
		"Time = 1",
		"GAMG:  Solving for p, Initial residual = 0.3, Final residual = 0.01, No Iterations 2",
	}})

	<-att.Done()
	a.Close()

	st := a.Stats()
	assert.Equal(t, uint64(2), st.Skipped)
	assert.Equal(t, uint64(1), st.Samples)
	assert.Equal(t, uint64(4), st.Lines)
}

func TestAggregator_SlowObserverDropsOldest(t *testing.T) {
	defer goleak.VerifyNone(t)

	a := New(Options{ObserverBuffer: 2})
	slow := &collector{gate: make(chan struct{})}
	a.Subscribe(slow)

	var lines []string
	for i := range 10 {
		lines = append(lines, "Time = "+string(rune('1'+i)))
		lines = append(lines, "GAMG:  Solving for p, Initial residual = 0.5, Final residual = 0.01, No Iterations 2")
	}

	att := a.Attach(context.Background(), sliceSource{lines: lines[:18]})
	<-att.Done()

	assert.Positive(t, a.Stats().Dropped)

	close(slow.gate)
	a.Close()

	// at most the one in flight plus the queue
	assert.LessOrEqual(t, len(slow.samples), 3)
	assert.InDelta(t, 9.0, slow.samples[len(slow.samples)-1].SolverTime, 0, "newest sample survives")
}

func TestAggregator_Unsubscribe(t *testing.T) {
	defer goleak.VerifyNone(t)

	a := New(Options{})
	c := &collector{}
	id := a.Subscribe(c)
	a.Unsubscribe(id)
	a.Unsubscribe(id)

	att := a.Attach(context.Background(), sliceSource{lines: []string{
		"GAMG:  Solving for p, Initial residual = 0.3, Final residual = 0.01, No Iterations 2",
	}})
	<-att.Done()
	a.Close()

	assert.Empty(t, c.samples)

	// subscribing after close is harmless
	a.Subscribe(&collector{})
}

// blockingSource never closes until canceled.
type blockingSource struct {
	canceled chan struct{}
}

func (b blockingSource) Subscribe(int) (<-chan procs.Line, func()) {
	var once sync.Once

	return make(chan procs.Line), func() { once.Do(func() { close(b.canceled) }) }
}

func TestAggregator_Detach(t *testing.T) {
	defer goleak.VerifyNone(t)

	a := New(Options{})
	src := blockingSource{canceled: make(chan struct{})}
	att := a.Attach(context.Background(), src)
	att.Detach()

	select {
	case <-src.canceled:
	case <-time.After(time.Second):
		t.Fatal("source was not unsubscribed")
	}

	a.Close()
}
