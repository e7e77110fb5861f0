// Copyright (c) matt-FFFFFF 2025. All rights reserved.
// SPDX-License-Identifier: MIT

package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMetrics_Record(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)

	m.RecordSubmitted()
	m.RecordStarted()
	m.RecordFinished("completed", true)
	m.RecordFinished("canceled", false)
	m.ObserveStep("solve", time.Second)
	m.RecordSample("residual")
	m.RecordSample("residual")
	m.RecordSkipped()
	m.RecordDropped()
	m.RecordKill()

	assert.InDelta(t, 1, testutil.ToFloat64(m.jobsSubmitted), 0)
	assert.InDelta(t, 0, testutil.ToFloat64(m.jobsRunning), 0)
	assert.InDelta(t, 1, testutil.ToFloat64(m.jobsFinished.WithLabelValues("canceled")), 0)
	assert.InDelta(t, 2, testutil.ToFloat64(m.samples.WithLabelValues("residual")), 0)
	assert.InDelta(t, 1, testutil.ToFloat64(m.kills), 0)

	families, err := reg.Gather()
	require.NoError(t, err)
	assert.NotEmpty(t, families)
}

func TestMetrics_NilIsNoop(t *testing.T) {
	var m *Metrics

	m.RecordSubmitted()
	m.RecordStarted()
	m.RecordFinished("failed", true)
	m.ObserveStep("solve", time.Second)
	m.RecordSample("point")
	m.RecordSkipped()
	m.RecordDropped()
	m.RecordKill()
}

func TestMetrics_UnregisteredDoesNotPanic(t *testing.T) {
	assert.NotPanics(t, func() {
		New(nil).RecordSubmitted()
		New(nil).RecordSubmitted()
	})
}
