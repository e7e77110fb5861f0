// Copyright (c) matt-FFFFFF 2025. All rights reserved.
// SPDX-License-Identifier: MIT

// Package metrics exposes Prometheus counters for jobs, pipeline steps and
// monitor parsing. A nil *Metrics is valid and records nothing.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Prefix is prepended to every metric name.
const Prefix = "caserun_"

// Metrics holds the collectors.
type Metrics struct {
	jobsSubmitted  prometheus.Counter
	jobsFinished   *prometheus.CounterVec
	jobsRunning    prometheus.Gauge
	stepDuration   *prometheus.HistogramVec
	samples        *prometheus.CounterVec
	linesSkipped   prometheus.Counter
	samplesDropped prometheus.Counter
	kills          prometheus.Counter
}

// New registers the collectors with reg. A nil reg creates unregistered
// collectors, which is useful in tests.
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)

	return &Metrics{
		jobsSubmitted: f.NewCounter(prometheus.CounterOpts{
			Name: Prefix + "jobs_submitted_total",
			Help: "Number of jobs accepted by the supervisor",
		}),
		jobsFinished: f.NewCounterVec(prometheus.CounterOpts{
			Name: Prefix + "jobs_finished_total",
			Help: "Number of jobs that reached a terminal state, grouped by status",
		}, []string{"status"}),
		jobsRunning: f.NewGauge(prometheus.GaugeOpts{
			Name: Prefix + "jobs_running",
			Help: "Number of jobs currently running",
		}),
		stepDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    Prefix + "step_duration_seconds",
			Help:    "Duration of pipeline steps",
			Buckets: prometheus.ExponentialBuckets(0.1, 4, 10),
		}, []string{"step"}),
		samples: f.NewCounterVec(prometheus.CounterOpts{
			Name: Prefix + "monitor_samples_total",
			Help: "Number of monitor samples parsed from solver output, grouped by source kind",
		}, []string{"kind"}),
		linesSkipped: f.NewCounter(prometheus.CounterOpts{
			Name: Prefix + "monitor_lines_skipped_total",
			Help: "Number of malformed monitor lines",
		}),
		samplesDropped: f.NewCounter(prometheus.CounterOpts{
			Name: Prefix + "observer_samples_dropped_total",
			Help: "Number of samples discarded because an observer fell behind",
		}),
		kills: f.NewCounter(prometheus.CounterOpts{
			Name: Prefix + "process_kills_total",
			Help: "Number of forced process kills",
		}),
	}
}

// RecordSubmitted counts an accepted job.
func (m *Metrics) RecordSubmitted() {
	if m == nil {
		return
	}

	m.jobsSubmitted.Inc()
}

// RecordStarted counts a job entering Running.
func (m *Metrics) RecordStarted() {
	if m == nil {
		return
	}

	m.jobsRunning.Inc()
}

// RecordFinished counts a terminal job. wasRunning is false for jobs that
// were canceled while waiting.
func (m *Metrics) RecordFinished(status string, wasRunning bool) {
	if m == nil {
		return
	}

	if wasRunning {
		m.jobsRunning.Dec()
	}

	m.jobsFinished.WithLabelValues(status).Inc()
}

// ObserveStep records how long a step ran.
func (m *Metrics) ObserveStep(step string, d time.Duration) {
	if m == nil {
		return
	}

	m.stepDuration.WithLabelValues(step).Observe(d.Seconds())
}

// RecordSample counts a parsed sample.
func (m *Metrics) RecordSample(kind string) {
	if m == nil {
		return
	}

	m.samples.WithLabelValues(kind).Inc()
}

// RecordSkipped counts a malformed line.
func (m *Metrics) RecordSkipped() {
	if m == nil {
		return
	}

	m.linesSkipped.Inc()
}

// RecordDropped counts a sample evicted from an observer queue.
func (m *Metrics) RecordDropped() {
	if m == nil {
		return
	}

	m.samplesDropped.Inc()
}

// RecordKill counts a forced kill.
func (m *Metrics) RecordKill() {
	if m == nil {
		return
	}

	m.kills.Inc()
}
