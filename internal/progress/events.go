// Copyright (c) matt-FFFFFF 2025. All rights reserved.
// SPDX-License-Identifier: MIT

package progress

import (
	"time"

	"github.com/matt-FFFFFF/caserun/internal/job"
	"github.com/matt-FFFFFF/caserun/internal/monitor"
)

// Event is a single update about a job.
type Event struct {
	JobID     job.ID
	Type      EventType
	Timestamp time.Time
	State     job.State      // EventStatus
	Sample    monitor.Sample // EventSample
	Outcome   job.Outcome    // EventCompleted
}

// EventType says which payload of an Event is set.
type EventType int

const (
	// EventStatus carries a new JobState snapshot.
	EventStatus EventType = iota
	// EventSample carries a monitor sample.
	EventSample
	// EventCompleted carries the terminal outcome.
	EventCompleted
)

// String implements the Stringer interface for EventType.
func (et EventType) String() string {
	switch et {
	case EventStatus:
		return "status"
	case EventSample:
		return "sample"
	case EventCompleted:
		return "completed"
	default:
		return "unknown"
	}
}

// Lifecycle reports whether the event must not be dropped for samples.
func (et EventType) Lifecycle() bool {
	return et == EventStatus || et == EventCompleted
}

// StatusEvent builds an EventStatus.
func StatusEvent(state job.State) Event {
	return Event{JobID: state.ID, Type: EventStatus, Timestamp: time.Now(), State: state.Clone()}
}

// SampleEvent builds an EventSample.
func SampleEvent(id job.ID, s monitor.Sample) Event {
	return Event{JobID: id, Type: EventSample, Timestamp: s.Timestamp, Sample: s}
}

// CompletedEvent builds an EventCompleted.
func CompletedEvent(id job.ID, o job.Outcome) Event {
	return Event{JobID: id, Type: EventCompleted, Timestamp: time.Now(), Outcome: o}
}

// Observer receives job updates. Callbacks run on a reporter goroutine, one
// call at a time per observer, and should return quickly.
type Observer interface {
	OnStatusChanged(id job.ID, state job.State)
	OnSample(id job.ID, sample monitor.Sample)
	OnCompleted(id job.ID, outcome job.Outcome)
}

// ObserverFuncs adapts functions to Observer. Nil functions are skipped.
type ObserverFuncs struct {
	StatusChanged func(job.ID, job.State)
	Sample        func(job.ID, monitor.Sample)
	Completed     func(job.ID, job.Outcome)
}

var _ Observer = ObserverFuncs{}

// OnStatusChanged implements Observer.
func (f ObserverFuncs) OnStatusChanged(id job.ID, s job.State) {
	if f.StatusChanged != nil {
		f.StatusChanged(id, s)
	}
}

// OnSample implements Observer.
func (f ObserverFuncs) OnSample(id job.ID, s monitor.Sample) {
	if f.Sample != nil {
		f.Sample(id, s)
	}
}

// OnCompleted implements Observer.
func (f ObserverFuncs) OnCompleted(id job.ID, o job.Outcome) {
	if f.Completed != nil {
		f.Completed(id, o)
	}
}

// Deliver calls the Observer method matching e.Type.
func Deliver(o Observer, e Event) {
	switch e.Type {
	case EventStatus:
		o.OnStatusChanged(e.JobID, e.State)
	case EventSample:
		o.OnSample(e.JobID, e.Sample)
	case EventCompleted:
		o.OnCompleted(e.JobID, e.Outcome)
	}
}

// Reporter is the sending side of an event stream.
type Reporter interface {
	// Report queues an event without blocking.
	Report(event Event)
	// Close stops the reporter after queued events have been delivered.
	Close()
}

// NullReporter drops every event.
type NullReporter struct{}

// Report implements Reporter.
func (NullReporter) Report(Event) {}

// Close implements Reporter.
func (NullReporter) Close() {}
