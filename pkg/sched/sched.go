// Package sched implements a single-threaded cooperative scheduler with an
// in-process publish/subscribe message bus.
//
// A program registers tasks (periodic callbacks) and subscriptions
// (topic-pattern callbacks) on an Engine, then calls Loop repeatedly. Each
// pass drains the pending message queue, delivering every message to all
// matching subscribers, and invokes each task whose interval has elapsed.
// Tasks communicate with each other, and with collaborators outside the
// engine, purely by publishing to hierarchical topics; published topics are
// matched against subscription patterns using MQTT-style wildcard rules.
//
// The engine itself performs no I/O and never blocks. Tasks and subscribers
// must return promptly; long operations have to be decomposed across
// multiple invocations.
package sched

import "time"

// SchedulerMain is the reserved pseudo-task id denoting the outer program.
// It owns subscriptions not tied to any real task; CPU time spent in such
// subscribers is accounted to the engine's main-time counter. It is never
// the id of a real task entry.
const SchedulerMain = 0

// Priority classifies a task. Priorities are carried and reported in
// statistics but do not influence execution order: tasks always run in
// registration order.
type Priority int

const (
	PrioSyscritical Priority = iota
	PrioTimecritical
	PrioHigh
	PrioNormal
	PrioLow
	PrioLowest
)

func (p Priority) String() string {
	switch p {
	case PrioSyscritical:
		return "syscritical"
	case PrioTimecritical:
		return "timecritical"
	case PrioHigh:
		return "high"
	case PrioNormal:
		return "normal"
	case PrioLow:
		return "low"
	case PrioLowest:
		return "lowest"
	default:
		return "unknown"
	}
}

// TaskFunc is a task callback. It is invoked by the engine loop whenever the
// task's interval has elapsed.
type TaskFunc func()

// SubscriberFunc is a subscription callback, invoked once per matching
// published message.
type SubscriberFunc func(topic, msg, originator string)

// Message is one owned record travelling through the engine's queue.
type Message struct {
	Originator string
	Topic      string
	Msg        string
}

// TaskInfo is a read-only snapshot of one registered task, as exposed to
// consoles and monitoring surfaces.
type TaskInfo struct {
	ID        int
	Name      string
	Priority  Priority
	Interval  time.Duration
	CallCount uint64
	CPUTime   time.Duration
	LateTime  time.Duration
}
