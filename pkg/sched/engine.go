package sched

import (
	"strconv"
	"strings"
	"time"
)

// noTask is the currentTaskID value while no task callback is executing.
const noTask = -2

const microsPerSecond = 1_000_000

type taskEntry struct {
	id        int
	name      string
	fn        TaskFunc
	prio      Priority
	interval  int64 // µs between invocations; 0 suspends the task
	lastCall  int64 // start of the previous invocation
	lateTime  int64
	cpuTime   int64
	callCount uint64
}

type subscription struct {
	handle     int
	taskID     int
	pattern    string
	originator string
	fn         SubscriberFunc
	removed    bool // unsubscribed mid-delivery, awaiting compaction
}

// Engine is a cooperative scheduler combined with a pub/sub message bus.
// All methods except Publish and PublishFrom must be called from the single
// goroutine that drives Loop; publishing is additionally safe from other
// goroutines because it only touches the locked queue.
//
// Multiple independent engines may coexist; each owns its registries and
// queue and shares no state with any other.
type Engine struct {
	tasks []*taskEntry
	subs  []*subscription
	queue *messageQueue

	nextTaskID    int
	nextSubHandle int
	currentTaskID int

	singleTask   bool
	singleTaskID int

	delivering bool
	subsDirty  bool

	genStats       bool
	statIntervalMs int64
	statTimer      int64
	systemTimer    int64
	systemTime     int64
	appTimer       int64
	appTime        int64
	mainTime       int64

	upTime       uint64 // whole seconds since engine creation
	upTimeTicker int64

	// now returns monotone microseconds. Swapped out by tests.
	now func() int64
}

// New creates an engine. taskCap and subCap size the initial registries,
// which grow on demand; queueCap is the hard bound of the message queue.
func New(taskCap, queueCap, subCap int) *Engine {
	if taskCap < 0 {
		taskCap = 0
	}
	if subCap < 0 {
		subCap = 0
	}
	base := time.Now()
	e := &Engine{
		tasks:         make([]*taskEntry, 0, taskCap),
		subs:          make([]*subscription, 0, subCap),
		queue:         newMessageQueue(queueCap),
		currentTaskID: noTask,
		singleTaskID:  -1,
		now:           func() int64 { return time.Since(base).Microseconds() },
	}
	e.upTimeTicker = e.now()
	e.resetStats(true)
	return e
}

// Add registers a task callback invoked every interval. The name is used
// for statistics only and may be empty. An interval of 0 registers the task
// suspended. Returns the new task id, or -1 if fn is nil.
func (e *Engine) Add(fn TaskFunc, name string, interval time.Duration, prio Priority) int {
	if fn == nil {
		return -1
	}
	e.nextTaskID++
	e.tasks = append(e.tasks, &taskEntry{
		id:       e.nextTaskID,
		name:     name,
		fn:       fn,
		prio:     prio,
		interval: interval.Microseconds(),
		lastCall: e.now(),
	})
	return e.nextTaskID
}

// Remove deletes a task. It fails when no such task exists or when the task
// is the one currently executing: a task cannot remove itself.
func (e *Engine) Remove(taskID int) bool {
	if taskID == e.currentTaskID {
		return false
	}
	for i, t := range e.tasks {
		if t.id == taskID {
			e.tasks = append(e.tasks[:i], e.tasks[i+1:]...)
			return true
		}
	}
	return false
}

// Reschedule changes a task's interval and priority in place. An interval
// of 0 suspends invocation while keeping the registration.
func (e *Engine) Reschedule(taskID int, interval time.Duration, prio Priority) bool {
	for _, t := range e.tasks {
		if t.id == taskID {
			t.interval = interval.Microseconds()
			t.prio = prio
			return true
		}
	}
	return false
}

// Subscribe registers a callback for all publications matching pattern.
// taskID associates the subscription with a task for CPU accounting
// (SchedulerMain for none). A non-empty originator suppresses delivery of
// messages published under that same originator label, so a component does
// not receive its own publications back. Returns the subscription handle,
// or -1 if fn is nil.
//
// The same pattern and callback may be subscribed any number of times; each
// subscription is delivered to independently, in insertion order.
func (e *Engine) Subscribe(taskID int, pattern string, fn SubscriberFunc, originator string) int {
	if fn == nil {
		return -1
	}
	e.nextSubHandle++
	e.subs = append(e.subs, &subscription{
		handle:     e.nextSubHandle,
		taskID:     taskID,
		pattern:    pattern,
		originator: originator,
		fn:         fn,
	})
	return e.nextSubHandle
}

// Unsubscribe removes the subscription with the given handle. During
// message delivery the entry is only marked and stops receiving
// immediately; the registry is compacted once the in-flight message has
// been delivered, so a subscriber may unsubscribe anything, including
// itself, from within its callback.
func (e *Engine) Unsubscribe(handle int) bool {
	for i, s := range e.subs {
		if s.handle != handle || s.removed {
			continue
		}
		if e.delivering {
			s.removed = true
			e.subsDirty = true
			return true
		}
		e.subs = append(e.subs[:i], e.subs[i+1:]...)
		return true
	}
	return false
}

// Publish enqueues a message without an originator label.
func (e *Engine) Publish(topic, msg string) bool {
	return e.PublishFrom(topic, msg, "")
}

// PublishFrom enqueues a message under an originator label. It returns
// false only when the bounded queue refuses the message; the caller may
// drop or retry. Topics must not contain wildcards.
//
// Publications to "$SYS/stat/get" are consumed by the engine itself when
// dequeued: the decimal payload sets the statistics emission interval in
// milliseconds, with 0 disabling emission (see the $SYS/stat record in
// stats.go). They are never delivered to subscribers.
func (e *Engine) PublishFrom(topic, msg, originator string) bool {
	return e.queue.push(Message{Originator: originator, Topic: topic, Msg: msg})
}

// schedReceive intercepts engine-internal control topics. It runs on the
// loop goroutine at dequeue time, so it may touch the stats state freely
// even when the control message was published from another goroutine. It
// reports true when the message was consumed and must not be delivered.
func (e *Engine) schedReceive(topic, msg string) bool {
	slash := strings.IndexByte(topic, '/')
	if slash < 0 || topic[slash+1:] != "stat/get" {
		return false
	}
	n, _ := strconv.ParseInt(strings.TrimSpace(msg), 10, 64)
	if n > 0 {
		e.statIntervalMs = n
		e.genStats = true
		e.resetStats(true)
	} else {
		e.statIntervalMs = 0
		e.genStats = false
	}
	return true
}

// SingleTaskMode restricts execution to the given task: the loop then
// invokes only that task and suspends queue draining and statistics. Useful
// for time-critical procedures such as firmware updates. Passing -1 resumes
// normal scheduling.
func (e *Engine) SingleTaskMode(taskID int) {
	e.singleTaskID = taskID
	e.singleTask = taskID != -1
}

// Uptime returns the number of whole seconds since the engine was created.
func (e *Engine) Uptime() uint64 {
	return e.upTime
}

// QueueLen returns the number of undelivered messages in the queue.
func (e *Engine) QueueLen() int {
	return e.queue.len()
}

// TaskCount returns the number of registered tasks.
func (e *Engine) TaskCount() int {
	return len(e.tasks)
}

// Tasks returns a snapshot of all registered tasks in registration order.
func (e *Engine) Tasks() []TaskInfo {
	infos := make([]TaskInfo, 0, len(e.tasks))
	for _, t := range e.tasks {
		infos = append(infos, TaskInfo{
			ID:        t.id,
			Name:      t.name,
			Priority:  t.prio,
			Interval:  time.Duration(t.interval) * time.Microsecond,
			CallCount: t.callCount,
			CPUTime:   time.Duration(t.cpuTime) * time.Microsecond,
			LateTime:  time.Duration(t.lateTime) * time.Microsecond,
		})
	}
	return infos
}

// Loop performs one scheduling pass: account uptime, emit statistics if
// due, and for each task in registration order drain the message queue and
// invoke the task when its interval has elapsed. It must be called
// continuously; the engine yields control only by returning from Loop.
func (e *Engine) Loop() {
	current := e.now()
	if current-e.upTimeTicker > microsPerSecond {
		e.upTime++
		e.upTimeTicker += microsPerSecond
	}
	e.systemTime += current - e.systemTimer
	e.appTimer = current

	if !e.singleTask {
		e.checkStats()
		e.drainQueue()
	}
	for i := 0; i < len(e.tasks); i++ {
		if !e.singleTask {
			e.drainQueue()
			e.runTask(e.tasks[i])
		} else if e.tasks[i].id == e.singleTaskID {
			e.runTask(e.tasks[i])
		}
	}

	e.appTime += e.now() - e.appTimer
	e.systemTimer = e.now()
}

// runTask invokes one task if it is eligible. lastCall is set to the start
// of the invocation, not the end, so the schedule keeps a fixed phase:
// drift accumulates into lateTime instead of stretching the period.
func (e *Engine) runTask(t *taskEntry) {
	start := e.now()
	delta := start - t.lastCall
	if t.interval == 0 || delta < t.interval {
		return
	}
	e.currentTaskID = t.id // blocks self-removal from within the callback
	t.fn()
	e.currentTaskID = noTask
	t.lastCall = start
	t.lateTime += delta - t.interval
	t.cpuTime += e.now() - start
	t.callCount++
}

// drainQueue delivers pending messages until the queue is empty. For each
// message, subscriptions are visited in insertion order; delivery is
// synchronous, so all matching subscribers see a message before the next
// one is dequeued. Publications made by subscribers land in the queue and
// are handled by a later iteration, never by recursing into delivery.
//
// Engine control topics are consumed here instead of being delivered.
// Unsubscribe calls made by a subscriber only mark the subscription; the
// registry is compacted between messages, so removal never shifts entries
// under the delivery walk.
func (e *Engine) drainQueue() {
	for {
		msg, ok := e.queue.pop()
		if !ok {
			return
		}
		if strings.HasPrefix(msg.Topic, "$SYS") && e.schedReceive(msg.Topic, msg.Msg) {
			continue
		}
		e.delivering = true
		for i := 0; i < len(e.subs); i++ {
			s := e.subs[i]
			if s.removed || !Matches(msg.Topic, s.pattern) {
				continue
			}
			if msg.Originator != "" && msg.Originator == s.originator {
				continue
			}
			start := e.now()
			s.fn(msg.Topic, msg.Msg, msg.Originator)
			spent := e.now() - start
			if s.taskID == SchedulerMain {
				e.mainTime += spent
			} else if t := e.taskByID(s.taskID); t != nil {
				t.cpuTime += spent
			}
		}
		e.delivering = false
		e.compactSubs()
	}
}

// compactSubs drops subscriptions marked removed during delivery.
func (e *Engine) compactSubs() {
	if !e.subsDirty {
		return
	}
	kept := e.subs[:0]
	for _, s := range e.subs {
		if !s.removed {
			kept = append(kept, s)
		}
	}
	e.subs = kept
	e.subsDirty = false
}

func (e *Engine) taskByID(taskID int) *taskEntry {
	for _, t := range e.tasks {
		if t.id == taskID {
			return t
		}
	}
	return nil
}
