package sched

import (
	"encoding/json"
	"runtime"
)

// StatTopic is the topic on which the engine publishes statistics records.
// StatControlTopic configures emission: publishing a decimal interval in
// milliseconds enables it, 0 disables it. Control publications are consumed
// by the engine and never delivered to subscribers.
const (
	StatTopic        = "$SYS/stat"
	StatControlTopic = "$SYS/stat/get"

	// StatOriginator labels the engine's own publications, so bridges
	// forwarding bus traffic can suppress echoing stats back.
	StatOriginator = "scheduler"
)

// StatRecord is the JSON payload published on StatTopic once per configured
// interval. All durations are microseconds accumulated since the previous
// emission; counters reset at every emission boundary while uptime and the
// emission cadence continue unbroken.
type StatRecord struct {
	Dt         int64           `json:"dt"`   // µs since previous emission
	SystemTime int64           `json:"syt"`  // µs outside Loop (between passes)
	AppTime    int64           `json:"apt"`  // µs inside Loop
	MainTime   int64           `json:"mat"`  // µs in SchedulerMain subscribers
	Uptime     uint64          `json:"upt"`  // seconds since engine creation
	FreeMem    uint64          `json:"mem"`  // free-memory figure, 0 if unknown
	TaskCount  int             `json:"tsks"`
	Tasks      []TaskStatEntry `json:"tdt"` // per-task samples
}

// TaskStatEntry is one per-task sample, marshalled as the array
// [name, id, interval µs, call count, cpu µs, late µs].
type TaskStatEntry struct {
	Name      string
	ID        int
	Interval  int64
	CallCount uint64
	CPUTime   int64
	LateTime  int64
}

func (t TaskStatEntry) MarshalJSON() ([]byte, error) {
	return json.Marshal([]any{t.Name, t.ID, t.Interval, t.CallCount, t.CPUTime, t.LateTime})
}

func (t *TaskStatEntry) UnmarshalJSON(data []byte) error {
	raw := []any{&t.Name, &t.ID, &t.Interval, &t.CallCount, &t.CPUTime, &t.LateTime}
	return json.Unmarshal(data, &raw)
}

// checkStats publishes a StatRecord when emission is enabled and the
// configured interval has elapsed, then resets all accumulators.
func (e *Engine) checkStats() {
	if !e.genStats || e.statIntervalMs == 0 {
		return
	}
	now := e.now()
	dt := now - e.statTimer
	if dt <= e.statIntervalMs*1000 {
		return
	}

	rec := StatRecord{
		Dt:         dt,
		SystemTime: e.systemTime,
		AppTime:    e.appTime,
		MainTime:   e.mainTime,
		Uptime:     e.upTime,
		FreeMem:    freeMemory(),
		TaskCount:  len(e.tasks),
		Tasks:      make([]TaskStatEntry, 0, len(e.tasks)),
	}
	for _, t := range e.tasks {
		name := t.name
		if name == "" {
			name = "<null>"
		}
		rec.Tasks = append(rec.Tasks, TaskStatEntry{
			Name:      name,
			ID:        t.id,
			Interval:  t.interval,
			CallCount: t.callCount,
			CPUTime:   t.cpuTime,
			LateTime:  t.lateTime,
		})
	}
	if b, err := json.Marshal(rec); err == nil {
		e.PublishFrom(StatTopic, string(b), StatOriginator)
	}
	e.resetStats(false)
}

// resetStats zeroes all per-task counters and the three time counters. A
// hard reset additionally restarts the system-time origin; it is used at
// engine creation and when emission is (re-)enabled.
func (e *Engine) resetStats(hard bool) {
	for _, t := range e.tasks {
		t.cpuTime = 0
		t.lateTime = 0
		t.callCount = 0
	}
	e.statTimer = e.now()
	if hard {
		e.systemTimer = e.now()
	}
	e.systemTime = 0
	e.appTime = 0
	e.mainTime = 0
}

// freeMemory reports heap memory held by the runtime but not in use.
func freeMemory() uint64 {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)
	return m.HeapIdle - m.HeapReleased
}
