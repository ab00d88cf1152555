// Package doctor answers runtime diagnostics requests over the message bus.
// A doctor listens under <name>/doctor/# and replies to the *_get requests
// with JSON payloads, so health probes work over the same pub/sub fabric as
// everything else, including an attached MQTT bridge.
package doctor

import (
	"encoding/json"
	"log/slog"
	"runtime"
	"strings"
	"time"

	"github.com/me/muloop/pkg/sched"
)

// Doctor responds to diagnostics requests addressed to its name.
type Doctor struct {
	name   string
	logger *slog.Logger

	eng    *sched.Engine
	taskID int
	start  time.Time
}

// New creates a doctor answering under <name>/doctor/.
func New(name string, logger *slog.Logger) *Doctor {
	return &Doctor{name: name, logger: logger.With("component", "doctor")}
}

// Begin registers the doctor on the engine. The owning task is suspended;
// the doctor only ever reacts to bus messages.
func (d *Doctor) Begin(e *sched.Engine) {
	d.eng = e
	d.start = time.Now()
	d.taskID = e.Add(func() {}, "doctor", 0, sched.PrioLow)
	e.Subscribe(d.taskID, d.name+"/doctor/#", d.onRequest, "")
}

func (d *Doctor) onRequest(topic, msg, originator string) {
	req, ok := strings.CutPrefix(topic, d.name+"/doctor/")
	if !ok {
		return
	}
	switch req {
	case "memory/get":
		d.reply("memory", memoryInfo())
	case "diagnostics/get":
		d.reply("diagnostics", d.diagnosticsInfo())
	case "timeinfo/get":
		d.reply("timeinfo", d.timeInfo())
	}
}

func (d *Doctor) reply(kind string, v any) {
	raw, err := json.Marshal(v)
	if err != nil {
		d.logger.Warn("marshal reply failed", "kind", kind, "error", err)
		return
	}
	d.eng.Publish(d.name+"/doctor/"+kind, string(raw))
}

type memInfo struct {
	HeapAlloc  uint64 `json:"heap_alloc"`
	HeapIdle   uint64 `json:"heap_idle"`
	FreeHeap   uint64 `json:"free_heap"`
	NumGC      uint32 `json:"num_gc"`
	Goroutines int    `json:"goroutines"`
}

func memoryInfo() memInfo {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)
	return memInfo{
		HeapAlloc:  m.HeapAlloc,
		HeapIdle:   m.HeapIdle,
		FreeHeap:   m.HeapIdle - m.HeapReleased,
		NumGC:      m.NumGC,
		Goroutines: runtime.NumGoroutine(),
	}
}

type diagInfo struct {
	GoVersion string `json:"go_version"`
	OS        string `json:"os"`
	Arch      string `json:"arch"`
	NumCPU    int    `json:"num_cpu"`
	Tasks     int    `json:"tasks"`
	UptimeSec uint64 `json:"uptime_sec"`
}

func (d *Doctor) diagnosticsInfo() diagInfo {
	return diagInfo{
		GoVersion: runtime.Version(),
		OS:        runtime.GOOS,
		Arch:      runtime.GOARCH,
		NumCPU:    runtime.NumCPU(),
		Tasks:     d.eng.TaskCount(),
		UptimeSec: d.eng.Uptime(),
	}
}

type timeInfo struct {
	Time      string `json:"time"`
	Unix      int64  `json:"unix"`
	StartedAt string `json:"started_at"`
}

func (d *Doctor) timeInfo() timeInfo {
	now := time.Now()
	return timeInfo{
		Time:      now.Format(time.RFC3339),
		Unix:      now.Unix(),
		StartedAt: d.start.Format(time.RFC3339),
	}
}
