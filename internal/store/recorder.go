package store

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/me/muloop/pkg/sched"
)

// Recorder forwards stats emissions from the bus to a Store. Database
// writes happen on a background goroutine, because bus subscribers run
// inside the engine loop and must not block.
type Recorder struct {
	store  Store
	logger *slog.Logger
	ch     chan *Emission
	done   chan struct{}
}

// NewRecorder creates a recorder writing to st.
func NewRecorder(st Store, logger *slog.Logger) *Recorder {
	return &Recorder{
		store:  st,
		logger: logger.With("component", "recorder"),
		ch:     make(chan *Emission, 16),
		done:   make(chan struct{}),
	}
}

// Attach subscribes the recorder to the engine's stats topic and starts
// the writer goroutine. It returns the subscription handle.
func (r *Recorder) Attach(e *sched.Engine) int {
	go r.run()
	return e.Subscribe(sched.SchedulerMain, sched.StatTopic, r.onStat, "")
}

// Close stops the writer after flushing buffered emissions.
func (r *Recorder) Close() {
	close(r.ch)
	<-r.done
}

// onStat runs inside the engine loop; it only decodes and hands off.
func (r *Recorder) onStat(topic, msg, originator string) {
	em, err := ParseStat([]byte(msg))
	if err != nil {
		r.logger.Warn("undecodable stat record", "error", err)
		return
	}
	select {
	case r.ch <- em:
	default:
		r.logger.Warn("archive backlog full, dropping emission")
	}
}

func (r *Recorder) run() {
	defer close(r.done)
	for em := range r.ch {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := r.store.SaveEmission(ctx, em); err != nil {
			r.logger.Error("save emission", "error", err)
		}
		cancel()
	}
}

// ParseStat decodes a stats payload as published on the stats topic.
func ParseStat(data []byte) (*Emission, error) {
	var rec sched.StatRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("decode stat record: %w", err)
	}
	em := &Emission{
		ReceivedAt: time.Now().UTC(),
		Delta:      rec.Dt,
		SystemTime: rec.SystemTime,
		AppTime:    rec.AppTime,
		MainTime:   rec.MainTime,
		Uptime:     rec.Uptime,
		FreeMem:    rec.FreeMem,
		TaskCount:  rec.TaskCount,
	}
	for _, t := range rec.Tasks {
		em.Tasks = append(em.Tasks, TaskSample{
			TaskID:    t.ID,
			Name:      t.Name,
			Interval:  t.Interval,
			CallCount: t.CallCount,
			CPUTime:   t.CPUTime,
			LateTime:  t.LateTime,
		})
	}
	return em, nil
}
