// Package store archives scheduler statistics emissions. A Recorder
// subscribes to the engine's stats topic and hands decoded records to a
// Store implementation; queries serve the console, CLI and HTTP surfaces.
package store

import (
	"context"
	"time"
)

// Emission is one archived statistics record.
type Emission struct {
	ID         int64
	ReceivedAt time.Time
	Delta      int64 // µs covered by this emission
	SystemTime int64 // µs outside the loop
	AppTime    int64 // µs inside the loop
	MainTime   int64 // µs in engine-main subscribers
	Uptime     uint64
	FreeMem    uint64
	TaskCount  int
	Tasks      []TaskSample
}

// TaskSample is one task's counters within an emission.
type TaskSample struct {
	TaskID    int
	Name      string
	Interval  int64 // µs
	CallCount uint64
	CPUTime   int64 // µs
	LateTime  int64 // µs
}

// TaskTotal aggregates one task's counters across all archived emissions.
type TaskTotal struct {
	TaskID    int
	Name      string
	CallCount uint64
	CPUTime   int64
	LateTime  int64
}

// Store is the persistence layer for the statistics archive.
type Store interface {
	SaveEmission(ctx context.Context, em *Emission) error
	ListEmissions(ctx context.Context, limit int) ([]*Emission, error)
	TaskTotals(ctx context.Context) ([]TaskTotal, error)

	Migrate(ctx context.Context) error
	Close() error
}
