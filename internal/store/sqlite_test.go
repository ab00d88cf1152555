package store

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	st, err := NewSQLiteStore(":memory:", logger)
	if err != nil {
		t.Fatalf("create store: %v", err)
	}
	t.Cleanup(func() { st.Close() })
	if err := st.Migrate(context.Background()); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return st
}

func sampleEmission() *Emission {
	return &Emission{
		ReceivedAt: time.Date(2026, 3, 14, 9, 26, 53, 0, time.UTC),
		Delta:      500_000,
		SystemTime: 40_000,
		AppTime:    460_000,
		MainTime:   1_200,
		Uptime:     42,
		FreeMem:    123_456,
		TaskCount:  2,
		Tasks: []TaskSample{
			{TaskID: 1, Name: "net", Interval: 50_000, CallCount: 10, CPUTime: 900, LateTime: 30},
			{TaskID: 2, Name: "blink", Interval: 500_000, CallCount: 1, CPUTime: 50, LateTime: 0},
		},
	}
}

func TestSaveAndListEmissions(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	em := sampleEmission()
	if err := st.SaveEmission(ctx, em); err != nil {
		t.Fatalf("save: %v", err)
	}
	if em.ID == 0 {
		t.Error("SaveEmission did not assign an id")
	}

	got, err := st.ListEmissions(ctx, 10)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("listed %d emissions, want 1", len(got))
	}
	e := got[0]
	if e.Delta != 500_000 || e.Uptime != 42 || e.TaskCount != 2 {
		t.Errorf("emission = %+v, want delta 500000, uptime 42, 2 tasks", e)
	}
	if !e.ReceivedAt.Equal(em.ReceivedAt) {
		t.Errorf("received_at = %v, want %v", e.ReceivedAt, em.ReceivedAt)
	}
	if len(e.Tasks) != 2 {
		t.Fatalf("loaded %d task samples, want 2", len(e.Tasks))
	}
	if e.Tasks[0].Name != "net" || e.Tasks[0].CallCount != 10 {
		t.Errorf("first sample = %+v, want net with 10 calls", e.Tasks[0])
	}
}

func TestListEmissionsNewestFirst(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	for i := int64(1); i <= 3; i++ {
		em := sampleEmission()
		em.Uptime = uint64(i)
		if err := st.SaveEmission(ctx, em); err != nil {
			t.Fatalf("save %d: %v", i, err)
		}
	}

	got, err := st.ListEmissions(ctx, 2)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("listed %d emissions with limit 2, want 2", len(got))
	}
	if got[0].Uptime != 3 || got[1].Uptime != 2 {
		t.Errorf("uptimes = %d, %d, want 3, 2 (newest first)", got[0].Uptime, got[1].Uptime)
	}
}

func TestTaskTotals(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		if err := st.SaveEmission(ctx, sampleEmission()); err != nil {
			t.Fatalf("save: %v", err)
		}
	}

	totals, err := st.TaskTotals(ctx)
	if err != nil {
		t.Fatalf("totals: %v", err)
	}
	if len(totals) != 2 {
		t.Fatalf("got %d totals, want 2", len(totals))
	}
	if totals[0].TaskID != 1 || totals[0].CallCount != 30 {
		t.Errorf("task 1 total = %+v, want 30 calls", totals[0])
	}
	if totals[1].TaskID != 2 || totals[1].CPUTime != 150 {
		t.Errorf("task 2 total = %+v, want 150µs cpu", totals[1])
	}
}

func TestParseStat(t *testing.T) {
	payload := `{"dt":600000,"syt":1000,"apt":2000,"mat":300,"upt":7,"mem":4096,"tsks":1,` +
		`"tdt":[["tick",1,100000,5,800,20]]}`
	em, err := ParseStat([]byte(payload))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if em.Delta != 600000 || em.Uptime != 7 || em.TaskCount != 1 {
		t.Errorf("emission = %+v, want dt 600000, uptime 7, 1 task", em)
	}
	if len(em.Tasks) != 1 {
		t.Fatalf("parsed %d tasks, want 1", len(em.Tasks))
	}
	ts := em.Tasks[0]
	if ts.Name != "tick" || ts.TaskID != 1 || ts.Interval != 100000 || ts.CallCount != 5 {
		t.Errorf("sample = %+v, want tick/1/100000µs/5 calls", ts)
	}
}

func TestParseStatRejectsGarbage(t *testing.T) {
	if _, err := ParseStat([]byte("not json")); err == nil {
		t.Error("parse of garbage succeeded")
	}
}
