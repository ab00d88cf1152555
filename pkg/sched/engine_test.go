package sched

import (
	"fmt"
	"testing"
	"time"
)

// fakeClock replaces the engine's microsecond source so schedule behavior
// can be tested deterministically.
type fakeClock struct {
	micros int64
}

func (c *fakeClock) now() int64 { return c.micros }

func (c *fakeClock) advance(d time.Duration) { c.micros += d.Microseconds() }

func newTestEngine(queueCap int) (*Engine, *fakeClock) {
	c := &fakeClock{}
	e := New(4, queueCap, 8)
	e.now = c.now
	e.upTimeTicker = 0
	e.statTimer = 0
	e.systemTimer = 0
	return e, c
}

func TestDeliveryOrder(t *testing.T) {
	e, _ := newTestEngine(16)

	var got []string
	record := func(tag string) SubscriberFunc {
		return func(topic, msg, originator string) {
			got = append(got, fmt.Sprintf("%s:%s=%s", tag, topic, msg))
		}
	}
	e.Subscribe(SchedulerMain, "led", record("first"), "")
	e.Subscribe(SchedulerMain, "led", record("second"), "")

	if !e.Publish("led", "on") || !e.Publish("led", "off") {
		t.Fatal("publish refused")
	}
	e.Loop()

	want := []string{"first:led=on", "second:led=on", "first:led=off", "second:led=off"}
	if len(got) != len(want) {
		t.Fatalf("deliveries = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("delivery[%d] = %q, want %q", i, got[i], want[i])
		}
	}
}

func TestWildcardFanout(t *testing.T) {
	e, _ := newTestEngine(16)

	var got []string
	sub := func(tag string) SubscriberFunc {
		return func(topic, msg, originator string) { got = append(got, tag) }
	}
	e.Subscribe(SchedulerMain, "#", sub("all"), "")
	e.Subscribe(SchedulerMain, "a/+", sub("plus"), "")
	e.Subscribe(SchedulerMain, "a/b", sub("exact"), "")

	e.Publish("a/b", "x")
	e.Loop()

	want := []string{"all", "plus", "exact"}
	if len(got) != 3 {
		t.Fatalf("fired %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("fired[%d] = %q, want %q", i, got[i], want[i])
		}
	}
}

func TestOriginatorSuppression(t *testing.T) {
	e, _ := newTestEngine(16)

	var got []string
	e.Subscribe(SchedulerMain, "sensor/temp", func(topic, msg, originator string) {
		got = append(got, originator)
	}, "A")

	e.PublishFrom("sensor/temp", "21.5", "A") // own publication, suppressed
	e.PublishFrom("sensor/temp", "21.7", "B") // different originator
	e.PublishFrom("sensor/temp", "21.9", "")  // anonymous, always delivered
	e.Loop()

	if len(got) != 2 || got[0] != "B" || got[1] != "" {
		t.Errorf("delivered originators = %v, want [B, empty]", got)
	}
}

func TestHandlesAndTaskIDsMonotone(t *testing.T) {
	e, _ := newTestEngine(16)
	nop := func() {}
	cb := func(topic, msg, originator string) {}

	id1 := e.Add(nop, "one", time.Millisecond, PrioNormal)
	id2 := e.Add(nop, "two", time.Millisecond, PrioNormal)
	if id2 <= id1 {
		t.Errorf("task ids not monotone: %d then %d", id1, id2)
	}
	if !e.Remove(id1) {
		t.Fatal("remove existing task failed")
	}
	if id3 := e.Add(nop, "three", time.Millisecond, PrioNormal); id3 <= id2 {
		t.Errorf("task id reused after removal: %d then %d", id2, id3)
	}

	h1 := e.Subscribe(SchedulerMain, "a", cb, "")
	h2 := e.Subscribe(SchedulerMain, "a", cb, "")
	if h2 <= h1 {
		t.Errorf("handles not monotone: %d then %d", h1, h2)
	}
	if !e.Unsubscribe(h1) {
		t.Fatal("unsubscribe existing handle failed")
	}
	if h3 := e.Subscribe(SchedulerMain, "a", cb, ""); h3 <= h2 {
		t.Errorf("handle reused after unsubscribe: %d then %d", h2, h3)
	}
}

func TestUnknownTargetsReportFalse(t *testing.T) {
	e, _ := newTestEngine(16)
	if e.Remove(42) {
		t.Error("Remove of unknown task id reported true")
	}
	if e.Reschedule(42, time.Second, PrioNormal) {
		t.Error("Reschedule of unknown task id reported true")
	}
	if e.Unsubscribe(42) {
		t.Error("Unsubscribe of unknown handle reported true")
	}
	if e.Add(nil, "nil", time.Second, PrioNormal) != -1 {
		t.Error("Add with nil callback did not report -1")
	}
	if e.Subscribe(SchedulerMain, "a", nil, "") != -1 {
		t.Error("Subscribe with nil callback did not report -1")
	}
}

func TestSelfRemovalForbidden(t *testing.T) {
	e, c := newTestEngine(16)

	var id int
	var removed bool
	id = e.Add(func() {
		removed = e.Remove(id)
	}, "suicidal", 10*time.Millisecond, PrioNormal)

	c.advance(10 * time.Millisecond)
	e.Loop()

	if removed {
		t.Error("task removed itself from within its own callback")
	}
	if e.TaskCount() != 1 {
		t.Errorf("task count = %d, want 1", e.TaskCount())
	}

	// The task keeps running afterwards.
	c.advance(10 * time.Millisecond)
	e.Loop()
	if calls := e.Tasks()[0].CallCount; calls != 2 {
		t.Errorf("call count = %d, want 2", calls)
	}
}

func TestIntervalHonoredPhaseStable(t *testing.T) {
	e, c := newTestEngine(16)

	var calls int
	id := e.Add(func() { calls++ }, "tick", 10*time.Millisecond, PrioNormal)

	// Each loop pass arrives 2ms late. Fixed-phase scheduling keeps the
	// invocation rate at one per pass and pushes the drift into the late
	// accumulator instead of stretching the period.
	for i := 0; i < 5; i++ {
		c.advance(12 * time.Millisecond)
		e.Loop()
	}
	if calls != 5 {
		t.Errorf("calls = %d, want 5", calls)
	}
	info := e.Tasks()[0]
	if info.ID != id {
		t.Fatalf("task info id = %d, want %d", info.ID, id)
	}
	if want := 5 * 2 * time.Millisecond; info.LateTime != want {
		t.Errorf("late accumulator = %v, want %v", info.LateTime, want)
	}
	if info.CallCount != 5 {
		t.Errorf("call count = %d, want 5", info.CallCount)
	}
}

func TestZeroIntervalSuspends(t *testing.T) {
	e, c := newTestEngine(16)

	var calls int
	id := e.Add(func() { calls++ }, "tick", 100*time.Millisecond, PrioNormal)

	c.advance(100 * time.Millisecond)
	e.Loop()
	if calls != 1 {
		t.Fatalf("calls = %d before reschedule, want 1", calls)
	}

	if !e.Reschedule(id, 0, PrioNormal) {
		t.Fatal("reschedule to zero failed")
	}
	for i := 0; i < 10; i++ {
		c.advance(100 * time.Millisecond)
		e.Loop()
	}
	if calls != 1 {
		t.Errorf("calls = %d after a second of suspended loops, want 1", calls)
	}

	// Resuming re-enables invocation without a new registration.
	if !e.Reschedule(id, 50*time.Millisecond, PrioNormal) {
		t.Fatal("reschedule back failed")
	}
	c.advance(50 * time.Millisecond)
	e.Loop()
	if calls != 2 {
		t.Errorf("calls = %d after resume, want 2", calls)
	}
}

func TestQueueRefusalUntilDrained(t *testing.T) {
	e, _ := newTestEngine(2)

	if !e.Publish("a", "1") || !e.Publish("a", "2") {
		t.Fatal("publish refused below capacity")
	}
	if e.Publish("a", "3") {
		t.Error("third publish accepted on a full queue of capacity 2")
	}

	var got []string
	e.Subscribe(SchedulerMain, "a", func(topic, msg, originator string) {
		got = append(got, msg)
	}, "")
	e.Loop()

	if !e.Publish("a", "3") {
		t.Error("publish refused after loop drained the queue")
	}
	e.Loop()
	if len(got) != 3 || got[0] != "1" || got[1] != "2" || got[2] != "3" {
		t.Errorf("delivered = %v, want [1 2 3] with none lost", got)
	}
}

func TestEchoScenario(t *testing.T) {
	e, c := newTestEngine(16)

	published := false
	id := e.Add(func() {
		if !published {
			published = true
			e.Publish("led", "on")
		}
	}, "A", 10*time.Millisecond, PrioNormal)

	var got []Message
	e.Subscribe(id, "led", func(topic, msg, originator string) {
		got = append(got, Message{Originator: originator, Topic: topic, Msg: msg})
	}, "")

	c.advance(10 * time.Millisecond)
	e.Loop() // task publishes
	e.Loop() // message delivered
	if len(got) != 1 {
		t.Fatalf("deliveries = %d, want 1", len(got))
	}
	if got[0].Topic != "led" || got[0].Msg != "on" || got[0].Originator != "" {
		t.Errorf("delivered %+v, want {Topic:led Msg:on Originator:}", got[0])
	}
}

func TestSelfFilterScenario(t *testing.T) {
	e, c := newTestEngine(16)

	id := e.Add(func() {}, "A", 10*time.Millisecond, PrioNormal)

	var got []string
	e.Subscribe(id, "state", func(topic, msg, originator string) {
		got = append(got, msg)
	}, "A")

	e.PublishFrom("state", "own", "A")
	e.PublishFrom("state", "anon", "")
	c.advance(10 * time.Millisecond)
	e.Loop()

	if len(got) != 1 || got[0] != "anon" {
		t.Errorf("delivered = %v, want only the anonymous publication", got)
	}
}

func TestReentrantPublishDeliveredWithoutRecursion(t *testing.T) {
	e, _ := newTestEngine(16)

	var got []string
	depth, maxDepth := 0, 0
	e.Subscribe(SchedulerMain, "a", func(topic, msg, originator string) {
		depth++
		if depth > maxDepth {
			maxDepth = depth
		}
		got = append(got, "a")
		e.Publish("b", "from-a")
		depth--
	}, "")
	e.Subscribe(SchedulerMain, "b", func(topic, msg, originator string) {
		got = append(got, "b")
	}, "")

	e.Publish("a", "x")
	e.Loop()

	if maxDepth != 1 {
		t.Errorf("delivery recursed to depth %d", maxDepth)
	}
	if len(got) != 2 || got[0] != "a" || got[1] != "b" {
		t.Errorf("deliveries = %v, want [a b]", got)
	}
}

func TestSingleTaskMode(t *testing.T) {
	e, c := newTestEngine(16)

	var aCalls, bCalls int
	e.Add(func() { aCalls++ }, "a", 10*time.Millisecond, PrioNormal)
	idB := e.Add(func() { bCalls++ }, "b", 10*time.Millisecond, PrioNormal)

	delivered := false
	e.Subscribe(SchedulerMain, "x", func(topic, msg, originator string) {
		delivered = true
	}, "")

	e.SingleTaskMode(idB)
	e.Publish("x", "pending")
	for i := 0; i < 3; i++ {
		c.advance(10 * time.Millisecond)
		e.Loop()
	}
	if aCalls != 0 {
		t.Errorf("excluded task ran %d times in single-task mode", aCalls)
	}
	if bCalls != 3 {
		t.Errorf("designated task ran %d times, want 3", bCalls)
	}
	if delivered {
		t.Error("queue drained while in single-task mode")
	}

	e.SingleTaskMode(-1)
	c.advance(10 * time.Millisecond)
	e.Loop()
	if aCalls != 1 {
		t.Errorf("excluded task calls = %d after resume, want 1", aCalls)
	}
	if !delivered {
		t.Error("pending message not delivered after resuming normal mode")
	}
}

func TestCPUTimeAccounting(t *testing.T) {
	e, c := newTestEngine(16)

	// The callbacks advance the fake clock, simulating work.
	id := e.Add(func() { c.advance(5 * time.Millisecond) }, "worker", 10*time.Millisecond, PrioNormal)
	e.Subscribe(id, "t", func(topic, msg, originator string) {
		c.advance(3 * time.Millisecond)
	}, "")
	e.Subscribe(SchedulerMain, "t", func(topic, msg, originator string) {
		c.advance(2 * time.Millisecond)
	}, "")

	e.Publish("t", "x")
	c.advance(10 * time.Millisecond)
	e.Loop()

	info := e.Tasks()[0]
	// 5ms in the task callback plus 3ms in its owned subscriber.
	if want := 8 * time.Millisecond; info.CPUTime != want {
		t.Errorf("task cpu time = %v, want %v", info.CPUTime, want)
	}
	if want := int64(2000); e.mainTime != want {
		t.Errorf("main time = %dµs, want %dµs", e.mainTime, want)
	}
}

func TestUptimeAccumulates(t *testing.T) {
	e, c := newTestEngine(16)
	if e.Uptime() != 0 {
		t.Fatalf("uptime = %d at start, want 0", e.Uptime())
	}
	for i := 0; i < 4; i++ {
		c.advance(1100 * time.Millisecond)
		e.Loop()
	}
	if up := e.Uptime(); up != 4 {
		t.Errorf("uptime = %d after ~4.4s, want 4", up)
	}
}

func TestUnsubscribeDuringDelivery(t *testing.T) {
	e, _ := newTestEngine(16)

	var got []string
	record := func(name string) SubscriberFunc {
		return func(topic, msg, originator string) { got = append(got, name) }
	}
	var h2 int
	e.Subscribe(SchedulerMain, "t", func(topic, msg, originator string) {
		got = append(got, "first")
		e.Unsubscribe(h2)
	}, "")
	h2 = e.Subscribe(SchedulerMain, "t", record("second"), "")
	e.Subscribe(SchedulerMain, "t", record("third"), "")

	e.Publish("t", "")
	e.Loop()

	// Removing a later subscription mid-delivery must not shift the walk
	// past its neighbor: the third subscriber still sees the message.
	want := []string{"first", "third"}
	if len(got) != len(want) || got[0] != want[0] || got[1] != want[1] {
		t.Fatalf("deliveries = %v, want %v", got, want)
	}
	if len(e.subs) != 2 {
		t.Errorf("registry holds %d subscriptions after compaction, want 2", len(e.subs))
	}

	got = nil
	e.Publish("t", "")
	e.Loop()
	if len(got) != 2 || got[0] != "first" || got[1] != "third" {
		t.Errorf("deliveries after removal = %v, want [first third]", got)
	}
}

func TestSelfUnsubscribeDuringDelivery(t *testing.T) {
	e, _ := newTestEngine(16)

	var calls int
	var h int
	h = e.Subscribe(SchedulerMain, "t", func(topic, msg, originator string) {
		calls++
		if !e.Unsubscribe(h) {
			t.Error("self unsubscribe reported failure")
		}
		if e.Unsubscribe(h) {
			t.Error("second unsubscribe of the same handle reported success")
		}
	}, "")

	e.Publish("t", "")
	e.Loop()
	e.Publish("t", "")
	e.Loop()

	if calls != 1 {
		t.Errorf("calls = %d after self-unsubscribe, want 1", calls)
	}
}

func TestIndependentEngines(t *testing.T) {
	e1, _ := newTestEngine(4)
	e2, _ := newTestEngine(4)

	var got1, got2 int
	e1.Subscribe(SchedulerMain, "t", func(topic, msg, originator string) { got1++ }, "")
	e2.Subscribe(SchedulerMain, "t", func(topic, msg, originator string) { got2++ }, "")

	e1.Publish("t", "x")
	e1.Loop()
	e2.Loop()

	if got1 != 1 || got2 != 0 {
		t.Errorf("deliveries = (%d, %d), want (1, 0): engines must not share state", got1, got2)
	}
}
