// Package timer provides small time-keeping helpers for cooperative tasks:
// a phase-compensating Heartbeat for periodic work inside a task callback,
// and a Timeout for detecting elapsed deadlines without blocking.
//
// Tasks driven by a cooperative scheduler must return promptly, so none of
// these types sleep or block; they answer "has the moment passed?" and the
// caller decides what to do with the answer.
package timer

import "time"

// Heartbeat detects completed cycles of a fixed length. The zero length
// heartbeat never beats.
type Heartbeat struct {
	start  time.Time
	length time.Duration

	now func() time.Time
}

// NewHeartbeat creates a heartbeat with the given cycle length.
func NewHeartbeat(length time.Duration) *Heartbeat {
	return &Heartbeat{start: time.Now(), length: length, now: time.Now}
}

// Length returns the configured cycle length.
func (h *Heartbeat) Length() time.Duration { return h.length }

// SetLength assigns a new cycle length without restarting the current cycle.
func (h *Heartbeat) SetLength(length time.Duration) { h.length = length }

// Beat returns the number of full cycles completed since the last call,
// or 0 while the current cycle is still running. Beat stays synchronous
// with the cadence implied by the cycle length: the remainder of the
// elapsed time carries over into the next cycle, so beats do not drift
// even when the caller polls late.
func (h *Heartbeat) Beat() int {
	if h.length <= 0 {
		return 0
	}
	diff := h.now().Sub(h.start)
	if diff < h.length {
		return 0
	}
	h.start = h.now().Add(-(diff % h.length))
	return int(diff / h.length)
}

// Elapsed returns the number of full cycles completed since the last call,
// restarting the cycle from now rather than compensating the phase. Unlike
// Beat it behaves like a classical watchdog: two successive non-zero
// results are always at least one full cycle apart.
func (h *Heartbeat) Elapsed() int {
	if h.length <= 0 {
		return 0
	}
	diff := h.now().Sub(h.start)
	if diff < h.length {
		return 0
	}
	h.start = h.now()
	return int(diff / h.length)
}

// Timeout detects an elapsed deadline. The zero value is unusable; create
// one with NewTimeout. A Timeout with duration 0 expires immediately.
type Timeout struct {
	start time.Time
	d     time.Duration

	now func() time.Time
}

// NewTimeout creates a started timeout with the given duration.
func NewTimeout(d time.Duration) *Timeout {
	return &Timeout{start: time.Now(), d: d, now: time.Now}
}

// Duration returns the configured timeout duration.
func (t *Timeout) Duration() time.Duration { return t.d }

// SetDuration assigns a new duration without resetting the start time.
func (t *Timeout) SetDuration(d time.Duration) { t.d = d }

// Test reports whether the timeout has expired since the last Reset.
func (t *Timeout) Test() bool {
	return t.now().Sub(t.start) > t.d
}

// Reset restarts the timeout.
func (t *Timeout) Reset() {
	t.start = t.now()
}
