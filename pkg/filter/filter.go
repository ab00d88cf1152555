// Package filter smooths noisy sensor readings and decides when a change
// is worth reporting. A Sensor keeps a running mean over a configurable
// window and flags an update either when the smoothed value moves by more
// than a threshold, or when a poll interval elapses without any movement,
// so downstream consumers still receive periodic confirmations.
package filter

import "time"

// Sensor is a running-mean smoother with change detection. Create one with
// New; the zero value is not usable.
type Sensor struct {
	smoothWindow int
	pollInterval time.Duration
	eps          float64

	samples  int
	mean     float64
	lastVal  float64
	first    bool
	lastSent time.Time

	now func() time.Time
}

// New creates a sensor filter. smoothWindow is the number of measurements
// averaged (the mean converges over that many samples), eps is the minimum
// smoothed-value change considered significant, and pollInterval forces an
// update when no significant change happened for that long (0 disables
// forced updates).
func New(smoothWindow int, pollInterval time.Duration, eps float64) *Sensor {
	s := &Sensor{
		smoothWindow: smoothWindow,
		pollInterval: pollInterval,
		eps:          eps,
		now:          time.Now,
	}
	s.Reset()
	return s
}

// Filter smooths the value in place and reports whether it constitutes a
// valid update: the first sample is always an update, later samples only
// when the smoothed value moved by more than eps since the last update, or
// when the poll interval has elapsed.
func (s *Sensor) Filter(value *float64) bool {
	s.mean = (s.mean*float64(s.samples) + *value) / float64(s.samples+1)
	if s.samples < s.smoothWindow {
		s.samples++
	}

	delta := s.lastVal - s.mean
	if delta < 0 {
		delta = -delta
	}
	if delta > s.eps || s.first {
		s.first = false
		s.lastVal = s.mean
		s.lastSent = s.now()
		*value = s.mean
		return true
	}
	if s.pollInterval > 0 && s.now().Sub(s.lastSent) > s.pollInterval {
		s.lastVal = s.mean
		s.lastSent = s.now()
		*value = s.mean
		return true
	}
	return false
}

// FilterInt is Filter for integer-valued sensors.
func (s *Sensor) FilterInt(value *int64) bool {
	v := float64(*value)
	if !s.Filter(&v) {
		return false
	}
	*value = int64(v)
	return true
}

// Reset discards all accumulated state, so the next sample is reported as
// the first.
func (s *Sensor) Reset() {
	s.samples = 0
	s.mean = 0
	s.lastVal = 0
	s.first = true
	s.lastSent = s.now()
}
