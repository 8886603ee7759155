// Package internal provides utilities shared by the meetsuite packages.
package internal

import "time"

// Clock is an interface for obtaining monotonic time and waiting on it.
// This abstraction allows for deterministic testing of time-dependent code.
type Clock interface {
	// Now returns the current time. Implementations must return
	// monotonically increasing time values.
	Now() time.Time

	// After waits for the duration to elapse and then sends the current
	// time on the returned channel.
	After(d time.Duration) <-chan time.Time
}

// MonotonicClock is a Clock implementation that uses the system's monotonic clock.
type MonotonicClock struct{}

// Now returns the current system time with monotonic clock reading.
func (MonotonicClock) Now() time.Time {
	return time.Now()
}

// After delegates to time.After.
func (MonotonicClock) After(d time.Duration) <-chan time.Time {
	return time.After(d)
}

// MockClock is a Clock implementation for testing that allows manual control
// of time progression. It is not safe for concurrent use.
//
// After never blocks: it advances the clock by the requested duration and
// returns a channel that has already fired. Pollers driven by a MockClock
// therefore run to completion instantly while observing the same sequence
// of timestamps they would see in real time.
type MockClock struct {
	current time.Time
}

// NewMockClock creates a new MockClock initialized to the given time.
// If t is zero, it initializes to a reasonable default start time.
func NewMockClock(t time.Time) *MockClock {
	if t.IsZero() {
		t = time.Unix(1000000000, 0) // 2001-09-09
	}
	return &MockClock{current: t}
}

// Now returns the mock clock's current time.
func (m *MockClock) Now() time.Time {
	return m.current
}

// After advances the clock by d and returns a fired channel.
func (m *MockClock) After(d time.Duration) <-chan time.Time {
	if d > 0 {
		m.Advance(d)
	}
	ch := make(chan time.Time, 1)
	ch <- m.current
	return ch
}

// Advance moves the clock forward by the given duration.
// Panics if d is negative to maintain monotonicity.
func (m *MockClock) Advance(d time.Duration) {
	if d < 0 {
		panic("MockClock.Advance: duration must be non-negative")
	}
	m.current = m.current.Add(d)
}

// Set sets the clock to the given time.
// This should only be used for initialization; prefer Advance for tests.
func (m *MockClock) Set(t time.Time) {
	m.current = t
}
