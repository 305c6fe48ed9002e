// Package clock holds the time primitives shared by the trigger source and the
// completion tracker: a substitutable Clock, civil Dates computed in a
// reference timezone, and HH:MM wall-clock times of day.
package clock

import (
	"sync"
	"time"
)

// Clock returns the current instant. Callers convert to the reference
// timezone themselves.
type Clock interface {
	Now() time.Time
}

// System is the wall clock.
type System struct{}

func (System) Now() time.Time { return time.Now() }

// Manual is a settable clock for tests and simulations.
// Zero value reports the zero time until Set is called.
type Manual struct {
	mu sync.Mutex
	t  time.Time
}

func NewManual(t time.Time) *Manual { return &Manual{t: t} }

func (m *Manual) Now() time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.t
}

func (m *Manual) Set(t time.Time) {
	m.mu.Lock()
	m.t = t
	m.mu.Unlock()
}

func (m *Manual) Advance(d time.Duration) {
	m.mu.Lock()
	m.t = m.t.Add(d)
	m.mu.Unlock()
}
