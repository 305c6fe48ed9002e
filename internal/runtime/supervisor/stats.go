package supervisor

import (
	"sort"
	"sync"
	"time"
)

type Counters struct {
	Active  int64  `json:"active"`
	Started uint64 `json:"started"`
}

// GoroutineStats aggregates runs by goroutine name.
type GoroutineStats struct {
	Name        string    `json:"name"`
	Active      int64     `json:"active"`
	Started     uint64    `json:"started"`
	Panics      uint64    `json:"panics"`
	Restarts    uint64    `json:"restarts"`
	LastStartAt time.Time `json:"last_start_at"`
	LastErr     string    `json:"last_err,omitempty"`
}

type Snapshot struct {
	Counters   Counters         `json:"counters"`
	FirstError string           `json:"first_error,omitempty"`
	Goroutines []GoroutineStats `json:"goroutines"`
}

type statTable struct {
	mu      sync.Mutex
	active  int64
	started uint64
	byName  map[string]*GoroutineStats
}

func (t *statTable) entry(name string) *GoroutineStats {
	if t.byName == nil {
		t.byName = map[string]*GoroutineStats{}
	}
	st := t.byName[name]
	if st == nil {
		st = &GoroutineStats{Name: name}
		t.byName[name] = st
	}
	return st
}

func (t *statTable) begin(name string, restart bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	st := t.entry(name)
	st.Started++
	st.Active++
	st.LastStartAt = time.Now()
	if restart {
		st.Restarts++
	}
	t.started++
	t.active++
}

func (t *statTable) end(name string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.entry(name).Active--
	t.active--
}

func (t *statTable) panicked(name string) {
	t.mu.Lock()
	t.entry(name).Panics++
	t.mu.Unlock()
}

func (t *statTable) fail(name string, err error) {
	t.mu.Lock()
	t.entry(name).LastErr = err.Error()
	t.mu.Unlock()
}

func (s *Supervisor) Snapshot() Snapshot {
	if s == nil {
		return Snapshot{}
	}
	var snap Snapshot
	if err := s.Err(); err != nil {
		snap.FirstError = err.Error()
	}
	s.stats.mu.Lock()
	snap.Counters = Counters{Active: s.stats.active, Started: s.stats.started}
	for _, st := range s.stats.byName {
		snap.Goroutines = append(snap.Goroutines, *st)
	}
	s.stats.mu.Unlock()
	sort.Slice(snap.Goroutines, func(i, j int) bool { return snap.Goroutines[i].Name < snap.Goroutines[j].Name })
	return snap
}
