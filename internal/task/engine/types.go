package engine

import (
	"context"
	"sync/atomic"
	"time"
)

// Config sizes the worker pool. The scheduler only decides when a job fires;
// timeouts, overlap gating and staleness are enforced here.
type Config struct {
	Workers   int
	QueueSize int

	// DefaultTimeout bounds a run whose Task.Timeout is 0.
	DefaultTimeout time.Duration
	// MaxQueueDelay drops a task that waited longer than this for a worker.
	// 0 disables the check.
	MaxQueueDelay time.Duration

	HistorySize int
}

func (c Config) withDefaults() Config {
	if c.Workers <= 0 {
		c.Workers = 2
	}
	if c.QueueSize <= 0 {
		c.QueueSize = 32
	}
	if c.HistorySize <= 0 {
		c.HistorySize = 100
	}
	return c
}

type OverlapPolicy int

const (
	OverlapAllow OverlapPolicy = iota
	OverlapSkipIfRunning
)

type TaskOptions struct {
	Overlap OverlapPolicy
}

// RunState is the overlap gate of one job. It is held from Enqueue until the
// run finishes or is discarded.
type RunState struct {
	busy atomic.Bool
}

func (s *RunState) tryAcquire() bool { return s.busy.CompareAndSwap(false, true) }
func (s *RunState) release() { s.busy.Store(false) }

// Running reports whether a gated run is queued or executing.
func (s *RunState) Running() bool { return s.busy.Load() }

// TaskEvent describes one run. It is published on the bus and kept in the
// history ring.
type TaskEvent struct {
	ID         string        `json:"id"`
	Name       string        `json:"name"`
	Started    time.Time     `json:"started"`
	QueueDelay time.Duration `json:"queue_delay"`
	Duration   time.Duration `json:"duration"`
	Error      string        `json:"error,omitempty"`
}

type HistoryItem = TaskEvent

// Task is one execution. Run is called at most once and never retried.
type Task struct {
	ID      string
	Name    string
	Timeout time.Duration
	Run     func(ctx context.Context) error
	Opt     TaskOptions
	// State overrides the per-name overlap gate.
	State *RunState
}

type Snapshot struct {
	Workers  int `json:"workers"`
	QueueLen int `json:"queue_len"`
	QueueCap int `json:"queue_cap"`
	InFlight int `json:"in_flight"`

	Dropped          uint64 `json:"dropped"`
	DroppedQueueFull uint64 `json:"dropped_queue_full"`
	DroppedStale     uint64 `json:"dropped_stale"`
	Skipped          uint64 `json:"skipped"`

	History []HistoryItem `json:"history"`
}
