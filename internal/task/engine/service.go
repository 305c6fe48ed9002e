package engine

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"remindbot/internal/eventbus"
	rtsup "remindbot/internal/runtime/supervisor"
	"remindbot/pkg/logx"
)

type job struct {
	task    Task
	queued  time.Time
	timeout time.Duration
	gate    *RunState // set only for OverlapSkipIfRunning
}

func (j job) event(at time.Time) TaskEvent {
	return TaskEvent{ID: j.task.ID, Name: j.task.Name, Started: at}
}

// pool is one Start..Stop lifetime of the workers.
type pool struct {
	queue chan job
	quit  chan struct{}
	sup   *rtsup.Supervisor
	done  chan struct{} // non-nil once Stop began
}

// Service runs tasks on a fixed worker pool with a bounded queue.
type Service struct {
	cfg Config
	log logx.Logger
	bus eventbus.Bus

	mu   sync.Mutex
	pool *pool

	gates sync.Map // task name -> *RunState

	hmu     sync.Mutex
	history []HistoryItem

	inFlight  atomic.Int32
	queueFull atomic.Uint64
	stale     atomic.Uint64
	skipped   atomic.Uint64

	fullWarn rate.Sometimes
}

func New(cfg Config, log logx.Logger, bus eventbus.Bus) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	if bus == nil {
		bus = eventbus.Nop{}
	}
	return &Service{
		cfg:      cfg.withDefaults(),
		log:      log,
		bus:      bus,
		fullWarn: rate.Sometimes{First: 1, Interval: 5 * time.Second},
	}
}

// Start launches the workers. It is a no-op while running.
func (s *Service) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.pool != nil {
		return
	}
	p := &pool{
		queue: make(chan job, s.cfg.QueueSize),
		quit:  make(chan struct{}),
		sup:   rtsup.NewSupervisor(ctx, rtsup.WithLogger(s.log)),
	}
	for i := range s.cfg.Workers {
		p.sup.GoRestart(fmt.Sprintf("worker.%d", i), func(c context.Context) error {
			return s.work(c, p)
		}, rtsup.WithPublishFirstError(true))
	}
	s.pool = p
	s.log.Info("task engine started", logx.Int("workers", s.cfg.Workers), logx.Int("queue", s.cfg.QueueSize))
}

// Stop refuses new work and waits, bounded by ctx, for running tasks to
// finish. Tasks still queued are discarded.
func (s *Service) Stop(ctx context.Context) {
	s.mu.Lock()
	p := s.pool
	if p == nil {
		s.mu.Unlock()
		return
	}
	first := p.done == nil
	if first {
		p.done = make(chan struct{})
		close(p.quit)
	}
	done := p.done
	s.mu.Unlock()

	if first {
		go s.drain(p)
	}
	select {
	case <-done:
		if first {
			s.log.Info("task engine stopped")
		}
	case <-ctx.Done():
		p.sup.Cancel()
		s.log.Warn("task engine stop timed out", logx.Err(ctx.Err()))
	}
}

// drain waits for the workers, discards the leftover queue and clears the
// pool so Start can run again.
func (s *Service) drain(p *pool) {
	_ = p.sup.Wait(context.Background())
	p.sup.Cancel()
	s.mu.Lock()
	defer s.mu.Unlock()
	for {
		select {
		case j := <-p.queue:
			if j.gate != nil {
				j.gate.release()
			}
			continue
		default:
		}
		break
	}
	if s.pool == p {
		s.pool = nil
	}
	close(p.done)
}

// Enqueue queues t without blocking.
func (s *Service) Enqueue(t Task) error {
	if t.Run == nil {
		return errors.New("task Run is nil")
	}
	if t.Name = strings.TrimSpace(t.Name); t.Name == "" {
		return errors.New("task Name is required")
	}
	if strings.TrimSpace(t.ID) == "" {
		t.ID = uuid.NewString()
	}

	now := time.Now()
	j := job{task: t, queued: now, timeout: t.Timeout}
	if j.timeout <= 0 {
		j.timeout = s.cfg.DefaultTimeout
	}
	if t.Opt.Overlap == OverlapSkipIfRunning {
		gate := t.State
		if gate == nil {
			gate = s.State(t.Name)
		}
		if !gate.tryAcquire() {
			s.skipped.Add(1)
			ev := j.event(now)
			ev.Error = "overlap_skip"
			s.bus.Publish(eventbus.Event{Type: eventbus.TaskSkipped, Time: now, Data: ev})
			s.log.Debug("task skipped, previous run still active", logx.String("task", t.Name))
			return ErrOverlapSkip
		}
		j.gate = gate
	}

	capacity, err := s.offer(j)
	if err == nil {
		return nil
	}
	if j.gate != nil {
		j.gate.release()
	}
	if !errors.Is(err, ErrQueueFull) {
		return err
	}
	s.queueFull.Add(1)
	ev := j.event(now)
	ev.Error = "queue_full"
	s.bus.Publish(eventbus.Event{Type: eventbus.TaskDropped, Time: now, Data: ev})
	s.fullWarn.Do(func() {
		s.log.Warn("task dropped: queue full",
			logx.String("task", t.Name),
			logx.Int("queue_cap", capacity),
			logx.Uint64("dropped_queue_full", s.queueFull.Load()),
		)
	})
	return err
}

// offer puts j on the current pool's queue. The lock keeps it from racing
// with drain.
func (s *Service) offer(j job) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p := s.pool
	switch {
	case p == nil:
		return 0, ErrStopped
	case isClosed(p.quit):
		return 0, ErrStopping
	}
	select {
	case p.queue <- j:
		return cap(p.queue), nil
	default:
		return cap(p.queue), ErrQueueFull
	}
}

func isClosed(ch <-chan struct{}) bool {
	select {
	case <-ch:
		return true
	default:
		return false
	}
}

// State returns the overlap gate shared by tasks named name.
func (s *Service) State(name string) *RunState {
	v, _ := s.gates.LoadOrStore(strings.TrimSpace(name), &RunState{})
	return v.(*RunState)
}

func (s *Service) Snapshot() Snapshot {
	full, stale := s.queueFull.Load(), s.stale.Load()
	snap := Snapshot{
		Workers:          s.cfg.Workers,
		InFlight:         int(s.inFlight.Load()),
		Dropped:          full + stale,
		DroppedQueueFull: full,
		DroppedStale:     stale,
		Skipped:          s.skipped.Load(),
	}
	s.mu.Lock()
	if p := s.pool; p != nil {
		snap.QueueLen, snap.QueueCap = len(p.queue), cap(p.queue)
	}
	s.mu.Unlock()

	s.hmu.Lock()
	snap.History = append([]HistoryItem(nil), s.history...)
	s.hmu.Unlock()
	return snap
}

func (s *Service) record(ev TaskEvent) {
	s.hmu.Lock()
	s.history = append(s.history, ev)
	if over := len(s.history) - s.cfg.HistorySize; over > 0 {
		s.history = s.history[over:]
	}
	s.hmu.Unlock()
}
