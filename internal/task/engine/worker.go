package engine

import (
	"context"
	"fmt"
	"runtime/debug"
	"time"

	"remindbot/internal/eventbus"
	"remindbot/pkg/logx"
)

// work pulls jobs until the pool quits. A closed quit channel takes priority
// over queued jobs; those are discarded by drain.
func (s *Service) work(ctx context.Context, p *pool) error {
	for !isClosed(p.quit) {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-p.quit:
			return nil
		case j := <-p.queue:
			s.inFlight.Add(1)
			s.run(ctx, j)
			s.inFlight.Add(-1)
		}
	}
	return nil
}

func (s *Service) run(ctx context.Context, j job) {
	if j.gate != nil {
		defer j.gate.release()
	}
	start := time.Now()
	ev := j.event(start)
	ev.QueueDelay = max(start.Sub(j.queued), 0)
	name := logx.String("task", j.task.Name)

	if limit := s.cfg.MaxQueueDelay; limit > 0 && ev.QueueDelay > limit {
		s.stale.Add(1)
		ev.Error = "stale_queue_delay"
		s.bus.Publish(eventbus.Event{Type: eventbus.TaskDropped, Time: start, Data: ev})
		s.log.Warn("task dropped: waited too long", name, logx.Duration("queue_delay", ev.QueueDelay))
		s.record(ev)
		return
	}

	s.bus.Publish(eventbus.Event{Type: eventbus.TaskStarted, Time: start, Data: ev})
	err := s.call(ctx, j)
	ev.Duration = time.Since(start)

	typ := eventbus.TaskFinished
	if err != nil {
		typ = eventbus.TaskFailed
		ev.Error = err.Error()
		s.log.Warn("task failed", name, logx.Err(err), logx.Duration("took", ev.Duration))
	} else {
		s.log.Debug("task done", name, logx.Duration("took", ev.Duration))
	}
	s.bus.Publish(eventbus.Event{Type: typ, Time: time.Now(), Data: ev})
	s.record(ev)
}

// call runs the task body under its timeout and turns a panic into an error.
func (s *Service) call(ctx context.Context, j job) (err error) {
	if j.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, j.timeout)
		defer cancel()
	}
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
			s.log.Error("task panicked", logx.String("task", j.task.Name), logx.Any("panic", r), logx.String("stack", string(debug.Stack())))
		}
	}()
	return j.task.Run(ctx)
}
