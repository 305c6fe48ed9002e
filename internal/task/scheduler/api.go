package scheduler

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/robfig/cron/v3"

	"remindbot/internal/clock"
	"remindbot/internal/task/engine"
	"remindbot/pkg/logx"
)

// AddDaily registers job to run every day at atHHMM in the scheduler's
// timezone. Re-adding a name replaces the previous schedule. A new occurrence
// is skipped while the previous one is still queued or running.
func (s *Service) AddDaily(name, atHHMM string, timeout time.Duration, job func(ctx context.Context) error) error {
	at, err := clock.ParseTimeOfDay(atHHMM)
	if err != nil {
		return err
	}
	return s.add(name, at.String(), at.CronSpec(), timeout, TaskOptions{Overlap: OverlapSkipIfRunning}, job)
}

func (s *Service) add(name, at, spec string, timeout time.Duration, opt TaskOptions, job func(ctx context.Context) error) error {
	name = strings.TrimSpace(name)
	if name == "" {
		return errors.New("name required")
	}
	if job == nil {
		return errors.New("job required")
	}
	if _, err := s.parser.Parse(spec); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	// The overlap gate survives re-registration so a reload during a slow
	// run does not let a second run start.
	state := &engine.RunState{}
	for _, d := range s.defs {
		if d.name == name && d.state != nil {
			state = d.state
		}
	}
	s.removeLocked(name)

	s.defs = append(s.defs, scheduleDef{name: name, at: at, spec: spec, timeout: timeout, job: job, opt: opt, state: state})
	if s.c == nil {
		return nil
	}
	d := &s.defs[len(s.defs)-1]
	if err := s.addCronLocked(d); err != nil {
		return err
	}
	s.log.Debug("schedule registered", logx.String("name", name), logx.String("at", at), logx.Time("next", s.c.Entry(d.entryID).Next))
	return nil
}

// Remove unschedules name. It reports whether anything was removed.
func (s *Service) Remove(name string) bool {
	s.mu.Lock()
	removed := s.removeLocked(strings.TrimSpace(name))
	s.mu.Unlock()
	if removed {
		s.log.Debug("schedule removed", logx.String("name", name))
	}
	return removed
}

func (s *Service) removeLocked(name string) bool {
	n := 0
	removed := false
	for _, d := range s.defs {
		if d.name == name {
			if s.c != nil && d.entryID != 0 {
				s.c.Remove(d.entryID)
			}
			removed = true
			continue
		}
		s.defs[n] = d
		n++
	}
	s.defs = s.defs[:n]
	return removed
}

func (s *Service) addCronLocked(d *scheduleDef) error {
	t := engine.Task{Name: d.name, Timeout: d.timeout, Run: d.job, Opt: d.opt, State: d.state}
	eid, err := s.c.AddJob(d.spec, cron.FuncJob(func() { s.fire(t) }))
	if err != nil {
		return err
	}
	d.entryID = eid
	return nil
}

func (s *Service) fire(t engine.Task) {
	if s.engine == nil {
		return
	}
	if err := s.engine.Enqueue(t); err != nil {
		s.reportEnqueueError(t.Name, err)
	}
}

// Trigger enqueues the named job immediately, outside its schedule.
func (s *Service) Trigger(name string) error {
	s.mu.Lock()
	var t *engine.Task
	for _, d := range s.defs {
		if d.name == name {
			t = &engine.Task{Name: d.name, Timeout: d.timeout, Run: d.job, Opt: d.opt, State: d.state}
		}
	}
	s.mu.Unlock()
	if t == nil {
		return errors.New("unknown schedule " + name)
	}
	if s.engine == nil {
		return errors.New("no engine")
	}
	return s.engine.Enqueue(*t)
}
