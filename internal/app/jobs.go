package app

import (
	"context"
	"errors"
	"time"

	"remindbot/internal/config"
	"remindbot/internal/task/scheduler"
	"remindbot/internal/tracker"
	logx "remindbot/pkg/logx"
)

const (
	JobDaily    = "reminder.daily"
	JobFollowup = "reminder.followup"
	JobReset    = "reminder.reset"
)

// Triggers is the slice of the tracker the daily jobs call.
type Triggers interface {
	OnDailyTrigger(ctx context.Context) tracker.Decision
	OnFollowupTrigger(ctx context.Context) tracker.Decision
	OnMidnightTrigger(ctx context.Context) tracker.Decision
}

// registerJobs (re)registers the three daily schedules. Registration is an
// upsert by name, so calling it again on reload moves the fire times.
func registerJobs(sched *scheduler.Service, tr Triggers, s *config.Settings, log logx.Logger) error {
	timeout := s.EngineDefaultTimeout
	jobs := []struct {
		name string
		at   string
		run  func(ctx context.Context) tracker.Decision
	}{
		{JobDaily, s.Reminder.String(), tr.OnDailyTrigger},
		{JobFollowup, s.Followup.String(), tr.OnFollowupTrigger},
		{JobReset, s.Reset.String(), tr.OnMidnightTrigger},
	}
	var errs []error
	for _, j := range jobs {
		if err := sched.AddDaily(j.name, j.at, timeout, trackerJob(j.name, j.run, log)); err != nil {
			errs = append(errs, err)
			continue
		}
		log.Info("job scheduled", logx.String("name", j.name), logx.String("at", j.at), logx.String("tz", s.Location.String()))
	}
	return errors.Join(errs...)
}

// trackerJob adapts a tracker trigger to an engine job. The decision is
// logged by the tracker itself; the job never fails the engine run.
func trackerJob(name string, run func(ctx context.Context) tracker.Decision, log logx.Logger) func(ctx context.Context) error {
	return func(ctx context.Context) error {
		start := time.Now()
		d := run(ctx)
		log.Debug("job done",
			logx.String("name", name),
			logx.String("action", string(d.Action)),
			logx.String("state", string(d.State)),
			logx.Duration("took", time.Since(start)),
		)
		return nil
	}
}
