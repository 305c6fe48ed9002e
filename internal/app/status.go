package app

import (
	"time"

	"remindbot/internal/listener"
	"remindbot/internal/notifier"
	rtsup "remindbot/internal/runtime/supervisor"
	"remindbot/internal/task/engine"
	"remindbot/internal/task/scheduler"
	"remindbot/internal/tracker"
	telegram "remindbot/internal/transport/telegram/adapter"
)

// Status is the /status payload.
type Status struct {
	StartedAt time.Time `json:"started_at"`
	Uptime    string    `json:"uptime"`

	Today         tracker.DayRecord      `json:"today"`
	State         tracker.State          `json:"state"`
	StoreEnabled  bool                   `json:"store_enabled"`
	BusDropped    uint64                 `json:"bus_dropped"`
	LogDropped    uint64                 `json:"log_dropped"`
	Notifications []notifier.HistoryItem `json:"notifications"`

	Listener   listener.Stats     `json:"listener"`
	Scheduler  scheduler.Snapshot `json:"scheduler"`
	Engine     engine.Snapshot    `json:"engine"`
	Supervisor rtsup.Snapshot     `json:"supervisor"`
	Telegram   *telegram.Stats    `json:"telegram,omitempty"`
}

type adapterStats interface {
	Stats() telegram.Stats
}

func (a *App) Status() Status {
	today := a.tracker.Today()
	st := Status{
		StartedAt:     a.started,
		Today:         today,
		State:         today.State(),
		StoreEnabled:  a.store != nil,
		BusDropped:    a.bus.Dropped(),
		LogDropped:    a.logs.Dropped(),
		Notifications: a.notif.History(),
		Listener:      a.listener.Stats(),
		Scheduler:     a.sched.Snapshot(),
		Engine:        a.engine.Snapshot(),
	}
	if !a.started.IsZero() {
		st.Uptime = time.Since(a.started).Truncate(time.Second).String()
	}
	if a.sup != nil {
		st.Supervisor = a.sup.Snapshot()
	}
	if src, ok := a.adapter.(adapterStats); ok {
		ts := src.Stats()
		st.Telegram = &ts
	}
	return st
}
