// Package app wires the reminder components together and owns their
// lifecycle: build in NewApp, run in Start, bounded ordered shutdown in Stop.
package app

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"remindbot/internal/clock"
	"remindbot/internal/config"
	"remindbot/internal/eventbus"
	"remindbot/internal/listener"
	"remindbot/internal/metrics"
	"remindbot/internal/notifier"
	"remindbot/internal/observability/ops"
	rtsup "remindbot/internal/runtime/supervisor"
	"remindbot/internal/storage"
	"remindbot/internal/task/engine"
	"remindbot/internal/task/scheduler"
	"remindbot/internal/tracker"
	kit "remindbot/internal/transport"
	telegram "remindbot/internal/transport/telegram/adapter"
	logx "remindbot/pkg/logx"
)

// Options overrides collaborators. Zero values select the production ones.
type Options struct {
	// Adapter replaces the Telegram adapter built from the config.
	Adapter kit.Adapter
	Clock   clock.Clock
	// Notify receives service manager states. Defaults to sd_notify.
	Notify func(state string)
}

type App struct {
	cfgm *config.Manager
	sup  *rtsup.Supervisor

	log   logx.Logger
	logs  *logx.Service
	bus   *eventbus.MemBus
	store storage.Store
	reg   *prometheus.Registry

	adapter kit.Adapter

	engine   *engine.Service
	sched    *scheduler.Service
	notif    *notifier.Service
	tracker  *tracker.Tracker
	listener *listener.Listener
	metrics  *metrics.Metrics
	ops      *ops.Server

	sdNotify func(state string)
	updates  chan kit.Update
	started  time.Time
}

// NewApp loads the configuration and builds every component. Nothing runs
// until Start. A bad config, a rejected bot token or a store that cannot be
// opened fails here.
func NewApp(cfgm *config.Manager, opt Options) (*App, error) {
	s, err := cfgm.Load()
	if err != nil {
		return nil, err
	}

	logSvc, root := logx.New(mapLogConfig(s), nil)
	log := root.With(logx.String("comp", "app"))
	fail := func(err error, closers ...func() error) (*App, error) {
		for _, c := range closers {
			_ = c()
		}
		log.Error("startup failed", logx.Err(err))
		_ = logSvc.Close()
		return nil, err
	}

	ad := opt.Adapter
	if ad == nil {
		tg, err := telegram.New(telegram.Config{
			Token:       s.Raw.Telegram.Token,
			PollTimeout: s.PollTimeout,
		}, root.With(logx.String("comp", "telegram")))
		if err != nil {
			return fail(fmt.Errorf("telegram: %w", err))
		}
		ad = tg
	}
	logSvc.SetSender(ad)

	bus := eventbus.New()

	openCtx, cancel := context.WithTimeout(context.Background(), s.StoreConnectTimeout+5*time.Second)
	store, err := storage.Open(openCtx, mapStorageConfig(s), root.With(logx.String("comp", "storage")))
	cancel()
	if err != nil {
		return fail(err)
	}
	closeStore := func() error {
		if store != nil {
			return store.Close()
		}
		return nil
	}

	eng := engine.New(mapEngineConfig(s), root.With(logx.String("comp", "taskengine")), bus)
	sched := scheduler.New(scheduler.Config{Location: s.Location}, eng, root.With(logx.String("comp", "scheduler")))
	notif := notifier.New(mapNotifierConfig(s), mapCatalog(s), ad, root.With(logx.String("comp", "notifier")), bus)

	var trStore tracker.Store
	if store != nil {
		trStore = store
	}
	tr := tracker.New(mapTrackerConfig(s), tracker.Deps{
		Clock:    opt.Clock,
		Notifier: notif,
		Store:    trStore,
		Log:      root.With(logx.String("comp", "tracker")),
		Bus:      bus,
	})

	updates := make(chan kit.Update, 64)
	lst := listener.New(s.Raw.Telegram.ChatID, updates, tr, root.With(logx.String("comp", "listener")))

	reg := prometheus.NewRegistry()
	if err := reg.Register(collectors.NewGoCollector()); err != nil {
		return fail(err, closeStore)
	}
	if err := reg.Register(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{})); err != nil {
		return fail(err, closeStore)
	}
	m, err := metrics.New(reg, bus.Dropped)
	if err != nil {
		return fail(err, closeStore)
	}

	if err := registerJobs(sched, tr, s, root.With(logx.String("comp", "jobs"))); err != nil {
		return fail(err, closeStore)
	}

	a := &App{
		cfgm:     cfgm,
		log:      log,
		logs:     logSvc,
		bus:      bus,
		store:    store,
		reg:      reg,
		adapter:  ad,
		engine:   eng,
		sched:    sched,
		notif:    notif,
		tracker:  tr,
		listener: lst,
		metrics:  m,
		sdNotify: opt.Notify,
		updates:  updates,
	}
	if a.sdNotify == nil {
		a.sdNotify = func(state string) { _, _ = daemon.SdNotify(false, state) }
	}
	if oc := mapOpsConfig(s); oc.Addr != "" {
		a.ops = ops.New(oc, ops.Sources{
			Health:   a.health,
			Status:   func() any { return a.Status() },
			Gatherer: reg,
		}, root.With(logx.String("comp", "ops")))
	}
	return a, nil
}

// Tracker exposes the state machine for tests and operator tooling.
func (a *App) Tracker() *tracker.Tracker { return a.tracker }

// Done is closed when the app supervisor context is canceled (fatal error or Stop()).
func (a *App) Done() <-chan struct{} {
	if a.sup == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return a.sup.Context().Done()
}

// Err returns the first fatal error observed by the supervisor (if any).
func (a *App) Err() error {
	if a.sup == nil {
		return nil
	}
	return a.sup.Err()
}

func (a *App) Start(ctx context.Context) error {
	a.sup = rtsup.NewSupervisor(ctx, rtsup.WithLogger(a.log), rtsup.WithCancelOnError(true))
	a.cfgm.SetLogger(a.log.With(logx.String("comp", "config")))
	a.started = time.Now()

	// Engine before scheduler so the first occurrence has somewhere to go.
	// Its context outlives the run context: a signal must not abort a send
	// already in flight. Stop drains it and cancels it at the step deadline.
	a.engine.Start(context.WithoutCancel(a.sup.Context()))
	a.sched.Start(a.sup.Context())

	if err := a.adapter.Start(a.sup.Context(), a.updates); err != nil {
		return fmt.Errorf("telegram start: %w", err)
	}
	a.sup.Go("listener", a.listener.Run)
	a.sup.Go("metrics", func(c context.Context) error { return a.metrics.Run(c, a.bus) })

	if a.ops != nil {
		if err := a.ops.Start(a.sup.Context()); err != nil {
			return fmt.Errorf("ops server: %w", err)
		}
	}

	events, unsub := a.bus.Subscribe(128)
	a.sup.Go0("eventbus.log", func(c context.Context) {
		defer unsub()
		for {
			select {
			case <-c.Done():
				return
			case e, ok := <-events:
				if !ok {
					return
				}
				a.log.Debug("event", logx.String("type", e.Type), logx.Time("time", e.Time))
			}
		}
	})

	sub := a.cfgm.Subscribe(8)
	a.sup.Go0("config.reload", func(c context.Context) {
		defer a.cfgm.Unsubscribe(sub)
		lastApplied := a.cfgm.Get()
		for {
			select {
			case <-c.Done():
				return
			case next, ok := <-sub:
				if !ok {
					return
				}
				// Coalesce bursts: keep only the latest settings.
				for drained := false; !drained; {
					select {
					case newer := <-sub:
						if newer != nil {
							next = newer
						}
					default:
						drained = true
					}
				}
				a.applySettings(lastApplied, next)
				lastApplied = next
			}
		}
	})

	if a.cfgm.Path() != "" {
		a.sup.Go("config.watch", a.cfgm.Watch)
	}

	if a.cfgm.Get().Raw.Schedule.StartupTest {
		a.sup.Go0("startup.test", func(c context.Context) {
			d := a.tracker.SendTest(c)
			a.log.Info("startup test sent", logx.Bool("delivered", d.Delivered))
		})
	}

	a.sdNotify(daemon.SdNotifyReady)
	a.log.Info("app started",
		logx.String("reminder", a.cfgm.Get().Reminder.String()),
		logx.String("followup", a.cfgm.Get().Followup.String()),
		logx.String("tz", a.tracker.Location().String()),
		logx.Bool("store", a.store != nil),
	)
	return nil
}

// health reports nil while the scheduler is running and the supervisor has
// not failed.
func (a *App) health() error {
	if a.sup != nil {
		if err := a.sup.Err(); err != nil {
			return err
		}
		if a.sup.Context().Err() != nil {
			return errors.New("stopping")
		}
	}
	if !a.sched.Snapshot().Running {
		return errors.New("scheduler not running")
	}
	return nil
}

func (a *App) Stop(ctx context.Context, reason StopReason) error {
	if a.sup == nil {
		return nil
	}
	a.sdNotify(daemon.SdNotifyStopping)
	a.log.Info("stopping", logx.String("reason", string(reason)))

	// step bounds one shutdown step so a stuck component cannot stall the rest.
	step := func(name string, max time.Duration, fn func(context.Context) error) {
		start := time.Now()
		a.log.Debug("stop step begin", logx.String("name", name), logx.Duration("max", max))

		stepCtx := ctx
		if max > 0 {
			// never extend the caller's deadline
			if dl, ok := ctx.Deadline(); ok {
				max = min(max, time.Until(dl))
			}
			if max > 0 {
				var cancel context.CancelFunc
				stepCtx, cancel = context.WithTimeout(ctx, max)
				defer cancel()
			}
		}

		done := make(chan error, 1)
		go func() {
			defer func() {
				if r := recover(); r != nil {
					done <- fmt.Errorf("panic in stop step %s: %v", name, r)
				}
			}()
			done <- fn(stepCtx)
		}()

		select {
		case err := <-done:
			if err != nil {
				a.log.Warn("stop step error", logx.String("name", name), logx.Err(err))
			}
			took := time.Since(start)
			if took >= 500*time.Millisecond {
				a.log.Info("stop step end", logx.String("name", name), logx.Duration("took", took))
			} else {
				a.log.Debug("stop step end", logx.String("name", name), logx.Duration("took", took))
			}
		case <-stepCtx.Done():
			a.log.Warn("stop step deadline reached (continuing)",
				logx.String("name", name),
				logx.Err(stepCtx.Err()),
				logx.Duration("elapsed", time.Since(start)),
			)
			go func() {
				err := <-done
				if err != nil {
					a.log.Warn("stop step finished after deadline", logx.String("name", name), logx.Err(err), logx.Duration("took", time.Since(start)))
				}
			}()
		}
	}

	step("scheduler", 2*time.Second, func(c context.Context) error { a.sched.Stop(c); return nil })
	step("taskengine", 3*time.Second, func(c context.Context) error { a.engine.Stop(c); return nil })

	// In-flight jobs have finished; now unwind the background loops.
	a.sup.Cancel()
	step("ops", 1*time.Second, func(c context.Context) error {
		if a.ops != nil {
			return a.ops.Stop(c)
		}
		return nil
	})
	step("adapter", 3*time.Second, func(c context.Context) error { return a.adapter.Stop(c) })

	// Listener drain, config watch/reload and metrics all run under sup.
	step("supervisor", 2*time.Second, func(c context.Context) error { return a.sup.Wait(c) })

	// Last: the listener and in-flight jobs may still write completions.
	step("storage", 1*time.Second, func(c context.Context) error {
		if a.store != nil {
			return a.store.Close()
		}
		return nil
	})

	a.log.Info("stopped", logx.String("reason", string(reason)))
	if a.logs != nil {
		_ = a.logs.Close()
	}
	return nil
}

// applySettings re-applies what can change live and warns about the rest.
func (a *App) applySettings(prev, next *config.Settings) {
	if prev == nil || next == nil {
		return
	}
	ch := config.Diff(prev.Raw, next.Raw)
	if len(ch.Sections) == 0 {
		a.log.Debug("config reload received, but no effective changes detected")
		return
	}
	fields := append([]logx.Field{logx.String("changed", strings.Join(ch.Sections, ","))}, ch.Fields...)
	a.log.Debug("config change summary", fields...)
	for _, section := range ch.RestartRequired {
		a.log.Warn("config section changed; restart required for it to take effect", logx.String("section", section))
	}

	if ch.Has("logging") {
		a.logs.Apply(mapLogConfig(next))
	}
	if ch.Has("telegram.recipient") || ch.Has("content") {
		a.notif.Apply(mapNotifierConfig(next))
		a.listener.SetChatID(next.Raw.Telegram.ChatID)
	}
	if ch.Has("content") {
		a.notif.SetCatalog(mapCatalog(next))
	}
	if ch.Has("schedule") {
		a.tracker.SetLocation(next.Location)
		a.sched.Apply(scheduler.Config{Location: next.Location})
		if err := registerJobs(a.sched, a.tracker, next, a.log.With(logx.String("comp", "jobs"))); err != nil {
			a.log.Error("reschedule failed", logx.Err(err))
		}
	}

	a.log.Info("config reloaded", fields...)
}
