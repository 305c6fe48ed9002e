package app

import (
	"context"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"remindbot/internal/clock"
	"remindbot/internal/config"
	"remindbot/internal/task/engine"
	"remindbot/internal/tracker"
	kit "remindbot/internal/transport"
)

type fakeAdapter struct {
	mu    sync.Mutex
	out   chan<- kit.Update
	texts []string
}

func (f *fakeAdapter) SendText(ctx context.Context, to kit.ChatTarget, text string, opt *kit.SendOptions) (kit.MessageRef, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.texts = append(f.texts, text)
	return kit.MessageRef{ChatID: to.ChatID, MessageID: len(f.texts)}, nil
}

func (f *fakeAdapter) SendPhoto(ctx context.Context, to kit.ChatTarget, p kit.Photo, opt *kit.SendOptions) (kit.MessageRef, error) {
	return f.SendText(ctx, to, p.Caption, opt)
}

func (f *fakeAdapter) Start(ctx context.Context, out chan<- kit.Update) error {
	f.mu.Lock()
	f.out = out
	f.mu.Unlock()
	return nil
}

func (f *fakeAdapter) Stop(ctx context.Context) error { return nil }

func (f *fakeAdapter) sent() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.texts)
}

func (f *fakeAdapter) deliver(m *kit.Message) {
	f.mu.Lock()
	out := f.out
	f.mu.Unlock()
	out <- kit.Update{Kind: kit.UpdateMessage, Message: m}
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

type harness struct {
	app    *App
	ad     *fakeAdapter
	clk    *clock.Manual
	states []string
	mu     sync.Mutex
}

func testEnv(t *testing.T, storePath string) config.LookupFunc {
	t.Helper()
	e := map[string]string{
		"TELEGRAM_TOKEN":    "123:abc",
		"CHAT_ID":           "42",
		"REMINDER_TIMEZONE": "UTC",
		"IMAGES_DIR":        t.TempDir(),
		"LOG_LEVEL":         "ERROR",
	}
	if storePath != "" {
		e["STORE_DRIVER"] = "file"
		e["STORE_PATH"] = storePath
	}
	return func(k string) (string, bool) {
		v, ok := e[k]
		return v, ok
	}
}

func startApp(t *testing.T, lookup config.LookupFunc, now time.Time) *harness {
	t.Helper()
	return startAppCtx(t, context.Background(), lookup, now)
}

func startAppCtx(t *testing.T, ctx context.Context, lookup config.LookupFunc, now time.Time) *harness {
	t.Helper()
	h := &harness{ad: &fakeAdapter{}, clk: clock.NewManual(now)}
	a, err := NewApp(config.NewManager("", lookup), Options{
		Adapter: h.ad,
		Clock:   h.clk,
		Notify: func(state string) {
			h.mu.Lock()
			h.states = append(h.states, state)
			h.mu.Unlock()
		},
	})
	if err != nil {
		t.Fatalf("NewApp: %v", err)
	}
	if err := a.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	h.app = a
	return h
}

func (h *harness) stop(t *testing.T) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := h.app.Stop(ctx, StopSignal); err != nil {
		t.Fatalf("Stop: %v", err)
	}
}

func (h *harness) runJob(t *testing.T, name string) {
	t.Helper()
	before := len(h.app.engine.Snapshot().History)
	if err := h.app.sched.Trigger(name); err != nil {
		t.Fatalf("Trigger(%s): %v", name, err)
	}
	waitFor(t, name+" run", func() bool { return len(h.app.engine.Snapshot().History) > before })
}

func TestAppRemindsThenCongratulates(t *testing.T) {
	t.Parallel()
	h := startApp(t, testEnv(t, ""), time.Date(2024, 3, 10, 16, 0, 0, 0, time.UTC))
	defer h.stop(t)

	h.runJob(t, JobDaily)
	if n := h.ad.sent(); n != 1 {
		t.Fatalf("sent after daily = %d, want 1", n)
	}

	// Wrong chat and text-only messages do not count.
	h.ad.deliver(&kit.Message{ChatID: 7, HasPhoto: true, Time: h.clk.Now()})
	h.ad.deliver(&kit.Message{ChatID: 42, Text: "hi", Time: h.clk.Now()})
	h.ad.deliver(&kit.Message{ChatID: 42, HasPhoto: true, Time: h.clk.Now()})
	waitFor(t, "congratulation", func() bool { return h.ad.sent() == 2 })

	h.clk.Advance(4*time.Hour + 30*time.Minute)
	h.runJob(t, JobFollowup)
	if n := h.ad.sent(); n != 2 {
		t.Fatalf("sent after followup = %d, want 2", n)
	}
	if st := h.app.Tracker().Today().State(); st != tracker.StateDone {
		t.Fatalf("state = %s, want done", st)
	}
	stats := h.app.listener.Stats()
	if stats.Ignored != 2 || stats.Signaled != 1 {
		t.Fatalf("listener stats = %+v", stats)
	}
}

func TestAppFollowupWithoutActivity(t *testing.T) {
	t.Parallel()
	h := startApp(t, testEnv(t, ""), time.Date(2024, 3, 10, 16, 0, 0, 0, time.UTC))
	defer h.stop(t)

	h.runJob(t, JobDaily)
	h.clk.Advance(4*time.Hour + 30*time.Minute)
	h.runJob(t, JobFollowup)
	h.runJob(t, JobFollowup)
	if n := h.ad.sent(); n != 2 {
		t.Fatalf("sent = %d, want 2 (reminder and one follow-up)", n)
	}
}

func TestAppRestartKeepsCompletion(t *testing.T) {
	t.Parallel()
	store := filepath.Join(t.TempDir(), "done.log")
	now := time.Date(2024, 3, 10, 12, 0, 0, 0, time.UTC)

	h := startApp(t, testEnv(t, store), now)
	h.ad.deliver(&kit.Message{ChatID: 42, HasPhoto: true, Time: now})
	waitFor(t, "congratulation", func() bool { return h.ad.sent() == 1 })
	h.stop(t)

	h2 := startApp(t, testEnv(t, store), now.Add(4*time.Hour))
	defer h2.stop(t)
	h2.runJob(t, JobDaily)
	if n := h2.ad.sent(); n != 0 {
		t.Fatalf("restarted app sent %d, want 0", n)
	}
}

func TestAppNotifiesServiceManager(t *testing.T) {
	t.Parallel()
	h := startApp(t, testEnv(t, ""), time.Date(2024, 3, 10, 9, 0, 0, 0, time.UTC))
	if err := h.app.health(); err != nil {
		t.Fatalf("health: %v", err)
	}
	h.stop(t)

	h.mu.Lock()
	defer h.mu.Unlock()
	if len(h.states) != 2 || h.states[0] != "READY=1" || h.states[1] != "STOPPING=1" {
		t.Fatalf("states = %v", h.states)
	}
}

func TestApplySettingsReschedules(t *testing.T) {
	t.Parallel()
	h := startApp(t, testEnv(t, ""), time.Date(2024, 3, 10, 9, 0, 0, 0, time.UTC))
	defer h.stop(t)

	prev := h.app.cfgm.Get()
	raw := prev.Raw
	raw.Schedule.Reminder = "09:45"
	raw.Schedule.Timezone = "+05:00"
	raw.Telegram.ChatID = 99
	next, err := config.Resolve(raw)
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	h.app.applySettings(prev, next)

	snap := h.app.sched.Snapshot()
	var at string
	for _, s := range snap.Schedules {
		if s.Name == JobDaily {
			at = s.At
		}
	}
	if at != "09:45" {
		t.Fatalf("daily at = %q, want 09:45", at)
	}
	if _, off := h.clk.Now().In(h.app.Tracker().Location()).Zone(); off != 5*3600 {
		t.Fatalf("tracker offset = %d", off)
	}

	h.ad.deliver(&kit.Message{ChatID: 99, HasPhoto: true, Time: h.clk.Now()})
	waitFor(t, "congratulation to new chat", func() bool { return h.ad.sent() == 1 })
}

func TestStatusReportsToday(t *testing.T) {
	t.Parallel()
	h := startApp(t, testEnv(t, ""), time.Date(2024, 3, 10, 16, 0, 0, 0, time.UTC))
	defer h.stop(t)

	h.runJob(t, JobDaily)
	st := h.app.Status()
	if st.State != tracker.StateAwaiting || st.Today.Date.String() != "2024-03-10" {
		t.Fatalf("status = %+v", st)
	}
	if len(st.Scheduler.Schedules) != 3 || !st.Scheduler.Running {
		t.Fatalf("scheduler = %+v", st.Scheduler)
	}
	if len(st.Notifications) != 1 || st.Notifications[0].Kind != tracker.KindPrimary {
		t.Fatalf("notifications = %+v", st.Notifications)
	}
}

func TestStopDrainsInFlightTask(t *testing.T) {
	t.Parallel()
	// The run context ends first, as it does on SIGTERM.
	runCtx, cancelRun := context.WithCancel(context.Background())
	h := startAppCtx(t, runCtx, testEnv(t, ""), time.Date(2024, 3, 10, 16, 0, 0, 0, time.UTC))

	started := make(chan struct{})
	var finished, canceled atomic.Bool
	err := h.app.engine.Enqueue(engine.Task{Name: "slow.send", Run: func(ctx context.Context) error {
		close(started)
		select {
		case <-time.After(300 * time.Millisecond):
			finished.Store(true)
		case <-ctx.Done():
			canceled.Store(true)
		}
		return nil
	}})
	if err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	<-started
	cancelRun()
	h.stop(t)

	if canceled.Load() || !finished.Load() {
		t.Fatalf("in-flight task finished = %v, canceled = %v; want it drained", finished.Load(), canceled.Load())
	}
}
