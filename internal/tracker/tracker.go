// Package tracker is the daily reminder state machine. For each date in the
// reference timezone it decides whether the primary reminder, the follow-up,
// or a congratulation is due, and reconciles completion with an optional
// durable store so a restart never re-reminds a user who already responded.
//
// All operations serialize on one mutex. Notifications are sent after the
// mutex is released and their failures never roll back a transition.
package tracker

import (
	"context"
	"sync"
	"time"

	"remindbot/internal/clock"
	"remindbot/internal/eventbus"
	"remindbot/pkg/logx"
)

type Config struct {
	// Location is the reference timezone. Nil means UTC.
	Location *time.Location
	// StoreTimeout bounds each store call. Default 5s.
	StoreTimeout time.Duration
}

type Deps struct {
	Clock    clock.Clock
	Notifier Notifier
	Store    Store // optional
	Log      logx.Logger
	Bus      eventbus.Bus // optional
}

type Tracker struct {
	mu sync.Mutex

	loc          *time.Location
	storeTimeout time.Duration

	clk      clock.Clock
	notifier Notifier
	store    Store
	log      logx.Logger
	bus      eventbus.Bus

	today   Date
	records map[Date]*DayRecord
}

func New(cfg Config, deps Deps) *Tracker {
	t := &Tracker{
		loc:          cfg.Location,
		storeTimeout: cfg.StoreTimeout,
		clk:          deps.Clock,
		notifier:     deps.Notifier,
		store:        deps.Store,
		log:          deps.Log,
		bus:          deps.Bus,
		records:      map[Date]*DayRecord{},
	}
	if t.loc == nil {
		t.loc = time.UTC
	}
	if t.storeTimeout <= 0 {
		t.storeTimeout = 5 * time.Second
	}
	if t.clk == nil {
		t.clk = clock.System{}
	}
	if t.notifier == nil {
		t.notifier = NotifierFunc(func(context.Context, Kind) error { return nil })
	}
	if t.log.IsZero() {
		t.log = logx.Nop()
	}
	if t.bus == nil {
		t.bus = eventbus.Nop{}
	}
	t.today = clock.DateOf(t.clk.Now(), t.loc)
	if t.store == nil {
		t.log.Warn("no durable store configured; completion is kept in memory only")
	}
	return t
}

// SetLocation changes the reference timezone. Existing records keep their dates.
func (t *Tracker) SetLocation(loc *time.Location) {
	if loc == nil {
		loc = time.UTC
	}
	t.mu.Lock()
	t.loc = loc
	t.mu.Unlock()
}

func (t *Tracker) Location() *time.Location {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.loc
}

// OnDailyTrigger sends the primary reminder unless it was already sent
// today or today is already done.
func (t *Tracker) OnDailyTrigger(ctx context.Context) Decision {
	t.mu.Lock()
	today := clock.DateOf(t.clk.Now(), t.loc)
	t.advanceLocked(today)
	rec := t.recordLocked(ctx, today)

	d := Decision{Op: OpDaily, Date: today, Kind: KindPrimary, Action: ActionSkip}
	switch {
	case rec.ReminderSent:
		d.Reason = ReasonAlreadySent
	case rec.Completed:
		d.Reason = ReasonCompleted
	default:
		rec.ReminderSent = true
		d.Action = ActionSend
	}
	d.State = rec.State()
	t.mu.Unlock()

	return t.finish(ctx, d)
}

// OnFollowupTrigger sends the follow-up only while today is awaiting:
// the primary reminder went out and no activity was observed.
func (t *Tracker) OnFollowupTrigger(ctx context.Context) Decision {
	t.mu.Lock()
	today := clock.DateOf(t.clk.Now(), t.loc)
	t.advanceLocked(today)
	rec := t.recordLocked(ctx, today)

	d := Decision{Op: OpFollowup, Date: today, Kind: KindFollowup, Action: ActionSkip}
	switch {
	case rec.Completed:
		d.Reason = ReasonCompleted
	case !rec.ReminderSent:
		d.Reason = ReasonNotReminded
	case rec.FollowupSent:
		d.Reason = ReasonAlreadySent
	default:
		rec.FollowupSent = true
		d.Action = ActionSend
	}
	d.State = rec.State()
	t.mu.Unlock()

	return t.finish(ctx, d)
}

// OnMidnightTrigger rolls the current date forward and forgets stale
// records. It is idempotent, and every other operation re-derives its date,
// so missing it changes nothing.
func (t *Tracker) OnMidnightTrigger(ctx context.Context) Decision {
	t.mu.Lock()
	today := clock.DateOf(t.clk.Now(), t.loc)
	t.advanceLocked(today)
	state := StatePending
	if rec, ok := t.records[today]; ok {
		state = rec.State()
	}
	t.mu.Unlock()

	return t.finish(ctx, Decision{Op: OpMidnight, Date: today, Action: ActionRollover, State: state})
}

// SignalActivity records qualifying activity observed at observedAt. The
// date comes from observedAt in the reference timezone, never from cached
// state. Completion is written to the store before it becomes visible in
// memory. A store write failure is returned as a *StoreError; the date is
// still treated as done for the rest of this process.
func (t *Tracker) SignalActivity(ctx context.Context, observedAt time.Time) (Decision, error) {
	if observedAt.IsZero() {
		observedAt = t.clk.Now()
	}

	t.mu.Lock()
	date := clock.DateOf(observedAt, t.loc)
	rec := t.recordLocked(ctx, date)

	d := Decision{Op: OpSignal, Date: date, Kind: KindCongratulation, Action: ActionSkip}
	if rec.Completed {
		d.Reason = ReasonDuplicate
		d.State = rec.State()
		t.mu.Unlock()
		return t.finish(ctx, d), nil
	}

	var se *StoreError
	if t.store != nil {
		sctx, cancel := context.WithTimeout(ctx, t.storeTimeout)
		if err := t.store.MarkCompleted(sctx, date, observedAt); err != nil {
			se = &StoreError{Op: "write", Date: date, Err: err}
		}
		cancel()
	}
	rec.Completed = true
	rec.CompletedAt = observedAt
	d.Action = ActionSend
	d.State = rec.State()
	t.mu.Unlock()

	var storeErr error
	if se != nil {
		t.reportStoreError(se)
		storeErr = se
	}
	return t.finish(ctx, d), storeErr
}

// SendTest sends a test notification without touching any record.
func (t *Tracker) SendTest(ctx context.Context) Decision {
	t.mu.Lock()
	today := clock.DateOf(t.clk.Now(), t.loc)
	state := StatePending
	if rec, ok := t.records[today]; ok {
		state = rec.State()
	}
	t.mu.Unlock()

	return t.finish(ctx, Decision{Op: OpTest, Date: today, Kind: KindTest, Action: ActionSend, State: state})
}

// Record returns the in-memory record for date. It does not consult the store.
func (t *Tracker) Record(date Date) DayRecord {
	t.mu.Lock()
	defer t.mu.Unlock()
	if rec, ok := t.records[date]; ok {
		return *rec
	}
	return DayRecord{Date: date}
}

// Today returns the in-memory record for the current reference date.
func (t *Tracker) Today() DayRecord {
	t.mu.Lock()
	today := clock.DateOf(t.clk.Now(), t.loc)
	t.mu.Unlock()
	return t.Record(today)
}

// advanceLocked moves the cached date forward and drops records older than
// the previous day. Yesterday is kept so activity observed just before
// midnight but delivered after it is still deduplicated. Without a store,
// activity dated two or more days back is congratulated again.
func (t *Tracker) advanceLocked(today Date) {
	if !today.After(t.today) {
		return
	}
	prev := t.today
	t.today = today
	keep := today.AddDays(-1)
	dropped := 0
	for date := range t.records {
		if date.Before(keep) {
			delete(t.records, date)
			dropped++
		}
	}
	t.log.Info("date rolled over", logx.Stringer("from", prev), logx.Stringer("to", today), logx.Int("dropped", dropped))
}

// recordLocked returns the record for date, creating it and reconciling
// completion with the store on first touch. A failed read counts as not
// completed and is retried on the next touch.
func (t *Tracker) recordLocked(ctx context.Context, date Date) *DayRecord {
	rec, ok := t.records[date]
	if !ok {
		rec = &DayRecord{Date: date}
		t.records[date] = rec
	}
	if rec.reconciled {
		return rec
	}
	if t.store == nil {
		rec.reconciled = true
		return rec
	}

	sctx, cancel := context.WithTimeout(ctx, t.storeTimeout)
	done, err := t.store.Completed(sctx, date)
	cancel()
	if err != nil {
		t.reportStoreError(&StoreError{Op: "read", Date: date, Err: err})
		return rec
	}
	rec.reconciled = true
	if done && !rec.Completed {
		rec.Completed = true
		t.log.Debug("completion restored from store", logx.Stringer("date", date))
	}
	return rec
}

func (t *Tracker) reportStoreError(err *StoreError) {
	t.log.Error("store error", logx.String("op", err.Op), logx.Stringer("date", err.Date), logx.Err(err.Err))
	t.bus.Publish(eventbus.Event{Type: eventbus.StoreError, Data: *err})
}

// finish sends the notification a decision asks for, then logs and
// publishes the decision. Notifier errors end here.
func (t *Tracker) finish(ctx context.Context, d Decision) Decision {
	if d.Action == ActionSend {
		if err := t.notifier.Notify(ctx, d.Kind); err != nil {
			t.log.Warn("notification failed", logx.String("op", string(d.Op)), logx.String("kind", string(d.Kind)), logx.Stringer("date", d.Date), logx.Err(err))
		} else {
			d.Delivered = true
		}
	}

	fields := []logx.Field{
		logx.String("op", string(d.Op)),
		logx.Stringer("date", d.Date),
		logx.String("action", string(d.Action)),
		logx.String("state", string(d.State)),
	}
	if d.Reason != ReasonNone {
		fields = append(fields, logx.String("reason", string(d.Reason)))
	}
	if d.Action == ActionSend {
		fields = append(fields, logx.String("kind", string(d.Kind)), logx.Bool("delivered", d.Delivered))
		t.log.Info("decision", fields...)
	} else {
		t.log.Debug("decision", fields...)
	}
	t.bus.Publish(eventbus.Event{Type: eventbus.Decision, Data: d})
	return d
}
