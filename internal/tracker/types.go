package tracker

import (
	"context"
	"time"

	"remindbot/internal/clock"
)

type Date = clock.Date

// Kind is the notification the tracker asks for. Content is the notifier's business.
type Kind string

const (
	KindPrimary        Kind = "primary"
	KindFollowup       Kind = "followup"
	KindCongratulation Kind = "congratulation"
	KindTest           Kind = "test"
)

func (k Kind) String() string { return string(k) }

type Notifier interface {
	Notify(ctx context.Context, kind Kind) error
}

// NotifierFunc adapts a function to Notifier.
type NotifierFunc func(ctx context.Context, kind Kind) error

func (f NotifierFunc) Notify(ctx context.Context, kind Kind) error { return f(ctx, kind) }

// Store is the durable half of completion tracking. storage.Store satisfies it.
type Store interface {
	Completed(ctx context.Context, date Date) (bool, error)
	MarkCompleted(ctx context.Context, date Date, at time.Time) error
}

type State string

const (
	StatePending  State = "pending"
	StateAwaiting State = "awaiting"
	StateDone     State = "done"
)

// DayRecord is the tracking state of one reference-timezone date.
type DayRecord struct {
	Date         Date      `json:"date"`
	ReminderSent bool      `json:"reminder_sent"`
	FollowupSent bool      `json:"followup_sent"`
	Completed    bool      `json:"completed"`
	CompletedAt  time.Time `json:"completed_at,omitempty"`

	// reconciled is set once the store has answered for this date.
	reconciled bool
}

func (r DayRecord) State() State {
	switch {
	case r.Completed:
		return StateDone
	case r.ReminderSent:
		return StateAwaiting
	default:
		return StatePending
	}
}

type Op string

const (
	OpDaily    Op = "daily"
	OpFollowup Op = "followup"
	OpMidnight Op = "midnight"
	OpSignal   Op = "signal"
	OpTest     Op = "test"
)

type Action string

const (
	ActionSend     Action = "send"
	ActionSkip     Action = "skip"
	ActionRollover Action = "rollover"
)

type Reason string

const (
	ReasonNone        Reason = ""
	ReasonAlreadySent Reason = "already_sent"
	ReasonCompleted   Reason = "completed"
	ReasonNotReminded Reason = "not_reminded"
	ReasonDuplicate   Reason = "duplicate"
)

// Decision describes what one operation did. It is returned to the caller,
// logged, and published on the event bus.
type Decision struct {
	Op     Op     `json:"op"`
	Date   Date   `json:"date"`
	Kind   Kind   `json:"kind,omitempty"`
	Action Action `json:"action"`
	Reason Reason `json:"reason,omitempty"`
	// State is the date's state after the transition.
	State State `json:"state"`
	// Delivered reports whether the notifier accepted the send. Only
	// meaningful when Action is ActionSend.
	Delivered bool `json:"delivered"`
}

// Sent reports whether the operation attempted a notification.
func (d Decision) Sent() bool { return d.Action == ActionSend }

// Err maps a duplicate signal to ErrDuplicateSignal so callers can use
// errors.Is. Every other decision returns nil.
func (d Decision) Err() error {
	if d.Reason == ReasonDuplicate {
		return ErrDuplicateSignal
	}
	return nil
}
