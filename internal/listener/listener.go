// Package listener turns inbound transport updates into tracker activity.
package listener

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"remindbot/internal/tracker"
	kit "remindbot/internal/transport"
	logx "remindbot/pkg/logx"
)

// Signaler is the part of the tracker the listener drives.
type Signaler interface {
	SignalActivity(ctx context.Context, observedAt time.Time) (tracker.Decision, error)
}

type Stats struct {
	Received  uint64 `json:"received"`
	Ignored   uint64 `json:"ignored"`
	Signaled  uint64 `json:"signaled"`
	Duplicate uint64 `json:"duplicate"`
	Failed    uint64 `json:"failed"`
}

type Listener struct {
	mu     sync.Mutex
	chatID int64

	in  <-chan kit.Update
	sig Signaler
	log logx.Logger

	received, ignored, signaled, duplicate, failed atomic.Uint64
}

// New builds a listener for updates from in. Only messages in chatID count.
func New(chatID int64, in <-chan kit.Update, sig Signaler, log logx.Logger) *Listener {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Listener{chatID: chatID, in: in, sig: sig, log: log}
}

// SetChatID changes the recipient chat on config reload.
func (l *Listener) SetChatID(id int64) {
	l.mu.Lock()
	l.chatID = id
	l.mu.Unlock()
}

// Run handles updates one at a time until ctx is canceled or in is closed.
// On cancellation it drains what is already buffered before returning.
func (l *Listener) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			l.drain(context.WithoutCancel(ctx))
			return nil
		case up, ok := <-l.in:
			if !ok {
				return nil
			}
			l.Handle(ctx, up)
		}
	}
}

func (l *Listener) drain(ctx context.Context) {
	n := 0
	for {
		select {
		case up, ok := <-l.in:
			if !ok {
				return
			}
			l.Handle(ctx, up)
			n++
		default:
			if n > 0 {
				l.log.Debug("drained buffered updates", logx.Int("count", n))
			}
			return
		}
	}
}

// Handle processes a single update.
func (l *Listener) Handle(ctx context.Context, up kit.Update) {
	l.received.Add(1)
	msg := up.Message
	if up.Kind != kit.UpdateMessage || msg == nil {
		l.ignored.Add(1)
		return
	}
	l.mu.Lock()
	chatID := l.chatID
	l.mu.Unlock()
	if msg.ChatID != chatID || !msg.Qualifies() {
		l.ignored.Add(1)
		return
	}

	d, err := l.sig.SignalActivity(ctx, msg.Time)
	switch {
	case err != nil:
		l.failed.Add(1)
		l.log.Warn("activity not persisted", logx.Int("msg_id", msg.ID), logx.Err(err))
	case d.Reason == tracker.ReasonDuplicate:
		l.duplicate.Add(1)
	default:
		l.signaled.Add(1)
		l.log.Info("activity recorded", logx.Int("msg_id", msg.ID), logx.Stringer("date", d.Date), logx.Int64("from", msg.FromID))
	}
}

func (l *Listener) Stats() Stats {
	return Stats{
		Received:  l.received.Load(),
		Ignored:   l.ignored.Load(),
		Signaled:  l.signaled.Load(),
		Duplicate: l.duplicate.Load(),
		Failed:    l.failed.Load(),
	}
}
