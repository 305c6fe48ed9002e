package listener

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"remindbot/internal/tracker"
	kit "remindbot/internal/transport"
	logx "remindbot/pkg/logx"
)

type fakeSignaler struct {
	mu    sync.Mutex
	calls []time.Time
	seen  map[string]bool
	err   error
}

func (f *fakeSignaler) SignalActivity(ctx context.Context, at time.Time) (tracker.Decision, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, at)
	if f.seen == nil {
		f.seen = map[string]bool{}
	}
	key := at.Format("2006-01-02")
	d := tracker.Decision{Op: tracker.OpSignal, Action: tracker.ActionSend}
	if f.seen[key] {
		d.Action, d.Reason = tracker.ActionSkip, tracker.ReasonDuplicate
	}
	f.seen[key] = true
	return d, f.err
}

func (f *fakeSignaler) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

func photo(chat int64, at time.Time) kit.Update {
	return kit.Update{Kind: kit.UpdateMessage, Message: &kit.Message{ChatID: chat, Time: at, HasPhoto: true}}
}

func TestHandleFiltersByChatAndPayload(t *testing.T) {
	t.Parallel()
	sig := &fakeSignaler{}
	l := New(42, nil, sig, logx.Nop())
	ctx := context.Background()
	at := time.Date(2024, 1, 10, 18, 0, 0, 0, time.UTC)

	l.Handle(ctx, photo(7, at))
	l.Handle(ctx, kit.Update{Kind: kit.UpdateMessage, Message: &kit.Message{ChatID: 42, Time: at, Text: "done!"}})
	l.Handle(ctx, kit.Update{Kind: kit.UpdateMessage, Message: &kit.Message{ChatID: 42, Time: at, DocumentMIME: "application/pdf"}})
	l.Handle(ctx, kit.Update{Kind: kit.UpdateMessage})
	if sig.count() != 0 {
		t.Fatalf("signaled %d times for non-qualifying updates", sig.count())
	}

	l.Handle(ctx, photo(42, at))
	l.Handle(ctx, kit.Update{Kind: kit.UpdateMessage, Message: &kit.Message{ChatID: 42, Time: at, DocumentMIME: "image/png"}})
	if sig.count() != 2 || !sig.calls[0].Equal(at) {
		t.Fatalf("calls = %v", sig.calls)
	}

	st := l.Stats()
	if st.Received != 6 || st.Ignored != 4 || st.Signaled != 1 || st.Duplicate != 1 {
		t.Fatalf("stats = %+v", st)
	}
}

func TestHandleCountsFailures(t *testing.T) {
	t.Parallel()
	sig := &fakeSignaler{err: errors.New("store down")}
	l := New(1, nil, sig, logx.Nop())
	l.Handle(context.Background(), photo(1, time.Now()))
	if st := l.Stats(); st.Failed != 1 {
		t.Fatalf("stats = %+v", st)
	}
}

func TestSetChatID(t *testing.T) {
	t.Parallel()
	sig := &fakeSignaler{}
	l := New(1, nil, sig, logx.Nop())
	l.SetChatID(2)
	l.Handle(context.Background(), photo(1, time.Now()))
	l.Handle(context.Background(), photo(2, time.Now()))
	if sig.count() != 1 {
		t.Fatalf("calls = %d, want 1", sig.count())
	}
}

func TestRunDrainsBufferedOnCancel(t *testing.T) {
	t.Parallel()
	in := make(chan kit.Update, 4)
	sig := &fakeSignaler{}
	l := New(1, in, sig, logx.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	base := time.Date(2024, 1, 10, 0, 0, 0, 0, time.UTC)
	for i := 0; i < 3; i++ {
		in <- photo(1, base.AddDate(0, 0, i))
	}

	if err := l.Run(ctx); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if sig.count() != 3 {
		t.Fatalf("processed %d, want 3", sig.count())
	}
}

func TestRunReturnsWhenInputClosed(t *testing.T) {
	t.Parallel()
	in := make(chan kit.Update, 1)
	in <- photo(1, time.Now())
	close(in)
	sig := &fakeSignaler{}
	done := make(chan error, 1)
	go func() { done <- New(1, in, sig, logx.Nop()).Run(context.Background()) }()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Run: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("Run did not return after close")
	}
	if sig.count() != 1 {
		t.Fatalf("processed %d, want 1", sig.count())
	}
}
