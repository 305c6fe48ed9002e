package logx

import (
	"context"
	"encoding/json"
	"fmt"
	"html"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"
	"unicode/utf8"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"remindbot/internal/transport"
)

// TextSender is the slice of a transport the Telegram sink needs.
type TextSender interface {
	SendText(ctx context.Context, to transport.ChatTarget, text string, opt *transport.SendOptions) (transport.MessageRef, error)
}

const (
	tgQueueSize   = 128
	tgSendTimeout = 10 * time.Second
	tgMaxFields   = 12
	tgMaxValue    = 300
	tgMaxMessage  = 1000
)

// telegramSink is a zerolog.LevelWriter that queues formatted records for a
// background sender. Writes never block; a full queue drops the record.
type telegramSink struct {
	mu       sync.Mutex
	sender   TextSender
	chatID   int64
	minLevel zerolog.Level
	limiter  *rate.Limiter

	queue   chan string
	dropped *atomic.Uint64

	startOnce sync.Once
	cancel    context.CancelFunc
	done      chan struct{}
}

func newTelegramSink(sender TextSender, dropped *atomic.Uint64) *telegramSink {
	return &telegramSink{
		sender:   sender,
		minLevel: zerolog.Disabled,
		queue:    make(chan string, tgQueueSize),
		dropped:  dropped,
	}
}

func (t *telegramSink) setSender(sender TextSender) {
	t.mu.Lock()
	t.sender = sender
	t.mu.Unlock()
}

// configure sets the target. A nil limiter disables the sink. The worker
// starts the first time the sink is enabled.
func (t *telegramSink) configure(chatID int64, minLevel zerolog.Level, lim *rate.Limiter) {
	t.mu.Lock()
	t.chatID, t.minLevel, t.limiter = chatID, minLevel, lim
	t.mu.Unlock()
	if lim == nil {
		return
	}
	t.startOnce.Do(func() {
		ctx, cancel := context.WithCancel(context.Background())
		t.mu.Lock()
		t.cancel = cancel
		t.done = make(chan struct{})
		done := t.done
		t.mu.Unlock()
		go t.run(ctx, done)
	})
}

func (t *telegramSink) stop() {
	t.mu.Lock()
	cancel, done := t.cancel, t.done
	t.cancel, t.limiter = nil, nil
	t.mu.Unlock()
	if cancel != nil {
		cancel()
		<-done
	}
}

func (t *telegramSink) run(ctx context.Context, done chan struct{}) {
	defer close(done)
	for {
		select {
		case <-ctx.Done():
			return
		case text := <-t.queue:
			t.mu.Lock()
			sender, chatID := t.sender, t.chatID
			t.mu.Unlock()
			if sender == nil || chatID == 0 {
				continue
			}
			sctx, cancel := context.WithTimeout(ctx, tgSendTimeout)
			_, _ = sender.SendText(sctx, transport.ChatTarget{ChatID: chatID}, text, &transport.SendOptions{ParseMode: "HTML", DisablePreview: true})
			cancel()
		}
	}
}

func (t *telegramSink) Write(p []byte) (int, error) {
	return t.WriteLevel(zerolog.NoLevel, p)
}

func (t *telegramSink) WriteLevel(level zerolog.Level, p []byte) (int, error) {
	t.mu.Lock()
	chatID, minLevel, lim := t.chatID, t.minLevel, t.limiter
	t.mu.Unlock()

	if chatID == 0 || lim == nil || level < minLevel || level == zerolog.NoLevel || !lim.Allow() {
		return len(p), nil
	}
	text := formatTelegram(p)
	if text == "" {
		return len(p), nil
	}
	select {
	case t.queue <- text:
	default:
		t.dropped.Add(1)
	}
	return len(p), nil
}

// formatTelegram renders a zerolog JSON line as Telegram HTML: a header with
// level and component, the message, then up to tgMaxFields sorted fields.
func formatTelegram(p []byte) string {
	var rec map[string]any
	if err := json.Unmarshal(p, &rec); err != nil {
		return html.EscapeString(truncate(strings.TrimSpace(string(p)), tgMaxMessage))
	}

	level, _ := rec["level"].(string)
	msg, _ := rec["message"].(string)
	comp, _ := rec["comp"].(string)

	var b strings.Builder
	b.WriteString(levelIcon(level))
	b.WriteString(" <b>" + html.EscapeString(strings.ToUpper(level)) + "</b>")
	if comp != "" {
		b.WriteString(" <i>" + html.EscapeString(comp) + "</i>")
	}
	b.WriteString("\n" + html.EscapeString(truncate(msg, tgMaxMessage)))

	keys := make([]string, 0, len(rec))
	for k := range rec {
		switch k {
		case "time", "level", "message", "comp":
			continue
		}
		keys = append(keys, k)
	}
	sort.Strings(keys)
	if len(keys) > tgMaxFields {
		keys = keys[:tgMaxFields]
	}
	for _, k := range keys {
		v := truncate(fmt.Sprint(rec[k]), tgMaxValue)
		b.WriteString("\n<code>" + html.EscapeString(k) + "</code> " + html.EscapeString(v))
	}
	return b.String()
}

func levelIcon(level string) string {
	switch level {
	case "error", "fatal", "panic":
		return "🛑"
	case "warn":
		return "⚠️"
	default:
		return "ℹ️"
	}
}

// truncate cuts s to at most n runes, marking the cut with "...".
func truncate(s string, n int) string {
	if n <= 0 || utf8.RuneCountInString(s) <= n {
		return s
	}
	r := []rune(s)
	if n < 10 {
		return string(r[:n])
	}
	return string(r[:n-3]) + "..."
}
