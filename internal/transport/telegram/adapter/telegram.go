package adapter

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	tele "gopkg.in/telebot.v4"

	rtsup "remindbot/internal/runtime/supervisor"
	kit "remindbot/internal/transport"
	logx "remindbot/pkg/logx"
)

const (
	defaultPollTimeout = 10 * time.Second
	dropReportEvery    = 5 * time.Second
	stopGrace          = 2 * time.Second
)

type Config struct {
	Token       string
	PollTimeout time.Duration
	// Offline skips the getMe handshake. Tests only.
	Offline bool
}

// Stats counts inbound updates since New.
type Stats struct {
	Received  uint64 `json:"received"`
	Forwarded uint64 `json:"forwarded"`
	Dropped   uint64 `json:"dropped"`
	Polling   bool   `json:"polling"`
}

// Adapter is the Telegram side of the bot: one long poller feeding a
// channel, plus plain sends to a single chat.
type Adapter struct {
	cfg Config
	log logx.Logger
	bot *tele.Bot

	sink atomic.Pointer[chan<- kit.Update]

	received  atomic.Uint64
	forwarded atomic.Uint64
	dropped   atomic.Uint64
	unseen    atomic.Uint64 // drops not yet logged

	mu   sync.Mutex
	poll *rtsup.Supervisor // nil while stopped
}

var _ kit.Adapter = (*Adapter)(nil)

// New builds the bot. Unless cfg.Offline is set this calls getMe, so a bad
// token fails here.
func New(cfg Config, log logx.Logger) (*Adapter, error) {
	if strings.TrimSpace(cfg.Token) == "" {
		return nil, errors.New("telegram token is empty")
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	if cfg.PollTimeout <= 0 {
		cfg.PollTimeout = defaultPollTimeout
	}
	a := &Adapter{cfg: cfg, log: log}
	b, err := tele.NewBot(tele.Settings{
		Token:   cfg.Token,
		Poller:  &tele.LongPoller{Timeout: cfg.PollTimeout},
		Offline: cfg.Offline,
		OnError: a.onError,
	})
	if err != nil {
		return nil, err
	}
	a.bot = b
	b.Use(a.count)
	for _, ev := range []string{tele.OnPhoto, tele.OnDocument, tele.OnText} {
		b.Handle(ev, a.forward)
	}
	if b.Me != nil && b.Me.Username != "" {
		log.Info("authenticated", logx.String("bot", b.Me.Username))
	}
	return a, nil
}

func (a *Adapter) onError(err error, _ tele.Context) {
	a.log.Warn("telebot handler error", logx.Err(err))
}

// count runs before every handler.
func (a *Adapter) count(next tele.HandlerFunc) tele.HandlerFunc {
	return func(c tele.Context) error {
		a.received.Add(1)
		return next(c)
	}
}

func (a *Adapter) forward(c tele.Context) error {
	msg := messageFromTele(c.Message())
	if msg == nil {
		return nil
	}
	p := a.sink.Load()
	if p == nil {
		return nil
	}
	select {
	case *p <- kit.Update{Kind: kit.UpdateMessage, Message: msg}:
		a.forwarded.Add(1)
	default:
		a.dropped.Add(1)
		a.unseen.Add(1)
	}
	return nil
}

// messageFromTele maps the fields the listener cares about.
func messageFromTele(m *tele.Message) *kit.Message {
	if m == nil || m.Chat == nil {
		return nil
	}
	msg := &kit.Message{
		ID:       m.ID,
		ChatID:   m.Chat.ID,
		Text:     m.Text,
		Time:     m.Time(),
		HasPhoto: m.Photo != nil,
	}
	if msg.Text == "" {
		msg.Text = m.Caption
	}
	if u := m.Sender; u != nil {
		msg.FromID, msg.FromUsername = u.ID, u.Username
	}
	if d := m.Document; d != nil {
		msg.DocumentMIME = d.MIME
		if msg.DocumentMIME == "" {
			msg.DocumentMIME = "application/octet-stream"
		}
	}
	return msg
}

// Stats returns the inbound counters.
func (a *Adapter) Stats() Stats {
	a.mu.Lock()
	polling := a.poll != nil
	a.mu.Unlock()
	return Stats{
		Received:  a.received.Load(),
		Forwarded: a.forwarded.Load(),
		Dropped:   a.dropped.Load(),
		Polling:   polling,
	}
}

// Start begins long polling. Updates go to out without blocking; when out is
// full they are dropped and counted. Calling Start twice is a no-op.
func (a *Adapter) Start(ctx context.Context, out chan<- kit.Update) error {
	if ctx == nil {
		ctx = context.Background()
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.poll != nil {
		return nil
	}
	a.sink.Store(&out)
	sup := rtsup.NewSupervisor(ctx, rtsup.WithLogger(a.log.With(logx.String("comp", "telegram.adapter"))))
	a.poll = sup

	sup.Go0("telebot.watch", func(c context.Context) {
		t := time.NewTicker(dropReportEvery)
		defer t.Stop()
		for {
			select {
			case <-t.C:
				a.reportDrops(cap(out))
			case <-c.Done():
				// Stop blocks until the poll loop receives it.
				go a.bot.Stop()
				a.reportDrops(cap(out))
				return
			}
		}
	})

	// bot.Start only returns after bot.Stop, or early on a poller failure.
	sup.GoRestart0("telebot.poll", func(context.Context) {
		a.log.Info("polling started", logx.Duration("timeout", a.cfg.PollTimeout))
		a.bot.Start()
		a.log.Info("polling stopped")
	},
		rtsup.WithRestartBackoff(500*time.Millisecond, 10*time.Second),
		rtsup.WithPublishFirstError(true),
		rtsup.WithStopOnCleanExit(false),
	)
	return nil
}

func (a *Adapter) reportDrops(capacity int) {
	if n := a.unseen.Swap(0); n > 0 {
		a.log.Warn("incoming updates dropped", logx.Uint64("count", n), logx.Int("chan_cap", capacity))
	}
}

// Stop ends polling. A getUpdates call parked in a long poll may outlive the
// grace period; Stop then logs and returns nil so shutdown continues.
func (a *Adapter) Stop(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	a.mu.Lock()
	sup := a.poll
	a.poll = nil
	a.sink.Store(nil)
	a.mu.Unlock()
	if sup == nil {
		return nil
	}

	sup.Cancel()
	wctx, cancel := context.WithTimeout(ctx, stopGrace)
	defer cancel()
	err := sup.Wait(wctx)
	switch {
	case err == nil:
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		a.log.Warn("telegram stop timed out", logx.Err(err))
	default:
		a.log.Debug("poll loop ended with error", logx.Err(err))
	}
	return nil
}

func (a *Adapter) SendText(ctx context.Context, to kit.ChatTarget, text string, opt *kit.SendOptions) (kit.MessageRef, error) {
	if opt == nil {
		opt = &kit.SendOptions{}
	}
	chunks := splitTelegramText(text, telegramTextLimit, opt.ParseMode)
	chat := &tele.Chat{ID: to.ChatID}

	var first kit.MessageRef
	for i, chunk := range chunks {
		if err := ctx.Err(); err != nil {
			return first, err
		}
		msg, err := a.bot.Send(chat, chunk, sendOptions(to, opt))
		if err != nil {
			return first, err
		}
		if i == 0 {
			first = kit.MessageRef{ChatID: to.ChatID, MessageID: msg.ID}
		}
	}
	return first, nil
}

func (a *Adapter) SendPhoto(ctx context.Context, to kit.ChatTarget, p kit.Photo, opt *kit.SendOptions) (kit.MessageRef, error) {
	if opt == nil {
		opt = &kit.SendOptions{}
	}
	if err := ctx.Err(); err != nil {
		return kit.MessageRef{}, err
	}
	if strings.TrimSpace(p.Path) == "" {
		return kit.MessageRef{}, errors.New("photo path is empty")
	}
	photo := &tele.Photo{File: tele.FromDisk(p.Path), Caption: truncateRunes(p.Caption, telegramCaptionLimit)}
	msg, err := a.bot.Send(&tele.Chat{ID: to.ChatID}, photo, sendOptions(to, opt))
	if err != nil {
		return kit.MessageRef{}, err
	}
	return kit.MessageRef{ChatID: to.ChatID, MessageID: msg.ID}, nil
}

func sendOptions(to kit.ChatTarget, opt *kit.SendOptions) *tele.SendOptions {
	return &tele.SendOptions{
		ParseMode:             opt.ParseMode,
		DisableWebPagePreview: opt.DisablePreview,
		ThreadID:              to.ThreadID,
	}
}
