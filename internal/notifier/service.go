package notifier

import (
	"context"
	"math/rand"
	"path/filepath"
	"sync"
	"time"

	"remindbot/internal/eventbus"
	"remindbot/internal/tracker"
	kit "remindbot/internal/transport"
	logx "remindbot/pkg/logx"

	"golang.org/x/time/rate"
)

const historySize = 50

// Service implements tracker.Notifier on top of a transport.Sender.
//
// It is safe for concurrent use.
type Service struct {
	mu sync.Mutex

	log    logx.Logger
	sender kit.Sender
	bus    eventbus.Bus

	cfg     Config
	catalog Catalog
	limiter *rate.Limiter
	rng     *rand.Rand

	hmu     sync.Mutex
	history []HistoryItem
}

var _ tracker.Notifier = (*Service)(nil)

func New(cfg Config, catalog Catalog, sender kit.Sender, log logx.Logger, bus eventbus.Bus) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	if bus == nil {
		bus = eventbus.Nop{}
	}
	s := &Service{
		log:     log,
		sender:  sender,
		bus:     bus,
		catalog: catalog.withDefaults(),
		rng:     rand.New(rand.NewSource(time.Now().UnixNano())),
	}
	s.applyLocked(cfg)
	return s
}

// Apply swaps the configuration. In-flight sends keep the old one.
func (s *Service) Apply(cfg Config) {
	s.mu.Lock()
	s.applyLocked(cfg)
	s.mu.Unlock()
}

func (s *Service) applyLocked(cfg Config) {
	if cfg.RatePerSec <= 0 {
		cfg.RatePerSec = 1
	}
	if cfg.SendTimeout <= 0 {
		cfg.SendTimeout = 15 * time.Second
	}
	s.cfg = cfg
	s.limiter = rate.NewLimiter(rate.Limit(cfg.RatePerSec), 3)
}

// SetSender replaces the transport. Used when the adapter is built after
// the notifier.
func (s *Service) SetSender(sender kit.Sender) {
	s.mu.Lock()
	s.sender = sender
	s.mu.Unlock()
}

// SetCatalog replaces the message texts. Empty lists fall back to the
// built-in ones.
func (s *Service) SetCatalog(c Catalog) {
	s.mu.Lock()
	s.catalog = c.withDefaults()
	s.mu.Unlock()
}

// Notify sends one notification of the given kind. Failures are returned as
// *TransportError and are never retried.
func (s *Service) Notify(ctx context.Context, kind tracker.Kind) error {
	if ctx == nil {
		ctx = context.Background()
	}
	if err := ctx.Err(); err != nil {
		return &TransportError{Kind: kind, Err: err}
	}

	s.mu.Lock()
	cfg := s.cfg
	lim := s.limiter
	sender := s.sender
	text := s.catalog.Text(s.rng, kind)
	s.mu.Unlock()

	if sender == nil || cfg.ChatID == 0 {
		return &TransportError{Kind: kind, Err: ErrNoRecipient}
	}

	image := ""
	if wantsImage(kind) {
		image = s.pickImage(cfg.ImagesDir)
	}

	if err := lim.Wait(ctx); err != nil {
		return &TransportError{Kind: kind, Err: err}
	}

	to := kit.ChatTarget{ChatID: cfg.ChatID, ThreadID: cfg.ThreadID}
	callCtx, cancel := context.WithTimeout(ctx, cfg.SendTimeout)
	start := time.Now()
	var err error
	if image != "" {
		_, err = sender.SendPhoto(callCtx, to, kit.Photo{Path: image, Caption: text}, nil)
	} else {
		_, err = sender.SendText(callCtx, to, text, &kit.SendOptions{DisablePreview: true})
	}
	cancel()

	ev := NotificationEvent{Kind: kind, ChatID: cfg.ChatID, At: start, Duration: time.Since(start)}
	if image != "" {
		ev.Image = filepath.Base(image)
	}
	if err != nil {
		ev.Error = err.Error()
		s.bus.Publish(eventbus.Event{Type: eventbus.Notification, Time: start, Data: ev})
		return &TransportError{Kind: kind, Err: err}
	}

	s.appendHistory(HistoryItem{At: start, Kind: kind, Text: text})
	s.bus.Publish(eventbus.Event{Type: eventbus.Notification, Time: start, Data: ev})
	s.log.Debug("notification sent", logx.String("kind", kind.String()), logx.String("image", ev.Image), logx.Duration("took", ev.Duration))
	return nil
}

func (s *Service) pickImage(dir string) string {
	images, err := listImages(dir)
	if err != nil {
		s.log.Warn("list images failed", logx.String("dir", dir), logx.Err(err))
		return ""
	}
	if len(images) == 0 {
		return ""
	}
	s.mu.Lock()
	img := images[s.rng.Intn(len(images))]
	s.mu.Unlock()
	return img
}

// History returns the most recent successful sends, oldest first.
func (s *Service) History() []HistoryItem {
	s.hmu.Lock()
	out := append([]HistoryItem(nil), s.history...)
	s.hmu.Unlock()
	return out
}

func (s *Service) appendHistory(it HistoryItem) {
	s.hmu.Lock()
	s.history = append(s.history, it)
	if len(s.history) > historySize {
		s.history = s.history[len(s.history)-historySize:]
	}
	s.hmu.Unlock()
}
