package logx

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"
)

type Config struct {
	Level    string
	Console  bool
	File     FileConfig
	Telegram TelegramConfig
}

// FileConfig appends JSON lines to Path.
type FileConfig struct {
	Enabled bool
	Path    string
}

// TelegramConfig mirrors records at MinLevel and above into a log chat.
type TelegramConfig struct {
	Enabled    bool
	ChatID     int64
	MinLevel   string // default WARN
	RatePerSec int    // default 1
}

const DefaultFilePath = "./remindbot.log"

const consoleTimeFormat = "2006-01-02T15:04:05.000Z07:00"

var globalsOnce sync.Once

// Service owns the sinks. Apply rebuilds them; every Logger obtained from
// the service picks up the new sinks on its next write.
type Service struct {
	mu  sync.Mutex
	cfg Config

	root atomic.Pointer[zerolog.Logger]

	file     *os.File
	filePath string

	tg      *telegramSink
	dropped atomic.Uint64
}

// New applies cfg immediately and returns the service with its root logger.
// sender may be nil; attach it later with SetSender.
func New(cfg Config, sender TextSender) (*Service, Logger) {
	globalsOnce.Do(func() {
		zerolog.ErrorFieldName = "err"
		zerolog.TimeFieldFormat = consoleTimeFormat
	})

	s := &Service{}
	s.tg = newTelegramSink(sender, &s.dropped)
	s.Apply(cfg)
	return s, Logger{svc: s}
}

func (s *Service) current() *zerolog.Logger { return s.root.Load() }

func (s *Service) Logger() Logger { return Logger{svc: s} }

// SetSender attaches the transport once it exists. Logging is built first
// so that the transport's own startup is logged.
func (s *Service) SetSender(sender TextSender) { s.tg.setSender(sender) }

// Dropped reports Telegram log lines lost to a full queue.
func (s *Service) Dropped() uint64 { return s.dropped.Load() }

// Close stops the Telegram worker and closes the log file. Loggers keep
// working on the console afterwards.
func (s *Service) Close() error {
	s.tg.stop()

	s.mu.Lock()
	defer s.mu.Unlock()
	console := zerolog.New(newConsoleWriter(os.Stdout)).Level(ParseLevel(s.cfg.Level, zerolog.InfoLevel)).With().Timestamp().Logger()
	s.root.Store(&console)
	if s.file == nil {
		return nil
	}
	err := s.file.Close()
	s.file, s.filePath = nil, ""
	return err
}

// Apply swaps outputs and levels at runtime. The log file is only reopened
// when its path changes. Safe for concurrent use.
func (s *Service) Apply(cfg Config) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cfg = cfg

	var writers []io.Writer
	if cfg.Console {
		writers = append(writers, newConsoleWriter(os.Stdout))
	}
	if f := s.syncFileLocked(cfg.File); f != nil {
		writers = append(writers, zerolog.SyncWriter(f))
	}
	if cfg.Telegram.Enabled {
		rps := max(cfg.Telegram.RatePerSec, 1)
		s.tg.configure(cfg.Telegram.ChatID, ParseLevel(cfg.Telegram.MinLevel, zerolog.WarnLevel), rate.NewLimiter(rate.Limit(rps), rps))
		writers = append(writers, s.tg)
		if cfg.Telegram.ChatID == 0 {
			fmt.Fprintln(os.Stderr, "logx: telegram sink enabled without a chat id")
		}
	} else {
		s.tg.configure(0, zerolog.Disabled, nil)
	}
	if len(writers) == 0 {
		writers = append(writers, newConsoleWriter(os.Stdout))
	}

	zl := zerolog.New(zerolog.MultiLevelWriter(writers...)).
		Level(ParseLevel(cfg.Level, zerolog.InfoLevel)).
		With().Timestamp().Logger()
	s.root.Store(&zl)
}

func (s *Service) syncFileLocked(fc FileConfig) *os.File {
	path := strings.TrimSpace(fc.Path)
	if path == "" {
		path = DefaultFilePath
	}
	if !fc.Enabled || path != s.filePath {
		if s.file != nil {
			_ = s.file.Close()
		}
		s.file, s.filePath = nil, ""
	}
	if !fc.Enabled {
		return nil
	}
	if s.file != nil {
		return s.file
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logx: open log file %q: %v\n", path, err)
		return nil
	}
	s.file, s.filePath = f, path
	return f
}

func newConsoleWriter(w io.Writer) io.Writer {
	return zerolog.ConsoleWriter{Out: w, TimeFormat: consoleTimeFormat}
}
