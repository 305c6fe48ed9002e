package app

import (
	"strings"
	"time"

	"remindbot/internal/config"
	"remindbot/internal/notifier"
	"remindbot/internal/observability/ops"
	"remindbot/internal/storage"
	"remindbot/internal/task/engine"
	"remindbot/internal/tracker"
	logx "remindbot/pkg/logx"
)

func mapLogConfig(s *config.Settings) logx.Config {
	l := s.Raw.Logging
	return logx.Config{
		Level:   l.Level,
		Console: l.ConsoleEnabled(),
		File: logx.FileConfig{
			Enabled: l.File.Enabled,
			Path:    l.File.Path,
		},
		Telegram: logx.TelegramConfig{
			Enabled:    l.Telegram.Enabled && s.LogChatID != 0,
			ChatID:     s.LogChatID,
			MinLevel:   l.Telegram.MinLevel,
			RatePerSec: l.Telegram.RatePerSec,
		},
	}
}

func mapStorageConfig(s *config.Settings) storage.Config {
	st := s.Raw.Storage
	return storage.Config{
		Driver:         st.Driver,
		Path:           strings.TrimSpace(st.Path),
		BusyTimeout:    s.StoreBusyTimeout,
		KeyPrefix:      st.KeyPrefix,
		TTL:            s.StoreTTL,
		ConnectTimeout: s.StoreConnectTimeout,
	}
}

func mapEngineConfig(s *config.Settings) engine.Config {
	te := s.Raw.TaskEngine
	return engine.Config{
		Workers:        te.Workers,
		QueueSize:      te.QueueSize,
		DefaultTimeout: s.EngineDefaultTimeout,
		MaxQueueDelay:  s.EngineMaxQueueDelay,
		HistorySize:    te.HistorySize,
	}
}

func mapNotifierConfig(s *config.Settings) notifier.Config {
	tg := s.Raw.Telegram
	return notifier.Config{
		ChatID:     tg.ChatID,
		ThreadID:   tg.ThreadID,
		ImagesDir:  s.Raw.Content.ImagesDir,
		RatePerSec: tg.RatePerSec,
	}
}

// mapCatalog overlays configured texts on the built-in ones. Empty lists keep
// the defaults.
func mapCatalog(s *config.Settings) notifier.Catalog {
	c := notifier.DefaultCatalog()
	ct := s.Raw.Content
	if len(ct.Reminders) > 0 {
		c.Reminders = ct.Reminders
	}
	if len(ct.Followups) > 0 {
		c.Followups = ct.Followups
	}
	if len(ct.Congratulations) > 0 {
		c.Congratulations = ct.Congratulations
	}
	if ct.TestPrefix != "" {
		c.TestPrefix = ct.TestPrefix
	}
	return c
}

func mapTrackerConfig(s *config.Settings) tracker.Config {
	// Each store call is bounded by the connect timeout.
	return tracker.Config{Location: s.Location, StoreTimeout: s.StoreConnectTimeout}
}

func mapOpsConfig(s *config.Settings) ops.Config {
	o := s.Raw.Ops
	return ops.Config{
		Addr:        strings.TrimSpace(o.Addr),
		Pprof:       o.Pprof,
		Token:       o.Token,
		ReadTimeout: 10 * time.Second,
	}
}
