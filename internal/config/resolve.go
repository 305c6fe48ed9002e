package config

import (
	"errors"
	"fmt"
	"net"
	"strconv"
	"strings"
	"time"

	"remindbot/internal/clock"
	"remindbot/internal/storage"
	logx "remindbot/pkg/logx"
)

const (
	DefaultReminder  = "16:00"
	DefaultFollowup  = "20:30"
	DefaultReset     = "00:00"
	DefaultTimezone  = "+03:00"
	DefaultImagesDir = "./images"
	DefaultLogLevel  = "INFO"
)

// Settings is a validated config with every string field parsed.
type Settings struct {
	Raw Config

	Location *time.Location
	Reminder clock.TimeOfDay
	Followup clock.TimeOfDay
	Reset    clock.TimeOfDay

	PollTimeout time.Duration
	LogChatID   int64

	StoreBusyTimeout    time.Duration
	StoreTTL            time.Duration
	StoreConnectTimeout time.Duration

	EngineDefaultTimeout time.Duration
	EngineMaxQueueDelay  time.Duration
}

// applyDefaults fills empty fields in place.
func applyDefaults(c *Config) {
	if strings.TrimSpace(c.Schedule.Reminder) == "" {
		c.Schedule.Reminder = DefaultReminder
	}
	if strings.TrimSpace(c.Schedule.Followup) == "" {
		c.Schedule.Followup = DefaultFollowup
	}
	if strings.TrimSpace(c.Schedule.Reset) == "" {
		c.Schedule.Reset = DefaultReset
	}
	if strings.TrimSpace(c.Schedule.Timezone) == "" {
		c.Schedule.Timezone = DefaultTimezone
	}
	if strings.TrimSpace(c.Storage.Driver) == "" {
		c.Storage.Driver = "none"
	}
	c.Storage.Driver = storage.NormalizeDriver(c.Storage.Driver)
	if c.Content.ImagesDir == "" {
		c.Content.ImagesDir = DefaultImagesDir
	}
	if strings.TrimSpace(c.Logging.Level) == "" {
		c.Logging.Level = DefaultLogLevel
	}
	if c.Logging.File.Enabled && strings.TrimSpace(c.Logging.File.Path) == "" {
		c.Logging.File.Path = logx.DefaultFilePath
	}
	if c.Logging.Telegram.Enabled && strings.TrimSpace(c.Logging.Telegram.MinLevel) == "" {
		c.Logging.Telegram.MinLevel = "WARN"
	}
}

// Resolve validates c and parses it. Every problem found is reported; the
// returned error joins one *ConfigError per field.
func Resolve(c Config) (*Settings, error) {
	applyDefaults(&c)
	s := &Settings{Raw: c}
	var errs []error
	fail := func(field, reason string) {
		errs = append(errs, &ConfigError{Field: field, Reason: reason})
	}
	collect := func(err error) {
		if err != nil {
			errs = append(errs, err)
		}
	}

	if strings.TrimSpace(c.Telegram.Token) == "" {
		fail("telegram.token", "required (TELEGRAM_TOKEN)")
	}
	if c.Telegram.ChatID == 0 {
		fail("telegram.chat_id", "required (CHAT_ID)")
	}
	if c.Telegram.RatePerSec < 0 {
		fail("telegram.rate_per_sec", "must be >= 0")
	}
	var err error
	s.PollTimeout, err = parseDuration("telegram.poll_timeout", c.Telegram.PollTimeout, 10*time.Second)
	collect(err)
	if g := strings.TrimSpace(c.Telegram.GroupLog); g != "" {
		if s.LogChatID, err = strconv.ParseInt(g, 10, 64); err != nil || s.LogChatID == 0 {
			fail("telegram.group_log", fmt.Sprintf("invalid chat id %q", g))
		}
	}

	times := []struct {
		field string
		raw   string
		dst   *clock.TimeOfDay
	}{
		{"schedule.reminder", c.Schedule.Reminder, &s.Reminder},
		{"schedule.followup", c.Schedule.Followup, &s.Followup},
		{"schedule.reset", c.Schedule.Reset, &s.Reset},
	}
	for _, t := range times {
		tod, err := clock.ParseTimeOfDay(t.raw)
		if err != nil {
			fail(t.field, err.Error())
			continue
		}
		*t.dst = tod
	}
	if s.Location, err = clock.LoadLocation(c.Schedule.Timezone); err != nil {
		fail("schedule.timezone", err.Error())
	}

	if !storage.ValidDriver(c.Storage.Driver) {
		fail("storage.driver", fmt.Sprintf("unknown driver %q (want one of %s)", c.Storage.Driver, strings.Join(storage.Drivers, ", ")))
	} else if c.Storage.Driver != "none" && strings.TrimSpace(c.Storage.Path) == "" {
		fail("storage.path", fmt.Sprintf("required for driver %q (STORE_PATH)", c.Storage.Driver))
	}
	s.StoreBusyTimeout, err = parseDuration("storage.busy_timeout", c.Storage.BusyTimeout, 5*time.Second)
	collect(err)
	s.StoreTTL, err = parseDuration("storage.ttl", c.Storage.TTL, 0)
	collect(err)
	s.StoreConnectTimeout, err = parseDuration("storage.connect_timeout", c.Storage.ConnectTimeout, 5*time.Second)
	collect(err)

	if !logx.ValidLevel(c.Logging.Level) {
		fail("logging.level", fmt.Sprintf("unknown level %q", c.Logging.Level))
	}
	if c.Logging.Telegram.Enabled {
		if !logx.ValidLevel(c.Logging.Telegram.MinLevel) {
			fail("logging.telegram.min_level", fmt.Sprintf("unknown level %q", c.Logging.Telegram.MinLevel))
		}
		if s.LogChatID == 0 {
			fail("telegram.group_log", "required when logging.telegram.enabled (LOG_CHAT_ID)")
		}
	}

	te := c.TaskEngine
	if te.Workers < 0 || te.QueueSize < 0 || te.HistorySize < 0 {
		fail("task_engine", "workers, queue_size and history_size must be >= 0")
	}
	s.EngineDefaultTimeout, err = parseDuration("task_engine.default_timeout", te.DefaultTimeout, 2*time.Minute)
	collect(err)
	s.EngineMaxQueueDelay, err = parseDuration("task_engine.max_queue_delay", te.MaxQueueDelay, 0)
	collect(err)

	if addr := strings.TrimSpace(c.Ops.Addr); addr != "" {
		if _, _, err := net.SplitHostPort(addr); err != nil {
			fail("ops.addr", fmt.Sprintf("invalid listen address %q", addr))
		} else if c.Ops.Pprof && strings.TrimSpace(c.Ops.Token) == "" && !isLoopback(addr) {
			fail("ops.token", "required when pprof is served on a non-loopback address")
		}
	}

	if len(errs) > 0 {
		return nil, errors.Join(errs...)
	}
	return s, nil
}

func isLoopback(addr string) bool {
	host, _, err := net.SplitHostPort(addr)
	if err != nil {
		return false
	}
	if host == "localhost" {
		return true
	}
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}
