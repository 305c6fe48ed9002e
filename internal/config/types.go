package config

import (
	"encoding/json"
	"fmt"
	"hash/fnv"
)

// Config is the on-disk configuration. Durations are Go duration strings
// ("10s", "1m") and times of day are "HH:MM".
type Config struct {
	Telegram   TelegramConfig   `json:"telegram"`
	Schedule   ScheduleConfig   `json:"schedule"`
	Storage    StorageConfig    `json:"storage"`
	Content    ContentConfig    `json:"content"`
	Logging    LoggingConfig    `json:"logging"`
	TaskEngine TaskEngineConfig `json:"task_engine"`
	Ops        OpsConfig        `json:"ops"`
}

type TelegramConfig struct {
	Token string `json:"token"`
	// ChatID is the single recipient. Only activity in this chat counts.
	ChatID   int64 `json:"chat_id"`
	ThreadID int   `json:"thread_id,omitempty"`
	// GroupLog is the chat that receives WARN+ log lines. Empty disables it.
	GroupLog    string  `json:"group_log,omitempty"`
	PollTimeout string  `json:"poll_timeout,omitempty"`
	RatePerSec  float64 `json:"rate_per_sec,omitempty"`
}

// ScheduleConfig holds the three daily triggers.
//
// Defaults:
//   - reminder: "16:00"
//   - followup: "20:30"
//   - reset: "00:00"
//   - timezone: "+03:00"
type ScheduleConfig struct {
	Reminder    string `json:"reminder"`
	Followup    string `json:"followup"`
	Reset       string `json:"reset"`
	Timezone    string `json:"timezone"`
	StartupTest bool   `json:"startup_test,omitempty"`
}

// StorageConfig selects the durable completion store.
//
// Example:
//
//	"storage": { "driver": "sqlite", "path": "./remindbot.db" }
type StorageConfig struct {
	Driver         string `json:"driver"`
	Path           string `json:"path,omitempty"`
	BusyTimeout    string `json:"busy_timeout,omitempty"` // sqlite
	KeyPrefix      string `json:"key_prefix,omitempty"`   // redis
	TTL            string `json:"ttl,omitempty"`          // redis
	ConnectTimeout string `json:"connect_timeout,omitempty"`
}

type ContentConfig struct {
	ImagesDir       string   `json:"images_dir"`
	Reminders       []string `json:"reminders,omitempty"`
	Followups       []string `json:"followups,omitempty"`
	Congratulations []string `json:"congratulations,omitempty"`
	TestPrefix      string   `json:"test_prefix,omitempty"`
}

type LoggingConfig struct {
	Level    string          `json:"level"`
	Console  *bool           `json:"console,omitempty"`
	File     LoggingFile     `json:"file"`
	Telegram LoggingTelegram `json:"telegram"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path,omitempty"`
}

type LoggingTelegram struct {
	Enabled    bool   `json:"enabled"`
	MinLevel   string `json:"min_level,omitempty"`
	RatePerSec int    `json:"rate_per_sec,omitempty"`
}

// TaskEngineConfig controls how trigger callbacks run.
//
// Defaults (when omitted or zero):
//   - workers: 2
//   - queue_size: 32
//   - default_timeout: "2m"
//   - max_queue_delay: "0s" (disabled)
//   - history_size: 100
type TaskEngineConfig struct {
	Workers        int    `json:"workers,omitempty"`
	QueueSize      int    `json:"queue_size,omitempty"`
	DefaultTimeout string `json:"default_timeout,omitempty"`
	MaxQueueDelay  string `json:"max_queue_delay,omitempty"`
	HistorySize    int    `json:"history_size,omitempty"`
}

// OpsConfig controls the optional HTTP ops server. Empty Addr disables it.
//
// Prefer a loopback address. Pprof handlers are only mounted when Pprof is
// set, and a non-empty Token is then required as a bearer token.
type OpsConfig struct {
	Addr  string `json:"addr,omitempty"`
	Pprof bool   `json:"pprof,omitempty"`
	Token string `json:"token,omitempty"`
}

// ConsoleEnabled defaults to true.
func (l LoggingConfig) ConsoleEnabled() bool {
	return l.Console == nil || *l.Console
}

// ConfigError names the offending field.
type ConfigError struct {
	Field  string
	Reason string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("config %s: %s", e.Field, e.Reason)
}

func hashConfig(cfg *Config) uint64 {
	if cfg == nil {
		return 0
	}
	b, err := json.Marshal(cfg)
	if err != nil {
		return 0
	}
	h := fnv.New64a()
	_, _ = h.Write(b)
	return h.Sum64()
}
