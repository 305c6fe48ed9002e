package config

import (
	"fmt"
	"strconv"
	"strings"
)

// LookupFunc matches os.LookupEnv.
type LookupFunc func(key string) (string, bool)

type envVar struct {
	key   string
	field string
	set   func(c *Config, v string) error
}

func setString(dst func(c *Config) *string) func(*Config, string) error {
	return func(c *Config, v string) error {
		*dst(c) = v
		return nil
	}
}

// envVars lists every recognized environment override. Env wins over file.
var envVars = []envVar{
	{"TELEGRAM_TOKEN", "telegram.token", setString(func(c *Config) *string { return &c.Telegram.Token })},
	{"CHAT_ID", "telegram.chat_id", func(c *Config, v string) error {
		id, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return fmt.Errorf("invalid chat id %q", v)
		}
		c.Telegram.ChatID = id
		return nil
	}},
	{"TELEGRAM_POLL_TIMEOUT", "telegram.poll_timeout", setString(func(c *Config) *string { return &c.Telegram.PollTimeout })},
	{"REMINDER_TIME", "schedule.reminder", setString(func(c *Config) *string { return &c.Schedule.Reminder })},
	{"FOLLOWUP_TIME", "schedule.followup", setString(func(c *Config) *string { return &c.Schedule.Followup })},
	{"RESET_TIME", "schedule.reset", setString(func(c *Config) *string { return &c.Schedule.Reset })},
	{"REMINDER_TIMEZONE", "schedule.timezone", setString(func(c *Config) *string { return &c.Schedule.Timezone })},
	{"STARTUP_TEST", "schedule.startup_test", func(c *Config, v string) error {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("invalid bool %q", v)
		}
		c.Schedule.StartupTest = b
		return nil
	}},
	{"STORE_DRIVER", "storage.driver", setString(func(c *Config) *string { return &c.Storage.Driver })},
	{"STORE_PATH", "storage.path", setString(func(c *Config) *string { return &c.Storage.Path })},
	{"IMAGES_DIR", "content.images_dir", setString(func(c *Config) *string { return &c.Content.ImagesDir })},
	{"LOG_LEVEL", "logging.level", setString(func(c *Config) *string { return &c.Logging.Level })},
	{"LOG_FILE", "logging.file.path", func(c *Config, v string) error {
		c.Logging.File.Enabled = true
		c.Logging.File.Path = v
		return nil
	}},
	{"LOG_CHAT_ID", "telegram.group_log", func(c *Config, v string) error {
		c.Telegram.GroupLog = v
		c.Logging.Telegram.Enabled = true
		return nil
	}},
	{"OPS_ADDR", "ops.addr", setString(func(c *Config) *string { return &c.Ops.Addr })},
}

// applyEnv overlays set, non-empty variables onto c.
func applyEnv(c *Config, lookup LookupFunc) error {
	if lookup == nil {
		return nil
	}
	for _, ev := range envVars {
		v, ok := lookup(ev.key)
		v = strings.TrimSpace(v)
		if !ok || v == "" {
			continue
		}
		if err := ev.set(c, v); err != nil {
			return &ConfigError{Field: ev.field, Reason: ev.key + ": " + err.Error()}
		}
	}
	return nil
}

// EnvKeys returns the recognized variable names in table order.
func EnvKeys() []string {
	out := make([]string, 0, len(envVars))
	for _, ev := range envVars {
		out = append(out, ev.key)
	}
	return out
}
