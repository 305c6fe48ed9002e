package config

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"
	_ "time/tzdata"
)

func env(m map[string]string) LookupFunc {
	return func(k string) (string, bool) {
		v, ok := m[k]
		return v, ok
	}
}

func minimalEnv() map[string]string {
	return map[string]string{"TELEGRAM_TOKEN": "123:abc", "CHAT_ID": "42"}
}

func TestLoadFromEnvAppliesDefaults(t *testing.T) {
	t.Parallel()
	s, err := NewManager("", env(minimalEnv())).Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if s.Raw.Telegram.ChatID != 42 || s.Raw.Telegram.Token != "123:abc" {
		t.Fatalf("telegram = %+v", s.Raw.Telegram)
	}
	if s.Reminder.String() != "16:00" || s.Followup.String() != "20:30" || s.Reset.String() != "00:00" {
		t.Fatalf("times = %v %v %v", s.Reminder, s.Followup, s.Reset)
	}
	ref := time.Date(2024, 1, 10, 12, 0, 0, 0, time.UTC)
	if _, off := ref.In(s.Location).Zone(); off != 3*3600 {
		t.Fatalf("default offset = %d", off)
	}
	if s.Raw.Storage.Driver != "none" || s.Raw.Content.ImagesDir != DefaultImagesDir || s.Raw.Logging.Level != "INFO" {
		t.Fatalf("defaults = %+v", s.Raw)
	}
	if s.PollTimeout != 10*time.Second || s.EngineDefaultTimeout != 2*time.Minute {
		t.Fatalf("durations = %v %v", s.PollTimeout, s.EngineDefaultTimeout)
	}
	if !s.Raw.Logging.ConsoleEnabled() {
		t.Fatalf("console disabled by default")
	}
}

func TestEnvOverridesFile(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	yml := "telegram:\n  token: file-token\n  chat_id: 1\nschedule:\n  reminder: \"09:15\"\n  timezone: Europe/Moscow\n"
	if err := os.WriteFile(path, []byte(yml), 0o644); err != nil {
		t.Fatal(err)
	}
	e := map[string]string{
		"CHAT_ID":           "99",
		"FOLLOWUP_TIME":     "21:00",
		"STARTUP_TEST":      "true",
		"STORE_DRIVER":      "sqlite3",
		"STORE_PATH":        filepath.Join(dir, "bot.db"),
		"LOG_FILE":          filepath.Join(dir, "bot.log"),
		"LOG_CHAT_ID":       "-1001",
		"REMINDER_TIMEZONE": "",
	}
	s, err := NewManager(path, env(e)).Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if s.Raw.Telegram.Token != "file-token" || s.Raw.Telegram.ChatID != 99 {
		t.Fatalf("telegram = %+v", s.Raw.Telegram)
	}
	if s.Reminder.String() != "09:15" || s.Followup.String() != "21:00" || !s.Raw.Schedule.StartupTest {
		t.Fatalf("schedule = %+v", s.Raw.Schedule)
	}
	if s.Location.String() != "Europe/Moscow" {
		t.Fatalf("location = %v", s.Location)
	}
	if s.Raw.Storage.Driver != "sqlite" {
		t.Fatalf("driver = %q", s.Raw.Storage.Driver)
	}
	if !s.Raw.Logging.File.Enabled || !s.Raw.Logging.Telegram.Enabled || s.LogChatID != -1001 || s.Raw.Logging.Telegram.MinLevel != "WARN" {
		t.Fatalf("logging = %+v, chat %d", s.Raw.Logging, s.LogChatID)
	}
}

func TestValidationReportsEveryField(t *testing.T) {
	t.Parallel()
	e := map[string]string{
		"REMINDER_TIME":     "25:00",
		"REMINDER_TIMEZONE": "Mars/Olympus",
		"STORE_DRIVER":      "mongodb",
		"LOG_LEVEL":         "LOUD",
	}
	_, err := NewManager("", env(e)).Load()
	if err == nil {
		t.Fatalf("Load succeeded")
	}
	want := []string{"telegram.token", "telegram.chat_id", "schedule.reminder", "schedule.timezone", "storage.driver", "logging.level"}
	for _, field := range want {
		if !hasField(err, field) {
			t.Fatalf("error %q does not mention %s", err, field)
		}
	}
	var ce *ConfigError
	if !errors.As(err, &ce) {
		t.Fatalf("error is not a ConfigError: %T", err)
	}
}

func hasField(err error, field string) bool {
	var joined interface{ Unwrap() []error }
	if !errors.As(err, &joined) {
		var ce *ConfigError
		return errors.As(err, &ce) && ce.Field == field
	}
	for _, e := range joined.Unwrap() {
		var ce *ConfigError
		if errors.As(e, &ce) && ce.Field == field {
			return true
		}
	}
	return false
}

func TestStorePathRequired(t *testing.T) {
	t.Parallel()
	e := minimalEnv()
	e["STORE_DRIVER"] = "file"
	_, err := NewManager("", env(e)).Load()
	if !hasField(err, "storage.path") {
		t.Fatalf("err = %v, want storage.path", err)
	}
}

func TestBadChatIDEnv(t *testing.T) {
	t.Parallel()
	e := minimalEnv()
	e["CHAT_ID"] = "me"
	_, err := NewManager("", env(e)).Load()
	var ce *ConfigError
	if !errors.As(err, &ce) || ce.Field != "telegram.chat_id" {
		t.Fatalf("err = %v", err)
	}
}

func TestPprofOnPublicAddrNeedsToken(t *testing.T) {
	t.Parallel()
	c := Config{
		Telegram: TelegramConfig{Token: "x", ChatID: 1},
		Ops:      OpsConfig{Addr: "0.0.0.0:9090", Pprof: true},
	}
	if _, err := Resolve(c); !hasField(err, "ops.token") {
		t.Fatalf("err = %v, want ops.token", err)
	}
	c.Ops.Addr = "127.0.0.1:9090"
	if _, err := Resolve(c); err != nil {
		t.Fatalf("loopback pprof: %v", err)
	}
}

func TestStrictDecoding(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	for name, body := range map[string]string{
		"unknown.json":  `{"telegram": {"token": "x", "chat_id": 1}, "plugins": {}}`,
		"trailing.json": `{"telegram": {"token": "x", "chat_id": 1}} {}`,
		"unknown.yaml":  "telegram:\n  token: x\n  chat_id: 1\n  owner_user_ids: [1]\n",
	} {
		path := filepath.Join(dir, name)
		if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
			t.Fatal(err)
		}
		if _, err := NewManager(path, nil).Load(); err == nil {
			t.Fatalf("%s: Load succeeded", name)
		}
	}
}

func TestMissingFileIsAnError(t *testing.T) {
	t.Parallel()
	if _, err := NewManager(filepath.Join(t.TempDir(), "nope.json"), env(minimalEnv())).Load(); !errors.Is(err, os.ErrNotExist) {
		t.Fatalf("err = %v, want ErrNotExist", err)
	}
}

func TestDiff(t *testing.T) {
	t.Parallel()
	a := Config{Telegram: TelegramConfig{Token: "a", ChatID: 1}, Schedule: ScheduleConfig{Reminder: "16:00"}}
	b := a
	b.Schedule.Reminder = "17:00"
	b.Telegram.ChatID = 2
	ch := Diff(a, b)
	if !ch.Has("schedule") || !ch.Has("telegram.recipient") || ch.Has("storage") || len(ch.RestartRequired) != 0 {
		t.Fatalf("change = %+v", ch)
	}
	b.Storage.Driver = "file"
	if ch := Diff(a, b); len(ch.RestartRequired) != 1 || ch.RestartRequired[0] != "storage" {
		t.Fatalf("restart = %v", ch.RestartRequired)
	}
	if ch := Diff(a, a); len(ch.Sections) != 0 {
		t.Fatalf("identical configs differ: %v", ch.Sections)
	}
}

func TestWatchPublishesValidReload(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	path := filepath.Join(dir, "config.json")
	write := func(body string) {
		t.Helper()
		if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
			t.Fatal(err)
		}
	}
	write(`{"telegram": {"token": "x", "chat_id": 1}, "schedule": {"reminder": "16:00"}}`)

	m := NewManager(path, nil)
	if _, err := m.Load(); err != nil {
		t.Fatalf("Load: %v", err)
	}
	updates := m.Subscribe(1)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan struct{})
	go func() { _ = m.Watch(ctx); close(done) }()

	// Give the watcher time to register before writing.
	time.Sleep(200 * time.Millisecond)
	write(`{"telegram": {"token": "x", "chat_id": 1}, "schedule": {"reminder": "bogus"}}`)
	time.Sleep(600 * time.Millisecond)
	write(`{"telegram": {"token": "x", "chat_id": 1}, "schedule": {"reminder": "17:30"}}`)

	select {
	case s := <-updates:
		if s.Reminder.String() != "17:30" {
			t.Fatalf("reminder = %v", s.Reminder)
		}
	case <-time.After(5 * time.Second):
		t.Fatalf("no reload published")
	}
	if m.Get().Reminder.String() != "17:30" {
		t.Fatalf("Get not updated")
	}
	cancel()
	<-done
}
