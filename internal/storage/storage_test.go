package storage

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"remindbot/internal/clock"
	"remindbot/pkg/logx"
)

var (
	day1 = clock.Date{Year: 2024, Month: time.January, Day: 10}
	day2 = clock.Date{Year: 2024, Month: time.January, Day: 11}
)

func openStore(t *testing.T, cfg Config) Store {
	t.Helper()
	st, err := Open(context.Background(), cfg, logx.Nop())
	if err != nil {
		t.Fatalf("Open(%+v): %v", cfg, err)
	}
	if st == nil {
		t.Fatalf("Open(%+v) returned nil store", cfg)
	}
	return st
}

func TestOpenNoneReturnsNil(t *testing.T) {
	t.Parallel()
	for _, d := range []string{"", "none", " NONE "} {
		st, err := Open(context.Background(), Config{Driver: d}, logx.Nop())
		if err != nil || st != nil {
			t.Fatalf("Open(%q) = %v, %v; want nil, nil", d, st, err)
		}
	}
}

func TestOpenRejectsUnknownDriver(t *testing.T) {
	t.Parallel()
	if _, err := Open(context.Background(), Config{Driver: "mongo"}, logx.Nop()); err == nil {
		t.Fatalf("Open(mongo) succeeded")
	}
	if ValidDriver("mongo") {
		t.Fatalf("ValidDriver(mongo) = true")
	}
	for _, d := range []string{"file", "SQLITE3", "pg", ""} {
		if !ValidDriver(d) {
			t.Fatalf("ValidDriver(%q) = false", d)
		}
	}
}

func TestOpenRequiresPath(t *testing.T) {
	t.Parallel()
	for _, d := range []string{"file", "sqlite", "redis", "postgres"} {
		if _, err := Open(context.Background(), Config{Driver: d}, logx.Nop()); err == nil {
			t.Fatalf("Open(%s) without path succeeded", d)
		}
	}
}

func roundTrip(t *testing.T, cfg Config) {
	t.Helper()
	ctx := context.Background()
	at := time.Date(2024, 1, 10, 15, 0, 0, 0, time.UTC)

	st := openStore(t, cfg)
	if ok, err := st.Completed(ctx, day1); err != nil || ok {
		t.Fatalf("Completed(day1) on empty store = %v, %v", ok, err)
	}
	if err := st.MarkCompleted(ctx, day1, at); err != nil {
		t.Fatalf("MarkCompleted: %v", err)
	}
	if err := st.MarkCompleted(ctx, day1, at.Add(time.Hour)); err != nil {
		t.Fatalf("second MarkCompleted: %v", err)
	}
	if ok, _ := st.Completed(ctx, day1); !ok {
		t.Fatalf("Completed(day1) = false after mark")
	}
	if err := st.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	// A fresh process sees the same state.
	st = openStore(t, cfg)
	defer st.Close()
	if ok, err := st.Completed(ctx, day1); err != nil || !ok {
		t.Fatalf("Completed(day1) after reopen = %v, %v", ok, err)
	}
	if ok, err := st.Completed(ctx, day2); err != nil || ok {
		t.Fatalf("Completed(day2) after reopen = %v, %v", ok, err)
	}
}

func TestFileStoreSurvivesReopen(t *testing.T) {
	t.Parallel()
	roundTrip(t, Config{Driver: "file", Path: filepath.Join(t.TempDir(), "state", "remindbot.json")})
}

func TestSQLiteStoreSurvivesReopen(t *testing.T) {
	t.Parallel()
	roundTrip(t, Config{Driver: "sqlite", Path: filepath.Join(t.TempDir(), "remindbot.db")})
}

func TestFileStoreCompaction(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "remindbot.json")
	st := openStore(t, Config{Driver: "file", Path: path})

	d := day1
	for i := 0; i < fileCompactEvery+3; i++ {
		if err := st.MarkCompleted(ctx, d, time.Now()); err != nil {
			t.Fatalf("MarkCompleted(%s): %v", d, err)
		}
		d = d.AddDays(1)
	}
	_ = st.Close()

	dir := filepath.Dir(path)
	if _, err := os.Stat(filepath.Join(dir, "remindbot.snapshot.json")); err != nil {
		t.Fatalf("snapshot missing: %v", err)
	}
	b, err := os.ReadFile(filepath.Join(dir, "remindbot.journal.jsonl"))
	if err != nil {
		t.Fatalf("read journal: %v", err)
	}
	if n := strings.Count(string(b), "\n"); n != 3 {
		t.Fatalf("journal lines after compaction = %d, want 3", n)
	}

	st = openStore(t, Config{Driver: "file", Path: path})
	defer st.Close()
	for i, d := 0, day1; i < fileCompactEvery+3; i, d = i+1, d.AddDays(1) {
		if ok, _ := st.Completed(ctx, d); !ok {
			t.Fatalf("Completed(%s) = false after compaction", d)
		}
	}
}

func TestFileStoreSkipsTornJournalLine(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	journal := `{"date":"2024-01-10","at":"2024-01-10T15:00:00Z"}` + "\n" + `{"date":"2024-01-1`
	if err := os.WriteFile(filepath.Join(dir, "s.journal.jsonl"), []byte(journal), 0o600); err != nil {
		t.Fatal(err)
	}
	st := openStore(t, Config{Driver: "file", Path: filepath.Join(dir, "s.json")})
	defer st.Close()
	if ok, _ := st.Completed(context.Background(), day1); !ok {
		t.Fatalf("Completed(day1) = false")
	}
}

func TestFileStoreWriteAfterTornLineSurvivesReopen(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	dir := t.TempDir()
	path := filepath.Join(dir, "s.json")
	journal := `{"date":"2024-01-10","at":"2024-01-10T15:00:00Z"}` + "\n" + `{"date":"2024-01-1`
	if err := os.WriteFile(filepath.Join(dir, "s.journal.jsonl"), []byte(journal), 0o600); err != nil {
		t.Fatal(err)
	}

	st := openStore(t, Config{Driver: "file", Path: path})
	if err := st.MarkCompleted(ctx, day2, time.Now()); err != nil {
		t.Fatalf("MarkCompleted: %v", err)
	}
	_ = st.Close()

	st = openStore(t, Config{Driver: "file", Path: path})
	defer st.Close()
	for _, d := range []clock.Date{day1, day2} {
		if ok, err := st.Completed(ctx, d); err != nil || !ok {
			t.Fatalf("Completed(%s) after reopen = %v, %v, want true", d, ok, err)
		}
	}
}

func TestFileStoreKeepsRecordMissingNewline(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	dir := t.TempDir()
	path := filepath.Join(dir, "s.json")
	journal := `{"date":"2024-01-10","at":"2024-01-10T15:00:00Z"}`
	if err := os.WriteFile(filepath.Join(dir, "s.journal.jsonl"), []byte(journal), 0o600); err != nil {
		t.Fatal(err)
	}

	st := openStore(t, Config{Driver: "file", Path: path})
	if err := st.MarkCompleted(ctx, day2, time.Now()); err != nil {
		t.Fatalf("MarkCompleted: %v", err)
	}
	_ = st.Close()

	b, err := os.ReadFile(filepath.Join(dir, "s.journal.jsonl"))
	if err != nil {
		t.Fatal(err)
	}
	if n := strings.Count(string(b), "\n"); n != 2 {
		t.Fatalf("journal lines = %d, want 2: %q", n, b)
	}
	st = openStore(t, Config{Driver: "file", Path: path})
	defer st.Close()
	for _, d := range []clock.Date{day1, day2} {
		if ok, _ := st.Completed(ctx, d); !ok {
			t.Fatalf("Completed(%s) after reopen = false", d)
		}
	}
}

func TestFileStoreClosed(t *testing.T) {
	t.Parallel()
	st := openStore(t, Config{Driver: "file", Path: filepath.Join(t.TempDir(), "s.json")})
	_ = st.Close()
	if _, err := st.Completed(context.Background(), day1); !errors.Is(err, ErrClosed) {
		t.Fatalf("Completed after Close = %v, want ErrClosed", err)
	}
	if err := st.MarkCompleted(context.Background(), day1, time.Now()); !errors.Is(err, ErrClosed) {
		t.Fatalf("MarkCompleted after Close = %v, want ErrClosed", err)
	}
}

func TestRedisKey(t *testing.T) {
	t.Parallel()
	s := &redisStore{prefix: DefaultKeyPrefix}
	if got := s.key(day1); got != "remindbot:completed:2024-01-10" {
		t.Fatalf("key = %q", got)
	}
}
