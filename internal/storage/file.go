package storage

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"remindbot/internal/clock"
	"remindbot/pkg/logx"
)

const fileCompactEvery = 64

// fileStore keeps completion in two files next to cfg.Path:
//   - <prefix>.snapshot.json  (map date -> completed_at, rewritten on compaction)
//   - <prefix>.journal.jsonl  (append-only, fsync'd per write)
type fileStore struct {
	log logx.Logger

	mu sync.Mutex

	snapshotPath string
	journal      *os.File
	done         map[string]time.Time
	writes       int
}

type completionRecord struct {
	Date string    `json:"date"`
	At   time.Time `json:"at"`
}

func openFile(cfg Config, log logx.Logger) (Store, error) {
	path := strings.TrimSpace(cfg.Path)
	if path == "" {
		return nil, errors.New("storage path is required for file driver")
	}

	dir := filepath.Dir(path)
	base := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	prefix := filepath.Join(dir, base)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}

	s := &fileStore{
		log:          log,
		snapshotPath: prefix + ".snapshot.json",
		done:         map[string]time.Time{},
	}
	if err := loadSnapshot(s.snapshotPath, s.done); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, err
	}
	journalPath := prefix + ".journal.jsonl"
	js, err := replayJournal(journalPath, s.done)
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, err
	}

	jf, err := os.OpenFile(journalPath, os.O_CREATE|os.O_APPEND|os.O_RDWR, 0o600)
	if err != nil {
		return nil, err
	}
	if err := repairTail(jf, js, log); err != nil {
		_ = jf.Close()
		return nil, err
	}
	s.journal = jf
	s.writes = js.applied
	log.Debug("file store loaded", logx.String("path", prefix), logx.Int("dates", len(s.done)), logx.Int("journal", js.applied))
	return s, nil
}

// repairTail makes the journal end on a newline so the next append starts a
// fresh line. A torn partial record is cut off.
func repairTail(jf *os.File, js journalState, log logx.Logger) error {
	fi, err := jf.Stat()
	if err != nil {
		return err
	}
	if fi.Size() <= js.end {
		return nil
	}
	if js.unterminated {
		if _, err := jf.Write([]byte{'\n'}); err != nil {
			return err
		}
		return jf.Sync()
	}
	log.Warn("file store dropping torn journal tail", logx.Int64("bytes", fi.Size()-js.end))
	if err := jf.Truncate(js.end); err != nil {
		return err
	}
	return jf.Sync()
}

func (s *fileStore) Completed(ctx context.Context, date clock.Date) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.journal == nil {
		return false, ErrClosed
	}
	_, ok := s.done[date.String()]
	return ok, nil
}

func (s *fileStore) MarkCompleted(ctx context.Context, date clock.Date, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.journal == nil {
		return ErrClosed
	}
	key := date.String()
	if _, ok := s.done[key]; ok {
		return nil
	}

	b, err := json.Marshal(completionRecord{Date: key, At: at.UTC()})
	if err != nil {
		return err
	}
	if _, err := s.journal.Write(append(b, '\n')); err != nil {
		return err
	}
	if err := s.journal.Sync(); err != nil {
		return err
	}
	s.done[key] = at.UTC()

	s.writes++
	if s.writes >= fileCompactEvery {
		if err := s.compactLocked(); err != nil {
			s.log.Warn("file store compact failed", logx.Err(err))
		}
	}
	return nil
}

func (s *fileStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.journal == nil {
		return nil
	}
	err := s.journal.Close()
	s.journal = nil
	return err
}

// compactLocked writes the snapshot via tmp+rename, then truncates the journal.
func (s *fileStore) compactLocked() error {
	tmp := s.snapshotPath + ".tmp"
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o600)
	if err != nil {
		return err
	}
	if err := json.NewEncoder(f).Encode(s.done); err != nil {
		_ = f.Close()
		return err
	}
	if err := f.Sync(); err != nil {
		_ = f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}
	if err := os.Rename(tmp, s.snapshotPath); err != nil {
		return err
	}
	if err := s.journal.Truncate(0); err != nil {
		return err
	}
	if _, err := s.journal.Seek(0, 2); err != nil {
		return err
	}
	s.writes = 0
	return nil
}

func loadSnapshot(path string, out map[string]time.Time) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	var m map[string]time.Time
	if err := json.NewDecoder(f).Decode(&m); err != nil {
		return err
	}
	for k, v := range m {
		out[k] = v
	}
	return nil
}

// journalState is what replayJournal learned about the journal file.
type journalState struct {
	applied int
	// end is the offset just past the last newline.
	end int64
	// unterminated is set when the bytes after end hold a complete record
	// that lost its newline.
	unterminated bool
}

// replayJournal applies journal lines to out. Bytes after the last newline
// are a torn write; they are applied only if they parse as a whole record.
func replayJournal(path string, out map[string]time.Time) (journalState, error) {
	var js journalState
	f, err := os.Open(path)
	if err != nil {
		return js, err
	}
	defer f.Close()
	r := bufio.NewReader(f)
	for {
		line, err := r.ReadBytes('\n')
		if err != nil && err != io.EOF {
			return js, err
		}
		complete := err == nil
		if len(line) > 0 && applyRecord(line, out) {
			js.applied++
			js.unterminated = !complete
		}
		if !complete {
			return js, nil
		}
		js.end += int64(len(line))
	}
}

func applyRecord(line []byte, out map[string]time.Time) bool {
	var rec completionRecord
	if json.Unmarshal(bytes.TrimSpace(line), &rec) != nil || rec.Date == "" {
		return false
	}
	if _, err := clock.ParseDate(rec.Date); err != nil {
		return false
	}
	out[rec.Date] = rec.At
	return true
}
