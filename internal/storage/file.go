package storage

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	logx "ps2notify/pkg/logx"
)

// recentCap bounds the in-memory tail of the alert journal.
const recentCap = 1000

// fileStore is the "file" driver. Next to storage.path it keeps:
//   - <name>.alerts.jsonl (alert journal, append-only)
//   - <name>.dedup.jsonl  (dedup log, see dedupFile)
//   - <name>.dedup.snap   (compacted dedup entries)
type fileStore struct {
	log logx.Logger

	mu     sync.Mutex
	alerts *os.File
	recent []JournalEntry
	dedup  *dedupFile
}

// filePaths derives the driver's files from storage.path by dropping its extension.
func filePaths(path string) (alerts, dedupLog, dedupSnap string) {
	stem := strings.TrimSuffix(path, filepath.Ext(path))
	return stem + ".alerts.jsonl", stem + ".dedup.jsonl", stem + ".dedup.snap"
}

func openFile(cfg Config, log logx.Logger) (Store, error) {
	path := strings.TrimSpace(cfg.Path)
	if path == "" {
		return nil, errors.New("storage.path is required for file driver")
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}
	alertPath, dedupLog, dedupSnap := filePaths(path)

	recent, err := tailJournal(alertPath, recentCap)
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		log.Warn("alert journal unreadable; starting empty", logx.Err(err))
	}
	dedup, err := openDedupFile(dedupSnap, dedupLog, nil)
	if err != nil {
		return nil, err
	}
	af, err := os.OpenFile(alertPath, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600)
	if err != nil {
		_ = dedup.close()
		return nil, err
	}
	return &fileStore{log: log, alerts: af, recent: recent, dedup: dedup}, nil
}

func (s *fileStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	err := s.dedup.close()
	if s.alerts != nil {
		if aerr := s.alerts.Close(); err == nil {
			err = aerr
		}
		s.alerts = nil
	}
	return err
}

func (s *fileStore) AppendJournal(_ context.Context, e JournalEntry) error {
	if e.At.IsZero() {
		e.At = time.Now()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.alerts == nil {
		return errors.New("alert journal closed")
	}
	if err := json.NewEncoder(s.alerts).Encode(e); err != nil {
		return err
	}
	s.recent = keepTail(append(s.recent, e), recentCap)
	return nil
}

// JournalSince serves from the in-memory tail, so it never sees more than
// the last recentCap alerts.
func (s *fileStore) JournalSince(_ context.Context, since time.Time, limit int) ([]JournalEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []JournalEntry
	for _, e := range s.recent {
		if e.At.Before(since) {
			continue
		}
		out = append(out, e)
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, nil
}

func (s *fileStore) PutDedup(_ context.Context, key string, until time.Time) error {
	if key = strings.TrimSpace(key); key == "" {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	due, err := s.dedup.put(key, until)
	if err != nil {
		return err
	}
	if due {
		if err := s.dedup.compact(); err != nil {
			s.log.Warn("dedup compaction failed", logx.Err(err))
		}
	}
	return nil
}

func (s *fileStore) GetDedup(_ context.Context, key string) (time.Time, bool, error) {
	if key = strings.TrimSpace(key); key == "" {
		return time.Time{}, false, nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	until, ok := s.dedup.get(key)
	return until, ok, nil
}

// tailJournal returns the last n well-formed entries of the alert journal.
func tailJournal(path string, n int) ([]JournalEntry, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	var out []JournalEntry
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 64*1024), 1<<20)
	for sc.Scan() {
		var e JournalEntry
		if json.Unmarshal(sc.Bytes(), &e) != nil {
			continue
		}
		out = keepTail(append(out, e), n)
	}
	return out, sc.Err()
}

func keepTail(list []JournalEntry, n int) []JournalEntry {
	if len(list) <= n {
		return list
	}
	return append(list[:0:0], list[len(list)-n:]...)
}
