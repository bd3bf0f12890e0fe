package storage

import (
	"bufio"
	"encoding/json"
	"errors"
	"os"
	"time"
)

// dedupCompactEvery is how many appended records trigger a compaction.
const dedupCompactEvery = 500

// dedupEntry is one line of both the dedup log and its snapshot.
type dedupEntry struct {
	Key   string    `json:"key"`
	Until time.Time `json:"until"`
}

// dedupFile is the key -> expiry table behind the file driver. Writes go to
// an append-only log; compaction rewrites the live entries into the
// snapshot and empties the log. Both files use the same line format.
type dedupFile struct {
	snapPath string
	logFile  *os.File
	entries  map[string]time.Time
	appended int
	now      func() time.Time
}

func openDedupFile(snapPath, logPath string, now func() time.Time) (*dedupFile, error) {
	if now == nil {
		now = time.Now
	}
	d := &dedupFile{snapPath: snapPath, entries: map[string]time.Time{}, now: now}
	for _, p := range []string{snapPath, logPath} {
		if err := readDedupEntries(p, d.load); err != nil && !errors.Is(err, os.ErrNotExist) {
			return nil, err
		}
	}
	d.dropExpired()

	f, err := os.OpenFile(logPath, os.O_CREATE|os.O_APPEND|os.O_RDWR, 0o600)
	if err != nil {
		return nil, err
	}
	d.logFile = f
	return d, nil
}

func (d *dedupFile) load(e dedupEntry) { d.entries[e.Key] = e.Until }

func (d *dedupFile) dropExpired() {
	now := d.now()
	for k, until := range d.entries {
		if until.Before(now) {
			delete(d.entries, k)
		}
	}
}

func (d *dedupFile) get(key string) (time.Time, bool) {
	until, ok := d.entries[key]
	return until, ok
}

// put records key and reports whether the log is due for compaction.
func (d *dedupFile) put(key string, until time.Time) (bool, error) {
	if d.logFile == nil {
		return false, errors.New("dedup log closed")
	}
	// Millisecond precision, the same as the sqlite driver.
	until = time.UnixMilli(until.UnixMilli())
	d.entries[key] = until
	if err := json.NewEncoder(d.logFile).Encode(dedupEntry{Key: key, Until: until}); err != nil {
		return false, err
	}
	d.appended++
	return d.appended >= dedupCompactEvery, nil
}

// compact writes the live entries to the snapshot and empties the log.
func (d *dedupFile) compact() error {
	if d.logFile == nil {
		return nil
	}
	d.dropExpired()

	tmp := d.snapPath + ".tmp"
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o600)
	if err != nil {
		return err
	}
	w := bufio.NewWriter(f)
	enc := json.NewEncoder(w)
	for k, until := range d.entries {
		if err := enc.Encode(dedupEntry{Key: k, Until: until}); err != nil {
			_ = f.Close()
			return err
		}
	}
	if err := w.Flush(); err != nil {
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
	if err := os.Rename(tmp, d.snapPath); err != nil {
		return err
	}
	if err := d.logFile.Truncate(0); err != nil {
		return err
	}
	d.appended = 0
	return nil
}

// close compacts pending writes so the next open reads only the snapshot.
func (d *dedupFile) close() error {
	if d.logFile == nil {
		return nil
	}
	var cerr error
	if d.appended > 0 {
		cerr = d.compact()
	}
	err := d.logFile.Close()
	d.logFile = nil
	if cerr != nil {
		return cerr
	}
	return err
}

// readDedupEntries feeds every well-formed line of path to fn.
func readDedupEntries(path string, fn func(dedupEntry)) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		var e dedupEntry
		if json.Unmarshal(sc.Bytes(), &e) != nil || e.Key == "" {
			continue
		}
		fn(e)
	}
	return sc.Err()
}
