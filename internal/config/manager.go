package config

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/rand"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	logx "ps2notify/pkg/logx"

	"github.com/fsnotify/fsnotify"
)

type ConfigManager struct {
	path string

	mu  sync.RWMutex
	cfg *Config

	// subsMu guards subscriber list and ensures we never send on a channel
	// that is concurrently being closed in Unsubscribe().
	subsMu sync.Mutex
	subs   []chan *Config

	log       logx.Logger
	validator func(ctx context.Context, cfg *Config) error
	onReject  func(err error)

	// environ replaces the process environment for overrides (tests).
	environ map[string]string

	// lastHash tracks the last successfully committed config content.
	// It helps avoid redundant publishes when the editor causes multiple write events
	// without content changes.
	lastHash uint64
}

func NewConfigManager(path string) *ConfigManager {
	return &ConfigManager{path: path}
}

func (m *ConfigManager) SetLogger(log logx.Logger) { m.log = log }

// SetValidator installs a validation hook used by Watch() before committing/publishing.
func (m *ConfigManager) SetValidator(fn func(ctx context.Context, cfg *Config) error) {
	m.validator = fn
}

// SetRejectHandler installs a hook called by Watch() when a changed file
// fails to parse or validate. The previous config stays active.
func (m *ConfigManager) SetRejectHandler(fn func(err error)) { m.onReject = fn }

// SetEnviron replaces the process environment used for overrides.
func (m *ConfigManager) SetEnviron(environ map[string]string) { m.environ = environ }

// Parse reads the file, applies env overrides, resolves the interest
// document and validates the result.
func (m *ConfigManager) Parse() (*Config, error) {
	b, err := os.ReadFile(m.path)
	if err != nil {
		return nil, err
	}
	var cfg Config
	if err := decodeFile(m.path, b, &cfg); err != nil {
		return nil, err
	}

	o, err := ParseEnv(m.environ)
	if err != nil {
		return nil, err
	}
	o.Apply(&cfg)

	if err := Validate(&cfg); err != nil {
		return nil, err
	}
	if err := m.resolveInterest(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (m *ConfigManager) resolveInterest(cfg *Config) error {
	if t := strings.TrimSpace(cfg.Interest.Text); t != "" {
		cfg.interestText = t
		return nil
	}
	b, err := os.ReadFile(m.interestPath(cfg))
	if err != nil {
		return fmt.Errorf("interest.file: %w", err)
	}
	cfg.interestText = strings.TrimSpace(string(b))
	return nil
}

// interestPath resolves interest.file relative to the config file.
func (m *ConfigManager) interestPath(cfg *Config) string {
	p := strings.TrimSpace(cfg.Interest.File)
	if p == "" || filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(filepath.Dir(m.path), p)
}

func (m *ConfigManager) Commit(cfg *Config) {
	m.mu.Lock()
	m.cfg = cfg
	m.lastHash = hashConfig(cfg)
	m.mu.Unlock()
}

func hashConfig(cfg *Config) uint64 {
	if cfg == nil {
		return 0
	}
	b, err := json.Marshal(cfg)
	if err != nil {
		return 0
	}
	return hashBytes(append(b, cfg.interestText...))
}

func (m *ConfigManager) Load() (*Config, error) {
	cfg, err := m.Parse()
	if err != nil {
		return nil, err
	}
	m.Commit(cfg)
	return cfg, nil
}

func (m *ConfigManager) Get() *Config {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.cfg
}

func (m *ConfigManager) Subscribe(buffer int) chan *Config {
	ch := make(chan *Config, buffer)
	m.subsMu.Lock()
	m.subs = append(m.subs, ch)
	m.subsMu.Unlock()
	return ch
}

func (m *ConfigManager) Unsubscribe(ch chan *Config) {
	if ch == nil {
		return
	}
	m.subsMu.Lock()
	defer m.subsMu.Unlock()
	for i, s := range m.subs {
		if s == ch {
			// swap-remove (order doesn't matter)
			last := len(m.subs) - 1
			m.subs[i] = m.subs[last]
			m.subs[last] = nil
			m.subs = m.subs[:last]
			close(ch)
			return
		}
	}
}

func (m *ConfigManager) publish(cfg *Config) {
	// Hold subsMu while sending to avoid send-on-closed panics.
	m.subsMu.Lock()
	defer m.subsMu.Unlock()
	for _, ch := range m.subs {
		if ch == nil {
			continue
		}
		// Always try to deliver the latest config.
		// If subscriber is slow and buffer is full, drop ONE oldest item then push the newest.
		select {
		case ch <- cfg:
			// delivered
		default:
			// drop oldest (if any)
			select {
			case <-ch:
			default:
			}
			// best-effort deliver latest
			select {
			case ch <- cfg:
			default:
				// still full; give up
				if !m.log.IsZero() {
					m.log.Debug(
						"config update dropped (subscriber slow)",
						logx.Int("queue_len", len(ch)),
						logx.Int("queue_cap", cap(ch)),
					)
				}
			}
		}
	}
}

// watchTargets returns directory -> basenames to watch: the config file and,
// when set, the interest file.
func (m *ConfigManager) watchTargets() map[string][]string {
	out := map[string][]string{filepath.Dir(m.path): {filepath.Base(m.path)}}
	if cfg := m.Get(); cfg != nil {
		if p := m.interestPath(cfg); p != "" {
			d := filepath.Dir(p)
			out[d] = append(out[d], filepath.Base(p))
		}
	}
	return out
}

func (m *ConfigManager) reject(err error) {
	if !m.log.IsZero() {
		m.log.Warn("config rejected", logx.String("path", m.path), logx.Err(err))
	}
	if m.onReject != nil {
		m.onReject(err)
	}
}

// reload parses, validates, commits and publishes. It reports whether the
// watched file set may have changed.
func (m *ConfigManager) reload(ctx context.Context) (retarget bool) {
	cfg, err := m.Parse()
	if err != nil {
		m.reject(err)
		return false
	}

	// Skip redundant reloads when content is unchanged.
	h := hashConfig(cfg)
	m.mu.RLock()
	unchanged := h != 0 && h == m.lastHash
	prev := m.cfg
	m.mu.RUnlock()
	if unchanged {
		if !m.log.IsZero() {
			m.log.Debug("config unchanged; skipping publish", logx.String("path", m.path))
		}
		return false
	}

	// validate before commit/publish (transactional)
	if m.validator != nil {
		vctx, cancel := context.WithTimeout(ctx, 5*time.Second)
		err := m.validator(vctx, cfg)
		cancel()
		if err != nil {
			m.reject(err)
			return false
		}
	}

	m.Commit(cfg)
	m.publish(cfg)
	if !m.log.IsZero() {
		m.log.Debug("config published", logx.String("path", m.path), logx.String("hash", fmt.Sprintf("%x", h)))
	}
	return prev == nil || m.interestPath(prev) != m.interestPath(cfg)
}

// Watch reloads the config when the config file or the interest file
// changes. It returns when ctx is done.
func (m *ConfigManager) Watch(ctx context.Context) error {
	// When fsnotify gets into a bad state (certain editors replace files
	// atomically), the watcher may stop delivering events or close its
	// channels. Self-heal by recreating it with a small exponential backoff.
	const (
		restartBackoffBase = 250 * time.Millisecond
		restartBackoffMax  = 5 * time.Second
	)
	backoff := restartBackoffBase
	rng := rand.New(rand.NewSource(time.Now().UnixNano()))
	nextWait := func() time.Duration {
		wait := backoff + time.Duration(rng.Int63n(int64(backoff/2)+1))
		backoff = min(backoff*2, restartBackoffMax)
		return wait
	}
	sleep := func(d time.Duration) bool {
		t := time.NewTimer(d)
		defer t.Stop()
		select {
		case <-ctx.Done():
			return false
		case <-t.C:
			return true
		}
	}

	// debounce to avoid partial writes
	var (
		timerMu  sync.Mutex
		timer    *time.Timer
		retarget = make(chan struct{}, 1)
	)
	debounce := func() {
		timerMu.Lock()
		defer timerMu.Unlock()
		if timer != nil {
			timer.Stop()
		}
		if !m.log.IsZero() {
			m.log.Debug("config change detected; scheduling reload", logx.String("path", m.path))
		}
		timer = time.AfterFunc(250*time.Millisecond, func() {
			if m.reload(ctx) {
				select {
				case retarget <- struct{}{}:
				default:
				}
			}
		})
	}
	defer func() {
		timerMu.Lock()
		if timer != nil {
			timer.Stop()
		}
		timerMu.Unlock()
	}()

	for {
		if ctx.Err() != nil {
			return nil
		}

		targets := m.watchTargets()
		w, err := fsnotify.NewWatcher()
		if err != nil {
			if !m.log.IsZero() {
				m.log.Warn("config watch init failed", logx.Err(err))
			}
			if !sleep(nextWait()) {
				return nil
			}
			continue
		}

		var addErr error
		for dir := range targets {
			if err := w.Add(dir); err != nil {
				addErr = fmt.Errorf("%s: %w", dir, err)
				break
			}
		}
		if addErr != nil {
			_ = w.Close()
			if !m.log.IsZero() {
				m.log.Warn("config watch add failed", logx.Err(addErr))
			}
			if !sleep(nextWait()) {
				return nil
			}
			continue
		}

		// success; reset backoff so transient issues don't cause long restart delays
		backoff = restartBackoffBase
		if !m.log.IsZero() {
			m.log.Debug("config watcher started", logx.Int("dirs", len(targets)))
		}

		broken := false
		for !broken {
			select {
			case <-ctx.Done():
				_ = w.Close()
				return nil
			case <-retarget:
				broken = true
			case ev, ok := <-w.Events:
				if !ok {
					broken = true
					break
				}
				// Compare by basename (more robust across absolute/relative paths and OS quirks).
				if watched(targets, ev.Name) && ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename|fsnotify.Remove|fsnotify.Chmod) != 0 {
					debounce()
				}
			case err, ok := <-w.Errors:
				if !ok {
					broken = true
					break
				}
				if err == nil {
					continue
				}
				// Overflow means we may have missed events; reload once and keep going.
				if errors.Is(err, fsnotify.ErrEventOverflow) {
					if !m.log.IsZero() {
						m.log.Warn("config watch overflow; forcing reload", logx.Err(err))
					}
					debounce()
					continue
				}
				if !m.log.IsZero() {
					m.log.Warn("config watch error", logx.Err(err))
				}
				if errors.Is(err, fsnotify.ErrClosed) {
					broken = true
				}
			}
		}

		_ = w.Close()
		if ctx.Err() != nil {
			return nil
		}
		wait := nextWait()
		if !m.log.IsZero() {
			m.log.Debug("config watcher restarting", logx.Duration("backoff", wait))
		}
		if !sleep(wait) {
			return nil
		}
	}
}

func watched(targets map[string][]string, name string) bool {
	base := filepath.Base(name)
	for _, files := range targets[filepath.Dir(name)] {
		if strings.EqualFold(files, base) {
			return true
		}
	}
	return false
}
