package notifier

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"ps2notify/internal/alerts"
	"ps2notify/internal/eventbus"
	"ps2notify/internal/storage"
	logx "ps2notify/pkg/logx"
)

type shown struct {
	heading, message, sound string
	timeout                 time.Duration
}

type fakeDisplay struct {
	name  string
	fails int // fail this many calls before succeeding

	mu    sync.Mutex
	calls int
	got   []shown
}

func (d *fakeDisplay) Name() string { return d.name }

func (d *fakeDisplay) Show(_ context.Context, heading, message string, timeout time.Duration, sound string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.calls++
	if d.calls <= d.fails {
		return errors.New("display busy")
	}
	d.got = append(d.got, shown{heading, message, sound, timeout})
	return nil
}

func (d *fakeDisplay) shown() []shown {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]shown(nil), d.got...)
}

func testConfig() Config {
	return Config{
		Enabled:     true,
		Workers:     1,
		RatePerSec:  1000,
		RetryMax:    2,
		RetryBase:   time.Millisecond,
		DedupWindow: time.Minute,
	}
}

func stopAndWait(t *testing.T, s *Service) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	s.Stop(ctx)
}

func TestNotifyDelivers(t *testing.T) {
	t.Parallel()
	d := &fakeDisplay{name: "fake"}
	s := New(testConfig(), []Display{d}, logx.Nop(), nil, nil)
	s.Start(context.Background())

	in := alerts.New(alerts.KindCapture, "Base captured", "Crown on Indar").WithSound(alerts.SoundComplete)
	if err := s.Notify(context.Background(), in); err != nil {
		t.Fatalf("Notify: %v", err)
	}
	stopAndWait(t, s)

	got := d.shown()
	if len(got) != 1 {
		t.Fatalf("shown = %d, want 1", len(got))
	}
	if got[0].heading != "Base captured" || got[0].message != "Crown on Indar" || got[0].sound != alerts.SoundComplete || got[0].timeout != in.Timeout {
		t.Fatalf("shown = %+v", got[0])
	}
	if sent, failed := s.Counts(); sent != 1 || failed != 0 {
		t.Fatalf("Counts = %d, %d; want 1, 0", sent, failed)
	}
	if h := s.Snapshot(); len(h) != 1 || h[0].Kind != alerts.KindCapture {
		t.Fatalf("Snapshot = %+v", h)
	}
}

func TestNotifyDedup(t *testing.T) {
	t.Parallel()
	d := &fakeDisplay{name: "fake"}
	bus := eventbus.New()
	ch, unsub := bus.Subscribe(16, eventbus.TypeNotifierDeduped)
	defer unsub()

	s := New(testConfig(), []Display{d}, logx.Nop(), bus, nil)
	s.Start(context.Background())
	for i := 0; i < 3; i++ {
		// Fresh ids; the dedup key ignores them.
		if err := s.Notify(context.Background(), alerts.New(alerts.KindKill, "Headshot!", "you killed X")); err != nil {
			t.Fatalf("Notify: %v", err)
		}
	}
	if err := s.Notify(context.Background(), alerts.New(alerts.KindKill, "Headshot!", "you killed Y")); err != nil {
		t.Fatalf("Notify: %v", err)
	}
	stopAndWait(t, s)

	if n := len(d.shown()); n != 2 {
		t.Fatalf("shown = %d, want 2", n)
	}
	deduped := 0
	for len(ch) > 0 {
		<-ch
		deduped++
	}
	if deduped != 2 {
		t.Fatalf("deduped events = %d, want 2", deduped)
	}
}

func TestRetryAndIsolation(t *testing.T) {
	t.Parallel()
	flaky := &fakeDisplay{name: "flaky", fails: 2}
	broken := &fakeDisplay{name: "broken", fails: 100}
	ok := &fakeDisplay{name: "ok"}

	s := New(testConfig(), []Display{broken, flaky, ok}, logx.Nop(), nil, nil)
	s.Start(context.Background())
	if err := s.Notify(context.Background(), alerts.New(alerts.KindDefend, "Base defended", "Crown")); err != nil {
		t.Fatalf("Notify: %v", err)
	}
	stopAndWait(t, s)

	if n := len(flaky.shown()); n != 1 {
		t.Fatalf("flaky shown = %d, want 1 after retries", n)
	}
	if n := len(ok.shown()); n != 1 {
		t.Fatalf("ok shown = %d, want 1", n)
	}
	if broken.calls != 3 {
		t.Fatalf("broken calls = %d, want 3 (1 + RetryMax)", broken.calls)
	}
}

func TestNotifyStates(t *testing.T) {
	t.Parallel()
	in := alerts.New(alerts.KindKill, "h", "m")

	off := New(Config{}, nil, logx.Nop(), nil, nil)
	if err := off.Notify(context.Background(), in); !errors.Is(err, ErrDisabled) {
		t.Fatalf("disabled Notify = %v, want ErrDisabled", err)
	}

	s := New(testConfig(), nil, logx.Nop(), nil, nil)
	if err := s.Notify(context.Background(), in); !errors.Is(err, ErrStopped) {
		t.Fatalf("unstarted Notify = %v, want ErrStopped", err)
	}
	s.Start(context.Background())
	stopAndWait(t, s)
	if err := s.Notify(context.Background(), in); !errors.Is(err, ErrStopped) {
		t.Fatalf("stopped Notify = %v, want ErrStopped", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := s.Notify(ctx, in); !errors.Is(err, context.Canceled) {
		t.Fatalf("canceled Notify = %v", err)
	}
}

func TestJournalAndPersistedDedup(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "ps2notify")
	st, err := storage.Open(storage.Config{Driver: "file", Path: path}, logx.Nop())
	if err != nil {
		t.Fatalf("storage.Open: %v", err)
	}
	defer st.Close()

	cfg := testConfig()
	cfg.PersistDedup = true
	cfg.RetryMax = 0
	d := &fakeDisplay{name: "console"}
	bad := &fakeDisplay{name: "desktop", fails: 100}
	in := alerts.New(alerts.KindRageQuit, "Rage quit", "X logged off")

	s := New(cfg, []Display{d, bad}, logx.Nop(), nil, st)
	s.Start(context.Background())
	if err := s.Notify(context.Background(), in); err != nil {
		t.Fatalf("Notify: %v", err)
	}
	stopAndWait(t, s)

	entries, err := st.JournalSince(context.Background(), time.Time{}, 0)
	if err != nil {
		t.Fatalf("JournalSince: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("journal = %d entries, want 1", len(entries))
	}
	e := entries[0]
	if e.ID != in.ID || e.Kind != alerts.KindRageQuit || e.Displays != "console" || e.Error == "" {
		t.Fatalf("journal entry = %+v", e)
	}

	// A fresh service sharing the store still suppresses the duplicate.
	d2 := &fakeDisplay{name: "console"}
	s2 := New(cfg, []Display{d2}, logx.Nop(), nil, st)
	s2.Start(context.Background())
	if err := s2.Notify(context.Background(), alerts.New(alerts.KindRageQuit, "Rage quit", "X logged off")); err != nil {
		t.Fatalf("Notify: %v", err)
	}
	stopAndWait(t, s2)
	if n := len(d2.shown()); n != 0 {
		t.Fatalf("persisted dedup: shown = %d, want 0", n)
	}
}

func TestRetryDelayBounds(t *testing.T) {
	t.Parallel()
	cfg := Config{RetryBase: 100 * time.Millisecond, RetryMaxDelay: time.Second}
	tests := []struct {
		attempt  int
		min, max time.Duration
	}{
		{1, 70 * time.Millisecond, 130 * time.Millisecond},
		{2, 140 * time.Millisecond, 260 * time.Millisecond},
		{10, 700 * time.Millisecond, time.Second},
	}
	for _, tt := range tests {
		for i := 0; i < 20; i++ {
			d := retryDelay(cfg, tt.attempt)
			if d < tt.min || d > tt.max {
				t.Fatalf("retryDelay(%d) = %v, want in [%v, %v]", tt.attempt, d, tt.min, tt.max)
			}
		}
	}
}
