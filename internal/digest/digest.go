// Package digest sends a periodic summary alert of recent activity.
package digest

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"ps2notify/internal/alerts"
	"ps2notify/internal/events"
	"ps2notify/internal/notifier"
	"ps2notify/internal/storage"
	logx "ps2notify/pkg/logx"

	"github.com/robfig/cron/v3"
)

var ErrNoSink = errors.New("digest: sink is nil")

// Config schedules the digest. Schedule accepts an optional seconds field
// and @descriptors.
type Config struct {
	Schedule string
	Location *time.Location
}

// Deps are the digest's data sources. Journal wins over History when both
// are set.
type Deps struct {
	Sink    alerts.Sink
	Stats   func() events.Stats
	Journal storage.Store
	History func() []notifier.HistoryItem
	Log     logx.Logger
	Clock   func() time.Time
}

// Summary is one digest period.
type Summary struct {
	Since  time.Time
	Until  time.Time
	Stream events.Stats
	Alerts map[string]int // by intent kind
	Failed int
}

func (s Summary) TotalAlerts() int {
	n := 0
	for _, c := range s.Alerts {
		n += c
	}
	return n
}

// Quiet reports a period with nothing worth summarizing.
func (s Summary) Quiet() bool { return s.Stream.Events == 0 && s.TotalAlerts() == 0 }

// Intent renders the summary as a low-urgency alert.
func (s Summary) Intent() alerts.Intent {
	var b strings.Builder
	fmt.Fprintf(&b, "Last %s: %d frames, %d events, %d alerts",
		s.Until.Sub(s.Since).Round(time.Minute), s.Stream.Frames, s.Stream.Events, s.TotalAlerts())
	if len(s.Alerts) > 0 {
		kinds := make([]string, 0, len(s.Alerts))
		for k := range s.Alerts {
			kinds = append(kinds, k)
		}
		sort.Strings(kinds)
		parts := make([]string, 0, len(kinds))
		for _, k := range kinds {
			parts = append(parts, fmt.Sprintf("%s %d", k, s.Alerts[k]))
		}
		b.WriteString(" (" + strings.Join(parts, ", ") + ")")
	}
	if s.Failed > 0 {
		fmt.Fprintf(&b, "; %d failed to deliver", s.Failed)
	}
	if s.Stream.Faults > 0 {
		fmt.Fprintf(&b, "; %d handler faults", s.Stream.Faults)
	}
	return alerts.New(alerts.KindDigest, "Activity digest", b.String()).WithUrgency(alerts.UrgencyLow)
}

type Service struct {
	cfg  Config
	deps Deps
	log  logx.Logger

	sched cron.Schedule

	mu        sync.Mutex
	c         *cron.Cron
	lastAt    time.Time
	lastStats events.Stats
}

// CronParser matches the daemon config's schedule syntax.
var CronParser = cron.NewParser(cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

func New(cfg Config, deps Deps) (*Service, error) {
	if deps.Sink == nil {
		return nil, ErrNoSink
	}
	if strings.TrimSpace(cfg.Schedule) == "" {
		cfg.Schedule = "@hourly"
	}
	if cfg.Location == nil {
		cfg.Location = time.Local
	}
	sched, err := CronParser.Parse(cfg.Schedule)
	if err != nil {
		return nil, fmt.Errorf("digest schedule %q: %w", cfg.Schedule, err)
	}
	if deps.Clock == nil {
		deps.Clock = time.Now
	}
	if deps.Log.IsZero() {
		deps.Log = logx.Nop()
	}
	s := &Service{cfg: cfg, deps: deps, log: deps.Log.With(logx.String("comp", "digest")), sched: sched}
	s.lastAt = deps.Clock()
	if deps.Stats != nil {
		s.lastStats = deps.Stats()
	}
	return s, nil
}

// Next returns the next run time after t.
func (s *Service) Next(t time.Time) time.Time { return s.sched.Next(t.In(s.cfg.Location)) }

func (s *Service) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.c != nil {
		return
	}
	s.c = cron.New(cron.WithParser(CronParser), cron.WithLocation(s.cfg.Location))
	s.c.Schedule(s.sched, cron.FuncJob(func() {
		if err := s.RunOnce(ctx); err != nil && ctx.Err() == nil {
			s.log.Warn("digest failed", logx.Err(err))
		}
	}))
	s.c.Start()
	s.log.Info("digest scheduled", logx.String("schedule", s.cfg.Schedule), logx.Time("next", s.Next(s.deps.Clock())))
}

// Stop halts the schedule and waits for a running digest, bounded by ctx.
func (s *Service) Stop(ctx context.Context) {
	s.mu.Lock()
	c := s.c
	s.c = nil
	s.mu.Unlock()
	if c == nil {
		return
	}
	select {
	case <-c.Stop().Done():
	case <-ctx.Done():
	}
}

// Collect builds the summary for the period since the previous Collect and
// starts a new period.
func (s *Service) Collect(ctx context.Context) (Summary, error) {
	now := s.deps.Clock()

	s.mu.Lock()
	since := s.lastAt
	prev := s.lastStats
	s.mu.Unlock()

	sum := Summary{Since: since, Until: now, Alerts: map[string]int{}}
	if s.deps.Stats != nil {
		cur := s.deps.Stats()
		sum.Stream = cur.Sub(prev)
		if cur.Frames < prev.Frames {
			// counters were reset (pipeline rebuilt without carry-over)
			sum.Stream = cur
		}
		prev = cur
	}

	switch {
	case s.deps.Journal != nil:
		entries, err := s.deps.Journal.JournalSince(ctx, since, 0)
		if err != nil {
			return Summary{}, fmt.Errorf("read journal: %w", err)
		}
		for _, e := range entries {
			if !e.At.Before(now) || e.Kind == alerts.KindDigest {
				continue
			}
			if e.Displays == "" {
				sum.Failed++
				continue
			}
			sum.Alerts[e.Kind]++
		}
	case s.deps.History != nil:
		for _, h := range s.deps.History() {
			if h.At.Before(since) || !h.At.Before(now) || h.Kind == alerts.KindDigest {
				continue
			}
			sum.Alerts[h.Kind]++
		}
	}

	s.mu.Lock()
	s.lastAt = now
	s.lastStats = prev
	s.mu.Unlock()
	return sum, nil
}

// RunOnce collects a summary and sends it unless the period was quiet.
func (s *Service) RunOnce(ctx context.Context) error {
	sum, err := s.Collect(ctx)
	if err != nil {
		return err
	}
	if sum.Quiet() {
		s.log.Debug("digest skipped; quiet period", logx.Time("since", sum.Since))
		return nil
	}
	return s.deps.Sink.Notify(ctx, sum.Intent())
}
