package app

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"ps2notify/internal/census"
	"ps2notify/internal/config"
	"ps2notify/internal/digest"
	"ps2notify/internal/eventbus"
	"ps2notify/internal/events"
	"ps2notify/internal/interest"
	"ps2notify/internal/notifier"
	"ps2notify/internal/runtime/pprof"
	"ps2notify/internal/runtime/sdnotify"
	rtsup "ps2notify/internal/runtime/supervisor"
	"ps2notify/internal/storage"
	"ps2notify/internal/stream"
	logx "ps2notify/pkg/logx"
)

type App struct {
	cfgPath string

	cfgm *config.ConfigManager
	sup  *rtsup.Supervisor

	log   logx.Logger
	logs  *logx.Service
	bus   eventbus.Bus
	store storage.Store
	notif *notifier.Service
	sd    *sdnotify.Notifier
	pprof *pprof.Server

	// options
	dialer       stream.Dialer
	httpClient   *http.Client
	extraDisplay []notifier.Display
	environ      map[string]string

	censusMu sync.Mutex
	census   *census.Client

	digestMu sync.Mutex
	digest   *digest.Service

	restartMu sync.Mutex
	gen       atomic.Uint64

	mu          sync.Mutex
	pipe        *pipeline
	statsBase   events.Stats
	emittedBase uint64
}

type Option func(*App)

// WithDialer replaces the WebSocket dialer.
func WithDialer(d stream.Dialer) Option { return func(a *App) { a.dialer = d } }

// WithHTTPClient replaces the http.Client used for Census REST lookups.
func WithHTTPClient(hc *http.Client) Option { return func(a *App) { a.httpClient = hc } }

// WithDisplays adds displays on top of the configured ones.
func WithDisplays(d ...notifier.Display) Option {
	return func(a *App) { a.extraDisplay = append(a.extraDisplay, d...) }
}

// WithEnviron replaces the process environment used for config overrides.
func WithEnviron(environ map[string]string) Option { return func(a *App) { a.environ = environ } }

func New(cfgPath string, opts ...Option) (*App, error) {
	a := &App{cfgPath: cfgPath}
	for _, o := range opts {
		o(a)
	}

	a.cfgm = config.NewConfigManager(cfgPath)
	if a.environ != nil {
		a.cfgm.SetEnviron(a.environ)
	}
	cfg, err := a.cfgm.Load()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}

	logSvc, log := logx.New(mapLogConfig(cfg))
	a.logs = logSvc
	a.log = log.With(logx.String("comp", "app"))
	a.bus = eventbus.New()

	// Storage (optional)
	if sc, enabled, err := mapStorageConfig(cfg); err != nil {
		return nil, err
	} else if enabled {
		st, err := storage.Open(sc, log.With(logx.String("comp", "storage")))
		if err != nil {
			return nil, err
		}
		a.store = st
		a.log.Info("storage enabled", logx.String("driver", sc.Driver))
	}

	if err := a.setCensus(cfg); err != nil {
		return nil, err
	}

	ncfg, err := mapNotifierConfig(cfg)
	if err != nil {
		return nil, err
	}
	displays, err := a.displays(cfg)
	if err != nil {
		return nil, err
	}
	a.notif = notifier.New(ncfg, displays, log.With(logx.String("comp", "notifier")), a.bus, a.store)

	if _, err := mapPprofConfig(cfg); err != nil {
		return nil, err
	}
	a.pprof = pprof.New(log)

	a.sd = sdnotify.New(cfg.Systemd.Notify, log, sdnotify.WithHealthCheck(a.healthy))
	return a, nil
}

func (a *App) displays(cfg *config.Config) ([]notifier.Display, error) {
	d, err := buildDisplays(cfg, a.log)
	if err != nil {
		return nil, err
	}
	return append(d, a.extraDisplay...), nil
}

func (a *App) setCensus(cfg *config.Config) error {
	cc, err := mapCensusConfig(cfg)
	if err != nil {
		return err
	}
	var opts []census.ClientOption
	if a.httpClient != nil {
		opts = append(opts, census.WithHTTPClient(a.httpClient))
	}
	c := census.NewClient(cc, opts...)
	a.censusMu.Lock()
	a.census = c
	a.censusMu.Unlock()
	return nil
}

func (a *App) censusClient() *census.Client {
	a.censusMu.Lock()
	defer a.censusMu.Unlock()
	return a.census
}

func (a *App) healthy() bool {
	return a.sup != nil && a.sup.Err() == nil && a.currentPipeline() != nil
}

// notifierContext outlives the supervisor: a fatal error cancels the
// supervisor, and the alert describing it must still be delivered. Stop
// drains the queue and ends the workers.
func (a *App) notifierContext() context.Context {
	return context.WithoutCancel(a.sup.Context())
}

// Bus exposes lifecycle events (stream status, notifier, pipeline).
func (a *App) Bus() eventbus.Bus { return a.bus }

// Done is closed when the app supervisor context is canceled (fatal error or Stop()).
func (a *App) Done() <-chan struct{} {
	if a.sup == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return a.sup.Context().Done()
}

// Err returns the first fatal error observed by the supervisor (if any).
func (a *App) Err() error {
	if a.sup == nil {
		return nil
	}
	return a.sup.Err()
}

// Start opens the first pipeline. An invalid interest document is fatal
// here; on later reloads it only rejects the change.
func (a *App) Start(ctx context.Context) error {
	a.sup = rtsup.New(ctx, rtsup.WithLogger(a.log), rtsup.WithCancelOnError(true))

	a.cfgm.SetLogger(a.log.With(logx.String("comp", "config")))
	// transactional config reload: validate before commit/publish
	a.cfgm.SetValidator(func(_ context.Context, cfg *config.Config) error {
		if _, err := interest.Parse(cfg.InterestText()); err != nil {
			return err
		}
		if _, _, err := mapStreamConfig(cfg); err != nil {
			return err
		}
		if _, err := mapNotifierConfig(cfg); err != nil {
			return err
		}
		if _, err := mapPprofConfig(cfg); err != nil {
			return err
		}
		_, err := mapDigestConfig(cfg)
		return err
	})
	a.cfgm.SetRejectHandler(a.rejectConfig)

	if a.notif.Enabled() {
		a.notif.Start(a.notifierContext())
	} else {
		a.log.Warn("notifier disabled; alerts will be dropped")
	}

	cfg := a.cfgm.Get()
	if pc, _ := mapPprofConfig(cfg); pc.Enabled {
		a.pprof.Apply(ctx, pc)
	}
	if err := a.restartPipeline(ctx, cfg, "start"); err != nil {
		a.sup.Cancel()
		return err
	}
	if err := a.startDigest(cfg); err != nil {
		a.sup.Cancel()
		return err
	}

	// Optional: log events for observability/debug (components can also subscribe themselves).
	events, unsub := a.bus.Subscribe(128)
	a.sup.Go0("eventbus.log", func(c context.Context) {
		defer unsub()
		for {
			select {
			case <-c.Done():
				return
			case e, ok := <-events:
				if !ok {
					return
				}
				a.log.Debug("event", logx.String("type", e.Type), logx.Any("data", e.Data))
			}
		}
	})

	sub := a.cfgm.Subscribe(8)
	a.sup.Go0("config.reload", func(c context.Context) {
		defer a.cfgm.Unsubscribe(sub)
		lastApplied := a.cfgm.Get()
		for {
			select {
			case <-c.Done():
				return
			case newCfg, ok := <-sub:
				if !ok {
					return
				}
				// Coalesce bursts: keep only the latest config in the channel.
				for {
					select {
					case newer := <-sub:
						if newer != nil {
							newCfg = newer
						}
					default:
						goto APPLY
					}
				}
			APPLY:
				a.applyConfig(c, lastApplied, newCfg)
				lastApplied = newCfg
			}
		}
	})

	a.sup.Go("config.watch", func(c context.Context) error {
		return a.cfgm.Watch(c)
	})
	a.sup.Go("systemd.watchdog", a.sd.Watchdog)

	a.sd.Ready()
	a.log.Info("app started")
	return nil
}

// applyConfig reacts to a committed config change section by section.
func (a *App) applyConfig(ctx context.Context, oldCfg, newCfg *config.Config) {
	sections, attrs := config.SummarizeConfigChange(oldCfg, newCfg)
	if len(sections) == 0 {
		a.log.Info("config reloaded (no changes)")
		return
	}
	a.sd.Reloading()
	defer a.sd.Ready()

	if config.Has(sections, config.SectionLogging) {
		a.logs.Apply(mapLogConfig(newCfg))
	}
	if config.Has(sections, config.SectionStorage) {
		a.log.Warn("storage config changed; restart required for changes to take effect")
	}
	if config.Has(sections, config.SectionSystemd) {
		a.log.Warn("systemd config changed; restart required for changes to take effect")
	}
	if config.Has(sections, config.SectionDebug) {
		if pc, err := mapPprofConfig(newCfg); err != nil {
			a.log.Warn("invalid pprof config; keeping previous", logx.Err(err))
		} else {
			a.pprof.Apply(ctx, pc)
		}
	}

	if config.Has(sections, config.SectionNotifier) {
		ncfg, err := mapNotifierConfig(newCfg)
		if err != nil {
			a.log.Warn("invalid notifier config; keeping previous", logx.Err(err))
		} else {
			prev := a.notif.Enabled()
			a.notif.Apply(ncfg)
			switch {
			case prev && !ncfg.Enabled:
				a.log.Info("notifier disabled via config")
				stopCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
				a.notif.Stop(stopCtx)
				cancel()
			case !prev && ncfg.Enabled:
				a.log.Info("notifier enabled via config")
				a.notif.Start(a.notifierContext())
			}
		}
	}
	if config.Has(sections, config.SectionDisplays) {
		if d, err := a.displays(newCfg); err != nil {
			a.log.Warn("invalid displays config; keeping previous", logx.Err(err))
		} else {
			a.notif.SetDisplays(d)
		}
	}

	if config.Has(sections, config.SectionCensus) {
		if err := a.setCensus(newCfg); err != nil {
			a.log.Warn("invalid census config; keeping previous", logx.Err(err))
		}
	}
	if config.Has(sections, config.SectionCensus, config.SectionStream, config.SectionInterest) {
		if err := a.restartPipeline(ctx, newCfg, "config: "+strings.Join(sections, ",")); err != nil {
			a.log.Warn("pipeline kept on previous config", logx.Err(err))
		}
	}

	if config.Has(sections, config.SectionDigest) {
		if err := a.startDigest(newCfg); err != nil {
			a.log.Warn("invalid digest config; digest stopped", logx.Err(err))
		}
	}

	fields := append([]logx.Field{logx.String("changed", strings.Join(sections, ","))}, attrs...)
	a.log.Info("config reloaded", fields...)
}

// startDigest (re)starts the digest schedule for cfg.
func (a *App) startDigest(cfg *config.Config) error {
	a.digestMu.Lock()
	defer a.digestMu.Unlock()
	if a.digest != nil {
		stopCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		a.digest.Stop(stopCtx)
		cancel()
		a.digest = nil
	}
	if !cfg.Digest.Enabled {
		return nil
	}
	dc, err := mapDigestConfig(cfg)
	if err != nil {
		return err
	}
	deps := digest.Deps{
		Sink:  a.notif,
		Stats: a.StreamStats,
		Log:   a.log,
	}
	if a.store != nil {
		deps.Journal = a.store
	} else {
		deps.History = a.notif.Snapshot
	}
	d, err := digest.New(dc, deps)
	if err != nil {
		return err
	}
	d.Start(a.sup.Context())
	a.digest = d
	return nil
}

func (a *App) Stop(ctx context.Context, reason StopReason) error {
	if a.sup == nil {
		return nil
	}
	a.log.Info("stopping", logx.String("reason", string(reason)))
	a.sd.Stopping()

	// Cancel the app run context so background loops start unwinding immediately.
	a.sup.Cancel()

	// Run a shutdown step with an upper bound so one component can't stall the whole stop.
	step := func(name string, max time.Duration, fn func(context.Context) error) {
		start := time.Now()
		stepCtx := ctx
		if max > 0 {
			// respect the caller's deadline; never extend it
			if dl, ok := ctx.Deadline(); ok && time.Until(dl) < max {
				max = time.Until(dl)
			}
			var cancel context.CancelFunc
			stepCtx, cancel = context.WithTimeout(ctx, max)
			defer cancel()
		}

		done := make(chan error, 1)
		go func() {
			defer func() {
				if r := recover(); r != nil {
					done <- fmt.Errorf("panic in stop step %s: %v", name, r)
				}
			}()
			done <- fn(stepCtx)
		}()

		select {
		case err := <-done:
			if err != nil {
				a.log.Warn("stop step error", logx.String("name", name), logx.Err(err))
			}
			a.log.Debug("stop step end", logx.String("name", name), logx.Duration("took", time.Since(start)))
		case <-stepCtx.Done():
			// Contract: fn MUST honor stepCtx and return promptly.
			a.log.Warn("stop step deadline reached (continuing)", logx.String("name", name), logx.Duration("elapsed", time.Since(start)))
		}
	}

	step("pipeline", 3*time.Second, func(c context.Context) error {
		if p := a.swapPipeline(nil); p != nil {
			p.close(c)
			a.carryStats(p)
		}
		return nil
	})
	step("digest", time.Second, func(c context.Context) error {
		a.digestMu.Lock()
		d := a.digest
		a.digest = nil
		a.digestMu.Unlock()
		if d != nil {
			d.Stop(c)
		}
		return nil
	})
	// The notifier drains its queue, so a final "connection lost" alert still goes out.
	step("notifier", 3*time.Second, func(c context.Context) error { a.notif.Stop(c); return nil })
	step("pprof", time.Second, func(c context.Context) error { a.pprof.Stop(c); return nil })
	step("storage", time.Second, func(c context.Context) error {
		if a.store != nil {
			return a.store.Close()
		}
		return nil
	})
	step("supervisor", 2*time.Second, func(c context.Context) error { return a.sup.Wait(c) })

	a.log.Info("stopped")
	if a.logs != nil {
		_ = a.logs.Close()
	}
	return nil
}
