package app

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"ps2notify/internal/alerts"
	"ps2notify/internal/config"
	"ps2notify/internal/eventbus"
	"ps2notify/internal/events"
	"ps2notify/internal/interest"
	rtsup "ps2notify/internal/runtime/supervisor"
	"ps2notify/internal/stream"
	logx "ps2notify/pkg/logx"
)

// pipeline is one connection generation: the interest model, its
// classifier, router and rules, and the stream handle feeding them.
// A new interest model always gets a new pipeline.
type pipeline struct {
	gen      uint64
	model    *interest.Model
	settings streamSettings
	ingest   *events.Ingest
	rules    *alerts.Handlers
	wd       *stream.Watchdog
	// sup owns delayed rule work (lookups, rage-quit checks) so closing
	// the pipeline cancels it.
	sup    *rtsup.Supervisor
	handle atomic.Pointer[stream.Handle]
}

// PipelineEvent is published on pipeline.restart and pipeline.rejected.
type PipelineEvent struct {
	Generation   uint64 `json:"generation,omitempty"`
	Reason       string `json:"reason"`
	Subscription string `json:"subscription,omitempty"`
	Error        string `json:"error,omitempty"`
}

func (p *pipeline) close(ctx context.Context) {
	p.wd.Stop()
	if h := p.handle.Load(); h != nil {
		_ = h.Close()
	}
	_ = p.sup.Stop(ctx)
}

// buildModel parses the interest document and resolves names via Census.
func (a *App) buildModel(ctx context.Context, cfg *config.Config) (*interest.Model, error) {
	raw, err := interest.Parse(cfg.InterestText())
	if err != nil {
		return nil, err
	}
	bctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()
	return interest.Build(bctx, raw, a.censusClient())
}

func (a *App) startPipeline(cfg *config.Config, model *interest.Model) (*pipeline, error) {
	scfg, set, err := mapStreamConfig(cfg)
	if err != nil {
		return nil, err
	}
	p := &pipeline{gen: a.gen.Add(1), model: model, settings: set}
	log := a.log.With(logx.String("comp", "pipeline"), logx.Uint64("gen", p.gen))

	p.sup = rtsup.New(a.sup.Context(), rtsup.WithLogger(log), rtsup.WithCancelOnError(false))

	router := events.NewRouter(log)
	p.rules = alerts.NewHandlers(alerts.Deps{
		Model:     model,
		Sink:      a.notif,
		Lookup:    a.censusClient(),
		Scheduler: p.sup,
		Log:       log,
	})
	p.rules.Register(router)

	p.wd = stream.NewWatchdog(set.Watchdog, func() {
		if h := p.handle.Load(); h != nil {
			log.Warn("no heartbeat; forcing reconnect", logx.Duration("timeout", set.Watchdog))
			h.Reconnect(stream.ErrStalled)
		}
	})
	p.ingest = events.NewIngest(events.NewClassifier(model, time.Now), router, log,
		events.OnHeartbeat(p.wd.Kick),
		events.WithBus(a.bus),
	)

	opts := []stream.Option{stream.WithBus(a.bus)}
	if a.dialer != nil {
		opts = append(opts, stream.WithDialer(a.dialer))
	}
	client := stream.New(scfg, a.log.With(logx.String("comp", "stream"), logx.Uint64("gen", p.gen)), opts...)

	pctx := p.sup.Context()
	h, err := client.Open(pctx, model.Subscription(), stream.Handlers{
		OnFrame: func(frame []byte) {
			p.ingest.HandleFrame(pctx, frame)
		},
		OnStatus: func(st stream.Status) {
			a.onStreamStatus(p, st)
		},
	})
	if err != nil {
		p.wd.Stop()
		p.sup.Cancel()
		return nil, err
	}
	p.handle.Store(h)
	return p, nil
}

// restartPipeline builds a model from cfg and, only if that succeeds,
// replaces the running pipeline. Restarts are serialized.
func (a *App) restartPipeline(ctx context.Context, cfg *config.Config, reason string) error {
	a.restartMu.Lock()
	defer a.restartMu.Unlock()

	model, err := a.buildModel(ctx, cfg)
	if err != nil {
		a.rejectConfig(err)
		return err
	}

	if old := a.swapPipeline(nil); old != nil {
		stopCtx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		old.close(stopCtx)
		cancel()
		a.carryStats(old)
	}

	p, err := a.startPipeline(cfg, model)
	if err != nil {
		a.log.Error("pipeline start failed", logx.Err(err))
		return fmt.Errorf("start pipeline: %w", err)
	}
	a.swapPipeline(p)

	sub := model.Subscription()
	a.bus.Publish(eventbus.Event{Type: eventbus.TypePipelineRestart, Time: time.Now(), Data: PipelineEvent{
		Generation:   p.gen,
		Reason:       reason,
		Subscription: sub.String(),
	}})
	a.log.Info("pipeline started", logx.Uint64("gen", p.gen), logx.String("reason", reason), logx.String("subscription", sub.String()))
	return nil
}

// rejectConfig reports a config the daemon refuses to run. The running
// pipeline, if any, is left alone.
func (a *App) rejectConfig(err error) {
	reason := "invalid config"
	if errors.Is(err, interest.ErrInvalid) {
		reason = "invalid interest"
	}
	a.log.Error("config rejected", logx.String("reason", reason), logx.Err(err))
	a.bus.Publish(eventbus.Event{Type: eventbus.TypePipelineRejected, Time: time.Now(), Data: PipelineEvent{
		Reason: reason,
		Error:  err.Error(),
	}})
	if a.notif.Enabled() {
		if nerr := a.notif.Notify(a.sup.Context(), alerts.ConfigRejected(err)); nerr != nil {
			a.log.Debug("config rejected alert not queued", logx.Err(nerr))
		}
	}
}

func (a *App) onStreamStatus(p *pipeline, st stream.Status) {
	if a.currentPipeline() != p {
		// A closing generation; its statuses are only logged by the stream.
		return
	}
	switch st.State {
	case stream.StateOpen:
		p.wd.Kick()
		a.sd.Status("streaming (generation %d)", p.gen)
	case stream.StateError:
		a.sd.Status("reconnecting (failure %d, retry in %s)", st.Attempt, st.Retry)
	case stream.StateLost:
		a.connectionLost(p, st.Err)
	}
}

// connectionLost reports a handle that gave up reconnecting. The daemon
// exits unless stream.exit_on_lost is false; then the pipeline is rebuilt
// after a cool-down.
func (a *App) connectionLost(p *pipeline, err error) {
	a.log.Error("event stream connection lost", logx.Uint64("gen", p.gen), logx.Err(err))
	a.sd.Status("connection lost")
	if nerr := a.notif.Notify(a.notifierContext(), alerts.ConnectionLost(err)); nerr != nil {
		a.log.Warn("connection lost alert not queued", logx.Err(nerr))
	}
	if p.settings.ExitOnLost {
		a.sup.Fail(err)
		return
	}
	a.sup.After("pipeline.revive", time.Minute, func(ctx context.Context) {
		if a.currentPipeline() != p {
			return
		}
		if err := a.restartPipeline(ctx, a.cfgm.Get(), "revive"); err != nil {
			a.log.Warn("pipeline revive failed", logx.Err(err))
		}
	})
}

func (a *App) currentPipeline() *pipeline {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.pipe
}

func (a *App) swapPipeline(p *pipeline) *pipeline {
	a.mu.Lock()
	defer a.mu.Unlock()
	old := a.pipe
	a.pipe = p
	return old
}

func (a *App) carryStats(old *pipeline) {
	s := old.ingest.Stats()
	a.mu.Lock()
	a.statsBase = addStats(a.statsBase, s)
	a.emittedBase += old.rules.Emitted()
	a.mu.Unlock()
}

// StreamStats returns ingest counters summed over all pipeline generations.
func (a *App) StreamStats() events.Stats {
	a.mu.Lock()
	defer a.mu.Unlock()
	s := a.statsBase
	if a.pipe != nil {
		s = addStats(s, a.pipe.ingest.Stats())
	}
	return s
}

// Emitted returns the number of intents produced by rules so far.
func (a *App) Emitted() uint64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	n := a.emittedBase
	if a.pipe != nil {
		n += a.pipe.rules.Emitted()
	}
	return n
}

func addStats(a, b events.Stats) events.Stats {
	return events.Stats{
		Frames:     a.Frames + b.Frames,
		Ignored:    a.Ignored + b.Ignored,
		Heartbeats: a.Heartbeats + b.Heartbeats,
		Events:     a.Events + b.Events,
		Faults:     a.Faults + b.Faults,
	}
}
