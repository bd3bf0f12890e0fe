package events

import (
	"context"
	"sync/atomic"
	"time"

	"ps2notify/internal/census"
	"ps2notify/internal/eventbus"
	logx "ps2notify/pkg/logx"
)

// Stats are running counters kept by Ingest.
type Stats struct {
	Frames     uint64 `json:"frames"`
	Ignored    uint64 `json:"ignored"`
	Heartbeats uint64 `json:"heartbeats"`
	Events     uint64 `json:"events"`
	Faults     uint64 `json:"faults"`
}

// Sub returns the counter deltas since an earlier snapshot.
func (s Stats) Sub(prev Stats) Stats {
	return Stats{
		Frames:     s.Frames - prev.Frames,
		Ignored:    s.Ignored - prev.Ignored,
		Heartbeats: s.Heartbeats - prev.Heartbeats,
		Events:     s.Events - prev.Events,
		Faults:     s.Faults - prev.Faults,
	}
}

// Ingest runs decode, classify and dispatch for each frame, synchronously.
type Ingest struct {
	cls    *Classifier
	router *Router
	log    logx.Logger
	bus    eventbus.Bus

	onHeartbeat func()

	frames     atomic.Uint64
	ignored    atomic.Uint64
	heartbeats atomic.Uint64
	events     atomic.Uint64
	faults     atomic.Uint64
}

type IngestOption func(*Ingest)

// OnHeartbeat sets a hook called for every heartbeat envelope.
func OnHeartbeat(fn func()) IngestOption { return func(i *Ingest) { i.onHeartbeat = fn } }

// WithBus publishes handler faults as ingest.fault events.
func WithBus(b eventbus.Bus) IngestOption {
	return func(i *Ingest) {
		if b != nil {
			i.bus = b
		}
	}
}

func NewIngest(cls *Classifier, router *Router, log logx.Logger, opts ...IngestOption) *Ingest {
	if log.IsZero() {
		log = logx.Nop()
	}
	in := &Ingest{
		cls:    cls,
		router: router,
		log:    log.With(logx.String("comp", "ingest")),
		bus:    eventbus.Nop{},
	}
	for _, o := range opts {
		o(in)
	}
	return in
}

// HandleFrame processes one raw frame and returns the dispatched Event, if any.
func (in *Ingest) HandleFrame(ctx context.Context, frame []byte) (Event, []error) {
	in.frames.Add(1)
	env, ok := census.Decode(frame)
	if !ok {
		in.ignored.Add(1)
		if in.log.Enabled(logx.LevelTrace) {
			in.log.Trace("frame ignored", logx.Int("bytes", len(frame)))
		}
		return nil, nil
	}

	switch env.Type {
	case census.TypeHeartbeat:
		in.heartbeats.Add(1)
		if in.onHeartbeat != nil {
			in.onHeartbeat()
		}
		return nil, nil
	case census.TypeServiceStateChanged:
		in.log.Debug("service state changed")
		return nil, nil
	}

	ev, ok := in.cls.Classify(env)
	if !ok {
		in.ignored.Add(1)
		return nil, nil
	}
	in.events.Add(1)

	faults := in.router.Dispatch(ctx, ev)
	if len(faults) > 0 {
		in.faults.Add(uint64(len(faults)))
		for _, f := range faults {
			in.bus.Publish(eventbus.Event{Type: eventbus.TypeIngestFault, Time: time.Now(), Data: f})
		}
	}
	return ev, faults
}

func (in *Ingest) Stats() Stats {
	return Stats{
		Frames:     in.frames.Load(),
		Ignored:    in.ignored.Load(),
		Heartbeats: in.heartbeats.Load(),
		Events:     in.events.Load(),
		Faults:     in.faults.Load(),
	}
}
