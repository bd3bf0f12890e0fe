package events

import (
	"context"
	"errors"
	"testing"

	"ps2notify/internal/eventbus"
	logx "ps2notify/pkg/logx"
)

func TestDispatchIsolatesFaults(t *testing.T) {
	t.Parallel()
	r := NewRouter(logx.Nop())
	var order []int
	errBoom := errors.New("boom")
	r.Register(KindCapture, HandlerFunc(func(ctx context.Context, ev Event) error {
		order = append(order, 0)
		return errBoom
	}))
	r.Register(KindCapture, HandlerFunc(func(ctx context.Context, ev Event) error {
		order = append(order, 1)
		panic("handler bug")
	}))
	r.Register(KindCapture, HandlerFunc(func(ctx context.Context, ev Event) error {
		order = append(order, 2)
		return nil
	}))
	r.Register(KindDefend, HandlerFunc(func(ctx context.Context, ev Event) error {
		t.Error("defend handler called for a capture")
		return nil
	}))

	faults := r.Dispatch(context.Background(), FacilityControl{OldFactionID: "2", NewFactionID: "1"})
	if len(order) != 3 || order[0] != 0 || order[1] != 1 || order[2] != 2 {
		t.Fatalf("call order = %v, want [0 1 2]", order)
	}
	if len(faults) != 2 {
		t.Fatalf("faults = %v, want 2", faults)
	}
	var hf *HandlerFault
	if !errors.As(faults[0], &hf) || hf.Index != 0 || hf.Kind != KindCapture || !errors.Is(faults[0], errBoom) {
		t.Fatalf("fault[0] = %#v", faults[0])
	}
	if !errors.As(faults[1], &hf) || hf.Index != 1 {
		t.Fatalf("fault[1] = %#v", faults[1])
	}
}

func TestDispatchWithoutHandlers(t *testing.T) {
	t.Parallel()
	r := NewRouter(logx.Nop())
	if faults := r.Dispatch(context.Background(), Metagame{}); faults != nil {
		t.Fatalf("faults = %v, want nil", faults)
	}
	if faults := r.Dispatch(context.Background(), nil); faults != nil {
		t.Fatalf("nil event faults = %v", faults)
	}
}

func TestIngestHeartbeatKicksWithoutEvents(t *testing.T) {
	t.Parallel()
	r := NewRouter(logx.Nop())
	dispatched := 0
	for _, k := range []Kind{KindDeath, KindMetagame, KindCapture, KindDefend, KindVehicleDestroy} {
		r.Register(k, HandlerFunc(func(ctx context.Context, ev Event) error {
			dispatched++
			return nil
		}))
	}
	kicks := 0
	in := NewIngest(NewClassifier(model(t, `{"me":"1","player":{"2":{}}}`), nil), r, logx.Nop(), OnHeartbeat(func() { kicks++ }))

	ev, faults := in.HandleFrame(context.Background(), []byte(`{"service":"event","type":"heartbeat"}`))
	if ev != nil || faults != nil {
		t.Fatalf("heartbeat produced %v, %v", ev, faults)
	}
	if kicks != 1 || dispatched != 0 {
		t.Fatalf("kicks = %d dispatched = %d, want 1 and 0", kicks, dispatched)
	}

	for _, frame := range []string{
		`{"service":"push","type":"serviceMessage","payload":{"event_name":"Death"}}`,
		`{"type":"serviceMessage","payload":{"event_name":"Death"}}`,
		`not json`,
	} {
		in.HandleFrame(context.Background(), []byte(frame))
	}
	if dispatched != 0 {
		t.Fatalf("foreign frames dispatched %d events", dispatched)
	}

	in.HandleFrame(context.Background(), []byte(`{"service":"event","type":"serviceMessage","payload":{"event_name":"Death","attacker_character_id":"2","character_id":"3"}}`))
	st := in.Stats()
	if st.Frames != 5 || st.Ignored != 3 || st.Heartbeats != 1 || st.Events != 1 || dispatched != 1 {
		t.Fatalf("stats = %+v dispatched = %d", st, dispatched)
	}
}

func TestIngestPublishesFaults(t *testing.T) {
	t.Parallel()
	bus := eventbus.New()
	ch, unsub := bus.Subscribe(4, eventbus.TypeIngestFault)
	defer unsub()

	r := NewRouter(logx.Nop())
	r.Register(KindDeath, HandlerFunc(func(ctx context.Context, ev Event) error { return errors.New("nope") }))
	in := NewIngest(NewClassifier(model(t, `{"me":"1","player":{"2":{}}}`), nil), r, logx.Nop(), WithBus(bus))
	_, faults := in.HandleFrame(context.Background(), []byte(`{"service":"event","type":"serviceMessage","payload":{"event_name":"Death"}}`))
	if len(faults) != 1 {
		t.Fatalf("faults = %v", faults)
	}
	select {
	case e := <-ch:
		if _, ok := e.Data.(*HandlerFault); !ok {
			t.Fatalf("bus data = %T", e.Data)
		}
	default:
		t.Fatal("no ingest.fault event published")
	}
	if got := in.Stats().Faults; got != 1 {
		t.Fatalf("fault counter = %d", got)
	}
}
