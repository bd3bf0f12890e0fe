package alerts

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"ps2notify/internal/census"
	"ps2notify/internal/events"
	"ps2notify/internal/interest"
	logx "ps2notify/pkg/logx"
)

type recSink struct {
	mu  sync.Mutex
	got []Intent
}

func (s *recSink) Notify(_ context.Context, in Intent) error {
	s.mu.Lock()
	s.got = append(s.got, in)
	s.mu.Unlock()
	return nil
}

func (s *recSink) intents() []Intent {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Intent(nil), s.got...)
}

type task struct {
	name  string
	delay time.Duration
	fn    func(ctx context.Context)
}

type fakeScheduler struct {
	mu    sync.Mutex
	tasks []task
}

func (s *fakeScheduler) After(name string, delay time.Duration, fn func(ctx context.Context)) {
	s.mu.Lock()
	s.tasks = append(s.tasks, task{name, delay, fn})
	s.mu.Unlock()
}

func (s *fakeScheduler) runAll() {
	s.mu.Lock()
	tasks := s.tasks
	s.tasks = nil
	s.mu.Unlock()
	for _, t := range tasks {
		t.fn(context.Background())
	}
}

type fakeLookup struct {
	names      map[string]string
	facilities map[string]string
	outfits    map[string]string
	online     map[string]bool
}

func (f fakeLookup) CharacterName(_ context.Context, id string) (string, error) {
	if n, ok := f.names[id]; ok {
		return n, nil
	}
	return "", census.ErrNotFound
}

func (f fakeLookup) FacilityName(_ context.Context, id string) (string, error) {
	if n, ok := f.facilities[id]; ok {
		return n, nil
	}
	return "", census.ErrNotFound
}

func (f fakeLookup) OutfitOf(_ context.Context, id string) (string, error) {
	if n, ok := f.outfits[id]; ok {
		return n, nil
	}
	return "", census.ErrNotFound
}

func (f fakeLookup) OnlineStatus(_ context.Context, id string) (bool, error) {
	on, ok := f.online[id]
	if !ok {
		return false, census.ErrNotFound
	}
	return on, nil
}

type fixture struct {
	in    *events.Ingest
	sink  *recSink
	sched *fakeScheduler
}

func newFixture(t *testing.T, cfg string, lookup Lookup) fixture {
	t.Helper()
	raw, err := interest.Parse(cfg)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	m, err := interest.Build(context.Background(), raw, nil)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	sink := &recSink{}
	sched := &fakeScheduler{}
	r := events.NewRouter(logx.Nop())
	NewHandlers(Deps{Model: m, Sink: sink, Lookup: lookup, Scheduler: sched}).Register(r)
	return fixture{
		in:    events.NewIngest(events.NewClassifier(m, nil), r, logx.Nop()),
		sink:  sink,
		sched: sched,
	}
}

func (f fixture) frame(t *testing.T, payload string) {
	t.Helper()
	_, faults := f.in.HandleFrame(context.Background(), []byte(`{"service":"event","type":"serviceMessage","payload":`+payload+`}`))
	if len(faults) > 0 {
		t.Fatalf("handler faults: %v", faults)
	}
}

func TestCrownCaptureScenario(t *testing.T) {
	t.Parallel()
	f := newFixture(t, `{"me":"5428059164954198113","outfit":{"37511594860086186":{"baseCapture":[6200,"Crown"]}}}`, nil)
	f.frame(t, `{"event_name":"FacilityControl","facility_id":"6200","outfit_id":"37511594860086186","old_faction_id":"2","new_faction_id":"1"}`)

	got := f.sink.intents()
	if len(got) != 1 {
		t.Fatalf("intents = %+v, want exactly 1", got)
	}
	if got[0].Kind != KindCapture {
		t.Fatalf("kind = %q, want capture", got[0].Kind)
	}
	if !strings.Contains(got[0].Heading+got[0].Message, "Crown") {
		t.Fatalf("intent %+v does not mention Crown", got[0])
	}
	if got[0].ID == "" {
		t.Fatal("intent has no id")
	}
}

func TestDefendIsNotCapture(t *testing.T) {
	t.Parallel()
	f := newFixture(t, `{"me":"1","outfit":{"9":{"baseCapture":[6200,"Crown"]}}}`, nil)
	f.frame(t, `{"event_name":"FacilityControl","facility_id":"6200","outfit_id":"9","old_faction_id":"1","new_faction_id":"1"}`)
	if got := f.sink.intents(); len(got) != 0 {
		t.Fatalf("unwatched defend produced %+v", got)
	}

	f = newFixture(t, `{"me":"1","outfit":{"9":{"baseCapture":[6200,"Crown"],"baseDefend":[6200,"Crown"]}}}`, nil)
	f.frame(t, `{"event_name":"FacilityControl","facility_id":"6200","outfit_id":"9","old_faction_id":"1","new_faction_id":"1"}`)
	got := f.sink.intents()
	if len(got) != 1 || got[0].Kind != KindDefend {
		t.Fatalf("watched defend = %+v, want one defend", got)
	}
}

func TestCaptureOtherOutfitIgnored(t *testing.T) {
	t.Parallel()
	f := newFixture(t, `{"me":"1","outfit":{"9":{"baseCapture":["all"]}}}`, nil)
	f.frame(t, `{"event_name":"FacilityControl","facility_id":"6200","outfit_id":"10","old_faction_id":"2","new_faction_id":"1"}`)
	if got := f.sink.intents(); len(got) != 0 {
		t.Fatalf("other outfit's capture produced %+v", got)
	}
}

func TestCaptureResolvesFacilityName(t *testing.T) {
	t.Parallel()
	f := newFixture(t, `{"me":"1","outfit":{"9":{"baseCapture":true}}}`, fakeLookup{facilities: map[string]string{"6200": "The Crown"}})
	f.frame(t, `{"event_name":"FacilityControl","facility_id":"6200","outfit_id":"9","old_faction_id":"2","new_faction_id":"1","zone_id":"2","world_id":"17"}`)
	if got := f.sink.intents(); len(got) != 0 {
		t.Fatalf("lookup alert emitted on frame goroutine: %+v", got)
	}
	f.sched.runAll()
	got := f.sink.intents()
	if len(got) != 1 || got[0].Heading != "The Crown captured" {
		t.Fatalf("intents = %+v", got)
	}
	if !strings.Contains(got[0].Message, "Indar (Emerald)") {
		t.Fatalf("message = %q", got[0].Message)
	}
}

func TestHeadshotAndStreakAlerts(t *testing.T) {
	t.Parallel()
	f := newFixture(t, `{"me":"1","headshotAnnounce":[7214],"killAnnounce":["oneLife"],"streakStep":2,"player":{"5":{}}}`, nil)
	f.frame(t, `{"event_name":"Death","attacker_character_id":"1","character_id":"50","attacker_weapon_id":"7214"}`)
	f.frame(t, `{"event_name":"Death","attacker_character_id":"1","character_id":"51","attacker_weapon_id":"80"}`)
	f.frame(t, `{"event_name":"Death","attacker_character_id":"1","character_id":"52","attacker_weapon_id":"80"}`)
	f.sched.runAll()

	got := f.sink.intents()
	if len(got) != 2 {
		t.Fatalf("intents = %+v, want headshot and streak", got)
	}
	if got[0].Heading != "Headshot!" || !strings.Contains(got[0].Message, "character 50") {
		t.Fatalf("headshot intent = %+v", got[0])
	}
	if got[1].Heading != "Kill streak" || !strings.Contains(got[1].Message, "2 kills") {
		t.Fatalf("streak intent = %+v", got[1])
	}
}

func TestPlayerRules(t *testing.T) {
	t.Parallel()
	lookup := fakeLookup{names: map[string]string{"5": "Higby", "6": "Wrel"}}
	f := newFixture(t, `{"me":"1","player":{"5":{"killPlayer":["6"],"deathPlayer":["all"]}}}`, lookup)
	f.frame(t, `{"event_name":"Death","attacker_character_id":"5","character_id":"6"}`)
	f.frame(t, `{"event_name":"Death","attacker_character_id":"5","character_id":"7"}`)
	f.frame(t, `{"event_name":"Death","attacker_character_id":"8","character_id":"5"}`)
	f.frame(t, `{"event_name":"Death","attacker_character_id":"5","character_id":"5"}`)
	f.sched.runAll()

	got := f.sink.intents()
	if len(got) != 2 {
		t.Fatalf("intents = %+v, want 2", got)
	}
	if got[0].Kind != KindPlayerKill || got[0].Message != "Higby killed Wrel." {
		t.Fatalf("kill intent = %+v", got[0])
	}
	if got[1].Kind != KindPlayerDeath || got[1].Message != "Higby was killed by character 8." {
		t.Fatalf("death intent = %+v", got[1])
	}
}

func TestOutfitKill(t *testing.T) {
	t.Parallel()
	lookup := fakeLookup{outfits: map[string]string{"100": "900", "101": "901"}}
	f := newFixture(t, `{"me":"1","outfit":{"900":{"killPlayer":["6"]}}}`, lookup)
	f.frame(t, `{"event_name":"Death","attacker_character_id":"100","character_id":"6"}`)
	f.frame(t, `{"event_name":"Death","attacker_character_id":"101","character_id":"6"}`)
	f.frame(t, `{"event_name":"Death","attacker_character_id":"100","character_id":"7"}`)
	f.sched.runAll()
	got := f.sink.intents()
	if len(got) != 1 || got[0].Kind != KindOutfitKill {
		t.Fatalf("intents = %+v, want one outfit kill", got)
	}
}

func TestRageQuit(t *testing.T) {
	t.Parallel()
	lookup := fakeLookup{online: map[string]bool{"50": false, "51": true}}
	f := newFixture(t, `{"me":"1","rageQuitAnnounceSeconds":60,"player":{"5":{}}}`, lookup)
	f.frame(t, `{"event_name":"Death","attacker_character_id":"1","character_id":"50"}`)
	f.frame(t, `{"event_name":"Death","attacker_character_id":"1","character_id":"50"}`)
	f.frame(t, `{"event_name":"Death","attacker_character_id":"1","character_id":"51"}`)
	f.frame(t, `{"event_name":"Death","attacker_character_id":"7","character_id":"52"}`)

	f.sched.mu.Lock()
	tasks := append([]task(nil), f.sched.tasks...)
	f.sched.mu.Unlock()
	if len(tasks) != 2 {
		t.Fatalf("scheduled = %d, want 2 (one per victim)", len(tasks))
	}
	for _, tk := range tasks {
		if tk.delay != time.Minute {
			t.Fatalf("task %s delay = %v, want 1m", tk.name, tk.delay)
		}
	}
	f.sched.runAll()
	got := f.sink.intents()
	if len(got) != 1 || got[0].Kind != KindRageQuit || !strings.Contains(got[0].Message, "character 50") {
		t.Fatalf("intents = %+v, want one rage quit for 50", got)
	}

	// The pending check is released after it runs.
	f.frame(t, `{"event_name":"Death","attacker_character_id":"1","character_id":"50"}`)
	f.sched.mu.Lock()
	n := len(f.sched.tasks)
	f.sched.mu.Unlock()
	if n != 1 {
		t.Fatalf("rescheduled = %d, want 1", n)
	}
}

func TestVehicleRules(t *testing.T) {
	t.Parallel()
	f := newFixture(t, `{"me":"1","player":{"5":{"killVehicle":[4],"deathVehicle":["all"]}}}`, nil)
	f.frame(t, `{"event_name":"VehicleDestroy","attacker_character_id":"5","character_id":"9","vehicle_id":"4"}`)
	f.frame(t, `{"event_name":"VehicleDestroy","attacker_character_id":"5","character_id":"9","vehicle_id":"5"}`)
	f.frame(t, `{"event_name":"VehicleDestroy","attacker_character_id":"9","character_id":"5","vehicle_id":"11"}`)
	got := f.sink.intents()
	if len(got) != 2 {
		t.Fatalf("intents = %+v, want 2", got)
	}
	if got[0].Kind != KindVehicleKill || !strings.Contains(got[0].Heading, "Magrider") {
		t.Fatalf("vehicle kill = %+v", got[0])
	}
	if got[1].Kind != KindVehicleDeath || !strings.Contains(got[1].Heading, "Galaxy") {
		t.Fatalf("vehicle death = %+v", got[1])
	}
}

func TestMetagameAlerts(t *testing.T) {
	t.Parallel()
	f := newFixture(t, `{"me":"1","world":{"17":{"metagame":true},"1":{}}}`, nil)
	f.frame(t, `{"event_name":"MetagameEvent","metagame_event_id":"147","metagame_event_state_name":"started","world_id":"17","zone_id":"2"}`)
	f.frame(t, `{"event_name":"MetagameEvent","metagame_event_id":"147","metagame_event_state_name":"started","world_id":"1","zone_id":"2"}`)
	got := f.sink.intents()
	if len(got) != 1 || got[0].Heading != "Alert started" || !strings.Contains(got[0].Message, "Emerald") {
		t.Fatalf("intents = %+v", got)
	}
}

func TestSinkErrorBecomesFault(t *testing.T) {
	t.Parallel()
	raw, _ := interest.Parse(`{"me":"1","outfit":{"9":{"baseCapture":[6200,"Crown"]}}}`)
	m, err := interest.Build(context.Background(), raw, nil)
	if err != nil {
		t.Fatal(err)
	}
	errFull := errors.New("queue full")
	r := events.NewRouter(logx.Nop())
	NewHandlers(Deps{Model: m, Sink: SinkFunc(func(context.Context, Intent) error { return errFull })}).Register(r)
	faults := r.Dispatch(context.Background(), events.FacilityControl{FacilityID: "6200", OutfitID: "9", OldFactionID: "2", NewFactionID: "1"})
	if len(faults) != 1 || !errors.Is(faults[0], errFull) {
		t.Fatalf("faults = %v", faults)
	}
}

func TestCriticalIntents(t *testing.T) {
	t.Parallel()
	in := ConnectionLost(fmt.Errorf("gave up"))
	if in.Urgency != UrgencyCritical || in.Timeout != 0 || in.Kind != KindConnectionLost {
		t.Fatalf("ConnectionLost = %+v", in)
	}
}
