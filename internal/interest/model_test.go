package interest

import (
	"context"
	"errors"
	"net/url"
	"slices"
	"strings"
	"testing"
	"time"

	"ps2notify/internal/census"
)

type fakeResolver struct {
	chars   map[string]string
	outfits map[string]string
}

func (f fakeResolver) ResolveCharacterID(_ context.Context, name string) (string, error) {
	if id, ok := f.chars[strings.ToLower(name)]; ok {
		return id, nil
	}
	return "", census.ErrNotFound
}

func (f fakeResolver) ResolveOutfitID(_ context.Context, tag string) (string, error) {
	if id, ok := f.outfits[strings.ToLower(tag)]; ok {
		return id, nil
	}
	return "", census.ErrNotFound
}

func build(t *testing.T, text string, r Resolver) (*Model, error) {
	t.Helper()
	raw, err := Parse(text)
	if err != nil {
		return nil, err
	}
	return Build(context.Background(), raw, r)
}

func TestParseFragment(t *testing.T) {
	t.Parallel()
	plain := `{"me":"1","world":{"17":{"metagame":true}}}`
	for _, text := range []string{
		plain,
		"#" + plain,
		"#" + url.PathEscape(plain),
	} {
		raw, err := Parse(text)
		if err != nil {
			t.Fatalf("Parse(%q): %v", text, err)
		}
		if raw.Me != "1" || !raw.World["17"].Metagame {
			t.Fatalf("Parse(%q) = %+v", text, raw)
		}
	}
}

func TestParseRejectsGarbage(t *testing.T) {
	t.Parallel()
	for _, text := range []string{"", "#", "{", `{"me":"1","unknownKey":1}`, "%7Bnot json%7D"} {
		if _, err := Parse(text); !errors.Is(err, ErrInvalid) {
			t.Fatalf("Parse(%q) err = %v, want ErrInvalid", text, err)
		}
	}
}

func TestBuildRejections(t *testing.T) {
	t.Parallel()
	r := fakeResolver{chars: map[string]string{"higby": "42"}}
	cases := []struct {
		name string
		text string
	}{
		{"missing me", `{"player":{"1":{}}}`},
		{"unresolvable me", `{"me":"nobody","player":{"1":{}}}`},
		{"identity only", `{"me":"1"}`},
		{"identity with empty maps", `{"me":"1","player":{},"outfit":{},"world":{}}`},
		{"unknown predicate", `{"me":"1","killAnnounce":["oneLife","spree"],"player":{"2":{}}}`},
		{"negative rage quit", `{"me":"1","rageQuitAnnounceSeconds":-1,"player":{"2":{}}}`},
		{"negative time gap", `{"me":"1","timeGapSeconds":-5,"player":{"2":{}}}`},
		{"zero streak", `{"me":"1","streakStep":0,"player":{"2":{}}}`},
		{"weapon name", `{"me":"1","headshotAnnounce":["Gauss SAW"],"player":{"2":{}}}`},
		{"label first", `{"me":"1","outfit":{"9":{"baseCapture":["Crown",6200]}}}`},
		{"two labels", `{"me":"1","outfit":{"9":{"baseCapture":[6200,"Crown","Again"]}}}`},
		{"base object", `{"me":"1","outfit":{"9":{"baseDefend":{"6200":true}}}}`},
		{"bad world", `{"me":"1","world":{"Connery":{}}}`},
		{"unresolvable outfit", `{"me":"1","outfit":{"NOPE":{}}}`},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := build(t, tc.text, r); !errors.Is(err, ErrInvalid) {
				t.Fatalf("err = %v, want ErrInvalid", err)
			}
		})
	}
}

func TestBuildResolvesNames(t *testing.T) {
	t.Parallel()
	r := fakeResolver{
		chars:   map[string]string{"higby": "42", "wrel": "43"},
		outfits: map[string]string{"dig": "900"},
	}
	m, err := build(t, `{"me":"Higby","outfit":{"DIG":{"killPlayer":["Wrel"]}}}`, r)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if m.Me != "42" {
		t.Fatalf("me = %q, want 42", m.Me)
	}
	o, ok := m.Outfits["900"]
	if !ok || !o.KillPlayer.Has("43") {
		t.Fatalf("outfits = %+v", m.Outfits)
	}
}

func TestBuildDefaultsAndTunables(t *testing.T) {
	t.Parallel()
	m, err := build(t, `{"me":1,"killAnnounce":["base"],"headshotAnnounce":[7214,"1"],"rageQuitAnnounceSeconds":60,"baseWindowSeconds":30,"player":{"2":{}}}`, nil)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if m.StreakStep != DefaultStreakStep || m.TimeGap != DefaultTimeGap {
		t.Fatalf("defaults = %d %v", m.StreakStep, m.TimeGap)
	}
	if m.BaseWindow != 30*time.Second || m.RageQuitAfter != time.Minute {
		t.Fatalf("tunables = %v %v", m.BaseWindow, m.RageQuitAfter)
	}
	if !m.Announces(PredicateBase) || m.Announces(PredicateOneLife) {
		t.Fatalf("killAnnounce = %v", m.KillAnnounce)
	}
	if !m.IsHeadshotWeapon("7214") || !m.IsHeadshotWeapon("1") || m.IsHeadshotWeapon("2") {
		t.Fatalf("headshot weapons = %v", m.HeadshotWeapons)
	}
}

func TestBaseLists(t *testing.T) {
	t.Parallel()
	m, err := build(t, `{"me":"1","outfit":{
		"10":{"baseCapture":[6200,"Crown",4001],"baseDefend":true},
		"11":{"baseCapture":["all","222","Zurvan"]}}}`, nil)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	a := m.Outfits["10"]
	if l, ok := a.Capture.Match("6200"); !ok || l != "Crown" {
		t.Fatalf("6200 = %q, %v; want Crown", l, ok)
	}
	if l, ok := a.Capture.Match("4001"); !ok || l != "" {
		t.Fatalf("4001 = %q, %v; want unlabelled match", l, ok)
	}
	if _, ok := a.Capture.Match("1"); ok {
		t.Fatal("facility 1 should not match capture list")
	}
	if _, ok := a.Defend.Match("anything"); !ok {
		t.Fatal("baseDefend true should match every facility")
	}
	b := m.Outfits["11"]
	if l, ok := b.Capture.Match("222"); !ok || l != "Zurvan" {
		t.Fatalf("222 = %q, %v", l, ok)
	}
	if _, ok := b.Capture.Match("5"); !ok {
		t.Fatal("wildcard should match facility 5")
	}
	watch := []struct {
		outfit, facility string
		defend           bool
		want             bool
	}{
		{"10", "6200", false, true},
		{"10", "1", false, false},
		{"10", "1", true, true},
		{"11", "6200", false, true},
		{"11", "6200", true, false},
		{"99", "6200", false, false},
		{"99", "6200", true, false},
	}
	for _, w := range watch {
		if got := m.WatchesBase(w.outfit, w.facility, w.defend); got != w.want {
			t.Fatalf("WatchesBase(%s, %s, %v) = %v, want %v", w.outfit, w.facility, w.defend, got, w.want)
		}
	}
}

func TestSubscriptionDerivation(t *testing.T) {
	t.Parallel()
	cases := []struct {
		name string
		text string
		want census.Subscription
	}{
		{
			name: "outfit base rules without worlds",
			text: `{"me":"5428059164954198113","outfit":{"37511594860086186":{"baseCapture":[6200,"Crown"]}}}`,
			want: census.NewSubscription([]string{"all"}, []string{"FacilityControl"}, []string{"5428059164954198113"}, []string{"Death"}),
		},
		{
			name: "players with vehicle rules",
			text: `{"me":"1","player":{"2":{"killVehicle":[4]},"3":{"killPlayer":["all"]}}}`,
			want: census.NewSubscription(nil, nil, []string{"1", "2", "3"}, []string{"Death", "VehicleDestroy"}),
		},
		{
			name: "worlds with metagame and bases",
			text: `{"me":"1","world":{"17":{"metagame":true},"1":{}},"outfit":{"9":{"baseDefend":true,"killPlayer":["77"]}}}`,
			want: census.NewSubscription([]string{"1", "17"}, []string{"FacilityControl", "MetagameEvent"}, []string{"1", "77"}, []string{"Death"}),
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			m, err := build(t, tc.text, nil)
			if err != nil {
				t.Fatalf("Build: %v", err)
			}
			got := m.Subscription()
			if !got.Equal(tc.want) {
				t.Fatalf("subscription = %v, want %v", got, tc.want)
			}
			if got.Empty() {
				t.Fatal("subscription is empty")
			}
		})
	}
}

func TestIDSetList(t *testing.T) {
	t.Parallel()
	s := IDSet{All: true, IDs: map[string]struct{}{"b": {}, "a": {}}}
	if got := s.List(); !slices.Equal(got, []string{"a", "b"}) {
		t.Fatalf("List = %v", got)
	}
	if !s.Has("zzz") {
		t.Fatal("wildcard set should match anything")
	}
}
