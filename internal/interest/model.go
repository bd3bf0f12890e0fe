package interest

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"maps"
	"math"
	"slices"
	"strings"
	"time"
)

// Predicate names a kill-announce rule.
type Predicate string

const (
	PredicateOneLife Predicate = "oneLife"
	PredicateTimeGap Predicate = "timeGap"
	PredicateBase    Predicate = "base"
)

// Wildcard matches every id in a list.
const Wildcard = "all"

const (
	DefaultStreakStep = 5
	DefaultTimeGap    = 5 * time.Minute
	DefaultBaseWindow = 2 * time.Minute
)

// Resolver maps human names to census ids. Only consulted for identifiers
// that are not already numeric.
type Resolver interface {
	ResolveCharacterID(ctx context.Context, name string) (string, error)
	ResolveOutfitID(ctx context.Context, tagOrName string) (string, error)
}

// IDSet is a set of ids, optionally matching everything.
type IDSet struct {
	All bool
	IDs map[string]struct{}
}

func (s IDSet) Has(id string) bool {
	if s.All {
		return true
	}
	_, ok := s.IDs[id]
	return ok
}

func (s IDSet) Empty() bool { return !s.All && len(s.IDs) == 0 }

// List returns the explicit ids, sorted. The wildcard is not included.
func (s IDSet) List() []string { return slices.Sorted(maps.Keys(s.IDs)) }

// BaseRule selects facilities. Labels maps a facility id to its display
// label ("" when the user gave none).
type BaseRule struct {
	All    bool
	Labels map[string]string
}

// Match reports whether the facility is selected and returns its label.
func (r BaseRule) Match(facilityID string) (label string, ok bool) {
	if l, found := r.Labels[facilityID]; found {
		return l, true
	}
	return "", r.All
}

func (r BaseRule) Empty() bool { return !r.All && len(r.Labels) == 0 }

type OutfitRules struct {
	Capture    BaseRule
	Defend     BaseRule
	KillPlayer IDSet
}

type PlayerRules struct {
	KillPlayer   IDSet
	DeathPlayer  IDSet
	KillVehicle  IDSet
	DeathVehicle IDSet
}

func (p PlayerRules) hasVehicleRules() bool { return !p.KillVehicle.Empty() || !p.DeathVehicle.Empty() }

type WorldRules struct {
	Metagame bool
}

// Model is a validated, normalized interest config. It is built once per
// load and never mutated; a change produces a new Model.
type Model struct {
	Me              string
	KillAnnounce    map[Predicate]bool
	HeadshotWeapons map[string]struct{}
	RageQuitAfter   time.Duration
	Outfits         map[string]OutfitRules
	Players         map[string]PlayerRules
	Worlds          map[string]WorldRules
	StreakStep      int
	TimeGap         time.Duration
	BaseWindow      time.Duration
}

// Announces reports whether a kill-announce predicate is enabled.
func (m *Model) Announces(p Predicate) bool { return m != nil && m.KillAnnounce[p] }

// IsHeadshotWeapon reports whether weaponID is in headshotAnnounce.
func (m *Model) IsHeadshotWeapon(weaponID string) bool {
	if m == nil {
		return false
	}
	_, ok := m.HeadshotWeapons[weaponID]
	return ok
}

// WatchesBase reports whether outfitID has a capture rule (or, when defend
// is set, a defend rule) matching facilityID.
func (m *Model) WatchesBase(outfitID, facilityID string, defend bool) bool {
	if m == nil {
		return false
	}
	o, ok := m.Outfits[outfitID]
	if !ok {
		return false
	}
	rules := o.Capture
	if defend {
		rules = o.Defend
	}
	_, ok = rules.Match(facilityID)
	return ok
}

func (m *Model) hasBaseRules() bool {
	for _, o := range m.Outfits {
		if !o.Capture.Empty() || !o.Defend.Empty() {
			return true
		}
	}
	return false
}

// Build validates raw and resolves names through r. Every rejection wraps ErrInvalid.
func Build(ctx context.Context, raw *Raw, r Resolver) (*Model, error) {
	if raw == nil {
		return nil, fmt.Errorf("%w: no config", ErrInvalid)
	}
	b := builder{ctx: ctx, r: r}

	me := strings.TrimSpace(string(raw.Me))
	if me == "" {
		return nil, fmt.Errorf("%w: me is required", ErrInvalid)
	}
	meID, err := b.character(me)
	if err != nil {
		return nil, fmt.Errorf("%w: me: %v", ErrInvalid, err)
	}

	if len(raw.Player) == 0 && len(raw.Outfit) == 0 && len(raw.World) == 0 {
		return nil, fmt.Errorf("%w: track at least one player, outfit or world", ErrInvalid)
	}

	m := &Model{
		Me:              meID,
		KillAnnounce:    map[Predicate]bool{},
		HeadshotWeapons: map[string]struct{}{},
		Outfits:         map[string]OutfitRules{},
		Players:         map[string]PlayerRules{},
		Worlds:          map[string]WorldRules{},
		StreakStep:      DefaultStreakStep,
		TimeGap:         DefaultTimeGap,
		BaseWindow:      DefaultBaseWindow,
	}

	for _, p := range raw.KillAnnounce {
		switch pred := Predicate(strings.TrimSpace(p)); pred {
		case PredicateOneLife, PredicateTimeGap, PredicateBase:
			m.KillAnnounce[pred] = true
		default:
			return nil, fmt.Errorf("%w: unknown killAnnounce predicate %q", ErrInvalid, p)
		}
	}

	for _, w := range raw.HeadshotAnnounce {
		if !w.Numeric() {
			return nil, fmt.Errorf("%w: headshotAnnounce: weapon %q is not an item id", ErrInvalid, w)
		}
		m.HeadshotWeapons[string(w)] = struct{}{}
	}

	if m.RageQuitAfter, err = seconds("rageQuitAnnounceSeconds", raw.RageQuitAnnounceSeconds, 0); err != nil {
		return nil, err
	}
	if m.TimeGap, err = seconds("timeGapSeconds", raw.TimeGapSeconds, DefaultTimeGap); err != nil {
		return nil, err
	}
	if m.BaseWindow, err = seconds("baseWindowSeconds", raw.BaseWindowSeconds, DefaultBaseWindow); err != nil {
		return nil, err
	}
	if raw.StreakStep != nil {
		if *raw.StreakStep <= 0 {
			return nil, fmt.Errorf("%w: streakStep must be positive, got %d", ErrInvalid, *raw.StreakStep)
		}
		m.StreakStep = *raw.StreakStep
	}

	for _, key := range slices.Sorted(maps.Keys(raw.Outfit)) {
		ro := raw.Outfit[key]
		id, err := b.outfit(key)
		if err != nil {
			return nil, fmt.Errorf("%w: outfit %q: %v", ErrInvalid, key, err)
		}
		var rules OutfitRules
		if rules.Capture, err = parseBaseList(ro.BaseCapture); err != nil {
			return nil, fmt.Errorf("%w: outfit %q baseCapture: %v", ErrInvalid, key, err)
		}
		if rules.Defend, err = parseBaseList(ro.BaseDefend); err != nil {
			return nil, fmt.Errorf("%w: outfit %q baseDefend: %v", ErrInvalid, key, err)
		}
		if rules.KillPlayer, err = b.characters(ro.KillPlayer); err != nil {
			return nil, fmt.Errorf("%w: outfit %q killPlayer: %v", ErrInvalid, key, err)
		}
		m.Outfits[id] = rules
	}

	for _, key := range slices.Sorted(maps.Keys(raw.Player)) {
		rp := raw.Player[key]
		id, err := b.character(key)
		if err != nil {
			return nil, fmt.Errorf("%w: player %q: %v", ErrInvalid, key, err)
		}
		var rules PlayerRules
		if rules.KillPlayer, err = b.characters(rp.KillPlayer); err != nil {
			return nil, fmt.Errorf("%w: player %q killPlayer: %v", ErrInvalid, key, err)
		}
		if rules.DeathPlayer, err = b.characters(rp.DeathPlayer); err != nil {
			return nil, fmt.Errorf("%w: player %q deathPlayer: %v", ErrInvalid, key, err)
		}
		if rules.KillVehicle, err = numericIDs(rp.KillVehicle); err != nil {
			return nil, fmt.Errorf("%w: player %q killVehicle: %v", ErrInvalid, key, err)
		}
		if rules.DeathVehicle, err = numericIDs(rp.DeathVehicle); err != nil {
			return nil, fmt.Errorf("%w: player %q deathVehicle: %v", ErrInvalid, key, err)
		}
		m.Players[id] = rules
	}

	for key, rw := range raw.World {
		key = strings.TrimSpace(key)
		if key != Wildcard && !isNumeric(key) {
			return nil, fmt.Errorf("%w: world %q is not a world id", ErrInvalid, key)
		}
		m.Worlds[key] = WorldRules{Metagame: rw.Metagame}
	}

	return m, nil
}

type builder struct {
	ctx context.Context
	r   Resolver
}

func (b builder) character(s string) (string, error) {
	s = strings.TrimSpace(s)
	if isNumeric(s) {
		return s, nil
	}
	if b.r == nil {
		return "", fmt.Errorf("cannot resolve character name %q without a resolver", s)
	}
	id, err := b.r.ResolveCharacterID(b.ctx, s)
	if err != nil {
		return "", fmt.Errorf("resolve character %q: %w", s, err)
	}
	return id, nil
}

func (b builder) outfit(s string) (string, error) {
	s = strings.TrimSpace(s)
	if isNumeric(s) {
		return s, nil
	}
	if b.r == nil {
		return "", fmt.Errorf("cannot resolve outfit %q without a resolver", s)
	}
	id, err := b.r.ResolveOutfitID(b.ctx, s)
	if err != nil {
		return "", fmt.Errorf("resolve outfit %q: %w", s, err)
	}
	return id, nil
}

func (b builder) characters(in []ID) (IDSet, error) {
	set := IDSet{IDs: map[string]struct{}{}}
	for _, v := range in {
		s := string(v)
		if strings.EqualFold(s, Wildcard) {
			set.All = true
			continue
		}
		id, err := b.character(s)
		if err != nil {
			return IDSet{}, err
		}
		set.IDs[id] = struct{}{}
	}
	return set, nil
}

func numericIDs(in []ID) (IDSet, error) {
	set := IDSet{IDs: map[string]struct{}{}}
	for _, v := range in {
		s := string(v)
		switch {
		case strings.EqualFold(s, Wildcard):
			set.All = true
		case isNumeric(s):
			set.IDs[s] = struct{}{}
		default:
			return IDSet{}, fmt.Errorf("%q is not a vehicle id", s)
		}
	}
	return set, nil
}

func seconds(field string, v *float64, def time.Duration) (time.Duration, error) {
	if v == nil {
		return def, nil
	}
	if *v < 0 || math.IsNaN(*v) || math.IsInf(*v, 0) {
		return 0, fmt.Errorf("%w: %s must be >= 0, got %v", ErrInvalid, field, *v)
	}
	return time.Duration(*v * float64(time.Second)), nil
}

// parseBaseList reads a baseCapture/baseDefend value:
//
//	true            every facility
//	[6200, "Crown"] facility 6200 labelled "Crown"
//	["all", 4001]   every facility; 4001 stays listed
func parseBaseList(b json.RawMessage) (BaseRule, error) {
	rule := BaseRule{Labels: map[string]string{}}
	b = bytes.TrimSpace(b)
	if len(b) == 0 || bytes.Equal(b, []byte("null")) {
		return rule, nil
	}
	switch b[0] {
	case 't', 'f':
		var all bool
		if err := json.Unmarshal(b, &all); err != nil {
			return BaseRule{}, err
		}
		rule.All = all
		return rule, nil
	case '"':
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return BaseRule{}, err
		}
		if !strings.EqualFold(strings.TrimSpace(s), Wildcard) {
			return BaseRule{}, fmt.Errorf("expected a list, true or %q, got %q", Wildcard, s)
		}
		rule.All = true
		return rule, nil
	case '[':
	default:
		return BaseRule{}, fmt.Errorf("expected a list, got %s", b)
	}

	var items []json.RawMessage
	if err := json.Unmarshal(b, &items); err != nil {
		return BaseRule{}, err
	}
	last := ""
	labelled := false
	for i, it := range items {
		var id ID
		if err := json.Unmarshal(it, &id); err != nil {
			return BaseRule{}, fmt.Errorf("item %d: %v", i, err)
		}
		s := string(id)
		switch {
		case s == "":
			return BaseRule{}, fmt.Errorf("item %d is empty", i)
		case strings.EqualFold(s, Wildcard):
			rule.All = true
			last = ""
		case id.Numeric():
			last = s
			labelled = false
			if _, dup := rule.Labels[s]; !dup {
				rule.Labels[s] = ""
			}
		default:
			if last == "" || labelled {
				return BaseRule{}, fmt.Errorf("item %d: label %q does not follow a facility id", i, s)
			}
			rule.Labels[last] = s
			labelled = true
		}
	}
	return rule, nil
}
