package alerts

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"ps2notify/internal/events"
	"ps2notify/internal/interest"
	logx "ps2notify/pkg/logx"
)

// Lookup resolves display names and live state. census.Client implements it.
type Lookup interface {
	CharacterName(ctx context.Context, id string) (string, error)
	FacilityName(ctx context.Context, id string) (string, error)
	OutfitOf(ctx context.Context, characterID string) (string, error)
	OnlineStatus(ctx context.Context, characterID string) (bool, error)
}

// Scheduler runs delayed work off the frame goroutine.
// supervisor.Supervisor implements it.
type Scheduler interface {
	After(name string, delay time.Duration, fn func(ctx context.Context))
}

type Deps struct {
	Model *interest.Model
	Sink  Sink
	// Lookup is optional. Without it ids are shown instead of names and
	// outfit kill rules cannot be evaluated.
	Lookup Lookup
	// Scheduler is optional. Without it lookups run inline and rage-quit
	// checks are disabled.
	Scheduler     Scheduler
	Log           logx.Logger
	LookupTimeout time.Duration
}

// Handlers turns classified events into Intents according to the model.
type Handlers struct {
	d   Deps
	log logx.Logger

	mu      sync.Mutex
	pending map[string]struct{}

	emitted atomic.Uint64
}

func NewHandlers(d Deps) *Handlers {
	if d.Log.IsZero() {
		d.Log = logx.Nop()
	}
	if d.LookupTimeout <= 0 {
		d.LookupTimeout = 5 * time.Second
	}
	return &Handlers{
		d:       d,
		log:     d.Log.With(logx.String("comp", "alerts")),
		pending: map[string]struct{}{},
	}
}

// Register wires every alert rule into r.
func (h *Handlers) Register(r *events.Router) {
	r.Register(events.KindCapture, events.HandlerFunc(h.capture))
	r.Register(events.KindDefend, events.HandlerFunc(h.defend))
	r.Register(events.KindMetagame, events.HandlerFunc(h.metagame))
	r.Register(events.KindDeath, events.HandlerFunc(h.myKill))
	r.Register(events.KindDeath, events.HandlerFunc(h.playerDeath))
	r.Register(events.KindDeath, events.HandlerFunc(h.outfitKill))
	r.Register(events.KindDeath, events.HandlerFunc(h.rageQuit))
	r.Register(events.KindVehicleDestroy, events.HandlerFunc(h.vehicle))
}

// Emitted is the number of intents handed to the sink.
func (h *Handlers) Emitted() uint64 { return h.emitted.Load() }

type buildFunc func(ctx context.Context) (Intent, bool)

func (h *Handlers) emit(ctx context.Context, in Intent) error {
	if h.d.Sink == nil {
		return nil
	}
	if err := h.d.Sink.Notify(ctx, in); err != nil {
		return fmt.Errorf("notify %s: %w", in.Kind, err)
	}
	h.emitted.Add(1)
	return nil
}

// deliver builds and emits an intent. Builds that need a network lookup
// are moved to the scheduler when one is configured.
func (h *Handlers) deliver(ctx context.Context, name string, needsLookup bool, build buildFunc) error {
	if needsLookup && h.d.Lookup != nil && h.d.Scheduler != nil {
		h.d.Scheduler.After(name, 0, func(ctx context.Context) {
			in, ok := build(ctx)
			if !ok {
				return
			}
			if err := h.emit(ctx, in); err != nil {
				h.log.Warn("alert not delivered", logx.String("task", name), logx.Err(err))
			}
		})
		return nil
	}
	in, ok := build(ctx)
	if !ok {
		return nil
	}
	return h.emit(ctx, in)
}

func (h *Handlers) characterName(ctx context.Context, id string) string {
	if h.d.Lookup != nil && id != "" && id != "0" {
		cctx, cancel := context.WithTimeout(ctx, h.d.LookupTimeout)
		defer cancel()
		if n, err := h.d.Lookup.CharacterName(cctx, id); err == nil && n != "" {
			return n
		}
	}
	return "character " + id
}

func (h *Handlers) facilityName(ctx context.Context, id, label string) string {
	if label != "" {
		return label
	}
	if h.d.Lookup != nil {
		cctx, cancel := context.WithTimeout(ctx, h.d.LookupTimeout)
		defer cancel()
		if n, err := h.d.Lookup.FacilityName(cctx, id); err == nil && n != "" {
			return n
		}
	}
	return "facility " + id
}

func (h *Handlers) capture(ctx context.Context, ev events.Event) error {
	fc, ok := ev.(events.FacilityControl)
	if !ok {
		return nil
	}
	rules, ok := h.d.Model.Outfits[fc.OutfitID]
	if !ok {
		return nil
	}
	label, ok := rules.Capture.Match(fc.FacilityID)
	if !ok {
		return nil
	}
	return h.deliver(ctx, "alert.capture", label == "", func(ctx context.Context) (Intent, bool) {
		place := h.facilityName(ctx, fc.FacilityID, label)
		msg := fmt.Sprintf("Outfit %s captured %s on %s (%s).", fc.OutfitID, place, zoneName(fc.ZoneID), worldName(fc.WorldID))
		return New(KindCapture, place+" captured", msg).WithSound(SoundComplete), true
	})
}

func (h *Handlers) defend(ctx context.Context, ev events.Event) error {
	fc, ok := ev.(events.FacilityControl)
	if !ok {
		return nil
	}
	rules, ok := h.d.Model.Outfits[fc.OutfitID]
	if !ok {
		return nil
	}
	label, ok := rules.Defend.Match(fc.FacilityID)
	if !ok {
		return nil
	}
	return h.deliver(ctx, "alert.defend", label == "", func(ctx context.Context) (Intent, bool) {
		place := h.facilityName(ctx, fc.FacilityID, label)
		msg := fmt.Sprintf("Outfit %s held %s on %s (%s).", fc.OutfitID, place, zoneName(fc.ZoneID), worldName(fc.WorldID))
		return New(KindDefend, place+" defended", msg).WithSound(SoundComplete).WithUrgency(UrgencyLow), true
	})
}

func (h *Handlers) metagame(ctx context.Context, ev events.Event) error {
	mg, ok := ev.(events.Metagame)
	if !ok {
		return nil
	}
	w, ok := h.d.Model.Worlds[mg.WorldID]
	if !ok {
		w, ok = h.d.Model.Worlds[interest.Wildcard]
	}
	if !ok || !w.Metagame {
		return nil
	}
	state := strings.ToLower(mg.State)
	if state == "" {
		state = "updated"
	}
	msg := fmt.Sprintf("Alert %s %s on %s (%s).", mg.EventID, state, zoneName(mg.ZoneID), worldName(mg.WorldID))
	return h.emit(ctx, New(KindMetagame, "Alert "+state, msg).WithSound(SoundMessage))
}

func (h *Handlers) myKill(ctx context.Context, ev events.Event) error {
	d, ok := ev.(events.Death)
	if !ok || d.AttackerID != h.d.Model.Me || d.Suicide() {
		return nil
	}
	if !d.IsHeadshot && d.Tags.Empty() {
		return nil
	}
	return h.deliver(ctx, "alert.kill", true, func(ctx context.Context) (Intent, bool) {
		victim := h.characterName(ctx, d.VictimID)
		var heading string
		var lines []string
		if d.IsHeadshot {
			heading = "Headshot!"
			lines = append(lines, "Headshot on "+victim+".")
		} else {
			lines = append(lines, "Killed "+victim+".")
		}
		if d.Tags.Has(events.TagOneLife) {
			if heading == "" {
				heading = "Kill streak"
			}
			lines = append(lines, fmt.Sprintf("%d kills without dying.", d.Streak))
		}
		if d.Tags.Has(events.TagTimeGap) {
			if heading == "" {
				heading = "Back in the fight"
			}
			lines = append(lines, "First kill of this life after a long wait.")
		}
		if d.Tags.Has(events.TagBase) {
			if heading == "" {
				heading = "Base kill"
			}
			lines = append(lines, "Kill near a watched base.")
		}
		return New(KindKill, heading, strings.Join(lines, " ")).WithSound(SoundMessage), true
	})
}

func (h *Handlers) playerDeath(ctx context.Context, ev events.Event) error {
	d, ok := ev.(events.Death)
	if !ok || d.Suicide() || d.AttackerID == "" || d.AttackerID == "0" {
		return nil
	}
	var errs []error
	if r, ok := h.d.Model.Players[d.AttackerID]; ok && r.KillPlayer.Has(d.VictimID) {
		errs = append(errs, h.deliver(ctx, "alert.player_kill", true, func(ctx context.Context) (Intent, bool) {
			a, v := h.characterName(ctx, d.AttackerID), h.characterName(ctx, d.VictimID)
			return New(KindPlayerKill, a+" got a kill", a+" killed "+v+".").WithSound(SoundMessage), true
		}))
	}
	if r, ok := h.d.Model.Players[d.VictimID]; ok && r.DeathPlayer.Has(d.AttackerID) {
		errs = append(errs, h.deliver(ctx, "alert.player_death", true, func(ctx context.Context) (Intent, bool) {
			a, v := h.characterName(ctx, d.AttackerID), h.characterName(ctx, d.VictimID)
			return New(KindPlayerDeath, v+" died", v+" was killed by "+a+".").WithSound(SoundMessage), true
		}))
	}
	return errors.Join(errs...)
}

func (h *Handlers) outfitKill(ctx context.Context, ev events.Event) error {
	d, ok := ev.(events.Death)
	if !ok || d.Suicide() || d.AttackerID == "" || d.AttackerID == "0" || h.d.Lookup == nil {
		return nil
	}
	var watching []string
	for id, o := range h.d.Model.Outfits {
		if o.KillPlayer.Has(d.VictimID) {
			watching = append(watching, id)
		}
	}
	if len(watching) == 0 {
		return nil
	}
	return h.deliver(ctx, "alert.outfit_kill", true, func(ctx context.Context) (Intent, bool) {
		cctx, cancel := context.WithTimeout(ctx, h.d.LookupTimeout)
		outfit, err := h.d.Lookup.OutfitOf(cctx, d.AttackerID)
		cancel()
		if err != nil {
			h.log.Debug("attacker outfit unknown", logx.String("attacker", d.AttackerID), logx.Err(err))
			return Intent{}, false
		}
		for _, id := range watching {
			if id == outfit {
				a, v := h.characterName(ctx, d.AttackerID), h.characterName(ctx, d.VictimID)
				msg := fmt.Sprintf("%s of outfit %s killed %s.", a, outfit, v)
				return New(KindOutfitKill, v+" was taken down", msg).WithSound(SoundMessage), true
			}
		}
		return Intent{}, false
	})
}

func (h *Handlers) rageQuit(ctx context.Context, ev events.Event) error {
	d, ok := ev.(events.Death)
	after := h.d.Model.RageQuitAfter
	if !ok || after <= 0 || h.d.Lookup == nil || h.d.Scheduler == nil {
		return nil
	}
	if d.AttackerID != h.d.Model.Me || d.Suicide() || d.VictimID == "" || d.VictimID == "0" {
		return nil
	}
	victim := d.VictimID

	h.mu.Lock()
	if _, dup := h.pending[victim]; dup {
		h.mu.Unlock()
		return nil
	}
	h.pending[victim] = struct{}{}
	h.mu.Unlock()

	h.d.Scheduler.After("ragequit."+victim, after, func(ctx context.Context) {
		defer func() {
			h.mu.Lock()
			delete(h.pending, victim)
			h.mu.Unlock()
		}()
		cctx, cancel := context.WithTimeout(ctx, h.d.LookupTimeout)
		online, err := h.d.Lookup.OnlineStatus(cctx, victim)
		cancel()
		if err != nil {
			h.log.Warn("rage-quit check failed", logx.String("victim", victim), logx.Err(err))
			return
		}
		if online {
			return
		}
		name := h.characterName(ctx, victim)
		msg := fmt.Sprintf("%s logged out within %s of your kill.", name, after)
		if err := h.emit(ctx, New(KindRageQuit, "Rage quit!", msg).WithSound(SoundBell)); err != nil {
			h.log.Warn("alert not delivered", logx.String("kind", KindRageQuit), logx.Err(err))
		}
	})
	return nil
}

func (h *Handlers) vehicle(ctx context.Context, ev events.Event) error {
	vd, ok := ev.(events.VehicleDestroy)
	if !ok {
		return nil
	}
	var errs []error
	if r, ok := h.d.Model.Players[vd.AttackerID]; ok && vd.AttackerID != vd.VictimID && r.KillVehicle.Has(vd.VehicleID) {
		errs = append(errs, h.deliver(ctx, "alert.vehicle_kill", true, func(ctx context.Context) (Intent, bool) {
			a := h.characterName(ctx, vd.AttackerID)
			v := vehicleName(vd.VehicleID)
			return New(KindVehicleKill, a+" destroyed a "+v, fmt.Sprintf("%s destroyed a %s.", a, v)).WithSound(SoundMessage), true
		}))
	}
	if r, ok := h.d.Model.Players[vd.VictimID]; ok && r.DeathVehicle.Has(vd.VehicleID) {
		errs = append(errs, h.deliver(ctx, "alert.vehicle_death", true, func(ctx context.Context) (Intent, bool) {
			victim := h.characterName(ctx, vd.VictimID)
			v := vehicleName(vd.VehicleID)
			return New(KindVehicleDeath, victim+" lost a "+v, fmt.Sprintf("%s lost a %s.", victim, v)).WithSound(SoundMessage), true
		}))
	}
	return errors.Join(errs...)
}
