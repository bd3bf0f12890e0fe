package events

import (
	"sync"
	"time"

	"ps2notify/internal/census"
	"ps2notify/internal/interest"
)

// Classifier turns serviceMessage envelopes into Events and keeps the
// per-life state the kill-announce predicates need. One Classifier belongs
// to one pipeline generation.
type Classifier struct {
	model *interest.Model
	now   func() time.Time

	mu        sync.Mutex
	lifeStart time.Time
	streak    int
	// lastBase is the time of the latest watched base event per world/zone.
	lastBase map[string]time.Time
}

func NewClassifier(model *interest.Model, clock func() time.Time) *Classifier {
	if clock == nil {
		clock = time.Now
	}
	return &Classifier{
		model:     model,
		now:       clock,
		lifeStart: clock(),
		lastBase:  map[string]time.Time{},
	}
}

// Classify maps an envelope to an Event. Heartbeats, state changes and
// unknown event names produce nothing.
func (c *Classifier) Classify(env census.Envelope) (Event, bool) {
	if env.Type != census.TypeServiceMessage || env.Payload == nil {
		return nil, false
	}
	p := env.Payload
	switch p.EventName() {
	case census.EventDeath:
		return c.death(p), true
	case census.EventMetagame:
		return Metagame{
			ID:      p.String("instance_id"),
			EventID: p.String("metagame_event_id"),
			WorldID: p.String("world_id"),
			ZoneID:  p.String("zone_id"),
			State:   p.String("metagame_event_state_name"),
			Time:    c.at(p),
		}, true
	case census.EventFacilityControl:
		ev := FacilityControl{
			FacilityID:   p.String("facility_id"),
			OutfitID:     p.String("outfit_id"),
			OldFactionID: p.String("old_faction_id"),
			NewFactionID: p.String("new_faction_id"),
			WorldID:      p.String("world_id"),
			ZoneID:       p.String("zone_id"),
			Duration:     time.Duration(p.Int64("duration_held")) * time.Second,
			Time:         c.at(p),
		}
		c.noteBase(ev)
		return ev, true
	case census.EventVehicleDestroy:
		return VehicleDestroy{
			AttackerID:        p.String("attacker_character_id"),
			VictimID:          p.String("character_id"),
			VehicleID:         p.String("vehicle_id"),
			AttackerVehicleID: p.String("attacker_vehicle_id"),
			WeaponID:          p.String("attacker_weapon_id"),
			FacilityID:        p.String("facility_id"),
			WorldID:           p.String("world_id"),
			ZoneID:            p.String("zone_id"),
			Time:              c.at(p),
		}, true
	default:
		return nil, false
	}
}

func (c *Classifier) death(p census.Payload) Death {
	ev := Death{
		AttackerID:        p.String("attacker_character_id"),
		VictimID:          p.String("character_id"),
		WeaponID:          p.String("attacker_weapon_id"),
		AttackerVehicleID: p.String("attacker_vehicle_id"),
		WorldID:           p.String("world_id"),
		ZoneID:            p.String("zone_id"),
		Time:              c.at(p),
		ReportedHeadshot:  p.String("is_headshot") == "1",
	}
	ev.IsHeadshot = c.model.IsHeadshotWeapon(ev.WeaponID)

	me := c.model.Me
	c.mu.Lock()
	defer c.mu.Unlock()
	switch {
	case ev.VictimID == me:
		c.lifeStart = ev.Time
		c.streak = 0
	case ev.AttackerID == me && !ev.Suicide():
		c.streak++
		ev.Streak = c.streak
		m := c.model
		if m.Announces(interest.PredicateOneLife) && m.StreakStep > 0 && c.streak%m.StreakStep == 0 {
			ev.Tags = ev.Tags.With(TagOneLife)
		}
		if m.Announces(interest.PredicateTimeGap) && c.streak == 1 && ev.Time.Sub(c.lifeStart) >= m.TimeGap {
			ev.Tags = ev.Tags.With(TagTimeGap)
		}
		if m.Announces(interest.PredicateBase) {
			if at, ok := c.lastBase[zoneKey(ev.WorldID, ev.ZoneID)]; ok && ev.Time.Sub(at) <= m.BaseWindow && !ev.Time.Before(at) {
				ev.Tags = ev.Tags.With(TagBase)
			}
		}
	}
	return ev
}

func (c *Classifier) noteBase(ev FacilityControl) {
	if !c.model.WatchesBase(ev.OutfitID, ev.FacilityID, ev.Kind() == KindDefend) {
		return
	}
	c.mu.Lock()
	c.lastBase[zoneKey(ev.WorldID, ev.ZoneID)] = ev.Time
	c.mu.Unlock()
}

// at returns the payload timestamp, or the clock when it is missing.
func (c *Classifier) at(p census.Payload) time.Time {
	if ts := p.Int64("timestamp"); ts > 0 {
		return time.Unix(ts, 0)
	}
	return c.now()
}

func zoneKey(world, zone string) string { return world + "/" + zone }
