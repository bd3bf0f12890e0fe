package interest

import (
	"maps"
	"slices"

	"ps2notify/internal/census"
)

// Subscription derives the push-service topics the model needs.
func (m *Model) Subscription() census.Subscription {
	chars := []string{m.Me}
	chars = append(chars, slices.Collect(maps.Keys(m.Players))...)
	for _, o := range m.Outfits {
		chars = append(chars, o.KillPlayer.List()...)
	}

	charEvents := []string{census.EventDeath}
	for _, p := range m.Players {
		if p.hasVehicleRules() {
			charEvents = append(charEvents, census.EventVehicleDestroy)
			break
		}
	}

	var worlds, worldEvents []string
	for id, w := range m.Worlds {
		worlds = append(worlds, id)
		if w.Metagame {
			worldEvents = append(worldEvents, census.EventMetagame)
		}
	}
	if m.hasBaseRules() {
		worldEvents = append(worldEvents, census.EventFacilityControl)
		if len(worlds) == 0 {
			worlds = []string{census.AllWorlds}
		}
	}

	return census.NewSubscription(worlds, worldEvents, chars, charEvents)
}
