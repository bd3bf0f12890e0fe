// Package interest validates the user's interest config and derives the
// push-service subscription from it.
//
// The config is a JSON object, usually handed over as a URL fragment:
//
//	{"me":"5428059164954198113",
//	 "killAnnounce":["oneLife","timeGap","base"],
//	 "headshotAnnounce":[7214],
//	 "rageQuitAnnounceSeconds":60,
//	 "outfit":{"37511594860086186":{"baseCapture":[6200,"Crown"],"baseDefend":true}},
//	 "player":{"Higby":{"killPlayer":["all"]}},
//	 "world":{"17":{"metagame":true}}}
//
// Names are resolved to ids once, at Build time. A Model is never mutated.
package interest
