// Package alerts turns classified game events into notification intents.
//
// Each rule is a separate router handler, so a failing rule never hides
// the others. Rules that need a name lookup run on the scheduler instead of
// the frame goroutine.
package alerts
