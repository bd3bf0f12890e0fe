// Package events classifies decoded envelopes into typed game events and
// routes them to handlers.
//
// Ingest is the entry point for raw frames. It runs census.Decode, then
// Classifier.Classify, then Router.Dispatch, all on the caller's goroutine.
package events
