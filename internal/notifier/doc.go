// Package notifier delivers alert intents to the configured displays.
//
// Notify never blocks on display I/O: intents are deduplicated, queued and
// handed to a small worker pool that applies a shared rate limit and retries
// each display independently with jittered backoff.
//
// # History
//
// The service keeps a short in-memory history of delivered alerts, and
// appends every delivery (or final failure) to the storage journal when one
// is configured.
package notifier
