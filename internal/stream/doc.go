// Package stream keeps one WebSocket connection to the push service alive.
//
// A Handle dials, sends the subscribe frames for its Subscription, and then
// delivers every inbound frame to Handlers.OnFrame on a single goroutine. When
// the connection fails it retries with exponential Backoff and replays the
// same subscription. After Config.MaxRetries consecutive failures the handle
// reports StateLost with ErrConnectionLost and stops.
//
// A Subscription is fixed for the life of a Handle. To change it, Close the
// handle and Open a new one.
package stream
