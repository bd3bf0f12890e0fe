// Package census speaks the Daybreak Census wire formats.
//
// It covers three things:
//   - Decoding push-service frames into Envelopes (Decode). Frames that are
//     malformed or belong to another service are ignored, never errors.
//   - Encoding the subscribe requests for a Subscription (EncodeSubscribe) and
//     reading them back (DecodeSubscribe).
//   - A small REST client for id/name lookups and online status.
package census
