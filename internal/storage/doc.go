// Package storage provides the optional persistence used by the notifier.
//
// It supports:
//   - An alert journal (what was shown, when, and on which displays)
//   - Notifier dedup state, so suppression windows survive restarts
//
// Game data is never stored.
package storage
