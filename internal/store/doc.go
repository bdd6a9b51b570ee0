// Package store persists chorus state in a key-value layout.
//
// # Architecture
//
// Store is a minimal interface over (kind, id) keys holding opaque bytes:
//
//   - conversation: one record per conversation, written by the state store
//   - persona: agent identities
//   - model: model provider connections
//   - settings: a singleton under SettingsID
//
// Catalog adds typed, JSON-encoded helpers for personas, models and
// settings. The conversation package encodes its own records.
//
// # Implementations
//
//   - SQLiteStore: modernc.org/sqlite with WAL mode, a single kv table
//   - MockStore: in-memory, for tests
//
// List preserves first-insertion order in both implementations; a Put over
// an existing key keeps its position.
//
// # Error Handling
//
// ErrNotFound is returned by Get and Delete for absent keys. Catalog
// returns ErrInvalidEntity for records missing their required fields.
package store
