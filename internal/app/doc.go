// Package app wires chorus together.
//
// An App owns exactly one transport connection and one conversation store.
// New builds every component from a config.Config: the SQLite-backed
// catalog, the conversation store with write-through persistence, the
// websocket transport, the protocol router, the turn controller and the
// availability monitor. Deps swaps collaborators for tests.
//
// Start hands control to the monitor, which enables the transport once the
// backend answers its probe. Run does the same and blocks, serving
// Prometheus metrics when enabled. Close cancels every timer and releases
// the store.
package app
