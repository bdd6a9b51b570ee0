// Package fakebackend is an in-process multi-agent backend speaking the
// chorus websocket protocol.
//
// It keeps registered personas and models, picks speakers round-robin per
// conversation, and streams mock replies word by word as top-level
// message_chunk frames followed by a top-level message_complete. GET /
// answers reachability probes. It backs the end-to-end tests and the
// fake-backend command for local development.
package fakebackend
