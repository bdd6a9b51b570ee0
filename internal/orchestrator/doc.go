// Package orchestrator decides when the next agent speaks.
//
// # Overview
//
// Controller drives the per-conversation turn state held by the
// conversation store:
//
//	RequestNextTurn  idle -> generating, sends multi_agent_next_turn
//	Pause            idle|generating -> paused, suspends auto-mode
//	Resume           paused -> idle, restarts auto-mode
//	Stop             any -> stopped, sends stop_generation
//
// Only one turn request may be outstanding per conversation. The router
// returns a conversation to idle when the turn's message completes, or
// through EndTurn when the backend reports it could not pick a speaker.
//
// # Auto Mode
//
// StartAutoMode registers every participant persona and their models with
// the backend, waits a settle delay, requests the first turn, then ticks
// at the configured interval. A tick only requests a turn when the
// conversation is idle.
//
// # Timers
//
// Settle, tick and turn-timeout timers come from a timers.Scheduler so
// tests can drive them with timers.Fake. Close cancels everything.
package orchestrator
