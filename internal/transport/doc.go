// Package transport owns the single websocket connection to the orchestration backend.
//
// # Overview
//
// A Transport dials the backend, reads frames on one goroutine, decodes them into
// protocol envelopes and hands each one to a Dispatcher (the protocol router) in
// arrival order. Outbound commands go through Send, which is fire-and-forget:
//
//	tr := transport.New(transport.Options{URL: "ws://localhost:8000/ws"})
//	tr.SetDispatcher(r)
//	_ = tr.SetEnabled(ctx, true)
//	ok := tr.Send(protocol.TypePing, nil) // false while disconnected, never queued
//
// # Enablement
//
// The enabled flag gates every connection attempt. Connect is a silent no-op when
// the transport is disabled or the reachability probe fails, so callers never block
// on a dead backend. SetEnabled(false) closes the connection and clears timers.
//
// # Reconnection
//
// After an unclean close (no close handshake, or a dial failure) the transport
// schedules a reconnect while enabled and fewer than MaxAttempts attempts have
// been made:
//
//	delay(n) = min(BaseDelay * 1.5^(n-1), MaxDelay)
//
// A successful open resets the counter. At the ceiling it stops until SetEnabled
// is toggled or Connect is called again.
//
// # Topics
//
// Subscribers register per Topic: the lifecycle topics TopicConnected and
// TopicDisconnected, or EnvelopeTopic(t) for envelopes the router forwards.
// Off with an empty SubscriptionID removes every handler for the topic.
//
// # Thread Safety
//
// All methods are safe for concurrent use. Writes are serialized because the
// websocket library allows one concurrent writer.
package transport
