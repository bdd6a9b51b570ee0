// ABOUTME: Typed publish-subscribe for transport lifecycle events and forwarded envelopes
// ABOUTME: Handlers are keyed by subscription ID so callers can remove one or all per topic

package transport

import (
	"github.com/google/uuid"

	"github.com/2389/coven-chorus/internal/protocol"
)

// Topic names an event stream.
type Topic string

// Lifecycle topics.
const (
	TopicConnected    Topic = "connected"
	TopicDisconnected Topic = "disconnected"
)

// EnvelopeTopic is the topic on which envelopes of type t are published.
func EnvelopeTopic(t protocol.Type) Topic {
	return Topic(t)
}

// Event is delivered to subscribers. Envelope is set for envelope topics;
// Err carries the close reason on TopicDisconnected when the peer dropped us.
type Event struct {
	Topic    Topic
	Envelope *protocol.Envelope
	Err      error
}

// Handler receives events. Handlers run on the publishing goroutine and must not block.
type Handler func(Event)

// SubscriptionID identifies one handler registration.
type SubscriptionID string

type subscription struct {
	id      SubscriptionID
	handler Handler
}

// On registers h for topic and returns an ID for Off.
func (t *Transport) On(topic Topic, h Handler) SubscriptionID {
	id := SubscriptionID(uuid.New().String())

	t.subMu.Lock()
	t.subs[topic] = append(t.subs[topic], subscription{id: id, handler: h})
	t.subMu.Unlock()

	return id
}

// Off removes the handler with the given ID. An empty ID removes every handler for topic.
func (t *Transport) Off(topic Topic, id SubscriptionID) {
	t.subMu.Lock()
	defer t.subMu.Unlock()

	if id == "" {
		delete(t.subs, topic)
		return
	}

	subs := t.subs[topic]
	for i, s := range subs {
		if s.id == id {
			t.subs[topic] = append(subs[:i:i], subs[i+1:]...)
			break
		}
	}
	if len(t.subs[topic]) == 0 {
		delete(t.subs, topic)
	}
}

// Publish delivers env verbatim to subscribers of its envelope topic.
func (t *Transport) Publish(env *protocol.Envelope) {
	t.emit(Event{Topic: EnvelopeTopic(env.Type), Envelope: env})
}

// Subscribers returns the number of handlers registered for topic.
func (t *Transport) Subscribers(topic Topic) int {
	t.subMu.RLock()
	defer t.subMu.RUnlock()
	return len(t.subs[topic])
}

func (t *Transport) emit(ev Event) {
	t.subMu.RLock()
	subs := t.subs[ev.Topic]
	handlers := make([]Handler, len(subs))
	for i, s := range subs {
		handlers[i] = s.handler
	}
	t.subMu.RUnlock()

	for _, h := range handlers {
		h(ev)
	}
}
