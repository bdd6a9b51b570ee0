// ABOUTME: In-memory fan-out broadcaster for conversation state changes
// ABOUTME: Subscribers receive Changes for one conversation or for all of them

package conversation

import (
	"context"
	"log/slog"
	"sync"

	"github.com/google/uuid"
)

const (
	// subscriberBufferSize is the channel buffer for each subscriber.
	subscriberBufferSize = 64

	// AllConversations subscribes to changes on every conversation.
	AllConversations = "*"
)

// ChangeKind names the mutation that produced a Change.
type ChangeKind string

// Change kinds
const (
	ChangeCreated        ChangeKind = "created"
	ChangeMessageAdded   ChangeKind = "message_added"
	ChangeMessageUpdated ChangeKind = "message_updated"
	ChangeStatus         ChangeKind = "status"
	ChangeBranched       ChangeKind = "branched"
)

// Change describes one applied mutation.
type Change struct {
	Kind           ChangeKind
	ConversationID string
	MessageID      string
	Status         TurnStatus
}

// Broadcaster provides in-memory pub/sub for Changes.
type Broadcaster struct {
	mu          sync.RWMutex
	subscribers map[string]map[string]chan Change // conversation id -> subID -> ch
	logger      *slog.Logger
}

// NewBroadcaster creates a broadcaster. Pass nil logger for default.
func NewBroadcaster(logger *slog.Logger) *Broadcaster {
	if logger == nil {
		logger = slog.Default()
	}
	return &Broadcaster{
		subscribers: make(map[string]map[string]chan Change),
		logger:      logger.With("component", "broadcaster"),
	}
}

// Subscribe registers for changes on conversationID, or on every
// conversation when it is AllConversations. The subscription is removed
// when ctx is cancelled.
func (b *Broadcaster) Subscribe(ctx context.Context, conversationID string) (<-chan Change, string) {
	subID := uuid.New().String()
	ch := make(chan Change, subscriberBufferSize)

	b.mu.Lock()
	if _, ok := b.subscribers[conversationID]; !ok {
		b.subscribers[conversationID] = make(map[string]chan Change)
	}
	b.subscribers[conversationID][subID] = ch
	b.mu.Unlock()

	b.logger.Debug("subscriber added", "conversation_id", conversationID, "sub_id", subID)

	go func() {
		<-ctx.Done()
		b.Unsubscribe(conversationID, subID)
	}()

	return ch, subID
}

// Publish delivers a change to subscribers of its conversation and to
// AllConversations subscribers. Non-blocking: full channels drop the change.
func (b *Broadcaster) Publish(change Change) {
	b.mu.RLock()
	var targets []chan Change
	for _, key := range []string{change.ConversationID, AllConversations} {
		for _, ch := range b.subscribers[key] {
			targets = append(targets, ch)
		}
	}
	// Sends happen under the read lock so Unsubscribe cannot close a
	// channel mid-send; they never block.
	for _, ch := range targets {
		select {
		case ch <- change:
		default:
			b.logger.Debug("dropped change for slow subscriber",
				"conversation_id", change.ConversationID,
				"kind", change.Kind)
		}
	}
	b.mu.RUnlock()
}

// Unsubscribe removes a subscription and closes its channel.
func (b *Broadcaster) Unsubscribe(conversationID, subID string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	subs, ok := b.subscribers[conversationID]
	if !ok {
		return
	}
	ch, exists := subs[subID]
	if !exists {
		return
	}

	delete(subs, subID)
	close(ch)

	if len(subs) == 0 {
		delete(b.subscribers, conversationID)
	}

	b.logger.Debug("subscriber removed", "conversation_id", conversationID, "sub_id", subID)
}

// Close closes every subscriber channel.
func (b *Broadcaster) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	for key, subs := range b.subscribers {
		for subID, ch := range subs {
			close(ch)
			delete(subs, subID)
		}
		delete(b.subscribers, key)
	}
}
