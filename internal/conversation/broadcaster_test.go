// ABOUTME: Tests for the Change broadcaster
// ABOUTME: Covers per-conversation and wildcard subscriptions, slow consumers, cleanup

package conversation

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func receive(t *testing.T, ch <-chan Change) Change {
	t.Helper()
	select {
	case c, ok := <-ch:
		require.True(t, ok, "channel closed")
		return c
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for change")
		return Change{}
	}
}

func TestBroadcaster_SubscriberReceivesOwnConversation(t *testing.T) {
	b := NewBroadcaster(nil)
	defer b.Close()

	ch1, _ := b.Subscribe(t.Context(), "c1")
	ch2, _ := b.Subscribe(t.Context(), "c2")

	b.Publish(Change{Kind: ChangeCreated, ConversationID: "c1"})

	assert.Equal(t, "c1", receive(t, ch1).ConversationID)
	select {
	case c := <-ch2:
		t.Fatalf("c2 subscriber got %v", c)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestBroadcaster_WildcardReceivesEverything(t *testing.T) {
	b := NewBroadcaster(nil)
	defer b.Close()

	all, _ := b.Subscribe(t.Context(), AllConversations)

	b.Publish(Change{Kind: ChangeCreated, ConversationID: "c1"})
	b.Publish(Change{Kind: ChangeStatus, ConversationID: "c2", Status: StatusGenerating})

	assert.Equal(t, "c1", receive(t, all).ConversationID)
	got := receive(t, all)
	assert.Equal(t, "c2", got.ConversationID)
	assert.Equal(t, StatusGenerating, got.Status)
}

func TestBroadcaster_SlowConsumerDoesNotBlockPublisher(t *testing.T) {
	b := NewBroadcaster(nil)
	defer b.Close()

	b.Subscribe(t.Context(), "c1")

	done := make(chan struct{})
	go func() {
		for range subscriberBufferSize + 10 {
			b.Publish(Change{Kind: ChangeMessageUpdated, ConversationID: "c1"})
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("publisher blocked on slow subscriber")
	}
}

func TestBroadcaster_ContextCancellationCleansUp(t *testing.T) {
	b := NewBroadcaster(nil)
	defer b.Close()

	ctx, cancel := context.WithCancel(context.Background())
	ch, _ := b.Subscribe(ctx, "c1")
	cancel()

	require.Eventually(t, func() bool {
		select {
		case _, ok := <-ch:
			return !ok
		default:
			return false
		}
	}, time.Second, 10*time.Millisecond)
}

func TestBroadcaster_ManualUnsubscribe(t *testing.T) {
	b := NewBroadcaster(nil)
	defer b.Close()

	ch, subID := b.Subscribe(t.Context(), "c1")
	b.Unsubscribe("c1", subID)

	_, ok := <-ch
	assert.False(t, ok)

	// Second unsubscribe is harmless
	b.Unsubscribe("c1", subID)
}

func TestBroadcaster_ConcurrentPublishSubscribe(t *testing.T) {
	b := NewBroadcaster(nil)
	defer b.Close()

	var wg sync.WaitGroup
	for range 10 {
		wg.Add(2)
		go func() {
			defer wg.Done()
			ctx, cancel := context.WithCancel(context.Background())
			b.Subscribe(ctx, "c1")
			cancel()
		}()
		go func() {
			defer wg.Done()
			b.Publish(Change{Kind: ChangeMessageAdded, ConversationID: "c1"})
		}()
	}
	wg.Wait()
}
