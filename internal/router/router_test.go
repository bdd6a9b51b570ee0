// ABOUTME: Tests for envelope dispatch
// ABOUTME: Feeds raw frames in both wire shapes through Decode and checks store and turn effects

package router

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/coven-chorus/internal/conversation"
	"github.com/2389/coven-chorus/internal/notify"
	"github.com/2389/coven-chorus/internal/protocol"
)

type fakeTurns struct {
	mu    sync.Mutex
	convs *conversation.Store
	next  []protocol.NextTurn
	ended []string
}

func (f *fakeTurns) HandleNextTurn(_ context.Context, next protocol.NextTurn) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.next = append(f.next, next)
}

func (f *fakeTurns) EndTurn(id string) {
	f.mu.Lock()
	f.ended = append(f.ended, id)
	f.mu.Unlock()
	if s, _, err := f.convs.Status(id); err == nil && s == conversation.StatusGenerating {
		_ = f.convs.SetTurnStatus(id, conversation.StatusIdle, "")
	}
}

type fakePublisher struct {
	mu   sync.Mutex
	seen []protocol.Type
}

func (f *fakePublisher) Publish(env *protocol.Envelope) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.seen = append(f.seen, env.Type)
}

type harness struct {
	router *Router
	convs  *conversation.Store
	turns  *fakeTurns
	pub    *fakePublisher
	notes  *notify.Recorder
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	convs := conversation.NewStore(conversation.Options{})
	h := &harness{
		convs: convs,
		turns: &fakeTurns{convs: convs},
		pub:   &fakePublisher{},
		notes: &notify.Recorder{},
	}
	h.router = New(Options{
		Conversations: convs,
		Turns:         h.turns,
		Publisher:     h.pub,
		Notifier:      h.notes,
	})
	_, err := convs.CreateConversation("c1", "Debate", []string{"skeptic", "optimist"})
	require.NoError(t, err)
	return h
}

func (h *harness) dispatch(t *testing.T, raw string) {
	t.Helper()
	env, err := protocol.Decode([]byte(raw))
	require.NoError(t, err)
	h.router.Dispatch(env)
}

func (h *harness) generating(t *testing.T, speaker string) {
	t.Helper()
	require.NoError(t, h.convs.SetTurnStatus("c1", conversation.StatusGenerating, speaker))
}

func TestStreamingLifecycle_TopLevelShape(t *testing.T) {
	h := newHarness(t)
	h.generating(t, "skeptic")

	h.dispatch(t, `{"type":"generation_started","data":{"message_id":"m1","conversation_id":"c1"}}`)
	m, err := h.convs.Message("c1", "m1")
	require.NoError(t, err)
	assert.Equal(t, conversation.Placeholder, m.Content)
	assert.Equal(t, "skeptic", m.SenderID)
	assert.True(t, m.Metadata.Generating())

	h.dispatch(t, `{"type":"message_chunk","conversationId":"c1","messageId":"m1","chunk":"I doubt ","index":0}`)
	h.dispatch(t, `{"type":"message_chunk","conversationId":"c1","messageId":"m1","chunk":"it very much.","index":0}`)

	m, _ = h.convs.Message("c1", "m1")
	assert.Equal(t, "I doubt it very much.", m.Content)
	status, _, _ := h.convs.Status("c1")
	assert.Equal(t, conversation.StatusGenerating, status, "chunks never complete a turn")

	h.dispatch(t, `{"type":"message_complete","message":{"id":"m1","conversationId":"c1","senderId":"skeptic","senderType":"agent","content":"I doubt it very much.","metadata":{"modelCallDuration":1.5,"modelTokensUsed":5}}}`)

	conv, _ := h.convs.Get("c1")
	assert.Equal(t, conversation.StatusIdle, conv.Status)
	assert.Equal(t, "m1", conv.LastMessageID)
	require.Len(t, conv.Messages, 1)
	assert.Equal(t, 5, conv.Messages[0].Metadata.TokensUsed)
	assert.False(t, conv.Messages[0].Metadata.Generating())
}

func TestMessageComplete_DataShapeAppendsUnknown(t *testing.T) {
	h := newHarness(t)

	raw := `{"type":"message_complete","data":{"message":{"id":"late","conversationId":"c1","senderId":"optimist","senderType":"agent","content":"Replayed."}}}`
	h.dispatch(t, raw)
	h.dispatch(t, raw)

	msgs, _ := h.convs.Messages("c1")
	require.Len(t, msgs, 1, "replay is idempotent")
	assert.Equal(t, "Replayed.", msgs[0].Content)
	assert.Equal(t, "optimist", msgs[0].SenderID)
}

func TestMessageChunk_UnknownConversationDropped(t *testing.T) {
	h := newHarness(t)
	h.dispatch(t, `{"type":"message_chunk","conversationId":"nope","messageId":"m1","chunk":"x"}`)

	// Later envelopes still work
	h.dispatch(t, `{"type":"message_chunk","conversationId":"c1","messageId":"m1","chunk":"x"}`)
	msgs, _ := h.convs.Messages("c1")
	assert.Len(t, msgs, 1)
	assert.Empty(t, h.pub.seen, "built-in types are not forwarded")
}

func TestError_AttachesToMessageAndEndsTurn(t *testing.T) {
	h := newHarness(t)
	h.generating(t, "skeptic")
	h.dispatch(t, `{"type":"generation_started","data":{"message_id":"m1","conversation_id":"c1"}}`)

	h.dispatch(t, `{"type":"error","data":{"message":"Failed to generate message","details":{"error":"rate limited","messageId":"m1","conversationId":"c1"}}}`)

	m, _ := h.convs.Message("c1", "m1")
	require.NotNil(t, m.Metadata)
	assert.Equal(t, "Failed to generate message: rate limited", m.Metadata.Error)

	status, _, _ := h.convs.Status("c1")
	assert.Equal(t, conversation.StatusIdle, status)

	n, ok := h.notes.Last()
	require.True(t, ok)
	assert.Equal(t, notify.LevelError, n.Level)
	assert.Equal(t, "c1", n.ConversationID)
}

func TestError_IDDetailsAndStringDetails(t *testing.T) {
	h := newHarness(t)
	h.dispatch(t, `{"type":"generation_started","data":{"message_id":"m1","conversation_id":"c1"}}`)

	// details.id with no conversation: located through the message
	h.dispatch(t, `{"type":"error","data":{"message":"boom","details":{"id":"m1"}}}`)
	m, _ := h.convs.Message("c1", "m1")
	assert.Equal(t, "boom", m.Metadata.Error)
	assert.Equal(t, []string{"c1"}, h.turns.ended)

	// String details and no ids: notification only
	h.dispatch(t, `{"type":"error","data":{"message":"Internal server error","details":"kaboom"}}`)
	n, _ := h.notes.Last()
	assert.Equal(t, "Internal server error: kaboom", n.Message)
	assert.Len(t, h.turns.ended, 1)
}

func TestNextTurn_DelegatesToTurns(t *testing.T) {
	h := newHarness(t)
	h.dispatch(t, `{"type":"multi_agent_next_turn","data":{"conversation_id":"c1","next_speaker_id":"skeptic","next_speaker_name":"Skeptic","context":"User: hi"}}`)

	require.Len(t, h.turns.next, 1)
	assert.Equal(t, protocol.NextTurn{ConversationID: "c1", NextSpeakerID: "skeptic", NextSpeakerName: "Skeptic", Context: "User: hi"}, h.turns.next[0])
}

func TestNoNextSpeakerAndPersonaNotFound(t *testing.T) {
	tests := []struct {
		name  string
		raw   string
		level notify.Level
		title string
	}{
		{
			name:  "no next speaker",
			raw:   `{"type":"multi_agent_no_next_speaker","data":{"conversation_id":"c1","message":"No participants available for next turn"}}`,
			level: notify.LevelWarning,
			title: "No next speaker",
		},
		{
			name:  "persona not found",
			raw:   `{"type":"multi_agent_persona_not_found","data":{"conversation_id":"c1","next_speaker_id":"ghost","message":"Persona ghost not found"}}`,
			level: notify.LevelError,
			title: "Persona not found",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t)
			h.generating(t, "")

			h.dispatch(t, tt.raw)

			status, _, _ := h.convs.Status("c1")
			assert.Equal(t, conversation.StatusIdle, status)
			n, ok := h.notes.Last()
			require.True(t, ok)
			assert.Equal(t, tt.level, n.Level)
			assert.Equal(t, tt.title, n.Title)
		})
	}
}

func TestGenerationStopped(t *testing.T) {
	h := newHarness(t)
	h.generating(t, "skeptic")
	h.dispatch(t, `{"type":"generation_started","data":{"message_id":"m1","conversation_id":"c1"}}`)
	require.NoError(t, h.convs.SetTurnStatus("c1", conversation.StatusStopped, ""))

	h.dispatch(t, `{"type":"generation_stopped","data":{"message_id":"m1"}}`)

	m, _ := h.convs.Message("c1", "m1")
	assert.False(t, m.Metadata.Generating())
	status, _, _ := h.convs.Status("c1")
	assert.Equal(t, conversation.StatusStopped, status)
}

func TestUnknownTypeForwarded(t *testing.T) {
	h := newHarness(t)
	assert.False(t, h.router.Handles("typing_indicator"))
	assert.True(t, h.router.Handles(protocol.TypePong))

	h.dispatch(t, `{"type":"typing_indicator","data":{"who":"skeptic"}}`)
	h.dispatch(t, `{"type":"pong","data":{"timestamp":1700000000000}}`)
	assert.Equal(t, []protocol.Type{"typing_indicator"}, h.pub.seen)

	msgs, _ := h.convs.Messages("c1")
	assert.Empty(t, msgs)
}

func TestInformationalTypes(t *testing.T) {
	h := newHarness(t)
	for _, raw := range []string{
		`{"type":"multi_agent_started","data":{"conversation_id":"c1","participants":["skeptic"]}}`,
		`{"type":"persona_registered","data":{"persona_id":"skeptic","persona_name":"Skeptic"}}`,
		`{"type":"model_registered","data":{"model_id":"m1","model_name":"gpt-4o"}}`,
		`{"type":"pong","data":{"timestamp":1700000000000}}`,
	} {
		h.dispatch(t, raw)
	}
	assert.Empty(t, h.pub.seen)
	assert.Empty(t, h.notes.All())
}
