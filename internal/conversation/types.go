// ABOUTME: Conversation, Message and turn-status types held by the state store
// ABOUTME: Includes deep-copy helpers so selectors never leak internal state

package conversation

import (
	"maps"
	"slices"
	"time"
)

// TurnStatus is the per-conversation turn state.
type TurnStatus string

// Turn statuses
const (
	StatusIdle       TurnStatus = "idle"
	StatusGenerating TurnStatus = "generating"
	StatusPaused     TurnStatus = "paused"
	StatusStopped    TurnStatus = "stopped"
)

// transitions lists the statuses reachable from each status.
// stopped is terminal.
var transitions = map[TurnStatus][]TurnStatus{
	StatusIdle:       {StatusGenerating, StatusPaused, StatusStopped},
	StatusGenerating: {StatusIdle, StatusPaused, StatusStopped},
	StatusPaused:     {StatusIdle, StatusStopped},
	StatusStopped:    nil,
}

// CanTransition reports whether from -> to is an allowed turn transition.
func CanTransition(from, to TurnStatus) bool {
	return slices.Contains(transitions[from], to)
}

// SenderKind identifies who authored a message.
type SenderKind string

// Sender kinds
const (
	SenderUser   SenderKind = "user"
	SenderAgent  SenderKind = "agent"
	SenderSystem SenderKind = "system"
)

// Placeholder is the content of an agent message whose generation has
// started but produced no text yet.
const Placeholder = "..."

// Metadata carries generation details attached to a message.
type Metadata struct {
	ModelCallDuration float64 `json:"modelCallDuration,omitempty"`
	TokensUsed        int     `json:"modelTokensUsed,omitempty"`
	Error             string  `json:"error,omitempty"`
	IsGenerating      *bool   `json:"isGenerating,omitempty"`
}

// Generating reports the explicit in-progress marker; false when unset.
func (m *Metadata) Generating() bool {
	return m != nil && m.IsGenerating != nil && *m.IsGenerating
}

func (m *Metadata) clone() *Metadata {
	if m == nil {
		return nil
	}
	c := *m
	if m.IsGenerating != nil {
		v := *m.IsGenerating
		c.IsGenerating = &v
	}
	return &c
}

// merge overlays the set fields of o onto m.
func (m *Metadata) merge(o *Metadata) *Metadata {
	if o == nil {
		return m
	}
	out := m.clone()
	if out == nil {
		out = &Metadata{}
	}
	if o.ModelCallDuration != 0 {
		out.ModelCallDuration = o.ModelCallDuration
	}
	if o.TokensUsed != 0 {
		out.TokensUsed = o.TokensUsed
	}
	if o.Error != "" {
		out.Error = o.Error
	}
	if o.IsGenerating != nil {
		v := *o.IsGenerating
		out.IsGenerating = &v
	}
	return out
}

// Message is a single chat message.
type Message struct {
	ID             string     `json:"id"`
	ConversationID string     `json:"conversationId"`
	SenderID       string     `json:"senderId"`
	SenderKind     SenderKind `json:"senderType"`
	Content        string     `json:"content"`
	Timestamp      time.Time  `json:"timestamp"`
	Metadata       *Metadata  `json:"metadata,omitempty"`
}

func (m Message) clone() Message {
	m.Metadata = m.Metadata.clone()
	return m
}

// Conversation is an ordered list of messages among a set of personas.
type Conversation struct {
	ID               string     `json:"id"`
	Title            string     `json:"title"`
	Messages         []Message  `json:"messages"`
	Participants     []string   `json:"participants"`
	Status           TurnStatus `json:"status"`
	CurrentSpeakerID string     `json:"currentSpeakerId,omitempty"`
	LastMessageID    string     `json:"lastMessageId,omitempty"`
	ParentID         string     `json:"parentId,omitempty"`

	// Branches maps a branch conversation id to the message id it forked at.
	Branches map[string]string `json:"branches,omitempty"`

	Created time.Time `json:"created"`
	Updated time.Time `json:"updated"`
}

// Clone returns a deep copy.
func (c *Conversation) Clone() *Conversation {
	out := *c
	out.Messages = make([]Message, len(c.Messages))
	for i, m := range c.Messages {
		out.Messages[i] = m.clone()
	}
	out.Participants = slices.Clone(c.Participants)
	out.Branches = maps.Clone(c.Branches)
	return &out
}

func (c *Conversation) messageIndex(id string) int {
	return slices.IndexFunc(c.Messages, func(m Message) bool { return m.ID == id })
}

// MessageUpdate is a partial message applied by ApplyMessageUpdate.
type MessageUpdate struct {
	// Content replaces the message content when non-nil.
	Content *string

	// Chunk is appended to the content. A Placeholder body is replaced
	// rather than extended.
	Chunk string

	SenderID   string
	SenderKind SenderKind
	Metadata   *Metadata
}
