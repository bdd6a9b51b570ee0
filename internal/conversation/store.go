// ABOUTME: Store holds conversations and their turn state behind a single mutex
// ABOUTME: Every mutation publishes a Change and is written through to the KV store

package conversation

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/2389/coven-chorus/internal/metrics"
	"github.com/2389/coven-chorus/internal/store"
)

// Errors returned by Store
var (
	ErrConversationNotFound = errors.New("conversation not found")
	ErrMessageNotFound      = errors.New("message not found")
	ErrInvalidTransition    = errors.New("invalid turn transition")
	ErrConversationExists   = errors.New("conversation already exists")
)

// DefaultCompletionThreshold is the content growth, in characters, above
// which an unmarked update is treated as a completed message.
const DefaultCompletionThreshold = 10

// Persister is the subset of store.Store used for write-through.
type Persister interface {
	Put(ctx context.Context, kind store.Kind, id string, value []byte) error
	List(ctx context.Context, kind store.Kind) ([][]byte, error)
}

// Options configures a Store.
type Options struct {
	Logger              *slog.Logger
	Persister           Persister
	Broadcaster         *Broadcaster
	Metrics             *metrics.Metrics
	CompletionThreshold int
	Now                 func() time.Time
}

// Store is the conversation state store.
type Store struct {
	mu            sync.Mutex
	conversations map[string]*Conversation
	order         []string

	persister   Persister
	broadcaster *Broadcaster
	metrics     *metrics.Metrics
	threshold   int
	now         func() time.Time
	logger      *slog.Logger
}

// NewStore creates an empty Store.
func NewStore(opts Options) *Store {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	b := opts.Broadcaster
	if b == nil {
		b = NewBroadcaster(logger)
	}
	threshold := opts.CompletionThreshold
	if threshold <= 0 {
		threshold = DefaultCompletionThreshold
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	return &Store{
		conversations: make(map[string]*Conversation),
		persister:     opts.Persister,
		broadcaster:   b,
		metrics:       opts.Metrics,
		threshold:     threshold,
		now:           now,
		logger:        logger.With("component", "conversation"),
	}
}

// Broadcaster returns the change broadcaster.
func (s *Store) Broadcaster() *Broadcaster {
	return s.broadcaster
}

// Load restores conversations from the persister, replacing nothing that
// is already in memory. Conversations persisted mid-generation come back
// idle since no turn survives a restart.
func (s *Store) Load(ctx context.Context) (int, error) {
	if s.persister == nil {
		return 0, nil
	}
	values, err := s.persister.List(ctx, store.KindConversation)
	if err != nil {
		return 0, fmt.Errorf("listing conversations: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	loaded := 0
	for _, raw := range values {
		var c Conversation
		if err := json.Unmarshal(raw, &c); err != nil {
			s.logger.Warn("skipping undecodable conversation", "error", err)
			continue
		}
		if _, exists := s.conversations[c.ID]; exists || c.ID == "" {
			continue
		}
		if c.Status == StatusGenerating {
			c.Status = StatusIdle
			c.CurrentSpeakerID = ""
		}
		s.conversations[c.ID] = &c
		s.order = append(s.order, c.ID)
		loaded++
	}
	s.logger.Info("conversations loaded", "count", loaded)
	return loaded, nil
}

// CreateConversation creates an idle conversation. An empty id is assigned.
func (s *Store) CreateConversation(id, title string, participants []string) (*Conversation, error) {
	if id == "" {
		id = uuid.New().String()
	}
	now := s.now()

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.conversations[id]; exists {
		return nil, fmt.Errorf("%w: %s", ErrConversationExists, id)
	}
	c := &Conversation{
		ID:           id,
		Title:        title,
		Messages:     []Message{},
		Participants: slices.Clone(participants),
		Status:       StatusIdle,
		Created:      now,
		Updated:      now,
	}
	s.conversations[id] = c
	s.order = append(s.order, id)

	s.commitLocked(c, Change{Kind: ChangeCreated, ConversationID: id, Status: StatusIdle})
	return c.Clone(), nil
}

// AppendMessage appends a new message. A user message returns the
// conversation to idle unless it is stopped.
func (s *Store) AppendMessage(conversationID, senderID string, kind SenderKind, content string) (*Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.conversations[conversationID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrConversationNotFound, conversationID)
	}

	m := Message{
		ID:             uuid.New().String(),
		ConversationID: conversationID,
		SenderID:       senderID,
		SenderKind:     kind,
		Content:        content,
		Timestamp:      s.now(),
	}
	c.Messages = append(c.Messages, m)
	c.Updated = m.Timestamp

	if kind == SenderUser {
		c.LastMessageID = m.ID
		if c.Status != StatusStopped && c.Status != StatusIdle {
			s.setStatusLocked(c, StatusIdle)
			c.CurrentSpeakerID = ""
		}
	}

	s.commitLocked(c, Change{Kind: ChangeMessageAdded, ConversationID: conversationID, MessageID: m.ID, Status: c.Status})
	out := m.clone()
	return &out, nil
}

// ApplyMessageUpdate merges an update into an existing message, or creates
// the message when the id is unknown to the conversation.
//
// Completion is taken from the explicit IsGenerating marker when present.
// Otherwise an update counts as complete when the prior content was the
// Placeholder or the content grew by more than the completion threshold.
// A completion records the message as the last message and returns a
// generating conversation to idle.
func (s *Store) ApplyMessageUpdate(conversationID, messageID string, u MessageUpdate) (*Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.conversations[conversationID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrConversationNotFound, conversationID)
	}

	kind := ChangeMessageUpdated
	idx := c.messageIndex(messageID)
	if idx < 0 {
		senderID := u.SenderID
		if senderID == "" {
			senderID = c.CurrentSpeakerID
		}
		senderKind := u.SenderKind
		if senderKind == "" {
			senderKind = SenderAgent
		}
		c.Messages = append(c.Messages, Message{
			ID:             messageID,
			ConversationID: conversationID,
			SenderID:       senderID,
			SenderKind:     senderKind,
			Timestamp:      s.now(),
		})
		idx = len(c.Messages) - 1
		kind = ChangeMessageAdded
	}

	m := &c.Messages[idx]
	prior := m.Content

	switch {
	case u.Content != nil:
		m.Content = *u.Content
	case u.Chunk != "":
		if m.Content == Placeholder {
			m.Content = u.Chunk
		} else {
			m.Content += u.Chunk
		}
	}
	if u.SenderID != "" {
		m.SenderID = u.SenderID
	}
	if u.SenderKind != "" {
		m.SenderKind = u.SenderKind
	}
	m.Metadata = m.Metadata.merge(u.Metadata)

	var complete bool
	if u.Metadata != nil && u.Metadata.IsGenerating != nil {
		complete = !*u.Metadata.IsGenerating
	} else {
		complete = m.Content != prior &&
			(prior == Placeholder || len(m.Content)-len(prior) > s.threshold)
	}

	if complete {
		c.LastMessageID = m.ID
		if c.Status == StatusGenerating {
			s.setStatusLocked(c, StatusIdle)
			c.CurrentSpeakerID = ""
		}
	}
	c.Updated = s.now()

	s.commitLocked(c, Change{Kind: kind, ConversationID: conversationID, MessageID: messageID, Status: c.Status})
	out := m.clone()
	return &out, nil
}

// SetTurnStatus moves a conversation along the turn graph. A transition to
// the current status is a no-op apart from updating the speaker.
func (s *Store) SetTurnStatus(conversationID string, status TurnStatus, speakerID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.conversations[conversationID]
	if !ok {
		return fmt.Errorf("%w: %s", ErrConversationNotFound, conversationID)
	}

	if c.Status != status {
		if !CanTransition(c.Status, status) {
			return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, c.Status, status)
		}
		s.setStatusLocked(c, status)
	}
	switch status {
	case StatusGenerating:
		c.CurrentSpeakerID = speakerID
	case StatusIdle, StatusStopped:
		c.CurrentSpeakerID = ""
	}
	c.Updated = s.now()

	s.commitLocked(c, Change{Kind: ChangeStatus, ConversationID: conversationID, Status: status})
	return nil
}

// CreateBranch copies the parent's messages up to and including
// startFromMessageID into a new idle conversation. An empty
// startFromMessageID copies every message; an empty branchID is assigned.
func (s *Store) CreateBranch(parentID, branchID, startFromMessageID, title string) (*Conversation, error) {
	if branchID == "" {
		branchID = uuid.New().String()
	}
	now := s.now()

	s.mu.Lock()
	defer s.mu.Unlock()

	parent, ok := s.conversations[parentID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrConversationNotFound, parentID)
	}
	if _, exists := s.conversations[branchID]; exists {
		return nil, fmt.Errorf("%w: %s", ErrConversationExists, branchID)
	}

	end := len(parent.Messages)
	if startFromMessageID != "" {
		idx := parent.messageIndex(startFromMessageID)
		if idx < 0 {
			return nil, fmt.Errorf("%w: %s in %s", ErrMessageNotFound, startFromMessageID, parentID)
		}
		end = idx + 1
	}

	branch := &Conversation{
		ID:           branchID,
		Title:        title,
		Messages:     make([]Message, 0, end),
		Participants: slices.Clone(parent.Participants),
		Status:       StatusIdle,
		ParentID:     parentID,
		Created:      now,
		Updated:      now,
	}
	for _, m := range parent.Messages[:end] {
		cp := m.clone()
		cp.ConversationID = branchID
		branch.Messages = append(branch.Messages, cp)
	}
	if end > 0 {
		branch.LastMessageID = branch.Messages[end-1].ID
	}

	if parent.Branches == nil {
		parent.Branches = make(map[string]string)
	}
	parent.Branches[branchID] = startFromMessageID
	parent.Updated = now

	s.conversations[branchID] = branch
	s.order = append(s.order, branchID)

	s.commitLocked(branch, Change{Kind: ChangeCreated, ConversationID: branchID, Status: StatusIdle})
	s.commitLocked(parent, Change{Kind: ChangeBranched, ConversationID: parentID, Status: parent.Status})
	return branch.Clone(), nil
}

// Get returns a copy of a conversation.
func (s *Store) Get(id string) (*Conversation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.conversations[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrConversationNotFound, id)
	}
	return c.Clone(), nil
}

// List returns copies of every conversation in creation order.
func (s *Store) List() []*Conversation {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]*Conversation, 0, len(s.order))
	for _, id := range s.order {
		out = append(out, s.conversations[id].Clone())
	}
	return out
}

// Status returns the turn status and current speaker of a conversation.
func (s *Store) Status(id string) (TurnStatus, string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.conversations[id]
	if !ok {
		return "", "", fmt.Errorf("%w: %s", ErrConversationNotFound, id)
	}
	return c.Status, c.CurrentSpeakerID, nil
}

// Messages returns copies of a conversation's messages in order.
func (s *Store) Messages(id string) ([]Message, error) {
	c, err := s.Get(id)
	if err != nil {
		return nil, err
	}
	return c.Messages, nil
}

// Message returns a copy of one message.
func (s *Store) Message(conversationID, messageID string) (*Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.conversations[conversationID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrConversationNotFound, conversationID)
	}
	idx := c.messageIndex(messageID)
	if idx < 0 {
		return nil, fmt.Errorf("%w: %s", ErrMessageNotFound, messageID)
	}
	m := c.Messages[idx].clone()
	return &m, nil
}

// FindMessage locates a message by id across all conversations.
func (s *Store) FindMessage(messageID string) (*Message, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, id := range s.order {
		c := s.conversations[id]
		if idx := c.messageIndex(messageID); idx >= 0 {
			m := c.Messages[idx].clone()
			return &m, true
		}
	}
	return nil, false
}

func (s *Store) setStatusLocked(c *Conversation, status TurnStatus) {
	s.logger.Debug("turn status changed",
		"conversation_id", c.ID,
		"from", c.Status,
		"to", status)
	c.Status = status
	s.metrics.RecordTurnStatus(string(status))
}

// commitLocked writes c through to the persister and publishes change.
// Persistence failures are logged; memory stays authoritative.
func (s *Store) commitLocked(c *Conversation, change Change) {
	if s.persister != nil {
		raw, err := json.Marshal(c)
		if err != nil {
			s.logger.Error("failed to encode conversation", "conversation_id", c.ID, "error", err)
		} else if err := s.persister.Put(context.Background(), store.KindConversation, c.ID, raw); err != nil {
			s.logger.Error("failed to persist conversation", "conversation_id", c.ID, "error", err)
		}
	}
	s.broadcaster.Publish(change)
}
