// ABOUTME: In-memory backend state: conversations, registered personas and registered models
// ABOUTME: Mirrors what a real multi-agent backend remembers between websocket messages

package fakebackend

import (
	"slices"
	"strings"
	"sync"

	"github.com/2389/coven-chorus/internal/protocol"
)

// contextMessages is how many trailing messages go into a next-turn context.
const contextMessages = 10

type conversationState struct {
	participants []string
	messages     []protocol.Message
	rotation     Rotation
}

// State is the backend's memory. Safe for concurrent use.
type State struct {
	mu            sync.RWMutex
	conversations map[string]*conversationState
	personas      map[string]protocol.Persona
	models        map[string]protocol.Model
}

// NewState creates empty backend state.
func NewState() *State {
	return &State{
		conversations: make(map[string]*conversationState),
		personas:      make(map[string]protocol.Persona),
		models:        make(map[string]protocol.Model),
	}
}

func (s *State) conversationLocked(id string) *conversationState {
	c, ok := s.conversations[id]
	if !ok {
		c = &conversationState{}
		s.conversations[id] = c
	}
	return c
}

// Start sets the participants of a conversation, creating it if needed,
// and records the initial message when one is given.
func (s *State) Start(id string, participants []string, initial *protocol.Message) {
	s.mu.Lock()
	defer s.mu.Unlock()

	c := s.conversationLocked(id)
	c.participants = slices.Clone(participants)
	if initial != nil && initial.Content != "" {
		c.messages = append(c.messages, *initial)
	}
}

// Branch creates a conversation seeded with messages.
func (s *State) Branch(id string, participants []string, messages []protocol.Message) {
	s.mu.Lock()
	defer s.mu.Unlock()

	c := s.conversationLocked(id)
	c.participants = slices.Clone(participants)
	c.messages = slices.Clone(messages)
}

// AddMessage appends a message to a conversation's transcript.
func (s *State) AddMessage(m protocol.Message) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c := s.conversationLocked(m.ConversationID)
	c.messages = append(c.messages, m)
}

// NextSpeaker picks the next participant of a conversation.
func (s *State) NextSpeaker(id string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c := s.conversationLocked(id)
	return c.rotation.Next(c.participants)
}

// Participants returns a copy of a conversation's participants.
func (s *State) Participants(id string) []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if c, ok := s.conversations[id]; ok {
		return slices.Clone(c.participants)
	}
	return nil
}

// Context renders the trailing messages of a conversation as a transcript.
func (s *State) Context(id string) string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	c, ok := s.conversations[id]
	if !ok {
		return ""
	}
	msgs := c.messages
	if len(msgs) > contextMessages {
		msgs = msgs[len(msgs)-contextMessages:]
	}

	parts := make([]string, 0, len(msgs))
	for _, m := range msgs {
		switch m.SenderType {
		case "user":
			parts = append(parts, "User: "+m.Content)
		case "agent":
			parts = append(parts, m.SenderID+": "+m.Content)
		default:
			parts = append(parts, m.SenderType+" ("+m.SenderID+"): "+m.Content)
		}
	}
	return strings.Join(parts, "\n\n")
}

// RegisterPersona caches a persona.
func (s *State) RegisterPersona(p protocol.Persona) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.personas[p.ID] = p
}

// Persona returns a registered persona.
func (s *State) Persona(id string) (protocol.Persona, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.personas[id]
	return p, ok
}

// RegisterModel caches a model.
func (s *State) RegisterModel(m protocol.Model) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.models[m.ID] = m
}

// Model returns a registered model.
func (s *State) Model(id string) (protocol.Model, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	m, ok := s.models[id]
	return m, ok
}

// Counts reports how much the backend knows, for the status endpoint.
func (s *State) Counts() (conversations, personas, models int) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.conversations), len(s.personas), len(s.models)
}
