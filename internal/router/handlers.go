// ABOUTME: Per-type envelope handlers
// ABOUTME: Translate wire payloads into conversation store mutations and notifications

package router

import (
	"context"
	"errors"
	"fmt"

	"github.com/2389/coven-chorus/internal/conversation"
	"github.com/2389/coven-chorus/internal/notify"
	"github.com/2389/coven-chorus/internal/protocol"
)

var errMissingIDs = errors.New("missing conversation or message id")

func boolPtr(b bool) *bool { return &b }

func metadataFrom(m *protocol.Metadata) *conversation.Metadata {
	if m == nil {
		return nil
	}
	return &conversation.Metadata{
		ModelCallDuration: m.ModelCallDuration,
		TokensUsed:        m.ModelTokensUsed,
		Error:             m.Error,
		IsGenerating:      m.IsGenerating,
	}
}

func (r *Router) handleChunk(env *protocol.Envelope) error {
	p, err := protocol.Payload[protocol.MessageChunk](env)
	if err != nil {
		return err
	}
	if p.ConversationID == "" || p.MessageID == "" {
		return errMissingIDs
	}
	_, err = r.convs.ApplyMessageUpdate(p.ConversationID, p.MessageID, conversation.MessageUpdate{
		Chunk:    p.Chunk,
		Metadata: &conversation.Metadata{IsGenerating: boolPtr(true)},
	})
	return err
}

func (r *Router) handleComplete(env *protocol.Envelope) error {
	p, err := protocol.Payload[protocol.MessageComplete](env)
	if err != nil {
		return err
	}
	m := p.Message
	if m.ConversationID == "" || m.ID == "" {
		return errMissingIDs
	}

	md := metadataFrom(m.Metadata)
	if md == nil {
		md = &conversation.Metadata{}
	}
	// A completion is final unless the backend says otherwise
	if md.IsGenerating == nil {
		md.IsGenerating = boolPtr(false)
	}

	content := m.Content
	_, err = r.convs.ApplyMessageUpdate(m.ConversationID, m.ID, conversation.MessageUpdate{
		Content:    &content,
		SenderID:   m.SenderID,
		SenderKind: conversation.SenderKind(m.SenderType),
		Metadata:   md,
	})
	return err
}

func (r *Router) handleError(env *protocol.Envelope) error {
	ev := protocol.DecodeError(env)

	text := ev.Message
	if ev.Detail != "" {
		if text == "" {
			text = ev.Detail
		} else {
			text = fmt.Sprintf("%s: %s", ev.Message, ev.Detail)
		}
	}

	convID := ev.ConversationID
	if convID == "" && ev.MessageID != "" {
		if m, ok := r.convs.FindMessage(ev.MessageID); ok {
			convID = m.ConversationID
		}
	}

	if convID != "" && ev.MessageID != "" {
		if _, err := r.convs.Message(convID, ev.MessageID); err == nil {
			if _, err := r.convs.ApplyMessageUpdate(convID, ev.MessageID, conversation.MessageUpdate{
				Metadata: &conversation.Metadata{Error: text, IsGenerating: boolPtr(false)},
			}); err != nil {
				r.logger.Warn("failed to attach error to message", "message_id", ev.MessageID, "error", err)
			}
		}
	}

	r.notifier.Notify(notify.Notification{
		Level:          notify.LevelError,
		Title:          "Backend error",
		Message:        text,
		ConversationID: convID,
	})

	if convID != "" {
		r.turns.EndTurn(convID)
	}
	return nil
}

func (r *Router) handleStarted(env *protocol.Envelope) error {
	p, err := protocol.Payload[protocol.MultiAgentStarted](env)
	if err != nil {
		return err
	}
	r.logger.Info("multi-agent conversation started",
		"conversation_id", p.ConversationID,
		"participants", len(p.Participants))
	return nil
}

func (r *Router) handleNextTurn(env *protocol.Envelope) error {
	p, err := protocol.Payload[protocol.NextTurn](env)
	if err != nil {
		return err
	}
	if p.ConversationID == "" {
		return errMissingIDs
	}
	r.turns.HandleNextTurn(context.Background(), p)
	return nil
}

func (r *Router) handleNoNextSpeaker(env *protocol.Envelope) error {
	p, err := protocol.Payload[protocol.NoNextSpeaker](env)
	if err != nil {
		return err
	}
	msg := p.Message
	if msg == "" {
		msg = "No participant is available for the next turn"
	}
	r.notifier.Notify(notify.Notification{
		Level:          notify.LevelWarning,
		Title:          "No next speaker",
		Message:        msg,
		ConversationID: p.ConversationID,
	})
	r.turns.EndTurn(p.ConversationID)
	return nil
}

func (r *Router) handlePersonaNotFound(env *protocol.Envelope) error {
	p, err := protocol.Payload[protocol.PersonaNotFound](env)
	if err != nil {
		return err
	}
	msg := p.Message
	if msg == "" {
		msg = fmt.Sprintf("Persona %s not found", p.NextSpeakerID)
	}
	r.notifier.Notify(notify.Notification{
		Level:          notify.LevelError,
		Title:          "Persona not found",
		Message:        msg,
		ConversationID: p.ConversationID,
	})
	r.turns.EndTurn(p.ConversationID)
	return nil
}

func (r *Router) handlePersonaRegistered(env *protocol.Envelope) error {
	p, err := protocol.Payload[protocol.PersonaRegistered](env)
	if err != nil {
		return err
	}
	r.logger.Debug("persona registered", "persona_id", p.PersonaID, "name", p.PersonaName)
	return nil
}

func (r *Router) handleModelRegistered(env *protocol.Envelope) error {
	p, err := protocol.Payload[protocol.ModelRegistered](env)
	if err != nil {
		return err
	}
	r.logger.Debug("model registered", "model_id", p.ModelID, "name", p.ModelName)
	return nil
}

func (r *Router) handleGenerationStarted(env *protocol.Envelope) error {
	p, err := protocol.Payload[protocol.GenerationStarted](env)
	if err != nil {
		return err
	}
	if p.ConversationID == "" || p.MessageID == "" {
		return errMissingIDs
	}
	placeholder := conversation.Placeholder
	_, err = r.convs.ApplyMessageUpdate(p.ConversationID, p.MessageID, conversation.MessageUpdate{
		Content:  &placeholder,
		Metadata: &conversation.Metadata{IsGenerating: boolPtr(true)},
	})
	return err
}

func (r *Router) handleGenerationStopped(env *protocol.Envelope) error {
	p, err := protocol.Payload[protocol.GenerationStopped](env)
	if err != nil {
		return err
	}
	m, ok := r.convs.FindMessage(p.MessageID)
	if !ok {
		r.logger.Debug("generation stopped for unknown message", "message_id", p.MessageID)
		return nil
	}
	_, err = r.convs.ApplyMessageUpdate(m.ConversationID, m.ID, conversation.MessageUpdate{
		Metadata: &conversation.Metadata{IsGenerating: boolPtr(false)},
	})
	r.notifier.Notify(notify.Notification{
		Level:          notify.LevelInfo,
		Title:          "Generation stopped",
		Message:        "The backend stopped generating",
		ConversationID: m.ConversationID,
	})
	return err
}

func (r *Router) handlePong(env *protocol.Envelope) error {
	p, err := protocol.Payload[protocol.Pong](env)
	if err != nil {
		return err
	}
	r.logger.Debug("pong", "timestamp", p.Timestamp)
	return nil
}
