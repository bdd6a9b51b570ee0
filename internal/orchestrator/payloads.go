// ABOUTME: Conversions from local store and conversation types to wire payloads
// ABOUTME: Also builds the transcript sent with generate_message

package orchestrator

import (
	"fmt"
	"strings"

	"github.com/2389/coven-chorus/internal/conversation"
	"github.com/2389/coven-chorus/internal/protocol"
	"github.com/2389/coven-chorus/internal/store"
)

func parametersPayload(p store.Parameters) protocol.Parameters {
	return protocol.Parameters{
		Temperature:      p.Temperature,
		TopP:             p.TopP,
		MaxTokens:        p.MaxTokens,
		FrequencyPenalty: p.FrequencyPenalty,
		PresencePenalty:  p.PresencePenalty,
		Stop:             p.Stop,
	}
}

func personaPayload(p *store.Persona) protocol.Persona {
	params := parametersPayload(p.Parameters)
	return protocol.Persona{
		ID:                p.ID,
		Name:              p.Name,
		Avatar:            p.Avatar,
		SystemPrompt:      p.SystemPrompt,
		ModelID:           p.ModelID,
		Parameters:        &params,
		ConversationStyle: p.ConversationStyle,
		Created:           p.CreatedAt.UnixMilli(),
		Updated:           p.UpdatedAt.UnixMilli(),
	}
}

func modelPayload(m *store.ModelConfig) protocol.Model {
	return protocol.Model{
		ID:                m.ID,
		Name:              m.Name,
		Provider:          m.Provider,
		BaseURL:           m.BaseURL,
		APIKey:            m.APIKey,
		ContextWindowSize: m.ContextWindowSize,
		DefaultParams:     parametersPayload(m.DefaultParams),
	}
}

func messagePayload(m conversation.Message) protocol.Message {
	out := protocol.Message{
		ID:             m.ID,
		ConversationID: m.ConversationID,
		SenderID:       m.SenderID,
		SenderType:     string(m.SenderKind),
		Content:        m.Content,
		Timestamp:      m.Timestamp.UnixMilli(),
	}
	if md := m.Metadata; md != nil {
		out.Metadata = &protocol.Metadata{
			ModelCallDuration: md.ModelCallDuration,
			ModelTokensUsed:   md.TokensUsed,
			Error:             md.Error,
			IsGenerating:      md.IsGenerating,
		}
	}
	return out
}

func startCommand(conv *conversation.Conversation) protocol.StartCommand {
	cmd := protocol.StartCommand{
		ConversationID: conv.ID,
		Participants:   conv.Participants,
	}
	if n := len(conv.Messages); n > 0 {
		m := messagePayload(conv.Messages[n-1])
		cmd.InitialMessage = &m
	}
	return cmd
}

// contextFor renders the trailing messages of conv as a transcript. The
// backend's own context is used only when there is nothing local.
func (c *Controller) contextFor(conv *conversation.Conversation, backendContext string) string {
	msgs := conv.Messages
	if len(msgs) > c.contextSize {
		msgs = msgs[len(msgs)-c.contextSize:]
	}

	var b strings.Builder
	for _, m := range msgs {
		if m.Content == "" || m.Content == conversation.Placeholder {
			continue
		}
		if b.Len() > 0 {
			b.WriteString("\n\n")
		}
		switch m.SenderKind {
		case conversation.SenderUser:
			fmt.Fprintf(&b, "User: %s", m.Content)
		case conversation.SenderAgent:
			fmt.Fprintf(&b, "%s: %s", m.SenderID, m.Content)
		default:
			fmt.Fprintf(&b, "%s (%s): %s", m.SenderKind, m.SenderID, m.Content)
		}
	}
	if b.Len() == 0 {
		return backendContext
	}
	return b.String()
}
